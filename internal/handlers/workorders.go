package handlers

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/yarrow/pkg/aggregator"
	"github.com/Ramsey-B/yarrow/pkg/models"
	"github.com/Ramsey-B/yarrow/pkg/repositories"
)

// SafetyContextBuilder builds the hazard context for a work order
type SafetyContextBuilder interface {
	BuildSafetyContext(ctx context.Context, workOrderID string) (*aggregator.SafetyContext, error)
}

// WorkOrderHandler serves work orders and their location alerts
type WorkOrderHandler struct {
	workOrders repositories.WorkOrderRepo
	locations  repositories.LocationRepo
	aggregator SafetyContextBuilder
	logger     ectologger.Logger
}

func NewWorkOrderHandler(workOrders repositories.WorkOrderRepo, locations repositories.LocationRepo, aggregator SafetyContextBuilder, logger ectologger.Logger) *WorkOrderHandler {
	return &WorkOrderHandler{
		workOrders: workOrders,
		locations:  locations,
		aggregator: aggregator,
		logger:     logger,
	}
}

// List returns every work order with its location details, ordered by id
// GET|POST /workorders/
func (h *WorkOrderHandler) List(c echo.Context) error {
	ctx := c.Request().Context()

	workOrders, err := h.workOrders.List(ctx)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to list work orders")
		return err
	}

	locations, err := h.locations.List(ctx)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to list locations")
		return err
	}

	byName := make(map[string]models.Location, len(locations))
	for _, loc := range locations {
		byName[loc.LocationName] = loc
	}
	for i := range workOrders {
		if loc, ok := byName[workOrders[i].LocationName]; ok {
			workOrders[i].LocationDetails = &loc
		}
	}

	if workOrders == nil {
		workOrders = []models.WorkOrder{}
	}
	return SuccessResponse(c, workOrders)
}

// Alerts returns the hazard context for a work order's location
// GET /workorders/:id/alerts
func (h *WorkOrderHandler) Alerts(c echo.Context) error {
	ctx := c.Request().Context()

	safetyContext, err := h.aggregator.BuildSafetyContext(ctx, c.Param("id"))
	if err != nil {
		return aggregator.ToHTTPError(err)
	}

	return SuccessResponse(c, safetyContext)
}

func (h *WorkOrderHandler) RegisterRoutes(g *echo.Group) {
	wo := g.Group("/workorders")
	wo.GET("", h.List)
	wo.GET("/", h.List)
	wo.POST("", h.List)
	wo.POST("/", h.List)
	wo.GET("/:id/alerts", h.Alerts)
}
