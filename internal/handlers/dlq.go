package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/yarrow/pkg/redis"
	"github.com/Ramsey-B/yarrow/pkg/repositories"
)

// DeadLetterStore is the admin view of the dead letter stream
type DeadLetterStore interface {
	List(ctx context.Context, count int64) ([]redis.DLQEntry, error)
	Get(ctx context.Context, messageID string) (*redis.DLQEntry, error)
	Delete(ctx context.Context, messageID string) error
	Count(ctx context.Context) (int64, error)
}

// DLQHandler handles dead letter queue API requests
type DLQHandler struct {
	dlq    DeadLetterStore
	logger ectologger.Logger
}

// NewDLQHandler creates a new DLQ handler
func NewDLQHandler(dlq DeadLetterStore, logger ectologger.Logger) *DLQHandler {
	return &DLQHandler{dlq: dlq, logger: logger}
}

// DLQListResponse represents the response for listing DLQ entries
type DLQListResponse struct {
	Entries []redis.DLQEntry `json:"entries"`
	Count   int              `json:"count"`
	Total   int64            `json:"total"`
}

// List returns dead letter queue entries, newest first
// GET /dlq
func (h *DLQHandler) List(c echo.Context) error {
	ctx := c.Request().Context()

	count := int64(100)
	if countStr := c.QueryParam("count"); countStr != "" {
		if parsed, err := strconv.ParseInt(countStr, 10, 64); err == nil && parsed > 0 {
			count = parsed
		}
	}

	entries, err := h.dlq.List(ctx, count)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to list DLQ entries")
		return err
	}

	total, _ := h.dlq.Count(ctx)

	return SuccessResponse(c, DLQListResponse{
		Entries: entries,
		Count:   len(entries),
		Total:   total,
	})
}

// Get returns a specific DLQ entry
// GET /dlq/:id
func (h *DLQHandler) Get(c echo.Context) error {
	ctx := c.Request().Context()
	messageID := c.Param("id")

	entry, err := h.dlq.Get(ctx, messageID)
	if errors.Is(err, redis.ErrDLQEntryNotFound) {
		return repositories.NotFound("DLQ entry %s not found", messageID)
	}
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to get DLQ entry")
		return err
	}

	return SuccessResponse(c, entry)
}

// Delete removes a DLQ entry
// DELETE /dlq/:id
func (h *DLQHandler) Delete(c echo.Context) error {
	ctx := c.Request().Context()
	messageID := c.Param("id")

	err := h.dlq.Delete(ctx, messageID)
	if errors.Is(err, redis.ErrDLQEntryNotFound) {
		return repositories.NotFound("DLQ entry %s not found", messageID)
	}
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to delete DLQ entry")
		return err
	}

	return NoContentResponse(c)
}

// Count returns the number of DLQ entries
// GET /dlq/count
func (h *DLQHandler) Count(c echo.Context) error {
	ctx := c.Request().Context()

	count, err := h.dlq.Count(ctx)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to count DLQ entries")
		return err
	}

	return c.JSON(http.StatusOK, map[string]int64{"total_entries": count})
}

// RegisterRoutes registers the DLQ routes
func (h *DLQHandler) RegisterRoutes(g *echo.Group) {
	dlq := g.Group("/dlq")
	dlq.GET("", h.List)
	dlq.GET("/count", h.Count)
	dlq.GET("/:id", h.Get)
	dlq.DELETE("/:id", h.Delete)
}
