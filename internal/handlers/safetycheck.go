package handlers

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/yarrow/pkg/intake"
	"github.com/Ramsey-B/yarrow/pkg/poller"
	"github.com/Ramsey-B/yarrow/pkg/utils"
)

// Submitter queues safety check requests
type Submitter interface {
	Submit(ctx context.Context, in intake.SubmitInput) (uuid.UUID, error)
}

// StatusReader reports request status
type StatusReader interface {
	GetStatus(ctx context.Context, requestID string) (*poller.Status, error)
}

// SafetyCheckHandler serves the submit and poll endpoints
type SafetyCheckHandler struct {
	intake Submitter
	poller StatusReader
	logger ectologger.Logger
}

func NewSafetyCheckHandler(intake Submitter, poller StatusReader, logger ectologger.Logger) *SafetyCheckHandler {
	return &SafetyCheckHandler{intake: intake, poller: poller, logger: logger}
}

type SubmitResponse struct {
	RequestID string `json:"requestId"`
}

type StatusRequest struct {
	RequestID string `json:"requestId"`
}

// Request queues a safety check and returns its id
// POST /safetycheck/request
func (h *SafetyCheckHandler) Request(c echo.Context) error {
	ctx := c.Request().Context()

	in, err := utils.BindRequest[intake.SubmitInput](c)
	if err != nil {
		return err
	}

	requestID, err := h.intake.Submit(ctx, in)
	if err != nil {
		return err
	}

	return AcceptedResponse(c, SubmitResponse{RequestID: requestID.String()})
}

// Status returns 202 while the request is pending and 200 once it is terminal
// POST /safetycheck/status
func (h *SafetyCheckHandler) Status(c echo.Context) error {
	ctx := c.Request().Context()

	req, err := utils.BindRequest[StatusRequest](c)
	if err != nil {
		return err
	}

	status, err := h.poller.GetStatus(ctx, req.RequestID)
	if err != nil {
		return err
	}

	return c.JSON(status.HTTPStatus, status)
}

func (h *SafetyCheckHandler) RegisterRoutes(g *echo.Group) {
	sc := g.Group("/safetycheck")
	sc.POST("/request", h.Request)
	sc.POST("/status", h.Status)
}
