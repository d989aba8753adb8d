package handlers

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"
)

// BatchTrigger starts a scheduled batch in the background
type BatchTrigger interface {
	Trigger(ctx context.Context) bool
}

type SchedulerHandler struct {
	scheduler BatchTrigger
}

func NewSchedulerHandler(scheduler BatchTrigger) *SchedulerHandler {
	return &SchedulerHandler{scheduler: scheduler}
}

// Run starts a batch without waiting for it
// POST /scheduler/run
func (h *SchedulerHandler) Run(c echo.Context) error {
	if !h.scheduler.Trigger(c.Request().Context()) {
		return httperror.NewHTTPError(http.StatusConflict, "a scheduled batch is already running")
	}
	return AcceptedResponse(c, map[string]string{"status": "started"})
}

func (h *SchedulerHandler) RegisterRoutes(g *echo.Group) {
	g.POST("/scheduler/run", h.Run)
}
