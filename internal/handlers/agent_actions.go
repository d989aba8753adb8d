package handlers

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/yarrow/pkg/aggregator"
	"github.com/Ramsey-B/yarrow/pkg/utils"
)

// ActionHandler answers agent action group function calls
type ActionHandler interface {
	HandleAction(ctx context.Context, req aggregator.ActionRequest) aggregator.ActionResponse
}

type AgentActionHandler struct {
	actions ActionHandler
	logger  ectologger.Logger
}

func NewAgentActionHandler(actions ActionHandler, logger ectologger.Logger) *AgentActionHandler {
	return &AgentActionHandler{actions: actions, logger: logger}
}

// Invoke runs one function call. Function failures are reported inside the envelope with a 200.
// POST /agent/actions
func (h *AgentActionHandler) Invoke(c echo.Context) error {
	ctx := c.Request().Context()

	req, err := utils.BindRequest[aggregator.ActionRequest](c)
	if err != nil {
		return err
	}

	h.logger.WithContext(ctx).WithFields(map[string]any{
		"action_group": req.ActionGroup,
		"function":     req.Function,
	}).Info("Agent action invoked")

	return SuccessResponse(c, h.actions.HandleAction(ctx, req))
}

// AgentActionSecretHeader carries the secret shared with the agent action group caller.
const AgentActionSecretHeader = "X-Agent-Action-Secret"

func (h *AgentActionHandler) RegisterRoutes(g *echo.Group, m ...echo.MiddlewareFunc) {
	g.POST("/agent/actions", h.Invoke, m...)
}
