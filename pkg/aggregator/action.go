package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
)

// FetchLocationAlerts is the action group function served by the aggregator
const FetchLocationAlerts = "fetch_location_alerts"

// ActionParameter is one named argument of an agent function call
type ActionParameter struct {
	Name  string `json:"name"`
	Type  string `json:"type,omitempty"`
	Value string `json:"value"`
}

// ActionRequest is the function call an agent action group sends
type ActionRequest struct {
	MessageVersion string            `json:"messageVersion"`
	Agent          map[string]any    `json:"agent,omitempty"`
	ActionGroup    string            `json:"actionGroup" validate:"required"`
	Function       string            `json:"function" validate:"required"`
	Parameters     []ActionParameter `json:"parameters"`
	SessionID      string            `json:"sessionId,omitempty"`
}

// Param returns the value of the named parameter, or "" when absent
func (r ActionRequest) Param(name string) string {
	for _, p := range r.Parameters {
		if p.Name == name {
			return p.Value
		}
	}
	return ""
}

type TextBody struct {
	Body string `json:"body"`
}

type FunctionResponse struct {
	ResponseBody map[string]TextBody `json:"responseBody"`
}

type ActionResult struct {
	ActionGroup      string           `json:"actionGroup"`
	Function         string           `json:"function"`
	FunctionResponse FunctionResponse `json:"functionResponse"`
}

// ActionResponse is returned to the agent for every function call, including failed ones
type ActionResponse struct {
	Response       ActionResult `json:"response"`
	MessageVersion string       `json:"messageVersion"`
}

// HandleAction answers an agent function call. Failures are reported in the text body so the agent
// can reason about them.
func (a *Aggregator) HandleAction(ctx context.Context, req ActionRequest) ActionResponse {
	body := "Error, no function was called"

	if req.Function == FetchLocationAlerts {
		workOrderID := req.Param("work_order_id")
		if workOrderID == "" {
			body = "Missing mandatory parameter(s): work_order_id"
		} else {
			body = fmt.Sprintf("Here are the alerts at the location for workorder '%s' : %s ", workOrderID, a.alertsText(ctx, workOrderID))
		}
	}

	return ActionResponse{
		MessageVersion: req.MessageVersion,
		Response: ActionResult{
			ActionGroup: req.ActionGroup,
			Function:    req.Function,
			FunctionResponse: FunctionResponse{
				ResponseBody: map[string]TextBody{"TEXT": {Body: body}},
			},
		},
	}
}

type alertsResult struct {
	StatusCode int            `json:"statusCode"`
	Body       *SafetyContext `json:"body,omitempty"`
	Error      string         `json:"error,omitempty"`
}

func (a *Aggregator) alertsText(ctx context.Context, workOrderID string) string {
	result := alertsResult{StatusCode: http.StatusOK}

	safetyContext, err := a.BuildSafetyContext(ctx, workOrderID)
	if err != nil {
		httpErr := ToHTTPError(err)
		result.StatusCode = httperror.GetStatusCode(httpErr)
		result.Error = err.Error()

		var aggErr *AggregationError
		if errors.As(err, &aggErr) {
			result.Error = "Error querying data"
		}
	} else {
		result.Body = safetyContext
	}

	data, err := json.Marshal(result)
	if err != nil {
		return `{"statusCode":500,"error":"failed to encode alerts"}`
	}
	return string(data)
}
