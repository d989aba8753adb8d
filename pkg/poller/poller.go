// Package poller reports the state of a safety check request.
package poller

import (
	"context"
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/yarrow/pkg/models"
	"github.com/Ramsey-B/yarrow/pkg/repositories"
	"github.com/Ramsey-B/yarrow/pkg/tracing"
)

// Status is what a polling client sees. HTTPStatus is 202 while the request is pending and 200
// once it is terminal.
type Status struct {
	RequestID           string               `json:"requestId"`
	Status              models.RequestStatus `json:"status"`
	SafetyCheckResponse *string              `json:"safetyCheckResponse,omitempty"`
	FailureReason       *string              `json:"failureReason,omitempty"`
	HTTPStatus          int                  `json:"-"`
}

type Poller struct {
	store  repositories.SafetyCheckRequestRepo
	logger ectologger.Logger
}

func New(store repositories.SafetyCheckRequestRepo, logger ectologger.Logger) *Poller {
	return &Poller{store: store, logger: logger}
}

// GetStatus returns 400 for a blank or malformed id and 404 for an unknown one
func (p *Poller) GetStatus(ctx context.Context, requestID string) (*Status, error) {
	ctx, span := tracing.StartSpan(ctx, "Poller.GetStatus")
	defer span.End()

	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "requestId is required")
	}
	id, err := uuid.Parse(requestID)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "requestId is not a valid id")
	}

	request, err := p.store.GetByID(ctx, id)
	if err != nil {
		return nil, tracing.Fail(span, err, "failed to read safety check request")
	}

	status := &Status{RequestID: requestID, Status: request.Status}
	switch request.Status {
	case models.RequestStatusCompleted:
		status.HTTPStatus = http.StatusOK
		status.SafetyCheckResponse = request.SafetyCheckResponse
	case models.RequestStatusFailed:
		status.HTTPStatus = http.StatusOK
		status.FailureReason = request.FailureReason
	default:
		status.HTTPStatus = http.StatusAccepted
	}

	p.logger.WithContext(ctx).WithField("safety_check_id", requestID).Debugf("Safety check status: %s", request.Status)
	return status, nil
}
