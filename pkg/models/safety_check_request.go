package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RequestStatus is the lifecycle state of a safety check request.
type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "PENDING"
	RequestStatusCompleted RequestStatus = "COMPLETED"
	RequestStatusFailed    RequestStatus = "FAILED"
)

// IsTerminal reports whether no further transition is allowed.
func (s RequestStatus) IsTerminal() bool {
	return s == RequestStatusCompleted || s == RequestStatusFailed
}

// RequestSource records who created a request.
type RequestSource string

const (
	RequestSourceInteractive RequestSource = "INTERACTIVE"
	RequestSourceScheduled   RequestSource = "SCHEDULED"
)

// ErrRequestNotPending is returned by conditional writes that lost to an earlier transition.
var ErrRequestNotPending = errors.New("safety check request is no longer pending")

// SafetyCheckRequest is one question about a work order, queued for the reasoning agent.
type SafetyCheckRequest struct {
	RequestID           uuid.UUID     `db:"request_id" json:"requestId"`
	WorkOrderID         string        `db:"work_order_id" json:"workOrderId"`
	Payload             string        `db:"payload" json:"payload"`
	Status              RequestStatus `db:"status" json:"status"`
	Source              RequestSource `db:"source" json:"source"`
	SafetyCheckResponse *string       `db:"safety_check_response" json:"safetyCheckResponse,omitempty"`
	FailureReason       *string       `db:"failure_reason" json:"failureReason,omitempty"`
	CreatedAt           time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt           time.Time     `db:"updated_at" json:"updatedAt"`
	TTL                 int64         `db:"ttl" json:"ttl"`
}

// TableName returns the database table name
func (SafetyCheckRequest) TableName() string {
	return "safety_check_requests"
}

// NewSafetyCheckRequest builds a PENDING request with a fresh id that expires ttl after now.
func NewSafetyCheckRequest(workOrderID, payload string, source RequestSource, now time.Time, ttl time.Duration) *SafetyCheckRequest {
	now = now.UTC()
	return &SafetyCheckRequest{
		RequestID:   uuid.New(),
		WorkOrderID: workOrderID,
		Payload:     payload,
		Status:      RequestStatusPending,
		Source:      source,
		CreatedAt:   now,
		UpdatedAt:   now,
		TTL:         now.Add(ttl).Unix(),
	}
}

// CheckInvariants verifies the response and failure reason match the status.
func (r *SafetyCheckRequest) CheckInvariants() error {
	switch r.Status {
	case RequestStatusPending:
		if r.SafetyCheckResponse != nil || r.FailureReason != nil {
			return fmt.Errorf("pending request %s carries a result", r.RequestID)
		}
	case RequestStatusCompleted:
		if r.SafetyCheckResponse == nil {
			return fmt.Errorf("completed request %s has no response", r.RequestID)
		}
		if r.FailureReason != nil {
			return fmt.Errorf("completed request %s has a failure reason", r.RequestID)
		}
	case RequestStatusFailed:
		if r.FailureReason == nil {
			return fmt.Errorf("failed request %s has no failure reason", r.RequestID)
		}
		if r.SafetyCheckResponse != nil {
			return fmt.Errorf("failed request %s has a response", r.RequestID)
		}
	default:
		return fmt.Errorf("request %s has unknown status %q", r.RequestID, r.Status)
	}
	return nil
}
