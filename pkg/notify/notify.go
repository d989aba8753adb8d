// Package notify pushes safety check completions to interested clients. Delivery is best effort
// and never changes request state.
package notify

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/yarrow/pkg/metrics"
	"github.com/Ramsey-B/yarrow/pkg/models"
)

// Event types
const (
	EventCompleted = "safety_check.completed"
	EventFailed    = "safety_check.failed"
)

// CompletionEvent announces that a request reached a terminal state
type CompletionEvent struct {
	Type                string               `json:"type"`
	RequestID           string               `json:"requestId"`
	WorkOrderID         string               `json:"workOrderId,omitempty"`
	Status              models.RequestStatus `json:"status"`
	SafetyCheckResponse string               `json:"safetyCheckResponse,omitempty"`
	FailureReason       string               `json:"failureReason,omitempty"`
	Timestamp           time.Time            `json:"timestamp"`
}

// Completed builds the event for a completed request
func Completed(request models.SafetyCheckRequest, response string, at time.Time) CompletionEvent {
	return CompletionEvent{
		Type:                EventCompleted,
		RequestID:           request.RequestID.String(),
		WorkOrderID:         request.WorkOrderID,
		Status:              models.RequestStatusCompleted,
		SafetyCheckResponse: response,
		Timestamp:           at.UTC(),
	}
}

// Failed builds the event for a failed request
func Failed(request models.SafetyCheckRequest, reason string, at time.Time) CompletionEvent {
	return CompletionEvent{
		Type:          EventFailed,
		RequestID:     request.RequestID.String(),
		WorkOrderID:   request.WorkOrderID,
		Status:        models.RequestStatusFailed,
		FailureReason: reason,
		Timestamp:     at.UTC(),
	}
}

// Notifier delivers a completion event on one channel
type Notifier interface {
	Notify(ctx context.Context, event CompletionEvent) error
}

// Channel is a named notifier
type Channel struct {
	Name     string
	Notifier Notifier
}

// Fanout sends every event to each channel. Channel failures are logged and counted only.
type Fanout struct {
	channels []Channel
	logger   ectologger.Logger
}

// NewFanout creates a fan-out notifier
func NewFanout(logger ectologger.Logger, channels ...Channel) *Fanout {
	return &Fanout{channels: channels, logger: logger}
}

// Notify always returns nil
func (f *Fanout) Notify(ctx context.Context, event CompletionEvent) error {
	for _, ch := range f.channels {
		if err := ch.Notifier.Notify(ctx, event); err != nil {
			metrics.NotificationsSent.WithLabelValues(ch.Name, "error").Inc()
			f.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"channel":         ch.Name,
				"safety_check_id": event.RequestID,
			}).Warn("Failed to send completion notification")
			continue
		}
		metrics.NotificationsSent.WithLabelValues(ch.Name, "sent").Inc()
	}
	return nil
}
