// Package dispatcher turns INSERT change events into agent calls and records the outcome.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Ramsey-B/yarrow/pkg/agent"
	"github.com/Ramsey-B/yarrow/pkg/changefeed"
	appctx "github.com/Ramsey-B/yarrow/pkg/context"
	"github.com/Ramsey-B/yarrow/pkg/metrics"
	"github.com/Ramsey-B/yarrow/pkg/models"
	"github.com/Ramsey-B/yarrow/pkg/notify"
	"github.com/Ramsey-B/yarrow/pkg/redis"
	"github.com/Ramsey-B/yarrow/pkg/repositories"
	"github.com/Ramsey-B/yarrow/pkg/tracing"
)

var _ changefeed.Handler = (*Dispatcher)(nil)

// ErrRequestLocked means another handler holds the request. The event is left unacknowledged so
// the change feed delivers it again once the lock is released or expires.
var ErrRequestLocked = errors.New("safety check request is locked by another handler")

// Locker serializes handlers for the same request across replicas
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error
}

// DeadLetterWriter stores events that could not be handled
type DeadLetterWriter interface {
	Add(ctx context.Context, entry *redis.DLQEntry) (string, error)
}

// Config controls retries and deduplication
type Config struct {
	// Dedupe reads the current status before calling the agent and skips terminal requests.
	Dedupe          bool
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	HandlerTimeout  time.Duration
	LockTTL         time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = time.Second
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 30 * time.Second
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = 180 * time.Second
	}
	if c.LockTTL <= 0 {
		c.LockTTL = c.HandlerTimeout + 30*time.Second
	}
	return c
}

// Deps are the collaborators of a Dispatcher. Notifier may be nil.
type Deps struct {
	Requests   repositories.SafetyCheckRequestRepo
	WorkOrders repositories.WorkOrderRepo
	Agent      agent.Agent
	Locker     Locker
	DeadLetter DeadLetterWriter
	Notifier   notify.Notifier
}

// Dispatcher handles change events for safety check requests
type Dispatcher struct {
	deps   Deps
	cfg    Config
	logger ectologger.Logger
	now    func() time.Time
}

// New creates a new Dispatcher
func New(deps Deps, cfg Config, logger ectologger.Logger) *Dispatcher {
	return &Dispatcher{
		deps:   deps,
		cfg:    cfg.withDefaults(),
		logger: logger,
		now:    time.Now,
	}
}

// Handle processes one change event. Only inserts trigger work. Failures are retried with backoff;
// once retries run out the event is dead-lettered and the request marked FAILED. The returned
// error is non-nil only when the event must stay unacknowledged.
func (d *Dispatcher) Handle(ctx context.Context, event changefeed.ChangeEvent) error {
	if event.Kind != changefeed.KindInsert {
		metrics.EventsProcessed.WithLabelValues(string(event.Kind), "ignored").Inc()
		return nil
	}

	requestID := event.Request.RequestID.String()
	ctx = appctx.SetSafetyCheckID(ctx, requestID)
	ctx = appctx.SetWorkOrderID(ctx, event.Request.WorkOrderID)
	ctx, span := tracing.StartSpan(ctx, "Dispatcher.Handle",
		attribute.String("safety_check_id", requestID),
		attribute.String("change_feed.origin", event.Origin),
	)
	defer span.End()

	metrics.EventsInFlight.Inc()
	defer metrics.EventsInFlight.Dec()

	attempts := 0
	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.HandlerTimeout)
		defer cancel()

		err := d.process(attemptCtx, event)
		if err != nil && !errors.Is(err, ErrRequestLocked) {
			d.logger.WithContext(ctx).WithError(err).WithFields(appctx.LogFields(ctx)).WithFields(map[string]any{
				"attempt":  attempts,
				"position": event.Position,
			}).Warn("Safety check dispatch attempt failed")
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.cfg.InitialInterval
	policy.MaxInterval = d.cfg.MaxInterval
	policy.MaxElapsedTime = 0

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, d.cfg.MaxRetries), ctx))
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrRequestLocked) {
		d.logger.WithContext(ctx).Info("Request is locked by another handler, leaving event for redelivery")
		return err
	}
	if ctx.Err() != nil {
		// Shutting down: leave the event for the next consumer.
		metrics.EventsProcessed.WithLabelValues(string(event.Kind), "cancelled").Inc()
		return ctx.Err()
	}

	reason := models.DeadLetterReasonMaxRetriesExceeded
	if errors.Is(err, context.DeadlineExceeded) {
		reason = models.DeadLetterReasonTimeout
	}
	tracing.Fail(span, err, "dispatch retries exhausted")
	return d.giveUp(ctx, event, reason, err, attempts)
}

// Reject dead-letters a payload that could not be decoded
func (d *Dispatcher) Reject(ctx context.Context, origin string, raw []byte, cause error) error {
	entry := &redis.DLQEntry{
		Source:       origin,
		Event:        rawEvent(raw),
		Reason:       models.DeadLetterReasonInvalidEvent,
		ErrorMessage: cause.Error(),
	}
	if _, err := d.deps.DeadLetter.Add(ctx, entry); err != nil {
		return fmt.Errorf("failed to dead-letter invalid event: %w", err)
	}
	metrics.DeadLettersTotal.WithLabelValues(string(entry.Reason)).Inc()
	metrics.EventsProcessed.WithLabelValues("unknown", "rejected").Inc()
	return nil
}

func (d *Dispatcher) giveUp(ctx context.Context, event changefeed.ChangeEvent, reason models.DeadLetterReason, cause error, attempts int) error {
	requestID := event.Request.RequestID
	data, err := json.Marshal(event)
	if err != nil {
		data = nil
	}

	entry := &redis.DLQEntry{
		MessageID:    event.Position,
		RequestID:    requestID.String(),
		WorkOrderID:  event.Request.WorkOrderID,
		Source:       event.Origin,
		Event:        data,
		Reason:       reason,
		ErrorMessage: cause.Error(),
		RetryCount:   attempts - 1,
	}
	if _, err := d.deps.DeadLetter.Add(ctx, entry); err != nil {
		metrics.EventsProcessed.WithLabelValues(string(event.Kind), "error").Inc()
		return fmt.Errorf("failed to dead-letter request %s: %w", requestID, err)
	}
	metrics.DeadLettersTotal.WithLabelValues(string(reason)).Inc()
	metrics.EventsProcessed.WithLabelValues(string(event.Kind), "dead_lettered").Inc()

	failure := fmt.Sprintf("%s: %s", reason, cause.Error())
	err = d.deps.Requests.MarkFailed(ctx, requestID, failure)
	switch {
	case err == nil:
		d.notify(ctx, notify.Failed(event.Request, failure, d.now()))
	case errors.Is(err, models.ErrRequestNotPending), repositories.IsNotFound(err):
		d.logger.WithContext(ctx).WithError(err).Info("Request already left PENDING before it could be marked failed")
	default:
		// The DLQ entry still records the failure.
		d.logger.WithContext(ctx).WithError(err).Error("Failed to mark request as failed")
	}
	return nil
}

func (d *Dispatcher) process(ctx context.Context, event changefeed.ChangeEvent) error {
	key := "safety-check:" + event.Request.RequestID.String()
	err := d.deps.Locker.WithLock(ctx, key, d.cfg.LockTTL, func(ctx context.Context) error {
		return d.dispatch(ctx, event)
	})
	if !errors.Is(err, redis.ErrLockNotAcquired) {
		return err
	}

	// The holder may have crashed, so only a terminal request lets the event go.
	if d.alreadyHandled(ctx, event) {
		metrics.EventsProcessed.WithLabelValues(string(event.Kind), "duplicate").Inc()
		return nil
	}
	metrics.EventsProcessed.WithLabelValues(string(event.Kind), "locked").Inc()
	return backoff.Permanent(ErrRequestLocked)
}

// alreadyHandled reports whether the request is gone or terminal. Read failures count as not handled.
func (d *Dispatcher) alreadyHandled(ctx context.Context, event changefeed.ChangeEvent) bool {
	current, err := d.deps.Requests.GetByID(ctx, event.Request.RequestID)
	if repositories.IsNotFound(err) {
		return true
	}
	if err != nil {
		d.logger.WithContext(ctx).WithError(err).Warn("Failed to read status of locked request")
		return false
	}
	return current.Status.IsTerminal()
}

func (d *Dispatcher) dispatch(ctx context.Context, event changefeed.ChangeEvent) error {
	ctx, span := tracing.StartSpan(ctx, "Dispatcher.dispatch")
	defer span.End()

	request := event.Request
	log := d.logger.WithContext(ctx)

	if d.cfg.Dedupe {
		current, err := d.deps.Requests.GetByID(ctx, request.RequestID)
		if repositories.IsNotFound(err) {
			log.Info("Request no longer exists, skipping")
			metrics.EventsProcessed.WithLabelValues(string(event.Kind), "missing").Inc()
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read request status: %w", err)
		}
		if current.Status.IsTerminal() {
			log.WithField("status", current.Status).Info("Request already handled, skipping agent call")
			metrics.EventsProcessed.WithLabelValues(string(event.Kind), "duplicate").Inc()
			return nil
		}
	}

	start := time.Now()
	response, err := d.deps.Agent.Invoke(ctx, agent.Invocation{
		SessionID: request.RequestID.String(),
		Prompt:    request.Payload,
	})
	if err != nil {
		metrics.AgentInvocationDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return fmt.Errorf("agent invocation failed: %w", err)
	}
	metrics.AgentInvocationDuration.WithLabelValues("success").Observe(time.Since(start).Seconds())

	err = d.deps.Requests.Complete(ctx, request.RequestID, response.Text)
	if errors.Is(err, models.ErrRequestNotPending) || repositories.IsNotFound(err) {
		log.WithError(err).Info("Request was already terminal, discarding duplicate response")
		metrics.EventsProcessed.WithLabelValues(string(event.Kind), "duplicate").Inc()
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to complete request: %w", err)
	}

	now := d.now()
	if request.WorkOrderID != "" {
		// The request row is the source of truth; the work order copy is not retried.
		if err := d.deps.WorkOrders.RecordSafetyCheck(ctx, request.WorkOrderID, response.Text, now); err != nil {
			log.WithError(err).Warn("Failed to copy safety check response onto work order")
		}
	}

	d.notify(ctx, notify.Completed(request, response.Text, now))
	metrics.EventsProcessed.WithLabelValues(string(event.Kind), "completed").Inc()
	log.WithField("citations", len(response.Citations)).Info("Safety check completed")
	return nil
}

func (d *Dispatcher) notify(ctx context.Context, event notify.CompletionEvent) {
	if d.deps.Notifier == nil {
		return
	}
	if err := d.deps.Notifier.Notify(ctx, event); err != nil {
		d.logger.WithContext(ctx).WithError(err).Warn("Failed to send completion notification")
	}
}

func rawEvent(raw []byte) json.RawMessage {
	if json.Valid(raw) {
		return raw
	}
	quoted, err := json.Marshal(string(raw))
	if err != nil {
		return nil
	}
	return quoted
}
