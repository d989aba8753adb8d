// Package intake queues client-submitted safety check questions.
package intake

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/jmespath/go-jmespath"
	"go.opentelemetry.io/otel/attribute"

	appctx "github.com/Ramsey-B/yarrow/pkg/context"
	"github.com/Ramsey-B/yarrow/pkg/metrics"
	"github.com/Ramsey-B/yarrow/pkg/models"
	"github.com/Ramsey-B/yarrow/pkg/repositories"
	"github.com/Ramsey-B/yarrow/pkg/tracing"
)

// DefaultWorkOrderIDExpression selects the work order id from submitted details
const DefaultWorkOrderIDExpression = "work_order_id"

// SubmitInput is a question about a work order
type SubmitInput struct {
	Query            string               `json:"query" validate:"required"`
	WorkOrderDetails json.RawMessage      `json:"workorderdetails"`
	Source           models.RequestSource `json:"-"`
}

// Config controls intake
type Config struct {
	WorkOrderIDExpression string
	RequestTTL            time.Duration
}

// Service writes new PENDING requests to the request store
type Service struct {
	store       repositories.SafetyCheckRequestRepo
	workOrderID *jmespath.JMESPath
	ttl         time.Duration
	logger      ectologger.Logger
	now         func() time.Time
}

// NewService creates a new intake service. It fails if the work order id expression does not compile.
func NewService(store repositories.SafetyCheckRequestRepo, cfg Config, logger ectologger.Logger) (*Service, error) {
	expression := cfg.WorkOrderIDExpression
	if expression == "" {
		expression = DefaultWorkOrderIDExpression
	}
	compiled, err := jmespath.Compile(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid work order id expression %q: %w", expression, err)
	}
	if cfg.RequestTTL <= 0 {
		cfg.RequestTTL = 7 * 24 * time.Hour
	}

	return &Service{
		store:       store,
		workOrderID: compiled,
		ttl:         cfg.RequestTTL,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// Submit queues a request and returns its id without waiting for the agent
func (s *Service) Submit(ctx context.Context, in SubmitInput) (uuid.UUID, error) {
	ctx, span := tracing.StartSpan(ctx, "Intake.Submit")
	defer span.End()

	source := in.Source
	if source == "" {
		source = models.RequestSourceInteractive
	}

	if strings.TrimSpace(in.Query) == "" {
		return uuid.Nil, httperror.NewHTTPError(http.StatusBadRequest, "query is required")
	}

	log := s.logger.WithContext(ctx).WithFields(appctx.LogFields(ctx))

	var details any
	if len(bytes.TrimSpace(in.WorkOrderDetails)) > 0 {
		var err error
		details, err = decode(in.WorkOrderDetails)
		if err != nil {
			return uuid.Nil, httperror.NewHTTPError(http.StatusBadRequest, "workorderdetails must be valid JSON")
		}
	}

	workOrderID := ""
	if details != nil {
		workOrderID = s.extractWorkOrderID(ctx, details)
	}
	if workOrderID == "" {
		log.Warn("Work order id not found in submitted details")
	}

	payload, err := ComposePayload(in.Query, details)
	if err != nil {
		return uuid.Nil, httperror.NewHTTPError(http.StatusBadRequest, "workorderdetails could not be encoded")
	}

	request := models.NewSafetyCheckRequest(workOrderID, payload, source, s.now(), s.ttl)
	span.SetAttributes(
		attribute.String("safety_check_id", request.RequestID.String()),
		attribute.String("work_order_id", workOrderID),
	)

	if err := s.store.Create(ctx, request); err != nil {
		metrics.RequestsSubmitted.WithLabelValues(string(source), "error").Inc()
		return uuid.Nil, tracing.Fail(span, err, "failed to queue safety check request")
	}

	metrics.RequestsSubmitted.WithLabelValues(string(source), "queued").Inc()
	log.WithFields(map[string]any{
		"safety_check_id": request.RequestID.String(),
		"work_order_id":   workOrderID,
	}).Info("Queued safety check request")
	return request.RequestID, nil
}

func (s *Service) extractWorkOrderID(ctx context.Context, details any) string {
	result, err := s.workOrderID.Search(details)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("Failed to evaluate work order id expression")
		return ""
	}
	switch v := result.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case map[string]any, []any:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

func decode(raw []byte) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var v any
	if err := decoder.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// ComposePayload joins the prompt prefix and the details, minus stale safety check output. Keys
// are written in sorted order so identical details always produce the same prompt.
func ComposePayload(prefix string, details any) (string, error) {
	if details == nil {
		return prefix, nil
	}
	data, err := json.Marshal(StripStale(details))
	if err != nil {
		return "", err
	}
	return prefix + " " + string(data), nil
}

// StripStale removes the output of previous safety checks at every depth of a decoded JSON value
func StripStale(v any) any {
	switch t := v.(type) {
	case map[string]any:
		clean := make(map[string]any, len(t))
		for k, child := range t {
			if k == models.StaleResponseKey || k == models.StalePerformedAtKey {
				continue
			}
			clean[k] = StripStale(child)
		}
		return clean
	case []any:
		clean := make([]any, len(t))
		for i, child := range t {
			clean[i] = StripStale(child)
		}
		return clean
	default:
		return v
	}
}

// ToJSONValue converts a struct to its decoded JSON form so StripStale can walk it
func ToJSONValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return decode(data)
}
