package changefeed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/yarrow/pkg/models"
)

// DebeziumEnvelope is the standard Debezium CDC message format
type DebeziumEnvelope struct {
	Schema  json.RawMessage `json:"schema,omitempty"`
	Payload DebeziumPayload `json:"payload"`
}

// DebeziumPayload contains the before/after state of a row
type DebeziumPayload struct {
	Before json.RawMessage `json:"before"`
	After  json.RawMessage `json:"after"`
	Source DebeziumSource  `json:"source"`
	Op     string          `json:"op"` // c=create, u=update, d=delete, r=read (snapshot)
	TsMs   int64           `json:"ts_ms"`
}

// DebeziumSource contains metadata about the source of the change
type DebeziumSource struct {
	Connector string `json:"connector"`
	Name      string `json:"name"`
	Snapshot  string `json:"snapshot,omitempty"`
	Db        string `json:"db"`
	Schema    string `json:"schema"`
	Table     string `json:"table"`
	Lsn       int64  `json:"lsn,omitempty"`
}

// requestRow is a safety_check_requests row as the Postgres connector renders it.
type requestRow struct {
	RequestID           string          `json:"request_id"`
	WorkOrderID         string          `json:"work_order_id"`
	Payload             string          `json:"payload"`
	Status              string          `json:"status"`
	Source              string          `json:"source"`
	SafetyCheckResponse *string         `json:"safety_check_response"`
	FailureReason       *string         `json:"failure_reason"`
	CreatedAt           json.RawMessage `json:"created_at"`
	UpdatedAt           json.RawMessage `json:"updated_at"`
	TTL                 int64           `json:"ttl"`
}

func kindFromOp(op string) (Kind, error) {
	switch op {
	case "c":
		return KindInsert, nil
	case "u":
		return KindModify, nil
	case "d":
		return KindRemove, nil
	default:
		return "", fmt.Errorf("%w: debezium op %q", ErrUnrecognizedKind, op)
	}
}

// DecodeDebezium turns a Debezium message into a ChangeEvent. Envelopes with and without the
// schema wrapper are accepted. Tombstones and snapshot reads return ErrUnrecognizedKind.
func DecodeDebezium(data []byte) (*ChangeEvent, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, fmt.Errorf("%w: tombstone", ErrUnrecognizedKind)
	}

	var envelope DebeziumEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("invalid debezium message: %w", err)
	}
	payload := envelope.Payload
	if payload.Op == "" {
		// Converter configured with schemas.enable=false puts the payload at the top level.
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("invalid debezium payload: %w", err)
		}
	}

	kind, err := kindFromOp(payload.Op)
	if err != nil {
		return nil, err
	}

	image := payload.After
	if kind == KindRemove {
		image = payload.Before
	}
	if len(image) == 0 || string(image) == "null" {
		return nil, fmt.Errorf("debezium %s event has no row image", kind)
	}

	var row requestRow
	if err := json.Unmarshal(image, &row); err != nil {
		return nil, fmt.Errorf("invalid safety check request row: %w", err)
	}

	request, err := row.toModel()
	if err != nil {
		return nil, err
	}

	return &ChangeEvent{
		Kind:    kind,
		Request: *request,
		Origin:  OriginKafka,
	}, nil
}

func (r requestRow) toModel() (*models.SafetyCheckRequest, error) {
	id, err := uuid.Parse(r.RequestID)
	if err != nil {
		return nil, fmt.Errorf("invalid request_id %q: %w", r.RequestID, err)
	}

	return &models.SafetyCheckRequest{
		RequestID:           id,
		WorkOrderID:         r.WorkOrderID,
		Payload:             r.Payload,
		Status:              models.RequestStatus(r.Status),
		Source:              models.RequestSource(r.Source),
		SafetyCheckResponse: r.SafetyCheckResponse,
		FailureReason:       r.FailureReason,
		CreatedAt:           parseDebeziumTimestamp(r.CreatedAt),
		UpdatedAt:           parseDebeziumTimestamp(r.UpdatedAt),
		TTL:                 r.TTL,
	}, nil
}

// parseDebeziumTimestamp accepts ZonedTimestamp strings and
// MicroTimestamp integers.
func parseDebeziumTimestamp(raw json.RawMessage) time.Time {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}
	}

	if raw[0] != '"' {
		micros, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return time.Time{}
		}
		return time.UnixMicro(micros).UTC()
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}
	}

	formats := []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999Z07:00",
		"2006-01-02T15:04:05.999999",
		"2006-01-02 15:04:05.999999-07",
		"2006-01-02 15:04:05.999999",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
