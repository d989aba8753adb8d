package changefeed

import (
	"context"
	"errors"

	"github.com/Ramsey-B/yarrow/pkg/models"
)

// Kind is the row mutation a change event describes
type Kind string

const (
	KindInsert Kind = "INSERT"
	KindModify Kind = "MODIFY"
	KindRemove Kind = "REMOVE"
)

// Origins of change events
const (
	OriginKafka = "kafka"
	OriginRedis = "redis"
)

// ErrUnrecognizedKind is returned for events that carry no insert, modify or remove, such as
// snapshot reads and tombstones.
var ErrUnrecognizedKind = errors.New("unrecognized change event kind")

// ChangeEvent is one mutation of a safety check request row. Request is the new image, or the
// old image for removals.
type ChangeEvent struct {
	Kind    Kind                      `json:"kind"`
	Request models.SafetyCheckRequest `json:"request"`
	Origin  string                    `json:"origin,omitempty"`
	// Position is the transport offset or stream id, for logs only.
	Position string `json:"position,omitempty"`
}

// Handler consumes decoded change events. A non-nil error leaves the event unacknowledged.
type Handler interface {
	Handle(ctx context.Context, event ChangeEvent) error
	// Reject receives payloads that could not be decoded into an event.
	Reject(ctx context.Context, origin string, raw []byte, cause error) error
}
