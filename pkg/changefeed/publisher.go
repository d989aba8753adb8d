package changefeed

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/yarrow/pkg/models"
	"github.com/Ramsey-B/yarrow/pkg/repositories"
)

// StreamPublisher is the subset of redis.Streams the outbox uses
type StreamPublisher interface {
	Publish(ctx context.Context, stream string, value any) (string, error)
}

// PublishingStore wraps the request store and appends an INSERT event to the outbox stream after
// every successful create. It stands in for database CDC when Debezium is not deployed.
type PublishingStore struct {
	repositories.SafetyCheckRequestRepo
	streams StreamPublisher
	stream  string
	logger  ectologger.Logger
}

// NewPublishingStore creates the decorator
func NewPublishingStore(store repositories.SafetyCheckRequestRepo, streams StreamPublisher, stream string, logger ectologger.Logger) *PublishingStore {
	return &PublishingStore{
		SafetyCheckRequestRepo: store,
		streams:                streams,
		stream:                 stream,
		logger:                 logger,
	}
}

// Create inserts the request then publishes its INSERT event. When the publish fails the request
// is marked FAILED so it does not sit in PENDING with no event to drive it.
func (s *PublishingStore) Create(ctx context.Context, request *models.SafetyCheckRequest) error {
	if err := s.SafetyCheckRequestRepo.Create(ctx, request); err != nil {
		return err
	}

	event := ChangeEvent{Kind: KindInsert, Request: *request}
	if _, err := s.streams.Publish(ctx, s.stream, event); err != nil {
		log := s.logger.WithContext(ctx).WithError(err).WithField("safety_check_id", request.RequestID)
		log.Error("Failed to publish change event")

		if markErr := s.SafetyCheckRequestRepo.MarkFailed(ctx, request.RequestID, "change feed unavailable"); markErr != nil {
			log.WithField("mark_error", markErr.Error()).Error("Failed to mark unpublished request as failed")
		}
		return repositories.Internal(fmt.Sprintf("failed to queue safety check request %s", request.RequestID))
	}

	return nil
}
