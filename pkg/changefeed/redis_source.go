package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/yarrow/pkg/redis"
)

// StreamReader is the subset of redis.Streams the stream source uses
type StreamReader interface {
	CreateConsumerGroup(ctx context.Context, stream, group string) error
	ReadGroup(ctx context.Context, stream, group, consumer, start string, count int64, block time.Duration) ([]redis.StreamMessage, error)
	Ack(ctx context.Context, stream, group string, ids ...string) error
	Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) (int, error)
}

// RedisSourceConfig names the stream and consumer group
type RedisSourceConfig struct {
	Stream   string
	Group    string
	Consumer string
	Block    time.Duration
	// RetryInterval is how often unacknowledged entries are handled again.
	RetryInterval time.Duration
	// ClaimMinIdle is how long an entry must sit unacknowledged on another consumer before this
	// one takes it over. It must exceed the handler's own time budget.
	ClaimMinIdle time.Duration
}

// RedisSource feeds events from a Redis Streams outbox to a Handler. Entries are handled one at
// a time and acknowledged after the handler returns nil.
type RedisSource struct {
	streams StreamReader
	cfg     RedisSourceConfig
	handler Handler
	logger  ectologger.Logger
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

// NewRedisSource creates a new stream source
func NewRedisSource(streams StreamReader, cfg RedisSourceConfig, handler Handler, logger ectologger.Logger) *RedisSource {
	if cfg.Block <= 0 {
		cfg.Block = 2 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 30 * time.Second
	}
	if cfg.ClaimMinIdle <= 0 {
		cfg.ClaimMinIdle = 5 * time.Minute
	}
	return &RedisSource{
		streams: streams,
		cfg:     cfg,
		handler: handler,
		logger:  logger,
	}
}

// Start creates the consumer group and begins reading in the background
func (s *RedisSource) Start(ctx context.Context) error {
	if err := s.streams.CreateConsumerGroup(ctx, s.cfg.Stream, s.cfg.Group); err != nil {
		return fmt.Errorf("failed to create consumer group %s: %w", s.cfg.Group, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.consumeLoop(ctx)

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"stream":   s.cfg.Stream,
		"group":    s.cfg.Group,
		"consumer": s.cfg.Consumer,
	}).Info("Redis change feed started")
	return nil
}

// Stop stops reading and waits for the in-flight event
func (s *RedisSource) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	return nil
}

func (s *RedisSource) consumeLoop(ctx context.Context) {
	defer s.wg.Done()

	// Entries delivered before a restart and never acknowledged come first.
	s.retryPending(ctx)
	lastRetry := time.Now()

	for ctx.Err() == nil {
		if time.Since(lastRetry) >= s.cfg.RetryInterval {
			s.retryPending(ctx)
			lastRetry = time.Now()
		}

		msgs, err := s.streams.ReadGroup(ctx, s.cfg.Stream, s.cfg.Group, s.cfg.Consumer, ">", 1, s.readBlock())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.WithContext(ctx).WithError(err).Error("Failed to read change feed")
			sleep(ctx, time.Second)
			continue
		}

		for _, msg := range msgs {
			s.handle(ctx, msg)
		}
	}
}

// readBlock keeps a blocking read from outlasting the next retry pass
func (s *RedisSource) readBlock() time.Duration {
	if s.cfg.Block > s.cfg.RetryInterval {
		return s.cfg.RetryInterval
	}
	return s.cfg.Block
}

// retryPending takes over entries abandoned by other consumers, then handles every entry still
// pending on this consumer once, oldest first.
func (s *RedisSource) retryPending(ctx context.Context) {
	log := s.logger.WithContext(ctx).WithField("stream", s.cfg.Stream)

	claimed, err := s.streams.Claim(ctx, s.cfg.Stream, s.cfg.Group, s.cfg.Consumer, s.cfg.ClaimMinIdle, 100)
	if err != nil {
		log.WithError(err).Warn("Failed to claim idle change events")
	} else if claimed > 0 {
		log.WithField("claimed", claimed).Info("Claimed idle change events from other consumers")
	}

	// Reading history from an id returns this consumer's pending entries after it.
	cursor := "0"
	for ctx.Err() == nil {
		msgs, err := s.streams.ReadGroup(ctx, s.cfg.Stream, s.cfg.Group, s.cfg.Consumer, cursor, 10, -1)
		if err != nil {
			if ctx.Err() == nil {
				log.WithError(err).Error("Failed to read pending change events")
			}
			return
		}
		if len(msgs) == 0 {
			return
		}
		for _, msg := range msgs {
			s.handle(ctx, msg)
			cursor = msg.ID
		}
	}
}

// handle acknowledges msg only when it was processed. A failed entry stays pending for the next
// retry pass.
func (s *RedisSource) handle(ctx context.Context, msg redis.StreamMessage) {
	if err := s.process(ctx, msg); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("stream_id", msg.ID).Error("Failed to process change event (not acknowledging)")
		return
	}
	if err := s.streams.Ack(ctx, s.cfg.Stream, s.cfg.Group, msg.ID); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("stream_id", msg.ID).Error("Failed to acknowledge change event")
	}
}

func (s *RedisSource) process(ctx context.Context, msg redis.StreamMessage) error {
	var event ChangeEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		return s.handler.Reject(ctx, OriginRedis, msg.Data, fmt.Errorf("invalid change event: %w", err))
	}
	switch event.Kind {
	case KindInsert, KindModify, KindRemove:
	default:
		s.logger.WithContext(ctx).WithField("stream_id", msg.ID).Debugf("Skipping change event of kind %q", event.Kind)
		return nil
	}

	event.Origin = OriginRedis
	event.Position = msg.ID
	return s.handler.Handle(ctx, event)
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
