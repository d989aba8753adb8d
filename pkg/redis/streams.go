package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// StreamMessage is one entry read from a Redis Stream
type StreamMessage struct {
	ID     string
	Stream string
	Data   []byte
}

// Streams provides Redis Streams operations
type Streams struct {
	client *Client
}

// NewStreams creates a new Streams instance
func NewStreams(client *Client) *Streams {
	return &Streams{client: client}
}

// Publish JSON-encodes value into the entry's data field
func (s *Streams) Publish(ctx context.Context, stream string, value any) (string, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("failed to marshal stream message: %w", err)
	}

	id, err := s.client.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{
			"data": string(payload),
		},
	}).Result()
	if err != nil {
		s.client.logger.WithContext(ctx).WithError(err).Errorf("Failed to publish to stream %s", stream)
		return "", err
	}

	s.client.logger.WithContext(ctx).Debugf("Published to stream %s (message ID: %s)", stream, id)
	return id, nil
}

// CreateConsumerGroup creates a consumer group, creating the stream if needed
func (s *Streams) CreateConsumerGroup(ctx context.Context, stream, group string) error {
	err := s.client.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// ReadGroup reads entries for a consumer. start ">" returns new entries, "0" returns the
// consumer's own unacknowledged entries.
func (s *Streams) ReadGroup(ctx context.Context, stream, group, consumer, start string, count int64, block time.Duration) ([]StreamMessage, error) {
	results, err := s.client.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, start},
		Count:    count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var messages []StreamMessage
	for _, result := range results {
		for _, msg := range result.Messages {
			data, ok := msg.Values["data"].(string)
			if !ok {
				s.client.logger.WithContext(ctx).Warnf("Stream message %s has no data field", msg.ID)
				data = ""
			}
			messages = append(messages, StreamMessage{
				ID:     msg.ID,
				Stream: result.Stream,
				Data:   []byte(data),
			})
		}
	}

	return messages, nil
}

// Claim moves entries that have been pending longer than minIdle on any consumer of the group to
// consumer and returns how many were moved. They are then read back with ReadGroup from "0".
func (s *Streams) Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) (int, error) {
	claimed := 0
	cursor := "0-0"
	for {
		ids, next, err := s.client.rdb.XAutoClaimJustID(ctx, &redis.XAutoClaimArgs{
			Stream:   stream,
			Group:    group,
			Consumer: consumer,
			MinIdle:  minIdle,
			Start:    cursor,
			Count:    count,
		}).Result()
		if err != nil {
			return claimed, err
		}
		claimed += len(ids)
		if next == "0-0" || next == "" || next == cursor {
			return claimed, nil
		}
		cursor = next
	}
}

// Ack acknowledges entries for a group
func (s *Streams) Ack(ctx context.Context, stream, group string, ids ...string) error {
	return s.client.rdb.XAck(ctx, stream, group, ids...).Err()
}

// Len returns the length of a stream
func (s *Streams) Len(ctx context.Context, stream string) (int64, error) {
	return s.client.rdb.XLen(ctx, stream).Result()
}
