package redis

import (
	"context"
	"encoding/json"
	"fmt"
)

// PubSub broadcasts JSON messages to every subscribed replica
type PubSub struct {
	client *Client
}

// NewPubSub creates a new PubSub instance
func NewPubSub(client *Client) *PubSub {
	return &PubSub{client: client}
}

// Publish sends value to a channel and returns the number of receivers
func (p *PubSub) Publish(ctx context.Context, channel string, value any) (int64, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal message: %w", err)
	}
	return p.client.rdb.Publish(ctx, channel, payload).Result()
}

// Subscribe calls handler for every message on channel until ctx is done
func (p *PubSub) Subscribe(ctx context.Context, channel string, handler func(ctx context.Context, payload []byte)) error {
	sub := p.client.rdb.Subscribe(ctx, channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed so publishes after this point are seen.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	p.client.logger.WithContext(ctx).Infof("Subscribed to channel %s", channel)

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			handler(ctx, []byte(msg.Payload))
		}
	}
}
