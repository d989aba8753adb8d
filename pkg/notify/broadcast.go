package notify

import (
	"context"
	"encoding/json"

	"github.com/Gobusters/ectologger"
)

// Publisher is the subset of redis.PubSub used to broadcast
type Publisher interface {
	Publish(ctx context.Context, channel string, value any) (int64, error)
}

// Subscriber is the subset of redis.PubSub used to listen
type Subscriber interface {
	Subscribe(ctx context.Context, channel string, handler func(ctx context.Context, payload []byte)) error
}

// Broadcaster publishes completions on a Redis channel so every replica's hub sees them
type Broadcaster struct {
	publisher Publisher
	channel   string
}

// NewBroadcaster creates a new Redis broadcaster
func NewBroadcaster(publisher Publisher, channel string) *Broadcaster {
	return &Broadcaster{publisher: publisher, channel: channel}
}

func (b *Broadcaster) Notify(ctx context.Context, event CompletionEvent) error {
	_, err := b.publisher.Publish(ctx, b.channel, event)
	return err
}

// Relay feeds broadcast completions into the local hub until ctx is done
func Relay(ctx context.Context, subscriber Subscriber, channel string, hub *Hub, logger ectologger.Logger) error {
	return subscriber.Subscribe(ctx, channel, func(ctx context.Context, payload []byte) {
		var event CompletionEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			logger.WithContext(ctx).WithError(err).Warn("Ignoring malformed completion broadcast")
			return
		}
		if n := hub.Deliver(ctx, event); n > 0 {
			logger.WithContext(ctx).WithField("safety_check_id", event.RequestID).Debugf("Pushed completion to %d clients", n)
		}
	})
}
