package notify

import "context"

// KeyedPublisher is the subset of kafka.Producer used for completion events
type KeyedPublisher interface {
	Publish(ctx context.Context, key string, value any, headers map[string]string) error
}

// KafkaNotifier publishes completion events for downstream consumers, keyed by request id
type KafkaNotifier struct {
	producer KeyedPublisher
}

func NewKafkaNotifier(producer KeyedPublisher) *KafkaNotifier {
	return &KafkaNotifier{producer: producer}
}

func (k *KafkaNotifier) Notify(ctx context.Context, event CompletionEvent) error {
	return k.producer.Publish(ctx, event.RequestID, event, map[string]string{
		"type":          event.Type,
		"work_order_id": event.WorkOrderID,
	})
}
