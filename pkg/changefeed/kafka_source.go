package changefeed

import (
	"context"
	"errors"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/yarrow/pkg/kafka"
)

// KafkaSource feeds Debezium CDC events from a Kafka topic to a Handler
type KafkaSource struct {
	consumer *kafka.Consumer
	handler  Handler
	logger   ectologger.Logger
}

// NewKafkaSource creates a consumer group reader on the CDC topic
func NewKafkaSource(cfg kafka.ConsumerConfig, handler Handler, logger ectologger.Logger) *KafkaSource {
	s := &KafkaSource{handler: handler, logger: logger}
	s.consumer = kafka.NewConsumer(cfg, logger, s.handleMessage)
	return s
}

// NewKafkaSourceWithReader creates a source over an existing reader
func NewKafkaSourceWithReader(reader kafka.MessageReader, topic string, handler Handler, logger ectologger.Logger) *KafkaSource {
	s := &KafkaSource{handler: handler, logger: logger}
	s.consumer = kafka.NewConsumerWithReader(reader, topic, logger, s.handleMessage)
	return s
}

// Start begins consuming
func (s *KafkaSource) Start(ctx context.Context) error {
	return s.consumer.Start(ctx)
}

// Stop stops consuming and closes the reader
func (s *KafkaSource) Stop() error {
	return s.consumer.Stop()
}

func (s *KafkaSource) handleMessage(ctx context.Context, msg *kafka.IncomingMessage) error {
	event, err := DecodeDebezium(msg.Value)
	if errors.Is(err, ErrUnrecognizedKind) {
		s.logger.WithContext(ctx).WithField("offset", msg.Offset).Debugf("Skipping change event: %v", err)
		return nil
	}
	if err != nil {
		return s.handler.Reject(ctx, OriginKafka, msg.Value, err)
	}

	event.Position = fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
	return s.handler.Handle(ctx, *event)
}
