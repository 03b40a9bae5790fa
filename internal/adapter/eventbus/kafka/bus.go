// Package kafka implements ports.EventBus on confluent-kafka-go, grounded
// on the idempotent producer configuration and delivery-report goroutine of
// an outbox publisher, with the consumer poll loop run as a ticker worker.
package kafka

import (
	"context"
	"fmt"
	"time"

	"txrelay/internal/core/domain"
	"txrelay/internal/core/ports"
	"txrelay/internal/service"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/rs/zerolog"
)

// Bus is a Kafka-backed ports.EventBus. A single producer serves every
// Publish call; each Subscribe spawns its own consumer group poll loop.
type Bus struct {
	log      zerolog.Logger
	brokers  string
	producer *kafka.Producer

	groupID string
	workers []*service.BaseWorker
}

type Option func(*Bus)

// WithConsumerGroup sets the group id every Subscribe call's consumer
// joins. Defaults to "txrelay".
func WithConsumerGroup(groupID string) Option {
	return func(b *Bus) { b.groupID = groupID }
}

// New creates a Bus with an idempotent producer already running.
func New(brokers string, log zerolog.Logger, opts ...Option) (*Bus, error) {
	b := &Bus{log: log, brokers: brokers, groupID: "txrelay"}
	for _, opt := range opts {
		opt(b)
	}

	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  brokers,
		"acks":               "all",
		"enable.idempotence": true,
		"retries":            5,
		"linger.ms":          10,
		"compression.type":   "snappy",
	})
	if err != nil {
		return nil, fmt.Errorf("kafka eventbus: creating producer: %w", err)
	}
	b.producer = producer

	go b.handleDeliveryReports()

	return b, nil
}

func (b *Bus) handleDeliveryReports() {
	for e := range b.producer.Events() {
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				b.log.Error().Err(ev.TopicPartition.Error).Str("topic", *ev.TopicPartition.Topic).Msg("kafka delivery failed")
			}
		case kafka.Error:
			b.log.Error().Err(ev).Msg("kafka producer error")
		}
	}
}

// Publish produces msg to topic, keyed by its partition key so per-subject
// ordering is preserved the way the broker partitions it.
func (b *Bus) Publish(ctx context.Context, topic string, msg *domain.EventMessage) error {
	value, err := encodeMessage(msg)
	if err != nil {
		return fmt.Errorf("kafka eventbus: encoding message: %w", err)
	}

	kmsg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(msg.PartitionKey()),
		Value:          value,
		Headers:        buildHeaders(msg),
		Timestamp:      time.Now(),
	}

	deliveryChan := make(chan kafka.Event, 1)
	if err := b.producer.Produce(kmsg, deliveryChan); err != nil {
		return fmt.Errorf("kafka eventbus: producing message: %w", err)
	}

	select {
	case e := <-deliveryChan:
		report := e.(*kafka.Message)
		if report.TopicPartition.Error != nil {
			return fmt.Errorf("kafka eventbus: delivery failed: %w", report.TopicPartition.Error)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe runs a consumer group poll loop against topic as a BaseWorker,
// invoking handler for each message and committing only after it succeeds.
// A handler error leaves the offset uncommitted so the broker redelivers it.
func (b *Bus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  b.brokers,
		"group.id":           b.groupID,
		"auto.offset.reset":  "earliest",
		"enable.auto.commit": false,
	})
	if err != nil {
		return fmt.Errorf("kafka eventbus: creating consumer: %w", err)
	}
	if err := consumer.SubscribeTopics([]string{topic}, nil); err != nil {
		consumer.Close()
		return fmt.Errorf("kafka eventbus: subscribing to %s: %w", topic, err)
	}

	workFunc := func(ctx context.Context) error {
		return b.pollOnce(ctx, consumer, handler)
	}
	worker := service.NewBaseWorker("kafka-consumer-"+topic, 100*time.Millisecond, b.log, workFunc)
	b.workers = append(b.workers, worker)

	defer consumer.Close()
	worker.Start(ctx)
	return ctx.Err()
}

func (b *Bus) pollOnce(ctx context.Context, consumer *kafka.Consumer, handler ports.EventHandler) error {
	ev := consumer.Poll(200)
	if ev == nil {
		return nil
	}

	switch e := ev.(type) {
	case *kafka.Message:
		msg, err := decodeMessage(e.Value)
		if err != nil {
			b.log.Error().Err(err).Msg("kafka eventbus: discarding undecodable message")
			_, _ = consumer.CommitMessage(e)
			return nil
		}
		if err := handler(ctx, msg); err != nil {
			b.log.Warn().Err(err).Str("event_id", msg.EventID.String()).Msg("handler failed, leaving offset uncommitted")
			if seekErr := consumer.Seek(e.TopicPartition, 0); seekErr != nil {
				b.log.Error().Err(seekErr).Msg("kafka eventbus: seeking back to failed message")
			}
			return nil
		}
		_, err = consumer.CommitMessage(e)
		return err
	case kafka.Error:
		if e.Code() == kafka.ErrAllBrokersDown {
			return fmt.Errorf("kafka eventbus: all brokers down: %w", e)
		}
		b.log.Warn().Err(e).Msg("kafka eventbus: consumer error")
		return nil
	}
	return nil
}

// Close flushes and closes the producer and stops any running consumers.
func (b *Bus) Close() error {
	for _, w := range b.workers {
		w.Stop()
	}
	b.producer.Flush(15 * 1000)
	b.producer.Close()
	return nil
}
