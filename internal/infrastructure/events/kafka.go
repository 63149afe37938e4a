package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"terminal-payment-backend/internal/shared"
)

// messageWriter is the part of *kafka.Writer the publisher uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes payment.completed events keyed by payment id so
// every event of a payment lands on the same partition.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		},
		topic: topic,
	}
}

func (p *KafkaPublisher) PublishPaymentCompleted(ctx context.Context, event shared.PaymentCompletedEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal payment.completed: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.PaymentID),
		Value: value,
		Time:  event.CompletedAt,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", p.topic, err)
	}

	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// =====================================================
// CONSUMER
// =====================================================

// messageReader is the part of *kafka.Reader the consumer uses
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Handler processes one decoded event
type Handler func(ctx context.Context, event shared.PaymentCompletedEvent) error

// Consumer feeds payment.completed events from Kafka to a Handler. Offsets
// are committed only after the handler succeeds.
type Consumer struct {
	reader  messageReader
	handler Handler
}

func NewConsumer(brokers []string, topic, groupID string, handler Handler) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 10e3,
			MaxBytes: 10e6,
		}),
		handler: handler,
	}
}

// Run blocks until ctx is cancelled
func (c *Consumer) Run(ctx context.Context) error {
	log.Info().Msg("[KAFKA] Started consuming payment.completed events")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Msg("[KAFKA] Error reading message")
			continue
		}

		var event shared.PaymentCompletedEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			// poison message: skip it rather than block the partition
			log.Error().Err(err).Int64("offset", msg.Offset).Msg("[KAFKA] Error unmarshaling event")
			_ = c.reader.CommitMessages(ctx, msg)
			continue
		}

		if err := c.handler(ctx, event); err != nil {
			log.Error().Err(err).Str("payment_id", event.PaymentID).Msg("[KAFKA] Handler failed, offset left uncommitted")
			continue
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			log.Warn().Err(err).Int64("offset", msg.Offset).Msg("[KAFKA] Commit failed")
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
