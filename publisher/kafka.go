// Package publisher delivers account events to downstream consumers.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	accounts "github.com/goliatone/go-accounts"
	goerrors "github.com/goliatone/go-errors"
	"github.com/segmentio/kafka-go"
)

// HeaderEventKind carries Event.Kind so consumers can route without decoding.
const HeaderEventKind = "event-kind"

// MessageWriter is the subset of *kafka.Writer used by KafkaPublisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaOption customizes a KafkaPublisher.
type KafkaOption func(*KafkaPublisher)

// WithKafkaWriter replaces the default writer (useful for tests).
func WithKafkaWriter(w MessageWriter) KafkaOption {
	return func(p *KafkaPublisher) {
		if w != nil {
			p.writer = w
		}
	}
}

// WithKafkaLogger sets the logger.
func WithKafkaLogger(logger accounts.Logger) KafkaOption {
	return func(p *KafkaPublisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// KafkaPublisher publishes events as JSON keyed by user id, so every event of
// one account lands on the same partition in order.
type KafkaPublisher struct {
	writer MessageWriter
	logger accounts.Logger
}

// NewKafkaPublisher returns a publisher writing to brokers.
func NewKafkaPublisher(brokers []string, opts ...KafkaOption) (*KafkaPublisher, error) {
	p := &KafkaPublisher{
		logger: accounts.ResolveLogger("accounts.events.kafka", nil, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	if p.writer == nil {
		if len(brokers) == 0 {
			return nil, goerrors.New("at least one kafka broker is required", goerrors.CategoryValidation)
		}
		logger := p.logger
		p.writer = &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			BatchTimeout:           10 * time.Millisecond,
			AllowAutoTopicCreation: true,
			ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
				logger.Error(fmt.Sprintf(msg, args...))
			}),
		}
	}
	return p, nil
}

// Publish implements accounts.EventPublisher.
func (p *KafkaPublisher) Publish(ctx context.Context, topic string, event accounts.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode event")
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(event.UserID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: HeaderEventKind, Value: []byte(event.Kind)},
		},
		Time: event.OccurredAt,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "failed to write event to kafka")
	}
	return nil
}

// Close flushes pending writes.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
