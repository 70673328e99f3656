// Package kafka publishes committed events to a Kafka topic.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/getpup/pupcart/es"
	"github.com/getpup/pupcart/es/bus"
)

const tracerName = "github.com/getpup/pupcart/es/bus/kafka"

// Header keys set on every message.
const (
	HeaderEventType     = "event_type"
	HeaderAggregateType = "aggregate_type"
	HeaderVersion       = "version"
	HeaderEventID       = "event_id"
)

// MessageWriter is the subset of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config configures a Kafka publisher.
type Config struct {
	// Logger is an optional logger. If nil, logging is disabled.
	Logger es.Logger

	// Tracer defaults to the global OpenTelemetry tracer provider.
	Tracer trace.Tracer

	Topic        string
	ClientID     string
	Brokers      []string
	BatchTimeout time.Duration
	MaxAttempts  int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Topic:        "shop-events",
		ClientID:     "pupcart",
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  3,
	}
}

// Publisher writes one message per event, keyed by stream id so a stream's
// events land on one partition in order.
type Publisher struct {
	writer MessageWriter
	tracer trace.Tracer
	logger es.Logger
	topic  string
	closed atomic.Bool
}

var _ bus.Publisher = (*Publisher)(nil)

// NewPublisher creates a publisher backed by a synchronous kafka.Writer.
func NewPublisher(config Config) (*Publisher, error) {
	if len(config.Brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		MaxAttempts:  max(config.MaxAttempts, 1),
		BatchTimeout: config.BatchTimeout,
		Transport: &kafka.Transport{
			ClientID: config.ClientID,
		},
	}
	return NewPublisherWithWriter(w, config), nil
}

// NewPublisherWithWriter creates a publisher on an existing writer.
func NewPublisherWithWriter(w MessageWriter, config Config) *Publisher {
	tracer := config.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	topic := config.Topic
	if topic == "" {
		topic = DefaultConfig().Topic
	}
	return &Publisher{
		writer: w,
		tracer: tracer,
		logger: config.Logger,
		topic:  topic,
	}
}

// Publish implements bus.Publisher.
//
//nolint:gocritic // hugeParam: events are passed by value
func (p *Publisher) Publish(ctx context.Context, event es.Event) error {
	if p.closed.Load() {
		return bus.ErrClosed
	}

	ctx, span := p.tracer.Start(ctx, "kafka.produce", trace.WithSpanKind(trace.SpanKindProducer))
	span.SetAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", p.topic),
		attribute.String("es.stream_id", event.StreamID),
		attribute.String("es.event_type", event.EventType),
		attribute.Int64("es.version", event.Version),
	)
	defer span.End()

	msg, err := Message(p.topic, event)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if p.logger != nil {
			p.logger.Error(ctx, "kafka publish failed",
				"topic", p.topic,
				"stream_id", event.StreamID,
				"version", event.Version,
				"error", err)
		}
		return fmt.Errorf("failed to publish %s v%d: %w", event.StreamID, event.Version, err)
	}

	if p.logger != nil {
		p.logger.Debug(ctx, "event published",
			"topic", p.topic,
			"stream_id", event.StreamID,
			"version", event.Version)
	}
	return nil
}

// Close flushes and closes the writer. Later publishes fail with bus.ErrClosed.
func (p *Publisher) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.writer.Close()
}

// Message builds the Kafka message for event.
//
//nolint:gocritic // hugeParam: events are passed by value
func Message(topic string, event es.Event) (kafka.Message, error) {
	value, err := es.MarshalEnvelope(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return kafka.Message{
		Topic: topic,
		Key:   []byte(event.StreamID),
		Value: value,
		Time:  event.OccurredOn,
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte(event.EventType)},
			{Key: HeaderAggregateType, Value: []byte(event.AggregateType)},
			{Key: HeaderVersion, Value: []byte(strconv.FormatInt(event.Version, 10))},
			{Key: HeaderEventID, Value: []byte(event.EventID.String())},
		},
	}, nil
}

// EventFromMessage decodes a message written by Publisher.
func EventFromMessage(msg kafka.Message) (es.Event, error) {
	return es.UnmarshalEnvelope(msg.Value)
}
