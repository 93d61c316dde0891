package ingestion

import (
	"MarginLedger/internal/event"
	"MarginLedger/internal/observability"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Sink delivers one encoded envelope downstream.
type Sink interface {
	Name() string
	Publish(ctx context.Context, env event.Envelope, data []byte) error
	Close() error
}

// OutboundPublisher drains the engine's event channel into a Sink.
// Publishing is best effort: failures are logged and counted, never retried.
type OutboundPublisher struct {
	sink      Sink
	inputChan <-chan event.Envelope
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewOutboundPublisher(sink Sink, inputChan <-chan event.Envelope, metrics *observability.Metrics, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		sink:      sink,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			if op.metrics != nil {
				op.metrics.SetChannelMetrics("events", len(op.inputChan), cap(op.inputChan))
			}

		case env, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			if err := op.publish(ctx, env); err != nil {
				op.logger.Warn().Err(err).Int64("sequence", env.Sequence).Str("sink", op.sink.Name()).Msg("outbound publish failed")
				if op.metrics != nil {
					op.metrics.PublishErrors.WithLabelValues(op.sink.Name()).Inc()
				}
				continue
			}
			if op.metrics != nil {
				op.metrics.EventsPublished.WithLabelValues(op.sink.Name(), env.EventType.String()).Inc()
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, env event.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return op.sink.Publish(ctx, env, data)
}

// --- NATS ---

const EventStream = "MARGIN_LEDGER_EVENTS"

// NATSSink publishes to margin.ledger.events.{event_type}.
type NATSSink struct {
	js jetstream.JetStream
}

func NewNATSSink(js jetstream.JetStream) *NATSSink {
	return &NATSSink{js: js}
}

func (s *NATSSink) Name() string { return "nats" }

func (s *NATSSink) Publish(ctx context.Context, env event.Envelope, data []byte) error {
	subject := fmt.Sprintf("margin.ledger.events.%s", env.EventType)
	_, err := s.js.Publish(ctx, subject, data, jetstream.WithMsgID(env.EventID.String()))
	return err
}

func (s *NATSSink) Close() error { return nil }

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      EventStream,
		Subjects:  []string{"margin.ledger.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}

// --- Kafka ---

// KafkaSink writes every envelope to one topic, keyed by owner so events of
// an account stay ordered within a partition.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			BatchTimeout:           10 * time.Millisecond,
		},
	}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Publish(ctx context.Context, env event.Envelope, data []byte) error {
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(env.Owner.String()),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(env.EventType.String())},
			{Key: "event_id", Value: []byte(env.EventID.String())},
		},
	})
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
