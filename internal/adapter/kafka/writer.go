package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"

	"github.com/couchcryptid/wave-collocation-service/internal/config"
	"github.com/couchcryptid/wave-collocation-service/internal/domain"
	"github.com/couchcryptid/wave-collocation-service/internal/observability"
)

// ErrSinkUnavailable is returned while the circuit breaker is open.
var ErrSinkUnavailable = errors.New("match record sink unavailable")

// messageWriter is the subset of *kafkago.Writer used by Writer.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer publishes match records to a Kafka topic, one message per record.
// It implements pipeline.Publisher.
type Writer struct {
	writer  messageWriter
	circuit *gobreaker.CircuitBreaker
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	return newWriter(w, logger, metrics)
}

func newWriter(w messageWriter, logger *slog.Logger, metrics *observability.Metrics) *Writer {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "kafka-sink",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return &Writer{writer: w, circuit: cb, logger: logger, metrics: metrics}
}

// Publish serializes every record of c and writes them in a single
// WriteMessages call.
func (w *Writer) Publish(ctx context.Context, c *domain.Collocation) error {
	if c == nil || c.Len() == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, c.Len())
	for i := range c.Records {
		msg, err := serializeToMessage(c, c.Records[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}

	_, err := w.circuit.Execute(func() (any, error) {
		return nil, w.writer.WriteMessages(ctx, msgs...)
	})
	if err != nil {
		w.metrics.PublishErrors.Inc()
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: %v", ErrSinkUnavailable, err)
		}
		return fmt.Errorf("publish %d match records: %w", len(msgs), err)
	}
	w.metrics.RecordsPublished.Add(float64(len(msgs)))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// record is the wire form of a match record.
type record struct {
	Model    string `json:"model"`
	Platform string `json:"platform"`
	Variable string `json:"variable"`
	domain.MatchRecord
}

// MessageKey identifies a match record: model, platform and observation time.
func MessageKey(model, platform string, obsTime time.Time) string {
	return strings.Join([]string{model, platform, obsTime.UTC().Format(time.RFC3339Nano)}, "|")
}

// serializeToMessage marshals one MatchRecord into a Kafka message.
func serializeToMessage(c *domain.Collocation, r domain.MatchRecord) (kafkago.Message, error) {
	data, err := json.Marshal(record{
		Model:       c.Model,
		Platform:    c.Platform,
		Variable:    c.Variable,
		MatchRecord: r,
	})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize match record: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(MessageKey(c.Model, c.Platform, r.ObsTime)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "model", Value: []byte(c.Model)},
			{Key: "valid_time", Value: []byte(c.ValidTime.UTC().Format(time.RFC3339))},
		},
	}, nil
}
