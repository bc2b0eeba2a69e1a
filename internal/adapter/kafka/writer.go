// Package kafka publishes enriched trips to a Kafka topic for downstream
// consumers.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/couchcryptid/taxi-trip-etl/internal/config"
	"github.com/couchcryptid/taxi-trip-etl/internal/domain"
	"github.com/couchcryptid/taxi-trip-etl/internal/observability"
	kafkago "github.com/segmentio/kafka-go"
)

// batchSize bounds the messages handed to one WriteMessages call.
const batchSize = 1000

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher produces one message per enriched trip.
type Publisher struct {
	writer  messageWriter
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewPublisher creates a Kafka producer for the configured topic.
func NewPublisher(cfg config.KafkaConfig, metrics *observability.Metrics, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Publisher{writer: w, metrics: metrics, logger: logger}
}

// Publish drains src and writes every trip, keyed by trip ID so a trip always
// lands on the same partition. It returns the number of messages written.
func (p *Publisher) Publish(ctx context.Context, src domain.TripSource, runID string, publishedAt time.Time) (int, error) {
	var total int
	for {
		trips, err := src.Next(batchSize)
		if len(trips) > 0 {
			if werr := p.writeBatch(ctx, trips, runID, publishedAt); werr != nil {
				return total, werr
			}
			total += len(trips)
			p.metrics.MessagesProduced.Add(float64(len(trips)))
			p.logger.Debug("batch published", "messages", len(trips), "total", total)
		}
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return total, fmt.Errorf("read trips: %w", err)
		}
	}
}

func (p *Publisher) writeBatch(ctx context.Context, trips []domain.EnrichedTrip, runID string, publishedAt time.Time) error {
	msgs := make([]kafkago.Message, len(trips))
	for i := range trips {
		msg, err := serializeToMessage(&trips[i], runID, publishedAt)
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write messages: %w", err)
	}
	return nil
}

// Close flushes and closes the producer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// serializeToMessage marshals an EnrichedTrip into a Kafka message.
func serializeToMessage(trip *domain.EnrichedTrip, runID string, publishedAt time.Time) (kafkago.Message, error) {
	data, err := json.Marshal(trip)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize trip %s: %w", trip.ID, err)
	}
	return kafkago.Message{
		Key:   []byte(trip.ID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "weather_condition", Value: []byte(trip.WeatherCondition)},
			{Key: "run_id", Value: []byte(runID)},
			{Key: "published_at", Value: []byte(publishedAt.Format(time.RFC3339))},
		},
	}, nil
}
