package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/crop-climate-etl/internal/domain"
	"github.com/couchcryptid/crop-climate-etl/internal/observability"
	kafkago "github.com/segmentio/kafka-go"
)

const sink = "kafka"

// batchSize caps the messages handed to one WriteMessages call.
const batchSize = 500

// Writer publishes observations to a Kafka topic.
type Writer struct {
	writer  *kafkago.Writer
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewWriter creates a Kafka producer for topic.
func NewWriter(brokers []string, topic string, metrics *observability.Metrics, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Writer{writer: w, metrics: metrics, logger: logger}
}

// PublishObservations writes every observation keyed by station, date and
// datatype, so readings for one station land on one partition.
func (w *Writer) PublishObservations(ctx context.Context, runID string, obs []domain.Observation) error {
	for start := 0; start < len(obs); start += batchSize {
		end := min(start+batchSize, len(obs))
		msgs := make([]kafkago.Message, 0, end-start)
		for i := start; i < end; i++ {
			msg, err := serializeToMessage(runID, obs[i])
			if err != nil {
				return err
			}
			msgs = append(msgs, msg)
		}
		if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
			return fmt.Errorf("write messages: %w", err)
		}
		w.metrics.RecordsWritten.WithLabelValues(sink).Add(float64(len(msgs)))
	}
	w.logger.Info("observations published", "topic", w.writer.Topic, "count", len(obs), "run_id", runID)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals an Observation into a Kafka message.
func serializeToMessage(runID string, o domain.Observation) (kafkago.Message, error) {
	data, err := json.Marshal(o)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize observation: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(o.Key()),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "datatype", Value: []byte(o.DataType)},
			{Key: "run_id", Value: []byte(runID)},
			{Key: "fetched_at", Value: []byte(o.FetchedAt.Format(time.RFC3339))},
		},
	}, nil
}
