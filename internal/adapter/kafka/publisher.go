// Package kafka publishes download completion records to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/geosdi/radar-archiver/internal/config"
	"github.com/geosdi/radar-archiver/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Publisher produces one message per archived product.
// It implements pool.Recorder.
type Publisher struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewPublisher creates a Kafka producer for the configured completion topic.
func NewPublisher(cfg *config.Config, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Publisher{writer: w, logger: logger}
}

// Publish serializes and writes a single download record. The record key is
// the product identity, so compacted topics retain the latest record per
// product instance.
func (p *Publisher) Publish(ctx context.Context, rec domain.DownloadRecord) error {
	msg, err := serializeToMessage(rec)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, msg)
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// serializeToMessage marshals a DownloadRecord into a Kafka message keyed by
// "TYPE:epochms".
func serializeToMessage(rec domain.DownloadRecord) (kafkago.Message, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize download record: %w", err)
	}
	key := fmt.Sprintf("%s:%d", rec.ProductType, rec.ProductTime.UnixMilli())
	return kafkago.Message{
		Key:   []byte(key),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "product_type", Value: []byte(rec.ProductType)},
			{Key: "downloaded_at", Value: []byte(rec.DownloadedAt.Format(time.RFC3339))},
		},
	}, nil
}
