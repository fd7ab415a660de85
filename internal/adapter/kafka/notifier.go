package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/radar-grid-etl/internal/config"
	"github.com/couchcryptid/radar-grid-etl/internal/domain"
)

// Notifier publishes one message per written artifact.
// It implements domain.ArtifactNotifier.
type Notifier struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewNotifier creates a Kafka producer for the configured notification topic.
func NewNotifier(cfg *config.Config, logger *slog.Logger) *Notifier {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		// Artifacts are published one at a time; don't wait to fill a batch.
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return &Notifier{writer: w, logger: logger}
}

// Publish sends ev keyed by its artifact path, so every event for one
// artifact lands on the same partition.
func (n *Notifier) Publish(ctx context.Context, ev domain.ArtifactEvent) error {
	msg, err := serializeToMessage(ev)
	if err != nil {
		return err
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish artifact event: %w", err)
	}
	n.logger.Debug("artifact event published", "artifact", ev.Artifact, "topic", n.writer.Topic)
	return nil
}

// Close flushes pending messages and closes the producer.
func (n *Notifier) Close() error {
	return n.writer.Close()
}

// serializeToMessage marshals an ArtifactEvent into a Kafka message.
func serializeToMessage(ev domain.ArtifactEvent) (kafkago.Message, error) {
	if ev.FallbackSweeps == nil {
		ev.FallbackSweeps = []int{}
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize artifact event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(ev.Artifact),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "run_id", Value: []byte(ev.RunID)},
			{Key: "produced_at", Value: []byte(ev.ProducedAt.Format(time.RFC3339))},
		},
	}, nil
}

var _ domain.ArtifactNotifier = (*Notifier)(nil)
