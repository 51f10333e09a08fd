package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gocloud.dev/pubsub"
	_ "gocloud.dev/pubsub/mempubsub"
)

// DeadLetter describes a delivery that exhausted its attempts.
type DeadLetter struct {
	EntryID      uuid.UUID       `json:"entry_id"`
	EventName    string          `json:"event_name"`
	ConsumerName string          `json:"consumer"`
	Attempt      int             `json:"attempt"`
	Error        string          `json:"error"`
	Payload      json.RawMessage `json:"payload"`
	DeadAt       time.Time       `json:"dead_at"`
}

// PubSubDeadLetterPublisher forwards dead letters to a gocloud.dev pubsub topic so
// operators can alert on or archive them outside the database.
type PubSubDeadLetterPublisher struct {
	topic  *pubsub.Topic
	logger *slog.Logger
}

// NewPubSubDeadLetterPublisher wraps an already opened topic.
func NewPubSubDeadLetterPublisher(topic *pubsub.Topic, logger *slog.Logger) *PubSubDeadLetterPublisher {
	return &PubSubDeadLetterPublisher{topic: topic, logger: logger}
}

// OpenPubSubDeadLetterPublisher opens the topic at url (e.g. "mem://outbox-dead-letters").
func OpenPubSubDeadLetterPublisher(
	ctx context.Context,
	url string,
	logger *slog.Logger,
) (*PubSubDeadLetterPublisher, error) {
	topic, err := pubsub.OpenTopic(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open dead letter topic: %w", err)
	}
	return NewPubSubDeadLetterPublisher(topic, logger), nil
}

// Publish sends the dead letter as a JSON message.
func (p *PubSubDeadLetterPublisher) Publish(ctx context.Context, dl DeadLetter) error {
	body, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	msg := &pubsub.Message{
		Body: body,
		Metadata: map[string]string{
			"entry_id":   dl.EntryID.String(),
			"event_name": dl.EventName,
			"consumer":   dl.ConsumerName,
			"attempt":    strconv.Itoa(dl.Attempt),
		},
	}
	if err := p.topic.Send(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish dead letter: %w", err)
	}

	if p.logger != nil {
		p.logger.Debug("dead letter published",
			slog.String("entry_id", dl.EntryID.String()),
			slog.String("consumer", dl.ConsumerName),
		)
	}
	return nil
}

// Shutdown flushes and closes the topic.
func (p *PubSubDeadLetterPublisher) Shutdown(ctx context.Context) error {
	return p.topic.Shutdown(ctx)
}

// NoOpDeadLetterPublisher discards dead letters; the database row stays the record.
type NoOpDeadLetterPublisher struct{}

// NewNoOpDeadLetterPublisher creates a no-op publisher.
func NewNoOpDeadLetterPublisher() *NoOpDeadLetterPublisher {
	return &NoOpDeadLetterPublisher{}
}

// Publish does nothing.
func (n *NoOpDeadLetterPublisher) Publish(ctx context.Context, dl DeadLetter) error {
	return nil
}

// Shutdown does nothing.
func (n *NoOpDeadLetterPublisher) Shutdown(ctx context.Context) error {
	return nil
}
