package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/cassiomorais/payrecon/internal/domain/outbox"
)

const (
	// AttemptStream carries ledger transitions for downstream consumers.
	AttemptStream = "payrecon:attempts:events"
	// DLQStream receives outbox entries that exhausted their retries.
	DLQStream = "payrecon:attempts:dlq"

	streamMaxLen = 100_000
)

// StreamProducer publishes outbox entries to Redis streams.
type StreamProducer struct {
	client redis.Cmdable
}

func NewStreamProducer(client redis.Cmdable) *StreamProducer {
	return &StreamProducer{client: client}
}

func entryValues(entry *outbox.Entry) (map[string]any, error) {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}
	return map[string]any{
		"event_id":       entry.ID.String(),
		"aggregate_type": entry.AggregateType,
		"aggregate_id":   entry.AggregateID,
		"key":            entry.Key(),
		"event_type":     entry.EventType,
		"payload":        string(payload),
		"created_at":     entry.CreatedAt.Unix(),
	}, nil
}

// Publish appends entry to the attempt stream.
func (p *StreamProducer) Publish(ctx context.Context, entry *outbox.Entry) error {
	values, err := entryValues(entry)
	if err != nil {
		return err
	}
	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: AttemptStream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", entry.EventType, err)
	}
	return nil
}

// PublishToDLQ parks an entry that could not be delivered.
func (p *StreamProducer) PublishToDLQ(ctx context.Context, entry *outbox.Entry, reason string) error {
	values, err := entryValues(entry)
	if err != nil {
		return err
	}
	values["reason"] = reason
	if err := p.client.XAdd(ctx, &redis.XAddArgs{Stream: DLQStream, Values: values}).Err(); err != nil {
		return fmt.Errorf("failed to publish to DLQ: %w", err)
	}
	return nil
}
