package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cassiomorais/payrecon/internal/domain/attempt"
)

// DeletionMarker records webhook registrations already removed at a gateway
// so concurrent or repeated activations do not delete them twice.
type DeletionMarker struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewDeletionMarker(client redis.Cmdable, ttl time.Duration) *DeletionMarker {
	return &DeletionMarker{client: client, ttl: ttl}
}

func deletionKey(gw attempt.Gateway, webhookID string) string {
	return fmt.Sprintf("payrecon:webhook:deleted:%s:%s", gw.Slug(), webhookID)
}

// MarkDeleted claims the deletion of webhookID. It reports false when another
// caller already claimed it.
func (m *DeletionMarker) MarkDeleted(ctx context.Context, gw attempt.Gateway, webhookID string) (bool, error) {
	ok, err := m.client.SetNX(ctx, deletionKey(gw, webhookID), time.Now().UTC().Format(time.RFC3339), m.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark webhook %s deleted: %w", webhookID, err)
	}
	return ok, nil
}

// Unmark releases a claim after the gateway delete failed.
func (m *DeletionMarker) Unmark(ctx context.Context, gw attempt.Gateway, webhookID string) error {
	if err := m.client.Del(ctx, deletionKey(gw, webhookID)).Err(); err != nil {
		return fmt.Errorf("failed to unmark webhook %s: %w", webhookID, err)
	}
	return nil
}
