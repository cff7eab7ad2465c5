package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/payrecon/internal/domain/errors"
	"github.com/cassiomorais/payrecon/internal/domain/webhook"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ webhook.EventRepository = (*WebhookEventRepository)(nil)

// WebhookEventRepository implements webhook.EventRepository using PostgreSQL.
type WebhookEventRepository struct {
	pool *pgxpool.Pool
}

func NewWebhookEventRepository(pool *pgxpool.Pool) *WebhookEventRepository {
	return &WebhookEventRepository{pool: pool}
}

func (r *WebhookEventRepository) db(ctx context.Context) Querier {
	return ConnFromCtx(ctx, r.pool)
}

// RecordEvent inserts the event marker. A second insert of the same
// (gateway, event_id) yields ErrEventAlreadyProcessed.
func (r *WebhookEventRepository) RecordEvent(ctx context.Context, e *webhook.Event) error {
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now()
	}
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO webhook_events (gateway, event_id, event_type, user_id, received_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		string(e.Gateway), e.EventID, e.EventType, e.UserID, e.ReceivedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domainErrors.ErrEventAlreadyProcessed
		}
		return fmt.Errorf("record webhook event: %w", err)
	}
	return nil
}

func (r *WebhookEventRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db(ctx).Exec(ctx, `DELETE FROM webhook_events WHERE received_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete webhook events: %w", err)
	}
	return tag.RowsAffected(), nil
}
