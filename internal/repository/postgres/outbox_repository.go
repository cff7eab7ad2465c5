package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cassiomorais/payrecon/internal/domain/outbox"
)

var _ outbox.Repository = (*OutboxRepository)(nil)

const outboxColumns = `id, aggregate_type, aggregate_id, event_type, payload, status, retry_count, max_retries, created_at, published_at`

// OutboxRepository holds attempt events until the relay publishes them.
type OutboxRepository struct {
	pool *pgxpool.Pool
}

func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{pool: pool}
}

func (r *OutboxRepository) db(ctx context.Context) Querier {
	return ConnFromCtx(ctx, r.pool)
}

func (r *OutboxRepository) Insert(ctx context.Context, entry *outbox.Entry) error {
	var payload []byte
	if entry.Payload != nil {
		b, err := json.Marshal(entry.Payload)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", entry.EventType, err)
		}
		payload = b
	}

	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO outbox (`+outboxColumns+`)
		 VALUES (@id, @aggregate_type, @aggregate_id, @event_type, @payload, @status, @retry_count, @max_retries, @created_at, NULL)`,
		pgx.NamedArgs{
			"id":             entry.ID,
			"aggregate_type": entry.AggregateType,
			"aggregate_id":   entry.AggregateID,
			"event_type":     entry.EventType,
			"payload":        payload,
			"status":         string(entry.Status),
			"retry_count":    entry.RetryCount,
			"max_retries":    entry.MaxRetries,
			"created_at":     entry.CreatedAt,
		},
	)
	if err != nil {
		return fmt.Errorf("insert %s for %s: %w", entry.EventType, entry.Key(), err)
	}
	return nil
}

// GetPending returns the oldest pending entries, skipping rows another
// relay already holds. Call it inside a transaction.
func (r *OutboxRepository) GetPending(ctx context.Context, limit int) ([]*outbox.Entry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db(ctx).Query(ctx,
		`SELECT `+outboxColumns+` FROM outbox
		 WHERE status = $1
		 ORDER BY created_at, id
		 LIMIT $2
		 FOR UPDATE SKIP LOCKED`,
		string(outbox.StatusPending), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending outbox: %w", err)
	}
	entries, err := pgx.CollectRows(rows, scanOutboxEntry)
	if err != nil {
		return nil, fmt.Errorf("collect pending outbox: %w", err)
	}
	return entries, nil
}

func scanOutboxEntry(row pgx.CollectableRow) (*outbox.Entry, error) {
	var (
		e       outbox.Entry
		payload []byte
		status  string
	)
	err := row.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.EventType, &payload,
		&status, &e.RetryCount, &e.MaxRetries, &e.CreatedAt, &e.PublishedAt)
	if err != nil {
		return nil, err
	}
	e.Status = outbox.Status(status)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			return nil, fmt.Errorf("decode payload of %s: %w", e.ID, err)
		}
	}
	return &e, nil
}

func (r *OutboxRepository) MarkPublished(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE outbox SET status = $1, published_at = $2 WHERE id = $3`,
		string(outbox.StatusPublished), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("mark outbox %s published: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark outbox %s published: no such entry", id)
	}
	return nil
}

// MarkFailed mirrors outbox.Entry.RecordFailure.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID) error {
	var status string
	err := r.db(ctx).QueryRow(ctx,
		`UPDATE outbox
		 SET retry_count = retry_count + 1,
		     status = CASE WHEN retry_count + 1 >= max_retries THEN $1 ELSE status END
		 WHERE id = $2
		 RETURNING status`,
		string(outbox.StatusFailed), id,
	).Scan(&status)
	if err != nil {
		return fmt.Errorf("mark outbox %s failed: %w", id, err)
	}
	return nil
}

func (r *OutboxRepository) DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db(ctx).Exec(ctx,
		`DELETE FROM outbox WHERE status = $1 AND published_at < $2`,
		string(outbox.StatusPublished), cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("purge published outbox: %w", err)
	}
	return tag.RowsAffected(), nil
}
