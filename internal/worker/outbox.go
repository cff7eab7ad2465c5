// Package worker holds the background loops run by cmd/worker: relaying
// ledger events to Redis streams, tracking stale attempts and pruning
// expired rows.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cassiomorais/payrecon/internal/domain/outbox"
	"github.com/cassiomorais/payrecon/internal/infrastructure/observability"
)

// OutboxStore is the pending side of the transactional outbox.
type OutboxStore interface {
	GetPending(ctx context.Context, limit int) ([]*outbox.Entry, error)
	MarkPublished(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID) error
}

// Publisher delivers entries downstream.
type Publisher interface {
	Publish(ctx context.Context, entry *outbox.Entry) error
	PublishToDLQ(ctx context.Context, entry *outbox.Entry, reason string) error
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// OutboxRelay publishes pending outbox entries. Rows are claimed with
// SKIP LOCKED inside one transaction, so several workers can relay at once.
type OutboxRelay struct {
	store     OutboxStore
	publisher Publisher
	tx        TransactionManager
	batchSize int
	interval  time.Duration
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewOutboxRelay(
	store OutboxStore,
	publisher Publisher,
	tx TransactionManager,
	batchSize int,
	interval time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *OutboxRelay {
	return &OutboxRelay{
		store:     store,
		publisher: publisher,
		tx:        tx,
		batchSize: batchSize,
		interval:  interval,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run relays a batch every interval until ctx is cancelled.
func (r *OutboxRelay) Run(ctx context.Context) error {
	return every(ctx, r.interval, "outbox", r.metrics, func(ctx context.Context) {
		if _, err := r.Drain(ctx); err != nil {
			r.logger.Error().Err(err).Msg("Outbox relay failed")
		}
	})
}

// Drain relays one batch and returns how many entries were published. An
// entry that fails is retried on a later pass; the pass that exhausts its
// retries parks it on the dead-letter stream.
func (r *OutboxRelay) Drain(ctx context.Context) (int, error) {
	published := 0
	err := r.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		entries, err := r.store.GetPending(txCtx, r.batchSize)
		if err != nil {
			return fmt.Errorf("get pending outbox entries: %w", err)
		}
		for _, entry := range entries {
			if err := r.publisher.Publish(ctx, entry); err != nil {
				r.fail(ctx, txCtx, entry, err)
				continue
			}
			if err := r.store.MarkPublished(txCtx, entry.ID); err != nil {
				return err
			}
			published++
			r.count(entry, "published")
		}
		return nil
	})
	return published, err
}

func (r *OutboxRelay) fail(ctx, txCtx context.Context, entry *outbox.Entry, cause error) {
	logger := r.logger.With().Str("outbox_id", entry.ID.String()).Str("event_type", entry.EventType).Logger()
	logger.Warn().Err(cause).Int("retry_count", entry.RetryCount).Msg("Failed to publish outbox entry")

	if entry.LastAttempt() {
		if err := r.publisher.PublishToDLQ(ctx, entry, cause.Error()); err != nil {
			logger.Error().Err(err).Msg("Failed to dead-letter outbox entry")
		}
		r.count(entry, "dead_lettered")
	} else {
		r.count(entry, "failed")
	}
	if err := r.store.MarkFailed(txCtx, entry.ID); err != nil {
		logger.Error().Err(err).Msg("Failed to record outbox failure")
	}
}

func (r *OutboxRelay) count(entry *outbox.Entry, status string) {
	if r.metrics != nil {
		r.metrics.OutboxPublishedTotal.WithLabelValues(entry.EventType, status).Inc()
	}
}

// every runs fn immediately and then on each tick, timing each pass.
func every(ctx context.Context, interval time.Duration, loop string, metrics *observability.Metrics, fn func(ctx context.Context)) error {
	if interval <= 0 {
		return fmt.Errorf("%s loop: interval must be positive", loop)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		start := time.Now()
		fn(ctx)
		if metrics != nil {
			metrics.WorkerLoopDuration.WithLabelValues(loop).Observe(time.Since(start).Seconds())
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
