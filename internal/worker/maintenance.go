package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/cassiomorais/payrecon/internal/infrastructure/observability"
)

// StaleCounter counts attempts still pending confirmation since before cutoff.
type StaleCounter interface {
	CountStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// StaleMonitor publishes the number of attempts that never received a
// confirming webhook.
type StaleMonitor struct {
	counter  StaleCounter
	after    time.Duration
	interval time.Duration
	metrics  *observability.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

func NewStaleMonitor(counter StaleCounter, after, interval time.Duration, metrics *observability.Metrics, logger zerolog.Logger) *StaleMonitor {
	return &StaleMonitor{
		counter:  counter,
		after:    after,
		interval: interval,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

func (m *StaleMonitor) Run(ctx context.Context) error {
	return every(ctx, m.interval, "stale_attempts", m.metrics, func(ctx context.Context) {
		if _, err := m.Check(ctx); err != nil {
			m.logger.Error().Err(err).Msg("Failed to count stale attempts")
		}
	})
}

// Check counts stale attempts and updates the gauge.
func (m *StaleMonitor) Check(ctx context.Context) (int64, error) {
	n, err := m.counter.CountStale(ctx, m.now().Add(-m.after))
	if err != nil {
		return 0, err
	}
	if m.metrics != nil {
		m.metrics.StaleAttempts.Set(float64(n))
	}
	if n > 0 {
		m.logger.Warn().Int64("count", n).Dur("older_than", m.after).Msg("Attempts awaiting confirmation")
	}
	return n, nil
}

// Cleanup prunes one table. Delete receives the pass start time.
type Cleanup struct {
	Table  string
	Delete func(ctx context.Context, now time.Time) (int64, error)
}

// Janitor runs the cleanups on an interval. A failing cleanup does not stop
// the others.
type Janitor struct {
	tasks    []Cleanup
	interval time.Duration
	metrics  *observability.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

func NewJanitor(tasks []Cleanup, interval time.Duration, metrics *observability.Metrics, logger zerolog.Logger) *Janitor {
	return &Janitor{tasks: tasks, interval: interval, metrics: metrics, logger: logger, now: time.Now}
}

func (j *Janitor) Run(ctx context.Context) error {
	return every(ctx, j.interval, "cleanup", j.metrics, func(ctx context.Context) {
		j.Sweep(ctx)
	})
}

// Sweep runs every cleanup once and returns rows removed per table.
func (j *Janitor) Sweep(ctx context.Context) map[string]int64 {
	now := j.now()
	removed := make(map[string]int64, len(j.tasks))
	for _, task := range j.tasks {
		n, err := task.Delete(ctx, now)
		if err != nil {
			j.logger.Error().Err(err).Str("table", task.Table).Msg("Cleanup failed")
			continue
		}
		removed[task.Table] = n
		if j.metrics != nil {
			j.metrics.WorkerCleanupRowsTotal.WithLabelValues(task.Table).Add(float64(n))
		}
		if n > 0 {
			j.logger.Info().Int64("rows", n).Str("table", task.Table).Msg("Cleanup removed rows")
		}
	}
	return removed
}

// Retain adapts a delete-older-than query to a Cleanup keeping rows for
// retention.
func Retain(table string, retention time.Duration, deleteBefore func(ctx context.Context, cutoff time.Time) (int64, error)) Cleanup {
	return Cleanup{
		Table: table,
		Delete: func(ctx context.Context, now time.Time) (int64, error) {
			return deleteBefore(ctx, now.Add(-retention))
		},
	}
}
