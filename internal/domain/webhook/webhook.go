package webhook

import (
	"context"
	"time"

	"github.com/cassiomorais/payrecon/internal/domain/attempt"
)

// Event identifies one inbound gateway notification for dedup purposes.
type Event struct {
	Gateway    attempt.Gateway
	EventID    string
	EventType  string
	UserID     int64
	ReceivedAt time.Time
}

// EventRepository records processed webhook events. RecordEvent returns
// errors.ErrEventAlreadyProcessed when the (gateway, event id) pair exists.
type EventRepository interface {
	RecordEvent(ctx context.Context, e *Event) error

	// DeleteBefore removes records older than cutoff and returns the count.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// DeletionMarker deduplicates remote webhook deletions across requests and
// processes. MarkDeleted returns true only for the first caller.
type DeletionMarker interface {
	MarkDeleted(ctx context.Context, gw attempt.Gateway, webhookID string) (bool, error)
	Unmark(ctx context.Context, gw attempt.Gateway, webhookID string) error
}
