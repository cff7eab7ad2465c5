package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists entries. Insert joins the caller's transaction;
// GetPending locks the rows it returns until that transaction ends.
type Repository interface {
	Insert(ctx context.Context, entry *Entry) error
	GetPending(ctx context.Context, limit int) ([]*Entry, error)
	MarkPublished(ctx context.Context, id uuid.UUID) error
	// MarkFailed spends one retry and parks the entry when none are left.
	MarkFailed(ctx context.Context, id uuid.UUID) error
	DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
