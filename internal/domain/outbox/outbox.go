package outbox

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// AggregatePaymentAttempt tags events emitted by the attempt ledger.
const AggregatePaymentAttempt = "payment_attempt"

// DefaultMaxRetries is the delivery budget of a new entry.
const DefaultMaxRetries = 5

type Status string

const (
	StatusPending   Status = "pending"
	StatusPublished Status = "published"
	StatusFailed    Status = "failed"
)

// Entry is an attempt event written in the same transaction as the ledger
// row it describes. The worker relays it to the attempt stream.
type Entry struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       map[string]any
	Status        Status
	RetryCount    int
	MaxRetries    int
	CreatedAt     time.Time
	PublishedAt   *time.Time
}

func NewEntry(aggregateType, aggregateID, eventType string, payload map[string]any) *Entry {
	return &Entry{
		ID:            uuid.New(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       payload,
		Status:        StatusPending,
		MaxRetries:    DefaultMaxRetries,
		CreatedAt:     time.Now().UTC(),
	}
}

// Key identifies the aggregate, e.g. "payment_attempt:42".
func (e *Entry) Key() string {
	return e.AggregateType + ":" + e.AggregateID
}

// Family is the event type prefix, "attempt" for "attempt.paid".
func (e *Entry) Family() string {
	family, _, _ := strings.Cut(e.EventType, ".")
	return family
}

// LastAttempt reports whether a failure now exhausts the delivery budget.
func (e *Entry) LastAttempt() bool {
	return e.RetryCount+1 >= e.MaxRetries
}

// RecordFailure counts a failed delivery and parks the entry once the
// budget is spent. OutboxRepository.MarkFailed applies the same rule in SQL.
func (e *Entry) RecordFailure() {
	e.RetryCount++
	if e.RetryCount >= e.MaxRetries {
		e.Status = StatusFailed
	}
}

// MarkPublished records a successful delivery at t.
func (e *Entry) MarkPublished(t time.Time) {
	e.Status = StatusPublished
	e.PublishedAt = &t
}
