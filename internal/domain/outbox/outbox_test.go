package outbox_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cassiomorais/payrecon/internal/domain/outbox"
)

func TestNewEntry(t *testing.T) {
	payload := map[string]any{"attempt_id": int64(42), "transaction_id": "pi_123", "status": "Paid"}

	e := outbox.NewEntry(outbox.AggregatePaymentAttempt, "42", "attempt.paid", payload)

	require.NotNil(t, e)
	assert.NotEqual(t, uuid.Nil, e.ID)
	assert.Equal(t, "payment_attempt:42", e.Key())
	assert.Equal(t, "attempt", e.Family())
	assert.Equal(t, payload, e.Payload)
	assert.Equal(t, outbox.StatusPending, e.Status)
	assert.Equal(t, outbox.DefaultMaxRetries, e.MaxRetries)
	assert.Equal(t, time.UTC, e.CreatedAt.Location())
	assert.Nil(t, e.PublishedAt)
}

func TestEntry_FamilyWithoutDot(t *testing.T) {
	e := outbox.NewEntry(outbox.AggregatePaymentAttempt, "1", "heartbeat", nil)
	assert.Equal(t, "heartbeat", e.Family())
}

func TestEntry_RecordFailureSpendsBudget(t *testing.T) {
	e := outbox.NewEntry(outbox.AggregatePaymentAttempt, "7", "attempt.error", nil)
	e.MaxRetries = 3

	var last []bool
	for e.Status == outbox.StatusPending {
		last = append(last, e.LastAttempt())
		e.RecordFailure()
	}

	assert.Equal(t, []bool{false, false, true}, last)
	assert.Equal(t, 3, e.RetryCount)
	assert.Equal(t, outbox.StatusFailed, e.Status)
}

func TestEntry_MarkPublished(t *testing.T) {
	e := outbox.NewEntry(outbox.AggregatePaymentAttempt, "9", "attempt.refund", nil)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	e.MarkPublished(at)

	assert.Equal(t, outbox.StatusPublished, e.Status)
	require.NotNil(t, e.PublishedAt)
	assert.Equal(t, at, *e.PublishedAt)
}

func TestNewEntry_UniqueIDsPerAggregate(t *testing.T) {
	a := outbox.NewEntry(outbox.AggregatePaymentAttempt, "9", "attempt.refund", nil)
	b := outbox.NewEntry(outbox.AggregatePaymentAttempt, "9", "attempt.refund", nil)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, a.Key(), b.Key())
}
