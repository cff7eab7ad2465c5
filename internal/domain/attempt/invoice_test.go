package attempt_test

import (
	"testing"

	"github.com/cassiomorais/payrecon/internal/domain/attempt"
	"github.com/cassiomorais/payrecon/internal/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvoice_RoundTrip(t *testing.T) {
	charge := &attempt.PaymentAttempt{ID: 345, UserID: 12, StoreID: 9, TempOrderNumber: "6789", Operation: attempt.OperationCharge}
	s := charge.Invoice().String()
	assert.Equal(t, "ATT-12-345-6789-9", s)

	inv, err := attempt.ParseInvoice(s)
	require.NoError(t, err)
	assert.Equal(t, int64(12), inv.UserID)
	assert.Equal(t, int64(345), inv.AttemptID)
	assert.Equal(t, "6789", inv.TempOrderNumber)
	assert.True(t, inv.HasStore)
	assert.Equal(t, int64(9), inv.StoreID)
}

func TestInvoice_ReversalOmitsStore(t *testing.T) {
	refund := &attempt.PaymentAttempt{ID: 346, UserID: 12, StoreID: 9, TempOrderNumber: "6789", Operation: attempt.OperationRefund}
	s := refund.Invoice().String()
	assert.Equal(t, "ATT-12-346-6789", s)

	inv, err := attempt.ParseInvoice(s)
	require.NoError(t, err)
	assert.False(t, inv.HasStore)
	assert.Equal(t, int64(346), inv.AttemptID)
}

func TestParseInvoice_Invalid(t *testing.T) {
	for _, s := range []string{"", "INV-1-2-3", "ATT-1-2", "ATT-x-2-3", "ATT-1-y-3", "ATT-1-2-3-z", "ATT-1-2-3-4-5"} {
		_, err := attempt.ParseInvoice(s)
		assert.ErrorIs(t, err, errors.ErrInvalidInvoice, s)
	}
}

func TestInvoice_Fit(t *testing.T) {
	tests := []struct {
		name string
		inv  attempt.Invoice
		want string
	}{
		{
			name: "fits unchanged",
			inv:  attempt.Invoice{UserID: 12, AttemptID: 345, TempOrderNumber: "6789", StoreID: 9, HasStore: true},
			want: "ATT-12-345-6789-9",
		},
		{
			name: "drops store id",
			inv:  attempt.Invoice{UserID: 12, AttemptID: 345, TempOrderNumber: "67890", StoreID: 4321, HasStore: true},
			want: "ATT-12-345-67890",
		},
		{
			name: "cuts temp order number",
			inv:  attempt.Invoice{UserID: 1234, AttemptID: 987654, TempOrderNumber: "ABCDEFGHIJKLMNOPQRST", StoreID: 9, HasStore: true},
			want: "ATT-1234-987654-ABCD",
		},
		{
			name: "keeps ids when nothing else fits",
			inv:  attempt.Invoice{UserID: 123456789, AttemptID: 123456789, TempOrderNumber: "T1"},
			want: "ATT-123456789-123456789-",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.inv.Fit(20)
			assert.Equal(t, tt.want, got)

			parsed, err := attempt.ParseInvoice(got)
			require.NoError(t, err)
			assert.Equal(t, tt.inv.UserID, parsed.UserID)
			assert.Equal(t, tt.inv.AttemptID, parsed.AttemptID)
		})
	}
}
