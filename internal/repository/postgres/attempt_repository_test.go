package postgres_test

import (
	"context"
	"errors"
	"os"
	"strconv"
	"sync"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cassiomorais/payrecon/internal/application/ledger"
	"github.com/cassiomorais/payrecon/internal/domain/attempt"
	"github.com/cassiomorais/payrecon/internal/domain/webhook"
	"github.com/cassiomorais/payrecon/internal/repository/postgres"
	"github.com/cassiomorais/payrecon/internal/testutil"
)

// testDatabaseURLEnv names a disposable Postgres database. The tests in this
// file truncate its tables.
const testDatabaseURLEnv = "PAYRECON_TEST_DATABASE_URL"

type store struct {
	pool     *pgxpool.Pool
	attempts *postgres.AttemptRepository
	events   *postgres.WebhookEventRepository
	tx       *postgres.TxManager
	ledger   *ledger.Transitioner
}

func newStore(t *testing.T) *store {
	t.Helper()
	url := os.Getenv(testDatabaseURLEnv)
	if url == "" {
		t.Skipf("%s not set", testDatabaseURLEnv)
	}

	m, err := migrate.New("file://migrations", url)
	require.NoError(t, err)
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		require.NoError(t, err)
	}
	srcErr, dbErr := m.Close()
	require.NoError(t, srcErr)
	require.NoError(t, dbErr)

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	_, err = pool.Exec(ctx, `TRUNCATE payment_attempts, outbox, webhook_events RESTART IDENTITY`)
	require.NoError(t, err)

	s := &store{
		pool:     pool,
		attempts: postgres.NewAttemptRepository(pool),
		events:   postgres.NewWebhookEventRepository(pool),
		tx:       postgres.NewTxManager(pool),
	}
	s.ledger = ledger.NewTransitioner(s.attempts, postgres.NewOutboxRepository(pool), s.tx, zerolog.Nop())
	return s
}

func (s *store) seed(t *testing.T, a *attempt.PaymentAttempt) *attempt.PaymentAttempt {
	t.Helper()
	require.NoError(t, s.attempts.Create(context.Background(), a))
	return a
}

func (s *store) outboxEvents(t *testing.T, id int64) []string {
	t.Helper()
	rows, err := s.pool.Query(context.Background(),
		`SELECT event_type FROM outbox WHERE aggregate_id = $1 ORDER BY created_at`, strconv.FormatInt(id, 10))
	require.NoError(t, err)
	defer rows.Close()
	var types []string
	for rows.Next() {
		var et string
		require.NoError(t, rows.Scan(&et))
		types = append(types, et)
	}
	require.NoError(t, rows.Err())
	return types
}

func pendingCharge(txID string) *attempt.PaymentAttempt {
	a := testutil.NewPaidCharge(txID, "", "25.00", "Stripe")
	a.Status = attempt.StatusAttempt
	return a
}

func TestAttemptRepository_ConcurrentDeliveriesApplyOnce(t *testing.T) {
	s := newStore(t)
	row := s.seed(t, pendingCharge("pi_1"))

	const deliveries = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		changed int
	)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.ledger.Transition(context.Background(), row.ID, attempt.StatusPaid, attempt.Fields{
				ChargeID:      "ch_1",
				HandleComment: "Payment successful",
			})
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				changed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, changed)
	assert.Equal(t, []string{"attempt.paid"}, s.outboxEvents(t, row.ID))

	got, err := s.attempts.FindByID(context.Background(), row.ID)
	require.NoError(t, err)
	assert.Equal(t, attempt.StatusPaid, got.Status)
	assert.Equal(t, "ch_1", got.ChargeID)
}

func TestAttemptRepository_LateFailureKeepsPaid(t *testing.T) {
	s := newStore(t)
	row := s.seed(t, pendingCharge("pi_1"))
	ctx := context.Background()

	changed, err := s.ledger.Transition(ctx, row.ID, attempt.StatusPaid, attempt.Fields{ChargeID: "ch_1"})
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = s.ledger.Transition(ctx, row.ID, attempt.StatusError, attempt.Fields{Comment: "Your card was declined."})
	require.NoError(t, err)
	assert.False(t, changed)

	got, err := s.attempts.FindByID(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, attempt.StatusPaid, got.Status)
	assert.Equal(t, []string{"attempt.paid"}, s.outboxEvents(t, row.ID))
}

func TestAttemptRepository_SecondVoidKeepsTransactionUsable(t *testing.T) {
	s := newStore(t)
	first := s.seed(t, testutil.NewReversalRow(attempt.OperationVoid, attempt.StatusAttempt, "60001", "AUTH01", "40", "AUTHORIZE.NET"))
	second := s.seed(t, testutil.NewReversalRow(attempt.OperationVoid, attempt.StatusAttempt, "60001", "AUTH01", "40", "AUTHORIZE.NET"))
	ctx := context.Background()

	changed, err := s.ledger.Transition(ctx, first.ID, attempt.StatusVoid, attempt.Fields{RefundVoidTransactionID: "60001"})
	require.NoError(t, err)
	require.True(t, changed)

	// The second void runs inside the webhook transaction that also records
	// the delivery. The skipped update must not abort that transaction.
	err = s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.events.RecordEvent(txCtx, &webhook.Event{
			Gateway:   attempt.GatewayAuthorizeNet,
			EventID:   "evt_void_2",
			EventType: "net.authorize.payment.void.created",
			UserID:    testutil.TestUserID,
		}); err != nil {
			return err
		}
		changed, err := s.ledger.Transition(txCtx, second.ID, attempt.StatusVoid, attempt.Fields{RefundVoidTransactionID: "60001"})
		if err != nil {
			return err
		}
		assert.False(t, changed)
		return nil
	})
	require.NoError(t, err)

	got, err := s.attempts.FindByID(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, attempt.StatusAttempt, got.Status)

	var recorded int
	require.NoError(t, s.pool.QueryRow(ctx, `SELECT count(*) FROM webhook_events WHERE event_id = 'evt_void_2'`).Scan(&recorded))
	assert.Equal(t, 1, recorded)
}

func TestAttemptRepository_ConcurrentVoidsSettleOne(t *testing.T) {
	s := newStore(t)
	rows := []*attempt.PaymentAttempt{
		s.seed(t, testutil.NewReversalRow(attempt.OperationVoid, attempt.StatusAttempt, "60002", "AUTH02", "40", "AUTHORIZE.NET")),
		s.seed(t, testutil.NewReversalRow(attempt.OperationVoid, attempt.StatusAttempt, "60002", "AUTH02", "40", "AUTHORIZE.NET")),
	}

	results := make([]bool, len(rows))
	var wg sync.WaitGroup
	for i, row := range rows {
		i, row := i, row
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.tx.WithTransaction(context.Background(), func(txCtx context.Context) error {
				changed, err := s.ledger.Transition(txCtx, row.ID, attempt.StatusVoid, attempt.Fields{RefundVoidTransactionID: "60002"})
				results[i] = changed
				return err
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.ElementsMatch(t, []bool{true, false}, results)
	var voids int
	require.NoError(t, s.pool.QueryRow(context.Background(),
		`SELECT count(*) FROM payment_attempts WHERE transaction_id = '60002' AND status = $1`, int16(attempt.StatusVoid)).Scan(&voids))
	assert.Equal(t, 1, voids)
}

func TestAttemptRepository_AnnotateAfterWebhookKeepsPaid(t *testing.T) {
	s := newStore(t)
	row := s.seed(t, pendingCharge(""))
	ctx := context.Background()

	changed, err := s.ledger.Transition(ctx, row.ID, attempt.StatusPaid, attempt.Fields{
		TransactionID: "60001",
		Comment:       "Payment captured with Transaction ID 60001",
	})
	require.NoError(t, err)
	require.True(t, changed)

	require.NoError(t, s.attempts.Annotate(ctx, row.ID, attempt.Fields{TransactionID: "60001", ChargeID: "AUTH01", CardLast4: "1111"}))

	got, err := s.attempts.FindByID(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, attempt.StatusPaid, got.Status)
	assert.Equal(t, "Payment captured with Transaction ID 60001", got.Comment)
	assert.Equal(t, "AUTH01", got.ChargeID)
	assert.Equal(t, "1111", got.CardLast4)
}
