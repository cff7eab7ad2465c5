package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cassiomorais/payrecon/internal/domain/attempt"
	domainErrors "github.com/cassiomorais/payrecon/internal/domain/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const attemptColumns = `id, user_id, store_id, operation, amount::text, status,
	transaction_id, refund_void_transaction_id, charge_id, temp_order_number,
	gateway, comment, payment_handle_comment, card_last_4_digit, card_expire_date,
	member_email, member_name, created_at, updated_at`

var _ attempt.Ledger = (*AttemptRepository)(nil)

// AttemptRepository implements attempt.Ledger using PostgreSQL.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

func (r *AttemptRepository) db(ctx context.Context) Querier {
	return ConnFromCtx(ctx, r.pool)
}

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// Create inserts a new attempt and assigns its ID.
func (r *AttemptRepository) Create(ctx context.Context, a *attempt.PaymentAttempt) error {
	if err := a.ValidateSign(); err != nil {
		return fmt.Errorf("create attempt: %w", err)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.CreatedAt
	}

	err := r.db(ctx).QueryRow(ctx,
		`INSERT INTO payment_attempts
		 (user_id, store_id, operation, amount, status, transaction_id, refund_void_transaction_id,
		  charge_id, temp_order_number, gateway, comment, payment_handle_comment,
		  card_last_4_digit, card_expire_date, member_email, member_name, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		 RETURNING id`,
		a.UserID, a.StoreID, string(a.Operation), decimalToNumeric(a.Amount), int(a.Status),
		nullString(a.TransactionID), nullString(a.RefundVoidTransactionID), nullString(a.ChargeID),
		nullString(a.TempOrderNumber), a.Gateway, nullString(a.Comment), nullString(a.HandleComment),
		nullString(a.CardLast4), nullString(a.CardExpiry), nullString(a.MemberEmail), nullString(a.MemberName),
		a.CreatedAt, a.UpdatedAt,
	).Scan(&a.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23514" {
			return fmt.Errorf("insert attempt: %w", domainErrors.ErrSignInvariant)
		}
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

// FindByID retrieves an attempt by its ID.
func (r *AttemptRepository) FindByID(ctx context.Context, id int64) (*attempt.PaymentAttempt, error) {
	return r.scanAttempt(r.db(ctx).QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM payment_attempts WHERE id = $1`, id))
}

// FindByTransaction returns the latest attempt matching the query.
func (r *AttemptRepository) FindByTransaction(ctx context.Context, q attempt.TransactionQuery) (*attempt.PaymentAttempt, error) {
	where, args := transactionFilter(q)
	return r.scanAttempt(r.db(ctx).QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM payment_attempts WHERE `+where+` ORDER BY id DESC LIMIT 1`, args...))
}

// FindByReference matches either correlation id for a user.
func (r *AttemptRepository) FindByReference(ctx context.Context, userID int64, reference string) (*attempt.PaymentAttempt, error) {
	return r.scanAttempt(r.db(ctx).QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM payment_attempts
		 WHERE user_id = $1 AND (transaction_id = $2 OR refund_void_transaction_id = $2)
		 ORDER BY id DESC LIMIT 1`, userID, reference))
}

// SumAmount sums amounts for a transaction id.
func (r *AttemptRepository) SumAmount(ctx context.Context, transactionID string, op attempt.Operation, statuses ...attempt.Status) (decimal.Decimal, error) {
	conds := []string{"transaction_id = $1"}
	args := []any{transactionID}
	if op != "" {
		args = append(args, string(op))
		conds = append(conds, fmt.Sprintf("operation = $%d", len(args)))
	}
	if len(statuses) > 0 {
		args = append(args, statusInts(statuses))
		conds = append(conds, fmt.Sprintf("status = ANY($%d)", len(args)))
	}

	var total string
	err := r.db(ctx).QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)::text FROM payment_attempts WHERE `+strings.Join(conds, " AND "),
		args...,
	).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum attempt amounts: %w", err)
	}
	return numericToDecimal(total)
}

// FindPendingReversal returns the latest pending reversal matching the
// reference and the exact amount.
func (r *AttemptRepository) FindPendingReversal(ctx context.Context, q attempt.ReversalQuery) (*attempt.PaymentAttempt, error) {
	conds := []string{"user_id = $1", "amount = $2::numeric", "status = $3"}
	args := []any{q.UserID, decimalToNumeric(q.Amount), int(attempt.StatusAttempt)}
	if q.ChargeID != "" {
		args = append(args, q.ChargeID)
		conds = append(conds, fmt.Sprintf("charge_id = $%d", len(args)))
	}
	if q.TransactionID != "" {
		args = append(args, q.TransactionID)
		conds = append(conds, fmt.Sprintf("transaction_id = $%d", len(args)))
	}
	if q.Operation != "" {
		args = append(args, string(q.Operation))
		conds = append(conds, fmt.Sprintf("operation = $%d", len(args)))
	} else {
		conds = append(conds, "operation <> 'charge'")
	}

	return r.scanAttempt(r.db(ctx).QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM payment_attempts WHERE `+strings.Join(conds, " AND ")+` ORDER BY id DESC LIMIT 1`,
		args...))
}

// updateStatusSQL locks the row in prev, so a concurrent caller waits and
// then compares against the committed status. The final SELECT reports the
// status found under the lock and whether upd wrote the row.
const updateStatusSQL = `
WITH prev AS (
    SELECT id, status, transaction_id FROM payment_attempts WHERE id = $1 FOR UPDATE
), upd AS (
    UPDATE payment_attempts p SET
       status = $2,
       transaction_id = COALESCE($4, p.transaction_id),
       refund_void_transaction_id = COALESCE($5, p.refund_void_transaction_id),
       charge_id = COALESCE($6, p.charge_id),
       gateway = COALESCE($7, p.gateway),
       comment = COALESCE($8, p.comment),
       payment_handle_comment = COALESCE($9, p.payment_handle_comment),
       card_last_4_digit = COALESCE($10, p.card_last_4_digit),
       card_expire_date = COALESCE($11, p.card_expire_date),
       updated_at = NOW()
      FROM prev
     WHERE p.id = prev.id
       AND (prev.status = $3 OR prev.status = $2)
       AND NOT ($2 = $12 AND EXISTS (
           SELECT 1 FROM payment_attempts v
            WHERE v.transaction_id = prev.transaction_id AND v.status = $12 AND v.id <> prev.id))
    RETURNING p.id
)
SELECT prev.status, EXISTS (SELECT 1 FROM upd) FROM prev`

// UpdateStatus applies a status transition only while the row is pending or
// already in the target status. The statement runs in its own savepoint: a
// unique violation on the single-void index would otherwise abort the
// caller's transaction.
func (r *AttemptRepository) UpdateStatus(ctx context.Context, id int64, status attempt.Status, f attempt.Fields) (attempt.Status, bool, error) {
	var (
		previous int16
		applied  bool
	)
	err := pgx.BeginFunc(ctx, r.db(ctx), func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, updateStatusSQL,
			id, int16(status), int16(attempt.StatusAttempt),
			nullString(f.TransactionID), nullString(f.RefundVoidTransactionID), nullString(f.ChargeID),
			nullString(f.Gateway), nullString(f.Comment), nullString(f.HandleComment),
			nullString(f.CardLast4), nullString(f.CardExpiry),
			int16(attempt.StatusVoid),
		).Scan(&previous, &applied)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, domainErrors.ErrAttemptNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23514":
				return 0, false, fmt.Errorf("update attempt status: %w", domainErrors.ErrSignInvariant)
			case "23505":
				// A concurrent transaction committed the transaction's Void
				// first. Only a pending row can reach the index.
				return attempt.StatusAttempt, false, nil
			}
		}
		return 0, false, fmt.Errorf("update attempt status: %w", err)
	}
	return attempt.Status(previous), applied, nil
}

// Annotate sets correlation and narrative fields without changing status.
func (r *AttemptRepository) Annotate(ctx context.Context, id int64, f attempt.Fields) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE payment_attempts SET
		   transaction_id = COALESCE($2, transaction_id),
		   refund_void_transaction_id = COALESCE($3, refund_void_transaction_id),
		   charge_id = COALESCE($4, charge_id),
		   gateway = COALESCE($5, gateway),
		   comment = COALESCE($6, comment),
		   payment_handle_comment = COALESCE($7, payment_handle_comment),
		   card_last_4_digit = COALESCE($8, card_last_4_digit),
		   card_expire_date = COALESCE($9, card_expire_date),
		   updated_at = NOW()
		 WHERE id = $1`,
		id,
		nullString(f.TransactionID), nullString(f.RefundVoidTransactionID), nullString(f.ChargeID),
		nullString(f.Gateway), nullString(f.Comment), nullString(f.HandleComment),
		nullString(f.CardLast4), nullString(f.CardExpiry),
	)
	if err != nil {
		return fmt.Errorf("annotate attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrAttemptNotFound
	}
	return nil
}

// CountStale counts pending attempts created before cutoff.
func (r *AttemptRepository) CountStale(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := r.db(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM payment_attempts WHERE status = $1 AND created_at < $2`,
		int(attempt.StatusAttempt), cutoff,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count stale attempts: %w", err)
	}
	return n, nil
}

func transactionFilter(q attempt.TransactionQuery) (string, []any) {
	conds := []string{"transaction_id = $1"}
	args := []any{q.TransactionID}
	if q.UserID != 0 {
		args = append(args, q.UserID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if len(q.Statuses) > 0 {
		args = append(args, statusInts(q.Statuses))
		conds = append(conds, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if q.Operation != "" {
		args = append(args, string(q.Operation))
		conds = append(conds, fmt.Sprintf("operation = $%d", len(args)))
	}
	if q.GatewayLabel != "" {
		args = append(args, q.GatewayLabel)
		conds = append(conds, fmt.Sprintf("gateway = $%d", len(args)))
	}
	return strings.Join(conds, " AND "), args
}

func statusInts(statuses []attempt.Status) []int32 {
	out := make([]int32, len(statuses))
	for i, s := range statuses {
		out[i] = int32(s)
	}
	return out
}

func (r *AttemptRepository) scanAttempt(row scanner) (*attempt.PaymentAttempt, error) {
	a := &attempt.PaymentAttempt{}
	var (
		operation, amount                     string
		status                                int16
		txID, reversalID, chargeID, tempOrder *string
		comment, handle, last4, expiry        *string
		email, name                           *string
	)
	err := row.Scan(
		&a.ID, &a.UserID, &a.StoreID, &operation, &amount, &status,
		&txID, &reversalID, &chargeID, &tempOrder,
		&a.Gateway, &comment, &handle, &last4, &expiry,
		&email, &name, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrAttemptNotFound
		}
		return nil, fmt.Errorf("scan attempt: %w", err)
	}

	a.Amount, err = numericToDecimal(amount)
	if err != nil {
		return nil, err
	}
	a.Operation = attempt.Operation(operation)
	a.Status = attempt.Status(status)
	a.TransactionID = derefString(txID)
	a.RefundVoidTransactionID = derefString(reversalID)
	a.ChargeID = derefString(chargeID)
	a.TempOrderNumber = derefString(tempOrder)
	a.Comment = derefString(comment)
	a.HandleComment = derefString(handle)
	a.CardLast4 = derefString(last4)
	a.CardExpiry = derefString(expiry)
	a.MemberEmail = derefString(email)
	a.MemberName = derefString(name)
	return a, nil
}
