package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cassiomorais/payrecon/internal/domain/attempt"
	domainErrors "github.com/cassiomorais/payrecon/internal/domain/errors"
	"github.com/cassiomorais/payrecon/internal/domain/merchant"
	"github.com/cassiomorais/payrecon/internal/domain/outbox"
	"github.com/cassiomorais/payrecon/internal/domain/webhook"
)

// --- Ledger Mock ---

// MockLedger is an in-memory attempt.Ledger whose filters follow the
// Postgres queries. Any Func field overrides the in-memory behaviour.
type MockLedger struct {
	mu       sync.Mutex
	attempts map[int64]*attempt.PaymentAttempt
	nextID   int64

	CreateFunc       func(ctx context.Context, a *attempt.PaymentAttempt) error
	UpdateStatusFunc func(ctx context.Context, id int64, status attempt.Status, f attempt.Fields) (attempt.Status, bool, error)
	AnnotateFunc     func(ctx context.Context, id int64, f attempt.Fields) error
}

func NewMockLedger() *MockLedger {
	return &MockLedger{attempts: make(map[int64]*attempt.PaymentAttempt)}
}

// Seed stores a copy of a, assigning an ID when it has none.
func (m *MockLedger) Seed(a *attempt.PaymentAttempt) *attempt.PaymentAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insert(a)
}

func (m *MockLedger) insert(a *attempt.PaymentAttempt) *attempt.PaymentAttempt {
	if a.ID == 0 {
		m.nextID++
		a.ID = m.nextID
	} else if a.ID > m.nextID {
		m.nextID = a.ID
	}
	cp := *a
	m.attempts[a.ID] = &cp
	return a
}

// Get returns a copy of the stored row, or nil.
func (m *MockLedger) Get(id int64) *attempt.PaymentAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok {
		return nil
	}
	cp := *a
	return &cp
}

// All returns copies of every row ordered by ID.
func (m *MockLedger) All() []*attempt.PaymentAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*attempt.PaymentAttempt, 0, len(m.attempts))
	for _, a := range m.attempts {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MockLedger) Create(ctx context.Context, a *attempt.PaymentAttempt) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, a)
	}
	if err := a.ValidateSign(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insert(a)
	return nil
}

func (m *MockLedger) FindByID(_ context.Context, id int64) (*attempt.PaymentAttempt, error) {
	if a := m.Get(id); a != nil {
		return a, nil
	}
	return nil, domainErrors.ErrAttemptNotFound
}

func (m *MockLedger) latest(match func(a *attempt.PaymentAttempt) bool) (*attempt.PaymentAttempt, error) {
	for _, a := range reverse(m.All()) {
		if match(a) {
			return a, nil
		}
	}
	return nil, domainErrors.ErrAttemptNotFound
}

func (m *MockLedger) FindByTransaction(_ context.Context, q attempt.TransactionQuery) (*attempt.PaymentAttempt, error) {
	return m.latest(func(a *attempt.PaymentAttempt) bool {
		return a.TransactionID == q.TransactionID &&
			(q.UserID == 0 || a.UserID == q.UserID) &&
			hasStatus(a.Status, q.Statuses) &&
			(q.Operation == "" || a.Operation == q.Operation) &&
			(q.GatewayLabel == "" || a.Gateway == q.GatewayLabel)
	})
}

func (m *MockLedger) FindByReference(_ context.Context, userID int64, reference string) (*attempt.PaymentAttempt, error) {
	return m.latest(func(a *attempt.PaymentAttempt) bool {
		return a.UserID == userID && (a.TransactionID == reference || a.RefundVoidTransactionID == reference)
	})
}

func (m *MockLedger) SumAmount(_ context.Context, transactionID string, op attempt.Operation, statuses ...attempt.Status) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, a := range m.All() {
		if a.TransactionID == transactionID && (op == "" || a.Operation == op) && hasStatus(a.Status, statuses) {
			total = total.Add(a.Amount)
		}
	}
	return total, nil
}

func (m *MockLedger) FindPendingReversal(_ context.Context, q attempt.ReversalQuery) (*attempt.PaymentAttempt, error) {
	return m.latest(func(a *attempt.PaymentAttempt) bool {
		return a.UserID == q.UserID &&
			a.Amount.Equal(q.Amount) &&
			a.Status == attempt.StatusAttempt &&
			(q.ChargeID == "" || a.ChargeID == q.ChargeID) &&
			(q.TransactionID == "" || a.TransactionID == q.TransactionID) &&
			((q.Operation == "" && a.Operation.IsReversal()) || (q.Operation != "" && a.Operation == q.Operation))
	})
}

// UpdateStatus compares and writes under the ledger mutex, matching the row
// lock the Postgres statement takes.
func (m *MockLedger) UpdateStatus(ctx context.Context, id int64, status attempt.Status, f attempt.Fields) (attempt.Status, bool, error) {
	if m.UpdateStatusFunc != nil {
		return m.UpdateStatusFunc(ctx, id, status, f)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok {
		return 0, false, domainErrors.ErrAttemptNotFound
	}
	previous := a.Status
	if !previous.CanApply(status) {
		return previous, false, nil
	}
	if status == attempt.StatusVoid {
		for _, other := range m.attempts {
			if other.ID != id && other.Status == attempt.StatusVoid && other.TransactionID == a.TransactionID {
				return previous, false, nil
			}
		}
	}
	next := *a
	next.Status = status
	next.Apply(f)
	if err := next.ValidateSign(); err != nil {
		return previous, false, err
	}
	*a = next
	return previous, true, nil
}

func (m *MockLedger) Annotate(ctx context.Context, id int64, f attempt.Fields) error {
	if m.AnnotateFunc != nil {
		return m.AnnotateFunc(ctx, id, f)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok {
		return domainErrors.ErrAttemptNotFound
	}
	a.Apply(f)
	return nil
}

func (m *MockLedger) CountStale(_ context.Context, cutoff time.Time) (int64, error) {
	var n int64
	for _, a := range m.All() {
		if a.Status == attempt.StatusAttempt && a.CreatedAt.Before(cutoff) {
			n++
		}
	}
	return n, nil
}

func hasStatus(s attempt.Status, statuses []attempt.Status) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, want := range statuses {
		if s == want {
			return true
		}
	}
	return false
}

func reverse(in []*attempt.PaymentAttempt) []*attempt.PaymentAttempt {
	for i, j := 0, len(in)-1; i < j; i, j = i+1, j-1 {
		in[i], in[j] = in[j], in[i]
	}
	return in
}

// --- Merchant Repository Mock ---

// MockMerchantRepository is an in-memory merchant.Repository.
type MockMerchantRepository struct {
	mu      sync.Mutex
	configs []*merchant.GatewayConfig

	FindActiveFunc     func(ctx context.Context, userID int64) (*merchant.GatewayConfig, error)
	PutCredentialsFunc func(ctx context.Context, configID int64, values map[string]string) error
}

func NewMockMerchantRepository(configs ...*merchant.GatewayConfig) *MockMerchantRepository {
	return &MockMerchantRepository{configs: configs}
}

func (m *MockMerchantRepository) Add(cfg *merchant.GatewayConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs = append(m.configs, cfg)
}

// Config returns the stored config by ID.
func (m *MockMerchantRepository) Config(id int64) *merchant.GatewayConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.configs {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (m *MockMerchantRepository) find(match func(c *merchant.GatewayConfig) bool) (*merchant.GatewayConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *merchant.GatewayConfig
	for _, c := range m.configs {
		if match(c) && (best == nil || c.ID > best.ID) {
			best = c
		}
	}
	if best == nil {
		return nil, domainErrors.ErrGatewayNotConfigured
	}
	cp := *best
	cp.Credentials = best.Credentials.Clone()
	return &cp, nil
}

func (m *MockMerchantRepository) FindActive(ctx context.Context, userID int64) (*merchant.GatewayConfig, error) {
	if m.FindActiveFunc != nil {
		return m.FindActiveFunc(ctx, userID)
	}
	return m.find(func(c *merchant.GatewayConfig) bool { return c.UserID == userID && c.Active })
}

func (m *MockMerchantRepository) FindActiveByGateway(_ context.Context, userID int64, gw attempt.Gateway) (*merchant.GatewayConfig, error) {
	return m.find(func(c *merchant.GatewayConfig) bool { return c.UserID == userID && c.Active && c.Gateway == gw })
}

func (m *MockMerchantRepository) FindLatestByGateway(_ context.Context, userID int64, gw attempt.Gateway) (*merchant.GatewayConfig, error) {
	return m.find(func(c *merchant.GatewayConfig) bool { return c.UserID == userID && c.Gateway == gw })
}

func (m *MockMerchantRepository) FindPrevious(_ context.Context, userID int64, gw attempt.Gateway, excludeID int64) (*merchant.GatewayConfig, error) {
	return m.find(func(c *merchant.GatewayConfig) bool {
		return c.UserID == userID && c.Gateway == gw && !c.Active && c.ID != excludeID && c.Credentials.Get(merchant.KeyWebhookID) != ""
	})
}

func (m *MockMerchantRepository) PutCredentials(ctx context.Context, configID int64, values map[string]string) error {
	if m.PutCredentialsFunc != nil {
		return m.PutCredentialsFunc(ctx, configID, values)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.configs {
		if c.ID == configID {
			if c.Credentials == nil {
				c.Credentials = merchant.Credentials{}
			}
			for k, v := range values {
				c.Credentials[k] = v
			}
			return nil
		}
	}
	return domainErrors.ErrGatewayNotConfigured
}

func (m *MockMerchantRepository) DeleteCredentials(_ context.Context, configID int64, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.configs {
		if c.ID == configID {
			for _, k := range keys {
				delete(c.Credentials, k)
			}
			return nil
		}
	}
	return domainErrors.ErrGatewayNotConfigured
}

// --- Webhook Event Repository Mock ---

// MockEventRepository records webhook events in memory and rejects duplicates.
type MockEventRepository struct {
	mu     sync.Mutex
	events map[string]*webhook.Event

	RecordEventFunc func(ctx context.Context, e *webhook.Event) error
}

func NewMockEventRepository() *MockEventRepository {
	return &MockEventRepository{events: make(map[string]*webhook.Event)}
}

func (m *MockEventRepository) RecordEvent(ctx context.Context, e *webhook.Event) error {
	if m.RecordEventFunc != nil {
		return m.RecordEventFunc(ctx, e)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := string(e.Gateway) + "|" + e.EventID
	if _, ok := m.events[key]; ok {
		return domainErrors.ErrEventAlreadyProcessed
	}
	m.events[key] = e
	return nil
}

// Forget drops a recorded event, emulating a rolled back transaction.
func (m *MockEventRepository) Forget(gw attempt.Gateway, eventID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.events, string(gw)+"|"+eventID)
}

func (m *MockEventRepository) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *MockEventRepository) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, e := range m.events {
		if e.ReceivedAt.Before(cutoff) {
			delete(m.events, k)
			n++
		}
	}
	return n, nil
}

// --- Deletion Marker Mock ---

// MockDeletionMarker is an in-memory webhook.DeletionMarker.
type MockDeletionMarker struct {
	mu     sync.Mutex
	marked map[string]bool

	MarkDeletedFunc func(ctx context.Context, gw attempt.Gateway, webhookID string) (bool, error)
}

func NewMockDeletionMarker() *MockDeletionMarker {
	return &MockDeletionMarker{marked: make(map[string]bool)}
}

func (m *MockDeletionMarker) MarkDeleted(ctx context.Context, gw attempt.Gateway, webhookID string) (bool, error) {
	if m.MarkDeletedFunc != nil {
		return m.MarkDeletedFunc(ctx, gw, webhookID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := string(gw) + "|" + webhookID
	if m.marked[key] {
		return false, nil
	}
	m.marked[key] = true
	return true, nil
}

func (m *MockDeletionMarker) Unmark(_ context.Context, gw attempt.Gateway, webhookID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.marked, string(gw)+"|"+webhookID)
	return nil
}

func (m *MockDeletionMarker) IsMarked(gw attempt.Gateway, webhookID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.marked[string(gw)+"|"+webhookID]
}

// --- Transaction Manager Mock ---

// MockTransactionManager is a mock implementation of TransactionManager.
type MockTransactionManager struct {
	WithTransactionFunc func(ctx context.Context, fn func(ctx context.Context) error) error
}

func NewMockTransactionManager() *MockTransactionManager {
	return &MockTransactionManager{}
}

func (m *MockTransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.WithTransactionFunc != nil {
		return m.WithTransactionFunc(ctx, fn)
	}
	return fn(ctx)
}

// --- Outbox Repository Mock ---

// MockOutboxRepository is a mock implementation of outbox.Repository that
// keeps inserted entries for assertions.
type MockOutboxRepository struct {
	mu      sync.Mutex
	Entries []*outbox.Entry

	InsertFunc        func(ctx context.Context, entry *outbox.Entry) error
	GetPendingFunc    func(ctx context.Context, limit int) ([]*outbox.Entry, error)
	MarkPublishedFunc func(ctx context.Context, id uuid.UUID) error
	MarkFailedFunc    func(ctx context.Context, id uuid.UUID) error
}

func (m *MockOutboxRepository) Insert(ctx context.Context, entry *outbox.Entry) error {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, entry)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Entries = append(m.Entries, entry)
	return nil
}

// EventTypes lists inserted event types in order.
func (m *MockOutboxRepository) EventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Entries))
	for i, e := range m.Entries {
		out[i] = e.EventType
	}
	return out
}

func (m *MockOutboxRepository) GetPending(ctx context.Context, limit int) ([]*outbox.Entry, error) {
	if m.GetPendingFunc != nil {
		return m.GetPendingFunc(ctx, limit)
	}
	return nil, nil
}

func (m *MockOutboxRepository) MarkPublished(ctx context.Context, id uuid.UUID) error {
	if m.MarkPublishedFunc != nil {
		return m.MarkPublishedFunc(ctx, id)
	}
	return nil
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID) error {
	if m.MarkFailedFunc != nil {
		return m.MarkFailedFunc(ctx, id)
	}
	return nil
}

func (m *MockOutboxRepository) DeletePublishedBefore(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}
