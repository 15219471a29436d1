//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"order-payments/internal/domain"
	"order-payments/internal/domain/model"
	"order-payments/internal/domain/ports/adapter"
	"order-payments/internal/domain/ports/repository"
	"order-payments/internal/infra/adapters/payment"
)

const testWebhookSecret = "whsec_usecase_test"

// =============================
// Adapters
// =============================

// ---- Mock PaymentGateway ----

// MockPaymentGateway runs on the in-memory noop gateway; the *Func fields
// override single calls and Calls counts what reached the gateway.
type MockPaymentGateway struct {
	*payment.NoopPaymentGateway

	CreatePaymentLinkFunc   func(ctx context.Context, req adapter.LinkRequest) (adapter.LinkResult, error)
	RetrievePaymentLinkFunc func(ctx context.Context, linkID string) (adapter.LinkState, error)
	CreatePaymentIntentFunc func(ctx context.Context, req adapter.IntentRequest) (adapter.Intent, error)
	RetrieveIntentFunc      func(ctx context.Context, intentID string) (adapter.Intent, error)
	ProcessRefundFunc       func(ctx context.Context, req adapter.RefundRequest) (adapter.RefundResult, error)

	mu    sync.Mutex
	Calls struct {
		CreateLink     int
		DeactivateLink int
		RetrieveLink   int
		CreateIntent   int
		RetrieveIntent int
		Refund         int
		Refunds        []adapter.RefundRequest
	}
}

var _ adapter.PaymentGateway = (*MockPaymentGateway)(nil)

func NewMockPaymentGateway() *MockPaymentGateway {
	return &MockPaymentGateway{NoopPaymentGateway: payment.NewNoopPaymentGateway(testWebhookSecret)}
}

func (g *MockPaymentGateway) count(f func()) {
	g.mu.Lock()
	f()
	g.mu.Unlock()
}

func (g *MockPaymentGateway) CreatePaymentLink(ctx context.Context, req adapter.LinkRequest) (adapter.LinkResult, error) {
	g.count(func() { g.Calls.CreateLink++ })
	if g.CreatePaymentLinkFunc != nil {
		return g.CreatePaymentLinkFunc(ctx, req)
	}
	return g.NoopPaymentGateway.CreatePaymentLink(ctx, req)
}

func (g *MockPaymentGateway) DeactivatePaymentLink(ctx context.Context, linkID string) error {
	g.count(func() { g.Calls.DeactivateLink++ })
	return g.NoopPaymentGateway.DeactivatePaymentLink(ctx, linkID)
}

func (g *MockPaymentGateway) RetrievePaymentLink(ctx context.Context, linkID string) (adapter.LinkState, error) {
	g.count(func() { g.Calls.RetrieveLink++ })
	if g.RetrievePaymentLinkFunc != nil {
		return g.RetrievePaymentLinkFunc(ctx, linkID)
	}
	return g.NoopPaymentGateway.RetrievePaymentLink(ctx, linkID)
}

func (g *MockPaymentGateway) CreatePaymentIntent(ctx context.Context, req adapter.IntentRequest) (adapter.Intent, error) {
	g.count(func() { g.Calls.CreateIntent++ })
	if g.CreatePaymentIntentFunc != nil {
		return g.CreatePaymentIntentFunc(ctx, req)
	}
	return g.NoopPaymentGateway.CreatePaymentIntent(ctx, req)
}

func (g *MockPaymentGateway) RetrieveIntent(ctx context.Context, intentID string) (adapter.Intent, error) {
	g.count(func() { g.Calls.RetrieveIntent++ })
	if g.RetrieveIntentFunc != nil {
		return g.RetrieveIntentFunc(ctx, intentID)
	}
	return g.NoopPaymentGateway.RetrieveIntent(ctx, intentID)
}

func (g *MockPaymentGateway) ProcessRefund(ctx context.Context, req adapter.RefundRequest) (adapter.RefundResult, error) {
	g.count(func() {
		g.Calls.Refund++
		g.Calls.Refunds = append(g.Calls.Refunds, req)
	})
	if g.ProcessRefundFunc != nil {
		return g.ProcessRefundFunc(ctx, req)
	}
	return g.NoopPaymentGateway.ProcessRefund(ctx, req)
}

// signedEvent builds a gateway event and signs it with the test secret.
func signedEvent(id, typ string, obj map[string]any) ([]byte, string) {
	at := time.Now()
	payload, err := payment.BuildEvent(id, typ, obj, at)
	if err != nil {
		panic(err)
	}
	return payload, payment.SignPayload(payload, testWebhookSecret, at)
}

// ---- Mock ReceiptNotifier ----

type MockNotifier struct {
	mu   sync.Mutex
	Sent []string // payment ids

	SendReceiptFunc func(ctx context.Context, p *model.Payment) error
}

var _ adapter.ReceiptNotifier = (*MockNotifier)(nil)

func (n *MockNotifier) SendReceipt(ctx context.Context, p *model.Payment) error {
	if n.SendReceiptFunc != nil {
		if err := n.SendReceiptFunc(ctx, p); err != nil {
			return err
		}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Sent = append(n.Sent, p.ID)
	return nil
}

func (n *MockNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.Sent)
}

// ---- Mock EventPublisher ----

type MockPublisher struct {
	mu       sync.Mutex
	Statuses []model.PaymentStatus
	Totals   []model.OrderTotals
}

var _ adapter.EventPublisher = (*MockPublisher)(nil)

func (m *MockPublisher) PublishPaymentStatus(ctx context.Context, p *model.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Statuses = append(m.Statuses, p.Status)
	return nil
}

func (m *MockPublisher) PublishOrderTotals(ctx context.Context, t model.OrderTotals) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Totals = append(m.Totals, t)
	return nil
}

func (m *MockPublisher) Close() error { return nil }

// =============================
// Repositories
// =============================

// txParticipant lets MockTxManager roll a repository back when fn fails.
type txParticipant interface {
	snapshot() any
	restore(any)
}

// ---- Mock PaymentRepository ----

// MockPaymentRepo enforces the same uniqueness and version rules as the
// Postgres repository.
type MockPaymentRepo struct {
	mu   sync.Mutex
	data map[string]*model.Payment

	SaveFunc     func(ctx context.Context, tx repository.Tx, p *model.Payment) error
	UpdateFunc   func(ctx context.Context, tx repository.Tx, p *model.Payment) error
	FindByIDFunc func(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error)
}

var _ repository.PaymentRepository = (*MockPaymentRepo)(nil)

func NewMockPaymentRepo() *MockPaymentRepo {
	return &MockPaymentRepo{data: map[string]*model.Payment{}}
}

func (r *MockPaymentRepo) snapshot() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make(map[string]*model.Payment, len(r.data))
	for k, v := range r.data {
		cp[k] = v.Clone()
	}
	return cp
}

func (r *MockPaymentRepo) restore(s any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = s.(map[string]*model.Payment)
}

func (r *MockPaymentRepo) Save(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	if r.SaveFunc != nil {
		return r.SaveFunc(ctx, tx, p)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[p.ID]; ok {
		return domain.ErrAlreadyExists
	}
	for _, o := range r.data {
		if p.Gateway.PaymentIntentID != "" && o.Gateway.PaymentIntentID == p.Gateway.PaymentIntentID {
			return domain.ErrAlreadyExists
		}
		if p.Gateway.PaymentLinkID != "" && o.Gateway.PaymentLinkID == p.Gateway.PaymentLinkID {
			return domain.ErrAlreadyExists
		}
		if isPendingLink(p) && isPendingLink(o) && o.OrderRef == p.OrderRef {
			return domain.ErrAlreadyExists
		}
	}
	p.Version = 1
	r.data[p.ID] = p.Clone()
	return nil
}

func isPendingLink(p *model.Payment) bool {
	return p.Method == model.PaymentMethodLink && p.Status == model.PaymentStatusPending
}

func (r *MockPaymentRepo) Update(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	if r.UpdateFunc != nil {
		return r.UpdateFunc(ctx, tx, p)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.data[p.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Version != p.Version {
		return domain.ErrConcurrentUpdate
	}
	p.Version++
	r.data[p.ID] = p.Clone()
	return nil
}

func (r *MockPaymentRepo) find(match func(p *model.Payment) bool) (*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.data {
		if match(p) {
			return p.Clone(), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockPaymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	if r.FindByIDFunc != nil {
		return r.FindByIDFunc(ctx, tx, id)
	}
	return r.find(func(p *model.Payment) bool { return p.ID == id })
}

func (r *MockPaymentRepo) FindByIntentID(ctx context.Context, tx repository.Tx, intentID string) (*model.Payment, error) {
	return r.find(func(p *model.Payment) bool { return p.Gateway.PaymentIntentID == intentID })
}

func (r *MockPaymentRepo) FindByLinkID(ctx context.Context, tx repository.Tx, linkID string) (*model.Payment, error) {
	return r.find(func(p *model.Payment) bool { return p.Gateway.PaymentLinkID == linkID })
}

func (r *MockPaymentRepo) FindByChargeID(ctx context.Context, tx repository.Tx, chargeID string) (*model.Payment, error) {
	return r.find(func(p *model.Payment) bool { return p.Gateway.ChargeID == chargeID })
}

func (r *MockPaymentRepo) FindPendingLinkByOrder(ctx context.Context, tx repository.Tx, orderRef string) (*model.Payment, error) {
	return r.find(func(p *model.Payment) bool { return isPendingLink(p) && p.OrderRef == orderRef })
}

func (r *MockPaymentRepo) list(match func(p *model.Payment) bool, limit int) []*model.Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*model.Payment{}
	for _, p := range r.data {
		if match(p) {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r *MockPaymentRepo) ListByOrder(ctx context.Context, tx repository.Tx, orderRef string) ([]*model.Payment, error) {
	return r.list(func(p *model.Payment) bool { return p.OrderRef == orderRef }, 0), nil
}

func (r *MockPaymentRepo) CountByOrder(ctx context.Context, tx repository.Tx, orderRef string, method model.PaymentMethod) (int, error) {
	return len(r.list(func(p *model.Payment) bool { return p.OrderRef == orderRef && p.Method == method }, 0)), nil
}

func (r *MockPaymentRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error) {
	return r.list(func(p *model.Payment) bool {
		return p.Status == model.PaymentStatusPending && p.CreatedAt.Before(olderThan)
	}, limit), nil
}

func (r *MockPaymentRepo) ListUnnotified(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error) {
	return r.list(func(p *model.Payment) bool {
		captured := p.Status == model.PaymentStatusSucceeded || p.Status == model.PaymentStatusPartiallyRefunded || p.Status == model.PaymentStatusRefunded
		return captured && p.ReceiptSentAt == nil && p.PaidAt != nil && p.PaidAt.Before(olderThan)
	}, limit), nil
}

func (r *MockPaymentRepo) ClaimReceipt(ctx context.Context, tx repository.Tx, id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if p.ReceiptSentAt != nil {
		return false, nil
	}
	p.ReceiptSentAt = &at
	return true, nil
}

func (r *MockPaymentRepo) ReleaseReceipt(ctx context.Context, tx repository.Tx, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.data[id]; ok {
		p.ReceiptSentAt = nil
	}
	return nil
}

// put stores p as is, bypassing the constraints.
func (r *MockPaymentRepo) put(p *model.Payment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.Version == 0 {
		p.Version = 1
	}
	r.data[p.ID] = p.Clone()
}

func (r *MockPaymentRepo) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.data, id)
}

func (r *MockPaymentRepo) get(id string) *model.Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.data[id]; ok {
		return p.Clone()
	}
	return nil
}

func (r *MockPaymentRepo) all() []*model.Payment {
	return r.list(func(*model.Payment) bool { return true }, 0)
}

// ---- Mock WebhookEventRepository ----

type MockWebhookEventRepo struct {
	mu   sync.Mutex
	data map[string]model.WebhookEventRecord
}

var _ repository.WebhookEventRepository = (*MockWebhookEventRepo)(nil)

func NewMockWebhookEventRepo() *MockWebhookEventRepo {
	return &MockWebhookEventRepo{data: map[string]model.WebhookEventRecord{}}
}

func (r *MockWebhookEventRepo) snapshot() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make(map[string]model.WebhookEventRecord, len(r.data))
	for k, v := range r.data {
		cp[k] = v
	}
	return cp
}

func (r *MockWebhookEventRepo) restore(s any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = s.(map[string]model.WebhookEventRecord)
}

func (r *MockWebhookEventRepo) Record(ctx context.Context, tx repository.Tx, rec *model.WebhookEventRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[rec.EventID]; ok {
		return domain.ErrAlreadyExists
	}
	rec.ID = uuid.NewString()
	r.data[rec.EventID] = *rec
	return nil
}

func (r *MockWebhookEventRepo) SetOutcome(ctx context.Context, tx repository.Tx, eventID string, outcome model.WebhookOutcome, paymentID *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.data[eventID]
	if !ok {
		return domain.ErrNotFound
	}
	rec.Outcome = outcome
	if paymentID != nil {
		rec.PaymentID = paymentID
	}
	r.data[eventID] = rec
	return nil
}

func (r *MockWebhookEventRepo) outcome(eventID string) (model.WebhookOutcome, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.data[eventID]
	return rec.Outcome, ok
}

// ---- Mock OrderRepository ----

type mockOrder struct {
	total    int64
	currency string
}

type MockOrderRepo struct {
	mu      sync.Mutex
	orders  map[string]mockOrder
	Applied map[string]model.OrderTotals
	Locks   int
}

var _ repository.OrderRepository = (*MockOrderRepo)(nil)

func NewMockOrderRepo() *MockOrderRepo {
	return &MockOrderRepo{orders: map[string]mockOrder{}, Applied: map[string]model.OrderTotals{}}
}

func (r *MockOrderRepo) addOrder(ref string, total int64, currency string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[ref] = mockOrder{total: total, currency: currency}
}

func (r *MockOrderRepo) GetOrderTotal(ctx context.Context, tx repository.Tx, orderRef string) (int64, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderRef]
	if !ok {
		return 0, "", domain.ErrNotFound
	}
	return o.total, o.currency, nil
}

func (r *MockOrderRepo) ApplyTotals(ctx context.Context, tx repository.Tx, totals model.OrderTotals) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[totals.OrderRef]; !ok {
		return domain.ErrNotFound
	}
	r.Applied[totals.OrderRef] = totals
	return nil
}

func (r *MockOrderRepo) LockOrder(ctx context.Context, tx repository.Tx, orderRef string) error {
	r.mu.Lock()
	r.Locks++
	r.mu.Unlock()
	return nil
}

func (r *MockOrderRepo) totals(ref string) model.OrderTotals {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Applied[ref]
}

// =============================
// Transactions and locks
// =============================

type MockTxManager struct {
	mu           sync.Mutex
	participants []txParticipant

	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

// NewMockTxManager rolls the given repositories back when fn fails. Calls
// are serialized, which is the isolation a row lock gives the real thing.
func NewMockTxManager(participants ...txParticipant) *MockTxManager {
	return &MockTxManager{participants: participants}
}

func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	snaps := make([]any, len(m.participants))
	for i, p := range m.participants {
		snaps[i] = p.snapshot()
	}
	if err := fn(ctx, repository.NoTX); err != nil {
		for i, p := range m.participants {
			p.restore(snaps[i])
		}
		return err
	}
	return nil
}

type MockLocker struct {
	mu    sync.Mutex
	held  map[string]string
	ErrOn map[string]error
}

var _ adapter.Locker = (*MockLocker)(nil)

func NewMockLocker() *MockLocker {
	return &MockLocker{held: map[string]string{}, ErrOn: map[string]error{}}
}

func (l *MockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err, bad := l.ErrOn[key]; bad {
		return "", err
	}
	if tok, ok := l.held[key]; ok && tok != "" {
		return "", domain.ErrLocked
	}
	tok := uuid.NewString()
	l.held[key] = tok
	return tok, nil
}

func (l *MockLocker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
		return nil
	}
	return errors.New("unlock token mismatch")
}

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}
