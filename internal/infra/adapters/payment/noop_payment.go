package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"order-payments/internal/domain"
	"order-payments/internal/domain/model"
	"order-payments/internal/domain/money"
	"order-payments/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*NoopPaymentGateway)(nil)

// Test payment methods understood by the noop gateway.
const (
	TestCardDeclined      = "pm_card_declined"
	TestCardAuthRequired  = "pm_card_authenticationRequired"
	noopDefaultCardBrand  = "visa"
	noopDefaultCardLast4  = "4242"
	noopCustomerIDPrefix  = "cus_noop_"
	noopLinkBaseURL       = "https://pay.example.test/"
	noopWebhookDefaultTol = 5 * time.Minute
)

type noopLink struct {
	id       string
	amount   int64
	currency string
	meta     map[string]string
	active   bool
	paid     bool
	intentID string
	customer string
}

type noopCharge struct {
	id       string
	intentID string
	amount   int64
	refunded int64
}

// idemEntry is the first response stored under an idempotency key. A reuse
// with different parameters is refused like the real processor does.
type idemEntry struct {
	params string
	result any
	err    error
}

// ErrIdempotencyMismatch is returned when a key is replayed with other parameters.
var ErrIdempotencyMismatch = errors.New("idempotency key reused with different parameters")

// replay returns the stored response for key. Caller holds mu.
func (g *NoopPaymentGateway) replay(op, key, params string) (any, bool, error) {
	if key == "" {
		return nil, false, nil
	}
	e, ok := g.idem[key]
	if !ok {
		return nil, false, nil
	}
	if e.params != params {
		return nil, true, domain.NewGatewayError(op, domain.GatewayCodeProcessingError, ErrIdempotencyMismatch)
	}
	return e.result, true, e.err
}

// remember stores the response for key. Caller holds mu.
func (g *NoopPaymentGateway) remember(key, params string, result any, err error) {
	if key != "" {
		g.idem[key] = idemEntry{params: params, result: result, err: err}
	}
}

// NoopPaymentGateway is an in-memory gateway for dev runs and tests. It signs
// and verifies webhooks the same way the real processor does.
type NoopPaymentGateway struct {
	mu      sync.Mutex
	seq     int64
	secret  string
	links   map[string]*noopLink
	intents map[string]*adapter.Intent
	charges map[string]*noopCharge
	methods map[string]*adapter.PaymentMethod
	idem    map[string]idemEntry
	now     func() time.Time
}

func NewNoopPaymentGateway(webhookSecret string) *NoopPaymentGateway {
	return &NoopPaymentGateway{
		secret:  webhookSecret,
		links:   make(map[string]*noopLink),
		intents: make(map[string]*adapter.Intent),
		charges: make(map[string]*noopCharge),
		methods: make(map[string]*adapter.PaymentMethod),
		idem:    make(map[string]idemEntry),
		now:     time.Now,
	}
}

func (g *NoopPaymentGateway) Name() string { return "noop" }

func (g *NoopPaymentGateway) next(prefix string) string {
	g.seq++
	return fmt.Sprintf("%s_noop_%d", prefix, g.seq)
}

func (g *NoopPaymentGateway) CreatePaymentLink(ctx context.Context, req adapter.LinkRequest) (adapter.LinkResult, error) {
	if err := money.ValidateMinor(req.Amount); err != nil {
		return adapter.LinkResult{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	params := fmt.Sprintf("%d|%s", req.Amount, strings.ToLower(req.Currency))
	if r, ok, err := g.replay("create_link", req.IdempotencyKey, params); ok {
		res, _ := r.(adapter.LinkResult)
		return res, err
	}
	l := &noopLink{
		id:       g.next("plink"),
		amount:   req.Amount,
		currency: strings.ToLower(req.Currency),
		meta:     copyMeta(req.Metadata),
		active:   true,
	}
	g.links[l.id] = l
	res := adapter.LinkResult{LinkID: l.id, URL: noopLinkBaseURL + l.id}
	g.remember(req.IdempotencyKey, params, res, nil)
	return res, nil
}

func (g *NoopPaymentGateway) DeactivatePaymentLink(ctx context.Context, linkID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.links[linkID]
	if !ok {
		return fmt.Errorf("deactivate_link: %w", domain.ErrNotFound)
	}
	l.active = false
	return nil
}

func (g *NoopPaymentGateway) RetrievePaymentLink(ctx context.Context, linkID string) (adapter.LinkState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.links[linkID]
	if !ok {
		return adapter.LinkState{}, fmt.Errorf("retrieve_link: %w", domain.ErrNotFound)
	}
	return adapter.LinkState{LinkID: l.id, Active: l.active, Paid: l.paid, IntentID: l.intentID, CustomerID: l.customer}, nil
}

// MarkLinkPaid simulates a completed checkout on the link and returns the
// signed checkout.session.completed webhook the processor would send.
func (g *NoopPaymentGateway) MarkLinkPaid(linkID string) (payload []byte, signature string, err error) {
	g.mu.Lock()
	l, ok := g.links[linkID]
	if !ok {
		g.mu.Unlock()
		return nil, "", fmt.Errorf("mark_link_paid: %w", domain.ErrNotFound)
	}
	if !l.paid {
		in := &adapter.Intent{
			ID:              g.next("pi"),
			Status:          adapter.IntentSucceeded,
			Amount:          l.amount,
			Currency:        l.currency,
			CustomerID:      g.next("cus"),
			PaymentMethodID: g.next("pm"),
			Metadata:        copyMeta(l.meta),
		}
		g.capture(in)
		l.paid = true
		l.active = false
		l.intentID = in.ID
		l.customer = in.CustomerID
	}
	session := map[string]any{
		"id":             g.next("cs"),
		"object":         "checkout.session",
		"payment_link":   l.id,
		"payment_intent": l.intentID,
		"customer":       l.customer,
		"payment_status": "paid",
		"amount_total":   l.amount,
		"currency":       l.currency,
		"metadata":       l.meta,
	}
	evID := g.next("evt")
	at := g.now()
	g.mu.Unlock()
	return g.signed(evID, "checkout.session.completed", session, at)
}

// RefundEvent returns the signed charge.refunded webhook for chargeID.
func (g *NoopPaymentGateway) RefundEvent(chargeID string, meta map[string]string) ([]byte, string, error) {
	g.mu.Lock()
	c, ok := g.charges[chargeID]
	if !ok {
		g.mu.Unlock()
		return nil, "", fmt.Errorf("refund_event: %w", domain.ErrNotFound)
	}
	obj := map[string]any{
		"id":              c.id,
		"object":          "charge",
		"payment_intent":  c.intentID,
		"amount":          c.amount,
		"amount_refunded": c.refunded,
		"metadata":        meta,
	}
	evID := g.next("evt")
	at := g.now()
	g.mu.Unlock()
	return g.signed(evID, "charge.refunded", obj, at)
}

func (g *NoopPaymentGateway) signed(id, typ string, obj any, at time.Time) ([]byte, string, error) {
	payload, err := BuildEvent(id, typ, obj, at)
	if err != nil {
		return nil, "", err
	}
	return payload, SignPayload(payload, g.secret, at), nil
}

func (g *NoopPaymentGateway) CreateCustomer(ctx context.Context, req adapter.CustomerRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	params := req.CustomerRef + "|" + req.Email
	if r, ok, err := g.replay("create_customer", req.IdempotencyKey, params); ok {
		id, _ := r.(string)
		return id, err
	}
	g.seq++
	id := fmt.Sprintf("%s%d", noopCustomerIDPrefix, g.seq)
	g.remember(req.IdempotencyKey, params, id, nil)
	return id, nil
}

func (g *NoopPaymentGateway) CreatePaymentIntent(ctx context.Context, req adapter.IntentRequest) (adapter.Intent, error) {
	if err := money.ValidateMinor(req.Amount); err != nil {
		return adapter.Intent{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	params := fmt.Sprintf("%d|%s|%s|%s", req.Amount, strings.ToLower(req.Currency), req.CustomerID, req.PaymentMethodID)
	if r, ok, err := g.replay("create_intent", req.IdempotencyKey, params); ok {
		in, _ := r.(adapter.Intent)
		return in, err
	}
	in := &adapter.Intent{
		ID:              g.next("pi"),
		Amount:          req.Amount,
		Currency:        strings.ToLower(req.Currency),
		CustomerID:      req.CustomerID,
		PaymentMethodID: req.PaymentMethodID,
		Metadata:        copyMeta(req.Metadata),
	}
	in.ClientSecret = in.ID + "_secret"
	switch req.PaymentMethodID {
	case TestCardDeclined:
		// the processor keeps the declined intent and answers the key with the decline
		in.Status = adapter.IntentRequiresPaymentMethod
		in.ErrorMessage = "your card was declined"
		g.intents[in.ID] = in
		err := domain.NewGatewayError("create_intent", domain.GatewayCodeCardDeclined, errors.New(in.ErrorMessage))
		g.remember(req.IdempotencyKey, params, adapter.Intent{}, err)
		return adapter.Intent{}, err
	case TestCardAuthRequired:
		in.Status = adapter.IntentRequiresAction
		g.intents[in.ID] = in
	default:
		g.capture(in)
	}
	if req.SavePaymentMethod && req.CustomerID != "" {
		g.methods[req.PaymentMethodID] = &adapter.PaymentMethod{
			ID: req.PaymentMethodID, CustomerID: req.CustomerID,
			CardBrand: noopDefaultCardBrand, CardLast4: noopDefaultCardLast4,
		}
	}
	g.remember(req.IdempotencyKey, params, *in, nil)
	return *in, nil
}

// capture marks in succeeded with a fresh charge. Caller holds mu.
func (g *NoopPaymentGateway) capture(in *adapter.Intent) {
	ch := &noopCharge{id: g.next("ch"), intentID: in.ID, amount: in.Amount}
	g.charges[ch.id] = ch
	in.Status = adapter.IntentSucceeded
	in.ChargeID = ch.id
	g.intents[in.ID] = in
}

func (g *NoopPaymentGateway) AttachPaymentMethod(ctx context.Context, pmID, customerID string) (adapter.PaymentMethod, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if pm, ok := g.methods[pmID]; ok && pm.CustomerID == customerID {
		return *pm, nil
	}
	pm := &adapter.PaymentMethod{ID: pmID, CustomerID: customerID, CardBrand: noopDefaultCardBrand, CardLast4: noopDefaultCardLast4}
	g.methods[pmID] = pm
	return *pm, nil
}

func (g *NoopPaymentGateway) CreateSetupIntent(ctx context.Context, customerID string) (adapter.SetupIntent, error) {
	if customerID == "" {
		return adapter.SetupIntent{}, domain.NewValidationError("customer_id", "required")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.next("seti")
	return adapter.SetupIntent{ID: id, ClientSecret: id + "_secret"}, nil
}

func (g *NoopPaymentGateway) RetrieveIntent(ctx context.Context, intentID string) (adapter.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	in, ok := g.intents[intentID]
	if !ok {
		return adapter.Intent{}, fmt.Errorf("retrieve_intent: %w", domain.ErrNotFound)
	}
	return *in, nil
}

func (g *NoopPaymentGateway) RetrieveCharge(ctx context.Context, chargeID string) (adapter.Charge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.charges[chargeID]
	if !ok {
		return adapter.Charge{}, fmt.Errorf("retrieve_charge: %w", domain.ErrNotFound)
	}
	return adapter.Charge{
		ID: c.id, IntentID: c.intentID, Amount: c.amount, AmountRefunded: c.refunded, Status: "succeeded",
		CardBrand: noopDefaultCardBrand, CardLast4: noopDefaultCardLast4,
	}, nil
}

func (g *NoopPaymentGateway) RetrievePaymentMethod(ctx context.Context, pmID string) (adapter.PaymentMethod, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if pm, ok := g.methods[pmID]; ok {
		return *pm, nil
	}
	return adapter.PaymentMethod{ID: pmID, CardBrand: noopDefaultCardBrand, CardLast4: noopDefaultCardLast4}, nil
}

func (g *NoopPaymentGateway) ProcessRefund(ctx context.Context, req adapter.RefundRequest) (adapter.RefundResult, error) {
	if req.Amount != nil {
		if err := money.ValidateMinor(*req.Amount); err != nil {
			return adapter.RefundResult{}, err
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	params := req.ChargeID + "|" + req.IntentID
	if req.Amount != nil {
		params += fmt.Sprintf("|%d", *req.Amount)
	}
	if r, ok, err := g.replay("refund", req.IdempotencyKey, params); ok {
		res, _ := r.(adapter.RefundResult)
		return res, err
	}
	chargeID := req.ChargeID
	if chargeID == "" {
		if in, ok := g.intents[req.IntentID]; ok {
			chargeID = in.ChargeID
		}
	}
	c, ok := g.charges[chargeID]
	if !ok {
		return adapter.RefundResult{}, fmt.Errorf("refund: %w", domain.ErrNotFound)
	}
	amount := c.amount - c.refunded
	if req.Amount != nil {
		amount = *req.Amount
	}
	if amount <= 0 || c.refunded+amount > c.amount {
		return adapter.RefundResult{}, domain.NewGatewayError("refund", domain.GatewayCodeProcessingError,
			fmt.Errorf("refund of %d exceeds remaining %d", amount, c.amount-c.refunded))
	}
	c.refunded += amount
	res := adapter.RefundResult{ID: g.next("re"), Status: "succeeded", Amount: amount, CreatedAt: g.now().UTC()}
	g.remember(req.IdempotencyKey, params, res, nil)
	return res, nil
}

func (g *NoopPaymentGateway) ParseWebhook(payload []byte, sigHeader string) (model.GatewayEvent, error) {
	return verifyAndDecode(payload, sigHeader, g.secret, noopWebhookDefaultTol)
}

func copyMeta(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
