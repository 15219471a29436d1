package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"

	"order-payments/internal/domain"
	"order-payments/internal/domain/model"
	"order-payments/internal/domain/money"
	"order-payments/internal/domain/ports/adapter"
	"order-payments/internal/infra/metrics"
)

var _ adapter.PaymentGateway = (*StripeGateway)(nil)

// StripeGateway implements adapter.PaymentGateway on the Stripe API. Every
// mutating call carries the caller's idempotency key.
type StripeGateway struct {
	sc            *client.API
	webhookSecret string
	tolerance     time.Duration
	log           *zerolog.Logger
}

func NewStripeGateway(secretKey, webhookSecret string, tolerance time.Duration, logger *zerolog.Logger) (*StripeGateway, error) {
	if secretKey == "" {
		return nil, errors.New("stripe secret key empty")
	}
	return newStripeGateway(client.New(secretKey, nil), webhookSecret, tolerance, logger), nil
}

func newStripeGateway(sc *client.API, webhookSecret string, tolerance time.Duration, logger *zerolog.Logger) *StripeGateway {
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	l := logger.With().Str("component", "stripe_gateway").Logger()
	return &StripeGateway{sc: sc, webhookSecret: webhookSecret, tolerance: tolerance, log: &l}
}

func (g *StripeGateway) Name() string { return "stripe" }

func (g *StripeGateway) CreatePaymentLink(ctx context.Context, req adapter.LinkRequest) (res adapter.LinkResult, err error) {
	defer observe("create_link", time.Now(), &err)
	if err := money.ValidateMinor(req.Amount); err != nil {
		return res, err
	}

	pp := &stripe.PriceParams{
		Currency:   stripe.String(strings.ToLower(req.Currency)),
		UnitAmount: stripe.Int64(req.Amount),
		ProductData: &stripe.PriceProductDataParams{
			Name: stripe.String(firstNonEmpty(req.Description, "Order payment")),
		},
	}
	pp.Context = ctx
	if req.IdempotencyKey != "" {
		pp.SetIdempotencyKey(req.IdempotencyKey + "-price")
	}
	price, err := g.sc.Prices.New(pp)
	if err != nil {
		return res, mapStripeError("create_price", err)
	}

	lp := &stripe.PaymentLinkParams{
		LineItems: []*stripe.PaymentLinkLineItemParams{
			{Price: stripe.String(price.ID), Quantity: stripe.Int64(1)},
		},
	}
	if req.ReturnURL != "" {
		lp.AfterCompletion = &stripe.PaymentLinkAfterCompletionParams{
			Type:     stripe.String(string(stripe.PaymentLinkAfterCompletionTypeRedirect)),
			Redirect: &stripe.PaymentLinkAfterCompletionRedirectParams{URL: stripe.String(req.ReturnURL)},
		}
	}
	for k, v := range req.Metadata {
		lp.AddMetadata(k, v)
	}
	lp.Context = ctx
	if req.IdempotencyKey != "" {
		lp.SetIdempotencyKey(req.IdempotencyKey)
	}
	link, err := g.sc.PaymentLinks.New(lp)
	if err != nil {
		return res, mapStripeError("create_link", err)
	}
	return adapter.LinkResult{LinkID: link.ID, URL: link.URL}, nil
}

func (g *StripeGateway) DeactivatePaymentLink(ctx context.Context, linkID string) (err error) {
	defer observe("deactivate_link", time.Now(), &err)
	p := &stripe.PaymentLinkParams{Active: stripe.Bool(false)}
	p.Context = ctx
	if _, err = g.sc.PaymentLinks.Update(linkID, p); err != nil {
		return mapStripeError("deactivate_link", err)
	}
	return nil
}

// RetrievePaymentLink reports the link as paid when any checkout session
// created from it has been paid.
func (g *StripeGateway) RetrievePaymentLink(ctx context.Context, linkID string) (st adapter.LinkState, err error) {
	defer observe("retrieve_link", time.Now(), &err)
	gp := &stripe.PaymentLinkParams{}
	gp.Context = ctx
	link, err := g.sc.PaymentLinks.Get(linkID, gp)
	if err != nil {
		return st, mapStripeError("retrieve_link", err)
	}
	st = adapter.LinkState{LinkID: link.ID, Active: link.Active}

	lp := &stripe.CheckoutSessionListParams{PaymentLink: stripe.String(linkID)}
	lp.Context = ctx
	lp.Limit = stripe.Int64(10)
	it := g.sc.CheckoutSessions.List(lp)
	for it.Next() {
		s := it.CheckoutSession()
		if s.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
			continue
		}
		st.Paid = true
		if s.PaymentIntent != nil {
			st.IntentID = s.PaymentIntent.ID
		}
		if s.Customer != nil {
			st.CustomerID = s.Customer.ID
		}
		break
	}
	if err = it.Err(); err != nil {
		return st, mapStripeError("list_sessions", err)
	}
	return st, nil
}

func (g *StripeGateway) CreateCustomer(ctx context.Context, req adapter.CustomerRequest) (id string, err error) {
	defer observe("create_customer", time.Now(), &err)
	p := &stripe.CustomerParams{}
	if req.Email != "" {
		p.Email = stripe.String(req.Email)
	}
	if req.Name != "" {
		p.Name = stripe.String(req.Name)
	}
	if req.CustomerRef != "" {
		p.AddMetadata("customer_ref", req.CustomerRef)
	}
	p.Context = ctx
	if req.IdempotencyKey != "" {
		p.SetIdempotencyKey(req.IdempotencyKey)
	}
	c, err := g.sc.Customers.New(p)
	if err != nil {
		return "", mapStripeError("create_customer", err)
	}
	return c.ID, nil
}

func (g *StripeGateway) CreatePaymentIntent(ctx context.Context, req adapter.IntentRequest) (in adapter.Intent, err error) {
	defer observe("create_intent", time.Now(), &err)
	if err := money.ValidateMinor(req.Amount); err != nil {
		return in, err
	}
	p := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.Amount),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		PaymentMethod: stripe.String(req.PaymentMethodID),
		Confirm:       stripe.Bool(true),
	}
	if req.CustomerID != "" {
		p.Customer = stripe.String(req.CustomerID)
	}
	if req.Description != "" {
		p.Description = stripe.String(req.Description)
	}
	if req.ReturnURL != "" {
		p.ReturnURL = stripe.String(req.ReturnURL)
	} else {
		// without a return url redirect-based methods cannot complete
		p.PaymentMethodTypes = stripe.StringSlice([]string{"card"})
	}
	if req.SavePaymentMethod {
		p.SetupFutureUsage = stripe.String(string(stripe.PaymentIntentSetupFutureUsageOffSession))
	}
	for k, v := range req.Metadata {
		p.AddMetadata(k, v)
	}
	p.AddExpand("latest_charge")
	p.Context = ctx
	if req.IdempotencyKey != "" {
		p.SetIdempotencyKey(req.IdempotencyKey)
	}
	pi, err := g.sc.PaymentIntents.New(p)
	if err != nil {
		return in, mapStripeError("create_intent", err)
	}
	return intentFrom(pi), nil
}

// AttachPaymentMethod attaches pmID to customerID. A method that already
// belongs to the customer is returned as is.
func (g *StripeGateway) AttachPaymentMethod(ctx context.Context, pmID, customerID string) (pm adapter.PaymentMethod, err error) {
	defer observe("attach_method", time.Now(), &err)
	gp := &stripe.PaymentMethodParams{}
	gp.Context = ctx
	cur, err := g.sc.PaymentMethods.Get(pmID, gp)
	if err != nil {
		return pm, mapStripeError("attach_method", err)
	}
	if cur.Customer != nil && cur.Customer.ID == customerID {
		return methodFrom(cur), nil
	}
	ap := &stripe.PaymentMethodAttachParams{Customer: stripe.String(customerID)}
	ap.Context = ctx
	out, err := g.sc.PaymentMethods.Attach(pmID, ap)
	if err != nil {
		return pm, mapStripeError("attach_method", err)
	}
	return methodFrom(out), nil
}

func (g *StripeGateway) CreateSetupIntent(ctx context.Context, customerID string) (si adapter.SetupIntent, err error) {
	defer observe("create_setup_intent", time.Now(), &err)
	p := &stripe.SetupIntentParams{
		Customer:           stripe.String(customerID),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
	}
	p.Context = ctx
	s, err := g.sc.SetupIntents.New(p)
	if err != nil {
		return si, mapStripeError("create_setup_intent", err)
	}
	return adapter.SetupIntent{ID: s.ID, ClientSecret: s.ClientSecret}, nil
}

func (g *StripeGateway) RetrieveIntent(ctx context.Context, intentID string) (in adapter.Intent, err error) {
	defer observe("retrieve_intent", time.Now(), &err)
	p := &stripe.PaymentIntentParams{}
	p.AddExpand("latest_charge")
	p.Context = ctx
	pi, err := g.sc.PaymentIntents.Get(intentID, p)
	if err != nil {
		return in, mapStripeError("retrieve_intent", err)
	}
	return intentFrom(pi), nil
}

func (g *StripeGateway) RetrieveCharge(ctx context.Context, chargeID string) (ch adapter.Charge, err error) {
	defer observe("retrieve_charge", time.Now(), &err)
	p := &stripe.ChargeParams{}
	p.Context = ctx
	c, err := g.sc.Charges.Get(chargeID, p)
	if err != nil {
		return ch, mapStripeError("retrieve_charge", err)
	}
	return chargeFrom(c), nil
}

func (g *StripeGateway) RetrievePaymentMethod(ctx context.Context, pmID string) (pm adapter.PaymentMethod, err error) {
	defer observe("retrieve_method", time.Now(), &err)
	p := &stripe.PaymentMethodParams{}
	p.Context = ctx
	m, err := g.sc.PaymentMethods.Get(pmID, p)
	if err != nil {
		return pm, mapStripeError("retrieve_method", err)
	}
	return methodFrom(m), nil
}

func (g *StripeGateway) ProcessRefund(ctx context.Context, req adapter.RefundRequest) (res adapter.RefundResult, err error) {
	defer observe("refund", time.Now(), &err)
	if req.Amount != nil {
		if err := money.ValidateMinor(*req.Amount); err != nil {
			return res, err
		}
	}
	p := &stripe.RefundParams{}
	switch {
	case req.ChargeID != "":
		p.Charge = stripe.String(req.ChargeID)
	case req.IntentID != "":
		p.PaymentIntent = stripe.String(req.IntentID)
	default:
		return res, domain.NewValidationError("payment", "no charge or intent to refund")
	}
	if req.Amount != nil {
		p.Amount = stripe.Int64(*req.Amount)
	}
	if req.Reason != "" {
		p.Reason = stripe.String(string(req.Reason))
	}
	for k, v := range req.Metadata {
		p.AddMetadata(k, v)
	}
	p.Context = ctx
	if req.IdempotencyKey != "" {
		p.SetIdempotencyKey(req.IdempotencyKey)
	}
	r, err := g.sc.Refunds.New(p)
	if err != nil {
		return res, mapStripeError("refund", err)
	}
	return adapter.RefundResult{
		ID:        r.ID,
		Status:    string(r.Status),
		Amount:    r.Amount,
		CreatedAt: time.Unix(r.Created, 0).UTC(),
	}, nil
}

func (g *StripeGateway) ParseWebhook(payload []byte, sigHeader string) (model.GatewayEvent, error) {
	if g.webhookSecret == "" {
		return model.GatewayEvent{}, fmt.Errorf("%w: webhook secret not configured", domain.ErrInvalidSignature)
	}
	return verifyAndDecode(payload, sigHeader, g.webhookSecret, g.tolerance)
}

func intentFrom(pi *stripe.PaymentIntent) adapter.Intent {
	in := adapter.Intent{
		ID:           pi.ID,
		Status:       string(pi.Status),
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
		ClientSecret: pi.ClientSecret,
		Metadata:     pi.Metadata,
	}
	if pi.Customer != nil {
		in.CustomerID = pi.Customer.ID
	}
	if pi.PaymentMethod != nil {
		in.PaymentMethodID = pi.PaymentMethod.ID
	}
	if pi.LatestCharge != nil {
		in.ChargeID = pi.LatestCharge.ID
	}
	if pi.LastPaymentError != nil {
		in.ErrorMessage = pi.LastPaymentError.Msg
	}
	return in
}

func chargeFrom(c *stripe.Charge) adapter.Charge {
	ch := adapter.Charge{
		ID:             c.ID,
		Amount:         c.Amount,
		AmountRefunded: c.AmountRefunded,
		Status:         string(c.Status),
	}
	if c.PaymentIntent != nil {
		ch.IntentID = c.PaymentIntent.ID
	}
	if c.PaymentMethodDetails != nil && c.PaymentMethodDetails.Card != nil {
		ch.CardBrand = string(c.PaymentMethodDetails.Card.Brand)
		ch.CardLast4 = c.PaymentMethodDetails.Card.Last4
	}
	return ch
}

func methodFrom(m *stripe.PaymentMethod) adapter.PaymentMethod {
	pm := adapter.PaymentMethod{ID: m.ID}
	if m.Customer != nil {
		pm.CustomerID = m.Customer.ID
	}
	if m.Card != nil {
		pm.CardBrand = string(m.Card.Brand)
		pm.CardLast4 = m.Card.Last4
	}
	return pm
}

func observe(op string, start time.Time, err *error) {
	metrics.ObserveGatewayCall(op, start, *err)
}

// mapStripeError keeps processor detail in Cause and exposes only a safe code.
func mapStripeError(op string, err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return domain.NewGatewayError(op, domain.GatewayCodeProcessingError, err)
	}
	switch {
	case se.Code == stripe.ErrorCodeResourceMissing:
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	case se.Code == stripe.ErrorCodeAuthenticationRequired:
		return domain.NewGatewayError(op, domain.GatewayCodeRequiresAction, err)
	case se.Type == stripe.ErrorTypeCard:
		return domain.NewGatewayError(op, domain.GatewayCodeCardDeclined, err)
	default:
		return domain.NewGatewayError(op, domain.GatewayCodeProcessingError, err)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
