package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"order-payments/internal/domain"
	"order-payments/internal/domain/model"
	"order-payments/internal/domain/ports/adapter"
	"order-payments/internal/domain/ports/repository"
	"order-payments/internal/infra/logging"
	"order-payments/internal/infra/metrics"
)

// Compile-time check
var _ PaymentUseCase = (*paymentUC)(nil)

type PaymentUseCase interface {
	// CreatePaymentLink returns the order's active payment link, creating one
	// for the order total when none exists or the previous one expired.
	CreatePaymentLink(ctx context.Context, orderRef, returnURL string) (*model.Payment, error)
	// ChargeSalesOrder charges the order's balance due to a saved or new card.
	ChargeSalesOrder(ctx context.Context, orderRef string, req ChargeRequest) (*ChargeResult, error)
	// RefundPayment refunds amount, or the whole remainder when amount is nil.
	RefundPayment(ctx context.Context, paymentID string, amount *int64, reason adapter.RefundReason) (*model.Payment, error)
	CancelPaymentLink(ctx context.Context, paymentID string) (*model.Payment, error)
	// SyncPaymentLinkStatus pulls the gateway's view and reconciles it.
	SyncPaymentLinkStatus(ctx context.Context, paymentID string) (*model.Payment, error)
	GetPaymentByID(ctx context.Context, paymentID string) (*model.Payment, error)
	GetPaymentsByOrder(ctx context.Context, orderRef string) ([]*model.Payment, error)
	CreateSetupIntent(ctx context.Context, customerID string) (adapter.SetupIntent, error)
	RefundExcess(ctx context.Context, orderRef string, excess int64) error
}

// ChargeRequest describes a card charge. CustomerID is the gateway customer;
// one is created when it is empty and the card must be saved.
type ChargeRequest struct {
	PaymentMethodID string
	SaveCard        bool
	CustomerID      string
	CustomerRef     string
	Email           string
	ReturnURL       string
}

type ChargeResult struct {
	PaymentID      string
	Status         model.PaymentStatus
	IntentStatus   string
	ClientSecret   string
	RequiresAction bool
}

// PaymentSettings are the tunables of the lifecycle service.
type PaymentSettings struct {
	LinkTTL     time.Duration
	ReturnURL   string
	LockTTL     time.Duration
	SyncRetries int
	SyncBackoff time.Duration
}

type paymentUC struct {
	payments repository.PaymentRepository
	orders   repository.OrderRepository
	gateway  adapter.PaymentGateway
	tm       repository.TransactionManager
	locker   adapter.Locker
	effects  *effects
	cfg      PaymentSettings
	log      *zerolog.Logger
}

func NewPaymentUseCase(
	payments repository.PaymentRepository,
	orders repository.OrderRepository,
	gateway adapter.PaymentGateway,
	tm repository.TransactionManager,
	locker adapter.Locker,
	totals OrderTotalsUseCase,
	receipts ReceiptUseCase,
	events adapter.EventPublisher,
	cfg PaymentSettings,
	logger *zerolog.Logger,
) *paymentUC {
	if cfg.LinkTTL <= 0 {
		cfg.LinkTTL = 24 * time.Hour
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.SyncRetries <= 0 {
		cfg.SyncRetries = 3
	}
	if cfg.SyncBackoff <= 0 {
		cfg.SyncBackoff = 200 * time.Millisecond
	}
	log := logging.Component(logger, "PaymentUC")
	return &paymentUC{
		payments: payments,
		orders:   orders,
		gateway:  gateway,
		tm:       tm,
		locker:   locker,
		effects:  &effects{totals: totals, receipts: receipts, events: events, log: log},
		cfg:      cfg,
		log:      log,
	}
}

func paymentLockKey(id string) string { return "lock:payment:" + id }
func orderLockKey(ref string) string  { return "lock:order:" + ref }

func orderMetadata(orderRef, paymentID string) map[string]string {
	return map[string]string{model.MetaOrderRef: orderRef, model.MetaPaymentID: paymentID}
}

// withLock runs fn while holding key. A held lock returns domain.ErrLocked.
func (u *paymentUC) withLock(ctx context.Context, key string, fn func() error) error {
	token, err := u.locker.TryLock(ctx, key, u.cfg.LockTTL)
	if err != nil {
		return err
	}
	defer func() {
		if err := u.locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
			u.log.Warn().Err(err).Str("key", key).Msg("unlock failed")
		}
	}()
	return fn()
}

// -----------------------------
// Payment links
// -----------------------------

func (u *paymentUC) CreatePaymentLink(ctx context.Context, orderRef, returnURL string) (*model.Payment, error) {
	if orderRef == "" {
		return nil, domain.NewValidationError("order_ref", "is required")
	}
	ctx = logging.WithOrderRef(ctx, orderRef)
	log := logging.With(ctx, u.log)

	total, currency, err := u.orders.GetOrderTotal(ctx, repository.NoTX, orderRef)
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", orderRef, err)
	}
	if total <= 0 {
		return nil, domain.NewValidationError("amount", "order total must be greater than zero")
	}

	var result *model.Payment
	err = u.withLock(ctx, orderLockKey(orderRef), func() error {
		existing, err := u.payments.FindPendingLinkByOrder(ctx, repository.NoTX, orderRef)
		switch {
		case err == nil && existing.IsActiveLink(time.Now()):
			log.Debug().Str("payment_id", existing.ID).Msg("reusing active payment link")
			result = existing
			return nil
		case err == nil:
			paid, err := u.expireLink(ctx, existing)
			if err != nil {
				return err
			}
			if paid != nil {
				result = paid
				return nil
			}
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}

		p, err := u.newLink(ctx, orderRef, total, currency, returnURL)
		if err != nil {
			return err
		}
		result = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (u *paymentUC) newLink(ctx context.Context, orderRef string, total int64, currency, returnURL string) (*model.Payment, error) {
	if returnURL == "" {
		returnURL = u.cfg.ReturnURL
	}
	attempt, err := u.payments.CountByOrder(ctx, repository.NoTX, orderRef, model.PaymentMethodLink)
	if err != nil {
		return nil, err
	}
	p, err := model.NewPayment(uuid.NewString(), orderRef, "", total, currency, model.PaymentMethodLink)
	if err != nil {
		return nil, err
	}
	p.Metadata = orderMetadata(orderRef, p.ID)

	link, err := u.gateway.CreatePaymentLink(ctx, adapter.LinkRequest{
		Amount:         total,
		Currency:       currency,
		Description:    "Order " + orderRef,
		Metadata:       p.Metadata,
		ReturnURL:      returnURL,
		IdempotencyKey: idempotencyKey(orderRef, "payment_link", int64(attempt+1)),
	})
	if err != nil {
		return nil, err
	}

	expires := time.Now().Add(u.cfg.LinkTTL)
	p.Gateway.PaymentLinkID = link.LinkID
	p.PaymentURL = link.URL
	p.ExpiresAt = &expires

	if err := u.payments.Save(ctx, repository.NoTX, p); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			// another instance won the race for this order; keep theirs
			u.deactivate(ctx, link.LinkID)
			return u.payments.FindPendingLinkByOrder(ctx, repository.NoTX, orderRef)
		}
		return nil, err
	}
	metrics.IncPayment(string(model.PaymentStatusPending))
	logging.With(ctx, u.log).Info().Str("payment_id", p.ID).Int64("amount", total).Msg("payment link created")
	return p, nil
}

// expireLink retires a pending link past its expiry. The gateway is asked
// first so a link paid at the last moment is recorded as paid instead; that
// payment is returned.
func (u *paymentUC) expireLink(ctx context.Context, p *model.Payment) (*model.Payment, error) {
	state, err := u.linkState(ctx, p.Gateway.PaymentLinkID)
	if err == nil && state.Paid {
		cur, out, err := applyTransition(ctx, u.tm, u.payments, p.ID, linkPaidTransition(state))
		if err != nil && !errors.Is(err, domain.ErrReconciliationConflict) {
			return nil, err
		}
		u.effects.afterCommit(ctx, cur, out)
		return cur, nil
	}
	u.deactivate(ctx, p.Gateway.PaymentLinkID)
	cur, out, err := applyTransition(ctx, u.tm, u.payments, p.ID, model.Transition{
		To:           model.PaymentStatusCancelled,
		Source:       model.SourceCaller,
		ErrorMessage: domain.ErrPaymentLinkExpired.Error(),
	})
	if errors.Is(err, domain.ErrReconciliationConflict) && cur != nil && (cur.Status.IsRefundable() || cur.Status == model.PaymentStatusRefunded) {
		return cur, nil
	}
	if err != nil && !errors.Is(err, domain.ErrReconciliationConflict) {
		return nil, err
	}
	u.effects.afterCommit(ctx, cur, out)
	return nil, nil
}

// deactivate is best-effort; a failure leaves an orphaned but unusable link.
func (u *paymentUC) deactivate(ctx context.Context, linkID string) {
	if linkID == "" {
		return
	}
	if err := u.gateway.DeactivatePaymentLink(ctx, linkID); err != nil {
		logging.With(ctx, u.log).Warn().Err(err).Str("link_id", linkID).Msg("deactivate payment link failed")
	}
}

func (u *paymentUC) linkState(ctx context.Context, linkID string) (adapter.LinkState, error) {
	return retryRead(ctx, u.cfg.SyncRetries, u.cfg.SyncBackoff, func() (adapter.LinkState, error) {
		return u.gateway.RetrievePaymentLink(ctx, linkID)
	})
}

func linkPaidTransition(s adapter.LinkState) model.Transition {
	return model.Transition{
		To:         model.PaymentStatusSucceeded,
		Source:     model.SourceGateway,
		IntentID:   s.IntentID,
		CustomerID: s.CustomerID,
	}
}

func (u *paymentUC) CancelPaymentLink(ctx context.Context, paymentID string) (*model.Payment, error) {
	ctx = logging.WithPaymentID(ctx, paymentID)
	p, err := u.payments.FindByID(ctx, repository.NoTX, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Method != model.PaymentMethodLink {
		return nil, domain.NewValidationError("method", "only payment links can be cancelled")
	}
	if p.Status == model.PaymentStatusCancelled {
		return p, nil
	}
	if p.Status != model.PaymentStatusPending {
		return nil, domain.NewValidationError("status", fmt.Sprintf("cannot cancel a %s payment", p.Status))
	}

	state, err := u.linkState(ctx, p.Gateway.PaymentLinkID)
	if err != nil {
		return nil, err
	}
	if state.Paid {
		cur, out, err := applyTransition(ctx, u.tm, u.payments, p.ID, linkPaidTransition(state))
		if err != nil && !errors.Is(err, domain.ErrReconciliationConflict) {
			return nil, err
		}
		u.effects.afterCommit(ctx, cur, out)
		logging.With(ctx, u.log).Info().Msg("link was paid at the gateway; recorded success instead of cancelling")
		return cur, nil
	}
	if state.Active {
		u.deactivate(ctx, p.Gateway.PaymentLinkID)
	}

	cur, out, err := applyTransition(ctx, u.tm, u.payments, p.ID, model.Transition{
		To:     model.PaymentStatusCancelled,
		Source: model.SourceCaller,
	})
	if errors.Is(err, domain.ErrReconciliationConflict) {
		// a webhook settled it in the meantime
		return cur, nil
	}
	if err != nil {
		return nil, err
	}
	u.effects.afterCommit(ctx, cur, out)
	return cur, nil
}

// -----------------------------
// Card charges
// -----------------------------

func (u *paymentUC) ChargeSalesOrder(ctx context.Context, orderRef string, req ChargeRequest) (*ChargeResult, error) {
	if orderRef == "" {
		return nil, domain.NewValidationError("order_ref", "is required")
	}
	if req.PaymentMethodID == "" {
		return nil, domain.NewValidationError("payment_method_id", "is required")
	}
	ctx = logging.WithOrderRef(ctx, orderRef)

	method := model.PaymentMethodCard
	if req.CustomerID != "" && !req.SaveCard {
		method = model.PaymentMethodSavedCard
	}

	var result *ChargeResult
	err := u.withLock(ctx, orderLockKey(orderRef), func() error {
		total, currency, err := u.orders.GetOrderTotal(ctx, repository.NoTX, orderRef)
		if err != nil {
			return fmt.Errorf("load order %s: %w", orderRef, err)
		}
		list, err := u.payments.ListByOrder(ctx, repository.NoTX, orderRef)
		if err != nil {
			return err
		}
		due := model.ComputeTotals(orderRef, total, currency, list, model.OverpaymentFlag).BalanceDue
		if due <= 0 {
			return domain.NewValidationError("amount", "order has no balance due")
		}

		customerID := req.CustomerID
		if customerID == "" && (req.SaveCard || req.CustomerRef != "") {
			customerID, err = u.gateway.CreateCustomer(ctx, adapter.CustomerRequest{
				CustomerRef:    req.CustomerRef,
				Email:          req.Email,
				IdempotencyKey: idempotencyKey(orderRef+"|"+req.CustomerRef, "customer", 1),
			})
			if err != nil {
				return err
			}
		}

		var card adapter.PaymentMethod
		if req.SaveCard {
			card, err = u.gateway.AttachPaymentMethod(ctx, req.PaymentMethodID, customerID)
			if err != nil {
				return err
			}
		}

		// An earlier attempt with the same card whose outcome never came back is
		// resumed under its own id, so the processor replays it instead of
		// charging twice. Anything else is a new attempt with a new key.
		p := unconfirmedCharge(list, method, req.PaymentMethodID, due)
		if p == nil {
			if p, err = model.NewPayment(uuid.NewString(), orderRef, req.CustomerRef, due, currency, method); err != nil {
				return err
			}
			p.Metadata = orderMetadata(orderRef, p.ID)
			p.Gateway.CustomerID = customerID
			p.Gateway.PaymentMethodID = req.PaymentMethodID
			// stored before the processor sees the charge so its webhooks resolve by id
			if err := u.payments.Save(ctx, repository.NoTX, p); err != nil {
				return err
			}
			metrics.IncPayment(string(model.PaymentStatusPending))
		}
		ctx := logging.WithPaymentID(ctx, p.ID)
		log := logging.With(ctx, u.log)

		intent, err := u.gateway.CreatePaymentIntent(ctx, adapter.IntentRequest{
			Amount:            due,
			Currency:          currency,
			CustomerID:        customerID,
			PaymentMethodID:   req.PaymentMethodID,
			Description:       "Order " + orderRef,
			Metadata:          p.Metadata,
			SavePaymentMethod: req.SaveCard,
			ReturnURL:         firstNonEmpty(req.ReturnURL, u.cfg.ReturnURL),
			IdempotencyKey:    idempotencyKey(p.ID, "charge", 1),
		})
		// the caller may have given up; the row still has to reflect what happened
		wctx := context.WithoutCancel(ctx)
		if err != nil {
			if chargeRejected(err) {
				cur, out, terr := applyTransition(wctx, u.tm, u.payments, p.ID, model.Transition{
					To:           model.PaymentStatusFailed,
					Source:       model.SourceCaller,
					ErrorMessage: err.Error(),
				})
				if terr != nil && !errors.Is(terr, domain.ErrReconciliationConflict) {
					log.Error().Err(terr).Msg("could not mark rejected charge failed")
				} else {
					u.effects.afterCommit(wctx, cur, out)
				}
				log.Info().Err(err).Msg("charge rejected")
				return err
			}
			// outcome unknown: left pending for the webhook or the reconciler
			log.Warn().Err(err).Msg("charge outcome unknown; payment left pending")
			return err
		}

		t := model.Transition{
			Source:          model.SourceGateway,
			IntentID:        intent.ID,
			ChargeID:        intent.ChargeID,
			CustomerID:      firstNonEmpty(intent.CustomerID, customerID),
			PaymentMethodID: firstNonEmpty(intent.PaymentMethodID, req.PaymentMethodID),
			CardBrand:       card.CardBrand,
			CardLast4:       card.CardLast4,
		}
		cur, out, err := applyTransition(wctx, u.tm, u.payments, p.ID, t)
		if err != nil && !errors.Is(err, domain.ErrReconciliationConflict) {
			log.Error().Err(err).Str("intent_id", intent.ID).Msg("charge submitted but intent id not stored")
			return err
		}
		if cur != nil {
			p = cur
			u.effects.afterCommit(wctx, cur, out)
		}
		log.Info().
			Str("intent_status", intent.Status).
			Int64("amount", due).
			Msg("charge submitted")

		result = &ChargeResult{
			PaymentID:      p.ID,
			Status:         p.Status,
			IntentStatus:   intent.Status,
			ClientSecret:   intent.ClientSecret,
			RequiresAction: intent.Status == adapter.IntentRequiresAction,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// unconfirmedCharge finds a pending charge on the same card and amount that
// never got an intent id back from the processor.
func unconfirmedCharge(list []*model.Payment, method model.PaymentMethod, paymentMethodID string, amount int64) *model.Payment {
	for _, p := range list {
		if p.Method == method && p.Status == model.PaymentStatusPending && p.Gateway.PaymentIntentID == "" &&
			p.Gateway.PaymentMethodID == paymentMethodID && p.Amount == amount {
			return p
		}
	}
	return nil
}

// chargeRejected reports whether the processor definitely did not take the
// charge. Timeouts and processing errors leave the outcome unknown.
func chargeRejected(err error) bool {
	var ge *domain.GatewayError
	if errors.As(err, &ge) {
		return ge.Code == domain.GatewayCodeCardDeclined
	}
	return errors.Is(err, domain.ErrInvalidAmount) || errors.Is(err, domain.ErrInvalidArgument)
}

func (u *paymentUC) CreateSetupIntent(ctx context.Context, customerID string) (adapter.SetupIntent, error) {
	if customerID == "" {
		return adapter.SetupIntent{}, domain.NewValidationError("customer_id", "is required")
	}
	return u.gateway.CreateSetupIntent(ctx, customerID)
}

// -----------------------------
// Refunds
// -----------------------------

func (u *paymentUC) RefundPayment(ctx context.Context, paymentID string, amount *int64, reason adapter.RefundReason) (*model.Payment, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.RefundPayment")()
	if reason == "" {
		reason = adapter.RefundReasonRequestedByCustomer
	}
	if !reason.IsValid() {
		return nil, domain.NewValidationError("reason", "unsupported refund reason")
	}
	ctx = logging.WithPaymentID(ctx, paymentID)

	var (
		result *model.Payment
		out    model.Outcome
	)
	err := u.withLock(ctx, paymentLockKey(paymentID), func() error {
		p, err := u.payments.FindByID(ctx, repository.NoTX, paymentID)
		if err != nil {
			return err
		}
		ctx := logging.WithOrderRef(ctx, p.OrderRef)
		if !p.Status.IsRefundable() {
			metrics.IncRefund("rejected")
			return domain.NewValidationError("status", fmt.Sprintf("cannot refund a %s payment", p.Status))
		}
		remaining := p.Amount - p.RefundedAmount
		amt := remaining
		if amount != nil {
			if *amount <= 0 || *amount > remaining {
				metrics.IncRefund("rejected")
				return domain.NewValidationError("amount", fmt.Sprintf("must be between 1 and %d", remaining))
			}
			amt = *amount
		}

		res, err := u.gateway.ProcessRefund(ctx, adapter.RefundRequest{
			ChargeID:       p.Gateway.ChargeID,
			IntentID:       p.Gateway.PaymentIntentID,
			Amount:         &amt,
			Reason:         reason,
			Metadata:       orderMetadata(p.OrderRef, p.ID),
			IdempotencyKey: idempotencyKey(fmt.Sprintf("%s|%d", p.ID, amt), "refund", p.RefundedAmount),
		})
		if err == nil && res.Status == "failed" {
			err = domain.NewGatewayError("refund", domain.GatewayCodeProcessingError, errors.New("refund "+res.ID+" failed"))
		}
		if err != nil {
			metrics.IncRefund("failed")
			return err
		}

		total := p.RefundedAmount + amt
		cur, o, err := applyTransition(ctx, u.tm, u.payments, p.ID, model.Transition{
			Source:        model.SourceCaller,
			RefundedTotal: &total,
		})
		if err != nil {
			// the money moved; the charge.refunded webhook will land the same total
			logging.With(ctx, u.log).Error().Err(err).Str("refund_id", res.ID).Msg("refund succeeded at gateway but local write failed")
			return err
		}
		metrics.IncRefund("succeeded")
		logging.With(ctx, u.log).Info().Str("refund_id", res.ID).Int64("amount", amt).Str("status", string(cur.Status)).Msg("payment refunded")
		result, out = cur, o
		return nil
	})
	if err != nil {
		return nil, err
	}
	// outside the lock: a recompute may trigger further refunds
	u.effects.afterCommit(ctx, result, out)
	return result, nil
}

// RefundExcess refunds up to excess across the order's captured payments,
// newest first.
func (u *paymentUC) RefundExcess(ctx context.Context, orderRef string, excess int64) error {
	if excess <= 0 {
		return nil
	}
	list, err := u.payments.ListByOrder(ctx, repository.NoTX, orderRef)
	if err != nil {
		return err
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	for _, p := range list {
		if excess <= 0 {
			break
		}
		avail := p.Refundable()
		if avail <= 0 {
			continue
		}
		amt := avail
		if amt > excess {
			amt = excess
		}
		if _, err := u.RefundPayment(ctx, p.ID, &amt, adapter.RefundReasonDuplicate); err != nil {
			return fmt.Errorf("refund excess from %s: %w", p.ID, err)
		}
		excess -= amt
	}
	return nil
}

// -----------------------------
// Pull-based reconciliation
// -----------------------------

func (u *paymentUC) SyncPaymentLinkStatus(ctx context.Context, paymentID string) (*model.Payment, error) {
	ctx = logging.WithPaymentID(ctx, paymentID)
	p, err := u.payments.FindByID(ctx, repository.NoTX, paymentID)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithOrderRef(ctx, p.OrderRef)
	log := logging.With(ctx, u.log)

	t, err := u.observe(ctx, p)
	if err != nil {
		return nil, err
	}

	cur, out, err := applyTransition(ctx, u.tm, u.payments, p.ID, t)
	if errors.Is(err, domain.ErrReconciliationConflict) {
		log.Warn().Str("status", string(cur.Status)).Str("observed", string(t.To)).Msg("sync observed a regressing state; keeping local status")
		return cur, nil
	}
	if err != nil {
		return nil, err
	}
	u.effects.afterCommit(ctx, cur, out)
	return cur, nil
}

// observe builds a gateway-sourced transition from what the processor reports.
func (u *paymentUC) observe(ctx context.Context, p *model.Payment) (model.Transition, error) {
	t := model.Transition{Source: model.SourceGateway}
	intentID := p.Gateway.PaymentIntentID

	if p.Method == model.PaymentMethodLink && p.Gateway.PaymentLinkID != "" {
		state, err := u.linkState(ctx, p.Gateway.PaymentLinkID)
		if err != nil {
			return t, err
		}
		if state.Paid {
			t = linkPaidTransition(state)
			intentID = firstNonEmpty(intentID, state.IntentID)
		} else if p.Status == model.PaymentStatusPending {
			expired := p.ExpiresAt != nil && time.Now().After(*p.ExpiresAt)
			if expired && state.Active {
				u.deactivate(ctx, p.Gateway.PaymentLinkID)
			}
			if expired || !state.Active {
				t.To = model.PaymentStatusCancelled
				if expired {
					t.ErrorMessage = domain.ErrPaymentLinkExpired.Error()
				}
			}
		}
	}
	if intentID == "" {
		// a charge whose submission never came back; a late webhook can still
		// move it to succeeded
		if p.Method != model.PaymentMethodLink && p.Status == model.PaymentStatusPending && time.Since(p.CreatedAt) > u.cfg.LinkTTL {
			t.To = model.PaymentStatusFailed
			t.ErrorMessage = "charge was never confirmed by the gateway"
		}
		return t, nil
	}

	intent, err := retryRead(ctx, u.cfg.SyncRetries, u.cfg.SyncBackoff, func() (adapter.Intent, error) {
		return u.gateway.RetrieveIntent(ctx, intentID)
	})
	if err != nil {
		return t, err
	}
	t.IntentID = intent.ID
	t.ChargeID = intent.ChargeID
	t.CustomerID = firstNonEmpty(t.CustomerID, intent.CustomerID)
	t.PaymentMethodID = intent.PaymentMethodID
	if to := statusFromIntent(intent); to != "" {
		t.To = to
		t.ErrorMessage = intent.ErrorMessage
	}

	if intent.ChargeID != "" {
		ch, err := retryRead(ctx, u.cfg.SyncRetries, u.cfg.SyncBackoff, func() (adapter.Charge, error) {
			return u.gateway.RetrieveCharge(ctx, intent.ChargeID)
		})
		if err != nil {
			return t, err
		}
		t.CardBrand, t.CardLast4 = ch.CardBrand, ch.CardLast4
		if ch.AmountRefunded > 0 {
			refunded := ch.AmountRefunded
			t.RefundedTotal = &refunded
		}
	}
	return t, nil
}

// statusFromIntent maps a processor intent status onto ours. In-flight states
// (processing, requires_action) map to no change.
func statusFromIntent(in adapter.Intent) model.PaymentStatus {
	switch in.Status {
	case adapter.IntentSucceeded:
		return model.PaymentStatusSucceeded
	case adapter.IntentCanceled:
		return model.PaymentStatusCancelled
	case adapter.IntentRequiresPaymentMethod:
		if in.ErrorMessage != "" {
			return model.PaymentStatusFailed
		}
	}
	return ""
}

// -----------------------------
// Reads
// -----------------------------

func (u *paymentUC) GetPaymentByID(ctx context.Context, paymentID string) (*model.Payment, error) {
	return u.payments.FindByID(ctx, repository.NoTX, paymentID)
}

func (u *paymentUC) GetPaymentsByOrder(ctx context.Context, orderRef string) ([]*model.Payment, error) {
	return u.payments.ListByOrder(ctx, repository.NoTX, orderRef)
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v != "" {
			return v
		}
	}
	return ""
}
