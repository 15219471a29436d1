package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"order-payments/internal/domain"
	"order-payments/internal/domain/model"
	"order-payments/internal/domain/ports/adapter"
	"order-payments/internal/domain/ports/repository"
	"order-payments/internal/infra/logging"
	"order-payments/internal/infra/metrics"
)

// Compile-time check
var _ WebhookUseCase = (*webhookUC)(nil)

type WebhookUseCase interface {
	// HandleWebhook verifies and applies one gateway event. Any nil error means
	// the event is settled and the gateway should stop retrying it.
	HandleWebhook(ctx context.Context, payload []byte, signature string) (WebhookResult, error)
}

type WebhookResult struct {
	EventID   string
	Type      string
	Outcome   model.WebhookOutcome
	PaymentID string
}

type webhookUC struct {
	payments repository.PaymentRepository
	events   repository.WebhookEventRepository
	gateway  adapter.PaymentGateway
	tm       repository.TransactionManager
	effects  *effects
	log      *zerolog.Logger
}

func NewWebhookUseCase(
	payments repository.PaymentRepository,
	events repository.WebhookEventRepository,
	gateway adapter.PaymentGateway,
	tm repository.TransactionManager,
	totals OrderTotalsUseCase,
	receipts ReceiptUseCase,
	publisher adapter.EventPublisher,
	logger *zerolog.Logger,
) *webhookUC {
	log := logging.Component(logger, "WebhookUC")
	return &webhookUC{
		payments: payments,
		events:   events,
		gateway:  gateway,
		tm:       tm,
		effects:  &effects{totals: totals, receipts: receipts, events: publisher, log: log},
		log:      log,
	}
}

func (u *webhookUC) HandleWebhook(ctx context.Context, payload []byte, signature string) (WebhookResult, error) {
	start := time.Now()
	ev, err := u.gateway.ParseWebhook(payload, signature)
	if err != nil {
		outcome := "invalid_payload"
		if errors.Is(err, domain.ErrInvalidSignature) {
			outcome = "invalid_signature"
		}
		metrics.IncWebhook("", outcome)
		u.log.Warn().Err(err).Msg("webhook rejected")
		return WebhookResult{}, err
	}

	ctx = logging.WithEventID(ctx, ev.ID)
	if ref := ev.OrderRef(); ref != "" {
		ctx = logging.WithOrderRef(ctx, ref)
	}
	log := logging.With(ctx, u.log)

	var (
		res = WebhookResult{EventID: ev.ID, Type: ev.Type}
		p   *model.Payment
		out model.Outcome
	)
	err = withConcurrencyRetry(ctx, func() error {
		return u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			rec := &model.WebhookEventRecord{EventID: ev.ID, Type: ev.Type, Outcome: model.WebhookNoop, ReceivedAt: time.Now()}
			if err := u.events.Record(ctx, tx, rec); err != nil {
				if errors.Is(err, domain.ErrAlreadyExists) {
					res.Outcome = model.WebhookDuplicate
					p, out = nil, model.Outcome{}
					return nil
				}
				return err
			}

			var err error
			res.Outcome, p, out, err = u.dispatch(ctx, tx, ev)
			if err != nil {
				return err
			}
			var pid *string
			if p != nil {
				pid = &p.ID
			}
			return u.events.SetOutcome(ctx, tx, ev.ID, res.Outcome, pid)
		})
	})

	if err != nil {
		metrics.IncWebhook(ev.Type, "error")
		metrics.ObserveWebhook("error", time.Since(start).Seconds())
		log.Error().Err(err).Str("type", ev.Type).Msg("webhook processing failed")
		return res, err
	}

	if p != nil {
		res.PaymentID = p.ID
	}
	metrics.IncWebhook(ev.Type, string(res.Outcome))
	metrics.ObserveWebhook(string(res.Outcome), time.Since(start).Seconds())
	log.Info().Str("type", ev.Type).Str("outcome", string(res.Outcome)).Str("payment_id", res.PaymentID).Msg("webhook handled")

	u.effects.afterCommit(ctx, p, out)
	return res, nil
}

// dispatch applies ev inside tx. A conflict is an outcome, not an error, so the
// event is recorded and acknowledged.
func (u *webhookUC) dispatch(ctx context.Context, tx repository.Tx, ev model.GatewayEvent) (model.WebhookOutcome, *model.Payment, model.Outcome, error) {
	if ev.Kind == model.EventUnknown {
		return model.WebhookIgnored, nil, model.Outcome{}, nil
	}

	p, err := u.resolve(ctx, tx, ev)
	if errors.Is(err, domain.ErrNotFound) {
		if ev.OrderRef() == "" {
			return model.WebhookIgnored, nil, model.Outcome{}, nil
		}
		return "", nil, model.Outcome{}, fmt.Errorf("%w: %s %s", domain.ErrEventNotReady, ev.Type, ev.ID)
	}
	if err != nil {
		return "", nil, model.Outcome{}, err
	}

	if ev.Kind == model.EventDisputeCreated {
		return u.markDisputed(ctx, tx, p, ev)
	}

	t, ok := transitionFor(ev)
	if !ok {
		return model.WebhookIgnored, p, model.Outcome{}, nil
	}
	out, err := model.Apply(p, t)
	if errors.Is(err, domain.ErrReconciliationConflict) {
		logging.With(ctx, u.log).Warn().
			Str("payment_id", p.ID).
			Str("status", string(p.Status)).
			Str("event_type", ev.Type).
			Msg("event would regress payment status; dropped")
		return model.WebhookConflict, p, model.Outcome{}, nil
	}
	if err != nil {
		return "", nil, model.Outcome{}, err
	}
	if !out.Changed {
		return model.WebhookNoop, p, out, nil
	}
	if err := u.payments.Update(ctx, tx, p); err != nil {
		return "", nil, model.Outcome{}, err
	}
	return model.WebhookApplied, p, out, nil
}

// resolve finds the payment an event refers to: our own id first, then the
// processor's identifiers.
func (u *webhookUC) resolve(ctx context.Context, tx repository.Tx, ev model.GatewayEvent) (*model.Payment, error) {
	if id := ev.PaymentID(); id != "" {
		if _, perr := uuid.Parse(id); perr == nil {
			p, err := u.payments.FindByID(ctx, tx, id)
			if !errors.Is(err, domain.ErrNotFound) {
				return p, err
			}
		}
	}
	var intentID, linkID, chargeID string
	switch {
	case ev.Intent != nil:
		intentID, chargeID = ev.Intent.IntentID, ev.Intent.ChargeID
	case ev.Link != nil:
		intentID, linkID = ev.Link.IntentID, ev.Link.LinkID
	case ev.Refund != nil:
		intentID, chargeID = ev.Refund.IntentID, ev.Refund.ChargeID
	case ev.Dispute != nil:
		intentID, chargeID = ev.Dispute.IntentID, ev.Dispute.ChargeID
	}
	lookups := []struct {
		key  string
		find func(context.Context, repository.Tx, string) (*model.Payment, error)
	}{
		{linkID, u.payments.FindByLinkID},
		{intentID, u.payments.FindByIntentID},
		{chargeID, u.payments.FindByChargeID},
	}
	for _, l := range lookups {
		if l.key == "" {
			continue
		}
		p, err := l.find(ctx, tx, l.key)
		if !errors.Is(err, domain.ErrNotFound) {
			return p, err
		}
	}
	return nil, domain.ErrNotFound
}

func transitionFor(ev model.GatewayEvent) (model.Transition, bool) {
	t := model.Transition{Source: model.SourceGateway, At: ev.OccurredAt}
	switch ev.Kind {
	case model.EventIntentSucceeded, model.EventIntentFailed, model.EventIntentCanceled:
		if ev.Intent == nil {
			return t, false
		}
		in := ev.Intent
		t.IntentID, t.ChargeID, t.CustomerID, t.PaymentMethodID = in.IntentID, in.ChargeID, in.CustomerID, in.PaymentMethodID
		t.CardBrand, t.CardLast4 = in.CardBrand, in.CardLast4
		switch ev.Kind {
		case model.EventIntentSucceeded:
			t.To = model.PaymentStatusSucceeded
		case model.EventIntentFailed:
			t.To = model.PaymentStatusFailed
			t.ErrorMessage = in.ErrorMessage
		default:
			t.To = model.PaymentStatusCancelled
			t.ErrorMessage = in.ErrorMessage
		}
	case model.EventLinkCompleted:
		if ev.Link == nil {
			return t, false
		}
		t.IntentID, t.CustomerID = ev.Link.IntentID, ev.Link.CustomerID
		// async payment methods complete the session before the money arrives
		if ev.Link.Paid {
			t.To = model.PaymentStatusSucceeded
		}
	case model.EventChargeRefunded:
		if ev.Refund == nil {
			return t, false
		}
		total := ev.Refund.AmountRefunded
		t.RefundedTotal = &total
		t.ChargeID, t.IntentID = ev.Refund.ChargeID, ev.Refund.IntentID
	default:
		return t, false
	}
	return t, true
}

func (u *webhookUC) markDisputed(ctx context.Context, tx repository.Tx, p *model.Payment, ev model.GatewayEvent) (model.WebhookOutcome, *model.Payment, model.Outcome, error) {
	out := model.Outcome{From: p.Status, To: p.Status}
	disputeID := ""
	if ev.Dispute != nil {
		disputeID = ev.Dispute.DisputeID
	}
	if p.Disputed && p.Metadata[model.MetaDisputeID] == disputeID {
		return model.WebhookNoop, p, out, nil
	}
	p.Disputed = true
	if p.Metadata == nil {
		p.Metadata = map[string]string{}
	}
	if disputeID != "" {
		p.Metadata[model.MetaDisputeID] = disputeID
	}
	p.UpdatedAt = time.Now()
	if err := u.payments.Update(ctx, tx, p); err != nil {
		return "", nil, model.Outcome{}, err
	}
	out.Changed = true
	logging.With(ctx, u.log).Warn().Str("payment_id", p.ID).Str("dispute_id", disputeID).Msg("payment disputed")
	return model.WebhookApplied, p, out, nil
}
