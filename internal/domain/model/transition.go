package model

import (
	"time"

	"order-payments/internal/domain"
)

// Transition is an observed or requested change of a payment's state. Webhooks,
// pull-based sync, refunds and cancellations all funnel through Apply so there
// is exactly one set of transition rules.
type Transition struct {
	To     PaymentStatus // empty when only refund totals or ids change
	Source TransitionSource

	// RefundedTotal is the cumulative refunded amount reported by the gateway
	// (or requested by a caller). Totals are monotonic, so a stale lower value
	// is ignored rather than applied.
	RefundedTotal *int64

	IntentID        string
	ChargeID        string
	CustomerID      string
	PaymentMethodID string
	CardBrand       string
	CardLast4       string
	ErrorMessage    string
	At              time.Time
}

// Outcome describes what Apply did.
type Outcome struct {
	From    PaymentStatus
	To      PaymentStatus
	Changed bool
}

// StatusChanged is true when the status moved.
func (o Outcome) StatusChanged() bool { return o.From != o.To }

// Captured is true when this transition moved the payment into a captured state.
func (o Outcome) Captured() bool {
	return !isCaptured(o.From) && isCaptured(o.To)
}

func isCaptured(s PaymentStatus) bool {
	return s == PaymentStatusSucceeded || s == PaymentStatusPartiallyRefunded || s == PaymentStatusRefunded
}

// Apply mutates p according to t. On ErrReconciliationConflict p is left untouched.
func Apply(p *Payment, t Transition) (Outcome, error) {
	at := t.At
	if at.IsZero() {
		at = time.Now()
	}
	next := p.Clone()
	out := Outcome{From: p.Status, To: p.Status}
	changed := fillGatewayIDs(next, t)

	target := t.To
	if t.RefundedTotal != nil {
		total := *t.RefundedTotal
		if total < 0 {
			return out, domain.ErrInvalidAmount
		}
		if total > next.Amount {
			total = next.Amount
		}
		if !next.Status.IsRefundable() {
			// A refund implies the capture happened; gateway events may arrive
			// out of order, callers may not refund uncaptured payments.
			if t.Source != SourceGateway || !CanTransition(next.Status, PaymentStatusSucceeded, SourceGateway) {
				return out, domain.ErrReconciliationConflict
			}
			next.Status = PaymentStatusSucceeded
			markPaid(next, at)
			changed = true
		}
		if total > next.RefundedAmount {
			next.RefundedAmount = total
			changed = true
		}
		if target == "" || target.Finality() < RefundStatus(next.Amount, next.RefundedAmount).Finality() {
			target = RefundStatus(next.Amount, next.RefundedAmount)
		}
	}

	if target != "" && target != next.Status {
		if !CanTransition(next.Status, target, t.Source) {
			return out, domain.ErrReconciliationConflict
		}
		next.Status = target
		changed = true
		switch target {
		case PaymentStatusSucceeded:
			markPaid(next, at)
		case PaymentStatusFailed:
			if t.ErrorMessage != "" {
				msg := t.ErrorMessage
				next.ErrorMessage = &msg
			}
		case PaymentStatusCancelled:
			if t.ErrorMessage != "" {
				msg := t.ErrorMessage
				next.ErrorMessage = &msg
			}
		}
	}

	if next.RefundedAmount > next.Amount || next.RefundedAmount < 0 {
		return out, domain.ErrInvalidAmount
	}
	if !changed {
		return out, nil
	}
	next.UpdatedAt = at
	*p = *next
	out.To = p.Status
	out.Changed = true
	return out, nil
}

func markPaid(p *Payment, at time.Time) {
	if p.PaidAt == nil {
		paid := at
		p.PaidAt = &paid
	}
	p.ErrorMessage = nil
}

func fillGatewayIDs(p *Payment, t Transition) bool {
	changed := false
	set := func(dst *string, v string) {
		if v != "" && *dst != v {
			*dst = v
			changed = true
		}
	}
	if p.Gateway.PaymentIntentID == "" {
		set(&p.Gateway.PaymentIntentID, t.IntentID)
	}
	if p.Gateway.CustomerID == "" {
		set(&p.Gateway.CustomerID, t.CustomerID)
	}
	// the charge and method can change when a failed attempt is retried
	set(&p.Gateway.ChargeID, t.ChargeID)
	set(&p.Gateway.PaymentMethodID, t.PaymentMethodID)
	if t.CardBrand != "" && (p.CardBrand == nil || *p.CardBrand != t.CardBrand) {
		b := t.CardBrand
		p.CardBrand = &b
		changed = true
	}
	if t.CardLast4 != "" && (p.CardLast4 == nil || *p.CardLast4 != t.CardLast4) {
		l := t.CardLast4
		p.CardLast4 = &l
		changed = true
	}
	return changed
}
