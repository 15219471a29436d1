package model

import (
	"time"

	"order-payments/internal/domain"
)

type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "pending"            // created locally; awaiting the gateway
	PaymentStatusSucceeded         PaymentStatus = "succeeded"          // captured at the gateway
	PaymentStatusFailed            PaymentStatus = "failed"             // gateway reported a failed attempt
	PaymentStatusCancelled         PaymentStatus = "cancelled"          // link deactivated / intent canceled
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded" // 0 < refunded < amount
	PaymentStatusRefunded          PaymentStatus = "refunded"           // refunded == amount
)

type PaymentMethod string

const (
	PaymentMethodLink      PaymentMethod = "payment_link"
	PaymentMethodSavedCard PaymentMethod = "saved_card"
	PaymentMethodCard      PaymentMethod = "card"
)

// GatewayIDs holds the opaque identifiers the processor assigned to a payment.
type GatewayIDs struct {
	PaymentIntentID string
	ChargeID        string
	CustomerID      string
	PaymentMethodID string
	PaymentLinkID   string
}

// Payment records one collection attempt against an order. Amounts are integer
// minor units (cents) to avoid float errors.
type Payment struct {
	ID             string // UUID
	OrderRef       string
	CustomerRef    string
	Amount         int64
	Currency       string
	RefundedAmount int64
	Method         PaymentMethod
	Gateway        GatewayIDs
	Status         PaymentStatus
	Metadata       map[string]string // serialized in DB as JSONB
	ErrorMessage   *string
	CardLast4      *string
	CardBrand      *string
	PaymentURL     string     // hosted link URL (payment_link only)
	ExpiresAt      *time.Time // link expiry (payment_link only)
	PaidAt         *time.Time
	ReceiptSentAt  *time.Time // explicit "already notified" guard
	Disputed       bool
	Version        int64 // optimistic concurrency counter, bumped on every write
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewPayment validates and builds a pending payment.
func NewPayment(id, orderRef, customerRef string, amount int64, currency string, method PaymentMethod) (*Payment, error) {
	if id == "" || orderRef == "" || currency == "" {
		return nil, domain.ErrInvalidArgument
	}
	if amount <= 0 {
		return nil, domain.NewValidationError("amount", "must be greater than zero")
	}
	switch method {
	case PaymentMethodLink, PaymentMethodSavedCard, PaymentMethodCard:
	default:
		return nil, domain.NewValidationError("method", "unknown payment method")
	}
	now := time.Now()
	return &Payment{
		ID:          id,
		OrderRef:    orderRef,
		CustomerRef: customerRef,
		Amount:      amount,
		Currency:    currency,
		Method:      method,
		Status:      PaymentStatusPending,
		Metadata:    map[string]string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Refundable is the amount still available for refunds.
func (p *Payment) Refundable() int64 {
	if !p.Status.IsRefundable() {
		return 0
	}
	return p.Amount - p.RefundedAmount
}

// NetPaid is what this payment contributes to an order's paid amount.
func (p *Payment) NetPaid() int64 {
	if p.Status != PaymentStatusSucceeded && p.Status != PaymentStatusPartiallyRefunded {
		return 0
	}
	return p.Amount - p.RefundedAmount
}

// IsActiveLink reports whether p is a pending payment link that has not expired at now.
func (p *Payment) IsActiveLink(now time.Time) bool {
	if p.Method != PaymentMethodLink || p.Status != PaymentStatusPending {
		return false
	}
	return p.ExpiresAt == nil || now.Before(*p.ExpiresAt)
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (p *Payment) Clone() *Payment {
	cp := *p
	if p.Metadata != nil {
		cp.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// Finality ranks statuses from least to most final. Equal ranks are not
// ordered against each other.
func (s PaymentStatus) Finality() int {
	switch s {
	case PaymentStatusPending, PaymentStatusFailed:
		return 0
	case PaymentStatusSucceeded, PaymentStatusCancelled:
		return 1
	case PaymentStatusPartiallyRefunded:
		return 2
	case PaymentStatusRefunded:
		return 3
	default:
		return -1
	}
}

func (s PaymentStatus) IsValid() bool { return s.Finality() >= 0 }

// IsTerminal is true for states no caller-initiated operation may leave.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusFailed || s == PaymentStatusCancelled || s == PaymentStatusRefunded
}

// IsRefundable is true for captured payments that may still be refunded.
func (s PaymentStatus) IsRefundable() bool {
	return s == PaymentStatusSucceeded || s == PaymentStatusPartiallyRefunded
}

// TransitionSource tells the state machine whether the gateway or a caller is
// asking for a change. Gateway state always wins over caller intent.
type TransitionSource int

const (
	SourceCaller TransitionSource = iota
	SourceGateway
)

// CanTransition reports whether from -> to is a legal forward move.
// Staying in the same status is not a transition; callers treat it as a no-op.
func CanTransition(from, to PaymentStatus, src TransitionSource) bool {
	if !from.IsValid() || !to.IsValid() || from == to {
		return false
	}
	if to.Finality() < from.Finality() {
		return false
	}
	switch from {
	case PaymentStatusPending:
		return to == PaymentStatusSucceeded || to == PaymentStatusFailed || to == PaymentStatusCancelled
	case PaymentStatusSucceeded:
		return to == PaymentStatusPartiallyRefunded || to == PaymentStatusRefunded
	case PaymentStatusPartiallyRefunded:
		return to == PaymentStatusRefunded
	case PaymentStatusFailed, PaymentStatusCancelled:
		// a late gateway success for the same intent/link is authoritative
		return src == SourceGateway && to == PaymentStatusSucceeded
	default:
		return false
	}
}

// RefundStatus derives the status for a given cumulative refunded amount.
func RefundStatus(amount, refunded int64) PaymentStatus {
	if refunded >= amount {
		return PaymentStatusRefunded
	}
	if refunded > 0 {
		return PaymentStatusPartiallyRefunded
	}
	return PaymentStatusSucceeded
}
