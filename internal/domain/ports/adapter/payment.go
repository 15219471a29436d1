package adapter

import (
	"context"
	"time"

	"order-payments/internal/domain/model"
)

type RefundReason string

const (
	RefundReasonRequestedByCustomer RefundReason = "requested_by_customer"
	RefundReasonDuplicate           RefundReason = "duplicate"
	RefundReasonFraudulent          RefundReason = "fraudulent"
)

func (r RefundReason) IsValid() bool {
	return r == RefundReasonRequestedByCustomer || r == RefundReasonDuplicate || r == RefundReasonFraudulent
}

// LinkRequest asks the processor for a hosted payment link.
type LinkRequest struct {
	Amount         int64 // minor units
	Currency       string
	Description    string
	Metadata       map[string]string
	ReturnURL      string
	IdempotencyKey string
}

type LinkResult struct {
	LinkID string
	URL    string
}

// LinkState is the processor's view of a payment link.
type LinkState struct {
	LinkID     string
	Active     bool
	Paid       bool
	IntentID   string
	CustomerID string
}

type CustomerRequest struct {
	CustomerRef    string
	Email          string
	Name           string
	IdempotencyKey string
}

type IntentRequest struct {
	Amount            int64 // minor units
	Currency          string
	CustomerID        string
	PaymentMethodID   string
	Description       string
	Metadata          map[string]string
	SavePaymentMethod bool
	ReturnURL         string
	IdempotencyKey    string
}

// Intent mirrors the processor's payment intent. Status is the raw processor
// status (succeeded, processing, requires_action, requires_payment_method, canceled).
type Intent struct {
	ID              string
	Status          string
	Amount          int64
	Currency        string
	ClientSecret    string
	CustomerID      string
	PaymentMethodID string
	ChargeID        string
	ErrorMessage    string
	Metadata        map[string]string
}

const (
	IntentSucceeded             = "succeeded"
	IntentProcessing            = "processing"
	IntentRequiresAction        = "requires_action"
	IntentRequiresPaymentMethod = "requires_payment_method"
	IntentRequiresConfirmation  = "requires_confirmation"
	IntentCanceled              = "canceled"
)

type Charge struct {
	ID             string
	IntentID       string
	Amount         int64
	AmountRefunded int64
	Status         string
	CardBrand      string
	CardLast4      string
}

type PaymentMethod struct {
	ID         string
	CustomerID string
	CardBrand  string
	CardLast4  string
}

type SetupIntent struct {
	ID           string
	ClientSecret string
}

// RefundRequest targets a charge when known, otherwise the intent. A nil
// Amount refunds the whole remainder at the processor.
type RefundRequest struct {
	ChargeID       string
	IntentID       string
	Amount         *int64
	Reason         RefundReason
	Metadata       map[string]string
	IdempotencyKey string
}

// RefundResult captures a provider-agnostic refund outcome.
type RefundResult struct {
	ID        string
	Status    string // pending | succeeded | failed
	Amount    int64
	CreatedAt time.Time
}

// PaymentGateway is the hex port for the remote processor. Every amount is
// integer minor units; implementations reject negative amounts before any
// network call and return *domain.GatewayError for processor failures.
type PaymentGateway interface {
	Name() string

	CreatePaymentLink(ctx context.Context, req LinkRequest) (LinkResult, error)
	DeactivatePaymentLink(ctx context.Context, linkID string) error
	RetrievePaymentLink(ctx context.Context, linkID string) (LinkState, error)

	CreateCustomer(ctx context.Context, req CustomerRequest) (string, error)
	CreatePaymentIntent(ctx context.Context, req IntentRequest) (Intent, error)
	// AttachPaymentMethod is an upsert: a method already attached to customerID
	// is fetched and returned instead of failing.
	AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) (PaymentMethod, error)
	CreateSetupIntent(ctx context.Context, customerID string) (SetupIntent, error)

	RetrieveIntent(ctx context.Context, intentID string) (Intent, error)
	RetrieveCharge(ctx context.Context, chargeID string) (Charge, error)
	RetrievePaymentMethod(ctx context.Context, paymentMethodID string) (PaymentMethod, error)

	ProcessRefund(ctx context.Context, req RefundRequest) (RefundResult, error)

	// ParseWebhook verifies signatureHeader against payload and decodes the
	// event. A bad signature returns domain.ErrInvalidSignature.
	ParseWebhook(payload []byte, signatureHeader string) (model.GatewayEvent, error)
}
