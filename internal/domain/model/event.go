package model

import "time"

// EventKind enumerates the gateway events the reconciler understands.
type EventKind string

const (
	EventIntentSucceeded EventKind = "intent_succeeded"
	EventIntentFailed    EventKind = "intent_failed"
	EventIntentCanceled  EventKind = "intent_canceled"
	EventLinkCompleted   EventKind = "link_completed"
	EventChargeRefunded  EventKind = "charge_refunded"
	EventDisputeCreated  EventKind = "dispute_created"
	EventUnknown         EventKind = "unknown"
)

// GatewayEvent is a tagged union: exactly one payload pointer matching Kind is
// set. Extra carries opaque gateway metadata that has no typed home.
type GatewayEvent struct {
	ID         string // gateway-unique event id
	Type       string // raw gateway type, e.g. "payment_intent.succeeded"
	Kind       EventKind
	OccurredAt time.Time

	Intent   *IntentEvent
	Link     *LinkEvent
	Refund   *RefundEvent
	Dispute  *DisputeEvent
	Extra    map[string]string
	Metadata map[string]string // our metadata echoed back by the gateway (order_ref, payment_id)
}

// OrderRef returns the order reference we attached when creating the object.
func (e GatewayEvent) OrderRef() string { return e.Metadata[MetaOrderRef] }

// PaymentID returns the local payment id we attached, if any.
func (e GatewayEvent) PaymentID() string { return e.Metadata[MetaPaymentID] }

type IntentEvent struct {
	IntentID        string
	ChargeID        string
	CustomerID      string
	PaymentMethodID string
	Amount          int64
	Currency        string
	CardBrand       string
	CardLast4       string
	ErrorMessage    string
}

type LinkEvent struct {
	LinkID      string
	SessionID   string
	IntentID    string
	CustomerID  string
	Paid        bool // checkout session payment_status == "paid"
	AmountTotal int64
	Currency    string
}

type RefundEvent struct {
	ChargeID       string
	IntentID       string
	AmountRefunded int64 // cumulative on the charge
	Amount         int64
}

type DisputeEvent struct {
	DisputeID string
	ChargeID  string
	IntentID  string
	Amount    int64
	Reason    string
}

// Metadata keys we attach to gateway objects and read back from events.
const (
	MetaOrderRef  = "order_ref"
	MetaPaymentID = "payment_id"
	MetaDisputeID = "dispute_id"
)

// WebhookOutcome is recorded per processed event for audit.
type WebhookOutcome string

const (
	WebhookApplied   WebhookOutcome = "applied"
	WebhookNoop      WebhookOutcome = "noop"
	WebhookDuplicate WebhookOutcome = "duplicate"
	WebhookConflict  WebhookOutcome = "conflict"
	WebhookIgnored   WebhookOutcome = "ignored"
)

// WebhookEventRecord is a row of the processed-event log.
type WebhookEventRecord struct {
	ID         string // ULID
	EventID    string
	Type       string
	Outcome    WebhookOutcome
	PaymentID  *string
	ReceivedAt time.Time
}
