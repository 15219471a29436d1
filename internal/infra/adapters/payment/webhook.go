package payment

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"

	"order-payments/internal/domain"
	"order-payments/internal/domain/model"
)

// SignatureHeader is the HTTP header carrying the webhook signature.
const SignatureHeader = "Stripe-Signature"

// SignPayload returns a signature header value for payload in the gateway's
// "t=<unix>,v1=<hex hmac>" format.
func SignPayload(payload []byte, secret string, at time.Time) string {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: at,
	})
	return signed.Header
}

// verifyAndDecode checks the signature and decodes the payload into our
// event union. The API version pinned in the payload is deliberately not
// compared against the library's.
func verifyAndDecode(payload []byte, header, secret string, tolerance time.Duration) (model.GatewayEvent, error) {
	if err := webhook.ValidatePayloadWithTolerance(payload, header, secret, tolerance); err != nil {
		return model.GatewayEvent{}, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}
	return decodeEvent(payload)
}

// ref decodes a field that is either an object id or an expanded object.
type ref string

func (r *ref) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = ref(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*r = ref(obj.ID)
	return nil
}

type cardDetails struct {
	Brand string `json:"brand"`
	Last4 string `json:"last4"`
}

type intentObject struct {
	ID               string            `json:"id"`
	Amount           int64             `json:"amount"`
	Currency         string            `json:"currency"`
	Customer         ref               `json:"customer"`
	PaymentMethod    ref               `json:"payment_method"`
	LatestCharge     ref               `json:"latest_charge"`
	Metadata         map[string]string `json:"metadata"`
	LastPaymentError *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
	CancellationReason string `json:"cancellation_reason"`
}

type sessionObject struct {
	ID            string            `json:"id"`
	PaymentLink   ref               `json:"payment_link"`
	PaymentIntent ref               `json:"payment_intent"`
	Customer      ref               `json:"customer"`
	PaymentStatus string            `json:"payment_status"`
	AmountTotal   int64             `json:"amount_total"`
	Currency      string            `json:"currency"`
	Metadata      map[string]string `json:"metadata"`
}

type chargeObject struct {
	ID                   string            `json:"id"`
	PaymentIntent        ref               `json:"payment_intent"`
	Amount               int64             `json:"amount"`
	AmountRefunded       int64             `json:"amount_refunded"`
	Metadata             map[string]string `json:"metadata"`
	PaymentMethodDetails *struct {
		Card *cardDetails `json:"card"`
	} `json:"payment_method_details"`
}

type disputeObject struct {
	ID            string            `json:"id"`
	Charge        ref               `json:"charge"`
	PaymentIntent ref               `json:"payment_intent"`
	Amount        int64             `json:"amount"`
	Reason        string            `json:"reason"`
	Metadata      map[string]string `json:"metadata"`
}

func decodeEvent(payload []byte) (model.GatewayEvent, error) {
	var se stripe.Event
	if err := json.Unmarshal(payload, &se); err != nil {
		return model.GatewayEvent{}, domain.NewValidationError("payload", "malformed event: "+err.Error())
	}
	if se.ID == "" {
		return model.GatewayEvent{}, domain.NewValidationError("payload", "event id missing")
	}
	ev := model.GatewayEvent{
		ID:         se.ID,
		Type:       string(se.Type),
		Kind:       model.EventUnknown,
		OccurredAt: time.Unix(se.Created, 0).UTC(),
		Metadata:   map[string]string{},
		Extra:      map[string]string{},
	}
	if se.Data == nil || len(se.Data.Raw) == 0 {
		return ev, nil
	}
	raw := se.Data.Raw

	switch ev.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed", "payment_intent.canceled":
		var o intentObject
		if err := json.Unmarshal(raw, &o); err != nil {
			return ev, domain.NewValidationError("payload", "malformed payment intent: "+err.Error())
		}
		ev.Intent = &model.IntentEvent{
			IntentID:        o.ID,
			ChargeID:        string(o.LatestCharge),
			CustomerID:      string(o.Customer),
			PaymentMethodID: string(o.PaymentMethod),
			Amount:          o.Amount,
			Currency:        o.Currency,
		}
		if o.LastPaymentError != nil {
			ev.Intent.ErrorMessage = o.LastPaymentError.Message
		}
		if o.CancellationReason != "" {
			ev.Extra["cancellation_reason"] = o.CancellationReason
			if ev.Intent.ErrorMessage == "" {
				ev.Intent.ErrorMessage = "canceled: " + o.CancellationReason
			}
		}
		ev.Metadata = mergeMeta(ev.Metadata, o.Metadata)
		switch ev.Type {
		case "payment_intent.succeeded":
			ev.Kind = model.EventIntentSucceeded
		case "payment_intent.payment_failed":
			ev.Kind = model.EventIntentFailed
		default:
			ev.Kind = model.EventIntentCanceled
		}

	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		var o sessionObject
		if err := json.Unmarshal(raw, &o); err != nil {
			return ev, domain.NewValidationError("payload", "malformed checkout session: "+err.Error())
		}
		if o.PaymentLink == "" {
			// a checkout session we did not create through a payment link
			ev.Extra["session_id"] = o.ID
			return ev, nil
		}
		ev.Kind = model.EventLinkCompleted
		ev.Link = &model.LinkEvent{
			LinkID:      string(o.PaymentLink),
			SessionID:   o.ID,
			IntentID:    string(o.PaymentIntent),
			CustomerID:  string(o.Customer),
			Paid:        o.PaymentStatus == "paid",
			AmountTotal: o.AmountTotal,
			Currency:    o.Currency,
		}
		ev.Metadata = mergeMeta(ev.Metadata, o.Metadata)

	case "charge.refunded":
		var o chargeObject
		if err := json.Unmarshal(raw, &o); err != nil {
			return ev, domain.NewValidationError("payload", "malformed charge: "+err.Error())
		}
		ev.Kind = model.EventChargeRefunded
		ev.Refund = &model.RefundEvent{
			ChargeID:       o.ID,
			IntentID:       string(o.PaymentIntent),
			AmountRefunded: o.AmountRefunded,
			Amount:         o.Amount,
		}
		ev.Metadata = mergeMeta(ev.Metadata, o.Metadata)

	case "charge.dispute.created":
		var o disputeObject
		if err := json.Unmarshal(raw, &o); err != nil {
			return ev, domain.NewValidationError("payload", "malformed dispute: "+err.Error())
		}
		ev.Kind = model.EventDisputeCreated
		ev.Dispute = &model.DisputeEvent{
			DisputeID: o.ID,
			ChargeID:  string(o.Charge),
			IntentID:  string(o.PaymentIntent),
			Amount:    o.Amount,
			Reason:    o.Reason,
		}
		ev.Metadata = mergeMeta(ev.Metadata, o.Metadata)
	}
	return ev, nil
}

func mergeMeta(dst, src map[string]string) map[string]string {
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// BuildEvent renders a gateway-shaped event envelope around object. It backs
// the noop gateway and the ops CLI.
func BuildEvent(id, eventType string, object any, at time.Time) ([]byte, error) {
	obj, err := json.Marshal(object)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{
		"id":          id,
		"object":      "event",
		"type":        eventType,
		"created":     at.Unix(),
		"api_version": stripe.APIVersion,
		"data":        map[string]json.RawMessage{"object": obj},
	})
}
