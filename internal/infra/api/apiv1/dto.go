package apiv1

import (
	"time"

	"order-payments/internal/domain/model"
	"order-payments/internal/domain/money"
	"order-payments/internal/usecase"
)

type createLinkRequest struct {
	ReturnURL string `json:"return_url" validate:"omitempty,url"`
}

type chargeRequest struct {
	PaymentMethodID string `json:"payment_method_id" validate:"required,startswith=pm_"`
	SaveCard        bool   `json:"save_card"`
	CustomerID      string `json:"customer_id" validate:"omitempty,startswith=cus_"`
	CustomerRef     string `json:"customer_ref" validate:"omitempty,max=64"`
	Email           string `json:"email" validate:"omitempty,email"`
	ReturnURL       string `json:"return_url" validate:"omitempty,url"`
}

// refundRequest takes minor units or a decimal string in the payment's
// currency. Neither refunds the remainder.
type refundRequest struct {
	Amount        *int64 `json:"amount" validate:"omitempty,gt=0"`
	AmountDecimal string `json:"amount_decimal" validate:"omitempty,numeric,excluded_with=Amount"`
	Reason string `json:"reason" validate:"omitempty,oneof=requested_by_customer duplicate fraudulent"`
}

type Payment struct {
	ID             string            `json:"id"`
	OrderRef       string            `json:"order_ref"`
	CustomerRef    string            `json:"customer_ref,omitempty"`
	Amount         int64             `json:"amount"`
	AmountDecimal  string            `json:"amount_decimal"`
	Currency       string            `json:"currency"`
	RefundedAmount int64             `json:"refunded_amount"`
	RefundedDec    string            `json:"refunded_decimal,omitempty"`
	Method         string            `json:"method"`
	Status         string            `json:"status"`
	PaymentURL     string            `json:"payment_url,omitempty"`
	IntentID       string            `json:"payment_intent_id,omitempty"`
	ChargeID       string            `json:"charge_id,omitempty"`
	CardBrand      *string           `json:"card_brand,omitempty"`
	CardLast4      *string           `json:"card_last4,omitempty"`
	ErrorMessage   *string           `json:"error_message,omitempty"`
	Disputed       bool              `json:"disputed,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	ExpiresAt      *time.Time        `json:"expires_at,omitempty"`
	PaidAt         *time.Time        `json:"paid_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

func toPayment(p *model.Payment) Payment {
	out := Payment{
		ID:             p.ID,
		OrderRef:       p.OrderRef,
		CustomerRef:    p.CustomerRef,
		Amount:         p.Amount,
		AmountDecimal:  money.String(p.Amount, p.Currency),
		Currency:       p.Currency,
		RefundedAmount: p.RefundedAmount,
		Method:         string(p.Method),
		Status:         string(p.Status),
		PaymentURL:     p.PaymentURL,
		IntentID:       p.Gateway.PaymentIntentID,
		ChargeID:       p.Gateway.ChargeID,
		CardBrand:      p.CardBrand,
		CardLast4:      p.CardLast4,
		ErrorMessage:   p.ErrorMessage,
		Disputed:       p.Disputed,
		Metadata:       p.Metadata,
		ExpiresAt:      p.ExpiresAt,
		PaidAt:         p.PaidAt,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
	if p.RefundedAmount > 0 {
		out.RefundedDec = money.String(p.RefundedAmount, p.Currency)
	}
	return out
}

type ChargeResult struct {
	PaymentID      string `json:"payment_id"`
	Status         string `json:"status"`
	IntentStatus   string `json:"intent_status"`
	ClientSecret   string `json:"client_secret,omitempty"`
	RequiresAction bool   `json:"requires_action"`
}

func toChargeResult(r *usecase.ChargeResult) ChargeResult {
	return ChargeResult{
		PaymentID:      r.PaymentID,
		Status:         string(r.Status),
		IntentStatus:   r.IntentStatus,
		ClientSecret:   r.ClientSecret,
		RequiresAction: r.RequiresAction,
	}
}

type OrderTotals struct {
	OrderRef       string    `json:"order_ref"`
	OrderTotal     int64     `json:"order_total"`
	Currency       string    `json:"currency"`
	PaidAmount     int64     `json:"paid_amount"`
	BalanceDue     int64     `json:"balance_due"`
	BalanceDueDec  string    `json:"balance_due_decimal"`
	OverpaidAmount int64     `json:"overpaid_amount"`
	PaymentStatus  string    `json:"payment_status"`
	ComputedAt     time.Time `json:"computed_at"`
}

func toOrderTotals(t model.OrderTotals) OrderTotals {
	return OrderTotals{
		OrderRef:       t.OrderRef,
		OrderTotal:     t.OrderTotal,
		Currency:       t.Currency,
		PaidAmount:     t.PaidAmount,
		BalanceDue:     t.BalanceDue,
		BalanceDueDec:  money.String(t.BalanceDue, t.Currency),
		OverpaidAmount: t.OverpaidAmount,
		PaymentStatus:  string(t.PaymentStatus),
		ComputedAt:     t.ComputedAt,
	}
}

type SetupIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
}

type WebhookAck struct {
	Received bool   `json:"received"`
	EventID  string `json:"event_id,omitempty"`
	Outcome  string `json:"outcome,omitempty"`
}

type Error struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}
