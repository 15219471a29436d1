package model

import "time"

type OrderPaymentStatus string

const (
	OrderUnpaid        OrderPaymentStatus = "unpaid"
	OrderPartiallyPaid OrderPaymentStatus = "partially_paid"
	OrderPaid          OrderPaymentStatus = "paid"
	OrderOverpaid      OrderPaymentStatus = "overpaid"
	OrderRefunded      OrderPaymentStatus = "refunded"
)

// OverpaymentPolicy decides what happens when paid exceeds the order total.
type OverpaymentPolicy string

const (
	OverpaymentFlag       OverpaymentPolicy = "flag"
	OverpaymentClamp      OverpaymentPolicy = "clamp"
	OverpaymentAutoRefund OverpaymentPolicy = "auto_refund"
)

func (p OverpaymentPolicy) IsValid() bool {
	return p == OverpaymentFlag || p == OverpaymentClamp || p == OverpaymentAutoRefund
}

// OrderTotals is derived from the payment set; it is never authoritative on its own.
type OrderTotals struct {
	OrderRef       string
	OrderTotal     int64
	Currency       string
	PaidAmount     int64
	BalanceDue     int64
	OverpaidAmount int64
	PaymentStatus  OrderPaymentStatus
	ComputedAt     time.Time
}

// ComputeTotals applies paid = Σ(amount − refunded) over captured, not fully
// refunded payments; balance = max(total − paid, 0).
func ComputeTotals(orderRef string, orderTotal int64, currency string, payments []*Payment, policy OverpaymentPolicy) OrderTotals {
	var paid int64
	anyRefund := false
	for _, p := range payments {
		paid += p.NetPaid()
		if p.RefundedAmount > 0 {
			anyRefund = true
		}
	}
	t := OrderTotals{
		OrderRef:   orderRef,
		OrderTotal: orderTotal,
		Currency:   currency,
		PaidAmount: paid,
		ComputedAt: time.Now(),
	}
	if paid < orderTotal {
		t.BalanceDue = orderTotal - paid
	}
	if paid > orderTotal {
		t.OverpaidAmount = paid - orderTotal
	}

	switch {
	case paid == 0 && anyRefund:
		t.PaymentStatus = OrderRefunded
	case paid == 0:
		t.PaymentStatus = OrderUnpaid
	case paid < orderTotal:
		t.PaymentStatus = OrderPartiallyPaid
	case paid == orderTotal:
		t.PaymentStatus = OrderPaid
	default:
		t.PaymentStatus = OrderOverpaid
	}

	if t.OverpaidAmount > 0 && policy == OverpaymentClamp {
		t.PaidAmount = orderTotal
		t.PaymentStatus = OrderPaid
	}
	return t
}
