//go:build !integration

package model

import (
	"errors"
	"testing"
	"time"

	"order-payments/internal/domain"
)

func int64p(v int64) *int64 { return &v }

func pendingPayment(t *testing.T, amount int64) *Payment {
	t.Helper()
	p, err := NewPayment("pay-1", "SO-1", "cust-1", amount, "USD", PaymentMethodLink)
	if err != nil {
		t.Fatalf("NewPayment: %v", err)
	}
	return p
}

// --- Payment Model Tests ---

func TestNewPayment(t *testing.T) {
	t.Run("should create a pending payment", func(t *testing.T) {
		p, err := NewPayment("pay-1", "SO-1", "cust-1", 5000, "USD", PaymentMethodSavedCard)
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if p.Status != PaymentStatusPending {
			t.Errorf("expected status pending, got %s", p.Status)
		}
		if p.Metadata == nil {
			t.Error("expected metadata map to be initialized")
		}
	})

	t.Run("should reject a non-positive amount", func(t *testing.T) {
		_, err := NewPayment("pay-1", "SO-1", "", 0, "USD", PaymentMethodCard)
		var ve *domain.ValidationError
		if !errors.As(err, &ve) || ve.Field != "amount" {
			t.Fatalf("expected amount validation error, got %v", err)
		}
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Error("expected validation error to unwrap to ErrInvalidArgument")
		}
	})

	t.Run("should reject an unknown method", func(t *testing.T) {
		if _, err := NewPayment("pay-1", "SO-1", "", 10, "USD", "cash"); err == nil {
			t.Fatal("expected error for unknown method")
		}
	})
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		name string
		from PaymentStatus
		to   PaymentStatus
		src  TransitionSource
		want bool
	}{
		{"pending to succeeded", PaymentStatusPending, PaymentStatusSucceeded, SourceCaller, true},
		{"pending to failed", PaymentStatusPending, PaymentStatusFailed, SourceGateway, true},
		{"pending to cancelled", PaymentStatusPending, PaymentStatusCancelled, SourceCaller, true},
		{"pending to refunded", PaymentStatusPending, PaymentStatusRefunded, SourceGateway, false},
		{"succeeded to failed", PaymentStatusSucceeded, PaymentStatusFailed, SourceGateway, false},
		{"succeeded to pending", PaymentStatusSucceeded, PaymentStatusPending, SourceGateway, false},
		{"succeeded to partially refunded", PaymentStatusSucceeded, PaymentStatusPartiallyRefunded, SourceCaller, true},
		{"partially refunded to refunded", PaymentStatusPartiallyRefunded, PaymentStatusRefunded, SourceGateway, true},
		{"refunded to partially refunded", PaymentStatusRefunded, PaymentStatusPartiallyRefunded, SourceGateway, false},
		{"failed to succeeded from gateway", PaymentStatusFailed, PaymentStatusSucceeded, SourceGateway, true},
		{"failed to succeeded from caller", PaymentStatusFailed, PaymentStatusSucceeded, SourceCaller, false},
		{"cancelled to succeeded from gateway", PaymentStatusCancelled, PaymentStatusSucceeded, SourceGateway, true},
		{"cancelled to failed", PaymentStatusCancelled, PaymentStatusFailed, SourceGateway, false},
		{"same status", PaymentStatusSucceeded, PaymentStatusSucceeded, SourceGateway, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanTransition(tc.from, tc.to, tc.src); got != tc.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
			}
		})
	}
}

func TestApply(t *testing.T) {
	t.Run("should mark success and record gateway ids", func(t *testing.T) {
		p := pendingPayment(t, 5000)
		out, err := Apply(p, Transition{To: PaymentStatusSucceeded, Source: SourceGateway, IntentID: "pi_1", ChargeID: "ch_1", CardBrand: "visa", CardLast4: "4242"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !out.Changed || !out.Captured() {
			t.Errorf("expected a captured change, got %+v", out)
		}
		if p.Status != PaymentStatusSucceeded || p.PaidAt == nil {
			t.Errorf("expected succeeded with paid_at, got %s %v", p.Status, p.PaidAt)
		}
		if p.Gateway.PaymentIntentID != "pi_1" || p.Gateway.ChargeID != "ch_1" {
			t.Errorf("gateway ids not recorded: %+v", p.Gateway)
		}
		if p.CardLast4 == nil || *p.CardLast4 != "4242" {
			t.Error("card last4 not recorded")
		}
	})

	t.Run("should keep succeeded when a late failure arrives", func(t *testing.T) {
		p := pendingPayment(t, 5000)
		if _, err := Apply(p, Transition{To: PaymentStatusSucceeded, Source: SourceGateway}); err != nil {
			t.Fatal(err)
		}
		before := *p
		_, err := Apply(p, Transition{To: PaymentStatusFailed, Source: SourceGateway, ErrorMessage: "declined"})
		if !errors.Is(err, domain.ErrReconciliationConflict) {
			t.Fatalf("expected conflict, got %v", err)
		}
		if p.Status != PaymentStatusSucceeded || p.ErrorMessage != nil || p.UpdatedAt != before.UpdatedAt {
			t.Errorf("payment must be untouched on conflict, got %+v", p)
		}
	})

	t.Run("should be a no-op when the status repeats", func(t *testing.T) {
		p := pendingPayment(t, 5000)
		_, _ = Apply(p, Transition{To: PaymentStatusSucceeded, Source: SourceGateway})
		out, err := Apply(p, Transition{To: PaymentStatusSucceeded, Source: SourceGateway})
		if err != nil {
			t.Fatal(err)
		}
		if out.Changed || out.Captured() {
			t.Errorf("expected no change, got %+v", out)
		}
	})

	t.Run("should derive refund status from cumulative totals", func(t *testing.T) {
		p := pendingPayment(t, 5000)
		_, _ = Apply(p, Transition{To: PaymentStatusSucceeded, Source: SourceGateway})

		if _, err := Apply(p, Transition{Source: SourceCaller, RefundedTotal: int64p(2000)}); err != nil {
			t.Fatal(err)
		}
		if p.Status != PaymentStatusPartiallyRefunded || p.RefundedAmount != 2000 {
			t.Fatalf("expected partially_refunded 2000, got %s %d", p.Status, p.RefundedAmount)
		}

		// a stale lower total is ignored
		out, err := Apply(p, Transition{Source: SourceGateway, RefundedTotal: int64p(1000)})
		if err != nil || out.Changed || p.RefundedAmount != 2000 {
			t.Fatalf("expected stale total to be ignored, got %+v %v %d", out, err, p.RefundedAmount)
		}

		if _, err := Apply(p, Transition{Source: SourceGateway, RefundedTotal: int64p(9000)}); err != nil {
			t.Fatal(err)
		}
		if p.Status != PaymentStatusRefunded || p.RefundedAmount != 5000 {
			t.Fatalf("expected refunded 5000, got %s %d", p.Status, p.RefundedAmount)
		}
	})

	t.Run("should infer capture when a gateway refund precedes success", func(t *testing.T) {
		p := pendingPayment(t, 5000)
		out, err := Apply(p, Transition{Source: SourceGateway, RefundedTotal: int64p(5000), ChargeID: "ch_9"})
		if err != nil {
			t.Fatal(err)
		}
		if p.Status != PaymentStatusRefunded || p.PaidAt == nil || !out.Captured() {
			t.Fatalf("expected refunded with paid_at, got %s %+v", p.Status, out)
		}

		// the success event that arrives afterwards is a no-op
		out, err = Apply(p, Transition{To: PaymentStatusSucceeded, Source: SourceGateway})
		if !errors.Is(err, domain.ErrReconciliationConflict) || p.Status != PaymentStatusRefunded {
			t.Fatalf("expected refunded to hold, got %s %v", p.Status, err)
		}
		_ = out
	})

	t.Run("should refuse a caller refund on an uncaptured payment", func(t *testing.T) {
		p := pendingPayment(t, 5000)
		_, err := Apply(p, Transition{Source: SourceCaller, RefundedTotal: int64p(100)})
		if !errors.Is(err, domain.ErrReconciliationConflict) {
			t.Fatalf("expected conflict, got %v", err)
		}
		if p.Status != PaymentStatusPending {
			t.Errorf("expected pending, got %s", p.Status)
		}
	})

	t.Run("should accept a late gateway success after cancellation", func(t *testing.T) {
		p := pendingPayment(t, 5000)
		_, _ = Apply(p, Transition{To: PaymentStatusCancelled, Source: SourceCaller})
		out, err := Apply(p, Transition{To: PaymentStatusSucceeded, Source: SourceGateway, At: time.Now()})
		if err != nil {
			t.Fatal(err)
		}
		if p.Status != PaymentStatusSucceeded || !out.Captured() {
			t.Errorf("expected succeeded, got %s", p.Status)
		}
	})
}

// --- Order Totals Tests ---

func succeededPayment(id string, amount, refunded int64) *Payment {
	p := &Payment{ID: id, Amount: amount, RefundedAmount: refunded, Status: PaymentStatusSucceeded}
	if refunded > 0 {
		p.Status = RefundStatus(amount, refunded)
	}
	return p
}

func TestComputeTotals(t *testing.T) {
	t.Run("should report unpaid with no captured payments", func(t *testing.T) {
		pending := &Payment{ID: "a", Amount: 10000, Status: PaymentStatusPending}
		tot := ComputeTotals("SO-1", 10000, "USD", []*Payment{pending}, OverpaymentFlag)
		if tot.PaymentStatus != OrderUnpaid || tot.BalanceDue != 10000 || tot.PaidAmount != 0 {
			t.Errorf("unexpected totals: %+v", tot)
		}
	})

	t.Run("should net out partial refunds", func(t *testing.T) {
		tot := ComputeTotals("SO-1", 10000, "USD", []*Payment{
			succeededPayment("a", 6000, 1000),
			succeededPayment("b", 4000, 0),
		}, OverpaymentFlag)
		if tot.PaidAmount != 9000 || tot.BalanceDue != 1000 || tot.PaymentStatus != OrderPartiallyPaid {
			t.Errorf("unexpected totals: %+v", tot)
		}
	})

	t.Run("should report refunded when everything was returned", func(t *testing.T) {
		tot := ComputeTotals("SO-1", 10000, "USD", []*Payment{succeededPayment("a", 10000, 10000)}, OverpaymentFlag)
		if tot.PaymentStatus != OrderRefunded || tot.PaidAmount != 0 {
			t.Errorf("unexpected totals: %+v", tot)
		}
	})

	t.Run("should flag or clamp overpayment per policy", func(t *testing.T) {
		payments := []*Payment{succeededPayment("a", 10000, 0), succeededPayment("b", 2500, 0)}

		flag := ComputeTotals("SO-1", 10000, "USD", payments, OverpaymentFlag)
		if flag.PaymentStatus != OrderOverpaid || flag.OverpaidAmount != 2500 || flag.PaidAmount != 12500 {
			t.Errorf("unexpected flag totals: %+v", flag)
		}

		clamp := ComputeTotals("SO-1", 10000, "USD", payments, OverpaymentClamp)
		if clamp.PaymentStatus != OrderPaid || clamp.PaidAmount != 10000 || clamp.OverpaidAmount != 2500 {
			t.Errorf("unexpected clamp totals: %+v", clamp)
		}
		if clamp.BalanceDue != 0 {
			t.Errorf("expected zero balance, got %d", clamp.BalanceDue)
		}
	})
}
