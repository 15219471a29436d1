package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"order-payments/internal/domain/model"
)

type fakeSender struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func samplePayment() *model.Payment {
	brand, last4 := "visa", "4242"
	paid := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
	return &model.Payment{
		ID: "p-1", OrderRef: "SO-<1>", Amount: 12345, Currency: "usd",
		Method: model.PaymentMethodCard, CardBrand: &brand, CardLast4: &last4, PaidAt: &paid,
	}
}

func TestReceiptNotifier_SendReceipt(t *testing.T) {
	logger := zerolog.Nop()

	t.Run("should send an html receipt to the configured chat", func(t *testing.T) {
		fs := &fakeSender{}
		n := newReceiptNotifier(fs, 42, &logger)

		if err := n.SendReceipt(context.Background(), samplePayment()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(fs.sent) != 1 {
			t.Fatalf("expected 1 message, got %d", len(fs.sent))
		}
		msg := fs.sent[0]
		if msg.ChatID != 42 || msg.ParseMode != tgbotapi.ModeHTML {
			t.Fatalf("unexpected message config: %+v", msg)
		}
		for _, want := range []string{"123.45 USD", "VISA •••• 4242", "SO-&lt;1&gt;", "2024-05-01 10:30 UTC"} {
			if !strings.Contains(msg.Text, want) {
				t.Errorf("receipt %q missing %q", msg.Text, want)
			}
		}
	})

	t.Run("should wrap send failures", func(t *testing.T) {
		boom := errors.New("boom")
		n := newReceiptNotifier(&fakeSender{err: boom}, 42, &logger)
		err := n.SendReceipt(context.Background(), samplePayment())
		if !errors.Is(err, boom) {
			t.Fatalf("expected wrapped boom, got %v", err)
		}
	})

	t.Run("should not send on a cancelled context", func(t *testing.T) {
		fs := &fakeSender{}
		n := newReceiptNotifier(fs, 42, &logger)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := n.SendReceipt(ctx, samplePayment()); err == nil {
			t.Fatal("expected context error")
		}
		if len(fs.sent) != 0 {
			t.Fatal("nothing should be sent")
		}
	})
}
