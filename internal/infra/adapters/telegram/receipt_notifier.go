package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"order-payments/internal/domain/model"
	"order-payments/internal/domain/money"
	"order-payments/internal/domain/ports/adapter"
)

var _ adapter.ReceiptNotifier = (*ReceiptNotifier)(nil)

// sender is the slice of tgbotapi.BotAPI the notifier uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// ReceiptNotifier posts payment receipts to a Telegram chat.
type ReceiptNotifier struct {
	bot    sender
	chatID int64
	log    *zerolog.Logger
}

func NewReceiptNotifier(token string, chatID int64, logger *zerolog.Logger) (*ReceiptNotifier, error) {
	if token == "" {
		return nil, errors.New("telegram token is empty")
	}
	if chatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return newReceiptNotifier(bot, chatID, logger), nil
}

func newReceiptNotifier(bot sender, chatID int64, logger *zerolog.Logger) *ReceiptNotifier {
	l := logger.With().Str("component", "receipt_notifier").Logger()
	return &ReceiptNotifier{bot: bot, chatID: chatID, log: &l}
}

func (n *ReceiptNotifier) SendReceipt(ctx context.Context, p *model.Payment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(n.chatID, ReceiptText(p))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	n.log.Debug().Str("payment_id", p.ID).Str("order_ref", p.OrderRef).Msg("receipt sent")
	return nil
}

// ReceiptText renders the HTML receipt body for p.
func ReceiptText(p *model.Payment) string {
	var b strings.Builder
	b.WriteString("<b>Payment received</b>\n")
	fmt.Fprintf(&b, "Order: <code>%s</code>\n", tgbotapi.EscapeText(tgbotapi.ModeHTML, p.OrderRef))
	fmt.Fprintf(&b, "Amount: %s\n", money.Format(p.Amount, p.Currency))
	if p.CardBrand != nil && p.CardLast4 != nil {
		fmt.Fprintf(&b, "Card: %s •••• %s\n", strings.ToUpper(*p.CardBrand), *p.CardLast4)
	}
	fmt.Fprintf(&b, "Method: %s\n", p.Method)
	if p.PaidAt != nil {
		fmt.Fprintf(&b, "Paid at: %s\n", p.PaidAt.UTC().Format("2006-01-02 15:04 MST"))
	}
	fmt.Fprintf(&b, "Payment: <code>%s</code>", p.ID)
	return b.String()
}
