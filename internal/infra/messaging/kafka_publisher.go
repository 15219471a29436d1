// Package messaging publishes payment and order-totals changes to Kafka.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"order-payments/internal/config"
	"order-payments/internal/domain/model"
	"order-payments/internal/domain/ports/adapter"
)

var _ adapter.EventPublisher = (*KafkaPublisher)(nil)

// PaymentStatusMessage is the payload of the status topic. Messages are keyed
// by order ref so one order's updates stay ordered within a partition.
type PaymentStatusMessage struct {
	PaymentID      string    `json:"payment_id"`
	OrderRef       string    `json:"order_ref"`
	Status         string    `json:"status"`
	Method         string    `json:"method"`
	Amount         int64     `json:"amount"`
	RefundedAmount int64     `json:"refunded_amount"`
	Currency       string    `json:"currency"`
	Disputed       bool      `json:"disputed"`
	Version        int64     `json:"version"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type OrderTotalsMessage struct {
	OrderRef       string    `json:"order_ref"`
	OrderTotal     int64     `json:"order_total"`
	Currency       string    `json:"currency"`
	PaidAmount     int64     `json:"paid_amount"`
	BalanceDue     int64     `json:"balance_due"`
	OverpaidAmount int64     `json:"overpaid_amount"`
	PaymentStatus  string    `json:"payment_status"`
	ComputedAt     time.Time `json:"computed_at"`
}

type KafkaPublisher struct {
	producer    sarama.SyncProducer
	statusTopic string
	totalsTopic string
	log         *zerolog.Logger
}

func NewKafkaPublisher(cfg *config.KafkaConfig, logger *zerolog.Logger) (*KafkaPublisher, error) {
	if cfg == nil || len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers not configured")
	}
	sc := sarama.NewConfig()
	sc.ClientID = cfg.ClientID
	sc.Producer.Return.Successes = true
	sc.Producer.Retry.Max = 3
	sc.Producer.Partitioner = sarama.NewHashPartitioner
	switch strings.ToLower(cfg.RequiredAcks) {
	case "none":
		sc.Producer.RequiredAcks = sarama.NoResponse
	case "local":
		sc.Producer.RequiredAcks = sarama.WaitForLocal
	default:
		sc.Producer.RequiredAcks = sarama.WaitForAll
	}
	p, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return NewKafkaPublisherWithProducer(p, cfg.StatusTopic, cfg.TotalsTopic, logger), nil
}

func NewKafkaPublisherWithProducer(p sarama.SyncProducer, statusTopic, totalsTopic string, logger *zerolog.Logger) *KafkaPublisher {
	l := logger.With().Str("component", "kafka_publisher").Logger()
	return &KafkaPublisher{producer: p, statusTopic: statusTopic, totalsTopic: totalsTopic, log: &l}
}

func (k *KafkaPublisher) PublishPaymentStatus(ctx context.Context, p *model.Payment) error {
	return k.send(ctx, k.statusTopic, p.OrderRef, PaymentStatusMessage{
		PaymentID:      p.ID,
		OrderRef:       p.OrderRef,
		Status:         string(p.Status),
		Method:         string(p.Method),
		Amount:         p.Amount,
		RefundedAmount: p.RefundedAmount,
		Currency:       p.Currency,
		Disputed:       p.Disputed,
		Version:        p.Version,
		UpdatedAt:      p.UpdatedAt.UTC(),
	})
}

func (k *KafkaPublisher) PublishOrderTotals(ctx context.Context, t model.OrderTotals) error {
	return k.send(ctx, k.totalsTopic, t.OrderRef, OrderTotalsMessage{
		OrderRef:       t.OrderRef,
		OrderTotal:     t.OrderTotal,
		Currency:       t.Currency,
		PaidAmount:     t.PaidAmount,
		BalanceDue:     t.BalanceDue,
		OverpaidAmount: t.OverpaidAmount,
		PaymentStatus:  string(t.PaymentStatus),
		ComputedAt:     t.ComputedAt.UTC(),
	})
}

func (k *KafkaPublisher) send(ctx context.Context, topic, key string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", topic, err)
	}
	partition, offset, err := k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	k.log.Debug().Str("topic", topic).Str("key", key).Int32("partition", partition).Int64("offset", offset).Msg("published")
	return nil
}

func (k *KafkaPublisher) Close() error {
	return k.producer.Close()
}
