// Package event publishes promotion domain events to Kafka. Publishing is
// best effort: a broker outage degrades to a logged warning and never fails
// the order path.
package event

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/cartkit/promo-engine/internal/domain/checkout"
	"github.com/cartkit/promo-engine/internal/domain/promotion"
)

var _ checkout.EventPublisher = (*Producer)(nil)

// AppliedEvent is the wire payload emitted when an order completes with
// promotions applied.
type AppliedEvent struct {
	OrderID    string    `json:"order_id"`
	UserID     string    `json:"user_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`

	Promotions []AppliedEventPromotion `json:"promotions"`
}

// AppliedEventPromotion is one applied promotion inside an AppliedEvent.
type AppliedEventPromotion struct {
	PromotionID   string `json:"promotion_id"`
	DiscountMinor int64  `json:"discount_minor"`
}

// Producer writes promotion events to a Kafka topic.
type Producer struct {
	writer *kafka.Writer
}

// NewProducer creates a Producer for the given brokers and topic.
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

// PromotionsApplied emits one event per completed order, keyed by order id
// so per-order events stay on one partition.
func (p *Producer) PromotionsApplied(ctx context.Context, orderID, userID string, applied []promotion.SelectedPromotion) {
	evt := AppliedEvent{
		OrderID:    orderID,
		UserID:     userID,
		OccurredAt: time.Now().UTC(),
		Promotions: make([]AppliedEventPromotion, 0, len(applied)),
	}
	for _, sp := range applied {
		evt.Promotions = append(evt.Promotions, AppliedEventPromotion{
			PromotionID:   sp.PromotionID,
			DiscountMinor: sp.DiscountMinor,
		})
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		zctx.From(ctx).Warn("encoding promotions-applied event", zap.Error(err))
		return
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(orderID),
		Value: payload,
	})
	if err != nil {
		zctx.From(ctx).Warn("publishing promotions-applied event",
			zap.String("order_id", orderID), zap.Error(err))
	}
}

// Close flushes and closes the underlying writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
