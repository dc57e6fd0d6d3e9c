// Package notify sends the fire-and-forget "order paid" message. Delivery
// failures never affect the payment state.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/salonbook/libs/kafkax"
	"github.com/segmentio/kafka-go"
)

const TopicOrderPaid = "reservation.order.paid.v1"

// OrderPaid is the payload consumed by the notification service.
type OrderPaid struct {
	OrderID         string    `json:"order_id"`
	OrderCode       string    `json:"order_code"`
	CustomerName    string    `json:"customer_name"`
	CustomerPhone   string    `json:"customer_phone,omitempty"`
	ServiceName     string    `json:"service_name"`
	ReservationDate string    `json:"reservation_date"`
	TotalPrice      int64     `json:"total_price"`
	PaidAt          time.Time `json:"paid_at"`
}

type Notifier interface {
	OrderPaid(ctx context.Context, evt OrderPaid) error
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type KafkaNotifier struct {
	writer MessageWriter
	logger *slog.Logger
}

func NewKafkaNotifier(w MessageWriter, logger *slog.Logger) *KafkaNotifier {
	return &KafkaNotifier{writer: w, logger: logger}
}

func (n *KafkaNotifier) OrderPaid(ctx context.Context, evt OrderPaid) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	meta := kafkax.EventMeta{EventID: uuid.NewString(), EventType: TopicOrderPaid}
	msg := kafka.Message{
		Topic:   TopicOrderPaid,
		Key:     []byte(evt.OrderID),
		Value:   payload,
		Headers: kafkax.InjectTraceHeaders(ctx, kafkax.MetaHeaders(meta)),
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return err
	}
	n.logger.InfoContext(ctx, "order paid notification sent", "order_id", evt.OrderID, "event_id", meta.EventID)
	return nil
}

// Noop drops every notification. Used when no broker is configured.
type Noop struct{}

func (Noop) OrderPaid(context.Context, OrderPaid) error { return nil }
