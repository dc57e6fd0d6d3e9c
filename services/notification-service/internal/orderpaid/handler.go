// Package orderpaid turns reservation.order.paid.v1 events into a WhatsApp
// message to the salon.
package orderpaid

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/md-rashed-zaman/salonbook/services/notification-service/internal/storage"
	"github.com/md-rashed-zaman/salonbook/services/notification-service/internal/whatsapp"
	"github.com/segmentio/kafka-go"
)

const Topic = "reservation.order.paid.v1"

// Event is the payload published by the reservation service.
type Event struct {
	OrderID         string `json:"order_id"`
	OrderCode       string `json:"order_code"`
	CustomerName    string `json:"customer_name"`
	CustomerPhone   string `json:"customer_phone"`
	ServiceName     string `json:"service_name"`
	ReservationDate string `json:"reservation_date"`
	TotalPrice      int64  `json:"total_price"`
}

type Recorder interface {
	Insert(ctx context.Context, n storage.Notification) error
}

type Handler struct {
	sender    whatsapp.Sender
	recorder  Recorder
	recipient string
	language  string
	logger    *slog.Logger
}

// NewHandler sends to recipient, the salon's own number.
func NewHandler(sender whatsapp.Sender, recorder Recorder, recipient, language string, logger *slog.Logger) *Handler {
	return &Handler{sender: sender, recorder: recorder, recipient: strings.TrimSpace(recipient), language: language, logger: logger}
}

// Handle never returns a send failure: it is recorded and the event is
// acknowledged. Only a failed insert asks for redelivery.
func (h *Handler) Handle(ctx context.Context, msg kafka.Message) error {
	var evt Event
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		h.logger.ErrorContext(ctx, "invalid order paid payload", "err", err)
		return nil
	}
	if evt.OrderID == "" || evt.CustomerName == "" || evt.ServiceName == "" || evt.ReservationDate == "" {
		h.logger.ErrorContext(ctx, "missing order paid fields", "order_id", evt.OrderID)
		return nil
	}

	n := storage.Notification{
		OrderID:    evt.OrderID,
		Channel:    "whatsapp",
		Recipient:  h.recipient,
		Template:   whatsapp.TemplateOrderNotification,
		ProviderID: h.sender.ProviderID(),
		Payload: map[string]any{
			"customer_name":    evt.CustomerName,
			"reservation_date": evt.ReservationDate,
			"service_name":     evt.ServiceName,
			"order_code":       evt.OrderCode,
		},
		Status: storage.StatusSent,
	}
	id, err := h.sender.Send(ctx, whatsapp.Message{
		To:       h.recipient,
		Template: whatsapp.TemplateOrderNotification,
		Language: h.language,
		Params:   []string{evt.CustomerName, evt.ReservationDate, evt.ServiceName},
	})
	if err != nil {
		n.Status = storage.StatusFailed
		n.Error = err.Error()
		h.logger.ErrorContext(ctx, "whatsapp send failed", "order_id", evt.OrderID, "err", err)
	}
	n.MessageID = id

	if err := h.recorder.Insert(ctx, n); err != nil {
		h.logger.ErrorContext(ctx, "failed to persist notification", "order_id", evt.OrderID, "err", err)
		return err
	}
	h.logger.InfoContext(ctx, "order paid notification processed", "order_id", evt.OrderID, "status", n.Status)
	return nil
}
