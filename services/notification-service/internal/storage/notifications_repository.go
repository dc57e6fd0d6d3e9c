package storage

import (
	"context"
	"encoding/json"

	"github.com/md-rashed-zaman/salonbook/libs/db"
)

const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// Notification is one delivery attempt for a paid order.
type Notification struct {
	OrderID    string
	Channel    string
	Recipient  string
	Template   string
	Payload    map[string]any
	Status     string
	ProviderID string
	MessageID  string
	Error      string
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO notifications (order_id, channel, recipient, template, payload, status, provider_id, message_id, error_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''))
	`, n.OrderID, n.Channel, n.Recipient, n.Template, payload, n.Status, n.ProviderID, n.MessageID, n.Error)
	return err
}
