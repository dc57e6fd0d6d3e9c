// Package inbox records consumed event ids so redelivered messages are
// acknowledged without being handled twice.
package inbox

import (
	"context"

	"github.com/md-rashed-zaman/salonbook/libs/db"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Processed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM inbox_events WHERE event_id = $1)`, eventID).Scan(&exists)
	return exists, err
}

func (r *Repository) MarkProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO inbox_events (event_id, event_type, processed_at)
		VALUES ($1, $2, now())
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, eventType)
	return err
}
