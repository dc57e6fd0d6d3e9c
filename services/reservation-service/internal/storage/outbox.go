package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// OutboxRecord is an unpublished outbox row with the trace context captured
// when the event was appended.
type OutboxRecord struct {
	Seq         int64
	Event       Event
	Traceparent string
	Tracestate  string
}

// Outbox is the relay side of the outbox table.
type Outbox interface {
	// PublishBatch hands up to limit unpublished records, oldest first, to
	// publish. The records are marked published only if publish returns nil.
	PublishBatch(ctx context.Context, limit int, publish func(ctx context.Context, recs []OutboxRecord) error) (int, error)
}

var _ Outbox = (*Postgres)(nil)

// PublishBatch locks the batch with SKIP LOCKED so several relays can run.
func (p *Postgres) PublishBatch(ctx context.Context, limit int, publish func(context.Context, []OutboxRecord) error) (int, error) {
	var n int
	err := p.pool.WithTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, event_id, aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate, created_at
			FROM outbox_events
			WHERE published_at IS NULL
			ORDER BY id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		`, limit)
		if err != nil {
			return err
		}
		var recs []OutboxRecord
		for rows.Next() {
			var r OutboxRecord
			if err := rows.Scan(&r.Seq, &r.Event.ID, &r.Event.AggregateType, &r.Event.AggregateID, &r.Event.EventType,
				&r.Event.Payload, &r.Traceparent, &r.Tracestate, &r.Event.CreatedAt); err != nil {
				rows.Close()
				return err
			}
			recs = append(recs, r)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(recs) == 0 {
			return nil
		}

		if err := publish(ctx, recs); err != nil {
			return err
		}
		ids := make([]int64, 0, len(recs))
		for _, r := range recs {
			ids = append(ids, r.Seq)
		}
		if _, err := tx.Exec(ctx, `UPDATE outbox_events SET published_at = now() WHERE id = ANY($1)`, ids); err != nil {
			return fmt.Errorf("mark published: %w", err)
		}
		n = len(recs)
		return nil
	})
	return n, err
}
