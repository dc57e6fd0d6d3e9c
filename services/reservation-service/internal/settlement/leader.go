package settlement

import (
	"context"

	"github.com/md-rashed-zaman/salonbook/libs/db"
)

// DefaultPollerLockKey is the session advisory lock held by the poll leader.
const DefaultPollerLockKey int64 = 0x5a10_0001

// PgLeader holds a session-level advisory lock on a dedicated connection, so
// the unlock runs on the same session that took the lock.
type PgLeader struct {
	pool *db.Pool
	key  int64
}

func NewPgLeader(pool *db.Pool, key int64) *PgLeader {
	if key == 0 {
		key = DefaultPollerLockKey
	}
	return &PgLeader{pool: pool, key: key}
}

func (l *PgLeader) Acquire(ctx context.Context) (func(), bool, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, false, err
	}
	var locked bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, l.key).Scan(&locked); err != nil {
		conn.Release()
		return nil, false, err
	}
	if !locked {
		conn.Release()
		return nil, false, nil
	}
	return func() {
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, l.key)
		conn.Release()
	}, true, nil
}
