// Package statuscache keeps the latest order status in redis so status
// reads skip the database.
package statuscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/model"
	"github.com/redis/go-redis/v9"
)

// KeyOrderStatus: salonbook:order_status:{order_id} -> {"status": "...", "updated_at": "..."}
const KeyOrderStatus = "salonbook:order_status:%s"

const DefaultTTL = 5 * time.Minute

type Entry struct {
	Status    model.OrderStatus `json:"status"`
	UpdatedAt time.Time         `json:"updated_at"`
}

type Cache interface {
	Set(ctx context.Context, orderID string, status model.OrderStatus) error
	Get(ctx context.Context, orderID string) (Entry, bool, error)
}

type Redis struct {
	rdb redis.Cmdable
	ttl time.Duration
	now func() time.Time
}

func NewRedis(rdb redis.Cmdable, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{rdb: rdb, ttl: ttl, now: time.Now}
}

func (c *Redis) Set(ctx context.Context, orderID string, status model.OrderStatus) error {
	raw, err := json.Marshal(Entry{Status: status, UpdatedAt: c.now().UTC()})
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, fmt.Sprintf(KeyOrderStatus, orderID), raw, c.ttl).Err()
}

func (c *Redis) Get(ctx context.Context, orderID string) (Entry, bool, error) {
	raw, err := c.rdb.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

// Noop never hits.
type Noop struct{}

func (Noop) Set(context.Context, string, model.OrderStatus) error { return nil }

func (Noop) Get(context.Context, string) (Entry, bool, error) { return Entry{}, false, nil }
