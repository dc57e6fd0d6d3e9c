// Package memstore is an in-memory storage.Store. Transactions are
// serialized by one mutex and rolled back by restoring a snapshot.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/model"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/storage"
)

type state struct {
	employees     map[string]model.Employee
	products      map[string]model.Product
	cart          map[string]model.CartLine
	orders        map[string]model.Order
	items         map[string]model.OrderItem
	notifications map[string]storage.GatewayNotification
	events        []storage.Event
	published     int
}

func newState() *state {
	return &state{
		employees:     map[string]model.Employee{},
		products:      map[string]model.Product{},
		cart:          map[string]model.CartLine{},
		orders:        map[string]model.Order{},
		items:         map[string]model.OrderItem{},
		notifications: map[string]storage.GatewayNotification{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.employees {
		c.employees[k] = v
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.cart {
		c.cart[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.items {
		c.items[k] = v
	}
	for k, v := range s.notifications {
		c.notifications[k] = v
	}
	c.events = append([]storage.Event(nil), s.events...)
	c.published = s.published
	return c
}

type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

var (
	_ storage.Store  = (*Store)(nil)
	_ storage.Outbox = (*Store)(nil)
)

func New() *Store {
	return &Store{st: newState(), now: time.Now}
}

// SetClock replaces the clock used for updated_at stamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) AddEmployee(e model.Employee) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.employees[e.ID] = e
}

func (s *Store) AddProduct(p model.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.products[p.ID] = p
}

// Events returns a copy of every committed outbox event.
func (s *Store) Events() []storage.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storage.Event(nil), s.st.events...)
}

func (s *Store) NotificationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.notifications)
}

func (s *Store) CartLine(id string) (model.CartLine, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.st.cart[id]
	return l, ok
}

func (s *Store) WithinTx(ctx context.Context, fn func(storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(&tx{st: s.st, now: s.now}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

func (s *Store) CountEmployees(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.employees), nil
}

func (s *Store) GetProduct(_ context.Context, id string) (model.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.st.products[id]
	if !ok {
		return model.Product{}, storage.ErrNotFound
	}
	return p, nil
}

func (s *Store) ListBusyIntervals(_ context.Context, from, to time.Time) ([]model.BusyInterval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.busy(from, to), nil
}

func (s *Store) ListCartLines(_ context.Context, ownerID string) ([]model.CartLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.CartLine
	for _, l := range s.st.cart {
		if l.OwnerID == ownerID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) GetOrder(_ context.Context, id string) (model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.st.orders[id]
	if !ok {
		return model.Order{}, storage.ErrNotFound
	}
	return o, nil
}

func (s *Store) ListOrderItems(_ context.Context, orderID string) ([]model.OrderItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.orderItems(orderID), nil
}

func (s *Store) ListAwaitingPayment(_ context.Context, createdBefore time.Time, limit int) ([]model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	var out []model.Order
	for _, o := range s.st.orders {
		if o.Status == model.OrderUnpaid && o.PaymentMethod != model.PaymentCash && o.CreatedAt.Before(createdBefore) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (st *state) busy(from, to time.Time) []model.BusyInterval {
	var out []model.BusyInterval
	for _, it := range st.items {
		o, ok := st.orders[it.OrderID]
		if !ok || !model.OccupiesCapacity(it.Status, o.Status) {
			continue
		}
		if !it.Interval.Start.Before(to) || !it.End.After(from) {
			continue
		}
		out = append(out, model.BusyInterval{
			ItemID:      it.ID,
			OrderID:     it.OrderID,
			OwnerID:     o.OwnerID,
			Employee:    it.Employee,
			ItemStatus:  it.Status,
			OrderStatus: o.Status,
			Start:       it.Interval.Start,
			End:         it.End,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

func (st *state) orderItems(orderID string) []model.OrderItem {
	var out []model.OrderItem
	for _, it := range st.items {
		if it.OrderID == orderID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Interval.Start.Equal(out[j].Interval.Start) {
			return out[i].ID < out[j].ID
		}
		return out[i].Interval.Start.Before(out[j].Interval.Start)
	})
	return out
}

// PutOrder stores an order and its items as given, bypassing every rule.
func (s *Store) PutOrder(o model.Order, items ...model.OrderItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = o.CreatedAt
	}
	s.st.orders[o.ID] = o
	for _, it := range items {
		it.OrderID = o.ID
		s.st.items[it.ID] = it
	}
}

// PutCartLine stores a cart line as given.
func (s *Store) PutCartLine(l model.CartLine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.cart[l.ID] = l
}

// PublishBatch hands out events in append order. Events before the cursor
// count as published.
func (s *Store) PublishBatch(ctx context.Context, limit int, publish func(context.Context, []storage.OutboxRecord) error) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.st.events[s.st.published:]
	if len(pending) > limit {
		pending = pending[:limit]
	}
	if len(pending) == 0 {
		return 0, nil
	}
	recs := make([]storage.OutboxRecord, 0, len(pending))
	for i, e := range pending {
		recs = append(recs, storage.OutboxRecord{Seq: int64(s.st.published + i + 1), Event: e})
	}
	if err := publish(ctx, recs); err != nil {
		return 0, err
	}
	s.st.published += len(recs)
	return len(recs), nil
}

// Unpublished counts events the relay has not handed out yet.
func (s *Store) Unpublished() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.events) - s.st.published
}
