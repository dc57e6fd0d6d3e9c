package memstore

import (
	"context"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/model"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/storage"
)

type tx struct {
	st  *state
	now func() time.Time
}

var _ storage.Tx = (*tx)(nil)

// LockCapacityDay is a no-op: the store mutex already serializes every
// transaction.
func (t *tx) LockCapacityDay(context.Context, time.Time) error { return nil }

func (t *tx) CountEmployees(context.Context) (int, error) { return len(t.st.employees), nil }

func (t *tx) GetEmployee(_ context.Context, id string) (model.Employee, error) {
	e, ok := t.st.employees[id]
	if !ok {
		return model.Employee{}, storage.ErrNotFound
	}
	return e, nil
}

func (t *tx) GetProduct(_ context.Context, id string) (model.Product, error) {
	p, ok := t.st.products[id]
	if !ok {
		return model.Product{}, storage.ErrNotFound
	}
	return p, nil
}

func (t *tx) ListBusyIntervals(_ context.Context, from, to time.Time) ([]model.BusyInterval, error) {
	return t.st.busy(from, to), nil
}

func (t *tx) InsertCartLine(_ context.Context, line model.CartLine) error {
	if _, ok := t.st.cart[line.ID]; ok {
		return fmt.Errorf("cart line %s: %w", line.ID, storage.ErrDuplicate)
	}
	if _, ok := t.st.products[line.ProductID]; !ok {
		return fmt.Errorf("product %s: %w", line.ProductID, storage.ErrNotFound)
	}
	t.st.cart[line.ID] = line
	return nil
}

func (t *tx) GetCartLineForUpdate(_ context.Context, id string) (model.CartLine, error) {
	l, ok := t.st.cart[id]
	if !ok {
		return model.CartLine{}, storage.ErrNotFound
	}
	return l, nil
}

func (t *tx) LockCartLine(_ context.Context, id, ownerID string) (bool, error) {
	l, ok := t.st.cart[id]
	if !ok || l.OwnerID != ownerID || l.LockedForCheckout {
		return false, nil
	}
	l.LockedForCheckout = true
	t.st.cart[id] = l
	return true, nil
}

func (t *tx) UnlockCartLines(_ context.Context, ownerID string, ids []string) error {
	for _, id := range ids {
		if l, ok := t.st.cart[id]; ok && l.OwnerID == ownerID {
			l.LockedForCheckout = false
			t.st.cart[id] = l
		}
	}
	return nil
}

func (t *tx) DeleteCartLine(_ context.Context, ownerID, id string) (bool, error) {
	l, ok := t.st.cart[id]
	if !ok || l.OwnerID != ownerID || l.LockedForCheckout {
		return false, nil
	}
	delete(t.st.cart, id)
	return true, nil
}

func (t *tx) DeleteLockedCartLines(_ context.Context, ownerID string, ids []string) (int, error) {
	n := 0
	for _, id := range ids {
		if l, ok := t.st.cart[id]; ok && l.OwnerID == ownerID && l.LockedForCheckout {
			delete(t.st.cart, id)
			n++
		}
	}
	return n, nil
}

func (t *tx) InsertOrder(_ context.Context, o model.Order) error {
	if _, ok := t.st.orders[o.ID]; ok {
		return fmt.Errorf("order %s: %w", o.ID, storage.ErrDuplicate)
	}
	for _, existing := range t.st.orders {
		if existing.Code == o.Code {
			return fmt.Errorf("order code %s: %w", o.Code, storage.ErrDuplicate)
		}
	}
	o.UpdatedAt = o.CreatedAt
	t.st.orders[o.ID] = o
	return nil
}

func (t *tx) InsertOrderItem(_ context.Context, it model.OrderItem) error {
	if _, ok := t.st.items[it.ID]; ok {
		return fmt.Errorf("order item %s: %w", it.ID, storage.ErrDuplicate)
	}
	if _, ok := t.st.orders[it.OrderID]; !ok {
		return fmt.Errorf("order %s: %w", it.OrderID, storage.ErrNotFound)
	}
	t.st.items[it.ID] = it
	return nil
}

func (t *tx) GetOrderForUpdate(_ context.Context, id string) (model.Order, error) {
	o, ok := t.st.orders[id]
	if !ok {
		return model.Order{}, storage.ErrNotFound
	}
	return o, nil
}

func (t *tx) ListOrderItemsForUpdate(_ context.Context, orderID string) ([]model.OrderItem, error) {
	return t.st.orderItems(orderID), nil
}

func (t *tx) GetOrderItemForUpdate(_ context.Context, id string) (model.OrderItem, error) {
	it, ok := t.st.items[id]
	if !ok {
		return model.OrderItem{}, storage.ErrNotFound
	}
	return it, nil
}

func (t *tx) updateOrder(id string, fn func(*model.Order)) error {
	o, ok := t.st.orders[id]
	if !ok {
		return storage.ErrNotFound
	}
	fn(&o)
	o.UpdatedAt = t.now()
	t.st.orders[id] = o
	return nil
}

func (t *tx) updateItem(id string, fn func(*model.OrderItem)) error {
	it, ok := t.st.items[id]
	if !ok {
		return storage.ErrNotFound
	}
	fn(&it)
	t.st.items[id] = it
	return nil
}

func (t *tx) UpdateOrderStatus(_ context.Context, id string, status model.OrderStatus) error {
	return t.updateOrder(id, func(o *model.Order) { o.Status = status })
}

func (t *tx) UpdateOrderTotal(_ context.Context, id string, total int64) error {
	return t.updateOrder(id, func(o *model.Order) { o.TotalPrice = total })
}

func (t *tx) UpdateOrderPayment(_ context.Context, id string, method model.PaymentMethod, bank string, info model.PaymentInfo) error {
	return t.updateOrder(id, func(o *model.Order) {
		o.PaymentMethod = method
		o.Bank = bank
		o.Payment = info
	})
}

func (t *tx) UpdateItemStatus(_ context.Context, id string, status model.ItemStatus) error {
	return t.updateItem(id, func(it *model.OrderItem) { it.Status = status })
}

func (t *tx) UpdateItemSchedule(_ context.Context, id string, iv model.Interval, end time.Time) error {
	return t.updateItem(id, func(it *model.OrderItem) {
		it.Interval = iv
		it.End = end
	})
}

func (t *tx) UpdateItemEmployee(_ context.Context, id string, a model.Assignment) error {
	return t.updateItem(id, func(it *model.OrderItem) { it.Employee = a })
}

func (t *tx) DeleteEmptyOrders(_ context.Context, createdBefore time.Time) (int, error) {
	used := map[string]bool{}
	for _, it := range t.st.items {
		used[it.OrderID] = true
	}
	n := 0
	for id, o := range t.st.orders {
		if !used[id] && o.CreatedAt.Before(createdBefore) {
			delete(t.st.orders, id)
			n++
		}
	}
	return n, nil
}

func (t *tx) RecordNotification(_ context.Context, n storage.GatewayNotification) (bool, error) {
	if _, ok := t.st.notifications[n.Digest]; ok {
		return false, nil
	}
	t.st.notifications[n.Digest] = n
	return true, nil
}

func (t *tx) AppendEvent(_ context.Context, evt storage.Event) error {
	for _, e := range t.st.events {
		if e.ID == evt.ID {
			return fmt.Errorf("event %s: %w", evt.ID, storage.ErrDuplicate)
		}
	}
	t.st.events = append(t.st.events, evt)
	return nil
}
