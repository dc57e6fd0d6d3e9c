package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/apperr"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/model"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/storage"
)

const (
	EventOrderStatusChanged = "reservation.order.status_changed.v1"
	EventItemStatusChanged  = "reservation.item.status_changed.v1"
)

// Source labels who asked for a transition. It ends up in the outbox event.
type Source string

const (
	SourceCheckout Source = "checkout"
	SourcePayment  Source = "payment"
	SourceWebhook  Source = "webhook"
	SourcePoll     Source = "poll"
	SourceAdmin    Source = "admin"
)

// Result describes the effect of one transition request on an order.
type Result struct {
	Applied     bool
	From        model.OrderStatus
	Order       model.Order
	Items       []model.OrderItem
	// Compensated is the net amount taken off the total. Reviving canceled
	// items makes it negative.
	Compensated int64
}

// BecamePaid is true when this call moved the order into PAID.
func (r Result) BecamePaid() bool {
	return r.Applied && r.From != model.OrderPaid && r.Order.Status == model.OrderPaid
}

// Machine applies transitions inside a caller-owned transaction. Illegal
// transitions are absorbed and logged, never returned as errors.
type Machine struct {
	logger *slog.Logger
	now    func() time.Time
}

func NewMachine(logger *slog.Logger, now func() time.Time) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Machine{logger: logger, now: now}
}

// ApplyOrderTransition moves the order to target and every item that may
// legally follow to itemTarget. A target equal to the current order status
// still cascades to lagging items.
func (m *Machine) ApplyOrderTransition(ctx context.Context, tx storage.Tx, orderID string, target model.OrderStatus, itemTarget model.ItemStatus, src Source) (Result, error) {
	order, items, err := m.load(ctx, tx, orderID)
	if err != nil {
		return Result{}, err
	}
	res := Result{From: order.Status, Order: order, Items: items}

	if order.Status != target && !CanTransitionOrder(order.Status, target) {
		m.absorbed(ctx, "order", orderID, string(order.Status), string(target), src)
		return res, nil
	}

	changed := 0
	for i := range res.Items {
		it := &res.Items[i]
		if !CanTransitionItem(it.Status, itemTarget) {
			continue
		}
		if err := m.setItemStatus(ctx, tx, &res, it, itemTarget); err != nil {
			return Result{}, err
		}
		changed++
	}

	if order.Status != target {
		if err := tx.UpdateOrderStatus(ctx, orderID, target); err != nil {
			return Result{}, fmt.Errorf("update order status: %w", err)
		}
		res.Order.Status = target
	} else if changed == 0 {
		return res, nil
	}
	res.Applied = true
	return res, m.appendOrderEvent(ctx, tx, res, src)
}

// ApplyItemTransition progresses one item and re-derives its order.
func (m *Machine) ApplyItemTransition(ctx context.Context, tx storage.Tx, itemID string, target model.ItemStatus, src Source) (Result, error) {
	return m.itemTransition(ctx, tx, itemID, target, src, false)
}

// ForceItemStatus sets an item status without the guard. Compensation and
// derivation still run.
func (m *Machine) ForceItemStatus(ctx context.Context, tx storage.Tx, itemID string, target model.ItemStatus) (Result, error) {
	return m.itemTransition(ctx, tx, itemID, target, SourceAdmin, true)
}

func (m *Machine) itemTransition(ctx context.Context, tx storage.Tx, itemID string, target model.ItemStatus, src Source, force bool) (Result, error) {
	item, err := tx.GetOrderItemForUpdate(ctx, itemID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Result{}, apperr.NotFound("order item")
		}
		return Result{}, fmt.Errorf("load order item: %w", err)
	}
	order, items, err := m.load(ctx, tx, item.OrderID)
	if err != nil {
		return Result{}, err
	}
	res := Result{From: order.Status, Order: order, Items: items}

	idx := -1
	for i := range res.Items {
		if res.Items[i].ID == itemID {
			idx = i
		}
	}
	if idx < 0 {
		return Result{}, fmt.Errorf("item %s missing from order %s", itemID, order.ID)
	}
	it := &res.Items[idx]
	if it.Status == target {
		return res, nil
	}
	if !force && !CanTransitionItem(it.Status, target) {
		m.absorbed(ctx, "item", itemID, string(it.Status), string(target), src)
		return res, nil
	}
	from := it.Status
	if err := m.setItemStatus(ctx, tx, &res, it, target); err != nil {
		return Result{}, err
	}
	res.Applied = true

	if err := m.derive(ctx, tx, &res, force); err != nil {
		return Result{}, err
	}
	if err := m.appendItemEvent(ctx, tx, res, *it, from, src); err != nil {
		return Result{}, err
	}
	if res.Order.Status != res.From {
		return res, m.appendOrderEvent(ctx, tx, res, src)
	}
	return res, nil
}

// ForceOrderStatus is the operator override. It skips the order guard and
// cascades the implied item status to every non-terminal item. When the
// order itself was terminal, terminal items are revived too.
func (m *Machine) ForceOrderStatus(ctx context.Context, tx storage.Tx, orderID string, target model.OrderStatus) (Result, error) {
	if !target.Valid() {
		return Result{}, apperr.Validation("unknown order status")
	}
	order, items, err := m.load(ctx, tx, orderID)
	if err != nil {
		return Result{}, err
	}
	res := Result{From: order.Status, Order: order, Items: items}
	itemTarget := CascadeItemStatus(target)
	revive := order.Status.Terminal()

	changed := 0
	for i := range res.Items {
		it := &res.Items[i]
		if it.Status == itemTarget || (it.Status.Terminal() && !revive) {
			continue
		}
		if err := m.setItemStatus(ctx, tx, &res, it, itemTarget); err != nil {
			return Result{}, err
		}
		changed++
	}
	if order.Status == target && changed == 0 {
		return res, nil
	}
	if order.Status != target {
		if err := tx.UpdateOrderStatus(ctx, orderID, target); err != nil {
			return Result{}, fmt.Errorf("update order status: %w", err)
		}
		res.Order.Status = target
	}
	res.Applied = true
	return res, m.appendOrderEvent(ctx, tx, res, SourceAdmin)
}

func (m *Machine) load(ctx context.Context, tx storage.Tx, orderID string) (model.Order, []model.OrderItem, error) {
	order, err := tx.GetOrderForUpdate(ctx, orderID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.Order{}, nil, apperr.NotFound("order")
		}
		return model.Order{}, nil, fmt.Errorf("load order: %w", err)
	}
	items, err := tx.ListOrderItemsForUpdate(ctx, orderID)
	if err != nil {
		return model.Order{}, nil, fmt.Errorf("load order items: %w", err)
	}
	return order, items, nil
}

// setItemStatus writes the item status and keeps the order total equal to the
// price of its live items: entering CANCELED takes the price off, leaving
// CANCELED puts it back.
func (m *Machine) setItemStatus(ctx context.Context, tx storage.Tx, res *Result, it *model.OrderItem, target model.ItemStatus) error {
	from := it.Status
	if err := tx.UpdateItemStatus(ctx, it.ID, target); err != nil {
		return fmt.Errorf("update item status: %w", err)
	}
	it.Status = target

	total := res.Order.TotalPrice
	switch {
	case target == model.ItemCanceled && from != model.ItemCanceled:
		next, clamped := CompensatedTotal(total, it.Price)
		if clamped {
			m.logger.WarnContext(ctx, "order total clamped at zero",
				"order_id", res.Order.ID, "item_id", it.ID, "total", total, "item_price", it.Price)
		}
		res.Compensated += total - next
		total = next
	case from == model.ItemCanceled && target != model.ItemCanceled:
		total = RestoredTotal(total, it.Price)
		res.Compensated -= it.Price
	default:
		return nil
	}
	if err := tx.UpdateOrderTotal(ctx, res.Order.ID, total); err != nil {
		return fmt.Errorf("update order total: %w", err)
	}
	res.Order.TotalPrice = total
	return nil
}

func (m *Machine) derive(ctx context.Context, tx storage.Tx, res *Result, force bool) error {
	if res.Order.Status.Terminal() && !force {
		return nil
	}
	statuses := make([]model.ItemStatus, 0, len(res.Items))
	for _, it := range res.Items {
		statuses = append(statuses, it.Status)
	}
	next, ok := DeriveOrderStatus(statuses)
	if !ok || next == res.Order.Status {
		return nil
	}
	if err := tx.UpdateOrderStatus(ctx, res.Order.ID, next); err != nil {
		return fmt.Errorf("update derived order status: %w", err)
	}
	res.Order.Status = next
	return nil
}

func (m *Machine) absorbed(ctx context.Context, kind, id, from, to string, src Source) {
	m.logger.InfoContext(ctx, "transition absorbed",
		"entity", kind, "id", id, "from", from, "to", to, "source", string(src))
}

type orderStatusChanged struct {
	OrderID     string            `json:"order_id"`
	OrderCode   string            `json:"order_code"`
	OwnerID     string            `json:"owner_id"`
	From        model.OrderStatus `json:"from"`
	To          model.OrderStatus `json:"to"`
	TotalPrice  int64             `json:"total_price"`
	Compensated int64             `json:"compensated,omitempty"`
	Source      Source            `json:"source"`
	OccurredAt  string            `json:"occurred_at"`
}

type itemStatusChanged struct {
	ItemID     string           `json:"item_id"`
	OrderID    string           `json:"order_id"`
	From       model.ItemStatus `json:"from"`
	To         model.ItemStatus `json:"to"`
	Source     Source           `json:"source"`
	OccurredAt string           `json:"occurred_at"`
}

func (m *Machine) appendOrderEvent(ctx context.Context, tx storage.Tx, res Result, src Source) error {
	payload, err := json.Marshal(orderStatusChanged{
		OrderID:     res.Order.ID,
		OrderCode:   res.Order.Code,
		OwnerID:     res.Order.OwnerID,
		From:        res.From,
		To:          res.Order.Status,
		TotalPrice:  res.Order.TotalPrice,
		Compensated: res.Compensated,
		Source:      src,
		OccurredAt:  m.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return tx.AppendEvent(ctx, storage.Event{
		ID:            uuid.NewString(),
		AggregateType: "order",
		AggregateID:   res.Order.ID,
		EventType:     EventOrderStatusChanged,
		Payload:       payload,
		CreatedAt:     m.now(),
	})
}

func (m *Machine) appendItemEvent(ctx context.Context, tx storage.Tx, res Result, it model.OrderItem, from model.ItemStatus, src Source) error {
	payload, err := json.Marshal(itemStatusChanged{
		ItemID:     it.ID,
		OrderID:    res.Order.ID,
		From:       from,
		To:         it.Status,
		Source:     src,
		OccurredAt: m.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return tx.AppendEvent(ctx, storage.Event{
		ID:            uuid.NewString(),
		AggregateType: "order_item",
		AggregateID:   it.ID,
		EventType:     EventItemStatusChanged,
		Payload:       payload,
		CreatedAt:     m.now(),
	})
}
