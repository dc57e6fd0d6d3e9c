// Package lifecycle owns the legal status transitions of orders and their
// items, and the rules that keep the two levels consistent.
package lifecycle

import "github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/model"

var orderNext = map[model.OrderStatus]map[model.OrderStatus]bool{
	// CART -> PAID covers a settlement that lands before the charge commit.
	model.OrderCart:      {model.OrderUnpaid: true, model.OrderPaid: true, model.OrderCanceled: true, model.OrderExpired: true},
	model.OrderUnpaid:    {model.OrderPaid: true, model.OrderCanceled: true, model.OrderExpired: true},
	model.OrderPaid:      {model.OrderCompleted: true, model.OrderCanceled: true},
	model.OrderScheduled: {model.OrderCompleted: true, model.OrderCanceled: true},
	model.OrderCompleted: {},
	model.OrderCanceled:  {},
	model.OrderExpired:   {},
}

var itemNext = map[model.ItemStatus]map[model.ItemStatus]bool{
	model.ItemCart:       {model.ItemUnpaid: true, model.ItemPending: true, model.ItemScheduled: true, model.ItemCanceled: true, model.ItemExpired: true},
	model.ItemUnpaid:     {model.ItemPending: true, model.ItemScheduled: true, model.ItemCanceled: true, model.ItemExpired: true},
	model.ItemPending:    {model.ItemScheduled: true, model.ItemCanceled: true, model.ItemExpired: true},
	model.ItemScheduled:  {model.ItemInProgress: true, model.ItemCanceled: true},
	model.ItemInProgress: {model.ItemCompleted: true, model.ItemCanceled: true},
	model.ItemCompleted:  {},
	model.ItemCanceled:   {},
	model.ItemExpired:    {},
}

func CanTransitionOrder(from, to model.OrderStatus) bool {
	return orderNext[from][to]
}

func CanTransitionItem(from, to model.ItemStatus) bool {
	return itemNext[from][to]
}

// CascadeItemStatus is the item status implied by an order status.
func CascadeItemStatus(order model.OrderStatus) model.ItemStatus {
	switch order {
	case model.OrderPaid, model.OrderScheduled:
		return model.ItemScheduled
	case model.OrderUnpaid:
		return model.ItemUnpaid
	case model.OrderCompleted:
		return model.ItemCompleted
	case model.OrderCanceled:
		return model.ItemCanceled
	case model.OrderExpired:
		return model.ItemExpired
	default:
		return model.ItemCart
	}
}

// DeriveOrderStatus folds item statuses into an order status. It reports
// false when the items imply no change.
func DeriveOrderStatus(items []model.ItemStatus) (model.OrderStatus, bool) {
	if len(items) == 0 {
		return "", false
	}
	canceled, completed := 0, 0
	for _, s := range items {
		switch s {
		case model.ItemInProgress:
			return "", false
		case model.ItemCanceled:
			canceled++
		case model.ItemCompleted:
			completed++
		}
	}
	switch {
	case canceled == len(items):
		return model.OrderCanceled, true
	case canceled+completed == len(items):
		return model.OrderCompleted, true
	}
	return "", false
}

// CompensatedTotal subtracts a canceled item's price, clamped at zero. The
// second result reports whether clamping happened.
func CompensatedTotal(total, price int64) (int64, bool) {
	next := total - price
	if next < 0 {
		return 0, true
	}
	return next, false
}

// RestoredTotal adds back the price of an item revived out of CANCELED.
func RestoredTotal(total, price int64) int64 {
	return total + price
}
