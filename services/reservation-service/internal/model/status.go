package model

import "strings"

// OrderStatus is the billing state of an order. It is the single source of
// truth for payment.
type OrderStatus string

const (
	OrderCart      OrderStatus = "CART"
	OrderUnpaid    OrderStatus = "UNPAID"
	OrderPaid      OrderStatus = "PAID"
	OrderScheduled OrderStatus = "SCHEDULED" // legacy paid marker, still counted as active
	OrderCompleted OrderStatus = "COMPLETED"
	OrderCanceled  OrderStatus = "CANCELED"
	OrderExpired   OrderStatus = "EXPIRED"
)

func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderCompleted, OrderCanceled, OrderExpired:
		return true
	}
	return false
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderCart, OrderUnpaid, OrderPaid, OrderScheduled, OrderCompleted, OrderCanceled, OrderExpired:
		return true
	}
	return false
}

func ParseOrderStatus(raw string) (OrderStatus, bool) {
	s := OrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
	return s, s.Valid()
}

// ItemStatus is the service progress of a single order item.
type ItemStatus string

const (
	ItemCart       ItemStatus = "CART"
	ItemUnpaid     ItemStatus = "UNPAID"
	ItemPending    ItemStatus = "PENDING"
	ItemScheduled  ItemStatus = "SCHEDULED"
	ItemInProgress ItemStatus = "IN_PROGRESS"
	ItemCompleted  ItemStatus = "COMPLETED"
	ItemCanceled   ItemStatus = "CANCELED"
	ItemExpired    ItemStatus = "EXPIRED"
)

func (s ItemStatus) Terminal() bool {
	switch s {
	case ItemCompleted, ItemCanceled, ItemExpired:
		return true
	}
	return false
}

// Paid reports whether the item holds money that a cancellation must give
// back.
func (s ItemStatus) Paid() bool {
	return s == ItemScheduled || s == ItemInProgress
}

func (s ItemStatus) Valid() bool {
	switch s {
	case ItemCart, ItemUnpaid, ItemPending, ItemScheduled, ItemInProgress, ItemCompleted, ItemCanceled, ItemExpired:
		return true
	}
	return false
}

func ParseItemStatus(raw string) (ItemStatus, bool) {
	s := ItemStatus(strings.ToUpper(strings.TrimSpace(raw)))
	return s, s.Valid()
}

// OccupiesCapacity reports whether an item in this state blocks an employee.
func OccupiesCapacity(item ItemStatus, order OrderStatus) bool {
	if item != ItemScheduled && item != ItemInProgress {
		return false
	}
	return order == OrderPaid || order == OrderScheduled
}

type PaymentMethod string

const (
	PaymentBankTransfer PaymentMethod = "bank_transfer"
	PaymentGopay        PaymentMethod = "gopay"
	PaymentQRIS         PaymentMethod = "qris"
	PaymentCash         PaymentMethod = "cash"
)

func ParsePaymentMethod(raw string) (PaymentMethod, bool) {
	m := PaymentMethod(strings.ToLower(strings.TrimSpace(raw)))
	switch m {
	case PaymentBankTransfer, PaymentGopay, PaymentQRIS, PaymentCash:
		return m, true
	}
	return "", false
}
