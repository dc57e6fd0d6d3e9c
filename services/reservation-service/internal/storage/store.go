// Package storage defines the persistence contract of the reservation core
// and its Postgres implementation.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/model"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
)

// Store is the entry point for reads outside a transaction and for
// transactional units of work.
type Store interface {
	Reader
	// WithinTx runs fn in one transaction. A non-nil error from fn rolls back
	// every write made through tx.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

type Reader interface {
	CountEmployees(ctx context.Context) (int, error)
	GetProduct(ctx context.Context, id string) (model.Product, error)
	ListBusyIntervals(ctx context.Context, from, to time.Time) ([]model.BusyInterval, error)
	ListCartLines(ctx context.Context, ownerID string) ([]model.CartLine, error)
	GetOrder(ctx context.Context, id string) (model.Order, error)
	ListOrderItems(ctx context.Context, orderID string) ([]model.OrderItem, error)
	OrderDetail(ctx context.Context, orderID string) (OrderDetail, error)
	Schedule(ctx context.Context, q ScheduleQuery) (SchedulePage, error)
	ListAwaitingPayment(ctx context.Context, createdBefore time.Time, limit int) ([]model.Order, error)
}

// Tx is the set of operations available inside a unit of work. Methods named
// ForUpdate lock the returned rows until the transaction ends.
type Tx interface {
	// LockCapacityDay serializes capacity decisions for one business day.
	LockCapacityDay(ctx context.Context, day time.Time) error
	CountEmployees(ctx context.Context) (int, error)
	GetEmployee(ctx context.Context, id string) (model.Employee, error)
	GetProduct(ctx context.Context, id string) (model.Product, error)
	ListBusyIntervals(ctx context.Context, from, to time.Time) ([]model.BusyInterval, error)

	InsertCartLine(ctx context.Context, line model.CartLine) error
	GetCartLineForUpdate(ctx context.Context, id string) (model.CartLine, error)
	// LockCartLine flips lockedForCheckout only if the line is still owned by
	// ownerID and unlocked. It reports whether a row changed.
	LockCartLine(ctx context.Context, id, ownerID string) (bool, error)
	UnlockCartLines(ctx context.Context, ownerID string, ids []string) error
	// DeleteCartLine removes an unlocked line owned by ownerID.
	DeleteCartLine(ctx context.Context, ownerID, id string) (bool, error)
	DeleteLockedCartLines(ctx context.Context, ownerID string, ids []string) (int, error)

	InsertOrder(ctx context.Context, o model.Order) error
	InsertOrderItem(ctx context.Context, it model.OrderItem) error
	GetOrderForUpdate(ctx context.Context, id string) (model.Order, error)
	ListOrderItemsForUpdate(ctx context.Context, orderID string) ([]model.OrderItem, error)
	GetOrderItemForUpdate(ctx context.Context, id string) (model.OrderItem, error)
	UpdateOrderStatus(ctx context.Context, id string, status model.OrderStatus) error
	UpdateOrderTotal(ctx context.Context, id string, total int64) error
	UpdateOrderPayment(ctx context.Context, id string, method model.PaymentMethod, bank string, info model.PaymentInfo) error
	UpdateItemStatus(ctx context.Context, id string, status model.ItemStatus) error
	UpdateItemSchedule(ctx context.Context, id string, iv model.Interval, end time.Time) error
	UpdateItemEmployee(ctx context.Context, id string, a model.Assignment) error
	DeleteEmptyOrders(ctx context.Context, createdBefore time.Time) (int, error)

	// RecordNotification stores a raw gateway notification. It returns false
	// when the same payload was already recorded.
	RecordNotification(ctx context.Context, n GatewayNotification) (bool, error)
	AppendEvent(ctx context.Context, evt Event) error
}

type GatewayNotification struct {
	Digest            string
	OrderID           string
	Source            string
	TransactionStatus string
	StatusCode        string
	FraudStatus       string
	GrossAmount       string
	Payload           []byte
	ReceivedAt        time.Time
}

// Event is an outbox row. It is published after commit by the outbox relay.
type Event struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// CapacityLockKey maps a business day to an advisory lock key.
func CapacityLockKey(day time.Time) int64 {
	const namespace int64 = 0x5a10 << 32
	return namespace | int64(day.Year()*10000+int(day.Month())*100+day.Day())
}
