package storage

import (
	"time"

	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/model"
)

const (
	DefaultScheduleLimit = 4
	MaxScheduleLimit     = 100
)

type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// ScheduleQuery selects booked items. Without From and To only upcoming
// items (start >= Now) are returned.
type ScheduleQuery struct {
	From   *time.Time
	To     *time.Time
	Now    time.Time
	Limit  int
	Offset int
	Sort   SortOrder
}

// Normalize clamps paging and sort values.
func (q ScheduleQuery) Normalize() ScheduleQuery {
	if q.Limit <= 0 {
		q.Limit = DefaultScheduleLimit
	}
	if q.Limit > MaxScheduleLimit {
		q.Limit = MaxScheduleLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	if q.Sort != SortDesc {
		q.Sort = SortAsc
	}
	return q
}

// ScheduleStatuses are the item states the schedule view shows.
var ScheduleStatuses = []model.ItemStatus{model.ItemScheduled, model.ItemInProgress}

type ScheduleEntry struct {
	ItemID          string            `json:"item_id"`
	ItemStatus      model.ItemStatus  `json:"service_status"`
	ReservationDate time.Time         `json:"reservation_date"`
	EstimatedFinish time.Time         `json:"estimated_finish_date"`
	Price           int64             `json:"price"`
	Note            string            `json:"note,omitempty"`
	OrderID         string            `json:"transaction_id"`
	OrderCode       string            `json:"order_code"`
	OrderStatus     model.OrderStatus `json:"transaction_status"`
	OwnerID         string            `json:"user_id"`
	OwnerName       string            `json:"user_name,omitempty"`
	ProductID       string            `json:"product_id"`
	ProductName     string            `json:"product_name"`
	Employee        model.Assignment  `json:"-"`
	EmployeeName    string            `json:"employee_name,omitempty"`
}

type SchedulePage struct {
	Entries []ScheduleEntry `json:"data"`
	Total   int             `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

type OrderDetail struct {
	Order model.Order
	Items []OrderDetailItem
}

type OrderDetailItem struct {
	Item         model.OrderItem
	ProductName  string
	EmployeeName string
}
