package model

import "time"

// Interval is a reservation: a start and a length in business units.
type Interval struct {
	Start         time.Time
	DurationUnits int
}

func (i Interval) End(unit time.Duration) time.Time {
	return i.Start.Add(time.Duration(i.DurationUnits) * unit)
}

type Product struct {
	ID              string
	Name            string
	Price           int64
	EstimationUnits int
}

type Employee struct {
	ID      string
	Name    string
	Contact string
}

type CartLine struct {
	ID                string
	OwnerID           string
	ProductID         string
	Interval          Interval
	Price             int64
	Note              string
	LockedForCheckout bool
	CreatedAt         time.Time
}

type Order struct {
	ID            string
	OwnerID       string
	OwnerName     string
	OwnerPhone    string
	Code          string
	TotalPrice    int64
	Status        OrderStatus
	PaymentMethod PaymentMethod
	Bank          string
	Payment       PaymentInfo
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PaymentInfo mirrors the gateway reference fields kept on an order.
type PaymentInfo struct {
	TransactionID     string
	PaymentType       string
	TransactionStatus string
	FraudStatus       string
	VANumber          string
	Acquirer          string
	Actions           []PaymentAction
	TransactionTime   *time.Time
	ExpiryTime        *time.Time
	SettlementTime    *time.Time
}

type PaymentAction struct {
	Name   string `json:"name"`
	Method string `json:"method"`
	URL    string `json:"url"`
}

type OrderItem struct {
	ID         string
	OrderID    string
	CartLineID string
	ProductID  string
	Employee   Assignment
	Interval   Interval
	End        time.Time
	Price      int64
	Note       string
	Status     ItemStatus
	IsReviewed bool
}

// BusyInterval is a committed item as the availability evaluator sees it.
type BusyInterval struct {
	ItemID      string
	OrderID     string
	OwnerID     string
	Employee    Assignment
	ItemStatus  ItemStatus
	OrderStatus OrderStatus
	Start       time.Time
	End         time.Time
}
