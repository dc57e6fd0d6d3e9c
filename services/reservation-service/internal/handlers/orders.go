package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/md-rashed-zaman/salonbook/libs/httpx"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/apperr"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/billing"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/model"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/storage"
)

type orderItemResponse struct {
	ID              string           `json:"id"`
	ProductID       string           `json:"product_id"`
	ProductName     string           `json:"product_name,omitempty"`
	EmployeeID      *string          `json:"employee_id"`
	EmployeeName    string           `json:"employee_name,omitempty"`
	ReservationDate time.Time        `json:"reservation_date"`
	EstimatedFinish time.Time        `json:"estimated_finish_date"`
	Price           int64            `json:"price"`
	Note            string           `json:"note,omitempty"`
	ServiceStatus   model.ItemStatus `json:"service_status"`
	IsReviewed      bool             `json:"is_reviewed"`
}

type paymentResponse struct {
	Method            model.PaymentMethod   `json:"payment_method,omitempty"`
	Bank              string                `json:"bank,omitempty"`
	TransactionID     string                `json:"transaction_id,omitempty"`
	PaymentType       string                `json:"payment_type,omitempty"`
	TransactionStatus string                `json:"transaction_status,omitempty"`
	FraudStatus       string                `json:"fraud_status,omitempty"`
	VANumber          string                `json:"va_number,omitempty"`
	Acquirer          string                `json:"acquirer,omitempty"`
	Actions           []model.PaymentAction `json:"actions,omitempty"`
	TransactionTime   *time.Time            `json:"transaction_time,omitempty"`
	ExpiryTime        *time.Time            `json:"expiry_time,omitempty"`
	SettlementTime    *time.Time            `json:"settlement_time,omitempty"`
}

type orderResponse struct {
	ID         string              `json:"id"`
	Code       string              `json:"order_code"`
	TotalPrice int64               `json:"total_price"`
	Status     model.OrderStatus   `json:"status"`
	Payment    paymentResponse     `json:"payment"`
	Items      []orderItemResponse `json:"items"`
	CreatedAt  time.Time           `json:"created_at"`
}

func (a *API) toItem(it model.OrderItem, productName, employeeName string) orderItemResponse {
	return orderItemResponse{
		ID:              it.ID,
		ProductID:       it.ProductID,
		ProductName:     productName,
		EmployeeID:      it.Employee.Ref(),
		EmployeeName:    employeeName,
		ReservationDate: it.Interval.Start,
		EstimatedFinish: it.End,
		Price:           it.Price,
		Note:            it.Note,
		ServiceStatus:   it.Status,
		IsReviewed:      it.IsReviewed,
	}
}

func (a *API) toOrder(o model.Order, items []model.OrderItem, detail []storage.OrderDetailItem) orderResponse {
	out := orderResponse{
		ID:         o.ID,
		Code:       o.Code,
		TotalPrice: o.TotalPrice,
		Status:     o.Status,
		CreatedAt:  o.CreatedAt,
		Payment: paymentResponse{
			Method:            o.PaymentMethod,
			Bank:              o.Bank,
			TransactionID:     o.Payment.TransactionID,
			PaymentType:       o.Payment.PaymentType,
			TransactionStatus: o.Payment.TransactionStatus,
			FraudStatus:       o.Payment.FraudStatus,
			VANumber:          o.Payment.VANumber,
			Acquirer:          o.Payment.Acquirer,
			Actions:           o.Payment.Actions,
			TransactionTime:   o.Payment.TransactionTime,
			ExpiryTime:        o.Payment.ExpiryTime,
			SettlementTime:    o.Payment.SettlementTime,
		},
		Items: []orderItemResponse{},
	}
	for _, it := range items {
		out.Items = append(out.Items, a.toItem(it, "", ""))
	}
	for _, d := range detail {
		out.Items = append(out.Items, a.toItem(d.Item, d.ProductName, d.EmployeeName))
	}
	return out
}

// getOrder serves the order-detail read model. The status comes from the
// status cache when present.
func (a *API) getOrder(w http.ResponseWriter, r *http.Request) {
	cust, ok := customer(r)
	if !ok {
		unauthenticated(w)
		return
	}
	id := chi.URLParam(r, "id")
	detail, err := a.Store.OrderDetail(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		a.writeError(w, r, apperr.NotFound("order"))
		return
	}
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if detail.Order.OwnerID != cust.ID {
		a.writeError(w, r, apperr.OwnershipMismatch("order"))
		return
	}

	resp := a.toOrder(detail.Order, nil, detail.Items)
	if entry, ok, err := a.Cache.Get(r.Context(), id); err != nil {
		a.Logger.WarnContext(r.Context(), "status cache read failed", "order_id", id, "err", err)
	} else if ok && entry.Status.Valid() {
		resp.Status = entry.Status
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (a *API) bill(w http.ResponseWriter, r *http.Request) {
	cust, ok := customer(r)
	if !ok {
		unauthenticated(w)
		return
	}
	method, ok := model.ParsePaymentMethod(r.URL.Query().Get("payment_method"))
	if !ok {
		a.writeError(w, r, apperr.Validation("unsupported payment method").WithDetail("payment_method", r.URL.Query().Get("payment_method")))
		return
	}
	bill, err := a.Billing.Bill(r.Context(), cust.ID, chi.URLParam(r, "id"), method)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, bill)
}

type payRequest struct {
	PaymentMethod string `json:"payment_method"`
	Bank          string `json:"bank"`
}

type payResponse struct {
	Order orderResponse `json:"order"`
	Bill  billing.Bill  `json:"bill"`
}

func (a *API) pay(w http.ResponseWriter, r *http.Request) {
	cust, ok := customer(r)
	if !ok {
		unauthenticated(w)
		return
	}
	var req payRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	res, err := a.Billing.Pay(r.Context(), cust, billing.PayRequest{
		OrderID: chi.URLParam(r, "id"),
		Method:  model.PaymentMethod(req.PaymentMethod),
		Bank:    req.Bank,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	items, err := a.Store.ListOrderItems(r.Context(), res.Order.ID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, payResponse{Order: a.toOrder(res.Order, items, nil), Bill: res.Bill})
}

type paymentStatusResponse struct {
	OrderID string            `json:"order_id"`
	Status  model.OrderStatus `json:"status"`
	Applied bool              `json:"applied"`
}

// paymentStatus pulls the gateway status on demand and reconciles it.
func (a *API) paymentStatus(w http.ResponseWriter, r *http.Request) {
	cust, ok := customer(r)
	if !ok {
		unauthenticated(w)
		return
	}
	id := chi.URLParam(r, "id")
	order, err := a.Store.GetOrder(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		a.writeError(w, r, apperr.NotFound("order"))
		return
	}
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if order.OwnerID != cust.ID {
		a.writeError(w, r, apperr.OwnershipMismatch("order"))
		return
	}

	applied := false
	if order.Status == model.OrderUnpaid && order.PaymentMethod != model.PaymentCash {
		applied, err = a.Poller.PollOrder(r.Context(), id)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		if applied {
			if order, err = a.Store.GetOrder(r.Context(), id); err != nil {
				a.writeError(w, r, err)
				return
			}
		}
	}
	httpx.WriteJSON(w, http.StatusOK, paymentStatusResponse{OrderID: id, Status: order.Status, Applied: applied})
}
