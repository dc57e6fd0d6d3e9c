package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/md-rashed-zaman/salonbook/libs/httpx"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/apperr"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/lifecycle"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/model"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/storage"
)

func notFoundAs(err error, replacement error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return replacement
	}
	return err
}

type scheduleEntryResponse struct {
	storage.ScheduleEntry
	EmployeeID *string `json:"employee_id"`
}

func (a *API) schedule(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := storage.ScheduleQuery{Now: a.Now(), Sort: storage.SortOrder(q.Get("sort"))}

	var err error
	if query.Limit, err = intParam(q.Get("limit")); err != nil {
		a.writeError(w, r, apperr.Validation("limit must be a number"))
		return
	}
	if query.Offset, err = intParam(q.Get("offset")); err != nil {
		a.writeError(w, r, apperr.Validation("offset must be a number"))
		return
	}
	if query.From, err = timeParam(q.Get("from")); err != nil {
		a.writeError(w, r, apperr.Validation("from must be RFC3339"))
		return
	}
	if query.To, err = timeParam(q.Get("to")); err != nil {
		a.writeError(w, r, apperr.Validation("to must be RFC3339"))
		return
	}
	if query.From != nil && query.To != nil && query.To.Before(*query.From) {
		a.writeError(w, r, apperr.Validation("to must not be before from"))
		return
	}

	page, err := a.Store.Schedule(r.Context(), query.Normalize())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	entries := make([]scheduleEntryResponse, 0, len(page.Entries))
	for _, e := range page.Entries {
		entries = append(entries, scheduleEntryResponse{ScheduleEntry: e, EmployeeID: e.Employee.Ref()})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"data":   entries,
		"total":  page.Total,
		"limit":  page.Limit,
		"offset": page.Offset,
	})
}

type statusRequest struct {
	Status string `json:"status"`
	Force  bool   `json:"force"`
}

type transitionResponse struct {
	OrderID     string            `json:"order_id"`
	Applied     bool              `json:"applied"`
	From        model.OrderStatus `json:"from"`
	Status      model.OrderStatus `json:"status"`
	TotalPrice  int64             `json:"total_price"`
	Compensated int64             `json:"compensated,omitempty"`
}

func toTransition(res lifecycle.Result) transitionResponse {
	return transitionResponse{
		OrderID:     res.Order.ID,
		Applied:     res.Applied,
		From:        res.From,
		Status:      res.Order.Status,
		TotalPrice:  res.Order.TotalPrice,
		Compensated: res.Compensated,
	}
}

func (a *API) overrideOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	status, ok := model.ParseOrderStatus(req.Status)
	if !ok {
		a.writeError(w, r, apperr.Validation("unknown order status").WithDetail("status", req.Status))
		return
	}
	res, err := a.Admin.UpdateOrderStatus(r.Context(), chi.URLParam(r, "id"), status)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toTransition(res))
}

func (a *API) updateItemStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	status, ok := model.ParseItemStatus(req.Status)
	if !ok {
		a.writeError(w, r, apperr.Validation("unknown item status").WithDetail("status", req.Status))
		return
	}
	res, err := a.Admin.UpdateItemStatus(r.Context(), chi.URLParam(r, "id"), status, req.Force)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toTransition(res))
}

type rescheduleRequest struct {
	ReservationDate string `json:"reservation_date"`
}

func (a *API) rescheduleItem(w http.ResponseWriter, r *http.Request) {
	var req rescheduleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	start, err := time.Parse(time.RFC3339, req.ReservationDate)
	if err != nil {
		a.writeError(w, r, apperr.Validation("reservation_date must be RFC3339"))
		return
	}
	item, err := a.Admin.Reschedule(r.Context(), chi.URLParam(r, "id"), start)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, a.toItem(item, "", ""))
}

type assignRequest struct {
	EmployeeID string `json:"employee_id"`
}

func (a *API) assignEmployee(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	item, err := a.Admin.AssignEmployee(r.Context(), chi.URLParam(r, "id"), req.EmployeeID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, a.toItem(item, "", ""))
}

func (a *API) gatewayAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	applied, err := a.Admin.GatewayAction(r.Context(), id, chi.URLParam(r, "action"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	order, err := a.Store.GetOrder(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"order_id": id, "applied": applied, "status": order.Status})
}

func (a *API) cleanupEmptyOrders(w http.ResponseWriter, r *http.Request) {
	olderThan := time.Duration(0)
	if raw := r.URL.Query().Get("older_than"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			a.writeError(w, r, apperr.Validation("older_than must be a duration such as 24h"))
			return
		}
		olderThan = d
	}
	n, err := a.Admin.CleanupEmptyOrders(r.Context(), olderThan)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"deleted": n})
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func timeParam(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
