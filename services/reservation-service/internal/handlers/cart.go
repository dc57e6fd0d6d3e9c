package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/md-rashed-zaman/salonbook/libs/httpx"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/apperr"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/cart"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/model"
)

type addCartLineRequest struct {
	ProductID       string `json:"product_id"`
	ReservationDate string `json:"reservation_date"`
	Note            string `json:"note"`
}

type cartLineResponse struct {
	ID              string    `json:"id"`
	ProductID       string    `json:"product_id"`
	ReservationDate time.Time `json:"reservation_date"`
	EstimationUnits int       `json:"estimation"`
	EstimatedFinish time.Time `json:"estimated_finish_date"`
	Price           int64     `json:"price"`
	Note            string    `json:"note,omitempty"`
	Locked          bool      `json:"locked_for_checkout"`
}

func (a *API) toCartLine(l model.CartLine) cartLineResponse {
	return cartLineResponse{
		ID:              l.ID,
		ProductID:       l.ProductID,
		ReservationDate: l.Interval.Start,
		EstimationUnits: l.Interval.DurationUnits,
		EstimatedFinish: a.Evaluator.End(l.Interval),
		Price:           l.Price,
		Note:            l.Note,
		Locked:          l.LockedForCheckout,
	}
}

func (a *API) addCartLine(w http.ResponseWriter, r *http.Request) {
	cust, ok := customer(r)
	if !ok {
		unauthenticated(w)
		return
	}
	var req addCartLineRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	start, err := time.Parse(time.RFC3339, req.ReservationDate)
	if err != nil {
		a.writeError(w, r, apperr.Validation("reservation_date must be RFC3339"))
		return
	}
	line, err := a.Cart.Add(r.Context(), cust.ID, cart.AddRequest{ProductID: req.ProductID, Start: start, Note: req.Note})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, a.toCartLine(line))
}

func (a *API) listCart(w http.ResponseWriter, r *http.Request) {
	cust, ok := customer(r)
	if !ok {
		unauthenticated(w)
		return
	}
	lines, err := a.Cart.List(r.Context(), cust.ID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	out := make([]cartLineResponse, 0, len(lines))
	for _, l := range lines {
		out = append(out, a.toCartLine(l))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"data": out})
}

func (a *API) deleteCartLine(w http.ResponseWriter, r *http.Request) {
	cust, ok := customer(r)
	if !ok {
		unauthenticated(w)
		return
	}
	if err := a.Cart.Delete(r.Context(), cust.ID, chi.URLParam(r, "id")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type checkoutRequest struct {
	CartLineIDs []string `json:"cart_line_ids"`
}

func (a *API) checkout(w http.ResponseWriter, r *http.Request) {
	cust, ok := customer(r)
	if !ok {
		unauthenticated(w)
		return
	}
	var req checkoutRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	order, items, err := a.Billing.PlaceOrder(r.Context(), cust, req.CartLineIDs)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, a.toOrder(order, items, nil))
}
