package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/salonbook/libs/httpx"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/apperr"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/availability"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/settlement"
)

// notification receives the gateway's HTTP notification. The body carries
// more fields than we read, so unknown fields are accepted.
func (a *API) notification(w http.ResponseWriter, r *http.Request) {
	var n settlement.Notification
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body", nil)
		return
	}
	n.Source = settlement.SourceWebhook

	applied, err := a.Reconciler.Reconcile(r.Context(), n)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"received": true, "applied": applied})
}

// slots lists the free start times of a day for one product.
func (a *API) slots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	productID := strings.TrimSpace(q.Get("product_id"))
	if productID == "" {
		a.writeError(w, r, apperr.Validation("product_id is required"))
		return
	}
	hours := a.Evaluator.Hours()
	day, err := time.ParseInLocation("2006-01-02", q.Get("date"), hours.Location)
	if err != nil {
		a.writeError(w, r, apperr.Validation("date must be YYYY-MM-DD"))
		return
	}

	ctx := r.Context()
	product, err := a.Store.GetProduct(ctx, productID)
	if err != nil {
		a.writeError(w, r, notFoundAs(err, apperr.MissingReference("product", productID)))
		return
	}
	capacity, err := a.Store.CountEmployees(ctx)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	busy, err := a.Store.ListBusyIntervals(ctx, hours.OpeningOn(day), hours.ClosingOn(day))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	slots := a.Evaluator.AvailableSlots(day, product.EstimationUnits, busy, capacity)
	if slots == nil {
		slots = []availability.Slot{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"date":       day.Format("2006-01-02"),
		"product_id": product.ID,
		"estimation": product.EstimationUnits,
		"slots":      slots,
	})
}
