// Package handlers exposes the reservation core over HTTP.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/md-rashed-zaman/salonbook/libs/auth"
	"github.com/md-rashed-zaman/salonbook/libs/httpx"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/admin"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/apperr"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/availability"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/billing"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/cart"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/gateway"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/metrics"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/settlement"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/statuscache"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/storage"
)

// Deps are the services behind the HTTP surface.
type Deps struct {
	Store      storage.Reader
	Evaluator  *availability.Evaluator
	Cart       *cart.Service
	Billing    *billing.Service
	Admin      *admin.Service
	Reconciler *settlement.Reconciler
	Poller     *settlement.Poller
	Cache      statuscache.Cache
	Logger     *slog.Logger
	Now        func() time.Time
}

type API struct {
	Deps
}

func NewAPI(d Deps) *API {
	if d.Cache == nil {
		d.Cache = statuscache.Noop{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &API{Deps: d}
}

type RouterConfig struct {
	Verifier auth.Verifier
	Metrics  *metrics.Metrics
	// Limiter guards the public and webhook routes. Nil disables it.
	Limiter   httpx.Limiter
	FailOpen  bool
	BodyLimit int64
}

// Router mounts every route on a chi router. Health and readiness live on
// the base mux in main.
func (a *API) Router(cfg RouterConfig) http.Handler {
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = 1 << 20
	}
	r := chi.NewRouter()
	r.Use(cfg.Metrics.Middleware)
	r.Use(httpx.WithBodyLimit(cfg.BodyLimit))

	limited := func(scope string) func(http.Handler) http.Handler {
		if cfg.Limiter == nil {
			return func(next http.Handler) http.Handler { return next }
		}
		return httpx.WithRateLimit(cfg.Limiter, httpx.RateLimitConfig{Scope: scope, FailOpen: cfg.FailOpen, Logger: a.Logger})
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.With(limited("slots")).Get("/availability/slots", a.slots)
		r.With(limited("webhook")).Post("/payments/notifications", a.notification)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireUser(cfg.Verifier))

			r.Post("/cart", a.addCartLine)
			r.Get("/cart", a.listCart)
			r.Delete("/cart/{id}", a.deleteCartLine)
			r.Post("/checkout", a.checkout)

			r.Get("/orders/{id}", a.getOrder)
			r.Get("/orders/{id}/bill", a.bill)
			r.Post("/orders/{id}/pay", a.pay)
			r.Get("/orders/{id}/payment-status", a.paymentStatus)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(auth.RoleAdmin))

				r.Get("/schedule", a.schedule)
				r.Patch("/admin/orders/{id}/status", a.overrideOrderStatus)
				r.Patch("/admin/items/{id}/status", a.updateItemStatus)
				r.Patch("/admin/items/{id}/schedule", a.rescheduleItem)
				r.Patch("/admin/items/{id}/employee", a.assignEmployee)
				r.Post("/admin/orders/{id}/gateway/{action}", a.gatewayAction)
				r.Delete("/admin/orders/empty", a.cleanupEmptyOrders)
			})
		})
	})
	return r
}

func customer(r *http.Request) (billing.Customer, bool) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok || claims.Sub == "" {
		return billing.Customer{}, false
	}
	return billing.Customer{ID: claims.Sub, Name: claims.Name, Phone: claims.Phone}, true
}

// writeError maps domain errors to their HTTP status. Anything else is a
// logged 500 with no detail.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var e *apperr.Error
	if !errors.As(err, &e) {
		a.Logger.ErrorContext(r.Context(), "request failed",
			"request_id", httpx.RequestIDFromContext(r.Context()), "path", r.URL.Path, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal error", nil)
		return
	}
	detail := e.Detail
	if e.Kind == apperr.KindGateway {
		var gerr *gateway.Error
		if errors.As(err, &gerr) {
			detail = map[string]any{"operation": gerr.Op}
			if gerr.UpstreamCode != "" {
				detail["upstream_status_code"] = gerr.UpstreamCode
			}
			if gerr.Message != "" {
				detail["upstream_message"] = gerr.Message
			}
		}
	}
	httpx.WriteError(w, e.Kind.HTTPStatus(), e.Message, detail)
}

func unauthenticated(w http.ResponseWriter) {
	httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated", nil)
}
