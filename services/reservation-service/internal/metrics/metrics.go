package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "salonbook"

// Metrics holds every collector of the reservation service on its own
// registry. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Requests            *prometheus.CounterVec
	LatencyMS           *prometheus.HistogramVec
	Checkouts           *prometheus.CounterVec
	ScheduleConflicts   *prometheus.CounterVec
	SettlementNotices   *prometheus.CounterVec
	GatewayRequests     *prometheus.CounterVec
	OutboxPublished     prometheus.Counter
	NotificationsFailed prometheus.Counter
}

func New(service string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"route"}),
		Checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "checkout_total",
			Help:      "Checkout attempts by result.",
		}, []string{"result"}),
		ScheduleConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "schedule_conflicts_total",
			Help:      "Rejected reservations by reason.",
		}, []string{"reason"}),
		SettlementNotices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "settlement_notifications_total",
			Help:      "Gateway notifications by source and result.",
		}, []string{"source", "result"}),
		GatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "gateway_requests_total",
			Help:      "Outbound payment gateway calls by operation and outcome.",
		}, []string{"op", "outcome"}),
		OutboxPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "outbox_published_total",
			Help:      "Outbox events published to kafka.",
		}),
		NotificationsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "paid_notifications_failed_total",
			Help:      "Best-effort paid notifications that could not be sent.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Requests, m.LatencyMS, m.Checkouts, m.ScheduleConflicts,
		m.SettlementNotices, m.GatewayRequests, m.OutboxPublished, m.NotificationsFailed,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Checkout(result string) {
	if m != nil {
		m.Checkouts.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Conflict(reason string) {
	if m != nil {
		m.ScheduleConflicts.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) Settlement(source, result string) {
	if m != nil {
		m.SettlementNotices.WithLabelValues(source, result).Inc()
	}
}

func (m *Metrics) Gateway(op, outcome string) {
	if m != nil {
		m.GatewayRequests.WithLabelValues(op, outcome).Inc()
	}
}

func (m *Metrics) Published(n int) {
	if m != nil && n > 0 {
		m.OutboxPublished.Add(float64(n))
	}
}

func (m *Metrics) NotificationFailed() {
	if m != nil {
		m.NotificationsFailed.Inc()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Middleware records request counts and latency labelled by the chi route
// pattern, so path parameters do not explode label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		m.Requests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		m.LatencyMS.WithLabelValues(route).Observe(float64(time.Since(start).Milliseconds()))
	})
}
