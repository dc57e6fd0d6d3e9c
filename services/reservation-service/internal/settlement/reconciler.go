package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/apperr"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/availability"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/gateway"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/lifecycle"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/metrics"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/model"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/notify"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/statuscache"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/storage"
	"github.com/shopspring/decimal"
)

const notifyTimeout = 5 * time.Second

type Config struct {
	ServerKey string
	Hours     availability.BusinessHours
	Now       func() time.Time
}

type Reconciler struct {
	store     storage.Store
	machine   *lifecycle.Machine
	notifier  notify.Notifier
	cache     statuscache.Cache
	logger    *slog.Logger
	metrics   *metrics.Metrics
	serverKey string
	hours     availability.BusinessHours
	now       func() time.Time
}

func NewReconciler(store storage.Store, machine *lifecycle.Machine, notifier notify.Notifier, cache statuscache.Cache, logger *slog.Logger, m *metrics.Metrics, cfg Config) *Reconciler {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	if cache == nil {
		cache = statuscache.Noop{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Reconciler{
		store:     store,
		machine:   machine,
		notifier:  notifier,
		cache:     cache,
		logger:    logger,
		metrics:   m,
		serverKey: cfg.ServerKey,
		hours:     cfg.Hours,
		now:       cfg.Now,
	}
}

// Reconcile verifies and applies one notification. It reports whether the
// order or its items changed. Replays, stale statuses and notifications for
// finished orders return (false, nil).
func (r *Reconciler) Reconcile(ctx context.Context, n Notification) (applied bool, err error) {
	if n.Source == "" {
		n.Source = SourceWebhook
	}
	defer func() { r.metrics.Settlement(string(n.Source), outcome(applied, err)) }()

	if err := n.Validate(); err != nil {
		return false, err
	}
	if !VerifySignature(n, r.serverKey) {
		r.logger.WarnContext(ctx, "gateway notification signature mismatch",
			"event", "security", "order_id", n.OrderID, "source", string(n.Source),
			"transaction_status", n.TransactionStatus, "gross_amount", n.GrossAmount)
		return false, apperr.New(apperr.KindSignatureMismatch, "invalid signature")
	}

	target, ok := Map(n.TransactionStatus, n.FraudStatus)
	if !ok {
		r.logger.InfoContext(ctx, "gateway notification carries no decision",
			"order_id", n.OrderID, "transaction_status", n.TransactionStatus, "fraud_status", n.FraudStatus)
		return false, nil
	}

	var (
		res  lifecycle.Result
		paid notify.OrderPaid
	)
	err = r.store.WithinTx(ctx, func(tx storage.Tx) error {
		raw, err := json.Marshal(n)
		if err != nil {
			return err
		}
		fresh, err := tx.RecordNotification(ctx, storage.GatewayNotification{
			Digest:            n.Digest(),
			OrderID:           n.OrderID,
			Source:            string(n.Source),
			TransactionStatus: n.TransactionStatus,
			StatusCode:        n.StatusCode,
			FraudStatus:       n.FraudStatus,
			GrossAmount:       n.GrossAmount,
			Payload:           raw,
			ReceivedAt:        r.now(),
		})
		if err != nil {
			return fmt.Errorf("record notification: %w", err)
		}
		if !fresh {
			r.logger.InfoContext(ctx, "duplicate gateway notification", "order_id", n.OrderID, "source", string(n.Source))
			return nil
		}

		src := lifecycle.SourceWebhook
		if n.Source == SourcePoll {
			src = lifecycle.SourcePoll
		}
		res, err = r.machine.ApplyOrderTransition(ctx, tx, n.OrderID, target.Order, target.Item, src)
		if err != nil {
			return err
		}
		if !res.Applied {
			return nil
		}
		r.checkGross(ctx, res.Order, n.GrossAmount)
		if err := tx.UpdateOrderPayment(ctx, res.Order.ID, res.Order.PaymentMethod, res.Order.Bank, r.mergePayment(res.Order.Payment, n)); err != nil {
			return fmt.Errorf("update payment fields: %w", err)
		}
		if res.BecamePaid() {
			paid, err = r.paidEvent(ctx, tx, res)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, apperr.NotFound("order")
		}
		return false, err
	}
	if !res.Applied {
		return false, nil
	}

	r.afterCommit(ctx, res, paid)
	return true, nil
}

// afterCommit runs the detached side effects. Their failures are logged only.
func (r *Reconciler) afterCommit(ctx context.Context, res lifecycle.Result, paid notify.OrderPaid) {
	detached := context.WithoutCancel(ctx)
	if err := r.cache.Set(detached, res.Order.ID, res.Order.Status); err != nil {
		r.logger.WarnContext(ctx, "status cache update failed", "order_id", res.Order.ID, "err", err)
	}
	if !res.BecamePaid() {
		return
	}
	nctx, cancel := context.WithTimeout(detached, notifyTimeout)
	defer cancel()
	if err := r.notifier.OrderPaid(nctx, paid); err != nil {
		r.metrics.NotificationFailed()
		r.logger.WarnContext(ctx, "order paid notification failed", "order_id", res.Order.ID, "err", err)
	}
}

func (r *Reconciler) paidEvent(ctx context.Context, tx storage.Tx, res lifecycle.Result) (notify.OrderPaid, error) {
	evt := notify.OrderPaid{
		OrderID:       res.Order.ID,
		OrderCode:     res.Order.Code,
		CustomerName:  res.Order.OwnerName,
		CustomerPhone: res.Order.OwnerPhone,
		TotalPrice:    res.Order.TotalPrice,
		PaidAt:        r.now().UTC(),
	}
	if evt.CustomerName == "" {
		evt.CustomerName = "Anonim"
	}
	if len(res.Items) > 0 {
		first := res.Items[0]
		evt.ReservationDate = r.hours.Format(first.Interval.Start)
		p, err := tx.GetProduct(ctx, first.ProductID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return notify.OrderPaid{}, fmt.Errorf("load product: %w", err)
		}
		evt.ServiceName = p.Name
	}
	return evt, nil
}

func (r *Reconciler) mergePayment(p model.PaymentInfo, n Notification) model.PaymentInfo {
	p.TransactionStatus = n.TransactionStatus
	p.FraudStatus = n.FraudStatus
	if n.TransactionID != "" {
		p.TransactionID = n.TransactionID
	}
	if n.PaymentType != "" {
		p.PaymentType = n.PaymentType
	}
	if t, ok := r.parseTime(n.TransactionTime); ok && p.TransactionTime == nil {
		p.TransactionTime = &t
	}
	if t, ok := r.parseTime(n.SettlementTime); ok {
		p.SettlementTime = &t
	}
	return p
}

func (r *Reconciler) parseTime(raw string) (time.Time, bool) {
	return gateway.ParseTime(raw, r.hours.Location)
}

// checkGross logs when the settled amount differs from the stored total.
// It never blocks the transition.
func (r *Reconciler) checkGross(ctx context.Context, o model.Order, gross string) {
	amount, err := decimal.NewFromString(gross)
	if err != nil {
		return
	}
	if !amount.Equal(decimal.NewFromInt(o.TotalPrice)) {
		r.logger.WarnContext(ctx, "gross amount differs from order total",
			"order_id", o.ID, "gross_amount", amount.StringFixed(2), "total_price", o.TotalPrice)
	}
}

func outcome(applied bool, err error) string {
	switch {
	case err != nil:
		return apperr.KindOf(err).String()
	case applied:
		return "applied"
	default:
		return "absorbed"
	}
}
