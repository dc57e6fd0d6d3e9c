package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/apperr"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/gateway"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/storage"
)

type StatusClient interface {
	GetStatus(ctx context.Context, orderID string) (gateway.Response, error)
}

// Leader elects one poller across instances. Release gives leadership up.
type Leader interface {
	Acquire(ctx context.Context) (release func(), ok bool, err error)
}

// AlwaysLeader is for single-instance setups and tests.
type AlwaysLeader struct{}

func (AlwaysLeader) Acquire(context.Context) (func(), bool, error) { return func() {}, true, nil }

type PollerConfig struct {
	Interval  time.Duration
	MinAge    time.Duration
	BatchSize int
}

// Poller pulls status for orders still awaiting payment and feeds it to the
// same Reconcile used by the webhook.
type Poller struct {
	store      storage.Reader
	client     StatusClient
	reconciler *Reconciler
	leader     Leader
	logger     *slog.Logger
	cfg        PollerConfig
	now        func() time.Time
}

func NewPoller(store storage.Reader, client StatusClient, rec *Reconciler, leader Leader, logger *slog.Logger, cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.MinAge <= 0 {
		cfg.MinAge = 10 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if leader == nil {
		leader = AlwaysLeader{}
	}
	return &Poller{store: store, client: client, reconciler: rec, leader: leader, logger: logger, cfg: cfg, now: time.Now}
}

// PollOrder fetches one order's status and reconciles it.
func (p *Poller) PollOrder(ctx context.Context, orderID string) (bool, error) {
	resp, err := p.client.GetStatus(ctx, orderID)
	if err != nil {
		return false, apperr.Wrap(apperr.KindGateway, "payment status lookup failed", err)
	}
	if resp.OrderID == "" {
		resp.OrderID = orderID
	}
	return p.reconciler.Reconcile(ctx, FromResponse(resp, SourcePoll))
}

// PollOnce sweeps one batch and returns how many orders changed.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	orders, err := p.store.ListAwaitingPayment(ctx, p.now().Add(-p.cfg.MinAge), p.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list awaiting payment: %w", err)
	}
	changed := 0
	for _, o := range orders {
		if ctx.Err() != nil {
			return changed, ctx.Err()
		}
		applied, err := p.PollOrder(ctx, o.ID)
		if err != nil {
			p.logger.WarnContext(ctx, "payment poll failed", "order_id", o.ID, "err", err)
			continue
		}
		if applied {
			changed++
		}
	}
	return changed, nil
}

// Run polls until ctx ends. Leadership is taken for each sweep and given up
// right after, so a lost session never leaves a stale leader behind.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("payment poller started", "interval", p.cfg.Interval.String())
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.RunOnce(ctx)
		}
	}
}

// RunOnce sweeps if this instance wins the election. It reports whether a
// sweep ran.
func (p *Poller) RunOnce(ctx context.Context) bool {
	release, ok, err := p.leader.Acquire(ctx)
	if err != nil {
		p.logger.Error("payment poller: leader election failed", "err", err)
		return false
	}
	if !ok {
		p.logger.Debug("payment poller: another instance is leader")
		return false
	}
	defer release()
	p.sweep(ctx)
	return true
}

func (p *Poller) sweep(ctx context.Context) {
	n, err := p.PollOnce(ctx)
	if err != nil {
		p.logger.Error("payment poll sweep failed", "err", err)
		return
	}
	if n > 0 {
		p.logger.Info("payment poll sweep applied updates", "orders", n)
	}
}
