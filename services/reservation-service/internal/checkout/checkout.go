// Package checkout locks a customer's cart lines for one order, re-checking
// every line against committed capacity inside the same transaction.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/apperr"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/availability"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/metrics"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/model"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/storage"
)

// LockedLine is the snapshot handed to order creation.
type LockedLine struct {
	CartLineID  string
	ProductID   string
	ProductName string
	Interval    model.Interval
	End         time.Time
	Price       int64
	Note        string
}

type Coordinator struct {
	store   storage.Store
	eval    *availability.Evaluator
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewCoordinator(store storage.Store, eval *availability.Evaluator, logger *slog.Logger, m *metrics.Metrics) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{store: store, eval: eval, logger: logger, metrics: m}
}

// Checkout locks the given lines in a transaction of its own.
func (c *Coordinator) Checkout(ctx context.Context, ownerID string, lineIDs []string) ([]LockedLine, error) {
	var locked []LockedLine
	err := c.store.WithinTx(ctx, func(tx storage.Tx) error {
		var err error
		locked, err = c.LockLines(ctx, tx, ownerID, lineIDs)
		return err
	})
	if err != nil {
		return nil, err
	}
	return locked, nil
}

// LockLines runs the all-or-nothing checkout inside tx. Any error leaves the
// caller to roll back, which releases every lock taken so far.
func (c *Coordinator) LockLines(ctx context.Context, tx storage.Tx, ownerID string, lineIDs []string) (locked []LockedLine, err error) {
	defer func() { c.metrics.Checkout(result(err)) }()

	if err := validateIDs(lineIDs); err != nil {
		return nil, err
	}

	lines := make([]LockedLine, 0, len(lineIDs))
	for _, id := range lineIDs {
		line, err := c.resolve(ctx, tx, ownerID, id)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}

	ivs := make([]model.Interval, 0, len(lines))
	for _, l := range lines {
		ivs = append(ivs, l.Interval)
	}
	if err := c.Recheck(ctx, tx, ownerID, ivs, availability.Exclusion{}); err != nil {
		return nil, err
	}

	for _, l := range lines {
		ok, err := tx.LockCartLine(ctx, l.CartLineID, ownerID)
		if err != nil {
			return nil, fmt.Errorf("lock cart line: %w", err)
		}
		if !ok {
			return nil, apperr.New(apperr.KindConflict, "cart line is already being checked out").
				WithDetail("cart_line_id", l.CartLineID)
		}
	}

	c.logger.InfoContext(ctx, "cart lines locked", "owner_id", ownerID, "lines", len(lines))
	return lines, nil
}

// resolve loads a line and re-prices it from the catalog.
func (c *Coordinator) resolve(ctx context.Context, tx storage.Tx, ownerID, id string) (LockedLine, error) {
	line, err := tx.GetCartLineForUpdate(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return LockedLine{}, apperr.MissingReference("cart line", id)
	}
	if err != nil {
		return LockedLine{}, fmt.Errorf("load cart line: %w", err)
	}
	if line.OwnerID != ownerID {
		return LockedLine{}, apperr.OwnershipMismatch("cart line")
	}
	if line.LockedForCheckout {
		return LockedLine{}, apperr.New(apperr.KindConflict, "cart line is already being checked out").
			WithDetail("cart_line_id", id)
	}

	product, err := tx.GetProduct(ctx, line.ProductID)
	if errors.Is(err, storage.ErrNotFound) {
		return LockedLine{}, apperr.MissingReference("product", line.ProductID)
	}
	if err != nil {
		return LockedLine{}, fmt.Errorf("load product: %w", err)
	}

	iv := model.Interval{Start: line.Interval.Start, DurationUnits: product.EstimationUnits}
	if err := c.eval.ValidateRequest(iv); err != nil {
		c.metrics.Conflict(apperr.KindOf(err).String())
		return LockedLine{}, err
	}
	return LockedLine{
		CartLineID:  line.ID,
		ProductID:   product.ID,
		ProductName: product.Name,
		Interval:    iv,
		End:         c.eval.End(iv),
		Price:       product.Price,
		Note:        line.Note,
	}, nil
}

// Recheck runs the batch sweep, then checks every interval against the
// committed capacity of its day. The days are locked in ascending order
// before the busy set is read. Intervals accepted earlier in the batch
// count as busy for later ones.
func (c *Coordinator) Recheck(ctx context.Context, tx storage.Tx, ownerID string, ivs []model.Interval, exclude availability.Exclusion) error {
	if len(ivs) == 0 {
		return nil
	}
	capacity, err := tx.CountEmployees(ctx)
	if err != nil {
		return fmt.Errorf("count employees: %w", err)
	}
	if c.eval.ExceedsCapacity(ivs, capacity) {
		c.metrics.Conflict("batch")
		return apperr.New(apperr.KindScheduleConflict, "selected reservations overlap beyond staff capacity").
			WithDetail("capacity", capacity)
	}

	from, to, err := c.lockDays(ctx, tx, ivs)
	if err != nil {
		return err
	}
	busy, err := tx.ListBusyIntervals(ctx, from, to)
	if err != nil {
		return fmt.Errorf("list busy intervals: %w", err)
	}
	for _, iv := range ivs {
		if err := c.eval.CheckConflict(iv, exclude, busy, capacity); err != nil {
			c.metrics.Conflict(apperr.KindOf(err).String())
			return err
		}
		busy = append(busy, c.eval.Pending(ownerID, iv))
	}
	return nil
}

func (c *Coordinator) lockDays(ctx context.Context, tx storage.Tx, ivs []model.Interval) (time.Time, time.Time, error) {
	hours := c.eval.Hours()
	seen := map[time.Time]bool{}
	var days []time.Time
	from, to := ivs[0].Start, c.eval.End(ivs[0])
	for _, iv := range ivs {
		d := hours.Day(iv.Start)
		if !seen[d] {
			seen[d] = true
			days = append(days, d)
		}
		if iv.Start.Before(from) {
			from = iv.Start
		}
		if end := c.eval.End(iv); end.After(to) {
			to = end
		}
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	for _, d := range days {
		if err := tx.LockCapacityDay(ctx, d); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("lock capacity day: %w", err)
		}
	}
	return from, to, nil
}

func validateIDs(ids []string) error {
	if len(ids) == 0 {
		return apperr.Validation("at least one cart line is required")
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" {
			return apperr.Validation("cart line id must not be empty")
		}
		if seen[id] {
			return apperr.Validation("cart line ids must be unique").WithDetail("cart_line_id", id)
		}
		seen[id] = true
	}
	return nil
}

func result(err error) string {
	if err == nil {
		return "ok"
	}
	return apperr.KindOf(err).String()
}
