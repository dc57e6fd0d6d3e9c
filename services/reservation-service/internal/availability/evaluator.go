package availability

import (
	"time"

	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/apperr"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/model"
)

// DefaultOverlapGrace is how much of a committed interval's tail a new
// booking may overlap. Zero means strict half-open intervals.
const DefaultOverlapGrace time.Duration = 0

type Config struct {
	Hours        BusinessHours
	OverlapGrace time.Duration
	Now          func() time.Time
}

// Evaluator decides whether a reservation fits the salon's hours and free
// staff capacity. It holds no state beyond its configuration.
type Evaluator struct {
	hours BusinessHours
	grace time.Duration
	now   func() time.Time
}

func NewEvaluator(cfg Config) *Evaluator {
	if cfg.Hours.Unit <= 0 {
		cfg.Hours.Unit = time.Hour
	}
	if cfg.OverlapGrace < 0 {
		cfg.OverlapGrace = 0
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Evaluator{hours: cfg.Hours, grace: cfg.OverlapGrace, now: cfg.Now}
}

func (e *Evaluator) Hours() BusinessHours { return e.hours }

func (e *Evaluator) End(iv model.Interval) time.Time { return iv.End(e.hours.Unit) }

// Exclusion removes committed items from the busy set, e.g. the customer's
// own bookings when an operator reschedules them.
type Exclusion struct {
	OwnerID string
	ItemID  string
}

func (x Exclusion) skips(b model.BusyInterval) bool {
	return (x.OwnerID != "" && b.OwnerID == x.OwnerID) || (x.ItemID != "" && b.ItemID == x.ItemID)
}

// ValidateRequest checks hours and rejects starts in the past.
func (e *Evaluator) ValidateRequest(iv model.Interval) error {
	if err := e.hours.Validate(iv); err != nil {
		return err
	}
	if iv.Start.Before(e.now()) {
		return apperr.New(apperr.KindPastReservation, "reservation date has already passed").
			WithDetail("reservation_date", e.hours.Format(iv.Start))
	}
	return nil
}

// CheckConflict returns nil when candidate fits, or a ScheduleConflict (or an
// hours error) otherwise. Business hours are checked first.
func (e *Evaluator) CheckConflict(candidate model.Interval, exclude Exclusion, busy []model.BusyInterval, capacity int) error {
	if err := e.hours.Validate(candidate); err != nil {
		return err
	}
	units := e.BusyUnits(candidate, exclude, busy)
	if units >= capacity {
		return apperr.Newf(apperr.KindScheduleConflict, "no employee is available at %s", e.hours.Format(candidate.Start)).
			WithDetail("conflicting_time", e.hours.Format(candidate.Start)).
			WithDetail("busy_employees", units).
			WithDetail("capacity", capacity)
	}
	return nil
}

// BusyUnits counts the capacity units taken during candidate: each distinct
// assigned employee once, each unassigned item as one unit.
func (e *Evaluator) BusyUnits(candidate model.Interval, exclude Exclusion, busy []model.BusyInterval) int {
	start, end := candidate.Start, e.End(candidate)
	employees := map[string]struct{}{}
	unassigned := 0
	for _, b := range busy {
		if !model.OccupiesCapacity(b.ItemStatus, b.OrderStatus) || exclude.skips(b) {
			continue
		}
		if !e.overlaps(start, end, b.Start, b.End) {
			continue
		}
		b.Employee.Match(
			func() { unassigned++ },
			func(id string) { employees[id] = struct{}{} },
		)
	}
	return len(employees) + unassigned
}

// EmployeeBusy reports whether employeeID already works on another active
// item overlapping candidate.
func (e *Evaluator) EmployeeBusy(employeeID string, candidate model.Interval, exclude Exclusion, busy []model.BusyInterval) bool {
	start, end := candidate.Start, e.End(candidate)
	for _, b := range busy {
		if !model.OccupiesCapacity(b.ItemStatus, b.OrderStatus) || exclude.skips(b) {
			continue
		}
		if id, ok := b.Employee.Employee(); ok && id == employeeID && e.overlaps(start, end, b.Start, b.End) {
			return true
		}
	}
	return false
}

// overlaps is half-open intersection with the committed interval's tail
// shortened by the grace window.
func (e *Evaluator) overlaps(start, end, otherStart, otherEnd time.Time) bool {
	otherEnd = otherEnd.Add(-e.grace)
	if !otherEnd.After(otherStart) {
		return false
	}
	return start.Before(otherEnd) && otherStart.Before(end)
}

// ExceedsCapacity runs the batch sweep over reservations that are not yet
// persisted.
func (e *Evaluator) ExceedsCapacity(ivs []model.Interval, capacity int) bool {
	spans := make([]Span, 0, len(ivs))
	for _, iv := range ivs {
		spans = append(spans, Span{Start: iv.Start, End: e.End(iv).Add(-e.grace)})
	}
	return ExceedsCapacity(spans, capacity)
}

// Pending turns an accepted but uncommitted reservation into a busy entry so
// later lines of the same batch see it.
func (e *Evaluator) Pending(ownerID string, iv model.Interval) model.BusyInterval {
	return model.BusyInterval{
		OwnerID:     ownerID,
		ItemStatus:  model.ItemScheduled,
		OrderStatus: model.OrderPaid,
		Start:       iv.Start,
		End:         e.End(iv),
	}
}
