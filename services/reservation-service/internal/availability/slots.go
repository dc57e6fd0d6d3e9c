package availability

import (
	"time"

	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/model"
)

// Slot is a bookable start time with the number of employees still free.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Free  int       `json:"free"`
}

// AvailableSlots lists unit-aligned starts on day for a service lasting
// durationUnits. Slots in the past and slots without a free employee are
// skipped. The closed weekday yields no slots.
func (e *Evaluator) AvailableSlots(day time.Time, durationUnits int, busy []model.BusyInterval, capacity int) []Slot {
	if durationUnits <= 0 || capacity <= 0 {
		return nil
	}
	now := e.now()
	unit := e.hours.Unit
	open := e.hours.OpeningOn(day)
	closing := e.hours.ClosingOn(day)

	var out []Slot
	for start := open; !start.Add(time.Duration(durationUnits) * unit).After(closing); start = start.Add(unit) {
		if start.Before(now) {
			continue
		}
		iv := model.Interval{Start: start, DurationUnits: durationUnits}
		if e.hours.Validate(iv) != nil {
			return nil
		}
		free := capacity - e.BusyUnits(iv, Exclusion{}, busy)
		if free <= 0 {
			continue
		}
		out = append(out, Slot{Start: start, End: e.End(iv), Free: free})
	}
	return out
}
