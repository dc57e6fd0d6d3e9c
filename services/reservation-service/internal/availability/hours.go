package availability

import (
	"fmt"
	"time"

	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/apperr"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/model"
)

// BusinessHours are wall-clock limits in the salon's own timezone.
type BusinessHours struct {
	Location  *time.Location
	Open      time.Duration // offset from local midnight
	Close     time.Duration
	ClosedDay time.Weekday
	Unit      time.Duration
}

// DefaultBusinessHours is 07:00–18:00, closed on Monday, one hour units.
func DefaultBusinessHours(loc *time.Location) BusinessHours {
	if loc == nil {
		loc = time.UTC
	}
	return BusinessHours{
		Location:  loc,
		Open:      7 * time.Hour,
		Close:     18 * time.Hour,
		ClosedDay: time.Monday,
		Unit:      time.Hour,
	}
}

func (h BusinessHours) loc() *time.Location {
	if h.Location == nil {
		return time.UTC
	}
	return h.Location
}

// Day returns local midnight of the business day containing t.
func (h BusinessHours) Day(t time.Time) time.Time {
	local := t.In(h.loc())
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, h.loc())
}

func (h BusinessHours) OpeningOn(t time.Time) time.Time { return h.Day(t).Add(h.Open) }

func (h BusinessHours) ClosingOn(t time.Time) time.Time { return h.Day(t).Add(h.Close) }

// Validate rejects the closed weekday and intervals outside opening hours.
// The closing boundary is inclusive: a booking may end exactly at closing.
func (h BusinessHours) Validate(iv model.Interval) error {
	if iv.Start.IsZero() {
		return apperr.Validation("reservation start is required")
	}
	if iv.DurationUnits <= 0 {
		return apperr.Validation("estimation units must be positive")
	}
	if iv.Start.In(h.loc()).Weekday() == h.ClosedDay {
		return apperr.Newf(apperr.KindClosedDay, "the salon is closed on %s", h.ClosedDay).
			WithDetail("reservation_date", h.Format(iv.Start))
	}
	end := iv.End(h.Unit)
	if iv.Start.Before(h.OpeningOn(iv.Start)) || end.After(h.ClosingOn(iv.Start)) {
		return apperr.Newf(apperr.KindOutsideHours, "reservation must fall between %s and %s",
			clock(h.Open), clock(h.Close)).
			WithDetail("reservation_date", h.Format(iv.Start)).
			WithDetail("estimated_finish", h.Format(end))
	}
	return nil
}

// Format renders t for humans in the business timezone.
func (h BusinessHours) Format(t time.Time) string {
	return t.In(h.loc()).Format("Mon, 02 Jan 2006 15:04 MST")
}

func clock(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d.Hours()), int(d.Minutes())%60)
}
