package availability

import (
	"math/rand"
	"testing"
	"time"

	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/apperr"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/model"
)

var wib = time.FixedZone("WIB", 7*3600)

// 2026-10-20 is a Tuesday.
func at(hour, min int) time.Time {
	return time.Date(2026, 10, 20, hour, min, 0, 0, wib)
}

func newTestEvaluator() *Evaluator {
	return NewEvaluator(Config{
		Hours: DefaultBusinessHours(wib),
		Now:   func() time.Time { return time.Date(2026, 10, 17, 8, 0, 0, 0, wib) },
	})
}

func paid(id string, emp model.Assignment, start time.Time, units int) model.BusyInterval {
	return model.BusyInterval{
		ItemID:      id,
		OrderID:     "order-" + id,
		OwnerID:     "owner-" + id,
		Employee:    emp,
		ItemStatus:  model.ItemScheduled,
		OrderStatus: model.OrderPaid,
		Start:       start,
		End:         start.Add(time.Duration(units) * time.Hour),
	}
}

func TestCheckConflict_CapacityScenario(t *testing.T) {
	e := newTestEvaluator()
	slot := model.Interval{Start: at(10, 0), DurationUnits: 1}

	var busy []model.BusyInterval
	for i, id := range []string{"a", "b", "c"} {
		err := e.CheckConflict(slot, Exclusion{}, busy, 2)
		if i < 2 {
			if err != nil {
				t.Fatalf("request %d should fit: %v", i+1, err)
			}
			busy = append(busy, paid(id, model.Unassigned(), slot.Start, 1))
			continue
		}
		if !apperr.Is(err, apperr.KindScheduleConflict) {
			t.Fatalf("third request should conflict, got %v", err)
		}
		var ae *apperr.Error
		if e, ok := err.(*apperr.Error); ok {
			ae = e
		}
		if ae == nil || ae.Detail["conflicting_time"] != "Tue, 20 Oct 2026 10:00 WIB" {
			t.Fatalf("expected conflicting time detail, got %+v", ae)
		}
	}
}

func TestCheckConflict_NonOverlappingPairsNeverConflict(t *testing.T) {
	e := newTestEvaluator()
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		aStart := 7 + rng.Intn(10)
		aUnits := 1 + rng.Intn(18-aStart)
		a := model.Interval{Start: at(aStart, 0), DurationUnits: aUnits}

		var b model.Interval
		if rng.Intn(2) == 0 && aStart+aUnits < 18 {
			bStart := aStart + aUnits + rng.Intn(18-aStart-aUnits)
			b = model.Interval{Start: at(bStart, 0), DurationUnits: 1 + rng.Intn(18-bStart)}
		} else if aStart > 7 {
			bStart := 7 + rng.Intn(aStart-7)
			b = model.Interval{Start: at(bStart, 0), DurationUnits: 1 + rng.Intn(aStart-bStart)}
		} else {
			continue
		}
		busy := []model.BusyInterval{paid("b", model.AssignedTo("emp-1"), b.Start, b.DurationUnits)}
		if err := e.CheckConflict(a, Exclusion{}, busy, 1); err != nil {
			t.Fatalf("A=%v+%d B=%v+%d must not conflict: %v", a.Start, a.DurationUnits, b.Start, b.DurationUnits, err)
		}
	}
}

func TestCheckConflict_TouchingBoundaryIsFree(t *testing.T) {
	e := newTestEvaluator()
	busy := []model.BusyInterval{paid("x", model.AssignedTo("emp-1"), at(9, 0), 1)}
	if err := e.CheckConflict(model.Interval{Start: at(10, 0), DurationUnits: 1}, Exclusion{}, busy, 1); err != nil {
		t.Fatalf("end == start must not conflict: %v", err)
	}
	if err := e.CheckConflict(model.Interval{Start: at(9, 30), DurationUnits: 1}, Exclusion{}, busy, 1); err == nil {
		t.Fatalf("partial overlap must conflict")
	}
}

func TestCheckConflict_DistinctEmployeesAndInactiveItems(t *testing.T) {
	e := newTestEvaluator()
	slot := model.Interval{Start: at(13, 0), DurationUnits: 2}
	busy := []model.BusyInterval{
		paid("1", model.AssignedTo("emp-1"), at(12, 0), 2),
		paid("2", model.AssignedTo("emp-1"), at(14, 0), 1),
	}
	unpaid := paid("3", model.AssignedTo("emp-2"), at(13, 0), 1)
	unpaid.OrderStatus = model.OrderUnpaid
	done := paid("4", model.AssignedTo("emp-3"), at(13, 0), 1)
	done.ItemStatus = model.ItemCompleted
	busy = append(busy, unpaid, done)

	if got := e.BusyUnits(slot, Exclusion{}, busy); got != 1 {
		t.Fatalf("expected 1 busy unit (emp-1 once), got %d", got)
	}
	if err := e.CheckConflict(slot, Exclusion{}, busy, 2); err != nil {
		t.Fatalf("second employee is free: %v", err)
	}
}

func TestCheckConflict_Exclusion(t *testing.T) {
	e := newTestEvaluator()
	slot := model.Interval{Start: at(11, 0), DurationUnits: 1}
	busy := []model.BusyInterval{paid("mine", model.Unassigned(), at(11, 0), 1)}

	if err := e.CheckConflict(slot, Exclusion{}, busy, 1); err == nil {
		t.Fatalf("expected conflict without exclusion")
	}
	if err := e.CheckConflict(slot, Exclusion{OwnerID: "owner-mine"}, busy, 1); err != nil {
		t.Fatalf("owner exclusion: %v", err)
	}
	if err := e.CheckConflict(slot, Exclusion{ItemID: "mine"}, busy, 1); err != nil {
		t.Fatalf("item exclusion: %v", err)
	}
}

func TestCheckConflict_OverlapGrace(t *testing.T) {
	e := NewEvaluator(Config{Hours: DefaultBusinessHours(wib), OverlapGrace: 30 * time.Minute})
	busy := []model.BusyInterval{paid("x", model.Unassigned(), at(9, 0), 1)}
	if err := e.CheckConflict(model.Interval{Start: at(9, 30), DurationUnits: 1}, Exclusion{}, busy, 1); err != nil {
		t.Fatalf("start inside grace window should fit: %v", err)
	}
	if err := e.CheckConflict(model.Interval{Start: at(9, 15), DurationUnits: 1}, Exclusion{}, busy, 1); err == nil {
		t.Fatalf("start before grace window should conflict")
	}
}

func TestBusinessHours(t *testing.T) {
	e := newTestEvaluator()
	cases := []struct {
		name string
		iv   model.Interval
		kind apperr.Kind
		ok   bool
	}{
		{name: "inside", iv: model.Interval{Start: at(7, 0), DurationUnits: 11}, ok: true},
		{name: "before opening", iv: model.Interval{Start: at(6, 0), DurationUnits: 1}, kind: apperr.KindOutsideHours},
		{name: "past closing", iv: model.Interval{Start: at(17, 0), DurationUnits: 2}, kind: apperr.KindOutsideHours},
		{name: "monday", iv: model.Interval{Start: time.Date(2026, 10, 19, 10, 0, 0, 0, wib), DurationUnits: 1}, kind: apperr.KindClosedDay},
		{name: "zero units", iv: model.Interval{Start: at(10, 0)}, kind: apperr.KindValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := e.CheckConflict(tc.iv, Exclusion{}, nil, 5)
			if tc.ok {
				if err != nil {
					t.Fatalf("unexpected error %v", err)
				}
				return
			}
			if !apperr.Is(err, tc.kind) {
				t.Fatalf("want %s, got %v", tc.kind, err)
			}
		})
	}
}

func TestValidateRequestRejectsPast(t *testing.T) {
	e := newTestEvaluator()
	past := model.Interval{Start: time.Date(2026, 10, 15, 10, 0, 0, 0, wib), DurationUnits: 1}
	if err := e.ValidateRequest(past); !apperr.Is(err, apperr.KindPastReservation) {
		t.Fatalf("expected past reservation, got %v", err)
	}
}

func TestHoursCheckedInBusinessTimezone(t *testing.T) {
	e := newTestEvaluator()
	// 00:30 UTC is 07:30 WIB on the same Tuesday.
	start := time.Date(2026, 10, 20, 0, 30, 0, 0, time.UTC)
	if err := e.CheckConflict(model.Interval{Start: start, DurationUnits: 1}, Exclusion{}, nil, 1); err != nil {
		t.Fatalf("expected 07:30 WIB to be open: %v", err)
	}
}

func TestEmployeeBusy(t *testing.T) {
	e := newTestEvaluator()
	busy := []model.BusyInterval{
		paid("a", model.AssignedTo("e1"), at(10, 0), 2),
		paid("b", model.Unassigned(), at(10, 0), 1),
	}
	cand := model.Interval{Start: at(11, 0), DurationUnits: 1}
	if !e.EmployeeBusy("e1", cand, Exclusion{}, busy) {
		t.Fatalf("e1 works 10-12")
	}
	if e.EmployeeBusy("e1", cand, Exclusion{ItemID: "a"}, busy) {
		t.Fatalf("the item itself must be excluded")
	}
	if e.EmployeeBusy("e2", cand, Exclusion{}, busy) {
		t.Fatalf("e2 is free")
	}
	if e.EmployeeBusy("e1", model.Interval{Start: at(12, 0), DurationUnits: 1}, Exclusion{}, busy) {
		t.Fatalf("touching interval must be free")
	}
}
