package cart

import (
	"context"
	"testing"
	"time"

	"github.com/md-rashed-zaman/salonbook/libs/runtime"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/apperr"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/availability"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/model"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/storage/memstore"
)

var wib = time.FixedZone("WIB", 7*3600)

func at(day, hour int) time.Time { return time.Date(2026, 10, day, hour, 0, 0, 0, wib) }

func setup(t *testing.T) (*memstore.Store, *Service) {
	t.Helper()
	s := memstore.New()
	s.AddProduct(model.Product{ID: "cut", Name: "Haircut", Price: 50000, EstimationUnits: 1})
	s.AddProduct(model.Product{ID: "color", Name: "Coloring", Price: 250000, EstimationUnits: 2})
	s.AddEmployee(model.Employee{ID: "e1"})
	now := func() time.Time { return at(17, 8) }
	eval := availability.NewEvaluator(availability.Config{Hours: availability.DefaultBusinessHours(wib), Now: now})
	return s, NewService(s, eval, runtime.DiscardLogger(), now)
}

func TestAddUsesCatalogPriceAndLength(t *testing.T) {
	s, svc := setup(t)
	line, err := svc.Add(context.Background(), "u1", AddRequest{ProductID: "color", Start: at(20, 9), Note: "  balayage  "})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if line.Price != 250000 || line.Interval.DurationUnits != 2 || line.Note != "balayage" || line.LockedForCheckout {
		t.Fatalf("unexpected line %+v", line)
	}
	lines, _ := svc.List(context.Background(), "u1")
	if len(lines) != 1 || lines[0].ID != line.ID {
		t.Fatalf("unexpected cart %+v", lines)
	}
	if other, _ := svc.List(context.Background(), "u2"); len(other) != 0 {
		t.Fatalf("cart leaked to another owner")
	}
	if _, ok := s.CartLine(line.ID); !ok {
		t.Fatalf("line not stored")
	}
}

func TestAddRejections(t *testing.T) {
	s, svc := setup(t)
	s.PutOrder(model.Order{ID: "o1", OwnerID: "u9", Code: "INV-1", Status: model.OrderPaid},
		model.OrderItem{ID: "i1", ProductID: "cut", Interval: model.Interval{Start: at(20, 10), DurationUnits: 1}, End: at(20, 11), Status: model.ItemScheduled})

	cases := []struct {
		name string
		req  AddRequest
		kind apperr.Kind
	}{
		{"missing product id", AddRequest{Start: at(20, 9)}, apperr.KindValidation},
		{"missing date", AddRequest{ProductID: "cut"}, apperr.KindValidation},
		{"unknown product", AddRequest{ProductID: "nails", Start: at(20, 9)}, apperr.KindMissingReference},
		{"past", AddRequest{ProductID: "cut", Start: at(16, 9)}, apperr.KindPastReservation},
		{"monday", AddRequest{ProductID: "cut", Start: at(19, 9)}, apperr.KindClosedDay},
		{"after closing", AddRequest{ProductID: "color", Start: at(20, 17)}, apperr.KindOutsideHours},
		{"taken", AddRequest{ProductID: "cut", Start: at(20, 10)}, apperr.KindScheduleConflict},
		{"overlaps taken", AddRequest{ProductID: "color", Start: at(20, 9)}, apperr.KindScheduleConflict},
	}
	for _, tc := range cases {
		_, err := svc.Add(context.Background(), "u1", tc.req)
		if !apperr.Is(err, tc.kind) {
			t.Fatalf("%s: expected %s, got %v", tc.name, tc.kind, err)
		}
	}

	if _, err := svc.Add(context.Background(), "u1", AddRequest{ProductID: "cut", Start: at(20, 11)}); err != nil {
		t.Fatalf("touching slot must be accepted: %v", err)
	}
}

func TestDelete(t *testing.T) {
	s, svc := setup(t)
	s.PutCartLine(model.CartLine{ID: "l1", OwnerID: "u1", ProductID: "cut"})
	s.PutCartLine(model.CartLine{ID: "l2", OwnerID: "u1", ProductID: "cut", LockedForCheckout: true})

	if err := svc.Delete(context.Background(), "u2", "l1"); !apperr.Is(err, apperr.KindOwnershipMismatch) {
		t.Fatalf("expected ownership mismatch, got %v", err)
	}
	if err := svc.Delete(context.Background(), "u1", "l2"); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("locked line must not be deleted, got %v", err)
	}
	if err := svc.Delete(context.Background(), "u1", "l1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := svc.Delete(context.Background(), "u1", "l1"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
