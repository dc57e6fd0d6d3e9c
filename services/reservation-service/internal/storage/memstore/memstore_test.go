package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/model"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/storage"
)

func seed(t *testing.T) *Store {
	t.Helper()
	s := New()
	s.AddProduct(model.Product{ID: "p1", Name: "Haircut", Price: 50000, EstimationUnits: 1})
	s.AddEmployee(model.Employee{ID: "e1", Name: "Rina"})
	return s
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(tx storage.Tx) error {
		if err := tx.InsertCartLine(ctx, model.CartLine{ID: "c1", OwnerID: "u1", ProductID: "p1"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, ok := s.CartLine("c1"); ok {
		t.Fatalf("cart line survived rollback")
	}
}

func TestLockCartLineIsConditional(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	_ = s.WithinTx(ctx, func(tx storage.Tx) error {
		return tx.InsertCartLine(ctx, model.CartLine{ID: "c1", OwnerID: "u1", ProductID: "p1"})
	})

	var first, second, foreign bool
	_ = s.WithinTx(ctx, func(tx storage.Tx) error {
		foreign, _ = tx.LockCartLine(ctx, "c1", "u2")
		first, _ = tx.LockCartLine(ctx, "c1", "u1")
		second, _ = tx.LockCartLine(ctx, "c1", "u1")
		return nil
	})
	if foreign || !first || second {
		t.Fatalf("foreign=%v first=%v second=%v", foreign, first, second)
	}
}

func TestBusyIntervalsOnlyActive(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	start := time.Date(2026, 10, 20, 9, 0, 0, 0, time.UTC)
	_ = s.WithinTx(ctx, func(tx storage.Tx) error {
		_ = tx.InsertOrder(ctx, model.Order{ID: "o1", OwnerID: "u1", Code: "A", Status: model.OrderPaid})
		_ = tx.InsertOrder(ctx, model.Order{ID: "o2", OwnerID: "u2", Code: "B", Status: model.OrderUnpaid})
		_ = tx.InsertOrderItem(ctx, model.OrderItem{ID: "i1", OrderID: "o1", ProductID: "p1", Interval: model.Interval{Start: start, DurationUnits: 1}, End: start.Add(time.Hour), Status: model.ItemScheduled})
		return tx.InsertOrderItem(ctx, model.OrderItem{ID: "i2", OrderID: "o2", ProductID: "p1", Interval: model.Interval{Start: start, DurationUnits: 1}, End: start.Add(time.Hour), Status: model.ItemUnpaid})
	})

	busy, _ := s.ListBusyIntervals(ctx, start, start.Add(time.Hour))
	if len(busy) != 1 || busy[0].ItemID != "i1" || busy[0].OwnerID != "u1" {
		t.Fatalf("unexpected busy set %+v", busy)
	}
	busy, _ = s.ListBusyIntervals(ctx, start.Add(time.Hour), start.Add(2*time.Hour))
	if len(busy) != 0 {
		t.Fatalf("touching window must be empty, got %+v", busy)
	}
}

func TestSchedulePaging(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 20, 8, 0, 0, 0, time.UTC)
	_ = s.WithinTx(ctx, func(tx storage.Tx) error {
		_ = tx.InsertOrder(ctx, model.Order{ID: "o1", OwnerID: "u1", Code: "A", Status: model.OrderPaid})
		for i, id := range []string{"i1", "i2", "i3", "i4", "i5", "i6"} {
			start := base.Add(time.Duration(i) * time.Hour)
			status := model.ItemScheduled
			if id == "i6" {
				status = model.ItemCanceled
			}
			if err := tx.InsertOrderItem(ctx, model.OrderItem{ID: id, OrderID: "o1", ProductID: "p1", Interval: model.Interval{Start: start, DurationUnits: 1}, End: start.Add(time.Hour), Status: status}); err != nil {
				return err
			}
		}
		return tx.UpdateItemEmployee(ctx, "i1", model.AssignedTo("e1"))
	})

	page, err := s.Schedule(ctx, storage.ScheduleQuery{Now: base})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if page.Total != 5 || len(page.Entries) != storage.DefaultScheduleLimit {
		t.Fatalf("total=%d entries=%d", page.Total, len(page.Entries))
	}
	if page.Entries[0].ItemID != "i1" || page.Entries[0].EmployeeName != "Rina" || page.Entries[0].ProductName != "Haircut" {
		t.Fatalf("unexpected first entry %+v", page.Entries[0])
	}

	page, _ = s.Schedule(ctx, storage.ScheduleQuery{Now: base, Sort: storage.SortDesc, Limit: 2, Offset: 1})
	if len(page.Entries) != 2 || page.Entries[0].ItemID != "i4" {
		t.Fatalf("unexpected desc page %+v", page.Entries)
	}

	from := base.Add(2 * time.Hour)
	page, _ = s.Schedule(ctx, storage.ScheduleQuery{From: &from, Now: base.Add(100 * time.Hour)})
	if page.Total != 3 {
		t.Fatalf("expected 3 items from %s, got %d", from, page.Total)
	}
}
