package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/md-rashed-zaman/salonbook/libs/runtime"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/model"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/storage"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/storage/memstore"
)

func TestOrderGuards(t *testing.T) {
	cases := []struct {
		from, to model.OrderStatus
		want     bool
	}{
		{model.OrderCart, model.OrderUnpaid, true},
		{model.OrderCart, model.OrderPaid, true},
		{model.OrderUnpaid, model.OrderPaid, true},
		{model.OrderUnpaid, model.OrderCart, false},
		{model.OrderPaid, model.OrderUnpaid, false},
		{model.OrderPaid, model.OrderCompleted, true},
		{model.OrderCanceled, model.OrderPaid, false},
		{model.OrderExpired, model.OrderUnpaid, false},
		{model.OrderCompleted, model.OrderCanceled, false},
	}
	for _, tc := range cases {
		if got := CanTransitionOrder(tc.from, tc.to); got != tc.want {
			t.Fatalf("%s -> %s = %v", tc.from, tc.to, got)
		}
	}
}

func TestDeriveOrderStatus(t *testing.T) {
	cases := []struct {
		name  string
		items []model.ItemStatus
		want  model.OrderStatus
		ok    bool
	}{
		{"in progress holds", []model.ItemStatus{model.ItemInProgress, model.ItemCanceled}, "", false},
		{"all canceled", []model.ItemStatus{model.ItemCanceled, model.ItemCanceled}, model.OrderCanceled, true},
		{"completed and canceled", []model.ItemStatus{model.ItemCompleted, model.ItemCanceled}, model.OrderCompleted, true},
		{"scheduled pending", []model.ItemStatus{model.ItemCompleted, model.ItemScheduled}, "", false},
		{"empty", nil, "", false},
	}
	for _, tc := range cases {
		got, ok := DeriveOrderStatus(tc.items)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("%s: got %q %v", tc.name, got, ok)
		}
	}
}

func TestCompensatedTotalClamps(t *testing.T) {
	if got, clamped := CompensatedTotal(100, 40); got != 60 || clamped {
		t.Fatalf("got %d %v", got, clamped)
	}
	if got, clamped := CompensatedTotal(30, 40); got != 0 || !clamped {
		t.Fatalf("got %d %v", got, clamped)
	}
}

type fixture struct {
	store   *memstore.Store
	machine *Machine
}

func newFixture(t *testing.T, orderStatus model.OrderStatus, total int64, items ...model.OrderItem) fixture {
	t.Helper()
	s := memstore.New()
	s.AddProduct(model.Product{ID: "p1", Name: "Haircut", Price: 50000, EstimationUnits: 1})
	ctx := context.Background()
	err := s.WithinTx(ctx, func(tx storage.Tx) error {
		if err := tx.InsertOrder(ctx, model.Order{ID: "o1", OwnerID: "u1", Code: "INV-1", TotalPrice: total, Status: orderStatus}); err != nil {
			return err
		}
		for _, it := range items {
			it.OrderID = "o1"
			it.ProductID = "p1"
			if err := tx.InsertOrderItem(ctx, it); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	now := func() time.Time { return time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC) }
	return fixture{store: s, machine: NewMachine(runtime.DiscardLogger(), now)}
}

func (f fixture) run(t *testing.T, fn func(tx storage.Tx) (Result, error)) Result {
	t.Helper()
	var res Result
	err := f.store.WithinTx(context.Background(), func(tx storage.Tx) error {
		var err error
		res, err = fn(tx)
		return err
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
	return res
}

func TestCancelAndCompleteDerivesCompleted(t *testing.T) {
	f := newFixture(t, model.OrderPaid, 150000,
		model.OrderItem{ID: "a", Price: 50000, Status: model.ItemScheduled},
		model.OrderItem{ID: "b", Price: 100000, Status: model.ItemScheduled},
	)
	ctx := context.Background()

	res := f.run(t, func(tx storage.Tx) (Result, error) {
		return f.machine.ApplyItemTransition(ctx, tx, "a", model.ItemCanceled, SourceAdmin)
	})
	if !res.Applied || res.Order.TotalPrice != 100000 || res.Order.Status != model.OrderPaid {
		t.Fatalf("after cancel: %+v", res.Order)
	}
	f.run(t, func(tx storage.Tx) (Result, error) {
		return f.machine.ApplyItemTransition(ctx, tx, "b", model.ItemInProgress, SourceAdmin)
	})
	res = f.run(t, func(tx storage.Tx) (Result, error) {
		return f.machine.ApplyItemTransition(ctx, tx, "b", model.ItemCompleted, SourceAdmin)
	})
	if res.Order.Status != model.OrderCompleted {
		t.Fatalf("expected COMPLETED, got %s", res.Order.Status)
	}
	o, _ := f.store.GetOrder(ctx, "o1")
	if o.Status != model.OrderCompleted || o.TotalPrice != 100000 {
		t.Fatalf("stored order %+v", o)
	}
}

func TestIllegalItemTransitionIsAbsorbed(t *testing.T) {
	f := newFixture(t, model.OrderPaid, 50000, model.OrderItem{ID: "a", Price: 50000, Status: model.ItemScheduled})
	ctx := context.Background()
	res := f.run(t, func(tx storage.Tx) (Result, error) {
		return f.machine.ApplyItemTransition(ctx, tx, "a", model.ItemCompleted, SourceAdmin)
	})
	if res.Applied {
		t.Fatalf("SCHEDULED -> COMPLETED must be absorbed")
	}
	if len(f.store.Events()) != 0 {
		t.Fatalf("absorbed transition must not emit events")
	}
}

func TestRepeatedCancelDoesNotCompensateTwice(t *testing.T) {
	f := newFixture(t, model.OrderPaid, 80000,
		model.OrderItem{ID: "a", Price: 50000, Status: model.ItemScheduled},
		model.OrderItem{ID: "b", Price: 30000, Status: model.ItemScheduled},
	)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		f.run(t, func(tx storage.Tx) (Result, error) {
			return f.machine.ApplyItemTransition(ctx, tx, "a", model.ItemCanceled, SourceAdmin)
		})
	}
	o, _ := f.store.GetOrder(ctx, "o1")
	if o.TotalPrice != 30000 {
		t.Fatalf("expected a single decrement, total=%d", o.TotalPrice)
	}
}

func TestCompensationClampsAtZero(t *testing.T) {
	f := newFixture(t, model.OrderPaid, 20000, model.OrderItem{ID: "a", Price: 50000, Status: model.ItemScheduled})
	ctx := context.Background()
	res := f.run(t, func(tx storage.Tx) (Result, error) {
		return f.machine.ApplyItemTransition(ctx, tx, "a", model.ItemCanceled, SourceAdmin)
	})
	if res.Order.TotalPrice != 0 || res.Order.Status != model.OrderCanceled {
		t.Fatalf("unexpected order %+v", res.Order)
	}
}

func TestOrderTransitionCascadesAndIsIdempotent(t *testing.T) {
	f := newFixture(t, model.OrderUnpaid, 50000, model.OrderItem{ID: "a", Price: 50000, Status: model.ItemUnpaid})
	ctx := context.Background()

	res := f.run(t, func(tx storage.Tx) (Result, error) {
		return f.machine.ApplyOrderTransition(ctx, tx, "o1", model.OrderPaid, model.ItemScheduled, SourceWebhook)
	})
	if !res.BecamePaid() || res.Items[0].Status != model.ItemScheduled {
		t.Fatalf("first apply: %+v", res)
	}
	res = f.run(t, func(tx storage.Tx) (Result, error) {
		return f.machine.ApplyOrderTransition(ctx, tx, "o1", model.OrderPaid, model.ItemScheduled, SourceWebhook)
	})
	if res.Applied || res.BecamePaid() {
		t.Fatalf("replay must be a no-op: %+v", res)
	}
	if n := len(f.store.Events()); n != 1 {
		t.Fatalf("expected one event, got %d", n)
	}
}

func TestTerminalOrderAbsorbsSettlement(t *testing.T) {
	f := newFixture(t, model.OrderExpired, 50000, model.OrderItem{ID: "a", Price: 50000, Status: model.ItemExpired})
	ctx := context.Background()
	res := f.run(t, func(tx storage.Tx) (Result, error) {
		return f.machine.ApplyOrderTransition(ctx, tx, "o1", model.OrderPaid, model.ItemScheduled, SourceWebhook)
	})
	if res.Applied {
		t.Fatalf("expired order must stay expired")
	}
	o, _ := f.store.GetOrder(ctx, "o1")
	if o.Status != model.OrderExpired {
		t.Fatalf("status changed to %s", o.Status)
	}
}

func TestForceOrderStatusCascades(t *testing.T) {
	f := newFixture(t, model.OrderPaid, 80000,
		model.OrderItem{ID: "a", Price: 50000, Status: model.ItemScheduled},
		model.OrderItem{ID: "b", Price: 30000, Status: model.ItemInProgress},
	)
	ctx := context.Background()
	res := f.run(t, func(tx storage.Tx) (Result, error) {
		return f.machine.ForceOrderStatus(ctx, tx, "o1", model.OrderCanceled)
	})
	if !res.Applied || res.Order.Status != model.OrderCanceled || res.Order.TotalPrice != 0 {
		t.Fatalf("unexpected result %+v", res.Order)
	}
	items, _ := f.store.ListOrderItems(ctx, "o1")
	for _, it := range items {
		if it.Status != model.ItemCanceled {
			t.Fatalf("item %s not canceled: %s", it.ID, it.Status)
		}
	}

	res = f.run(t, func(tx storage.Tx) (Result, error) {
		return f.machine.ForceOrderStatus(ctx, tx, "o1", model.OrderPaid)
	})
	if res.Order.Status != model.OrderPaid || res.Items[0].Status != model.ItemScheduled || res.Order.TotalPrice != 80000 {
		t.Fatalf("revive failed: %+v", res)
	}
}

func TestCancelUnpaidItemCompensates(t *testing.T) {
	f := newFixture(t, model.OrderUnpaid, 100000,
		model.OrderItem{ID: "a", Price: 50000, Status: model.ItemUnpaid},
		model.OrderItem{ID: "b", Price: 50000, Status: model.ItemUnpaid},
	)
	ctx := context.Background()
	res := f.run(t, func(tx storage.Tx) (Result, error) {
		return f.machine.ApplyItemTransition(ctx, tx, "a", model.ItemCanceled, SourceAdmin)
	})
	if !res.Applied || res.Order.TotalPrice != 50000 || res.Compensated != 50000 {
		t.Fatalf("unexpected result %+v", res.Order)
	}
	o, _ := f.store.GetOrder(ctx, "o1")
	if o.TotalPrice != 50000 || o.Status != model.OrderUnpaid {
		t.Fatalf("stored order %+v", o)
	}
}

func TestRevivedItemRestoresPrice(t *testing.T) {
	f := newFixture(t, model.OrderPaid, 100000,
		model.OrderItem{ID: "a", Price: 50000, Status: model.ItemScheduled},
		model.OrderItem{ID: "b", Price: 50000, Status: model.ItemScheduled},
	)
	ctx := context.Background()
	for _, target := range []model.ItemStatus{model.ItemCanceled, model.ItemScheduled, model.ItemCanceled} {
		f.run(t, func(tx storage.Tx) (Result, error) {
			return f.machine.ForceItemStatus(ctx, tx, "a", target)
		})
	}
	o, _ := f.store.GetOrder(ctx, "o1")
	if o.TotalPrice != 50000 {
		t.Fatalf("expected total of the live item only, got %d", o.TotalPrice)
	}

	res := f.run(t, func(tx storage.Tx) (Result, error) {
		return f.machine.ForceItemStatus(ctx, tx, "a", model.ItemScheduled)
	})
	if res.Order.TotalPrice != 100000 || res.Compensated != -50000 {
		t.Fatalf("revive must restore the price: %+v", res)
	}
}

func TestForceItemStatusBypassesGuard(t *testing.T) {
	f := newFixture(t, model.OrderPaid, 50000, model.OrderItem{ID: "a", Price: 50000, Status: model.ItemScheduled})
	ctx := context.Background()
	res := f.run(t, func(tx storage.Tx) (Result, error) {
		return f.machine.ForceItemStatus(ctx, tx, "a", model.ItemCompleted)
	})
	if !res.Applied || res.Order.Status != model.OrderCompleted {
		t.Fatalf("unexpected %+v", res.Order)
	}
}
