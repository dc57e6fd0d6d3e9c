package model

import (
	"testing"
	"time"
)

func TestAssignmentVariant(t *testing.T) {
	var a Assignment
	if a.IsAssigned() || a.Ref() != nil {
		t.Fatalf("zero value must be unassigned")
	}
	branch := ""
	AssignedTo("emp-1").Match(func() { branch = "none" }, func(id string) { branch = id })
	if branch != "emp-1" {
		t.Fatalf("expected assigned branch, got %q", branch)
	}
	empty := ""
	if AssignmentFromRef(&empty).IsAssigned() {
		t.Fatalf("empty ref must be unassigned")
	}
}

func TestOccupiesCapacity(t *testing.T) {
	cases := []struct {
		item  ItemStatus
		order OrderStatus
		want  bool
	}{
		{ItemScheduled, OrderPaid, true},
		{ItemInProgress, OrderScheduled, true},
		{ItemScheduled, OrderUnpaid, false},
		{ItemPending, OrderPaid, false},
		{ItemCompleted, OrderPaid, false},
	}
	for _, tc := range cases {
		if got := OccupiesCapacity(tc.item, tc.order); got != tc.want {
			t.Fatalf("OccupiesCapacity(%s,%s) = %v", tc.item, tc.order, got)
		}
	}
}

func TestIntervalEnd(t *testing.T) {
	start := time.Date(2026, 10, 20, 9, 0, 0, 0, time.UTC)
	if got := (Interval{Start: start, DurationUnits: 2}).End(time.Hour); !got.Equal(start.Add(2 * time.Hour)) {
		t.Fatalf("unexpected end %s", got)
	}
}

func TestParseStatuses(t *testing.T) {
	if s, ok := ParseOrderStatus(" paid "); !ok || s != OrderPaid {
		t.Fatalf("parse order status")
	}
	if _, ok := ParseItemStatus("DONE"); ok {
		t.Fatalf("unknown item status must not parse")
	}
	if m, ok := ParsePaymentMethod("QRIS"); !ok || m != PaymentQRIS {
		t.Fatalf("parse payment method")
	}
}
