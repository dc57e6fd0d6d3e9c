package storage

import (
	"testing"
	"time"
)

func TestCapacityLockKeyIsPerDay(t *testing.T) {
	wib := time.FixedZone("WIB", 7*3600)
	morning := time.Date(2026, 10, 20, 7, 0, 0, 0, wib)
	evening := time.Date(2026, 10, 20, 17, 30, 0, 0, wib)
	if CapacityLockKey(morning) != CapacityLockKey(evening) {
		t.Fatalf("same day must share a lock key")
	}
	if CapacityLockKey(morning) == CapacityLockKey(morning.AddDate(0, 0, 1)) {
		t.Fatalf("different days must not share a lock key")
	}
}

func TestScheduleQueryNormalize(t *testing.T) {
	q := ScheduleQuery{Limit: 0, Offset: -3, Sort: "sideways"}.Normalize()
	if q.Limit != DefaultScheduleLimit || q.Offset != 0 || q.Sort != SortAsc {
		t.Fatalf("unexpected defaults: %+v", q)
	}
	q = ScheduleQuery{Limit: 1000, Sort: SortDesc}.Normalize()
	if q.Limit != MaxScheduleLimit || q.Sort != SortDesc {
		t.Fatalf("unexpected clamp: %+v", q)
	}
}
