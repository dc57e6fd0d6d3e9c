package availability

import (
	"sort"
	"time"
)

type Span struct {
	Start time.Time
	End   time.Time
}

type sweepEvent struct {
	at    time.Time
	delta int
}

// ExceedsCapacity reports whether more than capacity spans are open at any
// instant. At equal timestamps ends are applied before starts, so spans that
// merely touch never count as simultaneous.
func ExceedsCapacity(spans []Span, capacity int) bool {
	events := make([]sweepEvent, 0, 2*len(spans))
	for _, s := range spans {
		if !s.End.After(s.Start) {
			continue
		}
		events = append(events, sweepEvent{at: s.Start, delta: 1}, sweepEvent{at: s.End, delta: -1})
	}
	sort.Slice(events, func(i, j int) bool {
		if !events[i].at.Equal(events[j].at) {
			return events[i].at.Before(events[j].at)
		}
		return events[i].delta < events[j].delta
	})

	open := 0
	for _, ev := range events {
		open += ev.delta
		if open > capacity {
			return true
		}
	}
	return false
}
