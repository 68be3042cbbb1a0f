package profile

import (
	"sync/atomic"
	"time"
)

// atomicU64 is a thin alias kept for readability at call sites; it is
// exactly atomic.Uint64.
type atomicU64 = atomic.Uint64

// atomicTime stores a time.Time behind an atomic.Value, giving wait-free
// reads of LastExecution from the hot path (spec §4.A: counters must be
// updated "without blocking concurrent readers").
type atomicTime struct {
	v atomic.Value // holds time.Time
}

func (a *atomicTime) Store(t time.Time) {
	a.v.Store(t)
}

func (a *atomicTime) Load() time.Time {
	v := a.v.Load()
	if v == nil {
		return time.Time{}
	}
	return v.(time.Time)
}

// timeNow is a seam over time.Now so tests can substitute a fixed clock
// if needed; production code always calls the real clock.
var timeNow = time.Now

// casMin atomically lowers dst to v if v is smaller than the current
// value, retrying under contention.
func casMin(dst *atomic.Uint64, v uint64) {
	for {
		cur := dst.Load()
		if v >= cur {
			return
		}
		if dst.CompareAndSwap(cur, v) {
			return
		}
	}
}

// casMax atomically raises dst to v if v is larger than the current
// value, retrying under contention.
func casMax(dst *atomic.Uint64, v uint64) {
	for {
		cur := dst.Load()
		if v <= cur {
			return
		}
		if dst.CompareAndSwap(cur, v) {
			return
		}
	}
}
