package scheduler

import (
	"sync"
	"time"

	"github.com/octoreflex/aott/internal/types"
)

// cooldownTracker blacklists a function from re-submission for a flat
// duration after its compile task times out, grounded on
// escalation/camouflage.go's epoch-rotation idiom, simplified to the
// flat `recovery_blacklist_duration_s` window named in spec.md §6
// (the full epoch-formula rotation camouflage.go uses has no analogue
// here since there is only one severity of cooldown, not a ladder).
type cooldownTracker struct {
	mu       sync.Mutex
	until    map[types.FunctionId]time.Time
	duration time.Duration
	now      func() time.Time
}

func newCooldownTracker(duration time.Duration) *cooldownTracker {
	return &cooldownTracker{
		until:    make(map[types.FunctionId]time.Time),
		duration: duration,
		now:      time.Now,
	}
}

// blacklist marks fid as cooling down from now until duration elapses.
func (c *cooldownTracker) blacklist(fid types.FunctionId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.until[fid] = c.now().Add(c.duration)
}

// isCoolingDown reports whether fid is still within its cooldown
// window, lazily evicting expired entries.
func (c *cooldownTracker) isCoolingDown(fid types.FunctionId) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	exp, ok := c.until[fid]
	if !ok {
		return false
	}
	if !c.now().Before(exp) {
		delete(c.until, fid)
		return false
	}
	return true
}

// len returns the number of functions currently blacklisted.
func (c *cooldownTracker) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.until)
}
