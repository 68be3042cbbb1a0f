// Package registry implements the Speculation Registry (spec §4.F,
// component F): the authoritative table of live Speculations, indexed
// by SpeculationId, FunctionId, and DependencyKey, with safe memory
// reclamation for removed entries under concurrent readers.
//
// Reclamation here generalizes the teacher's gossip quorum pruning
// (internal/gossip/quorum.go's pruneExpired/pruneLoop, a TTL-driven
// sweep) into epoch-based reclamation: instead of a wall-clock TTL, a
// retired Speculation is only actually freed once every reader that
// could have observed it has left the epoch it was retired in. This
// matches the stronger safety requirement here — a Speculation must
// never be freed while a Guard Runtime check elsewhere might still
// dereference it, a correctness property a TTL alone cannot guarantee.
package registry

import "sync"

// Reclaimer implements epoch-based reclamation: readers pin the current
// epoch while they may be holding a pointer obtained from the Registry;
// retired objects are tagged with the epoch active when they were
// retired and only freed once every reader pinned to that epoch (or
// earlier) has exited.
type Reclaimer struct {
	mu      sync.Mutex
	epoch   uint64
	active  map[uint64]int64
	retired map[uint64][]func()
}

// NewReclaimer constructs a Reclaimer starting at epoch 0.
func NewReclaimer() *Reclaimer {
	return &Reclaimer{
		active:  make(map[uint64]int64),
		retired: make(map[uint64][]func()),
	}
}

// EpochGuard must be released (via Exit) once the caller is done
// touching any value obtained from the registry while holding it.
type EpochGuard struct {
	epoch uint64
	r     *Reclaimer
}

// Exit releases the guard, allowing its epoch to eventually be
// reclaimed once every other reader of the same epoch has also exited.
func (g EpochGuard) Exit() {
	g.r.mu.Lock()
	g.r.active[g.epoch]--
	if g.r.active[g.epoch] <= 0 {
		delete(g.r.active, g.epoch)
	}
	g.r.mu.Unlock()
}

// Enter marks the caller as an active reader of the current epoch.
// Callers must call Exit on the returned guard when done.
func (r *Reclaimer) Enter() EpochGuard {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[r.epoch]++
	return EpochGuard{epoch: r.epoch, r: r}
}

// Retire schedules free to run once every reader active at the moment
// of retirement (the current epoch or earlier) has exited. free must
// not touch anything another in-flight reader might still be using
// concurrently with the retirement itself — only state that is being
// removed.
func (r *Reclaimer) Retire(free func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retired[r.epoch] = append(r.retired[r.epoch], free)
}

// TryAdvance advances the epoch (so new readers no longer pin any
// not-yet-reclaimed epoch) and reclaims every retired epoch whose
// active-reader count has dropped to zero. Returns the number of
// callbacks run. Safe to call from any goroutine at any cadence.
func (r *Reclaimer) TryAdvance() int {
	r.mu.Lock()
	r.epoch++

	var toRun []func()
	for epoch, callbacks := range r.retired {
		if r.hasActiveReaderAtOrBefore(epoch) {
			continue // a reader that entered at or before this epoch is still active
		}
		toRun = append(toRun, callbacks...)
		delete(r.retired, epoch)
	}
	r.mu.Unlock()

	for _, cb := range toRun {
		cb()
	}
	return len(toRun)
}

// hasActiveReaderAtOrBefore reports whether any reader pinned to an
// epoch <= target is still active. Must be called with r.mu held.
func (r *Reclaimer) hasActiveReaderAtOrBefore(target uint64) bool {
	for epoch, count := range r.active {
		if count > 0 && epoch <= target {
			return true
		}
	}
	return false
}

// PendingRetired returns the total number of callbacks awaiting
// reclamation across all epochs, exposed as a telemetry gauge.
func (r *Reclaimer) PendingRetired() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, callbacks := range r.retired {
		total += len(callbacks)
	}
	return total
}
