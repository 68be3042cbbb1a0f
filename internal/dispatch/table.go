// Package dispatch implements the Dispatch Table (spec §4.I,
// component I): the per-FunctionId table of "what code runs when this
// function is called" — interpreter, a given tier's generic compiled
// body, or a specific Speculation's compiled body — published so the
// calling convention can read it without blocking on the Promotion
// Detector or Deoptimization Manager.
//
// The per-entry atomic.Pointer swap is grounded on
// escalation/state_machine.go's mutex-guarded Escalate/Decay pair,
// generalized from "mutex + field mutation" into "atomic pointer swap
// of a whole immutable entry" since the Dispatch Table's read path
// (every function call) cannot tolerate lock contention the way
// escalation's comparatively rare state transitions can; the
// surrounding per-function slot bookkeeping (an atomic counter beside a
// structural map) follows budget/token_bucket.go's shape of keeping hot
// counters outside the mutex that only cold-path slot creation takes.
package dispatch

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/octoreflex/aott/internal/types"
)

// slot holds one FunctionId's dispatch state: the current entry
// (atomically swappable) plus an operator pin flag (spec §6 "operator
// override: pin a function's tier, preventing further
// promotion/deoptimization").
type slot struct {
	entry atomic.Pointer[types.DispatchEntry]
	pinned atomic.Bool

	transitions atomic.Uint64 // count of successful Install/Escalate/Decay calls and Reset calls
}

// Table is the Dispatch Table.
type Table struct {
	mu    sync.RWMutex
	slots map[types.FunctionId]*slot
}

// New constructs an empty Table; every FunctionId not yet installed
// implicitly dispatches to the interpreter at TierLevel T0.
func New() *Table {
	return &Table{slots: make(map[types.FunctionId]*slot)}
}

func (t *Table) getOrCreate(fid types.FunctionId) *slot {
	t.mu.RLock()
	s, ok := t.slots[fid]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.slots[fid]; ok {
		return s
	}
	s = &slot{}
	s.entry.Store(&types.DispatchEntry{FID: fid, Tier: types.T0, InstalledAt: time.Now()})
	t.slots[fid] = s
	return s
}

// Get returns the current dispatch entry for fid, defaulting to an
// interpreter-tier entry if fid has never been installed.
func (t *Table) Get(fid types.FunctionId) types.DispatchEntry {
	return *t.getOrCreate(fid).entry.Load()
}

// Install atomically publishes a new dispatch entry for fid — the
// single write operation every promotion and deoptimization funnels
// through (spec §4.I step 1). Returns false without changing anything
// if fid is currently pinned by an operator override.
func (t *Table) Install(entry types.DispatchEntry) bool {
	s := t.getOrCreate(entry.FID)
	if s.pinned.Load() {
		return false
	}
	entry.InstalledAt = time.Now()
	s.entry.Store(&entry)
	s.transitions.Add(1)
	return true
}

// Escalate installs entry only if its Tier is strictly higher than the
// currently installed entry's Tier (spec §4.I step 2: "promotion
// installs are monotonic unless an explicit reset occurs"). Returns the
// entry actually in effect afterward and whether the escalation applied.
func (t *Table) Escalate(entry types.DispatchEntry) (types.DispatchEntry, bool) {
	s := t.getOrCreate(entry.FID)
	if s.pinned.Load() {
		return *s.entry.Load(), false
	}
	for {
		old := s.entry.Load()
		if entry.Tier <= old.Tier {
			return *old, false
		}
		entry.InstalledAt = time.Now()
		if s.entry.CompareAndSwap(old, &entry) {
			s.transitions.Add(1)
			return entry, true
		}
	}
}

// Decay installs a de-escalated entry for fid at targetTier, discarding
// any installed Speculation — the Dispatch Table's half of a
// deoptimization (spec §4.H step 5, §4.I step 3). Grounded on
// escalation.ProcessState.Decay()'s same "drop one severity level and
// clear transient state" shape.
func (t *Table) Decay(fid types.FunctionId, targetTier types.TierLevel, fallback types.CompiledBody) (types.DispatchEntry, bool) {
	s := t.getOrCreate(fid)
	if s.pinned.Load() {
		return *s.entry.Load(), false
	}
	next := types.DispatchEntry{
		FID:     fid,
		Tier:    targetTier,
		HasSpec: false,
		Body:    fallback,
	}
	for {
		old := s.entry.Load()
		next.InstalledAt = time.Now()
		if s.entry.CompareAndSwap(old, &next) {
			s.transitions.Add(1)
			return next, true
		}
	}
}

// Pin prevents further Install/Escalate/Decay calls for fid from taking
// effect until Unpin is called (spec §6 operator "pin" command).
func (t *Table) Pin(fid types.FunctionId) {
	t.getOrCreate(fid).pinned.Store(true)
}

// Unpin reverses Pin.
func (t *Table) Unpin(fid types.FunctionId) {
	t.getOrCreate(fid).pinned.Store(false)
}

// IsPinned reports whether fid is currently pinned.
func (t *Table) IsPinned(fid types.FunctionId) bool {
	return t.getOrCreate(fid).pinned.Load()
}

// Reset reverts fid to an interpreter-tier entry and clears any pin
// (spec §6 operator "reset" command).
func (t *Table) Reset(fid types.FunctionId) {
	s := t.getOrCreate(fid)
	s.pinned.Store(false)
	s.entry.Store(&types.DispatchEntry{FID: fid, Tier: types.T0, InstalledAt: time.Now()})
	s.transitions.Add(1)
}

// Transitions returns the number of successful state changes recorded
// for fid, exposed as a per-function telemetry signal.
func (t *Table) Transitions(fid types.FunctionId) uint64 {
	return t.getOrCreate(fid).transitions.Load()
}

// Len returns the number of FunctionIds with a slot. A slot is created
// on first use by any method that takes a FunctionId, read-only ones
// (Get, IsPinned, Transitions) included, not only by
// Install/Escalate/Decay/Reset.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.slots)
}

// List returns every FunctionId with a slot (see Len) and its current
// entry, used by the operator "list" command (spec §6).
func (t *Table) List() map[types.FunctionId]types.DispatchEntry {
	t.mu.RLock()
	fids := make([]types.FunctionId, 0, len(t.slots))
	for fid := range t.slots {
		fids = append(fids, fid)
	}
	t.mu.RUnlock()

	out := make(map[types.FunctionId]types.DispatchEntry, len(fids))
	for _, fid := range fids {
		out[fid] = t.Get(fid)
	}
	return out
}
