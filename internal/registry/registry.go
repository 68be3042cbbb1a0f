package registry

import (
	"sync"

	"github.com/octoreflex/aott/internal/types"
)

// Registry is the Speculation Registry: the authoritative table of
// live Speculations plus secondary indexes by FunctionId and
// DependencyKey (spec §3, §4.F).
//
// Invariant: every SpeculationId reachable from byFID or byDep is
// present in prim with the same pointer identity
// (spec §8 property 9: dependent invalidation must be exhaustive).
type Registry struct {
	mu    sync.RWMutex
	prim  map[types.SpeculationId]*types.Speculation
	byFID map[types.FunctionId]map[types.SpeculationId]struct{}
	byDep map[types.DependencyKey]map[types.SpeculationId]struct{}

	reclaimer *Reclaimer
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{
		prim:      make(map[types.SpeculationId]*types.Speculation),
		byFID:     make(map[types.FunctionId]map[types.SpeculationId]struct{}),
		byDep:     make(map[types.DependencyKey]map[types.SpeculationId]struct{}),
		reclaimer: NewReclaimer(),
	}
}

// EnterRead returns an EpochGuard for a read-only lookup sequence (e.g.
// Lookup followed by reading fields off the returned *Speculation
// outside the Registry's own lock). The guard must be released with
// Exit once the caller is done with any Speculation obtained while
// holding it, so a concurrent Remove's retirement cannot free it out
// from under the reader.
func (r *Registry) EnterRead() EpochGuard {
	return r.reclaimer.Enter()
}

// Insert adds a new Speculation to the primary table and both
// secondary indexes (spec §4.F step 1).
func (r *Registry) Insert(spec *types.Speculation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prim[spec.ID] = spec

	fidSet, ok := r.byFID[spec.FID]
	if !ok {
		fidSet = make(map[types.SpeculationId]struct{})
		r.byFID[spec.FID] = fidSet
	}
	fidSet[spec.ID] = struct{}{}

	key := spec.Assumption.Key()
	depSet, ok := r.byDep[key]
	if !ok {
		depSet = make(map[types.SpeculationId]struct{})
		r.byDep[key] = depSet
	}
	depSet[spec.ID] = struct{}{}
}

// Lookup returns the Speculation for id, if live.
func (r *Registry) Lookup(id types.SpeculationId) (*types.Speculation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.prim[id]
	return s, ok
}

// ForFunction returns every live SpeculationId registered against fid.
func (r *Registry) ForFunction(fid types.FunctionId) []types.SpeculationId {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byFID[fid]
	ids := make([]types.SpeculationId, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

// DependentsOf returns every live SpeculationId whose Assumption reduces
// to the same DependencyKey as key — the set that must be invalidated
// together on a deopt (spec §4.F step 3, §8 property 9).
func (r *Registry) DependentsOf(key types.DependencyKey) []types.SpeculationId {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byDep[key]
	ids := make([]types.SpeculationId, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

// Remove unregisters id from the primary table and both secondary
// indexes immediately (so no new reader can look it up), then retires
// the actual struct for epoch-delayed release so any reader that
// already obtained a pointer to it under EnterRead can keep using it
// safely until its epoch drains (spec §4.F step 4, §4.H "deopt must not
// free a Speculation still being executed by another thread").
//
// onReclaim, if non-nil, runs once the Speculation is actually
// reclaimed (e.g. to release its CompiledBody back to the Executable
// Memory Arena).
func (r *Registry) Remove(id types.SpeculationId, onReclaim func(*types.Speculation)) bool {
	r.mu.Lock()
	spec, ok := r.prim[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.prim, id)
	if set := r.byFID[spec.FID]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(r.byFID, spec.FID)
		}
	}
	key := spec.Assumption.Key()
	if set := r.byDep[key]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(r.byDep, key)
		}
	}
	r.mu.Unlock()

	if onReclaim != nil {
		r.reclaimer.Retire(func() { onReclaim(spec) })
	}
	return true
}

// RemoveDependents removes every Speculation sharing key's
// DependencyKey, e.g. in response to a guard failure that invalidates
// an entire class of assumptions (spec §4.F step 3).
func (r *Registry) RemoveDependents(key types.DependencyKey, onReclaim func(*types.Speculation)) int {
	ids := r.DependentsOf(key)
	for _, id := range ids {
		r.Remove(id, onReclaim)
	}
	return len(ids)
}

// Advance drives the epoch-based reclaimer forward, actually freeing
// any Speculations retired in a now-fully-drained epoch. Intended to be
// called periodically by a background sweep (spec §4.F step 4).
func (r *Registry) Advance() int {
	return r.reclaimer.TryAdvance()
}

// Len returns the number of live Speculations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.prim)
}

// PendingReclamation exposes the reclaimer's backlog as a telemetry gauge.
func (r *Registry) PendingReclamation() int {
	return r.reclaimer.PendingRetired()
}
