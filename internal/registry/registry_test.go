package registry

import (
	"testing"

	"github.com/octoreflex/aott/internal/types"
)

func mkSpec(id types.SpeculationId, fid types.FunctionId, variable string) *types.Speculation {
	return &types.Speculation{
		ID:         id,
		FID:        fid,
		Assumption: types.Assumption{Kind: types.AssumeTypeStable, Variable: variable},
	}
}

func TestInsertAndLookup(t *testing.T) {
	r := New()
	s := mkSpec(1, 100, "x")
	r.Insert(s)

	got, ok := r.Lookup(1)
	if !ok || got.FID != 100 {
		t.Fatalf("Lookup(1) = %+v,%v, want the inserted speculation", got, ok)
	}
}

func TestForFunctionIndexesMultipleSpeculations(t *testing.T) {
	r := New()
	r.Insert(mkSpec(1, 100, "x"))
	r.Insert(mkSpec(2, 100, "y"))
	r.Insert(mkSpec(3, 200, "z"))

	ids := r.ForFunction(100)
	if len(ids) != 2 {
		t.Fatalf("ForFunction(100) = %v, want 2 entries", ids)
	}
}

func TestDependentsOfGroupsByDependencyKey(t *testing.T) {
	r := New()
	r.Insert(mkSpec(1, 100, "x"))
	r.Insert(mkSpec(2, 200, "x")) // different function, same variable -> same DependencyKey
	r.Insert(mkSpec(3, 300, "y"))

	key := types.Assumption{Kind: types.AssumeTypeStable, Variable: "x"}.Key()
	deps := r.DependentsOf(key)
	if len(deps) != 2 {
		t.Fatalf("DependentsOf(x) = %v, want 2 entries", deps)
	}
}

func TestRemoveUnregistersFromAllIndexes(t *testing.T) {
	r := New()
	s := mkSpec(1, 100, "x")
	r.Insert(s)

	var reclaimed *types.Speculation
	ok := r.Remove(1, func(sp *types.Speculation) { reclaimed = sp })
	if !ok {
		t.Fatalf("Remove returned false for a registered speculation")
	}
	if _, ok := r.Lookup(1); ok {
		t.Fatalf("speculation still reachable via Lookup after Remove")
	}
	if len(r.ForFunction(100)) != 0 {
		t.Fatalf("speculation still reachable via ForFunction after Remove")
	}

	r.Advance() // epoch has no active readers, should reclaim immediately
	if reclaimed == nil {
		t.Fatalf("onReclaim callback never ran after Advance")
	}
}

func TestRemoveDeferredWhileReaderActive(t *testing.T) {
	r := New()
	r.Insert(mkSpec(1, 100, "x"))

	guard := r.EnterRead()
	reclaimedCh := make(chan struct{}, 1)
	r.Remove(1, func(*types.Speculation) { reclaimedCh <- struct{}{} })

	r.Advance() // the active reader's epoch can't be the oldest-drained bucket yet
	select {
	case <-reclaimedCh:
		t.Fatalf("reclamation ran while a reader was still active")
	default:
	}

	guard.Exit()
	r.Advance()
	r.Advance() // may need a couple of advances to cycle past the active bucket
	r.Advance()
	select {
	case <-reclaimedCh:
	default:
		t.Fatalf("reclamation never ran after the reader exited")
	}
}

func TestRemoveDependentsRemovesWholeGroup(t *testing.T) {
	r := New()
	r.Insert(mkSpec(1, 100, "x"))
	r.Insert(mkSpec(2, 200, "x"))
	r.Insert(mkSpec(3, 300, "y"))

	key := types.Assumption{Kind: types.AssumeTypeStable, Variable: "x"}.Key()
	n := r.RemoveDependents(key, nil)
	if n != 2 {
		t.Fatalf("RemoveDependents removed %d, want 2", n)
	}
	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (only the \"y\" speculation left)", r.Len())
	}
}
