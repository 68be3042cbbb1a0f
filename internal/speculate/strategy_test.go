package speculate

import (
	"testing"

	"github.com/octoreflex/aott/internal/types"
)

func TestTypeStableStrategyPicksMostStableVariable(t *testing.T) {
	ctx := ProposalContext{
		TypeFeedback: map[string]types.TypeFeedback{
			"x": {MostCommonType: "int", Stability: 0.6},
			"y": {MostCommonType: "string", Stability: 0.95},
		},
		MinTypeStability: 0.5,
	}
	a, ok := (typeStableStrategy{}).Propose(ctx)
	if !ok {
		t.Fatalf("expected a proposal")
	}
	if a.Variable != "y" || a.Type != "string" {
		t.Fatalf("got %+v, want variable y, type string", a)
	}
}

func TestTypeStableStrategyRejectsBelowThreshold(t *testing.T) {
	ctx := ProposalContext{
		TypeFeedback: map[string]types.TypeFeedback{
			"x": {MostCommonType: "int", Stability: 0.2},
		},
		MinTypeStability: 0.5,
	}
	_, ok := (typeStableStrategy{}).Propose(ctx)
	if ok {
		t.Fatalf("expected no proposal below MinTypeStability")
	}
}

func TestBranchStrategyAlwaysTakenVsProbability(t *testing.T) {
	ctx := ProposalContext{
		BranchProfile: map[types.BranchId]types.BranchProfile{
			1: {BID: 1, TakenCount: 990, NotTakenCount: 10},
			2: {BID: 2, TakenCount: 80, NotTakenCount: 20},
		},
		MinBranchConfidence: 0.6,
	}
	a, ok := (branchStrategy{}).Propose(ctx)
	if !ok {
		t.Fatalf("expected a proposal")
	}
	if a.Kind != types.AssumeBranchAlwaysTaken || a.Branch != 1 {
		t.Fatalf("got %+v, want BranchAlwaysTaken on branch 1 (the higher-confidence branch)", a)
	}
}

func TestLoopBoundStrategyDetectsConstantBound(t *testing.T) {
	ctx := ProposalContext{
		LoopBounds: map[types.LoopId]LoopBoundInfo{
			1: NewLoopBoundInfo(32, true, nil),
		},
	}
	a, ok := (loopBoundStrategy{}).Propose(ctx)
	if !ok || a.Bound != 32 || a.Loop != 1 {
		t.Fatalf("got %+v,%v, want Bound=32 Loop=1", a, ok)
	}
}

func TestCallSiteMonomorphicStrategyRequiresMonoAndShare(t *testing.T) {
	ctx := ProposalContext{
		CallSites: map[types.CallSiteId]types.CallSiteFeedback{
			5: {Site: 5, Targets: map[types.FunctionId]uint64{100: 50}, Polymorphism: types.PolyMono},
		},
		MinCallSiteShare: 0.9,
	}
	a, ok := (callSiteMonomorphicStrategy{}).Propose(ctx)
	if !ok || a.Target != 100 || a.Site != 5 {
		t.Fatalf("got %+v,%v, want Target=100 Site=5", a, ok)
	}
}

func TestBuildGuardsMatchesAssumptionKind(t *testing.T) {
	guards := BuildGuards(types.Assumption{Kind: types.AssumeTypeStable, Variable: "x"}, "deopt@0")
	if len(guards) != 1 || guards[0].Kind != types.GuardTypeCheck {
		t.Fatalf("got %+v, want one GuardTypeCheck", guards)
	}
}

func TestPrologueLayoutIsAligned(t *testing.T) {
	guards := []types.Guard{{Kind: types.GuardTypeCheck}}
	_, entry := PrologueLayout(guards)
	if entry%guardAlignmentBytes != 0 {
		t.Fatalf("entryOffset = %d, not aligned to %d", entry, guardAlignmentBytes)
	}
}

func TestBuildDeoptInfoCompleteForLiveLocals(t *testing.T) {
	di, err := BuildDeoptInfo(types.FunctionId(1), []string{"a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rp, ok := di.RecoveryPointFor(0)
	if !ok {
		t.Fatalf("expected a recovery point at pc=0")
	}
	if _, complete := rp.CompleteFor([]string{"a", "b"}); !complete {
		t.Fatalf("expected recovery point to be complete for [a,b]")
	}
}

func TestProposePrefersEarlierStrategy(t *testing.T) {
	ctx := ProposalContext{
		TypeFeedback: map[string]types.TypeFeedback{
			"x": {MostCommonType: "int", Stability: 0.9},
		},
		BranchProfile: map[types.BranchId]types.BranchProfile{
			1: {BID: 1, TakenCount: 99, NotTakenCount: 1},
		},
		MinTypeStability:    0.5,
		MinBranchConfidence: 0.5,
	}
	a, kind, ok := Propose(DefaultStrategies(), ctx)
	if !ok {
		t.Fatalf("expected a proposal")
	}
	if a.Kind != types.AssumeTypeStable || kind != types.OptTypeSpecialize {
		t.Fatalf("got assumption kind %v opt kind %v, want TypeStable/TypeSpecialize (first strategy in order)", a.Kind, kind)
	}
}
