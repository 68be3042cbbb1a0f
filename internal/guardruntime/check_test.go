package guardruntime

import (
	"testing"

	"github.com/octoreflex/aott/internal/types"
)

func TestCheckTypeStablePassAndFail(t *testing.T) {
	a := types.Assumption{Kind: types.AssumeTypeStable, Variable: "x", Type: "int"}

	if r := CheckAssumption(a, Observation{TypeName: "int"}); !r.Passed {
		t.Fatalf("expected pass for matching type, got %+v", r)
	}
	if r := CheckAssumption(a, Observation{TypeName: "string"}); r.Passed {
		t.Fatalf("expected failure for mismatched type, got %+v", r)
	}
}

func TestCheckValueRangeBoundaries(t *testing.T) {
	a := types.Assumption{Kind: types.AssumeValueRange, Lo: 0, Hi: 10}

	if r := CheckAssumption(a, Observation{IntValue: 0}); !r.Passed {
		t.Fatalf("expected pass at lower boundary")
	}
	if r := CheckAssumption(a, Observation{IntValue: 10}); !r.Passed {
		t.Fatalf("expected pass at upper boundary")
	}
	if r := CheckAssumption(a, Observation{IntValue: 11}); r.Passed {
		t.Fatalf("expected failure just above upper boundary")
	}
	if r := CheckAssumption(a, Observation{IntValue: -1}); r.Passed {
		t.Fatalf("expected failure just below lower boundary")
	}
}

func TestCheckBranchAlwaysTaken(t *testing.T) {
	taken := types.Assumption{Kind: types.AssumeBranchAlwaysTaken, Branch: 1, Probability: 0.99}
	if r := CheckAssumption(taken, Observation{BranchTaken: true}); !r.Passed {
		t.Fatalf("expected pass when branch was taken as assumed")
	}
	if r := CheckAssumption(taken, Observation{BranchTaken: false}); r.Passed {
		t.Fatalf("expected failure when branch diverged from the assumed direction")
	}
}

func TestCheckBranchProbabilityNeverFails(t *testing.T) {
	prob := types.Assumption{Kind: types.AssumeBranchProbability, Branch: 1, Probability: 0.7}
	if r := CheckAssumption(prob, Observation{BranchTaken: false}); !r.Passed {
		t.Fatalf("BranchProbability must never fail the guard, got %+v", r)
	}
}

func TestCheckLoopBoundConstant(t *testing.T) {
	a := types.Assumption{Kind: types.AssumeLoopBoundConstant, Loop: 1, Bound: 16}
	if r := CheckAssumption(a, Observation{LoopIterCount: 16}); !r.Passed {
		t.Fatalf("expected pass for matching bound")
	}
	if r := CheckAssumption(a, Observation{LoopIterCount: 17}); r.Passed {
		t.Fatalf("expected failure for diverging bound")
	}
}

func TestCheckCallSiteMonomorphic(t *testing.T) {
	a := types.Assumption{Kind: types.AssumeCallSiteMonomorphic, Site: 1, Target: 42}
	if r := CheckAssumption(a, Observation{CallTarget: 42}); !r.Passed {
		t.Fatalf("expected pass for matching call target")
	}
	if r := CheckAssumption(a, Observation{CallTarget: 99}); r.Passed {
		t.Fatalf("expected failure for diverging call target")
	}
}

func TestCheckUnrecognizedKindFailsTotally(t *testing.T) {
	a := types.Assumption{Kind: types.AssumptionKind(250)}
	r := CheckAssumption(a, Observation{})
	if r.Passed {
		t.Fatalf("an unrecognized assumption kind must fail closed, not pass")
	}
}

func TestCheckAllStopsAtFirstFailure(t *testing.T) {
	assumptions := []types.Assumption{
		{Kind: types.AssumeTypeStable, Type: "int"},
		{Kind: types.AssumeValueRange, Lo: 0, Hi: 5},
	}
	obs := Observation{TypeName: "int", IntValue: 99}
	r, ok := CheckAll(assumptions, obs)
	if ok {
		t.Fatalf("expected CheckAll to fail on the second assumption")
	}
	if r.Kind != types.GuardRangeCheck {
		t.Fatalf("expected the failing result to report GuardRangeCheck, got %v", r.Kind)
	}
}

func TestCheckAllPassesWhenEveryAssumptionHolds(t *testing.T) {
	assumptions := []types.Assumption{
		{Kind: types.AssumeTypeStable, Type: "int"},
		{Kind: types.AssumeValueRange, Lo: 0, Hi: 100},
	}
	obs := Observation{TypeName: "int", IntValue: 5}
	_, ok := CheckAll(assumptions, obs)
	if !ok {
		t.Fatalf("expected CheckAll to pass when every assumption holds")
	}
}
