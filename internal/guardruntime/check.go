// Package guardruntime implements the Guard Runtime (spec §4.G,
// component G): the small set of total (never-panicking) functions a
// speculative body's guard prologue calls to verify its Assumption
// still holds before running past the guard. Every function here is
// defined for every input — an unexpected or malformed Observation
// fails the guard rather than panicking, since a panic here would
// crash the host interpreter instead of triggering an orderly
// deoptimization (spec §7: "a failed guard is an expected, recoverable
// condition, never an exception").
package guardruntime

import "github.com/octoreflex/aott/internal/types"

// Observation carries whatever runtime values a single guard check
// needs, tagged loosely since a guard only reads the fields relevant to
// its Assumption's Kind. Zero-valued fields are valid inputs (a guard
// must still return a definite pass/fail, never panic on a zero value).
type Observation struct {
	TypeName      string
	IntValue      int64
	LoopIterCount int
	CallTarget    types.FunctionId
	BranchTaken   bool
}

// Result is the outcome of one guard evaluation.
type Result struct {
	Passed bool
	Kind   types.GuardKind
	Detail string
}

// CheckAssumption evaluates whether obs is still consistent with
// assumption, returning a total Result — every AssumptionKind
// (including an unrecognized one) yields a definite Passed value (spec
// §4.G step 1).
func CheckAssumption(assumption types.Assumption, obs Observation) Result {
	switch assumption.Kind {
	case types.AssumeTypeStable:
		return checkTypeStable(assumption, obs)
	case types.AssumeValueRange:
		return checkValueRange(assumption, obs)
	case types.AssumeBranchAlwaysTaken:
		return checkBranchAlwaysTaken(assumption, obs)
	case types.AssumeBranchProbability:
		// BranchProbability never fails the guard outright — it is a
		// layout hint, not a correctness assumption; only
		// BranchAlwaysTaken requires a recovery path (spec §3: a
		// probability assumption degrades gracefully to the unbiased
		// path instead of deoptimizing).
		return Result{Passed: true, Kind: types.GuardProfiledType, Detail: "probability hint, not enforced"}
	case types.AssumeLoopBoundConstant:
		return checkLoopBoundConstant(assumption, obs)
	case types.AssumeLoopInvariant:
		// Loop-invariant hoisting is verified structurally at compile
		// time (the compiler backend proves the hoisted expression
		// really is loop-invariant before emitting code); there is no
		// further runtime check to perform.
		return Result{Passed: true, Kind: types.GuardBoundsCheck, Detail: "verified at compile time"}
	case types.AssumeNoAliasing:
		// Static-analysis-only contract (see DESIGN.md Open Question
		// resolutions): the runtime never attempts to prove aliasing
		// dynamically, so this always passes; the bytecode/IR provider
		// is responsible for only emitting this assumption when it has
		// already proven it statically.
		return Result{Passed: true, Kind: types.GuardBoundsCheck, Detail: "static contract, not enforced at runtime"}
	case types.AssumeCallSiteMonomorphic:
		return checkCallSiteMonomorphic(assumption, obs)
	default:
		return Result{Passed: false, Kind: types.GuardNullCheck, Detail: "unrecognized assumption kind"}
	}
}

func checkTypeStable(a types.Assumption, obs Observation) Result {
	passed := obs.TypeName == a.Type
	detail := "type matched"
	if !passed {
		detail = "observed type " + obs.TypeName + " != expected " + a.Type
	}
	return Result{Passed: passed, Kind: types.GuardTypeCheck, Detail: detail}
}

func checkValueRange(a types.Assumption, obs Observation) Result {
	passed := obs.IntValue >= a.Lo && obs.IntValue <= a.Hi
	detail := "value in range"
	if !passed {
		detail = "value out of [lo,hi] range"
	}
	return Result{Passed: passed, Kind: types.GuardRangeCheck, Detail: detail}
}

func checkBranchAlwaysTaken(a types.Assumption, obs Observation) Result {
	// AssumeBranchAlwaysTaken encodes which direction was assumed via
	// Probability >= 0.5 meaning "taken assumed", < 0.5 meaning
	// "not-taken assumed" (spec §3, mirroring the strategy that
	// proposed it).
	assumedTaken := a.Probability >= 0.5
	passed := obs.BranchTaken == assumedTaken
	detail := "branch direction matched"
	if !passed {
		detail = "branch took the unassumed direction"
	}
	return Result{Passed: passed, Kind: types.GuardProfiledType, Detail: detail}
}

func checkLoopBoundConstant(a types.Assumption, obs Observation) Result {
	passed := obs.LoopIterCount == a.Bound
	detail := "iteration count matched constant bound"
	if !passed {
		detail = "iteration count diverged from assumed constant bound"
	}
	return Result{Passed: passed, Kind: types.GuardBoundsCheck, Detail: detail}
}

func checkCallSiteMonomorphic(a types.Assumption, obs Observation) Result {
	passed := obs.CallTarget == a.Target
	detail := "call target matched assumed monomorphic target"
	if !passed {
		detail = "call target diverged from assumed monomorphic target"
	}
	return Result{Passed: passed, Kind: types.GuardProfiledType, Detail: detail}
}

// CheckAll evaluates every assumption in assumptions against a shared
// Observation and returns the first failing Result, or (Result{Passed:
// true}, true) if all pass. Used when a Speculation's prologue must
// satisfy a conjunction of assumptions (the common case is a single
// assumption, but compound speculations may stack several guards from
// one compiled body).
func CheckAll(assumptions []types.Assumption, obs Observation) (Result, bool) {
	for _, a := range assumptions {
		r := CheckAssumption(a, obs)
		if !r.Passed {
			return r, false
		}
	}
	return Result{Passed: true}, true
}
