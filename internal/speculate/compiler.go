package speculate

import (
	"fmt"

	"github.com/octoreflex/aott/internal/types"
)

// perGuardCheckCostNs is the baseline estimated cost of one guard check,
// used only for the BenefitEstimate feature until the Benefit Predictor
// has enough realized data to form its own cost model.
const perGuardCheckCostNs = 2.5

// guardAlignmentBytes is the instruction-alignment boundary every entry
// offset must respect (spec §4.E: "entry offset computation must skip
// over the guard prologue deterministically" — alignment keeps the
// backend's branch targets valid on platforms that fault on unaligned
// jumps).
const guardAlignmentBytes = 16

// guardBytesPerCheck is a conservative estimate of compiled guard size
// used only to size the prologue before the backend has actually
// generated code; the backend's real CompiledBody.EntryOffset is
// authoritative once compilation completes.
const guardBytesPerCheck = 24

// kindToGuardKinds maps an AssumptionKind to the GuardKind(s) a
// speculative body compiled under it must check (spec §3: every
// Speculation's Guards correspond to its Assumption).
func kindToGuardKinds(kind types.AssumptionKind) []types.GuardKind {
	switch kind {
	case types.AssumeTypeStable:
		return []types.GuardKind{types.GuardTypeCheck}
	case types.AssumeValueRange:
		return []types.GuardKind{types.GuardRangeCheck}
	case types.AssumeBranchAlwaysTaken, types.AssumeBranchProbability:
		return []types.GuardKind{types.GuardProfiledType}
	case types.AssumeLoopBoundConstant, types.AssumeLoopInvariant:
		return []types.GuardKind{types.GuardRangeCheck, types.GuardBoundsCheck}
	case types.AssumeNoAliasing:
		return []types.GuardKind{types.GuardBoundsCheck}
	case types.AssumeCallSiteMonomorphic:
		return []types.GuardKind{types.GuardProfiledType, types.GuardNullCheck}
	default:
		return nil
	}
}

// BuildGuards constructs the Guard list for an Assumption, each tagged
// with the deopt recovery-point label it must jump to on failure (spec
// §3 Guard, §4.E step 2).
func BuildGuards(assumption types.Assumption, deoptTarget string) []types.Guard {
	kinds := kindToGuardKinds(assumption.Kind)
	guards := make([]types.Guard, 0, len(kinds))
	operand := assumption.Key().Operand
	for _, k := range kinds {
		guards = append(guards, types.Guard{
			Kind:        k,
			Operand:     operand,
			CheckCostNs: perGuardCheckCostNs,
			DeoptTarget: deoptTarget,
		})
	}
	return guards
}

// PrologueLayout computes the estimated guard-prologue size and the
// aligned entry offset that follows it (spec §4.E step 3: "entry offset
// computation must skip over the guard prologue deterministically").
// Real backends recompute this from their own generated bytes;
// PrologueLayout gives a stable pre-compilation estimate the Promotion
// Detector's cost model can use before a backend has run.
func PrologueLayout(guards []types.Guard) (prologueBytes, entryOffset int) {
	prologueBytes = len(guards) * guardBytesPerCheck
	entryOffset = ((prologueBytes + guardAlignmentBytes - 1) / guardAlignmentBytes) * guardAlignmentBytes
	return prologueBytes, entryOffset
}

// BuildDeoptInfo constructs a DeoptInfo with a single recovery point at
// bytecode offset 0 (the function entry), the minimal valid deopt
// metadata for a freshly-proposed speculation: every live local at
// entry must have a mapping back to the interpreter's argument-passing
// convention (spec §3 DeoptInfo invariant: "Locals is total over the
// live-local set at that bytecode offset").
//
// Backends that speculate past the entry point (e.g. inside a loop
// body) must add further RecoveryPoints themselves; this is the
// baseline every Speculation starts with.
func BuildDeoptInfo(fid types.FunctionId, liveLocals []string) (types.DeoptInfo, error) {
	locals := make(map[string]types.StateMapping, len(liveLocals))
	for i, name := range liveLocals {
		locals[name] = types.StateMapping{Kind: types.MapOnStack, Offset: i}
	}
	rp := types.RecoveryPoint{BytecodeOffset: 0, Locals: locals}
	if missing, complete := rp.CompleteFor(liveLocals); !complete {
		return types.DeoptInfo{}, fmt.Errorf("speculate: incomplete recovery point for %v, missing %v", fid, missing)
	}
	return types.DeoptInfo{FID: fid, RecoveryPoints: []types.RecoveryPoint{rp}}, nil
}

// CompileRequest is what this package hands to an external compiler
// backend (spec §6 "Speculative Compiler Interface" is itself an
// external interface; the runtime core never generates machine code).
type CompileRequest struct {
	FID        types.FunctionId
	Assumption types.Assumption
	Kind       types.OptimizationKind
	Guards     []types.Guard
	Deopt      types.DeoptInfo
}

// Backend is the external interface a real compiler plugs in to turn a
// CompileRequest into an executable CompiledBody (spec §6).
type Backend interface {
	Compile(req CompileRequest) (types.CompiledBody, error)
}

// Propose runs every DefaultStrategies strategy against ctx and returns
// the first eligible (Assumption, OptimizationKind) pair, preferring
// strategies in the order given (spec §4.E step 1 picks one assumption
// per compilation attempt; callers wanting multiple attempts call
// Propose repeatedly with a ctx that excludes already-tried kinds).
func Propose(strategies []Strategy, ctx ProposalContext) (types.Assumption, types.OptimizationKind, bool) {
	for _, s := range strategies {
		if a, ok := s.Propose(ctx); ok {
			return a, optimizationKindFor(a.Kind), true
		}
	}
	return types.Assumption{}, 0, false
}

// optimizationKindFor maps an AssumptionKind to the OptimizationKind a
// compiler backend would apply under it (spec §3 Speculation.Kind).
func optimizationKindFor(kind types.AssumptionKind) types.OptimizationKind {
	switch kind {
	case types.AssumeTypeStable:
		return types.OptTypeSpecialize
	case types.AssumeValueRange:
		return types.OptRangeNarrow
	case types.AssumeBranchAlwaysTaken, types.AssumeBranchProbability:
		return types.OptBranchLayout
	case types.AssumeLoopBoundConstant:
		return types.OptLoopUnroll
	case types.AssumeLoopInvariant:
		return types.OptLoopInvariantHoist
	case types.AssumeCallSiteMonomorphic:
		return types.OptInlineCallSite
	case types.AssumeNoAliasing:
		return types.OptVectorize
	default:
		return types.OptTypeSpecialize
	}
}
