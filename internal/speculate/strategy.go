// Package speculate implements the Speculative Compiler Interface (spec
// §4.E, component E): it decides which Assumption a candidate function
// should be compiled under, attaches the matching Guards, and computes
// the guard-prologue layout a compiler backend must honor.
//
// The core never performs code generation itself (spec §6: the actual
// machine-code backend is an external interface); this package owns the
// policy of *which* assumption to speculate on and *what* guards and
// deopt metadata that speculation requires, then hands a CompileRequest
// to whatever backend is wired in.
package speculate

import (
	"github.com/octoreflex/aott/internal/guardmodel"
	"github.com/octoreflex/aott/internal/types"
)

// ProposalContext bundles every profiling signal a Strategy may consult
// to decide whether its Assumption applies to a candidate function
// (spec §4.E step 1).
type ProposalContext struct {
	FID types.FunctionId

	TypeFeedback  map[string]types.TypeFeedback // variable name -> feedback
	BranchProfile map[types.BranchId]types.BranchProfile
	LoopBounds    map[types.LoopId]LoopBoundInfo
	CallSites     map[types.CallSiteId]types.CallSiteFeedback

	GuardModel *guardmodel.Model

	// MinTypeStability, MinBranchConfidence, MinCallSiteShare gate each
	// strategy's willingness to propose (spec §4.D/§4.E thresholds).
	MinTypeStability    float64
	MinBranchConfidence float64
	MinCallSiteShare    float64
}

// LoopBoundInfo is the subset of internal/profile's LoopFeedback return
// values a strategy needs. Exported (rather than kept package-private)
// so the Decision Engine, which holds the *profile.Store these values
// come from, can populate a ProposalContext.LoopBounds map directly.
type LoopBoundInfo struct {
	BoundCandidate int
	IsConstant     bool
	InvariantVars  []string
}

// NewLoopBoundInfo constructs the loop-bound signal a caller (the
// Decision Engine, which does hold a *profile.Store) passes in.
func NewLoopBoundInfo(boundCandidate int, isConstant bool, invariantVars []string) LoopBoundInfo {
	return LoopBoundInfo{BoundCandidate: boundCandidate, IsConstant: isConstant, InvariantVars: invariantVars}
}

// Strategy proposes an Assumption of one AssumptionKind, or reports that
// no eligible assumption of its kind exists for this candidate.
type Strategy interface {
	Kind() types.AssumptionKind
	Propose(ctx ProposalContext) (types.Assumption, bool)
}

// DefaultStrategies returns the built-in strategy set, one per
// AssumptionKind the runtime has profiling support for. ValueRange and
// NoAliasing are intentionally absent: ValueRange requires numeric
// range profiling the Profile Store does not collect, and NoAliasing is
// a static-analysis-only contract supplied by the bytecode/IR provider
// (see DESIGN.md Open Question resolutions), never proposed
// dynamically.
func DefaultStrategies() []Strategy {
	return []Strategy{
		typeStableStrategy{},
		branchStrategy{},
		loopBoundStrategy{},
		loopInvariantStrategy{},
		callSiteMonomorphicStrategy{},
	}
}

type typeStableStrategy struct{}

func (typeStableStrategy) Kind() types.AssumptionKind { return types.AssumeTypeStable }

func (typeStableStrategy) Propose(ctx ProposalContext) (types.Assumption, bool) {
	var bestVar string
	var bestFB types.TypeFeedback
	found := false
	for v, fb := range ctx.TypeFeedback {
		if fb.Stability >= ctx.MinTypeStability && (!found || fb.Stability > bestFB.Stability) {
			bestVar, bestFB, found = v, fb, true
		}
	}
	if !found {
		return types.Assumption{}, false
	}
	return types.Assumption{Kind: types.AssumeTypeStable, Variable: bestVar, Type: bestFB.MostCommonType}, true
}

type branchStrategy struct{}

func (branchStrategy) Kind() types.AssumptionKind { return types.AssumeBranchAlwaysTaken }

func (branchStrategy) Propose(ctx ProposalContext) (types.Assumption, bool) {
	var bestBranch types.BranchId
	var bestRate float64
	found := false
	for b, bp := range ctx.BranchProfile {
		rate := bp.TakenRate()
		skew := rate
		if rate < 0.5 {
			skew = 1 - rate
		}
		if skew >= ctx.MinBranchConfidence && (!found || skew > bestRate) {
			bestBranch, bestRate, found = b, skew, true
		}
	}
	if !found {
		return types.Assumption{}, false
	}
	bp := ctx.BranchProfile[bestBranch]
	if bp.TakenRate() >= 0.97 || bp.TakenRate() <= 0.03 {
		return types.Assumption{Kind: types.AssumeBranchAlwaysTaken, Branch: bestBranch, Probability: bp.TakenRate()}, true
	}
	return types.Assumption{Kind: types.AssumeBranchProbability, Branch: bestBranch, Probability: bp.TakenRate()}, true
}

type loopBoundStrategy struct{}

func (loopBoundStrategy) Kind() types.AssumptionKind { return types.AssumeLoopBoundConstant }

func (loopBoundStrategy) Propose(ctx ProposalContext) (types.Assumption, bool) {
	for loop, info := range ctx.LoopBounds {
		if info.IsConstant {
			return types.Assumption{Kind: types.AssumeLoopBoundConstant, Loop: loop, Bound: info.BoundCandidate}, true
		}
	}
	return types.Assumption{}, false
}

type loopInvariantStrategy struct{}

func (loopInvariantStrategy) Kind() types.AssumptionKind { return types.AssumeLoopInvariant }

func (loopInvariantStrategy) Propose(ctx ProposalContext) (types.Assumption, bool) {
	for loop, info := range ctx.LoopBounds {
		if len(info.InvariantVars) > 0 {
			return types.Assumption{Kind: types.AssumeLoopInvariant, Loop: loop, InvariantVars: info.InvariantVars}, true
		}
	}
	return types.Assumption{}, false
}

type callSiteMonomorphicStrategy struct{}

func (callSiteMonomorphicStrategy) Kind() types.AssumptionKind { return types.AssumeCallSiteMonomorphic }

func (callSiteMonomorphicStrategy) Propose(ctx ProposalContext) (types.Assumption, bool) {
	for site, fb := range ctx.CallSites {
		if fb.Polymorphism != types.PolyMono {
			continue
		}
		target, share, ok := fb.DominantTarget()
		if !ok || share < ctx.MinCallSiteShare {
			continue
		}
		return types.Assumption{Kind: types.AssumeCallSiteMonomorphic, Site: site, Target: target}, true
	}
	return types.Assumption{}, false
}
