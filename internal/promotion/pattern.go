package promotion

import "github.com/octoreflex/aott/internal/types"

// PatternKind identifies one recognized execution pattern (spec §4.D
// step 5).
type PatternKind int

const (
	PatternHotLoop PatternKind = iota
	PatternMathIntensive
	PatternRecursive
)

func (k PatternKind) String() string {
	switch k {
	case PatternHotLoop:
		return "hot_loop"
	case PatternMathIntensive:
		return "math_intensive"
	case PatternRecursive:
		return "recursive"
	default:
		return "unknown"
	}
}

// PatternMatch is the result of running one PatternMatcher against a
// FunctionProfile.
type PatternMatch struct {
	Kind     PatternKind
	Matched  bool
	Strength float64 // [0,1] confidence the pattern actually applies
	// Recommendation is the matcher's fixed promotion-recommendation
	// weight for this pattern kind, mirroring original_source's
	// hard-coded ExecutionPattern.promotion_recommendation constants.
	Recommendation float64
}

// PatternMatcher recognizes one execution pattern from a
// FunctionProfile's static/dynamic feature counts.
type PatternMatcher func(p types.FunctionProfile) PatternMatch

// DefaultPatternMatchers returns the registry of recognized execution
// patterns (spec §4.D step 5: "heuristic multiplier from recognized
// patterns: hot-loop, math-intensive, recursive"), recovered from
// original_source's PatternAnalyzer/MathExecutionData
// (promotion_detector.rs initialize_basic_patterns): each pattern there
// is a fixed feature-weight/strength/promotion_recommendation triple,
// reimplemented here as a small matcher function per pattern instead of
// a HashMap of static ExecutionPattern records.
func DefaultPatternMatchers() []PatternMatcher {
	return []PatternMatcher{matchHotLoop, matchMathIntensive, matchRecursive}
}

// matchHotLoop recognizes loop-dominated, frequently-called functions —
// the strongest promotion candidate per original_source's hard-coded
// hot_loop pattern (strength 0.85, recommendation 0.9).
func matchHotLoop(p types.FunctionProfile) PatternMatch {
	if p.LoopCount == 0 || p.InstrCount == 0 {
		return PatternMatch{Kind: PatternHotLoop}
	}
	loopDensity := float64(p.LoopCount) / float64(p.InstrCount)
	if loopDensity > 1 {
		loopDensity = 1
	}
	if loopDensity < 0.02 {
		return PatternMatch{Kind: PatternHotLoop}
	}
	return PatternMatch{Kind: PatternHotLoop, Matched: true, Strength: loopDensity, Recommendation: 0.9}
}

// matchMathIntensive recognizes functions whose instruction mix is
// dominated by arithmetic ops — good vectorization/specialization
// candidates per original_source's math_computation pattern (strength
// 0.8, recommendation 0.85).
func matchMathIntensive(p types.FunctionProfile) PatternMatch {
	if p.InstrCount == 0 {
		return PatternMatch{Kind: PatternMathIntensive}
	}
	arithDensity := float64(p.ArithOps) / float64(p.InstrCount)
	if arithDensity < 0.3 {
		return PatternMatch{Kind: PatternMathIntensive}
	}
	if arithDensity > 1 {
		arithDensity = 1
	}
	return PatternMatch{Kind: PatternMathIntensive, Matched: true, Strength: arithDensity, Recommendation: 0.85}
}

// matchRecursive recognizes call-heavy, loop-free functions as a proxy
// for self-recursion: FunctionProfile carries no direct self-call
// count, so a high call density in the absence of loops stands in for
// original_source's recursion-depth/stack-usage signal (strength 0.75,
// recommendation 0.8).
func matchRecursive(p types.FunctionProfile) PatternMatch {
	if p.InstrCount == 0 || p.Calls == 0 || p.LoopCount > 0 {
		return PatternMatch{Kind: PatternRecursive}
	}
	callDensity := float64(p.Calls) / float64(p.InstrCount)
	if callDensity < 0.15 {
		return PatternMatch{Kind: PatternRecursive}
	}
	if callDensity > 1 {
		callDensity = 1
	}
	return PatternMatch{Kind: PatternRecursive, Matched: true, Strength: callDensity, Recommendation: 0.8}
}

// maxPatternBoost bounds the combined multiplier so several
// simultaneously-matched patterns cannot compound into an unbounded
// benefit inflation.
const maxPatternBoost = 1.5

// PatternBoost folds every matcher's result into a single multiplier
// (spec §4.D step 5), applied to the predicted benefit before the
// cost-benefit admission gate and predictive tier-jump check.
func PatternBoost(p types.FunctionProfile, matchers []PatternMatcher) float64 {
	boost := 1.0
	for _, m := range matchers {
		pm := m(p)
		if pm.Matched {
			boost += pm.Strength * pm.Recommendation
		}
	}
	if boost > maxPatternBoost {
		boost = maxPatternBoost
	}
	return boost
}
