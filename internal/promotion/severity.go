// Package promotion implements the Promotion Detector (spec §4.D,
// component D): it turns Profile Store snapshots into a single
// promotion score, decides which tier a candidate should move to, and
// orders the resulting candidates into an admission queue bounded by
// the Scheduler's per-batch budget.
//
// The weighted-score-then-sequential-threshold shape is grounded on
// escalation/severity.go's ComputeSeverity/TargetState pair: severity.go
// there folds several pressure signals into one scalar with configured
// weights, then walks threshold tiers from the top down to find the
// first one crossed. Promotion scoring here follows the identical two
// step shape with different inputs.
package promotion

import "github.com/octoreflex/aott/internal/types"

// Weights configures the relative contribution of each signal to the
// composite promotion score (spec §4.D step 1).
type Weights struct {
	Frequency    float64
	Complexity   float64
	TypeStability float64
	PolyPenalty  float64
}

// DefaultWeights returns the baseline weighting: call frequency
// dominates, complexity and type stability contribute moderately, and
// polymorphic call sites apply a penalty (since they are poor
// candidates for TypeStable-style speculation).
func DefaultWeights() Weights {
	return Weights{
		Frequency:     0.5,
		Complexity:    0.2,
		TypeStability: 0.25,
		PolyPenalty:   0.15,
	}
}

// Thresholds holds the per-tier score cutoffs a candidate must clear to
// be eligible for promotion into that tier (spec §4.D step 2, §6
// base_call_threshold/base_time_threshold_ns generalize into a single
// normalized score here).
type Thresholds struct {
	T1, T2, T3, T4 float64
}

// DefaultThresholds returns a monotonically increasing set of cutoffs;
// each successive tier demands a strictly higher composite score.
func DefaultThresholds() Thresholds {
	return Thresholds{T1: 0.15, T2: 0.35, T3: 0.6, T4: 0.85}
}

// ComputeScore folds frequency, complexity, type stability, and
// call-site polymorphism into a single [0,1]-ish composite promotion
// score (spec §4.D step 1). Frequency is pre-normalized by the caller
// against a configured ceiling (e.g. calls/sec relative to a "hot"
// baseline) since raw call counts have no natural upper bound.
func ComputeScore(normalizedFrequency, complexity, typeStability float64, poly types.Polymorphism, w Weights) float64 {
	score := w.Frequency*normalizedFrequency + w.Complexity*complexity + w.TypeStability*typeStability

	if poly == types.PolyPoly || poly == types.PolyMega {
		score -= w.PolyPenalty
	}
	if score < 0 {
		score = 0
	}
	return score
}

// TargetTier walks the threshold tiers from T4 down to T1 and returns
// the highest tier whose cutoff the score clears, never skipping more
// than one tier above current in a single evaluation unless allowJump
// is set (spec §4.D step 2: predictive promotion may jump tiers when
// the Benefit Predictor's confidence is high; the default baseline path
// promotes exactly one tier at a time).
func TargetTier(score float64, current types.TierLevel, th Thresholds, allowJump bool) types.TierLevel {
	target := types.T0
	switch {
	case score >= th.T4:
		target = types.T4
	case score >= th.T3:
		target = types.T3
	case score >= th.T2:
		target = types.T2
	case score >= th.T1:
		target = types.T1
	}

	if target <= current {
		return current
	}
	if allowJump {
		return target
	}
	return current + 1
}
