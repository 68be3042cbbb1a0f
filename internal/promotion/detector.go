package promotion

import (
	"sync"

	"github.com/octoreflex/aott/internal/benefit"
	"github.com/octoreflex/aott/internal/types"
)

// Config bundles the Promotion Detector's tunables (spec §6: base call/
// time thresholds, adaptive thresholds, predictive promotion,
// cost-benefit analysis, min/max function size).
type Config struct {
	Weights    Weights
	Thresholds Thresholds

	FrequencyCeiling float64 // calls/sec that normalizes to a score of 1.0

	PredictiveEnabled  bool
	CostBenefitEnabled bool
	MinFunctionSize    int
	MaxFunctionSize    int
	MinBenefitEstimate float64 // candidates below this predicted benefit are rejected when CostBenefitEnabled

	// TargetSuccessRate is the realized promotion success rate
	// AdaptThresholds aims to maintain (spec §4.D "Adaptive threshold
	// update").
	TargetSuccessRate float64
	// MinThreshold and MaxThreshold bound every adapted per-tier
	// threshold (spec §4.D: "bounded by (min, max) per metric").
	MinThreshold float64
	MaxThreshold float64
}

// DefaultConfig returns the baseline Promotion Detector configuration.
func DefaultConfig() Config {
	return Config{
		Weights:            DefaultWeights(),
		Thresholds:         DefaultThresholds(),
		FrequencyCeiling:   1000,
		PredictiveEnabled:  true,
		CostBenefitEnabled: true,
		MinFunctionSize:    8,
		MaxFunctionSize:    50_000,
		MinBenefitEstimate: 0.05,
		TargetSuccessRate:  0.85,
		MinThreshold:       0.05,
		MaxThreshold:       0.98,
	}
}

// Decision is the outcome of evaluating one candidate function (spec
// §4.D step 4).
type Decision struct {
	Admit    bool
	Reason   string
	Score    float64
	ToTier   types.TierLevel
	Estimate benefit.PredictResponse
}

// Detector is the Promotion Detector: it scores candidates, applies
// size and cost-benefit gates, and emits admission Decisions.
//
// cfg.Thresholds is mutated in place by AdaptThresholds while Evaluate
// may run concurrently from the scan loop; mu guards every read/write
// of cfg so the two never race.
type Detector struct {
	mu        sync.RWMutex
	cfg       Config
	predictor benefit.Predictor
	patterns  []PatternMatcher
}

// New constructs a Detector using the given configuration and a named
// registered Benefit Predictor (falls back to "linear" if name is
// empty or unregistered), wired to the default pattern-matcher registry
// (spec §4.D step 5).
func New(cfg Config, predictorName string) *Detector {
	p, ok := benefit.GetPredictor(predictorName)
	if !ok {
		p, _ = benefit.GetPredictor("linear")
	}
	return &Detector{cfg: cfg, predictor: p, patterns: DefaultPatternMatchers()}
}

// EvaluationInput bundles everything the Detector needs about one
// candidate function to reach a decision.
type EvaluationInput struct {
	FID           types.FunctionId
	CurrentTier   types.TierLevel
	Profile       types.FunctionProfile
	TypeStability float64
	Polymorphism  types.Polymorphism
	FunctionSize  int // instruction count, static
}

// Evaluate scores in, applies the size gate, computes the target tier,
// and (if CostBenefitEnabled) consults the Benefit Predictor before
// admitting (spec §4.D steps 1-4).
func (d *Detector) Evaluate(in EvaluationInput) Decision {
	d.mu.RLock()
	cfg := d.cfg
	d.mu.RUnlock()

	if in.FunctionSize < cfg.MinFunctionSize || in.FunctionSize > cfg.MaxFunctionSize {
		return Decision{Admit: false, Reason: "function size outside configured bounds"}
	}

	normalizedFreq := in.Profile.RecentFrequency / cfg.FrequencyCeiling
	if normalizedFreq > 1 {
		normalizedFreq = 1
	}
	score := ComputeScore(normalizedFreq, in.Profile.ComplexityScore, in.TypeStability, in.Polymorphism, cfg.Weights)

	target := TargetTier(score, in.CurrentTier, cfg.Thresholds, false)
	if target <= in.CurrentTier {
		return Decision{Admit: false, Reason: "score below next-tier threshold", Score: score, ToTier: in.CurrentTier}
	}

	var estimate benefit.PredictResponse
	if cfg.CostBenefitEnabled {
		features := buildFeatures(in)
		estimate = d.predictor.Predict(benefit.PredictRequest{FID: in.FID, Tier: target, Features: features})

		// Pattern boost (spec §4.D step 5): recognized execution
		// patterns (hot-loop, math-intensive, recursive) scale the
		// predicted benefit before the cost-benefit gate and the
		// predictive tier-jump check below, so a strongly-patterned
		// candidate can clear both even when the raw predictor estimate
		// alone would not.
		estimate.EstimatedBenefit *= PatternBoost(in.Profile, d.patterns)

		if cfg.PredictiveEnabled && estimate.Confidence > 0.8 && estimate.EstimatedBenefit >= cfg.Thresholds.T4 {
			target = TargetTier(score, in.CurrentTier, cfg.Thresholds, true)
		}

		if estimate.EstimatedBenefit < cfg.MinBenefitEstimate {
			return Decision{Admit: false, Reason: "predicted benefit below minimum", Score: score, ToTier: target, Estimate: estimate}
		}
	}

	return Decision{Admit: true, Reason: "", Score: score, ToTier: target, Estimate: estimate}
}

// buildFeatures assembles the fixed-width feature vector consumed by
// the Benefit Predictor (spec §3 PromotionEvent.Features), matching
// benefit.DefaultFeatureDims.
func buildFeatures(in EvaluationInput) []float64 {
	p := in.Profile
	return []float64{
		float64(p.InstrCount),
		float64(p.BranchCount),
		float64(p.LoopCount),
		float64(p.MemoryOps),
		float64(p.ArithOps),
		float64(p.Calls),
		p.RecentFrequency,
		in.TypeStability,
	}
}

// TrainFromOutcome feeds a realized PromotionEvent back into the
// Benefit Predictor (spec §4.C step 4).
func (d *Detector) TrainFromOutcome(ev types.PromotionEvent) error {
	return d.predictor.Train(benefit.TrainingSample{
		Features:         ev.Features,
		Outcome:          ev.Outcome,
		ImprovementRatio: ev.ImprovementRatio,
	})
}

// adaptGain converts the success-rate gap into a threshold-shift
// fraction before the per-update bound is applied.
const adaptGain = 0.5

// minOutcomesForAdaptation is spec §4.D's "after at least 10 recorded
// outcomes" gate.
const minOutcomesForAdaptation = 10

// AdaptThresholds implements spec §4.D's adaptive threshold update,
// mirroring escalation.ComputeSeverity's shape: a pure function over a
// small struct of weighted inputs, called periodically by the Decision
// Engine's threshold-adapt loop rather than per-event.
//
// Compares the realized success rate across outcomes (Excellent or Good
// counts as success) against d.cfg.TargetSuccessRate. A success rate
// below target tightens every tier threshold (raises it, demanding a
// higher score before promoting); above target relaxes it. Each
// threshold's movement is bounded to d.cfg.MinThreshold/MaxThreshold and
// to at most 20% of its current value in a single call (spec §4.D:
// "never shift by more than 20% in a single update"). No-op if fewer
// than minOutcomesForAdaptation outcomes are given.
func (d *Detector) AdaptThresholds(outcomes []types.PromotionEvent) {
	if len(outcomes) < minOutcomesForAdaptation {
		return
	}

	successCount := 0
	for _, ev := range outcomes {
		if ev.Outcome == types.OutcomeExcellent || ev.Outcome == types.OutcomeGood {
			successCount++
		}
	}
	successRate := float64(successCount) / float64(len(outcomes))

	d.mu.Lock()
	defer d.mu.Unlock()

	// gap > 0 means underperforming the target: tighten (raise)
	// thresholds so fewer, stronger candidates are promoted.
	gap := d.cfg.TargetSuccessRate - successRate

	th := &d.cfg.Thresholds
	th.T1 = adaptThreshold(th.T1, gap, d.cfg.MinThreshold, d.cfg.MaxThreshold)
	th.T2 = adaptThreshold(th.T2, gap, d.cfg.MinThreshold, d.cfg.MaxThreshold)
	th.T3 = adaptThreshold(th.T3, gap, d.cfg.MinThreshold, d.cfg.MaxThreshold)
	th.T4 = adaptThreshold(th.T4, gap, d.cfg.MinThreshold, d.cfg.MaxThreshold)
}

// adaptThreshold moves one threshold toward closing gap, bounded to
// [min, max] and to at most 20% of current's magnitude per call.
func adaptThreshold(current, gap, min, max float64) float64 {
	delta := gap * adaptGain
	maxDelta := current * 0.20
	if maxDelta < 0 {
		maxDelta = -maxDelta
	}
	if delta > maxDelta {
		delta = maxDelta
	}
	if delta < -maxDelta {
		delta = -maxDelta
	}

	next := current + delta
	if next < min {
		next = min
	}
	if next > max {
		next = max
	}
	return next
}

// Thresholds returns the Detector's current per-tier thresholds, for
// callers (telemetry, AdaptThresholds tests) that need to observe the
// effect of an adaptation step.
func (d *Detector) Thresholds() Thresholds {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg.Thresholds
}
