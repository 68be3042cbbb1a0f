package promotion

import (
	"testing"

	"github.com/octoreflex/aott/internal/types"
)

func TestComputeScoreMonotonicInFrequency(t *testing.T) {
	w := DefaultWeights()
	low := ComputeScore(0.1, 0.5, 1.0, types.PolyMono, w)
	high := ComputeScore(0.9, 0.5, 1.0, types.PolyMono, w)
	if high <= low {
		t.Fatalf("score did not increase with frequency: low=%f high=%f", low, high)
	}
}

func TestComputeScorePolymorphismPenalty(t *testing.T) {
	w := DefaultWeights()
	mono := ComputeScore(0.5, 0.5, 1.0, types.PolyMono, w)
	mega := ComputeScore(0.5, 0.5, 1.0, types.PolyMega, w)
	if mega >= mono {
		t.Fatalf("megamorphic call site was not penalized: mono=%f mega=%f", mono, mega)
	}
}

func TestComputeScoreNeverNegative(t *testing.T) {
	w := DefaultWeights()
	score := ComputeScore(0, 0, 0, types.PolyMega, w)
	if score < 0 {
		t.Fatalf("score = %f, want >= 0", score)
	}
}

func TestTargetTierPromotesOneTierAtATime(t *testing.T) {
	th := DefaultThresholds()
	target := TargetTier(th.T4+0.1, types.T0, th, false)
	if target != types.T1 {
		t.Fatalf("TargetTier = %v, want T1 (single-step promotion without allowJump)", target)
	}
}

func TestTargetTierAllowsJumpWhenRequested(t *testing.T) {
	th := DefaultThresholds()
	target := TargetTier(th.T4+0.1, types.T0, th, true)
	if target != types.T4 {
		t.Fatalf("TargetTier = %v, want T4 (jump allowed)", target)
	}
}

func TestTargetTierNeverDemotesBelowCurrent(t *testing.T) {
	th := DefaultThresholds()
	target := TargetTier(0, types.T2, th, false)
	if target != types.T2 {
		t.Fatalf("TargetTier = %v, want T2 (never demotes below current tier)", target)
	}
}
