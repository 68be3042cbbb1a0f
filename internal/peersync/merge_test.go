package peersync

import (
	"testing"

	"github.com/octoreflex/aott/internal/benefit"
	"github.com/octoreflex/aott/internal/guardmodel"
	"github.com/octoreflex/aott/internal/types"
)

func TestExportGuardPosteriorsCoversEveryKind(t *testing.T) {
	gm := guardmodel.New()
	shares := ExportGuardPosteriors(gm)
	if len(shares) != len(types.AllGuardKinds) {
		t.Fatalf("len(shares) = %d, want %d", len(shares), len(types.AllGuardKinds))
	}
	for _, s := range shares {
		if s.Alpha <= 0 || s.Beta <= 0 {
			t.Fatalf("share for %q has non-positive prior: %+v", s.Kind, s)
		}
	}
}

func TestMergeGuardPosteriorsPullsLocalMeanTowardRemote(t *testing.T) {
	gm := guardmodel.New()
	// A remote peer with overwhelming evidence that TypeCheck guards
	// almost always fail should pull the local (uniform 0.5) mean down.
	before := gm.SuccessProbability(types.GuardTypeCheck)

	shares := []GuardPosteriorShare{{Kind: "TypeCheck", Alpha: 1, Beta: 999}}
	MergeGuardPosteriors(gm, shares, 1.0)

	after := gm.SuccessProbability(types.GuardTypeCheck)
	if after >= before {
		t.Fatalf("merge did not pull mean down: before=%f after=%f", before, after)
	}
}

func TestMergeGuardPosteriorsSkipsUnknownKind(t *testing.T) {
	gm := guardmodel.New()
	before := gm.SuccessProbability(types.GuardTypeCheck)
	MergeGuardPosteriors(gm, []GuardPosteriorShare{{Kind: "NotAGuardKind", Alpha: 1, Beta: 999}}, 1.0)
	if got := gm.SuccessProbability(types.GuardTypeCheck); got != before {
		t.Fatalf("an unrecognized Kind should be a no-op, got=%f want=%f", got, before)
	}
}

// fakeMergeablePredictor is a minimal benefit.Predictor + coefficientSharer
// used to exercise export/merge without touching the shared "linear"
// singleton registered by internal/benefit's init().
type fakeMergeablePredictor struct {
	name    string
	weights []float64
	bias    float64
	trained int
}

func (f *fakeMergeablePredictor) Name() string { return f.name }
func (f *fakeMergeablePredictor) Predict(benefit.PredictRequest) benefit.PredictResponse {
	return benefit.PredictResponse{}
}
func (f *fakeMergeablePredictor) Train(benefit.TrainingSample) error { return nil }
func (f *fakeMergeablePredictor) Weights() []float64                 { return f.weights }
func (f *fakeMergeablePredictor) Bias() float64                      { return f.bias }
func (f *fakeMergeablePredictor) TrainedCount() int                  { return f.trained }
func (f *fakeMergeablePredictor) MergeCoefficients(remoteWeights []float64, remoteBias float64, remoteTrained int, trustWeight float64) {
	nLocal, nRemote := float64(f.trained), float64(remoteTrained)
	if nRemote <= 0 {
		return
	}
	w := trustWeight * nRemote / (nLocal + nRemote)
	for i := range f.weights {
		if i < len(remoteWeights) {
			f.weights[i] = (1-w)*f.weights[i] + w*remoteWeights[i]
		}
	}
	f.bias = (1-w)*f.bias + w*remoteBias
}

func TestExportAndMergePredictorCoefficients(t *testing.T) {
	fake := &fakeMergeablePredictor{name: "merge-test-export", weights: []float64{1, 2}, bias: 0.1, trained: 50}
	benefit.RegisterPredictor(fake)

	shares := ExportPredictorCoefficients([]string{"merge-test-export"})
	if len(shares) != 1 || shares[0].Name != "merge-test-export" || shares[0].Trained != 50 {
		t.Fatalf("unexpected export: %+v", shares)
	}

	target := &fakeMergeablePredictor{name: "merge-test-target", weights: []float64{0, 0}, bias: 0, trained: 50}
	benefit.RegisterPredictor(target)

	remote := []PredictorCoefficientShare{{Name: "merge-test-target", Weights: []float64{10, 20}, Bias: 1.0, Trained: 50}}
	MergePredictorCoefficients(remote, 1.0)

	if target.weights[0] != 5 || target.weights[1] != 10 || target.bias != 0.5 {
		t.Fatalf("equal-weight merge did not average as expected: %+v", target)
	}
}

func TestExportPredictorCoefficientsSkipsUnregisteredName(t *testing.T) {
	shares := ExportPredictorCoefficients([]string{"does-not-exist"})
	if len(shares) != 0 {
		t.Fatalf("expected no shares for an unregistered predictor name, got %+v", shares)
	}
}
