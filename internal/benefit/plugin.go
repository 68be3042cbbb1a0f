// Package benefit implements the Benefit Predictor (spec §4.C,
// component C): the cost-benefit model the Promotion Detector consults
// before admitting a candidate for speculative compilation.
//
// The plugin contract and registry are grounded almost verbatim on
// contrib/scorer.go's AnomalyScorer/RegisterScorer pattern (spec §9
// design note: "the benefit predictor should expose a stable contract
// (predict/train) so alternative models are pluggable without touching
// the Promotion Detector"); implementations self-register from an
// init() function, and the registry never needs to know about a
// specific implementation's internals.
package benefit

import (
	"fmt"
	"sync"

	"github.com/octoreflex/aott/internal/types"
)

// PredictRequest carries the feature vector and metadata for one
// candidate promotion (spec §3 PromotionEvent.Features).
type PredictRequest struct {
	FID      types.FunctionId
	Kind     types.OptimizationKind
	Tier     types.TierLevel
	Features []float64
}

// PredictResponse is a predictor's estimate of a candidate's benefit.
type PredictResponse struct {
	// EstimatedBenefit is the predicted improvement ratio (execution
	// time saved as a fraction of current cost), can be negative.
	EstimatedBenefit float64

	// Confidence is the predictor's self-reported confidence in
	// EstimatedBenefit, in [0,1].
	Confidence float64

	// OutlierScore is a composite anomaly score over the feature
	// vector relative to the predictor's training distribution; a high
	// score indicates the candidate is unlike anything the model has
	// been trained on and its estimate should be discounted (spec §4.C
	// step 3).
	OutlierScore float64
}

// TrainingSample is one realized promotion outcome fed back to a
// predictor after the fact (spec §4.C step 4, §8 "predictor retrains
// from realized outcomes").
type TrainingSample struct {
	Features         []float64
	Outcome          types.PromotionOutcome
	ImprovementRatio float64
}

// Predictor is the stable plugin contract every Benefit Predictor
// implementation satisfies.
type Predictor interface {
	Name() string
	Predict(req PredictRequest) PredictResponse
	Train(sample TrainingSample) error
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Predictor)
)

// RegisterPredictor adds p to the global registry under its own Name().
// Called from implementations' init() functions; panics on a duplicate
// name, since that indicates a build-time wiring mistake rather than a
// runtime condition to recover from.
func RegisterPredictor(p Predictor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	name := p.Name()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("benefit: predictor %q already registered", name))
	}
	registry[name] = p
}

// GetPredictor looks up a registered predictor by name.
func GetPredictor(name string) (Predictor, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	p, ok := registry[name]
	return p, ok
}

// ListPredictors returns the names of all registered predictors.
func ListPredictors() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}
