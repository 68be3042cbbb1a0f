package peersync

import (
	"github.com/octoreflex/aott/internal/benefit"
	"github.com/octoreflex/aott/internal/guardmodel"
	"github.com/octoreflex/aott/internal/types"
)

// coefficientSharer is the narrow surface of benefit.LinearPredictor
// this package needs; kept as a local interface (rather than importing
// the concrete type) so a peer-sync round degrades gracefully against
// any registered benefit.Predictor that does not choose to expose its
// internals.
type coefficientSharer interface {
	Weights() []float64
	Bias() float64
	TrainedCount() int
	MergeCoefficients(weights []float64, bias float64, trained int, trustWeight float64)
}

// ExportGuardPosteriors reads every GuardKind's current Beta posterior
// out of gm for inclusion in an outgoing StatsEnvelope.
func ExportGuardPosteriors(gm *guardmodel.Model) []GuardPosteriorShare {
	shares := make([]GuardPosteriorShare, 0, len(types.AllGuardKinds))
	for _, kind := range types.AllGuardKinds {
		alpha, beta := gm.ExportPosterior(kind)
		shares = append(shares, GuardPosteriorShare{Kind: kind.String(), Alpha: alpha, Beta: beta})
	}
	return shares
}

// MergeGuardPosteriors folds every share whose Kind matches a known
// GuardKind into gm, at trustWeight (spec §4.P merge formula).
func MergeGuardPosteriors(gm *guardmodel.Model, shares []GuardPosteriorShare, trustWeight float64) {
	byName := make(map[string]types.GuardKind, len(types.AllGuardKinds))
	for _, kind := range types.AllGuardKinds {
		byName[kind.String()] = kind
	}
	for _, s := range shares {
		kind, ok := byName[s.Kind]
		if !ok {
			continue
		}
		gm.MergePosterior(kind, s.Alpha, s.Beta, trustWeight)
	}
}

// ExportPredictorCoefficients reads the named registered Benefit
// Predictors' coefficient state, for inclusion in an outgoing
// StatsEnvelope. A name that is unregistered, or registered but not a
// coefficientSharer, is silently skipped.
func ExportPredictorCoefficients(names []string) []PredictorCoefficientShare {
	shares := make([]PredictorCoefficientShare, 0, len(names))
	for _, name := range names {
		p, ok := benefit.GetPredictor(name)
		if !ok {
			continue
		}
		sharer, ok := p.(coefficientSharer)
		if !ok {
			continue
		}
		shares = append(shares, PredictorCoefficientShare{
			Name:    name,
			Weights: sharer.Weights(),
			Bias:    sharer.Bias(),
			Trained: sharer.TrainedCount(),
		})
	}
	return shares
}

// MergePredictorCoefficients folds each share into the matching
// registered Benefit Predictor, at trustWeight. A share naming an
// unregistered or non-mergeable predictor is silently skipped.
func MergePredictorCoefficients(shares []PredictorCoefficientShare, trustWeight float64) {
	for _, s := range shares {
		p, ok := benefit.GetPredictor(s.Name)
		if !ok {
			continue
		}
		sharer, ok := p.(coefficientSharer)
		if !ok {
			continue
		}
		sharer.MergeCoefficients(s.Weights, s.Bias, s.Trained, trustWeight)
	}
}
