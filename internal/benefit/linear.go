package benefit

import (
	"math"
	"sync"
)

// trainBatchSize is spec §4.C's "batched on accumulated PromotionEvents":
// Train accumulates samples and only attempts an SGD update once this
// many have arrived.
const trainBatchSize = 20

// validationHoldout is spec §4.C's "hold out 20% for validation".
const validationHoldout = 0.2

// acceptAccuracyThreshold is spec §4.C's "e.g., 0.6 binary accuracy"
// acceptance floor: a batch's retrained parameters are only kept if
// they classify more than this fraction of the held-out validation
// samples' improvement direction correctly.
const acceptAccuracyThreshold = 0.6

// accuracyEMADecay weights the exponential moving average spec §4.C
// asks for ("An exponential-moving-average (EMA) tracks accuracy over
// time"), matching the 0.9/0.1 smoothing already used for
// runningStability below.
const accuracyEMADecay = 0.9

// LinearPredictor is the default Predictor: an online linear model
// trained by batched stochastic gradient descent against realized
// improvement ratios, paired with a Mahalanobis-distance outlier score
// over the feature vectors it has seen (spec §4.C steps 1-4).
//
// Grounded on the teacher's anomaly engine (internal/anomaly/engine.go),
// which scores a live observation against a running baseline the same
// way: maintain mean/covariance incrementally, score new points against
// it. Here the "baseline" is the training feature distribution and the
// "score" feeds a confidence discount rather than an alert.
//
// Train batches accumulated samples and only commits a retrained
// weight/bias vector if it clears a held-out validation accuracy floor
// (spec §4.C), otherwise the previous parameters are retained — the
// same conservative-acceptance idiom as the teacher's config hot-reload
// ("if new config invalid, old config remains active").
type LinearPredictor struct {
	mu sync.RWMutex

	dims    int
	weights []float64
	bias    float64
	lr      float64

	dist *distribution

	trained int
	// runningStability is an EWMA of the last feature dimension across
	// training samples, used as the entropy-drift proxy in
	// compositeOutlierScore.
	runningStability float64
	haveStability    bool

	pending []TrainingSample

	accuracyEMA     float64
	haveAccuracyEMA bool
}

// NewLinearPredictor constructs a LinearPredictor for feature vectors of
// the given dimensionality with the given SGD learning rate.
func NewLinearPredictor(dims int, learningRate float64) *LinearPredictor {
	return &LinearPredictor{
		dims:    dims,
		weights: make([]float64, dims),
		lr:      learningRate,
		dist:    newDistribution(dims),
	}
}

func (p *LinearPredictor) Name() string { return "linear" }

// Predict returns this model's benefit estimate, a confidence that
// saturates as more training samples accrue, and an outlier score
// relative to the training feature distribution.
func (p *LinearPredictor) Predict(req PredictRequest) PredictResponse {
	p.mu.RLock()
	defer p.mu.RUnlock()

	estimate := p.bias
	for i, w := range p.weights {
		if i < len(req.Features) {
			estimate += w * req.Features[i]
		}
	}

	// Confidence saturates toward 1 as trained sample count grows;
	// an untrained model reports low confidence regardless of its
	// (zero-valued) estimate.
	confidence := 1 - math.Exp(-float64(p.trained)/50.0)

	var deltaEntropy float64
	if p.haveStability && len(req.Features) > 0 {
		deltaEntropy = req.Features[len(req.Features)-1] - p.runningStability
	}
	mahal := p.dist.mahalanobisDistance(req.Features)
	outlier := compositeOutlierScore(mahal, deltaEntropy, 0.25)

	return PredictResponse{
		EstimatedBenefit: estimate,
		Confidence:       clamp01(confidence),
		OutlierScore:     outlier,
	}
}

// Train queues a realized outcome and, once trainBatchSize samples have
// accumulated, retrains the model against the batch (spec §4.C:
// "batched on accumulated PromotionEvents"). The feature distribution
// used for outlier scoring is updated immediately on every call,
// independent of batch boundaries — it tracks what inputs have been
// seen, not the accepted-model state.
func (p *LinearPredictor) Train(sample TrainingSample) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.dist.add(sample.Features)
	if len(sample.Features) > 0 {
		last := sample.Features[len(sample.Features)-1]
		if !p.haveStability {
			p.runningStability = last
			p.haveStability = true
		} else {
			p.runningStability = 0.9*p.runningStability + 0.1*last
		}
	}

	p.pending = append(p.pending, sample)
	if len(p.pending) < trainBatchSize {
		return nil
	}

	batch := p.pending
	p.pending = nil
	p.trainBatch(batch)
	return nil
}

// trainBatch splits batch into an 80% training split and a 20%
// validation holdout (spec §4.C), retrains a trial weight/bias vector
// by one SGD epoch over the training split, and commits the trial
// parameters only if they classify the validation holdout's
// improvement direction correctly more often than
// acceptAccuracyThreshold — otherwise the previous parameters are
// retained (spec §4.C: "otherwise retain previous parameters"). Either
// way, the batch's validation accuracy folds into the EMA accuracy
// tracker. Must be called with p.mu held.
func (p *LinearPredictor) trainBatch(batch []TrainingSample) {
	splitAt := len(batch) - int(float64(len(batch))*validationHoldout)
	if splitAt < 1 {
		splitAt = 1
	}
	if splitAt >= len(batch) {
		splitAt = len(batch) - 1
	}
	trainSet, validSet := batch[:splitAt], batch[splitAt:]

	trialWeights := append([]float64(nil), p.weights...)
	trialBias := p.bias
	for _, s := range trainSet {
		pred := trialBias
		for i, w := range trialWeights {
			if i < len(s.Features) {
				pred += w * s.Features[i]
			}
		}
		errTerm := s.ImprovementRatio - pred
		for i := range trialWeights {
			if i < len(s.Features) {
				trialWeights[i] += p.lr * errTerm * s.Features[i]
			}
		}
		trialBias += p.lr * errTerm
	}

	correct := 0
	for _, s := range validSet {
		pred := trialBias
		for i, w := range trialWeights {
			if i < len(s.Features) {
				pred += w * s.Features[i]
			}
		}
		if (pred >= 0) == (s.ImprovementRatio >= 0) {
			correct++
		}
	}
	accuracy := float64(correct) / float64(len(validSet))

	if !p.haveAccuracyEMA {
		p.accuracyEMA = accuracy
		p.haveAccuracyEMA = true
	} else {
		p.accuracyEMA = accuracyEMADecay*p.accuracyEMA + (1-accuracyEMADecay)*accuracy
	}

	if accuracy <= acceptAccuracyThreshold {
		return
	}

	p.weights = trialWeights
	p.bias = trialBias
	p.trained += len(trainSet)
}

// AccuracyEMA returns the exponential moving average of validation
// accuracy across trained batches (spec §4.C: "An EMA tracks accuracy
// over time"), and whether any batch has completed yet.
func (p *LinearPredictor) AccuracyEMA() (accuracy float64, ok bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.accuracyEMA, p.haveAccuracyEMA
}

// Weights returns a copy of the model's current coefficient vector, for
// a peer-sync round to share this node's learned predictor state (spec
// §4.P: "shares this instance's ... Benefit Predictor coefficients").
func (p *LinearPredictor) Weights() []float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]float64(nil), p.weights...)
}

// Bias returns the model's current bias term.
func (p *LinearPredictor) Bias() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.bias
}

// TrainedCount returns the number of training samples folded into this
// model so far — each accepted batch adds its training split; held-out
// validation samples and rejected batches add nothing. This is the
// "sample count" a peer-sync merge weighs against.
func (p *LinearPredictor) TrainedCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.trained
}

// MergeCoefficients folds a remote node's weights/bias into this
// model's own using the same trust-weighted-by-sample-count formula as
// the Guard Model's posterior merge (spec §4.P):
//
//	w = trustWeight * n_remote/(n_local+n_remote)
//	merged = (1-w)*local + w*remote
//
// Mismatched feature widths are handled index-wise; a remote dimension
// beyond this model's width is ignored rather than growing the model.
func (p *LinearPredictor) MergeCoefficients(remoteWeights []float64, remoteBias float64, remoteTrained int, trustWeight float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	nLocal, nRemote := float64(p.trained), float64(remoteTrained)
	if nRemote <= 0 {
		return
	}
	w := trustWeight * nRemote / (nLocal + nRemote)

	for i := range p.weights {
		if i < len(remoteWeights) {
			p.weights[i] = (1-w)*p.weights[i] + w*remoteWeights[i]
		}
	}
	p.bias = (1-w)*p.bias + w*remoteBias
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
