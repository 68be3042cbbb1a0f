// Package guardmodel implements the Guard Model (spec §4.B, component
// B): a Bayesian Beta(alpha,beta) posterior per GuardKind over guard
// success, published as an immutable snapshot so hot-path guard checks
// never contend with the slow-path learner.
//
// The atomic-pointer snapshot-swap idiom is grounded on the teacher's
// dispatch pattern of publishing an entire new state and swapping it in
// with a single atomic store (escalation/state_machine.go's
// mutex-guarded transition, generalized here to a lock-free swap since
// the Guard Model's hot path is read-only); the adaptive per-kind
// threshold clamp is grounded on escalation/camouflage.go's control law
//
//	m_{t+1} = clamp(m_t + lambda1*A_t - lambda2*(1-U_t), 0, 1)
//
// repurposed from a decoy-surface modulation signal into a guard
// confidence threshold that rises with a batch's failure rate (lambda1)
// and is pulled down by lambda2*(1-U) when utilization is below 1; a
// batch of successes at full utilization leaves it unchanged.
package guardmodel

import (
	"sync"
	"sync/atomic"

	"github.com/octoreflex/aott/internal/types"
	"gonum.org/v1/gonum/stat/distuv"
)

// thresholdBatchSize is spec §4.B's "N ≈ 100": the adaptive threshold's
// clamp control law is re-evaluated once per this many observations of
// a GuardKind, not on every single Record call.
const thresholdBatchSize = 100

// thresholdBatch accumulates the per-kind inputs to the clamp control
// law between batch boundaries.
type thresholdBatch struct {
	count          int
	failureSum     float64
	utilizationSum float64
}

// betaPosterior is the sufficient statistic for one GuardKind's Beta
// posterior over "this guard holds" (spec §4.B step 1).
type betaPosterior struct {
	Alpha float64
	Beta  float64
}

// mean returns alpha/(alpha+beta), the Bayesian point estimate
// of guard success probability.
func (p betaPosterior) mean() float64 {
	return p.Alpha / (p.Alpha + p.Beta)
}

// snapshot is the immutable, atomically-published view of the Guard
// Model (spec §4.B step 3: "guard checks read a consistent snapshot
// without blocking the learner").
type snapshot struct {
	posteriors map[types.GuardKind]betaPosterior
	thresholds map[types.GuardKind]float64
}

// Model is the Guard Model: a learner that folds in guard outcomes and
// an atomically-swappable read-mostly snapshot consumed by the Guard
// Runtime.
type Model struct {
	current atomic.Pointer[snapshot]

	// clamp control-law parameters (spec §4.B step 4).
	lambda1, lambda2 float64
	priorAlpha, priorBeta float64

	// batchMu guards pending, the per-kind accumulator threshold
	// updates are batched into (spec §4.B: "run in a batch every N
	// observations (N ≈ 100), not per-event"). The posterior itself
	// still folds in every observation immediately — only the
	// threshold's own re-derivation is deferred.
	batchMu sync.Mutex
	pending map[types.GuardKind]*thresholdBatch
}

// Option configures a Model at construction time.
type Option func(*Model)

// WithClampRates overrides the default adaptive-threshold clamp rates.
func WithClampRates(lambda1, lambda2 float64) Option {
	return func(m *Model) { m.lambda1, m.lambda2 = lambda1, lambda2 }
}

// WithPrior overrides the default Beta(1,1) (uniform) prior.
func WithPrior(alpha, beta float64) Option {
	return func(m *Model) { m.priorAlpha, m.priorBeta = alpha, beta }
}

// New constructs a Model with a uniform Beta(1,1) prior and a default
// 0.5 starting threshold for every GuardKind.
func New(opts ...Option) *Model {
	m := &Model{lambda1: 0.08, lambda2: 0.05, priorAlpha: 1, priorBeta: 1, pending: make(map[types.GuardKind]*thresholdBatch)}
	for _, opt := range opts {
		opt(m)
	}

	posteriors := make(map[types.GuardKind]betaPosterior, len(types.AllGuardKinds))
	thresholds := make(map[types.GuardKind]float64, len(types.AllGuardKinds))
	for _, k := range types.AllGuardKinds {
		posteriors[k] = betaPosterior{Alpha: m.priorAlpha, Beta: m.priorBeta}
		thresholds[k] = 0.5
	}
	m.current.Store(&snapshot{posteriors: posteriors, thresholds: thresholds})
	return m
}

// Record folds one guard outcome into the posterior for kind,
// publishing a new snapshot atomically immediately (spec §4.B step 1).
// The adaptive threshold's clamp control law, by contrast, is only
// re-evaluated once every thresholdBatchSize observations of kind
// (spec §4.B step 4: "run in a batch every N observations (N ≈ 100),
// not per-event") — see accumulateThresholdBatch.
//
// utilization is the fraction of recent guard checks across the system
// that passed (the "U_t" term in the clamp control law); a batch whose
// average utilization is below 1 lowers the threshold by
// lambda2*(1-U), so the same failures raise it less during a
// system-wide low-utilization episode.
func (m *Model) Record(kind types.GuardKind, success bool, utilization float64) {
	for {
		old := m.current.Load()
		oldPosterior := old.posteriors[kind]

		next := oldPosterior
		if success {
			next.Alpha++
		} else {
			next.Beta++
		}

		posteriors := cloneBeta(old.posteriors)
		posteriors[kind] = next

		updated := &snapshot{posteriors: posteriors, thresholds: old.thresholds}
		if m.current.CompareAndSwap(old, updated) {
			break
		}
	}

	m.accumulateThresholdBatch(kind, success, utilization)
}

// accumulateThresholdBatch folds one observation into kind's pending
// threshold batch and, once thresholdBatchSize observations have
// accumulated, re-derives the threshold from the batch's average
// failure rate and average utilization via the same clamp control law
// the old per-event path used, then resets the batch.
func (m *Model) accumulateThresholdBatch(kind types.GuardKind, success bool, utilization float64) {
	m.batchMu.Lock()
	batch := m.pending[kind]
	if batch == nil {
		batch = &thresholdBatch{}
		m.pending[kind] = batch
	}
	if !success {
		batch.failureSum++
	}
	batch.utilizationSum += utilization
	batch.count++

	if batch.count < thresholdBatchSize {
		m.batchMu.Unlock()
		return
	}

	failureRate := batch.failureSum / float64(batch.count)
	avgUtilization := batch.utilizationSum / float64(batch.count)
	batch.count, batch.failureSum, batch.utilizationSum = 0, 0, 0
	m.batchMu.Unlock()

	for {
		old := m.current.Load()
		oldThreshold := old.thresholds[kind]
		newThreshold := clamp(oldThreshold+m.lambda1*failureRate-m.lambda2*(1-avgUtilization), 0, 1)

		thresholds := cloneFloat(old.thresholds)
		thresholds[kind] = newThreshold

		updated := &snapshot{posteriors: old.posteriors, thresholds: thresholds}
		if m.current.CompareAndSwap(old, updated) {
			return
		}
	}
}

// SuccessProbability returns the current posterior mean success
// probability for kind.
func (m *Model) SuccessProbability(kind types.GuardKind) float64 {
	s := m.current.Load()
	return s.posteriors[kind].mean()
}

// CredibleInterval returns the (lower, upper) bounds of the central
// credibleMass credible interval for kind's success probability, e.g.
// credibleMass=0.95 for a 95% interval (spec §4.B step 2: "confidence
// bounds, not just a point estimate").
func (m *Model) CredibleInterval(kind types.GuardKind, credibleMass float64) (lo, hi float64) {
	s := m.current.Load()
	p := s.posteriors[kind]
	dist := distuv.Beta{Alpha: p.Alpha, Beta: p.Beta}
	tail := (1 - credibleMass) / 2
	return dist.Quantile(tail), dist.Quantile(1 - tail)
}

// Threshold returns the current adaptive confidence threshold for kind
// (spec §4.B step 4); a Speculation is only admitted under this
// assumption kind if SuccessProbability(kind) exceeds it.
func (m *Model) Threshold(kind types.GuardKind) float64 {
	s := m.current.Load()
	return s.thresholds[kind]
}

// ShouldTrust reports whether kind's current posterior mean clears its
// adaptive threshold, the single boolean gate the Promotion Detector and
// Speculative Compiler consult before speculating under this guard kind.
func (m *Model) ShouldTrust(kind types.GuardKind) bool {
	s := m.current.Load()
	return s.posteriors[kind].mean() >= s.thresholds[kind]
}

// ExportPosterior returns kind's current Beta posterior parameters
// (their sum, prior included, is the evidence count a merge weighs
// against), for a peer-sync round to share this node's learned guard behavior (spec
// §4.P: "shares this instance's Guard Model posteriors").
func (m *Model) ExportPosterior(kind types.GuardKind) (alpha, beta float64) {
	s := m.current.Load()
	p := s.posteriors[kind]
	return p.Alpha, p.Beta
}

// MergePosterior folds a remote node's posterior for kind into the
// local one using the same trust-weighted-by-sample-count formula as
// the federated baseline merge (spec §4.P):
//
//	w = trustWeight * n_remote/(n_local+n_remote)
//	merged_mean = (1-w)*local_mean + w*remote_mean
//
// The merged mean is re-expressed as a Beta posterior that keeps the
// local evidence count, so a single merge never lets one peer round
// overwhelm everything this node has itself observed.
func (m *Model) MergePosterior(kind types.GuardKind, remoteAlpha, remoteBeta, trustWeight float64) {
	for {
		old := m.current.Load()
		local := old.posteriors[kind]
		nLocal := local.Alpha + local.Beta
		nRemote := remoteAlpha + remoteBeta
		if nRemote <= 0 {
			return
		}

		w := trustWeight * nRemote / (nLocal + nRemote)
		mergedMean := (1-w)*local.mean() + w*(remoteAlpha/nRemote)

		next := betaPosterior{Alpha: mergedMean * nLocal, Beta: (1 - mergedMean) * nLocal}
		if next.Alpha <= 0 {
			next.Alpha = m.priorAlpha
		}
		if next.Beta <= 0 {
			next.Beta = m.priorBeta
		}

		posteriors := cloneBeta(old.posteriors)
		posteriors[kind] = next
		updated := &snapshot{posteriors: posteriors, thresholds: cloneFloat(old.thresholds)}
		if m.current.CompareAndSwap(old, updated) {
			return
		}
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func cloneBeta(m map[types.GuardKind]betaPosterior) map[types.GuardKind]betaPosterior {
	cp := make(map[types.GuardKind]betaPosterior, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

func cloneFloat(m map[types.GuardKind]float64) map[types.GuardKind]float64 {
	cp := make(map[types.GuardKind]float64, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
