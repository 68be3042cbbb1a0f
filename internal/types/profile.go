package types

import "time"

// FunctionProfile is the consistent, point-in-time snapshot produced by
// the Profile Store for a single FunctionId (spec §3, §4.A).
//
// Invariant: Avg == TotalTimeNs/CallCount when CallCount > 0. Counters
// are monotone non-decreasing across the lifetime of the entity.
type FunctionProfile struct {
	FID FunctionId

	CallCount   uint64
	TotalTimeNs uint64
	MinTimeNs   uint64
	MaxTimeNs   uint64
	AvgTimeNs   float64

	FirstExecution time.Time
	LastExecution  time.Time

	// RecentFrequency, as profile.Store.Snapshot fills it, is an
	// exponentially weighted average (alpha 0.8) of one sample of 1 per
	// recorded call: 0 before the first call and 1.0 from then on. It is
	// not a calls/sec rate; profile.Store.SlidingFrequency returns call
	// counts over a trailing window.
	RecentFrequency float64

	// ComplexityScore is a normalized [0,1] static/dynamic complexity
	// estimate (instruction count, branch count, loop nesting).
	ComplexityScore float64

	// PromotionScore is an EWMA-smoothed rolling score combining
	// frequency, time, and complexity; consumed by the Promotion
	// Detector as a cheap pre-filter before the full pipeline runs.
	PromotionScore float64

	// ArgTypeTags is the observed argument-type multiset per position;
	// key is the parameter position.
	ArgTypeTags map[int]map[string]uint64

	// ReturnTypes is the observed return-type frequency distribution.
	ReturnTypes map[string]uint64

	// InstrCount, BranchCount, LoopCount, MemoryOps, ArithOps, Calls are
	// static features feeding the Benefit Predictor's feature vector.
	InstrCount  int
	BranchCount int
	LoopCount   int
	MemoryOps   int
	ArithOps    int
	Calls       int
}

// BranchProfile is the consistent snapshot for a single branch site.
type BranchProfile struct {
	BID BranchId

	TakenCount    uint64
	NotTakenCount uint64

	// PredictionAccuracy is the observed accuracy of the last guard
	// probability assumption applied to this branch, in [0,1].
	PredictionAccuracy float64

	// EstimatedMispredictionCostNs is the estimated cost of a branch
	// misprediction at this site, in nanoseconds.
	EstimatedMispredictionCostNs float64
}

// TakenRate returns the observed fraction of taken outcomes, or 0 if no
// samples have been recorded.
func (b BranchProfile) TakenRate() float64 {
	total := b.TakenCount + b.NotTakenCount
	if total == 0 {
		return 0
	}
	return float64(b.TakenCount) / float64(total)
}

// LoopProfile is the consistent snapshot for a single loop header.
type LoopProfile struct {
	LID LoopId

	InvocationCount  uint64
	TotalIterations  uint64
	AverageIteration float64
	NestingDepth     int

	// VectorizationPotential is an estimate in [0,1] of how amenable this
	// loop is to vectorization under the NoAliasing/LoopBoundConstant
	// assumptions.
	VectorizationPotential float64
}

// Polymorphism levels for CallSiteFeedback (spec §3).
type Polymorphism int

const (
	PolyMono Polymorphism = iota
	PolyBi
	PolyPoly
	PolyMega
)

func (p Polymorphism) String() string {
	switch p {
	case PolyMono:
		return "mono"
	case PolyBi:
		return "bi"
	case PolyPoly:
		return "poly"
	case PolyMega:
		return "mega"
	default:
		return "unknown"
	}
}

// CallSiteFeedback records the target-function distribution observed at
// a call site.
type CallSiteFeedback struct {
	Site         CallSiteId
	Targets      map[FunctionId]uint64
	Polymorphism Polymorphism
}

// DominantTarget returns the most frequently observed target and its
// share of total observations. Returns (0, 0, false) if no observations
// exist.
func (c CallSiteFeedback) DominantTarget() (target FunctionId, share float64, ok bool) {
	var total uint64
	var best FunctionId
	var bestCount uint64
	for fid, n := range c.Targets {
		total += n
		if n > bestCount {
			bestCount = n
			best = fid
		}
	}
	if total == 0 {
		return 0, 0, false
	}
	return best, float64(bestCount) / float64(total), true
}

// ClassifyPolymorphism derives a Polymorphism level from a target count,
// following the conventional mono/bi/poly/mega-morphic thresholds used
// by inline caches.
func ClassifyPolymorphism(distinctTargets int) Polymorphism {
	switch {
	case distinctTargets <= 1:
		return PolyMono
	case distinctTargets == 2:
		return PolyBi
	case distinctTargets <= 4:
		return PolyPoly
	default:
		return PolyMega
	}
}

// TypeFeedback records the per-variable observed type distribution.
type TypeFeedback struct {
	Variable            string
	ObservedTypes       map[string]uint64
	MostCommonType      string
	Stability           float64 // 1.0 = monomorphic
	SpecializationBenefit float64
}
