package types

import "time"

// SpeculationId uniquely identifies a live or historical Speculation.
type SpeculationId uint64

// CompiledBody is an opaque handle to executable code plus the entry
// offset guards must be passed through before reaching it (spec §4.E:
// "entry offset computation must skip over the guard prologue
// deterministically"). The core never interprets the bytes; it is
// produced and consumed only by the compiler backend and the Arena.
type CompiledBody struct {
	// RegionToken identifies the Arena-owned executable region (internal
	// /execmem). The core never holds a raw pointer.
	RegionToken uint64

	// EntryOffset is the byte offset of the first instruction after the
	// guard prologue, aligned per platform requirements.
	EntryOffset int

	// SizeBytes is the total size of the compiled body, including the
	// guard prologue.
	SizeBytes int
}

// OptimizationKind tags which compiler strategy produced a Speculation
// (spec §9 design note — "dynamic dispatch over optimization-kind
// strings" replaced by a tagged variant; string keys appear only at the
// persistence boundary).
type OptimizationKind uint8

const (
	OptTypeSpecialize OptimizationKind = iota
	OptRangeNarrow
	OptBranchLayout
	OptLoopUnroll
	OptLoopInvariantHoist
	OptInlineCallSite
	OptVectorize
)

func (k OptimizationKind) String() string {
	names := [...]string{
		"TypeSpecialize", "RangeNarrow", "BranchLayout", "LoopUnroll",
		"LoopInvariantHoist", "InlineCallSite", "Vectorize",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return "Unknown"
}

// Speculation is a compiled body together with its guards, assumption,
// and deopt information (spec §3).
//
// Invariant: every Guard in Guards must be reachable before the
// speculative body executes observable side effects (spec §3).
type Speculation struct {
	ID         SpeculationId
	FID        FunctionId
	Assumption Assumption
	Kind       OptimizationKind
	Body       CompiledBody
	Guards     []Guard
	Deopt      DeoptInfo

	BenefitEstimate float64
	CreatedAt       time.Time

	ExecCount    uint64
	FailureCount uint64
}

// PromotionOutcome classifies the realized impact of a past promotion
// (spec §3 PromotionEvent).
type PromotionOutcome int

const (
	OutcomeExcellent PromotionOutcome = iota
	OutcomeGood
	OutcomeMarginal
	OutcomePoor
	OutcomeRegressive
)

func (o PromotionOutcome) String() string {
	switch o {
	case OutcomeExcellent:
		return "Excellent"
	case OutcomeGood:
		return "Good"
	case OutcomeMarginal:
		return "Marginal"
	case OutcomePoor:
		return "Poor"
	case OutcomeRegressive:
		return "Regressive"
	default:
		return "Unknown"
	}
}

// IsPositive reports whether the outcome counts as a binary "success"
// for accuracy tracking (spec §4.C: "accept a new model only if
// validation accuracy exceeds a threshold").
func (o PromotionOutcome) IsPositive() bool {
	return o == OutcomeExcellent || o == OutcomeGood
}

// PromotionEvent is an immutable record of a past promotion and its
// realized outcome (spec §3).
type PromotionEvent struct {
	FID               FunctionId
	Kind              OptimizationKind
	Tier              TierLevel
	Outcome           PromotionOutcome
	ImprovementRatio  float64
	CompilationCostNs float64
	MemoryDeltaBytes  int64
	Features          []float64 // the feature vector fed to the Benefit Predictor
	RecordedAt        time.Time
}

// DispatchEntry is the atomically-updatable installed-entry record for
// one FunctionId (spec §3).
type DispatchEntry struct {
	FID          FunctionId
	Tier         TierLevel
	SpeculationID SpeculationId
	HasSpec      bool
	Body         CompiledBody
	InstalledAt  time.Time
}
