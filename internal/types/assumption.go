package types

import "fmt"

// AssumptionKind tags the variant of an Assumption without resorting to
// dynamic dispatch over strings on the hot path (spec §9 design note:
// "dynamic dispatch over optimization-kind strings" is replaced by a
// tagged variant; string keys appear only at the persistence boundary).
type AssumptionKind uint8

const (
	AssumeTypeStable AssumptionKind = iota
	AssumeValueRange
	AssumeBranchAlwaysTaken
	AssumeBranchProbability
	AssumeLoopBoundConstant
	AssumeLoopInvariant
	AssumeNoAliasing
	AssumeCallSiteMonomorphic
)

func (k AssumptionKind) String() string {
	switch k {
	case AssumeTypeStable:
		return "TypeStable"
	case AssumeValueRange:
		return "ValueRange"
	case AssumeBranchAlwaysTaken:
		return "BranchAlwaysTaken"
	case AssumeBranchProbability:
		return "BranchProbability"
	case AssumeLoopBoundConstant:
		return "LoopBoundConstant"
	case AssumeLoopInvariant:
		return "LoopInvariant"
	case AssumeNoAliasing:
		return "NoAliasing"
	case AssumeCallSiteMonomorphic:
		return "CallSiteMonomorphic"
	default:
		return fmt.Sprintf("AssumptionKind(%d)", uint8(k))
	}
}

// Assumption is a tagged variant statement about dynamic behavior under
// which a Speculation was compiled (spec §3). Only the fields relevant
// to Kind are populated; callers must switch on Kind before reading them.
type Assumption struct {
	Kind AssumptionKind

	// TypeStable
	Variable string
	Type     string

	// ValueRange
	Lo, Hi int64

	// BranchAlwaysTaken / BranchProbability
	Branch      BranchId
	Probability float64

	// LoopBoundConstant / LoopInvariant
	Loop        LoopId
	Bound       int
	InvariantVars []string

	// NoAliasing
	AliasVars []string

	// CallSiteMonomorphic
	Site   CallSiteId
	Target FunctionId
}

// DependencyKey identifies the (GuardKind, operand) pair used by the
// Speculation Registry's dependent index (spec §4.F, §8 property 9).
// Two Assumptions that reduce to the same DependencyKey must be
// invalidated together on deopt.
type DependencyKey struct {
	Kind    AssumptionKind
	Operand string
}

// Key computes the DependencyKey for this Assumption. The operand string
// is the stable identity of whatever the assumption is about (a
// variable name, a branch/loop/site id) — it is never used for dispatch,
// only as a map key.
func (a Assumption) Key() DependencyKey {
	switch a.Kind {
	case AssumeTypeStable:
		return DependencyKey{a.Kind, a.Variable}
	case AssumeValueRange:
		return DependencyKey{a.Kind, a.Variable}
	case AssumeBranchAlwaysTaken, AssumeBranchProbability:
		return DependencyKey{a.Kind, fmt.Sprintf("branch:%d", a.Branch)}
	case AssumeLoopBoundConstant, AssumeLoopInvariant:
		return DependencyKey{a.Kind, fmt.Sprintf("loop:%d", a.Loop)}
	case AssumeNoAliasing:
		return DependencyKey{a.Kind, fmt.Sprintf("alias:%v", a.AliasVars)}
	case AssumeCallSiteMonomorphic:
		return DependencyKey{a.Kind, fmt.Sprintf("site:%d", a.Site)}
	default:
		return DependencyKey{a.Kind, ""}
	}
}

// GuardKind is the runtime check family a Guard performs (spec §3).
type GuardKind uint8

const (
	GuardTypeCheck GuardKind = iota
	GuardRangeCheck
	GuardNullCheck
	GuardBoundsCheck
	GuardProfiledType
)

func (k GuardKind) String() string {
	switch k {
	case GuardTypeCheck:
		return "TypeCheck"
	case GuardRangeCheck:
		return "RangeCheck"
	case GuardNullCheck:
		return "NullCheck"
	case GuardBoundsCheck:
		return "BoundsCheck"
	case GuardProfiledType:
		return "ProfiledType"
	default:
		return fmt.Sprintf("GuardKind(%d)", uint8(k))
	}
}

// AllGuardKinds enumerates every GuardKind, used to initialize per-kind
// tables (e.g. Guard Model priors) exhaustively.
var AllGuardKinds = []GuardKind{
	GuardTypeCheck, GuardRangeCheck, GuardNullCheck, GuardBoundsCheck, GuardProfiledType,
}

// Guard is a runtime check inserted ahead of (or at a checkpoint inside)
// a speculative body (spec §3).
type Guard struct {
	Kind        GuardKind
	Operand     string
	CheckCostNs float64
	DeoptTarget string
}
