// Package types holds the data model shared across every AOTT runtime
// component: function identifiers, tier levels, profiles, assumptions,
// guards, speculations, and deopt metadata (spec §3).
package types

import "fmt"

// FunctionId stably identifies a function across tiers and subsystems.
// It keys into the Profile Store, the Dispatch Table, and the
// Speculation Registry.
type FunctionId uint64

func (f FunctionId) String() string {
	return fmt.Sprintf("fn#%d", uint64(f))
}

// BranchId stably identifies a conditional branch site within a function.
type BranchId uint64

// LoopId stably identifies a loop header within a function.
type LoopId uint64

// CallSiteId stably identifies a call instruction site within a function.
type CallSiteId uint64

// TierLevel is one of the totally ordered execution tiers. T0 is the
// interpreter; T4 is maximally speculative.
type TierLevel uint8

const (
	T0 TierLevel = iota // interpreter
	T1                  // baseline compiled
	T2                  // optimizing compiled
	T3                  // speculative
	T4                  // maximally speculative
)

// NumTiers is the count of distinct tiers (T0..T4 inclusive).
const NumTiers = int(T4) + 1

func (t TierLevel) String() string {
	switch t {
	case T0:
		return "T0"
	case T1:
		return "T1"
	case T2:
		return "T2"
	case T3:
		return "T3"
	case T4:
		return "T4"
	default:
		return fmt.Sprintf("T?(%d)", uint8(t))
	}
}

// Valid reports whether t is one of the defined tier constants.
func (t TierLevel) Valid() bool {
	return t <= T4
}
