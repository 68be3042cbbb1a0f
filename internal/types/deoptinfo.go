package types

import "fmt"

// MappingKind tags a StateMapping variant (spec §3).
type MappingKind uint8

const (
	MapInRegister MappingKind = iota
	MapOnStack
	MapConstant
	MapComputed
)

// StateMapping describes how to recover one local's value from a
// compiled frame during deoptimization.
type StateMapping struct {
	Kind MappingKind

	Register string      // MapInRegister
	Offset   int         // MapOnStack
	Constant interface{} // MapConstant
	Expr     string      // MapComputed: a small expression over other locals
}

// FrameInfo describes one (possibly inlined) callee's locals at an
// escape point.
type FrameInfo struct {
	FunctionName string
	Locals       map[string]StateMapping
	ReturnOffset int // bytecode offset to resume the caller at, if inlined
}

// RecoveryPoint is one ordered, addressable location a Speculation can
// safely deoptimize to.
type RecoveryPoint struct {
	BytecodeOffset int
	Locals         map[string]StateMapping
	Frames         []FrameInfo // inlined callee frames, innermost last
}

// DeoptInfo is the immutable metadata that lets the Deoptimization
// Manager reconstruct an interpreter frame from a speculative frame
// (spec §3).
//
// Invariant: for every escape point, Locals is total over the live-local
// set at that bytecode offset (spec §3, §8 property 4).
type DeoptInfo struct {
	FID            FunctionId
	RecoveryPoints []RecoveryPoint // ordered by BytecodeOffset ascending
}

// RecoveryPointFor returns the recovery point whose BytecodeOffset is
// the greatest one <= pc, i.e. the nearest safe point at or before the
// originating program counter (spec §4.H step 6). ok is false if no such
// point exists, which is the "DeoptInfo incomplete for current PC" fatal
// condition (spec §4.H, §7).
func (d DeoptInfo) RecoveryPointFor(pc int) (RecoveryPoint, bool) {
	best := -1
	for i, rp := range d.RecoveryPoints {
		if rp.BytecodeOffset <= pc && (best == -1 || rp.BytecodeOffset > d.RecoveryPoints[best].BytecodeOffset) {
			best = i
		}
	}
	if best == -1 {
		return RecoveryPoint{}, false
	}
	return d.RecoveryPoints[best], true
}

// CompleteFor reports whether every name in liveLocals has a mapping in
// the chosen recovery point — the "deopt completeness" testable property
// (spec §8 property 4).
func (rp RecoveryPoint) CompleteFor(liveLocals []string) (missing []string, complete bool) {
	for _, name := range liveLocals {
		if _, ok := rp.Locals[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing, len(missing) == 0
}

func (m StateMapping) String() string {
	switch m.Kind {
	case MapInRegister:
		return fmt.Sprintf("reg(%s)", m.Register)
	case MapOnStack:
		return fmt.Sprintf("stack(%d)", m.Offset)
	case MapConstant:
		return fmt.Sprintf("const(%v)", m.Constant)
	case MapComputed:
		return fmt.Sprintf("computed(%s)", m.Expr)
	default:
		return "mapping(?)"
	}
}
