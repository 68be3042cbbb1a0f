// Package framecapture implements the Frame Capture seam (spec §9
// design note, §4.H step 2): turning a speculative body's live state at
// the moment a guard fails into the types.ExecutionState the
// Deoptimization Manager needs to locate a RecoveryPoint and resume in
// the interpreter.
//
// A real implementation of this seam, for a compiled body actually
// running on hardware, would read live values out of machine registers
// and the native stack — inherently architecture-specific, and
// implemented in inline assembly or a hand-written trampoline per
// target (spec §9: "abstract as a FrameCapture interface with an
// architecture-specific implementation selected at build time"). That
// is explicitly out of scope here (spec.md Non-goals: "a specific
// native ABI"); this package instead defines the Capturer interface
// every such implementation must satisfy, plus a portable Generic
// implementation that captures from a caller-supplied Source — suited
// to a bytecode interpreter that already keeps its locals, operand
// stack, and frame chain in ordinary Go values rather than machine
// registers. See frame_capture_generic.go and frame_capture_amd64.go
// for where an architecture-specific trampoline would plug in instead.
package framecapture

import "github.com/octoreflex/aott/internal/types"

// Source is whatever the calling interpreter's own frame representation
// exposes; Capturer reads from it without assuming anything about how
// it is stored.
type Source interface {
	// Locals returns the live local-variable bindings at the
	// originating program counter, keyed by the same variable names
	// DeoptInfo's StateMapping.
	Locals() map[string]interface{}

	// OperandStack returns the interpreter's evaluation stack at the
	// point of capture, bottom-to-top.
	OperandStack() []interface{}

	// FrameChain returns the caller chain, innermost (the function that
	// failed the guard) last, for speculations that inlined one or more
	// callees (spec §3 FrameInfo, §4.H "if inlining was involved,
	// reconstruct each inlined frame").
	FrameChain() []types.FrameInfo
}

// Capturer produces a types.ExecutionState snapshot for a failing
// Speculation. Every implementation must be total: given any Source, it
// returns a best-effort ExecutionState rather than erroring, since a
// capture failure here would leave deoptimization with nothing to
// resume from (spec §7: a fatal condition is reported through
// RecoveryPointFor's ok=false path, not through this interface).
type Capturer interface {
	Capture(fid types.FunctionId, specID types.SpeculationId, pc int, src Source) types.ExecutionState
}

// staticSource (built by NewSource) lets a caller build a Source from
// plain values without implementing the interface themselves.
type staticSource struct {
	locals map[string]interface{}
	stack  []interface{}
	frames []types.FrameInfo
}

// NewSource builds a Source from already-collected values — the shape
// an interpreter that tracks its own locals/stack/frames in ordinary Go
// maps and slices can hand to Capture directly.
func NewSource(locals map[string]interface{}, stack []interface{}, frames []types.FrameInfo) Source {
	return staticSource{locals: locals, stack: stack, frames: frames}
}

func (s staticSource) Locals() map[string]interface{} { return s.locals }
func (s staticSource) OperandStack() []interface{}    { return s.stack }
func (s staticSource) FrameChain() []types.FrameInfo  { return s.frames }

// CompleteFor reports whether state has a binding for every live local
// DeoptInfo's nearest RecoveryPoint at or before pc requires (spec §3
// DeoptInfo invariant: "Locals is total over the live-local set"). A
// caller can use this right after Capture to detect a capture that
// missed a variable before handing the ExecutionState on to
// deopt.Manager.HandleGuardFailure, which checks only that some
// RecoveryPoint covers the PC and does not compare the captured locals
// against it.
func CompleteFor(state types.ExecutionState, deopt types.DeoptInfo) bool {
	rp, ok := deopt.RecoveryPointFor(state.PC)
	if !ok {
		return false
	}
	for name := range rp.Locals {
		if _, present := state.Locals[name]; !present {
			return false
		}
	}
	return true
}
