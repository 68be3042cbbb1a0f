package framecapture

import "github.com/octoreflex/aott/internal/types"

// Generic is the portable Capturer: it copies whatever the Source
// already reports rather than reading machine state, so it runs
// identically on every architecture and in the simulated (non-mmap)
// execution path used by tests. It is the Capturer every component in
// this module wires by default; an architecture-specific Capturer (see
// frame_capture_amd64.go) exists only as a seam for a real register-
// capture trampoline to be dropped in later, never for this module
// itself to implement.
type Generic struct{}

// NewGeneric returns the portable Capturer.
func NewGeneric() Generic { return Generic{} }

// Capture copies src's locals, operand stack, and frame chain into a
// fresh types.ExecutionState. The copies are defensive: the returned
// ExecutionState must remain stable even if the interpreter goes on to
// mutate its own locals/stack immediately afterward.
func (Generic) Capture(fid types.FunctionId, specID types.SpeculationId, pc int, src Source) types.ExecutionState {
	locals := make(map[string]interface{}, len(src.Locals()))
	for k, v := range src.Locals() {
		locals[k] = v
	}

	stack := append([]interface{}(nil), src.OperandStack()...)
	frames := append([]types.FrameInfo(nil), src.FrameChain()...)

	return types.ExecutionState{
		FID:           fid,
		SpeculationID: specID,
		PC:            pc,
		Locals:        locals,
		OperandStack:  stack,
		FrameChain:    frames,
	}
}
