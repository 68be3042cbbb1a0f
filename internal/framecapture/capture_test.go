package framecapture

import (
	"testing"

	"github.com/octoreflex/aott/internal/types"
)

func TestGenericCaptureCopiesLocalsStackAndFrames(t *testing.T) {
	locals := map[string]interface{}{"x": 42, "y": "hi"}
	stack := []interface{}{1, 2, 3}
	frames := []types.FrameInfo{{FunctionName: "caller", ReturnOffset: 7}}
	src := NewSource(locals, stack, frames)

	state := NewGeneric().Capture(5, 9, 3, src)

	if state.FID != 5 || state.SpeculationID != 9 || state.PC != 3 {
		t.Fatalf("unexpected identity fields: %+v", state)
	}
	if len(state.Locals) != 2 || state.Locals["x"] != 42 || state.Locals["y"] != "hi" {
		t.Fatalf("Locals not copied correctly: %+v", state.Locals)
	}
	if len(state.OperandStack) != 3 {
		t.Fatalf("OperandStack not copied correctly: %+v", state.OperandStack)
	}
	if len(state.FrameChain) != 1 || state.FrameChain[0].FunctionName != "caller" {
		t.Fatalf("FrameChain not copied correctly: %+v", state.FrameChain)
	}
}

func TestGenericCaptureIsDefensiveAgainstLaterMutation(t *testing.T) {
	locals := map[string]interface{}{"x": 1}
	stack := []interface{}{1}
	src := NewSource(locals, stack, nil)

	state := NewGeneric().Capture(1, 1, 0, src)

	locals["x"] = 2
	stack[0] = 2

	if state.Locals["x"] != 1 {
		t.Fatalf("expected captured Locals to be independent of the source map, got %v", state.Locals["x"])
	}
	if state.OperandStack[0] != 1 {
		t.Fatalf("expected captured OperandStack to be independent of the source slice, got %v", state.OperandStack[0])
	}
}

func TestGenericCaptureHandlesEmptySource(t *testing.T) {
	state := NewGeneric().Capture(1, 1, 0, NewSource(nil, nil, nil))
	if state.Locals == nil {
		t.Fatalf("expected a non-nil (possibly empty) Locals map")
	}
	if len(state.OperandStack) != 0 || len(state.FrameChain) != 0 {
		t.Fatalf("expected empty stack/frame chain for a nil source, got %+v / %+v", state.OperandStack, state.FrameChain)
	}
}

func TestCompleteForDetectsMissingLocal(t *testing.T) {
	deopt := types.DeoptInfo{
		FID: 1,
		RecoveryPoints: []types.RecoveryPoint{
			{BytecodeOffset: 0, Locals: map[string]types.StateMapping{"x": {Kind: types.MapConstant, Constant: 0}}},
			{BytecodeOffset: 10, Locals: map[string]types.StateMapping{
				"x": {Kind: types.MapConstant, Constant: 0},
				"y": {Kind: types.MapConstant, Constant: 0},
			}},
		},
	}

	complete := types.ExecutionState{PC: 12, Locals: map[string]interface{}{"x": 1, "y": 2}}
	if !CompleteFor(complete, deopt) {
		t.Fatalf("expected a state covering every live local at PC 12 to be complete")
	}

	incomplete := types.ExecutionState{PC: 12, Locals: map[string]interface{}{"x": 1}}
	if CompleteFor(incomplete, deopt) {
		t.Fatalf("expected a state missing local 'y' at PC 12 to be incomplete")
	}
}

func TestCompleteForFailsWhenNoRecoveryPointCoversPC(t *testing.T) {
	deopt := types.DeoptInfo{FID: 1, RecoveryPoints: []types.RecoveryPoint{{BytecodeOffset: 5}}}
	state := types.ExecutionState{PC: 0}
	if CompleteFor(state, deopt) {
		t.Fatalf("expected incompleteness when PC precedes every RecoveryPoint")
	}
}
