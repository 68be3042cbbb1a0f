package execmem

import (
	"errors"
	"testing"
)

func TestAllocExecRoundsUpToPageSize(t *testing.T) {
	a := New(64, 1<<20)
	token, err := a.AllocExec(10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	backing, err := a.Backing(token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(backing) != 64 {
		t.Fatalf("expected rounded size 64, got %d", len(backing))
	}
}

func TestAllocExecStartsWritable(t *testing.T) {
	a := New(64, 1<<20)
	token, _ := a.AllocExec(10)
	state, ok := a.StateOf(token)
	if !ok || state != StateWritable {
		t.Fatalf("expected a fresh region to start writable, got %v ok=%v", state, ok)
	}
}

func TestMakeExecutableThenWritableRoundTrips(t *testing.T) {
	a := New(64, 1<<20)
	token, _ := a.AllocExec(10)

	if err := a.MakeExecutable(token); err != nil {
		t.Fatalf("unexpected error making executable: %v", err)
	}
	if state, _ := a.StateOf(token); state != StateExecutable {
		t.Fatalf("expected executable state, got %v", state)
	}

	if err := a.MakeWritable(token); err != nil {
		t.Fatalf("unexpected error making writable: %v", err)
	}
	if state, _ := a.StateOf(token); state != StateWritable {
		t.Fatalf("expected writable state after flipping back, got %v", state)
	}
}

func TestMakeExecutableTwiceIsRejected(t *testing.T) {
	a := New(64, 1<<20)
	token, _ := a.AllocExec(10)
	a.MakeExecutable(token)
	if err := a.MakeExecutable(token); err != ErrInvalidTransition {
		t.Fatalf("expected ErrInvalidTransition on a second MakeExecutable, got %v", err)
	}
}

func TestFreeExecWhileExecutableIsWXViolation(t *testing.T) {
	a := New(64, 1<<20)
	token, _ := a.AllocExec(10)
	a.MakeExecutable(token)

	err := a.FreeExec(token)
	var wx *WXViolationError
	if !errors.As(err, &wx) {
		t.Fatalf("expected a *WXViolationError, got %T: %v", err, err)
	}
}

func TestFreeExecAfterMakeWritableSucceeds(t *testing.T) {
	a := New(64, 1<<20)
	token, _ := a.AllocExec(10)
	a.MakeExecutable(token)
	if err := a.MakeWritable(token); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := a.FreeExec(token); err != nil {
		t.Fatalf("unexpected error freeing a writable region: %v", err)
	}
	if _, ok := a.StateOf(token); ok {
		t.Fatalf("expected the region to be gone after FreeExec")
	}
}

func TestFreeExecReleasesBudget(t *testing.T) {
	a := New(64, 128)
	token, err := a.AllocExec(64)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Reserved() != 64 {
		t.Fatalf("expected 64 bytes reserved, got %d", a.Reserved())
	}
	a.FreeExec(token)
	if a.Reserved() != 0 {
		t.Fatalf("expected reservation released after free, got %d", a.Reserved())
	}
}

func TestAllocExecRejectsOverBudget(t *testing.T) {
	a := New(64, 64)
	if _, err := a.AllocExec(64); err != nil {
		t.Fatalf("unexpected error filling the budget: %v", err)
	}
	if _, err := a.AllocExec(1); err != ErrBudgetExceeded {
		t.Fatalf("expected ErrBudgetExceeded once the budget is full, got %v", err)
	}
}

func TestUnknownRegionOperationsFail(t *testing.T) {
	a := New(64, 1<<20)
	if err := a.MakeExecutable(999); err != ErrUnknownRegion {
		t.Fatalf("expected ErrUnknownRegion, got %v", err)
	}
	if err := a.MakeWritable(999); err != ErrUnknownRegion {
		t.Fatalf("expected ErrUnknownRegion, got %v", err)
	}
	if err := a.FreeExec(999); err != ErrUnknownRegion {
		t.Fatalf("expected ErrUnknownRegion, got %v", err)
	}
}
