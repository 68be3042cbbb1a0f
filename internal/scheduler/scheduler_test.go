package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/octoreflex/aott/internal/types"
)

func mkConfig() Config {
	return Config{
		QueueCapacity:     16,
		CooldownDuration:  20 * time.Millisecond,
		CostBenefitMargin: 2.0,
		OutcomeBufferSize: 16,
	}
}

func runAndWaitDrained(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	t.Cleanup(cancel)
	deadline := time.After(time.Second)
	for {
		if len(s.intake) == 0 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("intake never drained")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestSubmitAndPopReadyOrdersByPriority(t *testing.T) {
	s := New(mkConfig(), nil)
	runAndWaitDrained(t, s)

	s.Submit(OptimizationTask{ID: 1, Target: 1, Priority: Low, EstimatedBenefit: 100})
	s.Submit(OptimizationTask{ID: 2, Target: 2, Priority: Critical, EstimatedBenefit: 1})
	s.Submit(OptimizationTask{ID: 3, Target: 3, Priority: Medium, EstimatedBenefit: 50})

	time.Sleep(10 * time.Millisecond)

	first, ok := s.PopReady()
	if !ok || first.ID != 2 {
		t.Fatalf("expected the Critical-priority task first, got %+v ok=%v", first, ok)
	}
	second, _ := s.PopReady()
	if second.ID != 3 {
		t.Fatalf("expected the Medium-priority task second, got %+v", second)
	}
	third, _ := s.PopReady()
	if third.ID != 1 {
		t.Fatalf("expected the Low-priority task last, got %+v", third)
	}
}

func TestSubmitRejectsWhenIntakeFull(t *testing.T) {
	cfg := mkConfig()
	cfg.QueueCapacity = 1
	s := New(cfg, nil)
	// Do not start Run, so the single slot fills and stays full.
	if !s.Submit(OptimizationTask{ID: 1}) {
		t.Fatalf("expected the first submit to succeed")
	}
	if s.Submit(OptimizationTask{ID: 2}) {
		t.Fatalf("expected the second submit to be rejected once the intake is full")
	}
	if s.RejectedQueueFull() != 1 {
		t.Fatalf("expected one rejected-for-queue-full count, got %d", s.RejectedQueueFull())
	}
}

func TestDependentTaskWaitsUntilDependenciesComplete(t *testing.T) {
	s := New(mkConfig(), nil)
	runAndWaitDrained(t, s)

	dep := OptimizationTask{ID: 1, Target: 1, Priority: High}
	s.Submit(dep)
	time.Sleep(5 * time.Millisecond)

	dependent := OptimizationTask{ID: 2, Target: 2, Priority: High, Dependencies: []TaskId{1}}
	s.Submit(dependent)
	time.Sleep(5 * time.Millisecond)

	popped, ok := s.PopReady()
	if !ok || popped.ID != 1 {
		t.Fatalf("expected only the dependency task to be ready, got %+v ok=%v", popped, ok)
	}
	if _, ok := s.PopReady(); ok {
		t.Fatalf("expected the dependent task to still be waiting")
	}

	s.Complete(popped, Outcome{Task: popped, Success: true})

	ready, ok := s.PopReady()
	if !ok || ready.ID != 2 {
		t.Fatalf("expected the dependent task to become ready after its dependency completed, got %+v ok=%v", ready, ok)
	}
}

func TestCostExceedingBenefitMarginDemotesPriority(t *testing.T) {
	s := New(mkConfig(), nil)
	runAndWaitDrained(t, s)

	s.Submit(OptimizationTask{ID: 1, Target: 1, Priority: High, EstimatedBenefit: 10, EstimatedCostNs: 1000})
	time.Sleep(5 * time.Millisecond)

	task, ok := s.PopReady()
	if !ok {
		t.Fatalf("expected the task to still be admitted (demoted, not rejected)")
	}
	if task.Priority != Medium {
		t.Fatalf("expected priority demoted from High to Medium, got %v", task.Priority)
	}
	if s.Demoted() != 1 {
		t.Fatalf("expected demoted counter to increment")
	}
}

func TestBudgetGateRejectsOverCapacity(t *testing.T) {
	gate := NewCountingGate(100)
	s := New(mkConfig(), gate)
	runAndWaitDrained(t, s)

	s.Submit(OptimizationTask{ID: 1, Target: 1, EstimatedMemoryBytes: 80})
	s.Submit(OptimizationTask{ID: 2, Target: 2, EstimatedMemoryBytes: 50})
	time.Sleep(5 * time.Millisecond)

	if s.RejectedBudget() != 1 {
		t.Fatalf("expected the second task to be rejected for exceeding the budget, got rejected=%d", s.RejectedBudget())
	}
	if gate.Reserved() != 80 {
		t.Fatalf("expected only the first task's bytes reserved, got %d", gate.Reserved())
	}
}

func TestCompleteReleasesBudgetReservation(t *testing.T) {
	gate := NewCountingGate(100)
	s := New(mkConfig(), gate)
	runAndWaitDrained(t, s)

	s.Submit(OptimizationTask{ID: 1, Target: 1, EstimatedMemoryBytes: 80})
	time.Sleep(5 * time.Millisecond)
	task, _ := s.PopReady()

	s.Complete(task, Outcome{Task: task, Success: true})
	if gate.Reserved() != 0 {
		t.Fatalf("expected reservation released after completion, got %d", gate.Reserved())
	}
}

func TestTimedOutTaskBlacklistsTargetForCooldownWindow(t *testing.T) {
	cfg := mkConfig()
	cfg.CooldownDuration = 20 * time.Millisecond
	s := New(cfg, nil)
	runAndWaitDrained(t, s)

	task := OptimizationTask{ID: 1, Target: types.FunctionId(42)}
	s.Submit(task)
	time.Sleep(5 * time.Millisecond)
	popped, _ := s.PopReady()
	s.Complete(popped, Outcome{Task: popped, TimedOut: true})

	if !s.IsCoolingDown(42) {
		t.Fatalf("expected target to be cooling down immediately after a timeout")
	}

	resubmitted := OptimizationTask{ID: 2, Target: 42}
	s.Submit(resubmitted)
	time.Sleep(5 * time.Millisecond)
	if _, ok := s.PopReady(); ok {
		t.Fatalf("expected resubmission to be rejected while cooling down")
	}
	if s.RejectedCooldown() != 1 {
		t.Fatalf("expected one cooldown rejection, got %d", s.RejectedCooldown())
	}

	time.Sleep(30 * time.Millisecond)
	s.Submit(OptimizationTask{ID: 3, Target: 42})
	time.Sleep(5 * time.Millisecond)
	if _, ok := s.PopReady(); !ok {
		t.Fatalf("expected resubmission to succeed once the cooldown window elapsed")
	}
}

func TestCompletePublishesOutcome(t *testing.T) {
	s := New(mkConfig(), nil)
	runAndWaitDrained(t, s)

	task := OptimizationTask{ID: 1, Target: 1}
	s.Submit(task)
	time.Sleep(5 * time.Millisecond)
	popped, _ := s.PopReady()
	s.Complete(popped, Outcome{Task: popped, Success: true, CostNs: 42})

	select {
	case o := <-s.Outcomes():
		if !o.Success || o.CostNs != 42 {
			t.Fatalf("unexpected outcome: %+v", o)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected an outcome to be published")
	}
}
