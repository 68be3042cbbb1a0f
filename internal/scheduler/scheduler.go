package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/octoreflex/aott/internal/types"
)

// Config tunes the Scheduler's admission control (spec §4.J, §6).
type Config struct {
	// QueueCapacity bounds the intake channel; a Submit call beyond
	// capacity is dropped rather than blocking the caller (grounded on
	// internal/kernel/events.go's bounded-channel backpressure pattern).
	QueueCapacity int

	// CooldownDuration is how long a timed-out task's target is
	// blacklisted from resubmission (spec §6 recovery_blacklist_duration_s).
	CooldownDuration time.Duration

	// CostBenefitMargin demotes (rather than rejects) a task whose
	// EstimatedCostNs exceeds EstimatedBenefit*CostBenefitMargin (spec
	// §4.J: "deprioritize tasks whose estimated cost exceeds expected
	// benefit by a configured margin").
	CostBenefitMargin float64

	// OutcomeBufferSize bounds the completed-outcomes channel the
	// Decision Engine drains (spec §4.K's "for outcome in recently
	// completed tasks" loop).
	OutcomeBufferSize int
}

// DefaultConfig returns reasonable scheduler defaults.
func DefaultConfig() Config {
	return Config{
		QueueCapacity:     1024,
		CooldownDuration:  30 * time.Second,
		CostBenefitMargin: 3.0,
		OutcomeBufferSize: 256,
	}
}

// Scheduler is the background work queue (spec §4.J, component J):
// bounded-channel admission, dependency-aware priority ordering,
// executable-memory budget gating, and cooldown of targets whose compile
// task timed out.
type Scheduler struct {
	cfg    Config
	budget BudgetGate
	cool   *cooldownTracker

	mu        sync.Mutex
	ready     *readyQueue
	waiting   map[TaskId]OptimizationTask
	completed map[TaskId]struct{}
	nextSeq   uint64

	intake   chan OptimizationTask
	outcomes chan Outcome

	rejectedQueueFull atomic.Uint64
	rejectedCooldown  atomic.Uint64
	rejectedBudget    atomic.Uint64
	demoted           atomic.Uint64
}

// New constructs a Scheduler. If gate is nil, every reservation
// unconditionally succeeds (suitable for tests or before
// internal/execmem wires in a real Arena-backed gate).
func New(cfg Config, gate BudgetGate) *Scheduler {
	if gate == nil {
		gate = unlimitedGate{}
	}
	return &Scheduler{
		cfg:       cfg,
		budget:    gate,
		cool:      newCooldownTracker(cfg.CooldownDuration),
		ready:     newReadyQueue(),
		waiting:   make(map[TaskId]OptimizationTask),
		completed: make(map[TaskId]struct{}),
		intake:    make(chan OptimizationTask, cfg.QueueCapacity),
		outcomes:  make(chan Outcome, cfg.OutcomeBufferSize),
	}
}

// Run starts the admission-control goroutine that drains intake and
// performs cooldown/budget/dependency gating. Run blocks until ctx is
// cancelled (grounded on internal/kernel/events.go's Processor.Run
// ctx-cancellation shape).
func (s *Scheduler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-s.intake:
			if !ok {
				return
			}
			s.admit(task)
		}
	}
}

// Submit enqueues task for admission control. Returns false without
// blocking if the intake queue is currently full (spec §4.J backpressure,
// grounded on internal/kernel/events.go's "queue full, drop event"
// select/default pattern).
func (s *Scheduler) Submit(task OptimizationTask) bool {
	select {
	case s.intake <- task:
		return true
	default:
		s.rejectedQueueFull.Add(1)
		return false
	}
}

// admit applies cooldown, cost-benefit, and budget gating to task, then
// either places it in the ready heap (all dependencies already
// completed) or the waiting set (spec §4.J: "Ready tasks are those with
// all dependencies completed").
func (s *Scheduler) admit(task OptimizationTask) {
	if s.cool.isCoolingDown(task.Target) {
		s.rejectedCooldown.Add(1)
		return
	}

	if task.EstimatedBenefit >= 0 && task.EstimatedCostNs > task.EstimatedBenefit*s.cfg.CostBenefitMargin {
		task.Priority = task.Priority.demote()
		s.demoted.Add(1)
	}

	if !s.budget.Reserve(task.EstimatedMemoryBytes) {
		s.rejectedBudget.Add(1)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dependenciesSatisfiedLocked(task.Dependencies) {
		s.nextSeq++
		s.ready.push(task, s.nextSeq)
		return
	}
	s.waiting[task.ID] = task
}

func (s *Scheduler) dependenciesSatisfiedLocked(deps []TaskId) bool {
	for _, d := range deps {
		if _, ok := s.completed[d]; !ok {
			return false
		}
	}
	return true
}

// PopReady returns the next highest-priority ready task, if any, for a
// worker to compile (spec §4.J: "Workers consume tasks, call §4.E,
// install via §4.F+§4.I, and record outcomes").
func (s *Scheduler) PopReady() (OptimizationTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready.pop()
}

// Complete records the outcome of a finished (or abandoned) task: marks
// it completed, releases its budget reservation, promotes any waiting
// task whose dependencies are now all satisfied, cools down the target
// on timeout, and publishes the Outcome for the Decision Engine's
// completed-tasks loop (spec §4.K).
func (s *Scheduler) Complete(task OptimizationTask, outcome Outcome) {
	s.budget.Release(task.EstimatedMemoryBytes)
	if outcome.TimedOut {
		s.cool.blacklist(task.Target)
	}

	s.mu.Lock()
	s.completed[task.ID] = struct{}{}
	var promoted []OptimizationTask
	for id, waiting := range s.waiting {
		if s.dependenciesSatisfiedLocked(waiting.Dependencies) {
			promoted = append(promoted, waiting)
			delete(s.waiting, id)
		}
	}
	for _, p := range promoted {
		s.nextSeq++
		s.ready.push(p, s.nextSeq)
	}
	s.mu.Unlock()

	select {
	case s.outcomes <- outcome:
	default:
		// Decision Engine is falling behind draining outcomes; drop
		// rather than block a worker goroutine (same backpressure
		// philosophy as the intake channel).
	}
}

// Outcomes returns the channel the Decision Engine drains completed
// task outcomes from.
func (s *Scheduler) Outcomes() <-chan Outcome { return s.outcomes }

// IsCoolingDown reports whether fid is currently blacklisted from
// resubmission after a prior timeout.
func (s *Scheduler) IsCoolingDown(fid types.FunctionId) bool {
	return s.cool.isCoolingDown(fid)
}

// PendingCount returns the number of tasks currently ready or waiting
// on dependencies, exposed as a telemetry gauge.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready.len() + len(s.waiting)
}

// RejectedQueueFull, RejectedCooldown, and RejectedBudget expose
// lifetime admission-rejection counters for telemetry (exported by
// internal/telemetry as aott_scheduler_rejected_total{reason=...}).
func (s *Scheduler) RejectedQueueFull() uint64 { return s.rejectedQueueFull.Load() }
func (s *Scheduler) RejectedCooldown() uint64  { return s.rejectedCooldown.Load() }
func (s *Scheduler) RejectedBudget() uint64    { return s.rejectedBudget.Load() }
func (s *Scheduler) Demoted() uint64           { return s.demoted.Load() }
