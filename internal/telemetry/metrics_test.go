package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/octoreflex/aott/internal/execmem"
	"github.com/octoreflex/aott/internal/guardmodel"
	"github.com/octoreflex/aott/internal/registry"
	"github.com/octoreflex/aott/internal/scheduler"
)

func TestSampleWithNoSourcesLeavesGaugesAtZero(t *testing.T) {
	m := NewMetrics()
	m.Sample(Sources{})

	if got := testutil.ToFloat64(m.SchedulerPendingTasks); got != 0 {
		t.Fatalf("SchedulerPendingTasks = %v, want 0 when no Scheduler is wired", got)
	}
}

func TestSampleReadsSchedulerCounters(t *testing.T) {
	m := NewMetrics()
	sched := scheduler.New(scheduler.DefaultConfig(), nil)

	sched.Submit(scheduler.OptimizationTask{ID: 1, Target: 1})
	sched.Submit(scheduler.OptimizationTask{ID: 1, Target: 1}) // duplicate ID, harmless for this sample

	m.Sample(Sources{Scheduler: sched})

	if got := testutil.ToFloat64(m.SchedulerPendingTasks); got < 0 {
		t.Fatalf("SchedulerPendingTasks = %v, want a non-negative sample", got)
	}
}

func TestSampleReadsRegistryCounts(t *testing.T) {
	m := NewMetrics()
	reg := registry.New()

	m.Sample(Sources{Registry: reg})

	if got := testutil.ToFloat64(m.RegistryLiveSpeculations); got != 0 {
		t.Fatalf("RegistryLiveSpeculations = %v, want 0 for an empty Registry", got)
	}
}

func TestSampleReadsArenaReservedBytes(t *testing.T) {
	m := NewMetrics()
	arena := execmem.New(4096, 1<<20)

	if _, err := arena.AllocExec(4096); err != nil {
		t.Fatalf("AllocExec: %v", err)
	}
	m.Sample(Sources{Arena: arena})

	if got := testutil.ToFloat64(m.ArenaReservedBytes); got <= 0 {
		t.Fatalf("ArenaReservedBytes = %v, want > 0 after an allocation", got)
	}
}

func TestSampleReadsGuardModelPerKind(t *testing.T) {
	m := NewMetrics()
	gm := guardmodel.New()

	m.Sample(Sources{GuardModel: gm})

	got := testutil.ToFloat64(m.GuardSuccessProbability.WithLabelValues("TypeCheck"))
	if got < 0 || got > 1 {
		t.Fatalf("GuardSuccessProbability = %v, want a prior in [0,1]", got)
	}
}

func TestSampleLedgerWithNilStoreIsNoop(t *testing.T) {
	m := NewMetrics()
	m.SampleLedger(nil) // must not panic
	if got := testutil.ToFloat64(m.StorageLedgerEntries); got != 0 {
		t.Fatalf("StorageLedgerEntries = %v, want 0 when never sampled", got)
	}
}
