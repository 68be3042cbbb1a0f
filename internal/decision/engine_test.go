package decision

import (
	"context"
	"testing"
	"time"

	"github.com/octoreflex/aott/internal/benefit"
	"github.com/octoreflex/aott/internal/deopt"
	"github.com/octoreflex/aott/internal/dispatch"
	"github.com/octoreflex/aott/internal/guardmodel"
	"github.com/octoreflex/aott/internal/profile"
	"github.com/octoreflex/aott/internal/promotion"
	"github.com/octoreflex/aott/internal/registry"
	"github.com/octoreflex/aott/internal/scheduler"
	"github.com/octoreflex/aott/internal/speculate"
	"github.com/octoreflex/aott/internal/types"
)

func init() {
	// DefaultFeatureDims registers the "linear" predictor as a side
	// effect of being imported; referencing it here keeps that import
	// intentional rather than accidental.
	_ = benefit.DefaultFeatureDims
}

// fakeBackend is a deterministic, configurable speculate.Backend stand-in.
type fakeBackend struct {
	delay   time.Duration
	failErr error
	body    types.CompiledBody
}

func (b fakeBackend) Compile(req speculate.CompileRequest) (types.CompiledBody, error) {
	if b.delay > 0 {
		time.Sleep(b.delay)
	}
	if b.failErr != nil {
		return types.CompiledBody{}, b.failErr
	}
	return b.body, nil
}

func schedConfig() scheduler.Config {
	return scheduler.Config{
		QueueCapacity:     32,
		CooldownDuration:  10 * time.Millisecond,
		CostBenefitMargin: 10.0,
		OutcomeBufferSize: 32,
	}
}

func newTestEngine(t *testing.T, backend speculate.Backend) (*Engine, *scheduler.Scheduler, *dispatch.Table, *registry.Registry) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ScanInterval = time.Hour // tests call scanOnce directly
	cfg.WorkerPollInterval = time.Hour
	cfg.CompilationTimeout = 50 * time.Millisecond

	promoCfg := promotion.DefaultConfig()
	promoCfg.CostBenefitEnabled = false
	promoCfg.MinFunctionSize = 8

	sched := scheduler.New(schedConfig(), nil)
	tbl := dispatch.New()
	reg := registry.New()
	guards := guardmodel.New()
	deoptMgr := deopt.New(reg, tbl, guards, nil, "linear")

	e := New(cfg, promoCfg, profile.NewStore(0), sched, tbl, reg, guards, deoptMgr, backend, speculate.DefaultStrategies(), nil, nil)
	return e, sched, tbl, reg
}

// primeHotStableFunction records enough profiling history that fid
// clears every admission gate: hot, monomorphic, and structurally large
// enough to pass MinFunctionSize.
func primeHotStableFunction(store *profile.Store, fid types.FunctionId) {
	store.RecordStructure(fid, 200, 10, 2, 5, 20, 3)
	for i := 0; i < 50; i++ {
		store.RecordCall(fid, 1000, []string{"int"}, "int")
	}
}

func TestScanOnceSubmitsHotStableCandidate(t *testing.T) {
	body := types.CompiledBody{RegionToken: 1, EntryOffset: 16, SizeBytes: 256}
	e, sched, _, _ := newTestEngine(t, fakeBackend{body: body})
	primeHotStableFunction(e.profiles, 7)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	e.scanOnce()
	time.Sleep(20 * time.Millisecond)

	task, ok := sched.PopReady()
	if !ok {
		t.Fatalf("expected a submitted task for the hot candidate")
	}
	if task.Target != 7 {
		t.Fatalf("Target = %v, want fid 7", task.Target)
	}

	e.pendingMu.Lock()
	_, pending := e.pending[task.ID]
	e.pendingMu.Unlock()
	if !pending {
		t.Fatalf("expected pendingCompile context to be recorded for the submitted task")
	}
}

func TestScanOnceSkipsColdFunction(t *testing.T) {
	e, sched, _, _ := newTestEngine(t, fakeBackend{})
	e.profiles.RecordStructure(9, 200, 10, 2, 5, 20, 3)
	// No RecordCall at all: RecentFrequency stays 0, well under
	// HotFrequencyThreshold, so fid 9 never enters the hot list.

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	e.scanOnce()
	time.Sleep(10 * time.Millisecond)

	if _, ok := sched.PopReady(); ok {
		t.Fatalf("expected no task submitted for a cold function")
	}
}

func TestCompileTaskInstallsOnSuccess(t *testing.T) {
	body := types.CompiledBody{RegionToken: 42, EntryOffset: 8, SizeBytes: 128}
	e, sched, tbl, reg := newTestEngine(t, fakeBackend{body: body})

	task := scheduler.OptimizationTask{ID: 1, Target: 3, Kind: types.OptTypeSpecialize}
	e.pending[task.ID] = pendingCompile{
		Req:             speculate.CompileRequest{FID: 3, Kind: types.OptTypeSpecialize},
		ToTier:          types.T1,
		BenefitEstimate: 0.3,
		Features:        make([]float64, benefit.DefaultFeatureDims),
	}

	e.compileTask(task)

	entry := tbl.Get(3)
	if entry.Tier != types.T1 || !entry.HasSpec {
		t.Fatalf("expected dispatch escalation to T1 with a Speculation installed, got %+v", entry)
	}
	if entry.Body.RegionToken != 42 {
		t.Fatalf("installed Body = %+v, want the compiled body", entry.Body)
	}
	if reg.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 registered Speculation", reg.Len())
	}
	if e.Stats().Compiled != 1 {
		t.Fatalf("expected Compiled stat to be incremented")
	}

	select {
	case outcome := <-sched.Outcomes():
		if !outcome.Success {
			t.Fatalf("expected a successful Outcome, got %+v", outcome)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected an Outcome to be published")
	}
}

func TestCompileTaskReportsBackendError(t *testing.T) {
	e, sched, tbl, _ := newTestEngine(t, fakeBackend{failErr: errCompileFailed{}})

	task := scheduler.OptimizationTask{ID: 2, Target: 4, Kind: types.OptTypeSpecialize}
	e.pending[task.ID] = pendingCompile{
		Req:      speculate.CompileRequest{FID: 4, Kind: types.OptTypeSpecialize},
		ToTier:   types.T1,
		Features: make([]float64, benefit.DefaultFeatureDims),
	}

	e.compileTask(task)

	if entry := tbl.Get(4); entry.HasSpec {
		t.Fatalf("expected no dispatch change after a failed compile, got %+v", entry)
	}
	if e.Stats().Failed != 1 {
		t.Fatalf("expected Failed stat to be incremented")
	}

	select {
	case outcome := <-sched.Outcomes():
		if outcome.Success {
			t.Fatalf("expected a failed Outcome")
		}
	case <-time.After(time.Second):
		t.Fatalf("expected an Outcome to be published")
	}
}

func TestCompileTaskTimesOutWhenBackendHangs(t *testing.T) {
	e, sched, _, _ := newTestEngine(t, fakeBackend{delay: time.Second})
	cfg := e.currentConfig()
	cfg.CompilationTimeout = 10 * time.Millisecond
	e.ReloadScanConfig(cfg)

	task := scheduler.OptimizationTask{ID: 3, Target: 5, Kind: types.OptTypeSpecialize}
	e.pending[task.ID] = pendingCompile{
		Req:      speculate.CompileRequest{FID: 5, Kind: types.OptTypeSpecialize},
		Features: make([]float64, benefit.DefaultFeatureDims),
	}

	e.compileTask(task)

	select {
	case outcome := <-sched.Outcomes():
		if !outcome.TimedOut || outcome.Success {
			t.Fatalf("expected a timed-out, unsuccessful Outcome, got %+v", outcome)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected an Outcome to be published promptly despite the hung backend")
	}
}

func TestInstallLosesRaceToHigherTier(t *testing.T) {
	body := types.CompiledBody{RegionToken: 1}
	e, sched, tbl, reg := newTestEngine(t, fakeBackend{body: body})

	// Simulate a concurrent scan already having escalated fid 6 to T3.
	tbl.Escalate(types.DispatchEntry{FID: 6, Tier: types.T3, HasSpec: true})

	task := scheduler.OptimizationTask{ID: 4, Target: 6, Kind: types.OptTypeSpecialize}
	pc := pendingCompile{Req: speculate.CompileRequest{FID: 6}, ToTier: types.T1, Features: make([]float64, benefit.DefaultFeatureDims)}

	e.install(task, pc, body, 100)

	if reg.Len() != 0 {
		t.Fatalf("expected no Speculation registered for a lost escalation race, got %d", reg.Len())
	}
	if tbl.Get(6).Tier != types.T3 {
		t.Fatalf("expected the higher existing tier to be preserved")
	}

	select {
	case outcome := <-sched.Outcomes():
		if outcome.Success {
			t.Fatalf("expected the lost-race outcome to be reported as unsuccessful")
		}
	case <-time.After(time.Second):
		t.Fatalf("expected an Outcome to be published")
	}
}

func TestReloadSwapsDetectorButKeepsPredictorRegistry(t *testing.T) {
	e, _, _, _ := newTestEngine(t, fakeBackend{})
	before := e.detector.Load()

	strict := promotion.DefaultConfig()
	strict.Thresholds.T1 = 0.999 // nothing will ever clear this bar
	e.Reload(strict)

	after := e.detector.Load()
	if before == after {
		t.Fatalf("expected Reload to swap in a new *promotion.Detector instance")
	}

	dec := after.Evaluate(promotion.EvaluationInput{
		FID:           1,
		CurrentTier:   types.T0,
		Profile:       types.FunctionProfile{RecentFrequency: 950, ComplexityScore: 0.6},
		TypeStability: 1.0,
		FunctionSize:  100,
	})
	if dec.Admit {
		t.Fatalf("expected the reloaded near-impossible threshold to reject every candidate")
	}
}

func TestComplexityScoreIsZeroForTrivialFunction(t *testing.T) {
	if got := complexityScore(types.FunctionProfile{}); got != 0 {
		t.Fatalf("complexityScore(empty) = %v, want 0", got)
	}
}

func TestComplexityScoreSaturatesTowardOneForLargeFunctions(t *testing.T) {
	got := complexityScore(types.FunctionProfile{InstrCount: 100_000, BranchCount: 5_000, LoopCount: 500})
	if got <= 0.9 || got >= 1.0 {
		t.Fatalf("complexityScore(huge) = %v, want close to but under 1.0", got)
	}
}

func TestDominantPolymorphismPicksWorstCallSite(t *testing.T) {
	store := profile.NewStore(0)
	for i := 0; i < 3; i++ {
		store.RecordCallSite(1, 10, types.FunctionId(100+i))
	}
	store.RecordCallSite(1, 11, 200)

	got := dominantPolymorphism(store, 1)
	if got != types.PolyPoly {
		t.Fatalf("dominantPolymorphism = %v, want PolyPoly (3 distinct targets at one site)", got)
	}
}

func TestDominantPolymorphismDefaultsToMonoWhenNoCallSites(t *testing.T) {
	store := profile.NewStore(0)
	if got := dominantPolymorphism(store, 99); got != types.PolyMono {
		t.Fatalf("dominantPolymorphism = %v, want PolyMono for an unobserved function", got)
	}
}

func TestFeaturesForHasFixedWidthMatchingPredictor(t *testing.T) {
	f := featuresFor(types.FunctionProfile{InstrCount: 10, BranchCount: 2, LoopCount: 1, MemoryOps: 3, ArithOps: 4, Calls: 5, RecentFrequency: 50}, 0.9)
	if len(f) != benefit.DefaultFeatureDims {
		t.Fatalf("len(featuresFor(...)) = %d, want %d", len(f), benefit.DefaultFeatureDims)
	}
	if f[len(f)-1] != 0.9 {
		t.Fatalf("expected type stability as the final feature, got %v", f[len(f)-1])
	}
}

func TestPriorityForTierOrdering(t *testing.T) {
	cases := map[types.TierLevel]scheduler.Priority{
		types.T1: scheduler.Low,
		types.T2: scheduler.Medium,
		types.T3: scheduler.High,
		types.T4: scheduler.Critical,
	}
	for tier, want := range cases {
		if got := priorityForTier(tier); got != want {
			t.Fatalf("priorityForTier(%v) = %v, want %v", tier, got, want)
		}
	}
}

func TestDeoptLabelIsStableForSameFunction(t *testing.T) {
	if deoptLabel(5) != deoptLabel(5) {
		t.Fatalf("expected deoptLabel to be deterministic for the same FunctionId")
	}
	if deoptLabel(5) == deoptLabel(6) {
		t.Fatalf("expected distinct functions to get distinct deopt labels")
	}
}

// errCompileFailed is a minimal error type so fakeBackend doesn't need
// to import the errors package just to fail a Compile call.
type errCompileFailed struct{}

func (errCompileFailed) Error() string { return "compile failed" }
