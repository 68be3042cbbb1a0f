package decision

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/aott/internal/benefit"
	"github.com/octoreflex/aott/internal/deopt"
	"github.com/octoreflex/aott/internal/dispatch"
	"github.com/octoreflex/aott/internal/guardmodel"
	"github.com/octoreflex/aott/internal/persistence"
	"github.com/octoreflex/aott/internal/profile"
	"github.com/octoreflex/aott/internal/promotion"
	"github.com/octoreflex/aott/internal/registry"
	"github.com/octoreflex/aott/internal/scheduler"
	"github.com/octoreflex/aott/internal/speculate"
	"github.com/octoreflex/aott/internal/types"
)

// complexityScale sets how quickly complexityScore saturates toward 1
// as a function's static instruction/branch/loop counts grow; chosen so
// a few-hundred-instruction function with moderate branching lands
// comfortably mid-range rather than pinned to an extreme.
const complexityScale = 200.0

// perPrologueByteCostNs is a placeholder per-byte compilation cost
// estimate used only to order and cost-benefit-gate tasks before a real
// backend has reported any realized compilation latency (spec §4.J
// cost-benefit margin needs *some* EstimatedCostNs to compare against).
const perPrologueByteCostNs = 40.0

// estimatedBodyBytes is a conservative placeholder for a freshly
// proposed Speculation's compiled size, used only to size the
// Scheduler's admission-time memory reservation before the backend has
// actually produced a CompiledBody.SizeBytes.
const estimatedBodyBytes = 4096

// pendingCompile is everything the compile worker needs to finish a
// task that a scan already decided to admit; keyed by TaskId in
// Engine.pending since the Scheduler only hands workers an
// OptimizationTask back, not the richer context the scan built it from.
type pendingCompile struct {
	Req             speculate.CompileRequest
	Assumption      types.Assumption
	FromTier        types.TierLevel
	ToTier          types.TierLevel
	BenefitEstimate float64
	Features        []float64
}

type compileResult struct {
	body types.CompiledBody
	err  error
}

// Engine is the Decision Engine (spec §4.K, component K): it owns no
// state of its own beyond scan/compile bookkeeping, instead wiring
// together the Profile Store, Promotion Detector, Speculative Compiler
// policy, Scheduler, Dispatch Table, Speculation Registry, Guard Model,
// and Deoptimization Manager into one running loop.
type Engine struct {
	cfg atomic.Pointer[Config]

	profiles   *profile.Store
	detector   atomic.Pointer[promotion.Detector]
	sched      *scheduler.Scheduler
	dispatch   *dispatch.Table
	registry   *registry.Registry
	guards     *guardmodel.Model
	deoptMgr   *deopt.Manager
	backend    speculate.Backend
	strategies []speculate.Strategy
	store      *persistence.Store // optional; nil disables ledger writes
	log        *zap.Logger

	now func() time.Time

	nextTaskID atomic.Uint64
	nextSpecID atomic.Uint64

	pendingMu sync.Mutex
	pending   map[scheduler.TaskId]pendingCompile

	admittedTotal atomic.Uint64
	compiledTotal atomic.Uint64
	failedTotal   atomic.Uint64

	outcomesMu sync.Mutex
	outcomes   []types.PromotionEvent
}

// New constructs a Decision Engine. store may be nil if persistence is
// disabled (spec §7: persistence is optional everywhere it appears).
func New(
	cfg Config,
	promoCfg promotion.Config,
	profiles *profile.Store,
	sched *scheduler.Scheduler,
	dispatchTbl *dispatch.Table,
	reg *registry.Registry,
	guards *guardmodel.Model,
	deoptMgr *deopt.Manager,
	backend speculate.Backend,
	strategies []speculate.Strategy,
	store *persistence.Store,
	log *zap.Logger,
) *Engine {
	e := &Engine{
		profiles:   profiles,
		sched:      sched,
		dispatch:   dispatchTbl,
		registry:   reg,
		guards:     guards,
		deoptMgr:   deoptMgr,
		backend:    backend,
		strategies: strategies,
		store:      store,
		log:        log,
		now:        time.Now,
		pending:    make(map[scheduler.TaskId]pendingCompile),
	}
	e.cfg.Store(&cfg)
	e.detector.Store(promotion.New(promoCfg, cfg.PredictorName))
	return e
}

// Reload atomically swaps in a Detector built from a freshly validated
// promotion.Config — e.g. on SIGHUP (spec §6: "apply non-destructive
// changes only (thresholds, weights, ...)"). The underlying Benefit
// Predictor is a registered singleton (internal/benefit.GetPredictor),
// so its learned weights are never reset by a reload; only the
// Detector's scoring/threshold configuration changes.
func (e *Engine) Reload(promoCfg promotion.Config) {
	d := promotion.New(promoCfg, e.currentConfig().PredictorName)
	e.detector.Store(d)
	if e.log != nil {
		e.log.Info("decision engine config reloaded")
	}
}

// ReloadScanConfig swaps the scan/compile cadence and admission limits
// (spec §6 non-destructive hot-reload fields).
func (e *Engine) ReloadScanConfig(cfg Config) {
	e.cfg.Store(&cfg)
}

func (e *Engine) currentConfig() Config {
	return *e.cfg.Load()
}

// Run starts the scan loop, the compile-worker loop, the outcome-ledger
// loop and the threshold-adaptation loop, each grounded on
// cmd/octoreflex/main.go's runWorker select-over-ctx.Done() shape.
// Run blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(4)
	go func() { defer wg.Done(); e.runScanLoop(ctx) }()
	go func() { defer wg.Done(); e.runCompileLoop(ctx) }()
	go func() { defer wg.Done(); e.runOutcomeLedger(ctx) }()
	go func() { defer wg.Done(); e.runThresholdAdaptLoop(ctx) }()
	wg.Wait()
}

func (e *Engine) runScanLoop(ctx context.Context) {
	ticker := time.NewTicker(e.currentConfig().ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.scanOnce()
		}
	}
}

func (e *Engine) runCompileLoop(ctx context.Context) {
	ticker := time.NewTicker(e.currentConfig().WorkerPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				task, ok := e.sched.PopReady()
				if !ok {
					break
				}
				e.compileTask(task)
			}
		}
	}
}

// runOutcomeLedger drains the Scheduler's completed-task Outcomes
// channel and, when persistence is wired, appends an audit ledger
// record for each one (spec §4.K "for outcome in recently completed
// tasks"). Training the Benefit Predictor happens inline in
// compileTask/install instead, where the full pendingCompile context
// (features, assumption, tier) is still available; this loop exists for
// consumers — persistence, telemetry — that only need the Outcome
// itself. The engine does not update the Guard Model from outcomes; the
// only Guard Model updates come from the Deoptimization Manager's
// guard-failure path.
func (e *Engine) runOutcomeLedger(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case outcome, ok := <-e.sched.Outcomes():
			if !ok {
				return
			}
			if e.store == nil {
				continue
			}
			payload, err := json.Marshal(map[string]any{
				"target":    uint64(outcome.Task.Target),
				"kind":      outcome.Task.Kind.String(),
				"success":   outcome.Success,
				"cost_ns":   outcome.CostNs,
				"timed_out": outcome.TimedOut,
				"cancelled": outcome.Cancelled,
			})
			if err != nil {
				continue
			}
			_ = e.store.AppendLedger(persistence.LedgerEntry{
				Timestamp: e.now(),
				Kind:      "promotion",
				Payload:   payload,
			})
		}
	}
}

// runThresholdAdaptLoop periodically hands every PromotionEvent
// accumulated since the last tick to the current Promotion Detector's
// AdaptThresholds (spec §4.K top-level loop:
// "promotion_detector.adapt_thresholds_if_due()"), then clears the
// buffer. Ticking rather than adapting per-event matches spec §4.D's
// "after at least 10 recorded outcomes" batching contract — a threshold
// shift computed from a single realized outcome would be far too noisy.
func (e *Engine) runThresholdAdaptLoop(ctx context.Context) {
	interval := e.currentConfig().ThresholdAdaptInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.outcomesMu.Lock()
			batch := e.outcomes
			e.outcomes = nil
			e.outcomesMu.Unlock()
			if len(batch) == 0 {
				continue
			}
			e.detector.Load().AdaptThresholds(batch)
		}
	}
}

// scanOnce walks the Profile Store's hot list, evaluates each candidate
// through the Promotion Detector, and submits admitted candidates to
// the Scheduler as OptimizationTasks (spec §4.K step 1-3).
func (e *Engine) scanOnce() {
	cfg := e.currentConfig()
	detector := e.detector.Load()

	admitted := 0
	for _, fid := range e.profiles.HotList(cfg.HotFrequencyThreshold) {
		if admitted >= cfg.MaxAdmissionsPerScan {
			return
		}
		if e.sched.IsCoolingDown(fid) {
			continue
		}
		currentEntry := e.dispatch.Get(fid)
		if currentEntry.Tier >= types.T4 {
			continue
		}

		snap := e.profiles.Snapshot(fid)
		snap.ComplexityScore = complexityScore(snap)
		typeFB := e.profiles.TypeFeedbackFor(fid, 0)

		decisionResult := detector.Evaluate(promotion.EvaluationInput{
			FID:           fid,
			CurrentTier:   currentEntry.Tier,
			Profile:       snap,
			TypeStability: typeFB.Stability,
			Polymorphism:  dominantPolymorphism(e.profiles, fid),
			FunctionSize:  snap.InstrCount,
		})
		if !decisionResult.Admit {
			continue
		}

		if e.submitCandidate(fid, currentEntry, decisionResult, snap, typeFB.Stability) {
			admitted++
			e.admittedTotal.Add(1)
		}
	}
}

// submitCandidate proposes an Assumption for fid, builds the
// CompileRequest the backend will receive, and submits an
// OptimizationTask to the Scheduler. Returns false if no strategy had an
// eligible Assumption or the Scheduler's intake queue was full.
func (e *Engine) submitCandidate(
	fid types.FunctionId,
	currentEntry types.DispatchEntry,
	decisionResult promotion.Decision,
	snap types.FunctionProfile,
	typeStability float64,
) bool {
	ctx := e.buildProposalContext(fid)
	assumption, kind, ok := speculate.Propose(e.strategies, ctx)
	if !ok {
		return false
	}

	guards := speculate.BuildGuards(assumption, deoptLabel(fid))
	liveLocals := make([]string, 0, len(ctx.TypeFeedback))
	for v := range ctx.TypeFeedback {
		liveLocals = append(liveLocals, v)
	}
	deoptInfo, err := speculate.BuildDeoptInfo(fid, liveLocals)
	if err != nil {
		if e.log != nil {
			e.log.Warn("skipping candidate: incomplete deopt info", zap.Uint64("fid", uint64(fid)), zap.Error(err))
		}
		return false
	}

	req := speculate.CompileRequest{FID: fid, Assumption: assumption, Kind: kind, Guards: guards, Deopt: deoptInfo}
	prologueBytes, _ := speculate.PrologueLayout(guards)

	task := scheduler.OptimizationTask{
		ID:                   scheduler.TaskId(e.nextTaskID.Add(1)),
		Target:               fid,
		Kind:                 kind,
		Priority:             priorityForTier(decisionResult.ToTier),
		EstimatedBenefit:     decisionResult.Estimate.EstimatedBenefit,
		EstimatedCostNs:      float64(prologueBytes) * perPrologueByteCostNs,
		EstimatedMemoryBytes: estimatedBodyBytes,
	}

	if !e.sched.Submit(task) {
		return false
	}

	e.pendingMu.Lock()
	e.pending[task.ID] = pendingCompile{
		Req:             req,
		Assumption:      assumption,
		FromTier:        currentEntry.Tier,
		ToTier:          decisionResult.ToTier,
		BenefitEstimate: decisionResult.Estimate.EstimatedBenefit,
		Features:        featuresFor(snap, typeStability),
	}
	e.pendingMu.Unlock()
	return true
}

// compileTask runs the backend compile for a ready task under the
// configured timeout, then installs or rejects the result.
func (e *Engine) compileTask(task scheduler.OptimizationTask) {
	e.pendingMu.Lock()
	pc, ok := e.pending[task.ID]
	delete(e.pending, task.ID)
	e.pendingMu.Unlock()
	if !ok {
		e.sched.Complete(task, scheduler.Outcome{Task: task, Success: false})
		return
	}

	start := e.now()
	resultCh := make(chan compileResult, 1)
	go func() {
		body, err := e.backend.Compile(pc.Req)
		resultCh <- compileResult{body: body, err: err}
	}()

	var result compileResult
	timedOut := false
	select {
	case result = <-resultCh:
	case <-time.After(e.currentConfig().CompilationTimeout):
		timedOut = true
	}
	costNs := float64(e.now().Sub(start).Nanoseconds())

	switch {
	case timedOut:
		e.failedTotal.Add(1)
		e.sched.Complete(task, scheduler.Outcome{Task: task, Success: false, CostNs: costNs, TimedOut: true})
		e.trainOutcome(pc, types.OutcomePoor, -0.2)
	case result.err != nil:
		e.failedTotal.Add(1)
		e.sched.Complete(task, scheduler.Outcome{Task: task, Success: false, CostNs: costNs})
		e.trainOutcome(pc, types.OutcomePoor, -0.1)
		if e.log != nil {
			e.log.Warn("compile failed", zap.Uint64("fid", uint64(task.Target)), zap.Error(result.err))
		}
	default:
		e.install(task, pc, result.body, costNs)
	}
}

// install escalates the Dispatch Table to the newly compiled tier,
// registers the Speculation, records the fallback the Deoptimization
// Manager will decay to if a guard later fails, and reports a realized
// outcome to the Scheduler and the Benefit Predictor (spec §4.K step 4,
// §4.F, §4.I).
func (e *Engine) install(task scheduler.OptimizationTask, pc pendingCompile, body types.CompiledBody, costNs float64) {
	prevEntry := e.dispatch.Get(task.Target)
	e.deoptMgr.SetInterpreterFallback(task.Target, prevEntry.Body)

	specID := types.SpeculationId(e.nextSpecID.Add(1))
	spec := &types.Speculation{
		ID:              specID,
		FID:             task.Target,
		Assumption:      pc.Assumption,
		Kind:            pc.Req.Kind,
		Body:            body,
		Guards:          pc.Req.Guards,
		Deopt:           pc.Req.Deopt,
		BenefitEstimate: pc.BenefitEstimate,
		CreatedAt:       e.now(),
	}

	entry := types.DispatchEntry{
		FID:           task.Target,
		Tier:          pc.ToTier,
		SpeculationID: specID,
		HasSpec:       true,
		Body:          body,
		InstalledAt:   e.now(),
	}

	if _, ok := e.dispatch.Escalate(entry); !ok {
		// A concurrent scan already escalated this function to an equal
		// or higher tier first; this Speculation is moot.
		e.sched.Complete(task, scheduler.Outcome{Task: task, Success: false, CostNs: costNs})
		return
	}
	e.registry.Insert(spec)
	e.compiledTotal.Add(1)
	e.sched.Complete(task, scheduler.Outcome{Task: task, Success: true, CostNs: costNs})
	e.trainOutcome(pc, types.OutcomeGood, pc.BenefitEstimate)

	if e.log != nil {
		e.log.Info("speculation installed",
			zap.Uint64("fid", uint64(task.Target)),
			zap.String("tier", pc.ToTier.String()),
			zap.String("kind", pc.Req.Kind.String()),
		)
	}
}

// trainOutcome feeds a realized (or provisional) outcome back to the
// Benefit Predictor (spec §4.C step 4). A successful install is an
// optimistic positive signal corrected later if the Deoptimization
// Manager observes this Speculation's guards fail; this is the only
// realized-outcome signal this runtime core currently produces, since
// measuring actual post-install execution-time improvement requires an
// interpreter/execution harness outside this package's scope.
func (e *Engine) trainOutcome(pc pendingCompile, outcome types.PromotionOutcome, improvementRatio float64) {
	ev := types.PromotionEvent{
		FID:              pc.Req.FID,
		Kind:             pc.Req.Kind,
		Tier:             pc.ToTier,
		Outcome:          outcome,
		ImprovementRatio: improvementRatio,
		Features:         pc.Features,
		RecordedAt:       e.now(),
	}
	_ = e.detector.Load().TrainFromOutcome(ev)

	e.outcomesMu.Lock()
	e.outcomes = append(e.outcomes, ev)
	e.outcomesMu.Unlock()
}

// buildProposalContext assembles a speculate.ProposalContext from every
// profiling signal the Profile Store currently has for fid (spec §4.E
// step 1).
func (e *Engine) buildProposalContext(fid types.FunctionId) speculate.ProposalContext {
	typeFB := make(map[string]types.TypeFeedback)
	for _, pos := range e.profiles.KnownArgPositions(fid) {
		fb := e.profiles.TypeFeedbackFor(fid, pos)
		typeFB[fb.Variable] = fb
	}
	branchFB := make(map[types.BranchId]types.BranchProfile)
	for _, b := range e.profiles.KnownBranches(fid) {
		branchFB[b] = e.profiles.BranchFeedback(fid, b)
	}
	loopBounds := make(map[types.LoopId]speculate.LoopBoundInfo)
	for _, l := range e.profiles.KnownLoops(fid) {
		_, boundCandidate, isConstant, invariantVars := e.profiles.LoopFeedback(fid, l)
		loopBounds[l] = speculate.NewLoopBoundInfo(boundCandidate, isConstant, invariantVars)
	}
	callSites := make(map[types.CallSiteId]types.CallSiteFeedback)
	for _, s := range e.profiles.KnownCallSites(fid) {
		callSites[s] = e.profiles.CallSiteFeedback(fid, s)
	}

	return speculate.ProposalContext{
		FID:                 fid,
		TypeFeedback:        typeFB,
		BranchProfile:       branchFB,
		LoopBounds:          loopBounds,
		CallSites:           callSites,
		GuardModel:          e.guards,
		MinTypeStability:    0.8,
		MinBranchConfidence: 0.9,
		MinCallSiteShare:    0.9,
	}
}

// Stats exposes lifetime scan/compile counters for telemetry.
type Stats struct {
	Admitted uint64
	Compiled uint64
	Failed   uint64
}

// Stats returns the Engine's lifetime scan/compile counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Admitted: e.admittedTotal.Load(),
		Compiled: e.compiledTotal.Load(),
		Failed:   e.failedTotal.Load(),
	}
}

// complexityScore derives FunctionProfile.ComplexityScore from static
// structural counts (spec §3 "normalized [0,1] static/dynamic complexity
// estimate"): the Profile Store itself leaves this zero since it has no
// opinion on weighting, so whichever caller assembles an
// EvaluationInput — here, the Decision Engine — computes it.
func complexityScore(p types.FunctionProfile) float64 {
	raw := float64(p.InstrCount) + 2*float64(p.BranchCount) + 3*float64(p.LoopCount)
	if raw <= 0 {
		return 0
	}
	return raw / (raw + complexityScale)
}

// dominantPolymorphism returns the worst (most polymorphic) call-site
// classification observed anywhere in fid, the conservative signal
// ComputeScore's PolyPenalty expects (spec §4.D: polymorphic call sites
// penalize speculation). A function with no recorded call sites is
// treated as monomorphic — no polymorphism has been observed yet.
func dominantPolymorphism(store *profile.Store, fid types.FunctionId) types.Polymorphism {
	worst := types.PolyMono
	for _, site := range store.KnownCallSites(fid) {
		if fb := store.CallSiteFeedback(fid, site); fb.Polymorphism > worst {
			worst = fb.Polymorphism
		}
	}
	return worst
}

// featuresFor builds the fixed 8-wide feature vector (matching
// benefit.DefaultFeatureDims) in the same layout as the Promotion
// Detector's buildFeatures, so the engine's training samples and the
// Detector's predictions share one feature space. The Deoptimization
// Manager builds its own vector with a different layout.
func featuresFor(p types.FunctionProfile, typeStability float64) []float64 {
	return []float64{
		float64(p.InstrCount),
		float64(p.BranchCount),
		float64(p.LoopCount),
		float64(p.MemoryOps),
		float64(p.ArithOps),
		float64(p.Calls),
		p.RecentFrequency,
		typeStability,
	}
}

// priorityForTier maps a promotion target tier to a Scheduler priority:
// higher tiers are more speculative and get scheduled sooner so their
// (larger) potential benefit is realized before cooler candidates (spec
// §4.J priorities).
func priorityForTier(tier types.TierLevel) scheduler.Priority {
	switch tier {
	case types.T4:
		return scheduler.Critical
	case types.T3:
		return scheduler.High
	case types.T2:
		return scheduler.Medium
	default:
		return scheduler.Low
	}
}

// deoptLabel builds the guard-failure recovery target label embedded in
// every Guard compiled for fid (spec §3 Guard.DeoptTarget).
func deoptLabel(fid types.FunctionId) string {
	return "deopt:" + fid.String()
}

var _ = benefit.DefaultFeatureDims // documents the shared feature width; see featuresFor.
