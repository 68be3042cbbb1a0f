// Package main — cmd/aottd/main.go
//
// AOTT runtime daemon entrypoint.
//
// Startup sequence:
//  1. Load and validate config from /etc/aott/config.yaml.
//  2. Initialise structured logger (zap; console or JSON format per the
//     logging config).
//  3. Open the persistence Store (optional; disabled if db_path is empty).
//  4. Prune stale ledger entries, restore any persisted model snapshots.
//  5. Construct the Executable Memory Arena.
//  6. Construct the Profile Store, Guard Model, Dispatch Table,
//     Speculation Registry, Scheduler, Deoptimization Manager, and
//     Decision Engine.
//  7. Start the Prometheus metrics server.
//  8. Start the Decision Engine's scan/compile loops.
//  9. Start the operator override socket (if enabled).
// 10. Start the peer-sync server and manager (if enabled).
// 11. Register SIGHUP handler for config hot-reload.
// 12. Block on SIGINT/SIGTERM for graceful shutdown.
//
// Shutdown sequence (on SIGINT/SIGTERM):
//  1. Cancel root context (propagates to every goroutine above).
//  2. Checkpoint the Guard Model and Benefit Predictor to the
//     persistence Store.
//  3. Close the persistence Store.
//  4. Flush logger.
//  5. Exit 0.
//
// Grounded directly on cmd/octoreflex/main.go's staged-startup /
// graceful-shutdown shape (spec §4.Q): config load, logger, storage,
// background loops, SIGHUP hot-reload, SIGINT/SIGTERM drain.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/octoreflex/aott/internal/benefit"
	"github.com/octoreflex/aott/internal/config"
	"github.com/octoreflex/aott/internal/decision"
	"github.com/octoreflex/aott/internal/deopt"
	"github.com/octoreflex/aott/internal/dispatch"
	"github.com/octoreflex/aott/internal/execmem"
	"github.com/octoreflex/aott/internal/guardmodel"
	"github.com/octoreflex/aott/internal/operator"
	"github.com/octoreflex/aott/internal/peersync"
	"github.com/octoreflex/aott/internal/persistence"
	"github.com/octoreflex/aott/internal/profile"
	"github.com/octoreflex/aott/internal/promotion"
	"github.com/octoreflex/aott/internal/registry"
	"github.com/octoreflex/aott/internal/scheduler"
	"github.com/octoreflex/aott/internal/speculate"
	"github.com/octoreflex/aott/internal/telemetry"
	"github.com/octoreflex/aott/internal/types"
)

func main() {
	configPath := flag.String("config", "/etc/aott/config.yaml", "Path to config.yaml")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("aottd %s (commit=%s built=%s)\n", config.Version, config.GitCommit, config.BuildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
		os.Exit(1)
	}

	log, err := buildLogger(cfg.Telemetry.LogLevel, cfg.Telemetry.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("AOTT starting",
		zap.String("version", config.Version),
		zap.String("commit", config.GitCommit),
		zap.String("built", config.BuildTime),
		zap.String("node_id", cfg.NodeID),
		zap.String("config", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Persistence (optional) ────────────────────────────────────────
	var store *persistence.Store
	if cfg.Persistence.DBPath != "" {
		store, err = persistence.Open(cfg.Persistence.DBPath, 30)
		if err != nil {
			log.Fatal("persistence open failed", zap.Error(err), zap.String("path", cfg.Persistence.DBPath))
		}
		defer store.Close() //nolint:errcheck
		log.Info("persistence store opened", zap.String("path", cfg.Persistence.DBPath))

		pruned, err := store.PruneOldLedgerEntries()
		if err != nil {
			log.Warn("ledger pruning failed", zap.Error(err))
		} else {
			log.Info("ledger pruned", zap.Int("deleted", pruned))
		}
	} else {
		log.Info("persistence disabled (no db_path configured)")
	}

	// ── Core components (A–L) ─────────────────────────────────────────
	arena := execmem.New(4096, int64(cfg.Arena.MaxMemoryMB)*1024*1024)

	profiles := profile.NewStore(0)
	guards := guardmodel.New(guardmodel.WithClampRates(cfg.Guard.LearningRate, cfg.Guard.LearningRate/2))
	restoreGuardModel(store, guards, log)
	restorePredictor(store, "linear", log)

	dispatchTbl := dispatch.New()
	reg := registry.New()

	schedGate := scheduler.NewCountingGate(int64(cfg.Arena.MaxMemoryMB) * 1024 * 1024)
	sched := scheduler.New(scheduler.Config{
		QueueCapacity:     cfg.Scheduler.QueueCapacity,
		CooldownDuration:  cfg.Speculation.RecoveryBlacklist,
		CostBenefitMargin: 3.0,
		OutcomeBufferSize: 256,
	}, schedGate)

	deoptMgr := deopt.New(reg, dispatchTbl, guards, arena, "linear")

	backend := speculate.NewSimBackend(arena)
	strategies := speculate.DefaultStrategies()

	engineCfg := decision.DefaultConfig()
	engineCfg.CompilationTimeout = cfg.Speculation.CompilationTimeout
	engine := decision.New(
		engineCfg,
		buildPromotionConfig(cfg),
		profiles,
		sched,
		dispatchTbl,
		reg,
		guards,
		deoptMgr,
		backend,
		strategies,
		store,
		log,
	)

	// ── Telemetry (O) ──────────────────────────────────────────────────
	metrics := telemetry.NewMetrics()
	sources := telemetry.Sources{
		Decision:    engine,
		Scheduler:   sched,
		Registry:    reg,
		Arena:       arena,
		GuardModel:  guards,
		Persistence: store,
	}
	go func() {
		if err := metrics.ServeMetrics(ctx, cfg.Telemetry.MetricsAddr, sources, 5*time.Second); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics server started", zap.String("addr", cfg.Telemetry.MetricsAddr))

	// ── Decision Engine loops (scan/compile/outcome-ledger) ───────────
	go engine.Run(ctx)
	go sched.Run(ctx)
	go runRegistryReclaimLoop(ctx, reg, 100*time.Millisecond)
	log.Info("decision engine started")

	// ── Operator override socket (Q) ──────────────────────────────────
	if cfg.Operator.Enabled {
		opSrv := operator.NewServer(cfg.Operator.SocketPath, dispatchTbl, log)
		go func() {
			if err := opSrv.ListenAndServe(ctx); err != nil {
				log.Error("operator socket error", zap.Error(err))
			}
		}()
		log.Info("operator socket started", zap.String("path", cfg.Operator.SocketPath))
	} else {
		log.Info("operator socket disabled")
	}

	// ── Cross-instance stats sync (P) ─────────────────────────────────
	if cfg.PeerSync.Enabled {
		startPeerSync(ctx, cfg, guards, log)
	} else {
		log.Info("peer-sync disabled (standalone mode)")
	}

	// ── Periodic checkpoint of learned model state ────────────────────
	if store != nil {
		go runCheckpointLoop(ctx, store, guards, "linear", cfg.Persistence.CheckpointPeriod, log)
	}

	// ── SIGHUP hot-reload ──────────────────────────────────────────────
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			log.Info("SIGHUP received — reloading config...")
			newCfg, err := config.Load(*configPath)
			if err != nil {
				log.Error("config hot-reload failed — retaining old config", zap.Error(err))
				continue
			}
			engine.Reload(buildPromotionConfig(newCfg))
			log.Info("config hot-reload successful")
			cfg = newCfg
		}
	}()

	// ── Wait for shutdown signal ───────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	cancel()

	if store != nil {
		checkpointOnce(store, guards, "linear", log)
	}

	time.Sleep(200 * time.Millisecond) // let background loops observe cancellation
	log.Info("AOTT shutdown complete")
}

// buildPromotionConfig maps the ambient config's promotion section onto
// promotion.Config, starting from DefaultWeights/DefaultThresholds since
// spec.md §6's base_call_threshold/base_time_threshold_ns have already
// been generalized into a single normalized score (internal/promotion's
// package doc) rather than surviving as separate config knobs.
func buildPromotionConfig(cfg *config.Config) promotion.Config {
	pc := promotion.DefaultConfig()
	pc.PredictiveEnabled = cfg.Promotion.PredictiveEnabled
	pc.CostBenefitEnabled = cfg.Promotion.CostBenefitEnabled
	pc.MinFunctionSize = cfg.Promotion.MinFunctionSize
	pc.MaxFunctionSize = cfg.Promotion.MaxFunctionSize
	if cfg.Promotion.BaseCallThreshold > 0 {
		pc.FrequencyCeiling = float64(cfg.Promotion.BaseCallThreshold) * 10
	}
	return pc
}

// startPeerSync wires the peersync Server and Manager (component P).
//
// internal/config.PeerSyncConfig carries the mTLS transport material
// (tls_cert_file/tls_key_file/tls_ca_file) but, like the teacher's own
// gossip wiring in cmd/octoreflex/main.go ("TODO: load trusted peers
// from config + key files"), has no field yet for this node's envelope
// -signing identity or its peers' trusted public keys — those require a
// key-distribution mechanism outside this daemon's scope. A fresh
// Ed25519 signing key is generated per process start and the trusted
// peer set starts empty; every incoming ShareStats call is rejected
// until an operator wires a real trust store, which mirrors the
// teacher's own unfinished state rather than fabricating one.
func startPeerSync(ctx context.Context, cfg *config.Config, guards *guardmodel.Model, log *zap.Logger) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		log.Error("peersync: generate signing key", zap.Error(err))
		return
	}

	trustedPeers := map[string]ed25519.PublicKey{}
	srv := peersync.NewServer(cfg.NodeID, trustedPeers, 2*cfg.PeerSync.ShareInterval, cfg.PeerSync.TrustWeight, guards, log)

	go func() {
		if err := peersync.ListenAndServe(ctx, cfg.PeerSync.ListenAddr, cfg.PeerSync.TLSCertFile,
			cfg.PeerSync.TLSKeyFile, cfg.PeerSync.TLSCAFile, srv, log); err != nil {
			log.Error("peersync server error", zap.Error(err))
		}
	}()
	log.Info("peersync server started", zap.String("addr", cfg.PeerSync.ListenAddr))

	creds, err := peersync.LoadClientTLS(cfg.PeerSync.TLSCertFile, cfg.PeerSync.TLSKeyFile, cfg.PeerSync.TLSCAFile)
	if err != nil {
		log.Error("peersync: load client TLS", zap.Error(err))
		return
	}

	mgr := peersync.NewManager(peersync.Config{
		Enabled:        true,
		ShareInterval:  cfg.PeerSync.ShareInterval,
		TrustWeight:    cfg.PeerSync.TrustWeight,
		PredictorNames: []string{"linear"},
	}, cfg.NodeID, priv, guards, cfg.PeerSync.Peers, creds, log)
	go mgr.Run(ctx)
	log.Info("peersync manager started")
}

// runRegistryReclaimLoop periodically advances the Registry's epoch
// reclaimer so Speculations retired by the Deoptimization Manager
// actually run their onReclaim callback (internal/deopt.Manager.
// reclaimRegion frees the retired Speculation's executable-memory
// region back to the Arena) instead of sitting in the reclaimer's
// backlog indefinitely. Grounded on runCheckpointLoop's own
// ctx-cancellable ticker shape.
func runRegistryReclaimLoop(ctx context.Context, reg *registry.Registry, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reg.Advance()
		}
	}
}

// runCheckpointLoop periodically persists the Guard Model's posteriors
// and the named Benefit Predictor's coefficients (spec §6 "Persisted
// state"), grounded on cmd/octoreflex/main.go's periodic ledger-pruning
// discipline applied to model snapshots instead.
func runCheckpointLoop(ctx context.Context, store *persistence.Store, guards *guardmodel.Model, predictorName string, period time.Duration, log *zap.Logger) {
	if period <= 0 {
		period = 30 * time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checkpointOnce(store, guards, predictorName, log)
		}
	}
}

type guardPosteriorSnapshot struct {
	Kind  string  `json:"kind"`
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
}

type predictorSnapshot struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
	Trained int       `json:"trained"`
}

func checkpointOnce(store *persistence.Store, guards *guardmodel.Model, predictorName string, log *zap.Logger) {
	snaps := make([]guardPosteriorSnapshot, 0, len(types.AllGuardKinds))
	for _, kind := range types.AllGuardKinds {
		alpha, beta := guards.ExportPosterior(kind)
		snaps = append(snaps, guardPosteriorSnapshot{Kind: kind.String(), Alpha: alpha, Beta: beta})
	}
	payload, err := json.Marshal(snaps)
	if err != nil {
		log.Error("checkpoint: marshal guard posteriors", zap.Error(err))
		return
	}
	if err := store.PutModelSnapshot("guard_model", persistence.ModelSnapshot{Version: 1, Params: payload, UpdatedAt: time.Now()}); err != nil {
		log.Error("checkpoint: persist guard model", zap.Error(err))
	}

	if p, ok := benefit.GetPredictor(predictorName); ok {
		if sharer, ok := p.(interface {
			Weights() []float64
			Bias() float64
			TrainedCount() int
		}); ok {
			ps := predictorSnapshot{Weights: sharer.Weights(), Bias: sharer.Bias(), Trained: sharer.TrainedCount()}
			payload, err := json.Marshal(ps)
			if err != nil {
				log.Error("checkpoint: marshal predictor", zap.Error(err))
				return
			}
			if err := store.PutModelSnapshot("predictor_"+predictorName, persistence.ModelSnapshot{Version: 1, Params: payload, UpdatedAt: time.Now()}); err != nil {
				log.Error("checkpoint: persist predictor", zap.Error(err))
			}
		}
	}
}

func restoreGuardModel(store *persistence.Store, guards *guardmodel.Model, log *zap.Logger) {
	if store == nil {
		return
	}
	snap, ok, err := store.GetModelSnapshot("guard_model")
	if err != nil || !ok {
		return
	}
	var snaps []guardPosteriorSnapshot
	if err := json.Unmarshal(snap.Params, &snaps); err != nil {
		log.Warn("restore: guard model snapshot unreadable", zap.Error(err))
		return
	}
	for _, kind := range types.AllGuardKinds {
		for _, s := range snaps {
			if s.Kind == kind.String() {
				guards.MergePosterior(kind, s.Alpha, s.Beta, 1.0)
			}
		}
	}
	log.Info("guard model restored from checkpoint")
}

func restorePredictor(store *persistence.Store, predictorName string, log *zap.Logger) {
	if store == nil {
		return
	}
	snap, ok, err := store.GetModelSnapshot("predictor_" + predictorName)
	if err != nil || !ok {
		return
	}
	var ps predictorSnapshot
	if err := json.Unmarshal(snap.Params, &ps); err != nil {
		log.Warn("restore: predictor snapshot unreadable", zap.Error(err))
		return
	}
	p, ok := benefit.GetPredictor(predictorName)
	if !ok {
		return
	}
	if merger, ok := p.(interface {
		MergeCoefficients(remoteWeights []float64, remoteBias float64, remoteTrained int, trustWeight float64)
	}); ok {
		merger.MergeCoefficients(ps.Weights, ps.Bias, ps.Trained, 1.0)
		log.Info("predictor restored from checkpoint", zap.String("predictor", predictorName))
	}
}

func buildLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var zcfg zap.Config
	if format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return zcfg.Build()
}
