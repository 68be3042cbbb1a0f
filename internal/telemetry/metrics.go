// Package telemetry — metrics.go
//
// Prometheus metrics for the AOTT runtime.
//
// Endpoint: GET /metrics on 127.0.0.1:<metrics_port> (configurable).
// Format: Prometheus text exposition format (OpenMetrics compatible).
// Bind: loopback only — no external exposure.
//
// Metric naming convention: aott_<subsystem>_<name>_<unit>
//
// All metrics are registered on a dedicated prometheus.Registry (not the
// default global registry) to avoid collisions with other instrumented
// libraries in the same process.
//
// Cardinality control:
//   - GuardKind is used as a label (types.AllGuardKinds is a fixed, small set).
//   - FunctionId is NEVER used as a label (unbounded cardinality); every
//     per-function signal is aggregated before it reaches this package.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/octoreflex/aott/internal/decision"
	"github.com/octoreflex/aott/internal/execmem"
	"github.com/octoreflex/aott/internal/guardmodel"
	"github.com/octoreflex/aott/internal/persistence"
	"github.com/octoreflex/aott/internal/registry"
	"github.com/octoreflex/aott/internal/scheduler"
	"github.com/octoreflex/aott/internal/types"
)

// Sources bundles every component Metrics periodically samples. Any
// field left nil is simply skipped (spec §7: telemetry must never be
// load-bearing — a missing source degrades observability, not
// correctness).
type Sources struct {
	Decision    *decision.Engine
	Scheduler   *scheduler.Scheduler
	Registry    *registry.Registry
	Arena       *execmem.Arena
	GuardModel  *guardmodel.Model
	Persistence *persistence.Store
}

// Metrics holds all Prometheus metric descriptors for the AOTT runtime.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Decision Engine / Promotion ──────────────────────────────────

	// PromotionAdmittedTotal, PromotionCompiledTotal, and
	// PromotionFailedTotal are the Decision Engine's cumulative scan/
	// compile counters (internal/decision.Engine.Stats).
	PromotionAdmittedTotal prometheus.Gauge
	PromotionCompiledTotal prometheus.Gauge
	PromotionFailedTotal   prometheus.Gauge

	// ─── Scheduler ────────────────────────────────────────────────────

	// SchedulerPendingTasks is the current count of waiting+ready tasks.
	SchedulerPendingTasks prometheus.Gauge

	// SchedulerRejectedTotal is the cumulative rejection count, by reason
	// (queue_full, cooldown, budget).
	SchedulerRejectedTotal *prometheus.GaugeVec

	// SchedulerDemotedTotal is the cumulative count of tasks demoted one
	// priority level by the cost-benefit margin rule.
	SchedulerDemotedTotal prometheus.Gauge

	// ─── Registry ─────────────────────────────────────────────────────

	// RegistryLiveSpeculations is the current number of registered
	// Speculations.
	RegistryLiveSpeculations prometheus.Gauge

	// RegistryPendingReclamation is the current number of retired
	// Speculations awaiting an epoch advance before their memory is
	// freed.
	RegistryPendingReclamation prometheus.Gauge

	// ─── Executable Memory Arena ──────────────────────────────────────

	// ArenaReservedBytes is the current reserved (not necessarily
	// allocated) executable-memory budget in use.
	ArenaReservedBytes prometheus.Gauge

	// ─── Guard Model ──────────────────────────────────────────────────

	// GuardSuccessProbability is the Guard Model's current posterior
	// mean success probability, by guard_kind.
	GuardSuccessProbability *prometheus.GaugeVec

	// GuardThreshold is the Guard Model's current adaptive trust
	// threshold, by guard_kind.
	GuardThreshold *prometheus.GaugeVec

	// ─── Storage ──────────────────────────────────────────────────────

	// StorageLedgerEntries is the current number of audit ledger
	// entries in BoltDB. Sampled on a longer interval than the other
	// gauges since it requires a full bucket scan (internal/persistence
	// has no O(1) count).
	StorageLedgerEntries prometheus.Gauge

	// ─── Agent ────────────────────────────────────────────────────────

	// AgentUptimeSeconds is the number of seconds since the runtime
	// started.
	AgentUptimeSeconds prometheus.Gauge

	startTime time.Time
}

// NewMetrics creates and registers all AOTT Prometheus metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		PromotionAdmittedTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "aott",
			Subsystem: "promotion",
			Name:      "admitted_total",
			Help:      "Cumulative number of candidates the Promotion Detector admitted.",
		}),

		PromotionCompiledTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "aott",
			Subsystem: "promotion",
			Name:      "compiled_total",
			Help:      "Cumulative number of admitted candidates successfully compiled and installed.",
		}),

		PromotionFailedTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "aott",
			Subsystem: "promotion",
			Name:      "failed_total",
			Help:      "Cumulative number of admitted candidates that failed or timed out during compilation.",
		}),

		SchedulerPendingTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "aott",
			Subsystem: "scheduler",
			Name:      "pending_tasks",
			Help:      "Current number of OptimizationTasks waiting for a dependency or ready for a worker.",
		}),

		SchedulerRejectedTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "aott",
			Subsystem: "scheduler",
			Name:      "rejected_total",
			Help:      "Cumulative OptimizationTask rejections, by reason.",
		}, []string{"reason"}),

		SchedulerDemotedTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "aott",
			Subsystem: "scheduler",
			Name:      "demoted_total",
			Help:      "Cumulative count of tasks demoted one priority level under the cost-benefit margin rule.",
		}),

		RegistryLiveSpeculations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "aott",
			Subsystem: "registry",
			Name:      "live_speculations",
			Help:      "Current number of registered Speculations.",
		}),

		RegistryPendingReclamation: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "aott",
			Subsystem: "registry",
			Name:      "pending_reclamation",
			Help:      "Current number of retired Speculations awaiting epoch-based reclamation.",
		}),

		ArenaReservedBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "aott",
			Subsystem: "arena",
			Name:      "reserved_bytes",
			Help:      "Current executable-memory budget reserved by Arena allocations.",
		}),

		GuardSuccessProbability: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "aott",
			Subsystem: "guard",
			Name:      "success_probability",
			Help:      "Guard Model posterior mean success probability, by guard_kind.",
		}, []string{"guard_kind"}),

		GuardThreshold: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "aott",
			Subsystem: "guard",
			Name:      "trust_threshold",
			Help:      "Guard Model current adaptive trust threshold, by guard_kind.",
		}, []string{"guard_kind"}),

		StorageLedgerEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "aott",
			Subsystem: "storage",
			Name:      "ledger_entries",
			Help:      "Current number of audit ledger entries persisted to BoltDB.",
		}),

		AgentUptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "aott",
			Subsystem: "agent",
			Name:      "uptime_seconds",
			Help:      "Number of seconds since the runtime started.",
		}),
	}

	reg.MustRegister(
		m.PromotionAdmittedTotal,
		m.PromotionCompiledTotal,
		m.PromotionFailedTotal,
		m.SchedulerPendingTasks,
		m.SchedulerRejectedTotal,
		m.SchedulerDemotedTotal,
		m.RegistryLiveSpeculations,
		m.RegistryPendingReclamation,
		m.ArenaReservedBytes,
		m.GuardSuccessProbability,
		m.GuardThreshold,
		m.StorageLedgerEntries,
		m.AgentUptimeSeconds,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// Sample reads the current value of every wired source in src and sets
// the corresponding gauges. Called on a ticker from ServeMetrics;
// exported separately so a caller (or a test) can sample synchronously
// without waiting on the ticker.
func (m *Metrics) Sample(src Sources) {
	if src.Decision != nil {
		stats := src.Decision.Stats()
		m.PromotionAdmittedTotal.Set(float64(stats.Admitted))
		m.PromotionCompiledTotal.Set(float64(stats.Compiled))
		m.PromotionFailedTotal.Set(float64(stats.Failed))
	}
	if src.Scheduler != nil {
		m.SchedulerPendingTasks.Set(float64(src.Scheduler.PendingCount()))
		m.SchedulerRejectedTotal.WithLabelValues("queue_full").Set(float64(src.Scheduler.RejectedQueueFull()))
		m.SchedulerRejectedTotal.WithLabelValues("cooldown").Set(float64(src.Scheduler.RejectedCooldown()))
		m.SchedulerRejectedTotal.WithLabelValues("budget").Set(float64(src.Scheduler.RejectedBudget()))
		m.SchedulerDemotedTotal.Set(float64(src.Scheduler.Demoted()))
	}
	if src.Registry != nil {
		m.RegistryLiveSpeculations.Set(float64(src.Registry.Len()))
		m.RegistryPendingReclamation.Set(float64(src.Registry.PendingReclamation()))
	}
	if src.Arena != nil {
		m.ArenaReservedBytes.Set(float64(src.Arena.Reserved()))
	}
	if src.GuardModel != nil {
		for _, kind := range types.AllGuardKinds {
			label := kind.String()
			m.GuardSuccessProbability.WithLabelValues(label).Set(src.GuardModel.SuccessProbability(kind))
			m.GuardThreshold.WithLabelValues(label).Set(src.GuardModel.Threshold(kind))
		}
	}
}

// SampleLedger sets StorageLedgerEntries from a full ledger scan.
// Invoked on a longer interval than Sample since internal/persistence
// has no O(1) ledger count.
func (m *Metrics) SampleLedger(store *persistence.Store) {
	if store == nil {
		return
	}
	entries, err := store.ReadLedger()
	if err != nil {
		return
	}
	m.StorageLedgerEntries.Set(float64(len(entries)))
}

// ServeMetrics starts the Prometheus HTTP metrics server on addr, and
// samples src on sampleInterval until ctx is cancelled. Blocks until ctx
// is cancelled or the server fails.
func (m *Metrics) ServeMetrics(ctx context.Context, addr string, src Sources, sampleInterval time.Duration) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go m.runSampler(ctx, src, sampleInterval)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}

// runSampler periodically refreshes every gauge from src and updates
// AgentUptimeSeconds; the ledger scan runs at a fixed, coarser 30s
// cadence regardless of sampleInterval since it is the one sampled
// value expensive enough to matter.
func (m *Metrics) runSampler(ctx context.Context, src Sources, sampleInterval time.Duration) {
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()
	ledgerTicker := time.NewTicker(30 * time.Second)
	defer ledgerTicker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sample(src)
			m.AgentUptimeSeconds.Set(time.Since(m.startTime).Seconds())
		case <-ledgerTicker.C:
			m.SampleLedger(src.Persistence)
		case <-ctx.Done():
			return
		}
	}
}
