// Package decision implements the Decision Engine (spec §4.K,
// component K): the top-level loop that ties every other component
// together — it walks the Profile Store's hot list, asks the Promotion
// Detector whether each candidate should move up a tier, proposes and
// compiles a Speculation for admitted candidates, submits the resulting
// compilation as a background OptimizationTask, trains the Benefit
// Predictor from each compile result, and drains the Scheduler's
// completed-task outcomes into the audit ledger. The engine does not
// update the Guard Model; only the Deoptimization Manager records guard
// failures into it.
//
// The per-goroutine select-over-ticker/outcomes/ctx.Done() loop shape
// and its SIGHUP-triggered hot-reload are grounded directly on
// cmd/octoreflex/main.go's runWorker and its sighup handler: runWorker
// selects over ctx.Done() and an event channel; the Decision Engine
// selects over ctx.Done(), a scan ticker, and the Scheduler's outcome
// channel. Hot-reload there re-reads config.yaml and swaps
// non-destructive fields; here Reload swaps in a freshly built
// *promotion.Detector (thresholds/weights only — the underlying Benefit
// Predictor instance is a registered singleton and is never replaced,
// so its learned state survives a reload) without touching anything a
// restart alone can safely change.
package decision

import "time"

// Config tunes the Decision Engine's scan cadence and per-scan
// admission limits (spec §4.K, §6 promotion.max_admissions_per_batch).
type Config struct {
	// ScanInterval is how often the hot list is walked and new
	// candidates are evaluated.
	ScanInterval time.Duration

	// WorkerPollInterval is how often the compile loop polls the
	// Scheduler's ready queue for new work (spec §4.J: PopReady is a
	// pull, not a channel, since the ready heap must stay re-orderable
	// by priority).
	WorkerPollInterval time.Duration

	// HotFrequencyThreshold is the minimum smoothed recent-call signal
	// (internal/profile.Store's call EWMA, which is 0 before a function's
	// first call and 1.0 from then on, not a calls/sec rate) a
	// function must clear to enter a scan (spec §4.A "hot_functions").
	HotFrequencyThreshold float64

	// MaxAdmissionsPerScan bounds how many candidates one scan will
	// submit to the Scheduler, irrespective of how many clear the hot
	// list (spec §6 promotion.max_admissions_per_batch).
	MaxAdmissionsPerScan int

	// CompilationTimeout bounds how long a worker waits for the
	// Backend's Compile call before reporting the task as timed out
	// (spec §6 speculation.compilation_timeout_ms).
	CompilationTimeout time.Duration

	// PredictorName selects the registered Benefit Predictor plugin the
	// Promotion Detector and Deoptimization Manager both consult.
	PredictorName string

	// ThresholdAdaptInterval is how often the accumulated realized
	// PromotionEvents are handed to the Promotion Detector's
	// AdaptThresholds (spec §4.K top-level loop:
	// "promotion_detector.adapt_thresholds_if_due()").
	ThresholdAdaptInterval time.Duration
}

// DefaultConfig returns reasonable Decision Engine defaults.
func DefaultConfig() Config {
	return Config{
		ScanInterval:           500 * time.Millisecond,
		WorkerPollInterval:     5 * time.Millisecond,
		HotFrequencyThreshold:  0.5,
		MaxAdmissionsPerScan:   8,
		CompilationTimeout:     200 * time.Millisecond,
		PredictorName:          "linear",
		ThresholdAdaptInterval: 10 * time.Second,
	}
}
