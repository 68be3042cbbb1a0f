// Package config provides configuration loading, validation, and
// hot-reload for the AOTT runtime core.
//
// Configuration file: /etc/aott/config.yaml (default).
// Schema version: 1.
//
// Hot-reload:
//   - The host process listens for SIGHUP (see cmd/aottd).
//   - On SIGHUP: re-read and re-validate config.yaml.
//   - Apply non-destructive changes only: cmd/aottd rebuilds the
//     Promotion Detector's config from the promotion section
//     (function-size bounds, predictive and cost-benefit toggles, base
//     call threshold). Other sections, the log level included, are not
//     re-applied.
//   - Destructive changes (persistence path, arena memory budget,
//     peer-sync listen address) require restart.
//   - If the new config is invalid, the old config remains active and
//     an error is logged. The runtime does NOT abort on invalid
//     hot-reload config.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Version, GitCommit, BuildTime are injected by the build via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Config is the root configuration structure for the AOTT runtime core.
// Every field corresponds to an entry in the External Interfaces
// configuration surface (spec §6).
type Config struct {
	SchemaVersion string `yaml:"schema_version"`

	// NodeID identifies this runtime instance in peer-sync envelopes and
	// audit ledger entries. Default: hostname.
	NodeID string `yaml:"node_id"`

	Promotion   PromotionConfig   `yaml:"promotion"`
	Guard       GuardConfig       `yaml:"guard"`
	Speculation SpeculationConfig `yaml:"speculation"`
	Arena       ArenaConfig       `yaml:"arena"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Persistence PersistenceConfig `yaml:"persistence"`
	PeerSync    PeerSyncConfig    `yaml:"peer_sync"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Operator    OperatorConfig    `yaml:"operator"`
}

// PromotionConfig holds the promotion-detector thresholds and toggles
// (spec §4.D, §6).
type PromotionConfig struct {
	BaseCallThreshold   uint64  `yaml:"base_call_threshold"`
	BaseTimeThresholdNs uint64  `yaml:"base_time_threshold_ns"`
	AdaptiveThresholds  bool    `yaml:"adaptive_thresholds"`
	PredictiveEnabled   bool    `yaml:"predictive_promotion"`
	CostBenefitEnabled  bool    `yaml:"cost_benefit_analysis"`
	MinFunctionSize     int     `yaml:"min_function_size"`
	MaxFunctionSize     int     `yaml:"max_function_size"`
	TargetSuccessRate   float64 `yaml:"target_success_rate"`
	MaxAdmissionsPerBatch int   `yaml:"max_admissions_per_batch"`
}

// GuardConfig holds the guard model / guard runtime toggles (spec §4.B, §6).
type GuardConfig struct {
	ConfidenceThreshold    float64 `yaml:"confidence_threshold"`
	RiskTolerance          float64 `yaml:"risk_tolerance"`
	LearningRate           float64 `yaml:"learning_rate"`
	GuardSuccessThreshold  float64 `yaml:"guard_success_threshold"`
	DeoptFailureThreshold  float64 `yaml:"deopt_failure_threshold"`
	MaxActiveGuards        int     `yaml:"max_active_guards"`
	BatchSize              int     `yaml:"threshold_batch_size"`
}

// SpeculationConfig holds speculative-compiler limits (spec §6).
type SpeculationConfig struct {
	MaxSpeculationDepth int           `yaml:"max_speculation_depth"`
	CompilationTimeout  time.Duration `yaml:"compilation_timeout_ms"`
	RecoveryBlacklist   time.Duration `yaml:"recovery_blacklist_duration_s"`
}

// ArenaConfig holds executable-memory arena limits (spec §5, §6).
type ArenaConfig struct {
	MaxMemoryMB int    `yaml:"max_memory_mb"`
	Backend     string `yaml:"backend"` // "sim" or "mmap"
}

// SchedulerConfig holds background worker pool parameters.
type SchedulerConfig struct {
	Workers        int `yaml:"workers"`
	QueueCapacity  int `yaml:"queue_capacity"`
}

// PersistenceConfig holds the optional cache directory parameters
// (spec §6 "Persisted state").
type PersistenceConfig struct {
	DBPath            string        `yaml:"db_path"`
	CheckpointPeriod  time.Duration `yaml:"checkpoint_period"`
}

// PeerSyncConfig holds the optional cross-instance statistics sync
// layer parameters (component P).
type PeerSyncConfig struct {
	Enabled       bool          `yaml:"enabled"`
	ListenAddr    string        `yaml:"listen_addr"`
	Peers         []string      `yaml:"peers"`
	ShareInterval time.Duration `yaml:"share_interval"`
	TrustWeight   float64       `yaml:"trust_weight"`
	MinSamples    int           `yaml:"min_samples"`
	TLSCertFile   string        `yaml:"tls_cert_file"`
	TLSKeyFile    string        `yaml:"tls_key_file"`
	TLSCAFile     string        `yaml:"tls_ca_file"`
}

// TelemetryConfig holds metrics/logging parameters.
type TelemetryConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
}

// OperatorConfig holds the operator override Unix socket parameters.
type OperatorConfig struct {
	Enabled    bool   `yaml:"enabled"`
	SocketPath string `yaml:"socket_path"`
}

// Defaults returns a Config populated with all default values.
func Defaults() Config {
	hostname, _ := os.Hostname()
	return Config{
		SchemaVersion: "1",
		NodeID:        hostname,
		Promotion: PromotionConfig{
			BaseCallThreshold:     100,
			BaseTimeThresholdNs:   1_000_000,
			AdaptiveThresholds:    true,
			PredictiveEnabled:     true,
			CostBenefitEnabled:    true,
			MinFunctionSize:       8,
			MaxFunctionSize:       50_000,
			TargetSuccessRate:     0.85,
			MaxAdmissionsPerBatch: 8,
		},
		Guard: GuardConfig{
			ConfidenceThreshold:   0.8,
			RiskTolerance:         0.2,
			LearningRate:          0.05,
			GuardSuccessThreshold: 0.9,
			DeoptFailureThreshold: 0.1,
			MaxActiveGuards:       4096,
			BatchSize:             100,
		},
		Speculation: SpeculationConfig{
			MaxSpeculationDepth: 3,
			CompilationTimeout:  200 * time.Millisecond,
			RecoveryBlacklist:   30 * time.Second,
		},
		Arena: ArenaConfig{
			MaxMemoryMB: 64,
			Backend:     "sim",
		},
		Scheduler: SchedulerConfig{
			Workers:       4,
			QueueCapacity: 1024,
		},
		Persistence: PersistenceConfig{
			DBPath:           "/var/lib/aott/aott.db",
			CheckpointPeriod: 30 * time.Second,
		},
		PeerSync: PeerSyncConfig{
			Enabled:       false,
			ListenAddr:    "0.0.0.0:9444",
			ShareInterval: 5 * time.Minute,
			TrustWeight:   0.3,
			MinSamples:    100,
		},
		Telemetry: TelemetryConfig{
			MetricsAddr: "127.0.0.1:9092",
			LogLevel:    "info",
			LogFormat:   "json",
		},
		Operator: OperatorConfig{
			Enabled:    true,
			SocketPath: "/run/aott/operator.sock",
		},
	}
}

// Load reads and validates a config file from the given path, merging
// it over Defaults().
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks all config fields for correctness, returning a single
// descriptive error listing every violation found.
func Validate(cfg *Config) error {
	var errs []string
	add := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if cfg.SchemaVersion != "1" {
		add("schema_version must be \"1\", got %q", cfg.SchemaVersion)
	}
	if cfg.Promotion.MinFunctionSize < 0 || cfg.Promotion.MaxFunctionSize <= cfg.Promotion.MinFunctionSize {
		add("promotion.max_function_size must be > min_function_size (got min=%d max=%d)",
			cfg.Promotion.MinFunctionSize, cfg.Promotion.MaxFunctionSize)
	}
	if cfg.Promotion.TargetSuccessRate < 0 || cfg.Promotion.TargetSuccessRate > 1 {
		add("promotion.target_success_rate must be in [0,1], got %f", cfg.Promotion.TargetSuccessRate)
	}
	if cfg.Promotion.MaxAdmissionsPerBatch < 1 {
		add("promotion.max_admissions_per_batch must be >= 1, got %d", cfg.Promotion.MaxAdmissionsPerBatch)
	}
	if cfg.Guard.ConfidenceThreshold < 0 || cfg.Guard.ConfidenceThreshold > 1 {
		add("guard.confidence_threshold must be in [0,1], got %f", cfg.Guard.ConfidenceThreshold)
	}
	if cfg.Guard.LearningRate <= 0 || cfg.Guard.LearningRate > 1 {
		add("guard.learning_rate must be in (0,1], got %f", cfg.Guard.LearningRate)
	}
	if cfg.Guard.MaxActiveGuards < 1 {
		add("guard.max_active_guards must be >= 1, got %d", cfg.Guard.MaxActiveGuards)
	}
	if cfg.Guard.BatchSize < 1 {
		add("guard.threshold_batch_size must be >= 1, got %d", cfg.Guard.BatchSize)
	}
	if cfg.Speculation.MaxSpeculationDepth < 0 {
		add("speculation.max_speculation_depth must be >= 0, got %d", cfg.Speculation.MaxSpeculationDepth)
	}
	if cfg.Speculation.CompilationTimeout <= 0 {
		add("speculation.compilation_timeout_ms must be > 0")
	}
	if cfg.Arena.MaxMemoryMB < 1 {
		add("arena.max_memory_mb must be >= 1, got %d", cfg.Arena.MaxMemoryMB)
	}
	if cfg.Arena.Backend != "sim" && cfg.Arena.Backend != "mmap" {
		add("arena.backend must be \"sim\" or \"mmap\", got %q", cfg.Arena.Backend)
	}
	if cfg.Scheduler.Workers < 1 {
		add("scheduler.workers must be >= 1, got %d", cfg.Scheduler.Workers)
	}
	if cfg.Scheduler.QueueCapacity < 1 {
		add("scheduler.queue_capacity must be >= 1, got %d", cfg.Scheduler.QueueCapacity)
	}
	if cfg.Persistence.DBPath == "" {
		add("persistence.db_path must not be empty")
	}
	if cfg.PeerSync.Enabled {
		if cfg.PeerSync.TLSCertFile == "" || cfg.PeerSync.TLSKeyFile == "" || cfg.PeerSync.TLSCAFile == "" {
			add("peer_sync.tls_cert_file, tls_key_file, and tls_ca_file are required when peer_sync.enabled=true")
		}
		if cfg.PeerSync.TrustWeight < 0 || cfg.PeerSync.TrustWeight > 1 {
			add("peer_sync.trust_weight must be in [0,1], got %f", cfg.PeerSync.TrustWeight)
		}
		if cfg.PeerSync.MinSamples < 1 {
			add("peer_sync.min_samples must be >= 1, got %d", cfg.PeerSync.MinSamples)
		}
	}

	if len(errs) > 0 {
		msg := errs[0]
		for _, e := range errs[1:] {
			msg += "\n  - " + e
		}
		return fmt.Errorf("config validation errors:\n  - %s", msg)
	}
	return nil
}
