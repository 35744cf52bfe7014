package config

import "time"

// Config is the umbrella configuration object returned by Load(),
// mirroring the teacher's pkg/config.Config as the single object passed
// down through the worker and its components.
type Config struct {
	// Project scoping
	Project          string
	SourceExperiment string // optional; empty = all experiments
	DatasetName      string
	DatasetVersion   string

	// External service endpoints
	TraceStoreURL   string
	DatasetStoreURL string

	// Model identifiers
	JudgeModel string
	AgentLLM   string

	// Loop cadence
	PollInterval time.Duration
	TurnLimit    int
	MinBatch     int

	// Promotion thresholds (overridable by thresholds.yaml)
	Thresholds Thresholds

	// Publication / artifacts
	UpdateLivePrompt bool
	StatusFile       string
	RunsDir          string

	// Evaluator concurrency
	EvalConcurrency int
	CaseTimeout     time.Duration

	// Strategy proposer
	VariantCount       int
	ProposerMaxRetries int

	// Rate limiting
	MaxLLMCallsPerTick int

	// Backing services (AUTOTUNE_DB_* and AUTOTUNE_REDIS_* env vars)
	Database DatabaseConfig
	Redis    RedisConfig

	// Status API
	StatusAddr string
}

// Thresholds are the Promotion Gate's decision parameters (spec.md §4.7,
// §6). Exposed separately so they can be overlaid from thresholds.yaml
// without redeploying, mirroring the teacher's merge-user-YAML-over-
// built-in-defaults idiom in pkg/config/loader.go.
type Thresholds struct {
	MinDeltaPrimary        float64 `yaml:"min_delta_primary"`
	MaxRegressionSecondary float64 `yaml:"max_regression_secondary"`
	MinDeltaPrimaryTrain   float64 `yaml:"min_delta_primary_train"`
	PrimaryMetric          string  `yaml:"primary_metric"`
	SecondaryMetric        string  `yaml:"secondary_metric"`
	TieBreakMetric         string  `yaml:"tie_break_metric"`
}

// DatabaseConfig configures the pkg/store Postgres connection.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// RedisConfig configures the pkg/datasetstore frozen-dataset cache.
type RedisConfig struct {
	Addr    string
	Enabled bool
	TTL     time.Duration
}
