package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from the process environment, applying
// built-in defaults first and an optional thresholds.yaml overlay last,
// the same precedence order as the teacher's loader: defaults < env <
// file overlay. configDir is the directory searched for thresholds.yaml
// and a .env file; pass "" to skip both.
func Load(configDir string) (Config, error) {
	if configDir != "" {
		_ = godotenv.Load(envFilePath(configDir))
	}

	cfg := Config{
		PollInterval:       DefaultPollInterval,
		TurnLimit:          DefaultTurnLimit,
		MinBatch:           DefaultMinBatch,
		CaseTimeout:        DefaultCaseTimeout,
		EvalConcurrency:    DefaultEvalConcurrency,
		VariantCount:       DefaultVariantCount,
		ProposerMaxRetries: DefaultProposerMaxRetries,
		MaxLLMCallsPerTick: DefaultMaxLLMCallsPerTick,
		StatusFile:         DefaultStatusFile,
		RunsDir:            DefaultRunsDir,
		StatusAddr:         DefaultStatusAddr,
		Thresholds:         defaultThresholds(),
		Redis: RedisConfig{
			TTL: DefaultRedisTTL,
		},
	}

	var err error
	if cfg.Project, err = requireEnv("AUTOTUNE_PROJECT"); err != nil {
		return Config{}, err
	}
	cfg.SourceExperiment = os.Getenv("AUTOTUNE_SOURCE_EXPERIMENT")
	if cfg.DatasetName, err = requireEnv("AUTOTUNE_DATASET_NAME"); err != nil {
		return Config{}, err
	}
	if cfg.DatasetVersion, err = requireEnv("AUTOTUNE_DATASET_VERSION"); err != nil {
		return Config{}, err
	}
	if cfg.JudgeModel, err = requireEnv("AUTOTUNE_JUDGE_MODEL"); err != nil {
		return Config{}, err
	}
	if cfg.AgentLLM, err = requireEnv("AUTOTUNE_AGENT_LLM"); err != nil {
		return Config{}, err
	}
	if cfg.TraceStoreURL, err = requireEnv("AUTOTUNE_TRACE_STORE_URL"); err != nil {
		return Config{}, err
	}
	if cfg.DatasetStoreURL, err = requireEnv("AUTOTUNE_DATASET_STORE_URL"); err != nil {
		return Config{}, err
	}

	if v, ok := os.LookupEnv("AUTOTUNE_POLL_SECONDS"); ok {
		secs, perr := strconv.Atoi(v)
		if perr != nil {
			return Config{}, NewLoadError("AUTOTUNE_POLL_SECONDS", fmt.Errorf("%w: %v", ErrInvalidValue, perr))
		}
		cfg.PollInterval = time.Duration(secs) * time.Second
	}
	if v, ok := os.LookupEnv("AUTOTUNE_TURN_LIMIT"); ok {
		n, perr := strconv.Atoi(v)
		if perr != nil {
			return Config{}, NewLoadError("AUTOTUNE_TURN_LIMIT", fmt.Errorf("%w: %v", ErrInvalidValue, perr))
		}
		cfg.TurnLimit = n
	}
	if v, ok := os.LookupEnv("AUTOTUNE_MIN_BATCH"); ok {
		n, perr := strconv.Atoi(v)
		if perr != nil {
			return Config{}, NewLoadError("AUTOTUNE_MIN_BATCH", fmt.Errorf("%w: %v", ErrInvalidValue, perr))
		}
		cfg.MinBatch = n
	}
	if v, ok := os.LookupEnv("AUTOTUNE_EVAL_CONCURRENCY"); ok {
		n, perr := strconv.Atoi(v)
		if perr != nil {
			return Config{}, NewLoadError("AUTOTUNE_EVAL_CONCURRENCY", fmt.Errorf("%w: %v", ErrInvalidValue, perr))
		}
		cfg.EvalConcurrency = n
	}
	if v, ok := os.LookupEnv("AUTOTUNE_MIN_DELTA_PRIMARY"); ok {
		f, perr := strconv.ParseFloat(v, 64)
		if perr != nil {
			return Config{}, NewLoadError("AUTOTUNE_MIN_DELTA_PRIMARY", fmt.Errorf("%w: %v", ErrInvalidValue, perr))
		}
		cfg.Thresholds.MinDeltaPrimary = f
	}
	if v, ok := os.LookupEnv("AUTOTUNE_MAX_REGRESSION_SECONDARY"); ok {
		f, perr := strconv.ParseFloat(v, 64)
		if perr != nil {
			return Config{}, NewLoadError("AUTOTUNE_MAX_REGRESSION_SECONDARY", fmt.Errorf("%w: %v", ErrInvalidValue, perr))
		}
		cfg.Thresholds.MaxRegressionSecondary = f
	}
	if v, ok := os.LookupEnv("AUTOTUNE_UPDATE_LIVE_PROMPT"); ok {
		b, perr := strconv.ParseBool(v)
		if perr != nil {
			return Config{}, NewLoadError("AUTOTUNE_UPDATE_LIVE_PROMPT", fmt.Errorf("%w: %v", ErrInvalidValue, perr))
		}
		cfg.UpdateLivePrompt = b
	}
	if v, ok := os.LookupEnv("AUTOTUNE_STATUS_FILE"); ok {
		cfg.StatusFile = v
	}
	if v, ok := os.LookupEnv("AUTOTUNE_RUNS_DIR"); ok {
		cfg.RunsDir = v
	}

	cfg.Database = DatabaseConfig{
		Host:     envOr("AUTOTUNE_DB_HOST", "localhost"),
		User:     envOr("AUTOTUNE_DB_USER", "autotune"),
		Password: os.Getenv("AUTOTUNE_DB_PASSWORD"),
		Database: envOr("AUTOTUNE_DB_NAME", "autotune"),
		SSLMode:  envOr("AUTOTUNE_DB_SSLMODE", "disable"),
	}
	cfg.Database.Port = 5432
	if v, ok := os.LookupEnv("AUTOTUNE_DB_PORT"); ok {
		n, perr := strconv.Atoi(v)
		if perr != nil {
			return Config{}, NewLoadError("AUTOTUNE_DB_PORT", fmt.Errorf("%w: %v", ErrInvalidValue, perr))
		}
		cfg.Database.Port = n
	}

	cfg.Redis.Addr = os.Getenv("AUTOTUNE_REDIS_ADDR")
	cfg.Redis.Enabled = cfg.Redis.Addr != ""

	if configDir != "" {
		overlay, err := loadThresholdsOverlay(configDir)
		if err != nil {
			return Config{}, err
		}
		if overlay != nil {
			if err := mergo.Merge(&cfg.Thresholds, *overlay, mergo.WithOverride); err != nil {
				return Config{}, NewLoadError("thresholds.yaml", err)
			}
		}
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadThresholdsOverlay(configDir string) (*Thresholds, error) {
	path := configDir + "/thresholds.yaml"
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, NewLoadError(path, err)
	}

	data = ExpandEnv(data)

	var t Thresholds
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}
	return &t, nil
}

func envFilePath(configDir string) string { return configDir + "/.env" }

func requireEnv(key string) (string, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return "", NewLoadError(key, ErrMissingRequired)
	}
	return v, nil
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
