package config

import "fmt"

// Validate fails fast on any configuration combination the worker
// cannot safely run with, mirroring the teacher's pkg/config/validator.go
// single-pass field checks.
func Validate(cfg Config) error {
	if cfg.Project == "" {
		return NewValidationError("project", ErrMissingRequired)
	}
	if cfg.DatasetName == "" {
		return NewValidationError("dataset_name", ErrMissingRequired)
	}
	if cfg.DatasetVersion == "" {
		return NewValidationError("dataset_version", ErrMissingRequired)
	}
	if cfg.JudgeModel == "" {
		return NewValidationError("judge_model", ErrMissingRequired)
	}
	if cfg.AgentLLM == "" {
		return NewValidationError("agent_llm", ErrMissingRequired)
	}
	if cfg.TraceStoreURL == "" {
		return NewValidationError("trace_store_url", ErrMissingRequired)
	}
	if cfg.DatasetStoreURL == "" {
		return NewValidationError("dataset_store_url", ErrMissingRequired)
	}
	if cfg.PollInterval <= 0 {
		return NewValidationError("poll_interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if cfg.TurnLimit <= 0 {
		return NewValidationError("turn_limit", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if cfg.MinBatch <= 0 {
		return NewValidationError("min_batch", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if cfg.EvalConcurrency <= 0 {
		return NewValidationError("eval_concurrency", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if cfg.VariantCount <= 0 {
		return NewValidationError("variant_count", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if cfg.CaseTimeout <= 0 {
		return NewValidationError("case_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if cfg.Thresholds.PrimaryMetric == "" {
		return NewValidationError("thresholds.primary_metric", ErrMissingRequired)
	}
	if cfg.Thresholds.MinDeltaPrimary <= 0 {
		return NewValidationError("thresholds.min_delta_primary", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if cfg.Thresholds.MaxRegressionSecondary < 0 {
		return NewValidationError("thresholds.max_regression_secondary", fmt.Errorf("%w: must be non-negative", ErrInvalidValue))
	}
	if !BackendForModel(cfg.JudgeModel).IsValid() {
		return NewValidationError("judge_model", fmt.Errorf("%w: no backend matches %q", ErrInvalidValue, cfg.JudgeModel))
	}
	if !BackendForModel(cfg.AgentLLM).IsValid() {
		return NewValidationError("agent_llm", fmt.Errorf("%w: no backend matches %q", ErrInvalidValue, cfg.AgentLLM))
	}
	return nil
}
