package models

import "time"

// LoopState is the process-wide, single-instance record of the
// Autotune Worker's progress (spec.md §3). It is created on first tick
// and mutated only by the worker, persisted after every phase
// transition.
type LoopState struct {
	LastTraceCursor    time.Time `json:"last_trace_cursor"`
	PendingTraceCount  int       `json:"pending_trace_count"`
	CurrentPhase       Phase     `json:"current_phase"`
	CurrentRunDir      string    `json:"current_run_dir,omitempty"`
	PromotedPromptHash string    `json:"promoted_prompt_hash,omitempty"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// GenerationParams records the LLM generation settings used for one
// Strategy Proposer call, including whether the backend actually
// honored a requested seed (spec.md §9 Open Question a).
type GenerationParams struct {
	Model             string  `json:"model"`
	Temperature       float64 `json:"temperature"`
	Seed              *int64  `json:"seed,omitempty"`
	SeedHonored       bool    `json:"seed_honored"`
}

// FindingsAndVariants is the findings_and_variants.json artifact
// (spec.md §3, §4.4).
type FindingsAndVariants struct {
	Findings   []string          `json:"findings"`
	Variants   []PromptVariant   `json:"variants"`
	Params     GenerationParams  `json:"generation_params"`
	Why        string            `json:"why,omitempty"` // set when fewer than N variants were produced
}

// SourceTraces is the source_traces.json artifact (spec.md §3, §4.3).
type SourceTraces struct {
	CursorStart   time.Time `json:"cursor_start"`
	CursorEnd     time.Time `json:"cursor_end"`
	NewTraceCount int       `json:"new_trace_count"`
	Traces        []Trace   `json:"traces"`
	AdHocCount    int       `json:"ad_hoc_count"`
	CappedCount   int       `json:"capped_count,omitempty"` // fetched traces dropped by the per-tick soft cap, left for the next tick
}

// MetricDelta is one metric's baseline-vs-candidate comparison.
type MetricDelta struct {
	Metric    string  `json:"metric"`
	Baseline  float64 `json:"baseline"`
	Candidate float64 `json:"candidate"`
	Delta     float64 `json:"delta"`
}

// PromotionDecision is the promotion_decision.json artifact
// (spec.md §3, §4.7).
type PromotionDecision struct {
	Promoted           bool          `json:"promoted"`
	Winner             string        `json:"winner,omitempty"`
	Reason             string        `json:"reason"`
	PriorHash          string        `json:"prior_hash"`
	NewHash            string        `json:"new_hash,omitempty"`
	TestRun            *VariantRun   `json:"test_run,omitempty"`
	TestBaselineRun    *VariantRun   `json:"test_baseline_run,omitempty"`
	TrainRun           *VariantRun   `json:"train_run,omitempty"`
	TrainBaselineRun   *VariantRun   `json:"train_baseline_run,omitempty"`
	TestDeltas         []MetricDelta `json:"test_deltas,omitempty"`
	TrainDeltas        []MetricDelta `json:"train_deltas,omitempty"`
	MinDeltaPrimary      float64     `json:"min_delta_primary"`
	MaxRegressionSecondary float64   `json:"max_regression_secondary"`
	MinDeltaPrimaryTrain   float64   `json:"min_delta_primary_train"`
	DecidedAt          time.Time     `json:"decided_at"`
}

// StatusSnapshot is the status.json artifact: the most recent view for
// the dashboard (spec.md §4.8).
type StatusSnapshot struct {
	Phase              Phase     `json:"phase"`
	Reason             string    `json:"reason,omitempty"`
	UpdatedAt          time.Time `json:"updated_at"`
	NewTraceCount      int       `json:"new_trace_count"`
	PendingTraceCount  int       `json:"pending_trace_count"`
	VariantsSummary    []string  `json:"variants_summary,omitempty"`
	VariantRunsSummary []string  `json:"variant_runs_summary,omitempty"`
	Winner             string    `json:"winner,omitempty"`
	Promoted           bool      `json:"promoted"`
	RunDir             string    `json:"run_dir,omitempty"`
}
