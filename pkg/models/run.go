package models

import "time"

// NotReached is the sentinel value for a scorer that could not be
// evaluated for a case (spec.md §3 invariant: scorer outputs are in
// [0,1] for binary/fraction metrics, ≥0 for counts; "not reached"
// counts are encoded as -1).
const NotReached = -1.0

// ScorerResult is one scorer's output for one case.
type ScorerResult struct {
	Name      string  `json:"name"`
	Value     float64 `json:"value"`
	Malformed bool    `json:"malformed,omitempty"` // true when an LLM-judge scorer returned non-JSON / schema-miss
}

// Reached reports whether the scorer produced a usable value.
func (r ScorerResult) Reached() bool { return r.Value != NotReached }

// CaseResult is the full set of scorer outputs for one case, plus the
// simulated transcript that produced them.
type CaseResult struct {
	CaseID       string                  `json:"case_id"`
	Scores       map[string]ScorerResult `json:"scores"`
	Transcript   []TurnRecord            `json:"transcript"`
	TurnCount    int                     `json:"turn_count"`
	TimedOut     bool                    `json:"timed_out,omitempty"`
	Error        string                  `json:"error,omitempty"`
}

// MalformedJudgeEvent records one malformed LLM-judge response
// (spec.md §4.6, §7).
type MalformedJudgeEvent struct {
	CaseID     string    `json:"case_id"`
	ScorerName string    `json:"scorer_name"`
	RawOutput  string    `json:"raw_output"`
	OccurredAt time.Time `json:"occurred_at"`
}

// VariantRun is one evaluation of a single prompt variant against a
// single dataset split (spec.md §3).
type VariantRun struct {
	VariantName         string                          `json:"variant_name"`
	Split               Split                           `json:"split"`
	DatasetRef          string                           `json:"dataset_ref"`
	PerCase             map[string]map[string]float64    `json:"per_case"` // case_id -> scorer -> value
	Metrics             map[string]float64               `json:"metrics"`  // aggregate scorer -> value
	AvgTurnCount         float64                          `json:"avg_turn_count"`
	ExperimentRef        string                           `json:"experiment_ref"`
	StartedAt            time.Time                        `json:"started_at"`
	FinishedAt            time.Time                        `json:"finished_at"`
	MalformedJudgeCount   int                              `json:"malformed_judge_count"`
	CaseCount             int                              `json:"case_count"`
}

// RunKey returns the (variant_name, split) identity used to enforce
// spec.md §3's "no two VariantRuns share (variant_name, split, run_dir)"
// invariant within one run directory.
func (r *VariantRun) RunKey() string { return string(r.Split) + "/" + r.VariantName }
