package models

import "time"

// TurnRecord is one turn of a Trace or simulated transcript.
type TurnRecord struct {
	Role       Role             `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []ToolCallRecord `json:"tool_calls,omitempty"`
	EmittedAt  time.Time        `json:"emitted_at"`
}

// ToolCallRecord is one tool invocation observed during a turn.
type ToolCallRecord struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"` // JSON
	Result    string `json:"result,omitempty"`     // JSON
}

// Trace is one completed multi-turn conversation recorded by the
// external tracing service (spec.md §3). Traces are immutable once
// written; identity is TraceID.
type Trace struct {
	TraceID         string           `json:"trace_id"`
	ExperimentID    string           `json:"experiment_id"`
	CreatedAt       time.Time        `json:"created_at"`
	InputCaseID     string           `json:"input_case_id,omitempty"`
	Turns           []TurnRecord     `json:"turns"`
	ToolCalls       []ToolCallRecord `json:"tool_calls,omitempty"`
	Metrics         map[string]float64 `json:"metrics,omitempty"`
	PromptHash      string           `json:"prompt_hash"`
	NeedsEmergency  *bool            `json:"needs_emergency,omitempty"`
}

// Valid reports whether the trace has the fields required for it to be
// usable by the Trace Snapshot Builder (spec.md §4.3 "drops traces
// missing required fields").
func (t *Trace) Valid() bool {
	return t.TraceID != "" && t.ExperimentID != "" && !t.CreatedAt.IsZero() && len(t.Turns) > 0
}
