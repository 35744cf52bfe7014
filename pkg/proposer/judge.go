// Package proposer implements the Strategy Proposer: per-case judge
// summaries aggregated into findings, then N candidate system-prompt
// variants generated against those findings.
package proposer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/tarsyvoice/autotune/pkg/llm"
	"github.com/tarsyvoice/autotune/pkg/models"
)

// CaseSummary is one trace's judge-produced critique.
type CaseSummary struct {
	CaseID     string   `json:"case_id"`
	Worked     []string `json:"worked"`
	Failed     []string `json:"failed"`
	FixSnippet string   `json:"fix_snippet"`
}

const judgeSummarySystemPrompt = `You review one voice-agent conversation transcript and its automated scores.
Respond with a single JSON object and nothing else, of the shape:
{"worked": ["..."], "failed": ["..."], "fix_snippet": "..."}
"worked" and "failed" are short phrases naming concrete agent behaviors.
"fix_snippet" is one sentence suggesting a concrete system-prompt change.`

// SummarizeCase asks the judge model for a structured critique of one
// trace, parsing its JSON response. A response that is not valid JSON
// is returned as an error rather than silently skipped, so the caller
// can aggregate it with multierror instead of losing the case; keys
// missing from a valid JSON object are left at their zero values.
func SummarizeCase(ctx context.Context, client llm.Client, judgeModel string, trace models.Trace, scores map[string]float64) (CaseSummary, error) {
	transcript := renderTranscript(trace)

	out, err := client.Generate(ctx, llm.GenerateInput{
		Model:       judgeModel,
		System:      judgeSummarySystemPrompt,
		Temperature: 0,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: fmt.Sprintf("Transcript:\n%s\n\nScores: %v", transcript, scores)},
		},
	})
	if err != nil {
		return CaseSummary{}, fmt.Errorf("case %s: judge call failed: %w", trace.TraceID, err)
	}

	var summary CaseSummary
	if err := json.Unmarshal([]byte(out.Text), &summary); err != nil {
		return CaseSummary{}, fmt.Errorf("case %s: malformed judge JSON: %w", trace.TraceID, err)
	}
	summary.CaseID = trace.InputCaseID
	return summary, nil
}

// SummarizeAll summarizes every trace, collecting per-case failures into
// a single multierror rather than aborting the batch. Returns whatever
// summaries succeeded alongside the aggregated error (which is nil if
// every case succeeded).
func SummarizeAll(ctx context.Context, client llm.Client, judgeModel string, traces []models.Trace, scoresByCase map[string]map[string]float64) ([]CaseSummary, error) {
	var result *multierror.Error
	summaries := make([]CaseSummary, 0, len(traces))

	for _, tr := range traces {
		summary, err := SummarizeCase(ctx, client, judgeModel, tr, scoresByCase[tr.InputCaseID])
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		summaries = append(summaries, summary)
	}

	return summaries, result.ErrorOrNil()
}

func renderTranscript(trace models.Trace) string {
	out := ""
	for _, turn := range trace.Turns {
		out += fmt.Sprintf("%s: %s\n", turn.Role, turn.Content)
	}
	return out
}
