package scorer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tarsyvoice/autotune/pkg/llm"
	"github.com/tarsyvoice/autotune/pkg/models"
)

type judgeVerdict struct {
	Score *float64 `json:"score"`
}

// JudgeScorer asks an LLM to grade the transcript against a rubric and
// returns its score in [0,1]. A malformed or non-JSON response (including
// one with no "score" key) is reported as models.NotReached with
// Malformed set, per spec.md §4.6; a failed judge call is reported as
// models.NotReached without Malformed. Neither aborts the evaluation,
// only that one cell of the matrix.
type JudgeScorer struct {
	name       string
	client     llm.Client
	judgeModel string
	rubric     string
}

// NewJudgeScorer builds a Scorer named name that asks judgeModel to
// grade a transcript against rubric, a short natural-language
// description of what "1.0" and "0.0" mean for this metric.
func NewJudgeScorer(name string, client llm.Client, judgeModel, rubric string) *JudgeScorer {
	return &JudgeScorer{name: name, client: client, judgeModel: judgeModel, rubric: rubric}
}

func (s *JudgeScorer) Name() string { return s.name }

func (s *JudgeScorer) Score(ctx context.Context, row models.DatasetRow, transcript []models.TurnRecord, _ int) models.ScorerResult {
	out, err := s.client.Generate(ctx, llm.GenerateInput{
		Model:       s.judgeModel,
		System:      s.systemPrompt(),
		Temperature: 0,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: s.renderCase(row, transcript)},
		},
	})
	if err != nil {
		return models.ScorerResult{Name: s.name, Value: models.NotReached}
	}

	var verdict judgeVerdict
	if err := json.Unmarshal([]byte(strings.TrimSpace(out.Text)), &verdict); err != nil || verdict.Score == nil {
		return models.ScorerResult{Name: s.name, Value: models.NotReached, Malformed: true}
	}
	if *verdict.Score < 0 || *verdict.Score > 1 {
		return models.ScorerResult{Name: s.name, Value: models.NotReached, Malformed: true}
	}
	return models.ScorerResult{Name: s.name, Value: *verdict.Score}
}

func (s *JudgeScorer) systemPrompt() string {
	return fmt.Sprintf(`You grade one simulated voice-agent transcript against this rubric:
%s
Respond with a single JSON object and nothing else, of the shape: {"score": <float between 0 and 1>}`, s.rubric)
}

func (s *JudgeScorer) renderCase(row models.DatasetRow, transcript []models.TurnRecord) string {
	var b strings.Builder
	if row.Expected != "" {
		fmt.Fprintf(&b, "Expected outcome: %s\n\n", row.Expected)
	}
	b.WriteString("Transcript:\n")
	for _, turn := range transcript {
		fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Content)
	}
	return b.String()
}
