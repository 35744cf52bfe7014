// Package scorer implements the Scorer Suite: deterministic
// pattern-based scorers and LLM-judge scorers that turn one simulated
// transcript into a named set of scalar results (spec.md §4.5, §4.6).
package scorer

import (
	"context"

	"github.com/tarsyvoice/autotune/pkg/models"
)

// Scorer produces one named ScorerResult for a simulated case. ctx
// carries the case's deadline and cancellation signal; an LLM-judge
// scorer must honor it the same way the simulator does.
type Scorer interface {
	Name() string
	Score(ctx context.Context, row models.DatasetRow, transcript []models.TurnRecord, turnCount int) models.ScorerResult
}
