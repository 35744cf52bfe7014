package scorer

import (
	"context"
	"regexp"

	"github.com/tarsyvoice/autotune/pkg/models"
)

// CompiledPattern holds a pre-compiled regex scored against the agent
// side of a transcript. Unlike a masking pattern (which replaces a
// match) a scoring pattern reports whether, and how soon, it matched.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Description string
}

// NewCompiledPattern compiles pattern under name, returning an error if
// the pattern is not valid regex syntax.
func NewCompiledPattern(name, pattern, description string) (*CompiledPattern, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return &CompiledPattern{Name: name, Regex: re, Description: description}, nil
}

// PatternScorer reports 1.0 if the pattern matches any assistant turn,
// 0.0 otherwise.
type PatternScorer struct {
	pattern *CompiledPattern
}

// NewPatternScorer builds a Scorer that matches pattern against every
// assistant turn in the transcript.
func NewPatternScorer(pattern *CompiledPattern) *PatternScorer {
	return &PatternScorer{pattern: pattern}
}

func (s *PatternScorer) Name() string { return s.pattern.Name }

func (s *PatternScorer) Score(_ context.Context, _ models.DatasetRow, transcript []models.TurnRecord, _ int) models.ScorerResult {
	for _, turn := range transcript {
		if turn.Role != models.RoleAssistant {
			continue
		}
		if s.pattern.Regex.MatchString(turn.Content) {
			return models.ScorerResult{Name: s.pattern.Name, Value: 1.0}
		}
	}
	return models.ScorerResult{Name: s.pattern.Name, Value: 0.0}
}

// TurnsToMatchScorer reports the 1-indexed turn number of the first
// assistant turn matching the pattern, or NotReached if the pattern
// never matched — used for metrics like "turns to escalation".
type TurnsToMatchScorer struct {
	pattern *CompiledPattern
}

// NewTurnsToMatchScorer builds a Scorer measuring how many assistant
// turns elapse before pattern first matches.
func NewTurnsToMatchScorer(pattern *CompiledPattern) *TurnsToMatchScorer {
	return &TurnsToMatchScorer{pattern: pattern}
}

func (s *TurnsToMatchScorer) Name() string { return s.pattern.Name + "_turns_to_match" }

func (s *TurnsToMatchScorer) Score(_ context.Context, _ models.DatasetRow, transcript []models.TurnRecord, _ int) models.ScorerResult {
	assistantTurn := 0
	for _, turn := range transcript {
		if turn.Role != models.RoleAssistant {
			continue
		}
		assistantTurn++
		if s.pattern.Regex.MatchString(turn.Content) {
			return models.ScorerResult{Name: s.Name(), Value: float64(assistantTurn)}
		}
	}
	return models.ScorerResult{Name: s.Name(), Value: models.NotReached}
}

// TurnCountScorer reports the total number of turns the case took,
// independent of any pattern.
type TurnCountScorer struct{}

// NewTurnCountScorer builds a Scorer that just reports turnCount.
func NewTurnCountScorer() *TurnCountScorer { return &TurnCountScorer{} }

func (s *TurnCountScorer) Name() string { return "turn_count" }

func (s *TurnCountScorer) Score(_ context.Context, _ models.DatasetRow, _ []models.TurnRecord, turnCount int) models.ScorerResult {
	return models.ScorerResult{Name: s.Name(), Value: float64(turnCount)}
}
