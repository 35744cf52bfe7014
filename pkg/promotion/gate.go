// Package promotion implements the Promotion Gate: a pure decision
// procedure comparing baseline and candidate VariantRuns on the test
// split, confirming the best candidate on the train split, and
// publishing the winner's prompt when both gates pass (spec.md §4.7).
package promotion

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/tarsyvoice/autotune/pkg/config"
	"github.com/tarsyvoice/autotune/pkg/models"
)

// Publisher publishes a promoted prompt to the external trace store.
// Satisfied by *tracestore.Client; named as an interface here so the
// gate's decision logic stays pure and testable without an HTTP stub.
type Publisher interface {
	PublishPrompt(ctx context.Context, promptText, promptHash string) error
}

// Candidate is one proposed variant's test and train VariantRuns,
// paired with the prompt text and hash that produced them.
type Candidate struct {
	Name      string
	PromptText string
	PromptHash string
	TestRun   models.VariantRun
	TrainRun  models.VariantRun // zero value if train split was skipped
}

// Decide runs the test-split gate over every candidate, takes the best
// test-winner (ranked by primary metric, then secondary metric, then
// the lower tie-break metric; a tie on all three selects no winner),
// confirms it on the
// train split, and — if both gates pass and updateLivePrompt is true —
// publishes the winning prompt. It always returns a complete decision
// artifact; publish failure does not change the decision's thresholds
// or runs, only its Promoted/Reason fields (spec.md §4.7 "If the
// publication step fails...").
func Decide(ctx context.Context, publisher Publisher, priorHash string, baselineTest, baselineTrain models.VariantRun, candidates []Candidate, thresholds config.Thresholds, updateLivePrompt bool) models.PromotionDecision {
	decision := models.PromotionDecision{
		PriorHash:              priorHash,
		TestBaselineRun:        &baselineTest,
		MinDeltaPrimary:        thresholds.MinDeltaPrimary,
		MaxRegressionSecondary: thresholds.MaxRegressionSecondary,
		MinDeltaPrimaryTrain:   thresholds.MinDeltaPrimaryTrain,
	}

	testWinners := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if passesTestGate(baselineTest, c.TestRun, thresholds) {
			testWinners = append(testWinners, c)
		}
	}
	if len(testWinners) == 0 {
		decision.Reason = "no candidate met the test-split threshold"
		decision.TestDeltas = deltas(baselineTest, bestOrZero(candidates), thresholds)
		decision.DecidedAt = time.Now()
		return decision
	}

	sort.SliceStable(testWinners, func(i, j int) bool {
		return ranksAhead(testWinners[i].TestRun, testWinners[j].TestRun, thresholds)
	})
	if len(testWinners) > 1 && tied(testWinners[0].TestRun, testWinners[1].TestRun, thresholds) {
		decision.Reason = "multiple candidates tied on primary, secondary, and tie-break metrics; baseline retained"
		decision.TestDeltas = deltas(baselineTest, testWinners[0].TestRun, thresholds)
		decision.DecidedAt = time.Now()
		return decision
	}
	winner := testWinners[0]

	decision.Winner = winner.Name
	decision.TestRun = &winner.TestRun
	decision.TestDeltas = deltas(baselineTest, winner.TestRun, thresholds)

	if baselineTrain.CaseCount == 0 || winner.TrainRun.CaseCount == 0 {
		decision.Reason = "train split unavailable; cannot confirm test-split winner"
		decision.DecidedAt = time.Now()
		return decision
	}

	decision.TrainBaselineRun = &baselineTrain
	decision.TrainRun = &winner.TrainRun
	decision.TrainDeltas = deltas(baselineTrain, winner.TrainRun, trainThresholds(thresholds))

	if !passesTrainGate(baselineTrain, winner.TrainRun, thresholds) {
		decision.Reason = fmt.Sprintf("candidate %s won test split but failed train-split confirmation", winner.Name)
		decision.DecidedAt = time.Now()
		return decision
	}

	decision.Promoted = true
	decision.NewHash = winner.PromptHash
	decision.Reason = fmt.Sprintf("candidate %s passed test and train gates", winner.Name)
	decision.DecidedAt = time.Now()

	if !updateLivePrompt {
		return decision
	}
	if err := publisher.PublishPrompt(ctx, winner.PromptText, winner.PromptHash); err != nil {
		decision.Promoted = false
		decision.NewHash = ""
		decision.Reason = fmt.Sprintf("publish_failed: %s", err.Error())
	}
	return decision
}

func passesTestGate(baseline, candidate models.VariantRun, t config.Thresholds) bool {
	primaryDelta := candidate.Metrics[t.PrimaryMetric] - baseline.Metrics[t.PrimaryMetric]
	secondaryDelta := candidate.Metrics[t.SecondaryMetric] - baseline.Metrics[t.SecondaryMetric]
	return primaryDelta >= t.MinDeltaPrimary && secondaryDelta >= -t.MaxRegressionSecondary
}

func passesTrainGate(baseline, candidate models.VariantRun, t config.Thresholds) bool {
	primaryDelta := candidate.Metrics[t.PrimaryMetric] - baseline.Metrics[t.PrimaryMetric]
	secondaryDelta := candidate.Metrics[t.SecondaryMetric] - baseline.Metrics[t.SecondaryMetric]
	return primaryDelta >= t.MinDeltaPrimaryTrain && secondaryDelta >= -t.MaxRegressionSecondary
}

func primaryValue(run models.VariantRun, t config.Thresholds) float64 {
	return run.Metrics[t.PrimaryMetric]
}

// ranksAhead reports whether a outranks b under the winner tie-break
// cascade (spec.md:135): higher primary metric first, then higher
// secondary metric, then lower tie-break metric (e.g. turns to a
// de-escalation phrase, where fewer turns is better).
func ranksAhead(a, b models.VariantRun, t config.Thresholds) bool {
	if ap, bp := a.Metrics[t.PrimaryMetric], b.Metrics[t.PrimaryMetric]; ap != bp {
		return ap > bp
	}
	if as, bs := a.Metrics[t.SecondaryMetric], b.Metrics[t.SecondaryMetric]; as != bs {
		return as > bs
	}
	return a.Metrics[t.TieBreakMetric] < b.Metrics[t.TieBreakMetric]
}

// tied reports whether a and b are indistinguishable across the whole
// tie-break cascade, meaning neither ranks ahead of the other.
func tied(a, b models.VariantRun, t config.Thresholds) bool {
	return !ranksAhead(a, b, t) && !ranksAhead(b, a, t)
}

// trainThresholds reports deltas using the train-specific primary
// threshold so the artifact's TrainDeltas line up with what
// passesTrainGate actually checked.
func trainThresholds(t config.Thresholds) config.Thresholds {
	t.MinDeltaPrimary = t.MinDeltaPrimaryTrain
	return t
}

func deltas(baseline, candidate models.VariantRun, t config.Thresholds) []models.MetricDelta {
	metrics := map[string]bool{t.PrimaryMetric: true, t.SecondaryMetric: true}
	out := make([]models.MetricDelta, 0, len(metrics))
	names := make([]string, 0, len(metrics))
	for m := range metrics {
		names = append(names, m)
	}
	sort.Strings(names)
	for _, m := range names {
		b := baseline.Metrics[m]
		c := candidate.Metrics[m]
		out = append(out, models.MetricDelta{Metric: m, Baseline: b, Candidate: c, Delta: c - b})
	}
	return out
}

func bestOrZero(candidates []Candidate) models.VariantRun {
	if len(candidates) == 0 {
		return models.VariantRun{}
	}
	return candidates[0].TestRun
}
