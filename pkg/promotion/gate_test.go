package promotion_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsyvoice/autotune/pkg/config"
	"github.com/tarsyvoice/autotune/pkg/models"
	"github.com/tarsyvoice/autotune/pkg/promotion"
)

type fakePublisher struct {
	err       error
	published string
}

func (f *fakePublisher) PublishPrompt(ctx context.Context, promptText, promptHash string) error {
	if f.err != nil {
		return f.err
	}
	f.published = promptHash
	return nil
}

func thresholds() config.Thresholds {
	return config.Thresholds{
		MinDeltaPrimary:        0.02,
		MaxRegressionSecondary: 0.01,
		MinDeltaPrimaryTrain:   0.01,
		PrimaryMetric:          "task_success",
		SecondaryMetric:        "emergency_services_when_needed",
		TieBreakMetric:         "deescalation_phrase_turns_to_match",
	}
}

func run(primary, secondary float64, caseCount int) models.VariantRun {
	return models.VariantRun{
		Metrics:   map[string]float64{"task_success": primary, "emergency_services_when_needed": secondary},
		CaseCount: caseCount,
	}
}

func runWithTieBreak(primary, secondary, turnsToMatch float64, caseCount int) models.VariantRun {
	r := run(primary, secondary, caseCount)
	r.Metrics["deescalation_phrase_turns_to_match"] = turnsToMatch
	return r
}

func TestDecide_PromotesWhenBothGatesPass(t *testing.T) {
	baseline := run(0.70, 0.05, 50)
	baselineTrain := run(0.70, 0.05, 200)
	candidate := promotion.Candidate{
		Name:       "v1",
		PromptText: "Be concise.",
		PromptHash: "hash-v1",
		TestRun:    run(0.80, 0.05, 50),
		TrainRun:   run(0.78, 0.05, 200),
	}

	pub := &fakePublisher{}
	decision := promotion.Decide(context.Background(), pub, "hash-0", baseline, baselineTrain, []promotion.Candidate{candidate}, thresholds(), true)

	assert.True(t, decision.Promoted)
	assert.Equal(t, "v1", decision.Winner)
	assert.Equal(t, "hash-v1", decision.NewHash)
	assert.Equal(t, "hash-v1", pub.published)
	require.NotNil(t, decision.TestRun)
	require.NotNil(t, decision.TrainRun)
}

func TestDecide_RejectsWhenPrimaryDeltaTooSmall(t *testing.T) {
	baseline := run(0.70, 0.05, 50)
	baselineTrain := run(0.70, 0.05, 200)
	candidate := promotion.Candidate{
		Name:     "v1",
		TestRun:  run(0.705, 0.05, 50), // delta 0.005 < 0.02
		TrainRun: run(0.80, 0.05, 200),
	}

	decision := promotion.Decide(context.Background(), &fakePublisher{}, "hash-0", baseline, baselineTrain, []promotion.Candidate{candidate}, thresholds(), true)

	assert.False(t, decision.Promoted)
	assert.Empty(t, decision.Winner)
	assert.Contains(t, decision.Reason, "no candidate met the test-split threshold")
}

func TestDecide_RejectsWhenSecondaryRegressesTooMuch(t *testing.T) {
	baseline := run(0.70, 0.80, 50)
	baselineTrain := run(0.70, 0.80, 200)
	candidate := promotion.Candidate{
		Name:     "v1",
		TestRun:  run(0.85, 0.60, 50), // secondary (higher-is-better) drops by 0.20 > 0.01
		TrainRun: run(0.85, 0.60, 200),
	}

	decision := promotion.Decide(context.Background(), &fakePublisher{}, "hash-0", baseline, baselineTrain, []promotion.Candidate{candidate}, thresholds(), true)

	assert.False(t, decision.Promoted)
}

func TestDecide_FailsTrainConfirmationAfterTestWin(t *testing.T) {
	baseline := run(0.70, 0.05, 50)
	baselineTrain := run(0.70, 0.05, 200)
	candidate := promotion.Candidate{
		Name:     "v1",
		TestRun:  run(0.80, 0.05, 50),
		TrainRun: run(0.705, 0.05, 200), // train delta 0.005 < 0.01
	}

	decision := promotion.Decide(context.Background(), &fakePublisher{}, "hash-0", baseline, baselineTrain, []promotion.Candidate{candidate}, thresholds(), true)

	assert.False(t, decision.Promoted)
	assert.Equal(t, "v1", decision.Winner)
	assert.Contains(t, decision.Reason, "failed train-split confirmation")
}

func TestDecide_PicksBestOfMultipleTestWinners(t *testing.T) {
	baseline := run(0.70, 0.05, 50)
	baselineTrain := run(0.70, 0.05, 200)
	candidates := []promotion.Candidate{
		{Name: "v1", PromptHash: "h1", TestRun: run(0.75, 0.05, 50), TrainRun: run(0.75, 0.05, 200)},
		{Name: "v2", PromptHash: "h2", TestRun: run(0.90, 0.05, 50), TrainRun: run(0.90, 0.05, 200)},
	}

	decision := promotion.Decide(context.Background(), &fakePublisher{}, "hash-0", baseline, baselineTrain, candidates, thresholds(), true)

	assert.True(t, decision.Promoted)
	assert.Equal(t, "v2", decision.Winner)
}

func TestDecide_TiedOnPrimaryPicksByLowerTurnsToMatch(t *testing.T) {
	baseline := run(0.70, 0.05, 50)
	baselineTrain := run(0.70, 0.05, 200)
	candidates := []promotion.Candidate{
		{Name: "v1", PromptHash: "h1", TestRun: runWithTieBreak(0.85, 0.05, 6, 50), TrainRun: runWithTieBreak(0.85, 0.05, 6, 200)},
		{Name: "v2", PromptHash: "h2", TestRun: runWithTieBreak(0.85, 0.05, 3, 50), TrainRun: runWithTieBreak(0.85, 0.05, 3, 200)},
	}

	decision := promotion.Decide(context.Background(), &fakePublisher{}, "hash-0", baseline, baselineTrain, candidates, thresholds(), true)

	assert.True(t, decision.Promoted)
	assert.Equal(t, "v2", decision.Winner)
}

func TestDecide_TiedOnEverythingRetainsBaseline(t *testing.T) {
	baseline := run(0.70, 0.05, 50)
	baselineTrain := run(0.70, 0.05, 200)
	candidates := []promotion.Candidate{
		{Name: "v1", PromptHash: "h1", TestRun: runWithTieBreak(0.85, 0.05, 4, 50), TrainRun: runWithTieBreak(0.85, 0.05, 4, 200)},
		{Name: "v2", PromptHash: "h2", TestRun: runWithTieBreak(0.85, 0.05, 4, 50), TrainRun: runWithTieBreak(0.85, 0.05, 4, 200)},
	}

	decision := promotion.Decide(context.Background(), &fakePublisher{}, "hash-0", baseline, baselineTrain, candidates, thresholds(), true)

	assert.False(t, decision.Promoted)
	assert.Empty(t, decision.Winner)
	assert.Contains(t, decision.Reason, "tied")
}

func TestDecide_MissingTrainSplitBlocksPromotion(t *testing.T) {
	baseline := run(0.70, 0.05, 50)
	candidate := promotion.Candidate{
		Name:    "v1",
		TestRun: run(0.80, 0.05, 50),
		// TrainRun left zero value: CaseCount == 0
	}

	decision := promotion.Decide(context.Background(), &fakePublisher{}, "hash-0", baseline, models.VariantRun{}, []promotion.Candidate{candidate}, thresholds(), true)

	assert.False(t, decision.Promoted)
	assert.Contains(t, decision.Reason, "train split unavailable")
}

func TestDecide_PublishFailureKeepsStateButRecordsReason(t *testing.T) {
	baseline := run(0.70, 0.05, 50)
	baselineTrain := run(0.70, 0.05, 200)
	candidate := promotion.Candidate{
		Name:       "v1",
		PromptHash: "hash-v1",
		TestRun:    run(0.80, 0.05, 50),
		TrainRun:   run(0.78, 0.05, 200),
	}

	pub := &fakePublisher{err: errors.New("connection refused")}
	decision := promotion.Decide(context.Background(), pub, "hash-0", baseline, baselineTrain, []promotion.Candidate{candidate}, thresholds(), true)

	assert.False(t, decision.Promoted)
	assert.Empty(t, decision.NewHash)
	assert.Equal(t, "hash-0", decision.PriorHash)
	assert.Contains(t, decision.Reason, "publish_failed")
}

func TestDecide_SkipsPublishWhenUpdateLivePromptFalse(t *testing.T) {
	baseline := run(0.70, 0.05, 50)
	baselineTrain := run(0.70, 0.05, 200)
	candidate := promotion.Candidate{
		Name:       "v1",
		PromptHash: "hash-v1",
		TestRun:    run(0.80, 0.05, 50),
		TrainRun:   run(0.78, 0.05, 200),
	}

	pub := &fakePublisher{}
	decision := promotion.Decide(context.Background(), pub, "hash-0", baseline, baselineTrain, []promotion.Candidate{candidate}, thresholds(), false)

	assert.True(t, decision.Promoted)
	assert.Empty(t, pub.published)
}
