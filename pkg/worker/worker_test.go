package worker_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsyvoice/autotune/pkg/config"
	"github.com/tarsyvoice/autotune/pkg/evaluator"
	"github.com/tarsyvoice/autotune/pkg/llm"
	"github.com/tarsyvoice/autotune/pkg/metrics"
	"github.com/tarsyvoice/autotune/pkg/models"
	"github.com/tarsyvoice/autotune/pkg/store"
	"github.com/tarsyvoice/autotune/pkg/worker"
)

type memLoopState struct {
	mu    sync.Mutex
	state models.LoopState
	set   bool
}

func (m *memLoopState) Get(ctx context.Context) (models.LoopState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.set {
		return models.LoopState{}, store.ErrNoLoopState
	}
	return m.state, nil
}

func (m *memLoopState) Upsert(ctx context.Context, s models.LoopState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
	m.set = true
	return nil
}

type fakeTraces struct {
	traces      []models.Trace
	nextCursor  time.Time
	promptText  string
	promptHash  string
}

func (f *fakeTraces) FetchSince(ctx context.Context, experiment string, cursor time.Time) ([]models.Trace, time.Time, int, error) {
	return f.traces, f.nextCursor, 0, nil
}

func (f *fakeTraces) FetchCurrentPrompt(ctx context.Context) (string, string, error) {
	return f.promptText, f.promptHash, nil
}

type fakeDatasets struct {
	dataset models.Dataset
}

func (f *fakeDatasets) Load(ctx context.Context, name, version string) (models.Dataset, error) {
	return f.dataset, nil
}

type fakePublisher struct {
	published string
}

func (f *fakePublisher) PublishPrompt(ctx context.Context, promptText, promptHash string) error {
	f.published = promptHash
	return nil
}

type fakeCaseEvaluator struct {
	runs []models.VariantRun
}

func (f *fakeCaseEvaluator) EvaluateAll(ctx context.Context, specs []evaluator.VariantSpec, split models.Split, datasetRef, experimentRef string, rows []models.DatasetRow, turnLimit int) ([]models.VariantRun, error) {
	out := make([]models.VariantRun, 0, len(specs))
	for _, spec := range specs {
		run := f.lookup(spec.Name)
		run.VariantName = spec.Name
		run.Split = split
		out = append(out, run)
	}
	return out, nil
}

func (f *fakeCaseEvaluator) lookup(name string) models.VariantRun {
	for _, r := range f.runs {
		if r.VariantName == name {
			return r
		}
	}
	return models.VariantRun{Metrics: map[string]float64{}}
}

type fakeLLM struct{}

func (f *fakeLLM) Generate(ctx context.Context, in llm.GenerateInput) (llm.GenerateOutput, error) {
	return llm.GenerateOutput{Text: `[{"name":"v1","text":"Be more concise.","rationale":"shorter"}]`}, nil
}

func testConfig(t *testing.T, runsDir string) config.Config {
	t.Helper()
	return config.Config{
		Project:            "voice-agent",
		DatasetName:        "calls",
		DatasetVersion:     "v1",
		JudgeModel:         "claude-opus-4-6",
		AgentLLM:           "claude-opus-4-6",
		MinBatch:           2,
		TurnLimit:          10,
		VariantCount:       1,
		ProposerMaxRetries: 1,
		MaxLLMCallsPerTick: 200,
		RunsDir:            runsDir,
		StatusFile:         runsDir + "/status.json",
		Thresholds: config.Thresholds{
			MinDeltaPrimary:        0.02,
			MaxRegressionSecondary: 0.01,
			MinDeltaPrimaryTrain:   0.01,
			PrimaryMetric:          "task_success",
			SecondaryMetric:        "emergency_services_when_needed",
		},
	}
}

func validTrace(caseID string) models.Trace {
	return models.Trace{
		TraceID:      "trace-" + caseID,
		ExperimentID: "exp-1",
		CreatedAt:    time.Now(),
		InputCaseID:  caseID,
		Turns:        []models.TurnRecord{{Role: models.RoleUser, Content: "hi"}},
		Metrics:      map[string]float64{"task_success": 0.5},
	}
}

func testDataset() models.Dataset {
	return models.Dataset{
		Name:    "calls",
		Version: "v1",
		Rows: []models.DatasetRow{
			{CaseID: "c1", Input: models.DatasetRowInput{SimulatedUser: models.SimulatedUserProfile{Text: "a caller"}}},
			{CaseID: "c2", Input: models.DatasetRowInput{SimulatedUser: models.SimulatedUserProfile{Text: "a caller"}}, Metadata: map[string]any{"split": "train"}},
		},
	}
}

func TestTick_NotEnoughTracesWaits(t *testing.T) {
	runsDir := t.TempDir()
	loopState := &memLoopState{}
	traces := &fakeTraces{traces: []models.Trace{validTrace("c1")}}
	datasets := &fakeDatasets{dataset: testDataset()}
	runStore := store.NewRunStore(runsDir, runsDir+"/status.json")

	w := worker.New(testConfig(t, runsDir), loopState, runStore, traces, datasets, &fakePublisher{}, func(llm.Client) worker.CaseEvaluator {
		return &fakeCaseEvaluator{}
	})

	out, err := w.Tick(context.Background(), &fakeLLM{})
	require.NoError(t, err)
	assert.Equal(t, worker.Waited, out.Outcome)
	assert.Equal(t, models.PhaseWaiting, out.Phase)
}

func TestTick_FullCyclePromotesWinningVariant(t *testing.T) {
	runsDir := t.TempDir()
	loopState := &memLoopState{}
	traces := &fakeTraces{
		traces:     []models.Trace{validTrace("c1"), validTrace("c2")},
		promptText: "You are a helpful voice agent.",
		promptHash: "hash-0",
	}
	datasets := &fakeDatasets{dataset: testDataset()}
	runStore := store.NewRunStore(runsDir, runsDir+"/status.json")

	winningRuns := []models.VariantRun{
		{VariantName: "baseline", Metrics: map[string]float64{"task_success": 0.70, "emergency_services_when_needed": 0.05}, CaseCount: 1},
		{VariantName: "v1", Metrics: map[string]float64{"task_success": 0.85, "emergency_services_when_needed": 0.05}, CaseCount: 1},
	}
	evalFactory := func(llm.Client) worker.CaseEvaluator { return &fakeCaseEvaluator{runs: winningRuns} }
	publisher := &fakePublisher{}

	cfg := testConfig(t, runsDir)
	cfg.UpdateLivePrompt = true
	w := worker.New(cfg, loopState, runStore, traces, datasets, publisher, evalFactory)

	ctx := context.Background()
	fakeClient := &fakeLLM{}

	// IDLE -> SNAPSHOT_BUILT
	out, err := w.Tick(ctx, fakeClient)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseSnapshotBuilt, out.Phase)

	// SNAPSHOT_BUILT -> STRATEGIES_GENERATED
	out, err = w.Tick(ctx, fakeClient)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseStrategiesGenerated, out.Phase)

	// STRATEGIES_GENERATED -> EVAL_TEST (a variant wins on test)
	out, err = w.Tick(ctx, fakeClient)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseEvalTest, out.Phase)

	// EVAL_TEST -> EVAL_TRAIN
	out, err = w.Tick(ctx, fakeClient)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseEvalTrain, out.Phase)

	// EVAL_TRAIN -> PROMOTED
	out, err = w.Tick(ctx, fakeClient)
	require.NoError(t, err)
	assert.Equal(t, models.PhasePromoted, out.Phase)
	assert.NotEmpty(t, publisher.published)

	var status models.StatusSnapshot
	require.NoError(t, runStore.ReadStatus(&status))
	assert.True(t, status.Promoted)
	assert.Equal(t, "v1", status.Winner)
	assert.NotEmpty(t, status.VariantsSummary)
	assert.NotEmpty(t, status.VariantRunsSummary)

	// PROMOTED -> CYCLE_COMPLETE
	out, err = w.Tick(ctx, fakeClient)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseCycleComplete, out.Phase)
}

func TestTick_CrashMidRunResumesFromPersistedPhase(t *testing.T) {
	runsDir := t.TempDir()
	loopState := &memLoopState{}
	traces := &fakeTraces{traces: []models.Trace{validTrace("c1"), validTrace("c2")}, promptText: "base prompt", promptHash: "hash-0"}
	datasets := &fakeDatasets{dataset: testDataset()}
	runStore := store.NewRunStore(runsDir, runsDir+"/status.json")
	evalFactory := func(llm.Client) worker.CaseEvaluator {
		return &fakeCaseEvaluator{runs: []models.VariantRun{
			{VariantName: "baseline", Metrics: map[string]float64{"task_success": 0.5}, CaseCount: 1},
		}}
	}

	w1 := worker.New(testConfig(t, runsDir), loopState, runStore, traces, datasets, &fakePublisher{}, evalFactory)
	ctx := context.Background()

	out, err := w1.Tick(ctx, &fakeLLM{})
	require.NoError(t, err)
	require.Equal(t, models.PhaseSnapshotBuilt, out.Phase)

	// Simulate a crash: build a brand-new Worker sharing the same durable
	// loopState and runStore, and confirm it resumes from SNAPSHOT_BUILT
	// rather than starting a new cycle from IDLE.
	w2 := worker.New(testConfig(t, runsDir), loopState, runStore, traces, datasets, &fakePublisher{}, evalFactory)
	out, err = w2.Tick(ctx, &fakeLLM{})
	require.NoError(t, err)
	assert.Equal(t, models.PhaseStrategiesGenerated, out.Phase)
}

func TestTick_RecordsMetricsWhenRegistryAttached(t *testing.T) {
	runsDir := t.TempDir()
	loopState := &memLoopState{}
	traces := &fakeTraces{traces: []models.Trace{validTrace("c1")}}
	datasets := &fakeDatasets{dataset: testDataset()}
	runStore := store.NewRunStore(runsDir, runsDir+"/status.json")
	reg := metrics.New()

	w := worker.New(testConfig(t, runsDir), loopState, runStore, traces, datasets, &fakePublisher{}, func(llm.Client) worker.CaseEvaluator {
		return &fakeCaseEvaluator{}
	}).WithMetrics(reg)

	_, err := w.Tick(context.Background(), &fakeLLM{})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, req)
	body := rec.Body.String()

	assert.Contains(t, body, `autotune_tick_outcomes_total{outcome="waited"} 1`)
	assert.Contains(t, body, `autotune_loop_phase{phase="WAITING"} 1`)
}
