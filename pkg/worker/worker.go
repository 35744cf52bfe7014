// Package worker implements the Autotune Worker: the single
// long-running finite state machine that advances one phase per tick,
// persisting every transition before returning so a crash between
// ticks resumes exactly where it left off (spec.md §4.1).
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tarsyvoice/autotune/pkg/config"
	"github.com/tarsyvoice/autotune/pkg/evaluator"
	"github.com/tarsyvoice/autotune/pkg/metrics"
	"github.com/tarsyvoice/autotune/pkg/models"
	"github.com/tarsyvoice/autotune/pkg/proposer"
	"github.com/tarsyvoice/autotune/pkg/promotion"
	"github.com/tarsyvoice/autotune/pkg/snapshot"
	"github.com/tarsyvoice/autotune/pkg/store"
)

// allPhases is the fixed label set metrics.Registry.ObservePhase zeroes
// on every tick, so a phase the loop just left reads 0 rather than
// lingering at its last observed value.
var allPhases = []string{
	string(models.PhaseIdle), string(models.PhasePolling), string(models.PhaseWaiting),
	string(models.PhaseSnapshotBuilt), string(models.PhaseStrategiesGenerated),
	string(models.PhaseEvalTest), string(models.PhaseEvalTrain), string(models.PhasePromoted),
	string(models.PhaseCycleComplete), string(models.PhaseErrored), string(models.PhaseCancelled),
}

// Outcome classifies what a single Tick call accomplished.
type Outcome int

const (
	// Progressed means the worker moved to a new phase this tick.
	Progressed Outcome = iota
	// Waited means the worker stayed in WAITING (not enough new traces,
	// or the per-tick LLM budget was exhausted).
	Waited
	// Errored means a recoverable error left LoopState unchanged.
	Errored
)

// TickOutcome reports the result of one Tick call.
type TickOutcome struct {
	Outcome Outcome
	Phase   models.Phase
	Reason  string
}

// LoopStateStore is the subset of store.LoopStateRepo the worker uses.
type LoopStateStore interface {
	Get(ctx context.Context) (models.LoopState, error)
	Upsert(ctx context.Context, s models.LoopState) error
}

// Worker advances the Autotune Control Loop one phase per Tick call.
type Worker struct {
	cfg        config.Config
	loopState  LoopStateStore
	runStore   *store.RunStore
	traces     TraceSource
	datasets   DatasetSource
	publisher  Publisher
	evaluators func(llmClient GenClient) CaseEvaluator
	genModel   string
	judgeModel string
	metrics    *metrics.Registry
}

// New builds a Worker. evalFactory constructs a CaseEvaluator bound to
// the per-tick budgeted LLM client, so the same pool/simulator wiring
// is reused across ticks while the budget resets every call to Tick.
func New(cfg config.Config, loopState LoopStateStore, runStore *store.RunStore, traces TraceSource, datasets DatasetSource, publisher Publisher, evalFactory func(GenClient) CaseEvaluator) *Worker {
	return &Worker{
		cfg:        cfg,
		loopState:  loopState,
		runStore:   runStore,
		traces:     traces,
		datasets:   datasets,
		publisher:  publisher,
		evaluators: evalFactory,
		genModel:   cfg.AgentLLM,
		judgeModel: cfg.JudgeModel,
	}
}

// WithMetrics attaches a metrics.Registry the worker records tick
// duration, outcomes, and promotion results into. Optional: a Worker
// with no registry attached simply skips instrumentation.
func (w *Worker) WithMetrics(reg *metrics.Registry) *Worker {
	w.metrics = reg
	return w
}

// Tick performs at most one phase transition and persists it before
// returning (spec.md §4.1 "at most one state transition per tick").
func (w *Worker) Tick(ctx context.Context, llmClient GenClient) (TickOutcome, error) {
	started := time.Now()
	out, err := w.tick(ctx, llmClient)
	if err != nil {
		out.Outcome = Errored
	}
	if w.metrics != nil {
		w.metrics.TickDuration.WithLabelValues(string(out.Phase)).Observe(time.Since(started).Seconds())
		w.metrics.ObservePhase(allPhases, string(out.Phase))
		switch {
		case err != nil:
			w.metrics.TickOutcomes.WithLabelValues("errored").Inc()
		case out.Outcome == Waited:
			w.metrics.TickOutcomes.WithLabelValues("waited").Inc()
		default:
			w.metrics.TickOutcomes.WithLabelValues("progressed").Inc()
		}
	}
	return out, err
}

func (w *Worker) tick(ctx context.Context, llmClient GenClient) (TickOutcome, error) {
	state, err := w.loopState.Get(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNoLoopState) {
			state = models.LoopState{CurrentPhase: models.PhaseIdle}
		} else {
			return TickOutcome{}, &TransientError{Op: "load loop state", Err: err}
		}
	}

	budgeted := newBudgetedClient(llmClient, w.cfg.MaxLLMCallsPerTick)
	if w.metrics != nil {
		budgeted.onExceeded = func() { w.metrics.RateLimitEvents.Inc() }
		budgeted.onCall = func() { w.metrics.LLMCallsTotal.WithLabelValues(string(state.CurrentPhase)).Inc() }
	}

	switch state.CurrentPhase {
	case models.PhaseIdle, models.PhaseWaiting, models.PhaseCycleComplete, models.PhaseErrored, models.PhaseCancelled:
		return w.poll(ctx, state)
	case models.PhaseSnapshotBuilt:
		return w.generateStrategies(ctx, state, budgeted)
	case models.PhaseStrategiesGenerated:
		return w.evalTest(ctx, state, budgeted)
	case models.PhaseEvalTest:
		return w.evalTrain(ctx, state, budgeted)
	case models.PhaseEvalTrain:
		return w.decidePromotion(ctx, state)
	case models.PhasePromoted:
		return w.transition(ctx, state, models.PhaseCycleComplete, "promotion recorded")
	default:
		return w.transition(ctx, state, models.PhaseIdle, fmt.Sprintf("unrecognized phase %s, resetting", state.CurrentPhase))
	}
}

func (w *Worker) poll(ctx context.Context, state models.LoopState) (TickOutcome, error) {
	traces, nextCursor, cappedCount, err := w.traces.FetchSince(ctx, w.cfg.SourceExperiment, state.LastTraceCursor)
	if err != nil {
		return TickOutcome{}, &TransientError{Op: "fetch traces", Err: err}
	}

	dataset, err := w.datasets.Load(ctx, w.cfg.DatasetName, w.cfg.DatasetVersion)
	if err != nil {
		return TickOutcome{}, &TransientError{Op: "load dataset", Err: err}
	}

	result := snapshot.Build(traces, dataset)

	if !result.MeetsMinBatch(w.cfg.MinBatch) {
		state.LastTraceCursor = nextCursor
		state.PendingTraceCount = result.NewTraceCount
		return w.transition(ctx, state, models.PhaseWaiting, fmt.Sprintf("only %d new traces, below min batch %d", result.NewTraceCount, w.cfg.MinBatch))
	}

	runDir, err := w.runStore.NewRunDir(time.Now())
	if err != nil {
		return TickOutcome{}, &TransientError{Op: "create run dir", Err: err}
	}

	artifact := models.SourceTraces{
		CursorStart:   state.LastTraceCursor,
		CursorEnd:     nextCursor,
		NewTraceCount: result.NewTraceCount,
		Traces:        result.Traces,
		AdHocCount:    result.AdHocCount,
		CappedCount:   cappedCount,
	}
	if err := w.runStore.WriteArtifact(runDir, store.SourceTracesFile, artifact); err != nil {
		return TickOutcome{}, &TransientError{Op: "write source_traces.json", Err: err}
	}

	state.LastTraceCursor = nextCursor
	state.PendingTraceCount = result.NewTraceCount
	state.CurrentRunDir = runDir
	if err := w.writeStatus(state, fmt.Sprintf("snapshot built with %d traces", result.NewTraceCount), statusExtra{}); err != nil {
		return TickOutcome{}, err
	}
	reason := fmt.Sprintf("built snapshot with %d traces (%d ad-hoc)", result.NewTraceCount, result.AdHocCount)
	if cappedCount > 0 {
		reason += fmt.Sprintf(", %d traces deferred to next tick by the per-tick cap", cappedCount)
	}
	return w.transition(ctx, state, models.PhaseSnapshotBuilt, reason)
}

func (w *Worker) generateStrategies(ctx context.Context, state models.LoopState, llmClient GenClient) (TickOutcome, error) {
	var sourceTraces models.SourceTraces
	if err := w.runStore.ReadArtifact(state.CurrentRunDir, store.SourceTracesFile, &sourceTraces); err != nil {
		return TickOutcome{}, &SchemaViolationError{Path: store.SourceTracesFile, Err: err}
	}

	scores := make(map[string]map[string]float64, len(sourceTraces.Traces))
	for _, tr := range sourceTraces.Traces {
		scores[tr.InputCaseID] = tr.Metrics
	}

	summaries, err := proposer.SummarizeAll(ctx, llmClient, w.judgeModel, sourceTraces.Traces, scores)
	var rateLimited *RateLimitedError
	if errors.As(err, &rateLimited) {
		return w.transition(ctx, state, models.PhaseWaiting, rateLimited.Error())
	}
	// Per-case judge failures are aggregated but do not abort the tick
	// (spec.md §7 "Malformed judge output" policy); err here, if any, is
	// a multierror of such failures and is neither returned nor logged:
	// findings are built from the summaries that succeeded.
	findings := proposer.AggregateFindings(summaries, 6)

	currentPromptText, _, err := w.traces.FetchCurrentPrompt(ctx)
	if err != nil {
		return TickOutcome{}, &TransientError{Op: "fetch current prompt", Err: err}
	}
	proposeResult, err := proposer.Propose(ctx, llmClient, w.genModel, currentPromptText, findings, w.cfg.VariantCount, w.cfg.ProposerMaxRetries)
	if errors.As(err, &rateLimited) {
		return w.transition(ctx, state, models.PhaseWaiting, rateLimited.Error())
	}
	if err != nil {
		return TickOutcome{}, &TransientError{Op: "propose variants", Err: err}
	}

	artifact := models.FindingsAndVariants{
		Findings: findings,
		Variants: proposeResult.Variants,
		Params:   proposeResult.Params,
		Why:      proposeResult.Why,
	}
	if err := w.runStore.WriteArtifact(state.CurrentRunDir, store.FindingsAndVariantsFile, artifact); err != nil {
		return TickOutcome{}, &TransientError{Op: "write findings_and_variants.json", Err: err}
	}

	return w.transition(ctx, state, models.PhaseStrategiesGenerated, fmt.Sprintf("proposed %d variants from %d findings", len(proposeResult.Variants), len(findings)))
}

func (w *Worker) evalTest(ctx context.Context, state models.LoopState, llmClient GenClient) (TickOutcome, error) {
	var fv models.FindingsAndVariants
	if err := w.runStore.ReadArtifact(state.CurrentRunDir, store.FindingsAndVariantsFile, &fv); err != nil {
		return TickOutcome{}, &SchemaViolationError{Path: store.FindingsAndVariantsFile, Err: err}
	}

	dataset, err := w.datasets.Load(ctx, w.cfg.DatasetName, w.cfg.DatasetVersion)
	if err != nil {
		return TickOutcome{}, &TransientError{Op: "load dataset", Err: err}
	}
	testRows, _ := splitRows(dataset)
	if len(testRows) == 0 {
		return w.transition(ctx, state, models.PhaseCycleComplete, "no rows in test split; cannot evaluate")
	}

	currentPromptText, _, err := w.traces.FetchCurrentPrompt(ctx)
	if err != nil {
		return TickOutcome{}, &TransientError{Op: "fetch current prompt", Err: err}
	}
	specs := variantSpecs(currentPromptText, fv.Variants)
	caseEval := w.evaluators(llmClient)
	runs, err := caseEval.EvaluateAll(ctx, specs, models.SplitTest, w.cfg.DatasetName+"@"+w.cfg.DatasetVersion, state.CurrentRunDir, testRows, w.cfg.TurnLimit)
	var rateLimited *RateLimitedError
	if errors.As(err, &rateLimited) {
		return w.transition(ctx, state, models.PhaseWaiting, rateLimited.Error())
	}
	if err != nil {
		return TickOutcome{}, &TransientError{Op: "evaluate test split", Err: err}
	}

	if err := w.runStore.WriteArtifact(state.CurrentRunDir, store.TestRunsFile, runs); err != nil {
		return TickOutcome{}, &TransientError{Op: "write test_runs.json", Err: err}
	}

	if !anyVariantWins(runs, w.cfg.Thresholds) {
		decision := models.PromotionDecision{
			Promoted:  false,
			Reason:    "no candidate met the test-split threshold",
			PriorHash: state.PromotedPromptHash,
			DecidedAt: time.Now(),
		}
		if err := w.runStore.WriteArtifact(state.CurrentRunDir, store.PromotionDecisionFile, decision); err != nil {
			return TickOutcome{}, &TransientError{Op: "write promotion_decision.json", Err: err}
		}
		return w.transition(ctx, state, models.PhaseCycleComplete, decision.Reason)
	}

	return w.transition(ctx, state, models.PhaseEvalTest, fmt.Sprintf("evaluated %d variants on test split", len(runs)))
}

func (w *Worker) evalTrain(ctx context.Context, state models.LoopState, llmClient GenClient) (TickOutcome, error) {
	var fv models.FindingsAndVariants
	if err := w.runStore.ReadArtifact(state.CurrentRunDir, store.FindingsAndVariantsFile, &fv); err != nil {
		return TickOutcome{}, &SchemaViolationError{Path: store.FindingsAndVariantsFile, Err: err}
	}

	dataset, err := w.datasets.Load(ctx, w.cfg.DatasetName, w.cfg.DatasetVersion)
	if err != nil {
		return TickOutcome{}, &TransientError{Op: "load dataset", Err: err}
	}
	_, trainRows := splitRows(dataset)
	if len(trainRows) == 0 {
		return w.transition(ctx, state, models.PhaseCycleComplete, "no rows in train split; cannot confirm winner")
	}

	currentPromptText, _, err := w.traces.FetchCurrentPrompt(ctx)
	if err != nil {
		return TickOutcome{}, &TransientError{Op: "fetch current prompt", Err: err}
	}
	specs := variantSpecs(currentPromptText, fv.Variants)
	caseEval := w.evaluators(llmClient)
	runs, err := caseEval.EvaluateAll(ctx, specs, models.SplitTrain, w.cfg.DatasetName+"@"+w.cfg.DatasetVersion, state.CurrentRunDir, trainRows, w.cfg.TurnLimit)
	var rateLimited *RateLimitedError
	if errors.As(err, &rateLimited) {
		return w.transition(ctx, state, models.PhaseWaiting, rateLimited.Error())
	}
	if err != nil {
		return TickOutcome{}, &TransientError{Op: "evaluate train split", Err: err}
	}

	if err := w.runStore.WriteArtifact(state.CurrentRunDir, store.TrainRunsFile, runs); err != nil {
		return TickOutcome{}, &TransientError{Op: "write train_runs.json", Err: err}
	}

	return w.transition(ctx, state, models.PhaseEvalTrain, fmt.Sprintf("evaluated %d variants on train split", len(runs)))
}

func (w *Worker) decidePromotion(ctx context.Context, state models.LoopState) (TickOutcome, error) {
	var fv models.FindingsAndVariants
	if err := w.runStore.ReadArtifact(state.CurrentRunDir, store.FindingsAndVariantsFile, &fv); err != nil {
		return TickOutcome{}, &SchemaViolationError{Path: store.FindingsAndVariantsFile, Err: err}
	}
	var testRuns []models.VariantRun
	if err := w.runStore.ReadArtifact(state.CurrentRunDir, store.TestRunsFile, &testRuns); err != nil {
		return TickOutcome{}, &SchemaViolationError{Path: store.TestRunsFile, Err: err}
	}
	var trainRuns []models.VariantRun
	if err := w.runStore.ReadArtifact(state.CurrentRunDir, store.TrainRunsFile, &trainRuns); err != nil {
		return TickOutcome{}, &SchemaViolationError{Path: store.TrainRunsFile, Err: err}
	}

	baselineTest, candidatesTest := splitBaseline(testRuns)
	baselineTrain, candidatesTrain := splitBaseline(trainRuns)
	trainByName := make(map[string]models.VariantRun, len(candidatesTrain))
	for _, r := range candidatesTrain {
		trainByName[r.VariantName] = r
	}

	byName := make(map[string]models.PromptVariant, len(fv.Variants))
	for _, v := range fv.Variants {
		byName[v.Name] = v
	}

	candidates := make([]promotion.Candidate, 0, len(candidatesTest))
	for _, testRun := range candidatesTest {
		variant := byName[testRun.VariantName]
		candidates = append(candidates, promotion.Candidate{
			Name:       testRun.VariantName,
			PromptText: variant.Text,
			PromptHash: variant.Hash,
			TestRun:    testRun,
			TrainRun:   trainByName[testRun.VariantName],
		})
	}

	decision := promotion.Decide(ctx, w.publisher, state.PromotedPromptHash, baselineTest, baselineTrain, candidates, w.cfg.Thresholds, w.cfg.UpdateLivePrompt)
	if err := w.runStore.WriteArtifact(state.CurrentRunDir, store.PromotionDecisionFile, decision); err != nil {
		return TickOutcome{}, &TransientError{Op: "write promotion_decision.json", Err: err}
	}
	if w.metrics != nil {
		w.metrics.RecordPromotion(decision.Promoted)
	}

	extra := statusExtra{
		Promoted:           decision.Promoted,
		Winner:             decision.Winner,
		VariantsSummary:    variantNames(fv.Variants),
		VariantRunsSummary: variantRunSummaries(testRuns, w.cfg.Thresholds.PrimaryMetric),
	}

	if decision.Promoted {
		state.PromotedPromptHash = decision.NewHash
		if err := w.writeStatus(state, decision.Reason, extra); err != nil {
			return TickOutcome{}, err
		}
		return w.transition(ctx, state, models.PhasePromoted, decision.Reason)
	}

	if err := w.writeStatus(state, decision.Reason, extra); err != nil {
		return TickOutcome{}, err
	}
	return w.transition(ctx, state, models.PhaseCycleComplete, decision.Reason)
}

func variantNames(variants []models.PromptVariant) []string {
	names := make([]string, 0, len(variants))
	for _, v := range variants {
		names = append(names, v.Name)
	}
	return names
}

func variantRunSummaries(runs []models.VariantRun, primaryMetric string) []string {
	summaries := make([]string, 0, len(runs))
	for _, r := range runs {
		summaries = append(summaries, fmt.Sprintf("%s: %s=%.3f", r.VariantName, primaryMetric, r.Metrics[primaryMetric]))
	}
	return summaries
}

func (w *Worker) transition(ctx context.Context, state models.LoopState, next models.Phase, reason string) (TickOutcome, error) {
	state.CurrentPhase = next
	state.UpdatedAt = time.Now()
	if err := w.loopState.Upsert(ctx, state); err != nil {
		return TickOutcome{}, &TransientError{Op: "persist loop state", Err: err}
	}

	outcome := Progressed
	if next == models.PhaseWaiting {
		outcome = Waited
	}
	if next == models.PhaseErrored {
		outcome = Errored
	}
	return TickOutcome{Outcome: outcome, Phase: next, Reason: reason}, nil
}

// statusExtra carries the fields writeStatus can't derive from
// models.LoopState alone — the decision/artifact data only in scope at
// specific call sites. Its zero value is correct for calls (like
// poll's) that have no decision to report yet.
type statusExtra struct {
	Promoted           bool
	Winner             string
	VariantsSummary    []string
	VariantRunsSummary []string
}

func (w *Worker) writeStatus(state models.LoopState, reason string, extra statusExtra) error {
	snap := models.StatusSnapshot{
		Phase:              state.CurrentPhase,
		Reason:             reason,
		UpdatedAt:          time.Now(),
		NewTraceCount:      state.PendingTraceCount,
		PendingTraceCount:  state.PendingTraceCount,
		RunDir:             state.CurrentRunDir,
		Promoted:           extra.Promoted,
		Winner:             extra.Winner,
		VariantsSummary:    extra.VariantsSummary,
		VariantRunsSummary: extra.VariantRunsSummary,
	}
	if err := w.runStore.WriteStatus(snap); err != nil {
		return &TransientError{Op: "write status.json", Err: err}
	}
	return nil
}

func variantSpecs(baselinePromptText string, variants []models.PromptVariant) []evaluator.VariantSpec {
	specs := make([]evaluator.VariantSpec, 0, len(variants)+1)
	specs = append(specs, evaluator.VariantSpec{Name: "baseline", Text: baselinePromptText})
	for _, v := range variants {
		specs = append(specs, evaluator.VariantSpec{Name: v.Name, Text: v.Text})
	}
	return specs
}

func splitBaseline(runs []models.VariantRun) (models.VariantRun, []models.VariantRun) {
	var baseline models.VariantRun
	candidates := make([]models.VariantRun, 0, len(runs))
	for _, r := range runs {
		if r.VariantName == "baseline" {
			baseline = r
			continue
		}
		candidates = append(candidates, r)
	}
	return baseline, candidates
}

func anyVariantWins(runs []models.VariantRun, thresholds config.Thresholds) bool {
	var baseline models.VariantRun
	found := false
	for _, r := range runs {
		if r.VariantName == "baseline" {
			baseline = r
			found = true
			break
		}
	}
	if !found {
		return false
	}
	for _, r := range runs {
		if r.VariantName == "baseline" {
			continue
		}
		primaryDelta := r.Metrics[thresholds.PrimaryMetric] - baseline.Metrics[thresholds.PrimaryMetric]
		secondaryDelta := r.Metrics[thresholds.SecondaryMetric] - baseline.Metrics[thresholds.SecondaryMetric]
		if primaryDelta >= thresholds.MinDeltaPrimary && secondaryDelta >= -thresholds.MaxRegressionSecondary {
			return true
		}
	}
	return false
}

// splitRows partitions a dataset's rows into test and train by the
// "split" key in each row's metadata, defaulting to test when absent
// so a dataset with no explicit split still exercises the faster gate.
func splitRows(dataset models.Dataset) (test, train []models.DatasetRow) {
	for _, row := range dataset.Rows {
		if s, ok := row.Metadata["split"].(string); ok && s == "train" {
			train = append(train, row)
			continue
		}
		test = append(test, row)
	}
	return test, train
}
