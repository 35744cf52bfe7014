// Package evaluator runs a candidate system prompt against a dataset
// split, simulating every case with bounded concurrency and scoring
// the resulting transcripts.
package evaluator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/errgroup"

	"github.com/tarsyvoice/autotune/pkg/models"
	"github.com/tarsyvoice/autotune/pkg/scorer"
)

// Evaluator runs VariantRuns for one or more prompt variants over a
// dataset split.
type Evaluator struct {
	simulator       Simulator
	scorers         []scorer.Scorer
	caseConcurrency int
	caseTimeout     time.Duration
}

// New builds an Evaluator. caseConcurrency bounds how many cases of a
// single variant run simultaneously (spec.md §4.5 default ≤8).
func New(simulator Simulator, scorers []scorer.Scorer, caseConcurrency int, caseTimeout time.Duration) *Evaluator {
	return &Evaluator{
		simulator:       simulator,
		scorers:         scorers,
		caseConcurrency: caseConcurrency,
		caseTimeout:     caseTimeout,
	}
}

// VariantSpec names one prompt variant to evaluate.
type VariantSpec struct {
	Name string
	Text string
}

// EvaluateVariant runs one prompt variant over every row in rows,
// bounding per-case concurrency with an ants pool, then aggregates the
// per-case results into a VariantRun. Results are collected into a
// case-id-sorted map before aggregation so the output does not depend
// on completion order (spec.md §4.5 "Ordering").
func (e *Evaluator) EvaluateVariant(ctx context.Context, spec VariantSpec, split models.Split, datasetRef, experimentRef string, rows []models.DatasetRow, turnLimit int) (models.VariantRun, error) {
	started := time.Now()

	pool, err := ants.NewPool(e.caseConcurrency)
	if err != nil {
		return models.VariantRun{}, fmt.Errorf("create case pool: %w", err)
	}
	defer pool.Release()

	results := make(map[string]models.CaseResult, len(rows))
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(len(rows))

	for _, row := range rows {
		row := row
		submitErr := pool.Submit(func() {
			defer wg.Done()
			result := e.runCase(ctx, spec, row, turnLimit)
			mu.Lock()
			results[row.CaseID] = result
			mu.Unlock()
		})
		if submitErr != nil {
			wg.Done()
		}
	}
	wg.Wait()

	return aggregate(spec.Name, split, datasetRef, experimentRef, started, results), nil
}

// EvaluateAll runs spec across every variant (including the baseline)
// concurrently via errgroup, each internally bounded by its own
// per-case pool.
func (e *Evaluator) EvaluateAll(ctx context.Context, specs []VariantSpec, split models.Split, datasetRef, experimentRef string, rows []models.DatasetRow, turnLimit int) ([]models.VariantRun, error) {
	runs := make([]models.VariantRun, len(specs))

	g, gctx := errgroup.WithContext(ctx)
	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			run, err := e.EvaluateVariant(gctx, spec, split, datasetRef, experimentRef, rows, turnLimit)
			if err != nil {
				return fmt.Errorf("evaluate variant %s: %w", spec.Name, err)
			}
			runs[i] = run
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return runs, nil
}

func (e *Evaluator) runCase(ctx context.Context, spec VariantSpec, row models.DatasetRow, turnLimit int) models.CaseResult {
	caseCtx, cancel := context.WithTimeout(ctx, e.caseTimeout)
	defer cancel()

	outcome, err := e.simulator.Simulate(caseCtx, spec.Text, row, turnLimit)
	result := models.CaseResult{
		CaseID:     row.CaseID,
		Transcript: outcome.Transcript,
		TurnCount:  outcome.TurnCount,
		TimedOut:   outcome.TimedOut,
		Scores:     make(map[string]models.ScorerResult, len(e.scorers)),
	}
	if err != nil {
		result.Error = err.Error()
	}

	for _, s := range e.scorers {
		result.Scores[s.Name()] = s.Score(caseCtx, row, outcome.Transcript, outcome.TurnCount)
	}
	return result
}

func aggregate(variantName string, split models.Split, datasetRef, experimentRef string, started time.Time, results map[string]models.CaseResult) models.VariantRun {
	caseIDs := make([]string, 0, len(results))
	for id := range results {
		caseIDs = append(caseIDs, id)
	}
	sort.Strings(caseIDs)

	perCase := make(map[string]map[string]float64, len(caseIDs))
	sums := make(map[string]float64)
	reachCounts := make(map[string]int)
	totalTurns := 0
	malformed := 0

	for _, id := range caseIDs {
		cr := results[id]
		totalTurns += cr.TurnCount

		scores := make(map[string]float64, len(cr.Scores))
		for name, sr := range cr.Scores {
			scores[name] = sr.Value
			if sr.Malformed {
				malformed++
			}
			if _, ok := sums[name]; !ok {
				sums[name] = 0
			}
			if sr.Reached() {
				sums[name] += sr.Value
				reachCounts[name]++
			}
		}
		perCase[id] = scores
	}

	metrics := make(map[string]float64, len(sums))
	for name, sum := range sums {
		if reachCounts[name] > 0 {
			metrics[name] = sum / float64(reachCounts[name])
		} else {
			metrics[name] = models.NotReached
		}
		metrics[name+"_reach_rate"] = float64(reachCounts[name]) / float64(len(caseIDs))
	}

	avgTurns := 0.0
	if len(caseIDs) > 0 {
		avgTurns = float64(totalTurns) / float64(len(caseIDs))
	}

	return models.VariantRun{
		VariantName:         variantName,
		Split:               split,
		DatasetRef:          datasetRef,
		ExperimentRef:       experimentRef,
		PerCase:             perCase,
		Metrics:             metrics,
		AvgTurnCount:        avgTurns,
		MalformedJudgeCount: malformed,
		CaseCount:           len(caseIDs),
		StartedAt:           started,
		FinishedAt:          time.Now(),
	}
}
