package worker

import (
	"context"
	"time"

	"github.com/tarsyvoice/autotune/pkg/evaluator"
	"github.com/tarsyvoice/autotune/pkg/llm"
	"github.com/tarsyvoice/autotune/pkg/models"
)

// TraceSource is the subset of tracestore.Client the worker depends
// on, named here so tests can substitute a fake without standing up
// an HTTP server.
type TraceSource interface {
	FetchSince(ctx context.Context, experiment string, cursor time.Time) (traces []models.Trace, nextCursor time.Time, cappedCount int, err error)
	FetchCurrentPrompt(ctx context.Context) (text, hash string, err error)
}

// DatasetSource is the subset of datasetstore.Client the worker
// depends on.
type DatasetSource interface {
	Load(ctx context.Context, name, version string) (models.Dataset, error)
}

// CaseEvaluator is the subset of evaluator.Evaluator the worker
// depends on.
type CaseEvaluator interface {
	EvaluateAll(ctx context.Context, specs []evaluator.VariantSpec, split models.Split, datasetRef, experimentRef string, rows []models.DatasetRow, turnLimit int) ([]models.VariantRun, error)
}

// Publisher is the subset of tracestore.Client used to publish a
// promoted prompt; re-declared here (rather than imported from
// pkg/promotion) so the worker depends on it directly when assembling
// a promotion.Candidate list.
type Publisher interface {
	PublishPrompt(ctx context.Context, promptText, promptHash string) error
}

// GenClient is the llm.Client used for judge summaries and variant
// generation.
type GenClient = llm.Client
