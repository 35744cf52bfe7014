// Package snapshot builds the Trace Snapshot Builder's view of newly
// fetched traces: drop incomplete traces, dedupe by trace_id, and count
// the traces that do not join to the active dataset by input_case_id as
// ad-hoc. Result.MeetsMinBatch checks the result against the configured
// minimum batch size.
package snapshot

import (
	"sort"

	"github.com/tarsyvoice/autotune/pkg/models"
)

// Result is the joined, deduped view of one tick's new traces.
type Result struct {
	Traces        []models.Trace
	NewTraceCount int
	AdHocCount    int
}

// Build drops traces with missing required fields, dedupes by
// trace_id (keeping the first occurrence in input order), and counts
// traces that do not join to a dataset row as ad-hoc; joined and ad-hoc
// traces stay together in the one Traces slice. The returned
// Traces slice is sorted by TraceID so downstream artifact writes are
// deterministic regardless of fetch order.
func Build(traces []models.Trace, dataset models.Dataset) Result {
	seen := make(map[string]bool, len(traces))
	kept := make([]models.Trace, 0, len(traces))
	adHoc := 0

	for _, tr := range traces {
		if !tr.Valid() {
			continue
		}
		if seen[tr.TraceID] {
			continue
		}
		seen[tr.TraceID] = true

		if tr.InputCaseID == "" {
			adHoc++
		} else if _, ok := dataset.RowByID(tr.InputCaseID); !ok {
			adHoc++
		}

		kept = append(kept, tr)
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].TraceID < kept[j].TraceID })

	return Result{
		Traces:        kept,
		NewTraceCount: len(kept),
		AdHocCount:    adHoc,
	}
}

// MeetsMinBatch reports whether a Result has enough new traces to
// proceed past WAITING this tick.
func (r Result) MeetsMinBatch(minBatch int) bool {
	return r.NewTraceCount >= minBatch
}
