// Package store persists the Autotune Worker's durable state: the
// singleton LoopState row in Postgres, and the append-only artifact
// files written into each run's directory.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tarsyvoice/autotune/pkg/models"
)

// ErrNoLoopState indicates the loop_state table has no row yet, which
// is the case on a brand-new deployment before the first tick.
var ErrNoLoopState = errors.New("loop state not initialized")

// LoopStateRepo reads and writes the singleton loop_state row.
type LoopStateRepo struct {
	db *sql.DB
}

// NewLoopStateRepo wraps an open connection pool.
func NewLoopStateRepo(db *sql.DB) *LoopStateRepo { return &LoopStateRepo{db: db} }

// Get returns the current LoopState, or ErrNoLoopState if no row
// exists yet.
func (r *LoopStateRepo) Get(ctx context.Context) (models.LoopState, error) {
	var s models.LoopState
	err := r.db.QueryRowContext(ctx, `
		SELECT last_trace_cursor, pending_trace_count, current_phase,
		       current_run_dir, promoted_prompt_hash, updated_at
		FROM loop_state WHERE id = 1`).Scan(
		&s.LastTraceCursor, &s.PendingTraceCount, &s.CurrentPhase,
		&s.CurrentRunDir, &s.PromotedPromptHash, &s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.LoopState{}, ErrNoLoopState
	}
	if err != nil {
		return models.LoopState{}, fmt.Errorf("query loop state: %w", err)
	}
	return s, nil
}

// Upsert writes s as the singleton loop_state row, creating it on
// first use. Called after every phase transition so a crash mid-tick
// resumes from the last durably recorded phase.
func (r *LoopStateRepo) Upsert(ctx context.Context, s models.LoopState) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO loop_state (id, last_trace_cursor, pending_trace_count,
			current_phase, current_run_dir, promoted_prompt_hash, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			last_trace_cursor = EXCLUDED.last_trace_cursor,
			pending_trace_count = EXCLUDED.pending_trace_count,
			current_phase = EXCLUDED.current_phase,
			current_run_dir = EXCLUDED.current_run_dir,
			promoted_prompt_hash = EXCLUDED.promoted_prompt_hash,
			updated_at = EXCLUDED.updated_at`,
		s.LastTraceCursor, s.PendingTraceCount, s.CurrentPhase,
		s.CurrentRunDir, s.PromotedPromptHash, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert loop state: %w", err)
	}
	return nil
}
