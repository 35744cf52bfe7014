package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsyvoice/autotune/pkg/models"
	"github.com/tarsyvoice/autotune/pkg/store"
)

func newTestServer(t *testing.T) (*Server, *store.RunStore) {
	t.Helper()
	dir := t.TempDir()
	rs := store.NewRunStore(filepath.Join(dir, "runs"), filepath.Join(dir, "status.json"))
	return New("127.0.0.1:0", rs), rs
}

func TestStatusHandler_NoStatusFileYetReportsIdle(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(models.PhaseIdle), resp["phase"])
}

func TestStatusHandler_MergesLatestRunArtifacts(t *testing.T) {
	s, rs := newTestServer(t)

	runDir, err := rs.NewRunDir(time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	require.NoError(t, rs.WriteArtifact(runDir, store.PromotionDecisionFile, models.PromotionDecision{
		Promoted: true,
		Winner:   "v1",
		Reason:   "candidate v1 passed test and train gates",
	}))
	require.NoError(t, rs.WriteArtifact(runDir, store.FindingsAndVariantsFile, models.FindingsAndVariants{
		Findings: []string{"callers repeat their account number twice"},
		Variants: []models.PromptVariant{{Name: "v1", Text: "Confirm the account number once."}},
	}))
	require.NoError(t, rs.WriteArtifact(runDir, store.SourceTracesFile, models.SourceTraces{
		NewTraceCount: 12,
		AdHocCount:    1,
	}))

	require.NoError(t, rs.WriteStatus(models.StatusSnapshot{
		Phase:     models.PhaseCycleComplete,
		Reason:    "candidate v1 passed test and train gates",
		RunDir:    runDir,
		Winner:    "v1",
		Promoted:  true,
		UpdatedAt: time.Now(),
	}))

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, string(models.PhaseCycleComplete), resp["phase"])
	assert.Equal(t, true, resp["promoted"])
	assert.Equal(t, "v1", resp["winner"])
	assert.NotNil(t, resp["promotion_decision"])
	assert.NotNil(t, resp["findings"])
	assert.NotNil(t, resp["server_time"])
	assert.Equal(t, float64(12), resp["new_trace_count_this_run"])
}
