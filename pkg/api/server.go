// Package api is the Status API: a single read-only endpoint that
// merges the worker's dashboard snapshot with the latest run's
// artifacts into one JSON response (spec.md §4.9).
package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tarsyvoice/autotune/pkg/models"
	"github.com/tarsyvoice/autotune/pkg/store"
	"github.com/tarsyvoice/autotune/pkg/version"
)

// Server serves the Status API.
type Server struct {
	runStore *store.RunStore
	router   *gin.Engine
	httpSrv  *http.Server
}

// New builds a Server bound to addr, reading status and run artifacts
// from runStore.
func New(addr string, runStore *store.RunStore) *Server {
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		runStore: runStore,
		router:   router,
		httpSrv:  &http.Server{Addr: addr, Handler: router},
	}
	router.GET("/status", s.statusHandler)
	return s
}

// Run starts the HTTP server and blocks until it returns an error
// other than http.ErrServerClosed.
func (s *Server) Run() error {
	log.Printf("status API listening on %s", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown() error {
	return s.httpSrv.Close()
}

// statusHandler handles GET /status. It returns the dashboard's
// status.json contents merged with a few summary fields read back out
// of the latest run directory's artifacts, so a caller sees both "what
// phase is the loop in" and "what did the last decision look like"
// without making two requests.
func (s *Server) statusHandler(c *gin.Context) {
	var snapshot models.StatusSnapshot
	if err := s.runStore.ReadStatus(&snapshot); err != nil {
		c.JSON(http.StatusOK, gin.H{
			"phase":       models.PhaseIdle,
			"reason":      "no run has started yet",
			"server_time": time.Now().UTC(),
			"version":     version.Full(),
		})
		return
	}

	resp := gin.H{
		"phase":                snapshot.Phase,
		"reason":               snapshot.Reason,
		"updated_at":           snapshot.UpdatedAt,
		"new_trace_count":      snapshot.NewTraceCount,
		"pending_trace_count":  snapshot.PendingTraceCount,
		"variants_summary":     snapshot.VariantsSummary,
		"variant_runs_summary": snapshot.VariantRunsSummary,
		"winner":               snapshot.Winner,
		"promoted":             snapshot.Promoted,
		"run_dir":              snapshot.RunDir,
		"server_time":          time.Now().UTC(),
		"version":              version.Full(),
	}

	if snapshot.RunDir != "" {
		var decision models.PromotionDecision
		if err := s.runStore.ReadArtifact(snapshot.RunDir, store.PromotionDecisionFile, &decision); err == nil {
			resp["promotion_decision"] = decision
		}

		var fv models.FindingsAndVariants
		if err := s.runStore.ReadArtifact(snapshot.RunDir, store.FindingsAndVariantsFile, &fv); err == nil {
			resp["findings"] = fv.Findings
			resp["variants"] = fv.Variants
		}

		var st models.SourceTraces
		if err := s.runStore.ReadArtifact(snapshot.RunDir, store.SourceTracesFile, &st); err == nil {
			resp["new_trace_count_this_run"] = st.NewTraceCount
			resp["ad_hoc_trace_count"] = st.AdHocCount
		}
	}

	c.JSON(http.StatusOK, resp)
}
