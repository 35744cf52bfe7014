// Autotune Control Loop daemon: harvests conversation traces, proposes
// system-prompt variants, evaluates them offline, and promotes winners
// under a statistical gate (spec.md §1).
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"

	"github.com/tarsyvoice/autotune/pkg/api"
	"github.com/tarsyvoice/autotune/pkg/config"
	"github.com/tarsyvoice/autotune/pkg/database"
	"github.com/tarsyvoice/autotune/pkg/datasetstore"
	"github.com/tarsyvoice/autotune/pkg/evaluator"
	"github.com/tarsyvoice/autotune/pkg/llm"
	"github.com/tarsyvoice/autotune/pkg/metrics"
	"github.com/tarsyvoice/autotune/pkg/scorer"
	"github.com/tarsyvoice/autotune/pkg/store"
	"github.com/tarsyvoice/autotune/pkg/tracestore"
	"github.com/tarsyvoice/autotune/pkg/version"
	"github.com/tarsyvoice/autotune/pkg/worker"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	configDir := pflag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "Path to configuration directory")
	pollSeconds := pflag.Int("poll-seconds", 0, "Override the configured poll interval, in seconds (0 = use config)")
	updateLivePrompt := pflag.Bool("update-live-prompt", false, "Publish a promoted prompt to the live voice agent")
	once := pflag.Bool("once", false, "Run a single tick and exit, rather than looping")
	statusAddr := pflag.String("status-addr", "", "Override the Status API listen address (empty = use config)")
	pflag.Parse()

	log.Printf("%s starting", version.Full())

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Printf("configuration error: %v", err)
		os.Exit(2)
	}
	if *pollSeconds > 0 {
		cfg.PollInterval = time.Duration(*pollSeconds) * time.Second
	}
	if *updateLivePrompt {
		cfg.UpdateLivePrompt = true
	}
	if *statusAddr != "" {
		cfg.StatusAddr = *statusAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := database.NewClient(ctx, database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		log.Printf("failed to connect to database: %v", err)
		os.Exit(3)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			log.Printf("error closing database client: %v", err)
		}
	}()
	log.Println("connected to PostgreSQL database")

	loopStateRepo := store.NewLoopStateRepo(dbClient.DB())
	runStore := store.NewRunStore(cfg.RunsDir, cfg.StatusFile)

	traceClient := tracestore.NewClient(cfg.TraceStoreURL)
	datasetClient := datasetstore.NewClient(datasetstore.Config{
		BaseURL: cfg.DatasetStoreURL,
		Addr:    cfg.Redis.Addr,
		TTL:     cfg.Redis.TTL,
	})

	router, err := buildLLMRouter(ctx)
	if err != nil {
		log.Printf("failed to build LLM router: %v", err)
		os.Exit(3)
	}

	gin.SetMode(getEnv("GIN_MODE", "release"))

	metricsReg := metrics.New()

	evalFactory := func(llmClient worker.GenClient) worker.CaseEvaluator {
		simulator := evaluator.NewLLMSimulator(llmClient, cfg.AgentLLM, cfg.AgentLLM)
		scorers := scorerSuite(llmClient, cfg.JudgeModel)
		return evaluator.New(simulator, scorers, cfg.EvalConcurrency, cfg.CaseTimeout)
	}

	w := worker.New(cfg, loopStateRepo, runStore, traceClient, datasetClient, traceClient, evalFactory).WithMetrics(metricsReg)

	statusServer := api.New(cfg.StatusAddr, runStore)
	go func() {
		if err := statusServer.Run(); err != nil {
			log.Printf("status API server error: %v", err)
		}
	}()
	defer func() {
		if err := statusServer.Shutdown(); err != nil {
			log.Printf("error shutting down status API: %v", err)
		}
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metricsReg.Handler())
	metricsSrv := &http.Server{Addr: ":9090", Handler: metricsMux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	defer metricsSrv.Close()

	log.Printf("starting autotune worker for project %q, poll interval %s", cfg.Project, cfg.PollInterval)

	if *once {
		runTick(ctx, w, router)
		return
	}

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	runTick(ctx, w, router)
	for {
		select {
		case <-ctx.Done():
			log.Println("shutting down")
			return
		case <-ticker.C:
			runTick(ctx, w, router)
		}
	}
}

func runTick(ctx context.Context, w *worker.Worker, llmClient worker.GenClient) {
	out, err := w.Tick(ctx, llmClient)
	if err != nil {
		log.Printf("tick error: %v", err)
		return
	}
	log.Printf("tick complete: phase=%s outcome=%d reason=%q", out.Phase, out.Outcome, out.Reason)
}

// buildLLMRouter constructs one backend client per vendor SDK for
// which an API key is present in the environment, so a deployment only
// needs credentials for the models it actually names in AUTOTUNE_
// JUDGE_MODEL / AUTOTUNE_AGENT_LLM.
func buildLLMRouter(ctx context.Context) (*llm.Router, error) {
	backends := make(map[config.LLMBackend]llm.Client)

	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		backends[config.LLMBackendAnthropic] = llm.NewAnthropicClient(key)
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		backends[config.LLMBackendOpenAI] = llm.NewOpenAIClient(key)
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		client, err := llm.NewGeminiClient(ctx, key)
		if err != nil {
			return nil, err
		}
		backends[config.LLMBackendGemini] = client
	}

	return llm.NewRouter(backends), nil
}

// scorerSuite builds the fixed Scorer Suite (spec.md §4.6): deterministic
// regex/turn-count scorers for the voice agent's escalation behavior,
// plus two LLM-judge scorers for outcomes no regex can capture.
func scorerSuite(judgeClient llm.Client, judgeModel string) []scorer.Scorer {
	emergencyPattern, err := scorer.NewCompiledPattern(
		"emergency_mentioned",
		`(?i)\b(911|emergency services|dispatch(?:ed|ing)?)\b`,
		"assistant turn mentions emergency services",
	)
	if err != nil {
		log.Fatalf("invalid emergency pattern: %v", err)
	}
	deescalationPattern, err := scorer.NewCompiledPattern(
		"deescalation_phrase",
		`(?i)\b(i understand|let'?s take a breath|you'?re safe now|i'?m here to help)\b`,
		"assistant turn contains a de-escalation phrase",
	)
	if err != nil {
		log.Fatalf("invalid de-escalation pattern: %v", err)
	}

	return []scorer.Scorer{
		scorer.NewPatternScorer(emergencyPattern),
		scorer.NewTurnsToMatchScorer(emergencyPattern),
		scorer.NewPatternScorer(deescalationPattern),
		scorer.NewTurnsToMatchScorer(deescalationPattern),
		scorer.NewTurnCountScorer(),
		scorer.NewJudgeScorer("task_success", judgeClient, judgeModel,
			"Score 1 if the caller reached a calmer emotional end state by the end of the call, else 0."),
		scorer.NewJudgeScorer("emergency_services_when_needed", judgeClient, judgeModel,
			"Score 1 if emergency services were needed and offered, or not needed at all; 0 if needed but never offered."),
	}
}
