// Command server starts the pulsebench creator-analytics API service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"pulsebench/internal/api"
	"pulsebench/internal/audit"
	"pulsebench/internal/auth"
	"pulsebench/internal/bg"
	"pulsebench/internal/blueprint"
	"pulsebench/internal/config"
	"pulsebench/internal/credits"
	"pulsebench/internal/feedloop"
	"pulsebench/internal/llmclient"
	"pulsebench/internal/media"
	"pulsebench/internal/observability/logging"
	"pulsebench/internal/observability/metrics"
	"pulsebench/internal/optimizer"
	"pulsebench/internal/outcomes"
	"pulsebench/internal/platformclient"
	"pulsebench/internal/queue"
	"pulsebench/internal/report"
	"pulsebench/internal/research"
	"pulsebench/internal/server"
	"pulsebench/internal/storage"
)

// flagOverrides carries operational CLI overrides layered on top of
// config.Load()'s environment-sourced Config, the same addr/TLS-path shape
// the teacher's main exposed as flags rather than env vars.
type flagOverrides struct {
	addr     string
	tlsCert  string
	tlsKey   string
	dataFile string
}

func parseFlags(args []string) flagOverrides {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	var f flagOverrides
	fs.StringVar(&f.addr, "addr", "", "override listen address (host:port); defaults to API_HOST:API_PORT")
	fs.StringVar(&f.tlsCert, "tls-cert", "", "path to TLS certificate file")
	fs.StringVar(&f.tlsKey, "tls-key", "", "path to TLS key file")
	fs.StringVar(&f.dataFile, "data-file", "", "path to the JSON-backed datastore file, used when DATABASE_URL is unset")
	_ = fs.Parse(args)
	return f
}

func main() {
	flags := parseFlags(os.Args[1:])

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Init(logging.Config{Level: "info", Format: "json"})
	auditLogger := logging.New(logging.Config{Level: "info", Format: "json"})

	if err := run(cfg, flags, logger, auditLogger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, flags flagOverrides, logger, auditLogger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openRepository(ctx, cfg, flags)
	if err != nil {
		return fmt.Errorf("open repository: %w", err)
	}
	defer closeStore()

	authManager := auth.NewManager(cfg.JWTSecret, cfg.JWTExpiration())
	recorder := metrics.New()
	ledger := credits.New(store, cfg.FreeMonthlyCredits, credits.Costs{
		ResearchSearch:    cfg.CreditCostResearchSearch,
		OptimizerVariants: cfg.CreditCostOptimizerVariants,
		AuditRun:          cfg.CreditCostAuditRun,
	})

	llm := llmclient.New(llmclient.Config{APIKey: cfg.OpenAIAPIKey})
	platform := platformclient.New(platformclient.Config{APIKey: cfg.YouTubeAPIKey})

	optimizerSvc := optimizer.New(store, llm)
	blueprintSvc := blueprint.New(store, llm, platform, cfg.BlueprintCacheTTL())
	outcomesSvc := outcomes.New(store, cfg.OutcomeLearningEnabled)
	reportSvc := report.New(store, blueprintSvc, outcomesSvc)
	researchSvc := research.New(store, platform, cfg.ResearchExportDir, cfg.JWTSecret)

	var q *queue.Queue
	if strings.TrimSpace(cfg.RedisURL) != "" {
		q, err = queue.New(queue.Config{
			Addr:         cfg.RedisURL,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 5 * time.Second,
			Logger:       logging.WithComponent(logger, "queue"),
		})
		if err != nil {
			return fmt.Errorf("connect queue: %w", err)
		}
		defer q.Close()
	}

	auditSvc := audit.New(store, llm, optimizerSvc, q, cfg.AuditUploadDir)
	mediaSvc := media.New(store, q, llm, cfg.AuditUploadDir, cfg.EnableWhisperTranscription)
	feedloopSvc := feedloop.New(store, optimizerSvc, auditSvc, ledger)

	handler := api.New(store, authManager, cfg, recorder, ledger)
	handler.Research = researchSvc
	handler.FeedLoop = feedloopSvc
	handler.Optimizer = optimizerSvc
	handler.Outcomes = outcomesSvc
	handler.Audit = auditSvc
	handler.Media = mediaSvc
	handler.Blueprint = blueprintSvc
	handler.Report = reportSvc

	addr := flags.addr
	if addr == "" {
		addr = fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	}

	srv, err := server.New(handler, server.Config{
		Addr: addr,
		TLS: server.TLSConfig{
			CertFile: flags.tlsCert,
			KeyFile:  flags.tlsKey,
		},
		RateLimit: server.RateLimitConfig{
			GlobalRPS:   50,
			GlobalBurst: 100,
			LoginLimit:  10,
			LoginWindow: time.Minute,
			RedisAddr:   cfg.RedisURL,
		},
		CORS:        server.CORSConfig{Origins: cfg.CORSOrigins},
		Logger:      logger,
		AuditLogger: auditLogger,
		Metrics:     recorder,
	})
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	supervisor := bg.New(logging.WithComponent(logger, "bg"))
	registerBackgroundLoops(supervisor, cfg, q, feedloopSvc, outcomesSvc, auditSvc, mediaSvc)

	serverErrs := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr)
		serverErrs <- srv.Start(ctx)
	}()

	bgErrs := make(chan error, 1)
	go func() {
		bgErrs <- supervisor.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		if err := <-serverErrs; err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("graceful shutdown failed", "error", err)
		}
	case err := <-serverErrs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	case err := <-bgErrs:
		if err != nil {
			return fmt.Errorf("background supervisor: %w", err)
		}
	}

	return nil
}

// openRepository selects the storage driver per DATABASE_URL: a Postgres
// repository when set, otherwise the JSON-file-backed Storage used for local
// development and tests.
func openRepository(ctx context.Context, cfg *config.Config, flags flagOverrides) (storage.Repository, func(), error) {
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		repo, err := storage.NewPostgresRepository(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() {}, nil
	}

	path := flags.dataFile
	if path == "" {
		path = "./data/pulsebench.json"
	}
	store, err := storage.NewStorage(path)
	if err != nil {
		return nil, nil, err
	}
	return store, func() {}, nil
}

func registerBackgroundLoops(
	supervisor *bg.Supervisor,
	cfg *config.Config,
	q *queue.Queue,
	feedloopSvc *feedloop.Service,
	outcomesSvc *outcomes.Service,
	auditSvc *audit.Service,
	mediaSvc *media.Service,
) {
	if cfg.FeedAutoIngestEnabled {
		interval := time.Duration(cfg.FeedAutoIngestIntervalMinutes) * time.Minute
		supervisor.Add("feed-auto-ingest", periodicLoop(interval, func() {
			feedloopSvc.RunDueAutoIngest(50)
		}, nil))
	}

	if cfg.OutcomeLearningEnabled {
		interval := time.Duration(cfg.OutcomeRecalibrateIntervalMinutes) * time.Minute
		supervisor.Add("outcome-recalibrate", periodicLoop(interval, func() {
			outcomesSvc.RecalibrateAll()
		}, nil))
	}

	staleInterval := 5 * time.Minute
	supervisor.Add("audit-recover-stale", periodicLoop(staleInterval, func() {
		auditSvc.RecoverStale(time.Now().UTC())
	}, nil))
	supervisor.Add("media-recover-stale", periodicLoop(staleInterval, func() {
		mediaSvc.RecoverStale(time.Now().UTC())
		mediaSvc.RecoverStaleTranscripts(time.Now().UTC())
	}, nil))

	if q == nil {
		return
	}

	supervisor.Add("audit-queue-consumer", func(ctx context.Context) error {
		return q.Run(ctx, queue.RunOptions{
			Stream:   queue.StreamAuditJobs,
			Group:    "audit-workers",
			Consumer: "audit-worker-1",
		}, auditSvc.HandleMessage)
	})
	supervisor.Add("media-queue-consumer", func(ctx context.Context) error {
		return q.Run(ctx, queue.RunOptions{
			Stream:   queue.StreamMediaJobs,
			Group:    "media-workers",
			Consumer: "media-worker-1",
		}, mediaSvc.HandleMessage)
	})
}
