package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/korulabs/lead-engine/internal/config"
	"github.com/korulabs/lead-engine/internal/domain"
	"github.com/korulabs/lead-engine/internal/handler"
	"github.com/korulabs/lead-engine/internal/infra/booking"
	"github.com/korulabs/lead-engine/internal/infra/leadlock"
	"github.com/korulabs/lead-engine/internal/infra/mail"
	"github.com/korulabs/lead-engine/internal/infra/moco"
	"github.com/korulabs/lead-engine/internal/infra/notify"
	"github.com/korulabs/lead-engine/internal/infra/observability"
	"github.com/korulabs/lead-engine/internal/infra/queue"
	"github.com/korulabs/lead-engine/internal/infra/resilience"
	"github.com/korulabs/lead-engine/internal/infra/sqlite"
	"github.com/korulabs/lead-engine/internal/service"

	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("sqlite_path", cfg.SQLitePath),
		zap.Int("min_score_threshold", cfg.MinScoreThreshold),
		zap.Int("min_intent_confidence", cfg.MinIntentConfidence),
		zap.String("assignment_strategy", cfg.AssignmentStrategy),
		zap.Duration("rule_refresh_interval", cfg.RuleRefreshInterval),
	)

	// --- Tracing ---
	shutdownTracer, err := observability.InitTracer(cfg.OTLPEndpoint, "lead-engine")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdownTracer(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Storage ---
	db, err := sqlite.Open(cfg.SQLitePath)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	if err := sqlite.Migrate(context.Background(), db); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	store := sqlite.NewStore(db)

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	cb := resilience.NewCircuitBreaker("external-apis")

	// --- Clients ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	mocoClient := moco.NewClient(httpClient, cfg.MocoAPIURL, cfg.MocoAPIKey, cb, resilienceCfg, logger)
	notifyClient := notify.NewClient(httpClient, cfg.NotifyWebhookURL, cb, resilienceCfg, logger)
	mailClient := mail.NewClient(httpClient, cfg.MailAPIURL, cfg.MailAPIKey, cfg.MailFrom, cb, resilienceCfg, logger)
	bookingClient := booking.NewClient(httpClient, cfg.BookingAPIURL, cfg.BookingAPIKey, cb, resilienceCfg, logger)

	// --- Queue ---
	taskQueue := queue.New(1024, resilienceCfg, logger)

	// --- Services ---
	locks := leadlock.New()

	rules := service.NewRuleRepository(store, logger)
	if err := rules.Load(context.Background()); err != nil {
		logger.Fatal("failed to load rules", zap.Error(err))
	}

	intentSvc := service.NewIntentService(store, store, cfg.IntentConfidenceMargin, cfg.MinIntentConfidence, metrics, logger)
	matcher := service.NewMatcher(rules, store, store, store, intentSvc, locks, metrics, logger)
	assigner := service.NewAssigner(store, store, taskQueue, metrics, logger)

	routerSvc := service.NewRouter(
		store, store, store,
		intentSvc, assigner, taskQueue, locks,
		service.RouterConfig{
			MinScoreThreshold: cfg.MinScoreThreshold,
			MaxUnroutedDays:   cfg.MaxUnroutedDays,
			Strategy:          domain.AssignmentStrategy(cfg.AssignmentStrategy),
			Role:              cfg.AssignmentRole,
			IntentPipelines: map[domain.Intent]string{
				domain.IntentResearch:   cfg.ResearchPipeline,
				domain.IntentB2B:        cfg.B2BPipeline,
				domain.IntentCoCreation: cfg.CoCreationPipeline,
			},
			CacheTTL: cfg.CacheTTL,
		},
		metrics, logger,
	)

	dispatcher := service.NewDispatcher(store, store, store, store, store, assigner, matcher, taskQueue, metrics, logger)
	engine := service.NewEngine(rules, store, store, store, dispatcher, metrics, logger)
	dealSvc := service.NewDealService(store, store, engine, logger)
	eventSvc := service.NewEventService(store, matcher, engine, routerSvc, metrics, logger)
	scoreSvc := service.NewScoreService(store, engine, routerSvc, locks, metrics, logger)
	executor := service.NewExecutor(store, store, mailClient, mocoClient, bookingClient, notifyClient, metrics, logger)

	// --- Workers ---
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	service.RegisterJobHandlers(taskQueue, executor, logger)
	taskQueue.Start(workerCtx, cfg.QueueWorkers)
	rules.StartRefresh(workerCtx, cfg.RuleRefreshInterval)
	engine.StartSweeper(workerCtx, cfg.SweepInterval)

	// --- Router ---
	router := handler.NewRouter(handler.Services{
		Events: eventSvc,
		Router: routerSvc,
		Intent: intentSvc,
		Deals:  dealSvc,
		Scores: scoreSvc,
		Rules:  rules,
	}, metrics, db, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	stopWorkers()
	taskQueue.Wait()

	logger.Info("server stopped")
}
