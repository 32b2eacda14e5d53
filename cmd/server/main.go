package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/simulacro-backend/internal/config"
	"github.com/stemsi/simulacro-backend/internal/database"
	"github.com/stemsi/simulacro-backend/internal/deadline"
	"github.com/stemsi/simulacro-backend/internal/handler"
	"github.com/stemsi/simulacro-backend/internal/logger"
	"github.com/stemsi/simulacro-backend/internal/repository"
	"github.com/stemsi/simulacro-backend/internal/router"
	"github.com/stemsi/simulacro-backend/internal/service"
	"github.com/stemsi/simulacro-backend/internal/timer"
	"github.com/stemsi/simulacro-backend/internal/validator"
	"github.com/stemsi/simulacro-backend/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat, "simulacro-server")
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting Simulacro Backend")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup(cfg.MaxWritingWords)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	clock := timer.SystemClock{}

	// ─── Initialize Repositories ───────────────────────────────────────
	catalogRepo := repository.NewCatalogRepository(pool)
	rosterRepo := repository.NewRosterRepository(pool, clock)
	attemptRepo := repository.NewAttemptRepository(pool)
	answerRepo := repository.NewAnswerRepository(pool)
	auditRepo := repository.NewAuditRepository(pool, log)

	// Audit records are queued in Redis and written in batches off the
	// request path.
	auditQueue := worker.NewAuditQueue(rdb)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg)
	catalog := service.NewCatalogService(catalogRepo, rdb, cfg.CatalogCacheTTL, log)
	coordinator := service.NewCoordinator(attemptRepo, catalog, clock, log)
	ledger := service.NewLedgerService(attemptRepo, answerRepo, auditQueue, catalog, coordinator, clock, log)
	sections := service.NewSectionService(attemptRepo, answerRepo, catalog, rosterRepo, ledger, coordinator, clock, log)
	reconciler := service.NewReconciler(attemptRepo, rosterRepo, catalog, coordinator, deadline.FromConfig(cfg), clock, log)

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	auditWorker := worker.NewAuditWorker(auditRepo, rdb, log)
	reconcileWorker := worker.NewReconcileWorker(reconciler, rdb, cfg.ReconcileInterval, cfg.ReconcileLockTTL, log)

	workers.Add(2)
	go func() {
		defer workers.Done()
		auditWorker.Start(workerCtx)
	}()
	go func() {
		defer workers.Done()
		reconcileWorker.Start(workerCtx)
	}()

	// ─── Prewarm Redis Caches ─────────────────────────────────────────
	// Load all active exams into Redis BEFORE accepting traffic.
	if err := catalog.PrewarmAll(ctx); err != nil {
		log.Warn().Err(err).Msg("Cache prewarm failed")
	}

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Simulacro: handler.NewSimulacroHandler(sections),
		WS:        handler.NewWSHandler(sections, cfg.MaxWritingWords, log, cfg.AllowedOrigins),
		Ops:       handler.NewOpsHandler(reconcileWorker, log),
		Health: handler.NewHealthHandler(map[string]handler.HealthCheck{
			"postgres": pool.Ping,
			"redis": func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			},
		}),
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(ctx, authService, handlers, cfg, log)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers; the audit worker flushes what it holds.
	workerCancel()
	workers.Wait()

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
