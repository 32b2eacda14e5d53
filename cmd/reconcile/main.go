package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/simulacro-backend/internal/config"
	"github.com/stemsi/simulacro-backend/internal/database"
	"github.com/stemsi/simulacro-backend/internal/deadline"
	"github.com/stemsi/simulacro-backend/internal/logger"
	"github.com/stemsi/simulacro-backend/internal/repository"
	"github.com/stemsi/simulacro-backend/internal/service"
	"github.com/stemsi/simulacro-backend/internal/timer"
	"github.com/stemsi/simulacro-backend/internal/worker"
)

// reconcile runs a single deadline sweep and exits, for cron-style scheduling.
// It takes the same Redis lock as the server's background sweep.
func main() {
	var timeout time.Duration
	flag.DurationVar(&timeout, "timeout", 10*time.Minute, "Maximum duration of the run")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat, "simulacro-reconcile")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	clock := timer.SystemClock{}
	attemptRepo := repository.NewAttemptRepository(pool)
	rosterRepo := repository.NewRosterRepository(pool, clock)
	catalog := service.NewCatalogService(repository.NewCatalogRepository(pool), rdb, cfg.CatalogCacheTTL, log)

	coordinator := service.NewCoordinator(attemptRepo, catalog, clock, log)
	reconciler := service.NewReconciler(attemptRepo, rosterRepo, catalog, coordinator, deadline.FromConfig(cfg), clock, log)
	run := worker.NewReconcileWorker(reconciler, rdb, 0, cfg.ReconcileLockTTL, log)

	report, err := run.RunOnce(ctx)
	if errors.Is(err, worker.ErrReconcileRunning) {
		log.Warn().Msg("Another reconcile run holds the lock, nothing to do")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("Reconcile failed")
		os.Exit(1)
	}

	log.Info().
		Int("schedules", report.Schedules).
		Int("students", report.Students).
		Int("expired", report.Expired).
		Int("zero_filled", report.ZeroFilled).
		Int("deadline_finalized", report.DeadlineFinalized).
		Int("exams_completed", report.ExamsCompleted).
		Int("errors", report.Errors).
		Dur("took", report.FinishedAt.Sub(report.StartedAt)).
		Msg("Reconcile complete")
	if report.Errors > 0 {
		os.Exit(1)
	}
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
