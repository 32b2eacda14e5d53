package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/simulacro-backend/internal/config"
	"github.com/stemsi/simulacro-backend/internal/database"
	"github.com/stemsi/simulacro-backend/internal/service"
)

// ErrReconcileRunning is returned when another instance holds the sweep lock.
var ErrReconcileRunning = errors.New("reconcile already running")

// ReconcileWorker runs the deadline reconciler on an interval. A Redis lock
// keeps concurrent instances from sweeping at the same time; the sweep itself
// stays correct without it.
type ReconcileWorker struct {
	reconciler *service.Reconciler
	rdb        *redis.Client
	interval   time.Duration
	lockTTL    time.Duration
	log        zerolog.Logger
}

// NewReconcileWorker creates a new ReconcileWorker. A nil rdb runs without
// the lock.
func NewReconcileWorker(reconciler *service.Reconciler, rdb *redis.Client, interval, lockTTL time.Duration, log zerolog.Logger) *ReconcileWorker {
	return &ReconcileWorker{
		reconciler: reconciler,
		rdb:        rdb,
		interval:   interval,
		lockTTL:    lockTTL,
		log:        log.With().Str("component", "reconcile_worker").Logger(),
	}
}

// Start sweeps once immediately and then every interval until ctx is done.
func (w *ReconcileWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("ReconcileWorker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil && !errors.Is(err, ErrReconcileRunning) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("Reconcile run failed")
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("ReconcileWorker stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single reconcile run under the sweep lock.
func (w *ReconcileWorker) RunOnce(ctx context.Context) (*service.Report, error) {
	if w.rdb != nil {
		release, ok, err := database.TryLock(ctx, w.rdb, config.CacheKey.ReconcileLockKey(), uuid.NewString(), w.lockTTL)
		if err != nil {
			return nil, err
		}
		if !ok {
			w.log.Debug().Msg("Reconcile lock held elsewhere, skipping")
			return nil, ErrReconcileRunning
		}
		defer release(context.Background())
	}
	return w.reconciler.Run(ctx)
}
