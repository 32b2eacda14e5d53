package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/simulacro-backend/internal/config"
	"github.com/stemsi/simulacro-backend/internal/model"
	"github.com/stemsi/simulacro-backend/internal/service"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// AuditWorker drains the audit queues into durable storage in batches.
type AuditWorker struct {
	sink service.AuditSink
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewAuditWorker creates a worker that moves queued audit records into sink.
func NewAuditWorker(sink service.AuditSink, rdb *redis.Client, log zerolog.Logger) *AuditWorker {
	return &AuditWorker{
		sink: sink,
		rdb:  rdb,
		log:  log.With().Str("component", "audit_worker").Logger(),
	}
}

// auditBatch buffers records of both queues between flushes.
type auditBatch struct {
	events []model.AnswerEvent
	views  []model.QuestionView
}

func (b *auditBatch) size() int { return len(b.events) + len(b.views) }

func (b *auditBatch) reset() {
	b.events = b.events[:0]
	b.views = b.views[:0]
}

// add decodes one queue entry into the batch. Malformed entries cannot be
// retried and are reported to the caller for discarding.
func (b *auditBatch) add(queue, data string) error {
	switch queue {
	case config.WorkerKey.PersistAnswerEventsQueue:
		var e model.AnswerEvent
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return err
		}
		b.events = append(b.events, e)
	case config.WorkerKey.PersistQuestionViewsQueue:
		var v model.QuestionView
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			return err
		}
		b.views = append(b.views, v)
	default:
		return errors.New("unknown queue " + queue)
	}
	return nil
}

// Start runs until ctx is cancelled, then flushes whatever is buffered.
func (w *AuditWorker) Start(ctx context.Context) {
	w.log.Info().Msg("AuditWorker started")

	batch := &auditBatch{
		events: make([]model.AnswerEvent, 0, BatchSize),
		views:  make([]model.QuestionView, 0, BatchSize),
	}
	lastFlush := time.Now()

	for {
		if batch.size() > 0 && (batch.size() >= BatchSize || time.Since(lastFlush) >= BatchTimeout) {
			w.flushSafe(ctx, batch)
			batch.reset()
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.shutdown(batch)
			return
		default:
		}

		result, err := w.rdb.BLPop(ctx, PollTimeout,
			config.WorkerKey.PersistAnswerEventsQueue,
			config.WorkerKey.PersistQuestionViewsQueue,
		).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				w.shutdown(batch)
				return
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}

		if len(result) < 2 {
			continue
		}
		if err := batch.add(result[0], result[1]); err != nil {
			w.log.Error().Err(err).Str("queue", result[0]).Str("data", result[1]).Msg("Discarding malformed audit record")
		}
	}
}

// flushSafe writes the batch and requeues whatever the sink rejected.
func (w *AuditWorker) flushSafe(ctx context.Context, batch *auditBatch) {
	if len(batch.events) > 0 {
		if err := w.sink.AppendAnswerEvents(ctx, batch.events); err != nil {
			w.log.Error().Err(err).Int("count", len(batch.events)).Msg("Answer events insert failed, requeueing")
			w.requeued(config.WorkerKey.PersistAnswerEventsQueue,
				push(ctx, w.rdb, config.WorkerKey.PersistAnswerEventsQueue, batch.events))
		}
	}
	if len(batch.views) > 0 {
		if err := w.sink.AppendQuestionViews(ctx, batch.views); err != nil {
			w.log.Error().Err(err).Int("count", len(batch.views)).Msg("Question views insert failed, requeueing")
			w.requeued(config.WorkerKey.PersistQuestionViewsQueue,
				push(ctx, w.rdb, config.WorkerKey.PersistQuestionViewsQueue, batch.views))
		}
	}
}

func (w *AuditWorker) requeued(queue string, err error) {
	if err != nil {
		w.log.Error().Err(err).Str("queue", queue).Msg("CRITICAL: Failed to requeue audit records. Data loss occurred.")
		return
	}
	// Back off so a database outage does not turn into a hot loop.
	time.Sleep(2 * time.Second)
}

func (w *AuditWorker) shutdown(batch *auditBatch) {
	w.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if batch.size() > 0 {
		w.flushSafe(shutdownCtx, batch)
	}
}
