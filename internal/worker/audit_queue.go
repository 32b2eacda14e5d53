package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/simulacro-backend/internal/config"
	"github.com/stemsi/simulacro-backend/internal/model"
	"github.com/stemsi/simulacro-backend/internal/service"
)

// AuditQueue defers audit writes to Redis lists drained by AuditWorker, so the
// answer hot path never waits on the append-only tables.
type AuditQueue struct {
	rdb *redis.Client
}

// NewAuditQueue creates a new AuditQueue.
func NewAuditQueue(rdb *redis.Client) *AuditQueue {
	return &AuditQueue{rdb: rdb}
}

// AppendAnswerEvents enqueues answer events.
func (q *AuditQueue) AppendAnswerEvents(ctx context.Context, events []model.AnswerEvent) error {
	return push(ctx, q.rdb, config.WorkerKey.PersistAnswerEventsQueue, events)
}

// AppendQuestionViews enqueues question views.
func (q *AuditQueue) AppendQuestionViews(ctx context.Context, views []model.QuestionView) error {
	return push(ctx, q.rdb, config.WorkerKey.PersistQuestionViewsQueue, views)
}

func push[T any](ctx context.Context, rdb *redis.Client, queue string, items []T) error {
	if len(items) == 0 {
		return nil
	}
	values := make([]any, 0, len(items))
	for _, it := range items {
		data, err := json.Marshal(it)
		if err != nil {
			return fmt.Errorf("encode %s item: %w", queue, err)
		}
		values = append(values, data)
	}
	if err := rdb.RPush(ctx, queue, values...).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", queue, err)
	}
	return nil
}

var _ service.AuditSink = (*AuditQueue)(nil)
