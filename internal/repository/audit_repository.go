package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stemsi/simulacro-backend/internal/model"
	"github.com/stemsi/simulacro-backend/internal/service"
)

// AuditRepository appends answer events and question views. Batches go
// through COPY; when COPY fails the batch is retried row by row so one bad
// record does not drop the rest.
type AuditRepository struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(pool *pgxpool.Pool, log zerolog.Logger) *AuditRepository {
	return &AuditRepository{pool: pool, log: log.With().Str("component", "audit_repository").Logger()}
}

// AppendAnswerEvents persists answer audit events.
func (r *AuditRepository) AppendAnswerEvents(ctx context.Context, events []model.AnswerEvent) error {
	if len(events) == 0 {
		return nil
	}
	_, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"answer_events"},
		[]string{"section_attempt_id", "question_id", "event_type", "from_option_id", "to_option_id", "source", "occurred_at"},
		pgx.CopyFromSlice(len(events), func(i int) ([]any, error) {
			e := events[i]
			return []any{e.SectionAttemptID, e.QuestionID, string(e.EventType), e.FromOptionID, e.ToOptionID, string(e.Source), e.OccurredAt}, nil
		}),
	)
	if err == nil {
		return nil
	}

	r.log.Warn().Err(err).Int("count", len(events)).Msg("Bulk insert of answer events failed, falling back to row inserts")
	var failed int
	for _, e := range events {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO answer_events
			   (section_attempt_id, question_id, event_type, from_option_id, to_option_id, source, occurred_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			e.SectionAttemptID, e.QuestionID, e.EventType, e.FromOptionID, e.ToOptionID, e.Source, e.OccurredAt)
		if err != nil {
			failed++
			r.log.Error().Err(err).Str("section_attempt_id", e.SectionAttemptID.String()).Msg("Dropping answer event")
		}
	}
	if failed == len(events) {
		return fmt.Errorf("insert answer events: all %d rows failed", failed)
	}
	return nil
}

// AppendQuestionViews persists question dwell records.
func (r *AuditRepository) AppendQuestionViews(ctx context.Context, views []model.QuestionView) error {
	if len(views) == 0 {
		return nil
	}
	_, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"question_views"},
		[]string{"section_attempt_id", "question_id", "dwell_seconds", "viewed_at"},
		pgx.CopyFromSlice(len(views), func(i int) ([]any, error) {
			v := views[i]
			return []any{v.SectionAttemptID, v.QuestionID, v.DwellSeconds, v.ViewedAt}, nil
		}),
	)
	if err == nil {
		return nil
	}

	r.log.Warn().Err(err).Int("count", len(views)).Msg("Bulk insert of question views failed, falling back to row inserts")
	var failed int
	for _, v := range views {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO question_views (section_attempt_id, question_id, dwell_seconds, viewed_at)
			 VALUES ($1, $2, $3, $4)`,
			v.SectionAttemptID, v.QuestionID, v.DwellSeconds, v.ViewedAt)
		if err != nil {
			failed++
			r.log.Error().Err(err).Str("section_attempt_id", v.SectionAttemptID.String()).Msg("Dropping question view")
		}
	}
	if failed == len(views) {
		return fmt.Errorf("insert question views: all %d rows failed", failed)
	}
	return nil
}

var _ service.AuditSink = (*AuditRepository)(nil)
