package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/simulacro-backend/internal/database"
	"github.com/stemsi/simulacro-backend/internal/model"
	"github.com/stemsi/simulacro-backend/internal/service"
)

// AnswerRepository holds the current answer of every question of a section
// attempt. History lives in the audit tables, not here.
type AnswerRepository struct {
	pool *pgxpool.Pool
}

// NewAnswerRepository creates a new AnswerRepository.
func NewAnswerRepository(pool *pgxpool.Pool) *AnswerRepository {
	return &AnswerRepository{pool: pool}
}

// UpsertAnswer sets the current option of a question. The section row is held
// FOR NO KEY UPDATE for the whole transaction, so a concurrent finalize either
// scores after this write or makes it fail with ErrConflict.
func (r *AnswerRepository) UpsertAnswer(ctx context.Context, sectionAttemptID, questionID uuid.UUID, optionID *uuid.UUID, at time.Time) (*uuid.UUID, bool, error) {
	var (
		prev    *uuid.UUID
		changed bool
	)
	err := database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var status model.SectionStatus
		err := tx.QueryRow(ctx,
			`SELECT status FROM section_attempts WHERE id = $1 FOR NO KEY UPDATE`, sectionAttemptID,
		).Scan(&status)
		if err != nil {
			return notFound(err, fmt.Sprintf("section attempt %s", sectionAttemptID))
		}
		if status != model.SectionStatusInProgress {
			return service.ErrConflict
		}

		err = tx.QueryRow(ctx,
			`SELECT option_id FROM answers
			 WHERE section_attempt_id = $1 AND question_id = $2`, sectionAttemptID, questionID,
		).Scan(&prev)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		if sameOption(prev, optionID) {
			return nil
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO answers (section_attempt_id, question_id, option_id, updated_at)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (section_attempt_id, question_id)
			 DO UPDATE SET option_id = EXCLUDED.option_id, updated_at = EXCLUDED.updated_at`,
			sectionAttemptID, questionID, optionID, at); err != nil {
			return fmt.Errorf("upsert answer: %w", err)
		}

		delta := 0
		if prev != nil {
			delta = 1
		}
		if _, err := tx.Exec(ctx,
			`UPDATE section_attempts
			 SET total_answer_changes = total_answer_changes + $2, updated_at = $3
			 WHERE id = $1`, sectionAttemptID, delta, at); err != nil {
			return fmt.Errorf("count answer change: %w", err)
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return prev, changed, nil
}

// ListAnswers retrieves the current answers of a section attempt.
func (r *AnswerRepository) ListAnswers(ctx context.Context, sectionAttemptID uuid.UUID) ([]model.Answer, error) {
	return listAnswers(ctx, r.pool, sectionAttemptID)
}

func listAnswers(ctx context.Context, q querier, sectionAttemptID uuid.UUID) ([]model.Answer, error) {
	rows, err := q.Query(ctx,
		`SELECT section_attempt_id, question_id, option_id, updated_at
		 FROM answers
		 WHERE section_attempt_id = $1
		 ORDER BY question_id`, sectionAttemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Answer
	for rows.Next() {
		var a model.Answer
		if err := rows.Scan(&a.SectionAttemptID, &a.QuestionID, &a.OptionID, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func sameOption(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

var _ service.AnswerStore = (*AnswerRepository)(nil)
