package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/simulacro-backend/internal/database"
	"github.com/stemsi/simulacro-backend/internal/model"
	"github.com/stemsi/simulacro-backend/internal/service"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const examAttemptColumns = `id, exam_id, student_id, is_completed, total_score::float8, completed_at, created_at`

const sectionAttemptColumns = `id, exam_attempt_id, section_id, status, started_at, submitted_at,
	time_spent_seconds, tab_switches, total_answer_changes, writing_content,
	writing_word_count, total_correct, submit_trigger, created_at, updated_at`

func scanExamAttempt(row pgx.Row) (*model.ExamAttempt, error) {
	ea := &model.ExamAttempt{}
	err := row.Scan(&ea.ID, &ea.ExamID, &ea.StudentID, &ea.IsCompleted, &ea.TotalScore, &ea.CompletedAt, &ea.CreatedAt)
	if err != nil {
		return nil, err
	}
	return ea, nil
}

func scanSectionAttempt(row pgx.Row) (*model.SectionAttempt, error) {
	a := &model.SectionAttempt{}
	err := row.Scan(
		&a.ID, &a.ExamAttemptID, &a.SectionID, &a.Status, &a.StartedAt, &a.SubmittedAt,
		&a.TimeSpentSeconds, &a.TabSwitches, &a.TotalAnswerChanges, &a.WritingContent,
		&a.WritingWordCount, &a.TotalCorrect, &a.SubmitTrigger, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// AttemptRepository persists exam and section attempts. Every status change
// is a conditional UPDATE guarded on the current status.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// GetOrCreateExamAttempt returns the student's attempt at an exam, creating it
// on first use. Concurrent callers converge on the same row.
func (r *AttemptRepository) GetOrCreateExamAttempt(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamAttempt, error) {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO exam_attempts (exam_id, student_id)
		 VALUES ($1, $2)
		 ON CONFLICT (exam_id, student_id) DO NOTHING`, examID, studentID)
	if err != nil {
		return nil, foreignKey(err, fmt.Sprintf("exam %s", examID))
	}
	return r.FindExamAttempt(ctx, examID, studentID)
}

// FindExamAttempt retrieves an existing attempt without creating one.
func (r *AttemptRepository) FindExamAttempt(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamAttempt, error) {
	ea, err := scanExamAttempt(r.pool.QueryRow(ctx,
		`SELECT `+examAttemptColumns+`
		 FROM exam_attempts
		 WHERE exam_id = $1 AND student_id = $2`, examID, studentID))
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("exam attempt for exam %s", examID))
	}
	return ea, nil
}

// GetExamAttempt retrieves an exam attempt by ID.
func (r *AttemptRepository) GetExamAttempt(ctx context.Context, id uuid.UUID) (*model.ExamAttempt, error) {
	return getExamAttempt(ctx, r.pool, id, false)
}

func getExamAttempt(ctx context.Context, q querier, id uuid.UUID, forUpdate bool) (*model.ExamAttempt, error) {
	sql := `SELECT ` + examAttemptColumns + ` FROM exam_attempts WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	ea, err := scanExamAttempt(q.QueryRow(ctx, sql, id))
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("exam attempt %s", id))
	}
	return ea, nil
}

// ListSectionAttempts retrieves the section attempts of an exam attempt in
// section order.
func (r *AttemptRepository) ListSectionAttempts(ctx context.Context, examAttemptID uuid.UUID) ([]model.SectionAttempt, error) {
	return listSectionAttempts(ctx, r.pool, examAttemptID)
}

func listSectionAttempts(ctx context.Context, q querier, examAttemptID uuid.UUID) ([]model.SectionAttempt, error) {
	rows, err := q.Query(ctx,
		`SELECT `+sectionAttemptColumns+`
		 FROM section_attempts
		 WHERE exam_attempt_id = $1
		 ORDER BY (SELECT section_number FROM exam_sections es WHERE es.id = section_id)`, examAttemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SectionAttempt
	for rows.Next() {
		a, err := scanSectionAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// GetSectionAttempt retrieves a section attempt by ID.
func (r *AttemptRepository) GetSectionAttempt(ctx context.Context, id uuid.UUID) (*model.SectionAttempt, error) {
	return getSectionAttempt(ctx, r.pool, id)
}

func getSectionAttempt(ctx context.Context, q querier, id uuid.UUID) (*model.SectionAttempt, error) {
	a, err := scanSectionAttempt(q.QueryRow(ctx,
		`SELECT `+sectionAttemptColumns+` FROM section_attempts WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("section attempt %s", id))
	}
	return a, nil
}

// GetOrCreateSectionAttempt returns the section attempt for a section of an
// exam attempt, creating it in NOT_STARTED on first use.
func (r *AttemptRepository) GetOrCreateSectionAttempt(ctx context.Context, examAttemptID, sectionID uuid.UUID) (*model.SectionAttempt, error) {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO section_attempts (exam_attempt_id, section_id, status)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (exam_attempt_id, section_id) DO NOTHING`,
		examAttemptID, sectionID, model.SectionStatusNotStarted)
	if err != nil {
		return nil, foreignKey(err, fmt.Sprintf("exam attempt %s", examAttemptID))
	}

	a, err := scanSectionAttempt(r.pool.QueryRow(ctx,
		`SELECT `+sectionAttemptColumns+`
		 FROM section_attempts
		 WHERE exam_attempt_id = $1 AND section_id = $2`, examAttemptID, sectionID))
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("section attempt for section %s", sectionID))
	}
	return a, nil
}

// StartSectionAttempt moves NOT_STARTED to IN_PROGRESS. started_at is written
// only by the winning update and never again.
func (r *AttemptRepository) StartSectionAttempt(ctx context.Context, id uuid.UUID, startedAt time.Time) (*model.SectionAttempt, error) {
	_, err := r.pool.Exec(ctx,
		`UPDATE section_attempts
		 SET status = $2, started_at = $3, updated_at = $3
		 WHERE id = $1 AND status = $4`,
		id, model.SectionStatusInProgress, startedAt, model.SectionStatusNotStarted)
	if err != nil {
		return nil, err
	}
	return r.GetSectionAttempt(ctx, id)
}

// ListInProgress retrieves every running section attempt.
func (r *AttemptRepository) ListInProgress(ctx context.Context) ([]model.SectionAttempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sectionAttemptColumns+`
		 FROM section_attempts
		 WHERE status = $1
		 ORDER BY started_at`, model.SectionStatusInProgress)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SectionAttempt
	for rows.Next() {
		a, err := scanSectionAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// RecordTabSwitches keeps the larger of the stored and reported counters.
func (r *AttemptRepository) RecordTabSwitches(ctx context.Context, id uuid.UUID, count int) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE section_attempts
		 SET tab_switches = GREATEST(tab_switches, $2), updated_at = NOW()
		 WHERE id = $1 AND status = $3`,
		id, count, model.SectionStatusInProgress)
	if err != nil {
		return err
	}
	return r.mutated(ctx, id, tag)
}

// SaveWriting replaces the writing content of a running section.
func (r *AttemptRepository) SaveWriting(ctx context.Context, id uuid.UUID, content string, wordCount int) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE section_attempts
		 SET writing_content = $2, writing_word_count = $3, updated_at = NOW()
		 WHERE id = $1 AND status = $4`,
		id, content, wordCount, model.SectionStatusInProgress)
	if err != nil {
		return err
	}
	return r.mutated(ctx, id, tag)
}

// mutated tells a missing attempt apart from one that is no longer running.
func (r *AttemptRepository) mutated(ctx context.Context, id uuid.UUID, tag pgconn.CommandTag) error {
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := r.GetSectionAttempt(ctx, id); err != nil {
		return err
	}
	return service.ErrConflict
}

// Finalize closes a section attempt in one transaction: the exam attempt row
// is locked first so sibling finalizers serialize on completion, then the
// section status is compare-and-set. Scoring and completion read answers and
// siblings inside the same transaction.
func (r *AttemptRepository) Finalize(ctx context.Context, p service.FinalizeParams) (*service.FinalizeResult, error) {
	if p.ExpectedStatus == model.SectionStatusSubmitted {
		return nil, fmt.Errorf("%w: cannot finalize from %s", service.ErrValidation, p.ExpectedStatus)
	}

	var res *service.FinalizeResult
	err := database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var examAttemptID uuid.UUID
		err := tx.QueryRow(ctx,
			`SELECT exam_attempt_id FROM section_attempts WHERE id = $1`, p.SectionAttemptID,
		).Scan(&examAttemptID)
		if err != nil {
			return notFound(err, fmt.Sprintf("section attempt %s", p.SectionAttemptID))
		}

		ea, err := getExamAttempt(ctx, tx, examAttemptID, true)
		if err != nil {
			return err
		}

		section, err := scanSectionAttempt(tx.QueryRow(ctx,
			`UPDATE section_attempts
			 SET status = $2, submitted_at = $3, time_spent_seconds = $4,
			     submit_trigger = $5, updated_at = $3,
			     writing_word_count = CASE WHEN $6 THEN COALESCE(writing_word_count, 0)
			                               ELSE writing_word_count END
			 WHERE id = $1 AND status = $7
			 RETURNING `+sectionAttemptColumns,
			p.SectionAttemptID, model.SectionStatusSubmitted, p.SubmittedAt, p.TimeSpentSeconds,
			p.Trigger, p.IsWriting, p.ExpectedStatus))
		if errors.Is(err, pgx.ErrNoRows) {
			current, err := getSectionAttempt(ctx, tx, p.SectionAttemptID)
			if err != nil {
				return err
			}
			res = &service.FinalizeResult{Section: *current, ExamAttempt: *ea}
			return nil
		}
		if err != nil {
			return fmt.Errorf("finalize section attempt: %w", err)
		}

		if !p.IsWriting && p.Score != nil {
			answers, err := listAnswers(ctx, tx, section.ID)
			if err != nil {
				return err
			}
			section.TotalCorrect = p.Score(answers)
			if _, err := tx.Exec(ctx,
				`UPDATE section_attempts SET total_correct = $2 WHERE id = $1`,
				section.ID, section.TotalCorrect); err != nil {
				return fmt.Errorf("store total correct: %w", err)
			}
		}

		completedNow, err := complete(ctx, tx, ea, p.Complete, p.SubmittedAt)
		if err != nil {
			return err
		}
		res = &service.FinalizeResult{
			Section:      *section,
			ExamAttempt:  *ea,
			Applied:      true,
			CompletedNow: completedNow,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// RecheckCompletion applies the completion transition under the exam attempt
// row lock.
func (r *AttemptRepository) RecheckCompletion(ctx context.Context, examAttemptID uuid.UUID, completeFn func([]model.SectionAttempt) (float64, bool), at time.Time) (*model.ExamAttempt, bool, error) {
	var (
		ea      *model.ExamAttempt
		flipped bool
	)
	err := database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		ea, err = getExamAttempt(ctx, tx, examAttemptID, true)
		if err != nil {
			return err
		}
		flipped, err = complete(ctx, tx, ea, completeFn, at)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return ea, flipped, nil
}

// complete flips ea to completed when completeFn accepts the siblings. The
// caller must hold the exam attempt row lock; ea is updated in place.
func complete(ctx context.Context, tx pgx.Tx, ea *model.ExamAttempt, completeFn func([]model.SectionAttempt) (float64, bool), at time.Time) (bool, error) {
	if ea.IsCompleted || completeFn == nil {
		return false, nil
	}
	siblings, err := listSectionAttempts(ctx, tx, ea.ID)
	if err != nil {
		return false, err
	}
	score, ok := completeFn(siblings)
	if !ok {
		return false, nil
	}

	tag, err := tx.Exec(ctx,
		`UPDATE exam_attempts
		 SET is_completed = TRUE, total_score = $2, completed_at = $3
		 WHERE id = $1 AND is_completed = FALSE`, ea.ID, score, at)
	if err != nil {
		return false, fmt.Errorf("complete exam attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	done := at
	ea.IsCompleted = true
	ea.TotalScore = &score
	ea.CompletedAt = &done
	return true, nil
}

// foreignKey maps a foreign key violation onto service.ErrNotFound.
func foreignKey(err error, what string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return fmt.Errorf("%s: %w", what, service.ErrNotFound)
	}
	return err
}

var _ service.AttemptStore = (*AttemptRepository)(nil)
