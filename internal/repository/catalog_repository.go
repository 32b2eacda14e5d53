package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/simulacro-backend/internal/model"
	"github.com/stemsi/simulacro-backend/internal/service"
)

// CatalogRepository reads exam definitions and questions. The catalog is
// authored by another service; this side never writes to it.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository creates a new CatalogRepository.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// GetExam retrieves an exam with its sections ordered by number.
func (r *CatalogRepository) GetExam(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, error) {
	e := &model.ExamDefinition{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, number, title, mode, is_active, required_module_id, is_baseline
		 FROM exams WHERE id = $1`, examID,
	).Scan(&e.ID, &e.Number, &e.Title, &e.Mode, &e.IsActive, &e.RequiredModuleID, &e.IsBaseline)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("exam %s", examID))
	}

	sections, err := r.listSections(ctx, []uuid.UUID{examID})
	if err != nil {
		return nil, err
	}
	e.Sections = sections[examID]
	return e, nil
}

// ListActiveExams retrieves every active exam with its sections.
func (r *CatalogRepository) ListActiveExams(ctx context.Context) ([]model.ExamDefinition, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, number, title, mode, is_active, required_module_id, is_baseline
		 FROM exams WHERE is_active = TRUE
		 ORDER BY number`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exams []model.ExamDefinition
	var ids []uuid.UUID
	for rows.Next() {
		var e model.ExamDefinition
		if err := rows.Scan(&e.ID, &e.Number, &e.Title, &e.Mode, &e.IsActive, &e.RequiredModuleID, &e.IsBaseline); err != nil {
			return nil, err
		}
		exams = append(exams, e)
		ids = append(ids, e.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	sections, err := r.listSections(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range exams {
		exams[i].Sections = sections[exams[i].ID]
	}
	return exams, nil
}

func (r *CatalogRepository) listSections(ctx context.Context, examIDs []uuid.UUID) (map[uuid.UUID][]model.SectionDefinition, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, exam_id, section_number, title, duration_minutes, total_questions, is_writing
		 FROM exam_sections
		 WHERE exam_id = ANY($1)
		 ORDER BY exam_id, section_number`, examIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID][]model.SectionDefinition, len(examIDs))
	for rows.Next() {
		var s model.SectionDefinition
		if err := rows.Scan(&s.ID, &s.ExamID, &s.SectionNumber, &s.Title, &s.DurationMinutes, &s.TotalQuestions, &s.IsWriting); err != nil {
			return nil, err
		}
		out[s.ExamID] = append(out[s.ExamID], s)
	}
	return out, rows.Err()
}

// ListQuestions retrieves a section's questions and options in display order,
// correctness flags included.
func (r *CatalogRepository) ListQuestions(ctx context.Context, sectionID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT q.id, q.section_id, q.question_text, q.order_num,
		        o.id, o.label, o.option_text, o.is_correct
		 FROM questions q
		 LEFT JOIN question_options o ON o.question_id = q.id
		 WHERE q.section_id = $1
		 ORDER BY q.order_num, q.id, o.order_num, o.label`, sectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var (
			q         model.Question
			optID     *uuid.UUID
			label     *string
			text      *string
			isCorrect *bool
		)
		if err := rows.Scan(&q.ID, &q.SectionID, &q.QuestionText, &q.OrderNum, &optID, &label, &text, &isCorrect); err != nil {
			return nil, err
		}
		if n := len(questions); n == 0 || questions[n-1].ID != q.ID {
			questions = append(questions, q)
		}
		if optID == nil {
			continue
		}
		last := &questions[len(questions)-1]
		last.Options = append(last.Options, model.Option{ID: *optID, Label: *label, Text: *text, IsCorrect: *isCorrect})
	}
	return questions, rows.Err()
}

var _ service.CatalogSource = (*CatalogRepository)(nil)
