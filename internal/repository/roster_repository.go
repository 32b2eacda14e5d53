package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/simulacro-backend/internal/model"
	"github.com/stemsi/simulacro-backend/internal/service"
	"github.com/stemsi/simulacro-backend/internal/timer"
)

// RosterRepository reads cohort membership and schedules. The program day of
// a student is derived from their program start date: the start date is day 1.
type RosterRepository struct {
	pool  *pgxpool.Pool
	clock timer.Clock
}

// NewRosterRepository creates a new RosterRepository.
func NewRosterRepository(pool *pgxpool.Pool, clock timer.Clock) *RosterRepository {
	return &RosterRepository{pool: pool, clock: clock}
}

// ListSchedules retrieves every cohort exam schedule.
func (r *RosterRepository) ListSchedules(ctx context.Context) ([]model.CohortExamSchedule, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT cohort_id, exam_id, start_day
		 FROM cohort_exam_schedules
		 ORDER BY cohort_id, start_day`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.CohortExamSchedule
	for rows.Next() {
		var s model.CohortExamSchedule
		if err := rows.Scan(&s.CohortID, &s.ExamID, &s.StartDay); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListApprovedStudents retrieves the approved members of a cohort with their
// current program day.
func (r *RosterRepository) ListApprovedStudents(ctx context.Context, cohortID int) ([]model.RosterStudent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT student_id, cohort_id, program_start_date
		 FROM cohort_students
		 WHERE cohort_id = $1 AND is_approved = TRUE
		 ORDER BY student_id`, cohortID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	today := r.clock.Now().UTC()
	var out []model.RosterStudent
	for rows.Next() {
		var (
			s     model.RosterStudent
			start time.Time
		)
		if err := rows.Scan(&s.StudentID, &s.CohortID, &start); err != nil {
			return nil, err
		}
		s.CurrentDay = ProgramDay(start, today)
		out = append(out, s)
	}
	return out, rows.Err()
}

// HasCompletedModule reports whether the student finished a prerequisite module.
func (r *RosterRepository) HasCompletedModule(ctx context.Context, studentID int, moduleID uuid.UUID) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM student_completed_modules
		   WHERE student_id = $1 AND module_id = $2)`, studentID, moduleID,
	).Scan(&ok)
	return ok, err
}

// ProgramDay returns the 1-based program day of now for a program that
// started on start. Days before the start clamp to day 1.
func ProgramDay(start, now time.Time) int {
	s := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	n := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	days := int(n.Sub(s).Hours()/24) + 1
	if days < 1 {
		return 1
	}
	return days
}

var _ service.Roster = (*RosterRepository)(nil)
