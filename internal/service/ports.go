package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/simulacro-backend/internal/model"
)

// Catalog serves immutable exam definitions authored elsewhere.
type Catalog interface {
	GetExam(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, error)
	// ListQuestions includes correctness flags; callers on the student read
	// path must convert with Question.ForStudent.
	ListQuestions(ctx context.Context, sectionID uuid.UUID) ([]model.Question, error)
}

// Roster is the external day counter and cohort schedule source.
type Roster interface {
	ListSchedules(ctx context.Context) ([]model.CohortExamSchedule, error)
	ListApprovedStudents(ctx context.Context, cohortID int) ([]model.RosterStudent, error)
	HasCompletedModule(ctx context.Context, studentID int, moduleID uuid.UUID) (bool, error)
}

// FinalizeParams describes one finalize transition. Score and Complete are
// evaluated by the store inside the same atomic commit as the status change,
// against data read within that commit; they must not perform I/O.
type FinalizeParams struct {
	SectionAttemptID uuid.UUID
	Trigger          model.SubmitTrigger
	SubmittedAt      time.Time
	TimeSpentSeconds int
	IsWriting        bool
	// ExpectedStatus is the status the caller read. The transition only
	// applies while the attempt is still in it; NOT_STARTED closes a no-show.
	ExpectedStatus model.SectionStatus
	Score          func(answers []model.Answer) *int
	Complete       func(siblings []model.SectionAttempt) (totalScore float64, ok bool)
}

// FinalizeResult reports the state after a finalize attempt.
type FinalizeResult struct {
	Section     model.SectionAttempt
	ExamAttempt model.ExamAttempt
	// Applied is false when the attempt was no longer in ExpectedStatus;
	// nothing was mutated in that case.
	Applied bool
	// CompletedNow is true only for the caller that flipped the exam attempt
	// to completed.
	CompletedNow bool
}

// AttemptStore persists exam and section attempts. Every state transition is
// a conditional update so concurrent callers cannot both win.
type AttemptStore interface {
	GetOrCreateExamAttempt(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamAttempt, error)
	FindExamAttempt(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamAttempt, error)
	GetExamAttempt(ctx context.Context, id uuid.UUID) (*model.ExamAttempt, error)

	ListSectionAttempts(ctx context.Context, examAttemptID uuid.UUID) ([]model.SectionAttempt, error)
	GetSectionAttempt(ctx context.Context, id uuid.UUID) (*model.SectionAttempt, error)
	GetOrCreateSectionAttempt(ctx context.Context, examAttemptID, sectionID uuid.UUID) (*model.SectionAttempt, error)
	// StartSectionAttempt moves NOT_STARTED to IN_PROGRESS, setting startedAt
	// once. Other states are returned unchanged.
	StartSectionAttempt(ctx context.Context, id uuid.UUID, startedAt time.Time) (*model.SectionAttempt, error)
	// ListInProgress returns every IN_PROGRESS section attempt.
	ListInProgress(ctx context.Context) ([]model.SectionAttempt, error)

	// RecordTabSwitches keeps the larger of the stored and reported counter.
	RecordTabSwitches(ctx context.Context, id uuid.UUID, count int) error
	SaveWriting(ctx context.Context, id uuid.UUID, content string, wordCount int) error

	Finalize(ctx context.Context, p FinalizeParams) (*FinalizeResult, error)
	// RecheckCompletion applies the completion transition to an exam attempt
	// whose sections were all finalized.
	RecheckCompletion(ctx context.Context, examAttemptID uuid.UUID, complete func(siblings []model.SectionAttempt) (float64, bool), at time.Time) (*model.ExamAttempt, bool, error)
}

// AnswerStore holds the current answers of section attempts.
type AnswerStore interface {
	// UpsertAnswer sets the current option of a question (nil clears it).
	// It returns the previous option and whether anything changed; selecting
	// the option that is already current changes nothing. Returns ErrConflict
	// when the section attempt is not IN_PROGRESS.
	UpsertAnswer(ctx context.Context, sectionAttemptID, questionID uuid.UUID, optionID *uuid.UUID, at time.Time) (prev *uuid.UUID, changed bool, err error)
	ListAnswers(ctx context.Context, sectionAttemptID uuid.UUID) ([]model.Answer, error)
}

// AuditSink receives append-only audit records.
type AuditSink interface {
	AppendAnswerEvents(ctx context.Context, events []model.AnswerEvent) error
	AppendQuestionViews(ctx context.Context, views []model.QuestionView) error
}
