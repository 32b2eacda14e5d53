package service_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/simulacro-backend/internal/deadline"
	"github.com/stemsi/simulacro-backend/internal/model"
	"github.com/stemsi/simulacro-backend/internal/repository/memstore"
	"github.com/stemsi/simulacro-backend/internal/service"
	"github.com/stemsi/simulacro-backend/internal/timer"
)

const (
	studentID = 1
	cohortID  = 7
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type sectionSpec struct {
	minutes   int
	questions int
	writing   bool
}

func mc(minutes, questions int) sectionSpec { return sectionSpec{minutes: minutes, questions: questions} }
func writing(minutes int) sectionSpec      { return sectionSpec{minutes: minutes, writing: true} }

// monthlyExam is the usual layout: seven multiple-choice sections and a
// writing section last.
func monthlyExam() []sectionSpec {
	specs := make([]sectionSpec, 0, model.MaxSections)
	for i := 0; i < 7; i++ {
		specs = append(specs, mc(10, 5))
	}
	return append(specs, writing(30))
}

type fixture struct {
	ctx        context.Context
	clock      *timer.FakeClock
	store      *memstore.Store
	coord      *service.Coordinator
	ledger     *service.LedgerService
	sections   *service.SectionService
	reconciler *service.Reconciler
	exam       model.ExamDefinition
	questions  map[uuid.UUID][]model.Question
}

func newFixture(t *testing.T, mode model.ExamMode, specs ...sectionSpec) *fixture {
	t.Helper()

	clock := timer.NewFakeClock(t0)
	store := memstore.New(clock)
	log := zerolog.Nop()

	f := &fixture{
		ctx:       context.Background(),
		clock:     clock,
		store:     store,
		questions: make(map[uuid.UUID][]model.Question),
		exam: model.ExamDefinition{
			ID:       uuid.New(),
			Number:   1,
			Title:    "Simulacro 1",
			Mode:     mode,
			IsActive: true,
		},
	}

	for i, sp := range specs {
		def := model.SectionDefinition{
			ID:              uuid.New(),
			ExamID:          f.exam.ID,
			SectionNumber:   i + 1,
			Title:           fmt.Sprintf("Sección %d", i+1),
			DurationMinutes: sp.minutes,
			TotalQuestions:  sp.questions,
			IsWriting:       sp.writing,
		}
		f.exam.Sections = append(f.exam.Sections, def)

		var qs []model.Question
		for q := 0; q < sp.questions; q++ {
			question := model.Question{ID: uuid.New(), SectionID: def.ID, QuestionText: fmt.Sprintf("Q%d", q+1), OrderNum: q + 1}
			for o, label := range []string{"A", "B", "C", "D"} {
				question.Options = append(question.Options, model.Option{
					ID:        uuid.New(),
					Label:     label,
					Text:      label,
					IsCorrect: o == 0,
				})
			}
			qs = append(qs, question)
		}
		f.questions[def.ID] = qs
		store.PutQuestions(def.ID, qs)
	}
	store.PutExam(f.exam)
	store.PutStudent(model.RosterStudent{StudentID: studentID, CohortID: cohortID, CurrentDay: 1})
	store.AddSchedule(model.CohortExamSchedule{CohortID: cohortID, ExamID: f.exam.ID, StartDay: 1})

	f.coord = service.NewCoordinator(store, store, clock, log)
	f.ledger = service.NewLedgerService(store, store, store, store, f.coord, clock, log)
	f.sections = service.NewSectionService(store, store, store, store, f.ledger, f.coord, clock, log)
	f.reconciler = service.NewReconciler(store, store, store, f.coord, deadline.DefaultPolicy(), clock, log)
	return f
}

func (f *fixture) def(n int) model.SectionDefinition {
	return f.exam.Sections[n-1]
}

func (f *fixture) question(n, q int) model.Question {
	return f.questions[f.def(n).ID][q]
}

// correct returns the correct option of question q in section n.
func (f *fixture) correct(n, q int) *uuid.UUID {
	id := f.question(n, q).Options[0].ID
	return &id
}

// wrong returns an incorrect option; k picks which one (0-2).
func (f *fixture) wrong(n, q, k int) *uuid.UUID {
	id := f.question(n, q).Options[1+k].ID
	return &id
}

func (f *fixture) answer(n, q int, option *uuid.UUID) model.AnswerInput {
	return model.AnswerInput{QuestionID: f.question(n, q).ID, OptionID: option}
}

func (f *fixture) open(t *testing.T, n int) *service.SectionState {
	t.Helper()
	st, err := f.sections.OpenSection(f.ctx, f.exam.ID, f.def(n).ID, studentID, 0)
	require.NoError(t, err)
	return st
}

func (f *fixture) submit(t *testing.T, attemptID uuid.UUID, p model.AttemptPayload) *service.SubmitResult {
	t.Helper()
	res, err := f.sections.Submit(f.ctx, attemptID, studentID, p)
	require.NoError(t, err)
	return res
}

// openAndSubmit opens section n, answers the first `correct` questions
// correctly and submits.
func (f *fixture) openAndSubmit(t *testing.T, n, correct int) *service.SubmitResult {
	t.Helper()
	st := f.open(t, n)
	var p model.AttemptPayload
	if f.def(n).IsWriting {
		text := words(10)
		p.WritingContent = &text
		return f.submit(t, st.AttemptID, p)
	}
	for q := 0; q < correct; q++ {
		p.Answers = append(p.Answers, f.answer(n, q, f.correct(n, q)))
	}
	return f.submit(t, st.AttemptID, p)
}

func (f *fixture) sectionAttempt(t *testing.T, id uuid.UUID) *model.SectionAttempt {
	t.Helper()
	a, err := f.store.GetSectionAttempt(f.ctx, id)
	require.NoError(t, err)
	return a
}

func (f *fixture) examAttempt(t *testing.T) *model.ExamAttempt {
	t.Helper()
	ea, err := f.store.FindExamAttempt(f.ctx, f.exam.ID, studentID)
	require.NoError(t, err)
	return ea
}

func words(n int) string {
	w := make([]string, n)
	for i := range w {
		w[i] = fmt.Sprintf("palabra%d", i)
	}
	return strings.Join(w, " ")
}
