// Package memstore is an in-memory implementation of the attempt, answer,
// audit, catalog and roster ports. Every transition takes the store mutex, so
// the conditional updates behave like their SQL counterparts.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/simulacro-backend/internal/model"
	"github.com/stemsi/simulacro-backend/internal/service"
	"github.com/stemsi/simulacro-backend/internal/timer"
)

type examKey struct {
	examID    uuid.UUID
	studentID int
}

type sectionKey struct {
	examAttemptID uuid.UUID
	sectionID     uuid.UUID
}

type answerKey struct {
	sectionAttemptID uuid.UUID
	questionID       uuid.UUID
}

type moduleKey struct {
	studentID int
	moduleID  uuid.UUID
}

// Store holds everything in maps guarded by one mutex.
type Store struct {
	mu    sync.Mutex
	clock timer.Clock

	exams     map[uuid.UUID]model.ExamDefinition
	examOrder []uuid.UUID
	questions map[uuid.UUID][]model.Question

	examAttempts   map[uuid.UUID]*model.ExamAttempt
	examAttemptIdx map[examKey]uuid.UUID
	sections       map[uuid.UUID]*model.SectionAttempt
	sectionIdx     map[sectionKey]uuid.UUID
	sectionOrder   []uuid.UUID
	answers        map[answerKey]*model.Answer

	events []model.AnswerEvent
	views  []model.QuestionView

	schedules []model.CohortExamSchedule
	students  []model.RosterStudent
	modules   map[moduleKey]bool
}

// New creates an empty store that stamps records with clock.
func New(clock timer.Clock) *Store {
	return &Store{
		clock:          clock,
		exams:          make(map[uuid.UUID]model.ExamDefinition),
		questions:      make(map[uuid.UUID][]model.Question),
		examAttempts:   make(map[uuid.UUID]*model.ExamAttempt),
		examAttemptIdx: make(map[examKey]uuid.UUID),
		sections:       make(map[uuid.UUID]*model.SectionAttempt),
		sectionIdx:     make(map[sectionKey]uuid.UUID),
		answers:        make(map[answerKey]*model.Answer),
		modules:        make(map[moduleKey]bool),
	}
}

// --- seeding ---

// PutExam stores an exam definition. Sections are kept ordered by number.
func (s *Store) PutExam(exam model.ExamDefinition) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sort.Slice(exam.Sections, func(i, j int) bool {
		return exam.Sections[i].SectionNumber < exam.Sections[j].SectionNumber
	})
	if _, ok := s.exams[exam.ID]; !ok {
		s.examOrder = append(s.examOrder, exam.ID)
	}
	s.exams[exam.ID] = exam
}

// PutQuestions stores the questions of a section.
func (s *Store) PutQuestions(sectionID uuid.UUID, questions []model.Question) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.questions[sectionID] = questions
}

// AddSchedule anchors an exam on a cohort calendar.
func (s *Store) AddSchedule(sched model.CohortExamSchedule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules = append(s.schedules, sched)
}

// PutStudent adds or replaces an approved roster student.
func (s *Store) PutStudent(st model.RosterStudent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.students {
		if s.students[i].StudentID == st.StudentID {
			s.students[i] = st
			return
		}
	}
	s.students = append(s.students, st)
}

// CompleteModule marks a prerequisite module as completed by a student.
func (s *Store) CompleteModule(studentID int, moduleID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modules[moduleKey{studentID, moduleID}] = true
}

// AnswerEvents returns a copy of the answer audit log.
func (s *Store) AnswerEvents() []model.AnswerEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.AnswerEvent(nil), s.events...)
}

// QuestionViews returns a copy of the question view log.
func (s *Store) QuestionViews() []model.QuestionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.QuestionView(nil), s.views...)
}

// --- service.Catalog / service.CatalogSource ---

func (s *Store) GetExam(_ context.Context, examID uuid.UUID) (*model.ExamDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exam, ok := s.exams[examID]
	if !ok {
		return nil, fmt.Errorf("exam %s: %w", examID, service.ErrNotFound)
	}
	exam.Sections = append([]model.SectionDefinition(nil), exam.Sections...)
	return &exam, nil
}

func (s *Store) ListQuestions(_ context.Context, sectionID uuid.UUID) ([]model.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Question(nil), s.questions[sectionID]...), nil
}

func (s *Store) ListActiveExams(_ context.Context) ([]model.ExamDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.ExamDefinition
	for _, id := range s.examOrder {
		if e := s.exams[id]; e.IsActive {
			e.Sections = append([]model.SectionDefinition(nil), e.Sections...)
			out = append(out, e)
		}
	}
	return out, nil
}

// --- service.Roster ---

func (s *Store) ListSchedules(_ context.Context) ([]model.CohortExamSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.CohortExamSchedule(nil), s.schedules...), nil
}

func (s *Store) ListApprovedStudents(_ context.Context, cohortID int) ([]model.RosterStudent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.RosterStudent
	for _, st := range s.students {
		if st.CohortID == cohortID {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *Store) HasCompletedModule(_ context.Context, studentID int, moduleID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modules[moduleKey{studentID, moduleID}], nil
}

// --- service.AttemptStore ---

func (s *Store) GetOrCreateExamAttempt(_ context.Context, examID uuid.UUID, studentID int) (*model.ExamAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := examKey{examID, studentID}
	if id, ok := s.examAttemptIdx[k]; ok {
		return cloneExam(s.examAttempts[id]), nil
	}
	ea := &model.ExamAttempt{
		ID:        uuid.New(),
		ExamID:    examID,
		StudentID: studentID,
		CreatedAt: s.clock.Now(),
	}
	s.examAttempts[ea.ID] = ea
	s.examAttemptIdx[k] = ea.ID
	return cloneExam(ea), nil
}

func (s *Store) FindExamAttempt(_ context.Context, examID uuid.UUID, studentID int) (*model.ExamAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.examAttemptIdx[examKey{examID, studentID}]
	if !ok {
		return nil, fmt.Errorf("exam attempt for exam %s: %w", examID, service.ErrNotFound)
	}
	return cloneExam(s.examAttempts[id]), nil
}

func (s *Store) GetExamAttempt(_ context.Context, id uuid.UUID) (*model.ExamAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ea, ok := s.examAttempts[id]
	if !ok {
		return nil, fmt.Errorf("exam attempt %s: %w", id, service.ErrNotFound)
	}
	return cloneExam(ea), nil
}

func (s *Store) ListSectionAttempts(_ context.Context, examAttemptID uuid.UUID) ([]model.SectionAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.siblingsLocked(examAttemptID), nil
}

func (s *Store) siblingsLocked(examAttemptID uuid.UUID) []model.SectionAttempt {
	var out []model.SectionAttempt
	for _, id := range s.sectionOrder {
		if a := s.sections[id]; a.ExamAttemptID == examAttemptID {
			out = append(out, *cloneSection(a))
		}
	}
	return out
}

func (s *Store) GetSectionAttempt(_ context.Context, id uuid.UUID) (*model.SectionAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.sections[id]
	if !ok {
		return nil, fmt.Errorf("section attempt %s: %w", id, service.ErrNotFound)
	}
	return cloneSection(a), nil
}

func (s *Store) GetOrCreateSectionAttempt(_ context.Context, examAttemptID, sectionID uuid.UUID) (*model.SectionAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.examAttempts[examAttemptID]; !ok {
		return nil, fmt.Errorf("exam attempt %s: %w", examAttemptID, service.ErrNotFound)
	}
	k := sectionKey{examAttemptID, sectionID}
	if id, ok := s.sectionIdx[k]; ok {
		return cloneSection(s.sections[id]), nil
	}

	now := s.clock.Now()
	a := &model.SectionAttempt{
		ID:            uuid.New(),
		ExamAttemptID: examAttemptID,
		SectionID:     sectionID,
		Status:        model.SectionStatusNotStarted,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.sections[a.ID] = a
	s.sectionIdx[k] = a.ID
	s.sectionOrder = append(s.sectionOrder, a.ID)
	return cloneSection(a), nil
}

func (s *Store) StartSectionAttempt(_ context.Context, id uuid.UUID, startedAt time.Time) (*model.SectionAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.sections[id]
	if !ok {
		return nil, fmt.Errorf("section attempt %s: %w", id, service.ErrNotFound)
	}
	if a.Status == model.SectionStatusNotStarted {
		t := startedAt
		a.Status = model.SectionStatusInProgress
		a.StartedAt = &t
		a.UpdatedAt = startedAt
	}
	return cloneSection(a), nil
}

func (s *Store) ListInProgress(_ context.Context) ([]model.SectionAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.SectionAttempt
	for _, id := range s.sectionOrder {
		if a := s.sections[id]; a.Status == model.SectionStatusInProgress {
			out = append(out, *cloneSection(a))
		}
	}
	return out, nil
}

func (s *Store) RecordTabSwitches(_ context.Context, id uuid.UUID, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.sections[id]
	if !ok {
		return fmt.Errorf("section attempt %s: %w", id, service.ErrNotFound)
	}
	if a.Status != model.SectionStatusInProgress {
		return service.ErrConflict
	}
	if count > a.TabSwitches {
		a.TabSwitches = count
		a.UpdatedAt = s.clock.Now()
	}
	return nil
}

func (s *Store) SaveWriting(_ context.Context, id uuid.UUID, content string, wordCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.sections[id]
	if !ok {
		return fmt.Errorf("section attempt %s: %w", id, service.ErrNotFound)
	}
	if a.Status != model.SectionStatusInProgress {
		return service.ErrConflict
	}
	text, words := content, wordCount
	a.WritingContent = &text
	a.WritingWordCount = &words
	a.UpdatedAt = s.clock.Now()
	return nil
}

func (s *Store) Finalize(_ context.Context, p service.FinalizeParams) (*service.FinalizeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.sections[p.SectionAttemptID]
	if !ok {
		return nil, fmt.Errorf("section attempt %s: %w", p.SectionAttemptID, service.ErrNotFound)
	}
	ea := s.examAttempts[a.ExamAttemptID]

	if p.ExpectedStatus == model.SectionStatusSubmitted {
		return nil, fmt.Errorf("%w: cannot finalize from %s", service.ErrValidation, p.ExpectedStatus)
	}
	if a.Status != p.ExpectedStatus {
		return &service.FinalizeResult{Section: *cloneSection(a), ExamAttempt: *cloneExam(ea)}, nil
	}

	submittedAt, trigger := p.SubmittedAt, p.Trigger
	a.Status = model.SectionStatusSubmitted
	a.SubmittedAt = &submittedAt
	a.TimeSpentSeconds = p.TimeSpentSeconds
	a.SubmitTrigger = &trigger
	a.UpdatedAt = submittedAt
	if p.IsWriting {
		if a.WritingWordCount == nil {
			zero := 0
			a.WritingWordCount = &zero
		}
	} else if p.Score != nil {
		a.TotalCorrect = p.Score(s.answersLocked(a.ID))
	}

	completedNow := s.completeLocked(ea, p.Complete, submittedAt)
	return &service.FinalizeResult{
		Section:      *cloneSection(a),
		ExamAttempt:  *cloneExam(ea),
		Applied:      true,
		CompletedNow: completedNow,
	}, nil
}

func (s *Store) RecheckCompletion(_ context.Context, examAttemptID uuid.UUID, complete func([]model.SectionAttempt) (float64, bool), at time.Time) (*model.ExamAttempt, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ea, ok := s.examAttempts[examAttemptID]
	if !ok {
		return nil, false, fmt.Errorf("exam attempt %s: %w", examAttemptID, service.ErrNotFound)
	}
	flipped := s.completeLocked(ea, complete, at)
	return cloneExam(ea), flipped, nil
}

func (s *Store) completeLocked(ea *model.ExamAttempt, complete func([]model.SectionAttempt) (float64, bool), at time.Time) bool {
	if ea.IsCompleted || complete == nil {
		return false
	}
	score, ok := complete(s.siblingsLocked(ea.ID))
	if !ok {
		return false
	}
	done := at
	ea.IsCompleted = true
	ea.TotalScore = &score
	ea.CompletedAt = &done
	return true
}

// --- service.AnswerStore ---

func (s *Store) UpsertAnswer(_ context.Context, sectionAttemptID, questionID uuid.UUID, optionID *uuid.UUID, at time.Time) (*uuid.UUID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.sections[sectionAttemptID]
	if !ok {
		return nil, false, fmt.Errorf("section attempt %s: %w", sectionAttemptID, service.ErrNotFound)
	}
	if a.Status != model.SectionStatusInProgress {
		return nil, false, service.ErrConflict
	}

	k := answerKey{sectionAttemptID, questionID}
	cur := s.answers[k]
	var prev *uuid.UUID
	if cur != nil {
		prev = cur.OptionID
	}
	if sameOption(prev, optionID) {
		return prev, false, nil
	}

	var next *uuid.UUID
	if optionID != nil {
		id := *optionID
		next = &id
	}
	if cur == nil {
		cur = &model.Answer{SectionAttemptID: sectionAttemptID, QuestionID: questionID}
		s.answers[k] = cur
	}
	cur.OptionID = next
	cur.UpdatedAt = at

	if prev != nil {
		a.TotalAnswerChanges++
	}
	a.UpdatedAt = at
	return prev, true, nil
}

func (s *Store) ListAnswers(_ context.Context, sectionAttemptID uuid.UUID) ([]model.Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answersLocked(sectionAttemptID), nil
}

func (s *Store) answersLocked(sectionAttemptID uuid.UUID) []model.Answer {
	var out []model.Answer
	for k, a := range s.answers {
		if k.sectionAttemptID == sectionAttemptID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].QuestionID.String() < out[j].QuestionID.String()
	})
	return out
}

// --- service.AuditSink ---

func (s *Store) AppendAnswerEvents(_ context.Context, events []model.AnswerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

func (s *Store) AppendQuestionViews(_ context.Context, views []model.QuestionView) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.views = append(s.views, views...)
	return nil
}

func sameOption(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func cloneExam(ea *model.ExamAttempt) *model.ExamAttempt {
	c := *ea
	if ea.TotalScore != nil {
		v := *ea.TotalScore
		c.TotalScore = &v
	}
	if ea.CompletedAt != nil {
		v := *ea.CompletedAt
		c.CompletedAt = &v
	}
	return &c
}

func cloneSection(a *model.SectionAttempt) *model.SectionAttempt {
	c := *a
	if a.StartedAt != nil {
		v := *a.StartedAt
		c.StartedAt = &v
	}
	if a.SubmittedAt != nil {
		v := *a.SubmittedAt
		c.SubmittedAt = &v
	}
	if a.WritingContent != nil {
		v := *a.WritingContent
		c.WritingContent = &v
	}
	if a.WritingWordCount != nil {
		v := *a.WritingWordCount
		c.WritingWordCount = &v
	}
	if a.TotalCorrect != nil {
		v := *a.TotalCorrect
		c.TotalCorrect = &v
	}
	if a.SubmitTrigger != nil {
		v := *a.SubmitTrigger
		c.SubmitTrigger = &v
	}
	return &c
}

var (
	_ service.CatalogSource = (*Store)(nil)
	_ service.Roster        = (*Store)(nil)
	_ service.AttemptStore  = (*Store)(nil)
	_ service.AnswerStore   = (*Store)(nil)
	_ service.AuditSink     = (*Store)(nil)
)
