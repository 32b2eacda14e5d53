package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/simulacro-backend/internal/gate"
	"github.com/stemsi/simulacro-backend/internal/model"
	"github.com/stemsi/simulacro-backend/internal/timer"
)

// SectionService implements the student flows of a monthly exam: overview,
// opening a section, autosave, submit and results.
type SectionService struct {
	attempts    AttemptStore
	answers     AnswerStore
	catalog     Catalog
	roster      Roster
	ledger      *LedgerService
	coordinator *Coordinator
	clock       timer.Clock
	log         zerolog.Logger
}

// NewSectionService creates a new SectionService.
func NewSectionService(
	attempts AttemptStore,
	answers AnswerStore,
	catalog Catalog,
	roster Roster,
	ledger *LedgerService,
	coordinator *Coordinator,
	clock timer.Clock,
	log zerolog.Logger,
) *SectionService {
	return &SectionService{
		attempts:    attempts,
		answers:     answers,
		catalog:     catalog,
		roster:      roster,
		ledger:      ledger,
		coordinator: coordinator,
		clock:       clock,
		log:         log.With().Str("component", "section_service").Logger(),
	}
}

// SectionOverview is one section row of the exam overview.
type SectionOverview struct {
	SectionID        uuid.UUID           `json:"section_id"`
	SectionNumber    int                 `json:"section_number"`
	Title            string              `json:"title"`
	DurationMinutes  int                 `json:"duration_minutes"`
	TotalQuestions   int                 `json:"total_questions"`
	IsWriting        bool                `json:"is_writing"`
	AttemptID        *uuid.UUID          `json:"attempt_id,omitempty"`
	Status           model.SectionStatus `json:"status"`
	CanEnter         bool                `json:"can_enter"`
	RemainingSeconds *int                `json:"remaining_seconds,omitempty"`
	TotalCorrect     *int                `json:"total_correct,omitempty"`
}

// ExamOverview is the student's view of an exam and their progress on it.
type ExamOverview struct {
	ExamAttemptID uuid.UUID         `json:"exam_attempt_id"`
	ExamID        uuid.UUID         `json:"exam_id"`
	Number        int               `json:"number"`
	Title         string            `json:"title"`
	Mode          model.ExamMode    `json:"mode"`
	IsCompleted   bool              `json:"is_completed"`
	TotalScore    *float64          `json:"total_score,omitempty"`
	Sections      []SectionOverview `json:"sections"`
}

// SavedAnswer is a current answer echoed back when a section is resumed.
type SavedAnswer struct {
	QuestionID uuid.UUID  `json:"question_id"`
	OptionID   *uuid.UUID `json:"option_id"`
}

// SectionState is the resumable state of an opened section.
type SectionState struct {
	AttemptID            uuid.UUID                  `json:"attempt_id"`
	ExamAttemptID        uuid.UUID                  `json:"exam_attempt_id"`
	SectionID            uuid.UUID                  `json:"section_id"`
	SectionNumber        int                        `json:"section_number"`
	Title                string                     `json:"title"`
	IsWriting            bool                       `json:"is_writing"`
	Status               model.SectionStatus        `json:"status"`
	ReadOnly             bool                       `json:"read_only"`
	StartedAt            *time.Time                 `json:"started_at,omitempty"`
	DurationSeconds      int                        `json:"duration_seconds"`
	ServerElapsedSeconds int                        `json:"server_elapsed_seconds"`
	RemainingSeconds     int                        `json:"remaining_seconds"`
	IsTimeExpired        bool                       `json:"is_time_expired"`
	TimerSource          timer.Source               `json:"timer_source"`
	TabSwitches          int                        `json:"tab_switches"`
	SavedAnswers         []SavedAnswer              `json:"saved_answers"`
	WritingContent       *string                    `json:"writing_content,omitempty"`
	WritingWordCount     *int                       `json:"writing_word_count,omitempty"`
	Questions            []model.QuestionForStudent `json:"questions"`
}

// AutosaveAck confirms an autosave.
type AutosaveAck struct {
	AttemptID        uuid.UUID `json:"attempt_id"`
	SavedAt          time.Time `json:"saved_at"`
	RemainingSeconds int       `json:"remaining_seconds"`
}

// SubmitResult is returned by Submit. Writing sections have no TotalCorrect.
type SubmitResult struct {
	AttemptID        uuid.UUID `json:"attempt_id"`
	TotalCorrect     *int      `json:"total_correct"`
	TotalQuestions   int       `json:"total_questions"`
	IsWriting        bool      `json:"is_writing"`
	WritingWordCount *int      `json:"writing_word_count,omitempty"`
	TimeSpentSeconds int       `json:"time_spent_seconds"`
	ExamCompleted    bool      `json:"exam_completed"`
	TotalScore       *float64  `json:"total_score,omitempty"`
	TimeExpired      bool      `json:"time_expired"`
	AlreadySubmitted bool      `json:"already_submitted"`
}

// SectionResult is one row of the results breakdown.
type SectionResult struct {
	SectionID          uuid.UUID            `json:"section_id"`
	SectionNumber      int                  `json:"section_number"`
	Title              string               `json:"title"`
	IsWriting          bool                 `json:"is_writing"`
	Status             model.SectionStatus  `json:"status"`
	TotalCorrect       *int                 `json:"total_correct,omitempty"`
	TotalQuestions     int                  `json:"total_questions"`
	TimeSpentSeconds   int                  `json:"time_spent_seconds"`
	TabSwitches        int                  `json:"tab_switches"`
	TotalAnswerChanges int                  `json:"total_answer_changes"`
	WritingWordCount   *int                 `json:"writing_word_count,omitempty"`
	SubmittedAt        *time.Time           `json:"submitted_at,omitempty"`
	SubmitTrigger      *model.SubmitTrigger `json:"submit_trigger,omitempty"`
}

// ExamResults is the per-section breakdown of an exam attempt.
type ExamResults struct {
	ExamAttemptID uuid.UUID       `json:"exam_attempt_id"`
	ExamID        uuid.UUID       `json:"exam_id"`
	Title         string          `json:"title"`
	Mode          model.ExamMode  `json:"mode"`
	IsCompleted   bool            `json:"is_completed"`
	TotalScore    *float64        `json:"total_score,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	Sections      []SectionResult `json:"sections"`
}

// Overview returns the exam with the student's section progress, creating the
// exam attempt on first access. Sections whose timer ran out are finalized
// before the overview is built.
func (s *SectionService) Overview(ctx context.Context, examID uuid.UUID, studentID int) (*ExamOverview, error) {
	exam, err := s.availableExam(ctx, examID, studentID)
	if err != nil {
		return nil, err
	}

	examAttempt, err := s.attempts.GetOrCreateExamAttempt(ctx, exam.ID, studentID)
	if err != nil {
		return nil, fmt.Errorf("get or create exam attempt: %w", err)
	}

	siblings, err := s.attempts.ListSectionAttempts(ctx, examAttempt.ID)
	if err != nil {
		return nil, fmt.Errorf("list section attempts: %w", err)
	}
	siblings, examAttempt = s.settleExpired(ctx, exam, examAttempt, siblings, uuid.Nil)

	now := s.clock.Now()
	bySection := indexBySection(siblings)
	slots := slotsOf(exam, bySection)

	out := &ExamOverview{
		ExamAttemptID: examAttempt.ID,
		ExamID:        exam.ID,
		Number:        exam.Number,
		Title:         exam.Title,
		Mode:          exam.Mode,
		IsCompleted:   examAttempt.IsCompleted,
		TotalScore:    examAttempt.TotalScore,
		Sections:      make([]SectionOverview, 0, len(exam.Sections)),
	}

	for _, def := range exam.Sections {
		row := SectionOverview{
			SectionID:       def.ID,
			SectionNumber:   def.SectionNumber,
			Title:           def.Title,
			DurationMinutes: def.DurationMinutes,
			TotalQuestions:  def.TotalQuestions,
			IsWriting:       def.IsWriting,
			Status:          model.SectionStatusNotStarted,
			CanEnter:        gate.CanEnter(exam.Mode, def.SectionNumber, slots) == nil,
		}
		if att, ok := bySection[def.ID]; ok {
			id := att.ID
			row.AttemptID = &id
			row.Status = att.Status
			switch att.Status {
			case model.SectionStatusInProgress:
				remaining := timer.Evaluate(att.StartedAt, def.Duration(), now, 0).RemainingSeconds
				row.RemainingSeconds = &remaining
			case model.SectionStatusSubmitted:
				row.TotalCorrect = att.TotalCorrect
			}
		}
		out.Sections = append(out.Sections, row)
	}

	return out, nil
}

// OpenSection enters a section, starting its timer on first entry, and returns
// the resumable state. Opening an expired section finalizes it and returns
// ErrExpired. Submitted sections are returned read-only.
func (s *SectionService) OpenSection(ctx context.Context, examID, sectionID uuid.UUID, studentID, clientElapsed int) (*SectionState, error) {
	exam, err := s.availableExam(ctx, examID, studentID)
	if err != nil {
		return nil, err
	}
	def, ok := exam.Section(sectionID)
	if !ok {
		return nil, fmt.Errorf("section %s of exam %s: %w", sectionID, examID, ErrNotFound)
	}

	examAttempt, err := s.attempts.GetOrCreateExamAttempt(ctx, exam.ID, studentID)
	if err != nil {
		return nil, fmt.Errorf("get or create exam attempt: %w", err)
	}
	siblings, err := s.attempts.ListSectionAttempts(ctx, examAttempt.ID)
	if err != nil {
		return nil, fmt.Errorf("list section attempts: %w", err)
	}
	// The target section is settled below so that its expiry surfaces as ErrExpired.
	siblings, examAttempt = s.settleExpired(ctx, exam, examAttempt, siblings, def.ID)

	if err := gate.CanEnter(exam.Mode, def.SectionNumber, slotsOf(exam, indexBySection(siblings))); err != nil {
		return nil, err
	}

	att, err := s.attempts.GetOrCreateSectionAttempt(ctx, examAttempt.ID, def.ID)
	if err != nil {
		return nil, fmt.Errorf("get or create section attempt: %w", err)
	}
	if att.Status == model.SectionStatusNotStarted {
		att, err = s.attempts.StartSectionAttempt(ctx, att.ID, s.clock.Now())
		if err != nil {
			return nil, fmt.Errorf("start section attempt: %w", err)
		}
		s.log.Info().
			Str("section_attempt_id", att.ID.String()).
			Int("student_id", studentID).
			Int("section_number", def.SectionNumber).
			Msg("Section started")
	}

	reading := timer.Evaluate(att.StartedAt, def.Duration(), s.clock.Now(), clientElapsed)
	if att.Status == model.SectionStatusInProgress && reading.Expired {
		if _, err := s.coordinator.FinalizeSection(ctx, att.ID, model.TriggerExpiry); err != nil {
			return nil, fmt.Errorf("finalize expired section: %w", err)
		}
		return nil, ErrExpired
	}

	return s.sectionState(ctx, examAttempt, def, att, reading)
}

func (s *SectionService) sectionState(ctx context.Context, examAttempt *model.ExamAttempt, def *model.SectionDefinition, att *model.SectionAttempt, reading timer.Reading) (*SectionState, error) {
	questions, err := s.catalog.ListQuestions(ctx, def.ID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	answers, err := s.answers.ListAnswers(ctx, att.ID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}

	st := &SectionState{
		AttemptID:            att.ID,
		ExamAttemptID:        examAttempt.ID,
		SectionID:            def.ID,
		SectionNumber:        def.SectionNumber,
		Title:                def.Title,
		IsWriting:            def.IsWriting,
		Status:               att.Status,
		ReadOnly:             att.IsSubmitted(),
		StartedAt:            att.StartedAt,
		DurationSeconds:      int(def.Duration() / time.Second),
		ServerElapsedSeconds: reading.ClampedSeconds(),
		RemainingSeconds:     reading.RemainingSeconds,
		IsTimeExpired:        reading.Expired,
		TimerSource:          reading.Source,
		TabSwitches:          att.TabSwitches,
		SavedAnswers:         make([]SavedAnswer, 0, len(answers)),
		WritingContent:       att.WritingContent,
		WritingWordCount:     att.WritingWordCount,
		Questions:            make([]model.QuestionForStudent, 0, len(questions)),
	}
	if att.IsSubmitted() {
		st.ServerElapsedSeconds = att.TimeSpentSeconds
		st.RemainingSeconds = 0
	}
	for _, a := range answers {
		st.SavedAnswers = append(st.SavedAnswers, SavedAnswer{QuestionID: a.QuestionID, OptionID: a.OptionID})
	}
	for _, q := range questions {
		st.Questions = append(st.Questions, q.ForStudent())
	}
	return st, nil
}

// Autosave persists an in-progress payload.
func (s *SectionService) Autosave(ctx context.Context, attemptID uuid.UUID, studentID int, p model.AttemptPayload) (*AutosaveAck, error) {
	ac, err := s.owned(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.apply(ctx, ac, p); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	return &AutosaveAck{
		AttemptID:        ac.attempt.ID,
		SavedAt:          now,
		RemainingSeconds: timer.Evaluate(ac.attempt.StartedAt, ac.section.Duration(), now, 0).RemainingSeconds,
	}, nil
}

// Answer confirms a single answer, used by the attempt stream.
func (s *SectionService) Answer(ctx context.Context, attemptID uuid.UUID, studentID int, in model.AnswerInput) error {
	ac, err := s.owned(ctx, attemptID, studentID)
	if err != nil {
		return err
	}
	return s.ledger.apply(ctx, ac, model.AttemptPayload{Answers: []model.AnswerInput{in}})
}

// Submit persists the final payload and finalizes the section. A section
// that was already submitted returns its stored result; a section whose time
// ran out is finalized with what was saved before expiry and the payload is
// dropped.
func (s *SectionService) Submit(ctx context.Context, attemptID uuid.UUID, studentID int, p model.AttemptPayload) (*SubmitResult, error) {
	ac, err := s.owned(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}

	trigger := model.TriggerExplicit
	if !ac.attempt.IsSubmitted() {
		err := s.ledger.apply(ctx, ac, p)
		switch {
		case err == nil:
		case isExpired(err):
			trigger = model.TriggerExpiry
		case errors.Is(err, ErrConflict):
			// Finalized concurrently, or never opened; the coordinator sorts
			// out which.
		default:
			return nil, err
		}
	}

	outcome, err := s.coordinator.FinalizeSection(ctx, ac.attempt.ID, trigger)
	if err != nil {
		return nil, err
	}

	res := &SubmitResult{
		AttemptID:        outcome.Section.ID,
		TotalCorrect:     outcome.Section.TotalCorrect,
		TotalQuestions:   outcome.Definition.TotalQuestions,
		IsWriting:        outcome.Definition.IsWriting,
		WritingWordCount: outcome.Section.WritingWordCount,
		TimeSpentSeconds: outcome.Section.TimeSpentSeconds,
		ExamCompleted:    outcome.ExamCompleted,
		TotalScore:       outcome.TotalScore,
		TimeExpired:      trigger == model.TriggerExpiry,
		AlreadySubmitted: !outcome.Applied && trigger == model.TriggerExplicit,
	}
	if outcome.Section.SubmitTrigger != nil && *outcome.Section.SubmitTrigger != model.TriggerExplicit {
		res.TimeExpired = true
	}
	return res, nil
}

// Results returns the per-section breakdown of an exam attempt.
func (s *SectionService) Results(ctx context.Context, examAttemptID uuid.UUID, studentID int) (*ExamResults, error) {
	examAttempt, err := s.attempts.GetExamAttempt(ctx, examAttemptID)
	if err != nil {
		return nil, fmt.Errorf("get exam attempt: %w", err)
	}
	if examAttempt.StudentID != studentID {
		return nil, fmt.Errorf("exam attempt %s: %w", examAttemptID, ErrNotFound)
	}
	exam, err := s.catalog.GetExam(ctx, examAttempt.ExamID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	siblings, err := s.attempts.ListSectionAttempts(ctx, examAttempt.ID)
	if err != nil {
		return nil, fmt.Errorf("list section attempts: %w", err)
	}

	bySection := indexBySection(siblings)
	out := &ExamResults{
		ExamAttemptID: examAttempt.ID,
		ExamID:        exam.ID,
		Title:         exam.Title,
		Mode:          exam.Mode,
		IsCompleted:   examAttempt.IsCompleted,
		TotalScore:    examAttempt.TotalScore,
		CompletedAt:   examAttempt.CompletedAt,
		Sections:      make([]SectionResult, 0, len(exam.Sections)),
	}
	for _, def := range exam.Sections {
		row := SectionResult{
			SectionID:      def.ID,
			SectionNumber:  def.SectionNumber,
			Title:          def.Title,
			IsWriting:      def.IsWriting,
			Status:         model.SectionStatusNotStarted,
			TotalQuestions: def.TotalQuestions,
		}
		if att, ok := bySection[def.ID]; ok {
			row.Status = att.Status
			row.TabSwitches = att.TabSwitches
			row.TotalAnswerChanges = att.TotalAnswerChanges
			if att.IsSubmitted() {
				row.TotalCorrect = att.TotalCorrect
				row.TimeSpentSeconds = att.TimeSpentSeconds
				row.WritingWordCount = att.WritingWordCount
				row.SubmittedAt = att.SubmittedAt
				row.SubmitTrigger = att.SubmitTrigger
			}
		}
		out.Sections = append(out.Sections, row)
	}
	return out, nil
}

// availableExam loads an exam and checks that the student may take it.
func (s *SectionService) availableExam(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamDefinition, error) {
	exam, err := s.catalog.GetExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if !exam.IsActive {
		return nil, fmt.Errorf("exam %s is inactive: %w", exam.ID, ErrExamUnavailable)
	}
	if exam.IsBaseline || exam.RequiredModuleID == nil {
		return exam, nil
	}

	done, err := s.roster.HasCompletedModule(ctx, studentID, *exam.RequiredModuleID)
	if err != nil {
		return nil, fmt.Errorf("check required module: %w", err)
	}
	if !done {
		return nil, fmt.Errorf("required module %s not completed: %w", *exam.RequiredModuleID, ErrExamUnavailable)
	}
	return exam, nil
}

// Attempt returns a section attempt of the student.
func (s *SectionService) Attempt(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.SectionAttempt, error) {
	ac, err := s.owned(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}
	return ac.attempt, nil
}

// owned loads a section attempt and verifies it belongs to the student.
// Attempts of other students are reported as not found.
func (s *SectionService) owned(ctx context.Context, attemptID uuid.UUID, studentID int) (*attemptContext, error) {
	ac, err := loadAttemptContext(ctx, s.attempts, s.catalog, attemptID)
	if err != nil {
		return nil, err
	}
	if ac.examAttempt.StudentID != studentID {
		return nil, fmt.Errorf("section attempt %s: %w", attemptID, ErrNotFound)
	}
	return ac, nil
}

// settleExpired finalizes running sections whose timer ran out, except the one
// with skipSectionID, and returns the refreshed sibling list and exam attempt.
// Failures are logged; the reconciler retries them.
func (s *SectionService) settleExpired(ctx context.Context, exam *model.ExamDefinition, examAttempt *model.ExamAttempt, siblings []model.SectionAttempt, skipSectionID uuid.UUID) ([]model.SectionAttempt, *model.ExamAttempt) {
	now := s.clock.Now()
	changed := false

	for i, att := range siblings {
		if att.Status != model.SectionStatusInProgress || att.SectionID == skipSectionID {
			continue
		}
		def, ok := exam.Section(att.SectionID)
		if !ok || !timer.Evaluate(att.StartedAt, def.Duration(), now, 0).Expired {
			continue
		}

		outcome, err := s.coordinator.FinalizeSection(ctx, att.ID, model.TriggerExpiry)
		if err != nil {
			s.log.Error().Err(err).Str("section_attempt_id", att.ID.String()).Msg("Expiry finalize failed")
			continue
		}
		siblings[i] = outcome.Section
		changed = true
	}

	if !changed {
		return siblings, examAttempt
	}
	fresh, err := s.attempts.GetExamAttempt(ctx, examAttempt.ID)
	if err != nil {
		s.log.Warn().Err(err).Str("exam_attempt_id", examAttempt.ID.String()).Msg("Exam attempt reload failed")
		return siblings, examAttempt
	}
	return siblings, fresh
}

func indexBySection(siblings []model.SectionAttempt) map[uuid.UUID]model.SectionAttempt {
	m := make(map[uuid.UUID]model.SectionAttempt, len(siblings))
	for _, a := range siblings {
		m[a.SectionID] = a
	}
	return m
}

// slotsOf lists every section of the exam for the gate, with NOT_STARTED for
// sections that have no attempt.
func slotsOf(exam *model.ExamDefinition, bySection map[uuid.UUID]model.SectionAttempt) []gate.Slot {
	slots := make([]gate.Slot, 0, len(exam.Sections))
	for _, def := range exam.Sections {
		status := model.SectionStatusNotStarted
		if a, ok := bySection[def.ID]; ok {
			status = a.Status
		}
		slots = append(slots, gate.Slot{SectionNumber: def.SectionNumber, Status: status})
	}
	return slots
}
