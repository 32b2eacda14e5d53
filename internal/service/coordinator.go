package service

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/simulacro-backend/internal/model"
	"github.com/stemsi/simulacro-backend/internal/timer"
)

// Coordinator is the single finalize path for section attempts. Explicit
// submits, timer expiry and the deadline reconciler all end up here.
type Coordinator struct {
	attempts AttemptStore
	catalog  Catalog
	clock    timer.Clock
	log      zerolog.Logger
}

// NewCoordinator creates a new Coordinator.
func NewCoordinator(attempts AttemptStore, catalog Catalog, clock timer.Clock, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		attempts: attempts,
		catalog:  catalog,
		clock:    clock,
		log:      log.With().Str("component", "coordinator").Logger(),
	}
}

// FinalizeOutcome describes the section after a finalize call.
type FinalizeOutcome struct {
	Section    model.SectionAttempt    `json:"section"`
	Definition model.SectionDefinition `json:"definition"`
	// Applied is false on the idempotent path: the section had already been
	// submitted and nothing changed.
	Applied       bool `json:"applied"`
	ExamCompleted bool `json:"exam_completed"`
	// CompletedNow is set only for the call that completed the exam attempt.
	CompletedNow bool     `json:"completed_now"`
	TotalScore   *float64 `json:"total_score,omitempty"`
}

// FinalizeSection closes a section attempt. Repeated calls are no-ops that
// report Applied=false.
func (c *Coordinator) FinalizeSection(ctx context.Context, sectionAttemptID uuid.UUID, trigger model.SubmitTrigger) (*FinalizeOutcome, error) {
	att, err := c.attempts.GetSectionAttempt(ctx, sectionAttemptID)
	if err != nil {
		return nil, fmt.Errorf("get section attempt: %w", err)
	}
	examAttempt, err := c.attempts.GetExamAttempt(ctx, att.ExamAttemptID)
	if err != nil {
		return nil, fmt.Errorf("get exam attempt: %w", err)
	}
	exam, err := c.catalog.GetExam(ctx, examAttempt.ExamID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	def, ok := exam.Section(att.SectionID)
	if !ok {
		return nil, fmt.Errorf("section %s of exam %s: %w", att.SectionID, exam.ID, ErrNotFound)
	}

	if att.IsSubmitted() {
		c.log.Debug().
			Str("section_attempt_id", att.ID.String()).
			Str("trigger", string(trigger)).
			Msg("Finalize skipped, already submitted")
		return outcomeOf(att, examAttempt, def, false, false), nil
	}

	now := c.clock.Now()
	reading := timer.Evaluate(att.StartedAt, def.Duration(), now, 0)

	switch {
	case att.Status == model.SectionStatusNotStarted && trigger != model.TriggerDeadline:
		return nil, fmt.Errorf("%w: section was never opened", ErrValidation)
	case att.Status == model.SectionStatusInProgress && trigger != model.TriggerExplicit && !reading.Expired:
		return nil, fmt.Errorf("%w: section timer is still running", ErrValidation)
	}

	params := FinalizeParams{
		SectionAttemptID: att.ID,
		Trigger:          trigger,
		SubmittedAt:      now,
		TimeSpentSeconds: reading.ClampedSeconds(),
		IsWriting:        def.IsWriting,
		ExpectedStatus:   att.Status,
		Complete:         completionFor(exam),
	}
	if !def.IsWriting {
		questions, err := c.catalog.ListQuestions(ctx, def.ID)
		if err != nil {
			return nil, fmt.Errorf("list questions: %w", err)
		}
		params.Score = scoreAgainst(questions)
	}

	res, err := c.attempts.Finalize(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("finalize section attempt: %w", err)
	}

	evt := c.log.Info()
	if !res.Applied {
		evt = c.log.Debug()
	}
	evt.Str("section_attempt_id", att.ID.String()).
		Str("trigger", string(trigger)).
		Bool("applied", res.Applied).
		Bool("exam_completed_now", res.CompletedNow).
		Int("time_spent_seconds", res.Section.TimeSpentSeconds).
		Msg("Section finalize")

	return outcomeOf(&res.Section, &res.ExamAttempt, def, res.Applied, res.CompletedNow), nil
}

// RecheckCompletion re-evaluates exam completion from a fresh read of all
// sibling sections. It reports whether this call flipped the exam attempt.
func (c *Coordinator) RecheckCompletion(ctx context.Context, examAttemptID uuid.UUID) (*model.ExamAttempt, bool, error) {
	examAttempt, err := c.attempts.GetExamAttempt(ctx, examAttemptID)
	if err != nil {
		return nil, false, fmt.Errorf("get exam attempt: %w", err)
	}
	if examAttempt.IsCompleted {
		return examAttempt, false, nil
	}
	exam, err := c.catalog.GetExam(ctx, examAttempt.ExamID)
	if err != nil {
		return nil, false, fmt.Errorf("get exam: %w", err)
	}
	return c.attempts.RecheckCompletion(ctx, examAttemptID, completionFor(exam), c.clock.Now())
}

func outcomeOf(att *model.SectionAttempt, examAttempt *model.ExamAttempt, def *model.SectionDefinition, applied, completedNow bool) *FinalizeOutcome {
	return &FinalizeOutcome{
		Section:       *att,
		Definition:    *def,
		Applied:       applied,
		ExamCompleted: examAttempt.IsCompleted,
		CompletedNow:  completedNow,
		TotalScore:    examAttempt.TotalScore,
	}
}

// scoreAgainst counts current answers whose option is flagged correct.
func scoreAgainst(questions []model.Question) func([]model.Answer) *int {
	correct := make(map[uuid.UUID]map[uuid.UUID]bool, len(questions))
	for _, q := range questions {
		for _, o := range q.Options {
			if !o.IsCorrect {
				continue
			}
			if correct[q.ID] == nil {
				correct[q.ID] = make(map[uuid.UUID]bool)
			}
			correct[q.ID][o.ID] = true
		}
	}

	return func(answers []model.Answer) *int {
		n := 0
		for _, a := range answers {
			if a.OptionID != nil && correct[a.QuestionID][*a.OptionID] {
				n++
			}
		}
		return &n
	}
}

// completionFor returns the exam completion rule: every section of the
// definition has a submitted attempt. The score covers non-writing sections.
func completionFor(exam *model.ExamDefinition) func([]model.SectionAttempt) (float64, bool) {
	return func(siblings []model.SectionAttempt) (float64, bool) {
		if len(exam.Sections) == 0 {
			return 0, false
		}

		bySection := make(map[uuid.UUID]model.SectionAttempt, len(siblings))
		for _, s := range siblings {
			bySection[s.SectionID] = s
		}

		var correct, questions int
		for _, def := range exam.Sections {
			a, ok := bySection[def.ID]
			if !ok || a.Status != model.SectionStatusSubmitted {
				return 0, false
			}
			if def.IsWriting {
				continue
			}
			questions += def.TotalQuestions
			if a.TotalCorrect != nil {
				correct += *a.TotalCorrect
			}
		}
		return TotalScore(correct, questions), true
	}
}

// TotalScore is correct/questions as a percentage rounded to two decimals.
func TotalScore(correct, questions int) float64 {
	if questions <= 0 {
		return 0
	}
	return math.Round(float64(correct)/float64(questions)*10000) / 100
}
