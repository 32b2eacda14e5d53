package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/simulacro-backend/internal/model"
	"github.com/stemsi/simulacro-backend/internal/timer"
)

// LedgerService owns the current answers of a section attempt and the
// append-only log of how they changed.
type LedgerService struct {
	attempts    AttemptStore
	answers     AnswerStore
	audit       AuditSink
	catalog     Catalog
	coordinator *Coordinator
	clock       timer.Clock
	log         zerolog.Logger
}

// NewLedgerService creates a new LedgerService.
func NewLedgerService(
	attempts AttemptStore,
	answers AnswerStore,
	audit AuditSink,
	catalog Catalog,
	coordinator *Coordinator,
	clock timer.Clock,
	log zerolog.Logger,
) *LedgerService {
	return &LedgerService{
		attempts:    attempts,
		answers:     answers,
		audit:       audit,
		catalog:     catalog,
		coordinator: coordinator,
		clock:       clock,
		log:         log.With().Str("component", "ledger").Logger(),
	}
}

// attemptContext is a section attempt together with its definitions.
type attemptContext struct {
	attempt     *model.SectionAttempt
	examAttempt *model.ExamAttempt
	exam        *model.ExamDefinition
	section     *model.SectionDefinition
}

func (l *LedgerService) load(ctx context.Context, attemptID uuid.UUID) (*attemptContext, error) {
	return loadAttemptContext(ctx, l.attempts, l.catalog, attemptID)
}

func loadAttemptContext(ctx context.Context, attempts AttemptStore, catalog Catalog, attemptID uuid.UUID) (*attemptContext, error) {
	att, err := attempts.GetSectionAttempt(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("get section attempt: %w", err)
	}
	examAttempt, err := attempts.GetExamAttempt(ctx, att.ExamAttemptID)
	if err != nil {
		return nil, fmt.Errorf("get exam attempt: %w", err)
	}
	exam, err := catalog.GetExam(ctx, examAttempt.ExamID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	def, ok := exam.Section(att.SectionID)
	if !ok {
		return nil, fmt.Errorf("section %s: %w", att.SectionID, ErrNotFound)
	}
	return &attemptContext{attempt: att, examAttempt: examAttempt, exam: exam, section: def}, nil
}

// requireMutable rejects attempts that are not running. An attempt whose timer
// ran out is finalized on the spot and ErrExpired is returned.
func (l *LedgerService) requireMutable(ctx context.Context, ac *attemptContext) error {
	switch ac.attempt.Status {
	case model.SectionStatusSubmitted:
		return ErrAlreadySubmitted
	case model.SectionStatusNotStarted:
		return fmt.Errorf("%w: section not opened", ErrConflict)
	}

	reading := timer.Evaluate(ac.attempt.StartedAt, ac.section.Duration(), l.clock.Now(), 0)
	if !reading.Expired {
		return nil
	}

	if _, err := l.coordinator.FinalizeSection(ctx, ac.attempt.ID, model.TriggerExpiry); err != nil {
		l.log.Error().Err(err).
			Str("section_attempt_id", ac.attempt.ID.String()).
			Msg("Auto-finalize on expiry failed")
	}
	return ErrExpired
}

// ConfirmAnswer sets the current option of a question; a nil optionID clears it.
func (l *LedgerService) ConfirmAnswer(ctx context.Context, attemptID, questionID uuid.UUID, optionID *uuid.UUID) error {
	ac, err := l.load(ctx, attemptID)
	if err != nil {
		return err
	}
	if err := l.requireMutable(ctx, ac); err != nil {
		return err
	}
	return l.confirmAnswers(ctx, ac, []model.AnswerInput{{QuestionID: questionID, OptionID: optionID}})
}

// UpdateWritingContent replaces the text of a writing section.
func (l *LedgerService) UpdateWritingContent(ctx context.Context, attemptID uuid.UUID, text string) error {
	ac, err := l.load(ctx, attemptID)
	if err != nil {
		return err
	}
	if err := l.requireMutable(ctx, ac); err != nil {
		return err
	}
	return l.saveWriting(ctx, ac, text)
}

// apply persists an autosave or final payload: answers, writing text, the tab
// switch counter and any client-side audit records.
func (l *LedgerService) apply(ctx context.Context, ac *attemptContext, p model.AttemptPayload) error {
	if err := l.requireMutable(ctx, ac); err != nil {
		return err
	}

	if len(p.Answers) > 0 {
		if err := l.confirmAnswers(ctx, ac, p.Answers); err != nil {
			return err
		}
	}
	if p.WritingContent != nil {
		if err := l.saveWriting(ctx, ac, *p.WritingContent); err != nil {
			return err
		}
	}
	if p.TabSwitches > 0 {
		if err := l.attempts.RecordTabSwitches(ctx, ac.attempt.ID, p.TabSwitches); err != nil {
			return fmt.Errorf("record tab switches: %w", err)
		}
	}

	l.appendClientAudit(ctx, ac.attempt.ID, p.AnswerEvents, p.QuestionViews)
	return nil
}

func (l *LedgerService) confirmAnswers(ctx context.Context, ac *attemptContext, inputs []model.AnswerInput) error {
	if ac.section.IsWriting {
		return fmt.Errorf("%w: writing sections take no option answers", ErrValidation)
	}

	questions, err := l.catalog.ListQuestions(ctx, ac.section.ID)
	if err != nil {
		return fmt.Errorf("list questions: %w", err)
	}
	byID := make(map[uuid.UUID]model.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}

	for _, in := range inputs {
		q, ok := byID[in.QuestionID]
		if !ok {
			return fmt.Errorf("%w: question %s is not part of this section", ErrValidation, in.QuestionID)
		}
		if in.OptionID != nil && !q.HasOption(*in.OptionID) {
			return fmt.Errorf("%w: option %s does not belong to question %s", ErrValidation, *in.OptionID, q.ID)
		}
	}

	events := make([]model.AnswerEvent, 0, len(inputs))
	for _, in := range inputs {
		now := l.clock.Now()
		prev, changed, err := l.answers.UpsertAnswer(ctx, ac.attempt.ID, in.QuestionID, in.OptionID, now)
		if err != nil {
			return fmt.Errorf("upsert answer: %w", err)
		}
		if !changed {
			continue
		}
		events = append(events, model.AnswerEvent{
			SectionAttemptID: ac.attempt.ID,
			QuestionID:       in.QuestionID,
			EventType:        classify(prev, in.OptionID),
			FromOptionID:     prev,
			ToOptionID:       in.OptionID,
			Source:           model.EventSourceServer,
			OccurredAt:       now,
		})
	}

	if len(events) > 0 {
		if err := l.audit.AppendAnswerEvents(ctx, events); err != nil {
			l.log.Warn().Err(err).Int("count", len(events)).Msg("Answer events not recorded")
		}
	}
	return nil
}

// classify names the transition from prev to next. Callers only pass actual
// changes, so prev == next never reaches here.
func classify(prev, next *uuid.UUID) model.AnswerEventType {
	switch {
	case next == nil:
		return model.AnswerEventCleared
	case prev == nil:
		return model.AnswerEventSelected
	default:
		return model.AnswerEventChanged
	}
}

func (l *LedgerService) saveWriting(ctx context.Context, ac *attemptContext, text string) error {
	if !ac.section.IsWriting {
		return fmt.Errorf("%w: section takes no writing content", ErrValidation)
	}
	if err := l.attempts.SaveWriting(ctx, ac.attempt.ID, text, CountWords(text)); err != nil {
		return fmt.Errorf("save writing: %w", err)
	}
	return nil
}

func (l *LedgerService) appendClientAudit(ctx context.Context, attemptID uuid.UUID, events []model.AnswerEventInput, views []model.QuestionViewInput) {
	if len(events) > 0 {
		out := make([]model.AnswerEvent, len(events))
		for i, e := range events {
			out[i] = model.AnswerEvent{
				SectionAttemptID: attemptID,
				QuestionID:       e.QuestionID,
				EventType:        e.EventType,
				FromOptionID:     e.FromOptionID,
				ToOptionID:       e.ToOptionID,
				Source:           model.EventSourceClient,
				OccurredAt:       e.OccurredAt,
			}
		}
		if err := l.audit.AppendAnswerEvents(ctx, out); err != nil {
			l.log.Warn().Err(err).Int("count", len(out)).Msg("Client answer events not recorded")
		}
	}

	if len(views) > 0 {
		out := make([]model.QuestionView, len(views))
		for i, v := range views {
			out[i] = model.QuestionView{
				SectionAttemptID: attemptID,
				QuestionID:       v.QuestionID,
				DwellSeconds:     v.DwellSeconds,
				ViewedAt:         v.ViewedAt,
			}
		}
		if err := l.audit.AppendQuestionViews(ctx, out); err != nil {
			l.log.Warn().Err(err).Int("count", len(out)).Msg("Question views not recorded")
		}
	}
}

// CountWords counts whitespace-separated tokens.
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// isExpired reports whether err means the section ran out of time.
func isExpired(err error) bool {
	return errors.Is(err, ErrExpired)
}
