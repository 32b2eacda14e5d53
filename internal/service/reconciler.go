package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/simulacro-backend/internal/deadline"
	"github.com/stemsi/simulacro-backend/internal/model"
	"github.com/stemsi/simulacro-backend/internal/timer"
)

// Reconciler closes sections whose timer or calendar deadline passed while
// nobody was looking. It is safe to run repeatedly and concurrently with
// student traffic; every mutation goes through the Coordinator.
type Reconciler struct {
	attempts    AttemptStore
	roster      Roster
	catalog     Catalog
	coordinator *Coordinator
	policy      deadline.Policy
	clock       timer.Clock
	log         zerolog.Logger
}

// NewReconciler creates a new Reconciler.
func NewReconciler(
	attempts AttemptStore,
	roster Roster,
	catalog Catalog,
	coordinator *Coordinator,
	policy deadline.Policy,
	clock timer.Clock,
	log zerolog.Logger,
) *Reconciler {
	return &Reconciler{
		attempts:    attempts,
		roster:      roster,
		catalog:     catalog,
		coordinator: coordinator,
		policy:      policy,
		clock:       clock,
		log:         log.With().Str("component", "reconciler").Logger(),
	}
}

// Report summarizes one reconciler run.
type Report struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Schedules int `json:"schedules"`
	Students  int `json:"students"`
	// Expired counts running sections closed because their timer ran out.
	Expired int `json:"expired"`
	// ZeroFilled counts no-show sections closed with a zero.
	ZeroFilled int `json:"zero_filled"`
	// DeadlineFinalized counts expired in-progress sections scored from their saved answers.
	DeadlineFinalized int `json:"deadline_finalized"`
	// InGrace counts sections past their due day whose timer is still running.
	InGrace        int `json:"in_grace"`
	ExamsCompleted int `json:"exams_completed"`
	Errors         int `json:"errors"`
}

// Run performs SweepExpired followed by Sweep.
func (r *Reconciler) Run(ctx context.Context) (*Report, error) {
	rep := &Report{StartedAt: r.clock.Now()}

	if err := r.sweepExpired(ctx, rep); err != nil {
		rep.FinishedAt = r.clock.Now()
		return rep, err
	}
	err := r.sweep(ctx, rep)
	rep.FinishedAt = r.clock.Now()

	r.log.Info().
		Int("schedules", rep.Schedules).
		Int("students", rep.Students).
		Int("expired", rep.Expired).
		Int("zero_filled", rep.ZeroFilled).
		Int("deadline_finalized", rep.DeadlineFinalized).
		Int("in_grace", rep.InGrace).
		Int("exams_completed", rep.ExamsCompleted).
		Int("errors", rep.Errors).
		Dur("took", rep.FinishedAt.Sub(rep.StartedAt)).
		Msg("Reconcile run finished")
	return rep, err
}

// Sweep walks every cohort schedule and approved student and closes the
// sections whose due day has passed.
func (r *Reconciler) Sweep(ctx context.Context) (*Report, error) {
	rep := &Report{StartedAt: r.clock.Now()}
	err := r.sweep(ctx, rep)
	rep.FinishedAt = r.clock.Now()
	return rep, err
}

// SweepExpired finalizes every running section whose timer has run out,
// regardless of the calendar.
func (r *Reconciler) SweepExpired(ctx context.Context) (*Report, error) {
	rep := &Report{StartedAt: r.clock.Now()}
	err := r.sweepExpired(ctx, rep)
	rep.FinishedAt = r.clock.Now()
	return rep, err
}

func (r *Reconciler) sweepExpired(ctx context.Context, rep *Report) error {
	running, err := r.attempts.ListInProgress(ctx)
	if err != nil {
		return fmt.Errorf("list in-progress attempts: %w", err)
	}

	now := r.clock.Now()
	for _, att := range running {
		if err := ctx.Err(); err != nil {
			return err
		}

		ac, err := loadAttemptContext(ctx, r.attempts, r.catalog, att.ID)
		if err != nil {
			rep.Errors++
			r.log.Error().Err(err).Str("section_attempt_id", att.ID.String()).Msg("Load running attempt failed")
			continue
		}
		if !timer.Evaluate(att.StartedAt, ac.section.Duration(), now, 0).Expired {
			continue
		}

		outcome, err := r.coordinator.FinalizeSection(ctx, att.ID, model.TriggerExpiry)
		if err != nil {
			rep.Errors++
			r.log.Error().Err(err).Str("section_attempt_id", att.ID.String()).Msg("Expiry finalize failed")
			continue
		}
		if outcome.Applied {
			rep.Expired++
		}
		if outcome.CompletedNow {
			rep.ExamsCompleted++
		}
	}
	return nil
}

func (r *Reconciler) sweep(ctx context.Context, rep *Report) error {
	schedules, err := r.roster.ListSchedules(ctx)
	if err != nil {
		return fmt.Errorf("list schedules: %w", err)
	}

	for _, sched := range schedules {
		if err := ctx.Err(); err != nil {
			return err
		}

		exam, err := r.catalog.GetExam(ctx, sched.ExamID)
		if err != nil {
			rep.Errors++
			r.log.Error().Err(err).Str("exam_id", sched.ExamID.String()).Msg("Load scheduled exam failed")
			continue
		}
		if !exam.IsActive {
			continue
		}
		rep.Schedules++

		students, err := r.roster.ListApprovedStudents(ctx, sched.CohortID)
		if err != nil {
			rep.Errors++
			r.log.Error().Err(err).Int("cohort_id", sched.CohortID).Msg("List cohort students failed")
			continue
		}

		for _, st := range students {
			if err := ctx.Err(); err != nil {
				return err
			}
			rep.Students++
			if err := r.reconcileStudent(ctx, exam, sched, st, rep); err != nil {
				rep.Errors++
				r.log.Error().Err(err).
					Str("exam_id", exam.ID.String()).
					Int("student_id", st.StudentID).
					Msg("Reconcile student failed")
			}
		}
	}
	return nil
}

// reconcileStudent closes the missed sections of one student. Each section is
// handled on its own; a later section that is already running is never
// touched by an earlier section's zero-fill.
func (r *Reconciler) reconcileStudent(ctx context.Context, exam *model.ExamDefinition, sched model.CohortExamSchedule, st model.RosterStudent, rep *Report) error {
	var missed []model.SectionDefinition
	for _, def := range exam.Sections {
		if r.policy.Missed(exam.Mode, sched.StartDay, def.SectionNumber, st.CurrentDay) {
			missed = append(missed, def)
		}
	}
	if len(missed) == 0 {
		return nil
	}

	examAttempt, err := r.attempts.GetOrCreateExamAttempt(ctx, exam.ID, st.StudentID)
	if err != nil {
		return fmt.Errorf("get or create exam attempt: %w", err)
	}
	if examAttempt.IsCompleted {
		return nil
	}

	siblings, err := r.attempts.ListSectionAttempts(ctx, examAttempt.ID)
	if err != nil {
		return fmt.Errorf("list section attempts: %w", err)
	}
	bySection := indexBySection(siblings)

	now := r.clock.Now()
	var firstErr error
	for _, def := range missed {
		att, ok := bySection[def.ID]
		if !ok {
			created, err := r.attempts.GetOrCreateSectionAttempt(ctx, examAttempt.ID, def.ID)
			if err != nil {
				firstErr = keepFirst(firstErr, fmt.Errorf("create section attempt %d: %w", def.SectionNumber, err))
				continue
			}
			att = *created
		}

		switch att.Status {
		case model.SectionStatusSubmitted:
			continue
		case model.SectionStatusInProgress:
			if !timer.Evaluate(att.StartedAt, def.Duration(), now, 0).Expired {
				rep.InGrace++
				continue
			}
		}

		outcome, err := r.coordinator.FinalizeSection(ctx, att.ID, model.TriggerDeadline)
		if err != nil {
			firstErr = keepFirst(firstErr, fmt.Errorf("finalize section %d: %w", def.SectionNumber, err))
			continue
		}
		if outcome.CompletedNow {
			rep.ExamsCompleted++
		}
		if !outcome.Applied {
			continue
		}
		if att.Status == model.SectionStatusNotStarted {
			rep.ZeroFilled++
		} else {
			rep.DeadlineFinalized++
		}
	}

	if _, flipped, err := r.coordinator.RecheckCompletion(ctx, examAttempt.ID); err != nil {
		firstErr = keepFirst(firstErr, fmt.Errorf("recheck completion: %w", err))
	} else if flipped {
		rep.ExamsCompleted++
	}
	return firstErr
}

func keepFirst(first, err error) error {
	if first != nil {
		return first
	}
	return err
}

