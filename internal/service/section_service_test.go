package service_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/simulacro-backend/internal/model"
	"github.com/stemsi/simulacro-backend/internal/service"
)

func TestOverviewCreatesExamAttemptLazily(t *testing.T) {
	f := newFixture(t, model.ExamModeContinuous, monthlyExam()...)

	_, err := f.store.FindExamAttempt(f.ctx, f.exam.ID, studentID)
	require.ErrorIs(t, err, service.ErrNotFound)

	ov, err := f.sections.Overview(f.ctx, f.exam.ID, studentID)
	require.NoError(t, err)
	assert.Equal(t, f.examAttempt(t).ID, ov.ExamAttemptID)
	require.Len(t, ov.Sections, 8)

	assert.True(t, ov.Sections[0].CanEnter)
	for _, s := range ov.Sections[1:] {
		assert.False(t, s.CanEnter, "section %d", s.SectionNumber)
		assert.Equal(t, model.SectionStatusNotStarted, s.Status)
		assert.Nil(t, s.AttemptID)
	}

	again, err := f.sections.Overview(f.ctx, f.exam.ID, studentID)
	require.NoError(t, err)
	assert.Equal(t, ov.ExamAttemptID, again.ExamAttemptID)
}

func TestOverviewSettlesExpiredSections(t *testing.T) {
	f := newFixture(t, model.ExamModeWeekly, mc(10, 3), mc(10, 3))
	st := f.open(t, 1)

	f.clock.Advance(11 * time.Minute)
	ov, err := f.sections.Overview(f.ctx, f.exam.ID, studentID)
	require.NoError(t, err)

	assert.Equal(t, model.SectionStatusSubmitted, ov.Sections[0].Status)
	att := f.sectionAttempt(t, st.AttemptID)
	assert.Equal(t, 600, att.TimeSpentSeconds)
	require.NotNil(t, att.SubmitTrigger)
	assert.Equal(t, model.TriggerExpiry, *att.SubmitTrigger)
}

func TestOpenSectionStartsTimerOnce(t *testing.T) {
	f := newFixture(t, model.ExamModeWeekly, mc(10, 3))

	first := f.open(t, 1)
	require.NotNil(t, first.StartedAt)
	assert.Equal(t, model.SectionStatusInProgress, first.Status)
	assert.Equal(t, 600, first.RemainingSeconds)
	assert.Len(t, first.Questions, 3)

	f.clock.Advance(3 * time.Minute)
	again, err := f.sections.OpenSection(f.ctx, f.exam.ID, f.def(1).ID, studentID, 5)
	require.NoError(t, err)
	assert.Equal(t, first.AttemptID, again.AttemptID)
	assert.Equal(t, *first.StartedAt, *again.StartedAt)
	assert.Equal(t, 180, again.ServerElapsedSeconds)
	assert.Equal(t, 420, again.RemainingSeconds)
	assert.Equal(t, "SERVER", string(again.TimerSource))
}

func TestOpenSectionResumesSavedState(t *testing.T) {
	f := newFixture(t, model.ExamModeWeekly, mc(10, 3))
	st := f.open(t, 1)

	_, err := f.sections.Autosave(f.ctx, st.AttemptID, studentID, model.AttemptPayload{
		Answers:     []model.AnswerInput{f.answer(1, 0, f.correct(1, 0)), f.answer(1, 2, f.wrong(1, 2, 0))},
		TabSwitches: 2,
	})
	require.NoError(t, err)

	resumed := f.open(t, 1)
	assert.Equal(t, 2, resumed.TabSwitches)
	require.Len(t, resumed.SavedAnswers, 2)
	got := map[uuid.UUID]uuid.UUID{}
	for _, a := range resumed.SavedAnswers {
		got[a.QuestionID] = *a.OptionID
	}
	assert.Equal(t, *f.correct(1, 0), got[f.question(1, 0).ID])
	assert.Equal(t, *f.wrong(1, 2, 0), got[f.question(1, 2).ID])
}

func TestOpenSectionExpiredFinalizes(t *testing.T) {
	f := newFixture(t, model.ExamModeWeekly, mc(10, 3))
	st := f.open(t, 1)

	f.clock.Advance(10 * time.Minute)
	_, err := f.sections.OpenSection(f.ctx, f.exam.ID, f.def(1).ID, studentID, 0)
	require.ErrorIs(t, err, service.ErrExpired)

	att := f.sectionAttempt(t, st.AttemptID)
	assert.Equal(t, model.SectionStatusSubmitted, att.Status)
	assert.Equal(t, 600, att.TimeSpentSeconds)

	review := f.open(t, 1)
	assert.True(t, review.ReadOnly)
	assert.Equal(t, 600, review.ServerElapsedSeconds)
	assert.Equal(t, 0, review.RemainingSeconds)
}

func TestQuestionsNeverExposeCorrectness(t *testing.T) {
	f := newFixture(t, model.ExamModeWeekly, mc(10, 2))
	st := f.open(t, 1)
	for _, q := range st.Questions {
		assert.Len(t, q.Options, 4)
	}
	// QuestionForStudent has no correctness field at all; the JSON shape is
	// pinned in the handler tests.
}

func TestOpenSectionUnknownSection(t *testing.T) {
	f := newFixture(t, model.ExamModeWeekly, mc(10, 2))
	_, err := f.sections.OpenSection(f.ctx, f.exam.ID, uuid.New(), studentID, 0)
	require.ErrorIs(t, err, service.ErrNotFound)
}

func TestExamAvailability(t *testing.T) {
	t.Run("inactive", func(t *testing.T) {
		f := newFixture(t, model.ExamModeWeekly, mc(10, 2))
		f.exam.IsActive = false
		f.store.PutExam(f.exam)

		_, err := f.sections.Overview(f.ctx, f.exam.ID, studentID)
		require.ErrorIs(t, err, service.ErrExamUnavailable)
	})

	t.Run("required module", func(t *testing.T) {
		f := newFixture(t, model.ExamModeWeekly, mc(10, 2))
		module := uuid.New()
		f.exam.RequiredModuleID = &module
		f.store.PutExam(f.exam)

		_, err := f.sections.OpenSection(f.ctx, f.exam.ID, f.def(1).ID, studentID, 0)
		require.ErrorIs(t, err, service.ErrExamUnavailable)

		f.store.CompleteModule(studentID, module)
		f.open(t, 1)
	})

	t.Run("baseline ignores module", func(t *testing.T) {
		f := newFixture(t, model.ExamModeWeekly, mc(10, 2))
		module := uuid.New()
		f.exam.RequiredModuleID = &module
		f.exam.IsBaseline = true
		f.store.PutExam(f.exam)

		f.open(t, 1)
	})
}

func TestAttemptsOfOtherStudentsAreNotFound(t *testing.T) {
	f := newFixture(t, model.ExamModeWeekly, mc(10, 2))
	st := f.open(t, 1)

	_, err := f.sections.Autosave(f.ctx, st.AttemptID, studentID+1, model.AttemptPayload{})
	require.ErrorIs(t, err, service.ErrNotFound)
	_, err = f.sections.Submit(f.ctx, st.AttemptID, studentID+1, model.AttemptPayload{})
	require.ErrorIs(t, err, service.ErrNotFound)
	_, err = f.sections.Results(f.ctx, st.ExamAttemptID, studentID+1)
	require.ErrorIs(t, err, service.ErrNotFound)
}

func TestTimeSpentNeverExceedsDuration(t *testing.T) {
	cases := []struct {
		name    string
		elapsed time.Duration
		want    int
	}{
		{"early submit", 4 * time.Minute, 240},
		{"just before expiry", 10*time.Minute - time.Second, 599},
		{"at expiry", 10 * time.Minute, 600},
		{"long after expiry", 3 * time.Hour, 600},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, model.ExamModeWeekly, mc(10, 2))
			st := f.open(t, 1)
			f.clock.Advance(tc.elapsed)

			res := f.submit(t, st.AttemptID, model.AttemptPayload{})
			assert.Equal(t, tc.want, res.TimeSpentSeconds)
			assert.Equal(t, tc.elapsed >= 10*time.Minute, res.TimeExpired)
		})
	}
}

func TestSubmitAfterExpiryDropsPayload(t *testing.T) {
	f := newFixture(t, model.ExamModeWeekly, mc(10, 2))
	st := f.open(t, 1)

	_, err := f.sections.Autosave(f.ctx, st.AttemptID, studentID, model.AttemptPayload{
		Answers: []model.AnswerInput{f.answer(1, 0, f.correct(1, 0))},
	})
	require.NoError(t, err)

	f.clock.Advance(12 * time.Minute)
	res := f.submit(t, st.AttemptID, model.AttemptPayload{
		Answers: []model.AnswerInput{f.answer(1, 1, f.correct(1, 1))},
	})
	assert.True(t, res.TimeExpired)
	assert.False(t, res.AlreadySubmitted)
	require.NotNil(t, res.TotalCorrect)
	assert.Equal(t, 1, *res.TotalCorrect)
	assert.Equal(t, 600, res.TimeSpentSeconds)
}

func TestSubmitPersistsFinalPayload(t *testing.T) {
	f := newFixture(t, model.ExamModeWeekly, mc(10, 3))
	st := f.open(t, 1)

	res := f.submit(t, st.AttemptID, model.AttemptPayload{
		Answers: []model.AnswerInput{
			f.answer(1, 0, f.correct(1, 0)),
			f.answer(1, 1, f.correct(1, 1)),
			f.answer(1, 2, f.wrong(1, 2, 1)),
		},
		TabSwitches: 4,
	})
	require.NotNil(t, res.TotalCorrect)
	assert.Equal(t, 2, *res.TotalCorrect)
	assert.Equal(t, 3, res.TotalQuestions)
	assert.False(t, res.IsWriting)
	assert.False(t, res.AlreadySubmitted)

	att := f.sectionAttempt(t, st.AttemptID)
	assert.Equal(t, 4, att.TabSwitches)
	require.NotNil(t, att.SubmitTrigger)
	assert.Equal(t, model.TriggerExplicit, *att.SubmitTrigger)
}

func TestSubmitNeverOpenedSection(t *testing.T) {
	f := newFixture(t, model.ExamModeWeekly, mc(10, 2), mc(10, 2))
	f.open(t, 1)
	ea := f.examAttempt(t)

	att, err := f.store.GetOrCreateSectionAttempt(f.ctx, ea.ID, f.def(2).ID)
	require.NoError(t, err)

	_, err = f.sections.Submit(f.ctx, att.ID, studentID, model.AttemptPayload{})
	require.ErrorIs(t, err, service.ErrValidation)
	assert.Equal(t, model.SectionStatusNotStarted, f.sectionAttempt(t, att.ID).Status)
}

func TestSubmittedSectionIsImmutable(t *testing.T) {
	f := newFixture(t, model.ExamModeWeekly, mc(10, 2), writing(30))
	st := f.open(t, 1)
	first := f.submit(t, st.AttemptID, model.AttemptPayload{
		Answers: []model.AnswerInput{f.answer(1, 0, f.correct(1, 0))},
	})
	before := f.sectionAttempt(t, st.AttemptID)

	f.clock.Advance(time.Minute)

	_, err := f.sections.Autosave(f.ctx, st.AttemptID, studentID, model.AttemptPayload{
		Answers: []model.AnswerInput{f.answer(1, 1, f.correct(1, 1))},
	})
	require.ErrorIs(t, err, service.ErrConflict)

	err = f.ledger.ConfirmAnswer(f.ctx, st.AttemptID, f.question(1, 1).ID, f.correct(1, 1))
	require.ErrorIs(t, err, service.ErrConflict)

	again := f.submit(t, st.AttemptID, model.AttemptPayload{
		Answers: []model.AnswerInput{f.answer(1, 1, f.correct(1, 1))},
	})
	assert.True(t, again.AlreadySubmitted)
	assert.Equal(t, *first.TotalCorrect, *again.TotalCorrect)

	after := f.sectionAttempt(t, st.AttemptID)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, *before.TotalCorrect, *after.TotalCorrect)
	assert.Equal(t, before.TimeSpentSeconds, after.TimeSpentSeconds)
	assert.Equal(t, *before.SubmittedAt, *after.SubmittedAt)

	// Writing content of a submitted writing section is frozen too.
	ws := f.open(t, 2)
	text := words(12)
	f.submit(t, ws.AttemptID, model.AttemptPayload{WritingContent: &text})
	err = f.ledger.UpdateWritingContent(f.ctx, ws.AttemptID, words(3))
	require.ErrorIs(t, err, service.ErrConflict)
	assert.Equal(t, text, *f.sectionAttempt(t, ws.AttemptID).WritingContent)
}

func TestAutosaveAfterExpiryFinalizes(t *testing.T) {
	f := newFixture(t, model.ExamModeWeekly, mc(10, 2))
	st := f.open(t, 1)
	f.clock.Advance(10*time.Minute + time.Second)

	_, err := f.sections.Autosave(f.ctx, st.AttemptID, studentID, model.AttemptPayload{
		Answers: []model.AnswerInput{f.answer(1, 0, f.correct(1, 0))},
	})
	require.ErrorIs(t, err, service.ErrExpired)

	att := f.sectionAttempt(t, st.AttemptID)
	assert.Equal(t, model.SectionStatusSubmitted, att.Status)
	assert.Equal(t, 0, *att.TotalCorrect)
}

func TestAutosaveAck(t *testing.T) {
	f := newFixture(t, model.ExamModeWeekly, mc(10, 2))
	st := f.open(t, 1)
	f.clock.Advance(90 * time.Second)

	ack, err := f.sections.Autosave(f.ctx, st.AttemptID, studentID, model.AttemptPayload{TabSwitches: 1})
	require.NoError(t, err)
	assert.Equal(t, st.AttemptID, ack.AttemptID)
	assert.Equal(t, 510, ack.RemainingSeconds)
	assert.Equal(t, t0.Add(90*time.Second), ack.SavedAt)
}

func TestTabSwitchesOnlyGrow(t *testing.T) {
	f := newFixture(t, model.ExamModeWeekly, mc(10, 2))
	st := f.open(t, 1)

	for _, n := range []int{3, 1, 5, 0} {
		_, err := f.sections.Autosave(f.ctx, st.AttemptID, studentID, model.AttemptPayload{TabSwitches: n})
		require.NoError(t, err)
	}
	assert.Equal(t, 5, f.sectionAttempt(t, st.AttemptID).TabSwitches)
}

// Scenario B: independent weekly sections, completion flips exactly once.
func TestWeeklySectionsCompleteInAnyOrder(t *testing.T) {
	f := newFixture(t, model.ExamModeWeekly, monthlyExam()...)

	r7 := f.openAndSubmit(t, 7, 2)
	r3 := f.openAndSubmit(t, 3, 5)
	assert.False(t, r7.ExamCompleted)
	assert.False(t, r3.ExamCompleted)

	completions := 0
	for _, n := range []int{8, 1, 6, 2, 5, 4} {
		res := f.openAndSubmit(t, n, 1)
		if res.ExamCompleted {
			completions++
			assert.Equal(t, 4, n, "only the last section completes the exam")
		}
	}
	assert.Equal(t, 1, completions)

	ea := f.examAttempt(t)
	require.True(t, ea.IsCompleted)
	require.NotNil(t, ea.TotalScore)
	// 2 + 5 + 5*1 correct over 7*5 questions; the writing section is excluded.
	assert.Equal(t, service.TotalScore(12, 35), *ea.TotalScore)
	assert.Equal(t, 34.29, *ea.TotalScore)

	// The score stays frozen even if completion is re-evaluated.
	again, flipped, err := f.coord.RecheckCompletion(f.ctx, ea.ID)
	require.NoError(t, err)
	assert.False(t, flipped)
	assert.Equal(t, *ea.TotalScore, *again.TotalScore)
	assert.Equal(t, *ea.CompletedAt, *again.CompletedAt)
}

// Scenario C: continuous ordering.
func TestContinuousGate(t *testing.T) {
	f := newFixture(t, model.ExamModeContinuous, monthlyExam()...)

	f.openAndSubmit(t, 1, 3)

	_, err := f.sections.OpenSection(f.ctx, f.exam.ID, f.def(3).ID, studentID, 0)
	require.ErrorIs(t, err, service.ErrGateDenied)

	st2 := f.open(t, 2)

	// Resuming the running section is always allowed; skipping ahead is not.
	f.open(t, 2)
	_, err = f.sections.OpenSection(f.ctx, f.exam.ID, f.def(3).ID, studentID, 0)
	require.ErrorIs(t, err, service.ErrGateDenied)

	f.submit(t, st2.AttemptID, model.AttemptPayload{})
	f.open(t, 3)

	// Submitted sections stay reviewable.
	review := f.open(t, 1)
	assert.True(t, review.ReadOnly)
}

func TestContinuousFirstSectionAlwaysOpens(t *testing.T) {
	f := newFixture(t, model.ExamModeContinuous, monthlyExam()...)
	st := f.open(t, 1)
	assert.Equal(t, 1, st.SectionNumber)

	for n := 2; n <= 8; n++ {
		_, err := f.sections.OpenSection(f.ctx, f.exam.ID, f.def(n).ID, studentID, 0)
		require.ErrorIs(t, err, service.ErrGateDenied, "section %d", n)
	}
}

// Scenario E: writing sections carry a word count and no score.
func TestWritingSection(t *testing.T) {
	f := newFixture(t, model.ExamModeWeekly, mc(10, 4), writing(30))

	f.openAndSubmit(t, 1, 1)

	st := f.open(t, 2)
	assert.True(t, st.IsWriting)

	require.NoError(t, f.ledger.UpdateWritingContent(f.ctx, st.AttemptID, words(20)))
	text := words(50)
	res := f.submit(t, st.AttemptID, model.AttemptPayload{WritingContent: &text})

	assert.True(t, res.IsWriting)
	assert.Nil(t, res.TotalCorrect)
	require.NotNil(t, res.WritingWordCount)
	assert.Equal(t, 50, *res.WritingWordCount)
	assert.True(t, res.ExamCompleted)

	att := f.sectionAttempt(t, st.AttemptID)
	assert.Nil(t, att.TotalCorrect)
	assert.Equal(t, 50, *att.WritingWordCount)

	// 1 correct of 4; the writing section adds nothing to the denominator.
	require.NotNil(t, res.TotalScore)
	assert.Equal(t, 25.0, *res.TotalScore)
}

func TestWritingSectionRejectsOptionAnswers(t *testing.T) {
	f := newFixture(t, model.ExamModeWeekly, mc(10, 2), writing(30))
	st := f.open(t, 2)

	_, err := f.sections.Autosave(f.ctx, st.AttemptID, studentID, model.AttemptPayload{
		Answers: []model.AnswerInput{f.answer(1, 0, f.correct(1, 0))},
	})
	require.ErrorIs(t, err, service.ErrValidation)

	mcState := f.open(t, 1)
	text := "no"
	_, err = f.sections.Autosave(f.ctx, mcState.AttemptID, studentID, model.AttemptPayload{WritingContent: &text})
	require.ErrorIs(t, err, service.ErrValidation)
}

func TestWritingSubmittedEmpty(t *testing.T) {
	f := newFixture(t, model.ExamModeWeekly, writing(30))
	st := f.open(t, 1)

	res := f.submit(t, st.AttemptID, model.AttemptPayload{})
	require.NotNil(t, res.WritingWordCount)
	assert.Equal(t, 0, *res.WritingWordCount)
	assert.Nil(t, res.TotalCorrect)
}

func TestResults(t *testing.T) {
	f := newFixture(t, model.ExamModeWeekly, mc(10, 3), mc(10, 3), writing(30))

	f.clock.Advance(time.Minute)
	f.openAndSubmit(t, 1, 2)
	st := f.open(t, 2)

	res, err := f.sections.Results(f.ctx, st.ExamAttemptID, studentID)
	require.NoError(t, err)
	assert.False(t, res.IsCompleted)
	assert.Nil(t, res.TotalScore)
	require.Len(t, res.Sections, 3)

	assert.Equal(t, model.SectionStatusSubmitted, res.Sections[0].Status)
	assert.Equal(t, 2, *res.Sections[0].TotalCorrect)
	assert.Equal(t, 3, res.Sections[0].TotalQuestions)
	assert.Equal(t, model.TriggerExplicit, *res.Sections[0].SubmitTrigger)

	assert.Equal(t, model.SectionStatusInProgress, res.Sections[1].Status)
	assert.Nil(t, res.Sections[1].TotalCorrect)

	assert.Equal(t, model.SectionStatusNotStarted, res.Sections[2].Status)
	assert.True(t, res.Sections[2].IsWriting)
}
