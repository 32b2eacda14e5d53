package handler_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/simulacro-backend/internal/deadline"
	"github.com/stemsi/simulacro-backend/internal/handler"
	"github.com/stemsi/simulacro-backend/internal/middleware"
	"github.com/stemsi/simulacro-backend/internal/model"
	"github.com/stemsi/simulacro-backend/internal/repository/memstore"
	"github.com/stemsi/simulacro-backend/internal/response"
	"github.com/stemsi/simulacro-backend/internal/service"
	"github.com/stemsi/simulacro-backend/internal/timer"
	"github.com/stemsi/simulacro-backend/internal/validator"
	"github.com/stemsi/simulacro-backend/internal/worker"
)

const (
	studentID = 1
	cohortID  = 3
	maxWords  = 50
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func init() {
	gin.SetMode(gin.TestMode)
	validator.Setup(maxWords)
}

type env struct {
	clock    *timer.FakeClock
	store    *memstore.Store
	sections *service.SectionService
	engine   *gin.Engine
	exam     model.ExamDefinition
	// questions[n-1] are the questions of section n.
	questions [][]model.Question
}

// newEnv builds a continuous exam of three sections: two multiple-choice
// sections of two questions and a writing section.
func newEnv(t *testing.T) *env {
	t.Helper()

	clock := timer.NewFakeClock(t0)
	store := memstore.New(clock)
	log := zerolog.Nop()

	e := &env{
		clock: clock,
		store: store,
		exam: model.ExamDefinition{
			ID:       uuid.New(),
			Number:   1,
			Title:    "Simulacro 1",
			Mode:     model.ExamModeContinuous,
			IsActive: true,
		},
	}
	for n := 1; n <= 3; n++ {
		def := model.SectionDefinition{
			ID:              uuid.New(),
			ExamID:          e.exam.ID,
			SectionNumber:   n,
			Title:           fmt.Sprintf("Sección %d", n),
			DurationMinutes: 10,
			IsWriting:       n == 3,
		}
		var qs []model.Question
		if !def.IsWriting {
			def.TotalQuestions = 2
			for q := 0; q < 2; q++ {
				question := model.Question{ID: uuid.New(), SectionID: def.ID, QuestionText: fmt.Sprintf("P%d", q+1), OrderNum: q + 1}
				for o, label := range []string{"A", "B", "C"} {
					question.Options = append(question.Options, model.Option{ID: uuid.New(), Label: label, Text: label, IsCorrect: o == 0})
				}
				qs = append(qs, question)
			}
		}
		e.exam.Sections = append(e.exam.Sections, def)
		e.questions = append(e.questions, qs)
		store.PutQuestions(def.ID, qs)
	}
	store.PutExam(e.exam)
	store.PutStudent(model.RosterStudent{StudentID: studentID, CohortID: cohortID, CurrentDay: 1})
	store.AddSchedule(model.CohortExamSchedule{CohortID: cohortID, ExamID: e.exam.ID, StartDay: 1})

	coord := service.NewCoordinator(store, store, clock, log)
	ledger := service.NewLedgerService(store, store, store, store, coord, clock, log)
	e.sections = service.NewSectionService(store, store, store, store, ledger, coord, clock, log)
	reconciler := service.NewReconciler(store, store, store, coord, deadline.DefaultPolicy(), clock, log)

	simulacro := handler.NewSimulacroHandler(e.sections)
	wsHandler := handler.NewWSHandler(e.sections, maxWords, log, nil)
	ops := handler.NewOpsHandler(worker.NewReconcileWorker(reconciler, nil, time.Hour, time.Minute, log), log)

	r := gin.New()
	r.Use(response.RequestIDMiddleware(log))

	student := r.Group("/api/v1/student", asStudent())
	student.GET("/exams/:exam_id", simulacro.GetExam)
	student.POST("/exams/:exam_id/sections/:section_id/open", simulacro.OpenSection)
	student.PUT("/attempts/:attempt_id/autosave", simulacro.Autosave)
	student.POST("/attempts/:attempt_id/submit", simulacro.Submit)
	student.GET("/exam-attempts/:exam_attempt_id/results", simulacro.GetResults)
	r.GET("/ws/v1/student/attempts/:attempt_id/stream", asStudent(), wsHandler.AttemptStream)
	r.POST("/api/v1/ops/reconcile", ops.Reconcile)

	e.engine = r
	return e
}

// asStudent authenticates the request as the student named by the
// X-Student header, defaulting to studentID.
func asStudent() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := studentID
		if h := c.GetHeader("X-Student"); h != "" {
			_, _ = fmt.Sscan(h, &id)
		}
		c.Set(middleware.ContextKeyClaims, &service.Claims{TokenType: service.TokenTypeStudent, UserID: id, CohortID: cohortID})
		c.Next()
	}
}

func (e *env) def(n int) model.SectionDefinition { return e.exam.Sections[n-1] }

func (e *env) option(n, q, o int) uuid.UUID { return e.questions[n-1][q].Options[o].ID }

func (e *env) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			_ = json.NewEncoder(&buf).Encode(body)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func (e *env) openPath(n int) string {
	return fmt.Sprintf("/api/v1/student/exams/%s/sections/%s/open", e.exam.ID, e.def(n).ID)
}

// open opens section n and returns its state.
func (e *env) open(t *testing.T, n int) service.SectionState {
	t.Helper()
	w := e.do(http.MethodPost, e.openPath(n), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		Data service.SectionState `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Data
}

func attemptPath(id uuid.UUID, action string) string {
	return fmt.Sprintf("/api/v1/student/attempts/%s/%s", id, action)
}

type envelope struct {
	Data  json.RawMessage     `json:"data"`
	Error *response.ErrorBody `json:"error"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

func errCode(t *testing.T, w *httptest.ResponseRecorder) response.ErrCode {
	t.Helper()
	env := decode(t, w)
	require.NotNil(t, env.Error, w.Body.String())
	return env.Error.Code
}
