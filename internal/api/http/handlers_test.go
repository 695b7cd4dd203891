package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/mind-engage/mindengage-assessment/internal/auth/middleware"
	"github.com/mind-engage/mindengage-assessment/internal/clock"
	"github.com/mind-engage/mindengage-assessment/internal/exam"
	"github.com/mind-engage/mindengage-assessment/internal/i18n"
)

var start = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

type server struct {
	t     *testing.T
	h     http.Handler
	clk   *clock.Manual
	authn *auth.AuthService
}

func newServer(t *testing.T) *server {
	t.Helper()
	store := exam.NewInMemoryStore()
	limit, tries := 30, 2
	require.NoError(t, store.SaveTest(context.Background(), exam.TestDefinition{
		Test: exam.Test{
			ID: "t1", Title: "Fractions", CourseID: "c1", PassingScore: 70,
			TimeLimitMinutes: &limit, MaxAttempts: &tries,
			ShowResultsImmediately: true, IsPublished: true,
			CreatedBy: "teacher-1", CreatedAt: start.Add(-time.Hour),
		},
		Questions: []exam.Question{
			{ID: "q1", Type: exam.SingleChoice, Prompt: "1/2 + 1/2", PointValue: 50, Options: []exam.Option{
				{ID: "a", Text: "1", IsCorrect: true}, {ID: "b", Text: "2"},
			}},
			{ID: "q2", Type: exam.SingleChoice, Prompt: "1/3 > 1/4", PointValue: 50, Options: []exam.Option{
				{ID: "true", Text: "True", IsCorrect: true}, {ID: "false", Text: "False"},
			}},
		},
	}))

	clk := clock.NewManual(start)
	svc := exam.NewService(store, store, exam.WithClock(clk))
	loc := i18n.New("en")
	authn := auth.NewAuthService("test-secret")

	r := chi.NewRouter()
	r.Use(loc.Middleware)
	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(authn))
		pr.Route("/tests", func(tr chi.Router) {
			MountTests(tr, i18n.Wrap(svc, loc), nil)
		})
	})
	return &server{t: t, h: r, clk: clk, authn: authn}
}

type call struct {
	method, path, user, role, lang string
	body                           any
}

func (s *server) do(c call) (*httptest.ResponseRecorder, map[string]any) {
	s.t.Helper()
	var buf bytes.Buffer
	if c.body != nil {
		if raw, ok := c.body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(s.t, json.NewEncoder(&buf).Encode(c.body))
		}
	}
	req := httptest.NewRequest(c.method, c.path, &buf)
	if c.user != "" {
		tok, err := s.authn.IssueJWT(c.user, c.role, time.Hour)
		require.NoError(s.t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	if c.lang != "" {
		req.Header.Set("Accept-Language", c.lang)
	}
	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 {
		require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func errCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func student(method, path string, body any) call {
	return call{method: method, path: path, user: "stu-1", role: "student", body: body}
}

func TestTakeTestOverHTTP(t *testing.T) {
	s := newServer(t)

	rec, body := s.do(student(http.MethodGet, "/tests/t1/can-take", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["canTake"])

	rec, body = s.do(student(http.MethodPost, "/tests/t1/start", nil))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	attemptID := body["attemptId"].(string)
	assert.NotEmpty(t, attemptID)
	assert.NotContains(t, rec.Body.String(), "isCorrect")

	rec, body = s.do(student(http.MethodGet, "/tests/t1/can-take", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["canTake"])
	assert.Equal(t, "ALREADY_IN_PROGRESS", body["reason"])
	assert.NotEmpty(t, body["message"])

	c := student(http.MethodPost, "/tests/t1/start", nil)
	c.lang = "ru"
	rec, body = s.do(c)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ALREADY_IN_PROGRESS", errCode(body))
	assert.Equal(t, "ru", rec.Header().Get("Content-Language"))
	assert.Contains(t, body["error"].(map[string]any)["message"], "попытка")

	rec, body = s.do(student(http.MethodGet, "/tests/t1/questions", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, attemptID, body["attemptId"])
	assert.Len(t, body["questions"], 2)
	assert.NotContains(t, rec.Body.String(), "isCorrect")

	s.clk.Advance(12 * time.Minute)
	submit := map[string]any{
		"testResultId": attemptID,
		"answers": []map[string]any{
			{"questionId": "q1", "selectedOptionId": "a"},
			{"questionId": "q2", "selectedOptionId": "false"},
		},
	}
	rec, body = s.do(student(http.MethodPost, "/tests/t1/submit", submit))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "COMPLETED", body["status"])
	assert.Equal(t, 50.0, body["score"])
	assert.Equal(t, false, body["isPassed"])
	assert.Equal(t, 12.0, body["timeSpentMinutes"])

	rec, body = s.do(student(http.MethodPost, "/tests/t1/submit", submit))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "NOT_IN_PROGRESS", errCode(body))

	rec, body = s.do(student(http.MethodGet, "/tests/results/me?limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, body["total"])
	assert.Equal(t, 5.0, body["limit"])
	items := body["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "Fractions", items[0].(map[string]any)["testTitle"])
}

func TestLateSubmitAbandonsOverHTTP(t *testing.T) {
	s := newServer(t)
	_, body := s.do(student(http.MethodPost, "/tests/t1/start", nil))
	attemptID := body["attemptId"].(string)

	s.clk.Advance(45 * time.Minute)
	rec, body := s.do(student(http.MethodPost, "/tests/t1/submit", map[string]any{
		"testResultId": attemptID,
		"answers":      []map[string]any{{"questionId": "q1", "selectedOptionId": "a"}},
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "ABANDONED", body["status"])
	assert.Equal(t, true, body["timedOut"])
	assert.Equal(t, 0.0, body["score"])
}

func TestAbandonOverHTTP(t *testing.T) {
	s := newServer(t)
	_, body := s.do(student(http.MethodPost, "/tests/t1/start", nil))
	attemptID := body["attemptId"].(string)

	rec, body := s.do(student(http.MethodPost, "/tests/t1/abandon", map[string]any{"testResultId": attemptID}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ABANDONED", body["status"])

	rec, body = s.do(call{method: http.MethodPost, path: "/tests/t1/abandon", user: "stu-2", role: "student",
		body: map[string]any{"testResultId": attemptID}})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "NOT_IN_PROGRESS", errCode(body))
}

func TestRequestValidation(t *testing.T) {
	s := newServer(t)

	rec, body := s.do(student(http.MethodPost, "/tests/t1/submit", map[string]any{"answers": []any{}}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", errCode(body))

	rec, body = s.do(student(http.MethodPost, "/tests/t1/abandon", "{not json"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", errCode(body))

	rec, _ = s.do(student(http.MethodGet, "/tests/results/me?offset=-1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	teacher := call{method: http.MethodPost, path: "/tests/results/r1/grades", user: "teacher-1", role: "teacher",
		body: map[string]any{"questionId": "q1"}}
	rec, body = s.do(teacher)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", errCode(body))

	teacher.body = map[string]any{"questionId": "q1", "pointsAwarded": -1}
	rec, _ = s.do(teacher)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = s.do(student(http.MethodGet, "/tests/nope/can-take", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "NOT_PUBLISHED", body["reason"])

	rec, body = s.do(call{method: http.MethodGet, path: "/tests/nope/statistics", user: "teacher-1", role: "teacher"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "TEST_NOT_FOUND", errCode(body))
}

func TestAuthAndPermissions(t *testing.T) {
	s := newServer(t)

	rec, body := s.do(call{method: http.MethodGet, path: "/tests/t1/can-take"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", errCode(body))

	rec, body = s.do(student(http.MethodGet, "/tests/t1/statistics", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", errCode(body))

	rec, _ = s.do(student(http.MethodPost, "/tests/attempts/cleanup", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, body = s.do(call{method: http.MethodGet, path: "/tests/t1/statistics", user: "teacher-2", role: "teacher"})
	assert.Equal(t, http.StatusForbidden, rec.Code, "only the author or an admin sees statistics")
	assert.Equal(t, "FORBIDDEN", errCode(body))

	rec, body = s.do(call{method: http.MethodGet, path: "/tests/t1/statistics", user: "teacher-1", role: "teacher"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.0, body["totalAttempts"])

	rec, body = s.do(call{method: http.MethodPost, path: "/tests/attempts/cleanup", user: "root", role: "admin"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.0, body["abandoned"])
}

func TestManualGradeOverHTTP(t *testing.T) {
	s := newServer(t)
	teacher := func(method, path string, body any) call {
		return call{method: method, path: path, user: "teacher-1", role: "teacher", body: body}
	}

	rec, _ := s.do(teacher(http.MethodPut, "/tests/essay", map[string]any{
		"title": "Essay", "courseId": "c1", "passingScore": 50, "isPublished": true, "showResultsImmediately": true,
		"questions": []map[string]any{{"id": "e1", "type": "ESSAY", "prompt": "why", "pointValue": 10}},
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	_, body := s.do(student(http.MethodPost, "/tests/essay/start", nil))
	attemptID := body["attemptId"].(string)
	rec, body = s.do(student(http.MethodPost, "/tests/essay/submit", map[string]any{
		"testResultId": attemptID,
		"answers":      []map[string]any{{"questionId": "e1", "answerText": "because"}},
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 0.0, body["score"])
	assert.Equal(t, 1.0, body["pendingReview"])

	rec, body = s.do(teacher(http.MethodPost, "/tests/results/"+attemptID+"/grades",
		map[string]any{"questionId": "e1", "pointsAwarded": 8}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 80.0, body["score"])
	assert.Equal(t, true, body["isPassed"])

	rec, body = s.do(teacher(http.MethodPost, "/tests/results/"+attemptID+"/grades",
		map[string]any{"questionId": "e1", "pointsAwarded": 11}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", errCode(body))
}

func TestCatalogOverHTTP(t *testing.T) {
	s := newServer(t)
	teacher := func(method, path string, body any) call {
		return call{method: method, path: path, user: "teacher-1", role: "teacher", body: body}
	}
	def := map[string]any{
		"id": "other", "title": "Draft", "courseId": "c1", "passingScore": 60,
	}

	rec, body := s.do(teacher(http.MethodPut, "/tests/draft", def))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", errCode(body))

	def["id"] = "draft"
	rec, body = s.do(teacher(http.MethodPut, "/tests/draft", def))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "teacher-1", body["createdBy"])

	rec, _ = s.do(student(http.MethodPut, "/tests/draft", def))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, body = s.do(student(http.MethodGet, "/tests/draft/can-take", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "NOT_PUBLISHED", body["reason"])

	_, _ = s.do(student(http.MethodPost, "/tests/t1/start", nil))
	rec, body = s.do(teacher(http.MethodDelete, "/tests/t1", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "TEST_LOCKED", errCode(body))

	rec, _ = s.do(teacher(http.MethodDelete, "/tests/draft", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec, body = s.do(teacher(http.MethodDelete, "/tests/draft", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "TEST_NOT_FOUND", errCode(body))
}

func TestClassifyHidesInternalErrors(t *testing.T) {
	status, d := classify(errors.New("pq: connection refused"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "INTERNAL", d.Code)
	assert.Equal(t, "internal error", d.Message)

	status, d = classify(&exam.RuleError{Reason: exam.ReasonMaxAttemptsExceeded, Limit: 2})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "MAX_ATTEMPTS_EXCEEDED", d.Code)
	assert.Equal(t, 2, d.Limit)
}
