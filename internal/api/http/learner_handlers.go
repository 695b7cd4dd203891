package http

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-assessment/internal/exam"
)

type canTakeResponse struct {
	CanTake bool   `json:"canTake"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// GET /tests/{testID}/can-take
func CanTakeHandler(eng exam.Engine, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := eng.CanStart(r.Context(), actorFrom(r).ID, chi.URLParam(r, "testID"))
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, canTakeResponse{
			CanTake: d.Allowed,
			Reason:  string(d.Reason),
			Message: d.Message,
			Limit:   d.Limit,
		})
	}
}

// POST /tests/{testID}/start
func StartHandler(eng exam.Engine, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := eng.Start(r.Context(), actorFrom(r).ID, chi.URLParam(r, "testID"))
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, v)
	}
}

// GET /tests/{testID}/questions
func QuestionsHandler(eng exam.Engine, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := eng.Questions(r.Context(), actorFrom(r).ID, chi.URLParam(r, "testID"))
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

type submitRequest struct {
	TestResultID string                 `json:"testResultId" validate:"required"`
	Answers      []exam.SubmittedAnswer `json:"answers" validate:"dive"`
}

// POST /tests/{testID}/submit
func SubmitHandler(eng exam.Engine, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		if err := decode(r, &req); err != nil {
			writeError(w, r, log, err)
			return
		}
		res, err := eng.Complete(r.Context(), actorFrom(r).ID, exam.Submission{
			TestID:    chi.URLParam(r, "testID"),
			AttemptID: req.TestResultID,
			Answers:   req.Answers,
		})
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

type abandonRequest struct {
	TestResultID string `json:"testResultId" validate:"required"`
}

type abandonResponse struct {
	TestResultID string      `json:"testResultId"`
	Status       exam.Status `json:"status"`
}

// POST /tests/{testID}/abandon
func AbandonHandler(eng exam.Engine, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req abandonRequest
		if err := decode(r, &req); err != nil {
			writeError(w, r, log, err)
			return
		}
		a, err := eng.Abandon(r.Context(), actorFrom(r).ID, chi.URLParam(r, "testID"), req.TestResultID)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, abandonResponse{TestResultID: a.ID, Status: a.Status})
	}
}

// GET /tests/results/me?limit=&offset=
func HistoryHandler(eng exam.Engine, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, err := pageFrom(r)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		h, err := eng.History(r.Context(), actorFrom(r).ID, page)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, h)
	}
}

func pageFrom(r *http.Request) (exam.Page, error) {
	var p exam.Page
	q := r.URL.Query()
	for name, dst := range map[string]*int{"limit": &p.Limit, "offset": &p.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return exam.Page{}, &exam.ValidationError{Field: name, Msg: "must be a non-negative integer"}
		}
		*dst = n
	}
	return p, nil
}
