package http

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-assessment/internal/exam"
)

// GET /tests/{testID}/statistics
func StatisticsHandler(eng exam.Engine, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := eng.Statistics(r.Context(), actorFrom(r), chi.URLParam(r, "testID"))
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

type gradeRequest struct {
	QuestionID    string   `json:"questionId" validate:"required"`
	PointsAwarded *float64 `json:"pointsAwarded" validate:"required,gte=0"`
}

// POST /tests/results/{resultID}/grades
func GradeHandler(eng exam.Engine, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req gradeRequest
		if err := decode(r, &req); err != nil {
			writeError(w, r, log, err)
			return
		}
		res, err := eng.Regrade(r.Context(), actorFrom(r), chi.URLParam(r, "resultID"), req.QuestionID, *req.PointsAwarded)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// POST /tests/attempts/cleanup
func CleanupHandler(eng exam.Engine, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := eng.AbandonExpired(r.Context(), actorFrom(r))
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"abandoned": n})
	}
}

// PUT /tests/{testID}
func PutTestHandler(eng exam.Engine, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var def exam.TestDefinition
		id := chi.URLParam(r, "testID")
		if err := decodeDefinition(r, id, &def); err != nil {
			writeError(w, r, log, err)
			return
		}
		saved, err := eng.PutTest(r.Context(), actorFrom(r), def)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, saved)
	}
}

// decodeDefinition takes the id from the path; a different id in the body
// is rejected. Field validation happens in the engine.
func decodeDefinition(r *http.Request, id string, def *exam.TestDefinition) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(def); err != nil {
		return &exam.ValidationError{Msg: "malformed JSON body"}
	}
	switch def.ID {
	case "":
		def.ID = id
	case id:
	default:
		return &exam.ValidationError{Field: "id", Msg: "does not match path"}
	}
	return nil
}

// DELETE /tests/{testID}
func DeleteTestHandler(eng exam.Engine, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := eng.DeleteTest(r.Context(), actorFrom(r), chi.URLParam(r, "testID")); err != nil {
			writeError(w, r, log, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
