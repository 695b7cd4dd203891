package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	auth "github.com/mind-engage/mindengage-assessment/internal/auth/middleware"
	"github.com/mind-engage/mindengage-assessment/internal/exam"
	"github.com/mind-engage/mindengage-assessment/internal/i18n"
	"github.com/mind-engage/mindengage-assessment/internal/rbac"
)

const maxBody = 1 << 20

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Limit   int    `json:"limit,omitempty"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps engine errors onto HTTP. Anything unrecognized is logged
// and reported as a bare internal error.
func writeError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	status, detail := classify(err)
	if status == http.StatusInternalServerError {
		log.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "err", err)
	}
	writeJSON(w, status, errorBody{Error: detail})
}

func classify(err error) (int, errorDetail) {
	d := errorDetail{Message: err.Error()}
	var le *i18n.Error
	localized := errors.As(err, &le)
	if localized {
		d.Code, d.Message, d.Limit = le.Code, le.Message, le.Limit
	}

	var re *exam.RuleError
	var ve *exam.ValidationError
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &re):
		if !localized {
			d.Code, d.Limit = string(re.Reason), re.Limit
		}
		status = http.StatusForbidden
		if re.Reason == exam.ReasonAlreadyInProgress || re.Reason == exam.ReasonNotInProgress {
			status = http.StatusConflict
		}
	case errors.As(err, &ve):
		status = http.StatusBadRequest
		if !localized {
			d.Code = "VALIDATION_ERROR"
		}
	case exam.IsNotFound(err):
		status = http.StatusNotFound
		if !localized {
			d.Code = "NOT_FOUND"
		}
	case errors.Is(err, exam.ErrForbidden):
		status = http.StatusForbidden
		if !localized {
			d.Code = "FORBIDDEN"
		}
	case errors.Is(err, exam.ErrTestLocked):
		status = http.StatusConflict
		if !localized {
			d.Code = "TEST_LOCKED"
		}
	default:
		return http.StatusInternalServerError, errorDetail{Code: "INTERNAL", Message: "internal error"}
	}
	return status, d
}

// decode reads a JSON body into dst and runs the shared validator on it.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	if err := dec.Decode(dst); err != nil {
		return &exam.ValidationError{Msg: "malformed JSON body"}
	}
	if err := exam.Validator().Struct(dst); err != nil {
		return exam.FromValidator(err)
	}
	return nil
}

func actorFrom(r *http.Request) exam.Actor {
	return exam.Actor{ID: auth.SubjectFromContext(r.Context()), Role: rbac.RoleFromContext(r.Context())}
}
