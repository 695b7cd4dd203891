package i18n

import (
	"context"
	"errors"
	"net/http"

	"github.com/mind-engage/mindengage-assessment/internal/exam"
)

// Error is an engine error with a stable code and a localized message.
type Error struct {
	Code    string
	Message string
	Limit   int
	err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.err }

// Localize maps known engine errors to *Error in the context's language.
// Unknown errors, storage failures included, pass through untouched.
func (l *Localizer) Localize(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var le *Error
	if errors.As(err, &le) {
		return err
	}
	tag := l.lang(ctx)
	wrap := func(k Key, args ...any) error {
		return &Error{Code: string(k), Message: l.Message(tag, k, args...), err: err}
	}

	var re *exam.RuleError
	if errors.As(err, &re) {
		k := Key(re.Reason)
		if re.Reason == exam.ReasonMaxAttemptsExceeded {
			e := wrap(k, re.Limit).(*Error)
			e.Limit = re.Limit
			return e
		}
		return wrap(k)
	}
	var ve *exam.ValidationError
	if errors.As(err, &ve) {
		detail := ve.Msg
		if ve.Field != "" {
			detail = ve.Field + ": " + ve.Msg
		}
		return wrap(KeyValidation, detail)
	}
	switch {
	case errors.Is(err, exam.ErrTestNotFound):
		return wrap(KeyTestNotFound)
	case errors.Is(err, exam.ErrQuestionNotFound):
		return wrap(KeyQuestionNotFound)
	case errors.Is(err, exam.ErrAttemptNotFound):
		return wrap(KeyAttemptNotFound)
	case errors.Is(err, exam.ErrAnswerNotFound):
		return wrap(KeyAnswerNotFound)
	case errors.Is(err, exam.ErrForbidden):
		return wrap(KeyForbidden)
	case errors.Is(err, exam.ErrTestLocked):
		return wrap(KeyTestLocked)
	}
	return err
}

// Middleware stores the negotiated language in the request context.
func (l *Localizer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tag := l.Match(r.Header.Get("Accept-Language"))
		w.Header().Set("Content-Language", tag.String())
		next.ServeHTTP(w, r.WithContext(WithLanguage(r.Context(), tag)))
	})
}

// Engine decorates an exam.Engine: results pass through, denials get a
// localized message and errors become *Error.
type Engine struct {
	inner exam.Engine
	l     *Localizer
}

func Wrap(inner exam.Engine, l *Localizer) *Engine { return &Engine{inner: inner, l: l} }

var _ exam.Engine = (*Engine)(nil)

func (e *Engine) CanStart(ctx context.Context, userID, testID string) (exam.Decision, error) {
	d, err := e.inner.CanStart(ctx, userID, testID)
	if err != nil {
		return d, e.l.Localize(ctx, err)
	}
	if !d.Allowed {
		args := []any{}
		if d.Reason == exam.ReasonMaxAttemptsExceeded {
			args = append(args, d.Limit)
		}
		d.Message = e.l.Message(e.l.lang(ctx), Key(d.Reason), args...)
	}
	return d, nil
}

func (e *Engine) Start(ctx context.Context, userID, testID string) (exam.AttemptView, error) {
	v, err := e.inner.Start(ctx, userID, testID)
	return v, e.l.Localize(ctx, err)
}

func (e *Engine) ActiveAttempt(ctx context.Context, userID, testID string) (exam.Attempt, bool, error) {
	a, ok, err := e.inner.ActiveAttempt(ctx, userID, testID)
	return a, ok, e.l.Localize(ctx, err)
}

func (e *Engine) Questions(ctx context.Context, userID, testID string) (exam.AttemptView, error) {
	v, err := e.inner.Questions(ctx, userID, testID)
	return v, e.l.Localize(ctx, err)
}

func (e *Engine) Complete(ctx context.Context, userID string, sub exam.Submission) (exam.Result, error) {
	r, err := e.inner.Complete(ctx, userID, sub)
	return r, e.l.Localize(ctx, err)
}

func (e *Engine) Abandon(ctx context.Context, userID, testID, attemptID string) (exam.Attempt, error) {
	a, err := e.inner.Abandon(ctx, userID, testID, attemptID)
	return a, e.l.Localize(ctx, err)
}

func (e *Engine) Regrade(ctx context.Context, actor exam.Actor, attemptID, questionID string, points float64) (exam.Result, error) {
	r, err := e.inner.Regrade(ctx, actor, attemptID, questionID, points)
	return r, e.l.Localize(ctx, err)
}

func (e *Engine) Statistics(ctx context.Context, actor exam.Actor, testID string) (exam.Statistics, error) {
	s, err := e.inner.Statistics(ctx, actor, testID)
	return s, e.l.Localize(ctx, err)
}

func (e *Engine) History(ctx context.Context, userID string, page exam.Page) (exam.HistoryPage, error) {
	h, err := e.inner.History(ctx, userID, page)
	return h, e.l.Localize(ctx, err)
}

func (e *Engine) AbandonExpired(ctx context.Context, actor exam.Actor) (int, error) {
	n, err := e.inner.AbandonExpired(ctx, actor)
	return n, e.l.Localize(ctx, err)
}

func (e *Engine) PutTest(ctx context.Context, actor exam.Actor, def exam.TestDefinition) (exam.TestDefinition, error) {
	d, err := e.inner.PutTest(ctx, actor, def)
	return d, e.l.Localize(ctx, err)
}

func (e *Engine) DeleteTest(ctx context.Context, actor exam.Actor, testID string) error {
	return e.l.Localize(ctx, e.inner.DeleteTest(ctx, actor, testID))
}
