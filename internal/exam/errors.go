package exam

import (
	"errors"
	"fmt"
)

// Reason identifies the business rule that blocked an operation.
type Reason string

const (
	ReasonNotPublished        Reason = "NOT_PUBLISHED"
	ReasonNotAvailableYet     Reason = "NOT_AVAILABLE_YET"
	ReasonNoLongerAvailable   Reason = "NO_LONGER_AVAILABLE"
	ReasonAlreadyInProgress   Reason = "ALREADY_IN_PROGRESS"
	ReasonMaxAttemptsExceeded Reason = "MAX_ATTEMPTS_EXCEEDED"
	ReasonNotInProgress       Reason = "NOT_IN_PROGRESS"
)

// RuleError is an expected business-rule denial; it is safe to show to the
// end user. Limit is set for MAX_ATTEMPTS_EXCEEDED.
type RuleError struct {
	Reason Reason
	Limit  int
}

func (e *RuleError) Error() string {
	if e.Reason == ReasonMaxAttemptsExceeded {
		return fmt.Sprintf("%s (limit %d)", e.Reason, e.Limit)
	}
	return string(e.Reason)
}

// Is matches any *RuleError with the same Reason.
func (e *RuleError) Is(target error) bool {
	t, ok := target.(*RuleError)
	return ok && t.Reason == e.Reason
}

var errNotInProgress = &RuleError{Reason: ReasonNotInProgress}

// ReasonOf extracts the business reason from err, if any.
func ReasonOf(err error) (Reason, bool) {
	var re *RuleError
	if errors.As(err, &re) {
		return re.Reason, true
	}
	return "", false
}

var (
	ErrTestNotFound     = errors.New("test not found")
	ErrQuestionNotFound = errors.New("question not found")
	ErrAttemptNotFound  = errors.New("attempt not found")
	ErrAnswerNotFound   = errors.New("answer not found")
	ErrForbidden        = errors.New("forbidden")
	// ErrTestLocked blocks structural edits and deletion once attempts exist.
	ErrTestLocked = errors.New("test is locked by existing attempts")
	// ErrActiveAttemptExists is returned by stores when the one-active-attempt
	// constraint rejects an insert.
	ErrActiveAttemptExists = errors.New("active attempt already exists")
	// ErrStaleAttempt is returned by stores when a conditional status
	// transition finds the attempt no longer in the expected state.
	ErrStaleAttempt = errors.New("attempt not in expected state")
)

type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Msg
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Msg)
}

// IsNotFound reports whether err means a missing test, question or attempt.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTestNotFound) || errors.Is(err, ErrQuestionNotFound) ||
		errors.Is(err, ErrAttemptNotFound) || errors.Is(err, ErrAnswerNotFound)
}
