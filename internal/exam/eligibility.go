package exam

import (
	"context"
	"errors"
	"time"
)

// Decision is the answer to "may this user start this test now?".
// Message is left empty by the engine and filled by localizing wrappers.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	Message string `json:"message,omitempty"`
}

func allow() Decision { return Decision{Allowed: true} }

func deny(r Reason) Decision { return Decision{Reason: r} }

// Err returns the denial as a *RuleError, or nil when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &RuleError{Reason: d.Reason, Limit: d.Limit}
}

// Eligibility evaluates start rules. It never writes.
type Eligibility struct {
	catalog  Catalog
	attempts AttemptStore
}

func NewEligibility(catalog Catalog, attempts AttemptStore) *Eligibility {
	return &Eligibility{catalog: catalog, attempts: attempts}
}

// CanStart runs the checks in a fixed order; the first failing check wins.
func (e *Eligibility) CanStart(ctx context.Context, userID, testID string, now time.Time) (Decision, error) {
	d, _, err := e.evaluate(ctx, userID, testID, now)
	return d, err
}

func (e *Eligibility) evaluate(ctx context.Context, userID, testID string, now time.Time) (Decision, Test, error) {
	t, err := e.catalog.GetTest(ctx, testID)
	if errors.Is(err, ErrTestNotFound) {
		return deny(ReasonNotPublished), Test{}, nil
	}
	if err != nil {
		return Decision{}, Test{}, err
	}
	if r := windowReason(t, now); r != "" {
		return deny(r), t, nil
	}

	if _, err := e.attempts.GetActiveAttempt(ctx, userID, testID); err == nil {
		return deny(ReasonAlreadyInProgress), t, nil
	} else if !errors.Is(err, ErrAttemptNotFound) {
		return Decision{}, t, err
	}

	if t.MaxAttempts != nil {
		used, err := e.attempts.CountTerminalAttempts(ctx, userID, testID)
		if err != nil {
			return Decision{}, t, err
		}
		if used >= *t.MaxAttempts {
			d := deny(ReasonMaxAttemptsExceeded)
			d.Limit = *t.MaxAttempts
			return d, t, nil
		}
	}
	return allow(), t, nil
}

// windowReason covers the publication and availability checks, which also
// guard question retrieval for an attempt already running.
func windowReason(t Test, now time.Time) Reason {
	switch {
	case !t.IsPublished:
		return ReasonNotPublished
	case t.AvailableFrom != nil && now.Before(*t.AvailableFrom):
		return ReasonNotAvailableYet
	case t.AvailableUntil != nil && now.After(*t.AvailableUntil):
		return ReasonNoLongerAvailable
	}
	return ""
}
