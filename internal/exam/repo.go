package exam

import (
	"context"
	"time"
)

// Catalog is the read side of test definitions.
type Catalog interface {
	GetTest(ctx context.Context, id string) (Test, error)
	// GetQuestions returns the test's questions ordered by sort order.
	GetQuestions(ctx context.Context, testID string) ([]Question, error)
}

// CatalogAdmin adds the write side used by test authors.
type CatalogAdmin interface {
	Catalog
	GetQuestion(ctx context.Context, id string) (Question, error)
	// SaveTest upserts the test, its questions and their sort order.
	SaveTest(ctx context.Context, def TestDefinition) error
	// DeleteTest fails with ErrTestLocked while any attempt references the test.
	DeleteTest(ctx context.Context, id string) error
}

// Finish describes a terminal transition of an attempt.
type Finish struct {
	AttemptID        string
	UserID           string
	Status           Status
	CompletedAt      time.Time
	TimeSpentMinutes int
	Score            *float64
	IsPassed         *bool
	Answers          []Answer
}

// ManualGrade is a reviewer's points for one answer.
type ManualGrade struct {
	AttemptID     string
	QuestionID    string
	PointsAwarded float64
	IsCorrect     bool
	GradedBy      string
}

// Rescore turns the attempt's total awarded points into score and pass flag.
type Rescore func(earnedPoints float64) (score float64, passed bool)

type AttemptStore interface {
	// CreateAttempt inserts an IN_PROGRESS attempt. It returns
	// ErrActiveAttemptExists if the user already has one for the test.
	CreateAttempt(ctx context.Context, a Attempt) error
	GetAttempt(ctx context.Context, id string) (Attempt, error)
	// GetActiveAttempt returns ErrAttemptNotFound when there is none.
	GetActiveAttempt(ctx context.Context, userID, testID string) (Attempt, error)
	CountTerminalAttempts(ctx context.Context, userID, testID string) (int, error)
	// CountAttempts counts attempts of any status for a test.
	CountAttempts(ctx context.Context, testID string) (int, error)
	// QuestionInUse reports whether an IN_PROGRESS attempt presents the question.
	QuestionInUse(ctx context.Context, questionID string) (bool, error)
	// FinishAttempt moves an IN_PROGRESS attempt owned by f.UserID to a
	// terminal state and stores its answers in one atomic step. It returns
	// ErrStaleAttempt if the attempt was not IN_PROGRESS.
	FinishAttempt(ctx context.Context, f Finish) error
	ListAnswers(ctx context.Context, attemptID string) ([]Answer, error)
	// ApplyManualGrade updates one answer of a COMPLETED attempt and stores
	// the rescored result atomically.
	ApplyManualGrade(ctx context.Context, g ManualGrade, rescore Rescore) (Attempt, error)
	ListActiveAttempts(ctx context.Context) ([]Attempt, error)
	ListTerminalAttempts(ctx context.Context, testID string) ([]Attempt, error)
	// ListUserAttempts returns the user's attempts, newest first, and the total.
	ListUserAttempts(ctx context.Context, userID string, page Page) ([]Attempt, int, error)
}

// Store is implemented by the in-memory and SQL backends.
type Store interface {
	CatalogAdmin
	AttemptStore
}

// EventSink records attempt lifecycle events.
type EventSink interface {
	Record(ctx context.Context, typ, key string, payload any) error
}

// StatsCache holds computed statistics for a short time.
type StatsCache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

const (
	EventAttemptStarted   = "AttemptStarted"
	EventAttemptCompleted = "AttemptCompleted"
	EventAttemptAbandoned = "AttemptAbandoned"
	EventAttemptRegraded  = "AttemptRegraded"
)
