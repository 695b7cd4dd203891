package exam

import (
	"time"

	"github.com/mind-engage/mindengage-assessment/internal/grading"
)

type QuestionType string

const (
	SingleChoice QuestionType = grading.TypeSingleChoice
	Essay        QuestionType = grading.TypeEssay
	Programming  QuestionType = grading.TypeProgramming
)

// AutoGraded reports whether answers of this type are scored at submission.
func (t QuestionType) AutoGraded() bool { return t == SingleChoice }

type Status string

const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusAbandoned  Status = "ABANDONED"
)

func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusAbandoned }

type Option struct {
	ID        string `json:"id" validate:"required,max=64"`
	Text      string `json:"text" validate:"required"`
	IsCorrect bool   `json:"isCorrect"`
}

type Question struct {
	ID         string       `json:"id" validate:"required,max=64"`
	Type       QuestionType `json:"type" validate:"required,oneof=SINGLE_CHOICE ESSAY PROGRAMMING"`
	Prompt     string       `json:"prompt"`
	Options    []Option     `json:"options,omitempty" validate:"dive"`
	PointValue float64      `json:"pointValue" validate:"gt=0"`
}

// CorrectOptionID returns the designated correct option, or "" if none.
func (q Question) CorrectOptionID() string {
	for _, o := range q.Options {
		if o.IsCorrect {
			return o.ID
		}
	}
	return ""
}

// TestQuestion places a question inside a test; SortOrder is the canonical
// order before any shuffling.
type TestQuestion struct {
	TestID     string `json:"testId"`
	QuestionID string `json:"questionId"`
	SortOrder  int    `json:"sortOrder"`
}

type Test struct {
	ID                     string     `json:"id" validate:"required,max=64"`
	Title                  string     `json:"title" validate:"required,max=200"`
	Description            string     `json:"description,omitempty"`
	CourseID               string     `json:"courseId" validate:"required"`
	LessonID               *string    `json:"lessonId,omitempty"`
	TimeLimitMinutes       *int       `json:"timeLimitMinutes,omitempty" validate:"omitempty,gt=0"`
	MaxAttempts            *int       `json:"maxAttempts,omitempty" validate:"omitempty,gt=0"`
	PassingScore           float64    `json:"passingScore" validate:"gte=0,lte=100"`
	ShuffleQuestions       bool       `json:"shuffleQuestions"`
	ShuffleOptions         bool       `json:"shuffleOptions"`
	ShowResultsImmediately bool       `json:"showResultsImmediately"`
	IsPublished            bool       `json:"isPublished"`
	AvailableFrom          *time.Time `json:"availableFrom,omitempty"`
	AvailableUntil         *time.Time `json:"availableUntil,omitempty"`
	CreatedBy              string     `json:"createdBy"`
	CreatedAt              time.Time  `json:"createdAt"`
}

// Deadline is the instant after which an attempt started at startedAt is
// late. ok is false for unlimited tests.
func (t Test) Deadline(startedAt time.Time) (deadline time.Time, ok bool) {
	if t.TimeLimitMinutes == nil {
		return time.Time{}, false
	}
	return startedAt.Add(time.Duration(*t.TimeLimitMinutes) * time.Minute), true
}

// TestDefinition is a test together with its questions in canonical order.
type TestDefinition struct {
	Test
	Questions []Question `json:"questions" validate:"dive"`
}

// Attempt is one learner's run through a test (a TestResult).
type Attempt struct {
	ID               string     `json:"id"`
	UserID           string     `json:"userId"`
	TestID           string     `json:"testId"`
	Status           Status     `json:"status"`
	StartedAt        time.Time  `json:"startedAt"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
	TimeSpentMinutes *int       `json:"timeSpentMinutes,omitempty"`
	Score            *float64   `json:"score,omitempty"`
	IsPassed         *bool      `json:"isPassed,omitempty"`
	// Seed keys option shuffling; QuestionOrder is the question sequence
	// snapshotted at start. Neither changes after creation.
	Seed          int64    `json:"-"`
	QuestionOrder []string `json:"questionOrder"`
}

type Answer struct {
	AttemptID        string  `json:"attemptId"`
	QuestionID       string  `json:"questionId"`
	SelectedOptionID *string `json:"selectedOptionId,omitempty"`
	AnswerText       *string `json:"answerText,omitempty"`
	IsCorrect        *bool   `json:"isCorrect"`
	PointsAwarded    float64 `json:"pointsAwarded"`
	GradedBy         string  `json:"gradedBy,omitempty"`
}

// SubmittedAnswer is the learner-supplied part of an Answer.
type SubmittedAnswer struct {
	QuestionID       string  `json:"questionId" validate:"required"`
	SelectedOptionID *string `json:"selectedOptionId,omitempty"`
	AnswerText       *string `json:"answerText,omitempty"`
}

type Submission struct {
	TestID    string
	AttemptID string
	Answers   []SubmittedAnswer
}

// Actor is the authenticated caller as seen by the engine.
type Actor struct {
	ID   string
	Role string
}

const RoleAdmin = "admin"

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// Page selects a window of a list.
type Page struct {
	Limit  int
	Offset int
}

func (p Page) normalize() Page {
	if p.Limit <= 0 || p.Limit > 100 {
		p.Limit = 20
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
