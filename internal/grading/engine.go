package grading

import (
	"context"
	"fmt"
	"math"
	"strings"
)

// Question types understood by the built-in strategies.
const (
	TypeSingleChoice = "SINGLE_CHOICE"
	TypeEssay        = "ESSAY"
	TypeProgramming  = "PROGRAMMING"
)

// Q is a minimal view of a question needed for grading.
type Q struct {
	ID              string
	Type            string
	Points          float64
	OptionIDs       []string
	CorrectOptionID string
}

// Response is one submitted answer. Exactly one of SelectedOptionID and
// AnswerText is expected, depending on the question type.
type Response struct {
	QuestionID       string
	SelectedOptionID *string
	AnswerText       *string
}

// Result is the outcome of grading a single question.
type Result struct {
	QuestionID  string
	Answered    bool
	IsCorrect   *bool   // nil while manual review is pending
	AutoPoints  float64 // points awarded automatically
	MaxPoints   float64
	NeedsManual bool
}

// Sheet is the graded submission as a whole.
type Sheet struct {
	Score        float64 // 0..100, two decimals
	Passed       bool
	EarnedPoints float64
	MaxPoints    float64
	Pending      int // answers waiting for manual review
	Results      []Result
}

// Strategy validates and grades a single question type.
type Strategy interface {
	Validate(q Q, r Response) error
	Grade(ctx context.Context, q Q, r Response) (Result, error)
}

// ShapeError rejects a submission because one answer is malformed.
type ShapeError struct {
	QuestionID string
	Msg        string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("answer for question %q: %s", e.QuestionID, e.Msg)
}

type Engine struct {
	strategies map[string]Strategy
}

type Option func(*Engine)

// WithStrategy installs or replaces the strategy for a question type.
func WithStrategy(questionType string, s Strategy) Option {
	return func(e *Engine) { e.strategies[questionType] = s }
}

// NewEngine installs built-in strategies.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		strategies: map[string]Strategy{
			TypeSingleChoice: singleChoiceStrategy{},
			TypeEssay:        manualStrategy{},
			TypeProgramming:  manualStrategy{},
		},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Validate checks every response against its question without grading.
// The whole submission is rejected on the first malformed answer.
func (e *Engine) Validate(questions []Q, responses []Response) error {
	byID := make(map[string]Q, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}
	seen := make(map[string]struct{}, len(responses))
	for _, r := range responses {
		q, ok := byID[r.QuestionID]
		if !ok {
			return &ShapeError{QuestionID: r.QuestionID, Msg: "question is not part of this test"}
		}
		if _, dup := seen[r.QuestionID]; dup {
			return &ShapeError{QuestionID: r.QuestionID, Msg: "answered more than once"}
		}
		seen[r.QuestionID] = struct{}{}
		s, ok := e.strategies[q.Type]
		if !ok {
			return fmt.Errorf("no strategy for question type %q", q.Type)
		}
		if err := s.Validate(q, r); err != nil {
			return err
		}
	}
	return nil
}

// Grade validates and scores a submission. Every question contributes its
// points to the denominator; missing answers earn zero.
func (e *Engine) Grade(ctx context.Context, questions []Q, responses []Response, passingScore float64) (Sheet, error) {
	if err := e.Validate(questions, responses); err != nil {
		return Sheet{}, err
	}
	byQuestion := make(map[string]Response, len(responses))
	for _, r := range responses {
		byQuestion[r.QuestionID] = r
	}

	sheet := Sheet{Results: make([]Result, 0, len(questions))}
	for _, q := range questions {
		sheet.MaxPoints += q.Points
		r, answered := byQuestion[q.ID]
		if !answered {
			sheet.Results = append(sheet.Results, Result{QuestionID: q.ID, MaxPoints: q.Points, IsCorrect: boolPtr(false)})
			continue
		}
		res, err := e.strategies[q.Type].Grade(ctx, q, r)
		if err != nil {
			return Sheet{}, err
		}
		res.QuestionID = q.ID
		res.Answered = true
		if res.NeedsManual {
			sheet.Pending++
		}
		sheet.EarnedPoints += res.AutoPoints
		sheet.Results = append(sheet.Results, res)
	}
	sheet.Score = Score(sheet.EarnedPoints, sheet.MaxPoints)
	sheet.Passed = Passed(sheet.Score, passingScore)
	return sheet, nil
}

// Score converts points into a 0..100 percentage rounded to two decimals.
func Score(earned, max float64) float64 {
	if max <= 0 {
		return 0
	}
	s := 100 * earned / max
	s = math.Round(s*100) / 100
	return math.Max(0, math.Min(100, s))
}

// Passed is inclusive at the boundary.
func Passed(score, passingScore float64) bool { return score >= passingScore }

// --- Strategies ---

type singleChoiceStrategy struct{}

func (singleChoiceStrategy) Validate(q Q, r Response) error {
	if r.AnswerText != nil {
		return &ShapeError{QuestionID: q.ID, Msg: "answerText is not allowed for single choice"}
	}
	if r.SelectedOptionID == nil || strings.TrimSpace(*r.SelectedOptionID) == "" {
		return &ShapeError{QuestionID: q.ID, Msg: "selectedOptionId is required"}
	}
	for _, id := range q.OptionIDs {
		if id == *r.SelectedOptionID {
			return nil
		}
	}
	return &ShapeError{QuestionID: q.ID, Msg: "selectedOptionId is not an option of this question"}
}

func (singleChoiceStrategy) Grade(_ context.Context, q Q, r Response) (Result, error) {
	res := Result{MaxPoints: q.Points}
	ok := q.CorrectOptionID != "" && *r.SelectedOptionID == q.CorrectOptionID
	res.IsCorrect = boolPtr(ok)
	if ok {
		res.AutoPoints = q.Points
	}
	return res, nil
}

// manualStrategy records free-text answers as pending review with zero points.
type manualStrategy struct{}

func (manualStrategy) Validate(q Q, r Response) error {
	if r.SelectedOptionID != nil {
		return &ShapeError{QuestionID: q.ID, Msg: "selectedOptionId is not allowed for " + strings.ToLower(q.Type)}
	}
	if r.AnswerText == nil || strings.TrimSpace(*r.AnswerText) == "" {
		return &ShapeError{QuestionID: q.ID, Msg: "answerText is required"}
	}
	return nil
}

func (manualStrategy) Grade(_ context.Context, q Q, _ Response) (Result, error) {
	return Result{MaxPoints: q.Points, NeedsManual: true}, nil
}

func boolPtr(b bool) *bool { return &b }
