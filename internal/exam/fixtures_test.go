package exam

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func choiceQ(id string, points float64, correct string, options ...string) Question {
	q := Question{ID: id, Type: SingleChoice, Prompt: "pick one for " + id, PointValue: points}
	for _, o := range options {
		q.Options = append(q.Options, Option{ID: o, Text: "option " + o, IsCorrect: o == correct})
	}
	return q
}

func essayQ(id string, points float64) Question {
	return Question{ID: id, Type: Essay, Prompt: "explain " + id, PointValue: points}
}

func definition(id string, mutate func(*Test), questions ...Question) TestDefinition {
	t := Test{
		ID:                     id,
		Title:                  "Test " + id,
		CourseID:               "course-1",
		PassingScore:           70,
		ShowResultsImmediately: true,
		IsPublished:            true,
		CreatedBy:              "teacher-1",
		CreatedAt:              t0.Add(-24 * time.Hour),
	}
	if mutate != nil {
		mutate(&t)
	}
	return TestDefinition{Test: t, Questions: questions}
}

// twoChoice is the 2-question, 50-point-each test used across suites.
func twoChoice(id string, mutate func(*Test)) TestDefinition {
	return definition(id, mutate,
		choiceQ(id+"-q1", 50, "a", "a", "b", "c"),
		choiceQ(id+"-q2", 50, "d", "d", "e", "f"),
	)
}

func saveDef(t *testing.T, s Store, def TestDefinition) {
	t.Helper()
	require.NoError(t, s.SaveTest(context.Background(), def))
}

func inProgress(id, user, test string, startedAt time.Time) Attempt {
	return Attempt{
		ID:            id,
		UserID:        user,
		TestID:        test,
		Status:        StatusInProgress,
		StartedAt:     startedAt,
		Seed:          42,
		QuestionOrder: []string{test + "-q1", test + "-q2"},
	}
}
