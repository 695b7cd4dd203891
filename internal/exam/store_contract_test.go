package exam

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract exercises the behavior every Store backend must share.
func runStoreContract(t *testing.T, open func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("catalog round trip keeps sort order", func(t *testing.T) {
		s := open(t)
		def := definition("t1", func(x *Test) {
			x.TimeLimitMinutes = ptr(30)
			x.MaxAttempts = ptr(2)
			x.LessonID = ptr("lesson-9")
			x.AvailableFrom = ptr(t0.Add(-time.Hour))
		}, choiceQ("z", 10, "a", "a", "b"), essayQ("m", 5), choiceQ("a", 10, "b", "a", "b"))
		saveDef(t, s, def)

		got, err := s.GetTest(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, def.Title, got.Title)
		assert.Equal(t, 30, *got.TimeLimitMinutes)
		assert.Equal(t, 2, *got.MaxAttempts)
		assert.Equal(t, "lesson-9", *got.LessonID)
		assert.True(t, got.AvailableFrom.Equal(t0.Add(-time.Hour)))
		assert.Nil(t, got.AvailableUntil)
		assert.True(t, got.IsPublished)

		qs, err := s.GetQuestions(ctx, "t1")
		require.NoError(t, err)
		require.Len(t, qs, 3)
		assert.Equal(t, []string{"z", "m", "a"}, []string{qs[0].ID, qs[1].ID, qs[2].ID})
		assert.Equal(t, "a", qs[0].CorrectOptionID())
		assert.Nil(t, qs[1].Options)

		q, err := s.GetQuestion(ctx, "m")
		require.NoError(t, err)
		assert.Equal(t, Essay, q.Type)
	})

	t.Run("missing records", func(t *testing.T) {
		s := open(t)
		_, err := s.GetTest(ctx, "nope")
		assert.ErrorIs(t, err, ErrTestNotFound)
		_, err = s.GetQuestions(ctx, "nope")
		assert.ErrorIs(t, err, ErrTestNotFound)
		_, err = s.GetQuestion(ctx, "nope")
		assert.ErrorIs(t, err, ErrQuestionNotFound)
		_, err = s.GetAttempt(ctx, "nope")
		assert.ErrorIs(t, err, ErrAttemptNotFound)
		_, err = s.GetActiveAttempt(ctx, "u1", "nope")
		assert.ErrorIs(t, err, ErrAttemptNotFound)
		_, err = s.ListAnswers(ctx, "nope")
		assert.ErrorIs(t, err, ErrAttemptNotFound)
	})

	t.Run("one active attempt per user and test", func(t *testing.T) {
		s := open(t)
		saveDef(t, s, twoChoice("t1", nil))

		require.NoError(t, s.CreateAttempt(ctx, inProgress("a1", "u1", "t1", t0)))
		err := s.CreateAttempt(ctx, inProgress("a2", "u1", "t1", t0))
		assert.ErrorIs(t, err, ErrActiveAttemptExists)
		require.NoError(t, s.CreateAttempt(ctx, inProgress("a3", "u2", "t1", t0)))

		active, err := s.GetActiveAttempt(ctx, "u1", "t1")
		require.NoError(t, err)
		assert.Equal(t, "a1", active.ID)
		assert.Equal(t, int64(42), active.Seed)
		assert.Equal(t, []string{"t1-q1", "t1-q2"}, active.QuestionOrder)

		require.NoError(t, s.FinishAttempt(ctx, Finish{AttemptID: "a1", UserID: "u1", Status: StatusAbandoned, CompletedAt: t0.Add(time.Minute)}))
		require.NoError(t, s.CreateAttempt(ctx, inProgress("a4", "u1", "t1", t0.Add(2*time.Minute))))
	})

	t.Run("concurrent creates leave one active attempt", func(t *testing.T) {
		s := open(t)
		saveDef(t, s, twoChoice("t1", nil))

		const n = 8
		var wg sync.WaitGroup
		errs := make([]error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = s.CreateAttempt(ctx, inProgress(fmt.Sprintf("a%d", i), "u1", "t1", t0))
			}(i)
		}
		wg.Wait()

		won := 0
		for _, err := range errs {
			if err == nil {
				won++
				continue
			}
			assert.ErrorIs(t, err, ErrActiveAttemptExists)
		}
		assert.Equal(t, 1, won)
	})

	t.Run("finish is a conditional transition", func(t *testing.T) {
		s := open(t)
		saveDef(t, s, twoChoice("t1", nil))
		require.NoError(t, s.CreateAttempt(ctx, inProgress("a1", "u1", "t1", t0)))

		wrongUser := Finish{AttemptID: "a1", UserID: "u2", Status: StatusCompleted, CompletedAt: t0}
		assert.ErrorIs(t, s.FinishAttempt(ctx, wrongUser), ErrStaleAttempt)

		f := Finish{
			AttemptID:        "a1",
			UserID:           "u1",
			Status:           StatusCompleted,
			CompletedAt:      t0.Add(12 * time.Minute),
			TimeSpentMinutes: 12,
			Score:            ptr(50.0),
			IsPassed:         ptr(false),
			Answers: []Answer{
				{AttemptID: "a1", QuestionID: "t1-q1", SelectedOptionID: ptr("a"), IsCorrect: ptr(true), PointsAwarded: 50},
				{AttemptID: "a1", QuestionID: "t1-q2", SelectedOptionID: ptr("e"), IsCorrect: ptr(false)},
			},
		}
		require.NoError(t, s.FinishAttempt(ctx, f))

		again := f
		again.Score = ptr(100.0)
		assert.ErrorIs(t, s.FinishAttempt(ctx, again), ErrStaleAttempt)

		a, err := s.GetAttempt(ctx, "a1")
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, a.Status)
		assert.Equal(t, 50.0, *a.Score)
		assert.False(t, *a.IsPassed)
		assert.Equal(t, 12, *a.TimeSpentMinutes)
		assert.True(t, a.CompletedAt.Equal(t0.Add(12*time.Minute)))

		answers, err := s.ListAnswers(ctx, "a1")
		require.NoError(t, err)
		require.Len(t, answers, 2)
		assert.Equal(t, "t1-q1", answers[0].QuestionID)
		assert.Equal(t, "a", *answers[0].SelectedOptionID)
		assert.Nil(t, answers[0].AnswerText)
		assert.Equal(t, 50.0, answers[0].PointsAwarded)
	})

	t.Run("terminal counts exclude running attempts", func(t *testing.T) {
		s := open(t)
		saveDef(t, s, twoChoice("t1", nil))
		for i, st := range []Status{StatusCompleted, StatusAbandoned} {
			id := fmt.Sprintf("a%d", i)
			require.NoError(t, s.CreateAttempt(ctx, inProgress(id, "u1", "t1", t0.Add(time.Duration(i)*time.Minute))))
			require.NoError(t, s.FinishAttempt(ctx, Finish{AttemptID: id, UserID: "u1", Status: st, CompletedAt: t0}))
		}
		require.NoError(t, s.CreateAttempt(ctx, inProgress("a9", "u1", "t1", t0.Add(time.Hour))))

		n, err := s.CountTerminalAttempts(ctx, "u1", "t1")
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		n, err = s.CountAttempts(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		terminal, err := s.ListTerminalAttempts(ctx, "t1")
		require.NoError(t, err)
		assert.Len(t, terminal, 2)
		active, err := s.ListActiveAttempts(ctx)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "a9", active[0].ID)
	})

	t.Run("manual grade rescores atomically", func(t *testing.T) {
		s := open(t)
		saveDef(t, s, definition("t1", nil, choiceQ("q1", 50, "a", "a", "b"), essayQ("q2", 50)))
		require.NoError(t, s.CreateAttempt(ctx, inProgress("a1", "u1", "t1", t0)))
		require.NoError(t, s.FinishAttempt(ctx, Finish{
			AttemptID: "a1", UserID: "u1", Status: StatusCompleted, CompletedAt: t0,
			Score: ptr(50.0), IsPassed: ptr(false),
			Answers: []Answer{
				{QuestionID: "q1", SelectedOptionID: ptr("a"), IsCorrect: ptr(true), PointsAwarded: 50},
				{QuestionID: "q2", AnswerText: ptr("because")},
			},
		}))

		rescore := func(earned float64) (float64, bool) { return earned, earned >= 70 }
		a, err := s.ApplyManualGrade(ctx, ManualGrade{AttemptID: "a1", QuestionID: "q2", PointsAwarded: 40, GradedBy: "teacher-1"}, rescore)
		require.NoError(t, err)
		assert.Equal(t, 90.0, *a.Score)
		assert.True(t, *a.IsPassed)

		answers, err := s.ListAnswers(ctx, "a1")
		require.NoError(t, err)
		require.Len(t, answers, 2)
		assert.Equal(t, 40.0, answers[1].PointsAwarded)
		assert.False(t, *answers[1].IsCorrect)
		assert.Equal(t, "teacher-1", answers[1].GradedBy)

		_, err = s.ApplyManualGrade(ctx, ManualGrade{AttemptID: "a1", QuestionID: "q9"}, rescore)
		assert.ErrorIs(t, err, ErrAnswerNotFound)
		_, err = s.ApplyManualGrade(ctx, ManualGrade{AttemptID: "nope", QuestionID: "q2"}, rescore)
		assert.ErrorIs(t, err, ErrAttemptNotFound)

		require.NoError(t, s.CreateAttempt(ctx, inProgress("a2", "u1", "t1", t0)))
		_, err = s.ApplyManualGrade(ctx, ManualGrade{AttemptID: "a2", QuestionID: "q2"}, rescore)
		assert.ErrorIs(t, err, ErrStaleAttempt)
	})

	t.Run("delete is blocked while attempts exist", func(t *testing.T) {
		s := open(t)
		saveDef(t, s, twoChoice("t1", nil))
		saveDef(t, s, twoChoice("t2", nil))
		require.NoError(t, s.CreateAttempt(ctx, inProgress("a1", "u1", "t1", t0)))

		assert.ErrorIs(t, s.DeleteTest(ctx, "t1"), ErrTestLocked)
		require.NoError(t, s.DeleteTest(ctx, "t2"))
		_, err := s.GetTest(ctx, "t2")
		assert.ErrorIs(t, err, ErrTestNotFound)
		assert.ErrorIs(t, s.DeleteTest(ctx, "t2"), ErrTestNotFound)
	})

	t.Run("question in use follows running attempts", func(t *testing.T) {
		s := open(t)
		saveDef(t, s, twoChoice("t1", nil))
		inUse, err := s.QuestionInUse(ctx, "t1-q1")
		require.NoError(t, err)
		assert.False(t, inUse)

		require.NoError(t, s.CreateAttempt(ctx, inProgress("a1", "u1", "t1", t0)))
		inUse, err = s.QuestionInUse(ctx, "t1-q1")
		require.NoError(t, err)
		assert.True(t, inUse)
	})

	t.Run("user history is newest first and paged", func(t *testing.T) {
		s := open(t)
		saveDef(t, s, twoChoice("t1", nil))
		saveDef(t, s, twoChoice("t2", nil))
		for i := 0; i < 3; i++ {
			id := fmt.Sprintf("a%d", i)
			require.NoError(t, s.CreateAttempt(ctx, inProgress(id, "u1", "t1", t0.Add(time.Duration(i)*time.Hour))))
			require.NoError(t, s.FinishAttempt(ctx, Finish{AttemptID: id, UserID: "u1", Status: StatusAbandoned, CompletedAt: t0}))
		}
		require.NoError(t, s.CreateAttempt(ctx, inProgress("other", "u2", "t2", t0)))

		page, total, err := s.ListUserAttempts(ctx, "u1", Page{Limit: 2, Offset: 0})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		require.Len(t, page, 2)
		assert.Equal(t, "a2", page[0].ID)
		assert.Equal(t, "a1", page[1].ID)

		page, _, err = s.ListUserAttempts(ctx, "u1", Page{Limit: 2, Offset: 2})
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, "a0", page[0].ID)

		page, total, err = s.ListUserAttempts(ctx, "nobody", Page{Limit: 10})
		require.NoError(t, err)
		assert.Empty(t, page)
		assert.Zero(t, total)
	})
}
