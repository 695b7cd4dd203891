package exam

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLStore persists the catalog and attempts through database/sql. Queries
// use $N placeholders, which both pgx and modernc sqlite accept.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

var _ Store = (*SQLStore)(nil)

// ---- catalog ----

const testColumns = `id,title,description,course_id,lesson_id,time_limit_minutes,max_attempts,passing_score,
	shuffle_questions,shuffle_options,show_results_immediately,is_published,available_from,available_until,created_by,created_at`

func (s *SQLStore) GetTest(ctx context.Context, id string) (Test, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+testColumns+` FROM tests WHERE id=$1`, id)
	var (
		t                     Test
		lesson                sql.NullString
		limit, maxAttempts    sql.NullInt64
		availFrom, availUntil sql.NullInt64
		createdAt             int64
	)
	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.CourseID, &lesson, &limit, &maxAttempts, &t.PassingScore,
		&t.ShuffleQuestions, &t.ShuffleOptions, &t.ShowResultsImmediately, &t.IsPublished,
		&availFrom, &availUntil, &t.CreatedBy, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Test{}, ErrTestNotFound
		}
		return Test{}, err
	}
	if lesson.Valid {
		t.LessonID = &lesson.String
	}
	t.TimeLimitMinutes = intPtr(limit)
	t.MaxAttempts = intPtr(maxAttempts)
	t.AvailableFrom = timePtr(availFrom)
	t.AvailableUntil = timePtr(availUntil)
	t.CreatedAt = time.UnixMilli(createdAt).UTC()
	return t, nil
}

func (s *SQLStore) GetQuestions(ctx context.Context, testID string) ([]Question, error) {
	if _, err := s.GetTest(ctx, testID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT q.id,q.type,q.prompt,q.options_json,q.point_value
		FROM test_questions tq JOIN questions q ON q.id = tq.question_id
		WHERE tq.test_id=$1 ORDER BY tq.sort_order ASC`, testID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Question{}
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *SQLStore) GetQuestion(ctx context.Context, id string) (Question, error) {
	q, err := scanQuestion(s.db.QueryRowContext(ctx,
		`SELECT id,type,prompt,options_json,point_value FROM questions WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Question{}, ErrQuestionNotFound
	}
	return q, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanQuestion(r scanner) (Question, error) {
	var q Question
	var typ, ojson string
	if err := r.Scan(&q.ID, &typ, &q.Prompt, &ojson, &q.PointValue); err != nil {
		return Question{}, err
	}
	q.Type = QuestionType(typ)
	if err := json.Unmarshal([]byte(ojson), &q.Options); err != nil {
		return Question{}, fmt.Errorf("question %s options: %w", q.ID, err)
	}
	if len(q.Options) == 0 {
		q.Options = nil
	}
	return q, nil
}

func (s *SQLStore) SaveTest(ctx context.Context, def TestDefinition) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		t := def.Test
		_, err := tx.ExecContext(ctx, `INSERT INTO tests (`+testColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
			ON CONFLICT (id) DO UPDATE SET title=EXCLUDED.title, description=EXCLUDED.description,
			  course_id=EXCLUDED.course_id, lesson_id=EXCLUDED.lesson_id, time_limit_minutes=EXCLUDED.time_limit_minutes,
			  max_attempts=EXCLUDED.max_attempts, passing_score=EXCLUDED.passing_score,
			  shuffle_questions=EXCLUDED.shuffle_questions, shuffle_options=EXCLUDED.shuffle_options,
			  show_results_immediately=EXCLUDED.show_results_immediately, is_published=EXCLUDED.is_published,
			  available_from=EXCLUDED.available_from, available_until=EXCLUDED.available_until`,
			t.ID, t.Title, t.Description, t.CourseID, nullString(t.LessonID), nullInt(t.TimeLimitMinutes),
			nullInt(t.MaxAttempts), t.PassingScore, t.ShuffleQuestions, t.ShuffleOptions,
			t.ShowResultsImmediately, t.IsPublished, nullMillis(t.AvailableFrom), nullMillis(t.AvailableUntil),
			t.CreatedBy, t.CreatedAt.UnixMilli())
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM test_questions WHERE test_id=$1`, t.ID); err != nil {
			return err
		}
		for i, q := range def.Questions {
			opts := q.Options
			if opts == nil {
				opts = []Option{}
			}
			oj, err := json.Marshal(opts)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO questions (id,type,prompt,options_json,point_value)
				VALUES ($1,$2,$3,$4,$5)
				ON CONFLICT (id) DO UPDATE SET type=EXCLUDED.type, prompt=EXCLUDED.prompt,
				  options_json=EXCLUDED.options_json, point_value=EXCLUDED.point_value`,
				q.ID, string(q.Type), q.Prompt, string(oj), q.PointValue); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO test_questions (test_id,question_id,sort_order) VALUES ($1,$2,$3)`,
				t.ID, q.ID, i); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLStore) DeleteTest(ctx context.Context, id string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM test_results WHERE test_id=$1`, id).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return ErrTestLocked
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM test_questions WHERE test_id=$1`, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM tests WHERE id=$1`, id)
		if err != nil {
			return err
		}
		if aff, _ := res.RowsAffected(); aff == 0 {
			return ErrTestNotFound
		}
		return nil
	})
	if isConstraint(err, pgForeignKeyViolation, sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY) {
		return ErrTestLocked
	}
	return err
}

// ---- attempts ----

const attemptColumns = `id,user_id,test_id,status,started_at,completed_at,time_spent_minutes,score,is_passed,seed,question_order`

func (s *SQLStore) CreateAttempt(ctx context.Context, a Attempt) error {
	order, err := json.Marshal(a.QuestionOrder)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO test_results (`+attemptColumns+`)
		VALUES ($1,$2,$3,$4,$5,NULL,NULL,NULL,NULL,$6,$7)`,
		a.ID, a.UserID, a.TestID, string(StatusInProgress), a.StartedAt.UnixMilli(), a.Seed, string(order))
	switch {
	case isConstraint(err, pgUniqueViolation, sqlite3.SQLITE_CONSTRAINT_UNIQUE):
		return ErrActiveAttemptExists
	case isConstraint(err, pgForeignKeyViolation, sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY):
		return ErrTestNotFound
	}
	return err
}

func (s *SQLStore) GetAttempt(ctx context.Context, id string) (Attempt, error) {
	a, err := scanAttempt(s.db.QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM test_results WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Attempt{}, ErrAttemptNotFound
	}
	return a, err
}

func (s *SQLStore) GetActiveAttempt(ctx context.Context, userID, testID string) (Attempt, error) {
	a, err := scanAttempt(s.db.QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM test_results
		WHERE user_id=$1 AND test_id=$2 AND status=$3`, userID, testID, string(StatusInProgress)))
	if errors.Is(err, sql.ErrNoRows) {
		return Attempt{}, ErrAttemptNotFound
	}
	return a, err
}

func (s *SQLStore) CountTerminalAttempts(ctx context.Context, userID, testID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM test_results
		WHERE user_id=$1 AND test_id=$2 AND status IN ($3,$4)`,
		userID, testID, string(StatusCompleted), string(StatusAbandoned)).Scan(&n)
	return n, err
}

func (s *SQLStore) CountAttempts(ctx context.Context, testID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM test_results WHERE test_id=$1`, testID).Scan(&n)
	return n, err
}

func (s *SQLStore) QuestionInUse(ctx context.Context, questionID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM test_results r
		JOIN test_questions tq ON tq.test_id = r.test_id
		WHERE tq.question_id=$1 AND r.status=$2 LIMIT 1`, questionID, string(StatusInProgress)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *SQLStore) FinishAttempt(ctx context.Context, f Finish) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE test_results
			SET status=$1, completed_at=$2, time_spent_minutes=$3, score=$4, is_passed=$5
			WHERE id=$6 AND user_id=$7 AND status=$8`,
			string(f.Status), f.CompletedAt.UnixMilli(), f.TimeSpentMinutes, nullFloat(f.Score), nullBool(f.IsPassed),
			f.AttemptID, f.UserID, string(StatusInProgress))
		if err != nil {
			return err
		}
		if aff, err := res.RowsAffected(); err != nil {
			return err
		} else if aff == 0 {
			return ErrStaleAttempt
		}
		for _, a := range f.Answers {
			if _, err := tx.ExecContext(ctx, `INSERT INTO test_answers
				(attempt_id,question_id,selected_option_id,answer_text,is_correct,points_awarded,graded_by)
				VALUES ($1,$2,$3,$4,$5,$6,NULL)`,
				f.AttemptID, a.QuestionID, nullString(a.SelectedOptionID), nullString(a.AnswerText),
				nullBool(a.IsCorrect), a.PointsAwarded); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLStore) ListAnswers(ctx context.Context, attemptID string) ([]Answer, error) {
	if _, err := s.GetAttempt(ctx, attemptID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT attempt_id,question_id,selected_option_id,answer_text,is_correct,points_awarded,graded_by
		FROM test_answers WHERE attempt_id=$1 ORDER BY question_id`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Answer{}
	for rows.Next() {
		var (
			a                   Answer
			sel, text, gradedBy sql.NullString
			correct             sql.NullBool
		)
		if err := rows.Scan(&a.AttemptID, &a.QuestionID, &sel, &text, &correct, &a.PointsAwarded, &gradedBy); err != nil {
			return nil, err
		}
		if sel.Valid {
			a.SelectedOptionID = &sel.String
		}
		if text.Valid {
			a.AnswerText = &text.String
		}
		if correct.Valid {
			a.IsCorrect = &correct.Bool
		}
		a.GradedBy = gradedBy.String
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLStore) ApplyManualGrade(ctx context.Context, g ManualGrade, rescore Rescore) (Attempt, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		// No-op write first: it takes the row lock so concurrent regrades of
		// the same attempt serialize before summing.
		res, err := tx.ExecContext(ctx, `UPDATE test_results SET status=status WHERE id=$1 AND status=$2`,
			g.AttemptID, string(StatusCompleted))
		if err != nil {
			return err
		}
		if aff, _ := res.RowsAffected(); aff == 0 {
			var one int
			if err := tx.QueryRowContext(ctx, `SELECT 1 FROM test_results WHERE id=$1`, g.AttemptID).Scan(&one); errors.Is(err, sql.ErrNoRows) {
				return ErrAttemptNotFound
			}
			return ErrStaleAttempt
		}
		res, err = tx.ExecContext(ctx, `UPDATE test_answers SET points_awarded=$1, is_correct=$2, graded_by=$3
			WHERE attempt_id=$4 AND question_id=$5`, g.PointsAwarded, g.IsCorrect, g.GradedBy, g.AttemptID, g.QuestionID)
		if err != nil {
			return err
		}
		if aff, _ := res.RowsAffected(); aff == 0 {
			return ErrAnswerNotFound
		}
		var earned float64
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(SUM(points_awarded),0) FROM test_answers WHERE attempt_id=$1`,
			g.AttemptID).Scan(&earned); err != nil {
			return err
		}
		score, passed := rescore(earned)
		_, err = tx.ExecContext(ctx, `UPDATE test_results SET score=$1, is_passed=$2 WHERE id=$3`, score, passed, g.AttemptID)
		return err
	})
	if err != nil {
		return Attempt{}, err
	}
	return s.GetAttempt(ctx, g.AttemptID)
}

func (s *SQLStore) ListActiveAttempts(ctx context.Context) ([]Attempt, error) {
	return s.queryAttempts(ctx, `SELECT `+attemptColumns+` FROM test_results WHERE status=$1 ORDER BY started_at`,
		string(StatusInProgress))
}

func (s *SQLStore) ListTerminalAttempts(ctx context.Context, testID string) ([]Attempt, error) {
	return s.queryAttempts(ctx, `SELECT `+attemptColumns+` FROM test_results
		WHERE test_id=$1 AND status IN ($2,$3) ORDER BY started_at`,
		testID, string(StatusCompleted), string(StatusAbandoned))
}

func (s *SQLStore) ListUserAttempts(ctx context.Context, userID string, page Page) ([]Attempt, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM test_results WHERE user_id=$1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}
	list, err := s.queryAttempts(ctx, `SELECT `+attemptColumns+` FROM test_results WHERE user_id=$1
		ORDER BY started_at DESC, id DESC LIMIT $2 OFFSET $3`, userID, page.Limit, page.Offset)
	return list, total, err
}

func (s *SQLStore) queryAttempts(ctx context.Context, q string, args ...any) ([]Attempt, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Attempt{}
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAttempt(r scanner) (Attempt, error) {
	var (
		a         Attempt
		status    string
		started   int64
		completed sql.NullInt64
		spent     sql.NullInt64
		score     sql.NullFloat64
		passed    sql.NullBool
		orderJSON string
	)
	if err := r.Scan(&a.ID, &a.UserID, &a.TestID, &status, &started, &completed, &spent, &score, &passed,
		&a.Seed, &orderJSON); err != nil {
		return Attempt{}, err
	}
	a.Status = Status(status)
	a.StartedAt = time.UnixMilli(started).UTC()
	a.CompletedAt = timePtr(completed)
	a.TimeSpentMinutes = intPtr(spent)
	if score.Valid {
		a.Score = &score.Float64
	}
	if passed.Valid {
		a.IsPassed = &passed.Bool
	}
	if err := json.Unmarshal([]byte(orderJSON), &a.QuestionOrder); err != nil {
		return Attempt{}, fmt.Errorf("attempt %s question order: %w", a.ID, err)
	}
	return a, nil
}

func (s *SQLStore) withTx(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// ---- driver error mapping ----

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

func isConstraint(err error, pgCode string, sqliteCode int) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgCode
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqliteCode
	}
	// Fallback for wrapped driver errors that lost their type.
	msg := strings.ToLower(err.Error())
	switch sqliteCode {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return strings.Contains(msg, "unique constraint")
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return strings.Contains(msg, "foreign key constraint")
	}
	return false
}

// ---- null helpers ----

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func nullBool(p *bool) sql.NullBool {
	if p == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *p, Valid: true}
}

func nullMillis(p *time.Time) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: p.UnixMilli(), Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.UnixMilli(n.Int64).UTC()
	return &t
}
