package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Open opens a DB and, when migrate is set, ensures the schema exists.
func Open(ctx context.Context, driver Driver, dsn string, migrate bool) (*sql.DB, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite" // modernc driver
		if dsn == "" {
			dsn = "file:assessment.db?cache=shared&mode=rwc&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
		}
	case DriverPostgres:
		drvName = "pgx" // pgx stdlib driver
		if dsn == "" {
			dsn = "postgres://localhost:5432/assessment?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if migrate {
		if err := EnsureSchema(ctx, db, driver); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return db, nil
}

// EnsureSchema applies the idempotent DDL for the given dialect.
func EnsureSchema(ctx context.Context, db *sql.DB, driver Driver) error {
	var schema string
	switch driver {
	case DriverSQLite:
		schema = schemaSQLite
	case DriverPostgres:
		schema = schemaPostgres
	default:
		return fmt.Errorf("unsupported driver: %s", driver)
	}
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema: %w", err)
		}
	}
	return nil
}

// Attempts reference tests without cascading: a test with attempts cannot be
// deleted. The partial unique index allows at most one IN_PROGRESS attempt per
// (user, test).
const schemaSQLite = `
CREATE TABLE IF NOT EXISTS tests (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  course_id TEXT NOT NULL,
  lesson_id TEXT,
  time_limit_minutes INTEGER,
  max_attempts INTEGER,
  passing_score REAL NOT NULL,
  shuffle_questions INTEGER NOT NULL DEFAULT 0,
  shuffle_options INTEGER NOT NULL DEFAULT 0,
  show_results_immediately INTEGER NOT NULL DEFAULT 1,
  is_published INTEGER NOT NULL DEFAULT 0,
  available_from INTEGER,
  available_until INTEGER,
  created_by TEXT NOT NULL,
  created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS questions (
  id TEXT PRIMARY KEY,
  type TEXT NOT NULL,
  prompt TEXT NOT NULL DEFAULT '',
  options_json TEXT NOT NULL DEFAULT '[]',
  point_value REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS test_questions (
  test_id TEXT NOT NULL REFERENCES tests(id) ON DELETE CASCADE,
  question_id TEXT NOT NULL REFERENCES questions(id),
  sort_order INTEGER NOT NULL,
  PRIMARY KEY (test_id, question_id)
);

CREATE TABLE IF NOT EXISTS test_results (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  test_id TEXT NOT NULL REFERENCES tests(id) ON DELETE RESTRICT,
  status TEXT NOT NULL,
  started_at INTEGER NOT NULL,
  completed_at INTEGER,
  time_spent_minutes INTEGER,
  score REAL,
  is_passed INTEGER,
  seed INTEGER NOT NULL,
  question_order TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_test_results_user ON test_results (user_id, started_at);
CREATE INDEX IF NOT EXISTS idx_test_results_test ON test_results (test_id, status);
CREATE UNIQUE INDEX IF NOT EXISTS uq_test_results_active ON test_results (user_id, test_id) WHERE status = 'IN_PROGRESS';

CREATE TABLE IF NOT EXISTS test_answers (
  attempt_id TEXT NOT NULL REFERENCES test_results(id) ON DELETE RESTRICT,
  question_id TEXT NOT NULL,
  selected_option_id TEXT,
  answer_text TEXT,
  is_correct INTEGER,
  points_awarded REAL NOT NULL DEFAULT 0,
  graded_by TEXT,
  PRIMARY KEY (attempt_id, question_id)
);

CREATE TABLE IF NOT EXISTS event_log (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  site_id TEXT NOT NULL DEFAULT 'local',
  typ TEXT NOT NULL,
  key TEXT NOT NULL,
  data TEXT NOT NULL,
  created_at INTEGER NOT NULL
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS tests (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  course_id TEXT NOT NULL,
  lesson_id TEXT,
  time_limit_minutes INTEGER,
  max_attempts INTEGER,
  passing_score DOUBLE PRECISION NOT NULL,
  shuffle_questions BOOLEAN NOT NULL DEFAULT FALSE,
  shuffle_options BOOLEAN NOT NULL DEFAULT FALSE,
  show_results_immediately BOOLEAN NOT NULL DEFAULT TRUE,
  is_published BOOLEAN NOT NULL DEFAULT FALSE,
  available_from BIGINT,
  available_until BIGINT,
  created_by TEXT NOT NULL,
  created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS questions (
  id TEXT PRIMARY KEY,
  type TEXT NOT NULL,
  prompt TEXT NOT NULL DEFAULT '',
  options_json TEXT NOT NULL DEFAULT '[]',
  point_value DOUBLE PRECISION NOT NULL
);

CREATE TABLE IF NOT EXISTS test_questions (
  test_id TEXT NOT NULL REFERENCES tests(id) ON DELETE CASCADE,
  question_id TEXT NOT NULL REFERENCES questions(id),
  sort_order INTEGER NOT NULL,
  PRIMARY KEY (test_id, question_id)
);

CREATE TABLE IF NOT EXISTS test_results (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  test_id TEXT NOT NULL REFERENCES tests(id) ON DELETE RESTRICT,
  status TEXT NOT NULL,
  started_at BIGINT NOT NULL,
  completed_at BIGINT,
  time_spent_minutes INTEGER,
  score DOUBLE PRECISION,
  is_passed BOOLEAN,
  seed BIGINT NOT NULL,
  question_order TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_test_results_user ON test_results (user_id, started_at);
CREATE INDEX IF NOT EXISTS idx_test_results_test ON test_results (test_id, status);
CREATE UNIQUE INDEX IF NOT EXISTS uq_test_results_active ON test_results (user_id, test_id) WHERE status = 'IN_PROGRESS';

CREATE TABLE IF NOT EXISTS test_answers (
  attempt_id TEXT NOT NULL REFERENCES test_results(id) ON DELETE RESTRICT,
  question_id TEXT NOT NULL,
  selected_option_id TEXT,
  answer_text TEXT,
  is_correct BOOLEAN,
  points_awarded DOUBLE PRECISION NOT NULL DEFAULT 0,
  graded_by TEXT,
  PRIMARY KEY (attempt_id, question_id)
);

CREATE TABLE IF NOT EXISTS event_log (
  seq BIGSERIAL PRIMARY KEY,
  site_id TEXT NOT NULL DEFAULT 'local',
  typ TEXT NOT NULL,
  key TEXT NOT NULL,
  data TEXT NOT NULL,
  created_at BIGINT NOT NULL
);
`
