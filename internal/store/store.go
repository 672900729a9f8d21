// Package store keeps a history of verification runs in PostgreSQL.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/x402labs/paywall-verify/internal/verify"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS verification_runs (
    id            UUID PRIMARY KEY,
    target_url    TEXT NOT NULL,
    driver        TEXT NOT NULL,
    status        TEXT NOT NULL,
    failure_class TEXT NOT NULL DEFAULT '',
    error         TEXT NOT NULL DEFAULT '',
    screenshots   JSONB NOT NULL DEFAULT '[]',
    started_at    TIMESTAMPTZ NOT NULL,
    finished_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS verification_runs_started_at_idx ON verification_runs (started_at DESC);
CREATE TABLE IF NOT EXISTS verification_steps (
    run_id      UUID NOT NULL REFERENCES verification_runs (id) ON DELETE CASCADE,
    idx         INTEGER NOT NULL,
    name        TEXT NOT NULL,
    kind        TEXT NOT NULL,
    status      TEXT NOT NULL,
    duration_ms BIGINT NOT NULL,
    message     TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (run_id, idx)
);`

const insertRunSQL = `
INSERT INTO verification_runs (id, target_url, driver, status, failure_class, error, screenshots, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);`

const recentRunsSQL = `
SELECT r.id, r.target_url, r.driver, r.status, r.failure_class, r.started_at, r.finished_at,
       COUNT(s.idx) FILTER (WHERE s.status = 'passed'), COUNT(s.idx)
FROM verification_runs r
LEFT JOIN verification_steps s ON s.run_id = r.id
GROUP BY r.id
ORDER BY r.started_at DESC
LIMIT $1;`

var stepColumns = []string{"run_id", "idx", "name", "kind", "status", "duration_ms", "message"}

// RunSummary is one row of the run history.
type RunSummary struct {
	ID           string
	TargetURL    string
	Driver       string
	Status       verify.Status
	FailureClass verify.Class
	StartedAt    time.Time
	FinishedAt   time.Time
	StepsPassed  int
	StepsTotal   int
}

// Store persists reports to PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the history tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SaveRun writes the run and its steps in one transaction.
func (s *Store) SaveRun(ctx context.Context, report *verify.Report) error {
	screenshots := report.Screenshots
	if screenshots == nil {
		screenshots = []string{}
	}
	shots, err := json.Marshal(screenshots)
	if err != nil {
		return fmt.Errorf("failed to encode screenshots: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	_, err = tx.Exec(ctx, insertRunSQL,
		report.RunID, report.TargetURL, report.Driver,
		string(report.Status), string(report.FailureClass), report.Error,
		shots, report.StartedAt.UTC(), report.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", report.RunID, err)
	}

	if len(report.Steps) > 0 {
		if err := s.persistSteps(ctx, tx, report); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Run saved.", zap.String("run_id", report.RunID), zap.Int("steps", len(report.Steps)))
	return nil
}

func (s *Store) persistSteps(ctx context.Context, tx pgx.Tx, report *verify.Report) error {
	rows := make([][]interface{}, len(report.Steps))
	for i, st := range report.Steps {
		rows[i] = []interface{}{
			report.RunID, st.Index, st.Name, string(st.Kind), string(st.Status),
			st.Duration.Milliseconds(), st.Message,
		}
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"verification_steps"}, stepColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy steps: %w", err)
	}
	if int(copyCount) != len(rows) {
		return fmt.Errorf("mismatch in copied steps count: expected %d, got %d", len(rows), copyCount)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	rows, err := s.pool.Query(ctx, recentRunsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var (
			r             RunSummary
			status, class string
			passed, total int64
		)
		if err := rows.Scan(&r.ID, &r.TargetURL, &r.Driver, &status, &class, &r.StartedAt, &r.FinishedAt, &passed, &total); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		r.Status = verify.Status(status)
		r.FailureClass = verify.Class(class)
		r.StepsPassed, r.StepsTotal = int(passed), int(total)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return runs, nil
}
