// internal/store/store.go
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rulecheck/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS check_runs (
    id UUID PRIMARY KEY,
    started_at TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ,
    rulesets_loaded INTEGER NOT NULL DEFAULT 0,
    url_pairs INTEGER NOT NULL DEFAULT 0,
    rulesets_with_problems INTEGER NOT NULL DEFAULT 0,
    coverage_problems BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE TABLE IF NOT EXISTS ruleset_results (
    run_id UUID NOT NULL REFERENCES check_runs (id),
    ruleset TEXT NOT NULL,
    rule_file TEXT NOT NULL,
    urls_tested INTEGER NOT NULL,
    problems JSONB NOT NULL,
    warnings JSONB NOT NULL,
    disabled BOOLEAN NOT NULL,
    disable_error TEXT NOT NULL,
    duration_ms BIGINT NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL
);`

const (
	sqlInsertRun = `INSERT INTO check_runs (id, started_at) VALUES ($1, $2);`
	sqlFinishRun = `
        UPDATE check_runs SET
            finished_at = $2,
            rulesets_loaded = $3,
            url_pairs = $4,
            rulesets_with_problems = $5,
            coverage_problems = $6
        WHERE id = $1;`
)

var resultColumns = []string{
	"run_id", "ruleset", "rule_file", "urls_tested", "problems", "warnings",
	"disabled", "disable_error", "duration_ms", "finished_at",
}

// Store persists run results to PostgreSQL. Results are buffered by Record and
// written in one COPY by FinishRun.
type Store struct {
	pool DBPool
	log  *zap.Logger

	mu      sync.Mutex
	runID   string
	pending []schemas.RulesetResult
}

var _ schemas.ResultSink = (*Store)(nil)

// Connect opens a connection pool for url.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	return pool, nil
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

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// BeginRun inserts the run row that results will reference.
func (s *Store) BeginRun(ctx context.Context, runID string, started time.Time) error {
	if _, err := s.pool.Exec(ctx, sqlInsertRun, runID, started.UTC()); err != nil {
		return fmt.Errorf("failed to insert run %s: %w", runID, err)
	}
	s.mu.Lock()
	s.runID = runID
	s.pending = nil
	s.mu.Unlock()
	return nil
}

// Record buffers result until FinishRun.
func (s *Store) Record(_ context.Context, result *schemas.RulesetResult) error {
	if result == nil {
		return errors.New("result cannot be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runID == "" {
		return errors.New("no run in progress")
	}
	s.pending = append(s.pending, *result)
	return nil
}

// FinishRun writes the buffered results and the run summary in one transaction.
func (s *Store) FinishRun(ctx context.Context, summary *schemas.RunSummary) error {
	s.mu.Lock()
	runID, pending := s.runID, s.pending
	s.runID, s.pending = "", nil
	s.mu.Unlock()

	if runID == "" {
		return errors.New("no run in progress")
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

	if len(pending) > 0 {
		if err := s.copyResults(ctx, tx, runID, pending); err != nil {
			return err
		}
	}

	finished := summary.Started.Add(summary.Elapsed).UTC()
	if _, err := tx.Exec(ctx, sqlFinishRun, runID, finished,
		summary.RulesetsLoaded, summary.URLPairs, summary.RulesetsWithProblems, summary.CoverageProblems); err != nil {
		return fmt.Errorf("failed to update run %s: %w", runID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Info("Stored run results", zap.String("run_id", runID), zap.Int("results", len(pending)))
	return nil
}

func (s *Store) copyResults(ctx context.Context, tx pgx.Tx, runID string, results []schemas.RulesetResult) error {
	rows := make([][]interface{}, len(results))
	for i, r := range results {
		problems, err := marshalList(r.Problems)
		if err != nil {
			return fmt.Errorf("failed to encode problems of %s: %w", r.RuleFile, err)
		}
		warnings, err := marshalList(r.Warnings)
		if err != nil {
			return fmt.Errorf("failed to encode warnings of %s: %w", r.RuleFile, err)
		}
		rows[i] = []interface{}{
			runID, r.Ruleset, r.RuleFile, r.URLsTested, problems, warnings,
			r.Disabled, r.DisableError, r.Duration.Milliseconds(), r.FinishedAt.UTC(),
		}
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"ruleset_results"}, resultColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy ruleset results: %w", err)
	}
	if int(copyCount) != len(results) {
		return fmt.Errorf("mismatch in copied results count: expected %d, got %d", len(results), copyCount)
	}
	return nil
}

// marshalList encodes a slice as a JSON array, never as null.
func marshalList[T any](list []T) ([]byte, error) {
	if len(list) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(list)
}
