// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chaptermill/chaptermill/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// RunStoreConfig controls the Postgres connection pool used for run rows.
type RunStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxQuerier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// RunStore implements store.RunRepository on top of Postgres.
type RunStore struct {
	pool  pgxQuerier
	table string
}

// NewRunStore creates a Postgres-backed RunStore using the provided config.
func NewRunStore(ctx context.Context, cfg RunStoreConfig) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "crawl_runs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RunStore{
		pool:  pool,
		table: table,
	}, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(pool pgxQuerier, table string) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "crawl_runs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RunStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// StartRun inserts a new run row in the running state.
func (s *RunStore) StartRun(ctx context.Context, run store.CrawlRun) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("run store is not configured")
	}
	if run.ID == uuid.Nil {
		return fmt.Errorf("run id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	book_id,
	started_at,
	updated_at,
	status,
	chapters_saved,
	last_chapter
) VALUES (
	$1,$2,$3,$3,$4,0,0
)`, s.table)

	if _, err := s.pool.Exec(ctx, query, run.ID, run.BookID, run.StartedAt, store.RunRunning); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecordChapter bumps the saved-chapter counters for a running run.
func (s *RunStore) RecordChapter(ctx context.Context, runID uuid.UUID, chapter int, at time.Time) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("run store is not configured")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET chapters_saved = chapters_saved + 1, last_chapter = $2, updated_at = $3
WHERE id = $1`, s.table)

	if _, err := s.pool.Exec(ctx, query, runID, chapter, at); err != nil {
		return fmt.Errorf("record chapter: %w", err)
	}
	return nil
}

// FinishRun marks a run finished with a status and optional error message.
func (s *RunStore) FinishRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("run store is not configured")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET finished_at = $2, updated_at = $2, status = $3, error_message = $4
WHERE id = $1`, s.table)

	if _, err := s.pool.Exec(ctx, query, runID, finishedAt, status, errMsg); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// GetRun retrieves a single run by its ID.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (store.CrawlRun, error) {
	if s == nil || s.pool == nil {
		return store.CrawlRun{}, fmt.Errorf("run store is not configured")
	}
	query := fmt.Sprintf(`
SELECT id, book_id, started_at, finished_at, status, chapters_saved, last_chapter, error_message
FROM %s
WHERE id = $1`, s.table)

	var run store.CrawlRun
	err := s.pool.QueryRow(ctx, query, runID).Scan(
		&run.ID,
		&run.BookID,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.ChaptersSaved,
		&run.LastChapter,
		&run.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.CrawlRun{}, store.ErrNotFound
		}
		return store.CrawlRun{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves runs newest first, with optional status filtering.
func (s *RunStore) ListRuns(
	ctx context.Context,
	status *store.RunStatus,
	limit,
	offset int,
) ([]store.CrawlRun, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("run store is not configured")
	}
	query := fmt.Sprintf(`
SELECT id, book_id, started_at, finished_at, status, chapters_saved, last_chapter, error_message
FROM %s
WHERE ($1::text IS NULL OR status = $1)
ORDER BY started_at DESC
LIMIT $2 OFFSET $3`, s.table)

	rows, err := s.pool.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.CrawlRun
	for rows.Next() {
		var run store.CrawlRun
		err := rows.Scan(
			&run.ID,
			&run.BookID,
			&run.StartedAt,
			&run.FinishedAt,
			&run.Status,
			&run.ChaptersSaved,
			&run.LastChapter,
			&run.ErrorMessage,
		)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	return runs, nil
}
