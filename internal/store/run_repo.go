// Package store declares interfaces for persisting crawl run history.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("run record not found")

// RunStatus mirrors the crawl_runs status column.
type RunStatus string

// Run statuses persisted in crawl_runs.status.
const (
	RunRunning   RunStatus = "running"
	RunStopped   RunStatus = "stopped"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// CrawlRun models one start-to-finish execution of the chapter pipeline.
type CrawlRun struct {
	// ID is the primary key of crawl_runs; IDs are time-ordered so listing
	// by ID matches listing by start time.
	ID uuid.UUID
	// BookID names the book this run crawled.
	BookID string
	// StartedAt captures when the run was first marked running.
	StartedAt time.Time
	// FinishedAt is nil until the run reaches a terminal status.
	FinishedAt *time.Time
	// Status is running/stopped/completed/failed.
	Status RunStatus
	// ChaptersSaved counts chapters persisted during this run.
	ChaptersSaved int64
	// LastChapter is the highest chapter number saved during this run.
	LastChapter int
	// ErrorMessage optionally stores the final failure reason or, for a
	// stopped run, its halt note.
	ErrorMessage *string
}

// RunRepository persists crawl run history.
type RunRepository interface {
	// StartRun inserts a new run in the running state.
	StartRun(ctx context.Context, run CrawlRun) error
	// RecordChapter bumps the saved-chapter counters for a running run.
	RecordChapter(ctx context.Context, runID uuid.UUID, chapter int, at time.Time) error
	// FinishRun marks the run finished with the provided status and error.
	FinishRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error

	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (CrawlRun, error)
	// ListRuns returns runs filtered by optional status plus limit/offset,
	// newest first.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]CrawlRun, error)
}
