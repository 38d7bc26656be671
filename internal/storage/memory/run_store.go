package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chaptermill/chaptermill/internal/store"
)

// RunStore provides an in-memory store.RunRepository for development/testing
// and for deployments without a database.
type RunStore struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]store.CrawlRun
	// order keeps insertion order so listings stay newest first.
	order []uuid.UUID
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs: make(map[uuid.UUID]store.CrawlRun),
	}
}

// StartRun stores a new run in the running state.
func (s *RunStore) StartRun(_ context.Context, run store.CrawlRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return errors.New("run already exists")
	}
	run.Status = store.RunRunning
	s.runs[run.ID] = run
	s.order = append(s.order, run.ID)
	return nil
}

// RecordChapter bumps the saved-chapter counters for a run.
func (s *RunStore) RecordChapter(_ context.Context, runID uuid.UUID, chapter int, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	run.ChaptersSaved++
	if chapter > run.LastChapter {
		run.LastChapter = chapter
	}
	s.runs[runID] = run
	return nil
}

// FinishRun marks a run finished with a terminal status.
func (s *RunStore) FinishRun(
	_ context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	run.Status = status
	run.FinishedAt = pointerTime(finishedAt)
	if errMsg != nil {
		msg := *errMsg
		run.ErrorMessage = &msg
	}
	s.runs[runID] = run
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, runID uuid.UUID) (store.CrawlRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.CrawlRun{}, store.ErrNotFound
	}
	return run, nil
}

// ListRuns returns runs newest first with optional status filtering.
func (s *RunStore) ListRuns(_ context.Context, status *store.RunStatus, limit, offset int) ([]store.CrawlRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.CrawlRun
	for i := len(s.order) - 1; i >= 0; i-- {
		run := s.runs[s.order[i]]
		if status != nil && run.Status != *status {
			continue
		}
		out = append(out, run)
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
