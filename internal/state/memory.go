package state

import (
	"context"
	"sync"

	"github.com/chaptermill/chaptermill/internal/novel"
)

// MemStore keeps the book documents in memory for development and testing.
type MemStore struct {
	mu     sync.RWMutex
	state  novel.CrawlState
	loaded bool
	index  []novel.ChapterRecord
	errs   []novel.ErrorRecord
}

// NewMemStore constructs an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{}
}

// LoadState returns the stored state, or defaults before the first save.
func (s *MemStore) LoadState(_ context.Context) (novel.CrawlState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.loaded {
		return novel.NewCrawlState(), nil
	}
	out := s.state
	out.Visited = append([]string(nil), s.state.Visited...)
	return out, nil
}

// SaveState overwrites the stored state.
func (s *MemStore) SaveState(_ context.Context, st novel.CrawlState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st.Visited = append([]string(nil), st.Visited...)
	s.state = st
	s.loaded = true
	return nil
}

// LoadIndex returns a copy of the chapter index.
func (s *MemStore) LoadIndex(_ context.Context) ([]novel.ChapterRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]novel.ChapterRecord, len(s.index))
	copy(out, s.index)
	return out, nil
}

// SaveIndex overwrites the chapter index.
func (s *MemStore) SaveIndex(_ context.Context, index []novel.ChapterRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index = make([]novel.ChapterRecord, len(index))
	copy(s.index, index)
	return nil
}

// Append adds one record to the error log.
func (s *MemStore) Append(_ context.Context, rec novel.ErrorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, rec)
	return nil
}

// List returns a copy of the error log, oldest first.
func (s *MemStore) List(_ context.Context) ([]novel.ErrorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]novel.ErrorRecord, len(s.errs))
	copy(out, s.errs)
	return out, nil
}

// Clear empties the error log.
func (s *MemStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = nil
	return nil
}
