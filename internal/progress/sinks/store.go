package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/chaptermill/chaptermill/internal/progress"
	"github.com/chaptermill/chaptermill/internal/store"
)

// StoreSink persists run history via a store.RunRepository. Events are applied
// strictly in emit order because a run-start insert must land before the
// chapter and finish updates that reference it.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards lifecycle and chapter-saved events to the repository. It
// respects ctx deadlines and returns the first repository error it hits.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	for _, evt := range batch {
		if err := s.apply(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

func (s *StoreSink) apply(ctx context.Context, evt progress.Event) error {
	runID := evt.RunUUID()
	switch evt.Stage {
	case progress.StageRunStart:
		run := store.CrawlRun{
			ID:        runID,
			BookID:    evt.BookID,
			StartedAt: evt.TS,
			Status:    store.RunRunning,
		}
		if err := s.repo.StartRun(ctx, run); err != nil {
			return fmt.Errorf("start run: %w", err)
		}
	case progress.StageChapterSaved:
		if err := s.repo.RecordChapter(ctx, runID, evt.Chapter, evt.TS); err != nil {
			return fmt.Errorf("record chapter: %w", err)
		}
	case progress.StageRunDone:
		if err := s.repo.FinishRun(ctx, runID, evt.TS, store.RunCompleted, nil); err != nil {
			return fmt.Errorf("finish run: %w", err)
		}
	case progress.StageRunStopped:
		// A cycle halt arrives as a stopped run with a note; keep it so run
		// history can tell the halt from an operator stop.
		var note *string
		if evt.Note != "" {
			note = &evt.Note
		}
		if err := s.repo.FinishRun(ctx, runID, evt.TS, store.RunStopped, note); err != nil {
			return fmt.Errorf("finish run: %w", err)
		}
	case progress.StageRunError:
		var errMsg *string
		if evt.Note != "" {
			errMsg = &evt.Note
		}
		if err := s.repo.FinishRun(ctx, runID, evt.TS, store.RunFailed, errMsg); err != nil {
			return fmt.Errorf("finish run: %w", err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
