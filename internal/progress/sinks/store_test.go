package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/chaptermill/chaptermill/internal/progress"
	"github.com/chaptermill/chaptermill/internal/store"
)

// TestStoreSinkPersistsRunLifecycle ensures lifecycle and chapter-saved events
// reach the repository in emit order while intermediate stages are skipped.
func TestStoreSinkPersistsRunLifecycle(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{}
	sink := NewStoreSink(repo, nil)
	runUUID := uuid.New()
	runID := progress.UUIDToBytes(runUUID)
	now := time.Now()

	batch := []progress.Event{
		{RunID: runID, Stage: progress.StageRunStart, BookID: "dragon-book", TS: now},
		{
			RunID:   runID,
			Stage:   progress.StageChapterFetched,
			Chapter: 1,
			Bytes:   2048,
			TS:      now.Add(1 * time.Second),
		},
		{
			RunID:   runID,
			Stage:   progress.StageChapterSaved,
			Chapter: 1,
			TS:      now.Add(2 * time.Second),
		},
		{
			RunID:   runID,
			Stage:   progress.StageChapterSaved,
			Chapter: 2,
			TS:      now.Add(3 * time.Second),
		},
		{RunID: runID, Stage: progress.StageRunDone, TS: now.Add(4 * time.Second), Dur: 4 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Len(t, repo.starts, 1)
	require.Equal(t, runUUID, repo.starts[0].ID)
	require.Equal(t, "dragon-book", repo.starts[0].BookID)
	require.Equal(t, store.RunRunning, repo.starts[0].Status)

	require.Equal(t, []int{1, 2}, repo.chapters)

	require.Len(t, repo.finishes, 1)
	require.Equal(t, store.RunCompleted, repo.finishes[0].status)
	require.Nil(t, repo.finishes[0].errMsg)
}

// TestStoreSinkRecordsFailureNote maps run errors to a failed status with the note attached.
func TestStoreSinkRecordsFailureNote(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{}
	sink := NewStoreSink(repo, nil)
	runID := progress.UUIDToBytes(uuid.New())

	err := sink.Consume(context.Background(), []progress.Event{
		{
			RunID: runID,
			Stage: progress.StageRunError,
			TS:    time.Now(),
			Note:  "fetch chapter 3: connection refused",
		},
	})
	require.NoError(t, err)

	require.Len(t, repo.finishes, 1)
	require.Equal(t, store.RunFailed, repo.finishes[0].status)
	require.NotNil(t, repo.finishes[0].errMsg)
	require.Equal(t, "fetch chapter 3: connection refused", *repo.finishes[0].errMsg)
}

// TestStoreSinkKeepsHaltNote distinguishes a cycle halt from an operator stop
// on the persisted run row.
func TestStoreSinkKeepsHaltNote(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{}
	sink := NewStoreSink(repo, nil)
	runID := progress.UUIDToBytes(uuid.New())

	err := sink.Consume(context.Background(), []progress.Event{
		{
			RunID: runID,
			Stage: progress.StageRunStopped,
			TS:    time.Now(),
			Note:  "frontier url already visited: https://example.com/ch/3",
		},
		{RunID: runID, Stage: progress.StageRunStopped, TS: time.Now()},
	})
	require.NoError(t, err)

	require.Len(t, repo.finishes, 2)
	require.Equal(t, store.RunStopped, repo.finishes[0].status)
	require.NotNil(t, repo.finishes[0].errMsg)
	require.Equal(t, "frontier url already visited: https://example.com/ch/3", *repo.finishes[0].errMsg)

	// An operator stop carries no note and stores none.
	require.Equal(t, store.RunStopped, repo.finishes[1].status)
	require.Nil(t, repo.finishes[1].errMsg)
}

// TestStoreSinkHandlesErrors surfaces repository failures back to the caller.
func TestStoreSinkHandlesErrors(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{fail: true}
	sink := NewStoreSink(repo, nil)
	runID := progress.UUIDToBytes(uuid.New())
	err := sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, Stage: progress.StageRunStart, BookID: "dragon-book", TS: time.Now()},
	})
	require.Error(t, err)
}

type fakeRunRepo struct {
	fail     bool
	starts   []store.CrawlRun
	chapters []int
	finishes []finishCall
}

type finishCall struct {
	runID  uuid.UUID
	status store.RunStatus
	errMsg *string
}

func (f *fakeRunRepo) StartRun(_ context.Context, run store.CrawlRun) error {
	if f.fail {
		return assertErr("start")
	}
	f.starts = append(f.starts, run)
	return nil
}

func (f *fakeRunRepo) RecordChapter(_ context.Context, runID uuid.UUID, chapter int, at time.Time) error {
	if f.fail {
		return assertErr("chapter")
	}
	_ = runID
	_ = at
	f.chapters = append(f.chapters, chapter)
	return nil
}

func (f *fakeRunRepo) FinishRun(
	_ context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	if f.fail {
		return assertErr("finish")
	}
	_ = finishedAt
	f.finishes = append(f.finishes, finishCall{runID: runID, status: status, errMsg: errMsg})
	return nil
}

func (f *fakeRunRepo) GetRun(context.Context, uuid.UUID) (store.CrawlRun, error) {
	return store.CrawlRun{}, assertErr("read")
}

func (f *fakeRunRepo) ListRuns(context.Context, *store.RunStatus, int, int) ([]store.CrawlRun, error) {
	return nil, assertErr("list")
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
