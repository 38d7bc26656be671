package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/chaptermill/chaptermill/internal/store"
)

func TestNewRunStoreWithPoolRejectsBadTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewRunStoreWithPool(mock, "crawl_runs; DROP TABLE crawl_runs")
	require.Error(t, err)

	_, err = NewRunStoreWithPool(nil, "crawl_runs")
	require.Error(t, err)
}

func TestStartRunInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runStore, err := NewRunStoreWithPool(mock, "crawl_runs")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	runID := uuid.MustParse("01929fd6-5f9a-7aaa-8aaa-0123456789ab")

	mock.ExpectExec("INSERT INTO crawl_runs").
		WithArgs(runID, "dragon-book", now, store.RunRunning).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = runStore.StartRun(context.Background(), store.CrawlRun{
		ID:        runID,
		BookID:    "dragon-book",
		StartedAt: now,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStartRunRequiresID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runStore, err := NewRunStoreWithPool(mock, "crawl_runs")
	require.NoError(t, err)

	err = runStore.StartRun(context.Background(), store.CrawlRun{BookID: "dragon-book"})
	require.Error(t, err)
}

func TestRecordChapterBumpsCounters(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runStore, err := NewRunStoreWithPool(mock, "crawl_runs")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	runID := uuid.MustParse("01929fd6-5f9a-7aaa-8aaa-0123456789ab")

	mock.ExpectExec("UPDATE crawl_runs").
		WithArgs(runID, 12, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, runStore.RecordChapter(context.Background(), runID, 12, now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishRunSetsTerminalStatus(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runStore, err := NewRunStoreWithPool(mock, "crawl_runs")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	runID := uuid.MustParse("01929fd6-5f9a-7aaa-8aaa-0123456789ab")
	errMsg := "fetch https://example.com/3.html: unexpected status 404"

	mock.ExpectExec("UPDATE crawl_runs").
		WithArgs(runID, now, store.RunFailed, &errMsg).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, runStore.FinishRun(context.Background(), runID, now, store.RunFailed, &errMsg))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunScansRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runStore, err := NewRunStoreWithPool(mock, "crawl_runs")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	runID := uuid.MustParse("01929fd6-5f9a-7aaa-8aaa-0123456789ab")

	cols := []string{"id", "book_id", "started_at", "finished_at", "status", "chapters_saved", "last_chapter", "error_message"}
	mock.ExpectQuery("SELECT id, book_id").
		WithArgs(runID).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow(runID, "dragon-book", now, (*time.Time)(nil), store.RunRunning, int64(3), 3, (*string)(nil)))

	run, err := runStore.GetRun(context.Background(), runID)
	require.NoError(t, err)
	require.Equal(t, "dragon-book", run.BookID)
	require.Equal(t, store.RunRunning, run.Status)
	require.Equal(t, int64(3), run.ChaptersSaved)
	require.Nil(t, run.FinishedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunMissingMapsToErrNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runStore, err := NewRunStoreWithPool(mock, "crawl_runs")
	require.NoError(t, err)

	runID := uuid.MustParse("01929fd6-5f9a-7aaa-8aaa-0123456789ab")

	mock.ExpectQuery("SELECT id, book_id").
		WithArgs(runID).
		WillReturnError(pgx.ErrNoRows)

	_, err = runStore.GetRun(context.Background(), runID)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRunsFiltersByStatus(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runStore, err := NewRunStoreWithPool(mock, "crawl_runs")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	runID := uuid.MustParse("01929fd6-5f9a-7aaa-8aaa-0123456789ab")
	status := store.RunCompleted

	cols := []string{"id", "book_id", "started_at", "finished_at", "status", "chapters_saved", "last_chapter", "error_message"}
	mock.ExpectQuery("SELECT id, book_id").
		WithArgs(&status, 10, 0).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow(runID, "dragon-book", now, &now, store.RunCompleted, int64(42), 42, (*string)(nil)))

	runs, err := runStore.ListRuns(context.Background(), &status, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, store.RunCompleted, runs[0].Status)
	require.Equal(t, 42, runs[0].LastChapter)
	require.NoError(t, mock.ExpectationsWereMet())
}
