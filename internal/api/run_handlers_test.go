package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chaptermill/chaptermill/internal/store"
)

func TestRunHandlerListRuns(t *testing.T) {
	t.Parallel()

	repo := &mockRunRepo{
		runs: []store.CrawlRun{
			{
				ID:            uuid.New(),
				BookID:        "dragon-book",
				Status:        store.RunCompleted,
				StartedAt:     time.Now().Add(-time.Hour),
				ChaptersSaved: 12,
				LastChapter:   12,
			},
		},
	}
	handler := NewRunHandler(repo, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/v1/runs?status=completed&limit=10", nil)
	rec := httptest.NewRecorder()

	handler.ListRuns(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body, "runs")
	require.Equal(t, store.RunCompleted, *repo.gotStatus)
	require.Equal(t, 10, repo.gotLimit)
}

func TestRunHandlerListRunsStatusAliases(t *testing.T) {
	t.Parallel()

	for alias, want := range map[string]store.RunStatus{
		"success": store.RunCompleted,
		"done":    store.RunCompleted,
		"failure": store.RunFailed,
		"error":   store.RunFailed,
	} {
		repo := &mockRunRepo{}
		handler := NewRunHandler(repo, zap.NewNop())
		req := httptest.NewRequest(http.MethodGet, "/v1/runs?status="+alias, nil)
		rec := httptest.NewRecorder()

		handler.ListRuns(rec, req)

		require.Equal(t, http.StatusOK, rec.Code, "alias %s", alias)
		require.Equal(t, want, *repo.gotStatus, "alias %s", alias)
	}
}

func TestRunHandlerListRunsInvalidStatus(t *testing.T) {
	t.Parallel()

	handler := NewRunHandler(&mockRunRepo{}, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/v1/runs?status=paused", nil)
	rec := httptest.NewRecorder()

	handler.ListRuns(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunHandlerListRunsInvalidLimit(t *testing.T) {
	t.Parallel()

	handler := NewRunHandler(&mockRunRepo{}, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/v1/runs?limit=-1", nil)
	rec := httptest.NewRecorder()

	handler.ListRuns(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunHandlerListRunsCapsLimit(t *testing.T) {
	t.Parallel()

	repo := &mockRunRepo{}
	handler := NewRunHandler(repo, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/v1/runs?limit=9999", nil)
	rec := httptest.NewRecorder()

	handler.ListRuns(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, maxRunLimit, repo.gotLimit)
}

func TestRunHandlerGetRun(t *testing.T) {
	t.Parallel()

	runID := uuid.New()
	repo := &mockRunRepo{
		runs: []store.CrawlRun{{
			ID:        runID,
			BookID:    "dragon-book",
			Status:    store.RunStopped,
			StartedAt: time.Now().Add(-time.Minute),
		}},
	}
	handler := NewRunHandler(repo, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/v1/runs/"+runID.String(), nil)
	req = withRunIDParam(req, runID.String())
	rec := httptest.NewRecorder()

	handler.GetRun(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), runID.String())
	require.Contains(t, rec.Body.String(), `"status":"stopped"`)
}

func TestRunHandlerGetRunNotFound(t *testing.T) {
	t.Parallel()

	repo := &mockRunRepo{err: store.ErrNotFound}
	handler := NewRunHandler(repo, zap.NewNop())

	runID := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/runs/"+runID.String(), nil)
	req = withRunIDParam(req, runID.String())
	rec := httptest.NewRecorder()

	handler.GetRun(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunHandlerGetRunInvalidID(t *testing.T) {
	t.Parallel()

	handler := NewRunHandler(&mockRunRepo{}, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/v1/runs/not-a-uuid", nil)
	req = withRunIDParam(req, "not-a-uuid")
	rec := httptest.NewRecorder()

	handler.GetRun(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunHandlerNilRepoUnavailable(t *testing.T) {
	t.Parallel()

	handler := NewRunHandler(nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/v1/runs", nil)
	rec := httptest.NewRecorder()
	handler.ListRuns(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/runs/"+uuid.NewString(), nil)
	rec = httptest.NewRecorder()
	handler.GetRun(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type mockRunRepo struct {
	runs      []store.CrawlRun
	err       error
	gotStatus *store.RunStatus
	gotLimit  int
	gotOffset int
}

func (m *mockRunRepo) StartRun(context.Context, store.CrawlRun) error {
	return m.err
}

func (m *mockRunRepo) RecordChapter(context.Context, uuid.UUID, int, time.Time) error {
	return m.err
}

func (m *mockRunRepo) FinishRun(context.Context, uuid.UUID, time.Time, store.RunStatus, *string) error {
	return m.err
}

func (m *mockRunRepo) GetRun(context.Context, uuid.UUID) (store.CrawlRun, error) {
	if len(m.runs) > 0 {
		return m.runs[0], nil
	}
	return store.CrawlRun{}, m.err
}

func (m *mockRunRepo) ListRuns(_ context.Context, status *store.RunStatus, limit, offset int) ([]store.CrawlRun, error) {
	m.gotStatus = status
	m.gotLimit = limit
	m.gotOffset = offset
	return m.runs, m.err
}

func withRunIDParam(r *http.Request, runID string) *http.Request {
	ctx := chi.NewRouteContext()
	ctx.URLParams.Add("run_id", runID)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, ctx))
}
