package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chaptermill/chaptermill/internal/store"
)

type exampleRunRepo struct {
	runs []store.CrawlRun
}

func (e *exampleRunRepo) StartRun(context.Context, store.CrawlRun) error {
	return nil
}

func (e *exampleRunRepo) RecordChapter(context.Context, uuid.UUID, int, time.Time) error {
	return nil
}

func (e *exampleRunRepo) FinishRun(context.Context, uuid.UUID, time.Time, store.RunStatus, *string) error {
	return nil
}

func (e *exampleRunRepo) GetRun(context.Context, uuid.UUID) (store.CrawlRun, error) {
	return e.runs[0], nil
}

func (e *exampleRunRepo) ListRuns(context.Context, *store.RunStatus, int, int) ([]store.CrawlRun, error) {
	return e.runs, nil
}

// ExampleRunHandler_ListRuns shows how to serve the /v1/runs endpoint.
func ExampleRunHandler_ListRuns() {
	runID := uuid.MustParse("00000000-0000-0000-0000-0000000000aa")
	repo := &exampleRunRepo{
		runs: []store.CrawlRun{{
			ID:        runID,
			BookID:    "dragon-book",
			Status:    store.RunCompleted,
			StartedAt: time.Unix(0, 0),
		}},
	}
	handler := NewRunHandler(repo, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/v1/runs?limit=1", nil)
	rec := httptest.NewRecorder()
	handler.ListRuns(rec, req)

	var payload struct {
		Runs []map[string]any `json:"runs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		panic(err)
	}
	fmt.Printf("returned runs: %d\n", len(payload.Runs))
	// Output:
	// returned runs: 1
}
