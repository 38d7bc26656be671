// Package worker implements the crawl pipeline execution loop.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chaptermill/chaptermill/internal/metrics"
	"github.com/chaptermill/chaptermill/internal/novel"
	"github.com/chaptermill/chaptermill/internal/progress"
)

// Config controls Worker behavior.
type Config struct {
	// BookID labels progress events and run records.
	BookID string
	// Delay is the politeness pause between chapters.
	Delay time.Duration
}

// Worker advances the crawl one chapter at a time: extract, translate, save,
// persist state, pause. It is the sole writer of the crawl state while a run
// is active; the control surface stops it by canceling the run context.
type Worker struct {
	state      novel.StateStore
	chapters   novel.ChapterStore
	extractor  novel.Extractor
	translator novel.Translator
	errorLog   novel.ErrorLog
	clock      novel.Clock
	pauser     novel.Pauser
	emitter    progress.Emitter
	cfg        Config
	logger     *zap.Logger
}

// New constructs a Worker.
func New(
	state novel.StateStore,
	chapters novel.ChapterStore,
	extractor novel.Extractor,
	translator novel.Translator,
	errorLog novel.ErrorLog,
	clock novel.Clock,
	pauser novel.Pauser,
	emitter progress.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.Delay <= 0 {
		cfg.Delay = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		state:      state,
		chapters:   chapters,
		extractor:  extractor,
		translator: translator,
		errorLog:   errorLog,
		clock:      clock,
		pauser:     pauser,
		emitter:    emitter,
		cfg:        cfg,
		logger:     logger,
	}
}

// run carries the identifiers and mutable state of one crawl run.
type run struct {
	id    uuid.UUID
	rid   [16]byte
	start time.Time
	state novel.CrawlState
	// inflight is the frontier URL marked visited for the current iteration,
	// cleared once its chapter is saved.
	inflight string
}

// Run executes the crawl loop until the chapter chain ends, the run fails, or
// ctx is canceled by a stop request. It returns the terminal error for failed
// runs and nil for completed, stopped, and cycle-halted runs.
func (w *Worker) Run(ctx context.Context, runID uuid.UUID) error {
	metrics.IncWorkerActive()
	defer metrics.DecWorkerActive()

	st, err := w.state.LoadState(ctx)
	if err != nil {
		w.logger.Error("load crawl state failed", zap.Error(err))
		w.emit(progress.Event{
			RunID:  progress.UUIDToBytes(runID),
			TS:     w.clock.Now(),
			Stage:  progress.StageRunError,
			BookID: w.cfg.BookID,
			Note:   err.Error(),
		})
		return err
	}
	st.Running = true

	r := &run{id: runID, rid: progress.UUIDToBytes(runID), start: w.clock.Now(), state: st}
	w.emit(progress.Event{
		RunID:  r.rid,
		TS:     r.start,
		Stage:  progress.StageRunStart,
		BookID: w.cfg.BookID,
		URL:    r.state.CurrentURL,
	})
	w.logger.Info("run started",
		zap.String("run_id", r.id.String()),
		zap.String("book_id", w.cfg.BookID),
		zap.String("url", r.state.CurrentURL),
	)

	for {
		if ctx.Err() != nil {
			return w.finishStopped(r)
		}
		if r.state.CurrentURL == "" {
			return w.finishCompleted(ctx, r)
		}
		done, err := w.processChapter(ctx, r)
		if done || err != nil {
			return err
		}
		metrics.ObserveChapterDelay(w.cfg.Delay)
		w.pauser.Pause(ctx, w.cfg.Delay)
	}
}

// processChapter runs one iteration of the loop: cycle check, mark visited,
// fetch, translate, save, advance. The returned bool is true when the run
// reached a terminal state inside the iteration.
func (w *Worker) processChapter(ctx context.Context, r *run) (bool, error) {
	url := r.state.CurrentURL
	if r.state.Seen(url) {
		return true, w.finishCycle(ctx, r, url)
	}

	attempt := r.state.ChapterCount + 1
	r.state.MarkVisited(url)
	r.inflight = url
	if err := w.persist(ctx, r); err != nil {
		return true, w.stageFailed(ctx, r, attempt, url, r.state.LastAction, err)
	}

	r.state.LastAction = novel.ActionFetching
	if err := w.persist(ctx, r); err != nil {
		return true, w.stageFailed(ctx, r, attempt, url, novel.ActionFetching, err)
	}
	fetchStart := w.clock.Now()
	ext, err := w.extractor.Extract(ctx, url)
	if err != nil {
		return true, w.stageFailed(ctx, r, attempt, url, novel.ActionFetching, err)
	}
	w.emitChapter(r, progress.StageChapterFetched, attempt, url, len(ext.Text), fetchStart)
	w.logger.Debug("chapter fetched",
		zap.Int("chapter", attempt),
		zap.String("url", url),
		zap.Int("chars", len(ext.Text)),
		zap.String("next_url", ext.NextURL),
	)

	r.state.LastAction = novel.ActionTranslating
	if err := w.persist(ctx, r); err != nil {
		return true, w.stageFailed(ctx, r, attempt, url, novel.ActionTranslating, err)
	}
	translateStart := w.clock.Now()
	translated, err := w.translator.Translate(ctx, ext.Text)
	if err != nil {
		return true, w.stageFailed(ctx, r, attempt, url, novel.ActionTranslating, err)
	}
	w.emitChapter(r, progress.StageChapterTranslated, attempt, url, len(translated), translateStart)
	w.logger.Debug("chapter translated", zap.Int("chapter", attempt), zap.Int("chars", len(translated)))

	r.state.LastAction = novel.ActionSaving
	if err := w.persist(ctx, r); err != nil {
		return true, w.stageFailed(ctx, r, attempt, url, novel.ActionSaving, err)
	}
	saveStart := w.clock.Now()
	rec, err := w.chapters.Save(ctx, attempt, ext.Title, translated)
	if err != nil {
		return true, w.stageFailed(ctx, r, attempt, url, novel.ActionSaving, err)
	}
	r.inflight = ""
	r.state.ChapterCount = rec.Number
	metrics.SetChaptersStored(r.state.ChapterCount)
	w.emitChapter(r, progress.StageChapterSaved, rec.Number, url, len(translated), saveStart)
	w.logger.Info("chapter saved",
		zap.Int("chapter", rec.Number),
		zap.String("title", rec.Title),
		zap.String("key", rec.Key),
	)

	r.state.CurrentURL = ext.NextURL
	if err := w.persist(ctx, r); err != nil {
		return true, w.stageFailed(ctx, r, attempt, url, novel.ActionSaving, err)
	}

	if ext.NextURL == "" {
		return true, w.finishCompleted(ctx, r)
	}
	return false, nil
}

// stageFailed resolves a stage error to the right terminal outcome: a failure
// caused by run-context cancellation is a stop, not an error. Either way an
// unconsumed frontier URL leaves the visited set again, so the next start
// fetches the chapter that never got saved instead of halting on it.
func (w *Worker) stageFailed(
	ctx context.Context,
	r *run,
	chapter int,
	url string,
	stage novel.Action,
	cause error,
) error {
	if r.inflight != "" {
		r.state.UnmarkVisited(r.inflight)
		r.inflight = ""
	}
	if ctx.Err() != nil {
		return w.finishStopped(r)
	}
	return w.abort(r, chapter, url, stage, cause)
}

// abort records the failure and halts the run with action Error. Every error
// inside an iteration is terminal; resuming is an explicit operator Start.
func (w *Worker) abort(r *run, chapter int, url string, stage novel.Action, cause error) error {
	metrics.ObserveStageFailure(metricStage(stage))
	rec := novel.ErrorRecord{
		Timestamp: w.clock.Now(),
		Chapter:   chapter,
		URL:       url,
		Stage:     stage,
		Message:   cause.Error(),
	}
	if err := w.errorLog.Append(context.Background(), rec); err != nil {
		w.logger.Error("append error record failed", zap.Error(err))
	}
	r.state.Running = false
	r.state.LastAction = novel.ActionError
	if err := w.persist(context.Background(), r); err != nil {
		w.logger.Error("persist error state failed", zap.Error(err))
	}
	w.emitRunEnd(r, progress.StageRunError, cause.Error())
	w.logger.Error("run aborted",
		zap.String("run_id", r.id.String()),
		zap.Int("chapter", chapter),
		zap.String("url", url),
		zap.String("stage", string(stage)),
		zap.Error(cause),
	)
	return cause
}

// finishCycle halts the run when the frontier URL was already visited. This
// is a termination condition, not a failure: no error record is appended.
func (w *Worker) finishCycle(ctx context.Context, r *run, url string) error {
	r.state.Running = false
	r.state.LastAction = novel.ActionIdle
	if err := w.persist(ctx, r); err != nil {
		w.logger.Error("persist halted state failed", zap.Error(err))
	}
	w.emitRunEnd(r, progress.StageRunStopped, fmt.Sprintf("%v: %s", novel.ErrCycleDetected, url))
	w.logger.Warn("cycle detected, halting run",
		zap.String("run_id", r.id.String()),
		zap.String("url", url),
		zap.Int("chapters", r.state.ChapterCount),
	)
	return nil
}

func (w *Worker) finishCompleted(ctx context.Context, r *run) error {
	r.state.Running = false
	r.state.LastAction = novel.ActionCompleted
	if err := w.persist(ctx, r); err != nil {
		w.logger.Error("persist final state failed", zap.Error(err))
	}
	w.emitRunEnd(r, progress.StageRunDone, "")
	w.logger.Info("run completed",
		zap.String("run_id", r.id.String()),
		zap.Int("chapters", r.state.ChapterCount),
	)
	return nil
}

func (w *Worker) finishStopped(r *run) error {
	r.state.Running = false
	r.state.LastAction = novel.ActionIdle
	// The run context is already canceled; the final write gets a fresh one.
	if err := w.persist(context.Background(), r); err != nil {
		w.logger.Error("persist stopped state failed", zap.Error(err))
	}
	w.emitRunEnd(r, progress.StageRunStopped, "")
	w.logger.Info("run stopped",
		zap.String("run_id", r.id.String()),
		zap.Int("chapters", r.state.ChapterCount),
	)
	return nil
}

func (w *Worker) persist(ctx context.Context, r *run) error {
	r.state.UpdatedAt = w.clock.Now()
	if err := w.state.SaveState(ctx, r.state); err != nil {
		return fmt.Errorf("persist crawl state: %w", err)
	}
	return nil
}

func (w *Worker) emit(evt progress.Event) {
	if w.emitter == nil {
		return
	}
	w.emitter.Emit(evt)
}

func (w *Worker) emitChapter(r *run, stage progress.Stage, chapter int, url string, chars int, started time.Time) {
	now := w.clock.Now()
	w.emit(progress.Event{
		RunID:   r.rid,
		TS:      now,
		Stage:   stage,
		BookID:  w.cfg.BookID,
		URL:     url,
		Chapter: chapter,
		Bytes:   int64(chars),
		Dur:     now.Sub(started),
	})
}

func (w *Worker) emitRunEnd(r *run, stage progress.Stage, note string) {
	now := w.clock.Now()
	w.emit(progress.Event{
		RunID:  r.rid,
		TS:     now,
		Stage:  stage,
		BookID: w.cfg.BookID,
		Dur:    now.Sub(r.start),
		Note:   note,
	})
}

func metricStage(stage novel.Action) string {
	switch stage {
	case novel.ActionFetching:
		return "fetch"
	case novel.ActionTranslating:
		return "translate"
	case novel.ActionSaving:
		return "save"
	default:
		return "state"
	}
}
