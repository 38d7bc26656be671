// Package pipeline exposes the control surface over the single crawl worker:
// start, stop, reset, and status. A mutex-guarded handle owns the spawn
// decision and the run context, so concurrent control calls cannot race a
// second worker into existence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chaptermill/chaptermill/internal/novel"
)

var (
	// ErrRunActive rejects operations that require a stopped pipeline.
	ErrRunActive = errors.New("a run is active")
	// ErrNoFrontier rejects Start when no URL is seeded or persisted.
	ErrNoFrontier = errors.New("no frontier url to crawl")
)

// Runner executes one supervised crawl run to its terminal state.
type Runner interface {
	Run(ctx context.Context, runID uuid.UUID) error
}

// IDSource allocates run identifiers.
type IDSource interface {
	NewRawID() (uuid.UUID, error)
}

// Config controls Controller behavior.
type Config struct {
	// Book labels status payloads.
	Book string
	// SeedURL is the configured first-chapter URL, used when Start is called
	// with no seed and no frontier was ever persisted.
	SeedURL string
	// BaseContext parents every run context so a run outlives the Start
	// request. Defaults to context.Background().
	BaseContext context.Context
}

// Controller coordinates the worker goroutine with the HTTP control surface.
// It is the only place a run is spawned or canceled; the worker owns every
// other state write for the lifetime of its run.
type Controller struct {
	state    novel.StateStore
	chapters novel.ChapterStore
	errors   novel.ErrorLog
	runner   Runner
	ids      IDSource
	clock    novel.Clock
	cfg      Config
	logger   *zap.Logger

	mu     sync.Mutex
	active bool
	runID  uuid.UUID
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Controller.
func New(
	state novel.StateStore,
	chapters novel.ChapterStore,
	errorLog novel.ErrorLog,
	runner Runner,
	ids IDSource,
	clock novel.Clock,
	cfg Config,
	logger *zap.Logger,
) *Controller {
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		state:    state,
		chapters: chapters,
		errors:   errorLog,
		runner:   runner,
		ids:      ids,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
}

// Start begins or resumes the crawl. A supplied seed URL replaces the
// persisted frontier; with no seed the run continues from the last persisted
// URL, falling back to the configured seed on a fresh book. Start while a run
// is active acks with the current status and changes nothing: the worker is
// the sole state writer until it finishes.
func (c *Controller) Start(ctx context.Context, seedURL string) (novel.Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active {
		c.logger.Info("start ignored, run already active", zap.String("run_id", c.runID.String()))
		st, err := c.state.LoadState(ctx)
		if err != nil {
			return novel.Status{}, fmt.Errorf("load crawl state: %w", err)
		}
		return c.snapshot(ctx, st, true)
	}

	st, err := c.state.LoadState(ctx)
	if err != nil {
		return novel.Status{}, fmt.Errorf("load crawl state: %w", err)
	}
	if seedURL != "" {
		st.CurrentURL = seedURL
	}
	if st.CurrentURL == "" {
		st.CurrentURL = c.cfg.SeedURL
	}
	if st.CurrentURL == "" {
		return novel.Status{}, ErrNoFrontier
	}
	st.Running = true
	st.LastAction = novel.ActionIdle
	st.UpdatedAt = c.clock.Now()
	if err := c.state.SaveState(ctx, st); err != nil {
		return novel.Status{}, fmt.Errorf("persist crawl state: %w", err)
	}

	runID, err := c.ids.NewRawID()
	if err != nil {
		return novel.Status{}, fmt.Errorf("allocate run id: %w", err)
	}

	runCtx, cancel := context.WithCancel(c.cfg.BaseContext)
	c.active = true
	c.runID = runID
	c.cancel = cancel
	c.wg.Add(1)
	go c.supervise(runCtx, cancel, runID)

	c.logger.Info("run spawned",
		zap.String("run_id", runID.String()),
		zap.String("url", st.CurrentURL),
	)
	return c.snapshot(ctx, st, true)
}

// Stop requests a graceful halt of the active run and returns immediately;
// the worker persists the stopped state at its next safe point. Stop with no
// active run is a no-op.
func (c *Controller) Stop(ctx context.Context) (novel.Status, error) {
	c.mu.Lock()
	if c.active {
		c.logger.Info("stop requested", zap.String("run_id", c.runID.String()))
		c.cancel()
	}
	active := c.active
	c.mu.Unlock()

	st, err := c.state.LoadState(ctx)
	if err != nil {
		return novel.Status{}, fmt.Errorf("load crawl state: %w", err)
	}
	return c.snapshot(ctx, st, active)
}

// Reset wipes all persisted book data: chapters, index, error log, and the
// crawl state. It refuses while a run is active.
func (c *Controller) Reset(ctx context.Context) (novel.Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active {
		return novel.Status{}, ErrRunActive
	}
	if err := c.chapters.DeleteAll(ctx); err != nil {
		return novel.Status{}, fmt.Errorf("delete chapters: %w", err)
	}
	if err := c.errors.Clear(ctx); err != nil {
		return novel.Status{}, fmt.Errorf("clear error log: %w", err)
	}
	st := novel.NewCrawlState()
	st.UpdatedAt = c.clock.Now()
	if err := c.state.SaveState(ctx, st); err != nil {
		return novel.Status{}, fmt.Errorf("persist crawl state: %w", err)
	}
	c.logger.Info("pipeline reset")
	return c.snapshot(ctx, st, false)
}

// Status reports the persisted crawl state plus the controller's own view of
// run liveness. After a crash the persisted running flag can be a stale true;
// the controller's view is authoritative.
func (c *Controller) Status(ctx context.Context) (novel.Status, error) {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()

	st, err := c.state.LoadState(ctx)
	if err != nil {
		return novel.Status{}, fmt.Errorf("load crawl state: %w", err)
	}
	return c.snapshot(ctx, st, active)
}

// Close cancels any active run and waits for the worker goroutine to finish
// its wind-down, or until ctx expires.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.active {
		c.cancel()
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for worker: %w", ctx.Err())
	}
}

func (c *Controller) supervise(ctx context.Context, cancel context.CancelFunc, runID uuid.UUID) {
	defer c.wg.Done()
	defer cancel()

	err := c.runner.Run(ctx, runID)

	c.mu.Lock()
	c.active = false
	c.cancel = nil
	c.mu.Unlock()

	if err != nil {
		c.logger.Error("run finished with error", zap.String("run_id", runID.String()), zap.Error(err))
		return
	}
	c.logger.Info("run finished", zap.String("run_id", runID.String()))
}

func (c *Controller) snapshot(ctx context.Context, st novel.CrawlState, active bool) (novel.Status, error) {
	failures, err := c.errors.List(ctx)
	if err != nil {
		return novel.Status{}, fmt.Errorf("count errors: %w", err)
	}
	return novel.Status{
		Book:         c.cfg.Book,
		Running:      active,
		Action:       st.LastAction,
		ChapterCount: st.ChapterCount,
		ErrorCount:   len(failures),
		CurrentURL:   st.CurrentURL,
	}, nil
}
