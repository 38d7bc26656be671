// Package server provides the core application server and dependency injection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/chaptermill/chaptermill/internal/api"
	"github.com/chaptermill/chaptermill/internal/chapters"
	"github.com/chaptermill/chaptermill/internal/clock/system"
	"github.com/chaptermill/chaptermill/internal/config"
	"github.com/chaptermill/chaptermill/internal/extractor"
	"github.com/chaptermill/chaptermill/internal/hash/sha256"
	idgen "github.com/chaptermill/chaptermill/internal/id/uuid"
	"github.com/chaptermill/chaptermill/internal/logging"
	"github.com/chaptermill/chaptermill/internal/metrics"
	"github.com/chaptermill/chaptermill/internal/pipeline"
	"github.com/chaptermill/chaptermill/internal/progress"
	progresssinks "github.com/chaptermill/chaptermill/internal/progress/sinks"
	"github.com/chaptermill/chaptermill/internal/state"
	"github.com/chaptermill/chaptermill/internal/storage"
	memorystorage "github.com/chaptermill/chaptermill/internal/storage/memory"
	pgstore "github.com/chaptermill/chaptermill/internal/storage/postgres"
	"github.com/chaptermill/chaptermill/internal/store"
	"github.com/chaptermill/chaptermill/internal/telemetry"
	"github.com/chaptermill/chaptermill/internal/translator"
	"github.com/chaptermill/chaptermill/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg               *config.Config
	logger            *zap.Logger
	apiServer         *api.Server
	controller        *pipeline.Controller
	progressHub       *progress.Hub
	storageCleanup    func()
	runRepo           store.RunRepository
	telemetryShutdown func(context.Context) error
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	// Define a struct for logging only non-sensitive config fields
	type SanitizedConfig struct {
		ServerPort     int    `json:"server_port"`
		BookID         string `json:"book_id"`
		StorageBackend string `json:"storage_backend"`
	}
	safeCfg := SanitizedConfig{
		ServerPort:     cfg.Server.Port,
		BookID:         cfg.Book.ID,
		StorageBackend: cfg.Storage.Backend,
	}
	logger.Info("Creating application", zap.Any("config", safeCfg))
	return &App{
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	return a.Close(shutdownCtx)
}

// Close gracefully shuts down the application. The controller is closed
// first so the final state write lands before the stores go away.
func (a *App) Close(ctx context.Context) error {
	if a.controller != nil {
		if err := a.controller.Close(ctx); err != nil {
			a.logger.Warn("pipeline close failed", zap.Error(err))
		}
	}
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.storageCleanup != nil {
		a.storageCleanup()
	}
	if a.runRepo != nil {
		if pgRepo, ok := a.runRepo.(*pgstore.RunStore); ok {
			pgRepo.Close()
		}
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if err := a.logger.Sync(); err != nil {
		a.logger.Warn("logger sync failed", zap.Error(err))
	}
	if a.telemetryShutdown != nil {
		if err := a.telemetryShutdown(ctx); err != nil {
			a.logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}

	providers, err := telemetry.Init(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.Version)
	if err != nil {
		return nil, fmt.Errorf("telemetry init failed: %w", err)
	}
	app.telemetryShutdown = providers.Shutdown
	metrics.Init()

	app.logger.Info("building application dependencies")
	bookDir := filepath.Join(cfg.Book.DataDir, cfg.Book.ID)
	docStore, err := state.NewFileStore(bookDir, logger.Named("state"))
	if err != nil {
		return nil, fmt.Errorf("state store init failed: %w", err)
	}

	storageCfg := cfg.Storage
	if storageCfg.Backend == "local" && storageCfg.Local.BaseDir == "" {
		storageCfg.Local.BaseDir = bookDir
	}
	blobStore, storageCleanup, err := storage.New(ctx, storageCfg, logger.Named("storage"))
	if err != nil {
		return nil, err
	}
	app.storageCleanup = storageCleanup

	if err = setupDatabase(ctx, app); err != nil {
		return nil, err
	}

	progressEmitter := setupProgress(ctx, app)

	clk := system.New()
	chapterStore := chapters.New(
		chapters.Config{
			Prefix:      cfg.Storage.Prefix,
			ContentType: cfg.Storage.ContentType,
		},
		blobStore,
		docStore,
		sha256.New(),
		clk,
		logger.Named("chapters"),
	)

	app.controller, err = setupPipeline(ctx, app, docStore, chapterStore, clk, progressEmitter)
	if err != nil {
		return nil, err
	}

	app.apiServer = api.NewServer(
		app.controller,
		chapterStore,
		docStore,
		api.NewRunHandler(app.runRepo, logger.Named("runs")),
		logger.Named("api"),
	)

	return app, nil
}

// setupDatabase selects the run-history repository. Without a DSN the history
// lives in memory and resets on restart, which keeps /v1/runs available for
// single-box deployments.
func setupDatabase(ctx context.Context, app *App) error {
	if app.cfg.Database.DSN == "" {
		app.logger.Warn("No DSN specified for database, using in-memory run history")
		app.runRepo = memorystorage.NewRunStore()
		return nil
	}
	repo, err := pgstore.NewRunStore(ctx, pgstore.RunStoreConfig{
		DSN:             app.cfg.Database.DSN,
		Table:           app.cfg.Database.RunsTable,
		MaxConns:        app.cfg.Database.MaxConns,
		MinConns:        app.cfg.Database.MinConns,
		MaxConnLifetime: app.cfg.Database.ConnLifetime(),
	})
	if err != nil {
		return fmt.Errorf("run store init failed: %w", err)
	}
	app.runRepo = repo
	app.logger.Info("run store initialized", zap.String("table", app.cfg.Database.RunsTable))
	return nil
}

func setupProgress(ctx context.Context, app *App) progress.Emitter {
	if !app.cfg.Progress.Enabled {
		app.logger.Info("progress tracking disabled")
		return nil
	}
	var sinkList []progress.Sink
	if app.runRepo != nil {
		sinkList = append(
			sinkList,
			progresssinks.NewStoreSink(app.runRepo, app.logger.Named("progress_store")),
		)
		app.logger.Debug("Added progress store sink")
	}
	if app.cfg.Progress.LogEnabled {
		sinkList = append(
			sinkList,
			progresssinks.NewLogSink(app.logger.Named("progress_log")),
		)
		app.logger.Debug("Added progress log sink")
	}
	promSink, err := progresssinks.NewPrometheusSink(nil)
	if err != nil {
		app.logger.Warn("prometheus progress sink init failed", zap.Error(err))
	} else {
		sinkList = append(sinkList, promSink)
		app.logger.Debug("Added progress prometheus sink")
	}
	if len(sinkList) == 0 {
		app.logger.Warn("progress tracking enabled but no sinks configured")
		return nil
	}
	hubCfg := progress.Config{
		BufferSize:     app.cfg.Progress.BufferSize,
		MaxBatchEvents: app.cfg.Progress.Batch.MaxEvents,
		MaxBatchWait:   time.Duration(app.cfg.Progress.Batch.MaxWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(app.cfg.Progress.SinkTimeoutMs) * time.Millisecond,
		BaseContext:    ctx,
		Logger:         app.logger.Named("progress_hub"),
	}
	app.progressHub = progress.NewHub(hubCfg, sinkList...)
	app.logger.Info("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Duration("sink_timeout", hubCfg.SinkTimeout),
	)
	return app.progressHub
}

func setupPipeline(
	ctx context.Context,
	app *App,
	docStore *state.FileStore,
	chapterStore *chapters.Store,
	clk *system.Clock,
	progressEmitter progress.Emitter,
) (*pipeline.Controller, error) {
	cfg := app.cfg
	ext, err := extractor.New(extractor.Config{
		UserAgent:       cfg.Source.UserAgent,
		Timeout:         cfg.FetchTimeout(),
		Charset:         cfg.Source.Charset,
		ContentSelector: cfg.Source.ContentSelector,
		HeadingSelector: cfg.Source.HeadingSelector,
		NavSelector:     cfg.Source.NavSelector,
		DenyLines:       cfg.Source.DenyLines,
	}, app.logger.Named("extractor"))
	if err != nil {
		return nil, fmt.Errorf("extractor init failed: %w", err)
	}
	app.logger.Info("extractor config",
		zap.String("user_agent", cfg.Source.UserAgent),
		zap.String("charset", cfg.Source.Charset),
		zap.String("content_selector", cfg.Source.ContentSelector),
		zap.Duration("timeout", cfg.FetchTimeout()),
	)

	trans := translator.New(translator.Config{
		APIKey:          cfg.Translator.APIKey,
		Model:           cfg.Translator.Model,
		SystemPrompt:    cfg.Translator.SystemPrompt,
		MaxOutputTokens: cfg.Translator.MaxOutputTokens,
		BaseURL:         cfg.Translator.BaseURL,
	}, app.logger.Named("translator"))
	app.logger.Info("translator config", zap.String("model", cfg.Translator.Model))

	wkr := worker.New(
		docStore,
		chapterStore,
		ext,
		trans,
		docStore,
		clk,
		clk,
		progressEmitter,
		worker.Config{
			BookID: cfg.Book.ID,
			Delay:  cfg.ChapterDelay(),
		},
		app.logger.Named("worker"),
	)
	app.logger.Info("worker config",
		zap.String("book", cfg.Book.ID),
		zap.Duration("chapter_delay", cfg.ChapterDelay()),
	)

	return pipeline.New(
		docStore,
		chapterStore,
		docStore,
		wkr,
		idgen.NewGenerator(),
		clk,
		pipeline.Config{
			Book:        cfg.Book.ID,
			SeedURL:     cfg.Source.SeedURL,
			BaseContext: ctx,
		},
		app.logger.Named("pipeline"),
	), nil
}
