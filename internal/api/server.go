// Package api exposes the HTTP interface for the ingestion service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chaptermill/chaptermill/internal/metrics"
	"github.com/chaptermill/chaptermill/internal/novel"
	"github.com/chaptermill/chaptermill/internal/pipeline"
	"github.com/chaptermill/chaptermill/web"
)

// Controller is the slice of the pipeline control surface the API consumes.
type Controller interface {
	Start(ctx context.Context, seedURL string) (novel.Status, error)
	Stop(ctx context.Context) (novel.Status, error)
	Reset(ctx context.Context) (novel.Status, error)
	Status(ctx context.Context) (novel.Status, error)
}

// Server wires HTTP handlers to the controller and stores.
type Server struct {
	router   chi.Router
	control  Controller
	chapters novel.ChapterStore
	errors   novel.ErrorLog
	runs     *RunHandler
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	control Controller,
	chapters novel.ChapterStore,
	errorLog novel.ErrorLog,
	runs *RunHandler,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if runs == nil {
		runs = NewRunHandler(nil, logger)
	}
	s := &Server{
		control:  control,
		chapters: chapters,
		errors:   errorLog,
		runs:     runs,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Get("/", s.page("index.html"))
	r.Get("/read", s.page("read.html"))

	r.Route("/v1", func(r chi.Router) {
		r.Route("/pipeline", func(r chi.Router) {
			r.Post("/start", s.startPipeline)
			r.Post("/stop", s.stopPipeline)
			r.Post("/reset", s.resetPipeline)
			r.Get("/status", s.pipelineStatus)
		})
		r.Route("/chapters", func(r chi.Router) {
			r.Get("/", s.listChapters)
			r.Get("/{number}", s.getChapter)
		})
		r.Get("/errors", s.listErrors)
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.runs.ListRuns)
			r.Get("/{run_id}", s.runs.GetRun)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz reports ready only when the persisted state and error log load, so a
// broken data directory flips readiness instead of failing first requests.
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.control.Status(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "state not readable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) page(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		assets, err := web.StaticFS()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "ui unavailable")
			return
		}
		body, err := fs.ReadFile(assets, name)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "ui unavailable")
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if _, err := w.Write(body); err != nil {
			s.logger.Error("write page failed", zap.Error(err))
		}
	}
}

type startRequest struct {
	URL string `json:"url"`
}

// startPipeline handles POST /v1/pipeline/start. An optional JSON body
// {"url": ...} reseeds the frontier. It returns 202 with the status snapshot,
// 400 for a bad body or an empty frontier, or 500 on state failures.
func (s *Server) startPipeline(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	status, err := s.control.Start(r.Context(), req.URL)
	if err != nil {
		if errors.Is(err, pipeline.ErrNoFrontier) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("start failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start pipeline")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": status})
}

// stopPipeline handles POST /v1/pipeline/stop. The halt is asynchronous: 202
// acks the request and the worker winds down at its next safe point.
func (s *Server) stopPipeline(w http.ResponseWriter, r *http.Request) {
	status, err := s.control.Stop(r.Context())
	if err != nil {
		s.logger.Error("stop failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to stop pipeline")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": status})
}

// resetPipeline handles POST /v1/pipeline/reset. It returns 409 while a run
// is active because reset deletes every stored chapter.
func (s *Server) resetPipeline(w http.ResponseWriter, r *http.Request) {
	status, err := s.control.Reset(r.Context())
	if err != nil {
		if errors.Is(err, pipeline.ErrRunActive) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.logger.Error("reset failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to reset pipeline")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status})
}

func (s *Server) pipelineStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.control.Status(r.Context())
	if err != nil {
		s.logger.Error("status failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load status")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status})
}

type chapterDTO struct {
	Number  int       `json:"number"`
	Key     string    `json:"key"`
	Title   string    `json:"title,omitempty"`
	SavedAt time.Time `json:"saved_at"`
}

// listChapters handles GET /v1/chapters and returns {"chapters": [...]}
// ordered by chapter number.
func (s *Server) listChapters(w http.ResponseWriter, r *http.Request) {
	recs, err := s.chapters.List(r.Context())
	if err != nil {
		s.logger.Error("list chapters failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list chapters")
		return
	}
	out := make([]chapterDTO, 0, len(recs))
	for _, rec := range recs {
		out = append(out, chapterDTO{
			Number:  rec.Number,
			Key:     rec.Key,
			Title:   rec.Title,
			SavedAt: rec.SavedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"chapters": out})
}

// getChapter handles GET /v1/chapters/{number} and returns the stored HTML
// fragment, 404 for unknown numbers, or 500 when the body fails verification.
func (s *Server) getChapter(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil || number < 1 {
		writeError(w, http.StatusBadRequest, "invalid chapter number")
		return
	}
	body, err := s.chapters.Get(r.Context(), number)
	if err != nil {
		if errors.Is(err, novel.ErrNotFound) {
			writeError(w, http.StatusNotFound, "chapter not found")
			return
		}
		s.logger.Error("get chapter failed", zap.Int("number", number), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load chapter")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write(body); err != nil {
		s.logger.Error("write chapter failed", zap.Error(err))
	}
}

// listErrors handles GET /v1/errors and returns {"errors": [...]} in append
// order.
func (s *Server) listErrors(w http.ResponseWriter, r *http.Request) {
	recs, err := s.errors.List(r.Context())
	if err != nil {
		s.logger.Error("list errors failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list errors")
		return
	}
	if recs == nil {
		recs = []novel.ErrorRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"errors": recs})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.String("request_id", RequestID(r.Context())),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("panic", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type requestIDKey struct{}

// RequestID returns the request ID attached by the middleware, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
