package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/chaptermill/chaptermill/internal/progress"
)

// PrometheusSink exports pipeline progress metrics via Prometheus. It owns all
// collectors for runs started/completed/running and per-stage chapter counters.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runRuntime    *prometheus.HistogramVec

	chaptersSaved *prometheus.CounterVec
	stageBytes    *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chaptermill_runs_started_total",
			Help: "Total crawl runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chaptermill_runs_completed_total",
			Help: "Total crawl runs finished partitioned by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chaptermill_runs_running",
			Help: "Current number of running crawl runs.",
		}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chaptermill_run_runtime_seconds",
			Help:    "Wall time per finished crawl run.",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600, 10800, 43200},
		}, []string{"result"}),
		chaptersSaved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chaptermill_chapters_saved_total",
			Help: "Chapters persisted partitioned by book.",
		}, []string{"book"}),
		stageBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chaptermill_stage_bytes_total",
			Help: "Text bytes produced per pipeline stage.",
		}, []string{"stage"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chaptermill_stage_duration_seconds",
			Help:    "Chapter stage latency partitioned by pipeline stage.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"stage"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runRuntime,
		s.chaptersSaved,
		s.stageBytes,
		s.stageDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart, progress.StageRunDone, progress.StageRunStopped, progress.StageRunError:
		s.handleRunEvent(evt)
	case progress.StageChapterFetched, progress.StageChapterTranslated, progress.StageChapterSaved:
		s.handleChapterEvent(evt)
	}
}

func (s *PrometheusSink) handleRunEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
	case progress.StageRunDone:
		s.runsCompleted.WithLabelValues("completed").Inc()
		s.observeRuntime(evt, "completed")
	case progress.StageRunStopped:
		s.runsCompleted.WithLabelValues("stopped").Inc()
		s.observeRuntime(evt, "stopped")
	case progress.StageRunError:
		s.runsCompleted.WithLabelValues("failed").Inc()
		s.observeRuntime(evt, "failed")
	}
	if evt.Stage != progress.StageRunStart && s.tracker.complete(evt.RunID) {
		s.runsRunning.Dec()
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.runRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handleChapterEvent(evt progress.Event) {
	stage := stageLabel(evt.Stage)
	if evt.Stage == progress.StageChapterSaved {
		book := evt.BookID
		if book == "" {
			book = "unknown"
		}
		s.chaptersSaved.WithLabelValues(book).Inc()
	}
	if evt.Bytes > 0 {
		s.stageBytes.WithLabelValues(stage).Add(float64(evt.Bytes))
	}
	if evt.Dur > 0 {
		s.stageDuration.WithLabelValues(stage).Observe(evt.Dur.Seconds())
	}
}

func stageLabel(stage progress.Stage) string {
	switch stage {
	case progress.StageChapterFetched:
		return "fetch"
	case progress.StageChapterTranslated:
		return "translate"
	case progress.StageChapterSaved:
		return "save"
	default:
		return "other"
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
