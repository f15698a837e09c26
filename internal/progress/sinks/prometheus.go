package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/replica-harvester/internal/progress"
)

// PrometheusSink exports harvest progress via Prometheus collectors: run
// lifecycle, per-replica attempt counters and per-item results.
type PrometheusSink struct {
	runsStarted prometheus.Counter
	runsRunning prometheus.Gauge
	runDuration prometheus.Histogram

	attempts        *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	items           *prometheus.CounterVec
	itemAttempts    *prometheus.HistogramVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvester_runs_started_total",
			Help: "Total harvest runs started.",
		}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "harvester_runs_running",
			Help: "Harvest runs currently in progress.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "harvester_run_duration_seconds",
			Help:    "Wall time per completed harvest run.",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 3600},
		}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_attempts_total",
			Help: "Replica attempts partitioned by replica, status class and outcome.",
		}, []string{"replica", "status_class", "outcome"}),
		attemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvester_attempt_duration_seconds",
			Help:    "Attempt latency partitioned by replica.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"replica"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_items_total",
			Help: "Finished items partitioned by result.",
		}, []string{"result"}),
		itemAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvester_item_attempts",
			Help:    "Attempts consumed per finished item.",
			Buckets: []float64{1, 2, 3, 4, 5, 8, 13},
		}, []string{"result"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsRunning,
		s.runDuration,
		s.attempts,
		s.attemptDuration,
		s.items,
		s.itemAttempts,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch. It is safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart, progress.StageRunDone:
			s.handleRunEvent(evt)
		case progress.StageAttemptDone:
			s.handleAttemptEvent(evt)
		case progress.StageItemDelivered:
			s.handleItemEvent(evt, "delivered")
		case progress.StageItemExhausted:
			s.handleItemEvent(evt, "exhausted")
		case progress.StageItemFatal:
			s.handleItemEvent(evt, "fatal")
		}
	}
	return nil
}

func (s *PrometheusSink) handleRunEvent(evt progress.Event) {
	if evt.Stage == progress.StageRunStart {
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
		return
	}
	if evt.Dur > 0 {
		s.runDuration.Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.RunID) {
		s.runsRunning.Dec()
	}
}

func (s *PrometheusSink) handleAttemptEvent(evt progress.Event) {
	statusClass := string(evt.StatusClass)
	if statusClass == "" {
		statusClass = string(progress.StatusOther)
	}
	s.attempts.WithLabelValues(evt.Replica, statusClass, evt.Outcome).Inc()
	if evt.Dur > 0 {
		s.attemptDuration.WithLabelValues(evt.Replica).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handleItemEvent(evt progress.Event, result string) {
	s.items.WithLabelValues(result).Inc()
	if evt.Attempt > 0 {
		s.itemAttempts.WithLabelValues(result).Observe(float64(evt.Attempt))
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
