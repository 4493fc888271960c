// Package prometheusmetrics exports tuneforge's event matrix as
// Prometheus counters and histograms, using
// github.com/prometheus/client_golang wired here as an event.Sink:
// per-event-kind counters and a trial-duration histogram.
package prometheusmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tuneforge/tuneforge/pkg/event"
)

// Sink records tuneforge events as Prometheus metrics.
type Sink struct {
	eventsTotal    *prometheus.CounterVec
	trialDuration  prometheus.Histogram
	pruneTotal     *prometheus.CounterVec
	studiesRunning prometheus.Gauge
}

// NewSink constructs a Sink and registers its metrics with reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the default
// global registry.
func NewSink(reg prometheus.Registerer) *Sink {
	s := &Sink{
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tuneforge",
			Name:      "events_total",
			Help:      "Count of tuneforge events by kind.",
		}, []string{"kind"}),
		trialDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tuneforge",
			Name:      "trial_duration_seconds",
			Help:      "Wall-clock duration of completed trials.",
			Buckets:   prometheus.DefBuckets,
		}),
		pruneTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tuneforge",
			Name:      "pruner_decisions_total",
			Help:      "Count of pruner keep/prune decisions.",
		}, []string{"pruner", "keep"}),
		studiesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tuneforge",
			Name:      "studies_running",
			Help:      "Number of studies currently in the running status.",
		}),
	}
	reg.MustRegister(s.eventsTotal, s.trialDuration, s.pruneTotal, s.studiesRunning)
	return s
}

func (s *Sink) Emit(e event.Event) {
	s.eventsTotal.WithLabelValues(string(e.Kind)).Inc()

	switch e.Kind {
	case event.TrialCompleted, event.TrialPruned:
		if e.DurationMicros > 0 {
			s.trialDuration.Observe(time.Duration(e.DurationMicros * int64(time.Microsecond)).Seconds())
		}
	case event.PrunerDecision:
		keep := "false"
		if e.Keep {
			keep = "true"
		}
		s.pruneTotal.WithLabelValues(e.PrunerName, keep).Inc()
	case event.StudyStatusChanged:
		if e.Status == "running" {
			s.studiesRunning.Inc()
		} else if e.Status == "paused" || e.Status == "completed" || e.Status == "failed" {
			s.studiesRunning.Dec()
		}
	}
}
