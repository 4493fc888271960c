package prometheusmetrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
	"github.com/tuneforge/tuneforge/pkg/event"
)

func TestSinkCountsEventsByKind(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewSink(reg)

	s.Emit(event.Event{Kind: event.TrialStarted, StudyID: "s1", Timestamp: time.Now()})
	s.Emit(event.Event{Kind: event.TrialStarted, StudyID: "s1", Timestamp: time.Now()})
	s.Emit(event.Event{Kind: event.TrialCompleted, StudyID: "s1", Timestamp: time.Now(), DurationMicros: 1500000})

	metrics, err := reg.Gather()
	require.NoError(t, err)

	var started float64
	for _, mf := range metrics {
		if mf.GetName() != "tuneforge_events_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelValue(m, "kind") == "trial-started" {
				started = m.GetCounter().GetValue()
			}
		}
	}
	require.Equal(t, 2.0, started)
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}
