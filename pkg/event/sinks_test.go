package event_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuneforge/tuneforge/pkg/event"
)

func TestChanSinkDropsWhenFull(t *testing.T) {
	s := event.NewChanSink(1)
	s.Emit(event.Event{Kind: event.TrialStarted, StudyID: "a"})
	s.Emit(event.Event{Kind: event.TrialCompleted, StudyID: "a"})

	require.Len(t, s.C, 1)
	got := <-s.C
	assert.Equal(t, event.TrialStarted, got.Kind)
}

type countingSink struct {
	events []event.Event
}

func (c *countingSink) Emit(e event.Event) { c.events = append(c.events, e) }

func TestMultiSinkFansOutToEverySink(t *testing.T) {
	a := &countingSink{}
	b := &countingSink{}
	m := event.NewMultiSink(a, b)

	m.Emit(event.Event{Kind: event.StudyCreated, StudyID: "s1"})

	require.Len(t, a.events, 1)
	require.Len(t, b.events, 1)
	assert.Equal(t, event.StudyCreated, a.events[0].Kind)
	assert.Equal(t, event.StudyCreated, b.events[0].Kind)
}

func TestNopSinkDiscardsSilently(t *testing.T) {
	var s event.NopSink
	s.Emit(event.Event{Kind: event.ErrorOccurred, StudyID: "s1"})
}
