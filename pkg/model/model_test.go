package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tuneforge/tuneforge/pkg/model"
)

func TestGoalSign(t *testing.T) {
	assert.Equal(t, 1.0, model.Minimize.Sign())
	assert.Equal(t, -1.0, model.Maximize.Sign())
}

func TestStudyStatusCanTransitionTo(t *testing.T) {
	cases := []struct {
		from, to model.StudyStatus
		want     bool
	}{
		{model.StudyPending, model.StudyRunning, true},
		{model.StudyPending, model.StudyPaused, false},
		{model.StudyRunning, model.StudyPaused, true},
		{model.StudyRunning, model.StudyCompleted, true},
		{model.StudyPaused, model.StudyRunning, true},
		{model.StudyPaused, model.StudyPending, false},
		{model.StudyCompleted, model.StudyRunning, false},
		{model.StudyFailed, model.StudyRunning, false},
		{model.StudyRunning, model.StudyRunning, true},
	}
	for _, c := range cases {
		got := c.from.CanTransitionTo(c.to)
		assert.Equalf(t, c.want, got, "%s -> %s", c.from, c.to)
	}
}

func TestTrialStatusTerminal(t *testing.T) {
	assert.False(t, model.TrialRunning.Terminal())
	assert.True(t, model.TrialSucceeded.Terminal())
	assert.True(t, model.TrialPruned.Terminal())
	assert.True(t, model.TrialFailed.Terminal())
}

func score(v float64) *float64 { return &v }

func TestHistorySucceededFiltersByStatusAndScore(t *testing.T) {
	h := model.History{
		{ID: "a", Status: model.TrialSucceeded, Score: score(1)},
		{ID: "b", Status: model.TrialRunning},
		{ID: "c", Status: model.TrialSucceeded, Score: nil},
		{ID: "d", Status: model.TrialPruned, Score: score(2)},
		{ID: "e", Status: model.TrialSucceeded, Score: score(3)},
	}

	succeeded := h.Succeeded()
	assert.Len(t, succeeded, 2)
	assert.Equal(t, "a", succeeded[0].ID)
	assert.Equal(t, "e", succeeded[1].ID)

	terminal := h.Terminal()
	assert.Len(t, terminal, 4)
}

func TestStudyUnbounded(t *testing.T) {
	assert.True(t, (&model.Study{MaxTrials: 0}).Unbounded())
	assert.True(t, (&model.Study{MaxTrials: -1}).Unbounded())
	assert.False(t, (&model.Study{MaxTrials: 10}).Unbounded())
}
