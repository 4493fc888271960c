package median

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tuneforge/tuneforge/pkg/model"
	"github.com/tuneforge/tuneforge/pkg/pruner"
)

func TestNoPruningBeforeStartup(t *testing.T) {
	p := NewMedian()
	st, err := p.Init(pruner.Opts{Goal: model.Minimize, Extra: map[string]any{"n_startup_trials": 5, "n_warmup_trials": 1}})
	require.NoError(t, err)

	ctx := pruner.Context{Goal: model.Minimize}
	scores := []pruner.ScoreAtRung{{TrialID: "t1", Rung: 0, Value: 100}}
	history := []pruner.ScoreAtRung{{TrialID: "other", Rung: 0, Value: 0.1}}

	keep, _ := p.Keep("t1", scores, 0, history, ctx, st)
	assert.True(t, keep, "should not prune before n_startup_trials distinct peers have reported")
}

func TestPrunesWorseThanMedianForMinimize(t *testing.T) {
	p := NewMedian()
	st, err := p.Init(pruner.Opts{Goal: model.Minimize, Extra: map[string]any{"n_startup_trials": 2, "n_warmup_trials": 1}})
	require.NoError(t, err)

	ctx := pruner.Context{Goal: model.Minimize}
	history := []pruner.ScoreAtRung{
		{TrialID: "a", Rung: 0, Value: 1.0},
		{TrialID: "b", Rung: 0, Value: 2.0},
		{TrialID: "c", Rung: 0, Value: 3.0},
	}
	scores := []pruner.ScoreAtRung{{TrialID: "t1", Rung: 0, Value: 10.0}}

	keep, _ := p.Keep("t1", scores, 0, history, ctx, st)
	assert.False(t, keep, "score 10 is far worse than the median of {1,2,3} under minimize")
}

func TestKeepsBetterThanMedianForMinimize(t *testing.T) {
	p := NewMedian()
	st, err := p.Init(pruner.Opts{Goal: model.Minimize, Extra: map[string]any{"n_startup_trials": 2, "n_warmup_trials": 1}})
	require.NoError(t, err)

	ctx := pruner.Context{Goal: model.Minimize}
	history := []pruner.ScoreAtRung{
		{TrialID: "a", Rung: 0, Value: 1.0},
		{TrialID: "b", Rung: 0, Value: 2.0},
		{TrialID: "c", Rung: 0, Value: 3.0},
	}
	scores := []pruner.ScoreAtRung{{TrialID: "t1", Rung: 0, Value: 0.5}}

	keep, _ := p.Keep("t1", scores, 0, history, ctx, st)
	assert.True(t, keep)
}

func TestAssignBracketAlwaysZero(t *testing.T) {
	p := NewMedian()
	st, err := p.Init(pruner.Opts{})
	require.NoError(t, err)
	bracket, _ := p.AssignBracket(42, st)
	assert.Equal(t, 0, bracket)
}
