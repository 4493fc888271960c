package sha

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tuneforge/tuneforge/pkg/model"
	"github.com/tuneforge/tuneforge/pkg/pruner"
)

func TestTopFractionSurvivesByEta(t *testing.T) {
	p := New()
	st, err := p.Init(pruner.Opts{Goal: model.Minimize, Extra: map[string]any{"eta": 3.0}})
	require.NoError(t, err)

	ctx := pruner.Context{Goal: model.Minimize}
	// 9 peers plus the trial under test = 10 total; top 1/3 (~4) survive.
	history := make([]pruner.ScoreAtRung, 0, 9)
	for i := 0; i < 9; i++ {
		history = append(history, pruner.ScoreAtRung{TrialID: "peer" + string(rune('a'+i)), Rung: 0, Value: float64(i)})
	}

	scores := []pruner.ScoreAtRung{{TrialID: "t1", Rung: 0, Value: 0.5}}
	keep, _ := p.Keep("t1", scores, 0, history, ctx, st)
	assert.True(t, keep, "a score near the best should survive the top-1/eta cut")

	scores2 := []pruner.ScoreAtRung{{TrialID: "t2", Rung: 0, Value: 8.5}}
	keep2, _ := p.Keep("t2", scores2, 0, history, ctx, st)
	assert.False(t, keep2, "a score near the worst should be pruned by the top-1/eta cut")
}

func TestNoDecisionWithFewerThanTwoPeers(t *testing.T) {
	p := New()
	st, err := p.Init(pruner.Opts{Goal: model.Minimize})
	require.NoError(t, err)
	ctx := pruner.Context{Goal: model.Minimize}
	scores := []pruner.ScoreAtRung{{TrialID: "t1", Rung: 0, Value: 5}}
	keep, _ := p.Keep("t1", scores, 0, nil, ctx, st)
	assert.True(t, keep)
}
