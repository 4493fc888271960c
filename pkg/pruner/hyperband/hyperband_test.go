package hyperband

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tuneforge/tuneforge/pkg/model"
	"github.com/tuneforge/tuneforge/pkg/pruner"
)

func TestAssignBracketRoundRobins(t *testing.T) {
	p := New()
	st, err := p.Init(pruner.Opts{Extra: map[string]any{"eta": 3.0, "max_resource": 81.0}})
	require.NoError(t, err)

	state := st.(*State)
	numBrackets := len(state.brackets)
	require.Greater(t, numBrackets, 1)

	var seen []int
	for i := int64(0); i < int64(2*numBrackets); i++ {
		var b int
		b, st = p.AssignBracket(i, st)
		seen = append(seen, b)
	}
	for i, b := range seen {
		assert.Equal(t, i%numBrackets, b)
	}
}

func TestPrunesWorstInBracket(t *testing.T) {
	p := New()
	st, err := p.Init(pruner.Opts{Goal: model.Minimize, Extra: map[string]any{"eta": 3.0, "max_resource": 81.0}})
	require.NoError(t, err)

	ctx := pruner.Context{Goal: model.Minimize, Bracket: 0}
	history := make([]pruner.ScoreAtRung, 0, 9)
	for i := 0; i < 9; i++ {
		history = append(history, pruner.ScoreAtRung{TrialID: "peer" + string(rune('a'+i)), Rung: 0, Value: float64(i)})
	}

	good := []pruner.ScoreAtRung{{TrialID: "t1", Rung: 0, Value: 0.5}}
	keep, _ := p.Keep("t1", good, 0, history, ctx, st)
	assert.True(t, keep)

	bad := []pruner.ScoreAtRung{{TrialID: "t2", Rung: 0, Value: 9.0}}
	keep2, _ := p.Keep("t2", bad, 0, history, ctx, st)
	assert.False(t, keep2)
}
