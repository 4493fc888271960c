package nsga2

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tuneforge/tuneforge/pkg/model"
	"github.com/tuneforge/tuneforge/pkg/sampler"
	"github.com/tuneforge/tuneforge/pkg/space"
)

func testSpace(t *testing.T) space.Func {
	t.Helper()
	x, err := space.NewUniform(0, 1)
	require.NoError(t, err)
	y, err := space.NewUniform(0, 1)
	require.NoError(t, err)
	return space.Static(space.Space{"x": x, "y": y})
}

func syntheticHistory(n int) model.History {
	history := model.History{}
	for i := 0; i < n; i++ {
		x := float64(i) / float64(n)
		y := 1 - x
		history = append(history, &model.Trial{
			ID: "t", Index: int64(i), Status: model.TrialSucceeded,
			Params:  map[string]any{"x": x, "y": y},
			Metrics: map[string]float64{"f1": x, "f2": y},
		})
	}
	return history
}

func TestFallsBackToRandomBeforePopulationFilled(t *testing.T) {
	sp := testSpace(t)
	s := New()
	st, err := s.Init(sampler.Opts{Seed: 1, Extra: map[string]any{"population_size": 20}})
	require.NoError(t, err)
	params, _, err := s.Next(sp, 0, nil, st)
	require.NoError(t, err)
	assert.Contains(t, params, "x")
	assert.Contains(t, params, "y")
}

func TestProducesValidOffspringAfterPopulationFilled(t *testing.T) {
	sp := testSpace(t)
	s := New()
	st, err := s.Init(sampler.Opts{Seed: 1, Extra: map[string]any{"population_size": 10, "objectives": []string{"f1", "f2"}}})
	require.NoError(t, err)

	history := syntheticHistory(10)
	for i := 0; i < 20; i++ {
		var params map[string]any
		params, st, err = s.Next(sp, int64(10+i), history, st)
		require.NoError(t, err)
		x := params["x"].(float64)
		y := params["y"].(float64)
		assert.GreaterOrEqual(t, x, 0.0)
		assert.LessOrEqual(t, x, 1.0)
		assert.GreaterOrEqual(t, y, 0.0)
		assert.LessOrEqual(t, y, 1.0)
	}
}

func TestNonDominatedSortSeparatesFronts(t *testing.T) {
	a := &model.Trial{Metrics: map[string]float64{"f1": 0, "f2": 1}}
	b := &model.Trial{Metrics: map[string]float64{"f1": 1, "f2": 0}}
	dominated := &model.Trial{Metrics: map[string]float64{"f1": 2, "f2": 2}}

	fronts := nonDominatedSort([]*model.Trial{a, b, dominated}, []string{"f1", "f2"})
	require.Len(t, fronts, 2)
	assert.ElementsMatch(t, fronts[0], []*model.Trial{a, b})
	assert.Equal(t, []*model.Trial{dominated}, fronts[1])
}
