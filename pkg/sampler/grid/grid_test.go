package grid

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tuneforge/tuneforge/pkg/sampler"
	"github.com/tuneforge/tuneforge/pkg/space"
)

func TestGridEnumeratesFullProductAndWraps(t *testing.T) {
	lr, err := space.NewChoice([]any{1e-4, 1e-3, 1e-2})
	require.NoError(t, err)
	opt, err := space.NewChoice([]any{"adam", "sgd"})
	require.NoError(t, err)
	dropout, err := space.NewUniform(0, 0.5)
	require.NoError(t, err)

	sp := space.Static(space.Space{"lr": lr, "opt": opt, "dropout": dropout})

	g := New()
	st, err := g.Init(sampler.Opts{Extra: map[string]any{"grid_points": 5}})
	require.NoError(t, err)

	seen := map[string]bool{}
	var first map[string]any
	for i := int64(0); i < 30; i++ {
		var params map[string]any
		params, st, err = g.Next(sp, i, nil, st)
		require.NoError(t, err)
		key := mapKey(params)
		assert.False(t, seen[key], "combination %v repeated before exhaustion", params)
		seen[key] = true
		if i == 0 {
			first = params
		}
	}
	assert.Len(t, seen, 30)

	wrapped, _, err := g.Next(sp, 30, nil, st)
	require.NoError(t, err)
	assert.Equal(t, first, wrapped)
}

func TestGridMidpointForSinglePoint(t *testing.T) {
	d, err := space.NewUniform(0, 10)
	require.NoError(t, err)
	sp := space.Static(space.Space{"x": d})
	g := New()
	st, err := g.Init(sampler.Opts{Extra: map[string]any{"grid_points": 1}})
	require.NoError(t, err)
	params, _, err := g.Next(sp, 0, nil, st)
	require.NoError(t, err)
	assert.Equal(t, 5.0, params["x"])
}

func mapKey(m map[string]any) string {
	s := ""
	for _, k := range []string{"lr", "opt", "dropout"} {
		s += k + "=" + fmt.Sprint(m[k]) + ";"
	}
	return s
}
