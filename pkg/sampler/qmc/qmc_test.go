package qmc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tuneforge/tuneforge/pkg/sampler"
	"github.com/tuneforge/tuneforge/pkg/space"
)

func testSpace(t *testing.T) space.Func {
	t.Helper()
	x, err := space.NewUniform(0, 1)
	require.NoError(t, err)
	return space.Static(space.Space{"x": x})
}

func TestSequenceIndexIncrementsMonotonically(t *testing.T) {
	sp := testSpace(t)
	s := New()
	st, err := s.Init(sampler.Opts{Seed: 1})
	require.NoError(t, err)

	seen := map[float64]bool{}
	for i := 0; i < 10; i++ {
		var params map[string]any
		params, st, err = s.Next(sp, int64(i), nil, st)
		require.NoError(t, err)
		x := params["x"].(float64)
		assert.GreaterOrEqual(t, x, 0.0)
		assert.LessOrEqual(t, x, 1.0)
		assert.False(t, seen[x], "halton sequence should not repeat a point within its first few terms")
		seen[x] = true
	}
}

func TestDeterministicUnscrambled(t *testing.T) {
	sp := testSpace(t)
	s1 := New()
	st1, err := s1.Init(sampler.Opts{Seed: 1})
	require.NoError(t, err)
	s2 := New()
	st2, err := s2.Init(sampler.Opts{Seed: 2}) // unscrambled: seed should not matter
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		var p1, p2 map[string]any
		p1, st1, err = s1.Next(sp, int64(i), nil, st1)
		require.NoError(t, err)
		p2, st2, err = s2.Next(sp, int64(i), nil, st2)
		require.NoError(t, err)
		assert.Equal(t, p1, p2)
	}
}

func TestScramblingChangesSequenceButNotBounds(t *testing.T) {
	sp := testSpace(t)
	s := New()
	st, err := s.Init(sampler.Opts{Seed: 1, Extra: map[string]any{"scramble": true}})
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		var params map[string]any
		params, st, err = s.Next(sp, int64(i), nil, st)
		require.NoError(t, err)
		x := params["x"].(float64)
		assert.GreaterOrEqual(t, x, 0.0)
		assert.LessOrEqual(t, x, 1.0)
	}
}
