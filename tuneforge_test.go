package tuneforge_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuneforge/tuneforge"
	"github.com/tuneforge/tuneforge/pkg/model"
	"github.com/tuneforge/tuneforge/pkg/space"
	"github.com/tuneforge/tuneforge/pkg/store"
	"github.com/tuneforge/tuneforge/pkg/store/memory"

	_ "github.com/tuneforge/tuneforge/pkg/sampler/random"
)

func sphereSpace(t *testing.T) space.Func {
	t.Helper()
	x, err := space.NewUniform(-5, 5)
	require.NoError(t, err)
	y, err := space.NewUniform(-5, 5)
	require.NoError(t, err)
	return space.Static(space.Space{"x": x, "y": y})
}

// TestSphereRandom100Trials runs 100 Random trials over a 2-D sphere
// function and checks that the best trial lands within the unit disk.
func TestSphereRandom100Trials(t *testing.T) {
	ctx := context.Background()
	st, err := tuneforge.CreateStudy(ctx, tuneforge.Spec{
		ID:          "sphere-random",
		Goal:        model.Minimize,
		MaxTrials:   100,
		Parallelism: 4,
		Seed:        123,
		Space:       sphereSpace(t),
		SamplerName: "random",
		Store:       memory.New(),
	})
	require.NoError(t, err)

	result, err := st.Run(ctx, func(_ context.Context, params map[string]any, _ model.Report) (model.Outcome, error) {
		x := params["x"].(float64)
		y := params["y"].(float64)
		return model.Outcome{Score: x*x + y*y}, nil
	})
	require.NoError(t, err)

	assert.Equal(t, model.StudyCompleted, result.Status)
	succeeded := result.Trials.Succeeded()
	assert.Len(t, succeeded, 100)
	assert.LessOrEqual(t, *result.Best.Score, 1.0)

	best, err := st.BestTrial(ctx)
	require.NoError(t, err)
	assert.Equal(t, result.Best.ID, best.ID)
}

// TestListTrialsMonotoneIndex exercises the facade's ListTrials and the
// monotone-index invariant: trials come back with index 0..n-1.
func TestListTrialsMonotoneIndex(t *testing.T) {
	ctx := context.Background()
	st, err := tuneforge.CreateStudy(ctx, tuneforge.Spec{
		ID:          "monotone-index",
		Goal:        model.Minimize,
		MaxTrials:   20,
		Parallelism: 1,
		Seed:        7,
		Space:       sphereSpace(t),
		SamplerName: "random",
		Store:       memory.New(),
	})
	require.NoError(t, err)

	_, err = st.Run(ctx, func(_ context.Context, params map[string]any, _ model.Report) (model.Outcome, error) {
		x := params["x"].(float64)
		y := params["y"].(float64)
		return model.Outcome{Score: x*x + y*y}, nil
	})
	require.NoError(t, err)

	trials, err := st.ListTrials(ctx, store.ListFilters{})
	require.NoError(t, err)
	require.Len(t, trials, 20)
	for i, tr := range trials {
		assert.Equal(t, int64(i), tr.Index)
	}
}

// TestCreateStudyValidation exercises the synchronous validation path: a
// missing search space is rejected before any trial is ever dispatched.
func TestCreateStudyValidation(t *testing.T) {
	ctx := context.Background()
	_, err := tuneforge.CreateStudy(ctx, tuneforge.Spec{
		ID:    "missing-space",
		Goal:  model.Minimize,
		Store: memory.New(),
	})
	assert.Error(t, err)
}
