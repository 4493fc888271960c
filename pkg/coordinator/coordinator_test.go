package coordinator_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuneforge/tuneforge/pkg/coordinator"
	"github.com/tuneforge/tuneforge/pkg/model"
	"github.com/tuneforge/tuneforge/pkg/space"
	"github.com/tuneforge/tuneforge/pkg/store"
	"github.com/tuneforge/tuneforge/pkg/store/memory"

	_ "github.com/tuneforge/tuneforge/pkg/pruner/median"
	_ "github.com/tuneforge/tuneforge/pkg/sampler/random"
)

func testSpace(t *testing.T) space.Func {
	t.Helper()
	x, err := space.NewUniform(0, 10)
	require.NoError(t, err)
	return space.Static(space.Space{"x": x})
}

func newStudy(id string, maxTrials int64, samplerName, prunerName string) *model.Study {
	return &model.Study{
		ID:          id,
		Goal:        model.Minimize,
		MaxTrials:   maxTrials,
		Parallelism: 1,
		Seed:        1,
		SamplerName: samplerName,
		PrunerName:  prunerName,
	}
}

// TestRunRecordsFailedTrialOnError exercises the scoring-function-error
// path: an error from the scoring function terminates the trial as
// failed, and the study continues with its remaining budget.
func TestRunRecordsFailedTrialOnError(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	c, err := coordinator.New(ctx, coordinator.Config{
		Store:   st,
		Log:     logr.Discard(),
		SpaceFn: testSpace(t),
	}, newStudy("fails", 5, "random", ""))
	require.NoError(t, err)

	result, err := c.Run(ctx, func(_ context.Context, _ map[string]any, _ model.Report) (model.Outcome, error) {
		return model.Outcome{}, errors.New("boom")
	})
	require.NoError(t, err)

	trials, err := st.ListTrials(ctx, "fails", store.ListFilters{})
	require.NoError(t, err)
	require.Len(t, trials, 5)
	for _, tr := range trials {
		assert.Equal(t, model.TrialFailed, tr.Status)
		assert.Nil(t, tr.Score)
	}
	assert.Nil(t, result.Best)
}

// TestRunCoercesNonFiniteScoreToFailed exercises NaN/Inf coercion: a
// non-finite score is recorded as failed, never as succeeded with a NaN
// score.
func TestRunCoercesNonFiniteScoreToFailed(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	c, err := coordinator.New(ctx, coordinator.Config{
		Store:   st,
		Log:     logr.Discard(),
		SpaceFn: testSpace(t),
	}, newStudy("nan-score", 3, "random", ""))
	require.NoError(t, err)

	_, err = c.Run(ctx, func(_ context.Context, _ map[string]any, _ model.Report) (model.Outcome, error) {
		return model.Outcome{Score: math.NaN()}, nil
	})
	require.NoError(t, err)

	trials, err := st.ListTrials(ctx, "nan-score", store.ListFilters{})
	require.NoError(t, err)
	for _, tr := range trials {
		assert.Equal(t, model.TrialFailed, tr.Status)
	}
}

// TestRunPrunesViaReportCallback wires a median pruner through a
// scoring function that reports a single rung observation, and checks
// that a trial reporting a much worse score than its peers is marked
// pruned rather than succeeded, with its scoring function observing
// the prune signal.
func TestRunPrunesViaReportCallback(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	study := newStudy("prune-me", 8, "random", "median")
	// Lower the startup gate so the test does not need a large trial
	// count to observe a pruning decision; n_warmup_trials=1 still
	// requires at least one peer to compare against.
	study.PrunerOpts = map[string]any{"n_startup_trials": 2, "n_warmup_trials": 1}
	c, err := coordinator.New(ctx, coordinator.Config{
		Store:   st,
		Log:     logr.Discard(),
		SpaceFn: testSpace(t),
	}, study)
	require.NoError(t, err)

	i := 0
	result, err := c.Run(ctx, func(_ context.Context, _ map[string]any, report model.Report) (model.Outcome, error) {
		i++
		// Every trial but the last reports a good score; the last
		// reports a deliberately terrible one so several peers have
		// already reported and it should be pruned.
		score := 1.0
		if i == 8 {
			score = 1000.0
		}
		signal := report(score, 0)
		if signal == model.Prune {
			return model.Outcome{}, errors.New("pruned")
		}
		return model.Outcome{Score: score}, nil
	})
	require.NoError(t, err)

	trials, err := st.ListTrials(ctx, "prune-me", store.ListFilters{})
	require.NoError(t, err)
	require.Len(t, trials, 8)

	var sawPruned bool
	for _, tr := range trials {
		if tr.Status == model.TrialPruned {
			sawPruned = true
			require.NotNil(t, tr.Score)
			assert.Equal(t, 1000.0, *tr.Score)
		}
	}
	assert.True(t, sawPruned, "expected at least one trial pruned by the median pruner")
	assert.Equal(t, model.StudyCompleted, result.Status)
}

// TestSuggestCompleteManualMode exercises the ask-tell facade the
// automatic Run loop shares its dispatch path with.
func TestSuggestCompleteManualMode(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	c, err := coordinator.New(ctx, coordinator.Config{
		Store:   st,
		Log:     logr.Discard(),
		SpaceFn: testSpace(t),
	}, newStudy("manual", 0, "random", ""))
	require.NoError(t, err)

	trialID, params, err := c.Suggest(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, trialID)
	x := params["x"].(float64)

	err = c.Complete(ctx, trialID, model.Outcome{Score: x * x})
	require.NoError(t, err)

	tr, err := st.FetchTrial(ctx, "manual", trialID)
	require.NoError(t, err)
	assert.Equal(t, model.TrialSucceeded, tr.Status)
	require.NotNil(t, tr.Score)
}

// TestPauseResumeGatesDispatch checks that Resume lifts a prior Pause:
// a study paused and then resumed before Run starts still dispatches
// its full budget of trials.
func TestPauseResumeGatesDispatch(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	c, err := coordinator.New(ctx, coordinator.Config{
		Store:   s,
		Log:     logr.Discard(),
		SpaceFn: testSpace(t),
	}, newStudy("pause-resume", 3, "random", ""))
	require.NoError(t, err)

	require.NoError(t, c.Pause(ctx))
	require.NoError(t, c.Resume(ctx))

	_, err = c.Run(ctx, func(_ context.Context, params map[string]any, _ model.Report) (model.Outcome, error) {
		x := params["x"].(float64)
		return model.Outcome{Score: x}, nil
	})
	require.NoError(t, err)

	trials, err := s.ListTrials(ctx, "pause-resume", store.ListFilters{})
	require.NoError(t, err)
	assert.Len(t, trials, 3)
}
