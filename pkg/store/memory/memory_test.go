package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tuneforge/tuneforge/pkg/model"
	"github.com/tuneforge/tuneforge/pkg/store"
)

func newStudy(t *testing.T, s *Store, id string) {
	t.Helper()
	require.NoError(t, s.PutStudy(context.Background(), &model.Study{
		ID: id, Goal: model.Minimize, MaxTrials: 100, Parallelism: 4, Seed: 1,
	}))
}

func TestPutStudyIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New()
	st := &model.Study{ID: "s1", Goal: model.Minimize, MaxTrials: 10, Parallelism: 1, Seed: 7}
	require.NoError(t, s.PutStudy(ctx, st))
	require.NoError(t, s.PutStudy(ctx, st))
}

func TestPutStudyConflictOnDifferentContent(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.PutStudy(ctx, &model.Study{ID: "s1", Goal: model.Minimize, MaxTrials: 10, Parallelism: 1, Seed: 7}))
	err := s.PutStudy(ctx, &model.Study{ID: "s1", Goal: model.Maximize, MaxTrials: 10, Parallelism: 1, Seed: 7})
	assert.Error(t, err)
}

func TestAddTrialDenseGapFreeIndex(t *testing.T) {
	ctx := context.Background()
	s := New()
	newStudy(t, s, "s1")
	for i := 0; i < 10; i++ {
		_, err := s.AddTrial(ctx, "s1", &model.Trial{Status: model.TrialRunning})
		require.NoError(t, err)
	}
	hist, err := s.ListTrials(ctx, "s1", store.ListFilters{})
	require.NoError(t, err)
	require.Len(t, hist, 10)
	for i, tr := range hist {
		assert.Equal(t, int64(i), tr.Index)
	}
}

func TestAddTrialConcurrentIsLinearizable(t *testing.T) {
	ctx := context.Background()
	s := New()
	newStudy(t, s, "s1")

	const n = 200
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := s.AddTrial(ctx, "s1", &model.Trial{Status: model.TrialRunning})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	hist, err := s.ListTrials(ctx, "s1", store.ListFilters{})
	require.NoError(t, err)
	require.Len(t, hist, n)
	seen := make(map[int64]bool)
	for _, tr := range hist {
		assert.False(t, seen[tr.Index], "duplicate index %d", tr.Index)
		seen[tr.Index] = true
	}
	for i := int64(0); i < n; i++ {
		assert.True(t, seen[i], "missing index %d", i)
	}
}

func TestTerminalStatusIsSink(t *testing.T) {
	ctx := context.Background()
	s := New()
	newStudy(t, s, "s1")
	id, err := s.AddTrial(ctx, "s1", &model.Trial{Status: model.TrialRunning})
	require.NoError(t, err)

	succeeded := model.TrialSucceeded
	score := 1.0
	require.NoError(t, s.UpdateTrial(ctx, "s1", id, store.TrialPatch{Status: &succeeded, Score: &score}))

	running := model.TrialRunning
	err = s.UpdateTrial(ctx, "s1", id, store.TrialPatch{Status: &running})
	assert.Error(t, err)

	tr, err := s.FetchTrial(ctx, "s1", id)
	require.NoError(t, err)
	assert.Equal(t, model.TrialSucceeded, tr.Status)
}

func TestIdempotentObservation(t *testing.T) {
	ctx := context.Background()
	s := New()
	newStudy(t, s, "s1")
	id, err := s.AddTrial(ctx, "s1", &model.Trial{Status: model.TrialRunning})
	require.NoError(t, err)

	obs := model.Observation{StudyID: "s1", TrialID: id, Bracket: 0, Rung: 1, Value: 0.5}
	require.NoError(t, s.RecordObservation(ctx, obs))
	require.NoError(t, s.RecordObservation(ctx, obs))

	vals, err := s.ObservationsAtRung(ctx, "s1", 0, 1)
	require.NoError(t, err)
	require.Len(t, vals, 1)
	assert.Equal(t, 0.5, vals[0].Value)

	obs.Value = 0.9
	require.NoError(t, s.RecordObservation(ctx, obs))
	vals, err = s.ObservationsAtRung(ctx, "s1", 0, 1)
	require.NoError(t, err)
	require.Len(t, vals, 1)
	assert.Equal(t, 0.9, vals[0].Value)
}

func TestStudyStatusIllegalTransitionRejected(t *testing.T) {
	ctx := context.Background()
	s := New()
	newStudy(t, s, "s1")
	require.NoError(t, s.SetStudyStatus(ctx, "s1", model.StudyRunning))
	require.NoError(t, s.SetStudyStatus(ctx, "s1", model.StudyCompleted))
	assert.Error(t, s.SetStudyStatus(ctx, "s1", model.StudyRunning))
}

func TestListTrialsFilters(t *testing.T) {
	ctx := context.Background()
	s := New()
	newStudy(t, s, "s1")
	for i := 0; i < 5; i++ {
		id, err := s.AddTrial(ctx, "s1", &model.Trial{Status: model.TrialRunning})
		require.NoError(t, err)
		if i%2 == 0 {
			succeeded := model.TrialSucceeded
			score := float64(i)
			require.NoError(t, s.UpdateTrial(ctx, "s1", id, store.TrialPatch{Status: &succeeded, Score: &score}))
		}
	}
	hist, err := s.ListTrials(ctx, "s1", store.ListFilters{Status: []model.TrialStatus{model.TrialSucceeded}})
	require.NoError(t, err)
	assert.Len(t, hist, 3)
}
