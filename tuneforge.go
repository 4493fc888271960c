// Package tuneforge is the programmatic API facade for the
// hyperparameter-optimization engine: it is the thin surface external
// collaborators (a CLI, a dashboard, a job queue) are expected to
// import, a typed wrapper over machinery it does not itself implement.
// Study sequencing lives in pkg/coordinator, persistence in pkg/store,
// search-space parsing in pkg/space; this file only wires them together
// behind CreateStudy/Run/Suggest/Complete/ListTrials/BestTrial.
package tuneforge

import (
	"context"

	"github.com/go-logr/logr"

	"github.com/tuneforge/tuneforge/pkg/coordinator"
	"github.com/tuneforge/tuneforge/pkg/event"
	"github.com/tuneforge/tuneforge/pkg/model"
	"github.com/tuneforge/tuneforge/pkg/space"
	"github.com/tuneforge/tuneforge/pkg/store"
	"github.com/tuneforge/tuneforge/pkg/tferrors"
)

// Spec is the user-supplied configuration for a new study: the Study
// fields a caller actually chooses, plus the search-space provider and
// the sampler/pruner selection by name (resolved against the
// pkg/sampler and pkg/pruner registries).
type Spec struct {
	ID          string
	Goal        model.Goal
	MaxTrials   int64
	Parallelism int
	Seed        uint64
	Metadata    map[string]string

	Space space.Func

	SamplerName string
	SamplerOpts map[string]any
	// PrunerName, left empty, disables pruning entirely (AssignBracket
	// always returns bracket 0, Keep is never consulted).
	PrunerName string
	PrunerOpts map[string]any

	Store store.Store
	Sink  event.Sink
	Log   logr.Logger
}

// Study is a handle to one configured, coordinator-backed optimization
// run. It is the object CreateStudy returns and every other facade
// function operates on.
type Study struct {
	coord *coordinator.Coordinator
	model *model.Study
	store store.Store
}

// ID returns the study's identifier.
func (s *Study) ID() string { return s.model.ID }

// CreateStudy validates spec, persists a new study and moves it to the
// running state, instantiating its configured Sampler and Pruner. It returns a
// Study handle usable with Run or the manual Suggest/Complete pair.
func CreateStudy(ctx context.Context, spec Spec) (*Study, error) {
	if spec.Space == nil {
		return nil, tferrors.New(tferrors.Validation, "search space is required")
	}
	if spec.Store == nil {
		return nil, tferrors.New(tferrors.Validation, "store is required")
	}
	if spec.Goal != model.Minimize && spec.Goal != model.Maximize {
		return nil, tferrors.New(tferrors.Validation, "goal must be %q or %q", model.Minimize, model.Maximize)
	}
	if spec.SamplerName == "" {
		spec.SamplerName = "random"
	}
	parallelism := spec.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}

	st := &model.Study{
		ID:          spec.ID,
		Goal:        spec.Goal,
		MaxTrials:   spec.MaxTrials,
		Parallelism: parallelism,
		Seed:        spec.Seed,
		Status:      model.StudyPending,
		SamplerName: spec.SamplerName,
		SamplerOpts: spec.SamplerOpts,
		PrunerName:  spec.PrunerName,
		PrunerOpts:  spec.PrunerOpts,
		Metadata:    spec.Metadata,
	}

	sink := spec.Sink
	if sink == nil {
		sink = event.NopSink{}
	}

	coord, err := coordinator.New(ctx, coordinator.Config{
		Store:   spec.Store,
		Sink:    sink,
		Log:     spec.Log,
		SpaceFn: spec.Space,
	}, st)
	if err != nil {
		return nil, err
	}
	return &Study{coord: coord, model: st, store: spec.Store}, nil
}

// Run drives the study to completion, dispatching trials bounded by its
// configured parallelism and invoking score for each one. It blocks
// until the study's trial budget is exhausted or ctx is cancelled.
func (s *Study) Run(ctx context.Context, score coordinator.ScoreFn) (*coordinator.Result, error) {
	return s.coord.Run(ctx, score)
}

// Pause blocks new-trial dispatch without disturbing in-flight workers.
func (s *Study) Pause(ctx context.Context) error { return s.coord.Pause(ctx) }

// Resume lifts a prior Pause.
func (s *Study) Resume(ctx context.Context) error { return s.coord.Resume(ctx) }

// Suggest proposes the next trial in manual ask-tell mode, returning its
// opaque trial handle and the sampled parameters. Pair with Complete to
// record the outcome once the caller has evaluated it out of band.
func (s *Study) Suggest(ctx context.Context) (trialHandle string, params map[string]any, err error) {
	return s.coord.Suggest(ctx)
}

// Complete records a manual-mode trial's outcome, the ask-tell
// counterpart to Suggest.
func (s *Study) Complete(ctx context.Context, trialHandle string, outcome model.Outcome) error {
	return s.coord.Complete(ctx, trialHandle, outcome)
}

// ListTrials returns the study's trials ordered by index, optionally
// narrowed by filters.
func (s *Study) ListTrials(ctx context.Context, filters store.ListFilters) (model.History, error) {
	return s.store.ListTrials(ctx, s.model.ID, filters)
}

// BestTrial returns the best succeeded trial by the study's goal, or nil
// if none has succeeded yet.
func (s *Study) BestTrial(ctx context.Context) (*model.Trial, error) {
	return s.coord.BestTrial(ctx)
}
