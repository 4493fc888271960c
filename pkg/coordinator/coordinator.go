// Package coordinator implements the Study Coordinator: it drives a
// study's trials from creation to completion, threading Sampler and
// Pruner state, enforcing the history visibility rule (a trial's
// sampling call sees only trials that were terminal at that moment),
// and bounding concurrency to the study's configured parallelism. Both
// the automatic Run loop and the manual Suggest/Complete pair share
// this same machinery.
package coordinator

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
	"github.com/tuneforge/tuneforge/pkg/event"
	"github.com/tuneforge/tuneforge/pkg/model"
	"github.com/tuneforge/tuneforge/pkg/pruner"
	"github.com/tuneforge/tuneforge/pkg/sampler"
	"github.com/tuneforge/tuneforge/pkg/seed"
	"github.com/tuneforge/tuneforge/pkg/space"
	"github.com/tuneforge/tuneforge/pkg/store"
	"github.com/tuneforge/tuneforge/pkg/tferrors"
)

// Config configures a Coordinator for a single study.
type Config struct {
	Store   store.Store
	Sink    event.Sink
	Log     logr.Logger
	SpaceFn space.Func
}

// Coordinator runs one study's trial sequencing loop. It is not safe
// for concurrent use by more than one goroutine calling Run/Suggest at
// once; internally it serializes sampler/pruner state mutation and
// bounds scoring-function concurrency to the study's parallelism.
type Coordinator struct {
	cfg     Config
	study   *model.Study
	sampler sampler.Sampler
	pruner  pruner.Pruner

	// stateMu guards sequential access to sState/pState/nextIndex, which
	// must observe a strictly increasing, serialized view per the
	// "sampler next is serialized per study" concurrency rule.
	stateMu   sync.Mutex
	sState    sampler.State
	pState    pruner.State
	nextIndex int64

	// pauseMu/paused gate new-trial dispatch without disturbing
	// in-flight workers, per the dispatch-only pause semantics.
	pauseMu sync.RWMutex
	paused  bool

	wg sync.WaitGroup
	sem chan struct{}
}

// New constructs a Coordinator for study, instantiating its configured
// Sampler and Pruner (adding goal into the sampler's opts) and
// persisting the study with status=running.
func New(ctx context.Context, cfg Config, study *model.Study) (*Coordinator, error) {
	if err := cfg.Store.PutStudy(ctx, study); err != nil {
		return nil, err
	}
	samp, ok := sampler.New(study.SamplerName)
	if !ok {
		return nil, tferrors.New(tferrors.Validation, "unknown sampler %q", study.SamplerName)
	}
	pr, ok := pruner.New(study.PrunerName)
	if study.PrunerName != "" && !ok {
		return nil, tferrors.New(tferrors.Validation, "unknown pruner %q", study.PrunerName)
	}

	sState, err := samp.Init(sampler.Opts{Seed: study.Seed, Goal: study.Goal, Extra: study.SamplerOpts})
	if err != nil {
		return nil, tferrors.Wrap(tferrors.Validation, err, "sampler init failed")
	}
	var pState pruner.State
	if pr != nil {
		pState, err = pr.Init(pruner.Opts{Goal: study.Goal, Extra: study.PrunerOpts})
		if err != nil {
			return nil, tferrors.Wrap(tferrors.Validation, err, "pruner init failed")
		}
	}

	parallelism := study.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}

	c := &Coordinator{
		cfg:     cfg,
		study:   study,
		sampler: samp,
		pruner:  pr,
		sState:  sState,
		pState:  pState,
		sem:     make(chan struct{}, parallelism),
	}

	if err := c.retry(ctx, func() error { return cfg.Store.SetStudyStatus(ctx, study.ID, model.StudyRunning) }); err != nil {
		return nil, err
	}
	c.emit(event.Event{Kind: event.StudyCreated, StudyID: study.ID, Timestamp: now()})
	c.emit(event.Event{Kind: event.StudyStatusChanged, StudyID: study.ID, Timestamp: now(), Status: string(model.StudyRunning)})
	return c, nil
}

// ScoreFn is the scoring-function protocol a Run loop drives: params
// in, an Outcome (or a bare score via ScoreFunc, wrapped by the
// caller) plus error out. Report is invoked zero or more times before
// return to check in intermediate progress.
type ScoreFn func(ctx context.Context, params map[string]any, report model.Report) (model.Outcome, error)

// Run drives the study to completion, dispatching up to
// study.MaxTrials trials (or running until ctx is cancelled, if the
// study is unbounded) bounded by parallelism. It blocks until every
// dispatched trial has reached a terminal state or ctx is done.
func (c *Coordinator) Run(ctx context.Context, score ScoreFn) (*Result, error) {
	for {
		if ctx.Err() != nil {
			break
		}
		if !c.study.Unbounded() && c.nextIndex >= c.study.MaxTrials {
			break
		}

		if c.isPaused() {
			select {
			case <-ctx.Done():
			case <-time.After(10 * time.Millisecond):
				continue
			}
			continue
		}

		select {
		case c.sem <- struct{}{}:
		case <-ctx.Done():
			goto drain
		}

		ix, params, bracket, trialSeed, err := c.dispatchOne(ctx)
		if err != nil {
			<-c.sem
			return nil, err
		}

		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			defer func() { <-c.sem }()
			c.runTrial(ctx, ix, params, bracket, trialSeed, score)
		}()
	}

drain:
	c.wg.Wait()

	if err := c.retry(ctx, func() error { return c.cfg.Store.SetStudyStatus(ctx, c.study.ID, model.StudyCompleted) }); err != nil {
		return nil, err
	}
	c.emit(event.Event{Kind: event.StudyStatusChanged, StudyID: c.study.ID, Timestamp: now(), Status: string(model.StudyCompleted)})
	c.emit(event.Event{Kind: event.StudyCompleted, StudyID: c.study.ID, Timestamp: now()})
	return c.result(ctx)
}

// dispatchOne performs the serialized section of one trial's
// dispatch: seed derivation, history read, sampler.Next,
// pruner.AssignBracket, and AddTrial. It holds stateMu for its whole
// body so sampler/pruner state mutation is strictly sequential across
// concurrently-dispatching goroutines.
func (c *Coordinator) dispatchOne(ctx context.Context) (int64, map[string]any, int, uint64, error) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	ix := c.nextIndex
	c.nextIndex++
	trialSeed := seed.Trial(c.study.Seed, ix)

	history, err := c.cfg.Store.ListTrials(ctx, c.study.ID, store.ListFilters{})
	if err != nil {
		return 0, nil, 0, 0, err
	}
	history = history.Terminal()

	params, sState, err := c.sampler.Next(c.cfg.SpaceFn, ix, history, c.sState)
	if err != nil {
		return 0, nil, 0, 0, tferrors.Wrap(tferrors.Numeric, err, "sampler.next failed at index %d", ix)
	}
	c.sState = sState
	c.emit(event.Event{Kind: event.SamplerSuggested, StudyID: c.study.ID, Timestamp: now(), TrialIndex: ix, SamplerName: c.study.SamplerName})

	bracket := 0
	if c.pruner != nil {
		var pState pruner.State
		bracket, pState = c.pruner.AssignBracket(ix, c.pState)
		c.pState = pState
	}

	trial := &model.Trial{
		Index:     ix,
		Params:    params,
		Bracket:   bracket,
		Status:    model.TrialRunning,
		Seed:      trialSeed,
		StartedAt: now(),
	}
	id, err := c.retryValue(ctx, func() (string, error) { return c.cfg.Store.AddTrial(ctx, c.study.ID, trial) })
	if err != nil {
		return 0, nil, 0, 0, err
	}
	trial.ID = id
	c.emit(event.Event{Kind: event.TrialStarted, StudyID: c.study.ID, Timestamp: now(), TrialID: id, TrialIndex: ix, Bracket: bracket})
	return ix, params, bracket, trialSeed, nil
}

// runTrial invokes the scoring function for one trial, wiring its
// report callback to observation recording and pruner decisions, and
// records the final outcome.
func (c *Coordinator) runTrial(ctx context.Context, ix int64, params map[string]any, bracket int, trialSeed uint64, score ScoreFn) {
	trialID := c.trialIDForIndex(ctx, ix)
	if trialID == "" {
		return
	}

	report := func(value float64, rung int) model.Signal {
		return c.handleReport(ctx, trialID, bracket, rung, value)
	}

	outcome, err := score(ctx, params, report)

	trial, ferr := c.cfg.Store.FetchTrial(ctx, c.study.ID, trialID)
	if ferr == nil && trial.Status.Terminal() {
		// Already pruned via a report callback; nothing left to do.
		return
	}

	finishedAt := now()
	switch {
	case err != nil:
		msg := err.Error()
		status := model.TrialFailed
		c.updateTrial(ctx, trialID, store.TrialPatch{Status: &status, ErrorMessage: &msg, FinishedAt: &finishedAt})
		c.emit(event.Event{Kind: event.TrialCompleted, StudyID: c.study.ID, Timestamp: now(), TrialID: trialID, TrialIndex: ix, Status: string(status), Message: msg})
	case math.IsNaN(outcome.Score) || math.IsInf(outcome.Score, 0):
		msg := fmt.Sprintf("non-finite score %v", outcome.Score)
		status := model.TrialFailed
		c.updateTrial(ctx, trialID, store.TrialPatch{Status: &status, ErrorMessage: &msg, FinishedAt: &finishedAt})
		c.emit(event.Event{Kind: event.TrialCompleted, StudyID: c.study.ID, Timestamp: now(), TrialID: trialID, TrialIndex: ix, Status: string(status), Message: msg})
	default:
		status := model.TrialSucceeded
		scoreVal := outcome.Score
		c.updateTrial(ctx, trialID, store.TrialPatch{Status: &status, Score: &scoreVal, Metrics: outcome.Metrics, FinishedAt: &finishedAt})
		c.emit(event.Event{Kind: event.TrialCompleted, StudyID: c.study.ID, Timestamp: now(), TrialID: trialID, TrialIndex: ix, Status: string(status), Score: scoreVal, HasScore: true})
	}
}

func (c *Coordinator) trialIDForIndex(ctx context.Context, ix int64) string {
	history, err := c.cfg.Store.ListTrials(ctx, c.study.ID, store.ListFilters{MaxIndex: &ix})
	if err != nil {
		return ""
	}
	for _, t := range history {
		if t.Index == ix {
			return t.ID
		}
	}
	return ""
}

// handleReport records an intermediate observation and consults the
// pruner. A false keep decision marks the trial pruned immediately and
// returns model.Prune so the scoring function can exit promptly.
func (c *Coordinator) handleReport(ctx context.Context, trialID string, bracket, rung int, value float64) model.Signal {
	_ = c.retry(ctx, func() error {
		return c.cfg.Store.RecordObservation(ctx, model.Observation{StudyID: c.study.ID, TrialID: trialID, Bracket: bracket, Rung: rung, Value: value})
	})

	if c.pruner == nil {
		return model.Continue
	}

	scoresSoFar := c.scoresForTrial(ctx, trialID, bracket, rung)
	rungHistory := c.scoresForBracket(ctx, trialID, bracket, rung)

	c.stateMu.Lock()
	keep, pState := c.pruner.Keep(trialID, scoresSoFar, rung, rungHistory, pruner.Context{StudyID: c.study.ID, Goal: c.study.Goal, Bracket: bracket}, c.pState)
	c.pState = pState
	c.stateMu.Unlock()

	c.emit(event.Event{Kind: event.PrunerDecision, StudyID: c.study.ID, Timestamp: now(), TrialID: trialID, Bracket: bracket, Rung: rung, Keep: keep, Score: value, HasScore: true})
	if keep {
		return model.Continue
	}

	status := model.TrialPruned
	finishedAt := now()
	c.updateTrial(ctx, trialID, store.TrialPatch{Status: &status, Score: &value, FinishedAt: &finishedAt})
	c.emit(event.Event{Kind: event.TrialPruned, StudyID: c.study.ID, Timestamp: now(), TrialID: trialID, Bracket: bracket, Rung: rung, Score: value, HasScore: true})
	return model.Prune
}

func (c *Coordinator) scoresForTrial(ctx context.Context, trialID string, bracket, upToRung int) []pruner.ScoreAtRung {
	var out []pruner.ScoreAtRung
	for rung := 0; rung <= upToRung; rung++ {
		vals, err := c.cfg.Store.ObservationsAtRung(ctx, c.study.ID, bracket, rung)
		if err != nil {
			continue
		}
		for _, v := range vals {
			if v.TrialID == trialID {
				out = append(out, pruner.ScoreAtRung{TrialID: trialID, Rung: rung, Value: v.Value})
			}
		}
	}
	return out
}

func (c *Coordinator) scoresForBracket(ctx context.Context, excludeTrialID string, bracket, upToRung int) []pruner.ScoreAtRung {
	var out []pruner.ScoreAtRung
	for rung := 0; rung <= upToRung; rung++ {
		vals, err := c.cfg.Store.ObservationsAtRung(ctx, c.study.ID, bracket, rung)
		if err != nil {
			continue
		}
		for _, v := range vals {
			if v.TrialID == excludeTrialID {
				continue
			}
			out = append(out, pruner.ScoreAtRung{TrialID: v.TrialID, Rung: rung, Value: v.Value})
		}
	}
	return out
}

func (c *Coordinator) updateTrial(ctx context.Context, trialID string, patch store.TrialPatch) {
	_ = c.retry(ctx, func() error { return c.cfg.Store.UpdateTrial(ctx, c.study.ID, trialID, patch) })
}

// Pause blocks new-trial dispatch without disturbing in-flight
// workers (dispatch-only pause).
func (c *Coordinator) Pause(ctx context.Context) error {
	c.pauseMu.Lock()
	c.paused = true
	c.pauseMu.Unlock()
	if err := c.cfg.Store.SetStudyStatus(ctx, c.study.ID, model.StudyPaused); err != nil {
		return err
	}
	c.emit(event.Event{Kind: event.StudyStatusChanged, StudyID: c.study.ID, Timestamp: now(), Status: string(model.StudyPaused)})
	return nil
}

// Resume lifts a prior Pause.
func (c *Coordinator) Resume(ctx context.Context) error {
	c.pauseMu.Lock()
	c.paused = false
	c.pauseMu.Unlock()
	if err := c.cfg.Store.SetStudyStatus(ctx, c.study.ID, model.StudyRunning); err != nil {
		return err
	}
	c.emit(event.Event{Kind: event.StudyStatusChanged, StudyID: c.study.ID, Timestamp: now(), Status: string(model.StudyRunning)})
	return nil
}

func (c *Coordinator) isPaused() bool {
	c.pauseMu.RLock()
	defer c.pauseMu.RUnlock()
	return c.paused
}

// Suggest drives the same dispatch logic as Run's inner loop for
// manual ask-tell mode, returning the trial ID and its params without
// spawning a scoring-function goroutine.
func (c *Coordinator) Suggest(ctx context.Context) (string, map[string]any, error) {
	ix, params, _, _, err := c.dispatchOne(ctx)
	if err != nil {
		return "", nil, err
	}
	trialID := c.trialIDForIndex(ctx, ix)
	return trialID, params, nil
}

// Complete records a manual-mode trial's outcome, the ask-tell
// counterpart to Run's automatic completion handling.
func (c *Coordinator) Complete(ctx context.Context, trialID string, outcome model.Outcome) error {
	finishedAt := now()
	if math.IsNaN(outcome.Score) || math.IsInf(outcome.Score, 0) {
		status := model.TrialFailed
		msg := fmt.Sprintf("non-finite score %v", outcome.Score)
		return c.cfg.Store.UpdateTrial(ctx, c.study.ID, trialID, store.TrialPatch{Status: &status, ErrorMessage: &msg, FinishedAt: &finishedAt})
	}
	status := model.TrialSucceeded
	scoreVal := outcome.Score
	if err := c.cfg.Store.UpdateTrial(ctx, c.study.ID, trialID, store.TrialPatch{Status: &status, Score: &scoreVal, Metrics: outcome.Metrics, FinishedAt: &finishedAt}); err != nil {
		return err
	}
	c.emit(event.Event{Kind: event.TrialCompleted, StudyID: c.study.ID, Timestamp: now(), TrialID: trialID, Status: string(status), Score: scoreVal, HasScore: true})
	return nil
}

// Result is Run's terminal summary.
type Result struct {
	Best   *model.Trial
	Trials model.History
	Status model.StudyStatus
}

func (c *Coordinator) result(ctx context.Context) (*Result, error) {
	history, err := c.cfg.Store.ListTrials(ctx, c.study.ID, store.ListFilters{})
	if err != nil {
		return nil, err
	}
	return &Result{Best: bestOf(history, c.study.Goal), Trials: history, Status: model.StudyCompleted}, nil
}

// BestTrial returns the best succeeded trial by goal, or nil if none
// succeeded yet.
func (c *Coordinator) BestTrial(ctx context.Context) (*model.Trial, error) {
	history, err := c.cfg.Store.ListTrials(ctx, c.study.ID, store.ListFilters{})
	if err != nil {
		return nil, err
	}
	return bestOf(history, c.study.Goal), nil
}

func bestOf(history model.History, goal model.Goal) *model.Trial {
	succeeded := history.Succeeded()
	if len(succeeded) == 0 {
		return nil
	}
	sign := goal.Sign()
	best := succeeded[0]
	for _, t := range succeeded[1:] {
		if sign**t.Score < sign**best.Score {
			best = t
		}
	}
	return best
}

func (c *Coordinator) emit(e event.Event) {
	if c.cfg.Sink == nil {
		return
	}
	c.cfg.Sink.Emit(e)
}

// retry wraps a storage operation with the bounded exponential-backoff
// retry policy for storage-transient errors.
func (c *Coordinator) retry(ctx context.Context, op func() error) error {
	_, err := retryValue(ctx, func() (struct{}, error) { return struct{}{}, op() })
	return err
}

func (c *Coordinator) retryValue(ctx context.Context, op func() (string, error)) (string, error) {
	return retryValue(ctx, op)
}

// retryValue wraps a storage operation with the bounded
// exponential-backoff retry policy for storage-transient errors: at
// most 3 attempts in all (the first call plus 2 retries).
func retryValue[T any](ctx context.Context, op func() (T, error)) (T, error) {
	var result T
	attempt := func() error {
		v, err := op()
		if err != nil {
			if tferrors.IsRetriable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		result = v
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	if err := backoff.Retry(attempt, policy); err != nil {
		var perm *backoff.PermanentError
		if pe, ok := err.(*backoff.PermanentError); ok {
			perm = pe
			return result, perm.Err
		}
		return result, err
	}
	return result, nil
}

func now() time.Time { return time.Now() }
