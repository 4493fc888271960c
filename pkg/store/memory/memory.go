// Package memory implements an in-process Trial Store adapter: a table
// per study guarded by a read-write mutex. Writes (index allocation,
// status transitions, trial patches, observations) serialize on the
// study's lock; reads take its read lock and return copied snapshots, so
// they are not lock-free, and there is no per-study goroutine. It is
// not durable and is meant for tests, local experimentation, and as the
// reference adapter the relational adapter is contract-tested against.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tuneforge/tuneforge/pkg/model"
	"github.com/tuneforge/tuneforge/pkg/store"
	"github.com/tuneforge/tuneforge/pkg/tferrors"
)

type studyTable struct {
	mu     sync.RWMutex
	study  *model.Study
	trials []*model.Trial // dense, index-ordered
	byID   map[string]int // trial ID -> index into trials
	obs    map[string]map[int]model.Observation // trialID -> rung -> observation
	nextID int64
}

// Store is the in-memory Trial Store adapter.
type Store struct {
	mu      sync.Mutex // guards studies map membership only
	studies map[string]*studyTable
}

// New constructs an empty in-memory Store.
func New() *Store {
	return &Store{studies: make(map[string]*studyTable)}
}

func (s *Store) table(id string) (*studyTable, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.studies[id]
	return t, ok
}

func (s *Store) PutStudy(_ context.Context, st *model.Study) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.studies[st.ID]; ok {
		existing.mu.RLock()
		same := existing.study.Goal == st.Goal &&
			existing.study.MaxTrials == st.MaxTrials &&
			existing.study.Parallelism == st.Parallelism &&
			existing.study.Seed == st.Seed
		existing.mu.RUnlock()
		if same {
			return nil // idempotent on identical content
		}
		return tferrors.New(tferrors.Validation, "study %q already exists", st.ID)
	}
	cp := *st
	cp.Status = model.StudyPending
	s.studies[st.ID] = &studyTable{
		study: &cp,
		byID:  make(map[string]int),
		obs:   make(map[string]map[int]model.Observation),
	}
	return nil
}

func (s *Store) GetStudy(_ context.Context, id string) (*model.Study, error) {
	t, ok := s.table(id)
	if !ok {
		return nil, tferrors.New(tferrors.Validation, "study %q not found", id)
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	cp := *t.study
	return &cp, nil
}

func (s *Store) SetStudyStatus(_ context.Context, id string, status model.StudyStatus) error {
	t, ok := s.table(id)
	if !ok {
		return tferrors.New(tferrors.Validation, "study %q not found", id)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.study.Status.CanTransitionTo(status) {
		return tferrors.New(tferrors.Logic, "illegal study transition %s -> %s", t.study.Status, status)
	}
	t.study.Status = status
	t.study.UpdatedAt = time.Now()
	return nil
}

func (s *Store) DeleteStudy(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.studies, id)
	return nil
}

// AddTrial assigns a dense index under the per-study lock and appends the
// trial. Index allocation is linearizable because every concurrent
// caller contends on the same mutex.
func (s *Store) AddTrial(_ context.Context, studyID string, t *model.Trial) (string, error) {
	tbl, ok := s.table(studyID)
	if !ok {
		return "", tferrors.New(tferrors.Validation, "study %q not found", studyID)
	}
	tbl.mu.Lock()
	defer tbl.mu.Unlock()

	if t.ID == "" {
		tbl.nextID++
		t.ID = fmt.Sprintf("%s-t%d", studyID, tbl.nextID)
	}
	if _, exists := tbl.byID[t.ID]; exists {
		return "", tferrors.New(tferrors.Logic, "trial %q already exists in study %q", t.ID, studyID)
	}

	cp := *t
	cp.StudyID = studyID
	cp.Index = int64(len(tbl.trials))
	tbl.trials = append(tbl.trials, &cp)
	tbl.byID[cp.ID] = len(tbl.trials) - 1
	tbl.obs[cp.ID] = make(map[int]model.Observation)

	*t = cp
	return cp.ID, nil
}

func (s *Store) UpdateTrial(_ context.Context, studyID, trialID string, patch store.TrialPatch) error {
	tbl, ok := s.table(studyID)
	if !ok {
		return tferrors.New(tferrors.Validation, "study %q not found", studyID)
	}
	tbl.mu.Lock()
	defer tbl.mu.Unlock()

	idx, ok := tbl.byID[trialID]
	if !ok {
		return tferrors.New(tferrors.Validation, "trial %q not found", trialID)
	}
	tr := tbl.trials[idx]
	if tr.Status.Terminal() {
		return tferrors.New(tferrors.Logic, "trial %q is already terminal (%s)", trialID, tr.Status)
	}

	if patch.Status != nil {
		tr.Status = *patch.Status
	}
	if patch.Score != nil {
		tr.Score = patch.Score
	}
	if patch.Metrics != nil {
		tr.Metrics = patch.Metrics
	}
	if patch.ErrorMessage != nil {
		tr.ErrorMessage = *patch.ErrorMessage
	}
	if patch.FinishedAt != nil {
		tr.FinishedAt = patch.FinishedAt
	}
	return nil
}

func (s *Store) FetchTrial(_ context.Context, studyID, trialID string) (*model.Trial, error) {
	tbl, ok := s.table(studyID)
	if !ok {
		return nil, tferrors.New(tferrors.Validation, "study %q not found", studyID)
	}
	tbl.mu.RLock()
	defer tbl.mu.RUnlock()
	idx, ok := tbl.byID[trialID]
	if !ok {
		return nil, tferrors.New(tferrors.Validation, "trial %q not found", trialID)
	}
	cp := *tbl.trials[idx]
	return &cp, nil
}

func (s *Store) ListTrials(_ context.Context, studyID string, filters store.ListFilters) (model.History, error) {
	tbl, ok := s.table(studyID)
	if !ok {
		return nil, tferrors.New(tferrors.Validation, "study %q not found", studyID)
	}
	tbl.mu.RLock()
	defer tbl.mu.RUnlock()

	out := make(model.History, 0, len(tbl.trials))
	for _, t := range tbl.trials {
		if !filters.Matches(t) {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (s *Store) RecordObservation(_ context.Context, o model.Observation) error {
	tbl, ok := s.table(o.StudyID)
	if !ok {
		return tferrors.New(tferrors.Validation, "study %q not found", o.StudyID)
	}
	tbl.mu.Lock()
	defer tbl.mu.Unlock()
	if _, ok := tbl.byID[o.TrialID]; !ok {
		return tferrors.New(tferrors.Validation, "trial %q not found", o.TrialID)
	}
	if tbl.obs[o.TrialID] == nil {
		tbl.obs[o.TrialID] = make(map[int]model.Observation)
	}
	tbl.obs[o.TrialID][o.Rung] = o // overwrites silently on same (trial, rung)
	return nil
}

func (s *Store) ObservationsAtRung(_ context.Context, studyID string, bracket, rung int) ([]store.RungValue, error) {
	tbl, ok := s.table(studyID)
	if !ok {
		return nil, tferrors.New(tferrors.Validation, "study %q not found", studyID)
	}
	tbl.mu.RLock()
	defer tbl.mu.RUnlock()

	var out []store.RungValue
	for _, t := range tbl.trials {
		if t.Bracket != bracket {
			continue
		}
		if o, ok := tbl.obs[t.ID][rung]; ok {
			out = append(out, store.RungValue{TrialID: t.ID, Value: o.Value})
		}
	}
	return out, nil
}

var _ store.Store = (*Store)(nil)
