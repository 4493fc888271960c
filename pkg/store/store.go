// Package store defines the Trial Store contract: the single source of
// truth for studies, trials, and their intermediate observations. Every
// adapter (in-memory, relational) implements the same interface; the
// coordinator is the sole initiator of writes, samplers and pruners read
// only.
package store

import (
	"context"
	"time"

	"github.com/tuneforge/tuneforge/pkg/model"
)

// TrialPatch updates a subset of trial fields. Nil fields are left
// unchanged. Patches to an already-terminal trial are rejected.
type TrialPatch struct {
	Status       *model.TrialStatus
	Score        *float64
	Metrics      map[string]float64
	ErrorMessage *string
	FinishedAt   *time.Time
}

// ListFilters narrows list_trials results.
type ListFilters struct {
	// Status, if non-empty, restricts results to trials with one of the
	// given statuses.
	Status []model.TrialStatus
	// MaxIndex, if non-nil, restricts results to trials with Index <=
	// *MaxIndex.
	MaxIndex *int64
	// Bracket, if non-nil, restricts results to trials with this bracket.
	Bracket *int
}

// Matches reports whether t satisfies the filter set.
func (f ListFilters) Matches(t *model.Trial) bool {
	if len(f.Status) > 0 {
		found := false
		for _, s := range f.Status {
			if t.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.MaxIndex != nil && t.Index > *f.MaxIndex {
		return false
	}
	if f.Bracket != nil && t.Bracket != *f.Bracket {
		return false
	}
	return true
}

// RungValue is one entry returned by ObservationsAtRung.
type RungValue struct {
	TrialID string
	Value   float64
}

// Store is the pluggable persistence contract every adapter satisfies.
// All methods are safe for concurrent use; concurrent AddTrial calls for
// the same study are serialized so index allocation is linearizable.
type Store interface {
	PutStudy(ctx context.Context, s *model.Study) error
	GetStudy(ctx context.Context, id string) (*model.Study, error)
	SetStudyStatus(ctx context.Context, id string, status model.StudyStatus) error
	DeleteStudy(ctx context.Context, id string) error

	// AddTrial assigns a dense, gap-free index and persists the trial,
	// returning its assigned ID (t.ID, if already set, or a generated
	// one).
	AddTrial(ctx context.Context, studyID string, t *model.Trial) (string, error)
	UpdateTrial(ctx context.Context, studyID, trialID string, patch TrialPatch) error
	FetchTrial(ctx context.Context, studyID, trialID string) (*model.Trial, error)
	ListTrials(ctx context.Context, studyID string, filters ListFilters) (model.History, error)

	RecordObservation(ctx context.Context, o model.Observation) error
	ObservationsAtRung(ctx context.Context, studyID string, bracket, rung int) ([]RungValue, error)
}
