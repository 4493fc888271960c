// Package sql implements the relational Trial Store adapter: the same
// contract as pkg/store/memory atop a SQL database, reached through
// database/sql with the github.com/jackc/pgx/v5 driver registered via
// its stdlib shim. add_trial runs inside a transaction that locks the
// owning study row and computes the next index from a running counter.
// Terminal-status enforcement is done by the adapter; the schema's CHECK
// constraint only restricts a trial's status to the four legal values
// and does not block a change away from a terminal one.
package sql

import (
	"context"
	dbsql "database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/tuneforge/tuneforge/pkg/model"
	"github.com/tuneforge/tuneforge/pkg/store"
	"github.com/tuneforge/tuneforge/pkg/tferrors"
)

// Store is the relational Trial Store adapter.
type Store struct {
	db *dbsql.DB
}

// Open connects to dsn using the pgx driver, runs pending migrations, and
// returns a ready Store.
func Open(dsn string) (*Store, error) {
	db, err := dbsql.Open("pgx", dsn)
	if err != nil {
		return nil, tferrors.Wrap(tferrors.StoragePermanent, err, "open database")
	}
	return New(db)
}

// New wraps an already-open *sql.DB (e.g. from a shared connection pool)
// and runs pending migrations.
func New(db *dbsql.DB) (*Store, error) {
	if err := applyMigrations(&dbExecer{db: db}); err != nil {
		return nil, tferrors.Wrap(tferrors.StoragePermanent, err, "apply schema migrations")
	}
	return &Store{db: db}, nil
}

// retry wraps a storage call with bounded exponential backoff: transient
// store errors are retried up to 3 attempts before surfacing.
func retry(op func() error) error {
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)
	err := backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if isTransient(err) {
			return err // retried
		}
		return backoff.Permanent(err)
	}, policy)
	if err == nil {
		return nil
	}
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return tferrors.Wrap(tferrors.StorageTransient, err, "storage operation failed after retries")
}

// isTransient classifies connection-level failures as retriable.
// Constraint violations and context cancellation are not retried.
func isTransient(err error) bool {
	if errors.Is(err, dbsql.ErrConnDone) || errors.Is(err, dbsql.ErrTxDone) {
		return true
	}
	var te *tferrors.Error
	if errors.As(err, &te) {
		return false
	}
	return false
}

func (s *Store) PutStudy(ctx context.Context, st *model.Study) error {
	cfg, err := json.Marshal(studyConfig{
		SamplerName: st.SamplerName, SamplerOpts: st.SamplerOpts,
		PrunerName: st.PrunerName, PrunerOpts: st.PrunerOpts,
		Metadata: st.Metadata,
	})
	if err != nil {
		return tferrors.Wrap(tferrors.Validation, err, "marshal study config")
	}
	now := time.Now()
	return retry(func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO studies (id, goal, status, seed, max_trials, parallelism, config_blob, trial_count, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $8)
			ON CONFLICT (id) DO NOTHING
		`, st.ID, string(st.Goal), string(model.StudyPending), int64(st.Seed), st.MaxTrials, st.Parallelism, string(cfg), now)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil || n > 0 {
			return err
		}
		// The study already exists: idempotent on identical content only.
		existing, err := s.GetStudy(ctx, st.ID)
		if err != nil {
			return err
		}
		if existing.Goal != st.Goal || existing.MaxTrials != st.MaxTrials || existing.Parallelism != st.Parallelism || existing.Seed != st.Seed {
			return tferrors.New(tferrors.Validation, "study %q already exists", st.ID)
		}
		return nil
	})
}

type studyConfig struct {
	SamplerName string            `json:"samplerName"`
	SamplerOpts map[string]any    `json:"samplerOpts"`
	PrunerName  string            `json:"prunerName"`
	PrunerOpts  map[string]any    `json:"prunerOpts"`
	Metadata    map[string]string `json:"metadata"`
}

func (s *Store) GetStudy(ctx context.Context, id string) (*model.Study, error) {
	var (
		goal, status, cfgBlob string
		seed                  int64
		maxTrials             int64
		parallelism           int
		createdAt, updatedAt  time.Time
	)
	row := s.db.QueryRowContext(ctx, `
		SELECT goal, status, seed, max_trials, parallelism, config_blob, created_at, updated_at
		FROM studies WHERE id = $1
	`, id)
	if err := row.Scan(&goal, &status, &seed, &maxTrials, &parallelism, &cfgBlob, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, dbsql.ErrNoRows) {
			return nil, tferrors.New(tferrors.Validation, "study %q not found", id)
		}
		return nil, tferrors.Wrap(tferrors.StorageTransient, err, "get study")
	}
	var cfg studyConfig
	_ = json.Unmarshal([]byte(cfgBlob), &cfg)
	return &model.Study{
		ID: id, Goal: model.Goal(goal), Status: model.StudyStatus(status),
		Seed: uint64(seed), MaxTrials: maxTrials, Parallelism: parallelism,
		SamplerName: cfg.SamplerName, SamplerOpts: cfg.SamplerOpts,
		PrunerName: cfg.PrunerName, PrunerOpts: cfg.PrunerOpts,
		Metadata: cfg.Metadata, CreatedAt: createdAt, UpdatedAt: updatedAt,
	}, nil
}

func (s *Store) SetStudyStatus(ctx context.Context, id string, status model.StudyStatus) error {
	return retry(func() error {
		current, err := s.GetStudy(ctx, id)
		if err != nil {
			return err
		}
		if !current.Status.CanTransitionTo(status) {
			return tferrors.New(tferrors.Logic, "illegal study transition %s -> %s", current.Status, status)
		}
		_, err = s.db.ExecContext(ctx, `UPDATE studies SET status = $1, updated_at = $2 WHERE id = $3`,
			string(status), time.Now(), id)
		return err
	})
}

func (s *Store) DeleteStudy(ctx context.Context, id string) error {
	return retry(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if _, err := tx.ExecContext(ctx, `DELETE FROM observations WHERE study_id = $1`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM trials WHERE study_id = $1`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM studies WHERE id = $1`, id); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// AddTrial runs inside a transaction that locks the study row, reads the
// running trial_count as the next index, inserts the trial, and bumps
// the counter — giving linearizable index allocation under concurrent
// callers via the database's row lock rather than an in-process mutex.
func (s *Store) AddTrial(ctx context.Context, studyID string, t *model.Trial) (string, error) {
	var assignedID string
	err := retry(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var index int64
		row := tx.QueryRowContext(ctx, `SELECT trial_count FROM studies WHERE id = $1 FOR UPDATE`, studyID)
		if err := row.Scan(&index); err != nil {
			if errors.Is(err, dbsql.ErrNoRows) {
				return tferrors.New(tferrors.Validation, "study %q not found", studyID)
			}
			return err
		}

		id := t.ID
		if id == "" {
			id = fmt.Sprintf("%s-t%d", studyID, index)
		}
		paramsBlob, err := json.Marshal(t.Params)
		if err != nil {
			return tferrors.Wrap(tferrors.Validation, err, "marshal trial params")
		}
		metricsBlob, err := json.Marshal(t.Metrics)
		if err != nil {
			return tferrors.Wrap(tferrors.Validation, err, "marshal trial metrics")
		}
		started := t.StartedAt
		if started.IsZero() {
			started = time.Now()
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO trials (id, study_id, index_, status, bracket, rung, params_blob, score, metrics_blob, error_message, seed, started_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`, id, studyID, index, string(t.Status), t.Bracket, t.Rung, string(paramsBlob), nullableScore(t.Score), string(metricsBlob), t.ErrorMessage, int64(t.Seed), started); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE studies SET trial_count = trial_count + 1 WHERE id = $1`, studyID); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}

		t.ID = id
		t.StudyID = studyID
		t.Index = index
		t.StartedAt = started
		assignedID = id
		return nil
	})
	return assignedID, err
}

func nullableScore(score *float64) any {
	if score == nil {
		return nil
	}
	return *score
}

func (s *Store) UpdateTrial(ctx context.Context, studyID, trialID string, patch store.TrialPatch) error {
	return retry(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var status string
		row := tx.QueryRowContext(ctx, `SELECT status FROM trials WHERE id = $1 AND study_id = $2 FOR UPDATE`, trialID, studyID)
		if err := row.Scan(&status); err != nil {
			if errors.Is(err, dbsql.ErrNoRows) {
				return tferrors.New(tferrors.Validation, "trial %q not found", trialID)
			}
			return err
		}
		if model.TrialStatus(status).Terminal() {
			return tferrors.New(tferrors.Logic, "trial %q is already terminal (%s)", trialID, status)
		}

		if patch.Status != nil {
			if _, err := tx.ExecContext(ctx, `UPDATE trials SET status = $1 WHERE id = $2`, string(*patch.Status), trialID); err != nil {
				return err
			}
		}
		if patch.Score != nil {
			if _, err := tx.ExecContext(ctx, `UPDATE trials SET score = $1 WHERE id = $2`, *patch.Score, trialID); err != nil {
				return err
			}
		}
		if patch.Metrics != nil {
			blob, err := json.Marshal(patch.Metrics)
			if err != nil {
				return tferrors.Wrap(tferrors.Validation, err, "marshal trial metrics")
			}
			if _, err := tx.ExecContext(ctx, `UPDATE trials SET metrics_blob = $1 WHERE id = $2`, string(blob), trialID); err != nil {
				return err
			}
		}
		if patch.ErrorMessage != nil {
			if _, err := tx.ExecContext(ctx, `UPDATE trials SET error_message = $1 WHERE id = $2`, *patch.ErrorMessage, trialID); err != nil {
				return err
			}
		}
		if patch.FinishedAt != nil {
			if _, err := tx.ExecContext(ctx, `UPDATE trials SET finished_at = $1 WHERE id = $2`, *patch.FinishedAt, trialID); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

func (s *Store) FetchTrial(ctx context.Context, studyID, trialID string) (*model.Trial, error) {
	return scanTrial(s.db.QueryRowContext(ctx, trialSelect+` WHERE id = $1 AND study_id = $2`, trialID, studyID))
}

const trialSelect = `
	SELECT id, study_id, index_, status, bracket, rung, params_blob, score, metrics_blob, error_message, seed, started_at, finished_at
	FROM trials
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrial(row rowScanner) (*model.Trial, error) {
	var (
		id, studyID, status, paramsBlob, metricsBlob, errMsg string
		index                                                int64
		bracket, rung                                        int
		score                                                dbsql.NullFloat64
		seed                                                  int64
		startedAt                                             time.Time
		finishedAt                                            dbsql.NullTime
	)
	if err := row.Scan(&id, &studyID, &index, &status, &bracket, &rung, &paramsBlob, &score, &metricsBlob, &errMsg, &seed, &startedAt, &finishedAt); err != nil {
		if errors.Is(err, dbsql.ErrNoRows) {
			return nil, tferrors.New(tferrors.Validation, "trial not found")
		}
		return nil, tferrors.Wrap(tferrors.StorageTransient, err, "fetch trial")
	}
	t := &model.Trial{
		ID: id, StudyID: studyID, Index: index, Status: model.TrialStatus(status),
		Bracket: bracket, Rung: rung, ErrorMessage: errMsg, Seed: uint64(seed), StartedAt: startedAt,
	}
	_ = json.Unmarshal([]byte(paramsBlob), &t.Params)
	_ = json.Unmarshal([]byte(metricsBlob), &t.Metrics)
	if score.Valid {
		v := score.Float64
		t.Score = &v
	}
	if finishedAt.Valid {
		v := finishedAt.Time
		t.FinishedAt = &v
	}
	return t, nil
}

func (s *Store) ListTrials(ctx context.Context, studyID string, filters store.ListFilters) (model.History, error) {
	query := trialSelect + ` WHERE study_id = $1`
	args := []any{studyID}
	if len(filters.Status) > 0 {
		query += ` AND status = ANY($2)`
		statuses := make([]string, len(filters.Status))
		for i, st := range filters.Status {
			statuses[i] = string(st)
		}
		args = append(args, statuses)
	}
	query += ` ORDER BY index_ ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, tferrors.Wrap(tferrors.StorageTransient, err, "list trials")
	}
	defer rows.Close()

	var out model.History
	for rows.Next() {
		t, err := scanTrial(rows)
		if err != nil {
			return nil, err
		}
		if filters.MaxIndex != nil && t.Index > *filters.MaxIndex {
			continue
		}
		if filters.Bracket != nil && t.Bracket != *filters.Bracket {
			continue
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) RecordObservation(ctx context.Context, o model.Observation) error {
	return retry(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO observations (study_id, trial_id, bracket, rung, value)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (trial_id, rung) DO UPDATE SET value = EXCLUDED.value
		`, o.StudyID, o.TrialID, o.Bracket, o.Rung, o.Value)
		return err
	})
}

func (s *Store) ObservationsAtRung(ctx context.Context, studyID string, bracket, rung int) ([]store.RungValue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trial_id, value FROM observations
		WHERE study_id = $1 AND bracket = $2 AND rung = $3
	`, studyID, bracket, rung)
	if err != nil {
		return nil, tferrors.Wrap(tferrors.StorageTransient, err, "observations at rung")
	}
	defer rows.Close()

	var out []store.RungValue
	for rows.Next() {
		var rv store.RungValue
		if err := rows.Scan(&rv.TrialID, &rv.Value); err != nil {
			return nil, err
		}
		out = append(out, rv)
	}
	return out, rows.Err()
}

var _ store.Store = (*Store)(nil)
