package sql

// schemaVersion is the current schema version; migrations are applied in
// order up to this version at startup and are never skipped or
// reordered.
const schemaVersion = 1

// migrations holds one DDL statement batch per schema version, as plain
// CREATE TABLE IF NOT EXISTS statements executed one by one inside the
// migration transaction.
var migrations = []string{
	1: `
CREATE TABLE IF NOT EXISTS tuneforge_schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS studies (
	id TEXT PRIMARY KEY,
	goal TEXT NOT NULL,
	status TEXT NOT NULL,
	seed BIGINT NOT NULL,
	max_trials BIGINT NOT NULL,
	parallelism INTEGER NOT NULL,
	config_blob TEXT NOT NULL DEFAULT '{}',
	trial_count BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS trials (
	id TEXT PRIMARY KEY,
	study_id TEXT NOT NULL REFERENCES studies(id),
	index_ BIGINT NOT NULL,
	status TEXT NOT NULL,
	bracket INTEGER NOT NULL DEFAULT 0,
	rung INTEGER NOT NULL DEFAULT 0,
	params_blob TEXT NOT NULL,
	score DOUBLE PRECISION,
	metrics_blob TEXT NOT NULL DEFAULT '{}',
	error_message TEXT NOT NULL DEFAULT '',
	seed BIGINT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	UNIQUE (study_id, index_),
	CHECK (status IN ('running', 'succeeded', 'pruned', 'failed'))
);

CREATE TABLE IF NOT EXISTS observations (
	study_id TEXT NOT NULL,
	trial_id TEXT NOT NULL REFERENCES trials(id),
	bracket INTEGER NOT NULL DEFAULT 0,
	rung INTEGER NOT NULL,
	value DOUBLE PRECISION NOT NULL,
	UNIQUE (trial_id, rung)
);
`,
}

// applyMigrations brings the schema up to schemaVersion inside a single
// transaction, recording the applied version in tuneforge_schema_version.
// Checked and applied once at adapter construction, never on the hot
// path.
func applyMigrations(db execer) error {
	tx, err := db.begin()
	if err != nil {
		return err
	}
	defer tx.rollback()

	current, err := tx.currentVersion()
	if err != nil {
		return err
	}
	for v := current + 1; v <= schemaVersion; v++ {
		if err := tx.exec(migrations[v]); err != nil {
			return err
		}
		if err := tx.setVersion(v); err != nil {
			return err
		}
	}
	return tx.commit()
}
