package sql

import (
	dbsql "database/sql"
	"strings"
)

// execer opens a migration transaction. It exists so schema.go's
// applyMigrations can be unit tested against any *sql.DB without
// depending on a live Postgres instance beyond what database/sql itself
// requires.
type execer interface {
	begin() (migrationTx, error)
}

type migrationTx interface {
	exec(stmt string) error
	currentVersion() (int, error)
	setVersion(v int) error
	commit() error
	rollback() error
}

type dbExecer struct {
	db *dbsql.DB
}

func (d *dbExecer) begin() (migrationTx, error) {
	tx, err := d.db.Begin()
	if err != nil {
		return nil, err
	}
	return &sqlMigrationTx{tx: tx}, nil
}

type sqlMigrationTx struct {
	tx   *dbsql.Tx
	done bool
}

// exec splits a migration batch into individual statements before
// running them: pgx's stdlib driver, unlike lib/pq, does not execute
// multiple semicolon-separated commands from a single Exec call.
func (t *sqlMigrationTx) exec(batch string) error {
	for _, stmt := range strings.Split(batch, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := t.tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (t *sqlMigrationTx) currentVersion() (int, error) {
	// The version table itself may not exist yet on a brand-new
	// database. It is created here first, since a failed query would
	// abort the whole transaction; an empty table means "start from 0".
	if _, err := t.tx.Exec(`CREATE TABLE IF NOT EXISTS tuneforge_schema_version (version INTEGER NOT NULL)`); err != nil {
		return 0, err
	}
	var v int
	row := t.tx.QueryRow(`SELECT version FROM tuneforge_schema_version ORDER BY version DESC LIMIT 1`)
	if err := row.Scan(&v); err != nil {
		return 0, nil
	}
	return v, nil
}

func (t *sqlMigrationTx) setVersion(v int) error {
	_, err := t.tx.Exec(`INSERT INTO tuneforge_schema_version (version) VALUES ($1)`, v)
	return err
}

func (t *sqlMigrationTx) commit() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Commit()
}

func (t *sqlMigrationTx) rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Rollback()
}
