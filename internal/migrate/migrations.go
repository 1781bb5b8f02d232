package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

// SchemaVersion is the schema this build reads and writes. Bump it, and add
// a sql/<version>_<name>.sql file, whenever a table's field set changes.
const SchemaVersion = 92

var (
	ErrMigrationRequired = errors.New("store schema is older than this build and no migration hook is configured")
	ErrSchemaAhead       = errors.New("store schema is newer than this build")
)

//go:embed sql/*.sql
var migrationsFS embed.FS

type Migration struct {
	Version int
	Name    string
	UpSQL   string
}

// Hook migrates data in a store written under an older schema. It runs once,
// inside the migration transaction, before the DDL for newer versions.
type Hook func(ctx context.Context, tx *sql.Tx, from, to int) error

type Options struct {
	Hook Hook
	// Target defaults to SchemaVersion.
	Target int
}

// Result describes what Migrate did.
type Result struct {
	From   int
	To     int
	Hooked bool
}

func loadMigrations() ([]Migration, error) {
	files, err := fs.ReadDir(migrationsFS, "sql")
	if err != nil {
		return nil, err
	}
	var migrations []Migration
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		data, err := migrationsFS.ReadFile("sql/" + f.Name())
		if err != nil {
			return nil, err
		}
		var v int
		_, err = fmt.Sscanf(f.Name(), "%d_", &v)
		if err != nil {
			return nil, fmt.Errorf("invalid migration filename %s: %w", f.Name(), err)
		}
		migrations = append(migrations, Migration{
			Version: v,
			Name:    f.Name(),
			UpSQL:   string(data),
		})
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

// Migrate brings the store to the target schema version. A fresh store is
// created at the target. A store at an older version goes through
// opts.Hook exactly once; without a hook it fails with
// ErrMigrationRequired and nothing is changed.
func Migrate(ctx context.Context, db *sql.DB, opts Options) (Result, error) {
	target := opts.Target
	if target == 0 {
		target = SchemaVersion
	}
	migrations, err := loadMigrations()
	if err != nil {
		return Result{}, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version(version INTEGER NOT NULL);`); err != nil {
		return Result{}, fmt.Errorf("create schema_version: %w", err)
	}

	var currentVersion int
	err = tx.QueryRowContext(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&currentVersion)
	if err == sql.ErrNoRows {
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version(version) VALUES (0)`); err != nil {
			return Result{}, fmt.Errorf("init schema_version: %w", err)
		}
		currentVersion = 0
	} else if err != nil {
		return Result{}, fmt.Errorf("read schema_version: %w", err)
	}

	res := Result{From: currentVersion, To: currentVersion}
	if currentVersion > target {
		return res, fmt.Errorf("%w: store=%d build=%d", ErrSchemaAhead, currentVersion, target)
	}
	if currentVersion == target {
		return res, tx.Commit()
	}
	if currentVersion > 0 {
		if opts.Hook == nil {
			return res, fmt.Errorf("%w: store=%d build=%d", ErrMigrationRequired, currentVersion, target)
		}
		if err := opts.Hook(ctx, tx, currentVersion, target); err != nil {
			return res, fmt.Errorf("migration hook %d->%d: %w", currentVersion, target, err)
		}
		res.Hooked = true
	}

	for _, m := range migrations {
		if m.Version <= currentVersion || m.Version > target {
			continue
		}
		if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
			return res, fmt.Errorf("migration %s: %w", m.Name, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE schema_version SET version=?`, target); err != nil {
		return res, fmt.Errorf("update schema_version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return res, err
	}
	res.To = target
	return res, nil
}

// Current returns the version recorded in the store, 0 when none.
func Current(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	err := db.QueryRowContext(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil && isMissingTable(err) {
		return 0, nil
	}
	return v, err
}

func isMissingTable(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "no such table")
}
