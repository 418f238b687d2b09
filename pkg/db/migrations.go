package db

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// Migration is one schema change. Versions are timestamps (YYYYMMDDHHmmss)
// and are applied in ascending order.
type Migration struct {
	Version     int64
	Description string
	Up          func(*sql.Tx) error
	Down        func(*sql.Tx) error
}

// Migrator applies migrations and tracks them in schema_migrations.
type Migrator struct {
	db *sqlx.DB
}

// NewMigrator creates a Migrator for db
func NewMigrator(db *sqlx.DB) *Migrator {
	return &Migrator{db: db}
}

const createMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	description TEXT,
	applied_at DATETIME NOT NULL
)`

func (m *Migrator) init(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, createMigrationsTable)
	return errors.Wrap(err, "failed to create schema_migrations table")
}

// Apply runs every migration not applied yet, each in its own transaction.
func (m *Migrator) Apply(ctx context.Context, migrations []Migration) error {
	if err := m.init(ctx); err != nil {
		return err
	}
	applied, err := m.Applied(ctx)
	if err != nil {
		return err
	}
	done := make(map[int64]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}

	pending := make([]Migration, 0, len(migrations))
	for _, mig := range migrations {
		if !done[mig.Version] {
			pending = append(pending, mig)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Version < pending[j].Version })

	for _, mig := range pending {
		err := m.inTx(ctx, mig.Up, "INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
			mig.Version, mig.Description, time.Now().UTC())
		if err != nil {
			return errors.Wrapf(err, "failed to apply migration %d (%s)", mig.Version, mig.Description)
		}
	}
	return nil
}

// Rollback reverts the most recently applied migration, if any.
func (m *Migrator) Rollback(ctx context.Context, migrations []Migration) error {
	applied, err := m.Applied(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return nil
	}
	latest := applied[len(applied)-1]

	for _, mig := range migrations {
		if mig.Version != latest {
			continue
		}
		if mig.Down == nil {
			return errors.Errorf("migration %d cannot be rolled back", latest)
		}
		return m.inTx(ctx, mig.Down, "DELETE FROM schema_migrations WHERE version = ?", latest)
	}
	return errors.Errorf("migration %d is not known", latest)
}

// Applied returns the applied versions in ascending order.
func (m *Migrator) Applied(ctx context.Context) ([]int64, error) {
	if err := m.init(ctx); err != nil {
		return nil, err
	}
	var versions []int64
	if err := m.db.SelectContext(ctx, &versions, "SELECT version FROM schema_migrations ORDER BY version"); err != nil {
		return nil, errors.Wrap(err, "failed to list applied migrations")
	}
	return versions, nil
}

func (m *Migrator) inTx(ctx context.Context, step func(*sql.Tx) error, bookkeeping string, args ...any) error {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := step(tx.Tx); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, args...); err != nil {
		return errors.Wrap(err, "failed to update schema_migrations")
	}
	return tx.Commit()
}
