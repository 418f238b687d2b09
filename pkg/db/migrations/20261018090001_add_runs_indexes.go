package migrations

import (
	"database/sql"

	"github.com/pkg/errors"

	"github.com/jingkaihe/skillgate/pkg/db"
)

// Migration20261018090001AddRunsIndexes indexes runs for listing by time and
// filtering by target or status.
func Migration20261018090001AddRunsIndexes() db.Migration {
	indexes := map[string]string{
		"idx_runs_started_at": "CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC)",
		"idx_runs_target":     "CREATE INDEX IF NOT EXISTS idx_runs_target ON runs(target)",
		"idx_runs_status":     "CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status)",
	}
	return db.Migration{
		Version:     20261018090001,
		Description: "Add indexes to runs",
		Up: func(tx *sql.Tx) error {
			for name, stmt := range indexes {
				if _, err := tx.Exec(stmt); err != nil {
					return errors.Wrapf(err, "failed to create index %s", name)
				}
			}
			return nil
		},
		Down: func(tx *sql.Tx) error {
			for name := range indexes {
				if _, err := tx.Exec("DROP INDEX IF EXISTS " + name); err != nil {
					return errors.Wrapf(err, "failed to drop index %s", name)
				}
			}
			return nil
		},
	}
}
