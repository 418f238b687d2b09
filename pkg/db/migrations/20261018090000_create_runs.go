package migrations

import (
	"database/sql"

	"github.com/pkg/errors"

	"github.com/jingkaihe/skillgate/pkg/db"
)

// Migration20261018090000CreateRuns creates the runs table.
func Migration20261018090000CreateRuns() db.Migration {
	return db.Migration{
		Version:     20261018090000,
		Description: "Create runs table",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS runs (
					id TEXT PRIMARY KEY,
					target TEXT NOT NULL,
					started_at DATETIME NOT NULL,
					finished_at DATETIME,
					status TEXT NOT NULL,
					decision TEXT NOT NULL DEFAULT '',
					exit_code INTEGER,
					pid INTEGER NOT NULL,
					report_json TEXT
				)
			`)
			return errors.Wrap(err, "failed to create runs table")
		},
		Down: func(tx *sql.Tx) error {
			_, err := tx.Exec("DROP TABLE IF EXISTS runs")
			return errors.Wrap(err, "failed to drop runs table")
		},
	}
}
