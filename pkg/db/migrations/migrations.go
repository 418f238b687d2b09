// Package migrations holds the schema of the run history database.
package migrations

import (
	"github.com/jingkaihe/skillgate/pkg/db"
)

// All returns every migration. Append new ones at the end.
func All() []db.Migration {
	return []db.Migration{
		Migration20261018090000CreateRuns(),
		Migration20261018090001AddRunsIndexes(),
	}
}
