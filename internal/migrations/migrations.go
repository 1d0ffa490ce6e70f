package migrations

import (
	"database/sql"
	_ "embed"

	"github.com/goran-ethernal/ChainSync/internal/db"
	"github.com/goran-ethernal/ChainSync/internal/logger"
)

//go:embed 001_sync_status.sql
var mig001 string

//go:embed 002_documents.sql
var mig002 string

//go:embed 003_block_refs.sql
var mig003 string

// All returns the schema migrations in application order.
func All() []db.Migration {
	return []db.Migration{
		{
			ID:  "001_sync_status.sql",
			SQL: mig001,
		},
		{
			ID:  "002_documents.sql",
			SQL: mig002,
		},
		{
			ID:  "003_block_refs.sql",
			SQL: mig003,
		},
	}
}

// RunMigrations brings the sync schema up to date.
func RunMigrations(log *logger.Logger, sqlDB *sql.DB) error {
	return db.RunMigrations(log, sqlDB, All())
}
