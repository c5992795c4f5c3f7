package migrations

import (
	"database/sql"
	_ "embed"

	"github.com/skillnet-labs/examchain-backend/internal/db"
	"github.com/skillnet-labs/examchain-backend/internal/logger"
)

//go:embed 001_contract_events.sql
var mig001 string

//go:embed 002_domain.sql
var mig002 string

func all() []db.Migration {
	return []db.Migration{
		{
			ID:  "001_contract_events.sql",
			SQL: mig001,
		},
		{
			ID:  "002_domain.sql",
			SQL: mig002,
		},
	}
}

// RunMigrations applies the full schema to the database at dbPath.
func RunMigrations(dbPath string) error {
	return db.RunMigrations(dbPath, all())
}

// RunMigrationsDB applies the full schema to an open database.
func RunMigrationsDB(log *logger.Logger, sqlDB *sql.DB) error {
	return db.RunMigrationsDB(log, sqlDB, all())
}
