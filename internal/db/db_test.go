package db

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skillnet-labs/examchain-backend/internal/config"
	"github.com/skillnet-labs/examchain-backend/internal/logger"
)

func setupTestDB(t *testing.T, journal string) (*sql.DB, string) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "examchain_test.db")

	dbConfig := config.DatabaseConfig{Path: dbPath, JournalMode: journal}
	dbConfig.ApplyDefaults()

	sqlDB, err := NewSQLiteDBFromConfig(dbConfig)
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	_, err = sqlDB.Exec(`CREATE TABLE IF NOT EXISTS test_table (id INTEGER PRIMARY KEY, value TEXT);`)
	require.NoError(t, err)

	for i := range 1000 {
		_, err = sqlDB.Exec(`INSERT INTO test_table (value) VALUES (?);`, fmt.Sprintf("value_%d", i))
		require.NoError(t, err)
	}

	return sqlDB, dbPath
}

func TestVacuum_Modes(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name        string
		journalMode string
	}{
		{name: "WAL", journalMode: "WAL"},
		{name: "NonWAL", journalMode: "TRUNCATE"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			db, dbPath := setupTestDB(t, tc.journalMode)

			initialSize, err := DBTotalSize(dbPath)
			require.NoError(t, err)

			_, err = db.Exec(`DELETE FROM test_table`)
			require.NoError(t, err)

			require.NoError(t, WALCheckpoint(db))
			require.NoError(t, Vacuum(db))

			finalSize, err := DBTotalSize(dbPath)
			require.NoError(t, err)

			require.LessOrEqual(t, finalSize, initialSize)
		})
	}
}

func TestDBTotalSize_MissingFiles(t *testing.T) {
	size, err := DBTotalSize(filepath.Join(t.TempDir(), "no-such.db"))
	require.NoError(t, err)
	require.Zero(t, size)
}

func TestRunMigrationsDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "migrations_test.db")

	sqlDB, err := NewSQLiteDB(dbPath)
	require.NoError(t, err)
	defer sqlDB.Close()

	migrations := []Migration{
		{
			ID: "0001_test",
			SQL: `-- +migrate Down
DROP TABLE things;

-- +migrate Up
CREATE TABLE things (id INTEGER PRIMARY KEY, name TEXT NOT NULL);
`,
		},
	}

	require.NoError(t, RunMigrationsDB(logger.NewNopLogger(), sqlDB, migrations))

	// Re-running is a no-op
	require.NoError(t, RunMigrationsDB(logger.NewNopLogger(), sqlDB, migrations))

	_, err = sqlDB.Exec(`INSERT INTO things (name) VALUES ('one')`)
	require.NoError(t, err)
}

func TestRunMigrationsDB_MissingSeparator(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "bad_migration.db")

	sqlDB, err := NewSQLiteDB(dbPath)
	require.NoError(t, err)
	defer sqlDB.Close()

	err = RunMigrationsDB(logger.NewNopLogger(), sqlDB, []Migration{
		{ID: "0001_bad", SQL: `CREATE TABLE nope (id INTEGER);`},
	})
	require.ErrorContains(t, err, "missing '-- +migrate Up' separator")
}
