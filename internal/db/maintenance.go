package db

import (
	"database/sql"
	"fmt"
	"os"
	"strings"
)

// Vacuum reclaims unused space in the database file. It requires that no
// other connection holds a transaction.
func Vacuum(db *sql.DB) error {
	if _, err := db.Exec("VACUUM"); err != nil {
		if strings.Contains(err.Error(), "database is locked") {
			return fmt.Errorf("cannot vacuum: database is locked (retry later)")
		}
		return fmt.Errorf("vacuum failed: %w", err)
	}
	return nil
}

// WALCheckpoint checkpoints the write-ahead log when the database is in WAL
// journal mode. It is a no-op in other modes.
func WALCheckpoint(db *sql.DB) error {
	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		return fmt.Errorf("failed to check journal mode: %w", err)
	}

	if !strings.EqualFold(mode, "wal") {
		return nil
	}

	var busyCount, logFrames, checkpointedFrames int
	err := db.QueryRow("PRAGMA wal_checkpoint(TRUNCATE)").Scan(&busyCount, &logFrames, &checkpointedFrames)
	if err != nil {
		return fmt.Errorf("failed to execute WAL checkpoint: %w", err)
	}

	return nil
}

// DBTotalSize returns the combined on-disk size of the database file and its
// WAL/SHM side files. Missing files count as zero.
func DBTotalSize(dbPath string) (int64, error) {
	var total int64

	for _, path := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, err
		}
		total += info.Size()
	}

	return total, nil
}
