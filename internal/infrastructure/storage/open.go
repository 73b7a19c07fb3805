package storage

import (
	"fmt"

	"github.com/vitos/volume_anomaly_bot/internal/domain"
)

const (
	DriverSQLite = "sqlite"
	DriverFile   = "file"
)

// Open returns the repository for driver: a SQLite database file or a directory of JSON snapshots.
func Open(driver, path string) (domain.StateRepository, error) {
	switch driver {
	case DriverSQLite:
		return NewSQLiteStore(path)
	case DriverFile:
		return NewFileStore(path)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
