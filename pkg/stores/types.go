package stores

import (
	"time"

	"github.com/openfroyo/pkgctl/pkg/engine"
)

// PackageRecord is one row of the package registry table.
type PackageRecord struct {
	ID           string
	Version      string
	State        engine.LifecycleState
	Dependencies []string
	UpdatedAt    time.Time
}

// Config holds SQLite store configuration.
type Config struct {
	// Path is the database file, or ":memory:" for a private in-memory database.
	Path string

	// BusyTimeout bounds how long a writer waits for a locked database.
	BusyTimeout time.Duration

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

const memoryPath = ":memory:"
