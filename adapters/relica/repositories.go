package relica

import (
	"database/sql"

	"github.com/coregx/messagehub"
)

const defaultTablePrefix = "messagehub_"

// Repositories holds all repository implementations.
type Repositories struct {
	Cabinet   *CabinetStorage
	Sequences messagehub.SequenceAllocator
	Bundles   messagehub.BundleRepository
}

// NewRepositories creates all repository implementations using Relica.
//
// The db parameter should be an *sql.DB connected to MySQL, PostgreSQL, or SQLite.
// The driverName should be "mysql", "postgres", or "sqlite3".
// The table prefix defaults to "messagehub_" but can be customized.
func NewRepositories(db *sql.DB, driverName string) *Repositories {
	return NewRepositoriesWithPrefix(db, driverName, defaultTablePrefix)
}

// NewRepositoriesWithPrefix creates all repository implementations with a custom table prefix.
func NewRepositoriesWithPrefix(db *sql.DB, driverName, prefix string) *Repositories {
	return &Repositories{
		Cabinet:   NewCabinetStorageWithPrefix(db, driverName, prefix),
		Sequences: NewSequenceAllocatorWithPrefix(db, driverName, prefix),
		Bundles:   NewBundleRepositoryWithPrefix(db, driverName, prefix),
	}
}
