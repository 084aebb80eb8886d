package relica

import (
	"database/sql"

	"github.com/coregx/eventing"
	"github.com/coregx/eventing/model"
)

// Repositories holds all repository implementations.
type Repositories struct {
	Ledger eventing.LedgerRepository
}

// NewRepositories creates all repository implementations using Relica.
//
// The db parameter should be an *sql.DB connected to MySQL, PostgreSQL, or SQLite.
// The driverName should be "mysql", "postgres", or "sqlite3".
// Tables use the default "eventing_" prefix.
func NewRepositories(db *sql.DB, driverName string) *Repositories {
	return NewRepositoriesWithPrefix(db, driverName, model.DefaultTablePrefix)
}

// NewRepositoriesWithPrefix creates all repository implementations with a custom table prefix.
func NewRepositoriesWithPrefix(db *sql.DB, driverName, prefix string) *Repositories {
	return &Repositories{
		Ledger: NewLedgerRepositoryWithPrefix(db, driverName, prefix),
	}
}
