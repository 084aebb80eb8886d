// Package sqlite provides the eventing.Dialect for github.com/mattn/go-sqlite3.
//
// Open the database with a busy timeout so writers wait for each other
// instead of failing immediately:
//
//	db, err := sql.Open("sqlite3", "broker.db?_busy_timeout=5000")
//	store, err := eventing.NewStore(
//	    eventing.WithDB(db),
//	    eventing.WithDialect(sqlite.New()),
//	)
package sqlite

import (
	"context"
	"errors"

	"github.com/mattn/go-sqlite3"

	"github.com/coregx/eventing"
	"github.com/coregx/eventing/model"
)

// DriverName is the database/sql driver name registered by go-sqlite3.
const DriverName = "sqlite3"

// Dialect implements eventing.Dialect for SQLite.
type Dialect struct {
	eventing.BaseDialect
}

// New creates a SQLite dialect.
func New() *Dialect {
	return &Dialect{}
}

// Name implements eventing.Dialect.
func (d *Dialect) Name() string { return DriverName }

// IsRetryable reports busy and locked database errors as transient.
func (d *Dialect) IsRetryable(err error, _ int) bool {
	var serr sqlite3.Error
	if !errors.As(err, &serr) {
		return false
	}
	return serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked
}

// UpsertLastConsumed implements eventing.Dialect with INSERT ... ON CONFLICT.
// Both branches report one affected row.
func (d *Dialect) UpsertLastConsumed(ctx context.Context, exec eventing.Execer, table string, lc model.LastConsumedSubscriptionEvent) (int64, error) {
	return exec.Exec(ctx,
		"INSERT INTO "+table+" (subscription_id, functional_key, publication_date_utc) VALUES (?, ?, ?)"+
			" ON CONFLICT (subscription_id, functional_key) DO UPDATE SET publication_date_utc = excluded.publication_date_utc",
		lc.SubscriptionID, lc.FunctionalKey, lc.PublicationDateUtc)
}

var _ eventing.Dialect = (*Dialect)(nil)
