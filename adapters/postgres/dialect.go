// Package postgres provides the eventing.Dialect for PostgreSQL through
// github.com/lib/pq.
package postgres

import (
	"context"
	"errors"

	"github.com/lib/pq"

	"github.com/coregx/eventing"
	"github.com/coregx/eventing/model"
)

// DriverName is the database/sql driver name registered by lib/pq.
const DriverName = "postgres"

// SQLSTATE codes treated as transient.
const (
	serializationFailure = "40001"
	deadlockDetected     = "40P01"
)

// Dialect implements eventing.Dialect and eventing.Rebinder for PostgreSQL.
type Dialect struct {
	eventing.BaseDialect
}

// New creates a PostgreSQL dialect.
func New() *Dialect {
	return &Dialect{}
}

// Name implements eventing.Dialect.
func (d *Dialect) Name() string { return DriverName }

// IsRetryable reports serialization failures and deadlocks as transient.
func (d *Dialect) IsRetryable(err error, _ int) bool {
	var perr *pq.Error
	if !errors.As(err, &perr) {
		return false
	}
	return perr.Code == serializationFailure || perr.Code == deadlockDetected
}

// Rebind rewrites "?" placeholders to $1, $2, ...
func (d *Dialect) Rebind(query string) string {
	return eventing.RebindNumbered(query, "$")
}

// UpsertLastConsumed implements eventing.Dialect with INSERT ... ON CONFLICT.
func (d *Dialect) UpsertLastConsumed(ctx context.Context, exec eventing.Execer, table string, lc model.LastConsumedSubscriptionEvent) (int64, error) {
	return exec.Exec(ctx,
		"INSERT INTO "+table+" (subscription_id, functional_key, publication_date_utc) VALUES (?, ?, ?)"+
			" ON CONFLICT (subscription_id, functional_key) DO UPDATE SET publication_date_utc = EXCLUDED.publication_date_utc",
		lc.SubscriptionID, lc.FunctionalKey, lc.PublicationDateUtc)
}

var (
	_ eventing.Dialect  = (*Dialect)(nil)
	_ eventing.Rebinder = (*Dialect)(nil)
)
