// Package sqlserver provides the eventing.Dialect for Microsoft SQL Server.
//
// The package does not import a driver. Error classification relies on the
// SQLErrorNumber method that github.com/microsoft/go-mssqldb errors expose,
// so any driver offering it works.
package sqlserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/coregx/eventing"
	"github.com/coregx/eventing/model"
)

// DriverName is the database/sql driver name of go-mssqldb.
const DriverName = "sqlserver"

// Server error numbers treated as transient.
const (
	errDeadlockVictim   = 1205
	errLockRequestLimit = 1222
)

// numberedError is implemented by SQL Server driver errors.
type numberedError interface {
	SQLErrorNumber() int32
}

// Dialect implements eventing.Dialect and eventing.Rebinder for SQL Server.
type Dialect struct {
	eventing.BaseDialect
}

// New creates a SQL Server dialect.
func New() *Dialect {
	return &Dialect{}
}

// Name implements eventing.Dialect.
func (d *Dialect) Name() string { return DriverName }

// ResultLimitClause uses TOP, which goes right after SELECT.
func (d *Dialect) ResultLimitClause(limit int) (string, eventing.LimitPlacement) {
	return fmt.Sprintf("TOP (%d)", limit), eventing.LimitInSelector
}

// IsRetryable reports deadlock victims and lock timeouts as transient.
func (d *Dialect) IsRetryable(err error, _ int) bool {
	var nerr numberedError
	if !errors.As(err, &nerr) {
		return false
	}
	n := nerr.SQLErrorNumber()
	return n == errDeadlockVictim || n == errLockRequestLimit
}

// Rebind rewrites "?" placeholders to @p1, @p2, ...
func (d *Dialect) Rebind(query string) string {
	return eventing.RebindNumbered(query, "@p")
}

// UpsertLastConsumed implements eventing.Dialect with MERGE, which reports
// one affected row for either branch.
func (d *Dialect) UpsertLastConsumed(ctx context.Context, exec eventing.Execer, table string, lc model.LastConsumedSubscriptionEvent) (int64, error) {
	return exec.Exec(ctx,
		"MERGE "+table+" WITH (HOLDLOCK) AS target"+
			" USING (SELECT ? AS subscription_id, ? AS functional_key, ? AS publication_date_utc) AS source"+
			" ON target.subscription_id = source.subscription_id AND target.functional_key = source.functional_key"+
			" WHEN MATCHED THEN UPDATE SET publication_date_utc = source.publication_date_utc"+
			" WHEN NOT MATCHED THEN INSERT (subscription_id, functional_key, publication_date_utc)"+
			" VALUES (source.subscription_id, source.functional_key, source.publication_date_utc);",
		lc.SubscriptionID, lc.FunctionalKey, lc.PublicationDateUtc)
}

var (
	_ eventing.Dialect  = (*Dialect)(nil)
	_ eventing.Rebinder = (*Dialect)(nil)
)
