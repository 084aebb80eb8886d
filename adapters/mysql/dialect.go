// Package mysql provides the eventing.Dialect for MySQL and MariaDB through
// github.com/go-sql-driver/mysql.
//
// The store needs parseTime=true to scan DATETIME columns and
// clientFoundRows=true so that conditional updates report matched rather than
// changed rows. Config sets both:
//
//	dsn := mysql.Config("broker:secret@tcp(localhost:3306)/broker")
package mysql

import (
	"context"
	"errors"
	"time"

	driver "github.com/go-sql-driver/mysql"

	"github.com/coregx/eventing"
	"github.com/coregx/eventing/model"
)

// DriverName is the database/sql driver name registered by go-sql-driver/mysql.
const DriverName = "mysql"

// Server error numbers treated as transient.
const (
	errLockDeadlock    = 1213 // ER_LOCK_DEADLOCK
	errLockWaitTimeout = 1205 // ER_LOCK_WAIT_TIMEOUT
)

// Dialect implements eventing.Dialect for MySQL.
type Dialect struct {
	eventing.BaseDialect
}

// New creates a MySQL dialect.
func New() *Dialect {
	return &Dialect{}
}

// Name implements eventing.Dialect.
func (d *Dialect) Name() string { return DriverName }

// IsRetryable reports deadlocks and lock wait timeouts as transient.
func (d *Dialect) IsRetryable(err error, _ int) bool {
	var merr *driver.MySQLError
	if !errors.As(err, &merr) {
		return false
	}
	return merr.Number == errLockDeadlock || merr.Number == errLockWaitTimeout
}

// UpsertLastConsumed implements eventing.Dialect with INSERT ... ON DUPLICATE
// KEY UPDATE, which reports 1 for an insert and 2 for an update.
func (d *Dialect) UpsertLastConsumed(ctx context.Context, exec eventing.Execer, table string, lc model.LastConsumedSubscriptionEvent) (int64, error) {
	return exec.Exec(ctx,
		"INSERT INTO "+table+" (subscription_id, functional_key, publication_date_utc) VALUES (?, ?, ?)"+
			" ON DUPLICATE KEY UPDATE publication_date_utc = VALUES(publication_date_utc)",
		lc.SubscriptionID, lc.FunctionalKey, lc.PublicationDateUtc)
}

// Config parses dsn and returns it with the settings the store relies on:
// parseTime, clientFoundRows and UTC as the connection time zone.
func Config(dsn string) (string, error) {
	cfg, err := driver.ParseDSN(dsn)
	if err != nil {
		return "", eventing.NewErrorWithCause(eventing.ErrCodeConfiguration, "invalid mysql dsn", err)
	}
	cfg.ParseTime = true
	cfg.ClientFoundRows = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN(), nil
}

var _ eventing.Dialect = (*Dialect)(nil)
