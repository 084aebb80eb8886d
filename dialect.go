package eventing

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/coregx/eventing/model"
)

// LimitPlacement tells where a dialect's result-limit clause goes.
type LimitPlacement int

const (
	// LimitAtEnd appends the clause after ORDER BY (e.g. "LIMIT 10").
	LimitAtEnd LimitPlacement = iota

	// LimitInSelector injects the clause right after SELECT (e.g. "TOP 10").
	LimitInSelector
)

// String returns a readable placement name.
func (p LimitPlacement) String() string {
	if p == LimitInSelector {
		return "in-selector"
	}
	return "at-end"
}

// Execer runs a statement and reports the affected row count.
// *Session implements it.
type Execer interface {
	Exec(ctx context.Context, query string, args ...interface{}) (int64, error)
}

// Dialect isolates every backend-specific piece of SQL the store needs.
// Implementations live under adapters/.
type Dialect interface {
	// Name identifies the dialect ("sqlite3", "mysql", "postgres", "sqlserver").
	Name() string

	// ResultLimitClause returns the row-cap clause for limit and where it goes.
	ResultLimitClause(limit int) (string, LimitPlacement)

	// IsRetryable classifies a storage error as transient.
	// attempt is the 1-based number of the attempt that just failed.
	IsRetryable(err error, attempt int) bool

	// UpsertLastConsumed inserts or updates the last-consumed row for the
	// (subscription, functional key) pair and returns the affected row count.
	// Counts of 1 and 2 are accepted.
	UpsertLastConsumed(ctx context.Context, exec Execer, table string, lc model.LastConsumedSubscriptionEvent) (int64, error)
}

// Rebinder is implemented by dialects whose driver does not accept "?"
// placeholders. Every statement is passed through Rebind before execution.
type Rebinder interface {
	Rebind(query string) string
}

// BaseDialect is the portable default: a trailing LIMIT clause, no retryable
// errors, and an update-then-insert upsert. Adapters embed it and override
// what their backend does differently.
type BaseDialect struct{}

// Name implements Dialect.
func (BaseDialect) Name() string { return "generic" }

// ResultLimitClause implements Dialect.
func (BaseDialect) ResultLimitClause(limit int) (string, LimitPlacement) {
	return fmt.Sprintf("LIMIT %d", limit), LimitAtEnd
}

// IsRetryable implements Dialect. Nothing is retryable by default.
func (BaseDialect) IsRetryable(_ error, _ int) bool { return false }

// UpsertLastConsumed implements Dialect with two statements. It must run
// inside a transaction to be atomic, which MarkConsumed guarantees.
func (BaseDialect) UpsertLastConsumed(ctx context.Context, exec Execer, table string, lc model.LastConsumedSubscriptionEvent) (int64, error) {
	n, err := exec.Exec(ctx,
		"UPDATE "+table+" SET publication_date_utc = ? WHERE subscription_id = ? AND functional_key = ?",
		lc.PublicationDateUtc, lc.SubscriptionID, lc.FunctionalKey)
	if err != nil || n > 0 {
		return n, err
	}
	return exec.Exec(ctx,
		"INSERT INTO "+table+" (subscription_id, functional_key, publication_date_utc) VALUES (?, ?, ?)",
		lc.SubscriptionID, lc.FunctionalKey, lc.PublicationDateUtc)
}

// RebindNumbered rewrites "?" placeholders into numbered ones built by
// marker, e.g. RebindNumbered(q, "$") yields $1, $2, ...
// Question marks inside single-quoted literals are left alone.
func RebindNumbered(query, marker string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inLiteral := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inLiteral = !inLiteral
			b.WriteByte(c)
		case c == '?' && !inLiteral:
			n++
			b.WriteString(marker)
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
