// Package relica provides the ledger repository built on the Relica query
// builder (github.com/coregx/relica).
//
// The transactional engine in package eventing talks to database/sql
// directly; this package covers the read-mostly and retention side:
// listing consumed and failed events, counting rows, and purging old
// ledger rows, topic events and orphaned payloads.
//
// Example usage:
//
//	import (
//	    "database/sql"
//	    "github.com/coregx/eventing/adapters/relica"
//	    _ "github.com/lib/pq"
//	)
//
//	db, err := sql.Open("postgres", dsn)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	repos := relica.NewRepositories(db, "postgres")
//	stats, err := repos.Ledger.Stats(ctx)
package relica
