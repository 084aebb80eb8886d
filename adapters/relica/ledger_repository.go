package relica

import (
	"context"
	"database/sql"
	"time"

	"github.com/coregx/eventing"
	"github.com/coregx/eventing/model"
	"github.com/coregx/relica"
)

const (
	defaultListLimit = 100
	purgeBatchSize   = 500
)

// LedgerRepository implements eventing.LedgerRepository using Relica.
type LedgerRepository struct {
	db          *relica.DB
	tablePrefix string
}

// NewLedgerRepository creates a new LedgerRepository with default table prefix.
func NewLedgerRepository(sqlDB *sql.DB, driverName string) *LedgerRepository {
	return NewLedgerRepositoryWithPrefix(sqlDB, driverName, model.DefaultTablePrefix)
}

// NewLedgerRepositoryWithPrefix creates a new LedgerRepository with custom table prefix.
func NewLedgerRepositoryWithPrefix(sqlDB *sql.DB, driverName, prefix string) *LedgerRepository {
	return &LedgerRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: prefix}
}

func (r *LedgerRepository) table(base string) string {
	return r.tablePrefix + base
}

func listLimit(limit int) int64 {
	if limit <= 0 {
		return defaultListLimit
	}
	return int64(limit)
}

// ListConsumed returns the newest consumed events, optionally for one subscription.
func (r *LedgerRepository) ListConsumed(ctx context.Context, subscriptionID string, limit int) ([]model.ConsumedSubscriptionEvent, error) {
	var events []model.ConsumedSubscriptionEvent
	var err error

	if subscriptionID == "" {
		err = r.db.WithContext(ctx).Select("*").
			From(r.table(model.TableConsumed)).
			OrderBy("consumed_date_utc DESC").
			Limit(listLimit(limit)).
			All(&events)
	} else {
		err = r.db.WithContext(ctx).Select("*").
			From(r.table(model.TableConsumed)).
			Where("subscription_id = ?", subscriptionID).
			OrderBy("consumed_date_utc DESC").
			Limit(listLimit(limit)).
			All(&events)
	}

	if err != nil {
		return nil, eventing.NewErrorWithCause(eventing.ErrCodeDatabase, "failed to list consumed events", err)
	}
	return events, nil
}

// ListFailed returns the newest failed events, optionally for one subscription.
func (r *LedgerRepository) ListFailed(ctx context.Context, subscriptionID string, limit int) ([]model.FailedSubscriptionEvent, error) {
	var events []model.FailedSubscriptionEvent
	var err error

	if subscriptionID == "" {
		err = r.db.WithContext(ctx).Select("*").
			From(r.table(model.TableFailed)).
			OrderBy("failed_date_utc DESC").
			Limit(listLimit(limit)).
			All(&events)
	} else {
		err = r.db.WithContext(ctx).Select("*").
			From(r.table(model.TableFailed)).
			Where("subscription_id = ?", subscriptionID).
			OrderBy("failed_date_utc DESC").
			Limit(listLimit(limit)).
			All(&events)
	}

	if err != nil {
		return nil, eventing.NewErrorWithCause(eventing.ErrCodeDatabase, "failed to list failed events", err)
	}
	return events, nil
}

// Stats counts rows of the pending, ledger and payload tables.
func (r *LedgerRepository) Stats(ctx context.Context) (model.LedgerStats, error) {
	var stats model.LedgerStats

	counts := []struct {
		table string
		dest  *int64
	}{
		{model.TableSubscriptionEvent, &stats.Pending},
		{model.TableConsumed, &stats.Consumed},
		{model.TableFailed, &stats.Failed},
		{model.TableEventPayload, &stats.Payloads},
	}

	for _, c := range counts {
		err := r.db.WithContext(ctx).Select("COUNT(*)").From(r.table(c.table)).One(c.dest)
		if err != nil {
			return stats, eventing.NewErrorWithCause(eventing.ErrCodeDatabase, "failed to count "+c.table, err)
		}
	}
	return stats, nil
}

// PurgeConsumedBefore deletes consumed ledger rows older than before.
func (r *LedgerRepository) PurgeConsumedBefore(ctx context.Context, before time.Time) (int64, error) {
	return purge(ctx, r, model.TableConsumed, "consumed_date_utc < ?", []interface{}{before.UTC()},
		func(row *model.ConsumedSubscriptionEvent) string { return row.ID })
}

// PurgeFailedBefore deletes failed ledger rows older than before.
func (r *LedgerRepository) PurgeFailedBefore(ctx context.Context, before time.Time) (int64, error) {
	return purge(ctx, r, model.TableFailed, "failed_date_utc < ?", []interface{}{before.UTC()},
		func(row *model.FailedSubscriptionEvent) string { return row.ID })
}

// PurgeTopicEventsBefore deletes topic events published before before that no
// pending subscription event refers to.
func (r *LedgerRepository) PurgeTopicEventsBefore(ctx context.Context, before time.Time) (int64, error) {
	te := r.table(model.TableTopicEvent)
	where := "publication_date_utc < ? AND NOT EXISTS (SELECT 1 FROM " + r.table(model.TableSubscriptionEvent) +
		" se WHERE se.topic_event_id = " + te + ".id)"
	return purge(ctx, r, model.TableTopicEvent, where, []interface{}{before.UTC()},
		func(row *model.TopicEvent) string { return row.ID })
}

// DeleteOrphanedPayloads deletes up to limit payloads referenced neither by a
// topic event nor by a pending subscription event.
func (r *LedgerRepository) DeleteOrphanedPayloads(ctx context.Context, limit int) (int64, error) {
	p := r.table(model.TableEventPayload)

	var orphans []model.EventPayload
	err := r.db.WithContext(ctx).Select("id").
		From(p).
		Where("NOT EXISTS (SELECT 1 FROM "+r.table(model.TableTopicEvent)+" te WHERE te.payload_id = "+p+".id)"+
			" AND NOT EXISTS (SELECT 1 FROM "+r.table(model.TableSubscriptionEvent)+" se WHERE se.payload_id = "+p+".id)").
		OrderBy("id").
		Limit(listLimit(limit)).
		All(&orphans)
	if err != nil {
		return 0, eventing.NewErrorWithCause(eventing.ErrCodeDatabase, "failed to find orphaned payloads", err)
	}

	var deleted int64
	for i := range orphans {
		if err := r.db.WithContext(ctx).Model(&orphans[i]).Table(p).Delete(); err != nil {
			return deleted, eventing.NewErrorWithCause(eventing.ErrCodeDatabase, "failed to delete payload "+orphans[i].ID, err)
		}
		deleted++
	}
	return deleted, nil
}

// purge deletes matching rows page by page through their models until a page
// comes back short.
func purge[T any](ctx context.Context, r *LedgerRepository, base, where string, args []interface{}, id func(*T) string) (int64, error) {
	var deleted int64

	for {
		var rows []T
		err := r.db.WithContext(ctx).Select("id").
			From(r.table(base)).
			Where(where, args...).
			OrderBy("id").
			Limit(purgeBatchSize).
			All(&rows)
		if err != nil {
			return deleted, eventing.NewErrorWithCause(eventing.ErrCodeDatabase, "failed to select "+base+" rows to purge", err)
		}

		for i := range rows {
			if err := r.db.WithContext(ctx).Model(&rows[i]).Table(r.table(base)).Delete(); err != nil {
				return deleted, eventing.NewErrorWithCause(eventing.ErrCodeDatabase,
					"failed to purge "+base+" row "+id(&rows[i]), err)
			}
			deleted++
		}

		if len(rows) < purgeBatchSize {
			return deleted, nil
		}
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
	}
}

var _ eventing.LedgerRepository = (*LedgerRepository)(nil)
