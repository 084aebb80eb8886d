package relica_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coregx/eventing"
	"github.com/coregx/eventing/adapters/relica"
	"github.com/coregx/eventing/adapters/sqlite"
	"github.com/coregx/eventing/model"
)

var start = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type ledgerFixture struct {
	ctx    context.Context
	db     *sql.DB
	store  *eventing.Store
	ledger *relica.LedgerRepository
	now    time.Time
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()

	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "ledger.db")+"?_busy_timeout=5000")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	f := &ledgerFixture{ctx: context.Background(), db: db, now: start}
	require.NoError(t, eventing.ApplyMigrations(f.ctx, db, sqlite.DriverName, model.DefaultTablePrefix))

	f.store, err = eventing.NewStore(
		eventing.WithDB(db),
		eventing.WithDialect(sqlite.New()),
		eventing.WithClock(func() time.Time { return f.now }),
	)
	require.NoError(t, err)

	f.ledger = relica.NewLedgerRepository(db, sqlite.DriverName)
	return f
}

// publish fans one event out to every subscription of the topic.
func (f *ledgerFixture) publish(t *testing.T, topic, payload string) {
	t.Helper()
	p, err := eventing.NewPublisher(
		eventing.WithPublicationStore(f.store),
		eventing.WithPublisherClock(func() time.Time { return f.now }),
	)
	require.NoError(t, err)
	_, err = p.Publish(f.ctx, eventing.PublishRequest{TopicName: topic, Payload: payload})
	require.NoError(t, err)
}

func (f *ledgerFixture) leaseOne(t *testing.T, subscription string) model.ConsumableEvent {
	t.Helper()
	events, err := f.store.ConsumeNext(f.ctx, nil, subscription, time.Minute, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	return events[0]
}

func (f *ledgerFixture) seed(t *testing.T) (billing, audit model.Subscription) {
	t.Helper()

	topic := model.NewTopic("orders", "")
	require.NoError(t, f.store.AddOrUpdateTopic(f.ctx, nil, &topic))

	billing = model.NewSubscription("billing")
	billing.Link(topic.ID)
	require.NoError(t, f.store.AddOrUpdateSubscription(f.ctx, nil, &billing))

	audit = model.NewSubscription("audit")
	audit.Link(topic.ID)
	require.NoError(t, f.store.AddOrUpdateSubscription(f.ctx, nil, &audit))

	f.publish(t, "orders", "first")
	f.now = f.now.Add(time.Minute)
	f.publish(t, "orders", "second")

	for i := 0; i < 2; i++ {
		f.now = f.now.Add(time.Minute)
		e := f.leaseOne(t, "billing")
		require.NoError(t, f.store.MarkConsumed(f.ctx, nil, e.ID, e.DeliveryKey))
	}

	f.now = f.now.Add(time.Minute)
	e := f.leaseOne(t, "audit")
	require.NoError(t, f.store.MarkFailed(f.ctx, nil, e.ID, e.DeliveryKey,
		model.Reason{Type: model.ReasonRejected, Text: "bad order"}))

	return billing, audit
}

func TestLedgerRepository_ListAndStats(t *testing.T) {
	f := newLedgerFixture(t)
	billing, audit := f.seed(t)

	consumed, err := f.ledger.ListConsumed(f.ctx, billing.ID, 0)
	require.NoError(t, err)
	require.Len(t, consumed, 2)
	assert.True(t, consumed[0].ConsumedDateUtc.After(consumed[1].ConsumedDateUtc), "newest first")
	assert.Equal(t, billing.ID, consumed[0].SubscriptionID)

	consumed, err = f.ledger.ListConsumed(f.ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, consumed, 1)

	consumed, err = f.ledger.ListConsumed(f.ctx, audit.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, consumed)

	failed, err := f.ledger.ListFailed(f.ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, audit.ID, failed[0].SubscriptionID)
	assert.Equal(t, model.ReasonRejected, failed[0].Reason)
	assert.Equal(t, "bad order", failed[0].ReasonOther.String)

	stats, err := f.ledger.Stats(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, model.LedgerStats{Pending: 1, Consumed: 2, Failed: 1, Payloads: 2}, stats)
}

func TestLedgerRepository_Purge(t *testing.T) {
	f := newLedgerFixture(t)
	f.seed(t)

	// consumed at start+2m and start+3m, failed at start+4m
	n, err := f.ledger.PurgeConsumedBefore(f.ctx, start.Add(150*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = f.ledger.PurgeFailedBefore(f.ctx, start.Add(4*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = f.ledger.PurgeFailedBefore(f.ctx, start.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// audit still has the second event pending
	n, err = f.ledger.PurgeTopicEventsBefore(f.ctx, start.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = f.ledger.DeleteOrphanedPayloads(f.ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	stats, err := f.ledger.Stats(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, model.LedgerStats{Pending: 1, Consumed: 1, Failed: 0, Payloads: 1}, stats)
}

func TestNewRepositories(t *testing.T) {
	f := newLedgerFixture(t)

	repos := relica.NewRepositoriesWithPrefix(f.db, sqlite.DriverName, model.DefaultTablePrefix)
	require.NotNil(t, repos.Ledger)

	stats, err := repos.Ledger.Stats(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, model.LedgerStats{}, stats)
}
