package eventing_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/coregx/eventing"
	"github.com/coregx/eventing/adapters/sqlite"
	"github.com/coregx/eventing/model"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeClock is a settable clock shared by the store and the test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	t     *testing.T
	ctx   context.Context
	db    *sql.DB
	store *eventing.Store
	clock *fakeClock
}

func newFixture(t *testing.T, opts ...eventing.StoreOption) *fixture {
	t.Helper()

	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "eventing.db")+"?_busy_timeout=5000")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	require.NoError(t, eventing.ApplyMigrations(ctx, db, "sqlite3", model.DefaultTablePrefix))

	clock := &fakeClock{now: baseTime}
	base := []eventing.StoreOption{
		eventing.WithDB(db),
		eventing.WithDialect(sqlite.New()),
		eventing.WithClock(clock.Now),
	}
	store, err := eventing.NewStore(append(base, opts...)...)
	require.NoError(t, err)

	return &fixture{t: t, ctx: ctx, db: db, store: store, clock: clock}
}

func (f *fixture) topic(name string) model.Topic {
	f.t.Helper()
	topic := model.NewTopic(name, "")
	require.NoError(f.t, f.store.AddOrUpdateTopic(f.ctx, nil, &topic))
	return topic
}

func (f *fixture) subscription(sub model.Subscription, topicIDs ...string) model.Subscription {
	f.t.Helper()
	for _, id := range topicIDs {
		sub.Link(id)
	}
	require.NoError(f.t, f.store.AddOrUpdateSubscription(f.ctx, nil, &sub))
	return sub
}

// event stores a payload, a topic event and one subscription event published
// at baseTime+offset, and returns the subscription event id.
func (f *fixture) event(sub model.Subscription, topicID, key string, priority int, offset time.Duration) string {
	f.t.Helper()

	payloadID, err := f.store.StorePayload(f.ctx, nil, "payload of "+key)
	require.NoError(f.t, err)

	te := model.TopicEvent{
		TopicID:            topicID,
		FunctionalKey:      sql.NullString{String: key, Valid: key != ""},
		PublicationDateUtc: baseTime.Add(offset),
		Priority:           priority,
		PayloadID:          payloadID,
	}
	require.NoError(f.t, f.store.AddTopicEvent(f.ctx, nil, &te))

	se := model.SubscriptionEvent{
		SubscriptionID:     sub.ID,
		TopicEventID:       te.ID,
		PublicationDateUtc: te.PublicationDateUtc,
		FunctionalKey:      te.FunctionalKey,
		Priority:           priority,
		PayloadID:          payloadID,
	}
	require.NoError(f.t, f.store.AddSubscriptionEvent(f.ctx, nil, &se))
	return se.ID
}

func (f *fixture) candidates(sub model.Subscription, maxCount int) []string {
	f.t.Helper()
	ids, err := f.store.FindConsumableEventsForSubscription(f.ctx, nil, sub, maxCount)
	require.NoError(f.t, err)

	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.ID)
	}
	return out
}

func (f *fixture) lease(id string, previous sql.NullString, key string, visibility time.Duration) bool {
	f.t.Helper()
	locked, err := f.store.TryLockConsumableEvent(f.ctx, nil, id, previous, key, f.clock.Now().Add(visibility))
	require.NoError(f.t, err)
	return locked
}

func (f *fixture) count(table, where string, args ...interface{}) int {
	f.t.Helper()
	query := "SELECT COUNT(*) FROM " + model.DefaultTablePrefix + table
	if where != "" {
		query += " WHERE " + where
	}
	var n int
	require.NoError(f.t, f.db.QueryRowContext(f.ctx, query, args...).Scan(&n))
	return n
}

var noKey = sql.NullString{}

func key(s string) sql.NullString {
	return sql.NullString{String: s, Valid: true}
}
