package eventing_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coregx/eventing"
	"github.com/coregx/eventing/adapters/sqlite"
	"github.com/coregx/eventing/model"
	"github.com/coregx/eventing/retry"
)

func TestFindConsumable_PriorityThenAge(t *testing.T) {
	f := newFixture(t)
	topic := f.topic("orders")
	sub := f.subscription(model.NewSubscription("audit"), topic.ID)

	low := f.event(sub, topic.ID, "a", 0, -3*time.Minute)
	highNew := f.event(sub, topic.ID, "b", 5, -1*time.Minute)
	highOld := f.event(sub, topic.ID, "c", 5, -2*time.Minute)

	assert.Equal(t, []string{highOld, highNew, low}, f.candidates(sub, 10))
	assert.Equal(t, []string{highOld, highNew}, f.candidates(sub, 2))
	assert.Empty(t, f.candidates(sub, 0))
}

func TestFindConsumable_SkipsDelayedExpiredAndLeased(t *testing.T) {
	f := newFixture(t)
	topic := f.topic("orders")
	sub := f.subscription(model.NewSubscription("audit"), topic.ID)

	payloadID, err := f.store.StorePayload(f.ctx, nil, "{}")
	require.NoError(t, err)

	add := func(mutate func(se *model.SubscriptionEvent)) string {
		se := model.SubscriptionEvent{
			SubscriptionID:     sub.ID,
			TopicEventID:       "te",
			PublicationDateUtc: baseTime.Add(-time.Minute),
			PayloadID:          payloadID,
		}
		mutate(&se)
		require.NoError(t, f.store.AddSubscriptionEvent(f.ctx, nil, &se))
		return se.ID
	}

	delayed := add(func(se *model.SubscriptionEvent) {
		se.DeliveryDelayedUntilUtc = sql.NullTime{Time: baseTime.Add(time.Minute), Valid: true}
	})
	expired := add(func(se *model.SubscriptionEvent) {
		se.ExpirationDateUtc = sql.NullTime{Time: baseTime.Add(-time.Second), Valid: true}
	})
	plain := add(func(se *model.SubscriptionEvent) {})
	leased := add(func(se *model.SubscriptionEvent) {
		se.PublicationDateUtc = baseTime.Add(-2 * time.Minute)
	})
	require.True(t, f.lease(leased, noKey, "k1", time.Minute))

	assert.Equal(t, []string{plain}, f.candidates(sub, 10))

	f.clock.Advance(2 * time.Minute)
	got := f.candidates(sub, 10)
	assert.Contains(t, got, delayed)
	assert.Contains(t, got, leased)
	assert.NotContains(t, got, expired)
}

func TestOrderedSubscription_DeliversOneKeyAtATime(t *testing.T) {
	f := newFixture(t)
	orders := f.topic("orders")
	billing := f.subscription(model.Subscription{Name: "billing", Ordered: true, MaxDeliveries: 3}, orders.ID)

	first := f.event(billing, orders.ID, "cust-1", 0, -3*time.Minute)
	second := f.event(billing, orders.ID, "cust-1", 0, -2*time.Minute)
	third := f.event(billing, orders.ID, "cust-1", 0, -1*time.Minute)

	assert.Equal(t, []string{first}, f.candidates(billing, 10))

	require.True(t, f.lease(first, noKey, "k1", time.Minute))
	assert.Empty(t, f.candidates(billing, 10), "a leased predecessor blocks the key")

	require.NoError(t, f.store.MarkConsumed(f.ctx, nil, first, "k1"))
	assert.Equal(t, []string{second}, f.candidates(billing, 10))

	require.True(t, f.lease(second, noKey, "k2", time.Minute))
	require.NoError(t, f.store.MarkConsumed(f.ctx, nil, second, "k2"))
	assert.Equal(t, []string{third}, f.candidates(billing, 10))
}

func TestOrderedSubscription_OnePerKeyAcrossKeys(t *testing.T) {
	f := newFixture(t)
	topic := f.topic("orders")
	sub := f.subscription(model.Subscription{Name: "billing", Ordered: true}, topic.ID)

	a1 := f.event(sub, topic.ID, "cust-1", 0, -5*time.Minute)
	b1 := f.event(sub, topic.ID, "cust-2", 0, -4*time.Minute)
	f.event(sub, topic.ID, "cust-1", 0, -3*time.Minute)
	f.event(sub, topic.ID, "cust-2", 0, -2*time.Minute)

	assert.Equal(t, []string{a1, b1}, f.candidates(sub, 10))
	assert.Equal(t, []string{a1}, f.candidates(sub, 1))
}

func TestOrderedSubscription_KeysFoldCase(t *testing.T) {
	f := newFixture(t)
	topic := f.topic("orders")
	sub := f.subscription(model.Subscription{Name: "billing", Ordered: true}, topic.ID)

	upper := f.event(sub, topic.ID, "Cust-1", 0, -2*time.Minute)
	f.event(sub, topic.ID, "cust-1", 0, -1*time.Minute)

	assert.Equal(t, []string{upper}, f.candidates(sub, 10))
}

func TestOrderedSubscription_NullKeysShareAGroup(t *testing.T) {
	f := newFixture(t)
	topic := f.topic("orders")
	sub := f.subscription(model.Subscription{Name: "billing", Ordered: true}, topic.ID)

	first := f.event(sub, topic.ID, "", 0, -2*time.Minute)
	f.event(sub, topic.ID, "", 0, -1*time.Minute)

	assert.Equal(t, []string{first}, f.candidates(sub, 10))
}

func TestOrderedSubscription_LeasedPredecessorBlocksOtherCase(t *testing.T) {
	f := newFixture(t)
	topic := f.topic("orders")
	sub := f.subscription(model.Subscription{Name: "billing", Ordered: true}, topic.ID)

	upper := f.event(sub, topic.ID, "Cust-1", 0, -2*time.Minute)
	lower := f.event(sub, topic.ID, "cust-1", 0, -1*time.Minute)

	require.True(t, f.lease(upper, noKey, "k1", time.Minute))
	assert.Empty(t, f.candidates(sub, 10))

	require.NoError(t, f.store.MarkConsumed(f.ctx, nil, upper, "k1"))
	assert.Equal(t, []string{lower}, f.candidates(sub, 10))
	assert.Equal(t, 1, f.count(model.TableLastConsumed, "subscription_id = ? AND functional_key = ?", sub.ID, "cust-1"))

	require.True(t, f.lease(lower, noKey, "k2", time.Minute))
	require.NoError(t, f.store.MarkConsumed(f.ctx, nil, lower, "k2"))
	assert.Equal(t, 1, f.count(model.TableLastConsumed, ""), "case variants share one watermark")
}

func TestOrderedSubscription_SkipsEventsOlderThanLastConsumed(t *testing.T) {
	f := newFixture(t)
	topic := f.topic("orders")
	sub := f.subscription(model.Subscription{Name: "billing", Ordered: true}, topic.ID)

	consumed := f.event(sub, topic.ID, "cust-1", 0, -time.Minute)
	require.True(t, f.lease(consumed, noKey, "k1", time.Minute))
	require.NoError(t, f.store.MarkConsumed(f.ctx, nil, consumed, "k1"))

	late := f.event(sub, topic.ID, "CUST-1", 0, -5*time.Minute)
	assert.Empty(t, f.candidates(sub, 10))

	newer := f.event(sub, topic.ID, "cust-1", 0, 0)
	assert.Empty(t, f.candidates(sub, 10), "a pending older event holds the key")

	unordered := f.subscription(model.NewSubscription("audit"), topic.ID)
	audit := f.event(unordered, topic.ID, "cust-1", 0, 0)
	assert.Equal(t, []string{audit}, f.candidates(unordered, 10))
	assert.NotEqual(t, newer, audit)

	n, err := f.store.FailSupersededEvents(f.ctx, nil, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, f.count(model.TableFailed, "id = ? AND reason = ?", late, int(model.ReasonSuperseded)))

	assert.Equal(t, []string{newer}, f.candidates(sub, 10), "the key recovers once the late event is failed")
}

func TestFailSupersededEvents(t *testing.T) {
	f := newFixture(t)
	topic := f.topic("orders")
	sub := f.subscription(model.Subscription{Name: "billing", Ordered: true}, topic.ID)
	audit := f.subscription(model.NewSubscription("audit"), topic.ID)

	consumed := f.event(sub, topic.ID, "cust-1", 0, -time.Minute)
	require.True(t, f.lease(consumed, noKey, "k1", time.Minute))
	require.NoError(t, f.store.MarkConsumed(f.ctx, nil, consumed, "k1"))

	auditDone := f.event(audit, topic.ID, "cust-1", 0, -time.Minute)
	require.True(t, f.lease(auditDone, noKey, "k2", time.Minute))
	require.NoError(t, f.store.MarkConsumed(f.ctx, nil, auditDone, "k2"))

	sameTime := f.event(sub, topic.ID, "cust-1", 0, -time.Minute)
	leased := f.event(sub, topic.ID, "cust-1", 0, -3*time.Minute)
	require.True(t, f.lease(leased, noKey, "k3", 30*time.Second))
	f.event(sub, topic.ID, "cust-2", 0, -3*time.Minute)
	f.event(sub, topic.ID, "", 0, -3*time.Minute)
	f.event(audit, topic.ID, "cust-1", 0, -3*time.Minute)

	n, err := f.store.FailSupersededEvents(f.ctx, nil, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "leased, unrelated keys, null keys and unordered subscriptions are left alone")
	assert.Equal(t, 1, f.count(model.TableFailed, "id = ? AND reason = ?", sameTime, int(model.ReasonSuperseded)))

	f.clock.Advance(31 * time.Second)
	n, err = f.store.FailSupersededEvents(f.ctx, nil, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, f.count(model.TableFailed, "id = ? AND reason = ?", leased, int(model.ReasonSuperseded)))
	assert.Equal(t, 3, f.count(model.TableSubscriptionEvent, ""))
}

func TestTryLock_ExactlyOneConcurrentWinner(t *testing.T) {
	f := newFixture(t)
	topic := f.topic("orders")
	sub := f.subscription(model.NewSubscription("audit"), topic.ID)
	id := f.event(sub, topic.ID, "a", 0, -time.Minute)

	const workers = 8
	results := make([]bool, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.store.TryLockConsumableEvent(context.Background(), nil, id, noKey,
				fmt.Sprintf("key-%d", i), baseTime.Add(time.Minute))
		}(i)
	}
	wg.Wait()

	winners := 0
	winner := -1
	for i := range results {
		require.NoError(t, errs[i])
		if results[i] {
			winners++
			winner = i
		}
	}
	require.Equal(t, 1, winners)

	se, err := f.store.GetSubscriptionEvent(f.ctx, nil, id)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("key-%d", winner), se.DeliveryKey.String)
	assert.Equal(t, 1, se.DeliveryCount)
	assert.True(t, se.IsLeased(baseTime))
}

func TestTryLock_DeliveryCountAndCeiling(t *testing.T) {
	f := newFixture(t)
	topic := f.topic("orders")
	sub := f.subscription(model.Subscription{Name: "billing", MaxDeliveries: 2}, topic.ID)
	id := f.event(sub, topic.ID, "a", 0, -time.Minute)

	require.True(t, f.lease(id, noKey, "k1", time.Minute))
	assert.False(t, f.lease(id, noKey, "k-stale", time.Minute), "previous key no longer matches")
	assert.False(t, f.lease(id, key("other"), "k-stale", time.Minute))

	f.clock.Advance(2 * time.Minute)
	require.True(t, f.lease(id, key("k1"), "k2", time.Minute))

	se, err := f.store.GetSubscriptionEvent(f.ctx, nil, id)
	require.NoError(t, err)
	assert.Equal(t, 2, se.DeliveryCount)

	f.clock.Advance(2 * time.Minute)
	assert.False(t, f.lease(id, key("k2"), "k3", time.Minute), "ceiling reached")
	assert.Empty(t, f.candidates(sub, 10))

	se, err = f.store.GetSubscriptionEvent(f.ctx, nil, id)
	require.NoError(t, err)
	assert.Equal(t, 2, se.DeliveryCount)
	assert.Equal(t, "k2", se.DeliveryKey.String)
}

func TestTryLock_RequiresKey(t *testing.T) {
	f := newFixture(t)

	_, err := f.store.TryLockConsumableEvent(f.ctx, nil, "id", noKey, "", baseTime)
	assert.True(t, errors.Is(err, eventing.NewError(eventing.ErrCodeValidation, "")))
}

func TestVisibilityTimeout_RedeliversAfterExpiry(t *testing.T) {
	f := newFixture(t)
	topic := f.topic("orders")
	sub := f.subscription(model.NewSubscription("audit"), topic.ID)
	id := f.event(sub, topic.ID, "a", 0, -time.Minute)

	require.True(t, f.lease(id, noKey, "k1", 60*time.Second))
	assert.Empty(t, f.candidates(sub, 10))

	f.clock.Advance(61 * time.Second)
	ids, err := f.store.FindConsumableEventsForSubscription(f.ctx, nil, sub, 10)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, id, ids[0].ID)
	assert.Equal(t, 1, ids[0].DeliveryCount)
	assert.Equal(t, key("k1"), ids[0].DeliveryKey)
}

func TestMarkConsumed_TerminalExclusivity(t *testing.T) {
	f := newFixture(t)
	topic := f.topic("orders")
	sub := f.subscription(model.NewSubscription("audit"), topic.ID)
	id := f.event(sub, topic.ID, "cust-1", 0, -time.Minute)

	require.True(t, f.lease(id, noKey, "k1", time.Minute))
	require.NoError(t, f.store.MarkConsumed(f.ctx, nil, id, "k1"))

	_, err := f.store.GetSubscriptionEvent(f.ctx, nil, id)
	assert.True(t, eventing.IsNoData(err))
	assert.Equal(t, 1, f.count(model.TableConsumed, "id = ?", id))
	assert.Equal(t, 0, f.count(model.TableFailed, ""))
	assert.Equal(t, 1, f.count(model.TableLastConsumed, "subscription_id = ? AND functional_key = ?", sub.ID, "cust-1"))

	err = f.store.MarkConsumed(f.ctx, nil, id, "k1")
	assert.True(t, eventing.IsNoData(err))
	err = f.store.MarkFailed(f.ctx, nil, id, "k1", model.Reason{Type: model.ReasonRejected})
	assert.True(t, eventing.IsNoData(err))
	assert.Equal(t, 1, f.count(model.TableConsumed, "id = ?", id))
}

func TestMarkConsumed_AdvancesLastConsumed(t *testing.T) {
	f := newFixture(t)
	topic := f.topic("orders")
	sub := f.subscription(model.NewSubscription("audit"), topic.ID)
	older := f.event(sub, topic.ID, "cust-1", 0, -2*time.Minute)
	newer := f.event(sub, topic.ID, "cust-1", 0, -1*time.Minute)

	require.NoError(t, f.store.MarkConsumed(f.ctx, nil, older, ""))
	require.NoError(t, f.store.MarkConsumed(f.ctx, nil, newer, ""))

	assert.Equal(t, 1, f.count(model.TableLastConsumed, ""))
	assert.Equal(t, 1, f.count(model.TableLastConsumed, "publication_date_utc = ?", baseTime.Add(-time.Minute)))
}

func TestMarkConsumed_LeaseTakenByOther(t *testing.T) {
	f := newFixture(t)
	topic := f.topic("orders")
	sub := f.subscription(model.NewSubscription("audit"), topic.ID)
	id := f.event(sub, topic.ID, "a", 0, -time.Minute)

	require.True(t, f.lease(id, noKey, "k1", time.Minute))
	f.clock.Advance(2 * time.Minute)
	require.True(t, f.lease(id, key("k1"), "k2", time.Minute))

	err := f.store.MarkConsumed(f.ctx, nil, id, "k1")
	assert.True(t, errors.Is(err, eventing.ErrLeaseTaken))
	assert.True(t, eventing.IsLeaseLost(err))

	err = f.store.MarkFailed(f.ctx, nil, id, "k1", model.Reason{Type: model.ReasonRejected})
	assert.True(t, errors.Is(err, eventing.ErrLeaseTaken))

	require.NoError(t, f.store.MarkConsumed(f.ctx, nil, id, "k2"))
}

func TestMarkConsumed_StaleCallerWhenNobodyHoldsTheLease(t *testing.T) {
	f := newFixture(t)
	topic := f.topic("orders")
	sub := f.subscription(model.NewSubscription("audit"), topic.ID)
	id := f.event(sub, topic.ID, "a", 0, -time.Minute)

	require.True(t, f.lease(id, noKey, "k1", time.Minute))
	f.clock.Advance(2 * time.Minute)

	require.NoError(t, f.store.MarkConsumed(f.ctx, nil, id, "some-old-key"))
	assert.Equal(t, 1, f.count(model.TableConsumed, "id = ?", id))
}

func TestMarkFailed_WritesReasonWithoutOrdering(t *testing.T) {
	f := newFixture(t)
	topic := f.topic("orders")
	sub := f.subscription(model.Subscription{Name: "billing", Ordered: true}, topic.ID)
	first := f.event(sub, topic.ID, "cust-1", 0, -2*time.Minute)
	second := f.event(sub, topic.ID, "cust-1", 0, -time.Minute)

	require.True(t, f.lease(first, noKey, "k1", time.Minute))
	require.NoError(t, f.store.MarkFailed(f.ctx, nil, first, "k1", model.Reason{Type: model.ReasonOther, Text: "bad payload"}))

	assert.Equal(t, 1, f.count(model.TableFailed, "id = ? AND reason = ? AND reason_other = ?", first, 0, "bad payload"))
	assert.Equal(t, 0, f.count(model.TableLastConsumed, ""))
	assert.Equal(t, []string{second}, f.candidates(sub, 10))
}

var errTransient = errors.New("transient conflict")

// flakyDialect fails the last-consumed upsert a number of times with an error
// it classifies as retryable.
type flakyDialect struct {
	*sqlite.Dialect
	failures int
	calls    int
}

func (d *flakyDialect) IsRetryable(err error, _ int) bool {
	return errors.Is(err, errTransient)
}

func (d *flakyDialect) UpsertLastConsumed(ctx context.Context, exec eventing.Execer, table string, lc model.LastConsumedSubscriptionEvent) (int64, error) {
	d.calls++
	if d.calls <= d.failures {
		return 0, eventing.NewErrorWithCause(eventing.ErrCodeDatabase, "upsert last consumed", errTransient)
	}
	return d.Dialect.UpsertLastConsumed(ctx, exec, table, lc)
}

func fastRetry() retry.Strategy {
	return retry.Strategy{
		MaxAttempts:     3,
		BaseDelay:       time.Millisecond,
		MaxDelay:        5 * time.Millisecond,
		ExponentialBase: 2,
	}
}

func TestMarkConsumed_RetriesTransientErrors(t *testing.T) {
	dialect := &flakyDialect{Dialect: sqlite.New(), failures: 2}
	f := newFixture(t, eventing.WithDialect(dialect), eventing.WithRetryStrategy(fastRetry()))
	topic := f.topic("orders")
	sub := f.subscription(model.NewSubscription("audit"), topic.ID)
	id := f.event(sub, topic.ID, "cust-1", 0, -time.Minute)

	require.NoError(t, f.store.MarkConsumed(f.ctx, nil, id, ""))

	assert.Equal(t, 3, dialect.calls)
	assert.Equal(t, 1, f.count(model.TableConsumed, "id = ?", id))
	assert.Equal(t, 1, f.count(model.TableLastConsumed, ""))
}

func TestMarkConsumed_RetryBudgetExhausted(t *testing.T) {
	dialect := &flakyDialect{Dialect: sqlite.New(), failures: 10}
	f := newFixture(t, eventing.WithDialect(dialect), eventing.WithRetryStrategy(fastRetry()))
	topic := f.topic("orders")
	sub := f.subscription(model.NewSubscription("audit"), topic.ID)
	id := f.event(sub, topic.ID, "cust-1", 0, -time.Minute)

	err := f.store.MarkConsumed(f.ctx, nil, id, "")

	require.Error(t, err)
	assert.True(t, eventing.IsRetryExhausted(err))
	assert.True(t, errors.Is(err, errTransient))
	assert.Equal(t, 3, dialect.calls)

	_, err = f.store.GetSubscriptionEvent(f.ctx, nil, id)
	assert.NoError(t, err, "every attempt was rolled back")
	assert.Equal(t, 0, f.count(model.TableConsumed, ""))
}

func TestMarkConsumed_NoRetryInsideCallerTransaction(t *testing.T) {
	dialect := &flakyDialect{Dialect: sqlite.New(), failures: 1}
	f := newFixture(t, eventing.WithDialect(dialect), eventing.WithRetryStrategy(fastRetry()))
	topic := f.topic("orders")
	sub := f.subscription(model.NewSubscription("audit"), topic.ID)
	id := f.event(sub, topic.ID, "cust-1", 0, -time.Minute)

	sess := f.store.NewSession()
	require.NoError(t, sess.Begin(f.ctx))

	err := f.store.MarkConsumed(f.ctx, sess, id, "")
	require.Error(t, err)
	assert.False(t, eventing.IsRetryExhausted(err))
	assert.Equal(t, 1, dialect.calls)
	assert.Equal(t, eventing.TxRolledBack, sess.State())

	require.NoError(t, sess.Rollback())
	assert.Equal(t, 0, sess.Depth())

	_, err = f.store.GetSubscriptionEvent(f.ctx, nil, id)
	assert.NoError(t, err)
}

func TestConsumeNext(t *testing.T) {
	f := newFixture(t)
	topic := f.topic("orders")
	sub := f.subscription(model.Subscription{Name: "billing", MaxDeliveries: 4}, topic.ID)
	first := f.event(sub, topic.ID, "a", 0, -2*time.Minute)
	f.event(sub, topic.ID, "b", 0, -time.Minute)

	events, err := f.store.ConsumeNext(f.ctx, nil, "billing", 30*time.Second, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	e := events[0]
	assert.Equal(t, first, e.ID)
	assert.Equal(t, sub.ID, e.SubscriptionID)
	assert.Equal(t, "payload of a", e.Payload)
	assert.NotEmpty(t, e.DeliveryKey)
	assert.Equal(t, 1, e.DeliveryCount)
	assert.Equal(t, 4, e.MaxDeliveries)
	assert.Equal(t, baseTime.Add(30*time.Second), e.InvisibleUntilUtc)
	assert.NotEqual(t, events[0].DeliveryKey, events[1].DeliveryKey)

	again, err := f.store.ConsumeNext(f.ctx, nil, "billing", 30*time.Second, 10)
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NoError(t, f.store.MarkConsumed(f.ctx, nil, e.ID, e.DeliveryKey))

	_, err = f.store.ConsumeNext(f.ctx, nil, "missing", 30*time.Second, 10)
	assert.True(t, eventing.IsNoData(err))

	_, err = f.store.ConsumeNext(f.ctx, nil, "billing", 0, 10)
	assert.Error(t, err)
}

func TestFailExpiredEvents(t *testing.T) {
	f := newFixture(t)
	topic := f.topic("orders")
	sub := f.subscription(model.NewSubscription("audit"), topic.ID)

	payloadID, err := f.store.StorePayload(f.ctx, nil, "{}")
	require.NoError(t, err)
	se := model.SubscriptionEvent{
		SubscriptionID:     sub.ID,
		TopicEventID:       "te",
		PublicationDateUtc: baseTime.Add(-time.Minute),
		PayloadID:          payloadID,
		ExpirationDateUtc:  sql.NullTime{Time: baseTime.Add(10 * time.Second), Valid: true},
	}
	require.NoError(t, f.store.AddSubscriptionEvent(f.ctx, nil, &se))

	n, err := f.store.FailExpiredEvents(f.ctx, nil, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	f.clock.Advance(11 * time.Second)
	n, err = f.store.FailExpiredEvents(f.ctx, nil, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, f.count(model.TableFailed, "id = ? AND reason = ?", se.ID, int(model.ReasonExpired)))
}

func TestFailExhaustedEvents(t *testing.T) {
	f := newFixture(t)
	topic := f.topic("orders")
	sub := f.subscription(model.Subscription{Name: "billing", MaxDeliveries: 1}, topic.ID)
	id := f.event(sub, topic.ID, "a", 0, -time.Minute)

	require.True(t, f.lease(id, noKey, "k1", 30*time.Second))

	n, err := f.store.FailExhaustedEvents(f.ctx, nil, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "a live lease is left alone")

	f.clock.Advance(31 * time.Second)
	n, err = f.store.FailExhaustedEvents(f.ctx, nil, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, f.count(model.TableFailed, "id = ? AND reason = ?", id, int(model.ReasonMaxDeliveriesReached)))
}
