// Package eventing is a publish/subscribe event broker that keeps all of its
// state in a relational database.
//
// Producers publish events to named topics. Every subscription linked to the
// topic gets its own copy of the event, which consumers lease, process and
// then mark consumed or failed. Delivery is at-least-once: a lease that is not
// completed before its visibility timeout expires makes the event selectable
// again.
//
// # Features
//
//   - Leasing through a compare-and-swap UPDATE on a delivery key, no row locks
//   - Priority ordering, delivery delay, expiration and a per-subscription
//     delivery ceiling
//   - Ordered subscriptions: one event per functional key at a time, in
//     publication order
//   - Nested transactions through an explicit Session
//   - Bounded retry of transient storage errors when completing an event
//   - Consumed and failed ledgers, plus retention through the Janitor
//   - SQLite, MySQL, PostgreSQL and SQL Server dialects
//   - Embedded migrations with a configurable table prefix
//
// # Quick Start
//
// Apply the migrations and create a store:
//
//	import (
//	    "database/sql"
//
//	    "github.com/coregx/eventing"
//	    "github.com/coregx/eventing/adapters/sqlite"
//	    _ "github.com/mattn/go-sqlite3"
//	)
//
//	db, _ := sql.Open("sqlite3", "broker.db?_busy_timeout=5000")
//
//	if err := eventing.ApplyMigrations(ctx, db, "sqlite3", "eventing_"); err != nil {
//	    log.Fatal(err)
//	}
//
//	store, _ := eventing.NewStore(
//	    eventing.WithDB(db),
//	    eventing.WithDialect(sqlite.New()),
//	    eventing.WithLogger(logger),
//	)
//
// Register a topic and a subscription:
//
//	topic := model.NewTopic("orders", "")
//	_ = store.AddOrUpdateTopic(ctx, nil, &topic)
//
//	sub := model.Subscription{Name: "billing", Ordered: true, MaxDeliveries: 3}
//	sub.Link(topic.ID)
//	_ = store.AddOrUpdateSubscription(ctx, nil, &sub)
//
// Publish:
//
//	publisher, _ := eventing.NewPublisher(eventing.WithPublicationStore(store))
//	_, err := publisher.Publish(ctx, eventing.PublishRequest{
//	    TopicName:     "orders",
//	    FunctionalKey: "cust-1",
//	    Payload:       `{"orderId": 42}`,
//	})
//
// Consume:
//
//	consumer, _ := eventing.NewConsumer(
//	    eventing.WithConsumerStore(store),
//	    eventing.WithSubscription("billing"),
//	    eventing.WithHandler(func(ctx context.Context, e model.ConsumableEvent) error {
//	        return charge(e.Payload)
//	    }),
//	)
//	go consumer.Run(ctx, time.Second)
//
// # Event Lifecycle
//
//  1. PUBLISH
//     Publisher → Payload + TopicEvent
//     → one SubscriptionEvent per linked subscription whose filters accept
//     the headers
//
//  2. LEASE
//     FindConsumableEventsForSubscription → candidates
//     → TryLockConsumableEvent (delivery key swap, DeliveryCount+1)
//
//  3. COMPLETE
//     MarkConsumed → delete + consumed ledger + last consumed key
//     MarkFailed   → delete + failed ledger
//
//  4. MAINTENANCE
//     Janitor → fail expired, exhausted and superseded events, purge old ledger rows
//     and unreferenced payloads
//
// A pending event is a row in the subscription event table. Completing it
// deletes the row and writes the ledger in the same transaction.
//
// # Sessions
//
// Every Store operation takes a *Session. Passing nil runs the operation on
// its own. Passing a session joins its transaction, so several operations
// commit or roll back together:
//
//	sess := store.NewSession()
//	err := sess.InTx(ctx, func(tx *eventing.Session) error {
//	    if _, err := store.StorePayload(ctx, tx, body); err != nil {
//	        return err
//	    }
//	    return store.AddTopicEvent(ctx, tx, &te)
//	})
//
// A Session is not safe for concurrent use. Each worker uses its own.
//
// # Database Schema
//
//	eventing_topic                             - Topics
//	eventing_subscription                      - Subscriptions and delivery policy
//	eventing_topic_subscription                - Topic links
//	eventing_topic_subscription_filter         - Header filters of a link
//	eventing_event_payload                     - Payloads, stored once per publish
//	eventing_topic_event                       - Publications
//	eventing_subscription_event                - Pending and leased events
//	eventing_last_consumed_subscription_event  - Ordering watermark per key
//	eventing_consumed_subscription_event       - Consumed ledger
//	eventing_failed_subscription_event         - Failed ledger
//
// The prefix can be changed with WithTablePrefix; migrations must be applied
// with the same prefix.
package eventing
