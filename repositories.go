package eventing

import (
	"context"
	"time"

	"github.com/coregx/eventing/model"
)

// PublicationStore is what the Publisher needs from storage.
// *Store implements it.
type PublicationStore interface {
	// NewSession opens a session the publisher runs its transaction on.
	NewSession() *Session

	// GetTopicByName returns ErrNoData if the topic does not exist.
	GetTopicByName(ctx context.Context, sess *Session, name string) (model.Topic, error)

	// LinkedSubscriptions returns subscriptions with an enabled link to the
	// topic, each carrying only that link.
	LinkedSubscriptions(ctx context.Context, sess *Session, topicID string) ([]model.Subscription, error)

	StorePayload(ctx context.Context, sess *Session, payload string) (string, error)
	AddTopicEvent(ctx context.Context, sess *Session, te *model.TopicEvent) error
	AddSubscriptionEvent(ctx context.Context, sess *Session, se *model.SubscriptionEvent) error
}

// ConsumptionStore is what the Consumer needs from storage.
// *Store implements it.
type ConsumptionStore interface {
	// ConsumeNext leases up to maxCount events of the named subscription.
	ConsumeNext(ctx context.Context, sess *Session, subscriptionName string, visibilityTimeout time.Duration, maxCount int) ([]model.ConsumableEvent, error)

	// MarkConsumed completes a leased event.
	MarkConsumed(ctx context.Context, sess *Session, id, deliveryKey string) error

	// MarkFailed moves a leased event to the failed ledger.
	MarkFailed(ctx context.Context, sess *Session, id, deliveryKey string, reason model.Reason) error
}

// Sweeper fails pending events that can no longer be delivered.
// *Store implements it.
type Sweeper interface {
	FailExpiredEvents(ctx context.Context, sess *Session, limit int) (int, error)
	FailExhaustedEvents(ctx context.Context, sess *Session, limit int) (int, error)
	FailSupersededEvents(ctx context.Context, sess *Session, limit int) (int, error)
}

// LedgerRepository reads and trims the terminal ledgers.
// See adapters/relica for the implementation.
//
// Implementations must be safe for concurrent use.
type LedgerRepository interface {
	// ListConsumed returns the newest consumed events of a subscription
	// (all subscriptions when subscriptionID is empty).
	ListConsumed(ctx context.Context, subscriptionID string, limit int) ([]model.ConsumedSubscriptionEvent, error)

	// ListFailed returns the newest failed events of a subscription
	// (all subscriptions when subscriptionID is empty).
	ListFailed(ctx context.Context, subscriptionID string, limit int) ([]model.FailedSubscriptionEvent, error)

	// Stats counts pending, consumed and failed events and stored payloads.
	Stats(ctx context.Context) (model.LedgerStats, error)

	// PurgeConsumedBefore deletes consumed ledger rows older than before.
	PurgeConsumedBefore(ctx context.Context, before time.Time) (int64, error)

	// PurgeFailedBefore deletes failed ledger rows older than before.
	PurgeFailedBefore(ctx context.Context, before time.Time) (int64, error)

	// PurgeTopicEventsBefore deletes topic events published before before
	// that no pending subscription event refers to.
	PurgeTopicEventsBefore(ctx context.Context, before time.Time) (int64, error)

	// DeleteOrphanedPayloads deletes up to limit payloads that no topic event
	// and no pending subscription event references.
	DeleteOrphanedPayloads(ctx context.Context, limit int) (int64, error)
}

var (
	_ PublicationStore = (*Store)(nil)
	_ ConsumptionStore = (*Store)(nil)
	_ Sweeper          = (*Store)(nil)
)
