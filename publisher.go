package eventing

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/coregx/eventing/model"
)

// Publisher fans a published event out to every subscription linked to its
// topic, in one transaction.
type Publisher struct {
	store  PublicationStore
	logger Logger
	clock  func() time.Time
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher) error

// NewPublisher creates a new Publisher with the provided options.
//
// Required options:
//   - WithPublicationStore: the store to write to
//
// Example:
//
//	publisher, err := eventing.NewPublisher(
//	    eventing.WithPublicationStore(store),
//	    eventing.WithPublisherLogger(logger),
//	)
func NewPublisher(opts ...PublisherOption) (*Publisher, error) {
	p := &Publisher{
		logger: &NoopLogger{},
		clock:  time.Now,
	}

	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply publisher option", err)
		}
	}

	if p.store == nil {
		return nil, NewError(ErrCodeConfiguration, "PublicationStore is required (use WithPublicationStore)")
	}

	return p, nil
}

// WithPublicationStore sets the store. Required.
func WithPublicationStore(store PublicationStore) PublisherOption {
	return func(p *Publisher) error {
		if store == nil {
			return fmt.Errorf("store cannot be nil")
		}
		p.store = store
		return nil
	}
}

// WithPublisherLogger sets the logger instance.
func WithPublisherLogger(logger Logger) PublisherOption {
	return func(p *Publisher) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		p.logger = logger
		return nil
	}
}

// WithPublisherClock replaces time.Now for publication timestamps.
func WithPublisherClock(clock func() time.Time) PublisherOption {
	return func(p *Publisher) error {
		if clock == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		p.clock = clock
		return nil
	}
}

// PublishRequest represents a request to publish an event.
type PublishRequest struct {
	TopicName         string        // Topic to publish to
	FunctionalKey     string        // Optional ordering key
	Priority          int           // Higher is delivered first
	Headers           model.Headers // Matched against subscription filters
	Payload           string        // Opaque event body
	ExpirationDateUtc time.Time     // Optional; zero means no expiration
}

// Validate implements validation.Validatable.
func (r PublishRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.TopicName, validation.Required),
		validation.Field(&r.FunctionalKey, validation.Length(0, 250)),
	)
}

// PublishResult represents the result of a publish operation.
type PublishResult struct {
	TopicEventID         string   // Created topic event
	PayloadID            string   // Stored payload
	SubscriptionEventIDs []string // One per receiving subscription
}

// Publish stores the payload and topic event, then adds one subscription
// event for every subscription with an enabled link to the topic whose
// filters accept the headers.
//
// A subscription event becomes deliverable after the subscription's delivery
// delay and expires at the earlier of the request's expiration and the
// subscription's time to live.
func (p *Publisher) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	if err := req.Validate(); err != nil {
		return nil, NewErrorWithCause(ErrCodeValidation, "invalid publish request", err)
	}

	result := &PublishResult{SubscriptionEventIDs: []string{}}
	sess := p.store.NewSession()

	err := sess.InTx(ctx, func(tx *Session) error {
		topic, err := p.store.GetTopicByName(ctx, tx, req.TopicName)
		if err != nil {
			if IsNoData(err) {
				return NewErrorWithCause(ErrCodeValidation, fmt.Sprintf("topic not found: %s", req.TopicName), err)
			}
			return err
		}

		subs, err := p.store.LinkedSubscriptions(ctx, tx, topic.ID)
		if err != nil {
			return err
		}

		payloadID, err := p.store.StorePayload(ctx, tx, req.Payload)
		if err != nil {
			return err
		}
		result.PayloadID = payloadID

		published := p.clock().UTC().Truncate(time.Microsecond)
		te := model.TopicEvent{
			TopicID:            topic.ID,
			FunctionalKey:      nullString(req.FunctionalKey),
			PublicationDateUtc: published,
			ExpirationDateUtc:  nullTime(req.ExpirationDateUtc),
			Headers:            req.Headers,
			Priority:           req.Priority,
			PayloadID:          payloadID,
		}
		if err := p.store.AddTopicEvent(ctx, tx, &te); err != nil {
			return err
		}
		result.TopicEventID = te.ID

		for _, sub := range subs {
			if !acceptsAny(sub, req.Headers) {
				p.logger.Debugf("Subscription %s filtered out event %s", sub.Name, te.ID)
				continue
			}

			se := newSubscriptionEvent(sub, te)
			if err := p.store.AddSubscriptionEvent(ctx, tx, &se); err != nil {
				return err
			}
			result.SubscriptionEventIDs = append(result.SubscriptionEventIDs, se.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(result.SubscriptionEventIDs) == 0 {
		p.logger.Warnf("No subscription accepted event %s on topic %s", result.TopicEventID, req.TopicName)
	} else {
		p.logger.Infof("Published event %s to %d subscriptions (topic=%s)",
			result.TopicEventID, len(result.SubscriptionEventIDs), req.TopicName)
	}
	return result, nil
}

// PublishBatch publishes each request in its own transaction. Failed
// requests are logged and skipped.
func (p *Publisher) PublishBatch(ctx context.Context, requests []PublishRequest) ([]*PublishResult, error) {
	results := make([]*PublishResult, 0, len(requests))

	for _, req := range requests {
		result, err := p.Publish(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
			p.logger.Errorf("Failed to publish event (topic=%s): %v", req.TopicName, err)
			continue
		}
		results = append(results, result)
	}

	return results, nil
}

func acceptsAny(sub model.Subscription, headers model.Headers) bool {
	for _, link := range sub.TopicSubscriptions {
		if link.Accepts(headers) {
			return true
		}
	}
	return false
}

func newSubscriptionEvent(sub model.Subscription, te model.TopicEvent) model.SubscriptionEvent {
	se := model.SubscriptionEvent{
		SubscriptionID:     sub.ID,
		TopicEventID:       te.ID,
		PublicationDateUtc: te.PublicationDateUtc,
		FunctionalKey:      te.FunctionalKey,
		Priority:           te.Priority,
		PayloadID:          te.PayloadID,
		ExpirationDateUtc:  te.ExpirationDateUtc,
	}

	if sub.DeliveryDelay > 0 {
		se.DeliveryDelayedUntilUtc = sql.NullTime{
			Time:  te.PublicationDateUtc.Add(sub.DeliveryDelayDuration()),
			Valid: true,
		}
	}
	if sub.TimeToLive > 0 {
		ttl := te.PublicationDateUtc.Add(sub.TimeToLiveDuration())
		if !se.ExpirationDateUtc.Valid || ttl.Before(se.ExpirationDateUtc.Time) {
			se.ExpirationDateUtc = sql.NullTime{Time: ttl, Valid: true}
		}
	}
	return se
}
