package eventing

import (
	"context"

	"github.com/google/uuid"

	"github.com/coregx/eventing/model"
)

const subscriptionEventColumns = "id, subscription_id, topic_event_id, publication_date_utc, functional_key, priority, " +
	"payload_id, expiration_date_utc, delivery_delayed_until_utc, delivery_count, delivery_date_utc, delivery_key, " +
	"invisible_until_utc"

// StorePayload stores an event body under a fresh id and returns the id.
// Identical bodies are never deduplicated.
func (s *Store) StorePayload(ctx context.Context, sess *Session, payload string) (string, error) {
	id := uuid.NewString()
	if _, err := s.session(sess).Exec(ctx,
		"INSERT INTO "+s.tables.payload+" (id, payload) VALUES (?, ?)", id, payload); err != nil {
		return "", err
	}
	return id, nil
}

// GetPayload loads a payload. Returns ErrNoData if it does not exist.
func (s *Store) GetPayload(ctx context.Context, sess *Session, id string) (model.EventPayload, error) {
	var p model.EventPayload
	row := s.session(sess).QueryRow(ctx, "SELECT id, payload FROM "+s.tables.payload+" WHERE id = ?", id)
	if err := scanRow(row, "payload", &p.ID, &p.Payload); err != nil {
		return model.EventPayload{}, err
	}
	return p, nil
}

// DeletePayload deletes a payload and returns the number of deleted rows.
// Callers are responsible for not deleting payloads still referenced by
// pending subscription events.
func (s *Store) DeletePayload(ctx context.Context, sess *Session, id string) (int64, error) {
	return s.session(sess).Exec(ctx, "DELETE FROM "+s.tables.payload+" WHERE id = ?", id)
}

// AddTopicEvent inserts a topic event, allocating an id when te.ID is empty.
func (s *Store) AddTopicEvent(ctx context.Context, sess *Session, te *model.TopicEvent) error {
	if te.ID == "" {
		te.ID = uuid.NewString()
	}
	if te.PublicationDateUtc.IsZero() {
		te.PublicationDateUtc = s.now()
	}
	if err := te.Validate(); err != nil {
		return NewErrorWithCause(ErrCodeValidation, "invalid topic event", err)
	}

	_, err := s.session(sess).Exec(ctx,
		"INSERT INTO "+s.tables.topicEvent+
			" (id, topic_id, functional_key, publication_date_utc, expiration_date_utc, headers, priority, payload_id)"+
			" VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		te.ID, te.TopicID, te.FunctionalKey, te.PublicationDateUtc.UTC(), utc(te.ExpirationDateUtc), te.Headers,
		te.Priority, te.PayloadID)
	return err
}

// AddSubscriptionEvent inserts a pending subscription event, allocating an id
// when se.ID is empty. Lease fields are always reset: events are born unleased.
// The folded ordering key is derived from se.FunctionalKey.
func (s *Store) AddSubscriptionEvent(ctx context.Context, sess *Session, se *model.SubscriptionEvent) error {
	if se.ID == "" {
		se.ID = uuid.NewString()
	}
	if se.SubscriptionID == "" || se.PayloadID == "" {
		return NewError(ErrCodeValidation, "subscription event needs a subscription and a payload")
	}
	se.ResetDelivery()

	_, err := s.session(sess).Exec(ctx,
		"INSERT INTO "+s.tables.subscriptionEvent+" ("+subscriptionEventColumns+", ordering_key)"+
			" VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		se.ID, se.SubscriptionID, se.TopicEventID, se.PublicationDateUtc.UTC(), se.FunctionalKey, se.Priority,
		se.PayloadID, utc(se.ExpirationDateUtc), utc(se.DeliveryDelayedUntilUtc), se.DeliveryCount, se.DeliveryDateUtc,
		se.DeliveryKey, se.InvisibleUntilUtc, model.OrderingKey(se.FunctionalKey))
	return err
}

// GetSubscriptionEvent loads a pending subscription event. Returns ErrNoData
// once the event was consumed or failed.
func (s *Store) GetSubscriptionEvent(ctx context.Context, sess *Session, id string) (model.SubscriptionEvent, error) {
	var se model.SubscriptionEvent
	row := s.session(sess).QueryRow(ctx,
		"SELECT "+subscriptionEventColumns+" FROM "+s.tables.subscriptionEvent+" WHERE id = ?", id)
	if err := scanRow(row, "subscription event",
		&se.ID, &se.SubscriptionID, &se.TopicEventID, &se.PublicationDateUtc, &se.FunctionalKey, &se.Priority,
		&se.PayloadID, &se.ExpirationDateUtc, &se.DeliveryDelayedUntilUtc, &se.DeliveryCount, &se.DeliveryDateUtc,
		&se.DeliveryKey, &se.InvisibleUntilUtc); err != nil {
		return model.SubscriptionEvent{}, err
	}
	return se, nil
}
