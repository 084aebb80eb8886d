package eventing

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/coregx/eventing/model"
)

// orderedOverFetch multiplies maxCount when selecting for ordered
// subscriptions, since candidates are reduced to one per functional key
// after fetching.
const orderedOverFetch = 5

// FindConsumableEventsForSubscription returns up to maxCount events of sub
// that may be leased now: not delayed, not expired, not leased, and below the
// subscription's delivery ceiling. Results are ordered by priority (highest
// first), then publication date (oldest first).
//
// For ordered subscriptions at most one event per functional key is returned,
// and only when no older event with that key is still pending and it is newer
// than the last consumed one. Keys compare case-insensitively; all events
// without a key form a single group.
func (s *Store) FindConsumableEventsForSubscription(ctx context.Context, sess *Session, sub model.Subscription, maxCount int) (ids []model.SubscriptionEventIdentifier, err error) {
	ctx, span := s.startSpan(ctx, "FindConsumableEvents",
		attribute.String("eventing.subscription.id", sub.ID),
		attribute.Bool("eventing.subscription.ordered", sub.Ordered),
		attribute.Int("eventing.max_count", maxCount))
	defer func() { endSpan(span, err) }()

	if maxCount <= 0 {
		return nil, nil
	}

	limit := maxCount
	if sub.Ordered {
		limit = maxCount * orderedOverFetch
	}

	now := s.now()
	rows, err := s.session(sess).Query(ctx, candidateQuery(s.tables, s.dialect, sub.Ordered, limit),
		sub.ID, now, now, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id model.SubscriptionEventIdentifier
		if err := rows.Scan(&id.ID, &id.DeliveryKey, &id.FunctionalKey, &id.PayloadID,
			&id.Priority, &id.PublicationDateUtc, &id.DeliveryCount); err != nil {
			return nil, NewErrorWithCause(ErrCodeDatabase, "scan consumable event", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, NewErrorWithCause(ErrCodeDatabase, "iterate consumable events", err)
	}

	if sub.Ordered {
		ids = firstPerFunctionalKey(ids)
	}
	if len(ids) > maxCount {
		ids = ids[:maxCount]
	}

	span.SetAttributes(attribute.Int("eventing.candidates", len(ids)))
	return ids, nil
}

// firstPerFunctionalKey keeps the first candidate of every ordering key,
// preserving order.
func firstPerFunctionalKey(ids []model.SubscriptionEventIdentifier) []model.SubscriptionEventIdentifier {
	seen := make(map[string]struct{}, len(ids))
	seenNull := false

	out := ids[:0]
	for _, id := range ids {
		if !id.FunctionalKey.Valid {
			if seenNull {
				continue
			}
			seenNull = true
			out = append(out, id)
			continue
		}

		key := model.OrderingKey(id.FunctionalKey).String
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, id)
	}
	return out
}

// TryLockConsumableEvent leases an event by compare-and-swap on its delivery
// key. It succeeds only while the stored key still equals previousKey (both
// null counts as equal) and the subscription's delivery ceiling is not
// reached. On success the delivery count grows by one and the event stays
// invisible until invisibleUntil.
func (s *Store) TryLockConsumableEvent(ctx context.Context, sess *Session, id string, previousKey sql.NullString, newKey string, invisibleUntil time.Time) (locked bool, err error) {
	ctx, span := s.startSpan(ctx, "TryLockConsumableEvent",
		attribute.String("eventing.subscription_event.id", id))
	defer func() {
		span.SetAttributes(attribute.Bool("eventing.locked", locked))
		endSpan(span, err)
	}()

	if newKey == "" {
		return false, NewError(ErrCodeValidation, "delivery key is required")
	}

	t := s.tables.subscriptionEvent
	query := "UPDATE " + t +
		" SET delivery_key = ?, delivery_date_utc = ?, invisible_until_utc = ?, delivery_count = delivery_count + 1" +
		" WHERE id = ? AND "
	args := []interface{}{newKey, s.now(), invisibleUntil.UTC(), id}

	if previousKey.Valid {
		query += "delivery_key = ?"
		args = append(args, previousKey.String)
	} else {
		query += "delivery_key IS NULL"
	}
	query += " AND EXISTS (SELECT 1 FROM " + s.tables.subscription + " s WHERE s.id = " + t + ".subscription_id" +
		" AND (s.max_deliveries = 0 OR " + t + ".delivery_count < s.max_deliveries))"

	n, err := s.session(sess).Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkConsumed moves a pending event to the consumed ledger and, for keyed
// events, records the key's last consumed publication date.
//
// It fails with ErrNoData when the event no longer exists and with
// ErrLeaseTaken when another consumer holds a live lease under a different
// key. A stale caller whose lease lapsed without anybody re-leasing the event
// may still complete it.
//
// Transient storage errors (as classified by the dialect) restart the
// transaction, bounded by the store's retry strategy; when the budget is used
// up ErrRetryExhausted is returned. Calls joining a caller's transaction are
// never retried, since the caller's earlier work is already lost.
func (s *Store) MarkConsumed(ctx context.Context, sess *Session, id, deliveryKey string) (err error) {
	ctx, span := s.startSpan(ctx, "MarkConsumed", attribute.String("eventing.subscription_event.id", id))
	defer func() { endSpan(span, err) }()

	sess = s.session(sess)
	se, err := s.completable(ctx, sess, id, deliveryKey)
	if err != nil {
		return err
	}

	owner := !sess.InTransaction()
	for attempt := 1; ; attempt++ {
		err = sess.InTx(ctx, func(tx *Session) error {
			return s.consume(ctx, tx, se)
		})
		if err == nil {
			return nil
		}
		if !owner || !isDatabaseError(err) || !s.dialect.IsRetryable(err, attempt) {
			return err
		}
		if !s.retryStrategy.IsRetryable(attempt) {
			return NewErrorWithCause(ErrCodeRetryExhausted, "mark consumed: retry budget exhausted", err)
		}

		span.AddEvent("retry", traceAttempt(attempt))
		s.logger.Warnf("Transient error consuming event %s (attempt %d, retry in %v): %v",
			id, attempt, s.retryStrategy.CalculateRetryDelay(attempt-1), err)

		if werr := s.retryStrategy.Wait(ctx, attempt); werr != nil {
			return NewErrorWithCause(ErrCodeDatabase, "mark consumed canceled", werr)
		}
	}
}

func (s *Store) consume(ctx context.Context, tx *Session, se model.SubscriptionEvent) error {
	if err := s.deleteLeased(ctx, tx, se); err != nil {
		return err
	}

	now := s.now()
	c := model.NewConsumedSubscriptionEvent(se, now)
	n, err := tx.Exec(ctx,
		"INSERT INTO "+s.tables.consumed+" (id, subscription_id, publication_date_utc, functional_key, priority,"+
			" payload_id, delivery_date_utc, consumed_date_utc) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		c.ID, c.SubscriptionID, c.PublicationDateUtc.UTC(), c.FunctionalKey, c.Priority, c.PayloadID,
		utc(c.DeliveryDateUtc), c.ConsumedDateUtc)
	if err != nil {
		return err
	}
	if n != 1 {
		return NewError(ErrCodeConsistency, "consumed ledger insert affected an unexpected number of rows")
	}

	if !se.FunctionalKey.Valid {
		return nil
	}

	n, err = s.dialect.UpsertLastConsumed(ctx, tx, s.tables.lastConsumed, model.LastConsumedSubscriptionEvent{
		SubscriptionID:     se.SubscriptionID,
		FunctionalKey:      model.OrderingKey(se.FunctionalKey).String,
		PublicationDateUtc: se.PublicationDateUtc.UTC(),
	})
	if err != nil {
		return err
	}
	if n < 1 || n > 2 {
		return NewError(ErrCodeConsistency, "last consumed upsert affected an unexpected number of rows")
	}
	return nil
}

// MarkFailed moves a pending event to the failed ledger with reason.
// Preconditions match MarkConsumed. There is no retry, and a failed event does
// not advance functional-key ordering.
func (s *Store) MarkFailed(ctx context.Context, sess *Session, id, deliveryKey string, reason model.Reason) (err error) {
	ctx, span := s.startSpan(ctx, "MarkFailed",
		attribute.String("eventing.subscription_event.id", id),
		attribute.String("eventing.reason", reason.Type.String()))
	defer func() { endSpan(span, err) }()

	sess = s.session(sess)
	se, err := s.completable(ctx, sess, id, deliveryKey)
	if err != nil {
		return err
	}

	return sess.InTx(ctx, func(tx *Session) error {
		return s.fail(ctx, tx, se, reason)
	})
}

func (s *Store) fail(ctx context.Context, tx *Session, se model.SubscriptionEvent, reason model.Reason) error {
	if err := s.deleteLeased(ctx, tx, se); err != nil {
		return err
	}

	f := model.NewFailedSubscriptionEvent(se, s.now(), reason)
	n, err := tx.Exec(ctx,
		"INSERT INTO "+s.tables.failed+" (id, subscription_id, publication_date_utc, functional_key, priority,"+
			" payload_id, delivery_date_utc, failed_date_utc, reason, reason_other) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		f.ID, f.SubscriptionID, f.PublicationDateUtc.UTC(), f.FunctionalKey, f.Priority, f.PayloadID,
		utc(f.DeliveryDateUtc), f.FailedDateUtc, int(f.Reason), f.ReasonOther)
	if err != nil {
		return err
	}
	if n != 1 {
		return NewError(ErrCodeConsistency, "failed ledger insert affected an unexpected number of rows")
	}
	return nil
}

// completable loads the event and rejects callers whose lease was taken over.
func (s *Store) completable(ctx context.Context, sess *Session, id, deliveryKey string) (model.SubscriptionEvent, error) {
	se, err := s.GetSubscriptionEvent(ctx, sess, id)
	if err != nil {
		return model.SubscriptionEvent{}, err
	}
	if se.HeldByOther(deliveryKey, s.now()) {
		return model.SubscriptionEvent{}, ErrLeaseTaken
	}
	return se, nil
}

// deleteLeased deletes the event only while it still carries the delivery key
// it was loaded with.
func (s *Store) deleteLeased(ctx context.Context, tx *Session, se model.SubscriptionEvent) error {
	query := "DELETE FROM " + s.tables.subscriptionEvent + " WHERE id = ? AND "
	args := []interface{}{se.ID}
	if se.DeliveryKey.Valid {
		query += "delivery_key = ?"
		args = append(args, se.DeliveryKey.String)
	} else {
		query += "delivery_key IS NULL"
	}

	n, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLeaseExpired
	}
	return nil
}

// ConsumeNext finds and leases up to maxCount events of the named
// subscription, each under a fresh delivery key, and loads their payloads.
// Candidates lost to a concurrent consumer are skipped.
func (s *Store) ConsumeNext(ctx context.Context, sess *Session, subscriptionName string, visibilityTimeout time.Duration, maxCount int) (events []model.ConsumableEvent, err error) {
	ctx, span := s.startSpan(ctx, "ConsumeNext", attribute.String("eventing.subscription.name", subscriptionName))
	defer func() { endSpan(span, err) }()

	if visibilityTimeout <= 0 {
		return nil, NewError(ErrCodeValidation, "visibility timeout must be positive")
	}

	sess = s.session(sess)
	sub, err := s.getSubscription(ctx, sess, "name", subscriptionName, false)
	if err != nil {
		return nil, err
	}

	ids, err := s.FindConsumableEventsForSubscription(ctx, sess, sub, maxCount)
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		key := uuid.NewString()
		until := s.now().Add(visibilityTimeout)

		locked, err := s.TryLockConsumableEvent(ctx, sess, id.ID, id.DeliveryKey, key, until)
		if err != nil {
			return events, err
		}
		if !locked {
			s.logger.Debugf("Event %s was leased by another consumer", id.ID)
			continue
		}

		payload, err := s.GetPayload(ctx, sess, id.PayloadID)
		if err != nil && !IsNoData(err) {
			return events, err
		}
		if IsNoData(err) {
			s.logger.Warnf("Payload %s of event %s is missing", id.PayloadID, id.ID)
		}

		events = append(events, model.ConsumableEvent{
			ID:                 id.ID,
			SubscriptionID:     sub.ID,
			DeliveryKey:        key,
			FunctionalKey:      id.FunctionalKey,
			PayloadID:          id.PayloadID,
			Payload:            payload.Payload,
			Priority:           id.Priority,
			PublicationDateUtc: id.PublicationDateUtc,
			DeliveryCount:      id.DeliveryCount + 1,
			MaxDeliveries:      sub.MaxDeliveries,
			InvisibleUntilUtc:  until,
		})
	}

	span.SetAttributes(attribute.Int("eventing.leased", len(events)))
	return events, nil
}

// FailExpiredEvents moves up to limit unleased, expired events to the failed
// ledger with ReasonExpired and returns how many were moved.
func (s *Store) FailExpiredEvents(ctx context.Context, sess *Session, limit int) (int, error) {
	now := s.now()
	return s.failWhere(ctx, sess, "FailExpiredEvents", expiredQuery(s.tables, s.dialect, limit),
		[]interface{}{now, now}, model.Reason{Type: model.ReasonExpired})
}

// FailExhaustedEvents moves up to limit unleased events that reached their
// subscription's delivery ceiling to the failed ledger with
// ReasonMaxDeliveriesReached and returns how many were moved.
func (s *Store) FailExhaustedEvents(ctx context.Context, sess *Session, limit int) (int, error) {
	return s.failWhere(ctx, sess, "FailExhaustedEvents", exhaustedQuery(s.tables, s.dialect, limit),
		[]interface{}{s.now()}, model.Reason{Type: model.ReasonMaxDeliveriesReached})
}

// FailSupersededEvents moves up to limit unleased events of ordered
// subscriptions that were published no later than the last consumed event of
// their functional key to the failed ledger with ReasonSuperseded, and returns
// how many were moved. Such events arrived after a newer event of their key
// was consumed; they are never selectable and would otherwise block the key.
func (s *Store) FailSupersededEvents(ctx context.Context, sess *Session, limit int) (int, error) {
	return s.failWhere(ctx, sess, "FailSupersededEvents", supersededQuery(s.tables, s.dialect, limit),
		[]interface{}{true, s.now()}, model.Reason{Type: model.ReasonSuperseded})
}

func (s *Store) failWhere(ctx context.Context, sess *Session, name, query string, args []interface{}, reason model.Reason) (moved int, err error) {
	ctx, span := s.startSpan(ctx, name)
	defer func() {
		span.SetAttributes(attribute.Int("eventing.moved", moved))
		endSpan(span, err)
	}()

	sess = s.session(sess)
	rows, err := sess.Query(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, NewErrorWithCause(ErrCodeDatabase, "scan event id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, NewErrorWithCause(ErrCodeDatabase, "iterate event ids", err)
	}
	rows.Close()

	for _, id := range ids {
		se, err := s.GetSubscriptionEvent(ctx, sess, id)
		if err != nil {
			if IsNoData(err) {
				continue
			}
			return moved, err
		}
		if se.IsLeased(s.now()) {
			continue
		}

		err = sess.InTx(ctx, func(tx *Session) error {
			return s.fail(ctx, tx, se, reason)
		})
		if err != nil {
			if IsLeaseLost(err) {
				continue
			}
			return moved, err
		}
		moved++
	}
	return moved, nil
}

func traceAttempt(attempt int) trace.EventOption {
	return trace.WithAttributes(attribute.Int("eventing.attempt", attempt))
}
