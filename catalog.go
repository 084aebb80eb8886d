package eventing

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/coregx/eventing/model"
)

const (
	topicColumns        = "id, name, notes"
	subscriptionColumns = "id, name, delivery_delay, max_deliveries, ordered, time_to_live"
	linkColumns         = "id, topic_id, subscription_id, enabled, filtered"
	filterColumns       = "id, topic_subscription_id, header, match_expression"
)

// GetTopics returns topics whose name contains partOfName, ordered by name.
// An empty partOfName returns every topic.
func (s *Store) GetTopics(ctx context.Context, sess *Session, partOfName string) ([]model.Topic, error) {
	sess = s.session(sess)

	query := "SELECT " + topicColumns + " FROM " + s.tables.topic
	var args []interface{}
	if partOfName != "" {
		query += " WHERE name LIKE ?"
		args = append(args, "%"+partOfName+"%")
	}
	query += " ORDER BY name"

	rows, err := sess.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var topics []model.Topic
	for rows.Next() {
		var t model.Topic
		if err := rows.Scan(&t.ID, &t.Name, &t.Notes); err != nil {
			return nil, NewErrorWithCause(ErrCodeDatabase, "scan topic", err)
		}
		topics = append(topics, t)
	}
	if err := rows.Err(); err != nil {
		return nil, NewErrorWithCause(ErrCodeDatabase, "iterate topics", err)
	}
	return topics, nil
}

// GetTopic loads a topic by id. Returns ErrNoData if it does not exist.
func (s *Store) GetTopic(ctx context.Context, sess *Session, id string) (model.Topic, error) {
	return s.getTopic(ctx, s.session(sess), "id", id)
}

// GetTopicByName loads a topic by its unique name. Returns ErrNoData if it
// does not exist.
func (s *Store) GetTopicByName(ctx context.Context, sess *Session, name string) (model.Topic, error) {
	return s.getTopic(ctx, s.session(sess), "name", name)
}

func (s *Store) getTopic(ctx context.Context, sess *Session, column, value string) (model.Topic, error) {
	var t model.Topic
	row := sess.QueryRow(ctx, "SELECT "+topicColumns+" FROM "+s.tables.topic+" WHERE "+column+" = ?", value)
	if err := scanRow(row, "topic", &t.ID, &t.Name, &t.Notes); err != nil {
		return model.Topic{}, err
	}
	return t, nil
}

// AddOrUpdateTopic updates the topic with topic.ID, or inserts it when no
// such topic exists. Inserted topics get a fresh id, written back to topic
// once the write succeeded.
func (s *Store) AddOrUpdateTopic(ctx context.Context, sess *Session, topic *model.Topic) error {
	if err := topic.Validate(); err != nil {
		return NewErrorWithCause(ErrCodeValidation, "invalid topic", err)
	}

	id := topic.ID
	err := s.session(sess).InTx(ctx, func(tx *Session) error {
		exists, err := s.exists(ctx, tx, s.tables.topic, id)
		if err != nil {
			return err
		}

		if exists {
			_, err = tx.Exec(ctx, "UPDATE "+s.tables.topic+" SET name = ?, notes = ? WHERE id = ?",
				topic.Name, topic.Notes, id)
			return err
		}

		id = uuid.NewString()
		_, err = tx.Exec(ctx, "INSERT INTO "+s.tables.topic+" ("+topicColumns+") VALUES (?, ?, ?)",
			id, topic.Name, topic.Notes)
		return err
	})
	if err != nil {
		return err
	}

	topic.ID = id
	return nil
}

// DeleteTopic deletes a topic. With inclSubscriptions set, every topic link
// (and its filters) pointing at the topic is removed first; the subscriptions
// themselves are kept. Deleting a missing topic is not an error.
func (s *Store) DeleteTopic(ctx context.Context, sess *Session, id string, inclSubscriptions bool) error {
	return s.session(sess).InTx(ctx, func(tx *Session) error {
		if inclSubscriptions {
			if _, err := tx.Exec(ctx,
				"DELETE FROM "+s.tables.filter+" WHERE topic_subscription_id IN (SELECT id FROM "+
					s.tables.topicSubscription+" WHERE topic_id = ?)", id); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, "DELETE FROM "+s.tables.topicSubscription+" WHERE topic_id = ?", id); err != nil {
				return err
			}
		}
		_, err := tx.Exec(ctx, "DELETE FROM "+s.tables.topic+" WHERE id = ?", id)
		return err
	})
}

// GetSubscriptions returns subscriptions ordered by name. A non-empty topicID
// restricts the result to subscriptions linked to that topic. Topic links are
// not loaded.
func (s *Store) GetSubscriptions(ctx context.Context, sess *Session, topicID string) ([]model.Subscription, error) {
	sess = s.session(sess)

	query := "SELECT " + subscriptionColumns + " FROM " + s.tables.subscription + " s"
	var args []interface{}
	if topicID != "" {
		query += " WHERE EXISTS (SELECT 1 FROM " + s.tables.topicSubscription +
			" ts WHERE ts.subscription_id = s.id AND ts.topic_id = ?)"
		args = append(args, topicID)
	}
	query += " ORDER BY name"

	rows, err := sess.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []model.Subscription
	for rows.Next() {
		var sub model.Subscription
		if err := rows.Scan(&sub.ID, &sub.Name, &sub.DeliveryDelay, &sub.MaxDeliveries, &sub.Ordered, &sub.TimeToLive); err != nil {
			return nil, NewErrorWithCause(ErrCodeDatabase, "scan subscription", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, NewErrorWithCause(ErrCodeDatabase, "iterate subscriptions", err)
	}
	return subs, nil
}

// GetSubscription loads a subscription with its topic links and filters.
// Returns ErrNoData if it does not exist.
func (s *Store) GetSubscription(ctx context.Context, sess *Session, id string) (model.Subscription, error) {
	return s.getSubscription(ctx, s.session(sess), "id", id, true)
}

// GetSubscriptionByName loads a subscription by its unique name, with topic
// links and filters. Returns ErrNoData if it does not exist.
func (s *Store) GetSubscriptionByName(ctx context.Context, sess *Session, name string) (model.Subscription, error) {
	return s.getSubscription(ctx, s.session(sess), "name", name, true)
}

func (s *Store) getSubscription(ctx context.Context, sess *Session, column, value string, withLinks bool) (model.Subscription, error) {
	var sub model.Subscription
	row := sess.QueryRow(ctx, "SELECT "+subscriptionColumns+" FROM "+s.tables.subscription+" WHERE "+column+" = ?", value)
	if err := scanRow(row, "subscription",
		&sub.ID, &sub.Name, &sub.DeliveryDelay, &sub.MaxDeliveries, &sub.Ordered, &sub.TimeToLive); err != nil {
		return model.Subscription{}, err
	}
	if !withLinks {
		return sub, nil
	}

	links, err := s.loadLinks(ctx, sess, "subscription_id", sub.ID)
	if err != nil {
		return model.Subscription{}, err
	}
	sub.TopicSubscriptions = links
	return sub, nil
}

// loadLinks loads topic links filtered by column = value, with filters.
func (s *Store) loadLinks(ctx context.Context, sess *Session, column, value string) ([]model.TopicSubscription, error) {
	rows, err := sess.Query(ctx,
		"SELECT "+linkColumns+" FROM "+s.tables.topicSubscription+" WHERE "+column+" = ? ORDER BY id", value)
	if err != nil {
		return nil, err
	}

	var links []model.TopicSubscription
	index := make(map[string]int)
	for rows.Next() {
		var ts model.TopicSubscription
		if err := rows.Scan(&ts.ID, &ts.TopicID, &ts.SubscriptionID, &ts.Enabled, &ts.Filtered); err != nil {
			rows.Close()
			return nil, NewErrorWithCause(ErrCodeDatabase, "scan topic subscription", err)
		}
		index[ts.ID] = len(links)
		links = append(links, ts)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, NewErrorWithCause(ErrCodeDatabase, "iterate topic subscriptions", err)
	}
	rows.Close()

	if len(links) == 0 {
		return links, nil
	}

	rows, err = sess.Query(ctx,
		"SELECT f.id, f.topic_subscription_id, f.header, f.match_expression FROM "+s.tables.filter+
			" f INNER JOIN "+s.tables.topicSubscription+" ts ON ts.id = f.topic_subscription_id WHERE ts."+
			column+" = ? ORDER BY f.id", value)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var f model.TopicSubscriptionFilter
		if err := rows.Scan(&f.ID, &f.TopicSubscriptionID, &f.Header, &f.MatchExpression); err != nil {
			return nil, NewErrorWithCause(ErrCodeDatabase, "scan topic subscription filter", err)
		}
		if i, ok := index[f.TopicSubscriptionID]; ok {
			links[i].Filters = append(links[i].Filters, f)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, NewErrorWithCause(ErrCodeDatabase, "iterate topic subscription filters", err)
	}
	return links, nil
}

// AddOrUpdateSubscription updates the subscription with sub.ID, replacing its
// topic links wholesale, or inserts it with a fresh id when it does not exist.
// Links and filters always get fresh ids. All of it runs in one transaction;
// sub is left untouched when it fails.
func (s *Store) AddOrUpdateSubscription(ctx context.Context, sess *Session, sub *model.Subscription) error {
	if err := sub.Validate(); err != nil {
		return NewErrorWithCause(ErrCodeValidation, "invalid subscription", err)
	}

	staged := *sub
	staged.TopicSubscriptions = cloneLinks(sub.TopicSubscriptions)

	err := s.session(sess).InTx(ctx, func(tx *Session) error {
		sub := &staged
		exists, err := s.exists(ctx, tx, s.tables.subscription, sub.ID)
		if err != nil {
			return err
		}

		if exists {
			if _, err := tx.Exec(ctx,
				"UPDATE "+s.tables.subscription+
					" SET name = ?, delivery_delay = ?, max_deliveries = ?, ordered = ?, time_to_live = ? WHERE id = ?",
				sub.Name, sub.DeliveryDelay, sub.MaxDeliveries, sub.Ordered, sub.TimeToLive, sub.ID); err != nil {
				return err
			}
			if err := s.removeLinks(ctx, tx, sub.ID); err != nil {
				return err
			}
		} else {
			sub.ID = uuid.NewString()
			if _, err := tx.Exec(ctx,
				"INSERT INTO "+s.tables.subscription+" ("+subscriptionColumns+") VALUES (?, ?, ?, ?, ?, ?)",
				sub.ID, sub.Name, sub.DeliveryDelay, sub.MaxDeliveries, sub.Ordered, sub.TimeToLive); err != nil {
				return err
			}
		}

		return s.addLinks(ctx, tx, sub)
	})
	if err != nil {
		return err
	}

	*sub = staged
	return nil
}

// cloneLinks copies links and their filters so ids can be assigned without
// touching the caller's slices.
func cloneLinks(links []model.TopicSubscription) []model.TopicSubscription {
	if links == nil {
		return nil
	}
	out := make([]model.TopicSubscription, len(links))
	for i, ts := range links {
		ts.Filters = append([]model.TopicSubscriptionFilter(nil), ts.Filters...)
		out[i] = ts
	}
	return out
}

func (s *Store) addLinks(ctx context.Context, tx *Session, sub *model.Subscription) error {
	for i := range sub.TopicSubscriptions {
		ts := &sub.TopicSubscriptions[i]
		ts.ID = uuid.NewString()
		ts.SubscriptionID = sub.ID

		if _, err := tx.Exec(ctx,
			"INSERT INTO "+s.tables.topicSubscription+" ("+linkColumns+") VALUES (?, ?, ?, ?, ?)",
			ts.ID, ts.TopicID, ts.SubscriptionID, ts.Enabled, ts.Filtered); err != nil {
			return err
		}

		for j := range ts.Filters {
			f := &ts.Filters[j]
			f.ID = uuid.NewString()
			f.TopicSubscriptionID = ts.ID

			if _, err := tx.Exec(ctx,
				"INSERT INTO "+s.tables.filter+" ("+filterColumns+") VALUES (?, ?, ?, ?)",
				f.ID, f.TopicSubscriptionID, f.Header, f.MatchExpression); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) removeLinks(ctx context.Context, tx *Session, subscriptionID string) error {
	if _, err := tx.Exec(ctx,
		"DELETE FROM "+s.tables.filter+" WHERE topic_subscription_id IN (SELECT id FROM "+
			s.tables.topicSubscription+" WHERE subscription_id = ?)", subscriptionID); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, "DELETE FROM "+s.tables.topicSubscription+" WHERE subscription_id = ?", subscriptionID)
	return err
}

// DeleteSubscription removes a subscription and its topic links. Pending
// subscription events are left for the janitor.
func (s *Store) DeleteSubscription(ctx context.Context, sess *Session, id string) error {
	return s.session(sess).InTx(ctx, func(tx *Session) error {
		if err := s.removeLinks(ctx, tx, id); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, "DELETE FROM "+s.tables.subscription+" WHERE id = ?", id)
		return err
	})
}

// LinkedSubscriptions returns every subscription with an enabled link to
// topicID, each carrying only that link (and its filters).
func (s *Store) LinkedSubscriptions(ctx context.Context, sess *Session, topicID string) ([]model.Subscription, error) {
	sess = s.session(sess)

	links, err := s.loadLinks(ctx, sess, "topic_id", topicID)
	if err != nil {
		return nil, err
	}

	subs := make([]model.Subscription, 0, len(links))
	for _, link := range links {
		if !link.Enabled {
			continue
		}
		sub, err := s.getSubscription(ctx, sess, "id", link.SubscriptionID, false)
		if err != nil {
			if IsNoData(err) {
				continue
			}
			return nil, err
		}
		sub.TopicSubscriptions = []model.TopicSubscription{link}
		subs = append(subs, sub)
	}
	return subs, nil
}

func (s *Store) exists(ctx context.Context, sess *Session, table, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	var n int64
	row := sess.QueryRow(ctx, "SELECT COUNT(*) FROM "+table+" WHERE id = ?", id)
	if err := row.Scan(&n); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, NewErrorWithCause(ErrCodeDatabase, fmt.Sprintf("check %s", table), err)
	}
	return n > 0, nil
}
