package model

import (
	"database/sql"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"golang.org/x/text/cases"
)

// TopicEvent is the immutable record of one publication on a topic.
type TopicEvent struct {
	ID                 string         `json:"id" db:"id"`
	TopicID            string         `json:"topicID" db:"topic_id"`
	FunctionalKey      sql.NullString `json:"functionalKey" db:"functional_key"`
	PublicationDateUtc time.Time      `json:"publicationDateUtc" db:"publication_date_utc"`
	ExpirationDateUtc  sql.NullTime   `json:"expirationDateUtc" db:"expiration_date_utc"`
	Headers            Headers        `json:"headers" db:"headers"`
	Priority           int            `json:"priority" db:"priority"`
	PayloadID          string         `json:"payloadID" db:"payload_id"`
}

// TableName returns the database table name for TopicEvent.
func (m TopicEvent) TableName() string {
	return DefaultTablePrefix + TableTopicEvent
}

// Validate implements validation.Validatable.
func (m TopicEvent) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.TopicID, validation.Required),
		validation.Field(&m.PayloadID, validation.Required),
		validation.Field(&m.PublicationDateUtc, validation.Required),
	)
}

// OrderingKey folds a functional key for ordering comparisons, so keys that
// differ only by case share one ordering group. Folding is locale independent.
// A null key stays null.
func OrderingKey(key sql.NullString) sql.NullString {
	if !key.Valid {
		return key
	}
	return sql.NullString{String: cases.Fold().String(key.String), Valid: true}
}

// SubscriptionEvent is the pending work item of one subscription.
// The row exists only until it is consumed or failed. A non-null DeliveryKey
// together with InvisibleUntilUtc in the future means the event is leased.
type SubscriptionEvent struct {
	ID                      string         `json:"id" db:"id"`
	SubscriptionID          string         `json:"subscriptionID" db:"subscription_id"`
	TopicEventID            string         `json:"topicEventID" db:"topic_event_id"`
	PublicationDateUtc      time.Time      `json:"publicationDateUtc" db:"publication_date_utc"`
	FunctionalKey           sql.NullString `json:"functionalKey" db:"functional_key"`
	Priority                int            `json:"priority" db:"priority"`
	PayloadID               string         `json:"payloadID" db:"payload_id"`
	ExpirationDateUtc       sql.NullTime   `json:"expirationDateUtc" db:"expiration_date_utc"`
	DeliveryDelayedUntilUtc sql.NullTime   `json:"deliveryDelayedUntilUtc" db:"delivery_delayed_until_utc"`
	DeliveryCount           int            `json:"deliveryCount" db:"delivery_count"`
	DeliveryDateUtc         sql.NullTime   `json:"deliveryDateUtc" db:"delivery_date_utc"`
	DeliveryKey             sql.NullString `json:"deliveryKey" db:"delivery_key"`
	InvisibleUntilUtc       sql.NullTime   `json:"invisibleUntilUtc" db:"invisible_until_utc"`
}

// TableName returns the database table name for SubscriptionEvent.
func (m SubscriptionEvent) TableName() string {
	return DefaultTablePrefix + TableSubscriptionEvent
}

// ResetDelivery clears all lease state. Subscription events are always
// inserted unleased.
func (m *SubscriptionEvent) ResetDelivery() {
	m.DeliveryCount = 0
	m.DeliveryDateUtc = sql.NullTime{}
	m.DeliveryKey = sql.NullString{}
	m.InvisibleUntilUtc = sql.NullTime{}
}

// IsLeased reports whether a consumer holds a live lease at now.
func (m SubscriptionEvent) IsLeased(now time.Time) bool {
	return m.DeliveryKey.Valid && m.InvisibleUntilUtc.Valid && m.InvisibleUntilUtc.Time.After(now)
}

// IsExpired reports whether the event outlived its expiration date.
func (m SubscriptionEvent) IsExpired(now time.Time) bool {
	return m.ExpirationDateUtc.Valid && !m.ExpirationDateUtc.Time.After(now)
}

// IsDelayed reports whether delivery is still postponed at now.
func (m SubscriptionEvent) IsDelayed(now time.Time) bool {
	return m.DeliveryDelayedUntilUtc.Valid && m.DeliveryDelayedUntilUtc.Time.After(now)
}

// HeldByOther reports whether the event is invisible at now under a delivery
// key different from deliveryKey. Keys compare case-insensitively.
func (m SubscriptionEvent) HeldByOther(deliveryKey string, now time.Time) bool {
	if m.DeliveryKey.Valid && strings.EqualFold(m.DeliveryKey.String, deliveryKey) {
		return false
	}
	if !m.DeliveryKey.Valid && deliveryKey == "" {
		return false
	}
	return m.InvisibleUntilUtc.Valid && m.InvisibleUntilUtc.Time.After(now)
}

// ReachedCeiling reports whether the delivery count hit maxDeliveries.
// Zero maxDeliveries never reaches a ceiling.
func (m SubscriptionEvent) ReachedCeiling(maxDeliveries int) bool {
	return maxDeliveries > 0 && m.DeliveryCount >= maxDeliveries
}

// SubscriptionEventIdentifier is the lightweight row returned by candidate
// selection.
type SubscriptionEventIdentifier struct {
	ID                 string         `json:"id" db:"id"`
	DeliveryKey        sql.NullString `json:"deliveryKey" db:"delivery_key"`
	FunctionalKey      sql.NullString `json:"functionalKey" db:"functional_key"`
	PayloadID          string         `json:"payloadID" db:"payload_id"`
	Priority           int            `json:"priority" db:"priority"`
	PublicationDateUtc time.Time      `json:"publicationDateUtc" db:"publication_date_utc"`
	DeliveryCount      int            `json:"deliveryCount" db:"delivery_count"`
}

// ConsumableEvent is a leased event handed to a consumer.
// DeliveryKey must be presented back when completing the event.
type ConsumableEvent struct {
	ID                 string
	SubscriptionID     string
	DeliveryKey        string
	FunctionalKey      sql.NullString
	PayloadID          string
	Payload            string
	Priority           int
	PublicationDateUtc time.Time
	DeliveryCount      int
	MaxDeliveries      int
	InvisibleUntilUtc  time.Time
}

// LastAttempt reports whether this lease is the final one the subscription allows.
func (e ConsumableEvent) LastAttempt() bool {
	return e.MaxDeliveries > 0 && e.DeliveryCount >= e.MaxDeliveries
}
