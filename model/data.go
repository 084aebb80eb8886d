// Package model contains all domain models and data structures for the eventing system.
package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// DefaultTablePrefix is prepended to every table name unless a store is
// configured with a custom prefix.
const DefaultTablePrefix = "eventing_"

// Base table names, without prefix.
const (
	TableTopic                   = "topic"
	TableSubscription            = "subscription"
	TableTopicSubscription       = "topic_subscription"
	TableTopicSubscriptionFilter = "topic_subscription_filter"
	TableEventPayload            = "event_payload"
	TableTopicEvent              = "topic_event"
	TableSubscriptionEvent       = "subscription_event"
	TableLastConsumed            = "last_consumed_subscription_event"
	TableConsumed                = "consumed_subscription_event"
	TableFailed                  = "failed_subscription_event"
)

// Headers represents the key-value metadata published with a topic event.
// Headers are persisted as a JSON object.
type Headers map[string]string

// Value implements driver.Valuer.
func (h Headers) Value() (driver.Value, error) {
	if h == nil {
		return nil, nil
	}
	b, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (h *Headers) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*h = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("headers: unsupported source type %T", src)
	}
	if len(raw) == 0 {
		*h = nil
		return nil
	}
	return json.Unmarshal(raw, h)
}

// EventPayload is the opaque body of a published event, stored once and
// referenced by every topic and subscription event fanned out from it.
type EventPayload struct {
	ID      string `json:"id" db:"id"`
	Payload string `json:"payload" db:"payload"`
}

// TableName returns the database table name for EventPayload.
func (p EventPayload) TableName() string {
	return DefaultTablePrefix + TableEventPayload
}
