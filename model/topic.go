package model

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Topic represents a named publication channel.
// Topics own subscriptions only indirectly, through TopicSubscription links.
type Topic struct {
	ID    string `json:"id" db:"id"`     // Unique topic ID
	Name  string `json:"name" db:"name"` // Unique topic name (e.g., "orders")
	Notes string `json:"notes" db:"notes"`
}

// TableName returns the database table name for Topic.
func (t Topic) TableName() string {
	return DefaultTablePrefix + TableTopic
}

// NewTopic creates a new topic that has not been stored yet.
func NewTopic(name, notes string) Topic {
	return Topic{
		Name:  name,
		Notes: notes,
	}
}

// Validate checks the topic before it is written.
func (t Topic) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.Name, validation.Required, validation.Length(1, 250)),
		validation.Field(&t.Notes, validation.Length(0, 1000)),
	)
}
