package model

import (
	"database/sql"
	"fmt"
	"time"
)

// ReasonType classifies why a subscription event failed.
type ReasonType int

// Failure reasons.
const (
	ReasonOther                ReasonType = 0
	ReasonExpired              ReasonType = 1
	ReasonMaxDeliveriesReached ReasonType = 2
	ReasonRejected             ReasonType = 3
	ReasonSuperseded           ReasonType = 4
)

// String returns the reason name.
func (r ReasonType) String() string {
	switch r {
	case ReasonOther:
		return "other"
	case ReasonExpired:
		return "expired"
	case ReasonMaxDeliveriesReached:
		return "max_deliveries_reached"
	case ReasonRejected:
		return "rejected"
	case ReasonSuperseded:
		return "superseded"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// Reason describes a failure: a code plus optional free text.
type Reason struct {
	Type ReasonType
	Text string
}

// LastConsumedSubscriptionEvent records the publication time of the most
// recently consumed event per (subscription, functional key).
// FunctionalKey holds the folded key (see OrderingKey).
type LastConsumedSubscriptionEvent struct {
	SubscriptionID     string    `json:"subscriptionID" db:"subscription_id"`
	FunctionalKey      string    `json:"functionalKey" db:"functional_key"`
	PublicationDateUtc time.Time `json:"publicationDateUtc" db:"publication_date_utc"`
}

// TableName returns the database table name for LastConsumedSubscriptionEvent.
func (m LastConsumedSubscriptionEvent) TableName() string {
	return DefaultTablePrefix + TableLastConsumed
}

// ConsumedSubscriptionEvent is the append-only ledger row of a consumed event.
type ConsumedSubscriptionEvent struct {
	ID                 string         `json:"id" db:"id"`
	SubscriptionID     string         `json:"subscriptionID" db:"subscription_id"`
	PublicationDateUtc time.Time      `json:"publicationDateUtc" db:"publication_date_utc"`
	FunctionalKey      sql.NullString `json:"functionalKey" db:"functional_key"`
	Priority           int            `json:"priority" db:"priority"`
	PayloadID          string         `json:"payloadID" db:"payload_id"`
	DeliveryDateUtc    sql.NullTime   `json:"deliveryDateUtc" db:"delivery_date_utc"`
	ConsumedDateUtc    time.Time      `json:"consumedDateUtc" db:"consumed_date_utc"`
}

// TableName returns the database table name for ConsumedSubscriptionEvent.
func (m ConsumedSubscriptionEvent) TableName() string {
	return DefaultTablePrefix + TableConsumed
}

// NewConsumedSubscriptionEvent builds the ledger row for a consumed event.
func NewConsumedSubscriptionEvent(se SubscriptionEvent, consumedAt time.Time) ConsumedSubscriptionEvent {
	return ConsumedSubscriptionEvent{
		ID:                 se.ID,
		SubscriptionID:     se.SubscriptionID,
		PublicationDateUtc: se.PublicationDateUtc,
		FunctionalKey:      se.FunctionalKey,
		Priority:           se.Priority,
		PayloadID:          se.PayloadID,
		DeliveryDateUtc:    se.DeliveryDateUtc,
		ConsumedDateUtc:    consumedAt,
	}
}

// FailedSubscriptionEvent is the append-only ledger row of a failed event.
type FailedSubscriptionEvent struct {
	ID                 string         `json:"id" db:"id"`
	SubscriptionID     string         `json:"subscriptionID" db:"subscription_id"`
	PublicationDateUtc time.Time      `json:"publicationDateUtc" db:"publication_date_utc"`
	FunctionalKey      sql.NullString `json:"functionalKey" db:"functional_key"`
	Priority           int            `json:"priority" db:"priority"`
	PayloadID          string         `json:"payloadID" db:"payload_id"`
	DeliveryDateUtc    sql.NullTime   `json:"deliveryDateUtc" db:"delivery_date_utc"`
	FailedDateUtc      time.Time      `json:"failedDateUtc" db:"failed_date_utc"`
	Reason             ReasonType     `json:"reason" db:"reason"`
	ReasonOther        sql.NullString `json:"reasonOther" db:"reason_other"`
}

// TableName returns the database table name for FailedSubscriptionEvent.
func (m FailedSubscriptionEvent) TableName() string {
	return DefaultTablePrefix + TableFailed
}

// NewFailedSubscriptionEvent builds the ledger row for a failed event.
func NewFailedSubscriptionEvent(se SubscriptionEvent, failedAt time.Time, reason Reason) FailedSubscriptionEvent {
	return FailedSubscriptionEvent{
		ID:                 se.ID,
		SubscriptionID:     se.SubscriptionID,
		PublicationDateUtc: se.PublicationDateUtc,
		FunctionalKey:      se.FunctionalKey,
		Priority:           se.Priority,
		PayloadID:          se.PayloadID,
		DeliveryDateUtc:    se.DeliveryDateUtc,
		FailedDateUtc:      failedAt,
		Reason:             reason.Type,
		ReasonOther:        sql.NullString{String: reason.Text, Valid: reason.Text != ""},
	}
}

// LedgerStats summarizes row counts across the pending and terminal tables.
type LedgerStats struct {
	Pending  int64 `json:"pending"`
	Consumed int64 `json:"consumed"`
	Failed   int64 `json:"failed"`
	Payloads int64 `json:"payloads"`
}
