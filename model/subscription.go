package model

import (
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Subscription is a named consumer of one or more topics with its own
// delivery policy.
//
// DeliveryDelay and TimeToLive are stored in whole seconds; zero disables them.
// MaxDeliveries of zero means unlimited lease attempts.
type Subscription struct {
	ID            string `json:"id" db:"id"`
	Name          string `json:"name" db:"name"`
	DeliveryDelay int    `json:"deliveryDelay" db:"delivery_delay"` // seconds
	MaxDeliveries int    `json:"maxDeliveries" db:"max_deliveries"`
	Ordered       bool   `json:"ordered" db:"ordered"`
	TimeToLive    int    `json:"timeToLive" db:"time_to_live"` // seconds

	// TopicSubscriptions are the topic links of this subscription.
	// Loaded by GetSubscription/GetSubscriptionByName, replaced wholesale on update.
	TopicSubscriptions []TopicSubscription `json:"topicSubscriptions,omitempty" db:"-"`
}

// TableName returns the database table name for Subscription.
func (m Subscription) TableName() string {
	return DefaultTablePrefix + TableSubscription
}

// NewSubscription creates an unordered subscription without delay, TTL or
// delivery ceiling.
func NewSubscription(name string) Subscription {
	return Subscription{Name: name}
}

// DeliveryDelayDuration returns DeliveryDelay as a time.Duration.
func (m Subscription) DeliveryDelayDuration() time.Duration {
	return time.Duration(m.DeliveryDelay) * time.Second
}

// TimeToLiveDuration returns TimeToLive as a time.Duration.
func (m Subscription) TimeToLiveDuration() time.Duration {
	return time.Duration(m.TimeToLive) * time.Second
}

// HasDeliveryCeiling reports whether lease attempts are bounded.
func (m Subscription) HasDeliveryCeiling() bool {
	return m.MaxDeliveries > 0
}

// LinkedTo reports whether the subscription has a link to the topic.
func (m Subscription) LinkedTo(topicID string) bool {
	for _, ts := range m.TopicSubscriptions {
		if ts.TopicID == topicID {
			return true
		}
	}
	return false
}

// Link adds an enabled link to the topic. Passing filters makes it a filtered
// link; every filter must match for an event to be fanned out.
func (m *Subscription) Link(topicID string, filters ...TopicSubscriptionFilter) {
	m.TopicSubscriptions = append(m.TopicSubscriptions, TopicSubscription{
		TopicID:  topicID,
		Enabled:  true,
		Filtered: len(filters) > 0,
		Filters:  filters,
	})
}

// Validate checks the subscription and its links before they are written.
func (m Subscription) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Name, validation.Required, validation.Length(1, 250)),
		validation.Field(&m.DeliveryDelay, validation.Min(0)),
		validation.Field(&m.MaxDeliveries, validation.Min(0)),
		validation.Field(&m.TimeToLive, validation.Min(0)),
		validation.Field(&m.TopicSubscriptions),
	)
}

// TopicSubscription links a subscription to a topic.
// A filtered link only fans out events whose headers match every filter.
type TopicSubscription struct {
	ID             string `json:"id" db:"id"`
	TopicID        string `json:"topicID" db:"topic_id"`
	SubscriptionID string `json:"subscriptionID" db:"subscription_id"`
	Enabled        bool   `json:"enabled" db:"enabled"`
	Filtered       bool   `json:"filtered" db:"filtered"`

	Filters []TopicSubscriptionFilter `json:"filters,omitempty" db:"-"`
}

// TableName returns the database table name for TopicSubscription.
func (m TopicSubscription) TableName() string {
	return DefaultTablePrefix + TableTopicSubscription
}

// Accepts reports whether an event with the given headers should be fanned
// out through this link.
func (m TopicSubscription) Accepts(headers Headers) bool {
	if !m.Enabled {
		return false
	}
	if !m.Filtered {
		return true
	}
	for _, f := range m.Filters {
		if !f.Matches(headers) {
			return false
		}
	}
	return true
}

// Validate implements validation.Validatable.
func (m TopicSubscription) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.TopicID, validation.Required),
		validation.Field(&m.Filters),
	)
}

// TopicSubscriptionFilter is a header-matching rule on a topic link.
// MatchExpression is a regular expression applied to the header value.
type TopicSubscriptionFilter struct {
	ID                  string `json:"id" db:"id"`
	TopicSubscriptionID string `json:"topicSubscriptionID" db:"topic_subscription_id"`
	Header              string `json:"header" db:"header"`
	MatchExpression     string `json:"matchExpression" db:"match_expression"`
}

// TableName returns the database table name for TopicSubscriptionFilter.
func (m TopicSubscriptionFilter) TableName() string {
	return DefaultTablePrefix + TableTopicSubscriptionFilter
}

// Matches reports whether headers carry the filtered header with a value
// matching the expression. An invalid expression never matches.
func (m TopicSubscriptionFilter) Matches(headers Headers) bool {
	v, ok := headers[m.Header]
	if !ok {
		return false
	}
	re, err := regexp.Compile(m.MatchExpression)
	if err != nil {
		return false
	}
	return re.MatchString(v)
}

// Validate implements validation.Validatable.
func (m TopicSubscriptionFilter) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Header, validation.Required, validation.Length(1, 250)),
		validation.Field(&m.MatchExpression, validation.Required, validation.By(validRegexp)),
	)
}

func validRegexp(value interface{}) error {
	s, _ := value.(string)
	_, err := regexp.Compile(s)
	return err
}
