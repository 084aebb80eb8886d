package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopic_TableName(t *testing.T) {
	topic := Topic{}
	assert.Equal(t, "eventing_topic", topic.TableName())
}

func TestNewTopic(t *testing.T) {
	topic := NewTopic("orders", "order lifecycle events")

	assert.Empty(t, topic.ID)
	assert.Equal(t, "orders", topic.Name)
	assert.Equal(t, "order lifecycle events", topic.Notes)
}

func TestTopic_Validate(t *testing.T) {
	assert.NoError(t, NewTopic("orders", "").Validate())
	assert.Error(t, NewTopic("", "notes").Validate())
}
