package sqlite

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"

	"github.com/coregx/eventing"
	"github.com/coregx/eventing/model"
)

type recordingExecer struct {
	query string
	args  []interface{}
}

func (r *recordingExecer) Exec(_ context.Context, query string, args ...interface{}) (int64, error) {
	r.query = query
	r.args = args
	return 1, nil
}

func TestDialect_Name(t *testing.T) {
	assert.Equal(t, "sqlite3", New().Name())
}

func TestDialect_ResultLimitClause(t *testing.T) {
	clause, placement := New().ResultLimitClause(25)
	assert.Equal(t, "LIMIT 25", clause)
	assert.Equal(t, eventing.LimitAtEnd, placement)
}

func TestDialect_IsRetryable(t *testing.T) {
	d := New()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"busy", sqlite3.Error{Code: sqlite3.ErrBusy}, true},
		{"locked", sqlite3.Error{Code: sqlite3.ErrLocked}, true},
		{"constraint", sqlite3.Error{Code: sqlite3.ErrConstraint}, false},
		{"wrapped busy", eventing.NewErrorWithCause(eventing.ErrCodeDatabase, "exec", sqlite3.Error{Code: sqlite3.ErrBusy}), true},
		{"fmt wrapped", fmt.Errorf("outer: %w", sqlite3.Error{Code: sqlite3.ErrLocked}), true},
		{"other", errors.New("boom"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, d.IsRetryable(tt.err, 1))
		})
	}
}

func TestDialect_UpsertLastConsumed(t *testing.T) {
	exec := &recordingExecer{}
	lc := model.LastConsumedSubscriptionEvent{SubscriptionID: "s1", FunctionalKey: "cust-1"}

	n, err := New().UpsertLastConsumed(context.Background(), exec, "eventing_last_consumed_subscription_event", lc)

	assert.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Contains(t, exec.query, "ON CONFLICT (subscription_id, functional_key) DO UPDATE")
	assert.Equal(t, []interface{}{"s1", "cust-1", lc.PublicationDateUtc}, exec.args)
}
