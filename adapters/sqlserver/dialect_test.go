package sqlserver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coregx/eventing"
	"github.com/coregx/eventing/model"
)

type fakeServerError struct {
	number int32
}

func (e fakeServerError) Error() string         { return "mssql: error" }
func (e fakeServerError) SQLErrorNumber() int32 { return e.number }

type recordingExecer struct {
	query string
	args  []interface{}
}

func (r *recordingExecer) Exec(_ context.Context, query string, args ...interface{}) (int64, error) {
	r.query = query
	r.args = args
	return 1, nil
}

func TestDialect_ResultLimitClause(t *testing.T) {
	clause, placement := New().ResultLimitClause(10)

	assert.Equal(t, "TOP (10)", clause)
	assert.Equal(t, eventing.LimitInSelector, placement)
}

func TestDialect_IsRetryable(t *testing.T) {
	d := New()

	assert.True(t, d.IsRetryable(fakeServerError{number: 1205}, 1))
	assert.True(t, d.IsRetryable(fakeServerError{number: 1222}, 1))
	assert.True(t, d.IsRetryable(eventing.NewErrorWithCause(eventing.ErrCodeDatabase, "exec", fakeServerError{number: 1205}), 2))
	assert.False(t, d.IsRetryable(fakeServerError{number: 2627}, 1))
	assert.False(t, d.IsRetryable(errors.New("boom"), 1))
}

func TestDialect_Rebind(t *testing.T) {
	assert.Equal(t, "SELECT a FROM t WHERE b = @p1 AND c = @p2", New().Rebind("SELECT a FROM t WHERE b = ? AND c = ?"))
}

func TestDialect_UpsertLastConsumed(t *testing.T) {
	exec := &recordingExecer{}
	lc := model.LastConsumedSubscriptionEvent{SubscriptionID: "s1", FunctionalKey: "k"}

	n, err := New().UpsertLastConsumed(context.Background(), exec, "lc", lc)

	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Contains(t, exec.query, "MERGE lc WITH (HOLDLOCK)")
	assert.Len(t, exec.args, 3)
}
