package mysql

import (
	"context"
	"errors"
	"testing"

	driver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coregx/eventing"
	"github.com/coregx/eventing/model"
)

type recordingExecer struct {
	query string
}

func (r *recordingExecer) Exec(_ context.Context, query string, _ ...interface{}) (int64, error) {
	r.query = query
	return 2, nil
}

func TestDialect_IsRetryable(t *testing.T) {
	d := New()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"deadlock", &driver.MySQLError{Number: 1213}, true},
		{"lock wait timeout", &driver.MySQLError{Number: 1205}, true},
		{"duplicate entry", &driver.MySQLError{Number: 1062}, false},
		{"wrapped deadlock", eventing.NewErrorWithCause(eventing.ErrCodeDatabase, "exec", &driver.MySQLError{Number: 1213}), true},
		{"other", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, d.IsRetryable(tt.err, 1))
		})
	}
}

func TestDialect_LimitAndName(t *testing.T) {
	d := New()
	clause, placement := d.ResultLimitClause(5)

	assert.Equal(t, "mysql", d.Name())
	assert.Equal(t, "LIMIT 5", clause)
	assert.Equal(t, eventing.LimitAtEnd, placement)
}

func TestDialect_UpsertLastConsumed(t *testing.T) {
	exec := &recordingExecer{}

	n, err := New().UpsertLastConsumed(context.Background(), exec, "t", model.LastConsumedSubscriptionEvent{})

	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Contains(t, exec.query, "ON DUPLICATE KEY UPDATE publication_date_utc = VALUES(publication_date_utc)")
}

func TestConfig(t *testing.T) {
	dsn, err := Config("broker:secret@tcp(localhost:3306)/broker")
	require.NoError(t, err)

	cfg, err := driver.ParseDSN(dsn)
	require.NoError(t, err)
	assert.True(t, cfg.ParseTime)
	assert.True(t, cfg.ClientFoundRows)
	assert.Equal(t, "UTC", cfg.Loc.String())
	assert.Equal(t, "broker", cfg.DBName)

	_, err = Config("not a dsn")
	assert.Error(t, err)
}
