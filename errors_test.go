package eventing

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Error(t *testing.T) {
	assert.Equal(t, "NO_DATA: topic not found", NewError(ErrCodeNoData, "topic not found").Error())
	assert.Equal(t, "DATABASE_ERROR: exec: boom",
		NewErrorWithCause(ErrCodeDatabase, "exec", errors.New("boom")).Error())
}

func TestError_IsMatchesByCode(t *testing.T) {
	err := NewErrorWithCause(ErrCodeLeaseTaken, "held by another consumer", errors.New("x"))
	wrapped := fmt.Errorf("consume: %w", err)

	assert.True(t, errors.Is(wrapped, ErrLeaseTaken))
	assert.False(t, errors.Is(wrapped, ErrLeaseExpired))
	assert.True(t, IsLeaseLost(wrapped))
	assert.True(t, IsLeaseLost(ErrLeaseExpired))
	assert.False(t, IsLeaseLost(ErrNoData))
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("driver failure")
	err := NewErrorWithCause(ErrCodeDatabase, "exec", cause)

	assert.True(t, errors.Is(err, cause))
	assert.True(t, isDatabaseError(err))
	assert.False(t, isDatabaseError(cause))
}

func TestErrorPredicates(t *testing.T) {
	assert.True(t, IsNoData(NewError(ErrCodeNoData, "gone")))
	assert.False(t, IsNoData(errors.New("gone")))
	assert.True(t, IsRetryExhausted(NewErrorWithCause(ErrCodeRetryExhausted, "mark consumed", errors.New("busy"))))
	assert.False(t, IsRetryExhausted(nil))
}
