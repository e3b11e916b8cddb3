package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReconcileError_Error(t *testing.T) {
	err := newOpError(ErrCodeCreateFailed, "c-1", "alice", "create session", ErrUnavailable)
	assert.Equal(t, "CREATE_FAILED: create session (account=alice): engine: directory unavailable", err.Error())

	bare := &ReconcileError{Code: ErrCodeCancelled, Message: "signed out"}
	assert.Equal(t, "CANCELLED: signed out", bare.Error())
}

func TestReconcileError_Wrapping(t *testing.T) {
	inner := newOpError(ErrCodeFetchFailed, "c-1", "", "list sessions", ErrUnauthorized)
	wrapped := fmt.Errorf("cycle: %w", inner)

	assert.True(t, IsFetchError(wrapped), "errors.As sees through wrapping")
	assert.False(t, IsCancelled(wrapped))
	assert.True(t, errors.Is(wrapped, ErrUnauthorized), "boundary sentinel stays reachable")
	assert.Equal(t, ErrCodeFetchFailed, CodeOf(wrapped))
}

func TestCodeOf_PlainError(t *testing.T) {
	assert.Equal(t, ReconcileErrorCode(""), CodeOf(errors.New("boom")))
	assert.Equal(t, ReconcileErrorCode(""), CodeOf(nil))
}
