package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEngineError_Error(t *testing.T) {
	err := New(ErrHashMismatch, "资源哈希不匹配")
	assert.Equal(t, "[1002] 资源哈希不匹配", err.Error())

	err = NewWithDetails(ErrNetwork, "网络错误", "connection refused")
	assert.Equal(t, "[1003] 网络错误: connection refused", err.Error())
}

func TestEngineError_IsMatchesByCode(t *testing.T) {
	err := Wrap(ErrHashMismatch, "admit failed", fmt.Errorf("boom"))
	wrapped := fmt.Errorf("fetch asset: %w", err)

	assert.True(t, stderrors.Is(wrapped, ErrHashMismatchMsg))
	assert.False(t, stderrors.Is(wrapped, ErrNetworkMsg))
	assert.Equal(t, ErrHashMismatch, CodeOf(wrapped))
}

func TestIsCode_NestedEngineErrors(t *testing.T) {
	inner := Wrap(ErrNetwork, "GET failed", fmt.Errorf("timeout"))
	outer := Wrap(ErrInternal, "download failed", inner)

	assert.True(t, IsCode(outer, ErrNetwork))
	assert.True(t, IsCode(outer, ErrInternal))
	assert.False(t, IsCode(outer, ErrDatabase))
	assert.True(t, IsRetryable(outer))
	assert.False(t, IsRetryable(ErrHashMismatchMsg))
}

func TestCodeOf_PlainError(t *testing.T) {
	assert.Equal(t, Success, CodeOf(nil))
	assert.Equal(t, ErrInternal, CodeOf(fmt.Errorf("plain")))
}

func TestHTTPStatus(t *testing.T) {
	testCases := []struct {
		code   ErrorCode
		status int
	}{
		{ErrInvalidParams, 400},
		{ErrUnauthorized, 401},
		{ErrIllegalTransition, 409},
		{ErrHashMismatch, 422},
		{ErrUpdateNotFound, 404},
		{ErrInsufficientStorage, 507},
		{ErrDatabase, 500},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.status, New(tc.code, "x").HTTPStatus(), "code %d", tc.code)
	}
}
