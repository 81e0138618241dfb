package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	err := NewTransportError("send buffer full", fmt.Errorf("256 frames queued"))
	assert.Equal(t, "[TRANSPORT] send buffer full: 256 frames queued", err.Error())

	assert.Equal(t, "[NOT_FOUND] connection not found", NewNotFoundError("connection").Error())
}

func TestAppError_UnwrapAndIs(t *testing.T) {
	cause := fmt.Errorf("dial tcp: refused")
	err := fmt.Errorf("bridge: %w", NewNetworkError("redis publish failed", cause))

	assert.True(t, stderrors.Is(err, cause))
	assert.True(t, IsType(err, ErrTypeNetwork))
	assert.False(t, IsType(err, ErrTypeStorage))
	assert.Equal(t, ErrorType(""), TypeOf(fmt.Errorf("plain")))

	sentinel := NewValidationError("any").WithCode("RATE_LIMITED")
	assert.True(t, stderrors.Is(NewValidationError("slow down").WithCode("RATE_LIMITED"), sentinel))
	assert.False(t, stderrors.Is(NewValidationError("too long"), sentinel))
}

func TestAppError_CodeDefaultsToType(t *testing.T) {
	tests := []struct {
		err  *AppError
		code string
	}{
		{NewAuthorizationError("x"), "AUTHORIZATION"},
		{NewValidationError("x"), "VALIDATION"},
		{NewNotFoundError("x"), "NOT_FOUND"},
		{NewUnavailableError("x", nil), "UNAVAILABLE"},
		{NewStorageError("x", nil), "STORAGE"},
		{NewConfigError("x", nil), "CONFIG"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, tt.err.Code)
	}
}

func TestAppError_WithContext(t *testing.T) {
	err := NewValidationError("text too long").WithContext("limit", 500)
	assert.Equal(t, 500, err.Context["limit"])

	bare := &AppError{Type: ErrTypeValidation}
	bare.WithContext("room", "42")
	assert.Equal(t, "42", bare.Context["room"])
}

func TestFromAppError(t *testing.T) {
	tests := []struct {
		err    *AppError
		status int
	}{
		{NewValidationError("x"), http.StatusBadRequest},
		{NewAuthorizationError("x"), http.StatusForbidden},
		{NewNotFoundError("x"), http.StatusNotFound},
		{NewTransportError("x", nil), http.StatusServiceUnavailable},
		{NewUnavailableError("x", nil), http.StatusServiceUnavailable},
		{NewStorageError("x", nil), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		api := FromAppError(tt.err)
		assert.Equal(t, tt.status, api.StatusCode, tt.err.Error())
		assert.Equal(t, tt.err.Code, api.ErrorCode)
	}
}
