package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIError_Render(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/catalog/events", nil)

	require.NoError(t, render.Render(rec, req, ErrValidation("kind", "unsupported catalog event kind")))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "VALIDATION_FAILED", body.ErrorCode)
	details, ok := body.Details.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "kind", details["field"])
}

func TestNewValidationErrors(t *testing.T) {
	err := NewValidationErrors([]ValidationError{
		{Field: "kind", Message: "required"},
		{Field: "payload", Message: "required"},
	})
	assert.Equal(t, http.StatusBadRequest, err.StatusCode)
	assert.Len(t, err.Details.(ValidationErrors).Errors, 2)
}

func TestInvalidRequestWithError(t *testing.T) {
	err := InvalidRequestWithError(fmt.Errorf("unexpected EOF"))
	assert.Equal(t, "unexpected EOF", err.Details)
	assert.Equal(t, "Invalid request format", err.Error())
}

func TestErrPanic(t *testing.T) {
	err := ErrPanic("nil map")
	assert.Equal(t, http.StatusInternalServerError, err.StatusCode)
	assert.Equal(t, "nil map", err.Details)
}
