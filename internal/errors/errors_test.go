package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	cause := errors.New("unexpected EOF")

	withCause := NewDecodeError("failed to decode image", cause)
	assert.Equal(t, "decode: failed to decode image (caused by: unexpected EOF)", withCause.Error())

	bare := NewConflictError("classification already running", nil)
	assert.Equal(t, "conflict: classification already running", bare.Error())
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("no such file")
	err := NewModelLoadError("model artifact missing", cause)

	assert.ErrorIs(t, err, cause)
}

func TestConstructors_StatusCodes(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		wantType ErrorType
		wantCode int
	}{
		{"decode", NewDecodeError("x", nil), ErrorTypeDecode, http.StatusBadRequest},
		{"model load", NewModelLoadError("x", nil), ErrorTypeModelLoad, http.StatusServiceUnavailable},
		{"inference", NewInferenceError("x", nil), ErrorTypeInference, http.StatusInternalServerError},
		{"validation", NewValidationError("x", nil), ErrorTypeValidation, http.StatusBadRequest},
		{"conflict", NewConflictError("x", nil), ErrorTypeConflict, http.StatusConflict},
		{"internal", NewInternalError("x", nil), ErrorTypeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantType, tt.err.Type)
			assert.Equal(t, tt.wantCode, tt.err.StatusCode)
		})
	}
}

func TestIsType_Wrapped(t *testing.T) {
	err := fmt.Errorf("classify: %w", NewInferenceError("session run failed", nil))

	assert.True(t, IsType(err, ErrorTypeInference))
	assert.False(t, IsType(err, ErrorTypeDecode))
	assert.False(t, IsType(errors.New("plain"), ErrorTypeInference))
}

func TestTypeOfAndStatusCode(t *testing.T) {
	wrapped := fmt.Errorf("load: %w", NewModelLoadError("missing", nil))

	assert.Equal(t, ErrorTypeModelLoad, TypeOf(wrapped))
	assert.Equal(t, http.StatusServiceUnavailable, GetStatusCode(wrapped))

	plain := errors.New("boom")
	assert.Equal(t, ErrorTypeInternal, TypeOf(plain))
	assert.Equal(t, http.StatusInternalServerError, GetStatusCode(plain))
}
