package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusCodes(t *testing.T) {
	cases := []struct {
		err  *AppError
		want int
	}{
		{NotFound("dispute", nil), http.StatusNotFound},
		{Validation("bad input", nil), http.StatusBadRequest},
		{BusinessRule("too late"), http.StatusBadRequest},
		{Unauthorized(nil), http.StatusUnauthorized},
		{Forbidden("not yours", nil), http.StatusForbidden},
		{Conflict("already exists", nil), http.StatusConflict},
		{Internal(nil), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.err.StatusCode(), tc.err.Message)
	}
}

func TestCodeThroughWrapping(t *testing.T) {
	err := NotFound("dispute", nil)
	wrapped := fmt.Errorf("loading case: %w", err)

	assert.True(t, Is(wrapped, ErrNotFound))
	assert.Equal(t, ErrNotFound, Code(wrapped))

	// Anything else reads as internal.
	assert.Equal(t, ErrInternal, Code(fmt.Errorf("plain failure")))
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "dispute not found", NotFound("dispute", nil).Error())

	cause := fmt.Errorf("row scan failed")
	withCause := Validation("invalid filter", cause)
	assert.Contains(t, withCause.Error(), "invalid filter")
	assert.ErrorIs(t, withCause, cause)
}
