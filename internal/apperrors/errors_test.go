package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	assert.Equal(t, Code(""), CodeOf(nil))
	assert.Equal(t, CodeNotFound, CodeOf(ErrRoomNotFound))
	assert.Equal(t, CodeForbidden, CodeOf(fmt.Errorf("remove member: %w", ErrForbidden)))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("disk on fire")))
}

func TestHasCode(t *testing.T) {
	assert.True(t, HasCode(ErrLastAdmin, CodeConflict))
	assert.False(t, HasCode(ErrLastAdmin, CodeForbidden))
}

func TestIsMatchesWrappedSentinels(t *testing.T) {
	err := fmt.Errorf("mark status: %w", ErrInvalidStatus)
	assert.ErrorIs(t, err, ErrInvalidStatus)
	assert.NotErrorIs(t, err, ErrInvalidRole)

	// Same code, different message
	assert.False(t, errors.Is(ErrRoomNotFound, ErrMessageNotFound))
}

func TestInternalKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Internal(cause)

	assert.Equal(t, CodeInternal, CodeOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "internal error: connection reset", err.Error())
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeUnauthenticated, http.StatusUnauthorized},
		{CodeNotFound, http.StatusNotFound},
		{CodeForbidden, http.StatusForbidden},
		{CodeAlreadyExists, http.StatusConflict},
		{CodeConflict, http.StatusConflict},
		{CodeInvalidArgument, http.StatusBadRequest},
		{CodeRateLimited, http.StatusTooManyRequests},
		{CodeInternal, http.StatusInternalServerError},
		{CodeUnknown, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.code))
		})
	}
}
