package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromErrorKeepsTypedErrors(t *testing.T) {
	typed := Clone(ErrNotFound, "student not found")
	wrapped := fmt.Errorf("load: %w", typed)

	got := FromError(wrapped)
	require.NotNil(t, got)
	assert.Equal(t, "NOT_FOUND", got.Code)
	assert.Equal(t, "student not found", got.Message)
}

func TestFromErrorWrapsPlainErrors(t *testing.T) {
	got := FromError(errors.New("boom"))
	assert.Equal(t, ErrInternal.Code, got.Code)
	assert.Equal(t, http.StatusInternalServerError, got.Status)
	assert.Equal(t, "internal server error: boom", got.Error())
}

func TestIsMatchesByCode(t *testing.T) {
	err := Wrap(errors.New("dial tcp: refused"), ErrUpstreamUnavailable.Code, ErrUpstreamUnavailable.Status, "cannot reach api")
	assert.True(t, errors.Is(err, ErrUpstreamUnavailable))
	assert.False(t, errors.Is(err, ErrUpstream))
	assert.Nil(t, FromError(nil))
}
