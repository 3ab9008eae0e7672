package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromErrorWrapsUnknown(t *testing.T) {
	err := FromError(fmt.Errorf("boom"))
	assert.Equal(t, ErrInternal.Code, err.Code)
	assert.Equal(t, http.StatusInternalServerError, err.Status)
	assert.Nil(t, FromError(nil))
}

func TestCloneMatchesOriginal(t *testing.T) {
	cloned := Clone(ErrNotFound, "event not found")
	assert.Equal(t, "event not found", cloned.Message)
	assert.Equal(t, "resource not found", ErrNotFound.Message)
	assert.True(t, errors.Is(cloned, ErrNotFound))
	assert.False(t, errors.Is(cloned, ErrForbidden))

	wrapped := fmt.Errorf("load: %w", cloned)
	assert.True(t, errors.Is(wrapped, ErrNotFound))
	assert.Equal(t, http.StatusNotFound, FromError(wrapped).Status)
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Internal(cause, "failed to commit")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "failed to commit: connection reset", err.Error())
}
