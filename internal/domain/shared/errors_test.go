package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_KindAndCause(t *testing.T) {
	cause := errors.New("disk full")
	err := WrapError("sqlite", "Save", ErrServiceUnavailable, "write failed", cause)

	assert.Equal(t, "sqlite.Save: write failed: disk full", err.Error())
	assert.ErrorIs(t, err, ErrServiceUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsExternalService(err))
	assert.False(t, IsValidation(err))
}

func TestDomainError_Wrapped(t *testing.T) {
	err := fmt.Errorf("load alice: %w", ErrRankNotFound)

	assert.True(t, IsNotFound(err))
	assert.Equal(t, "load alice: rank.Find: rank not found", err.Error())
}

func TestIsValidation(t *testing.T) {
	for _, err := range []error{ErrNegativeCoins, ErrInvalidUserID, ErrUnsupportedDocument, ErrCascadeLimit} {
		assert.True(t, IsValidation(err), err.Error())
	}
	assert.False(t, IsValidation(ErrStaleFetch))
}

func TestNewUserID(t *testing.T) {
	id, err := NewUserID("  alice.smith  ")
	assert.NoError(t, err)
	assert.Equal(t, UserID("alice.smith"), id)

	_, err = NewUserID("-bad")
	assert.ErrorIs(t, err, ErrInvalidID)
}
