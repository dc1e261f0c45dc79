package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationError(t *testing.T) {
	v := &ValidationError{}
	assert.NoError(t, v.OrNil())

	v.Add("client_email", "must be a valid email").Add("date", "is required")
	err := v.OrNil()

	assert.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Contains(t, err.Error(), "client_email: must be a valid email")
	assert.Contains(t, err.Error(), "date: is required")

	wrapped := fmt.Errorf("create booking: %w", err)
	var target *ValidationError
	assert.True(t, errors.As(wrapped, &target))
	assert.Len(t, target.Fields, 2)
}

func TestSentinelMatching(t *testing.T) {
	assert.True(t, errors.Is(NotFoundError("booking", 7), ErrNotFound))
	assert.True(t, errors.Is(&TransitionError{From: "rejected", Action: "confirm"}, ErrInvalidTransition))
	assert.True(t, errors.Is(SyncWarning{Effect: "calendar.create", Message: "timeout"}, ErrExternalSync))
	assert.False(t, errors.Is(NotFoundError("booking", 7), ErrSlotUnavailable))
}
