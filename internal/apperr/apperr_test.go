package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesByCode(t *testing.T) {
	err := New(CodeInsufficientStock, "only %d units available", 3)

	assert.True(t, errors.Is(err, ErrInsufficientStock))
	assert.False(t, errors.Is(err, ErrCartEmpty))
	assert.Equal(t, "only 3 units available", err.Message)

	wrapped := fmt.Errorf("place order: %w", err)
	assert.True(t, errors.Is(wrapped, ErrInsufficientStock))
}

func TestFrom(t *testing.T) {
	e := From(fmt.Errorf("wrap: %w", ErrSlotUnavailable))
	assert.Equal(t, CodeSlotUnavailable, e.Code)

	internal := From(errors.New("connection reset by peer"))
	assert.Equal(t, CodeInternal, internal.Code)
	assert.NotContains(t, internal.Message, "connection reset")
}

func TestValidationCarriesFields(t *testing.T) {
	err := Validation(map[string]string{"phone": "is required"})
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Equal(t, "is required", err.Fields["phone"])
}
