package ports

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		name      string
		err       error
		want      ErrorClass
		retryable bool
		fatal     bool
	}{
		{"timeout", fmt.Errorf("GetTicker failed: %w: %w", ErrTimeout, cause), ClassTransport, true, false},
		{"connection", fmt.Errorf("Ping failed: %w: %w", ErrConnectionFailed, cause), ClassTransport, true, false},
		{"deadline", context.DeadlineExceeded, ClassTransport, true, false},
		{"rate limit", fmt.Errorf("x: %w", ErrRateLimited), ClassRateLimit, true, false},
		{"insufficient funds", fmt.Errorf("x: %w", ErrInsufficientFunds), ClassBusiness, false, true},
		{"invalid symbol", fmt.Errorf("x: %w", ErrInvalidSymbol), ClassBusiness, false, true},
		{"storage wins over transport", fmt.Errorf("%w: %w", ErrStorage, ErrTimeout), ClassStorage, false, true},
		{"validation", fmt.Errorf("gate spread: %w", ErrValidationFailed), ClassValidation, false, false},
		{"circuit", ErrCircuitOpen, ClassCircuitOpen, false, true},
		{"data unavailable", ErrDataUnavailable, ClassDataUnavailable, false, false},
		{"canceled", context.Canceled, ClassCanceled, false, false},
		{"unknown", cause, ClassUnknown, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			assert.Equal(t, tt.want, got, "class %s", got)
			assert.Equal(t, tt.retryable, got.Retryable())
			assert.Equal(t, tt.fatal, got.Fatal())
		})
	}
}
