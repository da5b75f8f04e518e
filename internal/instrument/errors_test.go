package instrument

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"capture timeout", ErrCaptureTimeout, true},
		{"wrapped capture timeout", fmt.Errorf("point 3: %w", ErrCaptureTimeout), true},
		{"clipping", &ClippingError{Channel: 2}, true},
		{"comm error", &CommunicationError{Device: "jds6600", Op: "w23", Err: errors.New("eof")}, false},
		{"plain error", errors.New("boom"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestIsFatal(t *testing.T) {
	comm := &CommunicationError{Device: "ds1054z", Op: ":TIM:SCAL", Err: errors.New("broken pipe")}

	assert.True(t, IsFatal(comm))
	assert.True(t, IsFatal(fmt.Errorf("configuring point: %w", comm)))
	assert.False(t, IsFatal(ErrCaptureTimeout))
	assert.False(t, IsFatal(&ClippingError{Channel: 1}))
}

func TestCommunicationErrorUnwrap(t *testing.T) {
	cause := errors.New("read timeout")
	err := &CommunicationError{Device: "jds6600", Op: "set frequency", Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "jds6600")
	assert.Contains(t, err.Error(), "set frequency")
}
