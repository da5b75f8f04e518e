package instrument

import (
	"errors"
	"fmt"
)

// ErrCaptureTimeout is returned when the scope never completes an
// acquisition within the bounded wait. Retryable.
var ErrCaptureTimeout = errors.New("instrument: capture timed out waiting for trigger")

// CommunicationError wraps a failed or unacknowledged device exchange.
// It is fatal to the sweep: with no working instrument link there is nothing
// left to measure.
type CommunicationError struct {
	Device string // "jds6600", "ds1054z"
	Op     string // the command or operation that failed
	Err    error
}

func (e *CommunicationError) Error() string {
	return fmt.Sprintf("instrument: %s: %s: %v", e.Device, e.Op, e.Err)
}

func (e *CommunicationError) Unwrap() error { return e.Err }

// ClippingError reports a captured channel that saturated the scope's input
// range. Retryable after rescaling.
type ClippingError struct {
	Channel int
}

func (e *ClippingError) Error() string {
	return fmt.Sprintf("instrument: channel %d clipped the input range", e.Channel)
}

// IsRetryable reports whether err is a per-point condition worth retrying
// with adjusted settings.
func IsRetryable(err error) bool {
	var clip *ClippingError
	return errors.Is(err, ErrCaptureTimeout) || errors.As(err, &clip)
}

// IsFatal reports whether err means the instrument link itself is gone and
// the sweep cannot continue.
func IsFatal(err error) bool {
	var comm *CommunicationError
	return errors.As(err, &comm)
}
