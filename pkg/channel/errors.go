package channel

import (
	"errors"
	"fmt"
)

var (
	// ErrChannelClosed indicates the channel is not open, or closed
	// while an operation was in progress.
	ErrChannelClosed = errors.New("channel closed")
	// ErrNoResponse indicates the peer sent nothing before the deadline.
	ErrNoResponse = errors.New("no response")
	// ErrBusy indicates another exchange is already waiting for a response.
	ErrBusy = errors.New("exchange in progress")
)

// OpenError indicates the channel could not be opened with the given
// parameters (bad port, baud rate or simulation mode).
type OpenError struct {
	Port string
	Baud int
	Err  error
}

// Error implements error.
func (e *OpenError) Error() string {
	return fmt.Sprintf("open %s@%d: %v", e.Port, e.Baud, e.Err)
}

// Unwrap returns the underlying cause.
func (e *OpenError) Unwrap() error {
	return e.Err
}
