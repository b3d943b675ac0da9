package aparrow

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrSignalNotMember is returned by connect when the signal does not
	// lie within the byte range of the sender object, i.e. the signal is
	// not a field of the sender. This is a configuration error; the
	// connection is never established.
	ErrSignalNotMember = errors.New("aparrow: signal is not a member of the sender object")

	// ErrInvalidConnection is returned by connect when a required
	// argument (sender, signal, slot, or chained target) is nil.
	ErrInvalidConnection = errors.New("aparrow: invalid connection arguments")

	// ErrNotLoopGoroutine is returned when Process, WaitEvent or
	// WaitProcess is invoked from a goroutine that does not own the Loop.
	ErrNotLoopGoroutine = errors.New("aparrow: operation requires the loop's own goroutine")
)

// WrapError wraps an error with a message, preserving the cause chain for
// use with [errors.Is] and [errors.As].
func WrapError(message string, cause error) error {
	return fmt.Errorf("%s: %w", message, cause)
}
