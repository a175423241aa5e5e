package dispatch

import (
	"errors"
	"fmt"
	"strings"
)

// Dispatch outcomes other than success.
var (
	// ErrUnknownProvider matches *UnknownProviderError.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrProtocolViolation means the provider answered with a non-success
	// status or a payload that does not follow the task protocol.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrTaskFailed means the provider reported the task failed or canceled.
	ErrTaskFailed = errors.New("task failed")

	// ErrTimeout means the task did not reach a terminal state within the
	// attempt or deadline budget. The task may still be running remotely.
	ErrTimeout = errors.New("task timed out")

	// ErrCanceled means the caller canceled the wait.
	ErrCanceled = errors.New("dispatch canceled")

	// ErrEmptyInput rejects a dispatch without task text.
	ErrEmptyInput = errors.New("empty task input")
)

// UnknownProviderError names a provider missing from the registry and
// lists the names that are registered.
type UnknownProviderError struct {
	Name      string
	Available []string
}

func (e *UnknownProviderError) Error() string {
	avail := "none"
	if len(e.Available) > 0 {
		avail = strings.Join(e.Available, ", ")
	}
	return fmt.Sprintf("unknown provider %q (registered: %s)", e.Name, avail)
}

// Is reports whether target is ErrUnknownProvider.
func (e *UnknownProviderError) Is(target error) bool {
	return target == ErrUnknownProvider
}
