package preview

import "errors"

var (
	// ErrSessionDestroyed is returned by operations on a destroyed session
	ErrSessionDestroyed = errors.New("preview session destroyed")
	// ErrChannelTimeout reports a boundary that never signalled readiness
	ErrChannelTimeout = errors.New("boundary readiness timed out")
	// ErrSuperseded is returned to a waiter whose request was overtaken by a newer one
	ErrSuperseded = errors.New("render superseded by a newer request")
	// ErrSessionLimit is returned when the controller is at capacity
	ErrSessionLimit = errors.New("preview session limit reached")
	// ErrLaunchFailed wraps failures to start a boundary
	ErrLaunchFailed = errors.New("boundary launch failed")
	// ErrControllerClosed is returned by Create after Close
	ErrControllerClosed = errors.New("preview controller closed")
)
