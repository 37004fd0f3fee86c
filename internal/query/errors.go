package query

import "fmt"

// ControlTimeoutError is returned by SendControlRequest when no matching
// response arrives within the requested timeout. The waiter is removed
// before this is returned; a late-arriving response is dropped and logged.
type ControlTimeoutError struct{ RequestID string }

func (e *ControlTimeoutError) Error() string {
	return fmt.Sprintf("query: control request %s timed out", e.RequestID)
}

// SessionClosedError is returned for any operation attempted after the
// session has reached StateClosed, and as the terminal outcome for control
// requests outstanding when the session closes.
type SessionClosedError struct{}

func (e *SessionClosedError) Error() string { return "query: session is closed" }

// NotInitializedError describes an operation requiring StateInitialized
// attempted earlier in the state machine. No method of Query returns it:
// Query does not check its state before sending a message or a control
// request.
type NotInitializedError struct{}

func (e *NotInitializedError) Error() string { return "query: session is not initialized" }
