package conn

import "fmt"

type ErrorKind string

const (
	// ErrorAuth: missing, malformed or expired token. Never retried
	// automatically; the caller has to re-authenticate.
	ErrorAuth ErrorKind = "auth"
	// ErrorTimeout: the socket did not open within the watchdog
	// window. Retried via the reconnection policy.
	ErrorTimeout ErrorKind = "timeout"
	// ErrorTransport: generic socket error or close. Retried.
	ErrorTransport ErrorKind = "transport"
)

// Error is the typed connection error surfaced on the session state.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("connection %s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func authError(err error) *Error      { return &Error{Kind: ErrorAuth, Err: err} }
func timeoutError(err error) *Error   { return &Error{Kind: ErrorTimeout, Err: err} }
func transportError(err error) *Error { return &Error{Kind: ErrorTransport, Err: err} }
