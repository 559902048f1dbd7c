package conn

import "github.com/pkg/errors"

// NetworkError wraps a socket failure. Fatal to the Connection: the socket
// is closed and the phase moves to Closed.
type NetworkError struct {
	Cause error
}

func (e *NetworkError) Error() string { return "conn: network error: " + e.Cause.Error() }
func (e *NetworkError) Unwrap() error { return e.Cause }

// ProtocolError signals an unexpected packet shape or sequence number.
// Fatal: the stream is desynchronized.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string { return "conn: protocol error: " + e.Msg }

// AuthError signals the server rejected credentials, or the handshake used
// an auth mechanism this client does not implement. Fatal.
type AuthError struct {
	Msg string
}

func (e *AuthError) Error() string { return "conn: auth error: " + e.Msg }

// ServerError is a well-formed ERR packet received mid-session. Non-fatal:
// the connection returns to Idle and may be reused.
type ServerError struct {
	Code    uint16
	State   string
	Message string
}

func (e *ServerError) Error() string {
	return "conn: server error " + e.State + ": " + e.Message
}

// TimeoutError signals that ConnectTimeout or QueryTimeout was exceeded.
// Fatal.
type TimeoutError struct {
	Phase string
}

func (e *TimeoutError) Error() string { return "conn: timeout during " + e.Phase }

// ErrBusy is returned by Query when another command is already in flight
// on this Connection; only one command may be outstanding at a time.
var ErrBusy = errors.New("conn: command already in flight")

// ErrNotIdle is returned by Query when the Connection is not in the Idle
// phase (e.g. still connecting, or already closed). Ping reports the same
// condition as false.
var ErrNotIdle = errors.New("conn: connection is not idle")

// ErrLocalInfileUnsupported marks the case where the server requested a
// LOCAL INFILE transfer; this connector always declines.
var ErrLocalInfileUnsupported = errors.New("conn: LOCAL INFILE is not supported")
