package amaterasu

import (
	"errors"
	"fmt"
)

var (
	// ErrConnect wraps transport establishment failures (DNS, TLS,
	// refused). Retryable: calling Connect again has the same semantics
	// as a dropped connection.
	ErrConnect = errors.New("gateway connect failed")

	// ErrProtocol marks malformed or out-of-order frames. These are
	// logged and dropped; the connection continues.
	ErrProtocol = errors.New("gateway protocol violation")

	// ErrAuth is terminal: the gateway rejected the token or the
	// session in a non-resumable way. No automatic retry.
	ErrAuth = errors.New("gateway authentication failed")

	// ErrAlreadyConnected is returned by Connect when the session is
	// not in the disconnected state.
	ErrAlreadyConnected = errors.New("connection already exists")

	// ErrNotConnected is returned by outbound sends while the socket is
	// down.
	ErrNotConnected = errors.New("not connected to the gateway")

	// errNoResumeState is returned by buildResume when no prior session
	// id or sequence exists; the caller falls back to identify.
	errNoResumeState = errors.New("no session to resume")
)

// CloseError carries the close code the gateway shut the socket with.
type CloseError struct {
	Code int
	Text string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("gateway closed connection: code %d: %s", e.Code, e.Text)
}

// Unwrap lets errors.Is(err, ErrAuth) work for fatal close codes.
func (e *CloseError) Unwrap() error {
	if classifyClose(e.Code) == closeFatal {
		return ErrAuth
	}
	return nil
}
