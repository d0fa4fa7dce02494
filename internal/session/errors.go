package session

import "errors"

var (
	// ErrAuthenticationFailed is returned when either side's credentials
	// are invalid, expired or revoked. It is fatal to the connection
	// attempt and never retried automatically.
	ErrAuthenticationFailed = errors.New("session authentication failed")

	// ErrNetworkUnreachable is returned when the host cannot be reached.
	ErrNetworkUnreachable = errors.New("host unreachable")

	// ErrConnectionTimeout is returned when the handshake does not
	// complete in time.
	ErrConnectionTimeout = errors.New("connection timed out")

	// ErrInvalidState is returned for operations issued outside the
	// transport state they require.
	ErrInvalidState = errors.New("operation not valid in current state")

	// ErrClosed is returned for operations on a closed transport.
	ErrClosed = errors.New("transport closed")

	// ErrReconnectFailed is returned when the reconnector exhausts its
	// attempts and gives up terminally.
	ErrReconnectFailed = errors.New("reconnection failed permanently")
)
