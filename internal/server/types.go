package server

import (
	"errors"
	"io"
	"net"
	"strings"
)

var (
	// ErrConnClosed is returned when sending on a closed connection.
	ErrConnClosed = errors.New("server: connection closed")

	// ErrSendQueueFull is returned when a slow connection was dropped
	// because its outbound queue overflowed.
	ErrSendQueueFull = errors.New("server: send queue full")

	// ErrAlreadyBound is returned when a connection's role is already set.
	ErrAlreadyBound = errors.New("server: connection already bound")

	// ErrServerClosed is returned by Serve and Adopt after Shutdown.
	ErrServerClosed = errors.New("server: closed")

	// ErrTooManyConnections is returned by Adopt when MaxConnections is
	// reached.
	ErrTooManyConnections = errors.New("server: too many connections")

	// ErrAlreadyListening is returned when Listen is called twice.
	ErrAlreadyListening = errors.New("server: already listening")
)

// Role is the part a connection plays for its client.
type Role int32

const (
	// RoleUnassociated is a fresh connection that has not registered or
	// bound yet.
	RoleUnassociated Role = iota
	// RolePrimary carries request/response traffic for a registered user.
	RolePrimary
	// RoleSupplemental only receives pushed updates for a user.
	RoleSupplemental
)

func (r Role) String() string {
	switch r {
	case RolePrimary:
		return "primary"
	case RoleSupplemental:
		return "supplemental"
	default:
		return "unassociated"
	}
}

// State is the acceptor lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateListening
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return "idle"
	}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, ErrConnClosed) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}
