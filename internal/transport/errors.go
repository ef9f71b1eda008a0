package transport

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotConnected     = errors.New("transport: not connected")
	ErrAlreadyConnected = errors.New("transport: already connected")
	ErrDisconnected     = errors.New("transport: disconnected")
	ErrConnectionLost   = errors.New("transport: connection lost")
	ErrNotRequest       = errors.New("transport: message is not a request")
	ErrNotOneWay        = errors.New("transport: message is not one-way")
)

// ConnectionError is a socket-level connect, write, or teardown failure.
type ConnectionError struct {
	Op   string
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport: %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// TimeoutError reports a request that saw no reply within its deadline.
type TimeoutError struct {
	ID       string
	Sequence uint64
	After    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("transport: request %q seq=%d timed out after %s", e.ID, e.Sequence, e.After)
}

// Timeout lets callers test with net.Error-style checks.
func (e *TimeoutError) Timeout() bool {
	return true
}

// NoResponseError reports an absent or malformed reply that is not a timeout.
type NoResponseError struct {
	ID     string
	Reason string
	Err    error
}

func (e *NoResponseError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transport: no response to %q: %s", e.ID, e.Reason)
	}
	return fmt.Sprintf("transport: no response to %q: %s: %v", e.ID, e.Reason, e.Err)
}

func (e *NoResponseError) Unwrap() error {
	return e.Err
}

// RemoteError is an ERROR reply from the peer, surfaced verbatim.
type RemoteError struct {
	ID      string
	Message string
	Reason  string
	Origin  string
}

func (e *RemoteError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "request failed"
	}
	if e.Origin == "" {
		return msg
	}
	return fmt.Sprintf("%s (%s)", msg, e.Origin)
}
