package session

import (
	"errors"
	"fmt"
)

var (
	ErrNotLoggedIn     = errors.New("session: not logged in")
	ErrInvalidEndpoint = errors.New("session: invalid endpoint")
	ErrStartAborted    = errors.New("session: start procedure aborted")
	ErrEmptyInstanceID = errors.New("session: empty instance id")
)

// AlreadyConnectedError is returned by Login while the session is READY.
type AlreadyConnectedError struct {
	Peer string
}

func (e *AlreadyConnectedError) Error() string {
	return fmt.Sprintf("session: already connected to %s", e.Peer)
}
