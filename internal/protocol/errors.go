package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrMissingID         = errors.New("protocol: message id required")
	ErrMissingEnvelope   = errors.New("protocol: missing envelope field")
	ErrInvalidKind       = errors.New("protocol: invalid message kind")
	ErrFieldTypeMismatch = errors.New("protocol: field type mismatch")
	ErrMalformedValue    = errors.New("protocol: malformed field value")
	ErrReservedName      = errors.New("protocol: reserved field name")
)

// EncodingError reports a message that cannot be put on the wire. It is raised
// before any network I/O.
type EncodingError struct {
	MessageID string
	Field     string
	Reason    string
	Err       error
}

func (e *EncodingError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("protocol: encode %q: %s", e.MessageID, e.Reason)
	}
	return fmt.Sprintf("protocol: encode %q field %q: %s", e.MessageID, e.Field, e.Reason)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}
