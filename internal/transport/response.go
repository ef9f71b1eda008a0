package transport

import (
	"github.com/danmuck/spellctl/internal/protocol"
)

// Response is a decoded reply: either Ok(fields) or Err(message, reason, origin).
type Response struct {
	msg protocol.Message
}

func newResponse(msg protocol.Message) Response {
	return Response{msg: msg}
}

// Message returns the underlying reply.
func (r Response) Message() protocol.Message {
	return r.msg
}

// OK reports whether the peer answered with a RESPONSE.
func (r Response) OK() bool {
	return r.msg.Kind() == protocol.KindResponse
}

// Err returns a *RemoteError for ERROR replies and nil otherwise.
func (r Response) Err() error {
	if r.msg.Kind() != protocol.KindError {
		return nil
	}
	return &RemoteError{
		ID:      r.msg.ID(),
		Message: r.msg.ErrorMessage(),
		Reason:  r.msg.ErrorReason(),
		Origin:  r.msg.ErrorOrigin(),
	}
}
