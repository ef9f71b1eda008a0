package protocol

import (
	"sort"
	"strings"
)

// Kind is the message category carried in the frame header.
type Kind uint32

const (
	KindOneWay Kind = iota
	KindRequest
	KindResponse
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindOneWay:
		return "ONE_WAY"
	case KindRequest:
		return "REQUEST"
	case KindResponse:
		return "RESPONSE"
	case KindError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (k Kind) valid() bool {
	return k <= KindError
}

// IsReply reports whether the kind answers a request.
func (k Kind) IsReply() bool {
	return k == KindResponse || k == KindError
}

// Role tokens used as sender/receiver.
const (
	RoleClient   = "client"
	RoleListener = "listener"
	RoleContext  = "context"
)

// Reserved envelope field names. User fields may not start with '@'.
const (
	envelopeID       = "@id"
	envelopeSender   = "@sender"
	envelopeReceiver = "@receiver"
)

// Message is one immutable protocol unit. The With* methods return modified copies.
type Message struct {
	id       string
	kind     Kind
	sender   string
	receiver string
	sequence uint64
	fields   map[string]Value
}

// New creates a ONE_WAY message.
func New(id string) Message {
	return Message{id: id, kind: KindOneWay}
}

// NewRequest creates a REQUEST message. The sequence is assigned by the transport.
func NewRequest(id string) Message {
	return Message{id: id, kind: KindRequest}
}

// ResponseTo creates the RESPONSE answering req.
func ResponseTo(req Message) Message {
	return Message{
		id:       req.id,
		kind:     KindResponse,
		sender:   req.receiver,
		receiver: req.sender,
		sequence: req.sequence,
	}
}

// ErrorTo creates the ERROR answering req.
func ErrorTo(req Message, message, reason, origin string) Message {
	out := ResponseTo(req)
	out.kind = KindError
	return out.
		WithField(FieldErrorMessage, message).
		WithField(FieldErrorReason, reason).
		WithField(FieldErrorOrigin, origin)
}

func (m Message) ID() string       { return m.id }
func (m Message) Kind() Kind       { return m.kind }
func (m Message) Sender() string   { return m.sender }
func (m Message) Receiver() string { return m.receiver }
func (m Message) Sequence() uint64 { return m.sequence }

// IsZero reports whether m is the zero Message.
func (m Message) IsZero() bool {
	return m.id == "" && m.fields == nil && m.sequence == 0
}

func (m Message) clone() Message {
	out := m
	out.fields = make(map[string]Value, len(m.fields)+1)
	for k, v := range m.fields {
		out.fields[k] = v.clone()
	}
	return out
}

// WithValue returns a copy with name set to v. An existing field is overwritten.
func (m Message) WithValue(name string, v Value) Message {
	out := m.clone()
	out.fields[name] = v.clone()
	return out
}

func (m Message) WithField(name, value string) Message {
	return m.WithValue(name, StringValue(value))
}

func (m Message) WithList(name string, items []string) Message {
	return m.WithValue(name, ListValue(items))
}

func (m Message) WithMap(name string, entries map[string]string) Message {
	return m.WithValue(name, MapValue(entries))
}

func (m Message) WithSequence(seq uint64) Message {
	out := m
	out.sequence = seq
	return out
}

func (m Message) WithRoute(sender, receiver string) Message {
	out := m
	out.sender = sender
	out.receiver = receiver
	return out
}

// Value returns the raw field value.
func (m Message) Value(name string) (Value, bool) {
	v, ok := m.fields[name]
	if !ok {
		return Value{}, false
	}
	return v.clone(), true
}

func (m Message) Has(name string) bool {
	_, ok := m.fields[name]
	return ok
}

// Get returns a string field, or "" when absent or not a string.
func (m Message) Get(name string) string {
	v, ok := m.fields[name]
	if !ok || v.Type != ValueString {
		return ""
	}
	return v.Str
}

// List returns a list field. A string field is split on commas for peers that
// send comma-joined lists.
func (m Message) List(name string) []string {
	v, ok := m.fields[name]
	if !ok {
		return nil
	}
	switch v.Type {
	case ValueList:
		return ListValue(v.List).List
	case ValueString:
		if strings.TrimSpace(v.Str) == "" {
			return nil
		}
		parts := strings.Split(v.Str, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	default:
		return nil
	}
}

// Map returns a map field, or nil when absent or not a map.
func (m Message) Map(name string) map[string]string {
	v, ok := m.fields[name]
	if !ok || v.Type != ValueMap {
		return nil
	}
	return MapValue(v.Map).Map
}

// Names returns the field names in sorted order.
func (m Message) Names() []string {
	out := make([]string, 0, len(m.fields))
	for k := range m.fields {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (m Message) Len() int {
	return len(m.fields)
}

func (m Message) ErrorMessage() string { return m.Get(FieldErrorMessage) }
func (m Message) ErrorReason() string  { return m.Get(FieldErrorReason) }
func (m Message) ErrorOrigin() string  { return m.Get(FieldErrorOrigin) }

// Equal reports envelope and field-for-field equality.
func (m Message) Equal(o Message) bool {
	if m.id != o.id || m.kind != o.kind || m.sender != o.sender ||
		m.receiver != o.receiver || m.sequence != o.sequence || len(m.fields) != len(o.fields) {
		return false
	}
	for k, v := range m.fields {
		ov, ok := o.fields[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Validate reports whether m can be encoded. The returned error is an *EncodingError.
func (m Message) Validate() error {
	if strings.TrimSpace(m.id) == "" {
		return &EncodingError{Reason: "missing message id", Err: ErrMissingID}
	}
	if hasReserved(m.id) || hasReserved(m.sender) || hasReserved(m.receiver) {
		return &EncodingError{MessageID: m.id, Reason: "envelope contains a reserved separator"}
	}
	if !m.kind.valid() {
		return &EncodingError{MessageID: m.id, Reason: "invalid kind", Err: ErrInvalidKind}
	}
	for _, name := range m.Names() {
		if name == "" || strings.HasPrefix(name, "@") {
			return &EncodingError{MessageID: m.id, Field: name, Reason: "reserved field name", Err: ErrReservedName}
		}
		if hasReserved(name) {
			return &EncodingError{MessageID: m.id, Field: name, Reason: "field name contains a reserved separator"}
		}
		if reason := m.fields[name].check(); reason != "" {
			return &EncodingError{MessageID: m.id, Field: name, Reason: reason}
		}
	}
	return nil
}
