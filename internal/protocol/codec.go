package protocol

import (
	"bytes"
	"fmt"
	"io"

	"github.com/danmuck/spellctl/internal/protocol/frame"
	"github.com/danmuck/spellctl/internal/protocol/tlv"
)

// Marshal renders msg as one complete frame.
func Marshal(msg Message) ([]byte, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	fields := make([]tlv.Field, 0, len(msg.fields)+3)
	fields = append(fields,
		tlv.Field{Name: envelopeID, Type: tlv.TypeString, Value: []byte(msg.id)},
		tlv.Field{Name: envelopeSender, Type: tlv.TypeString, Value: []byte(msg.sender)},
		tlv.Field{Name: envelopeReceiver, Type: tlv.TypeString, Value: []byte(msg.receiver)},
	)
	for _, name := range msg.Names() {
		v := msg.fields[name]
		fields = append(fields, tlv.Field{Name: name, Type: uint8(v.Type), Value: v.bytes()})
	}
	payload, err := tlv.EncodeFields(fields)
	if err != nil {
		return nil, &EncodingError{MessageID: msg.id, Reason: err.Error(), Err: err}
	}

	out, err := frame.AppendFrame(nil, frame.Frame{
		Header: frame.Header{
			Sequence: msg.sequence,
			Kind:     uint32(msg.kind),
			Flags:    flagsFor(msg.kind),
		},
		Payload: payload,
	}, frame.DefaultLimits())
	if err != nil {
		return nil, &EncodingError{MessageID: msg.id, Reason: err.Error(), Err: err}
	}
	return out, nil
}

// Encode writes msg to w using the protocol wire format in a single write.
func Encode(w io.Writer, msg Message) error {
	buf, err := Marshal(msg)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// Decode reads a single message from r.
func Decode(r io.Reader, limits frame.Limits) (Message, error) {
	f, err := frame.ReadFrame(r, limits)
	if err != nil {
		return Message{}, err
	}
	return FromFrame(f)
}

// Unmarshal decodes one message from a complete frame buffer.
func Unmarshal(b []byte) (Message, error) {
	return Decode(bytes.NewReader(b), frame.DefaultLimits())
}

// FromFrame decodes the message carried by f.
func FromFrame(f frame.Frame) (Message, error) {
	kind := Kind(f.Header.Kind)
	if !kind.valid() {
		return Message{}, fmt.Errorf("%w: %d", ErrInvalidKind, f.Header.Kind)
	}
	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return Message{}, err
	}

	msg := Message{
		kind:     kind,
		sequence: f.Header.Sequence,
		fields:   make(map[string]Value, len(fields)),
	}
	var sawID bool
	for _, field := range fields {
		switch field.Name {
		case envelopeID:
			msg.id = string(field.Value)
			sawID = true
		case envelopeSender:
			msg.sender = string(field.Value)
		case envelopeReceiver:
			msg.receiver = string(field.Value)
		default:
			v, err := parseValue(field)
			if err != nil {
				return Message{}, fmt.Errorf("protocol: field %q: %w", field.Name, err)
			}
			msg.fields[field.Name] = v
		}
	}
	if !sawID || msg.id == "" {
		return Message{}, fmt.Errorf("%w: %s", ErrMissingEnvelope, envelopeID)
	}
	return msg, nil
}

func flagsFor(k Kind) uint32 {
	switch k {
	case KindResponse:
		return frame.FlagIsResponse
	case KindError:
		return frame.FlagIsResponse | frame.FlagIsError
	default:
		return 0
	}
}
