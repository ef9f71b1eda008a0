package tlv

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderLen is the fixed prefix before a field name: u16 name length.
// The name is followed by u8 type and u32 value length.
const HeaderLen = 2 + 1 + 4

const MaxNameLen = 0xFFFF

var (
	ErrShortFieldHeader = errors.New("tlv: short field header")
	ErrShortFieldName   = errors.New("tlv: short field name")
	ErrShortFieldValue  = errors.New("tlv: short field value")
	ErrNameTooLong      = errors.New("tlv: field name too long")
	ErrEmptyName        = errors.New("tlv: empty field name")
)

// Type IDs from the spell wire contract.
const (
	TypeString uint8 = 1
	TypeList   uint8 = 2
	TypeMap    uint8 = 3
)

// Field is one decoded TLV field.
type Field struct {
	Name  string
	Type  uint8
	Value []byte
}

func AppendField(dst []byte, f Field) ([]byte, error) {
	if f.Name == "" {
		return nil, ErrEmptyName
	}
	if len(f.Name) > MaxNameLen {
		return nil, ErrNameTooLong
	}
	var hdr [4]byte
	binary.BigEndian.PutUint16(hdr[0:2], uint16(len(f.Name)))
	dst = append(dst, hdr[0:2]...)
	dst = append(dst, f.Name...)
	dst = append(dst, f.Type)
	binary.BigEndian.PutUint32(hdr[0:4], uint32(len(f.Value)))
	dst = append(dst, hdr[0:4]...)
	dst = append(dst, f.Value...)
	return dst, nil
}

func EncodeFields(fields []Field) ([]byte, error) {
	out := make([]byte, 0, 64*len(fields))
	for _, f := range fields {
		var err error
		out, err = AppendField(out, f)
		if err != nil {
			return nil, fmt.Errorf("tlv: field %q: %w", f.Name, err)
		}
	}
	return out, nil
}

func DecodeFields(payload []byte) ([]Field, error) {
	fields := make([]Field, 0, 8)
	i := 0
	for i < len(payload) {
		if len(payload)-i < 2 {
			return nil, ErrShortFieldHeader
		}
		nameLen := int(binary.BigEndian.Uint16(payload[i : i+2]))
		i += 2
		if nameLen == 0 {
			return nil, ErrEmptyName
		}
		if len(payload)-i < nameLen {
			return nil, ErrShortFieldName
		}
		name := string(payload[i : i+nameLen])
		i += nameLen
		if len(payload)-i < 5 {
			return nil, ErrShortFieldHeader
		}
		typeID := payload[i]
		l := binary.BigEndian.Uint32(payload[i+1 : i+5])
		i += 5
		if uint32(len(payload)-i) < l {
			return nil, ErrShortFieldValue
		}
		val := make([]byte, l)
		copy(val, payload[i:i+int(l)])
		i += int(l)
		fields = append(fields, Field{Name: name, Type: typeID, Value: val})
	}
	return fields, nil
}

func GetField(fields []Field, name string) (Field, bool) {
	for _, f := range fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func MustType(f Field, expected uint8) error {
	if f.Type != expected {
		return fmt.Errorf("tlv: field %q type mismatch: got %d want %d", f.Name, f.Type, expected)
	}
	return nil
}
