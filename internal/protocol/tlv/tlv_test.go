package tlv

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeFieldsRoundTripPreservesUnknownTypes(t *testing.T) {
	in := []Field{
		{Name: "context-name", Type: TypeString, Value: []byte("SAT-A")},
		{Name: "x-future", Type: 99, Value: []byte{0xAA, 0xBB}}, // unknown type id
		{Name: "empty", Type: TypeString},
	}
	b, err := EncodeFields(in)
	if err != nil {
		t.Fatalf("encode fields: %v", err)
	}
	out, err := DecodeFields(b)
	if err != nil {
		t.Fatalf("decode fields: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 fields, got %d", len(out))
	}
	if out[1].Name != "x-future" || out[1].Type != 99 || !bytes.Equal(out[1].Value, []byte{0xAA, 0xBB}) {
		t.Fatalf("unknown field not preserved: %+v", out[1])
	}
	if f, ok := GetField(out, "empty"); !ok || len(f.Value) != 0 {
		t.Fatalf("empty field not preserved: %+v", f)
	}
}

func TestDecodeFieldsMalformedHeaderIsDeterministic(t *testing.T) {
	_, err := DecodeFields([]byte{1})
	if !errors.Is(err, ErrShortFieldHeader) {
		t.Fatalf("expected ErrShortFieldHeader, got %v", err)
	}
}

func TestDecodeFieldsShortValue(t *testing.T) {
	b, err := EncodeFields([]Field{{Name: "a", Type: TypeString, Value: []byte("hello")}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	_, err = DecodeFields(b[:len(b)-2])
	if !errors.Is(err, ErrShortFieldValue) {
		t.Fatalf("expected ErrShortFieldValue, got %v", err)
	}
}

func TestEncodeFieldsRejectsEmptyName(t *testing.T) {
	_, err := EncodeFields([]Field{{Type: TypeString}})
	if !errors.Is(err, ErrEmptyName) {
		t.Fatalf("expected ErrEmptyName, got %v", err)
	}
}
