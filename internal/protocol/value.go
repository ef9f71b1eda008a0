package protocol

import (
	"bytes"
	"sort"
	"strings"

	"github.com/danmuck/spellctl/internal/protocol/tlv"
)

// Reserved separators inside list and map values. They may never appear in
// user-supplied text.
const (
	ItemSeparator  byte = 0x1E
	EntrySeparator byte = 0x1F
)

// ValueType mirrors the tlv type ids.
type ValueType uint8

const (
	ValueString ValueType = ValueType(tlv.TypeString)
	ValueList   ValueType = ValueType(tlv.TypeList)
	ValueMap    ValueType = ValueType(tlv.TypeMap)
)

func (t ValueType) String() string {
	switch t {
	case ValueString:
		return "string"
	case ValueList:
		return "list"
	case ValueMap:
		return "map"
	default:
		return "unknown"
	}
}

// Value is one field value. Exactly one of Str, List, Map is meaningful, selected by Type.
type Value struct {
	Type ValueType
	Str  string
	List []string
	Map  map[string]string
}

// StringValue creates a string value.
func StringValue(v string) Value {
	return Value{Type: ValueString, Str: v}
}

// ListValue creates a list value. The input slice is copied.
func ListValue(items []string) Value {
	var out []string
	if len(items) > 0 {
		out = make([]string, len(items))
		copy(out, items)
	}
	return Value{Type: ValueList, List: out}
}

// MapValue creates a map value. The input map is copied.
func MapValue(m map[string]string) Value {
	var out map[string]string
	if len(m) > 0 {
		out = make(map[string]string, len(m))
		for k, v := range m {
			out[k] = v
		}
	}
	return Value{Type: ValueMap, Map: out}
}

func (v Value) clone() Value {
	switch v.Type {
	case ValueList:
		return ListValue(v.List)
	case ValueMap:
		return MapValue(v.Map)
	default:
		return v
	}
}

// Equal reports field-for-field equality.
func (v Value) Equal(o Value) bool {
	if v.Type != o.Type {
		return false
	}
	switch v.Type {
	case ValueList:
		if len(v.List) != len(o.List) {
			return false
		}
		for i := range v.List {
			if v.List[i] != o.List[i] {
				return false
			}
		}
		return true
	case ValueMap:
		if len(v.Map) != len(o.Map) {
			return false
		}
		for k, a := range v.Map {
			if b, ok := o.Map[k]; !ok || a != b {
				return false
			}
		}
		return true
	default:
		return v.Str == o.Str
	}
}

func hasReserved(s string) bool {
	return strings.IndexByte(s, ItemSeparator) >= 0 || strings.IndexByte(s, EntrySeparator) >= 0
}

// check returns a non-empty reason when the value cannot be encoded.
func (v Value) check() string {
	switch v.Type {
	case ValueString:
		if hasReserved(v.Str) {
			return "value contains a reserved separator"
		}
	case ValueList:
		for _, item := range v.List {
			if hasReserved(item) {
				return "list item contains a reserved separator"
			}
		}
	case ValueMap:
		for k, item := range v.Map {
			if hasReserved(k) {
				return "map key contains a reserved separator"
			}
			if hasReserved(item) {
				return "map value contains a reserved separator"
			}
		}
	default:
		return "unknown value type"
	}
	return ""
}

// bytes renders the value payload. Lists terminate every item with ItemSeparator so
// that an empty list and a list holding one empty string stay distinct. Map entries
// are rendered sorted by key as key EntrySeparator value ItemSeparator.
func (v Value) bytes() []byte {
	switch v.Type {
	case ValueList:
		var buf bytes.Buffer
		for _, item := range v.List {
			buf.WriteString(item)
			buf.WriteByte(ItemSeparator)
		}
		return buf.Bytes()
	case ValueMap:
		keys := make([]string, 0, len(v.Map))
		for k := range v.Map {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var buf bytes.Buffer
		for _, k := range keys {
			buf.WriteString(k)
			buf.WriteByte(EntrySeparator)
			buf.WriteString(v.Map[k])
			buf.WriteByte(ItemSeparator)
		}
		return buf.Bytes()
	default:
		return []byte(v.Str)
	}
}

func parseValue(f tlv.Field) (Value, error) {
	switch ValueType(f.Type) {
	case ValueString:
		return StringValue(string(f.Value)), nil
	case ValueList:
		items, err := splitItems(f.Value)
		if err != nil {
			return Value{}, err
		}
		return Value{Type: ValueList, List: items}, nil
	case ValueMap:
		items, err := splitItems(f.Value)
		if err != nil {
			return Value{}, err
		}
		var m map[string]string
		if len(items) > 0 {
			m = make(map[string]string, len(items))
		}
		for _, item := range items {
			k, v, ok := strings.Cut(item, string(EntrySeparator))
			if !ok {
				return Value{}, ErrMalformedValue
			}
			m[k] = v
		}
		return Value{Type: ValueMap, Map: m}, nil
	default:
		return Value{}, ErrFieldTypeMismatch
	}
}

func splitItems(raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if raw[len(raw)-1] != ItemSeparator {
		return nil, ErrMalformedValue
	}
	parts := strings.Split(string(raw[:len(raw)-1]), string(ItemSeparator))
	return parts, nil
}
