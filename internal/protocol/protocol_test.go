package protocol

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/danmuck/spellctl/internal/protocol/frame"
)

func TestRoundTripEncodeDecode(t *testing.T) {
	msg := NewRequest(MsgOpenExec).
		WithSequence(42).
		WithRoute(RoleClient, RoleContext).
		WithField(FieldInstanceID, "PROC1#1").
		WithField(FieldBackground, "true").
		WithList(FieldMonitoringClients, []string{"gui-1", "", "gui-2"}).
		WithMap(FieldArguments, map[string]string{"mode": "fast", "empty": ""})

	var buf bytes.Buffer
	if err := Encode(&buf, msg); err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(bytes.NewReader(buf.Bytes()), frame.DefaultLimits())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded.Equal(msg) {
		t.Fatalf("round-trip mismatch:\n got=%+v\nwant=%+v", decoded, msg)
	}

	again, err := Marshal(decoded)
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), again) {
		t.Fatalf("re-encoded bytes differ")
	}
}

func TestRoundTripRandomValidFields(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		msg := NewRequest("prop").WithSequence(uint64(i))
		for j := 0; j < rng.Intn(6); j++ {
			name := "f" + randText(rng, 4)
			switch rng.Intn(3) {
			case 0:
				msg = msg.WithField(name, randText(rng, 12))
			case 1:
				items := make([]string, rng.Intn(4))
				for k := range items {
					items[k] = randText(rng, 6)
				}
				msg = msg.WithList(name, items)
			default:
				entries := map[string]string{}
				for k := 0; k < rng.Intn(4); k++ {
					entries[randText(rng, 5)] = randText(rng, 8)
				}
				msg = msg.WithMap(name, entries)
			}
		}
		b, err := Marshal(msg)
		if err != nil {
			t.Fatalf("iteration %d: marshal: %v", i, err)
		}
		out, err := Unmarshal(b)
		if err != nil {
			t.Fatalf("iteration %d: unmarshal: %v", i, err)
		}
		if !out.Equal(msg) {
			t.Fatalf("iteration %d: mismatch got=%+v want=%+v", i, out, msg)
		}
	}
}

// randText returns arbitrary bytes excluding the reserved separators.
func randText(rng *rand.Rand, max int) string {
	n := rng.Intn(max + 1)
	b := make([]byte, 0, n)
	for len(b) < n {
		c := byte(rng.Intn(256))
		if c == ItemSeparator || c == EntrySeparator {
			continue
		}
		b = append(b, c)
	}
	return string(b)
}

func TestEncodeRejectsReservedSeparators(t *testing.T) {
	cases := map[string]Message{
		"string":    New("x").WithField("a", "bad\x1evalue"),
		"list item": New("x").WithList("a", []string{"ok", "bad\x1f"}),
		"map key":   New("x").WithMap("a", map[string]string{"k\x1e": "v"}),
		"map value": New("x").WithMap("a", map[string]string{"k": "v\x1f"}),
		"name":      New("x").WithField("a\x1fb", "v"),
	}
	for name, msg := range cases {
		var buf bytes.Buffer
		err := Encode(&buf, msg)
		var encErr *EncodingError
		if !errors.As(err, &encErr) {
			t.Fatalf("%s: expected EncodingError, got %v", name, err)
		}
		if buf.Len() != 0 {
			t.Fatalf("%s: bytes written before failure", name)
		}
	}
}

func TestEncodeRejectsReservedAndMissingNames(t *testing.T) {
	if _, err := Marshal(New("")); !errors.Is(err, ErrMissingID) {
		t.Fatalf("expected ErrMissingID, got %v", err)
	}
	if _, err := Marshal(New("x").WithField("@id", "spoof")); !errors.Is(err, ErrReservedName) {
		t.Fatalf("expected ErrReservedName, got %v", err)
	}
}

func TestWithFieldReturnsCopy(t *testing.T) {
	base := New(MsgExecInfo).WithField(FieldInstanceID, "A")
	changed := base.WithField(FieldInstanceID, "B")
	if base.Get(FieldInstanceID) != "A" || changed.Get(FieldInstanceID) != "B" {
		t.Fatalf("with field mutated the receiver")
	}
	if changed.Len() != 1 {
		t.Fatalf("duplicate key appended instead of overwritten: %v", changed.Names())
	}
	if base.Kind() != KindOneWay {
		t.Fatalf("default kind should be one-way, got %s", base.Kind())
	}
}

func TestErrorToCarriesSequenceAndDetail(t *testing.T) {
	req := NewRequest(MsgOpenContext).WithSequence(9).WithRoute(RoleClient, RoleListener)
	resp := ErrorTo(req, "context busy", "busy", OriginListener)
	if resp.Kind() != KindError || resp.Sequence() != 9 || resp.ID() != MsgOpenContext {
		t.Fatalf("unexpected error envelope: %+v", resp)
	}
	if resp.Sender() != RoleListener || resp.Receiver() != RoleClient {
		t.Fatalf("route not swapped: %s -> %s", resp.Sender(), resp.Receiver())
	}
	if resp.ErrorMessage() != "context busy" || resp.ErrorReason() != "busy" || resp.ErrorOrigin() != OriginListener {
		t.Fatalf("unexpected error fields: %v", resp.Names())
	}
}

func TestListAcceptsCommaJoinedString(t *testing.T) {
	msg := New("x").WithField(FieldContextList, "SAT-A, SAT-B,,")
	got := msg.List(FieldContextList)
	if len(got) != 2 || got[0] != "SAT-A" || got[1] != "SAT-B" {
		t.Fatalf("unexpected list: %q", got)
	}
}

func TestDecodeMissingEnvelope(t *testing.T) {
	f := frame.Frame{Header: frame.Header{Kind: uint32(KindOneWay)}}
	var buf bytes.Buffer
	if err := frame.WriteFrame(&buf, f, frame.DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	_, err := Decode(&buf, frame.DefaultLimits())
	if !errors.Is(err, ErrMissingEnvelope) {
		t.Fatalf("expected ErrMissingEnvelope, got %v", err)
	}
}

func TestDecodeInvalidKind(t *testing.T) {
	f := frame.Frame{Header: frame.Header{Kind: 77}}
	b, err := frame.AppendFrame(nil, f, frame.DefaultLimits())
	if err != nil {
		t.Fatalf("append frame: %v", err)
	}
	if _, err := Unmarshal(b); !errors.Is(err, ErrInvalidKind) {
		t.Fatalf("expected ErrInvalidKind, got %v", err)
	}
}
