package wire

import (
	"reflect"
	"testing"

	"github.com/go-test/deep"
)

func TestVarIntRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		v    uint64
		want int
	}{
		{"zero", 0, 1},
		{"one-byte-max", 63, 1},
		{"two-byte-min", 64, 2},
		{"two-byte-max", 16383, 2},
		{"four-byte-min", 16384, 4},
		{"four-byte-max", 1073741823, 4},
		{"eight-byte-min", 1073741824, 8},
		{"eight-byte-max", MaxVarInt, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := AppendVarInt(nil, tt.v)
			if err != nil {
				t.Fatalf("AppendVarInt(%d): %v", tt.v, err)
			}
			if len(buf) != tt.want {
				t.Errorf("encoded length = %d, want %d", len(buf), tt.want)
			}
			if got := VarIntLen(tt.v); got != tt.want {
				t.Errorf("VarIntLen(%d) = %d, want %d", tt.v, got, tt.want)
			}
			got, n, err := ConsumeVarInt(buf)
			if err != nil {
				t.Fatalf("ConsumeVarInt: %v", err)
			}
			if n != len(buf) {
				t.Errorf("consumed %d bytes, want %d", n, len(buf))
			}
			if got != tt.v {
				t.Errorf("round trip = %d, want %d", got, tt.v)
			}
		})
	}
}

func TestVarIntTooLarge(t *testing.T) {
	if _, err := AppendVarInt(nil, MaxVarInt+1); err != ErrVarIntTooLarge {
		t.Errorf("expected ErrVarIntTooLarge, got %v", err)
	}
}

func TestConsumeVarIntShortBuffer(t *testing.T) {
	// A two-byte-form prefix with only one byte present must fail cleanly,
	// never panic, per spec.md's "decodes are fallible and never panic on
	// adversarial input".
	if _, _, err := ConsumeVarInt([]byte{0x40}); err != ErrBufferTooShort {
		t.Errorf("expected ErrBufferTooShort, got %v", err)
	}
	if _, _, err := ConsumeVarInt(nil); err != ErrBufferTooShort {
		t.Errorf("expected ErrBufferTooShort for empty buffer, got %v", err)
	}
}

func TestConsumeVarIntAcceptsNonMinimalForm(t *testing.T) {
	// Receivers must accept any encoded form, not only the shortest one.
	buf := []byte{0x40, 0x05} // two-byte encoding of 5, though 5 fits in one byte
	v, n, err := ConsumeVarInt(buf)
	if err != nil {
		t.Fatalf("ConsumeVarInt: %v", err)
	}
	if diff := deep.Equal(struct {
		V uint64
		N int
	}{5, 2}, struct {
		V uint64
		N int
	}{v, n}); diff != nil {
		t.Errorf("unexpected decode: %v", diff)
	}
}

func TestPacketNumberRoundTrip(t *testing.T) {
	tests := []struct {
		largestAcked int64
		pn           int64
	}{
		{-1, 0},
		{-1, 1},
		{100, 101},
		{100, 200},
		{1 << 20, (1 << 20) + 5},
	}
	for _, tt := range tests {
		pnLen := EncodePacketNumberLength(tt.pn, tt.largestAcked)
		truncated := TruncatePacketNumber(tt.pn, pnLen)
		got := DecodePacketNumber(tt.largestAcked, truncated, pnLen)
		if got != tt.pn {
			t.Errorf("largestAcked=%d pn=%d pnLen=%d: decoded %d, want %d",
				tt.largestAcked, tt.pn, pnLen, got, tt.pn)
		}
	}
}

func TestConnectionIDBytes(t *testing.T) {
	raw := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	id, err := NewConnectionID(raw)
	if err != nil {
		t.Fatalf("NewConnectionID: %v", err)
	}
	if !reflect.DeepEqual(id.Bytes(), raw) {
		t.Errorf("Bytes() = %v, want %v", id.Bytes(), raw)
	}
	if id.Len() != len(raw) {
		t.Errorf("Len() = %d, want %d", id.Len(), len(raw))
	}
	if _, err := NewConnectionID(make([]byte, MaxCIDLen+1)); err != ErrCIDTooLong {
		t.Errorf("expected ErrCIDTooLong, got %v", err)
	}
}

func TestRandomGeneratorProducesDistinctUnpredictableIDs(t *testing.T) {
	g := NewRandomGenerator()
	a, err := g.GenerateConnectionID()
	if err != nil {
		t.Fatalf("GenerateConnectionID: %v", err)
	}
	b, err := g.GenerateConnectionID()
	if err != nil {
		t.Fatalf("GenerateConnectionID: %v", err)
	}
	if a == b {
		t.Errorf("two generated connection ids were equal: %v", a)
	}
	if a.Len() != DefaultCIDLen {
		t.Errorf("Len() = %d, want %d", a.Len(), DefaultCIDLen)
	}
}
