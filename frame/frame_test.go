package frame

import (
	"reflect"
	"testing"

	"github.com/quicproto/qtransport/wire"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cid, err := wire.NewConnectionID([]byte{9, 9, 9, 9, 9, 9, 9, 9})
	if err != nil {
		t.Fatalf("NewConnectionID: %v", err)
	}
	tests := []struct {
		name string
		f    Frame
	}{
		{"ping", Ping{}},
		{"handshake-done", HandshakeDone{}},
		{"ack-single-range", Ack{LargestAcked: 10, AckDelay: 100, Ranges: []AckRange{{Smallest: 8, Largest: 10}}}},
		{"ack-multi-range", Ack{LargestAcked: 20, AckDelay: 5, Ranges: []AckRange{
			{Smallest: 18, Largest: 20},
			{Smallest: 10, Largest: 14},
			{Smallest: 0, Largest: 2},
		}}},
		{"reset-stream", ResetStream{StreamID: 4, ErrorCode: 1, FinalSize: 1024}},
		{"stop-sending", StopSending{StreamID: 4, ErrorCode: 2}},
		{"crypto", Crypto{Offset: 0, Data: []byte("client hello")}},
		{"new-token", NewToken{Token: []byte{1, 2, 3, 4}}},
		{"stream-full", Stream{StreamID: 8, Offset: 16, Data: []byte("hello"), Fin: true, OffsetPresent: true, LengthPresent: true}},
		{"stream-minimal", Stream{StreamID: 0, Data: []byte("world")}},
		{"max-data", MaxData{Maximum: 1 << 20}},
		{"max-stream-data", MaxStreamData{StreamID: 4, Maximum: 1 << 16}},
		{"max-streams-bidi", MaxStreams{Uni: false, MaximumID: 100}},
		{"max-streams-uni", MaxStreams{Uni: true, MaximumID: 100}},
		{"data-blocked", DataBlocked{DataLimit: 500}},
		{"stream-data-blocked", StreamDataBlocked{StreamID: 4, DataLimit: 500}},
		{"streams-blocked", StreamsBlocked{Uni: true, StreamLimit: 10}},
		{"new-connection-id", NewConnectionID{SequenceNumber: 1, RetirePriorTo: 0, ConnectionID: cid, ResetToken: [16]byte{1, 2, 3}}},
		{"retire-connection-id", RetireConnectionID{SequenceNumber: 1}},
		{"path-challenge", PathChallenge{Data: [8]byte{1, 2, 3, 4, 5, 6, 7, 8}}},
		{"path-response", PathResponse{Data: [8]byte{8, 7, 6, 5, 4, 3, 2, 1}}},
		{"connection-close-transport", ConnectionClose{ErrorCode: 10, FrameType: 6, ReasonPhrase: "bad crypto"}},
		{"connection-close-app", ConnectionClose{IsApplication: true, ErrorCode: 1, ReasonPhrase: "bye"}},
		{"datagram-with-length", Datagram{Data: []byte("hi"), LengthPresent: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := tt.f.Append(nil)
			if err != nil {
				t.Fatalf("Append: %v", err)
			}
			got, n, err := Decode(buf)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if n != len(buf) {
				t.Errorf("consumed %d bytes, want %d", n, len(buf))
			}
			if !reflect.DeepEqual(got, tt.f) {
				t.Errorf("round trip mismatch:\n got  %#v\n want %#v", got, tt.f)
			}
		})
	}
}

func TestDecodeReservedTypeFails(t *testing.T) {
	if _, _, err := Decode([]byte{0x20}); err != ErrFrameEncoding {
		t.Errorf("expected ErrFrameEncoding for reserved type, got %v", err)
	}
}

func TestDecodeTruncatedNeverPanics(t *testing.T) {
	// A Stream frame header claiming a length far beyond what follows must
	// fail cleanly.
	buf := []byte{byte(wireStreamLo) | 0x02, 0x00, 0x40, 0xff}
	if _, _, err := Decode(buf); err != ErrFrameEncoding {
		t.Errorf("expected ErrFrameEncoding, got %v", err)
	}
	// Fuzz-ish: every truncation prefix of a valid frame must not panic.
	full, _ := Stream{StreamID: 4, Offset: 10, Data: []byte("0123456789"), OffsetPresent: true, LengthPresent: true}.Append(nil)
	for i := 0; i < len(full); i++ {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Fatalf("Decode panicked on truncated input (len=%d): %v", i, r)
				}
			}()
			Decode(full[:i])
		}()
	}
}

func TestDecodeAllStopsOnError(t *testing.T) {
	var buf []byte
	buf, _ = Ping{}.Append(buf)
	buf = append(buf, 0x20) // reserved type
	frames, err := DecodeAll(buf)
	if err != ErrFrameEncoding {
		t.Fatalf("expected ErrFrameEncoding, got %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected 1 decoded frame before the error, got %d", len(frames))
	}
}
