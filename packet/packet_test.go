package packet

import (
	"bytes"
	"testing"

	"github.com/quicproto/qtransport/qcrypto"
	"github.com/quicproto/qtransport/wire"
)

func testKeys(t *testing.T) (client, server qcrypto.DirectionalKeys) {
	t.Helper()
	dcid := []byte{0x83, 0x94, 0xc8, 0xf0, 0x3e, 0x51, 0x57, 0x08}
	clientSecret, serverSecret := qcrypto.InitialSecrets(dcid)
	return qcrypto.DirectionalKeysFromSecret(clientSecret), qcrypto.DirectionalKeysFromSecret(serverSecret)
}

func TestLongHeaderPacketRoundTrip(t *testing.T) {
	client, _ := testKeys(t)

	dcid, _ := wire.NewConnectionID([]byte{0x83, 0x94, 0xc8, 0xf0, 0x3e, 0x51, 0x57, 0x08})
	scid, _ := wire.NewConnectionID([]byte{1, 2, 3, 4})
	hdr := LongHeader{Type: LongTypeInitial, Version: Version1, DestCID: dcid, SrcCID: scid}

	payload := bytes.Repeat([]byte{0x42}, 200)
	pkt, err := BuildLongHeaderPacket(hdr, 2, 1, payload, client)
	if err != nil {
		t.Fatalf("BuildLongHeaderPacket: %v", err)
	}

	gotHdr, pn, plaintext, consumed, err := ParseLongHeaderPacket(pkt, 1, client)
	if err != nil {
		t.Fatalf("ParseLongHeaderPacket: %v", err)
	}
	if consumed != len(pkt) {
		t.Errorf("consumed = %d, want %d", consumed, len(pkt))
	}
	if pn != 2 {
		t.Errorf("pn = %d, want 2", pn)
	}
	if !bytes.Equal(plaintext, payload) {
		t.Errorf("plaintext mismatch")
	}
	if gotHdr.DestCID != hdr.DestCID || gotHdr.SrcCID != hdr.SrcCID || gotHdr.Type != hdr.Type {
		t.Errorf("header mismatch: got %+v want %+v", gotHdr, hdr)
	}
}

func TestLongHeaderPacketWrongKeyFailsToOpen(t *testing.T) {
	client, server := testKeys(t)

	dcid, _ := wire.NewConnectionID([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	scid, _ := wire.NewConnectionID([]byte{9, 9})
	hdr := LongHeader{Type: LongTypeInitial, Version: Version1, DestCID: dcid, SrcCID: scid}

	pkt, err := BuildLongHeaderPacket(hdr, 0, -1, []byte("hello initial crypto data"), client)
	if err != nil {
		t.Fatalf("BuildLongHeaderPacket: %v", err)
	}

	if _, _, _, _, err := ParseLongHeaderPacket(pkt, -1, server); err != ErrPacketProtection {
		t.Fatalf("expected ErrPacketProtection, got %v", err)
	}
}

func TestShortHeaderPacketRoundTrip(t *testing.T) {
	client, _ := testKeys(t)
	dcid, _ := wire.NewConnectionID([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	hdr := ShortHeader{DestCID: dcid, KeyPhase: false, SpinBit: true}

	payload := []byte("1-RTT application data")
	pkt, err := BuildShortHeaderPacket(hdr, 100, 99, payload, client)
	if err != nil {
		t.Fatalf("BuildShortHeaderPacket: %v", err)
	}

	gotHdr, pn, plaintext, err := ParseShortHeaderPacket(pkt, dcid.Len(), 99, client)
	if err != nil {
		t.Fatalf("ParseShortHeaderPacket: %v", err)
	}
	if pn != 100 {
		t.Errorf("pn = %d, want 100", pn)
	}
	if !bytes.Equal(plaintext, payload) {
		t.Errorf("plaintext mismatch: got %q", plaintext)
	}
	if gotHdr.DestCID != dcid || !gotHdr.SpinBit || gotHdr.KeyPhase {
		t.Errorf("header mismatch: got %+v", gotHdr)
	}
}

func TestParseInvariantShortHeader(t *testing.T) {
	dcid, _ := wire.NewConnectionID([]byte{1, 2, 3, 4})
	b := append([]byte{0x40}, dcid.Bytes()...)
	b = append(b, 0xaa, 0xbb) // packet-number-ish trailing bytes

	inv, err := ParseInvariant(b, dcid.Len())
	if err != nil {
		t.Fatalf("ParseInvariant: %v", err)
	}
	if inv.IsLong {
		t.Errorf("expected short header")
	}
	if inv.DestCID != dcid {
		t.Errorf("DestCID mismatch: got %v want %v", inv.DestCID, dcid)
	}
}

func TestParseInvariantLongHeader(t *testing.T) {
	dcid, _ := wire.NewConnectionID([]byte{1, 2, 3, 4, 5})
	scid, _ := wire.NewConnectionID([]byte{9, 9, 9})
	b := []byte{0xc3, 0, 0, 0, 1, byte(dcid.Len())}
	b = append(b, dcid.Bytes()...)
	b = append(b, byte(scid.Len()))
	b = append(b, scid.Bytes()...)

	inv, err := ParseInvariant(b, 8)
	if err != nil {
		t.Fatalf("ParseInvariant: %v", err)
	}
	if !inv.IsLong || inv.Version != Version1 {
		t.Errorf("unexpected invariant header: %+v", inv)
	}
	if inv.DestCID != dcid || inv.SrcCID != scid {
		t.Errorf("CID mismatch: got dcid=%v scid=%v", inv.DestCID, inv.SrcCID)
	}
}

func TestParseInvariantTruncatedNeverPanics(t *testing.T) {
	dcid, _ := wire.NewConnectionID([]byte{1, 2, 3, 4, 5})
	scid, _ := wire.NewConnectionID([]byte{9, 9, 9})
	full := []byte{0xc3, 0, 0, 0, 1, byte(dcid.Len())}
	full = append(full, dcid.Bytes()...)
	full = append(full, byte(scid.Len()))
	full = append(full, scid.Bytes()...)

	for n := 0; n < len(full); n++ {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Fatalf("panic at prefix length %d: %v", n, r)
				}
			}()
			ParseInvariant(full[:n], 8)
		}()
	}
}

func TestSplitCoalescedTwoLongHeaders(t *testing.T) {
	client, _ := testKeys(t)
	dcid, _ := wire.NewConnectionID([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	scid, _ := wire.NewConnectionID([]byte{9, 9})

	initial, err := BuildLongHeaderPacket(LongHeader{Type: LongTypeInitial, Version: Version1, DestCID: dcid, SrcCID: scid}, 0, -1, bytes.Repeat([]byte{1}, 50), client)
	if err != nil {
		t.Fatalf("build initial: %v", err)
	}
	handshake, err := BuildLongHeaderPacket(LongHeader{Type: LongTypeHandshake, Version: Version1, DestCID: dcid, SrcCID: scid}, 0, -1, bytes.Repeat([]byte{2}, 50), client)
	if err != nil {
		t.Fatalf("build handshake: %v", err)
	}

	datagram := append(append([]byte(nil), initial...), handshake...)
	parts, err := SplitCoalesced(datagram)
	if err != nil {
		t.Fatalf("SplitCoalesced: %v", err)
	}
	if len(parts) != 2 {
		t.Fatalf("got %d parts, want 2", len(parts))
	}
	if !bytes.Equal(parts[0], initial) {
		t.Errorf("part 0 mismatch")
	}
	if !bytes.Equal(parts[1], handshake) {
		t.Errorf("part 1 mismatch")
	}
}

func TestSplitCoalescedLongThenShort(t *testing.T) {
	client, _ := testKeys(t)
	dcid, _ := wire.NewConnectionID([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	scid, _ := wire.NewConnectionID([]byte{9, 9})

	initial, err := BuildLongHeaderPacket(LongHeader{Type: LongTypeInitial, Version: Version1, DestCID: dcid, SrcCID: scid}, 0, -1, bytes.Repeat([]byte{1}, 50), client)
	if err != nil {
		t.Fatalf("build initial: %v", err)
	}
	short, err := BuildShortHeaderPacket(ShortHeader{DestCID: dcid}, 0, -1, bytes.Repeat([]byte{3}, 30), client)
	if err != nil {
		t.Fatalf("build short: %v", err)
	}

	datagram := append(append([]byte(nil), initial...), short...)
	parts, err := SplitCoalesced(datagram)
	if err != nil {
		t.Fatalf("SplitCoalesced: %v", err)
	}
	if len(parts) != 2 {
		t.Fatalf("got %d parts, want 2", len(parts))
	}
	if !bytes.Equal(parts[1], short) {
		t.Errorf("trailing short-header part mismatch")
	}
}
