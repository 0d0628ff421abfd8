package packet

import (
	"errors"

	"github.com/quicproto/qtransport/qcrypto"
	"github.com/quicproto/qtransport/wire"
)

// ErrPacketProtection is returned internally by Open/Unprotect when AEAD
// decryption fails. Per spec.md section 4.3 ("decryption failures are
// silently discarded, no error surfaced to the peer") callers must treat
// this as "drop the packet", never as a condition to report back to the
// sender.
var ErrPacketProtection = errors.New("packet: AEAD decryption failed")

// BuildLongHeaderPacket encodes hdr, protects pn with keys, and AEAD-seals
// payload, returning the complete on-wire packet bytes. largestAcked is the
// largest packet number already acknowledged by the peer in this space (-1
// if none), used to choose the shortest unambiguous packet-number encoding.
func BuildLongHeaderPacket(hdr LongHeader, pn int64, largestAcked int64, payload []byte, keys qcrypto.DirectionalKeys) ([]byte, error) {
	pnLen := wire.EncodePacketNumberLength(pn, largestAcked)
	truncated := wire.TruncatePacketNumber(pn, pnLen)

	header := make([]byte, 0, 32+hdr.DestCID.Len()+hdr.SrcCID.Len()+len(hdr.Token))
	first := 0xc0 | longTypeBits(hdr.Type)<<4 | byte(pnLen-1)
	header = append(header, first)
	verBuf := make([]byte, 4)
	putBE32(verBuf, hdr.Version)
	header = append(header, verBuf...)
	header = append(header, byte(hdr.DestCID.Len()))
	header = append(header, hdr.DestCID.Bytes()...)
	header = append(header, byte(hdr.SrcCID.Len()))
	header = append(header, hdr.SrcCID.Bytes()...)
	if hdr.Type == LongTypeInitial {
		header = appendVarInt(header, uint64(len(hdr.Token)))
		header = append(header, hdr.Token...)
	}
	lengthFieldLen := 2 // reserve a 2-byte varint slot; payload+pnLen is bounded well under 16384 for any sane MTU, but guard below
	totalLen := uint64(pnLen + len(payload) + keys.AEAD.Overhead())
	if totalLen > 16383 {
		lengthFieldLen = 4
	}
	lengthPos := len(header)
	header = appendVarIntFixed(header, totalLen, lengthFieldLen)
	pnOffset := len(header)
	for i := pnLen - 1; i >= 0; i-- {
		header = append(header, byte(truncated>>(8*uint(i))))
	}
	_ = lengthPos

	nonce := xorNonce(keys.IV, pn)
	sealed := keys.AEAD.Seal(nil, nonce, payload, header)

	packet := append(header, sealed...)

	sampleStart := pnOffset + 4
	if sampleStart+16 > len(packet) {
		// Packets this small should have been padded by the caller; guard
		// rather than slice out of range.
		return nil, errors.New("packet: too short to sample for header protection")
	}
	mask, err := qcrypto.HeaderProtectionMask(keys.Suite, keys.HPKey, packet[sampleStart:sampleStart+16])
	if err != nil {
		return nil, err
	}
	qcrypto.ApplyHeaderProtection(&packet[0], packet[pnOffset:pnOffset+pnLen], mask, true)
	return packet, nil
}

// ParseLongHeaderPacket removes header protection and AEAD-decrypts one
// long-header packet occupying the front of b (a coalesced datagram may
// have more packets following it). It returns the decoded header, packet
// number, decrypted payload, and the number of bytes of b this packet
// occupied.
func ParseLongHeaderPacket(b []byte, largestAcked int64, keys qcrypto.DirectionalKeys) (LongHeader, int64, []byte, int, error) {
	if len(b) < 7 {
		return LongHeader{}, 0, nil, 0, ErrMalformedHeader
	}
	version := be32(b[1:5])
	pos := 5
	dcidLen := int(b[pos])
	pos++
	if dcidLen > wire.MaxCIDLen || len(b) < pos+dcidLen+1 {
		return LongHeader{}, 0, nil, 0, ErrMalformedHeader
	}
	dcid, _ := wire.NewConnectionID(b[pos : pos+dcidLen])
	pos += dcidLen
	if pos >= len(b) {
		return LongHeader{}, 0, nil, 0, ErrMalformedHeader
	}
	scidLen := int(b[pos])
	pos++
	if scidLen > wire.MaxCIDLen || len(b) < pos+scidLen {
		return LongHeader{}, 0, nil, 0, ErrMalformedHeader
	}
	scid, _ := wire.NewConnectionID(b[pos : pos+scidLen])
	pos += scidLen

	typ := longTypeFromBits((b[0] >> 4) & 0x03)
	var token []byte
	if typ == LongTypeInitial {
		tokLen, n, err := wire.ConsumeVarInt(b[pos:])
		if err != nil {
			return LongHeader{}, 0, nil, 0, ErrMalformedHeader
		}
		pos += n
		if uint64(len(b)-pos) < tokLen {
			return LongHeader{}, 0, nil, 0, ErrMalformedHeader
		}
		token = append([]byte(nil), b[pos:pos+int(tokLen)]...)
		pos += int(tokLen)
	}

	length, n, err := wire.ConsumeVarInt(b[pos:])
	if err != nil {
		return LongHeader{}, 0, nil, 0, ErrMalformedHeader
	}
	pos += n
	pnOffset := pos
	if uint64(len(b)-pos) < length {
		return LongHeader{}, 0, nil, 0, ErrMalformedHeader
	}
	packetEnd := pos + int(length)

	sampleStart := pnOffset + 4
	if sampleStart+16 > len(b) {
		return LongHeader{}, 0, nil, 0, ErrMalformedHeader
	}
	mask, err := qcrypto.HeaderProtectionMask(keys.Suite, keys.HPKey, b[sampleStart:sampleStart+16])
	if err != nil {
		return LongHeader{}, 0, nil, 0, err
	}

	// Work on a copy so that an aliasing caller's buffer (e.g. a coalesced
	// datagram being parsed packet-by-packet) isn't mutated destructively
	// before we know this packet is authentic.
	work := append([]byte(nil), b[:packetEnd]...)
	qcrypto.ApplyHeaderProtection(&work[0], work[pnOffset:pnOffset+4], mask, true)
	pnLen := int(work[0]&0x03) + 1
	truncated := be32(padTo4(work[pnOffset : pnOffset+pnLen]))
	pn := wire.DecodePacketNumber(largestAcked, uint64(truncated), pnLen)

	headerLen := pnOffset + pnLen
	aad := work[:headerLen]
	nonce := xorNonce(keys.IV, pn)
	plaintext, err := keys.AEAD.Open(nil, nonce, work[headerLen:packetEnd], aad)
	if err != nil {
		return LongHeader{}, 0, nil, 0, ErrPacketProtection
	}

	hdr := LongHeader{Type: typ, Version: version, DestCID: dcid, SrcCID: scid, Token: token, Length: length}
	return hdr, pn, plaintext, packetEnd, nil
}

func padTo4(b []byte) []byte {
	if len(b) == 4 {
		return b
	}
	out := make([]byte, 4)
	copy(out[4-len(b):], b)
	return out
}

func xorNonce(iv []byte, pn int64) []byte {
	nonce := append([]byte(nil), iv...)
	for i := 0; i < 8 && i < len(nonce); i++ {
		nonce[len(nonce)-1-i] ^= byte(pn >> (8 * uint(i)))
	}
	return nonce
}

func appendVarInt(buf []byte, v uint64) []byte {
	buf, _ = wire.AppendVarInt(buf, v)
	return buf
}

// appendVarIntFixed encodes v using exactly width bytes (2 or 4), used for
// the Length field so its position can be computed before the payload size
// is known to the exact byte in all cases.
func appendVarIntFixed(buf []byte, v uint64, width int) []byte {
	switch width {
	case 2:
		b := []byte{0x40 | byte(v>>8), byte(v)}
		return append(buf, b...)
	default:
		b := []byte{0x80 | byte(v>>24), byte(v >> 16), byte(v >> 8), byte(v)}
		return append(buf, b...)
	}
}
