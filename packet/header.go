// Package packet builds and parses QUIC long- and short-header packets,
// applies header protection and AEAD packet protection, and coalesces
// multiple packets into one UDP datagram (spec.md section 4.3). It depends
// on wire for varints/CIDs/packet-number truncation and on qcrypto for the
// AEAD and header-protection primitives; it has no notion of a connection's
// broader state.
package packet

import (
	"errors"

	"github.com/quicproto/qtransport/wire"
)

// LongType distinguishes the four long-header packet types (RFC 9000
// section 17.2).
type LongType int

const (
	LongTypeInitial LongType = iota
	LongType0RTT
	LongTypeHandshake
	LongTypeRetry
)

// Version1 is the only QUIC transport version this engine natively protects
// packets for; version negotiation (spec.md section 4.7) is handled by the
// endpoint, not this package.
const Version1 uint32 = 0x00000001

// ErrMalformedHeader is returned for any header that cannot be parsed,
// including a truncated buffer or an invariant violation. Decryption
// failures are reported separately by Unprotect, and per spec.md section
// 4.3 are never surfaced to the peer.
var ErrMalformedHeader = errors.New("packet: malformed header")

// LongHeader is the common long-header packet shape before header
// protection has been applied or after it has been removed.
type LongHeader struct {
	Type    LongType
	Version uint32
	DestCID wire.ConnectionID
	SrcCID  wire.ConnectionID

	// Token carries the address-validation token on Initial packets (empty
	// or present) and the retry token on Retry packets.
	Token []byte

	// Length is the Length field of Initial/0-RTT/Handshake packets: the
	// length in bytes of the packet number plus payload that follows. It is
	// not meaningful for Retry.
	Length uint64
}

// ShortHeader is the 1-RTT packet header shape.
type ShortHeader struct {
	DestCID  wire.ConnectionID
	SpinBit  bool
	KeyPhase bool
}

// InvariantHeader is the version- and protection-independent prefix every
// long-header packet shares (RFC 8999 section 5.1): enough to route a
// datagram to a connection without needing any keys. The endpoint
// demultiplexer uses this to extract the destination CID from an Initial it
// may not yet have keys to decrypt (though Initial keys are always
// derivable from the DCID itself, per spec.md section 4.3/RFC 9001 5.2).
type InvariantHeader struct {
	IsLong  bool
	Version uint32 // only meaningful if IsLong
	DestCID wire.ConnectionID
	SrcCID  wire.ConnectionID // only meaningful if IsLong
}

// ParseInvariant reads just enough of a datagram's first packet to learn
// its destination connection ID, per spec.md section 4.7 ("parse just
// enough header to extract the destination CID"). For short headers the
// caller must supply the locally-configured connection ID length, since a
// short header carries no explicit CID length field.
func ParseInvariant(b []byte, shortHeaderCIDLen int) (InvariantHeader, error) {
	if len(b) < 1 {
		return InvariantHeader{}, ErrMalformedHeader
	}
	first := b[0]
	if first&0x80 == 0 {
		// Short header.
		if shortHeaderCIDLen > wire.MaxCIDLen || len(b) < 1+shortHeaderCIDLen {
			return InvariantHeader{}, ErrMalformedHeader
		}
		dcid, err := wire.NewConnectionID(b[1 : 1+shortHeaderCIDLen])
		if err != nil {
			return InvariantHeader{}, ErrMalformedHeader
		}
		return InvariantHeader{IsLong: false, DestCID: dcid}, nil
	}

	if len(b) < 5 {
		return InvariantHeader{}, ErrMalformedHeader
	}
	version := be32(b[1:5])
	pos := 5
	if pos >= len(b) {
		return InvariantHeader{}, ErrMalformedHeader
	}
	dcidLen := int(b[pos])
	pos++
	if dcidLen > wire.MaxCIDLen || len(b) < pos+dcidLen+1 {
		return InvariantHeader{}, ErrMalformedHeader
	}
	dcid, err := wire.NewConnectionID(b[pos : pos+dcidLen])
	if err != nil {
		return InvariantHeader{}, ErrMalformedHeader
	}
	pos += dcidLen
	scidLen := int(b[pos])
	pos++
	if scidLen > wire.MaxCIDLen || len(b) < pos+scidLen {
		return InvariantHeader{}, ErrMalformedHeader
	}
	scid, err := wire.NewConnectionID(b[pos : pos+scidLen])
	if err != nil {
		return InvariantHeader{}, ErrMalformedHeader
	}
	return InvariantHeader{IsLong: true, Version: version, DestCID: dcid, SrcCID: scid}, nil
}

// ParseInitialToken extracts the address-validation token from an Initial
// packet's clear (unprotected) fields, without touching header protection
// or AEAD state. Used by the endpoint demultiplexer to decide whether a
// client is presenting a previously minted Retry token, before any
// connection exists to parse the packet through the normal path.
func ParseInitialToken(b []byte) ([]byte, bool) {
	if len(b) < 7 || b[0]&0x80 == 0 || (b[0]>>4)&0x03 != 0x00 {
		return nil, false
	}
	pos := 5
	dcidLen := int(b[pos])
	pos++
	if dcidLen > wire.MaxCIDLen || len(b) < pos+dcidLen+1 {
		return nil, false
	}
	pos += dcidLen
	if pos >= len(b) {
		return nil, false
	}
	scidLen := int(b[pos])
	pos++
	if scidLen > wire.MaxCIDLen || len(b) < pos+scidLen {
		return nil, false
	}
	pos += scidLen
	tokLen, n, err := wire.ConsumeVarInt(b[pos:])
	if err != nil {
		return nil, false
	}
	pos += n
	if uint64(len(b)-pos) < tokLen {
		return nil, false
	}
	return append([]byte(nil), b[pos:pos+int(tokLen)]...), true
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func putBE32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

// longTypeBits encodes a LongType into the two type bits of a long header's
// first byte (RFC 9000 section 17.2, QUIC v1 values).
func longTypeBits(t LongType) byte {
	switch t {
	case LongTypeInitial:
		return 0x00
	case LongType0RTT:
		return 0x01
	case LongTypeHandshake:
		return 0x02
	case LongTypeRetry:
		return 0x03
	default:
		return 0x00
	}
}

func longTypeFromBits(b byte) LongType {
	switch b {
	case 0x01:
		return LongType0RTT
	case 0x02:
		return LongTypeHandshake
	case 0x03:
		return LongTypeRetry
	default:
		return LongTypeInitial
	}
}
