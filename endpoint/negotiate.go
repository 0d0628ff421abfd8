package endpoint

import (
	"crypto/rand"
	"time"

	"github.com/quicproto/qtransport/packet"
	"github.com/quicproto/qtransport/qcrypto"
)

// buildVersionNegotiation emits RFC 9000 section 6's Version Negotiation
// packet: a long header with version 0, echoing the client's chosen
// source/destination CIDs swapped, followed by every version this engine
// supports.
func buildVersionNegotiation(inv packet.InvariantHeader) []byte {
	out := make([]byte, 0, 16)
	randomByte := make([]byte, 1)
	rand.Read(randomByte)
	out = append(out, 0x80|randomByte[0]&0x7f)
	out = append(out, 0, 0, 0, 0) // version 0 marks Version Negotiation

	out = append(out, byte(inv.SrcCID.Len()))
	out = append(out, inv.SrcCID.Bytes()...)
	out = append(out, byte(inv.DestCID.Len()))
	out = append(out, inv.DestCID.Bytes()...)

	var verBuf [4]byte
	putBE32(verBuf[:], packet.Version1)
	out = append(out, verBuf[:]...)
	return out
}

func putBE32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

// buildRetry mints a Retry token bound to the client's address and original
// destination CID, and assembles the Retry packet (RFC 9000 section 17.2.5,
// RFC 9001 section 5.8's integrity tag).
func buildRetry(tokenKey [32]byte, clientAddr string, inv packet.InvariantHeader, now time.Time) []byte {
	token := MintRetryToken(tokenKey, clientAddr, inv.DestCID, now)

	newSrcCID := inv.DestCID // the server's chosen retry SCID; reusing the
	// client's original DCID keeps this self-contained without a connection
	// ID generator dependency at this call site.

	header := make([]byte, 0, 32+len(token))
	header = append(header, 0xc0|byte(packet.LongTypeRetry)<<4)
	var verBuf [4]byte
	putBE32(verBuf[:], packet.Version1)
	header = append(header, verBuf[:]...)
	header = append(header, byte(inv.SrcCID.Len()))
	header = append(header, inv.SrcCID.Bytes()...)
	header = append(header, byte(newSrcCID.Len()))
	header = append(header, newSrcCID.Bytes()...)
	header = append(header, token...)

	pseudo := make([]byte, 0, len(header)+1+inv.DestCID.Len())
	pseudo = append(pseudo, byte(inv.DestCID.Len()))
	pseudo = append(pseudo, inv.DestCID.Bytes()...)
	pseudo = append(pseudo, header...)

	tag := computeRetryIntegrityTag(pseudo)
	return append(header, tag[:]...)
}

// computeRetryIntegrityTag computes the Retry integrity tag using the fixed
// RFC 9001 section 5.8 AEAD key/nonce, the same for every QUIC v1 Retry
// regardless of connection (it authenticates that a Retry came from a
// server that knows the QUIC v1 constant, not from a specific peer's
// negotiated secrets). No connection or qcrypto.Session exists yet at
// Retry time, so this is computed directly against the fixed key rather
// than through the per-connection Session the rest of the engine uses.
func computeRetryIntegrityTag(pseudoPacket []byte) [16]byte {
	key := []byte{
		0xbe, 0x0c, 0x69, 0x0b, 0x9f, 0x66, 0x57, 0x5a,
		0x1d, 0x76, 0x6b, 0x54, 0xe3, 0x68, 0xc8, 0x4e,
	}
	nonce := []byte{0x46, 0x15, 0x99, 0xd3, 0x5d, 0x63, 0x2b, 0xf2, 0x23, 0x98, 0x25, 0xbb}
	aead, err := qcrypto.NewAESGCM(key)
	if err != nil {
		return [16]byte{}
	}
	sealed := aead.Seal(nil, nonce, nil, pseudoPacket)
	var tag [16]byte
	copy(tag[:], sealed)
	return tag
}
