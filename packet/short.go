package packet

import (
	"github.com/quicproto/qtransport/qcrypto"
	"github.com/quicproto/qtransport/wire"
)

// BuildShortHeaderPacket encodes a 1-RTT packet addressed to hdr.DestCID,
// protects the packet number, and AEAD-seals payload.
func BuildShortHeaderPacket(hdr ShortHeader, pn int64, largestAcked int64, payload []byte, keys qcrypto.DirectionalKeys) ([]byte, error) {
	pnLen := wire.EncodePacketNumberLength(pn, largestAcked)
	truncated := wire.TruncatePacketNumber(pn, pnLen)

	header := make([]byte, 0, 1+hdr.DestCID.Len()+4)
	first := byte(0x40) | byte(pnLen-1)
	if hdr.SpinBit {
		first |= 0x20
	}
	if hdr.KeyPhase {
		first |= 0x04
	}
	header = append(header, first)
	header = append(header, hdr.DestCID.Bytes()...)
	pnOffset := len(header)
	for i := pnLen - 1; i >= 0; i-- {
		header = append(header, byte(truncated>>(8*uint(i))))
	}

	nonce := xorNonce(keys.IV, pn)
	sealed := keys.AEAD.Seal(nil, nonce, payload, header)
	packet := append(header, sealed...)

	sampleStart := pnOffset + 4
	if sampleStart+16 > len(packet) {
		return nil, ErrMalformedHeader
	}
	mask, err := qcrypto.HeaderProtectionMask(keys.Suite, keys.HPKey, packet[sampleStart:sampleStart+16])
	if err != nil {
		return nil, err
	}
	qcrypto.ApplyHeaderProtection(&packet[0], packet[pnOffset:pnOffset+pnLen], mask, false)
	return packet, nil
}

// ParseShortHeaderPacket removes header protection and AEAD-decrypts a
// 1-RTT packet. cidLen is the locally-configured connection ID length
// (short headers carry no CID length field on the wire).
func ParseShortHeaderPacket(b []byte, cidLen int, largestAcked int64, keys qcrypto.DirectionalKeys) (ShortHeader, int64, []byte, error) {
	if cidLen > wire.MaxCIDLen || len(b) < 1+cidLen+4 {
		return ShortHeader{}, 0, nil, ErrMalformedHeader
	}
	dcid, err := wire.NewConnectionID(b[1 : 1+cidLen])
	if err != nil {
		return ShortHeader{}, 0, nil, ErrMalformedHeader
	}
	pnOffset := 1 + cidLen

	sampleStart := pnOffset + 4
	if sampleStart+16 > len(b) {
		return ShortHeader{}, 0, nil, ErrMalformedHeader
	}
	mask, err := qcrypto.HeaderProtectionMask(keys.Suite, keys.HPKey, b[sampleStart:sampleStart+16])
	if err != nil {
		return ShortHeader{}, 0, nil, err
	}

	work := append([]byte(nil), b...)
	qcrypto.ApplyHeaderProtection(&work[0], work[pnOffset:pnOffset+4], mask, false)
	pnLen := int(work[0]&0x03) + 1
	truncated := be32(padTo4(work[pnOffset : pnOffset+pnLen]))
	pn := wire.DecodePacketNumber(largestAcked, uint64(truncated), pnLen)

	headerLen := pnOffset + pnLen
	aad := work[:headerLen]
	nonce := xorNonce(keys.IV, pn)
	plaintext, err := keys.AEAD.Open(nil, nonce, work[headerLen:], aad)
	if err != nil {
		return ShortHeader{}, 0, nil, ErrPacketProtection
	}

	hdr := ShortHeader{
		DestCID:  dcid,
		SpinBit:  work[0]&0x20 != 0,
		KeyPhase: work[0]&0x04 != 0,
	}
	return hdr, pn, plaintext, nil
}
