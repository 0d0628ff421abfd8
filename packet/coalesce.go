package packet

import "github.com/quicproto/qtransport/wire"

// SplitCoalesced divides a UDP datagram into the individual QUIC packets it
// may carry coalesced together (spec.md section 4.3: "Initial, Handshake,
// and 1-RTT packets for the same connection may be coalesced into one UDP
// datagram"). Long-header packets carry an explicit Length field so their
// extent is known without decrypting them; a short-header packet, having no
// such field, is assumed to run to the end of the datagram and so may only
// appear last. The returned slices alias b.
func SplitCoalesced(b []byte) ([][]byte, error) {
	var out [][]byte
	for len(b) > 0 {
		if b[0]&0x80 == 0 {
			// Short header: no length field, consumes the remainder.
			out = append(out, b)
			break
		}
		n, err := longPacketLen(b)
		if err != nil {
			return nil, err
		}
		if n > len(b) {
			return nil, ErrMalformedHeader
		}
		out = append(out, b[:n])
		b = b[n:]
	}
	return out, nil
}

// longPacketLen returns the total byte length of the long-header packet
// starting at b[0], without requiring protection keys: the Length field and
// everything before it is always sent unprotected.
func longPacketLen(b []byte) (int, error) {
	if len(b) < 6 {
		return 0, ErrMalformedHeader
	}
	pos := 5
	dcidLen := int(b[pos])
	pos++
	if dcidLen > wire.MaxCIDLen || len(b) < pos+dcidLen+1 {
		return 0, ErrMalformedHeader
	}
	pos += dcidLen
	if pos >= len(b) {
		return 0, ErrMalformedHeader
	}
	scidLen := int(b[pos])
	pos++
	if scidLen > wire.MaxCIDLen || len(b) < pos+scidLen {
		return 0, ErrMalformedHeader
	}
	pos += scidLen

	typ := longTypeFromBits((b[0] >> 4) & 0x03)
	if typ == LongTypeRetry {
		// Retry has no Length field or packet number; it runs to the end of
		// the datagram (it is never coalesced with anything after it).
		return len(b), nil
	}
	if typ == LongTypeInitial {
		tokLen, n, err := wire.ConsumeVarInt(b[pos:])
		if err != nil {
			return 0, ErrMalformedHeader
		}
		pos += n
		if uint64(len(b)-pos) < tokLen {
			return 0, ErrMalformedHeader
		}
		pos += int(tokLen)
	}
	length, n, err := wire.ConsumeVarInt(b[pos:])
	if err != nil {
		return 0, ErrMalformedHeader
	}
	pos += n
	return pos + int(length), nil
}
