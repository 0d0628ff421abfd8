package frame

import "github.com/quicproto/qtransport/wire"

// Datagram carries unreliable, unordered application data (RFC 9221),
// outside any stream's flow control or retransmission accounting.
type Datagram struct {
	Data          []byte
	LengthPresent bool
}

func (Datagram) Type() Type        { return TypeDatagram }
func (Datagram) AckEliciting() bool { return true }
func (f Datagram) Append(buf []byte) ([]byte, error) {
	typ := uint64(wireDatagramLo)
	if f.LengthPresent {
		typ = wireDatagramHi
	}
	buf = appendVarInt(buf, typ)
	if f.LengthPresent {
		buf = appendVarInt(buf, uint64(len(f.Data)))
	}
	buf = append(buf, f.Data...)
	return buf, nil
}

func decodeDatagram(b []byte, lengthPresent bool) (Frame, int, error) {
	start := len(b)
	if lengthPresent {
		length, n, err := wire.ConsumeVarInt(b)
		if err != nil {
			return nil, 0, ErrFrameEncoding
		}
		b = b[n:]
		if uint64(len(b)) < length {
			return nil, 0, ErrFrameEncoding
		}
		data := append([]byte(nil), b[:length]...)
		b = b[length:]
		return Datagram{Data: data, LengthPresent: true}, start - len(b), nil
	}
	data := append([]byte(nil), b...)
	return Datagram{Data: data}, start, nil
}
