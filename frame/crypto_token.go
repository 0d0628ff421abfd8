package frame

import "github.com/quicproto/qtransport/wire"

// Crypto carries handshake bytes from the crypto provider, reassembled by
// offset exactly like a Stream frame but on its own implicit stream outside
// any application stream's flow control.
type Crypto struct {
	Offset uint64
	Data   []byte
}

func (Crypto) Type() Type        { return TypeCrypto }
func (Crypto) AckEliciting() bool { return true }
func (f Crypto) Append(buf []byte) ([]byte, error) {
	buf = appendVarInt(buf, wireCrypto)
	buf = appendVarInt(buf, f.Offset)
	buf = appendVarInt(buf, uint64(len(f.Data)))
	buf = append(buf, f.Data...)
	return buf, nil
}

func decodeCrypto(b []byte) (Frame, int, error) {
	start := len(b)
	off, n, err := wire.ConsumeVarInt(b)
	if err != nil {
		return nil, 0, ErrFrameEncoding
	}
	b = b[n:]
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
	return Crypto{Offset: off, Data: data}, start - len(b), nil
}

// NewToken hands the client an address-validation token it may present on a
// future connection's Initial packet to skip the stateless-retry round
// trip.
type NewToken struct {
	Token []byte
}

func (NewToken) Type() Type        { return TypeNewToken }
func (NewToken) AckEliciting() bool { return true }
func (f NewToken) Append(buf []byte) ([]byte, error) {
	buf = appendVarInt(buf, wireNewToken)
	buf = appendVarInt(buf, uint64(len(f.Token)))
	buf = append(buf, f.Token...)
	return buf, nil
}

func decodeNewToken(b []byte) (Frame, int, error) {
	start := len(b)
	length, n, err := wire.ConsumeVarInt(b)
	if err != nil {
		return nil, 0, ErrFrameEncoding
	}
	b = b[n:]
	if uint64(len(b)) < length {
		return nil, 0, ErrFrameEncoding
	}
	token := append([]byte(nil), b[:length]...)
	b = b[length:]
	return NewToken{Token: token}, start - len(b), nil
}
