package frame

import "github.com/quicproto/qtransport/wire"

// ConnectionClose signals the end of a connection. IsApplication
// distinguishes the application-level variant (0x1d, ErrorCode in the
// application's own space) from the transport-level one (0x1c, ErrorCode a
// QUIC transport error code and FrameType naming the frame that triggered
// it, 0 if none).
type ConnectionClose struct {
	IsApplication bool
	ErrorCode     uint64
	FrameType     uint64
	ReasonPhrase  string
}

func (ConnectionClose) Type() Type        { return TypeConnectionClose }
func (ConnectionClose) AckEliciting() bool { return false }
func (f ConnectionClose) Append(buf []byte) ([]byte, error) {
	typ := uint64(wireConnectionCloseQUIC)
	if f.IsApplication {
		typ = wireConnectionCloseApp
	}
	buf = appendVarInt(buf, typ)
	buf = appendVarInt(buf, f.ErrorCode)
	if !f.IsApplication {
		buf = appendVarInt(buf, f.FrameType)
	}
	buf = appendVarInt(buf, uint64(len(f.ReasonPhrase)))
	buf = append(buf, f.ReasonPhrase...)
	return buf, nil
}

func decodeConnectionClose(b []byte, isApp bool) (Frame, int, error) {
	start := len(b)
	code, n, err := wire.ConsumeVarInt(b)
	if err != nil {
		return nil, 0, ErrFrameEncoding
	}
	b = b[n:]
	f := ConnectionClose{IsApplication: isApp, ErrorCode: code}
	if !isApp {
		ft, n, err := wire.ConsumeVarInt(b)
		if err != nil {
			return nil, 0, ErrFrameEncoding
		}
		b = b[n:]
		f.FrameType = ft
	}
	length, n, err := wire.ConsumeVarInt(b)
	if err != nil {
		return nil, 0, ErrFrameEncoding
	}
	b = b[n:]
	if uint64(len(b)) < length {
		return nil, 0, ErrFrameEncoding
	}
	f.ReasonPhrase = string(b[:length])
	b = b[length:]
	return f, start - len(b), nil
}
