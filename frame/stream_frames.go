package frame

import "github.com/quicproto/qtransport/wire"

// ResetStream abruptly terminates the sending part of a stream, discarding
// any buffered-but-unacknowledged data. FinalSize is the total number of
// bytes the stream would have carried, needed by the peer's flow control
// accounting even though the data itself is never delivered.
type ResetStream struct {
	StreamID  uint64
	ErrorCode uint64
	FinalSize uint64
}

func (ResetStream) Type() Type        { return TypeResetStream }
func (ResetStream) AckEliciting() bool { return true }
func (f ResetStream) Append(buf []byte) ([]byte, error) {
	buf = appendVarInt(buf, wireResetStream)
	buf = appendVarInt(buf, f.StreamID)
	buf = appendVarInt(buf, f.ErrorCode)
	buf = appendVarInt(buf, f.FinalSize)
	return buf, nil
}

func decodeResetStream(b []byte) (Frame, int, error) {
	start := len(b)
	id, n, err := wire.ConsumeVarInt(b)
	if err != nil {
		return nil, 0, ErrFrameEncoding
	}
	b = b[n:]
	code, n, err := wire.ConsumeVarInt(b)
	if err != nil {
		return nil, 0, ErrFrameEncoding
	}
	b = b[n:]
	size, n, err := wire.ConsumeVarInt(b)
	if err != nil {
		return nil, 0, ErrFrameEncoding
	}
	b = b[n:]
	return ResetStream{StreamID: id, ErrorCode: code, FinalSize: size}, start - len(b), nil
}

// StopSending asks the peer to stop sending on a stream we no longer want to
// read, without closing the connection.
type StopSending struct {
	StreamID  uint64
	ErrorCode uint64
}

func (StopSending) Type() Type        { return TypeStopSending }
func (StopSending) AckEliciting() bool { return true }
func (f StopSending) Append(buf []byte) ([]byte, error) {
	buf = appendVarInt(buf, wireStopSending)
	buf = appendVarInt(buf, f.StreamID)
	buf = appendVarInt(buf, f.ErrorCode)
	return buf, nil
}

func decodeStopSending(b []byte) (Frame, int, error) {
	start := len(b)
	id, n, err := wire.ConsumeVarInt(b)
	if err != nil {
		return nil, 0, ErrFrameEncoding
	}
	b = b[n:]
	code, n, err := wire.ConsumeVarInt(b)
	if err != nil {
		return nil, 0, ErrFrameEncoding
	}
	b = b[n:]
	return StopSending{StreamID: id, ErrorCode: code}, start - len(b), nil
}

// Stream carries application data. Offset is omitted on the wire (and
// implicitly zero) when OffsetPresent is false; Length is omitted (and the
// data runs to the end of the packet) when LengthPresent is false. Fin marks
// the last byte of the stream.
type Stream struct {
	StreamID      uint64
	Offset        uint64
	Data          []byte
	Fin           bool
	OffsetPresent bool
	LengthPresent bool
}

func (Stream) Type() Type        { return TypeStream }
func (Stream) AckEliciting() bool { return true }

func (f Stream) Append(buf []byte) ([]byte, error) {
	typ := uint64(wireStreamLo)
	if f.OffsetPresent {
		typ |= 0x04
	}
	if f.LengthPresent {
		typ |= 0x02
	}
	if f.Fin {
		typ |= 0x01
	}
	buf = appendVarInt(buf, typ)
	buf = appendVarInt(buf, f.StreamID)
	if f.OffsetPresent {
		buf = appendVarInt(buf, f.Offset)
	}
	if f.LengthPresent {
		buf = appendVarInt(buf, uint64(len(f.Data)))
	}
	buf = append(buf, f.Data...)
	return buf, nil
}

func decodeStream(b []byte, typ uint64) (Frame, int, error) {
	start := len(b)
	id, n, err := wire.ConsumeVarInt(b)
	if err != nil {
		return nil, 0, ErrFrameEncoding
	}
	b = b[n:]

	f := Stream{StreamID: id}
	if typ&0x04 != 0 {
		f.OffsetPresent = true
		off, n, err := wire.ConsumeVarInt(b)
		if err != nil {
			return nil, 0, ErrFrameEncoding
		}
		b = b[n:]
		f.Offset = off
	}
	if typ&0x02 != 0 {
		f.LengthPresent = true
		length, n, err := wire.ConsumeVarInt(b)
		if err != nil {
			return nil, 0, ErrFrameEncoding
		}
		b = b[n:]
		if uint64(len(b)) < length {
			return nil, 0, ErrFrameEncoding
		}
		f.Data = append([]byte(nil), b[:length]...)
		b = b[length:]
	} else {
		f.Data = append([]byte(nil), b...)
		b = nil
	}
	f.Fin = typ&0x01 != 0
	return f, start - len(b), nil
}
