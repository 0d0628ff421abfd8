package frame

import "github.com/quicproto/qtransport/wire"

// MaxData advertises the connection-level flow-control credit the sender is
// willing to receive in total.
type MaxData struct {
	Maximum uint64
}

func (MaxData) Type() Type        { return TypeMaxData }
func (MaxData) AckEliciting() bool { return true }
func (f MaxData) Append(buf []byte) ([]byte, error) {
	buf = appendVarInt(buf, wireMaxData)
	buf = appendVarInt(buf, f.Maximum)
	return buf, nil
}

func decodeMaxData(b []byte) (Frame, int, error) {
	start := len(b)
	v, n, err := wire.ConsumeVarInt(b)
	if err != nil {
		return nil, 0, ErrFrameEncoding
	}
	return MaxData{Maximum: v}, start - len(b[n:]), nil
}

// MaxStreamData advertises the per-stream flow-control credit for StreamID.
type MaxStreamData struct {
	StreamID uint64
	Maximum  uint64
}

func (MaxStreamData) Type() Type        { return TypeMaxStreamData }
func (MaxStreamData) AckEliciting() bool { return true }
func (f MaxStreamData) Append(buf []byte) ([]byte, error) {
	buf = appendVarInt(buf, wireMaxStreamData)
	buf = appendVarInt(buf, f.StreamID)
	buf = appendVarInt(buf, f.Maximum)
	return buf, nil
}

func decodeMaxStreamData(b []byte) (Frame, int, error) {
	start := len(b)
	id, n, err := wire.ConsumeVarInt(b)
	if err != nil {
		return nil, 0, ErrFrameEncoding
	}
	b = b[n:]
	max, n, err := wire.ConsumeVarInt(b)
	if err != nil {
		return nil, 0, ErrFrameEncoding
	}
	b = b[n:]
	return MaxStreamData{StreamID: id, Maximum: max}, start - len(b), nil
}

// MaxStreams raises the limit on streams of one type (bidirectional or
// unidirectional) the peer may open.
type MaxStreams struct {
	Uni        bool
	MaximumID  uint64 // count of streams, not a stream ID
}

func (MaxStreams) Type() Type        { return TypeMaxStreams }
func (MaxStreams) AckEliciting() bool { return true }
func (f MaxStreams) Append(buf []byte) ([]byte, error) {
	typ := uint64(wireMaxStreamsBidi)
	if f.Uni {
		typ = wireMaxStreamsUni
	}
	buf = appendVarInt(buf, typ)
	buf = appendVarInt(buf, f.MaximumID)
	return buf, nil
}

func decodeMaxStreams(b []byte, uni bool) (Frame, int, error) {
	start := len(b)
	v, n, err := wire.ConsumeVarInt(b)
	if err != nil {
		return nil, 0, ErrFrameEncoding
	}
	return MaxStreams{Uni: uni, MaximumID: v}, start - len(b[n:]), nil
}

// DataBlocked tells the peer we have connection-level data queued but are
// blocked by its MaxData advertisement, at DataLimit.
type DataBlocked struct {
	DataLimit uint64
}

func (DataBlocked) Type() Type        { return TypeDataBlocked }
func (DataBlocked) AckEliciting() bool { return true }
func (f DataBlocked) Append(buf []byte) ([]byte, error) {
	buf = appendVarInt(buf, wireDataBlocked)
	buf = appendVarInt(buf, f.DataLimit)
	return buf, nil
}

func decodeDataBlocked(b []byte) (Frame, int, error) {
	start := len(b)
	v, n, err := wire.ConsumeVarInt(b)
	if err != nil {
		return nil, 0, ErrFrameEncoding
	}
	return DataBlocked{DataLimit: v}, start - len(b[n:]), nil
}

// StreamDataBlocked is DataBlocked's per-stream counterpart.
type StreamDataBlocked struct {
	StreamID  uint64
	DataLimit uint64
}

func (StreamDataBlocked) Type() Type        { return TypeStreamDataBlocked }
func (StreamDataBlocked) AckEliciting() bool { return true }
func (f StreamDataBlocked) Append(buf []byte) ([]byte, error) {
	buf = appendVarInt(buf, wireStreamDataBlocked)
	buf = appendVarInt(buf, f.StreamID)
	buf = appendVarInt(buf, f.DataLimit)
	return buf, nil
}

func decodeStreamDataBlocked(b []byte) (Frame, int, error) {
	start := len(b)
	id, n, err := wire.ConsumeVarInt(b)
	if err != nil {
		return nil, 0, ErrFrameEncoding
	}
	b = b[n:]
	limit, n, err := wire.ConsumeVarInt(b)
	if err != nil {
		return nil, 0, ErrFrameEncoding
	}
	b = b[n:]
	return StreamDataBlocked{StreamID: id, DataLimit: limit}, start - len(b), nil
}

// StreamsBlocked tells the peer we wanted to open a stream of the given type
// but were limited by its last MaxStreams advertisement, at StreamLimit.
type StreamsBlocked struct {
	Uni         bool
	StreamLimit uint64
}

func (StreamsBlocked) Type() Type        { return TypeStreamsBlocked }
func (StreamsBlocked) AckEliciting() bool { return true }
func (f StreamsBlocked) Append(buf []byte) ([]byte, error) {
	typ := uint64(wireStreamsBlockedBidi)
	if f.Uni {
		typ = wireStreamsBlockedUni
	}
	buf = appendVarInt(buf, typ)
	buf = appendVarInt(buf, f.StreamLimit)
	return buf, nil
}

func decodeStreamsBlocked(b []byte, uni bool) (Frame, int, error) {
	start := len(b)
	v, n, err := wire.ConsumeVarInt(b)
	if err != nil {
		return nil, 0, ErrFrameEncoding
	}
	return StreamsBlocked{Uni: uni, StreamLimit: v}, start - len(b[n:]), nil
}
