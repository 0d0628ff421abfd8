// Package stream implements QUIC's per-stream send/receive buffers, state
// machines, and IDs (spec.md section 4.2/4.4). It depends on flowcontrol
// for the byte-level send/receive windows but knows nothing about packets,
// framing, or recovery; the connection package drives it by feeding decoded
// STREAM/RESET_STREAM/STOP_SENDING/MAX_STREAM_DATA frames in and pulling
// pending outgoing frames out.
package stream

// ID is a QUIC stream identifier. The two low bits encode who initiated the
// stream and whether it is bidirectional or unidirectional (RFC 9000
// section 2.1); the remaining bits are a per-(initiator,direction) counter.
type ID uint64

const (
	initiatorBit  = 0x1
	directionBit  = 0x2
	clientInitiator = 0
	serverInitiator = 1
	bidirectional   = 0
	unidirectional  = 1
)

// NewID builds a stream ID from its counter, initiator, and direction.
func NewID(counter uint64, serverInitiated, uni bool) ID {
	var id uint64 = counter << 2
	if serverInitiated {
		id |= initiatorBit
	}
	if uni {
		id |= directionBit
	}
	return ID(id)
}

// IsClientInitiated reports whether the client opened this stream.
func (id ID) IsClientInitiated() bool { return uint64(id)&initiatorBit == clientInitiator }

// IsServerInitiated reports whether the server opened this stream.
func (id ID) IsServerInitiated() bool { return uint64(id)&initiatorBit == serverInitiator }

// IsBidi reports whether the stream is bidirectional.
func (id ID) IsBidi() bool { return uint64(id)&directionBit == bidirectional }

// IsUni reports whether the stream is unidirectional.
func (id ID) IsUni() bool { return uint64(id)&directionBit == directionBit }

// InitiatedByLocal reports whether id was opened by the party identified by
// isServer (true if this endpoint is the server).
func (id ID) InitiatedByLocal(isServer bool) bool {
	return id.IsServerInitiated() == isServer
}

// Counter returns the per-(initiator,direction) sequence number encoded in
// id, used to index into the four counters a connection maintains (client
// bidi, server bidi, client uni, server uni).
func (id ID) Counter() uint64 { return uint64(id) >> 2 }
