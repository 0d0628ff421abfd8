package connection

import "github.com/quicproto/qtransport/stream"

// EventKind discriminates the Event union the application surface drains
// via PollEvent.
type EventKind int

const (
	EventHandshakeComplete EventKind = iota
	EventStreamReadable
	EventStreamWritable
	EventStreamFinished
	EventStreamReset
	EventStreamStopped
	EventConnectionClosed
	EventDatagramReceived
	EventPathMigrated
)

var eventKindNames = [...]string{
	"HandshakeComplete",
	"StreamReadable",
	"StreamWritable",
	"StreamFinished",
	"StreamReset",
	"StreamStopped",
	"ConnectionClosed",
	"DatagramReceived",
	"PathMigrated",
}

func (k EventKind) String() string {
	if k < 0 || int(k) >= len(eventKindNames) {
		return "Unknown"
	}
	return eventKindNames[k]
}

// MarshalCSV implements gocsv.TypeMarshaller so connstats renders event
// kinds by name instead of their bare integer value.
func (k EventKind) MarshalCSV() (string, error) {
	return k.String(), nil
}

// Event is one notification the connection surfaces to its owner. Only the
// fields relevant to Kind are populated.
type Event struct {
	Kind EventKind

	StreamID stream.ID
	ErrCode  uint64

	// CloseReason carries the human-readable reason phrase and whether the
	// close was application- or transport-initiated, valid only for
	// EventConnectionClosed.
	CloseReason    string
	CloseByPeer    bool
	CloseTransport bool

	DatagramData []byte
}
