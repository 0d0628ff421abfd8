package connection

import (
	"errors"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/quicproto/qtransport/config"
	"github.com/quicproto/qtransport/congestion"
	"github.com/quicproto/qtransport/flowcontrol"
	"github.com/quicproto/qtransport/metrics"
	"github.com/quicproto/qtransport/qcrypto"
	"github.com/quicproto/qtransport/recovery"
	"github.com/quicproto/qtransport/stream"
	"github.com/quicproto/qtransport/wire"
)

// ErrClosed is returned by application-surface methods once the connection
// has entered StateClosing, StateDraining, or StateDrained.
var ErrClosed = errors.New("connection: closed")

// Datagram is one outgoing UDP payload paired with the address it must be
// sent to. Ordinary traffic goes to the connection's active remote address;
// path validation frames during a migration attempt go to the candidate
// address instead, so PollTransmit cannot return a bare byte slice.
type Datagram struct {
	Data []byte
	To   string
}

// space bundles everything recovery, key installation, and framing need to
// track independently for one of the three packet number spaces.
type space struct {
	kind recovery.Space

	nextPN int64

	keysInstalled bool
	readKeys      qcrypto.DirectionalKeys
	writeKeys     qcrypto.DirectionalKeys

	// pendingAcks holds packet numbers received but not yet acknowledged,
	// largest first, collapsed into ranges when an ACK frame is built.
	pendingAcks  []int64
	largestAcked int64 // largest packet number this endpoint has acked from the peer, -1 if none

	cryptoSend *stream.SendBuffer
	cryptoRecv *stream.RecvBuffer
}

func newSpace(kind recovery.Space) *space {
	return &space{
		kind:         kind,
		largestAcked: -1,
		cryptoSend:   stream.NewSendBuffer(flowcontrol.NewSendWindow(wire.MaxVarInt)),
		cryptoRecv:   stream.NewRecvBuffer(flowcontrol.NewReceiveWindow(wire.MaxVarInt)),
	}
}

// Connection is the sans-I/O per-connection state machine (spec.md section
// 4.6). The owner (an endpoint, or a test harness) drives it entirely
// through HandlePacket/HandleTimeout and drains it through
// PollTransmit/PollEvent; nothing here touches a socket.
type Connection struct {
	id       xid.ID
	log      *logrus.Entry
	isServer bool

	transport *config.Transport
	crypto    qcrypto.Session

	localCID  wire.ConnectionID
	remoteCID wire.ConnectionID
	generator wire.Generator

	remoteAddr string

	// Connection ID rotation (RFC 9000 section 5.1).
	peerCIDs             []peerCIDEntry
	peerCIDRetirePriorTo uint64
	currentRemoteCIDSeq  uint64
	localCIDSeq          uint64
	issuedLocalCIDs      map[uint64]wire.ConnectionID
	localCIDTokens       map[uint64][16]byte
	newCIDQueue          []uint64
	retireQueue          []uint64
	pendingIssuedCIDs    []wire.ConnectionID
	pendingRetiredCIDs   []wire.ConnectionID
	peerActiveCIDLimit   uint64

	// Path validation / migration (RFC 9000 section 9).
	migrationDisabledByPeer bool
	probeAddr               string
	probeChallenge          [8]byte
	probeChallengeSent      bool
	probeBytesSent          uint64
	probeBytesRecvd         uint64
	probeSentAt             time.Time
	pendingPathResponse     *[8]byte
	pendingPathResponseTo   string

	// probeRequested[space] forces a fresh ack-eliciting frame in that
	// space on the next PollTransmit, set by a PTO firing; a PING is added
	// when nothing else ack-eliciting is queued (RFC 9002 section 6.2.4).
	probeRequested [3]bool

	// pendingMaxData/havePendingMaxData hold the connection-level flow
	// control credit to advertise via the next MAX_DATA frame.
	pendingMaxData     uint64
	havePendingMaxData bool

	initial   *space
	handshake *space
	app       *space

	streams  *stream.Manager
	connSend *flowcontrol.SendWindow
	connRecv *flowcontrol.ReceiveWindow

	rtt     *recovery.RTTEstimator
	tracker *recovery.Tracker
	cc      congestion.Controller
	pacer   *recovery.Pacer

	state State
	events []Event

	idleTimeout  time.Duration
	lastActivity time.Time

	closeCode   uint64
	closeReason string
	closeIsApp  bool
	closeAt     time.Time

	maxDatagramSize int
	handshakeDone   bool
	pingRequested   bool
}

// New creates a connection in StateHandshaking. localCID/remoteCID are the
// connection IDs this endpoint will use to send/receive with initially;
// remoteAddr is the peer's initial address, tracked so a later datagram
// from a different address is recognized as a migration attempt; generator
// mints any additional connection IDs issued to the peer during the
// connection's lifetime; crypto drives the TLS handshake; ccFactory selects
// the congestion control algorithm.
func New(isServer bool, localCID, remoteCID wire.ConnectionID, remoteAddr string, generator wire.Generator, crypto qcrypto.Session, transport *config.Transport, ccFactory congestion.Factory, now time.Time) *Connection {
	id := xid.New()
	rtt := recovery.NewRTTEstimator()
	maxDatagramSize := int(transport.MaxUDPPayloadSize())

	c := &Connection{
		id:              id,
		log:             logrus.WithFields(logrus.Fields{"conn": id.String(), "server": isServer}),
		isServer:        isServer,
		transport:       transport,
		crypto:          crypto,
		localCID:        localCID,
		remoteCID:       remoteCID,
		remoteAddr:      remoteAddr,
		generator:       generator,
		issuedLocalCIDs: make(map[uint64]wire.ConnectionID),
		localCIDTokens:  make(map[uint64][16]byte),
		localCIDSeq:     1,
		initial:         newSpace(recovery.SpaceInitial),
		handshake:       newSpace(recovery.SpaceHandshake),
		app:             newSpace(recovery.SpaceApplication),
		streams: stream.NewManager(isServer, stream.Limits{
			MaxStreamDataBidiLocal:  transport.InitialMaxStreamDataBidiLocal(),
			MaxStreamDataBidiRemote: transport.InitialMaxStreamDataBidiRemote(),
			MaxStreamDataUni:        transport.InitialMaxStreamDataUni(),
			MaxStreamsBidi:          transport.InitialMaxStreamsBidi(),
			MaxStreamsUni:           transport.InitialMaxStreamsUni(),
		}),
		connSend:        flowcontrol.NewSendWindow(transport.InitialMaxData()),
		connRecv:        flowcontrol.NewReceiveWindow(transport.InitialMaxData()),
		rtt:             rtt,
		cc:              ccFactory.Build(now, uint64(maxDatagramSize)),
		idleTimeout:     transport.MaxIdleTimeout(),
		lastActivity:    now,
		maxDatagramSize: maxDatagramSize,
		state:           StateHandshaking,
	}
	c.pacer = recovery.NewPacer(int(c.cc.Window()), rtt.Smoothed(), maxDatagramSize)
	c.tracker = recovery.NewTracker(rtt)

	initialSecret, serverSecret := qcrypto.InitialSecrets(remoteCID.Bytes())
	clientKeys := qcrypto.DirectionalKeysFromSecret(initialSecret)
	serverKeys := qcrypto.DirectionalKeysFromSecret(serverSecret)
	if isServer {
		c.initial.readKeys, c.initial.writeKeys = clientKeys, serverKeys
	} else {
		c.initial.readKeys, c.initial.writeKeys = serverKeys, clientKeys
	}
	c.initial.keysInstalled = true

	metrics.ConnectionsTotalCount.Inc()
	metrics.ConnectionsActiveGauge.Inc()
	c.driveCrypto(now)
	c.log.Debug("connection created")
	return c
}

// ID returns the internal trace/log-correlation identifier for this
// connection. It is never sent on the wire; wire connection IDs come from
// wire.Generator, which must look uniformly random to an observer, a
// property this sortable ID does not have.
func (c *Connection) ID() string { return c.id.String() }

// State returns the connection's current lifecycle state.
func (c *Connection) State() State { return c.state }

// spaceFor returns the space struct matching a recovery.Space.
func (c *Connection) spaceFor(kind recovery.Space) *space {
	switch kind {
	case recovery.SpaceInitial:
		return c.initial
	case recovery.SpaceHandshake:
		return c.handshake
	default:
		return c.app
	}
}

func (c *Connection) queueEvent(e Event) {
	c.events = append(c.events, e)
}

// PollEvent drains the next pending application-facing event, if any.
func (c *Connection) PollEvent() (Event, bool) {
	if len(c.events) == 0 {
		return Event{}, false
	}
	e := c.events[0]
	c.events = c.events[1:]
	return e, true
}

// OpenBidiStream opens a new locally-initiated bidirectional stream.
func (c *Connection) OpenBidiStream() (stream.ID, error) {
	if c.state != StateHandshaking && c.state != StateEstablished {
		return 0, ErrClosed
	}
	id, _, _, err := c.streams.OpenBidi()
	return id, err
}

// OpenUniStream opens a new locally-initiated unidirectional stream.
func (c *Connection) OpenUniStream() (stream.ID, error) {
	if c.state != StateHandshaking && c.state != StateEstablished {
		return 0, ErrClosed
	}
	id, _, err := c.streams.OpenUni()
	return id, err
}

// WriteStream buffers p for sending on the given stream's send half.
func (c *Connection) WriteStream(id stream.ID, p []byte, fin bool) (int, error) {
	send, _, ok := c.streams.Get(id)
	if !ok || send == nil {
		return 0, stream.ErrUnknownStream
	}
	n, err := send.Write(p)
	if err != nil {
		return n, err
	}
	if fin && n == len(p) {
		send.Finish()
	}
	return n, nil
}

// ReadStream copies contiguous received bytes from id's receive half into
// p.
func (c *Connection) ReadStream(id stream.ID, p []byte) (int, error) {
	_, recv, ok := c.streams.Get(id)
	if !ok || recv == nil {
		return 0, stream.ErrUnknownStream
	}
	n, err := recv.Read(p)
	if n > 0 {
		if max, shouldSend := c.connRecv.Consume(uint64(n)); shouldSend {
			c.pendingMaxData = max
			c.havePendingMaxData = true
		}
	}
	return n, err
}

// Stop asks the peer to stop sending on id's receive half, queuing a
// STOP_SENDING frame for the next PollTransmit.
func (c *Connection) Stop(id stream.ID, errCode uint64) error {
	return c.streams.Stop(id, errCode)
}

// SetStreamPriority sets id's send-side scheduling priority; higher values
// are serviced first by PollTransmit's round-robin scheduler.
func (c *Connection) SetStreamPriority(id stream.ID, priority int) error {
	return c.streams.SetPriority(id, priority)
}

// RemoteAddress returns the peer address this connection currently sends
// to, which changes across a validated migration.
func (c *Connection) RemoteAddress() string { return c.remoteAddr }

// pendingConnMaxData returns the new connection-level flow control maximum
// to advertise via a MAX_DATA frame, if consuming received stream data
// crossed the re-advertisement threshold and it hasn't been sent yet.
func (c *Connection) pendingConnMaxData() (uint64, bool) {
	if !c.havePendingMaxData {
		return 0, false
	}
	c.havePendingMaxData = false
	return c.pendingMaxData, true
}

// Close begins the immediate close sequence (spec.md section 4.6): the
// connection moves to StateClosing, the next PollTransmit sends a single
// CONNECTION_CLOSE and moves it to StateDraining. The CONNECTION_CLOSE is
// not retransmitted, not even in response to further packets from the peer.
func (c *Connection) Close(appErrorCode uint64, reason string, now time.Time) {
	if c.state == StateClosing || c.state == StateDraining || c.state == StateDrained {
		return
	}
	c.closeCode = appErrorCode
	c.closeReason = reason
	c.closeIsApp = true
	c.state = StateClosing
	c.closeAt = now
	c.log.WithField("code", appErrorCode).Info("connection closing locally")
}

// Stats summarizes observable connection state for diagnostics/CSV export
// (cmd/connstats).
type Stats struct {
	State           string
	SmoothedRTT     time.Duration
	MinRTT          time.Duration
	CongestionWindow uint64
	BytesInFlight   uint64
	PTOCount        int
}

// Stats returns a snapshot of the connection's current recovery/congestion
// state.
func (c *Connection) Stats() Stats {
	return Stats{
		State:            c.state.String(),
		SmoothedRTT:      c.rtt.Smoothed(),
		MinRTT:           c.rtt.Min(),
		CongestionWindow: c.cc.Window(),
		BytesInFlight:    c.cc.BytesInFlight(),
		PTOCount:         c.tracker.PTOCount(recovery.SpaceApplication),
	}
}

