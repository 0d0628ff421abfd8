// Package endpoint implements the per-address packet demultiplexer:
// routing inbound datagrams to connections by connection ID, admitting new
// connections, minting/validating stateless retry tokens, emitting version
// negotiation, and detecting stateless resets (spec.md section 4.7).
// Connection never references Endpoint; Endpoint owns connections by a
// numeric handle and drives them purely through their HandlePacket/
// HandleTimeout/PollTransmit/PollEvent surface.
package endpoint

import (
	"errors"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/quicproto/qtransport/config"
	"github.com/quicproto/qtransport/congestion"
	"github.com/quicproto/qtransport/connection"
	"github.com/quicproto/qtransport/metrics"
	"github.com/quicproto/qtransport/packet"
	"github.com/quicproto/qtransport/qcrypto"
	"github.com/quicproto/qtransport/wire"
)

// ErrConcurrentConnectionLimit is returned (internally, never to the peer)
// when admission would exceed config.Endpoint.ConcurrentConnections.
var ErrConcurrentConnectionLimit = errors.New("endpoint: concurrent connection limit reached")

// SessionFactory builds a fresh qcrypto.Session for a newly admitted
// connection; the endpoint is parametric over it the same way Connection is
// parametric over a single Session (spec.md section 6).
type SessionFactory func(isServer bool) qcrypto.Session

// Handle is the numeric identifier an Endpoint uses to refer to one of its
// connections, avoiding a Connection -> Endpoint back-reference.
type Handle uint64

type entry struct {
	conn    *connection.Connection
	localID wire.ConnectionID
	trace   xid.ID
}

// Endpoint demultiplexes datagrams for one UDP socket's worth of
// connections. It is not itself a socket: HandleDatagram moves inbound
// bytes in, and the caller drives each connection (reached through Get)
// with that connection's own PollTransmit and HandleTimeout, the same
// sans-I/O contract Connection exposes.
type Endpoint struct {
	isServer bool
	cfg      *config.Endpoint
	transport *config.Transport
	sessions SessionFactory
	ccFactory congestion.Factory
	generator wire.Generator
	log       *logrus.Entry

	byCID   map[wire.ConnectionID]Handle
	byReset map[[16]byte]Handle
	conns   map[Handle]*entry
	next    Handle
}

// New creates an Endpoint. generator mints local connection IDs for newly
// admitted connections; sessions constructs a fresh crypto session per
// connection.
func New(isServer bool, cfg *config.Endpoint, transport *config.Transport, generator wire.Generator, sessions SessionFactory, ccFactory congestion.Factory) *Endpoint {
	return &Endpoint{
		isServer:  isServer,
		cfg:       cfg,
		transport: transport,
		sessions:  sessions,
		ccFactory: ccFactory,
		generator: generator,
		log:       logrus.WithField("component", "endpoint"),
		byCID:     make(map[wire.ConnectionID]Handle),
		byReset:   make(map[[16]byte]Handle),
		conns:     make(map[Handle]*entry),
	}
}

// Outbound is a datagram an Endpoint method wants sent to a specific
// address, used for responses (Retry, Version Negotiation, stateless
// reset) that don't belong to any admitted connection.
type Outbound struct {
	To   string
	Data []byte
}

// HandleDatagram routes one inbound datagram, returning the connection
// handle it was delivered to (ok=false if it produced only a standalone
// reply or was dropped) and any standalone reply to send back.
func (e *Endpoint) HandleDatagram(from string, data []byte, now time.Time) (Handle, bool, *Outbound) {
	inv, err := packet.ParseInvariant(data, e.cfg.ConnectionIDLength())
	if err != nil {
		return 0, false, nil
	}

	if h, ok := e.byCID[inv.DestCID]; ok {
		c := e.conns[h].conn
		if err := c.HandlePacket(data, from, now); err != nil {
			e.log.WithError(err).Debug("HandlePacket failed")
		}
		e.syncCIDs(h)
		return h, true, nil
	}

	if tok, ok := statelessResetToken(data); ok {
		if h, ok := e.byReset[tok]; ok {
			delete(e.conns, h)
			for cid, hh := range e.byCID {
				if hh == h {
					delete(e.byCID, cid)
				}
			}
			return 0, false, nil
		}
	}

	if !inv.IsLong {
		return 0, false, nil
	}
	if inv.Version != packet.Version1 {
		return 0, false, &Outbound{To: from, Data: buildVersionNegotiation(inv)}
	}
	if !e.isServer {
		return 0, false, nil
	}

	typ := (data[0] >> 4) & 0x03
	if typ != 0x00 {
		// Only Initial admits a new connection.
		return 0, false, nil
	}

	if e.cfg.RetryEnabled() {
		if tok, has := packet.ParseInitialToken(data); has && len(tok) > 0 {
			if origDCID, err := ValidateRetryToken(e.cfg.TokenKey(), from, tok, now); err == nil {
				return e.admit(inv, origDCID, from, data, now)
			}
		}
		return 0, false, &Outbound{To: from, Data: buildRetry(e.cfg.TokenKey(), from, inv, now)}
	}

	return e.admit(inv, inv.DestCID, from, data, now)
}

func (e *Endpoint) admit(inv packet.InvariantHeader, originalDCID wire.ConnectionID, from string, data []byte, now time.Time) (Handle, bool, *Outbound) {
	if e.cfg.ConcurrentConnections() > 0 && len(e.conns) >= e.cfg.ConcurrentConnections() {
		metrics.ErrorCount.With(map[string]string{"type": "admission_limit"}).Inc()
		e.log.WithError(ErrConcurrentConnectionLimit).Debug("dropping initial")
		return 0, false, nil
	}

	localCID, err := e.generator.GenerateConnectionID()
	if err != nil {
		return 0, false, nil
	}

	c := connection.New(true, localCID, originalDCID, from, e.generator, e.sessions(true), e.transport, e.ccFactory, now)
	h := e.next
	e.next++
	e.conns[h] = &entry{conn: c, localID: localCID, trace: xid.New()}
	e.byCID[localCID] = h
	e.byCID[inv.DestCID] = h
	if tok, err := wire.NewStatelessResetToken(); err == nil {
		e.byReset[tok] = h
	}

	if err := c.HandlePacket(data, from, now); err != nil {
		e.log.WithError(err).Debug("HandlePacket failed on admission")
	}
	e.syncCIDs(h)
	return h, true, nil
}

// Connect creates a client-side connection addressed to remote at
// remoteAddr, returning its handle; the caller drives PollTransmit to
// obtain the first Initial.
func (e *Endpoint) Connect(remote wire.ConnectionID, remoteAddr string, now time.Time) (Handle, *connection.Connection, error) {
	localCID, err := e.generator.GenerateConnectionID()
	if err != nil {
		return 0, nil, err
	}
	c := connection.New(false, localCID, remote, remoteAddr, e.generator, e.sessions(false), e.transport, e.ccFactory, now)
	h := e.next
	e.next++
	e.conns[h] = &entry{conn: c, localID: localCID, trace: xid.New()}
	e.byCID[localCID] = h
	return h, c, nil
}

// syncCIDs applies any connection ID pool churn h's connection produced
// since the last sync to the endpoint's demultiplexing table: newly issued
// local CIDs become routable, retired ones stop being.
func (e *Endpoint) syncCIDs(h Handle) {
	ent, ok := e.conns[h]
	if !ok {
		return
	}
	for {
		cid, ok := ent.conn.PollIssuedLocalCID()
		if !ok {
			break
		}
		e.byCID[cid] = h
	}
	for {
		cid, ok := ent.conn.PollRetiredLocalCID()
		if !ok {
			break
		}
		if e.byCID[cid] == h {
			delete(e.byCID, cid)
		}
	}
}

// Get returns the connection behind a handle.
func (e *Endpoint) Get(h Handle) (*connection.Connection, bool) {
	ent, ok := e.conns[h]
	if !ok {
		return nil, false
	}
	return ent.conn, true
}

// Handles returns every handle currently owned by the endpoint, for a
// caller driving PollTransmit/HandleTimeout across all connections in one
// event loop tick.
func (e *Endpoint) Handles() []Handle {
	out := make([]Handle, 0, len(e.conns))
	for h := range e.conns {
		out = append(out, h)
	}
	return out
}

// Remove drops a connection's CID table entries once it has reached
// StateDrained.
func (e *Endpoint) Remove(h Handle) {
	if _, ok := e.conns[h]; !ok {
		return
	}
	for cid, hh := range e.byCID {
		if hh == h {
			delete(e.byCID, cid)
		}
	}
	delete(e.conns, h)
}

// statelessResetToken extracts the last 16 bytes of a short-header datagram
// of at least 21 bytes, the heuristic RFC 9000 section 10.3 prescribes for
// recognizing a stateless reset.
func statelessResetToken(b []byte) ([16]byte, bool) {
	var tok [16]byte
	if len(b) < 21 || b[0]&0x80 != 0 {
		return tok, false
	}
	copy(tok[:], b[len(b)-16:])
	return tok, true
}
