package connection

import (
	"time"

	"github.com/quicproto/qtransport/frame"
	"github.com/quicproto/qtransport/metrics"
	"github.com/quicproto/qtransport/qcrypto"
	"github.com/quicproto/qtransport/recovery"
	"github.com/quicproto/qtransport/stream"
)

// driveCrypto drains any outbound handshake bytes the TLS session has
// produced and buffers them on the matching packet number space's crypto
// stream, then installs any newly available keys, per spec.md section
// 4.2's "push/pull opaque handshake bytes" contract.
func (c *Connection) driveCrypto(now time.Time) {
	for {
		level, data, ok := c.crypto.ReadHandshake()
		if !ok {
			break
		}
		c.spaceForLevel(level).cryptoSend.Write(data)
	}

	for {
		level, keys, ok := c.crypto.NextKeys()
		if !ok {
			break
		}
		s := c.spaceForLevel(level)
		s.readKeys = keys.Read
		s.writeKeys = keys.Write
		s.keysInstalled = true
		c.log.WithField("level", level.String()).Debug("installed keys")
	}

	if !c.handshakeDone && !c.crypto.IsHandshaking() {
		c.handshakeDone = true
		c.state = StateEstablished
		if tp, ok := c.crypto.TransportParameters(); ok {
			c.streams.SetPeerStreamLimits(tp.InitialMaxStreamsBidi, tp.InitialMaxStreamsUni)
			c.connSend.UpdateMaximum(tp.InitialMaxData)
			c.migrationDisabledByPeer = tp.DisableActiveMigration
			if tp.ActiveConnectionIDLimit > c.peerActiveCIDLimit {
				c.peerActiveCIDLimit = tp.ActiveConnectionIDLimit
			}
			c.maybeIssueLocalCIDs()
		}
		metrics.HandshakeLatencyHistogram.Observe(now.Sub(c.lastActivity).Seconds())
		c.queueEvent(Event{Kind: EventHandshakeComplete})
		c.log.Info("handshake complete")
	}
}

func (c *Connection) spaceForLevel(level qcrypto.Level) *space {
	switch level {
	case qcrypto.LevelInitial:
		return c.initial
	case qcrypto.LevelHandshake:
		return c.handshake
	default:
		return c.app
	}
}

func levelForSpace(kind recovery.Space) qcrypto.Level {
	switch kind {
	case recovery.SpaceInitial:
		return qcrypto.LevelInitial
	case recovery.SpaceHandshake:
		return qcrypto.LevelHandshake
	default:
		return qcrypto.Level1RTT
	}
}

// HandlePacket processes one already-demultiplexed, possibly-coalesced
// datagram addressed to this connection. from is the source address the
// datagram arrived on, used to detect and validate path migration (RFC
// 9000 section 9).
func (c *Connection) HandlePacket(data []byte, from string, now time.Time) error {
	c.lastActivity = now
	parts, err := splitOrWhole(data)
	if err != nil {
		return err
	}
	for _, part := range parts {
		c.handleOnePacket(part, from, now)
	}
	c.driveCrypto(now)
	return nil
}

func (c *Connection) handleOnePacket(b []byte, from string, now time.Time) {
	if len(b) == 0 {
		return
	}
	if b[0]&0x80 == 0 {
		c.handleShortHeaderPacket(b, from, now)
		return
	}
	c.handleLongHeaderPacket(b, from, now)
}

func (c *Connection) handleLongHeaderPacket(b []byte, from string, now time.Time) {
	var sp *space
	switch (b[0] >> 4) & 0x03 {
	case 0x00:
		sp = c.initial
	case 0x02:
		sp = c.handshake
	default:
		// 0-RTT and Retry are accepted on the wire but not acted on
		// further by this engine.
		return
	}
	if !sp.keysInstalled {
		return
	}
	largestAcked := sp.largestAckedReceived()
	_, pn, payload, _, err := parseLongHeader(b, largestAcked, sp.readKeys)
	if err != nil {
		metrics.ErrorCount.With(map[string]string{"type": "decrypt"}).Inc()
		return
	}
	c.recordReceived(sp, pn)
	c.dispatchFrames(sp, payload, from, now)
}

func (c *Connection) handleShortHeaderPacket(b []byte, from string, now time.Time) {
	sp := c.app
	if !sp.keysInstalled {
		return
	}
	cidLen := c.localCID.Len()
	largestAcked := sp.largestAckedReceived()
	_, pn, payload, err := parseShortHeader(b, cidLen, largestAcked, sp.readKeys)
	if err != nil {
		metrics.ErrorCount.With(map[string]string{"type": "decrypt"}).Inc()
		return
	}
	c.recordReceived(sp, pn)
	c.onPacketFromAddress(from, uint64(len(b)), now)
	c.dispatchFrames(sp, payload, from, now)
}

func (s *space) largestAckedReceived() int64 {
	if len(s.pendingAcks) == 0 {
		return -1
	}
	max := s.pendingAcks[0]
	for _, pn := range s.pendingAcks[1:] {
		if pn > max {
			max = pn
		}
	}
	return max
}

func (c *Connection) recordReceived(sp *space, pn int64) {
	sp.pendingAcks = append(sp.pendingAcks, pn)
}

func (c *Connection) dispatchFrames(sp *space, payload []byte, from string, now time.Time) {
	frames, err := frame.DecodeAll(payload)
	for _, f := range frames {
		c.handleFrame(sp, f, from, now)
	}
	if err != nil {
		c.log.WithError(err).Debug("partial frame decode")
	}
}

func (c *Connection) handleFrame(sp *space, f frame.Frame, from string, now time.Time) {
	switch v := f.(type) {
	case frame.Crypto:
		sp.cryptoRecv.Ingest(v.Offset, v.Data, false)
		buf := make([]byte, 4096)
		for {
			n, _ := sp.cryptoRecv.Read(buf)
			if n == 0 {
				break
			}
			c.crypto.WriteHandshake(levelForSpace(sp.kind), append([]byte(nil), buf[:n]...))
		}
	case frame.Ack:
		c.handleAck(sp, v, now)
	case frame.Stream:
		id := stream.ID(v.StreamID)
		c.streams.HandleStreamFrame(id, v.Offset, v.Data, v.Fin)
		c.queueEvent(Event{Kind: EventStreamReadable, StreamID: id})
		if v.Fin {
			// RecvStateSizeKnown is a one-time transition (RFC 9000 section
			// 3.2): fires exactly once, the instant the final size becomes
			// known, regardless of how much of it the application has read
			// so far.
			if _, recv, ok := c.streams.Get(id); ok && recv != nil && recv.State() == stream.RecvStateSizeKnown {
				c.queueEvent(Event{Kind: EventStreamFinished, StreamID: id})
			}
		}
	case frame.ResetStream:
		id := stream.ID(v.StreamID)
		c.streams.HandleResetStream(id, v.ErrorCode, v.FinalSize)
		c.queueEvent(Event{Kind: EventStreamReset, StreamID: id, ErrCode: v.ErrorCode})
	case frame.MaxData:
		c.connSend.UpdateMaximum(v.Maximum)
	case frame.MaxStreamData:
		id := stream.ID(v.StreamID)
		if send, _, ok := c.streams.Get(id); ok && send != nil {
			send.UpdateMaxData(v.Maximum)
			c.queueEvent(Event{Kind: EventStreamWritable, StreamID: id})
		}
	case frame.MaxStreams:
		c.streams.SetPeerStreamLimit(v.Uni, v.MaximumID)
	case frame.DataBlocked:
		// The peer ran out of connection-level send credit; our last
		// MAX_DATA is already queued for resend if it crossed the
		// threshold, nothing further to do here.
	case frame.StreamDataBlocked:
		id := stream.ID(v.StreamID)
		if _, recv, ok := c.streams.Get(id); ok && recv != nil {
			recv.Resend()
		}
	case frame.StreamsBlocked:
		// Informational: the peer wants more concurrent streams than we
		// currently allow. We raise limits via transport configuration,
		// not in response to this signal.
	case frame.StopSending:
		id := stream.ID(v.StreamID)
		if err := c.streams.HandleStopSending(id, v.ErrorCode); err == nil {
			c.queueEvent(Event{Kind: EventStreamStopped, StreamID: id, ErrCode: v.ErrorCode})
		}
	case frame.NewConnectionID:
		c.handleNewConnectionID(v)
	case frame.RetireConnectionID:
		c.handleRetireConnectionID(v)
	case frame.PathChallenge:
		c.handlePathChallenge(v, from)
	case frame.PathResponse:
		c.handlePathResponse(v, from, now)
	case frame.NewToken:
		// Address validation tokens for a future connection attempt; this
		// engine does not resume with 0-RTT, so there is nothing to cache.
	case frame.ConnectionClose:
		c.state = StateDraining
		c.closeAt = now
		c.queueEvent(Event{Kind: EventConnectionClosed, CloseByPeer: true, CloseReason: v.ReasonPhrase, CloseTransport: !v.IsApplication})
	case frame.HandshakeDone:
		c.handshakeDone = true
	case frame.Ping:
		// Ack-eliciting; no further state change beyond the ack already
		// queued by recordReceived.
	case frame.Datagram:
		c.queueEvent(Event{Kind: EventDatagramReceived, DatagramData: v.Data})
	}
}
