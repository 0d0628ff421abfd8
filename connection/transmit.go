package connection

import (
	"time"

	"github.com/quicproto/qtransport/frame"
	"github.com/quicproto/qtransport/metrics"
	"github.com/quicproto/qtransport/packet"
	"github.com/quicproto/qtransport/recovery"
)

// maxFramePayload leaves headroom in a maximum-size datagram for the long
// header, AEAD overhead, and any following coalesced packet.
const maxFramePayload = 1100

// PollTransmit returns the next datagram this connection wants sent, or
// ok=false if there is nothing to send right now. The caller is responsible
// for actually writing the bytes to a socket; this engine never touches one.
func (c *Connection) PollTransmit(now time.Time) (datagram Datagram, ok bool) {
	if c.state == StateDrained {
		return Datagram{}, false
	}
	if c.state == StateClosing || c.state == StateDraining {
		return c.buildCloseDatagram(now)
	}

	if dg, built := c.pollMigrationDatagram(now); built {
		return dg, true
	}

	var out []byte
	for _, sp := range []*space{c.initial, c.handshake, c.app} {
		if !sp.keysInstalled {
			continue
		}
		packetBytes, built := c.buildPacketFor(sp, now)
		if !built {
			continue
		}
		out = append(out, packetBytes...)
		metrics.PacketsSentCount.With(map[string]string{"space": spaceLabel(sp.kind)}).Inc()
		if sp.kind != recovery.SpaceApplication {
			// Initial and Handshake packets may coalesce with the next
			// space in the same datagram (RFC 9000 section 12.2); only
			// stop early once an Application packet has been added, since
			// nothing coalesces after a short header.
			continue
		}
		break
	}
	if len(out) == 0 {
		return Datagram{}, false
	}
	if !c.isServer && len(out) < 1200 && c.initial.keysInstalled {
		pad := make([]byte, 1200-len(out))
		out = append(out, pad...)
	}
	return Datagram{Data: out, To: c.remoteAddr}, true
}

func (c *Connection) buildPacketFor(sp *space, now time.Time) ([]byte, bool) {
	var frames []frame.Frame
	var meta sentFrames
	ackEliciting := false

	if ranges := c.pendingAckRanges(sp); len(ranges) > 0 {
		frames = append(frames, frame.Ack{
			LargestAcked: ranges[0].Largest,
			AckDelay:     0,
			Ranges:       ranges,
		})
	}

	budget := maxFramePayload
	for {
		off, data, fin, hasMore := sp.cryptoSend.PendingFrame(budget)
		if !hasMore {
			break
		}
		frames = append(frames, frame.Crypto{Offset: off, Data: data})
		meta.cryptoChunks = append(meta.cryptoChunks, cryptoChunkRef{space: sp.kind, offset: off, data: data})
		ackEliciting = true
		budget -= len(data)
		if fin || budget <= 0 {
			break
		}
	}

	if sp.kind == recovery.SpaceApplication {
		if max, ok := c.pendingConnMaxData(); ok {
			frames = append(frames, frame.MaxData{Maximum: max})
			ackEliciting = true
		}
		for _, u := range c.streams.PendingMaxStreamData() {
			frames = append(frames, frame.MaxStreamData{StreamID: uint64(u.ID), Maximum: u.Maximum})
			ackEliciting = true
		}
		for _, u := range c.streams.PendingStopSending() {
			frames = append(frames, frame.StopSending{StreamID: uint64(u.ID), ErrorCode: u.ErrorCode})
			ackEliciting = true
		}
		for _, u := range c.streams.PendingResets() {
			frames = append(frames, frame.ResetStream{StreamID: uint64(u.ID), ErrorCode: u.ErrorCode, FinalSize: u.FinalSize})
			ackEliciting = true
		}
		for _, f := range c.drainCIDFrames() {
			frames = append(frames, f)
			ackEliciting = true
		}

		for _, id := range c.streams.PendingWrites() {
			if budget <= 0 {
				break
			}
			send, _, ok := c.streams.Get(id)
			if !ok || send == nil || !send.HasPending() {
				continue
			}
			off, data, fin, hasMore := send.PendingFrame(budget)
			if !hasMore {
				continue
			}
			frames = append(frames, frame.Stream{
				StreamID:      uint64(id),
				Offset:        off,
				Data:          data,
				Fin:           fin,
				OffsetPresent: off > 0,
				LengthPresent: true,
			})
			meta.streamChunks = append(meta.streamChunks, streamChunkRef{id: uint64(id), offset: off, data: data, fin: fin})
			ackEliciting = true
			budget -= len(data)
		}
	}

	if sp.kind == recovery.SpaceApplication && c.pingRequested {
		frames = append(frames, frame.Ping{})
		ackEliciting = true
		c.pingRequested = false
	}

	if c.probeRequested[spaceIndex(sp.kind)] && !ackEliciting {
		frames = append(frames, frame.Ping{})
		ackEliciting = true
	}
	c.probeRequested[spaceIndex(sp.kind)] = false

	if len(frames) == 0 {
		return nil, false
	}

	var payload []byte
	var err error
	for _, f := range frames {
		payload, err = f.Append(payload)
		if err != nil {
			c.log.WithError(err).Error("failed to encode frame for transmission")
			return nil, false
		}
	}

	pn := sp.nextPN
	sp.nextPN++
	largestAcked := c.tracker.LargestAcked(sp.kind)

	var built []byte
	if sp.kind == recovery.SpaceApplication {
		built, err = packet.BuildShortHeaderPacket(packet.ShortHeader{DestCID: c.remoteCID}, pn, largestAcked, payload, sp.writeKeys)
	} else {
		built, err = packet.BuildLongHeaderPacket(packet.LongHeader{
			Type:    longTypeForSpace(sp.kind),
			Version: packet.Version1,
			DestCID: c.remoteCID,
			SrcCID:  c.localCID,
		}, pn, largestAcked, payload, sp.writeKeys)
	}
	if err != nil {
		c.log.WithError(err).Error("failed to protect outgoing packet")
		return nil, false
	}

	c.tracker.OnSent(sp.kind, recovery.SentPacket{
		Number:       pn,
		SentAt:       now,
		Size:         len(built),
		AckEliciting: ackEliciting,
		InFlight:     true,
		Frames:       meta,
	})
	c.cc.OnSent(now, uint64(len(built)))
	metrics.BytesSentCount.Add(float64(len(payload)))
	return built, true
}

// pendingAckRanges collapses a space's received-but-unacknowledged packet
// numbers into the closed ranges an ACK frame needs, largest range first.
func (c *Connection) pendingAckRanges(sp *space) []frame.AckRange {
	if len(sp.pendingAcks) == 0 {
		return nil
	}
	nums := append([]int64(nil), sp.pendingAcks...)
	for i := 1; i < len(nums); i++ {
		for j := i; j > 0 && nums[j-1] < nums[j]; j-- {
			nums[j-1], nums[j] = nums[j], nums[j-1]
		}
	}
	var ranges []frame.AckRange
	start, prev := nums[0], nums[0]
	for _, n := range nums[1:] {
		if n == prev-1 {
			prev = n
			continue
		}
		ranges = append(ranges, frame.AckRange{Smallest: prev, Largest: start})
		start, prev = n, n
	}
	ranges = append(ranges, frame.AckRange{Smallest: prev, Largest: start})
	sp.pendingAcks = nil
	return ranges
}

func longTypeForSpace(kind recovery.Space) packet.LongType {
	if kind == recovery.SpaceHandshake {
		return packet.LongTypeHandshake
	}
	return packet.LongTypeInitial
}

// buildCloseDatagram returns a CONNECTION_CLOSE packet in the highest space
// with installed keys, used while in StateClosing/StateDraining. Per RFC
// 9000 section 10.2.2 the sender doesn't keep retransmitting it forever;
// the caller is expected to stop calling PollTransmit for this connection
// once it moves to StateDrained via HandleTimeout.
func (c *Connection) buildCloseDatagram(now time.Time) (Datagram, bool) {
	if c.state != StateClosing {
		return Datagram{}, false
	}
	sp := c.app
	if !sp.keysInstalled {
		sp = c.handshake
	}
	if !sp.keysInstalled {
		sp = c.initial
	}
	if !sp.keysInstalled {
		return Datagram{}, false
	}
	f := frame.ConnectionClose{IsApplication: c.closeIsApp, ErrorCode: c.closeCode, ReasonPhrase: c.closeReason}
	payload, err := f.Append(nil)
	if err != nil {
		return Datagram{}, false
	}
	pn := sp.nextPN
	sp.nextPN++
	largestAcked := c.tracker.LargestAcked(sp.kind)

	var built []byte
	if sp.kind == recovery.SpaceApplication {
		built, err = packet.BuildShortHeaderPacket(packet.ShortHeader{DestCID: c.remoteCID}, pn, largestAcked, payload, sp.writeKeys)
	} else {
		built, err = packet.BuildLongHeaderPacket(packet.LongHeader{
			Type:    longTypeForSpace(sp.kind),
			Version: packet.Version1,
			DestCID: c.remoteCID,
			SrcCID:  c.localCID,
		}, pn, largestAcked, payload, sp.writeKeys)
	}
	if err != nil {
		return Datagram{}, false
	}
	c.state = StateDraining
	c.closeAt = now
	return Datagram{Data: built, To: c.remoteAddr}, true
}

// buildStandaloneDatagram encodes frames into their own Application-space
// packet addressed to to, used for path validation traffic that must reach
// a specific candidate address rather than the connection's active one.
func (c *Connection) buildStandaloneDatagram(frames []frame.Frame, to string, now time.Time) (Datagram, bool) {
	sp := c.app
	if !sp.keysInstalled || len(frames) == 0 {
		return Datagram{}, false
	}
	var payload []byte
	var err error
	for _, f := range frames {
		payload, err = f.Append(payload)
		if err != nil {
			c.log.WithError(err).Error("failed to encode frame for transmission")
			return Datagram{}, false
		}
	}
	pn := sp.nextPN
	sp.nextPN++
	largestAcked := c.tracker.LargestAcked(sp.kind)
	built, err := packet.BuildShortHeaderPacket(packet.ShortHeader{DestCID: c.remoteCID}, pn, largestAcked, payload, sp.writeKeys)
	if err != nil {
		c.log.WithError(err).Error("failed to protect outgoing packet")
		return Datagram{}, false
	}
	c.tracker.OnSent(sp.kind, recovery.SentPacket{
		Number:       pn,
		SentAt:       now,
		Size:         len(built),
		AckEliciting: true,
		InFlight:     true,
	})
	c.cc.OnSent(now, uint64(len(built)))
	metrics.BytesSentCount.Add(float64(len(payload)))
	return Datagram{Data: built, To: to}, true
}
