package connection

import (
	"github.com/quicproto/qtransport/frame"
	"github.com/quicproto/qtransport/metrics"
	"github.com/quicproto/qtransport/wire"
)

// peerCIDEntry is one connection ID the peer has offered us via
// NEW_CONNECTION_ID, available to use as a destination CID.
type peerCIDEntry struct {
	seq   uint64
	cid   wire.ConnectionID
	token [16]byte
}

// handleNewConnectionID records a peer-issued connection ID (RFC 9000
// section 19.15), retiring any of the peer's previously issued IDs the
// frame's RetirePriorTo field supersedes.
func (c *Connection) handleNewConnectionID(v frame.NewConnectionID) {
	for _, e := range c.peerCIDs {
		if e.seq == v.SequenceNumber {
			return
		}
	}
	c.peerCIDs = append(c.peerCIDs, peerCIDEntry{seq: v.SequenceNumber, cid: v.ConnectionID, token: v.ResetToken})
	if v.RetirePriorTo > c.peerCIDRetirePriorTo {
		c.peerCIDRetirePriorTo = v.RetirePriorTo
	}
	c.retireStalePeerCIDs()
}

// retireStalePeerCIDs drops every peer-issued CID below the latest
// RetirePriorTo watermark, queuing a RETIRE_CONNECTION_ID for each and
// rotating the active destination CID off of one if necessary.
func (c *Connection) retireStalePeerCIDs() {
	kept := c.peerCIDs[:0]
	for _, e := range c.peerCIDs {
		if e.seq < c.peerCIDRetirePriorTo {
			c.retireQueue = append(c.retireQueue, e.seq)
			continue
		}
		kept = append(kept, e)
	}
	c.peerCIDs = kept
	if c.currentRemoteCIDSeq < c.peerCIDRetirePriorTo {
		c.rotateRemoteCID()
	}
}

// rotateRemoteCID switches the active destination CID to any remaining
// non-retired peer-issued CID.
func (c *Connection) rotateRemoteCID() {
	for _, e := range c.peerCIDs {
		if e.seq >= c.peerCIDRetirePriorTo {
			c.remoteCID = e.cid
			c.currentRemoteCIDSeq = e.seq
			return
		}
	}
}

// handleRetireConnectionID processes the peer's request that we stop
// routing to it using one of our own locally-issued CIDs (RFC 9000 section
// 19.16). The caller (the owning endpoint) must drop cid from its
// demultiplexing table; PollRetiredLocalCID surfaces it for that purpose.
func (c *Connection) handleRetireConnectionID(v frame.RetireConnectionID) {
	cid, ok := c.issuedLocalCIDs[v.SequenceNumber]
	if !ok {
		return
	}
	delete(c.issuedLocalCIDs, v.SequenceNumber)
	delete(c.localCIDTokens, v.SequenceNumber)
	c.pendingRetiredCIDs = append(c.pendingRetiredCIDs, cid)
	metrics.ConnectionIDsRetiredCount.Inc()
	c.maybeIssueLocalCIDs()
}

// maybeIssueLocalCIDs mints additional local connection IDs up to the
// peer's active_connection_id_limit transport parameter, so the peer has a
// pool to migrate onto (RFC 9000 section 5.1.1). Called once the peer's
// limit becomes known, after the handshake completes, and again after the
// peer retires one of our CIDs.
func (c *Connection) maybeIssueLocalCIDs() {
	if c.generator == nil || !c.transport.MigrationEnabled() || c.migrationDisabledByPeer {
		return
	}
	want := int(c.peerActiveCIDLimit) - 1 - len(c.issuedLocalCIDs)
	for i := 0; i < want; i++ {
		cid, err := c.generator.GenerateConnectionID()
		if err != nil {
			c.log.WithError(err).Warn("connection id generation failed")
			return
		}
		tok, err := wire.NewStatelessResetToken()
		if err != nil {
			c.log.WithError(err).Warn("stateless reset token generation failed")
			return
		}
		seq := c.localCIDSeq
		c.localCIDSeq++
		c.issuedLocalCIDs[seq] = cid
		c.localCIDTokens[seq] = tok
		c.newCIDQueue = append(c.newCIDQueue, seq)
		c.pendingIssuedCIDs = append(c.pendingIssuedCIDs, cid)
		metrics.ConnectionIDsIssuedCount.Inc()
	}
}

// drainCIDFrames returns every queued NEW_CONNECTION_ID/RETIRE_CONNECTION_ID
// frame not yet handed to PollTransmit.
func (c *Connection) drainCIDFrames() []frame.Frame {
	var frames []frame.Frame
	for _, seq := range c.newCIDQueue {
		cid, ok := c.issuedLocalCIDs[seq]
		if !ok {
			continue
		}
		frames = append(frames, frame.NewConnectionID{
			SequenceNumber: seq,
			RetirePriorTo:  0,
			ConnectionID:   cid,
			ResetToken:     c.localCIDTokens[seq],
		})
	}
	c.newCIDQueue = nil
	for _, seq := range c.retireQueue {
		frames = append(frames, frame.RetireConnectionID{SequenceNumber: seq})
	}
	c.retireQueue = nil
	return frames
}

// PollIssuedLocalCID returns the next newly-minted local connection ID the
// owning endpoint needs to add to its demultiplexing table, if any.
func (c *Connection) PollIssuedLocalCID() (wire.ConnectionID, bool) {
	if len(c.pendingIssuedCIDs) == 0 {
		return wire.ConnectionID{}, false
	}
	cid := c.pendingIssuedCIDs[0]
	c.pendingIssuedCIDs = c.pendingIssuedCIDs[1:]
	return cid, true
}

// PollRetiredLocalCID returns the next local connection ID the owning
// endpoint needs to remove from its demultiplexing table, if any.
func (c *Connection) PollRetiredLocalCID() (wire.ConnectionID, bool) {
	if len(c.pendingRetiredCIDs) == 0 {
		return wire.ConnectionID{}, false
	}
	cid := c.pendingRetiredCIDs[0]
	c.pendingRetiredCIDs = c.pendingRetiredCIDs[1:]
	return cid, true
}
