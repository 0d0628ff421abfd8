package connection

import (
	"crypto/rand"
	"time"

	"github.com/quicproto/qtransport/frame"
	"github.com/quicproto/qtransport/metrics"
)

// probeValidationTimeout bounds how long an unvalidated path probe is kept
// alive awaiting a PATH_RESPONSE before it is abandoned (RFC 9000 section
// 8.2.4 recommends three times the current PTO).
func (c *Connection) probeValidationTimeout() time.Duration {
	return 3 * c.rtt.PTOPeriod(c.transport.MaxAckDelay())
}

// onPacketFromAddress notices when a datagram arrives from an address other
// than the connection's active remote address and starts (or continues)
// validating it as a migration candidate (RFC 9000 section 9). It never
// changes the active send address itself; only a verified PATH_RESPONSE
// does that, in handlePathResponse.
func (c *Connection) onPacketFromAddress(from string, n uint64, now time.Time) {
	if from == "" || from == c.remoteAddr {
		return
	}
	if !c.transport.MigrationEnabled() || c.migrationDisabledByPeer {
		return
	}
	if c.probeAddr == from {
		c.probeBytesRecvd += n
		return
	}
	c.probeAddr = from
	c.probeBytesRecvd = n
	c.probeBytesSent = 0
	c.probeChallengeSent = false
	c.probeSentAt = now
	rand.Read(c.probeChallenge[:])
	c.log.WithField("addr", from).Info("path probe started")
}

// handlePathChallenge queues an echoing PATH_RESPONSE addressed back to the
// path the challenge arrived on (RFC 9000 section 8.2.1: the response must
// always go out on the path the challenge was received on, never the
// connection's usual active path).
func (c *Connection) handlePathChallenge(v frame.PathChallenge, from string) {
	data := v.Data
	c.pendingPathResponse = &data
	c.pendingPathResponseTo = from
}

// handlePathResponse validates an in-progress path probe once the peer
// echoes back our PATH_CHALLENGE, promoting the candidate address to the
// connection's active remote address.
func (c *Connection) handlePathResponse(v frame.PathResponse, from string, now time.Time) {
	if !c.probeChallengeSent || from != c.probeAddr || v.Data != c.probeChallenge {
		return
	}
	c.remoteAddr = from
	c.probeAddr = ""
	c.probeChallengeSent = false
	metrics.PathMigrationsCount.Inc()
	c.queueEvent(Event{Kind: EventPathMigrated})
	c.log.WithField("addr", from).Info("path migration validated")
}

// checkProbeTimeout abandons an in-progress path probe that hasn't been
// validated within probeValidationTimeout, reverting to the last active
// path.
func (c *Connection) checkProbeTimeout(now time.Time) {
	if c.probeAddr == "" || !c.probeChallengeSent {
		return
	}
	if now.Before(c.probeSentAt.Add(c.probeValidationTimeout())) {
		return
	}
	c.log.WithField("addr", c.probeAddr).Info("path probe abandoned")
	c.probeAddr = ""
	c.probeChallengeSent = false
}

// amplificationLimit returns how many more bytes this connection may send
// to an unvalidated address before it must wait for more bytes to arrive
// from that address, per the anti-amplification bound of RFC 9000 sections
// 8.1 and 9.4 (at most three times what that address has sent us).
func (c *Connection) amplificationLimit() uint64 {
	limit := 3 * c.probeBytesRecvd
	if c.probeBytesSent >= limit {
		return 0
	}
	return limit - c.probeBytesSent
}

// pollMigrationDatagram returns the next path-validation datagram to send,
// if any: a PATH_RESPONSE answering a challenge, or a PATH_CHALLENGE
// probing a newly observed candidate address. Both take priority over
// ordinary traffic so path validation finishes quickly, and both are
// subject to the anti-amplification bound on the unvalidated path.
func (c *Connection) pollMigrationDatagram(now time.Time) (Datagram, bool) {
	if c.pendingPathResponse != nil {
		data := *c.pendingPathResponse
		to := c.pendingPathResponseTo
		c.pendingPathResponse = nil
		if to != c.remoteAddr && c.amplificationLimit() == 0 {
			return Datagram{}, false
		}
		dg, built := c.buildStandaloneDatagram([]frame.Frame{frame.PathResponse{Data: data}}, to, now)
		if built && to != c.remoteAddr {
			c.probeBytesSent += uint64(len(dg.Data))
		}
		return dg, built
	}
	if c.probeAddr != "" && !c.probeChallengeSent {
		if c.amplificationLimit() < 8 {
			return Datagram{}, false
		}
		dg, built := c.buildStandaloneDatagram([]frame.Frame{frame.PathChallenge{Data: c.probeChallenge}}, c.probeAddr, now)
		if built {
			c.probeChallengeSent = true
			c.probeSentAt = now
			c.probeBytesSent += uint64(len(dg.Data))
		}
		return dg, built
	}
	return Datagram{}, false
}
