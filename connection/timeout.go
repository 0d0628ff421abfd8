package connection

import (
	"time"

	"github.com/quicproto/qtransport/metrics"
	"github.com/quicproto/qtransport/recovery"
)

// closeDrainPeriod is how long a connection in StateDraining waits before
// moving to StateDrained, per RFC 9000 section 10.2 (three times the
// current PTO).
func (c *Connection) closeDrainPeriod() time.Duration {
	return 3 * c.rtt.PTOPeriod(c.transport.MaxAckDelay())
}

// NextTimeout reports the earliest instant HandleTimeout should next be
// called: the soonest of idle expiry, loss-detection time, PTO, the close
// drain period, and a keep-alive PING, or ok=false if nothing is scheduled.
func (c *Connection) NextTimeout() (time.Time, bool) {
	if c.state == StateDrained {
		return time.Time{}, false
	}

	idleAt := c.lastActivity.Add(c.idleTimeout)
	best, haveBest := idleAt, true

	if c.state == StateClosing || c.state == StateDraining {
		drainAt := c.closeAt.Add(c.closeDrainPeriod())
		if drainAt.Before(best) {
			best = drainAt
		}
		return best, true
	}

	for _, kind := range []recovery.Space{recovery.SpaceInitial, recovery.SpaceHandshake, recovery.SpaceApplication} {
		if lt, ok := c.tracker.LossTime(kind); ok {
			if !haveBest || lt.Before(best) {
				best, haveBest = lt, true
			}
		}
	}

	if c.handshakeDone && c.transport.KeepAliveInterval() > 0 {
		keepAliveAt := c.lastActivity.Add(c.transport.KeepAliveInterval())
		if keepAliveAt.Before(best) {
			best = keepAliveAt
		}
	}

	ptoAt := c.lastActivity.Add(c.rtt.PTOPeriod(c.transport.MaxAckDelay()) * (1 << uint(c.maxPTOCount())))
	if ptoAt.Before(best) {
		best = ptoAt
	}

	return best, true
}

func (c *Connection) maxPTOCount() int {
	max := 0
	for _, kind := range []recovery.Space{recovery.SpaceInitial, recovery.SpaceHandshake, recovery.SpaceApplication} {
		if n := c.tracker.PTOCount(kind); n > max {
			max = n
		}
	}
	return max
}

// HandleTimeout drives every time-based state transition: idle-timeout
// closure, loss-detection-timer-triggered loss declaration, and
// exponential-backoff PTO probes (spec.md section 4.6's handle_timeout
// entry point, RFC 9002 sections 6.1/6.2).
func (c *Connection) HandleTimeout(now time.Time) {
	switch c.state {
	case StateDraining:
		if !now.Before(c.closeAt.Add(c.closeDrainPeriod())) {
			c.enterDrained()
		}
		return
	case StateClosing:
		if !now.Before(c.closeAt.Add(c.closeDrainPeriod())) {
			c.enterDrained()
		}
		return
	case StateDrained:
		return
	}

	if !now.Before(c.lastActivity.Add(c.idleTimeout)) {
		c.log.Info("idle timeout")
		c.state = StateDraining
		c.closeAt = now
		c.queueEvent(Event{Kind: EventConnectionClosed, CloseReason: "idle timeout"})
		c.enterDrained()
		return
	}

	lossFired := false
	for _, kind := range []recovery.Space{recovery.SpaceInitial, recovery.SpaceHandshake, recovery.SpaceApplication} {
		lt, ok := c.tracker.LossTime(kind)
		if !ok || now.Before(lt) {
			continue
		}
		lossFired = true
		result := c.tracker.OnAck(kind, nil, 0, c.transport.MaxAckDelay(), now)
		for _, p := range result.Lost {
			sp := c.spaceFor(kind)
			c.cc.OnLost(now, p.SentAt, uint64(p.Size))
			c.applyLostFrames(p)
			metrics.LossEventCount.With(map[string]string{"space": spaceLabel(sp.kind)}).Inc()
		}
	}

	if lossFired {
		return
	}

	ptoAt := c.lastActivity.Add(c.rtt.PTOPeriod(c.transport.MaxAckDelay()) * (1 << uint(c.maxPTOCount())))
	if !now.Before(ptoAt) {
		for _, kind := range []recovery.Space{recovery.SpaceInitial, recovery.SpaceHandshake, recovery.SpaceApplication} {
			if c.tracker.InFlightCount(kind) == 0 {
				continue
			}
			c.tracker.OnPTO(kind)
			// Force a fresh ack-eliciting packet in this space even if
			// nothing else is pending, so a PTO never stalls waiting for
			// application data (RFC 9002 section 6.2.4).
			c.probeRequested[spaceIndex(kind)] = true
			metrics.PTOFiredCount.With(map[string]string{"space": spaceLabel(kind)}).Inc()
		}
		c.log.Debug("probe timeout fired")
		return
	}

	c.checkProbeTimeout(now)

	if c.handshakeDone && c.transport.KeepAliveInterval() > 0 {
		keepAliveAt := c.lastActivity.Add(c.transport.KeepAliveInterval())
		if !now.Before(keepAliveAt) {
			c.pingRequested = true
			c.lastActivity = now
		}
	}
}

// spaceIndex maps a recovery.Space to a small dense index for per-space
// flag arrays.
func spaceIndex(kind recovery.Space) int {
	switch kind {
	case recovery.SpaceInitial:
		return 0
	case recovery.SpaceHandshake:
		return 1
	default:
		return 2
	}
}

func (c *Connection) enterDrained() {
	if c.state == StateDrained {
		return
	}
	c.state = StateDrained
	metrics.ConnectionsActiveGauge.Dec()
	c.log.Info("connection drained")
}
