package congestion

import "time"

// NewReno is the RFC 9002 Appendix B reference congestion controller:
// slow start doubling the window per RTT, then additive-increase on ack
// and multiplicative-decrease on loss.
type NewReno struct {
	base
	window        uint64
	ssthresh      uint64
	recoveryStart time.Time
	inRecovery    bool
}

// NewRenoFactory builds NewReno controllers.
type NewRenoFactory struct{}

func (NewRenoFactory) Build(now time.Time, maxDatagramSize uint64) Controller {
	return &NewReno{
		base:     base{maxDatagramSize: maxDatagramSize},
		window:   10 * maxDatagramSize, // RFC 9002 section 7.2 initial window
		ssthresh: ^uint64(0),
	}
}

func (c *NewReno) Window() uint64 { return c.window }

func (c *NewReno) OnAck(now, sentAt time.Time, ackedBytes uint64, rtt time.Duration) {
	c.ackOrLose(ackedBytes)
	if c.inRecovery && !sentAt.Before(c.recoveryStart) {
		c.inRecovery = false
	}
	if c.inRecovery {
		return
	}
	if c.window < c.ssthresh {
		c.window += ackedBytes // slow start
		return
	}
	// Congestion avoidance: additive increase, RFC 9002 section 7.3.3.
	c.window += c.maxDatagramSize * ackedBytes / c.window
}

func (c *NewReno) OnLost(now, sentAt time.Time, lostBytes uint64) {
	c.ackOrLose(lostBytes)
	c.enterRecovery(now)
}

func (c *NewReno) OnPersistentCongestion(now time.Time) {
	c.window = minimumWindow
	c.ssthresh = ^uint64(0)
	c.inRecovery = false
}

func (c *NewReno) enterRecovery(now time.Time) {
	if c.inRecovery {
		return
	}
	c.inRecovery = true
	c.recoveryStart = now
	c.ssthresh = c.window / 2
	if c.ssthresh < minimumWindow {
		c.ssthresh = minimumWindow
	}
	c.window = c.ssthresh
}
