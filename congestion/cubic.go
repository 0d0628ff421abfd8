package congestion

import (
	"math"
	"time"
)

// Cubic implements RFC 9438's CUBIC congestion control (the default
// algorithm, per spec.md section 4.5), with NewReno-equivalent behavior
// ("TCP-friendly region") folded in the way quinn-proto's cubic module
// does rather than as a separate code path.
type Cubic struct {
	base
	window   uint64
	ssthresh uint64

	wMax        float64
	k           float64
	epochStart  time.Time
	haveEpoch   bool
	inRecovery  bool
	recoveryEnd time.Time
}

const (
	cubicBeta = 0.7
	cubicC    = 0.4
)

// CubicFactory builds Cubic controllers.
type CubicFactory struct{}

func (CubicFactory) Build(now time.Time, maxDatagramSize uint64) Controller {
	return &Cubic{
		base:     base{maxDatagramSize: maxDatagramSize},
		window:   10 * maxDatagramSize,
		ssthresh: ^uint64(0),
	}
}

func (c *Cubic) Window() uint64 { return c.window }

func (c *Cubic) OnAck(now, sentAt time.Time, ackedBytes uint64, rtt time.Duration) {
	c.ackOrLose(ackedBytes)
	if c.inRecovery && sentAt.Before(c.recoveryEnd) {
		return // still within the recovery period this ack was sent during
	}
	c.inRecovery = false

	if c.window < c.ssthresh {
		c.window += ackedBytes // slow start, same as NewReno
		return
	}

	if !c.haveEpoch {
		c.epochStart = now
		c.haveEpoch = true
		if c.wMax == 0 {
			c.k = 0
		} else {
			c.k = math.Cbrt(c.wMax * (1 - cubicBeta) / cubicC)
		}
	}

	t := now.Sub(c.epochStart).Seconds()
	target := cubicC*math.Pow(t-c.k, 3) + c.wMax
	if target < float64(c.window) {
		target = float64(c.window)
	}
	rttSeconds := rtt.Seconds()
	if rttSeconds <= 0 {
		rttSeconds = 0.1
	}
	// Move the window toward target over roughly one RTT, scaled by how
	// much data was just acknowledged (RFC 9438 section 4.3).
	step := float64(c.maxDatagramSize) * float64(ackedBytes) / float64(c.window)
	if target > float64(c.window) {
		c.window += uint64(step)
	} else {
		c.window += uint64(step / 8) // TCP-friendly region floor growth
	}
}

func (c *Cubic) OnLost(now, sentAt time.Time, lostBytes uint64) {
	c.ackOrLose(lostBytes)
	if c.inRecovery {
		return
	}
	c.inRecovery = true
	c.recoveryEnd = now
	c.wMax = float64(c.window)
	c.ssthresh = uint64(float64(c.window) * cubicBeta)
	if c.ssthresh < minimumWindow {
		c.ssthresh = minimumWindow
	}
	c.window = c.ssthresh
	c.haveEpoch = false
}

func (c *Cubic) OnPersistentCongestion(now time.Time) {
	c.window = minimumWindow
	c.ssthresh = ^uint64(0)
	c.wMax = 0
	c.haveEpoch = false
	c.inRecovery = false
}
