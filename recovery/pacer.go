package recovery

import (
	"time"

	"golang.org/x/time/rate"
)

// Pacer smooths a burst of congestion-window-sized transmission into a
// steady stream over roughly one RTT, rather than releasing cwnd bytes all
// at once (spec.md's congestion section references "pacing" as part of a
// CUBIC/NewReno sender's obligations, mirroring RFC 9002 section 7.7).
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer creates a pacer that, for the given congestion window and
// smoothed RTT, allows bursts of one maximum datagram size at a time.
func NewPacer(cwnd int, rtt time.Duration, maxDatagramSize int) *Pacer {
	p := &Pacer{limiter: rate.NewLimiter(rate.Inf, maxDatagramSize)}
	p.SetRate(cwnd, rtt, maxDatagramSize)
	return p
}

// SetRate recomputes the pacing rate from a new congestion window and RTT
// estimate, called after every cwnd change or RTT update.
func (p *Pacer) SetRate(cwnd int, rtt time.Duration, maxDatagramSize int) {
	if rtt <= 0 {
		p.limiter.SetLimit(rate.Inf)
		return
	}
	bytesPerSecond := float64(cwnd) / rtt.Seconds()
	p.limiter.SetLimit(rate.Limit(bytesPerSecond))
	p.limiter.SetBurst(maxDatagramSize)
}

// AllowSend reports whether n bytes may be sent right now without
// exceeding the paced rate; the connection should otherwise wait and retry
// when NextSendTime indicates it is safe.
func (p *Pacer) AllowSend(n int) bool {
	return p.limiter.AllowN(time.Now(), n)
}

// NextSendTime returns the earliest time n bytes could be sent under the
// current pacing rate, for scheduling a pacing timer.
func (p *Pacer) NextSendTime(n int) time.Time {
	r := p.limiter.ReserveN(time.Now(), n)
	defer r.Cancel()
	return time.Now().Add(r.Delay())
}
