// Package recovery implements QUIC loss detection and the RTT estimator
// (RFC 9002), independent of any particular congestion control algorithm
// (spec.md section 4.5). The congestion package supplies a Controller this
// package's SentPacketTracker drives on each ack and loss event.
package recovery

import "time"

const (
	initialRTT = 333 * time.Millisecond // RFC 9002 section 6.2.2, used before any RTT sample exists
	granularity = time.Millisecond
	timeThresholdMultiplier = 9.0 / 8.0 // RFC 9002 section 6.1.2
	packetThreshold         = 3         // RFC 9002 section 6.1.1
)

// RTTEstimator maintains the smoothed RTT, RTT variance, and minimum RTT
// observed for a connection, per RFC 9002 section 5.
type RTTEstimator struct {
	latest  time.Duration
	min     time.Duration
	smoothed time.Duration
	variance time.Duration
	haveSample bool
}

// NewRTTEstimator creates an estimator seeded with the default initial RTT
// used before the first sample arrives.
func NewRTTEstimator() *RTTEstimator {
	return &RTTEstimator{smoothed: initialRTT, variance: initialRTT / 2}
}

// Update records a new RTT sample (rtt, the time from sending an
// ack-eliciting packet to receiving an acknowledgment for it) with the
// peer-reported ackDelay, per RFC 9002 section 5.3.
func (r *RTTEstimator) Update(rtt, ackDelay, maxAckDelay time.Duration) {
	r.latest = rtt
	if !r.haveSample {
		r.haveSample = true
		r.min = rtt
		r.smoothed = rtt
		r.variance = rtt / 2
		return
	}
	if rtt < r.min {
		r.min = rtt
	}
	adjusted := rtt
	if ackDelay > maxAckDelay {
		ackDelay = maxAckDelay
	}
	if rtt >= r.min+ackDelay {
		adjusted = rtt - ackDelay
	}
	rttVarSample := absDuration(r.smoothed - adjusted)
	r.variance = (3*r.variance + rttVarSample) / 4
	r.smoothed = (7*r.smoothed + adjusted) / 8
}

// Smoothed returns the current smoothed RTT estimate.
func (r *RTTEstimator) Smoothed() time.Duration { return r.smoothed }

// Variance returns the current RTT variance estimate.
func (r *RTTEstimator) Variance() time.Duration { return r.variance }

// Min returns the minimum RTT observed so far.
func (r *RTTEstimator) Min() time.Duration { return r.min }

// PTOPeriod returns the base probe timeout period (RFC 9002 section 6.2.1,
// before applying the 2^backoff multiplier for consecutive PTOs).
func (r *RTTEstimator) PTOPeriod(maxAckDelay time.Duration) time.Duration {
	variance := 4 * r.variance
	if variance < granularity {
		variance = granularity
	}
	return r.smoothed + variance + maxAckDelay
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
