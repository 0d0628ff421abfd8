// Package flowcontrol implements the connection- and stream-level flow
// control windows QUIC uses to bound how much unacknowledged data a sender
// may have outstanding (spec.md section 4.4). Both levels share the same
// credit-window shape: a sent/received counter bounded by a peer- or
// locally-advertised maximum, with a threshold for deciding when to send an
// update frame.
package flowcontrol

import "errors"

// ErrFlowControlViolation is returned when a peer has sent (or a local
// caller has tried to send) beyond the advertised limit.
var ErrFlowControlViolation = errors.New("flowcontrol: limit violation")

// SendWindow tracks how much this endpoint may send against a peer's
// advertised maximum, on one stream or on the connection as a whole.
type SendWindow struct {
	sent    uint64
	maximum uint64
}

// NewSendWindow creates a window starting at the given initial maximum
// (typically initial_max_data / initial_max_stream_data_* from the peer's
// transport parameters).
func NewSendWindow(initialMax uint64) *SendWindow {
	return &SendWindow{maximum: initialMax}
}

// Available returns how many more bytes may currently be sent.
func (w *SendWindow) Available() uint64 {
	if w.sent >= w.maximum {
		return 0
	}
	return w.maximum - w.sent
}

// Reserve consumes n bytes of the window's budget. It fails with
// ErrFlowControlViolation if n exceeds Available(); callers must check
// Available() (or catch the error) before buffering data that can't yet be
// sent, per spec.md's stream-is-blocked behavior.
func (w *SendWindow) Reserve(n uint64) error {
	if n > w.Available() {
		return ErrFlowControlViolation
	}
	w.sent += n
	return nil
}

// Sent returns the cumulative number of bytes reserved so far.
func (w *SendWindow) Sent() uint64 { return w.sent }

// UpdateMaximum raises the window's maximum in response to a received
// MAX_DATA/MAX_STREAM_DATA frame. Frames that would lower the maximum are
// ignored, since QUIC senders may deliver flow control frames out of order.
func (w *SendWindow) UpdateMaximum(max uint64) {
	if max > w.maximum {
		w.maximum = max
	}
}

// Blocked reports whether Available() is zero, the condition under which a
// DATA_BLOCKED/STREAM_DATA_BLOCKED frame should be queued.
func (w *SendWindow) Blocked() bool { return w.Available() == 0 }

// ReceiveWindow tracks how much data a peer may send to this endpoint, and
// decides when to advertise a new, larger maximum.
type ReceiveWindow struct {
	consumed      uint64 // bytes delivered to the application (or retired on a stream)
	highestOffset uint64 // highest byte offset seen so far, for violation checks
	maximum       uint64
	windowSize    uint64 // the size re-advertised each time the window slides
}

// NewReceiveWindow creates a receive-side window that starts by advertising
// initialMax and re-advertises windows of that same size as data is
// consumed.
func NewReceiveWindow(initialMax uint64) *ReceiveWindow {
	return &ReceiveWindow{maximum: initialMax, windowSize: initialMax}
}

// Validate checks that a just-received byte range [offset, offset+n) does
// not exceed the currently advertised maximum; the caller should close the
// connection/stream with FLOW_CONTROL_ERROR if it returns a violation.
func (w *ReceiveWindow) Validate(offset, n uint64) error {
	end := offset + n
	if end > w.maximum {
		return ErrFlowControlViolation
	}
	if end > w.highestOffset {
		w.highestOffset = end
	}
	return nil
}

// Consume records that n bytes have been delivered to the application (or,
// for the connection-level window, retired by the owning streams), and
// reports the new maximum to advertise plus whether one should be sent now.
// The threshold for "now" is the window being more than half consumed, per
// quinn-proto's flow-control update heuristic.
func (w *ReceiveWindow) Consume(n uint64) (newMaximum uint64, shouldSend bool) {
	w.consumed += n
	candidate := w.consumed + w.windowSize
	if candidate <= w.maximum || candidate-w.maximum <= w.windowSize/2 {
		return w.maximum, false
	}
	w.maximum = candidate
	return w.maximum, true
}

// Maximum returns the currently advertised maximum without consuming
// anything, for inclusion in a just-in-case retransmission of the last
// MAX_DATA/MAX_STREAM_DATA frame.
func (w *ReceiveWindow) Maximum() uint64 { return w.maximum }
