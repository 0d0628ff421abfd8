package stream

import (
	"errors"

	"github.com/quicproto/qtransport/flowcontrol"
)

// SendState is the send-side stream state machine (RFC 9000 section 3.1).
type SendState int

const (
	SendStateReady SendState = iota
	SendStateSend
	SendStateDataSent
	SendStateDataRecvd
	SendStateResetSent
	SendStateResetRecvd
)

// ErrStreamReset is returned by Write once the stream has been reset
// locally.
var ErrStreamReset = errors.New("stream: reset")

// ErrStopped is returned by Write once the peer has asked this stream to
// stop sending via STOP_SENDING.
type ErrStopped struct{ Code uint64 }

func (e ErrStopped) Error() string { return "stream: stopped by peer" }

// chunk is one contiguous run of unacknowledged or unsent application data
// buffered for (re)transmission.
type chunk struct {
	offset uint64
	data   []byte
	sent   bool
}

// SendBuffer holds outgoing data for one stream's send half: bytes written
// by the application, a cursor of what has been sent, and what has been
// acknowledged, plus flow control bookkeeping for both the stream and
// (shared) the connection.
type SendBuffer struct {
	window *flowcontrol.SendWindow

	writeOffset uint64 // total bytes ever appended via Write
	chunks      []chunk
	acked       map[uint64]struct{} // offsets of acked chunks, keyed by start

	fin     bool
	finSent bool
	state   SendState
	errCode uint64

	priority int

	stopped        bool
	stopErrCode    uint64
	resetQueued    bool
	resetFinalSize uint64
}

// NewSendBuffer creates a send buffer bounded by a per-stream flow control
// window.
func NewSendBuffer(window *flowcontrol.SendWindow) *SendBuffer {
	return &SendBuffer{window: window, acked: make(map[uint64]struct{})}
}

// Write appends application data to the stream, reserving flow control
// budget for it. It returns the number of bytes actually accepted: fewer
// than len(p) if the flow control window doesn't have room for all of it,
// in which case the caller should retain the remainder and retry once more
// window opens up: writes beyond the window return a short count, not an
// error.
func (s *SendBuffer) Write(p []byte) (int, error) {
	if s.stopped {
		return 0, ErrStopped{Code: s.stopErrCode}
	}
	if s.state == SendStateResetSent || s.state == SendStateResetRecvd {
		return 0, ErrStreamReset
	}
	n := len(p)
	avail := s.window.Available()
	if uint64(n) > avail {
		n = int(avail)
	}
	if n == 0 {
		return 0, nil
	}
	if err := s.window.Reserve(uint64(n)); err != nil {
		return 0, err
	}
	data := append([]byte(nil), p[:n]...)
	s.chunks = append(s.chunks, chunk{offset: s.writeOffset, data: data})
	s.writeOffset += uint64(n)
	if s.state == SendStateReady {
		s.state = SendStateSend
	}
	return n, nil
}

// Finish marks that no more data will be written; once every buffered byte
// has been sent and acknowledged the stream moves to DataRecvd.
func (s *SendBuffer) Finish() {
	s.fin = true
}

// PendingFrame returns the next unsent chunk of data (and whether FIN
// should be set on it), up to maxLen bytes, or ok=false if there is nothing
// left to send. Calling it marks the returned bytes as sent (not yet
// acked); OnLost reschedules them if the packet carrying them is lost.
func (s *SendBuffer) PendingFrame(maxLen int) (offset uint64, data []byte, fin bool, ok bool) {
	for i := range s.chunks {
		c := &s.chunks[i]
		if c.sent {
			continue
		}
		d := c.data
		if len(d) > maxLen {
			d = d[:maxLen]
		}
		isLastChunk := i == len(s.chunks)-1
		sendFin := s.fin && isLastChunk && len(d) == len(c.data)
		if len(d) == len(c.data) {
			c.sent = true
		} else {
			// Split: keep the unsent remainder as a new chunk.
			rest := chunk{offset: c.offset + uint64(len(d)), data: c.data[len(d):]}
			c.data = d
			c.sent = true
			s.chunks = append(s.chunks[:i+1], append([]chunk{rest}, s.chunks[i+1:]...)...)
		}
		if sendFin {
			s.finSent = true
			s.state = SendStateDataSent
		}
		return c.offset, d, sendFin, true
	}
	if s.fin && !s.finSent && s.allSent() {
		s.finSent = true
		s.state = SendStateDataSent
		return s.writeOffset, nil, true, true
	}
	return 0, nil, false, false
}

func (s *SendBuffer) allSent() bool {
	for _, c := range s.chunks {
		if !c.sent {
			return false
		}
	}
	return true
}

// OnAcked marks [offset, offset+len(data)) as acknowledged; once all data
// and FIN (if any) are acknowledged the stream moves to DataRecvd and its
// buffered bytes may be freed.
func (s *SendBuffer) OnAcked(offset uint64, length int) {
	s.acked[offset] = struct{}{}
	if s.finSent && s.fullyAcked() {
		s.state = SendStateDataRecvd
		s.chunks = nil
	}
}

func (s *SendBuffer) fullyAcked() bool {
	for _, c := range s.chunks {
		if !c.sent {
			return false
		}
		if _, ok := s.acked[c.offset]; !ok {
			return false
		}
	}
	return true
}

// OnLost marks a previously-sent range as needing retransmission by
// re-inserting it as an unsent chunk.
func (s *SendBuffer) OnLost(offset uint64, data []byte) {
	s.chunks = append(s.chunks, chunk{offset: offset, data: data})
	if s.state == SendStateDataSent {
		s.state = SendStateSend
	}
}

// Reset abandons the stream's send side, entering ResetSent with the given
// application error code and queuing a RESET_STREAM frame for the peer.
func (s *SendBuffer) Reset(errCode uint64) {
	s.errCode = errCode
	s.state = SendStateResetSent
	s.resetFinalSize = s.writeOffset
	s.resetQueued = true
	s.chunks = nil
}

// Stop marks this send half as told to stop by the peer (a received
// STOP_SENDING frame), rejecting further writes with ErrStopped and queuing
// a RESET_STREAM acknowledging the request, per RFC 9000 section 3.5.
func (s *SendBuffer) Stop(errCode uint64) {
	if s.state == SendStateResetSent || s.state == SendStateResetRecvd {
		return
	}
	s.stopped = true
	s.stopErrCode = errCode
	s.errCode = errCode
	s.state = SendStateResetSent
	s.resetFinalSize = s.writeOffset
	s.resetQueued = true
	s.chunks = nil
}

// PendingReset returns the RESET_STREAM error code and final size to send,
// if Reset or Stop queued one that hasn't been transmitted yet.
func (s *SendBuffer) PendingReset() (errCode, finalSize uint64, ok bool) {
	if !s.resetQueued {
		return 0, 0, false
	}
	s.resetQueued = false
	return s.errCode, s.resetFinalSize, true
}

// SetPriority sets this stream's send-side scheduling priority; higher
// values are serviced first by the connection's round-robin scheduler.
func (s *SendBuffer) SetPriority(p int) { s.priority = p }

// Priority returns the stream's current send-side scheduling priority.
func (s *SendBuffer) Priority() int { return s.priority }

// UpdateMaxData raises the stream's flow control window in response to a
// received MAX_STREAM_DATA frame.
func (s *SendBuffer) UpdateMaxData(max uint64) {
	s.window.UpdateMaximum(max)
}

// State returns the current send-state-machine state.
func (s *SendBuffer) State() SendState { return s.state }

// HasPending reports whether any unsent data or an unset FIN remains.
func (s *SendBuffer) HasPending() bool {
	if s.fin && !s.finSent {
		return true
	}
	for _, c := range s.chunks {
		if !c.sent {
			return true
		}
	}
	return false
}
