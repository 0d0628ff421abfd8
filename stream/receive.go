package stream

import (
	"sort"

	"github.com/quicproto/qtransport/flowcontrol"
)

// RecvState is the receive-side stream state machine (RFC 9000 section
// 3.2).
type RecvState int

const (
	RecvStateRecv RecvState = iota
	RecvStateSizeKnown
	RecvStateDataRecvd
	RecvStateDataRead
	RecvStateResetRecvd
	RecvStateResetRead
)

type recvRange struct {
	offset uint64
	data   []byte
}

// RecvBuffer reassembles a stream's received bytes out of order, tracking
// flow control and FIN/RESET_STREAM state.
type RecvBuffer struct {
	window *flowcontrol.ReceiveWindow

	ranges      []recvRange // sorted, non-overlapping, not yet delivered to the app
	readOffset  uint64      // contiguous bytes delivered to the app so far
	finalSize   uint64
	haveFinal   bool
	state       RecvState
	errCode     uint64

	pendingMaxData     uint64
	havePendingMaxData bool

	stopRequested bool
	stopErrCode   uint64
}

// NewRecvBuffer creates a receive buffer bounded by a per-stream flow
// control window.
func NewRecvBuffer(window *flowcontrol.ReceiveWindow) *RecvBuffer {
	return &RecvBuffer{window: window}
}

// Ingest records a received STREAM frame's payload at offset, merging it
// into the reassembly buffer. fin indicates this chunk ends the stream.
func (r *RecvBuffer) Ingest(offset uint64, data []byte, fin bool) error {
	if err := r.window.Validate(offset, uint64(len(data))); err != nil {
		return err
	}
	if fin {
		r.finalSize = offset + uint64(len(data))
		r.haveFinal = true
		if r.state == RecvStateRecv {
			r.state = RecvStateSizeKnown
		}
	}
	if len(data) > 0 {
		if offset+uint64(len(data)) <= r.readOffset {
			return nil // entirely already-delivered data, a retransmission
		}
		if offset < r.readOffset {
			data = data[r.readOffset-offset:]
			offset = r.readOffset
		}
		r.ranges = append(r.ranges, recvRange{offset: offset, data: append([]byte(nil), data...)})
		sort.Slice(r.ranges, func(i, j int) bool { return r.ranges[i].offset < r.ranges[j].offset })
		r.ranges = mergeRanges(r.ranges)
	}
	r.maybeComplete()
	return nil
}

// Read copies contiguously-available bytes (starting at the current read
// offset) into p, returning how many were copied. It never blocks: a
// return of 0 with no error means no contiguous data is available yet.
func (r *RecvBuffer) Read(p []byte) (int, error) {
	if len(r.ranges) == 0 || r.ranges[0].offset != r.readOffset {
		return 0, nil
	}
	rr := &r.ranges[0]
	n := copy(p, rr.data)
	rr.data = rr.data[n:]
	r.readOffset += uint64(n)
	if max, shouldSend := r.window.Consume(uint64(n)); shouldSend {
		r.pendingMaxData = max
		r.havePendingMaxData = true
	}
	if len(rr.data) == 0 {
		r.ranges = r.ranges[1:]
	}
	r.maybeComplete()
	return n, nil
}

func (r *RecvBuffer) maybeComplete() {
	if r.haveFinal && r.readOffset == r.finalSize && r.state != RecvStateDataRead && r.state != RecvStateResetRead {
		r.state = RecvStateDataRecvd
	}
}

// Reset records a RESET_STREAM frame from the peer, discarding any
// buffered unread data.
func (r *RecvBuffer) Reset(errCode, finalSize uint64) {
	r.errCode = errCode
	r.finalSize = finalSize
	r.haveFinal = true
	r.ranges = nil
	r.state = RecvStateResetRecvd
}

// State returns the current receive-state-machine state.
func (r *RecvBuffer) State() RecvState { return r.state }

// PendingMaxData returns the new flow-control maximum to advertise via a
// MAX_STREAM_DATA frame, if Read's last call crossed the re-advertisement
// threshold and it hasn't been sent yet.
func (r *RecvBuffer) PendingMaxData() (uint64, bool) {
	if !r.havePendingMaxData {
		return 0, false
	}
	r.havePendingMaxData = false
	return r.pendingMaxData, true
}

// Resend re-queues the current maximum for advertisement regardless of the
// usual threshold, in response to a peer's STREAM_DATA_BLOCKED (RFC 9000
// section 4.1: re-sending the last limit costs nothing and unblocks a peer
// that may have missed it).
func (r *RecvBuffer) Resend() {
	r.pendingMaxData = r.window.Maximum()
	r.havePendingMaxData = true
}

// Stop asks the peer to stop sending on this stream, queuing a STOP_SENDING
// frame.
func (r *RecvBuffer) Stop(errCode uint64) {
	if r.state == RecvStateResetRecvd || r.state == RecvStateResetRead || r.state == RecvStateDataRecvd {
		return
	}
	r.stopRequested = true
	r.stopErrCode = errCode
}

// PendingStop returns the STOP_SENDING error code to send, if Stop queued
// one that hasn't been transmitted yet.
func (r *RecvBuffer) PendingStop() (uint64, bool) {
	if !r.stopRequested {
		return 0, false
	}
	r.stopRequested = false
	return r.stopErrCode, true
}

// mergeRanges coalesces adjacent/overlapping sorted ranges into one so the
// buffer never grows unboundedly with tiny fragments.
func mergeRanges(rs []recvRange) []recvRange {
	if len(rs) < 2 {
		return rs
	}
	out := rs[:1]
	for _, next := range rs[1:] {
		last := &out[len(out)-1]
		lastEnd := last.offset + uint64(len(last.data))
		if next.offset > lastEnd {
			out = append(out, next)
			continue
		}
		nextEnd := next.offset + uint64(len(next.data))
		if nextEnd <= lastEnd {
			continue // fully contained in last
		}
		last.data = append(last.data, next.data[lastEnd-next.offset:]...)
	}
	return out
}
