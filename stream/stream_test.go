package stream

import (
	"bytes"
	"testing"

	"github.com/quicproto/qtransport/flowcontrol"
)

func TestIDBitsRoundTrip(t *testing.T) {
	id := NewID(7, true, true)
	if !id.IsServerInitiated() || id.IsClientInitiated() {
		t.Errorf("expected server-initiated")
	}
	if !id.IsUni() || id.IsBidi() {
		t.Errorf("expected unidirectional")
	}
	if id.Counter() != 7 {
		t.Errorf("Counter() = %d, want 7", id.Counter())
	}
}

func TestSendBufferWriteAndPendingFrame(t *testing.T) {
	sb := NewSendBuffer(flowcontrol.NewSendWindow(1000))
	n, err := sb.Write([]byte("hello world"))
	if err != nil || n != 11 {
		t.Fatalf("Write: n=%d err=%v", n, err)
	}
	sb.Finish()

	offset, data, fin, ok := sb.PendingFrame(1000)
	if !ok {
		t.Fatalf("expected a pending frame")
	}
	if offset != 0 || !bytes.Equal(data, []byte("hello world")) || !fin {
		t.Errorf("got offset=%d data=%q fin=%v", offset, data, fin)
	}
	if sb.State() != SendStateDataSent {
		t.Errorf("state = %v, want DataSent", sb.State())
	}
	_, _, _, ok = sb.PendingFrame(1000)
	if ok {
		t.Errorf("expected no more pending frames")
	}

	sb.OnAcked(0, 11)
	if sb.State() != SendStateDataRecvd {
		t.Errorf("state = %v, want DataRecvd", sb.State())
	}
}

func TestSendBufferRespectsFlowControl(t *testing.T) {
	sb := NewSendBuffer(flowcontrol.NewSendWindow(5))
	n, err := sb.Write([]byte("hello world"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != 5 {
		t.Errorf("n = %d, want 5 (limited by the flow control window)", n)
	}
}

func TestSendBufferPendingFrameSplitsOnMaxLen(t *testing.T) {
	sb := NewSendBuffer(flowcontrol.NewSendWindow(1000))
	sb.Write([]byte("0123456789"))
	offset, data, fin, ok := sb.PendingFrame(4)
	if !ok || offset != 0 || string(data) != "0123" || fin {
		t.Fatalf("got offset=%d data=%q fin=%v ok=%v", offset, data, fin, ok)
	}
	offset, data, _, ok = sb.PendingFrame(1000)
	if !ok || offset != 4 || string(data) != "456789" {
		t.Fatalf("second chunk: offset=%d data=%q ok=%v", offset, data, ok)
	}
}

func TestSendBufferOnLostReschedules(t *testing.T) {
	sb := NewSendBuffer(flowcontrol.NewSendWindow(1000))
	sb.Write([]byte("data"))
	offset, data, _, _ := sb.PendingFrame(1000)
	if sb.HasPending() {
		t.Fatalf("expected no pending data immediately after sending")
	}
	sb.OnLost(offset, data)
	if !sb.HasPending() {
		t.Fatalf("expected lost data to be pending again")
	}
}

func TestRecvBufferReassemblesOutOfOrder(t *testing.T) {
	rb := NewRecvBuffer(flowcontrol.NewReceiveWindow(1000))
	if err := rb.Ingest(5, []byte("world"), true); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	buf := make([]byte, 10)
	n, _ := rb.Read(buf)
	if n != 0 {
		t.Fatalf("expected no contiguous data yet, got n=%d", n)
	}
	if err := rb.Ingest(0, []byte("hello"), false); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	n, _ = rb.Read(buf)
	if n != 10 || string(buf[:n]) != "helloworld" {
		t.Fatalf("Read: n=%d buf=%q", n, buf[:n])
	}
	if rb.State() != RecvStateDataRecvd {
		t.Errorf("state = %v, want DataRecvd", rb.State())
	}
}

func TestRecvBufferViolatesFlowControl(t *testing.T) {
	rb := NewRecvBuffer(flowcontrol.NewReceiveWindow(10))
	if err := rb.Ingest(5, []byte("0123456"), false); err != flowcontrol.ErrFlowControlViolation {
		t.Fatalf("expected a flow control violation, got %v", err)
	}
}

func TestManagerOpenBidiEnforcesPeerLimit(t *testing.T) {
	m := NewManager(false, Limits{MaxStreamDataBidiRemote: 1000, MaxStreamDataBidiLocal: 1000})
	m.SetPeerStreamLimits(1, 0)
	if _, _, _, err := m.OpenBidi(); err != nil {
		t.Fatalf("first OpenBidi: %v", err)
	}
	if _, _, _, err := m.OpenBidi(); err != ErrStreamLimitExceeded {
		t.Fatalf("expected ErrStreamLimitExceeded, got %v", err)
	}
}

func TestManagerHandleStreamFrameImplicitlyOpens(t *testing.T) {
	m := NewManager(true, Limits{MaxStreamDataBidiLocal: 1000, MaxStreamsBidi: 10})
	clientBidi0 := NewID(0, false, false)
	if err := m.HandleStreamFrame(clientBidi0, 0, []byte("hi"), false); err != nil {
		t.Fatalf("HandleStreamFrame: %v", err)
	}
	_, recv, ok := m.Get(clientBidi0)
	if !ok || recv == nil {
		t.Fatalf("expected the stream to have been implicitly created")
	}
	buf := make([]byte, 2)
	n, _ := recv.Read(buf)
	if n != 2 || string(buf) != "hi" {
		t.Errorf("Read: n=%d buf=%q", n, buf)
	}
}

func TestManagerPendingWritesOrdering(t *testing.T) {
	m := NewManager(false, Limits{MaxStreamDataUni: 1000, MaxStreamsUni: 10})
	m.SetPeerStreamLimits(0, 10)
	idFirst, sendFirst, _ := m.OpenUni()
	idSecond, sendSecond, _ := m.OpenUni()
	sendSecond.Write([]byte("x"))
	sendFirst.Write([]byte("y"))
	pending := m.PendingWrites()
	if len(pending) != 2 {
		t.Fatalf("got %d pending streams, want 2", len(pending))
	}
	if pending[0] != idFirst || pending[1] != idSecond {
		t.Errorf("expected ascending ID order [%v %v], got %v", idFirst, idSecond, pending)
	}
}
