package endpoint_test

import (
	"testing"
	"time"

	"github.com/quicproto/qtransport/config"
	"github.com/quicproto/qtransport/congestion"
	"github.com/quicproto/qtransport/endpoint"
	"github.com/quicproto/qtransport/packet"
	"github.com/quicproto/qtransport/qcrypto"
	"github.com/quicproto/qtransport/wire"
)

// fakeSession is the same minimal qcrypto.Session double the connection
// package's tests use: it completes on the first inbound flight and hands
// out deterministic 1-RTT keys so packets actually decrypt.
type fakeSession struct {
	label       string
	initiator   bool
	handshaking bool
	keysPending bool
	receivedAny bool
	pendingOut  bool
	sentFirst   bool
}

func newFakeSession(label string, initiator bool) *fakeSession {
	return &fakeSession{label: label, initiator: initiator, handshaking: true, keysPending: true}
}

func (f *fakeSession) WriteHandshake(level qcrypto.Level, data []byte) error {
	f.receivedAny = true
	f.pendingOut = true
	return nil
}

func (f *fakeSession) ReadHandshake() (qcrypto.Level, []byte, bool) {
	if f.initiator && !f.sentFirst {
		f.sentFirst = true
		return qcrypto.LevelInitial, []byte("clienthello-" + f.label), true
	}
	if f.pendingOut {
		f.pendingOut = false
		return qcrypto.LevelHandshake, []byte("serverhello-" + f.label), true
	}
	return 0, nil, false
}

func (f *fakeSession) IsHandshaking() bool { return f.handshaking }

func (f *fakeSession) NextKeys() (qcrypto.Level, qcrypto.Keys, bool) {
	if !f.keysPending || !f.receivedAny {
		return 0, qcrypto.Keys{}, false
	}
	f.keysPending = false
	f.handshaking = false
	secret := []byte(f.label + "-secret-000000000000000000000000")[:32]
	keys := qcrypto.DirectionalKeysFromSecret(secret)
	return qcrypto.Level1RTT, qcrypto.Keys{Read: keys, Write: keys}, true
}

func (f *fakeSession) TransportParameters() (qcrypto.TransportParameters, bool) {
	return qcrypto.TransportParameters{InitialMaxStreamsBidi: 10, InitialMaxStreamsUni: 10, InitialMaxData: 1 << 20}, true
}

func (f *fakeSession) ALPNSelected() string    { return "perf" }
func (f *fakeSession) EarlyDataAccepted() bool { return false }
func (f *fakeSession) ComputeRetryIntegrityTag(pseudoPacket []byte) [16]byte {
	return [16]byte{}
}

func newTestEndpoint(t *testing.T, isServer bool, retry bool, cap int) *endpoint.Endpoint {
	t.Helper()
	transport := config.NewTransport()
	cfg := config.NewEndpoint()
	var err error
	cfg, err = cfg.WithConcurrentConnections(cap)
	if err != nil {
		t.Fatalf("WithConcurrentConnections: %v", err)
	}
	cfg, err = cfg.WithTokenKey(make([]byte, 32))
	if err != nil {
		t.Fatalf("WithTokenKey: %v", err)
	}
	cfg = cfg.WithRetry(retry)

	return endpoint.New(isServer, cfg, transport, wire.NewRandomGenerator(),
		func(isServer bool) qcrypto.Session { return newFakeSession("ep", !isServer) },
		congestion.NewRenoFactory{})
}

func clientInitialKeys(destCID wire.ConnectionID) qcrypto.DirectionalKeys {
	clientSecret, _ := qcrypto.InitialSecrets(destCID.Bytes())
	return qcrypto.DirectionalKeysFromSecret(clientSecret)
}

func buildClientInitial(t *testing.T, destCID, srcCID wire.ConnectionID, token []byte) []byte {
	t.Helper()
	payload := []byte("clienthello-payload-padded-out-to-look-like-a-real-initial-flight-0123456789")
	built, err := packet.BuildLongHeaderPacket(packet.LongHeader{
		Type:    packet.LongTypeInitial,
		Version: packet.Version1,
		DestCID: destCID,
		SrcCID:  srcCID,
		Token:   token,
	}, 0, -1, payload, clientInitialKeys(destCID))
	if err != nil {
		t.Fatalf("BuildLongHeaderPacket: %v", err)
	}
	return built
}

func TestHandleDatagramAdmitsNewConnection(t *testing.T) {
	now := time.Now()
	ep := newTestEndpoint(t, true, false, 0)

	destCID, _ := wire.NewConnectionID([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	srcCID, _ := wire.NewConnectionID([]byte{8, 7, 6, 5, 4, 3, 2, 1})
	datagram := buildClientInitial(t, destCID, srcCID, nil)

	h, ok, out := ep.HandleDatagram("client:1234", datagram, now)
	if !ok {
		t.Fatalf("expected admission, got ok=false out=%v", out)
	}
	if _, found := ep.Get(h); !found {
		t.Fatalf("expected connection to be retrievable by handle %d", h)
	}
}

func TestHandleDatagramEnforcesConcurrentConnectionLimit(t *testing.T) {
	now := time.Now()
	ep := newTestEndpoint(t, true, false, 1)

	destCID1, _ := wire.NewConnectionID([]byte{1, 1, 1, 1, 1, 1, 1, 1})
	srcCID1, _ := wire.NewConnectionID([]byte{2, 2, 2, 2, 2, 2, 2, 2})
	_, ok, _ := ep.HandleDatagram("client:1", buildClientInitial(t, destCID1, srcCID1, nil), now)
	if !ok {
		t.Fatalf("expected first connection admitted")
	}

	destCID2, _ := wire.NewConnectionID([]byte{3, 3, 3, 3, 3, 3, 3, 3})
	srcCID2, _ := wire.NewConnectionID([]byte{4, 4, 4, 4, 4, 4, 4, 4})
	_, ok, out := ep.HandleDatagram("client:2", buildClientInitial(t, destCID2, srcCID2, nil), now)
	if ok {
		t.Fatalf("expected second connection to be rejected by the concurrency cap")
	}
	if out != nil {
		t.Fatalf("admission-limit drop must not produce a reply, got %v", out)
	}
}

func TestHandleDatagramIssuesRetryThenAdmitsWithToken(t *testing.T) {
	now := time.Now()
	ep := newTestEndpoint(t, true, true, 0)

	destCID, _ := wire.NewConnectionID([]byte{9, 9, 9, 9, 9, 9, 9, 9})
	srcCID, _ := wire.NewConnectionID([]byte{1, 0, 1, 0, 1, 0, 1, 0})
	first := buildClientInitial(t, destCID, srcCID, nil)

	h, ok, out := ep.HandleDatagram("client:5", first, now)
	if ok || h != 0 {
		t.Fatalf("expected no admission before a valid token is presented")
	}
	if out == nil || len(out.Data) == 0 {
		t.Fatalf("expected a Retry packet in reply")
	}

	var zeroKey [32]byte
	token := endpoint.MintRetryToken(zeroKey, "client:5", destCID, now)
	second := buildClientInitial(t, destCID, srcCID, token)
	h2, ok2, out2 := ep.HandleDatagram("client:5", second, now)
	if !ok2 {
		t.Fatalf("expected admission once a valid retry token is presented, out=%v", out2)
	}
	if _, found := ep.Get(h2); !found {
		t.Fatalf("expected connection retrievable after retry round trip")
	}
}

func TestHandleDatagramEmitsVersionNegotiationForUnknownVersion(t *testing.T) {
	now := time.Now()
	ep := newTestEndpoint(t, true, false, 0)

	destCID, _ := wire.NewConnectionID([]byte{5, 5, 5, 5, 5, 5, 5, 5})
	srcCID, _ := wire.NewConnectionID([]byte{6, 6, 6, 6, 6, 6, 6, 6})
	datagram, err := packet.BuildLongHeaderPacket(packet.LongHeader{
		Type:    packet.LongTypeInitial,
		Version: 0xdeadbeef,
		DestCID: destCID,
		SrcCID:  srcCID,
	}, 0, -1, []byte("unknown-version-probe"), clientInitialKeys(destCID))
	if err != nil {
		t.Fatalf("BuildLongHeaderPacket: %v", err)
	}

	_, ok, out := ep.HandleDatagram("client:9", datagram, now)
	if ok {
		t.Fatalf("unknown version must never admit a connection")
	}
	if out == nil || len(out.Data) < 7 {
		t.Fatalf("expected a version negotiation reply, got %v", out)
	}
}
