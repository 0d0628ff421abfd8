package qcrypto

import "sync"

// DemoSession is a minimal Session stand-in for the cmd/perfserver and
// cmd/perfclient binaries, mirroring the self-signed-certificate fallback
// original_source/perf/src/bin/perf_server.rs takes when no --key/--cert
// is supplied: something runnable out of the box, not a security boundary.
// The engine's crypto provider contract (spec.md section 6) is explicitly
// out of scope for this module; no RFC-conformant TLS 1.3 implementation
// ships here. DemoSession completes a one-round-trip "handshake" (a fixed
// PSK, no certificate, no forward secrecy) purely so the perf binaries
// have something to drive end to end; production use requires swapping in
// a real TLS 1.3 provider behind the same Session interface.
type DemoSession struct {
	mu          sync.Mutex
	initiator   bool
	alpn        string
	handshaking bool
	sentHello   bool
	gotHello    bool
	keysPending bool
	psk         []byte
}

// NewDemoSession returns a DemoSession keyed by psk (any shared secret;
// tests and the perf binaries use a fixed constant since there is no real
// certificate exchange here).
func NewDemoSession(isInitiator bool, alpn string, psk []byte) *DemoSession {
	return &DemoSession{initiator: isInitiator, alpn: alpn, handshaking: true, keysPending: true, psk: psk}
}

func (d *DemoSession) WriteHandshake(level Level, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gotHello = true
	return nil
}

func (d *DemoSession) ReadHandshake() (Level, []byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.initiator && !d.sentHello {
		d.sentHello = true
		return LevelInitial, []byte("demo-client-hello"), true
	}
	if !d.initiator && d.gotHello && !d.sentHello {
		d.sentHello = true
		return LevelHandshake, []byte("demo-server-hello"), true
	}
	return 0, nil, false
}

func (d *DemoSession) IsHandshaking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handshaking
}

func (d *DemoSession) NextKeys() (Level, Keys, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.keysPending || !d.gotHello {
		return 0, Keys{}, false
	}
	d.keysPending = false
	d.handshaking = false
	keys := DirectionalKeysFromSecret(expandPSK(d.psk))
	return Level1RTT, Keys{Read: keys, Write: keys}, true
}

func (d *DemoSession) TransportParameters() (TransportParameters, bool) {
	return TransportParameters{
		MaxIdleTimeoutMs:        30000,
		InitialMaxData:          1 << 20,
		InitialMaxStreamsBidi:   100,
		InitialMaxStreamsUni:    100,
		MaxUDPPayloadSize:       1452,
		ActiveConnectionIDLimit: 2,
	}, true
}

func (d *DemoSession) ALPNSelected() string    { return d.alpn }
func (d *DemoSession) EarlyDataAccepted() bool { return false }

func (d *DemoSession) ComputeRetryIntegrityTag(pseudoPacket []byte) [16]byte {
	return [16]byte{}
}

// expandPSK stretches an arbitrary-length shared secret to the 32 bytes
// DirectionalKeysFromSecret expects, reusing the same HKDF-Expand-Label
// machinery InitialSecrets uses rather than a second ad hoc KDF.
func expandPSK(psk []byte) []byte {
	return hkdfExpandLabel(psk, "demo psk", nil, 32)
}
