// Package qcrypto defines the crypto-session interface the connection state
// machine is parametric over (spec.md section 4.2 and 6), plus the
// AEAD/header-protection key schedule the engine itself owns. The engine
// never inspects handshake contents; it only pushes/pulls opaque handshake
// bytes through this interface and installs whatever keys the session
// reports ready.
package qcrypto

// Level identifies one of the three encryption levels a QUIC handshake
// progresses through, plus the steady-state 1-RTT level.
type Level int

const (
	LevelInitial Level = iota
	LevelHandshake
	Level0RTT
	Level1RTT
)

func (l Level) String() string {
	switch l {
	case LevelInitial:
		return "initial"
	case LevelHandshake:
		return "handshake"
	case Level0RTT:
		return "0-rtt"
	case Level1RTT:
		return "1-rtt"
	default:
		return "unknown"
	}
}

// TransportParameters is the subset of peer transport parameters the
// connection state machine applies (spec.md section 4.6). The crypto
// session is responsible for encoding/decoding the TLS extension that
// carries these; the engine only ever sees the decoded struct.
type TransportParameters struct {
	MaxIdleTimeoutMs            uint64
	InitialMaxData               uint64
	InitialMaxStreamDataBidiLocal  uint64
	InitialMaxStreamDataBidiRemote uint64
	InitialMaxStreamDataUni        uint64
	InitialMaxStreamsBidi        uint64
	InitialMaxStreamsUni         uint64
	MaxUDPPayloadSize            uint64
	ActiveConnectionIDLimit      uint64
	StatelessResetToken          *[16]byte
	DisableActiveMigration       bool
	PreferredAddress             []byte // opaque; not exercised by the core
}

// Session is the abstract TLS 1.3 handshake engine the connection drives.
// Any RFC-conformant TLS 1.3 provider can implement it; this package ships
// no TLS 1.3 implementation of its own (spec.md section 6: "out of scope,
// treated as external collaborator"), only DemoSession, a non-TLS stand-in.
type Session interface {
	// WriteHandshake feeds inbound handshake bytes received at level into
	// the session.
	WriteHandshake(level Level, data []byte) error
	// ReadHandshake drains any outbound handshake bytes the session has
	// produced, along with the level they must be sent at. ok is false
	// when there is nothing to send right now.
	ReadHandshake() (level Level, data []byte, ok bool)
	// IsHandshaking reports whether the TLS handshake has not yet
	// completed.
	IsHandshaking() bool
	// NextKeys returns the next encryption level for which new keys became
	// available since the last call, or ok=false if none are pending. The
	// engine installs the returned Keys atomically and discards the prior
	// level's keys per the schedule in spec.md section 4.2.
	NextKeys() (level Level, keys Keys, ok bool)
	// TransportParameters returns the peer's transport parameters, once
	// the session has received and validated them.
	TransportParameters() (TransportParameters, bool)
	// ALPNSelected returns the negotiated application protocol, e.g. "perf".
	ALPNSelected() string
	// EarlyDataAccepted reports whether the peer accepted our 0-RTT data,
	// valid only once the handshake completes.
	EarlyDataAccepted() bool
	// ComputeRetryIntegrityTag computes the 16-byte integrity tag appended
	// to a Retry packet per RFC 9001 section 5.8.
	ComputeRetryIntegrityTag(pseudoPacket []byte) [16]byte
}

// Keys bundles the read and write AEAD/header-protection material for one
// encryption level.
type Keys struct {
	Read  DirectionalKeys
	Write DirectionalKeys
}

// DirectionalKeys holds one direction's AEAD key, IV, and header-protection
// key, as exported by the crypto provider (spec.md section 6:
// "export_keys(level) -> (read_key, write_key, header_protection_key,
// iv)").
type DirectionalKeys struct {
	AEAD   AEAD
	IV     []byte
	HPKey  []byte
	Suite  Suite
}

// Suite names the negotiated AEAD/header-protection cipher suite, used to
// select the header-protection mask algorithm (AES-based suites use
// AES-ECB; ChaCha20-based suites use the ChaCha20 block function).
type Suite int

const (
	SuiteAES128GCM Suite = iota
	SuiteAES256GCM
	SuiteChaCha20Poly1305
)
