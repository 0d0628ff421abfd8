package wire

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
)

// MaxCIDLen is the largest connection ID the wire format allows (RFC 9000
// section 17.2: the length field is one byte).
const MaxCIDLen = 20

// DefaultCIDLen is the length used by the default generator. 8 bytes keeps
// the common case (one Initial exchange, no preferred_address) cheap while
// giving a server-side load balancer enough entropy to embed routing hints
// if it replaces the default generator.
const DefaultCIDLen = 8

// ErrCIDTooLong is returned when a connection ID longer than MaxCIDLen is
// constructed or parsed.
var ErrCIDTooLong = errors.New("wire: connection id exceeds 20 bytes")

// ConnectionID is an opaque, comparable QUIC connection identifier, 0-20
// bytes long. It is comparable (==) because Go arrays are, which lets it key
// a map without a second hash step; most CIDs in practice are the default 8
// bytes, well under the 20-byte cap.
type ConnectionID struct {
	len  uint8
	data [MaxCIDLen]byte
}

// NewConnectionID copies b into a ConnectionID. It returns ErrCIDTooLong if
// b is longer than MaxCIDLen.
func NewConnectionID(b []byte) (ConnectionID, error) {
	var id ConnectionID
	if len(b) > MaxCIDLen {
		return id, ErrCIDTooLong
	}
	id.len = uint8(len(b))
	copy(id.data[:], b)
	return id, nil
}

// Bytes returns the connection ID's contents. The returned slice aliases
// internal storage and must not be mutated by the caller.
func (c ConnectionID) Bytes() []byte {
	return c.data[:c.len]
}

// Len returns the number of bytes in the connection ID.
func (c ConnectionID) Len() int {
	return int(c.len)
}

// String renders the connection ID as lowercase hex, the conventional form
// for logs and qlog traces.
func (c ConnectionID) String() string {
	return hex.EncodeToString(c.Bytes())
}

// Generator mints local connection IDs. Implementations must return IDs that
// are unpredictable to an off-path observer, since a guessable CID enables
// off-path injection attacks (RFC 9000 section 9.5). A connection holds one
// Generator instance for its lifetime.
type Generator interface {
	// GenerateConnectionID returns a new, non-retired local connection ID.
	GenerateConnectionID() (ConnectionID, error)
	// ConnectionIDLen reports the length this generator produces, used by
	// short-header parsing which cannot otherwise infer CID length.
	ConnectionIDLen() int
}

// RandomGenerator is the default Generator: fixed-length, cryptographically
// random connection IDs. It deliberately does not use github.com/rs/xid or
// any other sortable/timestamp-embedding ID scheme — those leak creation
// order and host identity into an on-the-wire value that RFC 9000 requires
// to look uniformly random to third parties, so crypto/rand is the correct
// (and only standard-library) primitive here despite the rest of the
// codebase preferring ecosystem libraries.
type RandomGenerator struct {
	Len int
}

// NewRandomGenerator returns a RandomGenerator producing DefaultCIDLen-byte
// IDs.
func NewRandomGenerator() *RandomGenerator {
	return &RandomGenerator{Len: DefaultCIDLen}
}

// GenerateConnectionID implements Generator.
func (g *RandomGenerator) GenerateConnectionID() (ConnectionID, error) {
	n := g.Len
	if n <= 0 {
		n = DefaultCIDLen
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return ConnectionID{}, err
	}
	return NewConnectionID(b)
}

// ConnectionIDLen implements Generator.
func (g *RandomGenerator) ConnectionIDLen() int {
	if g.Len <= 0 {
		return DefaultCIDLen
	}
	return g.Len
}

// NewStatelessResetToken mints a 16-byte token to accompany a locally issued
// connection ID (RFC 9000 section 10.3). Like the connection ID itself, it
// must be unpredictable, so it shares RandomGenerator's crypto/rand choice
// rather than a sortable ID scheme.
func NewStatelessResetToken() ([16]byte, error) {
	var tok [16]byte
	_, err := rand.Read(tok[:])
	return tok, err
}
