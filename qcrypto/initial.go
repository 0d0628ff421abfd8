package qcrypto

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// initialSalt is the version-specific salt RFC 9001 section 5.2 defines for
// deriving Initial secrets from the client's chosen destination connection
// ID. This is the QUIC v1 salt.
var initialSalt = []byte{
	0x38, 0x76, 0x2c, 0xf7, 0xf5, 0x59, 0x34, 0xb3,
	0x4d, 0x17, 0x9a, 0xe6, 0xa4, 0xc8, 0x0c, 0xad,
	0xcc, 0xbb, 0x7f, 0x0a,
}

// InitialSecrets derives the client and server Initial secrets from the
// client's Destination Connection ID, per RFC 9001 section 5.2. The engine
// calls this itself (Initial packet protection is not provided by the
// crypto session, since the client DCID is not yet known to the TLS layer
// at connection creation).
func InitialSecrets(destConnID []byte) (clientSecret, serverSecret []byte) {
	initialSecret := hkdfExtract(initialSalt, destConnID)
	clientSecret = hkdfExpandLabel(initialSecret, "client in", nil, sha256.Size)
	serverSecret = hkdfExpandLabel(initialSecret, "server in", nil, sha256.Size)
	return clientSecret, serverSecret
}

// DirectionalKeysFromSecret derives the AEAD key, IV, and header-protection
// key from a traffic secret per RFC 9001 section 5.1, for the AES-128-GCM /
// AES-based-header-protection suite used in the Initial and (by default)
// Handshake/1-RTT levels.
func DirectionalKeysFromSecret(secret []byte) DirectionalKeys {
	key := hkdfExpandLabel(secret, "quic key", nil, 16)
	iv := hkdfExpandLabel(secret, "quic iv", nil, 12)
	hp := hkdfExpandLabel(secret, "quic hp", nil, 16)
	return DirectionalKeys{IV: iv, HPKey: hp, Suite: SuiteAES128GCM, AEAD: mustAESGCM(key)}
}

// UpdateSecret derives the next generation's traffic secret from the
// current one, per RFC 9001 section 6 ("ku" label) — the mechanism behind
// 1-RTT key update (spec.md section 4.6).
func UpdateSecret(secret []byte) []byte {
	return hkdfExpandLabel(secret, "quic ku", nil, len(secret))
}

func mustAESGCM(key []byte) AEAD {
	a, err := NewAESGCM(key)
	if err != nil {
		// key is always exactly 16 bytes here (from hkdfExpandLabel with a
		// fixed length argument), so aes.NewCipher cannot fail.
		panic(err)
	}
	return a
}

func hkdfExtract(salt, ikm []byte) []byte {
	h := hkdf.Extract(sha256.New, ikm, salt)
	return h
}

// hkdfExpandLabel implements TLS 1.3's HKDF-Expand-Label (RFC 8446 section
// 7.1) as QUIC uses it: no context beyond the label, using the "tls13 "
// prefix.
func hkdfExpandLabel(secret []byte, label string, context []byte, length int) []byte {
	full := "tls13 " + label
	info := make([]byte, 0, 2+1+len(full)+1+len(context))
	info = append(info, byte(length>>8), byte(length))
	info = append(info, byte(len(full)))
	info = append(info, full...)
	info = append(info, byte(len(context)))
	info = append(info, context...)

	r := hkdf.Expand(sha256.New, secret, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		panic(err) // hkdf.Expand only fails if length exceeds 255*hashLen
	}
	return out
}
