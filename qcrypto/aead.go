package qcrypto

import (
	"crypto/aes"
	"crypto/cipher"
)

// AEAD seals and opens QUIC packet payloads. The nonce construction
// (packet number XOR IV) lives in the packet package, which owns the
// per-packet-number-space sequence counter; AEAD itself is a thin wrapper
// around a cipher.AEAD instance bound to one key.
type AEAD interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	Overhead() int
}

// NewAESGCM wraps an AES-GCM cipher.AEAD (stdlib crypto/aes + crypto/cipher)
// keyed by key (16 or 32 bytes, selecting AES-128 or AES-256). AES-GCM is
// built entirely from the standard library; no third-party AEAD
// implementation in the example pack offers anything beyond what
// crypto/cipher already provides for this suite, so stdlib is used directly
// here rather than reaching for an ecosystem package.
func NewAESGCM(key []byte) (AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return stdAEAD{aead}, nil
}

// NewChaCha20Poly1305 wraps golang.org/x/crypto/chacha20poly1305, the
// alternative cipher suite TLS 1.3 allows and the one both k6 and
// distribution pull in transitively via golang.org/x/crypto.
func NewChaCha20Poly1305(key []byte) (AEAD, error) {
	aead, err := newChaCha20Poly1305(key)
	if err != nil {
		return nil, err
	}
	return stdAEAD{aead}, nil
}

type stdAEAD struct {
	aead cipher.AEAD
}

func (s stdAEAD) Seal(dst, nonce, plaintext, ad []byte) []byte {
	return s.aead.Seal(dst, nonce, plaintext, ad)
}

func (s stdAEAD) Open(dst, nonce, ciphertext, ad []byte) ([]byte, error) {
	return s.aead.Open(dst, nonce, ciphertext, ad)
}

func (s stdAEAD) Overhead() int {
	return s.aead.Overhead()
}
