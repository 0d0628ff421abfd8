package qcrypto

import (
	"crypto/aes"

	"golang.org/x/crypto/chacha20"
)

// HeaderProtectionMask computes the 5-byte mask RFC 9001 section 5.4 applies
// to a packet's first byte and packet-number field, given the
// header-protection key and a sample of ciphertext taken 4 bytes after the
// start of the packet number field.
func HeaderProtectionMask(suite Suite, hpKey, sample []byte) ([5]byte, error) {
	var mask [5]byte
	switch suite {
	case SuiteChaCha20Poly1305:
		// RFC 9001 5.4.4: the mask is the ChaCha20 block function's first 5
		// bytes, keyed by hpKey, with the counter and nonce taken from the
		// sample.
		counter := uint32(sample[0]) | uint32(sample[1])<<8 | uint32(sample[2])<<16 | uint32(sample[3])<<24
		nonce := sample[4:16]
		c, err := chacha20.NewUnauthenticatedCipher(hpKey, nonce)
		if err != nil {
			return mask, err
		}
		c.SetCounter(counter)
		var zero [5]byte
		c.XORKeyStream(mask[:], zero[:])
		return mask, nil
	default:
		// AES-128-GCM and AES-256-GCM both use ECB-mode AES over the
		// sample as their header-protection mask (RFC 9001 5.4.3).
		block, err := aes.NewCipher(hpKey)
		if err != nil {
			return mask, err
		}
		var buf [16]byte
		block.Encrypt(buf[:], sample)
		copy(mask[:], buf[:5])
		return mask, nil
	}
}

// ApplyHeaderProtection XORs mask into pnBytes (the first byte, masked with
// either 0x0f for long headers or 0x1f for short headers, then the
// pnLen-byte packet number field) in place.
func ApplyHeaderProtection(firstByte *byte, pnBytes []byte, mask [5]byte, longHeader bool) {
	if longHeader {
		*firstByte ^= mask[0] & 0x0f
	} else {
		*firstByte ^= mask[0] & 0x1f
	}
	for i := range pnBytes {
		pnBytes[i] ^= mask[i+1]
	}
}
