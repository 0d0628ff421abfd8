package endpoint

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"time"

	"github.com/quicproto/qtransport/wire"
)

// ErrRetryTokenInvalid is returned by ValidateRetryToken for a token that
// fails HMAC verification, doesn't match the presenting address, or has
// expired.
var ErrRetryTokenInvalid = errors.New("endpoint: retry token invalid or expired")

// retryTokenLifetime bounds how long a minted Retry token remains
// acceptable (spec.md section 4.8's retry_token_lifetime default).
const retryTokenLifetime = 15 * time.Second

// MintRetryToken builds an opaque, integrity-protected token binding the
// client's address and the original destination connection ID it presented,
// per spec.md section 4.7. The client must re-present this token verbatim
// on its next Initial.
//
// Wire layout: 8-byte big-endian unix-nano timestamp, the original DCID
// (length-prefixed), then a 32-byte HMAC-SHA256 tag over everything before
// it plus clientAddr.
func MintRetryToken(key [32]byte, clientAddr string, origDCID wire.ConnectionID, now time.Time) []byte {
	body := make([]byte, 0, 8+1+wire.MaxCIDLen)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(now.UnixNano()))
	body = append(body, ts[:]...)
	body = append(body, byte(origDCID.Len()))
	body = append(body, origDCID.Bytes()...)

	mac := hmac.New(sha256.New, key[:])
	mac.Write(body)
	mac.Write([]byte(clientAddr))
	tag := mac.Sum(nil)

	return append(body, tag...)
}

// ValidateRetryToken verifies a token presented on a client's post-Retry
// Initial against the address it arrived from, returning the original
// destination connection ID the server must use to derive Initial keys and
// validate the retry integrity tag.
func ValidateRetryToken(key [32]byte, clientAddr string, token []byte, now time.Time) (wire.ConnectionID, error) {
	if len(token) < 8+1+32 {
		return wire.ConnectionID{}, ErrRetryTokenInvalid
	}
	ts := binary.BigEndian.Uint64(token[:8])
	cidLen := int(token[8])
	if cidLen > wire.MaxCIDLen || len(token) < 9+cidLen+32 {
		return wire.ConnectionID{}, ErrRetryTokenInvalid
	}
	cidBytes := token[9 : 9+cidLen]
	body := token[:9+cidLen]
	tag := token[9+cidLen : 9+cidLen+32]

	mac := hmac.New(sha256.New, key[:])
	mac.Write(body)
	mac.Write([]byte(clientAddr))
	want := mac.Sum(nil)
	if !hmac.Equal(tag, want) {
		return wire.ConnectionID{}, ErrRetryTokenInvalid
	}

	mintedAt := time.Unix(0, int64(ts))
	if now.Sub(mintedAt) > retryTokenLifetime || now.Before(mintedAt) {
		return wire.ConnectionID{}, ErrRetryTokenInvalid
	}

	return wire.NewConnectionID(cidBytes)
}
