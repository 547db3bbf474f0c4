package header

import (
	"crypto/sha256"
	"crypto/subtle"

	"kdbx-ng/internal/crypto"
	"kdbx-ng/internal/errors"
)

// Format 4 authenticates the outer header twice, directly after it:
//
//	SHA-256(raw)                     32 bytes, detects corruption
//	HMAC-SHA256(BlockKey(2^64-1), raw) 32 bytes, binds the header to the key
//
// A wrong key and a tampered header produce the same HMAC mismatch, so the
// HMAC failure is reported as a credentials error once the hash has passed.

// HashSize is the size of each header authentication value.
const HashSize = sha256.Size

// HeaderHash returns SHA-256 of the raw header bytes.
func HeaderHash(raw []byte) []byte {
	sum := sha256.Sum256(raw)
	return sum[:]
}

// HeaderHMAC returns the header HMAC for the given HMAC base key.
func HeaderHMAC(raw, hmacBase []byte) []byte {
	return crypto.HeaderMAC(hmacBase, raw)
}

// VerifyHash checks the stored header hash.
func VerifyHash(raw, stored []byte) error {
	if subtle.ConstantTimeCompare(HeaderHash(raw), stored) != 1 {
		return errors.NewHeaderIntegrityError()
	}
	return nil
}

// VerifyHMAC checks the stored header HMAC.
func VerifyHMAC(raw, hmacBase, stored []byte) error {
	if subtle.ConstantTimeCompare(HeaderHMAC(raw, hmacBase), stored) != 1 {
		return errors.NewCredentialsError("header hmac", nil)
	}
	return nil
}

// VerifyStreamStart checks the format 3 stream start bytes against the first
// bytes of the decrypted payload.
func VerifyStreamStart(expected, decrypted []byte) error {
	if len(expected) == 0 || len(decrypted) < len(expected) ||
		subtle.ConstantTimeCompare(expected, decrypted[:len(expected)]) != 1 {
		return errors.NewCredentialsError("stream start bytes", nil)
	}
	return nil
}
