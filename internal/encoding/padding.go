// Package encoding holds the byte-level framing helpers shared by the block ciphers.
package encoding

import (
	"bytes"
	"crypto/subtle"
	"errors"
)

// BlockSize is the block size of the 128-bit CBC ciphers (AES-256, Twofish).
const BlockSize = 16

// ErrBadPadding is returned by Unpad for any malformed trailer.
var ErrBadPadding = errors.New("invalid PKCS#7 padding")

// Pad applies PKCS#7 padding so the result fills whole BlockSize blocks.
//
// N bytes of value N are appended, where N is the number of bytes needed to
// reach the next block boundary. If data is already a multiple of BlockSize,
// a full block of padding (16 bytes of 0x10) is added.
//
// Example: 20-byte data → 32 bytes (12 bytes of value 0x0C appended)
func Pad(data []byte) []byte {
	padLen := BlockSize - len(data)%BlockSize
	out := make([]byte, len(data), len(data)+padLen)
	copy(out, data)
	return append(out, bytes.Repeat([]byte{byte(padLen)}, padLen)...)
}

// Unpad removes PKCS#7 padding.
//
// Unlike a lenient trim, every pad byte is checked: data that is empty, not a
// multiple of BlockSize, or whose trailer is not N copies of N yields
// ErrBadPadding. With CBC this is the usual symptom of a wrong key.
func Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%BlockSize != 0 {
		return nil, ErrBadPadding
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > BlockSize {
		return nil, ErrBadPadding
	}
	want := bytes.Repeat([]byte{byte(padLen)}, padLen)
	if subtle.ConstantTimeCompare(data[len(data)-padLen:], want) != 1 {
		return nil, ErrBadPadding
	}
	return data[:len(data)-padLen], nil
}
