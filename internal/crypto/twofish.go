package crypto

import (
	"crypto/cipher"
	"fmt"

	"golang.org/x/crypto/twofish"
)

// TwofishKeySize is the only key size the container uses for Twofish.
const TwofishKeySize = 32

// NewTwofish returns the 128-bit Twofish block cipher keyed with a 256-bit key.
// The result encrypts or decrypts exactly one 16-byte block per call and is
// meant to be driven by cipher.NewCBCEncrypter / NewCBCDecrypter.
func NewTwofish(key []byte) (cipher.Block, error) {
	if len(key) != TwofishKeySize {
		return nil, fmt.Errorf("twofish: invalid key size %d", len(key))
	}
	return twofish.NewCipher(key)
}
