package crypto

import (
	"crypto/aes"
	"crypto/cipher"

	"github.com/google/uuid"
	"golang.org/x/crypto/chacha20"

	"kdbx-ng/internal/encoding"
	"kdbx-ng/internal/errors"
)

// Payload cipher identifiers, stored in the CipherID header item.
var (
	CipherAES256   = uuid.MustParse("31c1f2e6-bf71-4350-be58-05216afc5aff")
	CipherTwofish  = uuid.MustParse("ad68f29f-576f-4bb9-a36a-d47af965346c")
	CipherChaCha20 = uuid.MustParse("d6038a2b-8b6f-4cb5-a524-339a31dbb59a")
)

// CipherName returns a human-readable name for a cipher identifier.
func CipherName(id uuid.UUID) string {
	switch id {
	case CipherAES256:
		return "AES-256"
	case CipherTwofish:
		return "Twofish"
	case CipherChaCha20:
		return "ChaCha20"
	default:
		return id.String()
	}
}

// IVSize returns the EncryptionIV length expected by the cipher.
func IVSize(id uuid.UUID) (int, error) {
	switch id {
	case CipherAES256, CipherTwofish:
		return 16, nil
	case CipherChaCha20:
		return chacha20.NonceSize, nil
	default:
		return 0, errors.NewUnsupportedError("cipher", id.String())
	}
}

func newBlock(id uuid.UUID, key []byte) (cipher.Block, error) {
	switch id {
	case CipherAES256:
		return aes.NewCipher(key)
	case CipherTwofish:
		return NewTwofish(key)
	default:
		return nil, errors.NewUnsupportedError("cipher", id.String())
	}
}

// Encrypt encrypts a complete payload.
//
// CBC ciphers pad with PKCS#7; ChaCha20 is a plain stream XOR.
func Encrypt(id uuid.UUID, key, iv, plaintext []byte) ([]byte, error) {
	if err := checkIV(id, iv); err != nil {
		return nil, err
	}
	if id == CipherChaCha20 {
		return chachaXOR(key, iv, plaintext)
	}

	block, err := newBlock(id, key)
	if err != nil {
		return nil, err
	}
	padded := encoding.Pad(plaintext)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(padded, padded)
	return padded, nil
}

// Decrypt decrypts a complete payload.
//
// A CBC length that is not a block multiple or a malformed padding trailer is
// reported as a credentials error: with a wrong key the last block decrypts
// to noise.
func Decrypt(id uuid.UUID, key, iv, ciphertext []byte) ([]byte, error) {
	if err := checkIV(id, iv); err != nil {
		return nil, err
	}
	if id == CipherChaCha20 {
		return chachaXOR(key, iv, ciphertext)
	}

	block, err := newBlock(id, key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) == 0 || len(ciphertext)%block.BlockSize() != 0 {
		return nil, errors.NewCredentialsError("payload", encoding.ErrBadPadding)
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)

	plain, err := encoding.Unpad(out)
	if err != nil {
		return nil, errors.NewCredentialsError("payload", err)
	}
	return plain, nil
}

func checkIV(id uuid.UUID, iv []byte) error {
	n, err := IVSize(id)
	if err != nil {
		return err
	}
	if len(iv) != n {
		return errors.Formatf("encryption iv", "%s needs %d bytes, have %d", CipherName(id), n, len(iv))
	}
	return nil
}

func chachaXOR(key, nonce, src []byte) ([]byte, error) {
	c, err := chacha20.NewUnauthenticatedCipher(key, nonce)
	if err != nil {
		return nil, errors.NewCryptoError("chacha20", err)
	}
	out := make([]byte, len(src))
	c.XORKeyStream(out, src)
	return out, nil
}
