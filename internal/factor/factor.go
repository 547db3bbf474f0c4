package factor

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"

	"github.com/google/uuid"
	"golang.org/x/crypto/pbkdf2"

	"kdbx-ng/internal/crypto"
	"kdbx-ng/internal/encoding"
	"kdbx-ng/internal/errors"
	"kdbx-ng/internal/keyfile"
)

// Factor type identifiers.
var (
	TypePassword = uuid.MustParse("c127a67f-be51-4bba-b6bf-e69e64e6c2ec")
	TypeKeyFile  = uuid.MustParse("6b9746d4-9fe2-4e38-a0d1-4c5d4c3a3b80")
	TypeNull     = uuid.MustParse("618636bf-e202-4e0b-bb7c-e2514be00f5a")
	TypeHardware = uuid.MustParse("0e6803a0-915e-4ebf-95ee-f9ddd8c97eea")
)

// Algorithm names stored in the factor info.
const (
	WrappingAES256CBC    = "AES-256-CBC"
	ValidationHMACSHA512 = "HMAC-SHA512"
)

const (
	// SaltSize is the length of a factor key salt.
	SaltSize = 32

	// PasswordIterations is the PBKDF2-HMAC-SHA256 cost of password factors.
	PasswordIterations = 100000
)

// Factor is one credential source able to unwrap its group's key part.
type Factor struct {
	Name         string
	Type         uuid.UUID
	KeySalt      []byte
	WrappingType string
	WrappedKey   []byte
	CredentialID []byte // hardware factors only

	group *Group
}

// Group returns the group holding f.
func (f *Factor) Group() *Group { return f.group }

// IsHardware reports whether f needs a hardware authenticator.
func (f *Factor) IsHardware() bool { return f.Type == TypeHardware }

// TypeName returns a human-readable factor type.
func (f *Factor) TypeName() string {
	switch f.Type {
	case TypePassword:
		return "password"
	case TypeKeyFile:
		return "key file"
	case TypeNull:
		return "null"
	case TypeHardware:
		return "hardware"
	default:
		return f.Type.String()
	}
}

// PasswordKey derives a password factor wrapping key.
func PasswordKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, PasswordIterations, 32, sha256.New)
}

// KeyFileKey derives a key file factor wrapping key from raw key file content.
func KeyFileKey(data, salt []byte) ([]byte, error) {
	c, err := keyfile.Contribution(data)
	if err != nil {
		return nil, err
	}
	defer crypto.SecureZero(c)
	return saltedHash(salt, c), nil
}

// NullKey derives the wrapping key of a null factor.
func NullKey(salt []byte) []byte {
	return saltedHash(salt, nil)
}

// HardwareKey derives a hardware factor wrapping key from a device secret.
func HardwareKey(secret, salt []byte) []byte {
	return saltedHash(salt, secret)
}

func saltedHash(salt, data []byte) []byte {
	h := sha256.New()
	h.Write(salt)
	h.Write(data)
	return h.Sum(nil)
}

// validationTag computes HMAC-SHA512(part, in).
func validationTag(part, in []byte) []byte {
	m := hmac.New(sha512.New, part)
	m.Write(in)
	return m.Sum(nil)
}

// wrappingKey derives the wrapping key of a non-hardware factor from user.
// ok is false when user lacks the input the factor needs.
func (f *Factor) wrappingKey(user UserInfo) (key []byte, ok bool, err error) {
	switch f.Type {
	case TypePassword:
		if user.Password == nil {
			return nil, false, nil
		}
		return PasswordKey(*user.Password, f.KeySalt), true, nil
	case TypeKeyFile:
		if user.KeyFile == nil {
			return nil, false, nil
		}
		key, err := KeyFileKey(user.KeyFile, f.KeySalt)
		return key, err == nil, err
	case TypeNull:
		return NullKey(f.KeySalt), true, nil
	default:
		return nil, false, nil
	}
}

func (f *Factor) newCipher(wrapKey []byte) (cipher.Block, []byte, error) {
	if f.WrappingType != WrappingAES256CBC {
		return nil, nil, errors.NewUnsupportedError("wrapping type", f.WrappingType)
	}
	if len(f.KeySalt) < aes.BlockSize {
		return nil, nil, errors.Formatf("KeySalt", "must be at least %d bytes", aes.BlockSize)
	}
	block, err := aes.NewCipher(wrapKey)
	if err != nil {
		return nil, nil, errors.NewCryptoError("aes", err)
	}
	return block, f.KeySalt[:aes.BlockSize], nil
}

// WrapKeyPart encrypts part under wrapKey and stores it in the factor. The
// group validation is set from part if the group has none yet.
func (f *Factor) WrapKeyPart(part, wrapKey []byte) error {
	block, iv, err := f.newCipher(wrapKey)
	if err != nil {
		return err
	}
	padded := encoding.Pad(part)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(padded, padded)
	f.WrappedKey = padded

	if f.group != nil && !f.group.HasValidation() {
		return f.group.setValidation(part)
	}
	return nil
}

// UnwrapKeyPart decrypts the wrapped key part and checks it against the
// group validation. A wrong key is a credentials error.
func (f *Factor) UnwrapKeyPart(wrapKey []byte) ([]byte, error) {
	block, iv, err := f.newCipher(wrapKey)
	if err != nil {
		return nil, err
	}
	if len(f.WrappedKey) == 0 || len(f.WrappedKey)%aes.BlockSize != 0 {
		return nil, errors.Formatf("WrappedKey", "length %d is not a block multiple", len(f.WrappedKey))
	}
	out := make([]byte, len(f.WrappedKey))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, f.WrappedKey)

	part, err := encoding.Unpad(out)
	if err != nil {
		return nil, errors.NewCredentialsError(f.TypeName()+" factor", err)
	}
	if g := f.group; g != nil && g.HasValidation() {
		if subtle.ConstantTimeCompare(validationTag(part, g.ValidationIn), g.ValidationOut) != 1 {
			crypto.SecureZero(out)
			return nil, errors.NewCredentialsError(f.TypeName()+" factor", nil)
		}
	}
	return part, nil
}
