// Package crypto provides the cryptographic primitives of the KDBX container:
// key transformation, key schedule, bulk ciphers and protected-value streams.
// This is AUDIT-CRITICAL code - changes here directly affect encryption/decryption.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
	targon2 "github.com/tobischo/argon2"
	"golang.org/x/crypto/argon2"

	"kdbx-ng/internal/errors"
	"kdbx-ng/internal/log"
	"kdbx-ng/internal/vardict"
)

// RandomBytes generates n cryptographically secure random bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, errors.NewCryptoError("rand", fmt.Errorf("%w: %v", errors.ErrRandFailure, err))
	}

	// Sanity check: bytes should not be all zeros
	if n >= 16 && bytes.Equal(b, make([]byte, n)) {
		return nil, errors.NewCryptoError("rand", errors.ErrRandFailure)
	}

	return b, nil
}

// KDF identifiers, stored under ParamUUID.
var (
	KdfAES      = uuid.MustParse("c9d9f39a-628a-4460-bf74-0d08c18a4fea")
	KdfArgon2d  = uuid.MustParse("ef636ddf-8c29-444b-91f7-a9a403e30a0c")
	KdfArgon2id = uuid.MustParse("9e298b19-56db-4773-b23d-fc3ec6f0a1e6")
)

// KDF parameter keys.
const (
	ParamUUID        = "$UUID"
	ParamSalt        = "S" // AES seed or Argon2 salt
	ParamRounds      = "R" // AES rounds
	ParamIterations  = "I"
	ParamMemory      = "M" // bytes
	ParamParallelism = "P"
	ParamVersion     = "V"
	ParamSecretKey   = "K"
	ParamAssocData   = "A"
)

// KDF defaults for new databases.
const (
	DefaultAESRounds         = 60000
	DefaultArgon2Iterations  = 2
	DefaultArgon2Memory      = 64 << 20 // 64 MiB
	DefaultArgon2Parallelism = 2

	Argon2Version = 0x13
	SaltSize      = 32
	TransformSize = 32
)

// KDFName returns a human-readable name for a KDF identifier.
func KDFName(id uuid.UUID) string {
	switch id {
	case KdfAES:
		return "AES-KDF"
	case KdfArgon2d:
		return "Argon2d"
	case KdfArgon2id:
		return "Argon2id"
	default:
		return id.String()
	}
}

// AESKDFParams builds an AES-KDF parameter dictionary.
func AESKDFParams(seed []byte, rounds uint64) *vardict.Dictionary {
	d := vardict.New()
	d.SetBytes(ParamUUID, KdfAES[:])
	d.SetUInt64(ParamRounds, rounds)
	d.SetBytes(ParamSalt, seed)
	return d
}

// Argon2Params builds an Argon2 parameter dictionary. memory is in bytes.
func Argon2Params(variant uuid.UUID, salt []byte, iterations, memory uint64, parallelism uint32) *vardict.Dictionary {
	d := vardict.New()
	d.SetBytes(ParamUUID, variant[:])
	d.SetBytes(ParamSalt, salt)
	d.SetUInt32(ParamParallelism, parallelism)
	d.SetUInt64(ParamMemory, memory)
	d.SetUInt64(ParamIterations, iterations)
	d.SetUInt32(ParamVersion, Argon2Version)
	return d
}

// NewAESKDF returns AES-KDF parameters with a fresh seed.
func NewAESKDF(rounds uint64) (*vardict.Dictionary, error) {
	seed, err := RandomBytes(SaltSize)
	if err != nil {
		return nil, err
	}
	return AESKDFParams(seed, rounds), nil
}

// NewArgon2 returns Argon2 parameters of the given variant with a fresh salt.
func NewArgon2(variant uuid.UUID, iterations, memory uint64, parallelism uint32) (*vardict.Dictionary, error) {
	if variant != KdfArgon2d && variant != KdfArgon2id {
		return nil, errors.NewUnsupportedError("kdf", variant.String())
	}
	salt, err := RandomBytes(SaltSize)
	if err != nil {
		return nil, err
	}
	return Argon2Params(variant, salt, iterations, memory, parallelism), nil
}

// KDFID returns the identifier stored in params.
func KDFID(params *vardict.Dictionary) (uuid.UUID, error) {
	if params == nil {
		return uuid.Nil, errors.Formatf("kdf parameters", "missing")
	}
	raw, ok := params.Bytes(ParamUUID)
	if !ok {
		return uuid.Nil, errors.Formatf("kdf parameters", "missing %s", ParamUUID)
	}
	id, err := uuid.FromBytes(raw)
	if err != nil {
		return uuid.Nil, errors.NewFormatError("kdf parameters", err)
	}
	return id, nil
}

// Reseed returns a copy of params with a fresh salt of the same length.
func Reseed(params *vardict.Dictionary) (*vardict.Dictionary, error) {
	out := params.Clone()
	n := SaltSize
	if old, ok := params.Bytes(ParamSalt); ok && len(old) > 0 {
		n = len(old)
	}
	salt, err := RandomBytes(n)
	if err != nil {
		return nil, err
	}
	out.SetBytes(ParamSalt, salt)
	return out, nil
}

// DeriveTransformedKey runs the KDF described by params over the composite key.
//
// CRITICAL: The output feeds MasterKey and HMACBase; any change here makes
// every existing database undecryptable.
func DeriveTransformedKey(params *vardict.Dictionary, composite []byte) ([]byte, error) {
	id, err := KDFID(params)
	if err != nil {
		return nil, err
	}
	log.Debug("deriving transformed key", log.String("kdf", KDFName(id)))

	var key []byte
	switch id {
	case KdfAES:
		key, err = aesKDF(params, composite)
	case KdfArgon2d, KdfArgon2id:
		key, err = argon2KDF(id, params, composite)
	default:
		return nil, errors.NewUnsupportedError("kdf", id.String())
	}
	if err != nil {
		return nil, err
	}

	// Sanity check: key should not be all zeros
	if bytes.Equal(key, make([]byte, TransformSize)) {
		return nil, errors.NewCryptoError(KDFName(id), fmt.Errorf("produced zero key"))
	}
	return key, nil
}

func aesKDF(params *vardict.Dictionary, composite []byte) ([]byte, error) {
	seed, ok := params.Bytes(ParamSalt)
	if !ok || len(seed) != 32 {
		return nil, errors.Formatf("aes-kdf", "seed must be 32 bytes")
	}
	rounds, ok := params.UInt64(ParamRounds)
	if !ok {
		return nil, errors.Formatf("aes-kdf", "missing rounds")
	}
	if len(composite) != sha256.Size {
		return nil, errors.Formatf("aes-kdf", "composite key must be %d bytes", sha256.Size)
	}

	block, err := aes.NewCipher(seed)
	if err != nil {
		return nil, errors.NewCryptoError("aes-kdf", err)
	}

	// The two halves are independent ECB chains.
	var tk [sha256.Size]byte
	var wg sync.WaitGroup
	wg.Add(2)
	go transformKeyBlock(&wg, block, tk[:aes.BlockSize], composite[:aes.BlockSize], rounds)
	go transformKeyBlock(&wg, block, tk[aes.BlockSize:], composite[aes.BlockSize:], rounds)
	wg.Wait()

	sum := sha256.Sum256(tk[:])
	SecureZero(tk[:])
	return sum[:], nil
}

// transformKeyBlock applies rounds of AES encryption to src and stores the result in dst.
func transformKeyBlock(wg *sync.WaitGroup, c interface{ Encrypt(dst, src []byte) }, dst, src []byte, rounds uint64) {
	defer wg.Done()
	copy(dst, src)
	for i := uint64(0); i < rounds; i++ {
		c.Encrypt(dst, dst)
	}
}

func argon2KDF(id uuid.UUID, params *vardict.Dictionary, composite []byte) ([]byte, error) {
	salt, ok := params.Bytes(ParamSalt)
	if !ok || len(salt) < 8 {
		return nil, errors.Formatf("argon2", "salt must be at least 8 bytes")
	}
	iterations, ok := params.UInt64(ParamIterations)
	if !ok || iterations == 0 {
		return nil, errors.Formatf("argon2", "missing iterations")
	}
	memory, ok := params.UInt64(ParamMemory)
	if !ok || memory < 8*1024 {
		return nil, errors.Formatf("argon2", "memory must be at least 8 KiB")
	}
	parallelism, ok := params.UInt32(ParamParallelism)
	if !ok || parallelism == 0 {
		return nil, errors.Formatf("argon2", "missing parallelism")
	}
	if version, ok := params.UInt32(ParamVersion); ok && version != Argon2Version {
		return nil, errors.NewUnsupportedError("argon2 version", fmt.Sprintf("0x%x", version))
	}
	if k, ok := params.Bytes(ParamSecretKey); ok && len(k) > 0 {
		return nil, errors.NewUnsupportedError("argon2 parameter", ParamSecretKey)
	}
	if a, ok := params.Bytes(ParamAssocData); ok && len(a) > 0 {
		return nil, errors.NewUnsupportedError("argon2 parameter", ParamAssocData)
	}

	kib := memory / 1024
	if iterations > math.MaxUint32 || kib > math.MaxUint32 || parallelism > math.MaxUint8 {
		return nil, errors.NewUnsupportedError("argon2 cost", fmt.Sprintf("I=%d M=%d P=%d", iterations, memory, parallelism))
	}

	if id == KdfArgon2d {
		return targon2.DKey(composite, salt, uint32(iterations), uint32(kib), uint8(parallelism), TransformSize), nil
	}
	return argon2.IDKey(composite, salt, uint32(iterations), uint32(kib), uint8(parallelism), TransformSize), nil
}
