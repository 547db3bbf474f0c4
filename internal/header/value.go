package header

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"kdbx-ng/internal/crypto"
	"kdbx-ng/internal/errors"
	"kdbx-ng/internal/vardict"
)

// Value is the decoded payload of a header item.
//
// Implementations: Opaque, Cipher, Compression, VarDict, UInt32, UInt64,
// Stream and Binary.
type Value interface {
	Kind() Kind
	Bytes() []byte
}

// Opaque is an uninterpreted payload.
type Opaque []byte

func (Opaque) Kind() Kind      { return KindOpaque }
func (v Opaque) Bytes() []byte { return []byte(v) }

// Cipher is a payload cipher identifier.
type Cipher uuid.UUID

func (Cipher) Kind() Kind { return KindCipherID }
func (v Cipher) Bytes() []byte {
	b := make([]byte, 16)
	copy(b, v[:])
	return b
}

// UUID returns the identifier.
func (v Cipher) UUID() uuid.UUID { return uuid.UUID(v) }

// Compression is the payload compression algorithm.
type Compression uint32

const (
	CompressionNone Compression = 0
	CompressionGzip Compression = 1
)

func (Compression) Kind() Kind      { return KindCompression }
func (v Compression) Bytes() []byte { return le32(uint32(v)) }

func (v Compression) String() string {
	switch v {
	case CompressionNone:
		return "none"
	case CompressionGzip:
		return "gzip"
	default:
		return fmt.Sprintf("Compression(%d)", uint32(v))
	}
}

// VarDict is a nested variant dictionary.
type VarDict struct {
	*vardict.Dictionary
}

func (VarDict) Kind() Kind      { return KindVarDict }
func (v VarDict) Bytes() []byte { return v.Dictionary.Encode() }

// UInt32 is a little-endian 32-bit integer payload.
type UInt32 uint32

func (UInt32) Kind() Kind      { return KindUInt32 }
func (v UInt32) Bytes() []byte { return le32(uint32(v)) }

// UInt64 is a little-endian 64-bit integer payload.
type UInt64 uint64

func (UInt64) Kind() Kind { return KindUInt64 }
func (v UInt64) Bytes() []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(v))
	return b
}

// Stream is a protected-value stream cipher id.
type Stream crypto.StreamID

func (Stream) Kind() Kind      { return KindStreamID }
func (v Stream) Bytes() []byte { return le32(uint32(v)) }

// BinaryProtected is the flag bit marking an attachment as protected in memory.
const BinaryProtected byte = 0x01

// Binary is an attachment carried in the inner header.
type Binary struct {
	Flags byte
	Data  []byte
}

func (Binary) Kind() Kind { return KindBinary }
func (v Binary) Bytes() []byte {
	b := make([]byte, 1+len(v.Data))
	b[0] = v.Flags
	copy(b[1:], v.Data)
	return b
}

// Protected reports whether the protected flag bit is set.
func (v Binary) Protected() bool { return v.Flags&BinaryProtected != 0 }

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

// decodeValue interprets payload according to kind.
func decodeValue(name string, kind Kind, payload []byte) (Value, error) {
	switch kind {
	case KindCipherID:
		if len(payload) != 16 {
			return nil, errors.Formatf(name, "cipher id must be 16 bytes, have %d", len(payload))
		}
		var id uuid.UUID
		copy(id[:], payload)
		return Cipher(id), nil

	case KindCompression:
		if len(payload) != 4 {
			return nil, errors.Formatf(name, "compression flags must be 4 bytes, have %d", len(payload))
		}
		c := Compression(binary.LittleEndian.Uint32(payload))
		if c > CompressionGzip {
			return nil, errors.Formatf(name, "unknown compression algorithm %d", uint32(c))
		}
		return c, nil

	case KindVarDict:
		d, err := vardict.Decode(payload)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return VarDict{d}, nil

	case KindUInt32:
		if len(payload) != 4 {
			return nil, errors.Formatf(name, "want 4 bytes, have %d", len(payload))
		}
		return UInt32(binary.LittleEndian.Uint32(payload)), nil

	case KindUInt64:
		if len(payload) != 8 {
			return nil, errors.Formatf(name, "want 8 bytes, have %d", len(payload))
		}
		return UInt64(binary.LittleEndian.Uint64(payload)), nil

	case KindStreamID:
		if len(payload) != 4 {
			return nil, errors.Formatf(name, "stream id must be 4 bytes, have %d", len(payload))
		}
		return Stream(binary.LittleEndian.Uint32(payload)), nil

	case KindBinary:
		if len(payload) < 1 {
			return nil, errors.Formatf(name, "missing flags byte")
		}
		return Binary{Flags: payload[0], Data: append([]byte(nil), payload[1:]...)}, nil

	default:
		return Opaque(append([]byte(nil), payload...)), nil
	}
}
