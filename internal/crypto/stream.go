package crypto

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/salsa20/salsa"

	"kdbx-ng/internal/errors"
)

// StreamID selects the cipher that masks protected values in the inner document.
type StreamID uint32

const (
	StreamNone     StreamID = 0
	StreamArcFour  StreamID = 1
	StreamSalsa20  StreamID = 2
	StreamChaCha20 StreamID = 3
)

func (id StreamID) String() string {
	switch id {
	case StreamNone:
		return "None"
	case StreamArcFour:
		return "ArcFourVariant"
	case StreamSalsa20:
		return "Salsa20"
	case StreamChaCha20:
		return "ChaCha20"
	default:
		return fmt.Sprintf("StreamID(%d)", uint32(id))
	}
}

// StreamKeySize returns the length of a freshly generated stream key.
func (id StreamID) StreamKeySize() int {
	if id == StreamChaCha20 {
		return 64
	}
	return 32
}

// Stream is a keystream that continues across calls, so consecutive
// protected values consume consecutive keystream bytes.
type Stream interface {
	XORKeyStream(dst, src []byte)
}

// salsaNonce is the fixed Salsa20 nonce for protected values.
var salsaNonce = [8]byte{0xE8, 0x30, 0x09, 0x4B, 0x97, 0x20, 0x5D, 0x2A}

// NewStream returns the protected-value stream for id keyed by key.
func NewStream(id StreamID, key []byte) (Stream, error) {
	switch id {
	case StreamNone:
		return nullStream{}, nil
	case StreamSalsa20:
		return newSalsaStream(key), nil
	case StreamChaCha20:
		h := sha512.Sum512(key)
		c, err := chacha20.NewUnauthenticatedCipher(h[:32], h[32:32+chacha20.NonceSize])
		SecureZero(h[:])
		if err != nil {
			return nil, errors.NewCryptoError("chacha20", err)
		}
		return c, nil
	default:
		return nil, errors.NewUnsupportedError("protected stream", id.String())
	}
}

type nullStream struct{}

func (nullStream) XORKeyStream(dst, src []byte) { copy(dst, src) }

// salsaStream buffers one 64-byte Salsa20 block so the keystream position
// survives across XORKeyStream calls of arbitrary length.
type salsaStream struct {
	key     [32]byte
	counter [16]byte // nonce ‖ LE64 block counter
	block   [64]byte
	used    int
}

func newSalsaStream(key []byte) *salsaStream {
	s := &salsaStream{key: sha256.Sum256(key), used: 64}
	copy(s.counter[:8], salsaNonce[:])
	return s
}

func (s *salsaStream) refill() {
	var zero [64]byte
	salsa.XORKeyStream(s.block[:], zero[:], &s.counter, &s.key)
	n := binary.LittleEndian.Uint64(s.counter[8:])
	binary.LittleEndian.PutUint64(s.counter[8:], n+1)
	s.used = 0
}

func (s *salsaStream) XORKeyStream(dst, src []byte) {
	for i := range src {
		if s.used == len(s.block) {
			s.refill()
		}
		dst[i] = src[i] ^ s.block[s.used]
		s.used++
	}
}
