package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"math"
)

// HeaderBlockIndex is the block index whose key authenticates the outer header.
const HeaderBlockIndex uint64 = math.MaxUint64

// MACSize is the size of a block HMAC tag.
const MACSize = sha256.Size

// MasterKey returns SHA-256(masterSeed ‖ transformed), the payload cipher key.
func MasterKey(masterSeed, transformed []byte) []byte {
	h := sha256.New()
	h.Write(masterSeed)
	h.Write(transformed)
	return h.Sum(nil)
}

// HMACBase returns SHA-512(masterSeed ‖ transformed ‖ 0x01).
func HMACBase(masterSeed, transformed []byte) []byte {
	h := sha512.New()
	h.Write(masterSeed)
	h.Write(transformed)
	h.Write([]byte{0x01})
	return h.Sum(nil)
}

// BlockKey returns SHA-512(LE64(index) ‖ base), the HMAC key for one block.
func BlockKey(index uint64, base []byte) []byte {
	var idx [8]byte
	binary.LittleEndian.PutUint64(idx[:], index)
	h := sha512.New()
	h.Write(idx[:])
	h.Write(base)
	return h.Sum(nil)
}

// BlockMAC returns HMAC-SHA256(BlockKey(index, base), LE64(index) ‖ LE32(len) ‖ data).
func BlockMAC(index uint64, base, data []byte) []byte {
	key := BlockKey(index, base)
	defer SecureZero(key)

	var hdr [12]byte
	binary.LittleEndian.PutUint64(hdr[:8], index)
	binary.LittleEndian.PutUint32(hdr[8:], uint32(len(data)))

	m := hmac.New(sha256.New, key)
	m.Write(hdr[:])
	m.Write(data)
	return m.Sum(nil)
}

// HeaderMAC returns HMAC-SHA256 over the raw outer header, keyed by the
// block key of HeaderBlockIndex.
func HeaderMAC(base, rawHeader []byte) []byte {
	key := BlockKey(HeaderBlockIndex, base)
	defer SecureZero(key)

	m := hmac.New(sha256.New, key)
	m.Write(rawHeader)
	return m.Sum(nil)
}
