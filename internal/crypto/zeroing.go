package crypto

import (
	"crypto/subtle"
	"hash"
	"sync"
)

// SecureZero overwrites b with zeros. Keys, composite keys and decrypted
// protected values pass through it once they are no longer needed.
//
// ⚠️ SECURITY NOTE: the garbage collector may already have copied b
// elsewhere, so erasure is best effort.
func SecureZero(b []byte) {
	if len(b) == 0 {
		return
	}
	// ConstantTimeCopy keeps the compiler from eliding the writes
	subtle.ConstantTimeCopy(1, b, make([]byte, len(b)))
}

// SecureZeroMultiple zeros each slice.
func SecureZeroMultiple(slices ...[]byte) {
	for _, s := range slices {
		SecureZero(s)
	}
}

// SecureZeroHash resets h so that key-dependent state does not outlive its
// use. Implementations are not required to wipe everything on Reset.
func SecureZeroHash(h hash.Hash) {
	if h != nil {
		h.Reset()
	}
}

// KeyMaterial owns a copy of sensitive bytes and zeroes them on Close.
// It is safe for concurrent use.
//
//	km := NewKeyMaterial(transformed)
//	defer km.Close()
//	key := km.Copy()
type KeyMaterial struct {
	mu   sync.Mutex
	data []byte
}

// NewKeyMaterial copies data into a new KeyMaterial.
func NewKeyMaterial(data []byte) *KeyMaterial {
	return &KeyMaterial{data: append([]byte(nil), data...)}
}

// Copy returns a copy of the key data, or nil once closed. A nil receiver
// holds nothing.
func (km *KeyMaterial) Copy() []byte {
	if km == nil {
		return nil
	}
	km.mu.Lock()
	defer km.mu.Unlock()
	if km.data == nil {
		return nil
	}
	return append([]byte(nil), km.data...)
}

// Len returns the length of the key data, 0 once closed.
func (km *KeyMaterial) Len() int {
	if km == nil {
		return 0
	}
	km.mu.Lock()
	defer km.mu.Unlock()
	return len(km.data)
}

// Close zeroes the key data. Repeated calls are no-ops.
func (km *KeyMaterial) Close() {
	if km == nil {
		return
	}
	km.mu.Lock()
	defer km.mu.Unlock()
	SecureZero(km.data)
	km.data = nil
}

// IsClosed reports whether Close has run.
func (km *KeyMaterial) IsClosed() bool {
	if km == nil {
		return true
	}
	km.mu.Lock()
	defer km.mu.Unlock()
	return km.data == nil
}

// KeySchedule holds the per-file key material derived from the transformed key.
// Use Close() to securely zero all materials when done.
type KeySchedule struct {
	Transformed []byte // KDF output (32 bytes)
	MasterKey   []byte // SHA-256(seed ‖ transformed), payload cipher key
	HMACBase    []byte // SHA-512(seed ‖ transformed ‖ 0x01), v4 block MAC base
	closed      bool
}

// NewKeySchedule derives the master key and HMAC base for masterSeed.
// transformed is copied; the caller keeps ownership of its slice.
func NewKeySchedule(masterSeed, transformed []byte) *KeySchedule {
	return &KeySchedule{
		Transformed: append([]byte(nil), transformed...),
		MasterKey:   MasterKey(masterSeed, transformed),
		HMACBase:    HMACBase(masterSeed, transformed),
	}
}

// Close securely zeros all cryptographic materials.
// This should be called via defer immediately after creating the schedule.
func (ks *KeySchedule) Close() {
	if ks == nil || ks.closed {
		return
	}
	SecureZeroMultiple(
		ks.Transformed,
		ks.MasterKey,
		ks.HMACBase,
	)
	ks.Transformed = nil
	ks.MasterKey = nil
	ks.HMACBase = nil
	ks.closed = true
}
