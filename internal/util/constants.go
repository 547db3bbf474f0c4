// Package util provides small helpers shared by the codec and the CLI.
//
// This package contains:
//   - Size constants (KiB, MiB, GiB, TiB) for byte calculations
//   - Size and duration formatting (Sizeify, Timeify)
//   - A zeroing buffer pool for block framing
//   - Cryptographically secure password generation
//
// All utilities are stateless and thread-safe.
package util

// Size constants for byte calculations
const (
	KiB = 1 << 10 // 1024
	MiB = 1 << 20 // 1,048,576
	GiB = 1 << 30 // 1,073,741,824
	TiB = 1 << 40 // 1,099,511,627,776
)
