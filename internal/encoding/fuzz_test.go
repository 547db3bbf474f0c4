package encoding

import (
	"bytes"
	"testing"
)

// FuzzUnpad checks that Unpad never panics and only accepts valid trailers.
func FuzzUnpad(f *testing.F) {
	f.Add([]byte{})
	f.Add(bytes.Repeat([]byte{0x10}, 16))
	f.Add(append(make([]byte, 15), 0x01))
	f.Add(append(make([]byte, 15), 0xFF))

	f.Fuzz(func(t *testing.T, data []byte) {
		out, err := Unpad(data)
		if err != nil {
			return
		}
		padLen := len(data) - len(out)
		if padLen < 1 || padLen > BlockSize {
			t.Fatalf("accepted pad length %d", padLen)
		}
	})
}

// FuzzPad checks the round trip for arbitrary input.
func FuzzPad(f *testing.F) {
	f.Add([]byte{})
	f.Add([]byte("hello"))
	f.Add(bytes.Repeat([]byte{0xAA}, 16))

	f.Fuzz(func(t *testing.T, data []byte) {
		padded := Pad(data)
		if len(padded)%BlockSize != 0 {
			t.Fatalf("padded length %d not a multiple of %d", len(padded), BlockSize)
		}
		out, err := Unpad(padded)
		if err != nil {
			t.Fatalf("Unpad: %v", err)
		}
		if !bytes.Equal(out, data) {
			t.Fatal("round trip mismatch")
		}
	})
}
