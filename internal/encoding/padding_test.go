package encoding

import (
	"bytes"
	"testing"
)

func TestPadUnpad(t *testing.T) {
	for size := 0; size <= 64; size++ {
		data := make([]byte, size)
		for i := range data {
			data[i] = byte(i % 256)
		}

		padded := Pad(data)

		if len(padded)%BlockSize != 0 {
			t.Errorf("Pad(%d bytes) = %d bytes; want multiple of %d", size, len(padded), BlockSize)
		}
		if len(padded) <= size {
			t.Errorf("Pad(%d bytes) did not add padding", size)
		}

		unpadded, err := Unpad(padded)
		if err != nil {
			t.Fatalf("Unpad(Pad(%d bytes)): %v", size, err)
		}
		if !bytes.Equal(unpadded, data) {
			t.Errorf("Unpad(Pad(%d bytes)) did not recover original data", size)
		}
	}
}

func TestPadFullBlock(t *testing.T) {
	padded := Pad(bytes.Repeat([]byte{0xAB}, BlockSize))
	if len(padded) != 2*BlockSize {
		t.Fatalf("got %d bytes, want %d", len(padded), 2*BlockSize)
	}
	if !bytes.Equal(padded[BlockSize:], bytes.Repeat([]byte{BlockSize}, BlockSize)) {
		t.Error("full block of padding expected")
	}
}

func TestPadDoesNotAlias(t *testing.T) {
	data := make([]byte, 3, 64)
	padded := Pad(data)
	padded[0] = 0xFF
	if data[0] != 0 {
		t.Error("Pad must not write into the caller's backing array")
	}
}

func TestUnpadInvalidData(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"not block multiple", []byte{1, 2, 3}},
		{"zero pad byte", make([]byte, BlockSize)},
		{"pad larger than block", append(make([]byte, BlockSize-1), 17)},
		{"inconsistent pad bytes", append(bytes.Repeat([]byte{0}, BlockSize-3), 1, 3, 3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Unpad(tt.data); err != ErrBadPadding {
				t.Errorf("Unpad = %v, want ErrBadPadding", err)
			}
		})
	}
}
