package header

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"kdbx-ng/internal/errors"
)

// Writer handles writing headers to an output stream.
type Writer struct {
	w io.Writer
}

// NewWriter creates a header writer for the given output stream.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteHeader encodes h and writes it. The encoded bytes are returned for
// hashing and authentication.
func (w *Writer) WriteHeader(h *Header) ([]byte, error) {
	b, err := h.Encode()
	if err != nil {
		return nil, err
	}
	if _, err := w.w.Write(b); err != nil {
		return nil, fmt.Errorf("write %s header: %w", h.Schema.name, err)
	}
	return b, nil
}

// Encode serializes the header. The outer header includes the signature
// prefix; an End item is appended if the item list lacks one.
func (h *Header) Encode() ([]byte, error) {
	var buf bytes.Buffer
	lenWidth := 4

	if h.Schema == OuterSchema {
		var prefix [PrefixSize]byte
		binary.LittleEndian.PutUint32(prefix[0:4], Sig1)
		binary.LittleEndian.PutUint32(prefix[4:8], Sig2)
		binary.LittleEndian.PutUint16(prefix[8:10], h.Minor)
		binary.LittleEndian.PutUint16(prefix[10:12], h.Major)
		buf.Write(prefix[:])
		if h.Major == Major3 {
			lenWidth = 2
		}
	}

	hasEnd := false
	for _, it := range h.Items {
		if err := writeItem(&buf, h.Schema, lenWidth, it.ID, it.Value.Bytes()); err != nil {
			return nil, err
		}
		if it.ID == End {
			hasEnd = true
			break
		}
	}
	if !hasEnd {
		var end []byte
		if h.Schema == OuterSchema {
			end = EndPayload
		}
		if err := writeItem(&buf, h.Schema, lenWidth, End, end); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func writeItem(buf *bytes.Buffer, s *Schema, lenWidth int, id ID, payload []byte) error {
	buf.WriteByte(byte(id))
	if lenWidth == 2 {
		if len(payload) > math.MaxUint16 {
			return errors.NewValidationError(s.Name(id), fmt.Sprintf("payload of %d bytes exceeds format 3 item limit", len(payload)))
		}
		var l [2]byte
		binary.LittleEndian.PutUint16(l[:], uint16(len(payload)))
		buf.Write(l[:])
	} else {
		if uint64(len(payload)) > math.MaxUint32 {
			return errors.NewValidationError(s.Name(id), "payload exceeds item limit")
		}
		var l [4]byte
		binary.LittleEndian.PutUint32(l[:], uint32(len(payload)))
		buf.Write(l[:])
	}
	buf.Write(payload)
	return nil
}
