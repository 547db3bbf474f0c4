package header

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"kdbx-ng/internal/errors"
	"kdbx-ng/internal/log"
)

// maxEagerPayload bounds the allocation made before a payload is actually read.
const maxEagerPayload = 1 << 20

// Reader handles reading headers from an input stream while recording the
// exact bytes consumed, so integrity tags can be computed over them.
type Reader struct {
	r   io.Reader
	raw bytes.Buffer
}

// NewReader creates a header reader for the given input stream.
func NewReader(r io.Reader) *Reader {
	hr := &Reader{}
	hr.r = io.TeeReader(r, &hr.raw)
	return hr
}

// Raw returns a copy of every byte consumed so far.
func (r *Reader) Raw() []byte {
	return append([]byte(nil), r.raw.Bytes()...)
}

// ReadOuter reads the signature prefix and outer header items from r.
// The returned raw slice holds the exact bytes consumed.
func ReadOuter(r io.Reader) (*Header, []byte, error) {
	hr := NewReader(r)
	h, err := hr.ReadOuter()
	if err != nil {
		return nil, nil, err
	}
	return h, hr.Raw(), nil
}

// ReadInner reads format 4 inner header items from r.
func ReadInner(r io.Reader) (*Header, []byte, error) {
	hr := NewReader(r)
	h, err := hr.ReadInner()
	if err != nil {
		return nil, nil, err
	}
	return h, hr.Raw(), nil
}

// ReadOuter reads the signature prefix and outer header items.
func (r *Reader) ReadOuter() (*Header, error) {
	var prefix [PrefixSize]byte
	if _, err := io.ReadFull(r.r, prefix[:]); err != nil {
		return nil, errors.NewFormatError("signature", fmt.Errorf("read prefix: %w", err))
	}

	sig1 := binary.LittleEndian.Uint32(prefix[0:4])
	sig2 := binary.LittleEndian.Uint32(prefix[4:8])
	if sig1 != Sig1 {
		return nil, errors.Formatf("signature", "not a KeePass database (0x%08x)", sig1)
	}
	if sig2 == Sig2KeePass1 {
		return nil, errors.NewUnsupportedError("version", "KeePass 1.x database")
	}
	if sig2 != Sig2 {
		return nil, errors.Formatf("signature", "unknown secondary signature 0x%08x", sig2)
	}

	h := &Header{
		Minor:  binary.LittleEndian.Uint16(prefix[8:10]),
		Major:  binary.LittleEndian.Uint16(prefix[10:12]),
		Schema: OuterSchema,
	}
	if h.Major != Major3 && h.Major != Major4 {
		return nil, errors.NewUnsupportedError("version", fmt.Sprintf("%d.%d", h.Major, h.Minor))
	}

	lenWidth := 4
	if h.Major == Major3 {
		lenWidth = 2
	}
	if err := r.readItems(h, lenWidth); err != nil {
		return nil, err
	}
	return h, nil
}

// ReadInner reads format 4 inner header items.
func (r *Reader) ReadInner() (*Header, error) {
	h := &Header{Major: Major4, Schema: InnerSchema}
	if err := r.readItems(h, 4); err != nil {
		return nil, err
	}
	return h, nil
}

func (r *Reader) readItems(h *Header, lenWidth int) error {
	seen := make(map[ID]int)
	for {
		var hdr [5]byte
		if _, err := io.ReadFull(r.r, hdr[:1+lenWidth]); err != nil {
			return errors.NewFormatError(h.Schema.name+" header", fmt.Errorf("read item: %w", err))
		}
		id := ID(hdr[0])
		var n uint64
		if lenWidth == 2 {
			n = uint64(binary.LittleEndian.Uint16(hdr[1:3]))
		} else {
			n = uint64(binary.LittleEndian.Uint32(hdr[1:5]))
		}

		spec := h.Schema.spec(id)
		payload, err := readPayload(r.r, n)
		if err != nil {
			return errors.NewFormatError(spec.Name, fmt.Errorf("read %d byte payload: %w", n, err))
		}

		v, err := decodeValue(spec.Name, spec.Kind, payload)
		if err != nil {
			return err
		}

		// A repeated unique item overwrites the earlier one in place.
		if i, ok := seen[id]; ok && !spec.Lumped {
			log.Debug("header item repeated", log.String("item", spec.Name))
			h.Items[i].Value = v
			continue
		}
		seen[id] = len(h.Items)
		h.Items = append(h.Items, Item{ID: id, Value: v})

		if id == End {
			return nil
		}
	}
}

func readPayload(r io.Reader, n uint64) ([]byte, error) {
	if n <= maxEagerPayload {
		b := make([]byte, n)
		if _, err := io.ReadFull(r, b); err != nil {
			return nil, err
		}
		return b, nil
	}
	// Grow with the data instead of trusting the declared length.
	b, err := io.ReadAll(io.LimitReader(r, int64(n)))
	if err != nil {
		return nil, err
	}
	if uint64(len(b)) != n {
		return nil, io.ErrUnexpectedEOF
	}
	return b, nil
}

// PeekVersion reads only the signature prefix to determine the format.
func PeekVersion(r io.Reader) (major, minor uint16, err error) {
	var prefix [PrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return 0, 0, errors.NewFormatError("signature", fmt.Errorf("read prefix: %w", err))
	}
	if binary.LittleEndian.Uint32(prefix[0:4]) != Sig1 {
		return 0, 0, errors.Formatf("signature", "not a KeePass database")
	}
	return binary.LittleEndian.Uint16(prefix[10:12]), binary.LittleEndian.Uint16(prefix[8:10]), nil
}
