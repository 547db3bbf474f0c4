package blocks

import (
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"io"

	"kdbx-ng/internal/crypto"
	"kdbx-ng/internal/errors"
)

const hmacHeaderSize = crypto.MACSize + 4

// HMACReader reads a format 4 HMAC block stream.
type HMACReader struct {
	r     io.Reader
	base  []byte
	index uint64
	buf   []byte
	done  bool
	err   error
}

// NewHMACReader wraps r, which must be positioned directly after the header HMAC.
// base is the HMAC base key (crypto.HMACBase).
func NewHMACReader(r io.Reader, base []byte) *HMACReader {
	return &HMACReader{r: r, base: base}
}

func (hr *HMACReader) Read(p []byte) (int, error) {
	for len(hr.buf) == 0 {
		if hr.err != nil {
			return 0, hr.err
		}
		if hr.done {
			return 0, io.EOF
		}
		hr.err = hr.next()
	}
	n := copy(p, hr.buf)
	hr.buf = hr.buf[n:]
	return n, nil
}

func (hr *HMACReader) next() error {
	var hdr [hmacHeaderSize]byte
	if _, err := io.ReadFull(hr.r, hdr[:]); err != nil {
		return fmt.Errorf("read block %d header: %w", hr.index, errors.NewPayloadIntegrityError(int64(hr.index)))
	}
	tag := hdr[:crypto.MACSize]
	length := binary.LittleEndian.Uint32(hdr[crypto.MACSize:])

	var data []byte
	if length > 0 {
		var err error
		data, err = readBlockData(hr.r, length)
		if err != nil {
			return fmt.Errorf("read block %d data: %w", hr.index, errors.NewPayloadIntegrityError(int64(hr.index)))
		}
	}

	if subtle.ConstantTimeCompare(crypto.BlockMAC(hr.index, hr.base, data), tag) != 1 {
		return errors.NewPayloadIntegrityError(int64(hr.index))
	}

	if length == 0 {
		hr.done = true
		return nil
	}
	hr.buf = data
	hr.index++
	return nil
}

// HMACWriter writes a format 4 HMAC block stream. Close writes the final
// block and the terminator but does not close the underlying writer.
type HMACWriter struct {
	w     io.Writer
	base  []byte
	index uint64
	bw    *bufferedWriter
}

// NewHMACWriter returns a writer emitting blocks of blockSize bytes
// (DefaultBlockSize if blockSize <= 0) authenticated with base.
func NewHMACWriter(w io.Writer, base []byte, blockSize int) *HMACWriter {
	hw := &HMACWriter{w: w, base: base}
	hw.bw = newBufferedWriter(blockSize, hw.emit)
	return hw
}

func (hw *HMACWriter) emit(data []byte) error {
	var hdr [hmacHeaderSize]byte
	copy(hdr[:], crypto.BlockMAC(hw.index, hw.base, data))
	binary.LittleEndian.PutUint32(hdr[crypto.MACSize:], uint32(len(data)))

	if _, err := hw.w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write block %d: %w", hw.index, err)
	}
	if _, err := hw.w.Write(data); err != nil {
		return fmt.Errorf("write block %d: %w", hw.index, err)
	}
	hw.index++
	return nil
}

func (hw *HMACWriter) Write(p []byte) (int, error) {
	return hw.bw.Write(p)
}

// Close flushes the last block and writes the terminator.
func (hw *HMACWriter) Close() error {
	return hw.bw.finish()
}
