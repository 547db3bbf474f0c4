package blocks

import (
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"io"

	"kdbx-ng/internal/errors"
)

const hashedHeaderSize = 4 + sha256.Size + 4

// HashedReader reads a format 3 hashed block stream.
type HashedReader struct {
	r     io.Reader
	index uint32
	buf   []byte
	done  bool
	err   error
}

// NewHashedReader wraps r, which must be positioned at the first block.
func NewHashedReader(r io.Reader) *HashedReader {
	return &HashedReader{r: r}
}

func (hr *HashedReader) Read(p []byte) (int, error) {
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

func (hr *HashedReader) next() error {
	var hdr [hashedHeaderSize]byte
	if _, err := io.ReadFull(hr.r, hdr[:]); err != nil {
		return fmt.Errorf("read block %d header: %w", hr.index, errors.NewPayloadIntegrityError(int64(hr.index)))
	}

	index := binary.LittleEndian.Uint32(hdr[0:4])
	hash := hdr[4 : 4+sha256.Size]
	length := binary.LittleEndian.Uint32(hdr[4+sha256.Size:])

	if index != hr.index {
		return errors.Formatf("hashed block", "index %d, expected %d", index, hr.index)
	}

	if length == 0 {
		if !bytes.Equal(hash, make([]byte, sha256.Size)) {
			return errors.NewPayloadIntegrityError(int64(index))
		}
		hr.done = true
		return nil
	}

	data, err := readBlockData(hr.r, length)
	if err != nil {
		return fmt.Errorf("read block %d data: %w", index, errors.NewPayloadIntegrityError(int64(index)))
	}
	sum := sha256.Sum256(data)
	if subtle.ConstantTimeCompare(sum[:], hash) != 1 {
		return errors.NewPayloadIntegrityError(int64(index))
	}

	hr.buf = data
	hr.index++
	return nil
}

// HashedWriter writes a format 3 hashed block stream. Close writes the final
// block and the terminator but does not close the underlying writer.
type HashedWriter struct {
	w     io.Writer
	index uint32
	bw    *bufferedWriter
}

// NewHashedWriter returns a writer emitting blocks of blockSize bytes
// (DefaultBlockSize if blockSize <= 0).
func NewHashedWriter(w io.Writer, blockSize int) *HashedWriter {
	hw := &HashedWriter{w: w}
	hw.bw = newBufferedWriter(blockSize, hw.emit)
	return hw
}

func (hw *HashedWriter) emit(data []byte) error {
	var hdr [hashedHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], hw.index)
	if len(data) > 0 {
		sum := sha256.Sum256(data)
		copy(hdr[4:], sum[:])
	}
	binary.LittleEndian.PutUint32(hdr[4+sha256.Size:], uint32(len(data)))

	if _, err := hw.w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write block %d: %w", hw.index, err)
	}
	if _, err := hw.w.Write(data); err != nil {
		return fmt.Errorf("write block %d: %w", hw.index, err)
	}
	hw.index++
	return nil
}

func (hw *HashedWriter) Write(p []byte) (int, error) {
	return hw.bw.Write(p)
}

// Close flushes the last block and writes the terminator.
func (hw *HashedWriter) Close() error {
	return hw.bw.finish()
}
