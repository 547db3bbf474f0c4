// Package blocks implements the two payload integrity framings:
//
// Format 3 hashed blocks, wrapping the decrypted payload:
//
//	index  u32 LE   sequential from 0
//	hash   32 bytes SHA-256(data), all zero on the final block
//	length u32 LE   0 on the final block
//	data   length bytes
//
// Format 4 HMAC blocks, wrapping the encrypted payload:
//
//	tag    32 bytes HMAC-SHA256(BlockKey(i), LE64(i) ‖ LE32(length) ‖ data)
//	length u32 LE   0 on the final block, which still carries a valid tag
//	data   length bytes
//
// Readers verify each block before releasing any of its bytes.
package blocks

import (
	"io"

	"kdbx-ng/internal/util"
)

// DefaultBlockSize is the data size of every block but the last when writing.
const DefaultBlockSize = util.MiB

// maxEagerBlock bounds the allocation made before block data is actually read.
const maxEagerBlock = 4 * util.MiB

func readBlockData(r io.Reader, n uint32) ([]byte, error) {
	if n <= maxEagerBlock {
		b := make([]byte, n)
		if _, err := io.ReadFull(r, b); err != nil {
			return nil, err
		}
		return b, nil
	}
	b, err := io.ReadAll(io.LimitReader(r, int64(n)))
	if err != nil {
		return nil, err
	}
	if len(b) != int(n) {
		return nil, io.ErrUnexpectedEOF
	}
	return b, nil
}

// bufferedWriter collects data into blockSize chunks and hands each full
// chunk to emit.
type bufferedWriter struct {
	buf       []byte
	blockSize int
	emit      func([]byte) error
	err       error
	closed    bool
}

func (w *bufferedWriter) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	if w.closed {
		return 0, io.ErrClosedPipe
	}
	n := len(p)
	for len(p) > 0 {
		room := w.blockSize - len(w.buf)
		take := min(room, len(p))
		w.buf = append(w.buf, p[:take]...)
		p = p[take:]
		if len(w.buf) == w.blockSize {
			if w.err = w.emit(w.buf); w.err != nil {
				return n - len(p), w.err
			}
			w.buf = w.buf[:0]
		}
	}
	return n, nil
}

// finish flushes any partial block followed by the terminating empty block.
func (w *bufferedWriter) finish() error {
	if w.err != nil {
		return w.err
	}
	if w.closed {
		return nil
	}
	w.closed = true
	if len(w.buf) > 0 {
		if w.err = w.emit(w.buf); w.err != nil {
			return w.err
		}
		w.buf = w.buf[:0]
	}
	w.err = w.emit(nil)
	w.release()
	return w.err
}

func (w *bufferedWriter) release() {
	util.BlockPool.Put(w.buf)
	w.buf = nil
}

func newBufferedWriter(blockSize int, emit func([]byte) error) *bufferedWriter {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	var buf []byte
	if blockSize == util.BlockPool.Size() {
		buf = util.BlockPool.Get()
	} else {
		buf = make([]byte, 0, blockSize)
	}
	return &bufferedWriter{
		buf:       buf,
		blockSize: blockSize,
		emit:      emit,
	}
}
