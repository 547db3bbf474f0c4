package database

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/beevik/etree"
	"github.com/klauspost/compress/gzip"

	"kdbx-ng/internal/blocks"
	"kdbx-ng/internal/crypto"
	"kdbx-ng/internal/errors"
	"kdbx-ng/internal/header"
	"kdbx-ng/internal/log"
	"kdbx-ng/internal/protect"
)

// streamStartSize is the length of the format 3 stream start bytes.
const streamStartSize = 32

// SaveFile encodes the database to path. The data is written to a temporary
// file in the same directory, synced and renamed over path, so an existing
// file is replaced only by a complete database.
func (d *Document) SaveFile(path string, creds Credentials) error {
	tmp := path + ".incomplete"
	fout, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return errors.NewFileError("create", tmp, err)
	}

	cleanup := func() {
		_ = fout.Close()
		_ = os.Remove(tmp)
	}

	w := bufio.NewWriter(fout)
	if err := d.Encode(w, creds); err != nil {
		cleanup()
		return err
	}
	if err := w.Flush(); err != nil {
		cleanup()
		return errors.NewFileError("write", tmp, err)
	}
	// Sync to ensure all data is written before rename
	if err := fout.Sync(); err != nil {
		cleanup()
		return errors.NewFileError("sync", tmp, err)
	}
	if err := fout.Close(); err != nil {
		_ = os.Remove(tmp)
		return errors.NewFileError("close", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.NewFileError("rename", path, err)
	}
	log.Debug("saved database", log.String("path", filepath.Base(path)))
	return nil
}

// Encode writes the database to w with fresh seeds and keys.
//
// With Credentials.TransformedKey the KDF parameters are kept as they are and
// the KDF is skipped; otherwise the KDF salt is replaced and the key derived
// anew. The header, payload and protected values are all re-keyed on every
// call. The new headers are prepared on a copy and d changes only once the
// encode has succeeded.
func (d *Document) Encode(w io.Writer, creds Credentials) error {
	if err := creds.Validate(); err != nil {
		return err
	}
	if d.Tree == nil || d.Tree.Root() == nil {
		return errors.NewValidationError("Tree", "document has no root element")
	}

	ctx := &operationContext{}
	defer ctx.Close() // Secure zeroing of key material

	next := &Document{
		Outer:       d.Outer.Clone(),
		Inner:       d.Inner.Clone(),
		Attachments: d.Attachments,
		Tree:        d.Tree,
	}

	// Phase 1: Generate
	masterSeed, err := next.generate(creds)
	if err != nil {
		return err
	}

	// Phase 2: Derive keys
	if err := ctx.deriveKeys(creds, next.KDFParams, masterSeed); err != nil {
		return err
	}

	if next.Major() == header.Major4 {
		err = next.encodeV4(ctx, w)
	} else {
		err = next.encodeV3(ctx, w)
	}
	if err != nil {
		return err
	}

	d.commit(next)
	d.setTransformedKey(ctx.Transformed)
	return nil
}

// commit adopts the headers prepared by a successful encode.
func (d *Document) commit(next *Document) {
	*d.Outer = *next.Outer
	if next.Inner != nil {
		if d.Inner == nil {
			d.Inner = next.Inner
		} else {
			*d.Inner = *next.Inner
		}
	}
}

// generate stores fresh random values in the outer header and returns the
// master seed.
func (d *Document) generate(creds Credentials) ([]byte, error) {
	cipherID, err := d.Cipher()
	if err != nil {
		return nil, err
	}
	ivSize, err := crypto.IVSize(cipherID)
	if err != nil {
		return nil, err
	}

	masterSeed, err := crypto.RandomBytes(32)
	if err != nil {
		return nil, err
	}
	iv, err := crypto.RandomBytes(ivSize)
	if err != nil {
		return nil, err
	}
	d.Outer.Set(header.MasterSeed, header.Opaque(masterSeed))
	d.Outer.Set(header.EncryptionIV, header.Opaque(iv))

	if creds.TransformedKey == nil {
		params, err := d.KDFParams()
		if err != nil {
			return nil, err
		}
		if params, err = crypto.Reseed(params); err != nil {
			return nil, err
		}
		if err := d.SetKDFParams(params); err != nil {
			return nil, err
		}
	}

	id, err := d.StreamID()
	if err != nil {
		return nil, err
	}
	streamKey, err := crypto.RandomBytes(id.StreamKeySize())
	if err != nil {
		return nil, err
	}

	if d.Major() == header.Major4 {
		d.Inner.Set(header.InnerStreamKey, header.Opaque(streamKey))
		d.Outer.Remove(header.TransformSeed)
		d.Outer.Remove(header.TransformRounds)
		d.Outer.Remove(header.ProtectedStreamKey)
		d.Outer.Remove(header.StreamStartBytes)
		d.Outer.Remove(header.InnerRandomStreamID)
		return masterSeed, nil
	}

	start, err := crypto.RandomBytes(streamStartSize)
	if err != nil {
		return nil, err
	}
	d.Outer.Set(header.ProtectedStreamKey, header.Opaque(streamKey))
	d.Outer.Set(header.StreamStartBytes, header.Opaque(start))
	return masterSeed, nil
}

func (d *Document) encodeV4(ctx *operationContext, w io.Writer) error {
	// Phase 3: Write header and its authentication values
	var out bytes.Buffer
	raw, err := header.NewWriter(&out).WriteHeader(d.Outer)
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	out.Write(header.HeaderHash(raw))
	out.Write(header.HeaderHMAC(raw, ctx.Keys.HMACBase))

	// Phase 4: Inner header and protected values
	d.Inner.Remove(header.InnerBinary)
	for _, a := range d.Attachments {
		var flags byte
		if a.Protected {
			flags |= header.BinaryProtected
		}
		d.Inner.Add(header.InnerBinary, header.Binary{Flags: flags, Data: a.Data})
	}
	var payload bytes.Buffer
	if _, err := header.NewWriter(&payload).WriteHeader(d.Inner); err != nil {
		return fmt.Errorf("encode inner header: %w", err)
	}
	streamKey, _ := d.Inner.Bytes(header.InnerStreamKey)
	xml, err := d.protectedXML(ctx, streamKey, func(t *etree.Document) {
		if meta := t.FindElement("/KeePassFile/Meta"); meta != nil {
			if hh := meta.SelectElement("HeaderHash"); hh != nil {
				meta.RemoveChild(hh)
			}
		}
	})
	if err != nil {
		return err
	}

	// Phase 5: Compress, encrypt and frame
	payload.Write(xml)
	plain, err := deflate(d.Outer, payload.Bytes())
	if err != nil {
		return err
	}
	ciphertext, err := encrypt(ctx, d.Outer, plain)
	if err != nil {
		return err
	}
	bw := blocks.NewHMACWriter(&out, ctx.Keys.HMACBase, blocks.DefaultBlockSize)
	if _, err := bw.Write(ciphertext); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	if err := bw.Close(); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}

	if _, err := w.Write(out.Bytes()); err != nil {
		return fmt.Errorf("write database: %w", err)
	}
	log.Debug("encoded database", log.Int("major", 4), log.Int("bytes", out.Len()))
	return nil
}

func (d *Document) encodeV3(ctx *operationContext, w io.Writer) error {
	// Phase 3: Header
	var out bytes.Buffer
	raw, err := header.NewWriter(&out).WriteHeader(d.Outer)
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	// Phase 4: Protected values, with the header hash recorded in Meta
	streamKey, _ := d.Outer.Bytes(header.ProtectedStreamKey)
	sum := sha256.Sum256(raw)
	xml, err := d.protectedXML(ctx, streamKey, func(t *etree.Document) {
		if meta := t.FindElement("/KeePassFile/Meta"); meta != nil {
			hh := meta.SelectElement("HeaderHash")
			if hh == nil {
				hh = meta.CreateElement("HeaderHash")
			}
			hh.SetText(base64.StdEncoding.EncodeToString(sum[:]))
		}
	})
	if err != nil {
		return err
	}

	// Phase 5: Compress, frame, then encrypt behind the stream start bytes
	compressed, err := deflate(d.Outer, xml)
	if err != nil {
		return err
	}
	start, _ := d.Outer.Bytes(header.StreamStartBytes)
	var plain bytes.Buffer
	plain.Write(start)
	hw := blocks.NewHashedWriter(&plain, blocks.DefaultBlockSize)
	if _, err := hw.Write(compressed); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	if err := hw.Close(); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	ciphertext, err := encrypt(ctx, d.Outer, plain.Bytes())
	if err != nil {
		return err
	}

	out.Write(ciphertext)

	if _, err := w.Write(out.Bytes()); err != nil {
		return fmt.Errorf("write database: %w", err)
	}
	log.Debug("encoded database", log.Int("major", 3), log.Int("bytes", out.Len()))
	return nil
}

// protectedXML masks a copy of the tree, lets fix adjust the copy and
// serializes it.
func (d *Document) protectedXML(ctx *operationContext, streamKey []byte, fix func(*etree.Document)) ([]byte, error) {
	id, err := d.StreamID()
	if err != nil {
		return nil, err
	}
	ctx.StreamKey = append([]byte(nil), streamKey...)
	stream, err := crypto.NewStream(id, ctx.StreamKey)
	if err != nil {
		return nil, err
	}
	masked := protect.Protect(d.Tree, stream)
	fix(masked)

	out, err := masked.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("encode xml: %w", err)
	}
	return out, nil
}

func encrypt(ctx *operationContext, h *header.Header, plain []byte) ([]byte, error) {
	cipherID, err := h.Cipher()
	if err != nil {
		return nil, err
	}
	iv, _ := h.Bytes(header.EncryptionIV)
	return crypto.Encrypt(cipherID, ctx.Keys.MasterKey, iv, plain)
}

func deflate(h *header.Header, data []byte) ([]byte, error) {
	if h.Compression() != header.CompressionGzip {
		return data, nil
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("compress payload: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress payload: %w", err)
	}
	return buf.Bytes(), nil
}
