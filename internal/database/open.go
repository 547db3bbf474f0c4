package database

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"

	"github.com/beevik/etree"
	"github.com/klauspost/compress/gzip"

	"kdbx-ng/internal/blocks"
	"kdbx-ng/internal/crypto"
	"kdbx-ng/internal/errors"
	"kdbx-ng/internal/header"
	"kdbx-ng/internal/log"
	"kdbx-ng/internal/protect"
)

// OpenFile opens the database at path.
func OpenFile(path string, creds Credentials) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewFileError("open", path, err)
	}
	defer func() { _ = f.Close() }()

	d, err := Open(bufio.NewReader(f), creds)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return d, nil
}

// Open reads and decrypts a database from r.
func Open(r io.Reader, creds Credentials) (*Document, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	ctx := &operationContext{}
	defer ctx.Close() // Secure zeroing of key material

	// Phase 1: Read header
	hr := header.NewReader(r)
	outer, err := hr.ReadOuter()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	raw := hr.Raw()
	d := &Document{Outer: outer}
	log.Debug("read outer header",
		log.Int("major", int(outer.Major)),
		log.Int("minor", int(outer.Minor)),
		log.Int("bytes", len(raw)),
		log.Bool("compressed", outer.Compression() == header.CompressionGzip))

	cipherID, err := outer.Cipher()
	if err != nil {
		return nil, err
	}
	if _, err := crypto.IVSize(cipherID); err != nil {
		return nil, err
	}

	if outer.Major == header.Major4 {
		err = openV4(ctx, d, r, raw, creds)
	} else {
		err = openV3(ctx, d, r, raw, creds)
	}
	if err != nil {
		return nil, err
	}

	d.setTransformedKey(ctx.Transformed)
	return d, nil
}

func openV4(ctx *operationContext, d *Document, r io.Reader, raw []byte, creds Credentials) error {
	// Phase 2: Verify header hash
	var auth [2 * header.HashSize]byte
	if _, err := io.ReadFull(r, auth[:]); err != nil {
		return errors.NewFormatError("header authentication", err)
	}
	if err := header.VerifyHash(raw, auth[:header.HashSize]); err != nil {
		return err
	}

	// Phase 3: Derive keys
	masterSeed, err := masterSeedOf(d.Outer)
	if err != nil {
		return err
	}
	if err := ctx.deriveKeys(creds, d.KDFParams, masterSeed); err != nil {
		return err
	}

	// Phase 4: Verify header HMAC
	if err := header.VerifyHMAC(raw, ctx.Keys.HMACBase, auth[header.HashSize:]); err != nil {
		return err
	}

	// Phase 5: Read payload blocks
	ciphertext, err := io.ReadAll(blocks.NewHMACReader(r, ctx.Keys.HMACBase))
	if err != nil {
		return fmt.Errorf("read payload: %w", err)
	}
	log.Debug("payload verified", log.Int64("bytes", int64(len(ciphertext))))

	// Phase 6: Decrypt and decompress
	plain, err := decrypt(ctx, d.Outer, ciphertext)
	if err != nil {
		return err
	}
	plain, err = inflate(d.Outer, plain)
	if err != nil {
		return err
	}

	// Phase 7: Inner header and XML
	br := bytes.NewReader(plain)
	inner, _, err := header.ReadInner(br)
	if err != nil {
		return fmt.Errorf("read inner header: %w", err)
	}
	d.Inner = inner
	for _, b := range inner.Binaries() {
		d.Attachments = append(d.Attachments, Attachment{Protected: b.Protected(), Data: b.Data})
	}
	xml := plain[len(plain)-br.Len():]

	streamKey, _ := inner.Bytes(header.InnerStreamKey)
	return parseAndUnprotect(ctx, d, xml, streamKey)
}

func openV3(ctx *operationContext, d *Document, r io.Reader, raw []byte, creds Credentials) error {
	// Phase 3: Derive keys
	masterSeed, err := masterSeedOf(d.Outer)
	if err != nil {
		return err
	}
	if err := ctx.deriveKeys(creds, d.KDFParams, masterSeed); err != nil {
		return err
	}

	// Phase 5: Read payload
	ciphertext, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read payload: %w", err)
	}

	// Phase 6: Decrypt, check stream start, unframe and decompress
	plain, err := decrypt(ctx, d.Outer, ciphertext)
	if err != nil {
		return err
	}
	start, _ := d.Outer.Bytes(header.StreamStartBytes)
	if err := header.VerifyStreamStart(start, plain); err != nil {
		return err
	}
	framed, err := io.ReadAll(blocks.NewHashedReader(bytes.NewReader(plain[len(start):])))
	if err != nil {
		return fmt.Errorf("read payload: %w", err)
	}
	xml, err := inflate(d.Outer, framed)
	if err != nil {
		return err
	}

	// Phase 7: XML
	streamKey, _ := d.Outer.Bytes(header.ProtectedStreamKey)
	if err := parseAndUnprotect(ctx, d, xml, streamKey); err != nil {
		return err
	}
	return verifyHeaderHash(d.Tree, raw)
}

func masterSeedOf(h *header.Header) ([]byte, error) {
	seed, ok := h.Bytes(header.MasterSeed)
	if !ok {
		return nil, errors.Formatf("MasterSeed", "missing")
	}
	if len(seed) != 32 {
		return nil, errors.Formatf("MasterSeed", "must be 32 bytes, have %d", len(seed))
	}
	return seed, nil
}

func decrypt(ctx *operationContext, h *header.Header, ciphertext []byte) ([]byte, error) {
	cipherID, err := h.Cipher()
	if err != nil {
		return nil, err
	}
	iv, ok := h.Bytes(header.EncryptionIV)
	if !ok {
		return nil, errors.Formatf("EncryptionIV", "missing")
	}
	return crypto.Decrypt(cipherID, ctx.Keys.MasterKey, iv, ciphertext)
}

func inflate(h *header.Header, data []byte) ([]byte, error) {
	if h.Compression() != header.CompressionGzip {
		return data, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.NewFormatError("gzip payload", err)
	}
	defer func() { _ = zr.Close() }()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, errors.NewFormatError("gzip payload", err)
	}
	return out, nil
}

func parseAndUnprotect(ctx *operationContext, d *Document, xml, streamKey []byte) error {
	tree, err := ParseTree(xml)
	if err != nil {
		return err
	}
	d.Tree = tree

	id, err := d.StreamID()
	if err != nil {
		return err
	}
	ctx.StreamKey = append([]byte(nil), streamKey...)
	stream, err := crypto.NewStream(id, ctx.StreamKey)
	if err != nil {
		return err
	}
	n := protect.Unprotect(d.Tree, stream)
	log.Debug("unprotected values", log.String("stream", id.String()), log.Int("count", n))
	return nil
}

// verifyHeaderHash checks the Meta/HeaderHash element of a format 3 document
// when it is present.
func verifyHeaderHash(tree *etree.Document, raw []byte) error {
	el := tree.FindElement("/KeePassFile/Meta/HeaderHash")
	if el == nil || el.Text() == "" {
		return nil
	}
	stored, err := base64.StdEncoding.DecodeString(el.Text())
	if err != nil {
		return errors.NewFormatError("HeaderHash", err)
	}
	sum := sha256.Sum256(raw)
	if !bytes.Equal(sum[:], stored) {
		return errors.NewHeaderIntegrityError()
	}
	return nil
}
