package database

import (
	"fmt"

	"github.com/beevik/etree"
	"github.com/google/uuid"

	"kdbx-ng/internal/crypto"
	"kdbx-ng/internal/errors"
	"kdbx-ng/internal/header"
	"kdbx-ng/internal/vardict"
)

// Attachment is a binary stored in the format 4 inner header.
type Attachment struct {
	Protected bool // keep protected in memory
	Data      []byte
}

// Document is an opened or newly created database.
//
// Format 3 attachments live in the XML tree (Meta/Binaries) and Attachments
// stays empty.
type Document struct {
	Outer       *header.Header
	Inner       *header.Header // format 4 only
	Attachments []Attachment
	Tree        *etree.Document // protected values in plaintext

	transformedKey *crypto.KeyMaterial
}

// Major returns the file format major version.
func (d *Document) Major() uint16 { return d.Outer.Major }

// Minor returns the file format minor version.
func (d *Document) Minor() uint16 { return d.Outer.Minor }

// Cipher returns the payload cipher identifier.
func (d *Document) Cipher() (uuid.UUID, error) { return d.Outer.Cipher() }

// Compressed reports whether the payload is gzip compressed.
func (d *Document) Compressed() bool {
	return d.Outer.Compression() == header.CompressionGzip
}

// KDFParams returns the key derivation parameters. Format 3 files store AES-KDF
// seed and rounds as separate items; they are returned as an equivalent
// dictionary.
func (d *Document) KDFParams() (*vardict.Dictionary, error) {
	if d.Major() == header.Major3 {
		seed, ok := d.Outer.Bytes(header.TransformSeed)
		if !ok {
			return nil, errors.Formatf("TransformSeed", "missing")
		}
		rounds, ok := d.Outer.UInt64(header.TransformRounds)
		if !ok {
			return nil, errors.Formatf("TransformRounds", "missing")
		}
		return crypto.AESKDFParams(seed, rounds), nil
	}
	params, ok := d.Outer.VarDict(header.KdfParameters)
	if !ok {
		return nil, errors.Formatf("KdfParameters", "missing")
	}
	return params, nil
}

// SetKDFParams replaces the key derivation parameters. Format 3 accepts only
// AES-KDF. The cached transformed key is dropped.
func (d *Document) SetKDFParams(params *vardict.Dictionary) error {
	id, err := crypto.KDFID(params)
	if err != nil {
		return err
	}
	if d.Major() == header.Major3 {
		if id != crypto.KdfAES {
			return errors.NewValidationError("KDF", "format 3 supports only AES-KDF")
		}
		seed, _ := params.Bytes(crypto.ParamSalt)
		rounds, _ := params.UInt64(crypto.ParamRounds)
		d.Outer.Set(header.TransformSeed, header.Opaque(seed))
		d.Outer.Set(header.TransformRounds, header.UInt64(rounds))
	} else {
		d.Outer.Set(header.KdfParameters, header.VarDict{Dictionary: params})
	}
	d.clearTransformedKey()
	return nil
}

// CustomData returns the public custom data of a format 4 header, or nil.
func (d *Document) CustomData() *vardict.Dictionary {
	cd, _ := d.Outer.VarDict(header.PublicCustomData)
	return cd
}

// StreamID returns the protected-value stream cipher.
func (d *Document) StreamID() (crypto.StreamID, error) {
	h, id := d.Outer, header.InnerRandomStreamID
	if d.Major() == header.Major4 {
		h, id = d.Inner, header.InnerStreamID
	}
	if h == nil {
		return 0, errors.Formatf("inner header", "missing")
	}
	s, ok := h.StreamID(id)
	if !ok {
		return 0, errors.Formatf(h.Schema.Name(id), "missing")
	}
	return s, nil
}

// TransformedKey returns a copy of the KDF output cached by the last
// successful Open or Encode, or nil. Pass it as Credentials.TransformedKey to
// save again without rerunning the KDF.
func (d *Document) TransformedKey() []byte {
	return d.transformedKey.Copy()
}

func (d *Document) setTransformedKey(tk []byte) {
	d.clearTransformedKey()
	d.transformedKey = crypto.NewKeyMaterial(tk)
}

func (d *Document) clearTransformedKey() {
	d.transformedKey.Close()
	d.transformedKey = nil
}

// Close zeroes the cached transformed key.
func (d *Document) Close() {
	if d == nil {
		return
	}
	d.clearTransformedKey()
}

// Options configure a new database.
type Options struct {
	Major       uint16             // 3 or 4
	Cipher      uuid.UUID          // crypto.CipherAES256, CipherTwofish or CipherChaCha20
	KDF         uuid.UUID          // crypto.KdfAES, KdfArgon2d or KdfArgon2id
	Compression header.Compression // none or gzip
	Stream      crypto.StreamID    // Salsa20, ChaCha20 or None

	// KDF costs
	AESRounds         uint64
	Argon2Iterations  uint64
	Argon2Memory      uint64 // bytes
	Argon2Parallelism uint32
}

// DefaultOptions returns the settings KeePass uses for new databases.
func DefaultOptions() Options {
	return Options{
		Major:             header.Major4,
		Cipher:            crypto.CipherAES256,
		KDF:               crypto.KdfArgon2d,
		Compression:       header.CompressionGzip,
		Stream:            crypto.StreamChaCha20,
		AESRounds:         crypto.DefaultAESRounds,
		Argon2Iterations:  crypto.DefaultArgon2Iterations,
		Argon2Memory:      crypto.DefaultArgon2Memory,
		Argon2Parallelism: crypto.DefaultArgon2Parallelism,
	}
}

// Validate checks that the options describe a database this package can write.
func (o Options) Validate() error {
	if o.Major != header.Major3 && o.Major != header.Major4 {
		return errors.NewUnsupportedError("version", fmt.Sprintf("%d", o.Major))
	}
	if _, err := crypto.IVSize(o.Cipher); err != nil {
		return err
	}
	switch o.KDF {
	case crypto.KdfAES:
		if o.AESRounds == 0 {
			return errors.NewValidationError("AESRounds", "must be positive")
		}
	case crypto.KdfArgon2d, crypto.KdfArgon2id:
		if o.Major == header.Major3 {
			return errors.NewValidationError("KDF", "format 3 supports only AES-KDF")
		}
		if o.Argon2Iterations == 0 || o.Argon2Parallelism == 0 {
			return errors.NewValidationError("Argon2", "iterations and parallelism must be positive")
		}
		if o.Argon2Memory < 8*1024 {
			return errors.NewValidationError("Argon2Memory", "must be at least 8 KiB")
		}
	default:
		return errors.NewUnsupportedError("kdf", o.KDF.String())
	}
	if o.Compression > header.CompressionGzip {
		return errors.NewValidationError("Compression", "unknown algorithm")
	}
	switch o.Stream {
	case crypto.StreamNone, crypto.StreamSalsa20, crypto.StreamChaCha20:
	default:
		return errors.NewUnsupportedError("stream", o.Stream.String())
	}
	return nil
}

func (o Options) kdfParams() (*vardict.Dictionary, error) {
	if o.KDF == crypto.KdfAES {
		return crypto.NewAESKDF(o.AESRounds)
	}
	return crypto.NewArgon2(o.KDF, o.Argon2Iterations, o.Argon2Memory, o.Argon2Parallelism)
}

// New creates a database holding tree. A nil tree is replaced by an empty
// KeePassFile document. Seeds and keys are generated when the document is
// encoded.
func New(tree *etree.Document, opts Options) (*Document, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if tree == nil {
		tree = NewTree()
	}

	d := &Document{Outer: header.NewOuter(opts.Major), Tree: tree}
	d.Outer.Set(header.CipherID, header.Cipher(opts.Cipher))
	d.Outer.Set(header.CompressionFlags, opts.Compression)

	params, err := opts.kdfParams()
	if err != nil {
		return nil, err
	}
	if opts.Major == header.Major4 {
		d.Inner = header.NewInner()
		d.Inner.Set(header.InnerStreamID, header.Stream(opts.Stream))
	} else {
		d.Outer.Set(header.InnerRandomStreamID, header.Stream(opts.Stream))
	}
	if err := d.SetKDFParams(params); err != nil {
		return nil, err
	}
	return d, nil
}

// NewTree returns an empty KeePassFile document.
func NewTree() *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="utf-8" standalone="yes"`)
	root := doc.CreateElement("KeePassFile")
	meta := root.CreateElement("Meta")
	meta.CreateElement("Generator").SetText("kdbx-ng")
	root.CreateElement("Root")
	return doc
}

// ParseTree parses an XML document.
func ParseTree(data []byte) (*etree.Document, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, errors.NewFormatError("xml", err)
	}
	if doc.Root() == nil {
		return nil, errors.Formatf("xml", "no root element")
	}
	return doc, nil
}

// XML returns the document tree with protected values in plaintext.
func (d *Document) XML() ([]byte, error) {
	out, err := d.Tree.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("encode xml: %w", err)
	}
	return out, nil
}
