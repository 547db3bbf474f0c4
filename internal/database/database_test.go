package database

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/beevik/etree"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kdbx-ng/internal/crypto"
	"kdbx-ng/internal/errors"
	"kdbx-ng/internal/header"
	"kdbx-ng/internal/keyfile"
)

const testPassword = "correct horse battery staple"

// fastOptions keeps KDF costs low enough for unit tests.
func fastOptions(major uint16, cipher, kdf uuid.UUID) Options {
	opts := DefaultOptions()
	opts.Major = major
	opts.Cipher = cipher
	opts.KDF = kdf
	opts.AESRounds = 16
	opts.Argon2Iterations = 1
	opts.Argon2Memory = 64 * 1024
	opts.Argon2Parallelism = 1
	if major == header.Major3 {
		opts.Stream = crypto.StreamSalsa20
	}
	return opts
}

func sampleTree() *etree.Document {
	doc := NewTree()
	group := doc.Root().SelectElement("Root").CreateElement("Group")
	group.CreateElement("Name").SetText("General")
	entry := group.CreateElement("Entry")
	addString(entry, "Title", "mail", false)
	addString(entry, "UserName", "alice", false)
	addString(entry, "Password", "p&ss<word> \U0001F511", true)
	addString(entry, "Notes", "first line\nsecond line", true)
	return doc
}

func addString(entry *etree.Element, key, value string, protected bool) {
	s := entry.CreateElement("String")
	s.CreateElement("Key").SetText(key)
	v := s.CreateElement("Value")
	if protected {
		v.CreateAttr("Protected", "True")
	}
	v.SetText(value)
}

func value(t *testing.T, d *Document, key string) string {
	t.Helper()
	for _, s := range d.Tree.FindElements("//Entry/String") {
		if s.SelectElement("Key").Text() == key {
			return s.SelectElement("Value").Text()
		}
	}
	t.Fatalf("no string %q", key)
	return ""
}

func encode(t *testing.T, d *Document, creds Credentials) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, d.Encode(&buf, creds))
	return buf.Bytes()
}

func newDB(t *testing.T, opts Options) *Document {
	t.Helper()
	d, err := New(sampleTree(), opts)
	require.NoError(t, err)
	return d
}

func TestRoundTrip(t *testing.T) {
	type tc struct {
		name string
		opts Options
	}
	var cases []tc
	ciphers := map[string]uuid.UUID{
		"aes":      crypto.CipherAES256,
		"twofish":  crypto.CipherTwofish,
		"chacha20": crypto.CipherChaCha20,
	}
	for cname, c := range ciphers {
		cases = append(cases, tc{"v3/" + cname, fastOptions(header.Major3, c, crypto.KdfAES)})
		for kname, k := range map[string]uuid.UUID{
			"aes":      crypto.KdfAES,
			"argon2d":  crypto.KdfArgon2d,
			"argon2id": crypto.KdfArgon2id,
		} {
			cases = append(cases, tc{"v4/" + cname + "/" + kname, fastOptions(header.Major4, c, k)})
		}
	}

	for _, c := range cases {
		for _, compression := range []header.Compression{header.CompressionNone, header.CompressionGzip} {
			t.Run(c.name+"/"+compression.String(), func(t *testing.T) {
				opts := c.opts
				opts.Compression = compression
				d := newDB(t, opts)

				data := encode(t, d, Password(testPassword))
				got, err := Open(bytes.NewReader(data), Password(testPassword))
				require.NoError(t, err)
				defer got.Close()

				assert.Equal(t, opts.Major, got.Major())
				cipher, err := got.Cipher()
				require.NoError(t, err)
				assert.Equal(t, opts.Cipher, cipher)
				assert.Equal(t, compression == header.CompressionGzip, got.Compressed())
				assert.Equal(t, "p&ss<word> \U0001F511", value(t, got, "Password"))
				assert.Equal(t, "first line\nsecond line", value(t, got, "Notes"))
				assert.Equal(t, "alice", value(t, got, "UserName"))
				assert.Len(t, got.TransformedKey(), crypto.TransformSize)
			})
		}
	}
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	assert.Equal(t, header.Major4, opts.Major)
	assert.Equal(t, crypto.CipherAES256, opts.Cipher)
	assert.Equal(t, crypto.KdfArgon2d, opts.KDF)
	assert.Equal(t, header.CompressionGzip, opts.Compression)
	assert.Equal(t, crypto.StreamChaCha20, opts.Stream)
	assert.NoError(t, opts.Validate())
}

func TestOptionsValidate(t *testing.T) {
	tests := map[string]struct {
		mutate func(*Options)
		check  func(error) bool
	}{
		"format 2":        {func(o *Options) { o.Major = 2 }, errors.IsUnsupported},
		"unknown cipher":  {func(o *Options) { o.Cipher = uuid.New() }, errors.IsUnsupported},
		"unknown kdf":     {func(o *Options) { o.KDF = uuid.New() }, errors.IsUnsupported},
		"arcfour stream":  {func(o *Options) { o.Stream = crypto.StreamArcFour }, errors.IsUnsupported},
		"argon2 in v3":    {func(o *Options) { o.Major = header.Major3 }, isValidation},
		"tiny memory":     {func(o *Options) { o.Argon2Memory = 1024 }, isValidation},
		"zero aes rounds": {func(o *Options) { o.KDF = crypto.KdfAES; o.AESRounds = 0 }, isValidation},
		"bad compression": {func(o *Options) { o.Compression = 7 }, isValidation},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			opts := fastOptions(header.Major4, crypto.CipherAES256, crypto.KdfArgon2d)
			tt.mutate(&opts)
			err := opts.Validate()
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error kind: %v", err)
		})
	}
}

func isValidation(err error) bool {
	var v *errors.ValidationError
	return errors.As(err, &v)
}

func TestNewWithoutTree(t *testing.T) {
	d, err := New(nil, fastOptions(header.Major4, crypto.CipherAES256, crypto.KdfAES))
	require.NoError(t, err)
	data := encode(t, d, Password(""))

	got, err := Open(bytes.NewReader(data), Password(""))
	require.NoError(t, err)
	assert.NotNil(t, got.Tree.FindElement("/KeePassFile/Root"))
}

func TestWrongCredentials(t *testing.T) {
	for _, major := range []uint16{header.Major3, header.Major4} {
		for _, cipher := range []uuid.UUID{crypto.CipherAES256, crypto.CipherChaCha20} {
			t.Run(crypto.CipherName(cipher), func(t *testing.T) {
				d := newDB(t, fastOptions(major, cipher, crypto.KdfAES))
				data := encode(t, d, Password(testPassword))

				_, err := Open(bytes.NewReader(data), Password("wrong"))
				require.Error(t, err)
				assert.True(t, errors.IsCredentials(err), "want credentials error, got %v", err)
				assert.False(t, errors.IsCorrupt(err))
			})
		}
	}
}

func TestNoCredentials(t *testing.T) {
	d := newDB(t, fastOptions(header.Major4, crypto.CipherAES256, crypto.KdfAES))
	data := encode(t, d, Password(testPassword))

	_, err := Open(bytes.NewReader(data), Credentials{})
	assert.ErrorIs(t, err, errors.ErrNoCredentials)

	err = d.Encode(&bytes.Buffer{}, Credentials{})
	assert.ErrorIs(t, err, errors.ErrNoCredentials)

	_, err = Open(bytes.NewReader(data), Credentials{TransformedKey: []byte{1, 2, 3}})
	assert.True(t, isValidation(err))
}

func TestKeyFileCredentials(t *testing.T) {
	kf, err := keyfile.Generate()
	require.NoError(t, err)
	pw := testPassword
	creds := Credentials{Password: &pw, KeyFile: kf}

	d := newDB(t, fastOptions(header.Major4, crypto.CipherAES256, crypto.KdfArgon2id))
	data := encode(t, d, creds)

	_, err = Open(bytes.NewReader(data), creds)
	require.NoError(t, err)

	_, err = Open(bytes.NewReader(data), Password(testPassword))
	assert.True(t, errors.IsCredentials(err))

	_, err = Open(bytes.NewReader(data), Credentials{KeyFile: kf})
	assert.True(t, errors.IsCredentials(err))
}

// withComment returns a database whose header carries a comment, plus the
// offset of the comment payload in the encoded file.
func withComment(t *testing.T, major uint16) ([]byte, int) {
	t.Helper()
	d := newDB(t, fastOptions(major, crypto.CipherAES256, crypto.KdfAES))
	comment := []byte("tamper-target-comment")
	d.Outer.Set(header.Comment, header.Opaque(comment))
	data := encode(t, d, Password(testPassword))
	off := bytes.Index(data, comment)
	require.Positive(t, off)
	return data, off
}

func TestHeaderTamper(t *testing.T) {
	t.Run("v4 header byte", func(t *testing.T) {
		data, off := withComment(t, header.Major4)
		data[off] ^= 0x01
		_, err := Open(bytes.NewReader(data), Password(testPassword))
		assert.ErrorIs(t, err, errors.ErrHeaderIntegrity)
	})

	t.Run("v4 header hmac", func(t *testing.T) {
		d := newDB(t, fastOptions(header.Major4, crypto.CipherAES256, crypto.KdfAES))
		data := encode(t, d, Password(testPassword))
		raw, err := d.Outer.Encode()
		require.NoError(t, err)
		data[len(raw)+header.HashSize] ^= 0x01

		_, err = Open(bytes.NewReader(data), Password(testPassword))
		assert.True(t, errors.IsCredentials(err), "got %v", err)
	})

	t.Run("v3 header byte", func(t *testing.T) {
		data, off := withComment(t, header.Major3)
		data[off] ^= 0x01
		_, err := Open(bytes.NewReader(data), Password(testPassword))
		assert.ErrorIs(t, err, errors.ErrHeaderIntegrity)
	})
}

func TestPayloadTamper(t *testing.T) {
	d := newDB(t, fastOptions(header.Major4, crypto.CipherAES256, crypto.KdfAES))
	data := encode(t, d, Password(testPassword))
	raw, err := d.Outer.Encode()
	require.NoError(t, err)

	payload := len(raw) + 2*header.HashSize
	tests := map[string][]byte{
		"first block data": flipAt(data, payload+crypto.MACSize+4+3),
		"first block tag":  flipAt(data, payload),
		"truncated":        data[:len(data)-1],
		"no terminator":    data[:len(data)-(crypto.MACSize+4)],
	}
	for name, tampered := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Open(bytes.NewReader(tampered), Password(testPassword))
			assert.ErrorIs(t, err, errors.ErrPayloadIntegrity)
		})
	}
}

func TestPayloadTamperFormat3(t *testing.T) {
	d := newDB(t, fastOptions(header.Major3, crypto.CipherAES256, crypto.KdfAES))
	d.Outer.Set(header.CompressionFlags, header.CompressionNone)
	data := encode(t, d, Password(testPassword))
	raw, err := d.Outer.Encode()
	require.NoError(t, err)

	const cbc = 16
	payload := len(raw)
	// The plaintext is 32 stream start bytes followed by hashed blocks with
	// a 40 byte header (index, SHA-256, length) each.
	blockData := payload + 32 + 40 + cbc
	require.Greater(t, len(data)-payload, blockData-payload+4*cbc)

	t.Run("hashed block data", func(t *testing.T) {
		_, err := Open(bytes.NewReader(flipAt(data, blockData)), Password(testPassword))
		assert.ErrorIs(t, err, errors.ErrPayloadIntegrity)
	})

	t.Run("stream start", func(t *testing.T) {
		_, err := Open(bytes.NewReader(flipAt(data, payload+3)), Password(testPassword))
		assert.True(t, errors.IsCredentials(err), "got %v", err)
	})

	t.Run("final block padding", func(t *testing.T) {
		// Flipping the top bit of the last byte of the second to last
		// ciphertext block sets the padding length above the block size.
		_, err := Open(bytes.NewReader(flipAt(data, len(data)-cbc-1)), Password(testPassword))
		assert.True(t, errors.IsCredentials(err), "got %v", err)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := Open(bytes.NewReader(data[:len(data)-1]), Password(testPassword))
		assert.True(t, errors.IsCredentials(err), "got %v", err)
	})
}

func flipAt(b []byte, i int) []byte {
	out := append([]byte(nil), b...)
	out[i] ^= 0x80
	return out
}

func TestSignatures(t *testing.T) {
	d := newDB(t, fastOptions(header.Major4, crypto.CipherAES256, crypto.KdfAES))
	data := encode(t, d, Password(testPassword))

	kp1 := append([]byte(nil), data...)
	kp1[4] = 0x65
	_, err := Open(bytes.NewReader(kp1), Password(testPassword))
	assert.True(t, errors.IsUnsupported(err), "got %v", err)

	bad := append([]byte(nil), data...)
	bad[0] ^= 0xFF
	_, err = Open(bytes.NewReader(bad), Password(testPassword))
	assert.True(t, errors.IsFormat(err), "got %v", err)

	_, err = Open(bytes.NewReader(data[:5]), Password(testPassword))
	assert.True(t, errors.IsFormat(err), "got %v", err)
}

func TestUnsupportedCipherOnOpen(t *testing.T) {
	d := newDB(t, fastOptions(header.Major4, crypto.CipherAES256, crypto.KdfAES))
	data := encode(t, d, Password(testPassword))

	aes := crypto.CipherAES256
	off := bytes.Index(data, aes[:])
	require.Positive(t, off)
	unknown := uuid.New()
	copy(data[off:], unknown[:])

	_, err := Open(bytes.NewReader(data), Password(testPassword))
	assert.True(t, errors.IsUnsupported(err), "got %v", err)
}

func TestResaveIsStable(t *testing.T) {
	for _, major := range []uint16{header.Major3, header.Major4} {
		d := newDB(t, fastOptions(major, crypto.CipherTwofish, crypto.KdfAES))
		first, err := Open(bytes.NewReader(encode(t, d, Password(testPassword))), Password(testPassword))
		require.NoError(t, err)
		before, err := first.XML()
		require.NoError(t, err)

		resaved := encode(t, first, Password(testPassword))
		second, err := Open(bytes.NewReader(resaved), Password(testPassword))
		require.NoError(t, err)

		if major == header.Major4 {
			after, err := second.XML()
			require.NoError(t, err)
			assert.Equal(t, string(before), string(after))
		}
		assert.Equal(t, value(t, first, "Password"), value(t, second, "Password"))
	}
}

func TestTransformedKeyReuse(t *testing.T) {
	for _, major := range []uint16{header.Major3, header.Major4} {
		d := newDB(t, fastOptions(major, crypto.CipherAES256, crypto.KdfAES))
		opened, err := Open(bytes.NewReader(encode(t, d, Password(testPassword))), Password(testPassword))
		require.NoError(t, err)

		before, err := opened.KDFParams()
		require.NoError(t, err)
		seed, _ := before.Bytes(crypto.ParamSalt)
		seed = append([]byte(nil), seed...)

		// Saving with the cached key keeps the KDF salt.
		data := encode(t, opened, Credentials{TransformedKey: opened.TransformedKey()})
		after, err := opened.KDFParams()
		require.NoError(t, err)
		kept, _ := after.Bytes(crypto.ParamSalt)
		assert.Equal(t, seed, kept)

		_, err = Open(bytes.NewReader(data), Password(testPassword))
		require.NoError(t, err)
		_, err = Open(bytes.NewReader(data), Credentials{TransformedKey: opened.TransformedKey()})
		require.NoError(t, err)

		// Saving with a password reseeds.
		encode(t, opened, Password(testPassword))
		reseeded, err := opened.KDFParams()
		require.NoError(t, err)
		fresh, _ := reseeded.Bytes(crypto.ParamSalt)
		assert.NotEqual(t, seed, fresh)
	}
}

func TestFailedEncodeLeavesDocumentUnchanged(t *testing.T) {
	for _, major := range []uint16{header.Major3, header.Major4} {
		d := newDB(t, fastOptions(major, crypto.CipherAES256, crypto.KdfAES))
		opened, err := Open(bytes.NewReader(encode(t, d, Password(testPassword))), Password(testPassword))
		require.NoError(t, err)
		tk := opened.TransformedKey()
		require.NotNil(t, tk)

		before, err := opened.Outer.Encode()
		require.NoError(t, err)
		params, err := opened.KDFParams()
		require.NoError(t, err)
		salt, _ := params.Bytes(crypto.ParamSalt)
		salt = append([]byte(nil), salt...)

		kf, err := keyfile.Generate()
		require.NoError(t, err)
		badKey := bytes.Replace(kf, []byte(`Hash="`), []byte(`Hash="0`), 1)
		pw := testPassword
		var sink bytes.Buffer
		err = opened.Encode(&sink, Credentials{Password: &pw, KeyFile: badKey})
		require.Error(t, err)

		after, err := opened.Outer.Encode()
		require.NoError(t, err)
		assert.Equal(t, before, after)
		params, err = opened.KDFParams()
		require.NoError(t, err)
		kept, _ := params.Bytes(crypto.ParamSalt)
		assert.Equal(t, salt, kept)
		assert.Equal(t, tk, opened.TransformedKey())

		data := encode(t, opened, Credentials{TransformedKey: tk})
		reopened, err := Open(bytes.NewReader(data), Password(testPassword))
		require.NoError(t, err)
		assert.Equal(t, "alice", value(t, reopened, "UserName"))
	}
}

func TestAttachments(t *testing.T) {
	d := newDB(t, fastOptions(header.Major4, crypto.CipherChaCha20, crypto.KdfAES))
	d.Attachments = []Attachment{
		{Protected: true, Data: []byte("secret attachment")},
		{Data: []byte{}},
		{Data: bytes.Repeat([]byte{0xAB}, 4096)},
	}

	got, err := Open(bytes.NewReader(encode(t, d, Password(testPassword))), Password(testPassword))
	require.NoError(t, err)
	require.Len(t, got.Attachments, 3)
	assert.True(t, got.Attachments[0].Protected)
	assert.Equal(t, []byte("secret attachment"), got.Attachments[0].Data)
	assert.False(t, got.Attachments[1].Protected)
	assert.Empty(t, got.Attachments[1].Data)
	assert.Equal(t, d.Attachments[2].Data, got.Attachments[2].Data)
}

func TestCustomDataAndStream(t *testing.T) {
	d := newDB(t, fastOptions(header.Major4, crypto.CipherAES256, crypto.KdfAES))
	assert.Nil(t, d.CustomData())

	got, err := Open(bytes.NewReader(encode(t, d, Password(testPassword))), Password(testPassword))
	require.NoError(t, err)
	assert.Nil(t, got.CustomData())
	id, err := got.StreamID()
	require.NoError(t, err)
	assert.Equal(t, crypto.StreamChaCha20, id)
}

func TestSaveFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.kdbx")
	d := newDB(t, fastOptions(header.Major4, crypto.CipherAES256, crypto.KdfAES))

	require.NoError(t, d.SaveFile(path, Password(testPassword)))
	_, err := os.Stat(path + ".incomplete")
	assert.True(t, os.IsNotExist(err))

	got, err := OpenFile(path, Password(testPassword))
	require.NoError(t, err)
	assert.Equal(t, "alice", value(t, got, "UserName"))

	// A failed save leaves the original in place and no temporary file.
	original, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Error(t, d.SaveFile(path, Credentials{}))
	current, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, original, current)
	_, err = os.Stat(path + ".incomplete")
	assert.True(t, os.IsNotExist(err))
}

func TestOpenFileMissing(t *testing.T) {
	_, err := OpenFile(filepath.Join(t.TempDir(), "missing.kdbx"), Password(testPassword))
	var fe *errors.FileError
	assert.True(t, errors.As(err, &fe))
}

func TestParseTree(t *testing.T) {
	_, err := ParseTree([]byte("<a x=y/>"))
	assert.True(t, errors.IsFormat(err))

	_, err = ParseTree([]byte(""))
	assert.True(t, errors.IsFormat(err))

	doc, err := ParseTree([]byte("<KeePassFile/>"))
	require.NoError(t, err)
	assert.Equal(t, "KeePassFile", doc.Root().Tag)
}
