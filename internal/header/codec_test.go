package header

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kdbx-ng/internal/crypto"
	"kdbx-ng/internal/errors"
)

func sampleOuter4() *Header {
	h := NewOuter(Major4)
	h.Set(CipherID, Cipher(crypto.CipherAES256))
	h.Set(CompressionFlags, CompressionGzip)
	h.Set(MasterSeed, Opaque(bytes.Repeat([]byte{0x11}, 32)))
	h.Set(EncryptionIV, Opaque(bytes.Repeat([]byte{0x22}, 16)))
	h.Set(KdfParameters, VarDict{crypto.AESKDFParams(bytes.Repeat([]byte{0x33}, 32), 1000)})
	return h
}

func sampleOuter3() *Header {
	h := NewOuter(Major3)
	h.Set(CipherID, Cipher(crypto.CipherTwofish))
	h.Set(CompressionFlags, CompressionNone)
	h.Set(MasterSeed, Opaque(bytes.Repeat([]byte{0x11}, 32)))
	h.Set(TransformSeed, Opaque(bytes.Repeat([]byte{0x44}, 32)))
	h.Set(TransformRounds, UInt64(6000))
	h.Set(EncryptionIV, Opaque(bytes.Repeat([]byte{0x22}, 16)))
	h.Set(ProtectedStreamKey, Opaque(bytes.Repeat([]byte{0x55}, 32)))
	h.Set(StreamStartBytes, Opaque(bytes.Repeat([]byte{0x66}, 32)))
	h.Set(InnerRandomStreamID, Stream(crypto.StreamSalsa20))
	return h
}

func sampleInner() *Header {
	h := NewInner()
	h.Set(InnerStreamID, Stream(crypto.StreamChaCha20))
	h.Set(InnerStreamKey, Opaque(bytes.Repeat([]byte{0x77}, 64)))
	h.Add(InnerBinary, Binary{Flags: BinaryProtected, Data: []byte("secret attachment")})
	h.Add(InnerBinary, Binary{Data: []byte("plain attachment")})
	return h
}

func TestOuterRoundTrip(t *testing.T) {
	for name, h := range map[string]*Header{"v4": sampleOuter4(), "v3": sampleOuter3()} {
		t.Run(name, func(t *testing.T) {
			enc, err := h.Encode()
			require.NoError(t, err)

			trailing := []byte("payload follows")
			got, raw, err := ReadOuter(bytes.NewReader(append(append([]byte(nil), enc...), trailing...)))
			require.NoError(t, err)
			assert.Equal(t, enc, raw, "raw must be exactly the header bytes")
			assert.Equal(t, h.Major, got.Major)
			assert.Equal(t, h.Minor, got.Minor)

			again, err := got.Encode()
			require.NoError(t, err)
			assert.Equal(t, enc, again)

			c, err := got.Cipher()
			require.NoError(t, err)
			want, _ := h.Cipher()
			assert.Equal(t, want, c)
			assert.Equal(t, h.Compression(), got.Compression())
		})
	}
}

func TestOuterTypedValues(t *testing.T) {
	enc, err := sampleOuter3().Encode()
	require.NoError(t, err)
	h, _, err := ReadOuter(bytes.NewReader(enc))
	require.NoError(t, err)

	rounds, ok := h.UInt64(TransformRounds)
	assert.True(t, ok)
	assert.Equal(t, uint64(6000), rounds)

	sid, ok := h.StreamID(InnerRandomStreamID)
	assert.True(t, ok)
	assert.Equal(t, crypto.StreamSalsa20, sid)

	enc4, _ := sampleOuter4().Encode()
	h4, _, err := ReadOuter(bytes.NewReader(enc4))
	require.NoError(t, err)
	kdf, ok := h4.VarDict(KdfParameters)
	require.True(t, ok)
	r, ok := kdf.UInt64(crypto.ParamRounds)
	assert.True(t, ok)
	assert.Equal(t, uint64(1000), r)
}

func TestInnerRoundTrip(t *testing.T) {
	h := sampleInner()
	enc, err := h.Encode()
	require.NoError(t, err)

	got, raw, err := ReadInner(bytes.NewReader(append(enc, "<xml/>"...)))
	require.NoError(t, err)
	assert.Equal(t, enc, raw)

	bins := got.Binaries()
	require.Len(t, bins, 2)
	assert.True(t, bins[0].Protected())
	assert.Equal(t, "secret attachment", string(bins[0].Data))
	assert.False(t, bins[1].Protected())
}

func TestUnknownItemPreserved(t *testing.T) {
	h := sampleOuter4()
	h.Add(ID(42), Opaque("vendor data"))
	enc, err := h.Encode()
	require.NoError(t, err)

	got, _, err := ReadOuter(bytes.NewReader(enc))
	require.NoError(t, err)
	v, ok := got.Get(ID(42))
	require.True(t, ok)
	assert.Equal(t, "vendor data", string(v.Bytes()))

	again, _ := got.Encode()
	assert.Equal(t, enc, again)
}

func prefix(sig1, sig2 uint32, minor, major uint16) []byte {
	b := make([]byte, PrefixSize)
	binary.LittleEndian.PutUint32(b[0:], sig1)
	binary.LittleEndian.PutUint32(b[4:], sig2)
	binary.LittleEndian.PutUint16(b[8:], minor)
	binary.LittleEndian.PutUint16(b[10:], major)
	return b
}

func TestReadOuterErrors(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		unsupported bool
	}{
		{"empty", nil, false},
		{"bad sig1", prefix(0x12345678, Sig2, 0, 4), false},
		{"bad sig2", prefix(Sig1, 0x12345678, 0, 4), false},
		{"keepass 1", prefix(Sig1, Sig2KeePass1, 0, 4), true},
		{"major 2", prefix(Sig1, Sig2, 0, 2), true},
		{"major 5", prefix(Sig1, Sig2, 0, 5), true},
		{"no items", prefix(Sig1, Sig2, 0, 4), false},
		{"truncated payload", append(prefix(Sig1, Sig2, 0, 4), byte(MasterSeed), 32, 0, 0, 0, 1, 2), false},
		{"cipher id wrong size", append(prefix(Sig1, Sig2, 0, 4), byte(CipherID), 2, 0, 0, 0, 1, 2), false},
		{"bad compression", append(prefix(Sig1, Sig2, 0, 4), byte(CompressionFlags), 4, 0, 0, 0, 2, 0, 0, 0), false},
		{"huge declared length", append(prefix(Sig1, Sig2, 0, 4), byte(Comment), 0xFF, 0xFF, 0xFF, 0x7F, 'x'), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ReadOuter(bytes.NewReader(tt.data))
			require.Error(t, err)
			if tt.unsupported {
				assert.True(t, errors.IsUnsupported(err), "got %v", err)
			} else {
				assert.True(t, errors.IsFormat(err), "got %v", err)
			}
		})
	}
}

func TestRepeatedUniqueItemLastWins(t *testing.T) {
	h := sampleOuter4()
	h.Set(Comment, Opaque("first"))
	h.Add(Comment, Opaque("second"))
	h.Add(MasterSeed, Opaque{1})
	enc, err := h.Encode()
	require.NoError(t, err)

	got, raw, err := ReadOuter(bytes.NewReader(enc))
	require.NoError(t, err)
	assert.Equal(t, enc, raw)

	comment, ok := got.Bytes(Comment)
	require.True(t, ok)
	assert.Equal(t, "second", string(comment))
	assert.Len(t, got.All(Comment), 1)

	seed, ok := got.Bytes(MasterSeed)
	require.True(t, ok)
	assert.Equal(t, []byte{1}, seed)
	assert.Len(t, got.Items, len(h.Items)-2)
}

func TestCloneIsIndependent(t *testing.T) {
	h := sampleOuter4()
	c := h.Clone()
	c.Set(MasterSeed, Opaque{9})
	c.Add(Comment, Opaque("only in clone"))

	seed, _ := h.Bytes(MasterSeed)
	assert.Equal(t, bytes.Repeat([]byte{0x11}, 32), seed)
	_, ok := h.Get(Comment)
	assert.False(t, ok)
	assert.Nil(t, (*Header)(nil).Clone())
}

func TestFormat3ItemLimit(t *testing.T) {
	h := NewOuter(Major3)
	h.Set(Comment, Opaque(make([]byte, 70000)))
	_, err := h.Encode()
	var verr *errors.ValidationError
	assert.True(t, errors.As(err, &verr), "got %v", err)

	h4 := NewOuter(Major4)
	h4.Set(Comment, Opaque(make([]byte, 70000)))
	_, err = h4.Encode()
	assert.NoError(t, err)
}

func TestEncodeAppendsEnd(t *testing.T) {
	h := &Header{Major: Major4, Schema: OuterSchema}
	h.Set(MasterSeed, Opaque{1, 2})
	enc, err := h.Encode()
	require.NoError(t, err)

	got, _, err := ReadOuter(bytes.NewReader(enc))
	require.NoError(t, err)
	require.Len(t, got.Items, 2)
	assert.Equal(t, End, got.Items[1].ID)
}

func TestCipherAccessorErrors(t *testing.T) {
	h := NewOuter(Major4)
	_, err := h.Cipher()
	assert.True(t, errors.IsFormat(err))

	h.Set(CipherID, Opaque{1})
	_, err = h.Cipher()
	assert.True(t, errors.IsFormat(err))

	h.Set(CipherID, Cipher(uuid.Nil))
	id, err := h.Cipher()
	assert.NoError(t, err)
	assert.Equal(t, uuid.Nil, id)
}

func TestWriter(t *testing.T) {
	var buf bytes.Buffer
	raw, err := NewWriter(&buf).WriteHeader(sampleOuter4())
	require.NoError(t, err)
	assert.Equal(t, buf.Bytes(), raw)

	major, minor, err := PeekVersion(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, Major4, major)
	assert.Equal(t, Minor4, minor)

	_, _, err = PeekVersion(bytes.NewReader([]byte("PK\x03\x04 not a database")))
	assert.True(t, errors.IsFormat(err), "got %v", err)

	_, err = NewWriter(failingWriter{}).WriteHeader(sampleOuter4())
	assert.Error(t, err)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestHeaderAuth(t *testing.T) {
	raw, err := sampleOuter4().Encode()
	require.NoError(t, err)
	base := bytes.Repeat([]byte{0xAB}, 64)

	assert.NoError(t, VerifyHash(raw, HeaderHash(raw)))
	assert.NoError(t, VerifyHMAC(raw, base, HeaderHMAC(raw, base)))

	tampered := append([]byte(nil), raw...)
	tampered[20] ^= 0x01
	assert.True(t, errors.Is(VerifyHash(tampered, HeaderHash(raw)), errors.ErrHeaderIntegrity))
	assert.True(t, errors.IsCredentials(VerifyHMAC(raw, bytes.Repeat([]byte{0xAC}, 64), HeaderHMAC(raw, base))))
}

func TestVerifyStreamStart(t *testing.T) {
	ssb := bytes.Repeat([]byte{7}, 32)
	assert.NoError(t, VerifyStreamStart(ssb, append(append([]byte(nil), ssb...), 1, 2, 3)))
	assert.True(t, errors.IsCredentials(VerifyStreamStart(ssb, make([]byte, 40))))
	assert.True(t, errors.IsCredentials(VerifyStreamStart(ssb, ssb[:10])))
}
