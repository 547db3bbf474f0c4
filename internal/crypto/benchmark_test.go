package crypto

import (
	"testing"
)

// BenchmarkAESKDF measures AES-KDF throughput at a fixed round count.
func BenchmarkAESKDF(b *testing.B) {
	params := AESKDFParams(make([]byte, 32), 10000)
	composite := make([]byte, 32)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = DeriveTransformedKey(params, composite)
	}
}

// BenchmarkArgon2d measures Argon2d with the default database costs.
// This is intentionally slow.
func BenchmarkArgon2d(b *testing.B) {
	params := Argon2Params(KdfArgon2d, make([]byte, 32), DefaultArgon2Iterations, DefaultArgon2Memory, DefaultArgon2Parallelism)
	composite := make([]byte, 32)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = DeriveTransformedKey(params, composite)
	}
}

func benchmarkEncrypt(b *testing.B, name string) {
	key := make([]byte, 32)
	data := make([]byte, 1<<20)
	cipherID := CipherAES256
	switch name {
	case "twofish":
		cipherID = CipherTwofish
	case "chacha20":
		cipherID = CipherChaCha20
	}
	n, _ := IVSize(cipherID)
	iv := make([]byte, n)

	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Encrypt(cipherID, key, iv, data)
	}
}

// BenchmarkEncryptAES measures AES-256-CBC payload encryption (1 MiB).
func BenchmarkEncryptAES(b *testing.B) { benchmarkEncrypt(b, "aes") }

// BenchmarkEncryptTwofish measures Twofish-CBC payload encryption (1 MiB).
func BenchmarkEncryptTwofish(b *testing.B) { benchmarkEncrypt(b, "twofish") }

// BenchmarkEncryptChaCha20 measures ChaCha20 payload encryption (1 MiB).
func BenchmarkEncryptChaCha20(b *testing.B) { benchmarkEncrypt(b, "chacha20") }

// BenchmarkSalsaStream measures protected-value masking in 32-byte fields.
func BenchmarkSalsaStream(b *testing.B) {
	s, _ := NewStream(StreamSalsa20, make([]byte, 32))
	buf := make([]byte, 32)

	b.SetBytes(int64(len(buf)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.XORKeyStream(buf, buf)
	}
}
