// Package keyfile handles key file detection and composite key construction.
// This is AUDIT-CRITICAL code - changes here directly affect key derivation.
//
// A key file contributes 32 bytes to the composite key. Its content is
// detected in this order:
//
//  1. XML version 1.0: base64 Key/Data
//  2. XML version 2.0: hex Key/Data (whitespace ignored) with a Hash
//     attribute holding hex(SHA-256(data)[:4])
//  3. exactly 32 bytes: used raw
//  4. exactly 64 hex characters: decoded
//  5. anything else: SHA-256 of the whole file
package keyfile

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/beevik/etree"

	"kdbx-ng/internal/crypto"
	"kdbx-ng/internal/errors"
	"kdbx-ng/internal/log"
)

// ContributionSize is the length of every key file contribution.
const ContributionSize = 32

// Load reads a key file from disk. The raw bytes are returned; use
// Contribution or Composite to interpret them.
func Load(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewFileError("read", path, err)
	}
	return data, nil
}

// Contribution computes the 32-byte key file contribution of data.
func Contribution(data []byte) ([]byte, error) {
	if key, ok, err := xmlContribution(data); ok || err != nil {
		return key, err
	}

	if len(data) == ContributionSize {
		return append([]byte(nil), data...), nil
	}
	if len(data) == 2*ContributionSize {
		if key, err := hex.DecodeString(string(data)); err == nil {
			return key, nil
		}
	}
	sum := sha256.Sum256(data)
	return sum[:], nil
}

// xmlContribution reports ok=false when data is not an XML key file at all,
// so the caller falls back to the binary rules.
func xmlContribution(data []byte) (key []byte, ok bool, err error) {
	trimmed := bytes.TrimLeftFunc(data, unicode.IsSpace)
	if len(trimmed) == 0 || trimmed[0] != '<' && !bytes.HasPrefix(trimmed, []byte("\xef\xbb\xbf<")) {
		return nil, false, nil
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, false, nil
	}
	root := doc.Root()
	if root == nil || root.Tag != "KeyFile" {
		return nil, false, nil
	}

	version := ""
	if v := root.FindElement("./Meta/Version"); v != nil {
		version = strings.TrimSpace(v.Text())
	}
	dataEl := root.FindElement("./Key/Data")
	if dataEl == nil {
		return nil, true, errors.Formatf("key file", "missing Key/Data element")
	}
	text := dataEl.Text()

	switch version {
	case "1.0", "1.00":
		key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(text))
		if err != nil {
			return nil, true, errors.NewFormatError("key file", fmt.Errorf("decode base64 data: %w", err))
		}
		log.Debug("key file detected", log.String("format", "xml 1.0"))
		return key, true, nil

	case "2.0", "2.00":
		key, err := hex.DecodeString(strings.Map(dropSpace, text))
		if err != nil {
			return nil, true, errors.NewFormatError("key file", fmt.Errorf("decode hex data: %w", err))
		}
		if want := dataEl.SelectAttrValue("Hash", ""); want != "" {
			sum := sha256.Sum256(key)
			if !strings.EqualFold(hex.EncodeToString(sum[:4]), strings.TrimSpace(want)) {
				return nil, true, errors.Formatf("key file", "data does not match its Hash attribute")
			}
		}
		log.Debug("key file detected", log.String("format", "xml 2.0"))
		return key, true, nil

	default:
		return nil, true, errors.NewUnsupportedError("key file version", version)
	}
}

func dropSpace(r rune) rune {
	if unicode.IsSpace(r) {
		return -1
	}
	return r
}

// Composite builds the composite key from the optional password and key file:
//
//	SHA-256(SHA-256(password) ‖ contribution)
//
// with absent sources omitted. At least one source is required.
func Composite(password *string, keyFile []byte) ([]byte, error) {
	if password == nil && keyFile == nil {
		return nil, errors.ErrNoCredentials
	}

	h := sha256.New()
	if password != nil {
		pw := sha256.Sum256([]byte(*password))
		h.Write(pw[:])
		crypto.SecureZero(pw[:])
	}
	if keyFile != nil {
		c, err := Contribution(keyFile)
		if err != nil {
			return nil, err
		}
		h.Write(c)
		crypto.SecureZero(c)
	}
	defer crypto.SecureZeroHash(h)
	return h.Sum(nil), nil
}

// Generate returns a new version 2.0 XML key file holding 32 random bytes.
func Generate() ([]byte, error) {
	key, err := crypto.RandomBytes(ContributionSize)
	if err != nil {
		return nil, err
	}
	defer crypto.SecureZero(key)
	return Marshal(key)
}

// Marshal encodes key as a version 2.0 XML key file.
func Marshal(key []byte) ([]byte, error) {
	sum := sha256.Sum256(key)
	hexKey := strings.ToUpper(hex.EncodeToString(key))

	// Eight-character groups, four per line, as KeePass writes them.
	var text strings.Builder
	text.WriteString("\n")
	for i := 0; i < len(hexKey); i += 32 {
		end := min(i+32, len(hexKey))
		line := hexKey[i:end]
		text.WriteString("\t\t\t")
		for j := 0; j < len(line); j += 8 {
			if j > 0 {
				text.WriteByte(' ')
			}
			text.WriteString(line[j:min(j+8, len(line))])
		}
		text.WriteString("\n")
	}
	text.WriteString("\t\t")

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="utf-8"`)
	root := doc.CreateElement("KeyFile")
	root.CreateElement("Meta").CreateElement("Version").SetText("2.0")
	data := root.CreateElement("Key").CreateElement("Data")
	data.CreateAttr("Hash", strings.ToUpper(hex.EncodeToString(sum[:4])))
	data.SetText(text.String())
	doc.IndentTabs()

	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("encode key file: %w", err)
	}
	return out, nil
}
