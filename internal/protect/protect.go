// Package protect masks and unmasks protected values in the inner XML document.
//
// A protected value is the text of any element carrying Protected="True".
// On disk the text is base64(plaintext XOR keystream); the keystream runs
// continuously across all protected values in document order.
package protect

import (
	"encoding/base64"
	"strings"
	"unicode/utf8"

	"github.com/beevik/etree"

	"kdbx-ng/internal/crypto"
	"kdbx-ng/internal/log"
)

// Attr is the attribute marking a protected element.
const Attr = "Protected"

// IsProtected reports whether el is marked as protected.
func IsProtected(el *etree.Element) bool {
	return strings.EqualFold(el.SelectAttrValue(Attr, ""), "True")
}

// walk calls fn for every protected element with non-empty text in document order.
func walk(el *etree.Element, fn func(*etree.Element)) {
	if el == nil {
		return
	}
	if IsProtected(el) && el.Text() != "" {
		fn(el)
	}
	for _, child := range el.ChildElements() {
		walk(child, fn)
	}
}

// Unprotect replaces every protected value in doc with its plaintext.
//
// A value that is not valid base64 is logged and left unchanged; it does not
// consume keystream. Characters that are invalid in XML 1.0 are removed from
// the decoded text. Returns the number of values decoded.
func Unprotect(doc *etree.Document, stream crypto.Stream) int {
	n := 0
	walk(doc.Root(), func(el *etree.Element) {
		masked, err := base64.StdEncoding.DecodeString(strings.TrimSpace(el.Text()))
		if err != nil {
			log.Warn("protected value is not base64, leaving it unchanged",
				log.String("element", el.GetPath()),
				log.Err(err))
			return
		}
		plain := make([]byte, len(masked))
		stream.XORKeyStream(plain, masked)
		el.SetText(StripInvalidXML(string(plain)))
		crypto.SecureZero(plain)
		n++
	})
	return n
}

// Protect returns a deep copy of doc in which every protected value is masked
// with stream and base64-encoded. doc itself keeps its plaintext.
func Protect(doc *etree.Document, stream crypto.Stream) *etree.Document {
	out := doc.Copy()
	walk(out.Root(), func(el *etree.Element) {
		plain := []byte(el.Text())
		masked := make([]byte, len(plain))
		stream.XORKeyStream(masked, plain)
		el.SetText(base64.StdEncoding.EncodeToString(masked))
		crypto.SecureZero(plain)
	})
	return out
}

// StripInvalidXML removes invalid UTF-8 sequences and characters outside the
// XML 1.0 Char production.
func StripInvalidXML(s string) string {
	valid := func(r rune) bool {
		return r == 0x09 || r == 0x0A || r == 0x0D ||
			r >= 0x20 && r <= 0xD7FF ||
			r >= 0xE000 && r <= 0xFFFD ||
			r >= 0x10000 && r <= 0x10FFFF
	}
	clean := true
	for _, r := range s {
		if r == utf8.RuneError || !valid(r) {
			clean = false
			break
		}
	}
	if clean {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		s = s[size:]
		if r == utf8.RuneError && size <= 1 {
			continue
		}
		if valid(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
