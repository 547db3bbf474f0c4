// Package vardict implements the self-describing typed key/value dictionary
// used for KDF parameters and public custom data in format 4 headers.
//
// Wire layout (all integers little-endian):
//
//	version  u16           0x0100; a major byte above 1 is unsupported
//	entries  repeated:
//	  type   u8            0x00 terminates the list
//	  keylen u32
//	  key    keylen bytes  UTF-8
//	  vallen u32
//	  value  vallen bytes
//
// Bytes following the terminator are kept as a trailer and written back,
// so Encode(Decode(b)) reproduces b exactly.
package vardict

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"kdbx-ng/internal/errors"
)

// Version is the dictionary format version written by New.
const Version uint16 = 0x0100

const versionMajorMask = 0xFF00

// Type identifies the encoding of an entry's value.
type Type byte

const (
	TypeEnd    Type = 0x00
	TypeUInt32 Type = 0x04
	TypeUInt64 Type = 0x05
	TypeBool   Type = 0x08
	TypeInt32  Type = 0x0C
	TypeInt64  Type = 0x0D
	TypeString Type = 0x18
	TypeBytes  Type = 0x42
)

func (t Type) String() string {
	switch t {
	case TypeUInt32:
		return "UInt32"
	case TypeUInt64:
		return "UInt64"
	case TypeBool:
		return "Bool"
	case TypeInt32:
		return "Int32"
	case TypeInt64:
		return "Int64"
	case TypeString:
		return "String"
	case TypeBytes:
		return "Bytes"
	default:
		return fmt.Sprintf("Type(0x%02x)", byte(t))
	}
}

// width returns the fixed value size of t, or -1 for variable-length types.
func (t Type) width() int {
	switch t {
	case TypeUInt32, TypeInt32:
		return 4
	case TypeUInt64, TypeInt64:
		return 8
	case TypeBool:
		return 1
	case TypeString, TypeBytes:
		return -1
	default:
		return 0
	}
}

// Entry is one typed value. Value holds the raw little-endian encoding.
type Entry struct {
	Type  Type
	Key   string
	Value []byte
}

// Dictionary is an ordered list of entries.
type Dictionary struct {
	Version uint16
	Entries []Entry
	Trailer []byte
}

// New returns an empty dictionary at the current version.
func New() *Dictionary {
	return &Dictionary{Version: Version}
}

// Decode parses a serialized dictionary.
func Decode(data []byte) (*Dictionary, error) {
	if len(data) < 2 {
		return nil, errors.Formatf("vardict", "need 2 version bytes, have %d", len(data))
	}
	d := &Dictionary{Version: binary.LittleEndian.Uint16(data)}
	if d.Version&versionMajorMask > Version&versionMajorMask {
		return nil, errors.NewUnsupportedError("vardict version", fmt.Sprintf("0x%04x", d.Version))
	}

	p := data[2:]
	for {
		if len(p) < 1 {
			return nil, errors.Formatf("vardict", "missing terminator")
		}
		typ := Type(p[0])
		p = p[1:]
		if typ == TypeEnd {
			break
		}
		if typ.width() == 0 {
			return nil, errors.Formatf("vardict", "unknown value type 0x%02x", byte(typ))
		}

		key, rest, err := readSized(p, "key")
		if err != nil {
			return nil, err
		}
		val, rest, err := readSized(rest, "value")
		if err != nil {
			return nil, err
		}
		p = rest

		if w := typ.width(); w > 0 && len(val) != w {
			return nil, errors.Formatf("vardict", "entry %q: %s value has %d bytes, want %d", key, typ, len(val), w)
		}
		d.Entries = append(d.Entries, Entry{
			Type:  typ,
			Key:   string(key),
			Value: append([]byte(nil), val...),
		})
	}
	if len(p) > 0 {
		d.Trailer = append([]byte(nil), p...)
	}
	return d, nil
}

func readSized(p []byte, what string) (field, rest []byte, err error) {
	if len(p) < 4 {
		return nil, nil, errors.Formatf("vardict", "truncated %s length", what)
	}
	n := binary.LittleEndian.Uint32(p)
	p = p[4:]
	if uint64(n) > uint64(len(p)) {
		return nil, nil, errors.Formatf("vardict", "%s length %d exceeds remaining %d bytes", what, n, len(p))
	}
	return p[:n], p[n:], nil
}

// Encode serializes the dictionary. A new dictionary ends at the 0x00
// terminator; a trailer read by Decode is written back after it unchanged.
func (d *Dictionary) Encode() []byte {
	var buf bytes.Buffer
	var scratch [4]byte

	binary.LittleEndian.PutUint16(scratch[:2], d.Version)
	buf.Write(scratch[:2])
	for _, e := range d.Entries {
		buf.WriteByte(byte(e.Type))
		binary.LittleEndian.PutUint32(scratch[:], uint32(len(e.Key)))
		buf.Write(scratch[:])
		buf.WriteString(e.Key)
		binary.LittleEndian.PutUint32(scratch[:], uint32(len(e.Value)))
		buf.Write(scratch[:])
		buf.Write(e.Value)
	}
	buf.WriteByte(byte(TypeEnd))
	buf.Write(d.Trailer)
	return buf.Bytes()
}

// Clone returns a deep copy of d.
func (d *Dictionary) Clone() *Dictionary {
	if d == nil {
		return nil
	}
	c := &Dictionary{Version: d.Version, Entries: make([]Entry, len(d.Entries))}
	for i, e := range d.Entries {
		c.Entries[i] = Entry{Type: e.Type, Key: e.Key, Value: append([]byte(nil), e.Value...)}
	}
	if d.Trailer != nil {
		c.Trailer = append([]byte(nil), d.Trailer...)
	}
	return c
}

// Len returns the number of entries.
func (d *Dictionary) Len() int {
	return len(d.Entries)
}

// Get returns the entry stored under key.
func (d *Dictionary) Get(key string) (Entry, bool) {
	for _, e := range d.Entries {
		if e.Key == key {
			return e, true
		}
	}
	return Entry{}, false
}

// Delete removes key, reporting whether it was present.
func (d *Dictionary) Delete(key string) bool {
	for i, e := range d.Entries {
		if e.Key == key {
			d.Entries = append(d.Entries[:i], d.Entries[i+1:]...)
			return true
		}
	}
	return false
}

// Set stores a raw entry, replacing an existing key in place.
func (d *Dictionary) Set(typ Type, key string, value []byte) {
	for i := range d.Entries {
		if d.Entries[i].Key == key {
			d.Entries[i] = Entry{Type: typ, Key: key, Value: value}
			return
		}
	}
	d.Entries = append(d.Entries, Entry{Type: typ, Key: key, Value: value})
}

func (d *Dictionary) typed(key string, typ Type) ([]byte, bool) {
	e, ok := d.Get(key)
	if !ok || e.Type != typ {
		return nil, false
	}
	return e.Value, true
}
