// Package header handles KDBX outer and inner header reading, writing and authentication.
// This is AUDIT-CRITICAL code - changes here directly affect file format compatibility.
//
// A header is a sequence of type-length-value items terminated by an End item:
//
//	id      u8
//	length  u16 LE (format 3 outer header) or u32 LE (format 4 outer and inner headers)
//	payload length bytes
//
// The outer header is preceded by a 12-byte prefix:
//
//	sig1  u32 LE  0x9AA2D903
//	sig2  u32 LE  0xB54BFB67
//	minor u16 LE
//	major u16 LE  3 or 4
package header

import "fmt"

// File signatures.
const (
	Sig1         uint32 = 0x9AA2D903
	Sig2         uint32 = 0xB54BFB67
	Sig2KeePass1 uint32 = 0xB54BFB65 // KeePass 1.x .kdb files
)

// Format major versions.
const (
	Major3 uint16 = 3
	Major4 uint16 = 4

	// Minor versions written for new files.
	Minor3 uint16 = 1
	Minor4 uint16 = 0
)

// PrefixSize is the length of the signature and version prefix.
const PrefixSize = 12

// EndPayload is the payload KeePass writes for the End item.
var EndPayload = []byte("\r\n\r\n")

// ID identifies a header item.
type ID byte

// Outer header item ids.
const (
	End                 ID = 0
	Comment             ID = 1
	CipherID            ID = 2
	CompressionFlags    ID = 3
	MasterSeed          ID = 4
	TransformSeed       ID = 5 // format 3
	TransformRounds     ID = 6 // format 3
	EncryptionIV        ID = 7
	ProtectedStreamKey  ID = 8 // format 3
	StreamStartBytes    ID = 9 // format 3
	InnerRandomStreamID ID = 10
	KdfParameters       ID = 11 // format 4
	PublicCustomData    ID = 12 // format 4
)

// Inner header item ids (format 4).
const (
	InnerEnd       ID = 0
	InnerStreamID  ID = 1
	InnerStreamKey ID = 2
	InnerBinary    ID = 3
)

// Kind selects how an item payload is interpreted.
type Kind int

const (
	KindOpaque Kind = iota
	KindCipherID
	KindCompression
	KindVarDict
	KindUInt32
	KindUInt64
	KindStreamID
	KindBinary
)

func (k Kind) String() string {
	switch k {
	case KindOpaque:
		return "opaque"
	case KindCipherID:
		return "cipher id"
	case KindCompression:
		return "compression"
	case KindVarDict:
		return "variant dictionary"
	case KindUInt32:
		return "uint32"
	case KindUInt64:
		return "uint64"
	case KindStreamID:
		return "stream id"
	case KindBinary:
		return "binary"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// itemSpec describes one known item id.
type itemSpec struct {
	Name   string
	Kind   Kind
	Lumped bool // may repeat; collected in order
}

// Schema maps item ids to their interpretation.
type Schema struct {
	name  string
	items map[ID]itemSpec
}

// OuterSchema describes the outer header of both format versions.
var OuterSchema = &Schema{
	name: "outer",
	items: map[ID]itemSpec{
		End:                 {Name: "End", Kind: KindOpaque},
		Comment:             {Name: "Comment", Kind: KindOpaque},
		CipherID:            {Name: "CipherID", Kind: KindCipherID},
		CompressionFlags:    {Name: "CompressionFlags", Kind: KindCompression},
		MasterSeed:          {Name: "MasterSeed", Kind: KindOpaque},
		TransformSeed:       {Name: "TransformSeed", Kind: KindOpaque},
		TransformRounds:     {Name: "TransformRounds", Kind: KindUInt64},
		EncryptionIV:        {Name: "EncryptionIV", Kind: KindOpaque},
		ProtectedStreamKey:  {Name: "ProtectedStreamKey", Kind: KindOpaque},
		StreamStartBytes:    {Name: "StreamStartBytes", Kind: KindOpaque},
		InnerRandomStreamID: {Name: "InnerRandomStreamID", Kind: KindStreamID},
		KdfParameters:       {Name: "KdfParameters", Kind: KindVarDict},
		PublicCustomData:    {Name: "PublicCustomData", Kind: KindVarDict},
	},
}

// InnerSchema describes the format 4 inner header.
var InnerSchema = &Schema{
	name: "inner",
	items: map[ID]itemSpec{
		InnerEnd:       {Name: "End", Kind: KindOpaque},
		InnerStreamID:  {Name: "InnerRandomStreamID", Kind: KindStreamID},
		InnerStreamKey: {Name: "InnerRandomStreamKey", Kind: KindOpaque},
		InnerBinary:    {Name: "Binary", Kind: KindBinary, Lumped: true},
	},
}

// spec returns the item spec for id. Unknown ids are opaque and may repeat.
func (s *Schema) spec(id ID) itemSpec {
	if it, ok := s.items[id]; ok {
		return it
	}
	return itemSpec{Name: fmt.Sprintf("Unknown(%d)", byte(id)), Kind: KindOpaque, Lumped: true}
}

// Name returns the item name for id.
func (s *Schema) Name(id ID) string {
	return s.spec(id).Name
}

// IsLumped reports whether id may occur more than once.
func (s *Schema) IsLumped(id ID) bool {
	return s.spec(id).Lumped
}
