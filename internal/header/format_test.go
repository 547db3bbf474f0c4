package header

import (
	"testing"
)

func TestSchemaLookup(t *testing.T) {
	tests := []struct {
		schema *Schema
		id     ID
		name   string
		kind   Kind
		lumped bool
	}{
		{OuterSchema, CipherID, "CipherID", KindCipherID, false},
		{OuterSchema, CompressionFlags, "CompressionFlags", KindCompression, false},
		{OuterSchema, TransformRounds, "TransformRounds", KindUInt64, false},
		{OuterSchema, KdfParameters, "KdfParameters", KindVarDict, false},
		{OuterSchema, InnerRandomStreamID, "InnerRandomStreamID", KindStreamID, false},
		{OuterSchema, ID(200), "Unknown(200)", KindOpaque, true},
		{InnerSchema, InnerBinary, "Binary", KindBinary, true},
		{InnerSchema, InnerStreamKey, "InnerRandomStreamKey", KindOpaque, false},
	}

	for _, tt := range tests {
		spec := tt.schema.spec(tt.id)
		if spec.Name != tt.name || spec.Kind != tt.kind || spec.Lumped != tt.lumped {
			t.Errorf("%s schema id %d = %+v; want %s/%v/%v", tt.schema.name, tt.id, spec, tt.name, tt.kind, tt.lumped)
		}
	}
}

func TestKindString(t *testing.T) {
	if KindVarDict.String() != "variant dictionary" {
		t.Errorf("unexpected name %q", KindVarDict.String())
	}
	if Kind(42).String() != "Kind(42)" {
		t.Errorf("unexpected name %q", Kind(42).String())
	}
}

func TestNewOuterDefaults(t *testing.T) {
	h3 := NewOuter(Major3)
	if h3.Minor != Minor3 {
		t.Errorf("format 3 minor = %d", h3.Minor)
	}
	h4 := NewOuter(Major4)
	if h4.Minor != Minor4 {
		t.Errorf("format 4 minor = %d", h4.Minor)
	}
	if len(h4.Items) != 1 || h4.Items[0].ID != End {
		t.Fatal("new header should hold only End")
	}
	if string(h4.Items[0].Value.Bytes()) != "\r\n\r\n" {
		t.Error("End payload should be CRLF CRLF")
	}
}

func TestSetInsertsBeforeEnd(t *testing.T) {
	h := NewOuter(Major4)
	h.Set(MasterSeed, Opaque{1, 2, 3})
	h.Set(EncryptionIV, Opaque{4})
	h.Set(MasterSeed, Opaque{9})

	if len(h.Items) != 3 {
		t.Fatalf("got %d items, want 3", len(h.Items))
	}
	if h.Items[0].ID != MasterSeed || h.Items[1].ID != EncryptionIV || h.Items[2].ID != End {
		t.Errorf("unexpected order: %+v", h.Items)
	}
	seed, _ := h.Bytes(MasterSeed)
	if len(seed) != 1 || seed[0] != 9 {
		t.Error("Set should replace a unique item in place")
	}

	if n := h.Remove(MasterSeed); n != 1 {
		t.Errorf("Remove returned %d", n)
	}
	if _, ok := h.Get(MasterSeed); ok {
		t.Error("item still present after Remove")
	}
}

func TestSlots(t *testing.T) {
	h := NewInner()
	h.Set(InnerStreamID, Stream(3))
	h.Add(InnerBinary, Binary{Data: []byte("a")})
	h.Add(InnerBinary, Binary{Flags: BinaryProtected, Data: []byte("b")})

	slots := h.Slots()
	if _, ok := slots[InnerStreamID].(Unique); !ok {
		t.Error("stream id should be a unique slot")
	}
	rep, ok := slots[InnerBinary].(Repeated)
	if !ok || len(rep) != 2 {
		t.Fatalf("binary slot = %#v", slots[InnerBinary])
	}

	bins := h.Binaries()
	if len(bins) != 2 || bins[0].Protected() || !bins[1].Protected() {
		t.Errorf("unexpected binaries %+v", bins)
	}
}
