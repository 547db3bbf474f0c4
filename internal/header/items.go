package header

import (
	"github.com/google/uuid"

	"kdbx-ng/internal/crypto"
	"kdbx-ng/internal/errors"
	"kdbx-ng/internal/vardict"
)

// Item is one decoded header item.
type Item struct {
	ID    ID
	Value Value
}

// Header is an ordered item list read from or written to a file.
// Item order, including the End item and its payload, is preserved.
type Header struct {
	Major  uint16 // outer header only
	Minor  uint16 // outer header only
	Schema *Schema
	Items  []Item
}

// NewOuter returns an outer header for the given major version holding only
// the End item.
func NewOuter(major uint16) *Header {
	minor := Minor4
	if major == Major3 {
		minor = Minor3
	}
	return &Header{
		Major:  major,
		Minor:  minor,
		Schema: OuterSchema,
		Items:  []Item{{ID: End, Value: Opaque(EndPayload)}},
	}
}

// NewInner returns an empty inner header.
func NewInner() *Header {
	return &Header{
		Major:  Major4,
		Schema: InnerSchema,
		Items:  []Item{{ID: InnerEnd, Value: Opaque(nil)}},
	}
}

// Clone returns a copy of h with its own item list. Values are shared; they
// are replaced, never modified, by Set.
func (h *Header) Clone() *Header {
	if h == nil {
		return nil
	}
	out := *h
	out.Items = append([]Item(nil), h.Items...)
	return &out
}

// Get returns the value of the first item with id.
func (h *Header) Get(id ID) (Value, bool) {
	for _, it := range h.Items {
		if it.ID == id && !h.isEnd(it.ID) {
			return it.Value, true
		}
	}
	return nil, false
}

// All returns the values of every item with id, in order.
func (h *Header) All(id ID) []Value {
	var out []Value
	for _, it := range h.Items {
		if it.ID == id {
			out = append(out, it.Value)
		}
	}
	return out
}

// Set stores v under id. A unique id that is already present is replaced in
// place; otherwise the item is inserted before End.
func (h *Header) Set(id ID, v Value) {
	if !h.Schema.IsLumped(id) {
		for i := range h.Items {
			if h.Items[i].ID == id {
				h.Items[i].Value = v
				return
			}
		}
	}
	h.insert(Item{ID: id, Value: v})
}

// Add appends another item with id before End, regardless of lumping.
func (h *Header) Add(id ID, v Value) {
	h.insert(Item{ID: id, Value: v})
}

func (h *Header) insert(it Item) {
	for i := range h.Items {
		if h.isEnd(h.Items[i].ID) {
			h.Items = append(h.Items, Item{})
			copy(h.Items[i+1:], h.Items[i:])
			h.Items[i] = it
			return
		}
	}
	h.Items = append(h.Items, it)
}

// Remove deletes every item with id and returns how many were removed.
func (h *Header) Remove(id ID) int {
	kept := h.Items[:0]
	n := 0
	for _, it := range h.Items {
		if it.ID == id && !h.isEnd(id) {
			n++
			continue
		}
		kept = append(kept, it)
	}
	h.Items = kept
	return n
}

func (h *Header) isEnd(id ID) bool {
	return id == End
}

// Slot is the per-id view of a header: Unique for single items, Repeated for
// lumped ids.
type Slot interface {
	slot()
}

// Unique holds the item of a non-repeating id.
type Unique Item

// Repeated holds every item of a lumped id, in order.
type Repeated []Item

func (Unique) slot()   {}
func (Repeated) slot() {}

// Slots groups the items by id according to the schema.
func (h *Header) Slots() map[ID]Slot {
	out := make(map[ID]Slot, len(h.Items))
	for _, it := range h.Items {
		if h.Schema.IsLumped(it.ID) {
			rep, _ := out[it.ID].(Repeated)
			out[it.ID] = append(rep, it)
			continue
		}
		out[it.ID] = Unique(it)
	}
	return out
}

// Bytes returns the raw payload of an opaque item.
func (h *Header) Bytes(id ID) ([]byte, bool) {
	v, ok := h.Get(id)
	if !ok {
		return nil, false
	}
	return v.Bytes(), true
}

// UInt64 returns the value of a UInt64 item.
func (h *Header) UInt64(id ID) (uint64, bool) {
	v, ok := h.Get(id)
	if !ok {
		return 0, false
	}
	u, ok := v.(UInt64)
	return uint64(u), ok
}

// Cipher returns the payload cipher identifier.
func (h *Header) Cipher() (uuid.UUID, error) {
	v, ok := h.Get(CipherID)
	if !ok {
		return uuid.Nil, errors.Formatf("CipherID", "missing")
	}
	c, ok := v.(Cipher)
	if !ok {
		return uuid.Nil, errors.Formatf("CipherID", "holds %s value", v.Kind())
	}
	return c.UUID(), nil
}

// Compression returns the payload compression, CompressionNone if absent.
func (h *Header) Compression() Compression {
	v, ok := h.Get(CompressionFlags)
	if !ok {
		return CompressionNone
	}
	c, _ := v.(Compression)
	return c
}

// StreamID returns the protected-value stream id stored under id.
func (h *Header) StreamID(id ID) (crypto.StreamID, bool) {
	v, ok := h.Get(id)
	if !ok {
		return 0, false
	}
	s, ok := v.(Stream)
	return crypto.StreamID(s), ok
}

// VarDict returns the variant dictionary stored under id.
func (h *Header) VarDict(id ID) (*vardict.Dictionary, bool) {
	v, ok := h.Get(id)
	if !ok {
		return nil, false
	}
	d, ok := v.(VarDict)
	return d.Dictionary, ok
}

// Binaries returns the attachments of an inner header, in order.
func (h *Header) Binaries() []Binary {
	rep, _ := h.Slots()[InnerBinary].(Repeated)
	out := make([]Binary, 0, len(rep))
	for _, it := range rep {
		if b, ok := it.Value.(Binary); ok {
			out = append(out, b)
		}
	}
	return out
}
