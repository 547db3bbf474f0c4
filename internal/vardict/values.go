package vardict

import "encoding/binary"

// UInt32 returns the UInt32 value stored under key.
func (d *Dictionary) UInt32(key string) (uint32, bool) {
	v, ok := d.typed(key, TypeUInt32)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint32(v), true
}

// UInt64 returns the UInt64 value stored under key.
func (d *Dictionary) UInt64(key string) (uint64, bool) {
	v, ok := d.typed(key, TypeUInt64)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint64(v), true
}

// Int32 returns the Int32 value stored under key.
func (d *Dictionary) Int32(key string) (int32, bool) {
	v, ok := d.typed(key, TypeInt32)
	if !ok {
		return 0, false
	}
	return int32(binary.LittleEndian.Uint32(v)), true
}

// Int64 returns the Int64 value stored under key.
func (d *Dictionary) Int64(key string) (int64, bool) {
	v, ok := d.typed(key, TypeInt64)
	if !ok {
		return 0, false
	}
	return int64(binary.LittleEndian.Uint64(v)), true
}

// Bool returns the Bool value stored under key.
func (d *Dictionary) Bool(key string) (bool, bool) {
	v, ok := d.typed(key, TypeBool)
	if !ok {
		return false, false
	}
	return v[0] != 0, true
}

// String returns the String value stored under key.
func (d *Dictionary) String(key string) (string, bool) {
	v, ok := d.typed(key, TypeString)
	if !ok {
		return "", false
	}
	return string(v), true
}

// Bytes returns the Bytes value stored under key. The slice is shared.
func (d *Dictionary) Bytes(key string) ([]byte, bool) {
	return d.typed(key, TypeBytes)
}

// SetUInt32 stores a UInt32 value.
func (d *Dictionary) SetUInt32(key string, v uint32) {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	d.Set(TypeUInt32, key, b)
}

// SetUInt64 stores a UInt64 value.
func (d *Dictionary) SetUInt64(key string, v uint64) {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	d.Set(TypeUInt64, key, b)
}

// SetInt32 stores an Int32 value.
func (d *Dictionary) SetInt32(key string, v int32) {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(v))
	d.Set(TypeInt32, key, b)
}

// SetInt64 stores an Int64 value.
func (d *Dictionary) SetInt64(key string, v int64) {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(v))
	d.Set(TypeInt64, key, b)
}

// SetBool stores a Bool value.
func (d *Dictionary) SetBool(key string, v bool) {
	b := []byte{0}
	if v {
		b[0] = 1
	}
	d.Set(TypeBool, key, b)
}

// SetString stores a String value.
func (d *Dictionary) SetString(key, v string) {
	d.Set(TypeString, key, []byte(v))
}

// SetBytes stores a copy of v as a Bytes value.
func (d *Dictionary) SetBytes(key string, v []byte) {
	d.Set(TypeBytes, key, append([]byte(nil), v...))
}
