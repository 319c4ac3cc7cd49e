package interfaces

import (
	"fmt"
	"time"
)

// Well-known record keys consumed by the provisioning core.
const (
	SerialKey = "serial"
	HWGenKey  = "hw_gen"
	HWRevKey  = "hw_rev"
	DevEUIKey = "devEUI"
	AppKeyKey = "appKey"
	NwkKeyKey = "nwkKey"
)

// Default schema for fields appended to a record that did not carry them yet.
const (
	DefaultFieldType     = "data"
	DefaultFieldEncoding = "string"
)

// Field is one key/type/encoding/value row of a provisioning record.
type Field struct {
	Key      string
	Type     string
	Encoding string
	Value    string
}

// Record is the persistent provisioning table of one physical device. Field order
// is significant and preserved on save.
type Record struct {
	Fields []Field

	// CRLF records whether the backing file used "\r\n" line terminators.
	CRLF bool
}

// index returns the position of key in the record or -1.
func (r *Record) index(key string) int {
	for i := range r.Fields {
		if r.Fields[i].Key == key {
			return i
		}
	}
	return -1
}

// GetField returns the field stored under key.
// Returns ErrFieldNotFound if the record has no such key.
func (r *Record) GetField(key string) (Field, error) {
	i := r.index(key)
	if i < 0 {
		return Field{}, fmt.Errorf("%w: %q", ErrFieldNotFound, key)
	}
	return r.Fields[i], nil
}

// Value returns the value stored under key and whether the key exists.
func (r *Record) Value(key string) (string, bool) {
	i := r.index(key)
	if i < 0 {
		return "", false
	}
	return r.Fields[i].Value, true
}

// Has reports whether the record contains key.
func (r *Record) Has(key string) bool {
	return r.index(key) >= 0
}

// SetField replaces the value of key in place, or appends a new field using the
// default schema (type "data", encoding "string") when the key is absent.
func (r *Record) SetField(key, value string) {
	r.SetFieldWithEncoding(key, DefaultFieldEncoding, value)
}

// SetFieldWithEncoding behaves like SetField but appends missing keys with the
// given encoding. Existing fields keep their type and encoding.
func (r *Record) SetFieldWithEncoding(key, encoding, value string) {
	if i := r.index(key); i >= 0 {
		r.Fields[i].Value = value
		return
	}
	r.Fields = append(r.Fields, Field{
		Key:      key,
		Type:     DefaultFieldType,
		Encoding: encoding,
		Value:    value,
	})
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	fields := make([]Field, len(r.Fields))
	copy(fields, r.Fields)
	return &Record{Fields: fields, CRLF: r.CRLF}
}

// AuditEntry is one immutable historical record of a provisioning event.
type AuditEntry struct {
	Serial    string
	DevEUI    string
	AppKey    string
	NwkKey    string
	HWGen     string
	HWRev     string
	Timestamp time.Time
}
