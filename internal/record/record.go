// Package record converts between the harness record model and the wire value.
package record

import "bytes"

// Record maps field names to opaque values.
type Record map[string][]byte

// ToWire returns the wire value for r. Field bytes are passed through as is.
func ToWire(r Record) map[string][]byte {
	out := make(map[string][]byte, len(r))
	for field, value := range r {
		out[field] = value
	}
	return out
}

// FromWire returns the record held in a wire value. A nil value yields an
// empty record.
func FromWire(value map[string][]byte) Record {
	out := make(Record, len(value))
	for field, v := range value {
		out[field] = v
	}
	return out
}

// Equal reports whether a and b hold the same fields with byte-equal values.
func Equal(a, b Record) bool {
	if len(a) != len(b) {
		return false
	}
	for field, va := range a {
		vb, ok := b[field]
		if !ok || !bytes.Equal(va, vb) {
			return false
		}
	}
	return true
}

// Project keeps only the named fields of r. An empty field list keeps all.
func Project(r Record, fields []string) Record {
	if len(fields) == 0 {
		return r
	}
	out := make(Record, len(fields))
	for _, field := range fields {
		if v, ok := r[field]; ok {
			out[field] = v
		}
	}
	return out
}

// Fields returns the field names of r.
func (r Record) Fields() []string {
	fields := make([]string, 0, len(r))
	for field := range r {
		fields = append(fields, field)
	}
	return fields
}
