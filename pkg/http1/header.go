// Package http1 writes HTTP/1.1 requests and parses responses over a raw
// connection.
package http1

import (
	"strings"
)

// Field is a single header line.
type Field struct {
	Name  string
	Value string
}

// Header is an ordered list of header fields with case-insensitive lookup.
// Field names keep the spelling they were added with so a parsed header can
// be written back unchanged.
type Header struct {
	fields []Field
}

// Add appends a field.
func (h *Header) Add(name, value string) {
	h.fields = append(h.fields, Field{Name: name, Value: value})
}

// Set replaces the first field called name and drops any later ones. If there
// is none the field is appended.
func (h *Header) Set(name, value string) {
	kept := h.fields[:0]
	replaced := false
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			if replaced {
				continue
			}
			f.Value = value
			replaced = true
		}
		kept = append(kept, f)
	}
	h.fields = kept
	if !replaced {
		h.Add(name, value)
	}
}

// SetDefault sets name only if it is not present yet.
func (h *Header) SetDefault(name, value string) {
	if !h.Has(name) {
		h.Add(name, value)
	}
}

// Get returns the first value for name, or "".
func (h Header) Get(name string) string {
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

// Values returns all values for name in order.
func (h Header) Values(name string) []string {
	var out []string
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			out = append(out, f.Value)
		}
	}
	return out
}

// Has reports whether a field called name exists.
func (h Header) Has(name string) bool {
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			return true
		}
	}
	return false
}

// Del removes every field called name.
func (h *Header) Del(name string) {
	kept := h.fields[:0]
	for _, f := range h.fields {
		if !strings.EqualFold(f.Name, name) {
			kept = append(kept, f)
		}
	}
	h.fields = kept
}

// Fields returns a copy of the fields in order.
func (h Header) Fields() []Field {
	return append([]Field(nil), h.fields...)
}

// Len returns the number of fields.
func (h Header) Len() int {
	return len(h.fields)
}

// Clone returns an independent copy.
func (h Header) Clone() Header {
	return Header{fields: h.Fields()}
}

// String renders the header block without the terminating blank line.
func (h Header) String() string {
	var b strings.Builder
	for _, f := range h.fields {
		b.WriteString(f.Name)
		b.WriteString(": ")
		b.WriteString(f.Value)
		b.WriteString("\r\n")
	}
	return b.String()
}
