// Package headers implements the ordered, case-insensitive,
// multi-valued header collection shared by requests and responses.
package headers

import (
	"strings"
)

// Field is a single header name/value pair.
type Field struct {
	Name  string
	Value string
}

// Headers is an ordered collection of HTTP header fields.
// Lookups are case-insensitive; duplicate names accumulate rather
// than overwrite, preserving arrival order.
type Headers struct {
	fields []Field
}

// New creates an empty header collection.
func New() *Headers {
	return &Headers{}
}

// Add appends a field, keeping any existing fields with the same name.
func (h *Headers) Add(name, value string) {
	h.fields = append(h.fields, Field{Name: name, Value: value})
}

// Set replaces all fields with the given name by a single field.
func (h *Headers) Set(name, value string) {
	h.Del(name)
	h.Add(name, value)
}

// SetDefault adds the field only if no field with that name exists.
func (h *Headers) SetDefault(name, value string) {
	if !h.Has(name) {
		h.Add(name, value)
	}
}

// Del removes all fields with the given name.
func (h *Headers) Del(name string) {
	kept := h.fields[:0]
	for _, f := range h.fields {
		if !strings.EqualFold(f.Name, name) {
			kept = append(kept, f)
		}
	}
	h.fields = kept
}

// Get returns the first value for the given name, or "" if absent.
func (h *Headers) Get(name string) string {
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

// GetList returns all values for the given name, in arrival order.
func (h *Headers) GetList(name string) []string {
	var values []string
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			values = append(values, f.Value)
		}
	}
	return values
}

// Has reports whether at least one field with the given name exists.
func (h *Headers) Has(name string) bool {
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			return true
		}
	}
	return false
}

// GetDirective returns the first value with any parameters stripped.
//
// Example:
//
//	h.Get("Content-Type")          // "text/html; charset=utf-8"
//	h.GetDirective("Content-Type") // "text/html"
func (h *Headers) GetDirective(name string) string {
	value := h.Get(name)
	if value == "" {
		return ""
	}
	directive, _, _ := strings.Cut(value, ";")
	return strings.TrimSpace(directive)
}

// GetParameter returns the named parameter of the first value, or ""
// if the parameter is absent.
//
// Example:
//
//	h.Get("Content-Type")                       // "text/html; charset=utf-8"
//	h.GetParameter("Content-Type", "charset")   // "utf-8"
func (h *Headers) GetParameter(name, parameter string) string {
	value := h.Get(name)
	for _, part := range strings.Split(value, ";")[1:] {
		key, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		if strings.EqualFold(key, parameter) {
			return strings.Trim(val, `"`)
		}
	}
	return ""
}

// Fields returns the underlying fields in arrival order.
// The returned slice must not be modified.
func (h *Headers) Fields() []Field {
	return h.fields
}

// Len returns the number of fields.
func (h *Headers) Len() int {
	return len(h.fields)
}

// Clone returns a deep copy.
func (h *Headers) Clone() *Headers {
	clone := &Headers{fields: make([]Field, len(h.fields))}
	copy(clone.fields, h.fields)
	return clone
}

// ContainsToken reports whether the comma-separated value of the
// given header contains the token, compared case-insensitively.
// Used for fields like "Connection: keep-alive, Upgrade".
func (h *Headers) ContainsToken(name, token string) bool {
	for _, value := range h.GetList(name) {
		for _, part := range strings.Split(value, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}
