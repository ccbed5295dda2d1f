package request

import (
	"net/url"
	"strings"
)

// Params stores multi-valued string parameters (query string or form
// fields). Repeated keys accumulate; both the first value and the
// full list are exposed. Field order follows first appearance.
type Params struct {
	fields []string
	values map[string][]string
}

// NewParams creates an empty parameter set.
func NewParams() *Params {
	return &Params{values: make(map[string][]string)}
}

// ParseQuery decodes an URL query string ("r=255&g=0&g=16") into a
// parameter set. Keys without '=' get an empty value. Undecodable
// percent-escapes keep their raw form rather than failing: handlers
// on constrained targets prefer a degraded value over a dropped
// request.
func ParseQuery(query string) *Params {
	p := NewParams()
	for _, pair := range strings.Split(query, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		p.Add(unescapeQuery(key), unescapeQuery(value))
	}
	return p
}

// Add appends a value for the given field.
func (p *Params) Add(field, value string) {
	if p.values == nil {
		p.values = make(map[string][]string)
	}
	if _, seen := p.values[field]; !seen {
		p.fields = append(p.fields, field)
	}
	p.values[field] = append(p.values[field], value)
}

// Get returns the first value for the field, or "" if absent.
func (p *Params) Get(field string) string {
	if values := p.values[field]; len(values) > 0 {
		return values[0]
	}
	return ""
}

// GetDefault returns the first value, or def if the field is absent.
func (p *Params) GetDefault(field, def string) string {
	if values := p.values[field]; len(values) > 0 {
		return values[0]
	}
	return def
}

// GetList returns all values for the field, in arrival order.
func (p *Params) GetList(field string) []string {
	return p.values[field]
}

// Has reports whether the field is present.
func (p *Params) Has(field string) bool {
	_, ok := p.values[field]
	return ok
}

// Fields returns the field names in first-appearance order.
func (p *Params) Fields() []string {
	return p.fields
}

// Len returns the number of distinct fields.
func (p *Params) Len() int {
	return len(p.fields)
}

// String re-encodes the parameters as a query string.
func (p *Params) String() string {
	var b strings.Builder
	for _, field := range p.fields {
		for _, value := range p.values[field] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(field))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(value))
		}
	}
	return b.String()
}

func unescapeQuery(s string) string {
	decoded, err := url.QueryUnescape(s)
	if err != nil {
		return s
	}
	return decoded
}
