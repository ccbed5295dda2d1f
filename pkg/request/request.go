// Package request models a parsed HTTP/1.1 request and the
// incremental parser that assembles one from non-blocking reads.
package request

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/lume-dev/lume/pkg/headers"
)

// Sentinel errors for request handling.
var (
	// ErrMalformedRequest is returned when the byte stream violates
	// the HTTP/1.1 grammar. The server answers 400 and closes.
	ErrMalformedRequest = errors.New("request: malformed request")

	// ErrRequestTooLarge is returned when headers or body exceed the
	// configured limits. The server answers 413 and closes.
	ErrRequestTooLarge = errors.New("request: request too large")

	// ErrNoBody is returned by JSON when the request carries no body.
	ErrNoBody = errors.New("request: no body")
)

// PathParam is one route parameter bound during routing, in pattern
// order. Values are always strings.
type PathParam struct {
	Name  string
	Value string
}

// Request is a fully parsed incoming request. It is immutable once
// the parser completes it and belongs to exactly one connection.
type Request struct {
	// Method is the request method, e.g. "GET".
	Method string

	// Path is the decoded request path, e.g. "/led/strip 1".
	Path string

	// RawPath is the path as received, before percent-decoding.
	RawPath string

	// HTTPVersion is e.g. "HTTP/1.1".
	HTTPVersion string

	// QueryParams holds the decoded query string parameters.
	QueryParams *Params

	// Headers holds the request headers, ordered, case-insensitive.
	Headers *headers.Headers

	// Body is the request body. For chunked requests the chunks are
	// already concatenated into one logical body.
	Body []byte

	// ClientAddr is the remote address of the connection.
	ClientAddr string

	// PathParams are the route parameters bound by the router.
	PathParams []PathParam

	// Size is the number of wire bytes this request consumed.
	Size int

	cookies  map[string]string
	formData *Params
}

// PathParam returns the named route parameter.
func (r *Request) PathParam(name string) (string, bool) {
	for _, p := range r.PathParams {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

// Cookies returns the request cookies, parsed lazily from the
// Cookie header. A repeated name keeps the last value.
func (r *Request) Cookies() map[string]string {
	if r.cookies == nil {
		r.cookies = parseCookies(r.Headers.Get("Cookie"))
	}
	return r.cookies
}

// FormData decodes an "application/x-www-form-urlencoded" or
// "text/plain" POST body into parameters, lazily. Other methods and
// content types yield an empty set.
func (r *Request) FormData() *Params {
	if r.formData != nil {
		return r.formData
	}
	r.formData = NewParams()
	if r.Method != "POST" {
		return r.formData
	}
	switch r.Headers.GetDirective("Content-Type") {
	case "application/x-www-form-urlencoded":
		r.formData = ParseQuery(strings.Trim(string(r.Body), "&"))
	case "text/plain":
		for _, line := range strings.Split(string(r.Body), "\r\n") {
			if name, value, ok := strings.Cut(line, "="); ok {
				r.formData.Add(name, value)
			}
		}
	}
	return r.formData
}

// JSON unmarshals the request body into v.
func (r *Request) JSON(v any) error {
	if len(r.Body) == 0 {
		return ErrNoBody
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("request: decoding json body: %w", err)
	}
	return nil
}

// ClientIP returns the client address without the port.
func (r *Request) ClientIP() string {
	if i := strings.LastIndex(r.ClientAddr, ":"); i >= 0 {
		return strings.Trim(r.ClientAddr[:i], "[]")
	}
	return r.ClientAddr
}

func parseCookies(header string) map[string]string {
	cookies := make(map[string]string)
	if header == "" {
		return cookies
	}
	for _, part := range strings.Split(header, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || name == "" {
			continue
		}
		cookies[name] = strings.Trim(value, `"`)
	}
	return cookies
}

// unescapePath decodes percent-escapes in a path, leaving the raw
// text in place when an escape is invalid.
func unescapePath(path string) string {
	if !strings.Contains(path, "%") {
		return path
	}
	decoded, err := url.PathUnescape(path)
	if err != nil {
		return path
	}
	return decoded
}
