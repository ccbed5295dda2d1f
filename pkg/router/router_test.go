package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lume-dev/lume/pkg/request"
	"github.com/lume-dev/lume/pkg/response"
)

// named returns a handler whose identity is recognizable via the
// response body.
func named(tag string) Handler {
	return func(*request.Request) *response.Response {
		return response.Text(tag)
	}
}

func TestLiteralAndParamResolution(t *testing.T) {
	r := New()
	require.NoError(t, r.Register([]string{"GET"}, "/led/<id>/brightness", named("led")))
	require.NoError(t, r.Register([]string{"GET"}, "/status", named("status")))

	m, err := r.Resolve("GET", "/led/7/brightness")
	require.NoError(t, err)
	assert.Equal(t, []request.PathParam{{Name: "id", Value: "7"}}, m.Params)

	m, err = r.Resolve("GET", "/status")
	require.NoError(t, err)
	assert.Empty(t, m.Params)
}

func TestRegistrationOrderWinsOverSpecificity(t *testing.T) {
	r := New()
	require.NoError(t, r.Register([]string{"GET"}, "/api/<id>", named("param")))
	require.NoError(t, r.Register([]string{"GET"}, "/api/static", named("literal")))

	m, err := r.Resolve("GET", "/api/static")
	require.NoError(t, err)
	assert.Equal(t, "/api/<id>", m.Route.Pattern(), "first-registered route wins")
	assert.Equal(t, []request.PathParam{{Name: "id", Value: "static"}}, m.Params)
}

func TestSingleWildcard(t *testing.T) {
	r := New()
	require.NoError(t, r.Register([]string{"GET"}, "/api/...", named("w")))

	m, err := r.Resolve("GET", "/api/123")
	require.NoError(t, err)
	assert.Empty(t, m.Params, "wildcard segments bind nothing")

	_, err = r.Resolve("GET", "/api/123/456")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = r.Resolve("GET", "/api/")
	assert.ErrorIs(t, err, ErrNotFound, "wildcard never matches an empty segment")

	_, err = r.Resolve("GET", "/api")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMultiWildcard(t *testing.T) {
	r := New()
	require.NoError(t, r.Register([]string{"GET"}, "/api/....", named("mw")))

	_, err := r.Resolve("GET", "/api/123")
	assert.NoError(t, err)

	_, err = r.Resolve("GET", "/api/123/456")
	assert.NoError(t, err)

	_, err = r.Resolve("GET", "/api/")
	assert.ErrorIs(t, err, ErrNotFound, "multi-wildcard never matches an empty segment")

	_, err = r.Resolve("GET", "/api")
	assert.ErrorIs(t, err, ErrNotFound, "multi-wildcard requires at least one segment")
}

func TestMethodNotAllowedOnlyAmongPathMatches(t *testing.T) {
	r := New()
	require.NoError(t, r.Register([]string{"GET"}, "/api", named("get-only")))

	_, err := r.Resolve("POST", "/api")
	assert.ErrorIs(t, err, ErrMethodNotAllowed)

	_, err = r.Resolve("POST", "/missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMethodScanContinuesPastPathMatch(t *testing.T) {
	r := New()
	require.NoError(t, r.Register([]string{"GET"}, "/thing/<id>", named("read")))
	require.NoError(t, r.Register([]string{"POST"}, "/thing/<id>", named("write")))

	m, err := r.Resolve("POST", "/thing/9")
	require.NoError(t, err)
	assert.Equal(t, "/thing/<id>", m.Route.Pattern())

	_, err = r.Resolve("DELETE", "/thing/9")
	assert.ErrorIs(t, err, ErrMethodNotAllowed)
}

func TestAppendSlash(t *testing.T) {
	r := New()
	require.NoError(t, r.Register([]string{"GET"}, "/docs", named("docs"), WithAppendSlash()))
	require.NoError(t, r.Register([]string{"GET"}, "/strict", named("strict")))

	_, err := r.Resolve("GET", "/docs")
	assert.NoError(t, err)
	_, err = r.Resolve("GET", "/docs/")
	assert.NoError(t, err)
	_, err = r.Resolve("GET", "/strict/")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRootPath(t *testing.T) {
	r := New()
	require.NoError(t, r.Register([]string{"GET"}, "/", named("root")))

	_, err := r.Resolve("GET", "/")
	assert.NoError(t, err)
	_, err = r.Resolve("GET", "/other")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMultipleMethodsAndDefault(t *testing.T) {
	r := New()
	require.NoError(t, r.Register([]string{"GET", "POST"}, "/form", named("form")))
	require.NoError(t, r.Register(nil, "/implicit", named("implicit")))

	_, err := r.Resolve("POST", "/form")
	assert.NoError(t, err)
	_, err = r.Resolve("GET", "/implicit")
	assert.NoError(t, err)
	_, err = r.Resolve("POST", "/implicit")
	assert.ErrorIs(t, err, ErrMethodNotAllowed)
}

func TestMultipleParamsBindInPatternOrder(t *testing.T) {
	r := New()
	require.NoError(t, r.Register([]string{"GET"}, "/dev/<device>/pin/<pin>", named("pins")))

	m, err := r.Resolve("GET", "/dev/esp32/pin/13")
	require.NoError(t, err)
	assert.Equal(t, []request.PathParam{
		{Name: "device", Value: "esp32"},
		{Name: "pin", Value: "13"},
	}, m.Params)
}

func TestBadPatterns(t *testing.T) {
	r := New()
	h := named("x")
	assert.ErrorIs(t, r.Register([]string{"GET"}, "nope", h), ErrBadPattern)
	assert.ErrorIs(t, r.Register([]string{"GET"}, "/a//b", h), ErrBadPattern)
	assert.ErrorIs(t, r.Register([]string{"GET"}, "/a/<>", h), ErrBadPattern)
	assert.ErrorIs(t, r.Register([]string{"GET"}, "/a", nil), ErrBadPattern)
}

func TestWildcardCombinedWithLiteralTail(t *testing.T) {
	r := New()
	require.NoError(t, r.Register([]string{"GET"}, "/a/.../c", named("mid")))

	_, err := r.Resolve("GET", "/a/b/c")
	assert.NoError(t, err)
	_, err = r.Resolve("GET", "/a/b/d")
	assert.ErrorIs(t, err, ErrNotFound)
}
