package request

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedAll(t *testing.T, p *Parser, raw string, chunkLen int) {
	t.Helper()
	data := []byte(raw)
	for len(data) > 0 {
		n := chunkLen
		if n > len(data) {
			n = len(data)
		}
		require.NoError(t, p.Feed(data[:n]))
		data = data[n:]
	}
}

func TestParseSimpleGet(t *testing.T) {
	p := NewParser("10.0.0.1:4242", Limits{})
	require.NoError(t, p.Feed([]byte("GET /change?r=255&g=0 HTTP/1.1\r\nHost: led.local\r\n\r\n")))

	require.True(t, p.Done())
	req := p.Request()
	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, "/change", req.Path)
	assert.Equal(t, "HTTP/1.1", req.HTTPVersion)
	assert.Equal(t, "255", req.QueryParams.Get("r"))
	assert.Equal(t, "0", req.QueryParams.Get("g"))
	assert.Equal(t, "led.local", req.Headers.Get("host"))
	assert.Empty(t, req.Body)
	assert.Equal(t, "10.0.0.1:4242", req.ClientAddr)
	assert.Equal(t, "10.0.0.1", req.ClientIP())
}

// A request split at any byte position must parse identically to one
// delivered in a single read.
func TestParseAnySplitEquivalent(t *testing.T) {
	raw := "POST /api/items?tag=a&tag=b HTTP/1.1\r\n" +
		"Host: example\r\n" +
		"Content-Type: application/json\r\n" +
		"Content-Length: 13\r\n" +
		"\r\n" +
		`{"count": 42}`

	whole := NewParser("c:1", Limits{})
	require.NoError(t, whole.Feed([]byte(raw)))
	require.True(t, whole.Done())
	want := whole.Request()

	for chunkLen := 1; chunkLen <= len(raw); chunkLen++ {
		p := NewParser("c:1", Limits{})
		feedAll(t, p, raw, chunkLen)
		require.True(t, p.Done(), "chunk length %d", chunkLen)

		got := p.Request()
		assert.Equal(t, want.Method, got.Method)
		assert.Equal(t, want.Path, got.Path)
		assert.Equal(t, want.Body, got.Body)
		assert.Equal(t, want.Size, got.Size)
		assert.Equal(t, []string{"a", "b"}, got.QueryParams.GetList("tag"))
		assert.Equal(t, want.Headers.Fields(), got.Headers.Fields())
	}
}

func TestParseChunkedBody(t *testing.T) {
	raw := "POST /upload HTTP/1.1\r\n" +
		"Transfer-Encoding: chunked\r\n" +
		"\r\n" +
		"4\r\nWiki\r\n" +
		"5\r\npedia\r\n" +
		"e\r\n in\r\n\r\nchunks.\r\n" +
		"0\r\n\r\n"

	for _, chunkLen := range []int{len(raw), 1, 3, 7} {
		p := NewParser("c:1", Limits{})
		feedAll(t, p, raw, chunkLen)
		require.True(t, p.Done(), "chunk length %d", chunkLen)
		assert.Equal(t, "Wikipedia in\r\n\r\nchunks.", string(p.Request().Body))
	}
}

func TestParseChunkedIgnoresExtensionsAndTrailers(t *testing.T) {
	raw := "POST /upload HTTP/1.1\r\n" +
		"Transfer-Encoding: chunked\r\n" +
		"\r\n" +
		"5;ext=1\r\nhello\r\n" +
		"0\r\n" +
		"Expires: never\r\n" +
		"\r\n"

	p := NewParser("c:1", Limits{})
	require.NoError(t, p.Feed([]byte(raw)))
	require.True(t, p.Done())
	assert.Equal(t, "hello", string(p.Request().Body))
}

func TestParseDuplicateHeadersAccumulate(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nAccept: text/html\r\nAccept: application/json\r\n\r\n"
	p := NewParser("c:1", Limits{})
	require.NoError(t, p.Feed([]byte(raw)))
	require.True(t, p.Done())
	assert.Equal(t, []string{"text/html", "application/json"},
		p.Request().Headers.GetList("Accept"))
}

func TestParsePercentDecodedPath(t *testing.T) {
	p := NewParser("c:1", Limits{})
	require.NoError(t, p.Feed([]byte("GET /led%20strip/on HTTP/1.1\r\n\r\n")))
	require.True(t, p.Done())
	assert.Equal(t, "/led strip/on", p.Request().Path)
	assert.Equal(t, "/led%20strip/on", p.Request().RawPath)
}

func TestParseMalformed(t *testing.T) {
	cases := map[string]string{
		"unknown method":     "BREW /pot HTTP/1.1\r\n\r\n",
		"relative path":      "GET change HTTP/1.1\r\n\r\n",
		"missing version":    "GET /\r\n\r\n",
		"bad version":        "GET / SPDY/3\r\n\r\n",
		"missing colon":      "GET / HTTP/1.1\r\nHost example\r\n\r\n",
		"empty header name":  "GET / HTTP/1.1\r\n: value\r\n\r\n",
		"bad content length": "GET / HTTP/1.1\r\nContent-Length: ten\r\n\r\n",
		"bad chunk size":     "POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\nzz\r\n",
	}
	for name, raw := range cases {
		p := NewParser("c:1", Limits{})
		err := p.Feed([]byte(raw))
		assert.ErrorIs(t, err, ErrMalformedRequest, name)
		assert.False(t, p.Done(), name)
		// Once failed, the parser stays failed.
		assert.ErrorIs(t, p.Feed([]byte("GET / HTTP/1.1\r\n\r\n")), ErrMalformedRequest, name)
	}
}

func TestParseTooLarge(t *testing.T) {
	limits := Limits{MaxHeaderBytes: 64, MaxBodyBytes: 8}

	p := NewParser("c:1", limits)
	long := "GET / HTTP/1.1\r\nX-Pad: aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa\r\n\r\n"
	assert.ErrorIs(t, p.Feed([]byte(long)), ErrRequestTooLarge)

	p = NewParser("c:1", limits)
	assert.ErrorIs(t,
		p.Feed([]byte("POST / HTTP/1.1\r\nContent-Length: 9\r\n\r\n123456789")),
		ErrRequestTooLarge)

	p = NewParser("c:1", limits)
	assert.ErrorIs(t,
		p.Feed([]byte("POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n9\r\n123456789\r\n0\r\n\r\n")),
		ErrRequestTooLarge)
}

// The request line limit applies even when the whole line arrives in
// a single read.
func TestParseTooLargeRequestLineInOneFeed(t *testing.T) {
	p := NewParser("c:1", Limits{MaxHeaderBytes: 64, MaxBodyBytes: 8})
	long := "GET /" + strings.Repeat("a", 512) + " HTTP/1.1\r\n\r\n"
	assert.ErrorIs(t, p.Feed([]byte(long)), ErrRequestTooLarge)
	assert.False(t, p.Done())
}

// A chunk-size or trailer line that never terminates must not buffer
// without bound.
func TestParseTooLargeUnterminatedChunkLines(t *testing.T) {
	limits := Limits{MaxHeaderBytes: 64, MaxBodyBytes: 1024}
	flood := strings.Repeat("a", 4096) // no CRLF in sight

	p := NewParser("c:1", limits)
	require.NoError(t, p.Feed([]byte("POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n")))
	assert.ErrorIs(t, p.Feed([]byte(flood)), ErrRequestTooLarge)

	p = NewParser("c:1", limits)
	require.NoError(t, p.Feed([]byte("POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n0\r\n")))
	assert.ErrorIs(t, p.Feed([]byte(flood)), ErrRequestTooLarge)
}

func TestCookies(t *testing.T) {
	p := NewParser("c:1", Limits{})
	require.NoError(t, p.Feed([]byte("GET / HTTP/1.1\r\nCookie: foo=bar; baz=\"qux\"; foo=quux\r\n\r\n")))
	require.True(t, p.Done())

	cookies := p.Request().Cookies()
	assert.Equal(t, "quux", cookies["foo"])
	assert.Equal(t, "qux", cookies["baz"])
}

func TestFormData(t *testing.T) {
	raw := "POST /form HTTP/1.1\r\n" +
		"Content-Type: application/x-www-form-urlencoded\r\n" +
		"Content-Length: 21\r\n\r\n" +
		"foo=bar&baz=qux&baz=1"
	p := NewParser("c:1", Limits{})
	require.NoError(t, p.Feed([]byte(raw)))
	require.True(t, p.Done())

	form := p.Request().FormData()
	assert.Equal(t, "bar", form.Get("foo"))
	assert.Equal(t, []string{"qux", "1"}, form.GetList("baz"))
}

func TestJSON(t *testing.T) {
	raw := "POST /api HTTP/1.1\r\nContent-Length: 13\r\n\r\n{\"count\": 42}"
	p := NewParser("c:1", Limits{})
	require.NoError(t, p.Feed([]byte(raw)))
	require.True(t, p.Done())

	var payload struct {
		Count int `json:"count"`
	}
	require.NoError(t, p.Request().JSON(&payload))
	assert.Equal(t, 42, payload.Count)
}

func TestQueryParamsRepeatedAndFlagKeys(t *testing.T) {
	params := ParseQuery("r=255&flag&x=a+b&y=%2F")
	assert.Equal(t, "255", params.Get("r"))
	assert.True(t, params.Has("flag"))
	assert.Equal(t, "", params.Get("flag"))
	assert.Equal(t, "a b", params.Get("x"))
	assert.Equal(t, "/", params.Get("y"))
}
