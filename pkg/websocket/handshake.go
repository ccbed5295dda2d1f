// Package websocket implements the server side of RFC 6455 for a
// poll-driven connection: handshake validation and an incremental
// frame codec with no blocking reads.
package websocket

import (
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/lume-dev/lume/pkg/request"
)

// keyGUID is the fixed GUID appended to the client key when
// computing Sec-WebSocket-Accept (RFC 6455 §4.2.2).
const keyGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// ErrBadHandshake is returned when an upgrade request is missing or
// carries invalid handshake headers.
var ErrBadHandshake = errors.New("websocket: bad handshake")

// IsUpgradeRequest reports whether the request asks for a WebSocket
// upgrade.
func IsUpgradeRequest(req *request.Request) bool {
	return req.Headers.ContainsToken("Connection", "upgrade") &&
		req.Headers.ContainsToken("Upgrade", "websocket")
}

// Handshake validates the upgrade request and returns the value for
// the Sec-WebSocket-Accept response header.
func Handshake(req *request.Request) (string, error) {
	if req.Method != "GET" {
		return "", fmt.Errorf("%w: method %s", ErrBadHandshake, req.Method)
	}
	if !IsUpgradeRequest(req) {
		return "", fmt.Errorf("%w: missing upgrade headers", ErrBadHandshake)
	}
	if v := req.Headers.Get("Sec-WebSocket-Version"); v != "13" {
		return "", fmt.Errorf("%w: unsupported version %q", ErrBadHandshake, v)
	}
	key := req.Headers.Get("Sec-WebSocket-Key")
	if key == "" {
		return "", fmt.Errorf("%w: missing Sec-WebSocket-Key", ErrBadHandshake)
	}
	raw, err := base64.StdEncoding.DecodeString(key)
	if err != nil || len(raw) != 16 {
		return "", fmt.Errorf("%w: invalid Sec-WebSocket-Key", ErrBadHandshake)
	}
	return AcceptKey(key), nil
}

// AcceptKey computes the Sec-WebSocket-Accept value for a client key.
func AcceptKey(key string) string {
	sum := sha1.Sum([]byte(key + keyGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}
