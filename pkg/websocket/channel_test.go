package websocket

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lume-dev/lume/pkg/request"
	"github.com/lume-dev/lume/pkg/socket"
)

// maskFrame builds a masked client-to-server frame.
func maskFrame(op byte, fin bool, payload []byte) []byte {
	head := make([]byte, 2, 14)
	head[0] = op
	if fin {
		head[0] |= 0x80
	}
	switch {
	case len(payload) < 126:
		head[1] = 0x80 | byte(len(payload))
	case len(payload) < 1<<16:
		head[1] = 0x80 | 126
		head = binary.BigEndian.AppendUint16(head, uint16(len(payload)))
	default:
		head[1] = 0x80 | 127
		head = binary.BigEndian.AppendUint64(head, uint64(len(payload)))
	}
	mask := []byte{0x12, 0x34, 0x56, 0x78}
	head = append(head, mask...)
	masked := make([]byte, len(payload))
	for i, b := range payload {
		masked[i] = b ^ mask[i%4]
	}
	return append(head, masked...)
}

func newTestChannel(t *testing.T) (*Channel, *socket.MemConn) {
	t.Helper()
	source := socket.NewMemSource()
	client := source.Dial("10.0.0.9:999")
	server, err := source.Accept()
	require.NoError(t, err)
	return NewChannel(server, 0), client
}

func clientRead(t *testing.T, client *socket.MemConn) []byte {
	t.Helper()
	buf := make([]byte, 4096)
	n, err := client.Recv(buf)
	require.NoError(t, err)
	return buf[:n]
}

func TestAcceptKey(t *testing.T) {
	// Known value from RFC 6455 §1.3.
	assert.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=",
		AcceptKey("dGhlIHNhbXBsZSBub25jZQ=="))
}

func TestHandshakeValidation(t *testing.T) {
	parse := func(raw string) *request.Request {
		p := request.NewParser("c:1", request.Limits{})
		require.NoError(t, p.Feed([]byte(raw)))
		require.True(t, p.Done())
		return p.Request()
	}

	good := "GET /ws HTTP/1.1\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: keep-alive, Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: 13\r\n\r\n"
	accept, err := Handshake(parse(good))
	require.NoError(t, err)
	assert.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", accept)

	bad := []string{
		// Wrong method.
		"POST /ws HTTP/1.1\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n" +
			"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\nSec-WebSocket-Version: 13\r\n\r\n",
		// Missing key.
		"GET /ws HTTP/1.1\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n" +
			"Sec-WebSocket-Version: 13\r\n\r\n",
		// Wrong version.
		"GET /ws HTTP/1.1\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n" +
			"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\nSec-WebSocket-Version: 8\r\n\r\n",
		// Key not 16 bytes.
		"GET /ws HTTP/1.1\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n" +
			"Sec-WebSocket-Key: c2hvcnQ=\r\nSec-WebSocket-Version: 13\r\n\r\n",
	}
	for _, raw := range bad {
		_, err := Handshake(parse(raw))
		assert.ErrorIs(t, err, ErrBadHandshake)
	}
}

func TestReceiveTextMessage(t *testing.T) {
	ch, client := newTestChannel(t)
	client.Send(maskFrame(opText, true, []byte("hello")))

	require.NoError(t, ch.Service())
	msg, ok := ch.Receive()
	require.True(t, ok)
	assert.Equal(t, TextMessage, msg.Type)
	assert.Equal(t, "hello", string(msg.Data))

	_, ok = ch.Receive()
	assert.False(t, ok)
}

func TestReceiveFragmentedMessage(t *testing.T) {
	ch, client := newTestChannel(t)
	client.Send(maskFrame(opBinary, false, []byte("frag")))
	client.Send(maskFrame(opContinuation, false, []byte("men")))
	client.Send(maskFrame(opContinuation, true, []byte("ted")))

	require.NoError(t, ch.Service())
	msg, ok := ch.Receive()
	require.True(t, ok)
	assert.Equal(t, BinaryMessage, msg.Type)
	assert.Equal(t, "fragmented", string(msg.Data))
}

func TestFrameSpansServiceCalls(t *testing.T) {
	ch, client := newTestChannel(t)
	frame := maskFrame(opText, true, []byte("split delivery"))

	client.Send(frame[:5])
	require.NoError(t, ch.Service())
	_, ok := ch.Receive()
	assert.False(t, ok)

	client.Send(frame[5:])
	require.NoError(t, ch.Service())
	msg, ok := ch.Receive()
	require.True(t, ok)
	assert.Equal(t, "split delivery", string(msg.Data))
}

func TestPingGetsPong(t *testing.T) {
	ch, client := newTestChannel(t)
	client.Send(maskFrame(opPing, true, []byte("tick")))

	require.NoError(t, ch.Service())
	// Pong goes out on the next service pass.
	require.NoError(t, ch.Service())

	out := clientRead(t, client)
	assert.Equal(t, byte(0x80|opPong), out[0])
	assert.Equal(t, byte(4), out[1])
	assert.Equal(t, "tick", string(out[2:6]))
}

func TestSendFraming(t *testing.T) {
	ch, client := newTestChannel(t)
	require.NoError(t, ch.SendText("pixel"))
	require.NoError(t, ch.Service())

	out := clientRead(t, client)
	assert.Equal(t, byte(0x80|opText), out[0])
	assert.Equal(t, byte(5), out[1]) // unmasked, short length
	assert.Equal(t, "pixel", string(out[2:7]))
}

func TestUnmaskedClientFrameIsProtocolError(t *testing.T) {
	ch, client := newTestChannel(t)
	client.Send(encodeFrame(opText, []byte("naked")))

	err := ch.Service()
	assert.ErrorIs(t, err, ErrProtocol)
	assert.True(t, ch.Closed())
}

func TestCloseHandshake(t *testing.T) {
	ch, client := newTestChannel(t)
	client.Send(maskFrame(opClose, true, []byte{0x03, 0xE8}))

	require.NoError(t, ch.Service())
	require.NoError(t, ch.Service())

	out := clientRead(t, client)
	assert.Equal(t, byte(0x80|opClose), out[0])
	assert.True(t, ch.Closed())
	assert.ErrorIs(t, ch.SendText("late"), ErrChannelClosed)
}

func TestPeerDisconnectClosesChannel(t *testing.T) {
	ch, client := newTestChannel(t)
	client.Close()

	require.NoError(t, ch.Service())
	assert.True(t, ch.Closed())
}

func TestMessageTooLarge(t *testing.T) {
	source := socket.NewMemSource()
	client := source.Dial("c:1")
	server, err := source.Accept()
	require.NoError(t, err)
	ch := NewChannel(server, 8)

	client.Send(maskFrame(opText, true, []byte("way past the limit")))
	assert.ErrorIs(t, ch.Service(), ErrMessageTooLarge)
	assert.True(t, ch.Closed())
}
