package websocket

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/lume-dev/lume/pkg/socket"
)

// Frame opcodes (RFC 6455 §5.2).
const (
	opContinuation = 0x0
	opText         = 0x1
	opBinary       = 0x2
	opClose        = 0x8
	opPing         = 0x9
	opPong         = 0xA
)

// MessageType distinguishes text from binary messages.
type MessageType int

const (
	// TextMessage carries UTF-8 text.
	TextMessage MessageType = iota + 1

	// BinaryMessage carries arbitrary bytes.
	BinaryMessage
)

// Message is one complete (possibly reassembled) data message.
type Message struct {
	Type MessageType
	Data []byte
}

// Sentinel errors for channel operations.
var (
	// ErrChannelClosed is returned when sending on a closed channel.
	ErrChannelClosed = errors.New("websocket: channel closed")

	// ErrProtocol is returned when the peer violates the framing
	// rules; the connection is closed.
	ErrProtocol = errors.New("websocket: protocol error")

	// ErrMessageTooLarge is returned when an incoming message
	// exceeds the configured limit.
	ErrMessageTooLarge = errors.New("websocket: message too large")
)

// DefaultMaxMessageSize bounds reassembled incoming messages.
const DefaultMaxMessageSize = 64 * 1024

// Channel is an upgraded duplex connection. Send queues outgoing
// frames, Receive pops completed incoming messages, and Service
// moves bytes in both directions without blocking; the poll loop
// calls Service once per cycle until Closed reports true.
type Channel struct {
	mu   sync.Mutex
	conn socket.Conn

	maxMessageSize int

	rbuf    []byte
	fragOp  byte
	fragBuf []byte
	inbox   []Message

	outbox []byte

	closeSent     bool
	closeReceived bool
	closed        bool
}

// NewChannel wraps an upgraded connection. maxMessageSize <= 0
// selects DefaultMaxMessageSize.
func NewChannel(conn socket.Conn, maxMessageSize int) *Channel {
	if maxMessageSize <= 0 {
		maxMessageSize = DefaultMaxMessageSize
	}
	return &Channel{conn: conn, maxMessageSize: maxMessageSize}
}

// SendText queues a text message.
func (c *Channel) SendText(text string) error {
	return c.Send(Message{Type: TextMessage, Data: []byte(text)})
}

// SendBinary queues a binary message.
func (c *Channel) SendBinary(data []byte) error {
	return c.Send(Message{Type: BinaryMessage, Data: data})
}

// Send queues a message for transmission on subsequent polls.
func (c *Channel) Send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.closeSent {
		return ErrChannelClosed
	}
	op := byte(opText)
	if msg.Type == BinaryMessage {
		op = opBinary
	}
	c.outbox = append(c.outbox, encodeFrame(op, msg.Data)...)
	return nil
}

// Receive returns the next complete incoming message, if any. It
// never blocks.
func (c *Channel) Receive() (Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.inbox) == 0 {
		return Message{}, false
	}
	msg := c.inbox[0]
	c.inbox = c.inbox[1:]
	return msg, true
}

// Close queues a close frame. The connection tears down once the
// frame is flushed.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queueClose()
	return nil
}

// Closed reports whether the channel is finished and its connection
// can be released.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Service advances the channel by one non-blocking step: flush
// pending outgoing frames, then consume whatever arrived. A
// disconnect or protocol violation closes the channel and is
// reported to the caller; it is never fatal to the server.
func (c *Channel) Service() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	if err := c.flush(); err != nil {
		c.teardown()
		return err
	}
	if c.closeSent && len(c.outbox) == 0 {
		c.teardown()
		return nil
	}
	if err := c.read(); err != nil {
		if errors.Is(err, io.EOF) {
			c.teardown()
			return nil
		}
		c.teardown()
		return err
	}
	return nil
}

func (c *Channel) flush() error {
	for len(c.outbox) > 0 {
		n, err := c.conn.Send(c.outbox)
		if errors.Is(err, socket.ErrWouldBlock) {
			return nil
		}
		if err != nil {
			return err
		}
		c.outbox = c.outbox[n:]
	}
	return nil
}

func (c *Channel) read() error {
	buf := make([]byte, 1024)
	for {
		n, err := c.conn.Recv(buf)
		if errors.Is(err, socket.ErrWouldBlock) {
			break
		}
		if err != nil {
			return err
		}
		c.rbuf = append(c.rbuf, buf[:n]...)
	}
	for {
		consumed, err := c.decodeFrame()
		if err != nil {
			return err
		}
		if consumed == 0 {
			return nil
		}
	}
}

// decodeFrame parses at most one frame off rbuf. It returns the
// number of bytes consumed; zero means more input is needed.
func (c *Channel) decodeFrame() (int, error) {
	if len(c.rbuf) < 2 {
		return 0, nil
	}
	fin := c.rbuf[0]&0x80 != 0
	if c.rbuf[0]&0x70 != 0 {
		return 0, fmt.Errorf("%w: nonzero reserved bits", ErrProtocol)
	}
	op := c.rbuf[0] & 0x0F
	masked := c.rbuf[1]&0x80 != 0
	if !masked {
		// Client frames must be masked (RFC 6455 §5.1).
		return 0, fmt.Errorf("%w: unmasked client frame", ErrProtocol)
	}

	length := int(c.rbuf[1] & 0x7F)
	offset := 2
	switch length {
	case 126:
		if len(c.rbuf) < offset+2 {
			return 0, nil
		}
		length = int(binary.BigEndian.Uint16(c.rbuf[offset:]))
		offset += 2
	case 127:
		if len(c.rbuf) < offset+8 {
			return 0, nil
		}
		length64 := binary.BigEndian.Uint64(c.rbuf[offset:])
		if length64 > uint64(c.maxMessageSize) {
			return 0, ErrMessageTooLarge
		}
		length = int(length64)
		offset += 8
	}
	if length > c.maxMessageSize || len(c.fragBuf)+length > c.maxMessageSize {
		return 0, ErrMessageTooLarge
	}
	if len(c.rbuf) < offset+4+length {
		return 0, nil
	}
	var maskKey [4]byte
	copy(maskKey[:], c.rbuf[offset:])
	offset += 4

	payload := make([]byte, length)
	copy(payload, c.rbuf[offset:offset+length])
	for i := range payload {
		payload[i] ^= maskKey[i%4]
	}
	consumed := offset + length
	c.rbuf = c.rbuf[consumed:]

	if err := c.handleFrame(op, fin, payload); err != nil {
		return 0, err
	}
	return consumed, nil
}

func (c *Channel) handleFrame(op byte, fin bool, payload []byte) error {
	switch op {
	case opText, opBinary:
		if c.fragBuf != nil {
			return fmt.Errorf("%w: data frame inside fragmented message", ErrProtocol)
		}
		if fin {
			c.deliver(op, payload)
			return nil
		}
		c.fragOp = op
		c.fragBuf = payload
		if c.fragBuf == nil {
			c.fragBuf = []byte{}
		}

	case opContinuation:
		if c.fragBuf == nil {
			return fmt.Errorf("%w: continuation without initial frame", ErrProtocol)
		}
		c.fragBuf = append(c.fragBuf, payload...)
		if fin {
			c.deliver(c.fragOp, c.fragBuf)
			c.fragBuf = nil
		}

	case opPing:
		if !fin || len(payload) > 125 {
			return fmt.Errorf("%w: invalid control frame", ErrProtocol)
		}
		c.outbox = append(c.outbox, encodeFrame(opPong, payload)...)

	case opPong:
		// Unsolicited pongs are permitted and ignored.

	case opClose:
		if !fin || len(payload) > 125 {
			return fmt.Errorf("%w: invalid control frame", ErrProtocol)
		}
		c.closeReceived = true
		c.queueClose()

	default:
		return fmt.Errorf("%w: unknown opcode %#x", ErrProtocol, op)
	}
	return nil
}

func (c *Channel) deliver(op byte, payload []byte) {
	msgType := TextMessage
	if op == opBinary {
		msgType = BinaryMessage
	}
	c.inbox = append(c.inbox, Message{Type: msgType, Data: payload})
}

// queueClose queues a close frame once. Callers hold the lock.
func (c *Channel) queueClose() {
	if c.closeSent || c.closed {
		return
	}
	c.closeSent = true
	// 1000: normal closure.
	c.outbox = append(c.outbox, encodeFrame(opClose, []byte{0x03, 0xE8})...)
}

// teardown marks the channel finished. Callers hold the lock.
func (c *Channel) teardown() {
	c.closed = true
	c.conn.Close()
}

// encodeFrame builds one unmasked server-to-client frame with FIN
// set.
func encodeFrame(op byte, payload []byte) []byte {
	head := make([]byte, 2, 10)
	head[0] = 0x80 | op
	switch {
	case len(payload) < 126:
		head[1] = byte(len(payload))
	case len(payload) < 1<<16:
		head[1] = 126
		head = binary.BigEndian.AppendUint16(head, uint16(len(payload)))
	default:
		head[1] = 127
		head = binary.BigEndian.AppendUint64(head, uint64(len(payload)))
	}
	return append(head, payload...)
}
