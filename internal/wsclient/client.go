// Package wsclient implements spec.md §4.7: the WebSocket client.
// Handshake, frame masking/unmasking, and fragment reassembly are
// delegated to github.com/gorilla/websocket, which the teacher depends on
// directly for its language-server transport; the connection state
// machine (Connecting/Open/Closing/Closed), the close handshake
// sequencing, and UTF-8 validation of Text messages are implemented here.
package wsclient

import (
	"context"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"

	"netstack/internal/netreq"
	"netstack/internal/nserr"
)

// State is the connection lifecycle of spec.md §4.7.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

// MessageKind tags a received application message.
type MessageKind int

const (
	MessageText MessageKind = iota
	MessageBinary
	MessagePing
	MessagePong
)

// Message is a received application-level WebSocket message.
type Message struct {
	Kind MessageKind
	Data []byte
}

// Conn is an open WebSocket connection.
type Conn struct {
	mu    sync.Mutex
	conn  *websocket.Conn
	state State
}

// Dialer connects to WebSocket endpoints.
type Dialer struct {
	underlying *websocket.Dialer
}

// New returns a Dialer with a 10-second handshake timeout. Subprotocols
// passed to Connect are kept on the Dialer and offered again by later
// Connect calls that pass none.
func New() *Dialer {
	return &Dialer{underlying: &websocket.Dialer{HandshakeTimeout: 10 * time.Second}}
}

// Connect performs the HTTP/1.1 Upgrade handshake (Sec-WebSocket-Key /
// Sec-WebSocket-Accept validated by gorilla/websocket) and returns an
// Open connection, per spec.md §4.7.
func (d *Dialer) Connect(ctx context.Context, u string, subprotocols []string, header *netreq.Header) (*Conn, error) {
	h := http.Header{}
	if header != nil {
		for _, k := range header.Keys() {
			for _, v := range header.Values(k) {
				h.Add(k, v)
			}
		}
	}
	if len(subprotocols) > 0 {
		d.underlying.Subprotocols = subprotocols
	}

	wsConn, resp, err := d.underlying.DialContext(ctx, u, h)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, nserr.Wrap(nserr.KindWebSocket, "WebSocket handshake failed", err)
	}
	resp.Body.Close()

	c := &Conn{conn: wsConn, state: StateOpen}
	wsConn.SetPingHandler(func(appData string) error {
		return wsConn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})
	return c, nil
}

// Send writes a Text or Binary application message.
func (c *Conn) Send(kind MessageKind, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen {
		return nserr.New(nserr.KindWebSocket, "connection is not open")
	}
	opcode := websocket.TextMessage
	if kind == MessageBinary {
		opcode = websocket.BinaryMessage
	}
	if err := c.conn.WriteMessage(opcode, data); err != nil {
		return nserr.Wrap(nserr.KindWebSocket, "writing WebSocket message", err)
	}
	return nil
}

// Receive blocks for the next application message. Ping frames are
// answered with a Pong automatically (set up in Connect) and not
// surfaced here; application Pings sent by the peer as data frames are
// not applicable to this client role. Invalid UTF-8 in a Text frame
// surfaces as a protocol error and transitions the connection to
// Closing with code 1007, per spec.md §4.7.
func (c *Conn) Receive() (Message, error) {
	opcode, data, err := c.conn.ReadMessage()
	if err != nil {
		if ce, ok := err.(*websocket.CloseError); ok {
			c.transitionClosed()
			return Message{}, nserr.New(nserr.KindWebSocket, "connection closed: "+ce.Text)
		}
		c.failProtocol(websocket.CloseInvalidFramePayloadData, "invalid frame payload")
		return Message{}, nserr.Wrap(nserr.KindProtocol, "reading WebSocket message", err)
	}
	kind := MessageBinary
	if opcode == websocket.TextMessage {
		if !utf8.Valid(data) {
			c.failProtocol(websocket.CloseInvalidFramePayloadData, "invalid UTF-8 in text frame")
			return Message{}, nserr.New(nserr.KindProtocol, "invalid UTF-8 in WebSocket text message")
		}
		kind = MessageText
	}
	return Message{Kind: kind, Data: data}, nil
}

// Close performs the close handshake: send a Close frame, then
// transition to Closed after the peer's Close (or a timeout), per
// spec.md §4.7.
func (c *Conn) Close(code int, reason string) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosing
	c.mu.Unlock()

	msg := websocket.FormatCloseMessage(code, reason)
	c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(5*time.Second))
	err := c.conn.Close()

	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()
	return err
}

func (c *Conn) failProtocol(code int, reason string) {
	c.mu.Lock()
	c.state = StateClosing
	c.mu.Unlock()
	c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(5*time.Second))
	c.conn.Close()
	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()
}

func (c *Conn) transitionClosed() {
	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()
}

// State reports the connection's current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
