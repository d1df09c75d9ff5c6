package ws

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"
)

// ErrPeerBusy is returned when a peer's send buffer is full. Relay is
// fire-and-forget, so callers log it and carry on.
var ErrPeerBusy = errors.New("peer send buffer full")

// ErrPeerClosed is returned when delivering to a connection that has
// already shut down.
var ErrPeerClosed = errors.New("peer connection closed")

const sendBuffer = 32

// Client owns one websocket connection's outbound side. All writes to the
// connection go through the write pump; other goroutines only enqueue.
// Cursor frames live in their own single-slot channel where a newer
// position displaces an undelivered older one.
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	cursor chan []byte

	done     chan struct{}
	stopOnce sync.Once
}

func newClient(conn *websocket.Conn) *Client {
	return &Client{
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		cursor: make(chan []byte, 1),
		done:   make(chan struct{}),
	}
}

// Deliver queues a frame for the peer without blocking.
func (c *Client) Deliver(frame []byte) error {
	select {
	case <-c.done:
		return ErrPeerClosed
	case c.send <- frame:
		return nil
	default:
		return ErrPeerBusy
	}
}

// DeliverLatestCursor queues a cursor frame, dropping any buffered one.
// A stale position is worthless once a newer one exists.
func (c *Client) DeliverLatestCursor(frame []byte) {
	for {
		select {
		case c.cursor <- frame:
			return
		default:
			select {
			case <-c.cursor:
			default:
			}
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for {
		select {
		case frame := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case frame := <-c.cursor:
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func (c *Client) shutdown() {
	c.stopOnce.Do(func() { close(c.done) })
}
