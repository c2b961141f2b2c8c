// Package hub adapts gorilla/websocket connections to the gateway: one read
// pump and one write pump per connection.
package hub

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sangam-gaddi/becbilldeskbeta/internal/config"
	pkglog "github.com/sangam-gaddi/becbilldeskbeta/pkg/log"
)

// DefaultMaxFrame bounds one inbound frame. Legal chat events are far smaller.
const DefaultMaxFrame = 64 * 1024

// Client is one WebSocket connection. Outbound frames are queued in a bounded
// buffer; a client that cannot keep up is closed.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	cfg  config.WebSocketConfig

	closeOnce sync.Once
	closed    chan struct{}
}

func NewClient(id string, conn *websocket.Conn, cfg config.WebSocketConfig) *Client {
	size := cfg.SendBuffer
	if size <= 0 {
		size = 256
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 25 * time.Second
	}
	if cfg.PongWait <= cfg.PingInterval {
		cfg.PongWait = cfg.PingInterval + cfg.PingInterval/2
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = DefaultMaxFrame
	}
	return &Client{
		id:     id,
		conn:   conn,
		send:   make(chan []byte, size),
		cfg:    cfg,
		closed: make(chan struct{}),
	}
}

func (c *Client) ID() string {
	return c.id
}

// Send queues a frame without blocking. It reports false when the client is
// closed or its buffer is full; the latter also closes the client.
func (c *Client) Send(frame []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		l := pkglog.L()
		l.Warn().Str(pkglog.FieldConnID, c.id).Msg("send buffer full, closing slow client")
		_ = c.Close()
		return false
	}
}

// Close asks the write pump to flush queued frames and close the socket.
// Safe to call more than once and from any goroutine.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// ReadPump delivers inbound text frames to onFrame until the socket fails,
// then calls onClose exactly once. Frames over MaxMessageSize are drained
// and dropped; the connection stays open.
func (c *Client) ReadPump(ctx context.Context, onFrame func([]byte), onClose func()) {
	l := pkglog.Ctx(ctx)
	defer func() {
		onClose()
		_ = c.Close()
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		kind, r, err := c.conn.NextReader()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				l.Warn().Err(err).Msg("websocket read failed")
			}
			return
		}
		if kind != websocket.TextMessage {
			l.Debug().Int("frame_type", kind).Msg("ignoring non-text frame")
			continue
		}

		frame, err := c.readFrame(r)
		if errors.Is(err, errFrameTooLarge) {
			l.Warn().Int64("limit", c.cfg.MaxMessageSize).Msg("dropping oversized frame")
			continue
		}
		if err != nil {
			l.Debug().Err(err).Msg("websocket read failed")
			return
		}
		onFrame(frame)
	}
}

var errFrameTooLarge = errors.New("frame exceeds limit")

// readFrame reads at most MaxMessageSize bytes, draining the rest of an
// oversized frame so the next one starts cleanly.
func (c *Client) readFrame(r io.Reader) ([]byte, error) {
	frame, err := io.ReadAll(io.LimitReader(r, c.cfg.MaxMessageSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(frame)) <= c.cfg.MaxMessageSize {
		return frame, nil
	}
	if _, err := io.Copy(io.Discard, r); err != nil {
		return nil, err
	}
	return nil, errFrameTooLarge
}

// WritePump writes queued frames and keepalive pings until the client is
// closed or a write fails.
func (c *Client) WritePump(ctx context.Context) {
	l := pkglog.Ctx(ctx)
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				l.Debug().Err(err).Msg("websocket write failed")
				_ = c.Close()
				return
			}

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				_ = c.Close()
				return
			}

		case <-c.closed:
			c.flush()
			_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Client) flush() {
	for {
		select {
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) write(messageType int, data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
	return c.conn.WriteMessage(messageType, data)
}
