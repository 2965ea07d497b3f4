package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pokesync/supersync/internal/config"
	"github.com/pokesync/supersync/pkg/protocol"
)

var (
	errClientClosed   = errors.New("connection closed")
	errSendBufferFull = errors.New("send buffer full")
)

// client wraps one websocket connection behind the session.Conn
// contract. Outbound envelopes go through a buffered channel drained by
// writePump, so broadcasters never block on a slow peer; a full buffer
// drops the message.
type client struct {
	id     string
	conn   *websocket.Conn
	logger *zap.Logger

	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, cfg config.WebSocketConfig, logger *zap.Logger) *client {
	id := uuid.NewString()
	return &client{
		id:         id,
		conn:       conn,
		logger:     logger.With(zap.String("conn_id", id)),
		writeWait:  cfg.WriteWait,
		pongWait:   cfg.PongWait,
		pingPeriod: cfg.PongWait * 9 / 10,
		send:       make(chan []byte, cfg.SendBuffer),
		done:       make(chan struct{}),
	}
}

// ID implements session.Conn.
func (c *client) ID() string { return c.id }

// Send encodes the envelope and queues it for delivery. It never
// blocks: a closed connection or a full buffer returns an error that
// broadcasters treat as a skipped peer.
func (c *client) Send(event string, payload any) error {
	data, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return errClientClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errSendBufferFull
	}
}

// Terminate implements session.Conn. Safe to call more than once; the
// read loop observes the closed socket and unwinds the roster entry.
func (c *client) Terminate() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = c.conn.Close()
	})
}

// writePump drains the send channel onto the socket and keeps the
// connection alive with periodic pings. It exits when the client is
// terminated or a write fails.
func (c *client) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.Terminate()
	}()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
