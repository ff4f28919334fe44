package realtime

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

// Conn is one live authenticated websocket connection. The principal is
// bound at handshake time and never changes.
type Conn struct {
	id     string
	userID string

	ws     *websocket.Conn
	send   chan []byte
	logger *log.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func newConn(id, userID string, ws *websocket.Conn, logger *log.Logger) *Conn {
	return &Conn{
		id:     id,
		userID: userID,
		ws:     ws,
		send:   make(chan []byte, sendBufferSize),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// ID returns the connection identity.
func (c *Conn) ID() string { return c.id }

// UserID returns the principal bound to the connection at handshake.
func (c *Conn) UserID() string { return c.userID }

// enqueue hands a frame to the write pump without blocking. It reports false
// when the buffer is full, meaning the peer is too slow to keep up.
func (c *Conn) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.ws != nil {
			_ = c.ws.Close()
		}
	})
}

// readPump consumes inbound frames and dispatches them until the transport
// closes. It runs on the connection's handler goroutine.
func (c *Conn) readPump(handle func(*Conn, Envelope)) {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.WithFields(log.Fields{"conn": c.id, "user": c.userID}).Debugf("read: %v", err)
			}
			return
		}
		env, err := decodeEnvelope(raw)
		if err != nil {
			c.logger.WithFields(log.Fields{"conn": c.id, "user": c.userID}).Warnf("bad frame: %v", err)
			continue
		}
		handle(c, env)
	}
}

// writePump flushes queued frames and keeps the connection alive with pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
