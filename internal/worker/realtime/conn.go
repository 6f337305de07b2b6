package realtime

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Conn is one live client connection as seen by the Broadcaster.
type Conn interface {
	ID() string
	// Send queues msg without blocking. It returns false if the message was
	// dropped because the connection is closed or its buffer is full.
	Send(msg []byte) bool
	Close()
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// wsConn adapts a gorilla websocket to Conn with a bounded send queue
// drained by its own writer goroutine.
type wsConn struct {
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	log       zerolog.Logger
	id        string
	closeOnce sync.Once
}

func newWSConn(id string, ws *websocket.Conn, buffer int, log zerolog.Logger) *wsConn {
	return &wsConn{
		id:   id,
		ws:   ws,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
		log:  log.With().Str("connectionId", id).Logger(),
	}
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Send(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *wsConn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// readPump feeds inbound frames to handle until the socket fails.
func (c *wsConn) readPump(handle func(string, []byte)) {
	defer c.Close()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Msg("Websocket read failed")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		handle(c.id, data)
	}
}

// writePump drains the send queue and keeps the peer alive with pings.
func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug().Err(err).Msg("Websocket write failed")
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
