package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// conn is one controller socket. Writes go through a single pump goroutine.
type conn struct {
	id     string
	ws     *websocket.Conn
	send   chan interface{}
	done   chan struct{}
	cfg    Config
	logger *zap.Logger

	closeOnce sync.Once
}

func newConn(id string, ws *websocket.Conn, cfg Config, logger *zap.Logger) *conn {
	return &conn{
		id:     id,
		ws:     ws,
		send:   make(chan interface{}, cfg.SendBuffer),
		done:   make(chan struct{}),
		cfg:    cfg,
		logger: logger,
	}
}

func (c *conn) ID() string { return c.id }

// Send queues msg. A controller that cannot keep up is disconnected rather
// than allowed to stall the broker.
func (c *conn) Send(msg interface{}) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- msg:
		return true
	case <-c.done:
		return false
	default:
		c.logger.Warn("controller send buffer full, closing", zap.String("conn_id", c.id))
		c.Close()
		return false
	}
}

// Close flushes queued messages and closes the socket
func (c *conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *conn) writePump() {
	defer c.ws.Close()

	var pings <-chan time.Time
	if c.cfg.PingInterval > 0 {
		ticker := time.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		pings = ticker.C
	}

	for {
		select {
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				c.logger.Debug("controller write failed", zap.String("conn_id", c.id), zap.Error(err))
				c.Close()
				return
			}
		case <-pings:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			c.flush()
			return
		}
	}
}

// flush drains what was queued before Close, then says goodbye
func (c *conn) flush() {
	for {
		select {
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				return
			}
		default:
			c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.cfg.WriteTimeout))
			return
		}
	}
}

func (c *conn) write(msg interface{}) error {
	c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.ws.WriteJSON(msg)
}
