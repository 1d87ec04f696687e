// Package extension adapts the single browser-extension WebSocket into
// channels: commands are queued to a writer goroutine, replies are pushed to
// an inbound channel the broker consumes.
package extension

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/chromelink/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/chromelink/internal/shared/types"
)

var (
	// ErrUnavailable is the failure for commands sent while the link is down
	ErrUnavailable = &types.CommandError{Code: types.CodeLinkUnavailable, Message: "Extension not connected"}
	// ErrAlreadyConnected is returned when a second extension tries to attach
	ErrAlreadyConnected = errors.New("extension already connected")

	errConnClosed   = errors.New("extension connection closed")
	errBackpressure = errors.New("extension send queue full")
)

// EventKind is a link state change
type EventKind int

const (
	Connected EventKind = iota
	Disconnected
)

func (k EventKind) String() string {
	if k == Connected {
		return "connected"
	}
	return "disconnected"
}

// Event reports a link state change
type Event struct {
	Kind   EventKind
	ConnID string
}

// Config tunes the link
type Config struct {
	PingInterval    time.Duration
	PongWait        time.Duration
	WriteTimeout    time.Duration
	SendBuffer      int
	MaxMessageBytes int64
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		PingInterval:    20 * time.Second,
		PongWait:        60 * time.Second,
		WriteTimeout:    5 * time.Second,
		SendBuffer:      256,
		MaxMessageBytes: 32 << 20,
		BreakerFailures: 3,
		BreakerCooldown: 5 * time.Second,
	}
}

type connection struct {
	id        string
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

func (c *connection) enqueue(frame []byte, timeout time.Duration) error {
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return errConnClosed
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return errConnClosed
	case <-timer.C:
		return errBackpressure
	}
}

// Link owns the extension connection
type Link struct {
	cfg     Config
	logger  *zap.Logger
	breaker *resilience.Breaker

	inbound chan *types.LinkReply
	events  chan Event
	quit    chan struct{}

	mu     sync.RWMutex
	conn   *connection
	closed bool
}

// NewLink creates a link with no extension attached
func NewLink(cfg Config, logger *zap.Logger) *Link {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultConfig()
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaults.SendBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	l := &Link{
		cfg:     cfg,
		logger:  logger,
		inbound: make(chan *types.LinkReply, cfg.SendBuffer),
		events:  make(chan Event, 16),
		quit:    make(chan struct{}),
	}
	l.breaker = resilience.New("extension-link", resilience.Settings{
		Failures: cfg.BreakerFailures,
		Cooldown: cfg.BreakerCooldown,
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("link breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return l
}

// Inbound delivers extension replies
func (l *Link) Inbound() <-chan *types.LinkReply {
	return l.inbound
}

// Events delivers connect and disconnect notifications
func (l *Link) Events() <-chan Event {
	return l.events
}

// Connected reports whether an extension is attached
func (l *Link) Connected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.conn != nil
}

// BreakerState exposes the send-path breaker
func (l *Link) BreakerState() resilience.State {
	return l.breaker.State()
}

// Forward queues a command for the extension and returns the id of the
// connection that carries it. It never blocks longer than the write
// timeout and fails with LINK_UNAVAILABLE when the link is down or wedged.
func (l *Link) Forward(cmd *types.LinkCommand) (string, error) {
	conn := l.current()
	if conn == nil {
		return "", ErrUnavailable
	}

	frame, err := encodeCommand(cmd)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", cmd.Action, err)
	}

	err = l.breaker.Do(func() error {
		return conn.enqueue(frame, l.cfg.WriteTimeout)
	})
	switch {
	case err == nil:
		return conn.id, nil
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, resilience.ErrTooManyRequests):
		return "", types.NewCommandError(types.CodeLinkUnavailable, "Extension link is not accepting commands")
	default:
		return "", types.NewCommandError(types.CodeLinkUnavailable, "Extension link write failed: %v", err)
	}
}

// Notify sends a command that expects no reply
func (l *Link) Notify(cmd *types.LinkCommand) error {
	cmd.RequestID = ""
	_, err := l.Forward(cmd)
	return err
}

// Serve runs the link over ws until the connection drops. It returns
// ErrAlreadyConnected without taking ownership of ws when another
// extension is attached.
func (l *Link) Serve(ws *websocket.Conn) error {
	conn := &connection{
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan []byte, l.cfg.SendBuffer),
		done: make(chan struct{}),
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return errConnClosed
	}
	if l.conn != nil {
		l.mu.Unlock()
		return ErrAlreadyConnected
	}
	l.conn = conn
	l.mu.Unlock()

	l.breaker.Reset()
	l.logger.Info("extension connected", zap.String("conn_id", conn.id))
	l.emit(Event{Kind: Connected, ConnID: conn.id})

	go l.writePump(conn)
	l.readPump(conn)

	l.mu.Lock()
	if l.conn == conn {
		l.conn = nil
	}
	l.mu.Unlock()
	conn.close()

	l.logger.Warn("extension disconnected", zap.String("conn_id", conn.id))
	l.emit(Event{Kind: Disconnected, ConnID: conn.id})
	return nil
}

// Close flushes queued frames, closes the extension socket and stops
// delivering events
func (l *Link) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	conn := l.conn
	l.mu.Unlock()

	if conn != nil {
		// a nil frame tells the writer to send a close frame after the queue drains
		if err := conn.enqueue(nil, l.cfg.WriteTimeout); err != nil {
			conn.close()
		}
		select {
		case <-conn.done:
		case <-time.After(l.cfg.WriteTimeout):
			conn.close()
		}
	}
	close(l.quit)
}

func (l *Link) current() *connection {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.conn
}

func (l *Link) emit(ev Event) {
	select {
	case l.events <- ev:
	case <-l.quit:
	}
}

func (l *Link) readPump(conn *connection) {
	ws := conn.ws
	if l.cfg.MaxMessageBytes > 0 {
		ws.SetReadLimit(l.cfg.MaxMessageBytes)
	}
	if l.cfg.PongWait > 0 {
		ws.SetReadDeadline(time.Now().Add(l.cfg.PongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(l.cfg.PongWait))
		})
	}

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				l.logger.Warn("extension read error", zap.String("conn_id", conn.id), zap.Error(err))
			}
			return
		}
		if l.cfg.PongWait > 0 {
			ws.SetReadDeadline(time.Now().Add(l.cfg.PongWait))
		}

		reply, err := decodeReply(data)
		if err != nil {
			l.logger.Warn("undecodable extension frame", zap.String("conn_id", conn.id), zap.Error(err))
			continue
		}
		if reply.RequestID == "" {
			l.logger.Debug("ignoring extension frame without requestId", zap.String("conn_id", conn.id))
			continue
		}

		select {
		case l.inbound <- reply:
		case <-l.quit:
			return
		}
	}
}

func (l *Link) writePump(conn *connection) {
	var pings <-chan time.Time
	if l.cfg.PingInterval > 0 {
		ticker := time.NewTicker(l.cfg.PingInterval)
		defer ticker.Stop()
		pings = ticker.C
	}

	for {
		select {
		case frame := <-conn.send:
			conn.ws.SetWriteDeadline(time.Now().Add(l.cfg.WriteTimeout))
			if frame == nil {
				conn.ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "broker shutting down"))
				conn.close()
				return
			}
			if err := conn.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				l.logger.Warn("extension write failed", zap.String("conn_id", conn.id), zap.Error(err))
				conn.close()
				return
			}
		case <-pings:
			deadline := time.Now().Add(l.cfg.WriteTimeout)
			if err := conn.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				l.logger.Warn("extension ping failed", zap.String("conn_id", conn.id), zap.Error(err))
				conn.close()
				return
			}
		case <-conn.done:
			return
		}
	}
}
