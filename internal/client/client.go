package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/chromelink/internal/infrastructure/logging"
	"github.com/GriffinCanCode/chromelink/internal/shared/types"
)

const (
	writeTimeout     = 10 * time.Second
	handshakeTimeout = 10 * time.Second
	eventBuffer      = 16
)

// ErrClosed is returned for commands issued on, or interrupted by, a closed client
var ErrClosed = errors.New("client closed")

// Options tune Dial
type Options struct {
	// SessionID resumes a suspended session instead of creating one
	SessionID string
	// Grace overrides the server-side grace period for this session
	Grace time.Duration
	// CommandTimeout bounds every command when the caller's context has no deadline
	CommandTimeout time.Duration
	Dialer         *websocket.Dialer
	Logger         *zap.Logger
}

// Client is a controller session on a ChromeLink broker. It is safe for
// concurrent use; responses are matched to commands by requestId.
type Client struct {
	ws      *websocket.Conn
	logger  *zap.Logger
	opts    Options
	session types.Event

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan *types.ServerMessage
	err     error

	events chan types.Event
	done   chan struct{}
	once   sync.Once
}

// Dial connects to the broker's session endpoint and waits for the session
// event. rawURL is the broker base, e.g. ws://localhost:9000.
func Dial(ctx context.Context, rawURL string, opts Options) (*Client, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	target, err := sessionURL(rawURL, opts)
	if err != nil {
		return nil, err
	}
	ws, _, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}

	deadline := time.Now().Add(handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	ws.SetReadDeadline(deadline)
	var first types.ServerMessage
	if err := ws.ReadJSON(&first); err != nil {
		ws.Close()
		return nil, fmt.Errorf("await session event: %w", err)
	}
	if !first.IsEvent() || first.SessionID == "" {
		ws.Close()
		return nil, fmt.Errorf("unexpected first message %q", first.Type)
	}
	ws.SetReadDeadline(time.Time{})

	c := &Client{
		ws:      ws,
		opts:    opts,
		session: types.Event{Type: first.Type, SessionID: first.SessionID},
		pending: make(map[string]chan *types.ServerMessage),
		events:  make(chan types.Event, eventBuffer),
		done:    make(chan struct{}),
	}
	c.logger = opts.Logger.With(logging.SessionID(first.SessionID))
	c.logger.Debug("session established", zap.String("event", first.Type))

	go c.readLoop()
	return c, nil
}

func sessionURL(rawURL string, opts Options) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse broker url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if u.Path == "" {
		u.Path = "/session"
	}
	q := u.Query()
	if opts.SessionID != "" {
		q.Set("sessionId", opts.SessionID)
	}
	if opts.Grace > 0 {
		q.Set("timeout", strconv.FormatInt(opts.Grace.Milliseconds(), 10))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// SessionID is the broker-assigned session identifier
func (c *Client) SessionID() string { return c.session.SessionID }

// Resumed reports whether Dial resumed an existing session
func (c *Client) Resumed() bool { return c.session.Type == types.EventSessionResumed }

// Events delivers session events received after the handshake
func (c *Client) Events() <-chan types.Event { return c.events }

// Done is closed when the connection ends
func (c *Client) Done() <-chan struct{} { return c.done }

// Err reports why the connection ended
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// SendCommand issues one command and waits for its response. Broker and
// extension failures are returned as *types.CommandError.
func (c *Client) SendCommand(ctx context.Context, action string, params interface{}) (json.RawMessage, error) {
	if _, ok := ctx.Deadline(); !ok && c.opts.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.CommandTimeout)
		defer cancel()
	}

	env := types.Envelope{Action: action, RequestID: uuid.NewString()}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode %s params: %w", action, err)
		}
		env.Params = raw
	}

	ch := make(chan *types.ServerMessage, 1)
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.pending[env.RequestID] = ch
	c.mu.Unlock()
	defer c.forget(env.RequestID)

	if err := c.write(&env); err != nil {
		return nil, fmt.Errorf("send %s: %w", action, err)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, types.FromPayload(resp.Error)
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClosed
	}
}

// Call is SendCommand decoding the result into out
func (c *Client) Call(ctx context.Context, action string, params, out interface{}) error {
	raw, err := c.SendCommand(ctx, action, params)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s result: %w", action, err)
	}
	return nil
}

// Close drops the connection. The session stays suspended on the broker
// for its grace period; use CloseSession to end it.
func (c *Client) Close() error {
	c.writeMu.Lock()
	c.ws.SetWriteDeadline(time.Now().Add(time.Second))
	c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	err := c.ws.Close()
	<-c.done
	return err
}

func (c *Client) write(env *types.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(env)
}

func (c *Client) forget(requestID string) {
	c.mu.Lock()
	delete(c.pending, requestID)
	c.mu.Unlock()
}

func (c *Client) readLoop() {
	defer c.shutdown()
	for {
		var msg types.ServerMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			c.mu.Lock()
			c.err = err
			c.mu.Unlock()
			return
		}

		if msg.IsEvent() {
			select {
			case c.events <- types.Event{Type: msg.Type, SessionID: msg.SessionID}:
			default:
				c.logger.Warn("session event dropped", zap.String("event", msg.Type))
			}
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[msg.RequestID]
		delete(c.pending, msg.RequestID)
		c.mu.Unlock()
		if !ok {
			c.logger.Debug("response without waiter", logging.RequestID(msg.RequestID))
			continue
		}
		m := msg
		ch <- &m
	}
}

func (c *Client) shutdown() {
	c.once.Do(func() {
		c.mu.Lock()
		if c.err == nil {
			c.err = ErrClosed
		}
		c.mu.Unlock()
		close(c.done)
		c.ws.Close()
	})
}
