package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/chromelink/internal/infrastructure/logging"
	"github.com/GriffinCanCode/chromelink/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/chromelink/internal/shared/types"
	"github.com/GriffinCanCode/chromelink/internal/simulator/fetch"
	"github.com/GriffinCanCode/chromelink/internal/simulator/sandbox"
)

// Config tunes the simulated extension
type Config struct {
	// Latency delays every reply
	Latency time.Duration
	// Silent actions are accepted but never answered
	Silent []string
	// Pages serves fixed markup before any network fetch. Keys are exact
	// URLs or doublestar patterns such as "https://docs.test/**".
	Pages map[string]string
	// Fetch loads unknown http(s) URLs over the network; otherwise a
	// placeholder page is synthesized
	Fetch          bool
	FetchConfig    fetch.Config
	Sandbox        sandbox.Config
	WindowID       int64
	ReconnectDelay time.Duration
	MaxReconnect   time.Duration
}

// DefaultConfig returns an offline simulator configuration
func DefaultConfig() Config {
	return Config{
		FetchConfig:    fetch.DefaultConfig(),
		Sandbox:        sandbox.DefaultConfig(),
		WindowID:       1,
		ReconnectDelay: 500 * time.Millisecond,
		MaxReconnect:   10 * time.Second,
	}
}

// Execution records one injection run on a page load
type Execution struct {
	InjectionID string    `json:"injectionId"`
	SessionID   string    `json:"sessionId"`
	TabID       int64     `json:"tabId"`
	URL         string    `json:"url"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}

// Extension plays the browser side of the link: tabs, pages, scripts and
// injections, answering broker commands over a WebSocket.
type Extension struct {
	cfg     Config
	logger  *zap.Logger
	fetcher *fetch.Client
	silent  map[string]bool

	mu         sync.Mutex
	tabs       map[int64]*Tab
	order      []int64
	activeID   int64
	nextTabID  int64
	injections []*registration
	executions []Execution

	writeMu sync.Mutex
}

// New creates a simulated extension with no tabs
func New(cfg Config, logger *zap.Logger) *Extension {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultConfig()
	if cfg.WindowID == 0 {
		cfg.WindowID = defaults.WindowID
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaults.ReconnectDelay
	}
	if cfg.MaxReconnect <= 0 {
		cfg.MaxReconnect = defaults.MaxReconnect
	}
	if cfg.Sandbox.Timeout <= 0 {
		cfg.Sandbox = defaults.Sandbox
	}

	silent := make(map[string]bool, len(cfg.Silent))
	for _, action := range cfg.Silent {
		silent[action] = true
	}

	e := &Extension{
		cfg:       cfg,
		logger:    logger,
		silent:    silent,
		tabs:      make(map[int64]*Tab),
		nextTabID: 1,
	}
	if cfg.Fetch {
		e.fetcher = fetch.NewClient(cfg.FetchConfig)
	}
	return e
}

// Run keeps a link to url open until ctx is done, redialing with backoff
func (e *Extension) Run(ctx context.Context, url string) error {
	delay := e.cfg.ReconnectDelay
	for {
		err := e.Connect(ctx, url)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			e.logger.Warn("extension link lost", zap.String("url", url), zap.Error(err), zap.Duration("retry_in", delay))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if err != nil {
			delay *= 2
			if delay > e.cfg.MaxReconnect {
				delay = e.cfg.MaxReconnect
			}
		} else {
			delay = e.cfg.ReconnectDelay
		}
	}
}

// Connect dials the broker once and serves commands until the socket closes
func (e *Extension) Connect(ctx context.Context, url string) error {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	e.logger.Info("extension link established", zap.String("url", url))
	return e.Serve(ctx, ws)
}

// Serve answers commands arriving on ws. It owns and closes ws.
func (e *Extension) Serve(ctx context.Context, ws *websocket.Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		ws.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}

		var cmd types.LinkCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			e.logger.Warn("undecodable link frame", zap.Error(err))
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			reply := e.Handle(ctx, &cmd)
			if reply == nil || e.silent[cmd.Action] {
				return
			}
			if e.cfg.Latency > 0 {
				select {
				case <-time.After(e.cfg.Latency):
				case <-ctx.Done():
					return
				}
			}
			if err := e.write(ws, reply); err != nil {
				e.logger.Warn("reply write failed", zap.String("request_id", cmd.RequestID), zap.Error(err))
			}
		}()
	}
}

func (e *Extension) write(ws *websocket.Conn, reply *types.LinkReply) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return ws.WriteJSON(reply)
}

// Handle executes one command. Notifications return nil.
func (e *Extension) Handle(ctx context.Context, cmd *types.LinkCommand) *types.LinkReply {
	log := e.logger.With(logging.SessionID(cmd.SessionID), logging.Action(cmd.Action))
	if traceID, _ := tracing.ExtractTraceContext(cmd.Trace); traceID != "" {
		log = log.With(zap.String("trace_id", traceID.String()))
	}

	result, err := e.dispatch(ctx, cmd)
	if cmd.IsNotification() {
		if err != nil {
			log.Warn("notification failed", zap.Error(err))
		}
		return nil
	}

	reply := &types.LinkReply{RequestID: cmd.RequestID}
	if err != nil {
		ce := types.AsCommandError(err)
		log.Debug("command failed", zap.String("code", string(ce.Code)), zap.String("message", ce.Message))
		reply.Error = &types.ErrorPayload{Code: ce.Code, Message: ce.Message}
		return reply
	}

	raw, err := json.Marshal(result)
	if err != nil {
		reply.Error = &types.ErrorPayload{Code: types.CodeExecutionError, Message: "Result is not serializable: " + err.Error()}
		return reply
	}
	reply.Result = raw
	return reply
}

// Executions returns every injection run so far, oldest first
func (e *Extension) Executions() []Execution {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Execution{}, e.executions...)
}

// Injections lists registered injection ids in registration order
func (e *Extension) Injections() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.injections))
	for _, reg := range e.injections {
		ids = append(ids, reg.ID)
	}
	return ids
}

// Close discards every tab
func (e *Extension) Close() {
	e.mu.Lock()
	tabs := e.tabs
	e.tabs = make(map[int64]*Tab)
	e.order = nil
	e.activeID = 0
	e.mu.Unlock()

	for _, tab := range tabs {
		tab.close()
	}
}

func decodeParams(raw json.RawMessage, into interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return types.NewCommandError(types.CodeMissingParams, "Invalid params: %v", err)
	}
	return nil
}

func execError(format string, args ...interface{}) error {
	return types.NewCommandError(types.CodeExecutionError, format, args...)
}

var errNoActiveTab = types.NewCommandError(types.CodeTabNotFound, "No active tab")

func tabNotFound(id int64) error {
	return types.NewCommandError(types.CodeTabNotFound, "Tab not found: %d", id)
}
