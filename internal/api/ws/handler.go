package ws

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/chromelink/internal/domain/broker"
	"github.com/GriffinCanCode/chromelink/internal/infrastructure/logging"
	"github.com/GriffinCanCode/chromelink/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/chromelink/internal/shared/types"
	"github.com/GriffinCanCode/chromelink/internal/shared/utils"
)

// Config tunes controller sockets
type Config struct {
	MaxMessageBytes int64
	MaxJSONDepth    int
	SendBuffer      int
	// CommandRate is envelopes per second per connection; zero disables
	CommandRate  float64
	CommandBurst int
	PingInterval time.Duration
	PongWait     time.Duration
	WriteTimeout time.Duration
	CheckOrigin  func(r *http.Request) bool
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		MaxMessageBytes: utils.MaxJSONSize,
		MaxJSONDepth:    utils.MaxJSONDepth,
		SendBuffer:      64,
		CommandRate:     50,
		CommandBurst:    100,
		PingInterval:    30 * time.Second,
		PongWait:        75 * time.Second,
		WriteTimeout:    5 * time.Second,
	}
}

// Handler serves controller WebSocket connections
type Handler struct {
	broker    *broker.Broker
	cfg       Config
	upgrader  websocket.Upgrader
	validator *utils.JSONSizeValidator
	metrics   *monitoring.Metrics
	logger    *zap.Logger
}

// NewHandler creates a controller socket handler
func NewHandler(b *broker.Broker, cfg Config, metrics *monitoring.Metrics, logger *zap.Logger) *Handler {
	defaults := DefaultConfig()
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaults.SendBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = defaults.MaxMessageBytes
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		// controllers are scripts, not browsers
		checkOrigin = func(*http.Request) bool { return true }
	}
	if metrics == nil {
		metrics = monitoring.NewMetrics()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Handler{
		broker:    b,
		cfg:       cfg,
		upgrader:  websocket.Upgrader{CheckOrigin: checkOrigin},
		validator: utils.NewJSONSizeValidator(int(cfg.MaxMessageBytes), cfg.MaxJSONDepth),
		metrics:   metrics,
		logger:    logger,
	}
}

// HandleSession upgrades a controller connection. Query parameters:
// sessionId resumes a suspended session, timeout (ms) sets its grace period.
func (h *Handler) HandleSession(c *gin.Context) {
	resumeID := c.Query("sessionId")
	if err := utils.ValidateID(resumeID, "sessionId", false); err != nil {
		// no such session can exist, so this is an unknown id: start fresh
		h.logger.Info("ignoring malformed sessionId", zap.Error(err), zap.String("remote", c.ClientIP()))
		resumeID = ""
	}

	var grace time.Duration
	if raw := c.Query("timeout"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || ms < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "timeout must be a non-negative integer (milliseconds)"})
			return
		}
		grace = time.Duration(ms) * time.Millisecond
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("controller upgrade failed", zap.Error(err))
		return
	}

	conn := newConn(uuid.NewString(), ws, h.cfg, h.logger)
	go conn.writePump()

	h.metrics.IncWSConnections(monitoring.RoleController)
	defer h.metrics.DecWSConnections(monitoring.RoleController)

	info, resumed := h.broker.Connect(conn, resumeID, grace)
	h.logger.Info("controller connected",
		logging.ConnID(conn.id),
		logging.SessionID(info.ID),
		zap.Bool("resumed", resumed),
		zap.String("remote", c.ClientIP()))

	h.readLoop(c, conn, info.ID)

	h.broker.Disconnect(conn, info.ID)
	conn.Close()
	h.logger.Info("controller disconnected", logging.ConnID(conn.id), logging.SessionID(info.ID))
}

func (h *Handler) readLoop(c *gin.Context, conn *conn, sessionID string) {
	ctx := c.Request.Context()
	ws := conn.ws
	ws.SetReadLimit(h.cfg.MaxMessageBytes)
	if h.cfg.PongWait > 0 {
		ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		})
	}

	var limiter *rate.Limiter
	if h.cfg.CommandRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(h.cfg.CommandRate), h.cfg.CommandBurst)
	}

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("controller read error", logging.ConnID(conn.id), zap.Error(err))
			}
			return
		}
		if h.cfg.PongWait > 0 {
			ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		}

		// throttle instead of erroring; the controller just sees latency
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
		}

		env, cerr := h.decode(data)
		if cerr != nil {
			h.metrics.RecordWSMessage("in", "invalid")
			conn.Send(types.ErrorResponse(env.RequestID, cerr))
			continue
		}

		h.broker.Handle(ctx, conn, sessionID, env)
	}
}

// decode parses an envelope. The returned envelope is never nil so a
// request id recovered from a bad message can still be echoed.
func (h *Handler) decode(data []byte) (*types.Envelope, error) {
	env := &types.Envelope{}
	if err := h.validator.ValidateJSON(data); err != nil {
		// best effort to recover the id
		_ = json.Unmarshal(data, env)
		return env, types.NewCommandError(types.CodeMissingParams, "Invalid message: %v", err)
	}
	if err := json.Unmarshal(data, env); err != nil {
		return &types.Envelope{}, types.NewCommandError(types.CodeMissingParams, "Invalid message: %v", err)
	}
	if err := utils.ValidateRequestID(env.RequestID); err != nil {
		return &types.Envelope{RequestID: clipID(env.RequestID)}, types.NewCommandError(types.CodeMissingParams, "Invalid requestId: %v", err)
	}
	return env, nil
}

// clipID bounds an invalid request id so it can still be echoed
func clipID(id string) string {
	if len(id) > utils.MaxIDLength {
		id = id[:utils.MaxIDLength]
	}
	return strings.ToValidUTF8(id, "")
}
