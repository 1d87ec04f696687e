package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/chromelink/internal/domain/broker"
	"github.com/GriffinCanCode/chromelink/internal/extension"
	"github.com/GriffinCanCode/chromelink/internal/shared/id"
)

// Handlers serves the operational HTTP surface and the extension upgrade
type Handlers struct {
	broker   *broker.Broker
	link     *extension.Link
	upgrader websocket.Upgrader
	started  time.Time
	logger   *zap.Logger
}

// NewHandlers creates the HTTP handlers
func NewHandlers(b *broker.Broker, link *extension.Link, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		broker: b,
		link:   link,
		upgrader: websocket.Upgrader{
			// the extension connects from a chrome-extension:// origin
			CheckOrigin: func(*http.Request) bool { return true },
		},
		started: time.Now(),
		logger:  logger,
	}
}

// Register mounts every route except the controller socket
func (h *Handlers) Register(router gin.IRoutes) {
	router.GET("/health", h.Health)
	router.GET("/sessions", h.ListSessions)
	router.GET("/sessions/:id", h.GetSession)
	router.GET("/extension", h.Extension)
}

type healthResponse struct {
	broker.Health
	Breaker string `json:"extensionBreaker"`
	Uptime  string `json:"uptime"`
}

// Health reports link state and table sizes. It always answers 200; a
// missing extension shows up as status "degraded".
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{
		Health:  h.broker.Health(),
		Breaker: h.link.BreakerState().String(),
		Uptime:  time.Since(h.started).Round(time.Second).String(),
	})
}

// ListSessions returns every live session
func (h *Handlers) ListSessions(c *gin.Context) {
	sessions := h.broker.Sessions()
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// GetSession returns one session with its injections and owned tabs
func (h *Handlers) GetSession(c *gin.Context) {
	sid := c.Param("id")
	if !id.IsSessionID(sid) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed session id"})
		return
	}
	view, ok := h.broker.Session(sid)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, view)
}

// Extension upgrades the browser extension's link. Only one extension may
// be attached; others get 409.
func (h *Handlers) Extension(c *gin.Context) {
	if h.link.Connected() {
		c.JSON(http.StatusConflict, gin.H{"error": extension.ErrAlreadyConnected.Error()})
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("extension upgrade failed", zap.Error(err))
		return
	}

	if err := h.link.Serve(ws); err != nil {
		// lost the race with another extension after the check above
		if errors.Is(err, extension.ErrAlreadyConnected) {
			ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
				time.Now().Add(time.Second))
		}
		ws.Close()
		h.logger.Warn("extension rejected", zap.Error(err))
	}
}
