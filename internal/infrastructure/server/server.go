package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	httpapi "github.com/GriffinCanCode/chromelink/internal/api/http"
	"github.com/GriffinCanCode/chromelink/internal/api/middleware"
	"github.com/GriffinCanCode/chromelink/internal/api/ws"
	"github.com/GriffinCanCode/chromelink/internal/domain/broker"
	"github.com/GriffinCanCode/chromelink/internal/domain/injection"
	"github.com/GriffinCanCode/chromelink/internal/domain/session"
	"github.com/GriffinCanCode/chromelink/internal/extension"
	"github.com/GriffinCanCode/chromelink/internal/infrastructure/config"
	"github.com/GriffinCanCode/chromelink/internal/infrastructure/logging"
	"github.com/GriffinCanCode/chromelink/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/chromelink/internal/infrastructure/tracing"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	router  *gin.Engine
	http    *http.Server
	broker  *broker.Broker
	link    *extension.Link
	tracer  *tracing.Tracer
	metrics *monitoring.Metrics
	logger  *logging.Logger
	config  *config.Config

	cancel  context.CancelFunc
	runDone chan struct{}

	mu       sync.Mutex
	closed   bool
}

// NewServer creates a new server instance. A nil logger is built from the
// logging section of cfg.
func NewServer(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		var err error
		logger, err = logging.New(logging.Config{
			Level:       cfg.Logging.Level,
			Development: cfg.Logging.Development,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
	}

	logger.Info("Initializing ChromeLink broker",
		zap.String("addr", cfg.Addr()),
		zap.Duration("grace_period", cfg.Session.GracePeriod),
		zap.Duration("request_timeout", cfg.Request.Timeout),
	)

	metrics := monitoring.NewMetrics()
	tracer := tracing.New("chromelink", logger.Component("tracing"))

	link := extension.NewLink(extension.Config{
		PingInterval:    cfg.Extension.PingInterval,
		PongWait:        cfg.Extension.PongWait,
		WriteTimeout:    cfg.Extension.WriteTimeout,
		SendBuffer:      cfg.Extension.SendBuffer,
		MaxMessageBytes: cfg.Extension.MaxMessageBytes,
		BreakerFailures: cfg.Extension.BreakerFailures,
		BreakerCooldown: cfg.Extension.BreakerCooldown,
	}, logger.Component("extension"))

	b := broker.New(broker.Config{
		RequestTimeout: cfg.Request.Timeout,
		TimeoutSlack:   cfg.Request.TimeoutSlack,
		SweepInterval:  cfg.Request.SweepInterval,
		Session: session.Config{
			Grace:    cfg.Session.GracePeriod,
			MinGrace: cfg.Session.MinGracePeriod,
			MaxGrace: cfg.Session.MaxGracePeriod,
		},
		Injection: injection.Options{ValidateScripts: cfg.Injection.ValidateScripts},
	}, link, metrics, tracer, logger.Component("broker"))

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.Logger(logger.Component("http")))
	router.Use(middleware.CORS(middleware.CORSForOrigins(cfg.Server.AllowedOrigins)))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
	}
	router.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
		Enabled:           cfg.RateLimit.Enabled,
	}))

	wsHandler := ws.NewHandler(b, ws.Config{
		MaxMessageBytes: cfg.Controller.MaxMessageBytes,
		MaxJSONDepth:    cfg.Controller.MaxJSONDepth,
		SendBuffer:      cfg.Controller.SendBuffer,
		CommandRate:     cfg.Controller.CommandRate,
		CommandBurst:    cfg.Controller.CommandBurst,
		PingInterval:    ws.DefaultConfig().PingInterval,
		PongWait:        ws.DefaultConfig().PongWait,
		WriteTimeout:    ws.DefaultConfig().WriteTimeout,
	}, metrics, logger.Component("controller"))
	handlers := httpapi.NewHandlers(b, link, logger.Component("http"))

	// Controller sockets
	router.GET("/", wsHandler.HandleSession)
	router.GET("/session", wsHandler.HandleSession)

	// Extension link, health and introspection
	handlers.Register(router)

	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	logger.Info("Server initialized successfully")

	return &Server{
		router:  router,
		broker:  b,
		link:    link,
		tracer:  tracer,
		metrics: metrics,
		logger:  logger,
		config:  cfg,
		http: &http.Server{
			Handler: router,
		},
	}, nil
}

// Handler exposes the router, mostly for tests
func (s *Server) Handler() http.Handler { return s.router }

// Broker returns the session broker
func (s *Server) Broker() *broker.Broker { return s.broker }

// Metrics returns the metrics registry owner
func (s *Server) Metrics() *monitoring.Metrics { return s.metrics }

// Listen binds the configured address and starts serving in the
// background. It returns the bound address.
func (s *Server) Listen() (net.Addr, error) {
	ln, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.config.Addr(), err)
	}
	go func() {
		if err := s.Serve(ln); err != nil {
			s.logger.Error("HTTP server stopped", zap.Error(err))
		}
	}()
	return ln.Addr(), nil
}

// Serve starts the broker loop and serves HTTP on ln until Close.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return http.ErrServerClosed
	}
	if s.cancel != nil {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	if max := s.config.Server.MaxConnections; max > 0 {
		ln = netutil.LimitListener(ln, max)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.runDone = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.runDone)
		_ = s.broker.Run(ctx)
	}()

	s.logger.Info("Starting HTTP server", zap.String("addr", ln.Addr().String()))
	err := s.http.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Run listens on the configured address and blocks until ctx is done,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr(), err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()
	return s.Close(shutdownCtx)
}

// Close gracefully shuts down the server. Sessions are expired while the
// extension link is still attached so their injections get unregistered.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel, runDone := s.cancel, s.runDone
	s.mu.Unlock()

	s.logger.Info("Shutting down server...")

	var errs []error
	if err := s.http.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("HTTP shutdown failed", zap.Error(err))
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	expired := s.broker.Shutdown()
	s.logger.Info("Expired sessions", zap.Int("count", expired))

	s.link.Close()
	if cancel != nil {
		cancel()
		<-runDone
	}
	s.tracer.Close()

	// stderr sync errors are expected on some platforms
	_ = s.logger.Sync()

	return errors.Join(errs...)
}
