package broker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/chromelink/internal/domain/command"
	"github.com/GriffinCanCode/chromelink/internal/domain/injection"
	"github.com/GriffinCanCode/chromelink/internal/domain/pending"
	"github.com/GriffinCanCode/chromelink/internal/domain/session"
	"github.com/GriffinCanCode/chromelink/internal/extension"
	"github.com/GriffinCanCode/chromelink/internal/infrastructure/logging"
	"github.com/GriffinCanCode/chromelink/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/chromelink/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/chromelink/internal/shared/types"
)

// Link is the extension side of the broker
type Link interface {
	// Forward returns the id of the extension connection that took cmd
	Forward(cmd *types.LinkCommand) (string, error)
	Notify(cmd *types.LinkCommand) error
	Inbound() <-chan *types.LinkReply
	Events() <-chan extension.Event
	Connected() bool
}

// Conn is a controller connection
type Conn interface {
	ID() string
	// Send queues a message and reports whether it was accepted
	Send(msg interface{}) bool
	Close()
}

// Config holds request policy
type Config struct {
	RequestTimeout time.Duration
	TimeoutSlack   time.Duration
	SweepInterval  time.Duration
	Session        session.Config
	Injection      injection.Options
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		RequestTimeout: 30 * time.Second,
		TimeoutSlack:   5 * time.Second,
		SweepInterval:  5 * time.Second,
		Session: session.Config{
			Grace:    60 * time.Second,
			MinGrace: time.Second,
			MaxGrace: time.Hour,
		},
		Injection: injection.Options{ValidateScripts: true},
	}
}

// Broker correlates controller commands with extension replies
type Broker struct {
	cfg        Config
	catalog    *command.Catalog
	sessions   *session.Manager
	pending    *pending.Table
	injections *injection.Registry
	link       Link
	metrics    *monitoring.Metrics
	tracer     *tracing.Tracer
	logger     *zap.Logger

	mu    sync.RWMutex
	conns map[string]Conn

	// linkConn is the current extension connection, owned by Run
	linkConn string

	// unregistrations the extension never received
	tombMu     sync.Mutex
	tombstones []*types.LinkCommand
}

// New wires a broker around link. Metrics and tracer may be nil.
func New(cfg Config, link Link, metrics *monitoring.Metrics, tracer *tracing.Tracer, logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = monitoring.NewMetrics()
	}
	defaults := DefaultConfig()
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaults.RequestTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaults.SweepInterval
	}
	if cfg.Session.Grace <= 0 {
		cfg.Session.Grace = defaults.Session.Grace
	}

	b := &Broker{
		cfg:        cfg,
		catalog:    command.NewCatalog(),
		pending:    pending.NewTable(),
		injections: injection.NewRegistry(cfg.Injection),
		link:       link,
		metrics:    metrics,
		tracer:     tracer,
		logger:     logger,
		conns:      make(map[string]Conn),
	}
	b.sessions = session.NewManager(cfg.Session, b.onSessionExpired, logger.Named("session"))
	return b
}

// Connect attaches a controller, resuming resumeID when possible and
// creating a fresh session otherwise. The session event is sent before
// Connect returns.
func (b *Broker) Connect(conn Conn, resumeID string, grace time.Duration) (session.Info, bool) {
	b.mu.Lock()
	b.conns[conn.ID()] = conn
	b.mu.Unlock()

	var (
		info    session.Info
		resumed bool
	)
	if resumeID != "" {
		var err error
		info, err = b.sessions.Resume(resumeID, conn.ID(), grace)
		if err == nil {
			resumed = true
		} else {
			b.logger.Info("resume failed, creating new session",
				logging.SessionID(resumeID),
				logging.ConnID(conn.ID()),
				zap.Error(err))
		}
	}
	if !resumed {
		info = b.sessions.Create(conn.ID(), grace)
	}

	event := &types.Event{Type: types.EventSessionCreated, SessionID: info.ID}
	if resumed {
		event.Type = types.EventSessionResumed
		b.metrics.IncSessionEvent("resumed")
	} else {
		b.metrics.IncSessionEvent("created")
	}
	conn.Send(event)
	b.metrics.RecordWSMessage("out", event.Type)
	b.refreshGauges()

	return info, resumed
}

// Disconnect detaches a controller and suspends its session. Requests it
// issued stay pending; their replies are discarded.
func (b *Broker) Disconnect(conn Conn, sessionID string) {
	b.mu.Lock()
	delete(b.conns, conn.ID())
	b.mu.Unlock()

	if b.sessions.Suspend(sessionID, conn.ID()) {
		b.metrics.IncSessionEvent("suspended")
	}
	b.refreshGauges()
}

// Run consumes extension replies and link events until ctx is done
func (b *Broker) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case reply := <-b.link.Inbound():
			b.onReply(reply)
		case ev := <-b.link.Events():
			b.onLinkEvent(ev)
		case now := <-ticker.C:
			if n := b.pending.ExpireStale(now); n > 0 {
				b.logger.Warn("sweep expired stale requests", zap.Int("count", n))
			}
			b.refreshGauges()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Shutdown expires every session, unregistering their injections while the
// link is still up, fails whatever is still pending and closes every
// controller connection.
func (b *Broker) Shutdown() int {
	expired := b.sessions.ExpireAll()
	b.pending.RejectAll(types.NewCommandError(types.CodeLinkUnavailable, "Broker shutting down"))
	b.pending.Close()

	b.mu.Lock()
	conns := make([]Conn, 0, len(b.conns))
	for id, conn := range b.conns {
		conns = append(conns, conn)
		delete(b.conns, id)
	}
	b.mu.Unlock()
	for _, conn := range conns {
		conn.Close()
	}
	b.refreshGauges()
	b.logger.Info("broker shut down", zap.Int("sessions_expired", len(expired)))
	return len(expired)
}

func (b *Broker) onSessionExpired(info session.Info) {
	dropped := b.injections.DropSession(info.ID)
	b.metrics.IncSessionEvent("expired")

	for _, inj := range dropped {
		cmd := &types.LinkCommand{
			SessionID: info.ID,
			Action:    string(command.UnregisterInjection),
			Params:    mustJSON(map[string]string{"id": inj.ID}),
		}
		if err := b.link.Notify(cmd); err != nil {
			b.logger.Warn("unregistration of expired session deferred until extension reconnects",
				logging.SessionID(info.ID),
				zap.String("injection_id", inj.ID),
				zap.Error(err))
			b.bury(cmd)
		}
	}
	b.refreshGauges()
}

// bury keeps an unregistration for the next extension connection
func (b *Broker) bury(cmd *types.LinkCommand) {
	b.tombMu.Lock()
	defer b.tombMu.Unlock()
	b.tombstones = append(b.tombstones, cmd)
}

// flushTombstones sends the deferred unregistrations, keeping those that
// fail again
func (b *Broker) flushTombstones() {
	b.tombMu.Lock()
	queued := b.tombstones
	b.tombstones = nil
	b.tombMu.Unlock()

	sent := 0
	for i, cmd := range queued {
		if err := b.link.Notify(cmd); err != nil {
			b.logger.Warn("deferred unregistration failed", zap.Error(err))
			b.tombMu.Lock()
			b.tombstones = append(b.tombstones, queued[i:]...)
			b.tombMu.Unlock()
			break
		}
		sent++
	}
	if sent > 0 {
		b.logger.Info("sent deferred unregistrations", zap.Int("count", sent))
	}
}

// connection returns the live controller for connID
func (b *Broker) connection(connID string) (Conn, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	conn, ok := b.conns[connID]
	return conn, ok
}

func (b *Broker) refreshGauges() {
	stats := b.sessions.Stats()
	b.metrics.SetSessions(stats.Active, stats.Suspended)
	b.metrics.SetPending(b.pending.Len())
	b.metrics.SetInjections(b.injections.Count())
}
