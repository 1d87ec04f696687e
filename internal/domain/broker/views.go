package broker

import (
	"github.com/GriffinCanCode/chromelink/internal/domain/injection"
	"github.com/GriffinCanCode/chromelink/internal/domain/session"
	"github.com/GriffinCanCode/chromelink/internal/infrastructure/monitoring"
)

// Health summarises broker state for the health endpoint
type Health struct {
	Status     string                     `json:"status"`
	Extension  bool                       `json:"extensionConnected"`
	Sessions   session.Stats              `json:"sessions"`
	Pending    int                        `json:"pendingRequests"`
	Injections int                        `json:"injections"`
	Counters   monitoring.MetricsSnapshot `json:"counters"`
}

// SessionView is a session with its broker-side state
type SessionView struct {
	session.Info
	GraceMs    int64                  `json:"gracePeriodMs"`
	Injections []*injection.Injection `json:"injections"`
	Pending    int                    `json:"pendingRequests"`
}

// Health reports link and table sizes. Status is "degraded" while no
// extension is attached.
func (b *Broker) Health() Health {
	h := Health{
		Status:     "healthy",
		Extension:  b.link.Connected(),
		Sessions:   b.sessions.Stats(),
		Pending:    b.pending.Len(),
		Injections: b.injections.Count(),
		Counters:   b.metrics.Snapshot(),
	}
	if !h.Extension {
		h.Status = "degraded"
	}
	return h
}

// Sessions lists every live session
func (b *Broker) Sessions() []SessionView {
	infos := b.sessions.List()
	views := make([]SessionView, 0, len(infos))
	for _, info := range infos {
		views = append(views, b.view(info))
	}
	return views
}

// Session returns one live session
func (b *Broker) Session(sessionID string) (SessionView, bool) {
	info, ok := b.sessions.Get(sessionID)
	if !ok {
		return SessionView{}, false
	}
	return b.view(info), true
}

func (b *Broker) view(info session.Info) SessionView {
	return SessionView{
		Info:       info,
		GraceMs:    info.GraceMillis(),
		Injections: b.injections.List(info.ID),
		Pending:    b.pending.CountSession(info.ID),
	}
}
