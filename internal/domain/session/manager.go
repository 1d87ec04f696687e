package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/chromelink/internal/shared/id"
)

// State is a session lifecycle state
type State string

const (
	StateActive    State = "ACTIVE"
	StateSuspended State = "SUSPENDED"
	StateExpired   State = "EXPIRED"
)

var (
	// ErrNotFound is returned for unknown or expired sessions
	ErrNotFound = errors.New("session not found")
	// ErrBound is returned when resuming a session another connection holds
	ErrBound = errors.New("session is bound to another connection")
)

// ExpireFunc runs after a session has been removed from the manager
type ExpireFunc func(info Info)

// Config holds grace period policy
type Config struct {
	Grace    time.Duration
	MinGrace time.Duration
	MaxGrace time.Duration
}

// Info is a point-in-time copy of a session
type Info struct {
	ID          string        `json:"sessionId"`
	State       State         `json:"state"`
	CreatedAt   time.Time     `json:"createdAt"`
	LastSeenAt  time.Time     `json:"lastSeenAt"`
	ConnID      string        `json:"connectionId,omitempty"`
	GracePeriod time.Duration `json:"-"`
	ExpiresAt   *time.Time    `json:"expiresAt,omitempty"`
	OwnedTabIDs []int64       `json:"ownedTabIds"`
}

// GraceMillis is the grace period in milliseconds
func (i Info) GraceMillis() int64 {
	return i.GracePeriod.Milliseconds()
}

type record struct {
	id         string
	state      State
	createdAt  time.Time
	lastSeenAt time.Time
	connID     string
	grace      time.Duration
	expiresAt  time.Time
	ownedTabs  map[int64]struct{}
	timer      *time.Timer
	generation uint64
}

// Stats contains session manager statistics
type Stats struct {
	Active    int `json:"active"`
	Suspended int `json:"suspended"`
	Created   int `json:"created"`
	Resumed   int `json:"resumed"`
	Expired   int `json:"expired"`
}

// Manager owns every live session
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*record
	cfg      Config
	onExpire ExpireFunc
	logger   *zap.Logger

	created int
	resumed int
	expired int
}

// NewManager creates a session manager
func NewManager(cfg Config, onExpire ExpireFunc, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		sessions: make(map[string]*record),
		cfg:      cfg,
		onExpire: onExpire,
		logger:   logger,
	}
}

// ClampGrace bounds a requested grace period by the configured limits.
// Zero or negative selects the default.
func (m *Manager) ClampGrace(requested time.Duration) time.Duration {
	if requested <= 0 {
		return m.cfg.Grace
	}
	if m.cfg.MinGrace > 0 && requested < m.cfg.MinGrace {
		return m.cfg.MinGrace
	}
	if m.cfg.MaxGrace > 0 && requested > m.cfg.MaxGrace {
		return m.cfg.MaxGrace
	}
	return requested
}

// Create starts a new ACTIVE session bound to connID
func (m *Manager) Create(connID string, grace time.Duration) Info {
	now := time.Now()
	rec := &record{
		id:         id.NewSessionID().String(),
		state:      StateActive,
		createdAt:  now,
		lastSeenAt: now,
		connID:     connID,
		grace:      m.ClampGrace(grace),
		ownedTabs:  make(map[int64]struct{}),
	}

	m.mu.Lock()
	m.sessions[rec.id] = rec
	m.created++
	info := rec.info()
	m.mu.Unlock()

	m.logger.Info("session created",
		zap.String("session_id", rec.id),
		zap.String("conn_id", connID),
		zap.Duration("grace", rec.grace))
	return info
}

// Resume rebinds a SUSPENDED session to connID and cancels its expiry.
// A grace greater than zero replaces the session's grace period.
func (m *Manager) Resume(sessionID, connID string, grace time.Duration) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sessions[sessionID]
	if !ok || rec.state == StateExpired {
		return Info{}, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	if rec.state != StateSuspended {
		return Info{}, fmt.Errorf("%w: %s", ErrBound, sessionID)
	}

	if rec.timer != nil {
		rec.timer.Stop()
		rec.timer = nil
	}
	rec.generation++
	rec.state = StateActive
	rec.connID = connID
	rec.lastSeenAt = time.Now()
	rec.expiresAt = time.Time{}
	if grace > 0 {
		rec.grace = m.ClampGrace(grace)
	}
	m.resumed++

	m.logger.Info("session resumed",
		zap.String("session_id", sessionID),
		zap.String("conn_id", connID))
	return rec.info(), nil
}

// Suspend unbinds a session from connID and arms its expiry timer. It is a
// no-op when the session is bound to a different connection.
func (m *Manager) Suspend(sessionID, connID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sessions[sessionID]
	if !ok || rec.state != StateActive || rec.connID != connID {
		return false
	}

	rec.generation++
	gen := rec.generation
	rec.state = StateSuspended
	rec.connID = ""
	rec.lastSeenAt = time.Now()
	rec.expiresAt = rec.lastSeenAt.Add(rec.grace)
	rec.timer = time.AfterFunc(rec.grace, func() {
		m.expireSuspended(sessionID, gen)
	})

	m.logger.Info("session suspended",
		zap.String("session_id", sessionID),
		zap.Time("expires_at", rec.expiresAt))
	return true
}

// Expire destroys a session immediately, whatever its state
func (m *Manager) Expire(sessionID string) (Info, bool) {
	m.mu.Lock()
	rec, ok := m.sessions[sessionID]
	if ok {
		m.remove(rec)
	}
	m.mu.Unlock()

	if !ok {
		return Info{}, false
	}
	return m.finishExpiry(rec), true
}

// ExpireAll destroys every session
func (m *Manager) ExpireAll() []Info {
	m.mu.Lock()
	recs := make([]*record, 0, len(m.sessions))
	for _, rec := range m.sessions {
		m.remove(rec)
		recs = append(recs, rec)
	}
	m.mu.Unlock()

	infos := make([]Info, 0, len(recs))
	for _, rec := range recs {
		infos = append(infos, m.finishExpiry(rec))
	}
	return infos
}

func (m *Manager) expireSuspended(sessionID string, gen uint64) {
	m.mu.Lock()
	rec, ok := m.sessions[sessionID]
	if !ok || rec.state != StateSuspended || rec.generation != gen {
		m.mu.Unlock()
		return
	}
	m.remove(rec)
	m.mu.Unlock()

	m.finishExpiry(rec)
}

// remove must be called with m.mu held
func (m *Manager) remove(rec *record) {
	if rec.timer != nil {
		rec.timer.Stop()
		rec.timer = nil
	}
	rec.generation++
	rec.state = StateExpired
	rec.connID = ""
	delete(m.sessions, rec.id)
	m.expired++
}

func (m *Manager) finishExpiry(rec *record) Info {
	info := rec.info()
	m.logger.Info("session expired", zap.String("session_id", rec.id))
	if m.onExpire != nil {
		m.onExpire(info)
	}
	return info
}

// Touch records activity on a session
func (m *Manager) Touch(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.sessions[sessionID]; ok {
		rec.lastSeenAt = time.Now()
	}
}

// AddTab records a tab opened by the session
func (m *Manager) AddTab(sessionID string, tabID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.sessions[sessionID]; ok {
		rec.ownedTabs[tabID] = struct{}{}
	}
}

// RemoveTab forgets a tab closed by the session
func (m *Manager) RemoveTab(sessionID string, tabID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.sessions[sessionID]; ok {
		delete(rec.ownedTabs, tabID)
	}
}

// Get returns a session snapshot
func (m *Manager) Get(sessionID string) (Info, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[sessionID]
	if !ok {
		return Info{}, false
	}
	return rec.info(), true
}

// IsBoundTo reports whether sessionID is ACTIVE on connID
func (m *Manager) IsBoundTo(sessionID, connID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[sessionID]
	return ok && rec.state == StateActive && rec.connID == connID
}

// List returns every live session ordered by creation
func (m *Manager) List() []Info {
	m.mu.RLock()
	infos := make([]Info, 0, len(m.sessions))
	for _, rec := range m.sessions {
		infos = append(infos, rec.info())
	}
	m.mu.RUnlock()

	// ULID ids sort by creation time
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Stats returns session counts
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{Created: m.created, Resumed: m.resumed, Expired: m.expired}
	for _, rec := range m.sessions {
		switch rec.state {
		case StateActive:
			stats.Active++
		case StateSuspended:
			stats.Suspended++
		}
	}
	return stats
}

// info must be called with the manager lock held
func (r *record) info() Info {
	tabs := make([]int64, 0, len(r.ownedTabs))
	for tab := range r.ownedTabs {
		tabs = append(tabs, tab)
	}
	sort.Slice(tabs, func(i, j int) bool { return tabs[i] < tabs[j] })

	info := Info{
		ID:          r.id,
		State:       r.state,
		CreatedAt:   r.createdAt,
		LastSeenAt:  r.lastSeenAt,
		ConnID:      r.connID,
		GracePeriod: r.grace,
		OwnedTabIDs: tabs,
	}
	if !r.expiresAt.IsZero() {
		expires := r.expiresAt
		info.ExpiresAt = &expires
	}
	return info
}
