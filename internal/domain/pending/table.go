// Package pending correlates commands forwarded to the extension with the
// replies that come back for them.
package pending

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/chromelink/internal/shared/types"
)

var (
	// ErrDuplicate is returned when a request id is already outstanding in a session
	ErrDuplicate = errors.New("request id already outstanding")
	// ErrInvalidDeadline is returned for a zero deadline
	ErrInvalidDeadline = errors.New("request deadline not set")
	// ErrLinkGone is returned when binding to an extension connection that
	// has already dropped
	ErrLinkGone = errors.New("extension connection already gone")
)

// goneLinks bounds how many dropped extension connections are remembered
const goneLinks = 16

// Key identifies one outstanding request. Request ids are only unique
// within their session.
type Key struct {
	SessionID string
	RequestID string
}

// LinkID is the correlation id sent to the extension. Session ids never
// contain ':' so the first separator splits unambiguously.
func (k Key) LinkID() string {
	return k.SessionID + ":" + k.RequestID
}

// ParseLinkID reverses LinkID
func ParseLinkID(s string) (Key, bool) {
	sessionID, requestID, ok := strings.Cut(s, ":")
	if !ok || sessionID == "" || requestID == "" {
		return Key{}, false
	}
	return Key{SessionID: sessionID, RequestID: requestID}, true
}

// Outcome is the terminal state of a request
type Outcome struct {
	Result json.RawMessage
	Err    *types.CommandError
}

// Failed reports whether the outcome carries an error
func (o Outcome) Failed() bool {
	return o.Err != nil
}

// Request is an in-flight command
type Request struct {
	Key
	Action   string
	ConnID   string
	LinkConn string // extension connection carrying the request, set by Bind
	IssuedAt time.Time
	Deadline time.Time

	// OnDone receives the single terminal outcome. It runs outside the
	// table lock.
	OnDone func(*Request, Outcome)

	timer *time.Timer
}

// Table holds outstanding requests keyed by session and request id
type Table struct {
	mu      sync.Mutex
	entries map[Key]*Request
	gone    []string
	closed  bool
}

// NewTable creates an empty table
func NewTable() *Table {
	return &Table{
		entries: make(map[Key]*Request),
	}
}

// Register adds req and arms its deadline timer
func (t *Table) Register(req *Request) (*Request, error) {
	if req.Deadline.IsZero() {
		return nil, ErrInvalidDeadline
	}
	if req.IssuedAt.IsZero() {
		req.IssuedAt = time.Now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[req.Key]; exists {
		return nil, ErrDuplicate
	}
	t.entries[req.Key] = req

	if !t.closed {
		key := req.Key
		req.timer = time.AfterFunc(time.Until(req.Deadline), func() {
			t.timeout(key)
		})
	}
	return req, nil
}

// Resolve completes a request with a result. It returns false when the
// request is unknown or already completed.
func (t *Table) Resolve(key Key, result json.RawMessage) bool {
	return t.complete(key, Outcome{Result: result})
}

// Reject completes a request with an error. It returns false when the
// request is unknown or already completed.
func (t *Table) Reject(key Key, err *types.CommandError) bool {
	return t.complete(key, Outcome{Err: err})
}

// ExpireStale times out every request whose deadline is not after now.
// Deadline timers normally fire first; the sweep catches any that were
// delayed.
func (t *Table) ExpireStale(now time.Time) int {
	t.mu.Lock()
	var stale []*Request
	for key, req := range t.entries {
		if !req.Deadline.After(now) {
			stale = append(stale, t.detach(key, req))
		}
	}
	t.mu.Unlock()

	for _, req := range stale {
		deliver(req, timeoutOutcome(req))
	}
	return len(stale)
}

// RejectAll completes every outstanding request with err
func (t *Table) RejectAll(err *types.CommandError) int {
	t.mu.Lock()
	all := make([]*Request, 0, len(t.entries))
	for key, req := range t.entries {
		all = append(all, t.detach(key, req))
	}
	t.mu.Unlock()

	for _, req := range all {
		deliver(req, Outcome{Err: err})
	}
	return len(all)
}

// Bind records the extension connection that carried key. It fails with
// ErrLinkGone when that connection was already reported lost, in which case
// the caller must fail the request itself. Binding a completed request is a
// no-op.
func (t *Table) Bind(key Key, linkConn string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, g := range t.gone {
		if g == linkConn {
			return ErrLinkGone
		}
	}
	if req, ok := t.entries[key]; ok {
		req.LinkConn = linkConn
	}
	return nil
}

// RejectLink completes every request carried by linkConn with err and
// remembers linkConn so late binds to it fail
func (t *Table) RejectLink(linkConn string, err *types.CommandError) int {
	t.mu.Lock()
	t.gone = append(t.gone, linkConn)
	if len(t.gone) > goneLinks {
		t.gone = t.gone[len(t.gone)-goneLinks:]
	}
	var lost []*Request
	for key, req := range t.entries {
		if req.LinkConn == linkConn {
			lost = append(lost, t.detach(key, req))
		}
	}
	t.mu.Unlock()

	for _, req := range lost {
		deliver(req, Outcome{Err: err})
	}
	return len(lost)
}

// Has reports whether key is outstanding
func (t *Table) Has(key Key) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[key]
	return ok
}

// Len returns the number of outstanding requests
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// CountSession returns the number of outstanding requests for a session
func (t *Table) CountSession(sessionID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for key := range t.entries {
		if key.SessionID == sessionID {
			n++
		}
	}
	return n
}

// Close disarms all timers. Outstanding entries stay until a sweep or
// RejectAll completes them.
func (t *Table) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for _, req := range t.entries {
		if req.timer != nil {
			req.timer.Stop()
		}
	}
}

func (t *Table) timeout(key Key) {
	t.mu.Lock()
	req, ok := t.entries[key]
	if ok {
		t.detach(key, req)
	}
	t.mu.Unlock()

	if ok {
		deliver(req, timeoutOutcome(req))
	}
}

func (t *Table) complete(key Key, outcome Outcome) bool {
	t.mu.Lock()
	req, ok := t.entries[key]
	if ok {
		t.detach(key, req)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	deliver(req, outcome)
	return true
}

// detach must be called with t.mu held
func (t *Table) detach(key Key, req *Request) *Request {
	delete(t.entries, key)
	if req.timer != nil {
		req.timer.Stop()
	}
	return req
}

func deliver(req *Request, outcome Outcome) {
	if req.OnDone != nil {
		req.OnDone(req, outcome)
	}
}

func timeoutOutcome(req *Request) Outcome {
	return Outcome{Err: types.NewCommandError(types.CodeTimeout, "Request timed out: %s", req.Action)}
}
