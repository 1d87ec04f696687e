// Package injection stores per-session script injections. Matching URLs
// against the rules is the extension's job; the registry only validates,
// stores and hands rules back for forwarding.
package injection

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/GriffinCanCode/chromelink/internal/shared/types"
)

// RunAt is the page lifecycle point an injection runs at
type RunAt string

const (
	DocumentStart RunAt = "document_start"
	DocumentEnd   RunAt = "document_end"
	DocumentIdle  RunAt = "document_idle"
)

// AllURLs matches every page
const AllURLs = "<all_urls>"

// ErrNotFound is returned when unregistering an unknown id
var ErrNotFound = errors.New("injection not found")

// Injection is one registered script
type Injection struct {
	ID           string    `json:"id"`
	Code         string    `json:"code"`
	Matches      []string  `json:"matches"`
	RunAt        RunAt     `json:"runAt"`
	RegisteredAt time.Time `json:"registeredAt"`

	seq uint64
}

// Valid reports whether r is a known lifecycle point
func (r RunAt) Valid() bool {
	switch r {
	case DocumentStart, DocumentEnd, DocumentIdle:
		return true
	}
	return false
}

// Options controls registration checks
type Options struct {
	// ValidateScripts parses injection code before accepting it
	ValidateScripts bool
}

// Registry holds injections keyed by session then id
type Registry struct {
	mu        sync.RWMutex
	bySession map[string]map[string]*Injection
	seq       uint64
	opts      Options
}

// NewRegistry creates an empty registry
func NewRegistry(opts Options) *Registry {
	return &Registry{
		bySession: make(map[string]map[string]*Injection),
		opts:      opts,
	}
}

// Validate checks an injection without storing it. Absent id or code is a
// params error; bad patterns or unparsable code are injection errors.
func (r *Registry) Validate(inj *Injection) error {
	if inj.ID == "" || inj.Code == "" {
		return types.NewCommandError(types.CodeMissingParams, "Missing required parameters: id and code")
	}
	if inj.RunAt != "" && !inj.RunAt.Valid() {
		return types.NewCommandError(types.CodeInjectionError, "Invalid runAt: %s", inj.RunAt)
	}
	for _, pattern := range inj.Matches {
		if err := ValidatePattern(pattern); err != nil {
			return types.NewCommandError(types.CodeInjectionError, "%v", err)
		}
	}
	if r.opts.ValidateScripts {
		if err := CheckSyntax(inj.Code); err != nil {
			return types.NewCommandError(types.CodeInjectionError, "Invalid injection code: %v", err)
		}
	}
	return nil
}

// Register validates and upserts an injection. The previously stored
// injection with the same id, if any, is returned so a failed forward can
// be rolled back with Restore.
func (r *Registry) Register(sessionID string, inj *Injection) (*Injection, error) {
	applyDefaults(inj)
	if err := r.Validate(inj); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.bySession[sessionID]
	if !ok {
		set = make(map[string]*Injection)
		r.bySession[sessionID] = set
	}
	prev := set[inj.ID]
	r.seq++
	inj.seq = r.seq
	if inj.RegisteredAt.IsZero() {
		inj.RegisteredAt = time.Now()
	}
	set[inj.ID] = inj
	return prev, nil
}

// Restore puts back prev under id, or removes id when prev is nil
func (r *Registry) Restore(sessionID, id string, prev *Injection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.bySession[sessionID]
	if !ok {
		if prev == nil {
			return
		}
		set = make(map[string]*Injection)
		r.bySession[sessionID] = set
	}
	if prev == nil {
		delete(set, id)
		if len(set) == 0 {
			delete(r.bySession, sessionID)
		}
		return
	}
	set[id] = prev
}

// Get returns one injection
func (r *Registry) Get(sessionID, id string) (*Injection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inj, ok := r.bySession[sessionID][id]
	return inj, ok
}

// Unregister removes an injection
func (r *Registry) Unregister(sessionID, id string) (*Injection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.bySession[sessionID]
	inj, ok := set[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(set, id)
	if len(set) == 0 {
		delete(r.bySession, sessionID)
	}
	return inj, nil
}

// List returns a session's injections in registration order
func (r *Registry) List(sessionID string) []*Injection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return ordered(r.bySession[sessionID])
}

// DropSession removes and returns every injection of a session
func (r *Registry) DropSession(sessionID string) []*Injection {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := ordered(r.bySession[sessionID])
	delete(r.bySession, sessionID)
	return list
}

// Snapshot returns every live injection grouped by session
func (r *Registry) Snapshot() map[string][]*Injection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]*Injection, len(r.bySession))
	for sessionID, set := range r.bySession {
		out[sessionID] = ordered(set)
	}
	return out
}

// Count returns the total number of live injections
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, set := range r.bySession {
		n += len(set)
	}
	return n
}

func ordered(set map[string]*Injection) []*Injection {
	list := make([]*Injection, 0, len(set))
	for _, inj := range set {
		list = append(list, inj)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].seq < list[j].seq })
	return list
}

func applyDefaults(inj *Injection) {
	if len(inj.Matches) == 0 {
		inj.Matches = []string{AllURLs}
	}
	if inj.RunAt == "" {
		inj.RunAt = DocumentIdle
	}
}

// ValidatePattern checks a URL match pattern: a scheme-qualified URL where
// '*' spans any run of characters, or "<all_urls>" for everything.
func ValidatePattern(pattern string) error {
	if pattern == AllURLs {
		return nil
	}
	if strings.TrimSpace(pattern) == "" {
		return errors.New("empty match pattern")
	}
	if !strings.Contains(pattern, "://") {
		return fmt.Errorf("invalid match pattern: %s", pattern)
	}
	if _, err := compilePattern(pattern); err != nil {
		return fmt.Errorf("invalid match pattern: %s: %w", pattern, err)
	}
	return nil
}

// CheckSyntax parses code as a function body without running it
func CheckSyntax(code string) error {
	_, err := goja.Compile("injection", "(function(){\n"+code+"\n})", false)
	return err
}
