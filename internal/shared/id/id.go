// Package id provides centralized ID generation for the broker.
//
// Session identifiers double as resume credentials, so they must be globally
// unique and unguessable. ULIDs give both, plus lexicographic ordering by
// creation time which keeps session listings stable:
//   - Prefixed types: sess_* for sessions, trace_* and span_* for tracing
//   - Cryptographic entropy from crypto/rand
//   - Lock-protected entropy reader, safe for concurrent use
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ============================================================================
// Type-Safe ID Wrappers
// ============================================================================

// SessionID identifies a controller session
type SessionID string

// TraceID identifies a trace spanning one command round trip
type TraceID string

// SpanID identifies a single span within a trace
type SpanID string

// ============================================================================
// ID Prefixes
// ============================================================================

const (
	SessionPrefix = "sess"
	TracePrefix   = "trace"
	SpanPrefix    = "span"
)

// ============================================================================
// ULID Generator
// ============================================================================

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a new ULID generator
func NewGenerator() *Generator {
	return &Generator{
		entropy: rand.Reader,
	}
}

// NewGeneratorWithEntropy creates a generator with custom entropy source.
// Useful for testing with deterministic entropy.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: entropy,
	}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// ============================================================================
// Typed ID Generators
// ============================================================================

// NewSessionID generates a new session ID
func NewSessionID() SessionID {
	return SessionID(Default().GenerateWithPrefix(SessionPrefix))
}

// NewTraceID generates a new trace ID
func NewTraceID() TraceID {
	return TraceID(Default().GenerateWithPrefix(TracePrefix))
}

// NewSpanID generates a new span ID
func NewSpanID() SpanID {
	return SpanID(Default().GenerateWithPrefix(SpanPrefix))
}

func (id SessionID) String() string { return string(id) }
func (id TraceID) String() string   { return string(id) }
func (id SpanID) String() string    { return string(id) }

// ============================================================================
// Validation
// ============================================================================

// SplitPrefixed separates a prefixed ID into its prefix and ULID parts.
func SplitPrefixed(prefixed string) (string, ulid.ULID, error) {
	prefix, raw, ok := strings.Cut(prefixed, "_")
	if !ok {
		return "", ulid.ULID{}, fmt.Errorf("id %q has no prefix", prefixed)
	}
	parsed, err := ulid.Parse(raw)
	if err != nil {
		return "", ulid.ULID{}, fmt.Errorf("id %q: %w", prefixed, err)
	}
	return prefix, parsed, nil
}

// IsSessionID reports whether s has the shape of a generated session ID.
// It says nothing about whether such a session exists.
func IsSessionID(s string) bool {
	prefix, _, err := SplitPrefixed(s)
	return err == nil && prefix == SessionPrefix
}
