package id

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestGenerate(t *testing.T) {
	gen := NewGenerator()

	id1 := gen.Generate()
	id2 := gen.Generate()

	if id1.String() == id2.String() {
		t.Error("Generated IDs should be unique")
	}
}

func TestGenerateString(t *testing.T) {
	gen := NewGenerator()

	id := gen.GenerateString()

	if len(id) != 26 {
		t.Errorf("ULID should be 26 characters, got %d", len(id))
	}
}

func TestGenerateWithPrefix(t *testing.T) {
	gen := NewGenerator()

	for _, prefix := range []string{SessionPrefix, TracePrefix, SpanPrefix} {
		id := gen.GenerateWithPrefix(prefix)

		if !strings.HasPrefix(id, prefix+"_") {
			t.Errorf("ID should start with '%s_', got: %s", prefix, id)
		}

		got, parsed, err := SplitPrefixed(id)
		if err != nil {
			t.Fatalf("SplitPrefixed(%s): %v", id, err)
		}
		if got != prefix {
			t.Errorf("prefix = %s, want %s", got, prefix)
		}
		if parsed.Time() == 0 {
			t.Errorf("ULID part should carry a timestamp: %s", parsed)
		}
	}
}

func TestTypedIDGeneration(t *testing.T) {
	sessID := NewSessionID()
	traceID := NewTraceID()
	spanID := NewSpanID()

	if !strings.HasPrefix(sessID.String(), "sess_") {
		t.Errorf("SessionID should start with 'sess_', got: %s", sessID)
	}
	if !strings.HasPrefix(traceID.String(), "trace_") {
		t.Errorf("TraceID should start with 'trace_', got: %s", traceID)
	}
	if !strings.HasPrefix(spanID.String(), "span_") {
		t.Errorf("SpanID should start with 'span_', got: %s", spanID)
	}
	if strings.Contains(sessID.String(), ":") {
		t.Errorf("SessionID must not contain ':', got: %s", sessID)
	}
}

func TestIsSessionID(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"generated", NewSessionID().String(), true},
		{"trace id", NewTraceID().String(), false},
		{"bare ulid", NewGenerator().GenerateString(), false},
		{"empty", "", false},
		{"garbage", "sess_nope", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsSessionID(tt.in); got != tt.want {
				t.Errorf("IsSessionID(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestDeterministicEntropy(t *testing.T) {
	seed := bytes.Repeat([]byte{0x42}, 64)
	a := NewGeneratorWithEntropy(bytes.NewReader(seed)).Generate()
	b := NewGeneratorWithEntropy(bytes.NewReader(seed)).Generate()

	if a.Entropy()[0] != b.Entropy()[0] {
		t.Errorf("same entropy source should yield same entropy bytes")
	}
}

func TestConcurrentGeneration(t *testing.T) {
	const goroutines = 50
	const perGoroutine = 100

	var mu sync.Mutex
	seen := make(map[SessionID]bool)
	var wg sync.WaitGroup

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]SessionID, 0, perGoroutine)
			for j := 0; j < perGoroutine; j++ {
				local = append(local, NewSessionID())
			}
			mu.Lock()
			for _, id := range local {
				if seen[id] {
					t.Errorf("Duplicate ID generated: %s", id)
				}
				seen[id] = true
			}
			mu.Unlock()
		}()
	}

	wg.Wait()

	if len(seen) != goroutines*perGoroutine {
		t.Errorf("Expected %d unique IDs, got %d", goroutines*perGoroutine, len(seen))
	}
}

func TestLexicographicSorting(t *testing.T) {
	gen := NewGenerator()

	id1 := gen.GenerateString()
	time.Sleep(2 * time.Millisecond)
	id2 := gen.GenerateString()

	if id1 >= id2 {
		t.Errorf("IDs should sort by creation time: %s >= %s", id1, id2)
	}
}

func TestDefaultGenerator(t *testing.T) {
	if Default() != Default() {
		t.Error("Default() should return the same instance")
	}
}

func BenchmarkNewSessionID(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = NewSessionID()
	}
}
