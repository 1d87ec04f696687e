package sandbox

import (
	"errors"
	"time"
)

var (
	// ErrNotFunction is returned when a named global is not callable
	ErrNotFunction = errors.New("not a function")
	// ErrClosed is returned by a runtime after Close
	ErrClosed = errors.New("sandbox runtime is closed")
)

// Config defines sandbox configuration
type Config struct {
	Timeout       time.Duration // Execution timeout
	MaxCallStack  int           // Maximum call stack depth
	EnableConsole bool          // Allow console.log/warn/error
	EnableDOM     bool          // Expose document, location and window
}

// Result holds execution result
type Result struct {
	Value      interface{}   // Exported return value
	Type       string        // typeof of the return value
	Console    []LogEntry    // Console output
	DOMChanges []DOMChange   // DOM modifications made by this run
	Duration   time.Duration // Execution time
}

// LogEntry represents console output
type LogEntry struct {
	Level   string    // log, warn, error, info
	Message string    // Log message
	Time    time.Time // Timestamp
}

// DOMChange represents a DOM modification
type DOMChange struct {
	Type     string      // click, set_attribute, set_text, set_html
	Selector string      // Element path
	Property string      // Property name
	Value    interface{} // New value
}

// DefaultConfig returns the defaults used for page scripts
func DefaultConfig() Config {
	return Config{
		Timeout:       5 * time.Second,
		MaxCallStack:  1024,
		EnableConsole: true,
		EnableDOM:     true,
	}
}
