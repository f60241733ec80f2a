package sandbox

import (
	"time"
)

// Config defines sandbox configuration
type Config struct {
	Timeout          time.Duration // Execution timeout per render cycle
	MaxSourceBytes   int           // Largest accepted source text
	MaxDepth         int           // Deepest component/element nesting
	MaxCallStackSize int           // goja call stack limit
	EnableConsole    bool          // Capture console.log/warn/error
}

// Result holds the by-products of one render cycle
type Result struct {
	Console         []LogEntry    // Console output
	CompileDuration time.Duration // Time spent in the compiler
	ExecuteDuration time.Duration // Time spent evaluating and rendering
	Duration        time.Duration // Whole cycle
}

// LogEntry represents console output
type LogEntry struct {
	Level   string    `json:"level"`   // log, warn, error, info, debug
	Message string    `json:"message"` // Log message
	Time    time.Time `json:"time"`    // Timestamp
}

// DefaultConfig returns the default sandbox limits
func DefaultConfig() Config {
	return Config{
		Timeout:          2 * time.Second,
		MaxSourceBytes:   512 << 10,
		MaxDepth:         256,
		MaxCallStackSize: 1024,
		EnableConsole:    true,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxSourceBytes <= 0 {
		c.MaxSourceBytes = d.MaxSourceBytes
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = d.MaxDepth
	}
	if c.MaxCallStackSize <= 0 {
		c.MaxCallStackSize = d.MaxCallStackSize
	}
	return c
}
