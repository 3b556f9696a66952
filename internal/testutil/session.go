package testutil

import (
	"fmt"
	"sync"
)

// SequentialSessionGenerator issues predictable session tokens
// ("<prefix>-001", "<prefix>-002", ...), so journals and golden traces are
// byte-identical across runs.
//
// Thread-safety: all methods are safe for concurrent use.
type SequentialSessionGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialSessionGenerator creates a generator. An empty prefix
// defaults to "session".
func NewSequentialSessionGenerator(prefix string) *SequentialSessionGenerator {
	if prefix == "" {
		prefix = "session"
	}
	return &SequentialSessionGenerator{prefix: prefix}
}

// Generate returns the next token.
// Implements engine.SessionGenerator.
func (g *SequentialSessionGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%03d", g.prefix, g.n)
}
