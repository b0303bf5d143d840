package testutil

import (
	"fmt"
	"sync"
)

// SequenceTokenGenerator produces predictable reservation tokens for
// tests: token-0001, token-0002, and so on.
//
// Thread-safe.
type SequenceTokenGenerator struct {
	mu sync.Mutex
	n  int
}

// Generate returns the next token in the sequence.
func (g *SequenceTokenGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("token-%04d", g.n)
}
