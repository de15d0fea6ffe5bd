package testutil

import (
	"fmt"
	"sync"
	"time"

	"github.com/roach88/chatsync/internal/chat"
)

// FixedIDGenerator returns predetermined provisional-id suffixes and tokens.
//
// This enables deterministic test execution and golden timeline comparison.
// Once the given suffixes run out, it falls back to numbered ones
// ("s1", "s2", ...). Tokens are always numbered ("tok-1", "tok-2", ...).
//
// Thread-safety: FixedIDGenerator is safe for concurrent use via internal mutex.
type FixedIDGenerator struct {
	mu       sync.Mutex
	suffixes []string
	idx      int
	tokens   int
}

var _ chat.IDGenerator = (*FixedIDGenerator)(nil)

// NewFixedIDGenerator creates a generator that uses suffixes in order.
//
// Example:
//
//	gen := NewFixedIDGenerator("abc")
//	gen.ProvisionalID(chat.KindText, time.UnixMilli(0)) // "temp_text_0_abc"
//	gen.ProvisionalID(chat.KindText, time.UnixMilli(0)) // "temp_text_0_s2"
func NewFixedIDGenerator(suffixes ...string) *FixedIDGenerator {
	return &FixedIDGenerator{suffixes: suffixes}
}

// ProvisionalID implements chat.IDGenerator.
func (g *FixedIDGenerator) ProvisionalID(kind chat.Kind, now time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.idx++
	suffix := fmt.Sprintf("s%d", g.idx)
	if g.idx <= len(g.suffixes) {
		suffix = g.suffixes[g.idx-1]
	}
	return chat.FormatProvisionalID(kind, now, suffix)
}

// Token implements chat.IDGenerator.
func (g *FixedIDGenerator) Token() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tokens++
	return fmt.Sprintf("tok-%d", g.tokens)
}
