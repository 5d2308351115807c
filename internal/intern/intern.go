// Package intern deduplicates strings that repeat across records, such as
// field names and stream tags.
package intern

import (
	"strings"
	"sync"
	"sync/atomic"
)

// DefaultMaxSize bounds the shared pools. Keys come from clients, so a pool
// must not grow without limit.
const DefaultMaxSize = 16384

// Pool interns strings up to a fixed number of entries. Once full, unseen
// strings are returned as-is. It uses sync.Map for lock-free concurrent reads.
type Pool struct {
	strings sync.Map
	size    atomic.Int64
	max     int64
	hits    atomic.Uint64
	misses  atomic.Uint64
}

// NewPool creates a pool holding at most maxSize strings (<= 0 means DefaultMaxSize).
func NewPool(maxSize int) *Pool {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Pool{max: int64(maxSize)}
}

// Intern returns the pooled copy of s, storing a clone on first sight.
func (p *Pool) Intern(s string) string {
	if interned, ok := p.strings.Load(s); ok {
		p.hits.Add(1)
		return interned.(string)
	}
	p.misses.Add(1)
	if p.size.Load() >= p.max {
		return s
	}

	// Clone so the pool does not pin the decoder's buffer.
	clone := strings.Clone(s)
	actual, loaded := p.strings.LoadOrStore(clone, clone)
	if !loaded {
		p.size.Add(1)
	}
	return actual.(string)
}

// Stats returns hit/miss statistics.
func (p *Pool) Stats() (hits, misses uint64) {
	return p.hits.Load(), p.misses.Load()
}

// Size returns the number of interned strings.
func (p *Pool) Size() int {
	return int(p.size.Load())
}

// Shared pools.
var (
	// FieldNames holds record field names.
	FieldNames = NewPool(DefaultMaxSize)

	// Tags holds stream tags.
	Tags = NewPool(1024)
)
