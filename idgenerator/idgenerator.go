// Package idgenerator hands out connection ids.
package idgenerator

import "sync/atomic"

// Generator returns increasing uint32 ids and is safe for concurrent use.
// Zero is never returned; it stands for "no id" (the client side of a
// connection uses it).
type Generator struct {
	last atomic.Uint32
}

// New creates a Generator whose first id is start+1, or 1 when that
// would be zero.
//
// Parameters:
//   - start: The value the counter starts from
//
// Returns:
//   - A new Generator
func New(start uint32) *Generator {
	g := &Generator{}
	g.last.Store(start)
	return g
}

// Next returns the next id. After ^uint32(0) ids the counter wraps and
// skips zero, so ids are unique only within 2^32-1 calls.
func (g *Generator) Next() uint32 {
	for {
		if id := g.last.Add(1); id != 0 {
			return id
		}
	}
}

// Last returns the most recently issued id, or the start value before the
// first call to Next.
func (g *Generator) Last() uint32 {
	return g.last.Load()
}
