package egress

import (
	"errors"
	"sync"
)

// ErrEmptyPool is returned when a pool is constructed with no egress paths.
var ErrEmptyPool = errors.New("egress pool needs at least one path")

// Pool is a fixed, ordered set of egress paths with weighted round-robin
// selection. The path slice never changes after construction; only the tiny
// selector state (cursor and hit count) mutates, under the pool lock.
type Pool struct {
	egresses []*Egress

	mu     sync.Mutex
	cursor int
	hits   int
}

// NewPool creates a pool over the given egress paths.
func NewPool(egresses []*Egress) (*Pool, error) {
	if len(egresses) == 0 {
		return nil, ErrEmptyPool
	}
	return &Pool{egresses: egresses}, nil
}

// Len returns the number of egress paths in the pool.
func (p *Pool) Len() int {
	return len(p.egresses)
}

// At returns the egress path at index i.
func (p *Pool) At(i int) *Egress {
	return p.egresses[i]
}

// All returns the pool's egress paths. Callers must not mutate the slice.
func (p *Pool) All() []*Egress {
	return p.egresses
}

// Select returns the next egress path and its index.
//
// hint steers selection toward paths of the matching family. FamilyDomain and
// FamilyNone match everything. The family filter is soft: when every
// non-skipped path fails it, the filter is dropped so a mismatched pool can
// still serve the request (the eventual DNS answer may fit after all).
//
// skip marks indices this request already tried; Select never returns a
// skipped index unless every index is skipped, in which case the caller has
// already exhausted the pool and treats the result as terminal.
//
// Each egress receives Weight consecutive selections before the cursor
// advances, which yields dispatch proportional to the weights over time.
func (p *Pool) Select(hint Family, skip []bool) (*Egress, int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	match := func(e *Egress) bool {
		switch hint {
		case FamilyV4, FamilyV6:
			return e.family == hint
		default:
			return true
		}
	}
	skipped := func(i int) bool {
		return skip != nil && i < len(skip) && skip[i]
	}

	available := 0
	for i, e := range p.egresses {
		if !skipped(i) && match(e) {
			available++
		}
	}
	useFilter := available > 0

	start := p.cursor
	for range p.egresses {
		i := p.cursor
		e := p.egresses[i]

		if !skipped(i) && (!useFilter || match(e)) {
			p.hits++
			if p.hits >= e.Weight {
				p.hits = 0
				p.cursor = (i + 1) % len(p.egresses)
			}
			return e, i
		}

		p.hits = 0
		p.cursor = (p.cursor + 1) % len(p.egresses)
	}

	// A full scan found nothing suitable. Return the first non-skipped path
	// without touching selector state any further; if even that fails, the
	// pool is exhausted and the original cursor position is handed back.
	for i, e := range p.egresses {
		if !skipped(i) {
			return e, i
		}
	}
	return p.egresses[start], start
}
