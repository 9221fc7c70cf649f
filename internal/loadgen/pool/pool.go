// Package pool holds the finite identifier space that workers mutate and
// carves it into disjoint per-owner partitions.
package pool

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrPoolExhausted is returned when an owner has no identifiers left in its band.
	// It is not fatal: the owner simply stops issuing work.
	ErrPoolExhausted = errors.New("identifier pool exhausted")

	// ErrUnknownOwner is returned for an owner outside the allocator's range.
	ErrUnknownOwner = errors.New("unknown owner")

	// ErrDuplicateIdentifier is returned when a pool is loaded with repeated identifiers.
	ErrDuplicateIdentifier = errors.New("duplicate identifier")
)

// Pool is an ordered, immutable sequence of unique identifiers.
// It is safe for concurrent reads.
type Pool struct {
	ids []string
}

// New creates a pool from ids. The slice is copied.
func New(ids []string) (*Pool, error) {
	seen := make(map[string]int, len(ids))
	for i, id := range ids {
		if prev, ok := seen[id]; ok {
			return nil, fmt.Errorf("%w: %q at positions %d and %d", ErrDuplicateIdentifier, id, prev, i)
		}
		seen[id] = i
	}

	cp := make([]string, len(ids))
	copy(cp, ids)
	return &Pool{ids: cp}, nil
}

// Range creates a synthetic pool of count identifiers prefix+start, prefix+start+1, ...
func Range(prefix string, start, count int) *Pool {
	if count < 0 {
		count = 0
	}
	ids := make([]string, count)
	for i := range ids {
		ids[i] = prefix + strconv.Itoa(start+i)
	}
	return &Pool{ids: ids}
}

// Len returns the number of identifiers.
func (p *Pool) Len() int {
	return len(p.ids)
}

// At returns the identifier at index i.
func (p *Pool) At(i int) string {
	return p.ids[i]
}

// Slice returns a copy of the identifiers covered by part.
func (p *Pool) Slice(part Partition) []string {
	out := make([]string, part.Size)
	copy(out, p.ids[part.Offset:part.End()])
	return out
}
