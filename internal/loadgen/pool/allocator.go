package pool

import (
	"fmt"
	"sync/atomic"
)

// Partition is the contiguous slice [Offset, Offset+Size) handed to one owner.
type Partition struct {
	Owner  int `json:"owner"`
	Offset int `json:"offset"`
	Size   int `json:"size"`
}

// End returns the exclusive upper bound of the partition.
func (p Partition) End() int {
	return p.Offset + p.Size
}

// Allocator hands out partitions from fixed per-owner bands.
//
// Owner o owns [o*band, (o+1)*band) clipped to the pool length. Each owner
// advances its own cursor with a single atomic add, so concurrent owners never
// coordinate and never overlap. Cursors only grow: once an owner's band is
// spent every later call fails with ErrPoolExhausted.
type Allocator struct {
	poolLen int
	band    int
	cursors []atomic.Int64
	claimed []atomic.Int64
}

// AllocatorOption configures an Allocator.
type AllocatorOption func(*allocatorOptions)

type allocatorOptions struct {
	band      int
	alignment int
}

// WithBandSize reserves exactly n indices per owner.
func WithBandSize(n int) AllocatorOption {
	return func(o *allocatorOptions) {
		o.band = n
	}
}

// WithAlignment rounds the derived band size up to a multiple of n, so that
// bands hold whole partitions of that size.
func WithAlignment(n int) AllocatorOption {
	return func(o *allocatorOptions) {
		o.alignment = n
	}
}

// NewAllocator creates an allocator over poolLen indices for owners 0..owners-1.
//
// Without WithBandSize the band is ceil(poolLen/owners), rounded up to the
// alignment when one is given.
func NewAllocator(poolLen, owners int, opts ...AllocatorOption) (*Allocator, error) {
	if poolLen < 0 {
		return nil, fmt.Errorf("pool length must be >= 0, got %d", poolLen)
	}
	if owners <= 0 {
		return nil, fmt.Errorf("owners must be > 0, got %d", owners)
	}

	var o allocatorOptions
	for _, opt := range opts {
		opt(&o)
	}

	band := o.band
	if band <= 0 {
		band = (poolLen + owners - 1) / owners
		if o.alignment > 1 && band%o.alignment != 0 {
			band += o.alignment - band%o.alignment
		}
	}

	return &Allocator{
		poolLen: poolLen,
		band:    band,
		cursors: make([]atomic.Int64, owners),
		claimed: make([]atomic.Int64, owners),
	}, nil
}

// Next claims the owner's next partition of size indices.
func (a *Allocator) Next(owner, size int) (Partition, error) {
	if owner < 0 || owner >= len(a.cursors) {
		return Partition{}, fmt.Errorf("%w: %d (owners: %d)", ErrUnknownOwner, owner, len(a.cursors))
	}
	if size <= 0 {
		return Partition{}, fmt.Errorf("partition size must be > 0, got %d", size)
	}

	end := a.cursors[owner].Add(int64(size))
	cursor := int(end) - size
	offset := a.base(owner) + cursor

	if cursor+size > a.band || offset+size > a.poolLen {
		return Partition{}, ErrPoolExhausted
	}

	a.claimed[owner].Add(int64(size))
	return Partition{Owner: owner, Offset: offset, Size: size}, nil
}

// Owners returns the number of owners.
func (a *Allocator) Owners() int {
	return len(a.cursors)
}

// BandSize returns the number of indices reserved per owner.
func (a *Allocator) BandSize() int {
	return a.band
}

// Band returns the owner's reserved range clipped to the pool.
func (a *Allocator) Band(owner int) Partition {
	start := min(a.base(owner), a.poolLen)
	end := min(start+a.band, a.poolLen)
	return Partition{Owner: owner, Offset: start, Size: end - start}
}

// Claimed returns how many indices the owner has successfully claimed.
func (a *Allocator) Claimed(owner int) int {
	if owner < 0 || owner >= len(a.cursors) {
		return 0
	}
	return int(a.claimed[owner].Load())
}

func (a *Allocator) base(owner int) int {
	return owner * a.band
}
