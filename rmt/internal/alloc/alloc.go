// Package alloc hands out contiguous symbol ranges from a fixed pool.
package alloc

import (
	"sort"

	"rmt-go/errcode"
)

// Range is a half-open span [Start, Start+Len) of pool slots.
type Range struct {
	Start int
	Len   int
}

// End returns the first slot past the range.
func (r Range) End() int { return r.Start + r.Len }

// Overlaps reports whether r and o share any slot.
func (r Range) Overlaps(o Range) bool { return r.Start < o.End() && o.Start < r.End() }

// Pool is a first-fit interval allocator. The free list is kept sorted by
// start and fully coalesced. Pool is not safe for concurrent use; the owning
// group serialises access.
type Pool struct {
	size int
	free []Range
	used map[int]int // start -> len
}

// New returns a pool of size slots, all free.
func New(size int) *Pool {
	p := &Pool{size: size, used: map[int]int{}}
	if size > 0 {
		p.free = []Range{{Start: 0, Len: size}}
	}
	return p
}

// Size returns the pool capacity.
func (p *Pool) Size() int { return p.size }

// Alloc returns the lowest-addressed free range that can hold n slots.
func (p *Pool) Alloc(n int) (Range, error) {
	if n <= 0 {
		return Range{}, errcode.New(errcode.InvalidArgument, "alloc", "non-positive size")
	}
	for i, f := range p.free {
		if f.Len < n {
			continue
		}
		r := Range{Start: f.Start, Len: n}
		if f.Len == n {
			p.free = append(p.free[:i], p.free[i+1:]...)
		} else {
			p.free[i] = Range{Start: f.Start + n, Len: f.Len - n}
		}
		p.used[r.Start] = n
		return r, nil
	}
	return Range{}, errcode.New(errcode.NotFound, "alloc", "no contiguous range left")
}

// Free returns r to the pool. Freeing a range that was not handed out is a
// programming error.
func (p *Pool) Free(r Range) {
	if n, ok := p.used[r.Start]; !ok || n != r.Len {
		panic("alloc: free of unknown range")
	}
	delete(p.used, r.Start)
	i := sort.Search(len(p.free), func(i int) bool { return p.free[i].Start > r.Start })
	p.free = append(p.free, Range{})
	copy(p.free[i+1:], p.free[i:])
	p.free[i] = r
	p.coalesce(i)
}

func (p *Pool) coalesce(i int) {
	if i+1 < len(p.free) && p.free[i].End() == p.free[i+1].Start {
		p.free[i].Len += p.free[i+1].Len
		p.free = append(p.free[:i+1], p.free[i+2:]...)
	}
	if i > 0 && p.free[i-1].End() == p.free[i].Start {
		p.free[i-1].Len += p.free[i].Len
		p.free = append(p.free[:i], p.free[i+1:]...)
	}
}

// Available returns the total number of free slots.
func (p *Pool) Available() int {
	n := 0
	for _, f := range p.free {
		n += f.Len
	}
	return n
}

// Largest returns the biggest single allocation that would currently succeed.
func (p *Pool) Largest() int {
	m := 0
	for _, f := range p.free {
		m = max(m, f.Len)
	}
	return m
}

// FreeList returns a copy of the free ranges in address order.
func (p *Pool) FreeList() []Range { return append([]Range(nil), p.free...) }
