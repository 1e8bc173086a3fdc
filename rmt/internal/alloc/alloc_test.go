package alloc

import (
	"errors"
	"testing"

	"rmt-go/errcode"
)

func TestExhaustDeleteReallocate(t *testing.T) {
	p := New(192)
	var got []Range
	for _, n := range []int{48, 64, 32, 48} {
		r, err := p.Alloc(n)
		if err != nil {
			t.Fatalf("Alloc(%d): %v", n, err)
		}
		for _, o := range got {
			if r.Overlaps(o) {
				t.Fatalf("range %+v overlaps %+v", r, o)
			}
		}
		got = append(got, r)
	}
	if p.Available() != 0 {
		t.Fatalf("expected exhausted pool, %d left", p.Available())
	}
	if _, err := p.Alloc(2); !errors.Is(err, errcode.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}

	// Free the 64-slot range and take it back exactly.
	p.Free(got[1])
	r, err := p.Alloc(64)
	if err != nil || r != got[1] {
		t.Fatalf("reallocate: %+v %v", r, err)
	}
}

func TestFirstFitAndCoalesce(t *testing.T) {
	p := New(100)
	a, _ := p.Alloc(10)
	b, _ := p.Alloc(20)
	c, _ := p.Alloc(30)
	p.Free(a)
	p.Free(c)
	// First fit picks the low hole even though the tail hole is larger.
	r, err := p.Alloc(8)
	if err != nil || r.Start != 0 {
		t.Fatalf("first fit: %+v %v", r, err)
	}
	p.Free(r)
	p.Free(b)
	fl := p.FreeList()
	if len(fl) != 1 || fl[0] != (Range{Start: 0, Len: 100}) {
		t.Fatalf("not coalesced: %+v", fl)
	}
	if p.Largest() != 100 {
		t.Fatal("Largest")
	}
}

func TestFragmentationFailsLargeRequest(t *testing.T) {
	p := New(40)
	a, _ := p.Alloc(10)
	_, _ = p.Alloc(10)
	c, _ := p.Alloc(10)
	p.Free(a)
	p.Free(c) // merges with the 10-slot tail
	if p.Available() != 30 || p.Largest() != 20 {
		t.Fatalf("available=%d largest=%d", p.Available(), p.Largest())
	}
	if _, err := p.Alloc(25); !errors.Is(err, errcode.NotFound) {
		t.Fatalf("expected NotFound on fragmented pool, got %v", err)
	}
}

func TestFreeUnknownPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	New(10).Free(Range{Start: 2, Len: 2})
}
