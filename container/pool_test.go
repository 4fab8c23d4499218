package container

import "testing"

func TestPoolAllocatorReusesFreedIndex(t *testing.T) {
	p := NewPoolAllocator[int](4)
	a := p.Alloc(1)
	b := p.Alloc(2)
	p.Free(a)
	c := p.Alloc(3)
	if c != a {
		t.Fatalf("Alloc after Free = %d, want reused index %d", c, a)
	}
	if got := p.Get(b); got != 2 {
		t.Fatalf("Get(b) = %d, want 2", got)
	}
	if got := p.Get(c); got != 3 {
		t.Fatalf("Get(c) = %d, want 3", got)
	}
}

func TestPoolAllocatorLen(t *testing.T) {
	p := NewPoolAllocator[int](4)
	p.Alloc(1)
	idx := p.Alloc(2)
	p.Alloc(3)
	if p.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", p.Len())
	}
	p.Free(idx)
	if p.Len() != 2 {
		t.Fatalf("Len() after Free = %d, want 2", p.Len())
	}
}

func TestPoolAllocatorMutate(t *testing.T) {
	p := NewPoolAllocator[[]int](2)
	idx := p.Alloc([]int{1, 2, 3})
	p.Mutate(idx, func(s *[]int) { *s = append(*s, 4) })
	got := p.Get(idx)
	if len(got) != 4 || got[3] != 4 {
		t.Fatalf("Mutate did not apply: %v", got)
	}
}

func TestInvalidPoolIndexIsInvalid(t *testing.T) {
	if InvalidPoolIndex.IsValid() {
		t.Fatal("InvalidPoolIndex.IsValid() = true, want false")
	}
	p := NewPoolAllocator[int](1)
	idx := p.Alloc(1)
	if !idx.IsValid() {
		t.Fatal("freshly allocated index reports invalid")
	}
}
