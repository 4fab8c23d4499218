package metadata

import "testing"

func mustAlloc(t *testing.T, l *Linear, size, alignment uint64, upper bool) Handle {
	t.Helper()
	req, err := l.CreateAllocationRequest(size, alignment, upper, StrategyDefault)
	if err != nil {
		t.Fatalf("CreateAllocationRequest(%d): %v", size, err)
	}
	h, err := l.Alloc(req, size, nil)
	if err != nil {
		t.Fatalf("Alloc(%d): %v", size, err)
	}
	return h
}

func TestLinearRingScenario(t *testing.T) {
	l, err := NewLinear(4096, 0, false)
	if err != nil {
		t.Fatal(err)
	}

	a := mustAlloc(t, l, 1024, 1, false)
	b := mustAlloc(t, l, 1024, 1, false)
	c := mustAlloc(t, l, 1024, 1, false)

	for name, h := range map[string]Handle{"A": a, "B": b, "C": c} {
		off, err := l.GetAllocationOffset(h)
		if err != nil {
			t.Fatalf("offset of %s: %v", name, err)
		}
		t.Logf("%s at %d", name, off)
	}

	if err := l.Free(a); err != nil {
		t.Fatalf("Free(A): %v", err)
	}

	d := mustAlloc(t, l, 1024, 1, false)
	off, err := l.GetAllocationOffset(d)
	if err != nil {
		t.Fatal(err)
	}
	if off != 3072 {
		t.Fatalf("D offset = %d, want 3072", off)
	}

	if err := l.Free(b); err != nil {
		t.Fatal(err)
	}
	if err := l.Free(c); err != nil {
		t.Fatal(err)
	}
	if err := l.Free(d); err != nil {
		t.Fatal(err)
	}

	if !l.IsEmpty() {
		t.Fatalf("expected empty block, sumFreeSize=%d", l.SumFreeSize())
	}
	if l.SumFreeSize() != 4096 {
		t.Fatalf("sumFreeSize = %d, want 4096", l.SumFreeSize())
	}
	if err := l.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLinearDoubleStackScenario(t *testing.T) {
	l, err := NewLinear(4096, 0, false)
	if err != nil {
		t.Fatal(err)
	}

	lowerHandle := mustAlloc(t, l, 512, 1, false)
	if off, _ := l.GetAllocationOffset(lowerHandle); off != 0 {
		t.Fatalf("L offset = %d, want 0", off)
	}

	upperHandle := mustAlloc(t, l, 512, 256, true)
	off, err := l.GetAllocationOffset(upperHandle)
	if err != nil {
		t.Fatal(err)
	}
	if off != 3584 {
		t.Fatalf("U offset = %d, want 3584", off)
	}

	if err := l.Free(lowerHandle); err != nil {
		t.Fatal(err)
	}

	l2 := mustAlloc(t, l, 2048, 1, false)
	if off, _ := l.GetAllocationOffset(l2); off != 0 {
		t.Fatalf("L2 offset = %d, want 0", off)
	}

	if l.SumFreeSize() != 1536 {
		t.Fatalf("sumFreeSize = %d, want 1536", l.SumFreeSize())
	}
	if err := l.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLinearMixingUpperAfterRingFails(t *testing.T) {
	l, err := NewLinear(1024, 0, false)
	if err != nil {
		t.Fatal(err)
	}

	// A and B fill the first 800 bytes; freeing A alone (B stays live)
	// leaves 224 bytes past B but 400 free bytes before it, forcing the
	// next request to wrap into the second vector.
	a := mustAlloc(t, l, 400, 1, false)
	mustAlloc(t, l, 400, 1, false) // B
	if err := l.Free(a); err != nil {
		t.Fatal(err)
	}
	req, err := l.CreateAllocationRequest(300, 1, false, StrategyDefault)
	if err != nil {
		t.Fatalf("expected wrap allocation to succeed: %v", err)
	}
	if requestKind(req.AlgoData) != requestEndOf2nd {
		t.Fatalf("expected a ring-buffer wrap, got kind %d", req.AlgoData)
	}
	if _, err := l.Alloc(req, 300, nil); err != nil {
		t.Fatal(err)
	}
	if l.mode != secondVectorRingBuffer {
		t.Fatalf("expected ring buffer mode, got %d", l.mode)
	}

	if _, err := l.CreateAllocationRequest(64, 1, true, StrategyDefault); err == nil {
		t.Fatal("expected upper-address request to fail while ring buffer is active")
	}
}

func TestLinearZeroSizeRejected(t *testing.T) {
	l, err := NewLinear(4096, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.CreateAllocationRequest(0, 1, false, StrategyDefault); err == nil {
		t.Fatal("expected error for zero size")
	}
}
