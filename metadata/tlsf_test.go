package metadata

import "testing"

func mustAllocTLSF(t *testing.T, tl *TLSF, size, alignment uint64) Handle {
	t.Helper()
	req, err := tl.CreateAllocationRequest(size, alignment, false, StrategyDefault)
	if err != nil {
		t.Fatalf("CreateAllocationRequest(%d): %v", size, err)
	}
	h, err := tl.Alloc(req, size, nil)
	if err != nil {
		t.Fatalf("Alloc(%d): %v", size, err)
	}
	return h
}

func TestTLSFBasicScenario(t *testing.T) {
	tl, err := NewTLSF(1<<20, 0, false)
	if err != nil {
		t.Fatal(err)
	}

	sizes := []uint64{200, 1000, 4096, 200000}
	handles := make([]Handle, 0, len(sizes))
	for _, s := range sizes {
		h := mustAllocTLSF(t, tl, s, 256)
		off, err := tl.GetAllocationOffset(h)
		if err != nil {
			t.Fatalf("offset of %d-byte alloc: %v", s, err)
		}
		if off%256 != 0 {
			t.Fatalf("offset %d not aligned to 256 for size %d", off, s)
		}
		handles = append(handles, h)
		if err := tl.Validate(); err != nil {
			t.Fatalf("Validate after alloc %d: %v", s, err)
		}
	}

	for i := len(handles) - 1; i >= 0; i-- {
		if err := tl.Free(handles[i]); err != nil {
			t.Fatalf("Free: %v", err)
		}
		if err := tl.Validate(); err != nil {
			t.Fatalf("Validate after free %d: %v", i, err)
		}
	}

	if !tl.IsEmpty() {
		t.Fatalf("expected empty block after freeing all, allocCount nonzero")
	}
	if n, _ := tl.FreeRegionsCount(); n != 0 {
		t.Fatalf("FreeRegionsCount = %d, want 0 (only the null block should be free)", n)
	}
	if tl.SumFreeSize() != 1<<20 {
		t.Fatalf("SumFreeSize = %d, want %d", tl.SumFreeSize(), uint64(1<<20))
	}
}

func TestTLSFSmallBlockSingleMemoryClass(t *testing.T) {
	tl, err := NewTLSF(256, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	for size := uint64(1); size <= 256; size *= 2 {
		class, _ := tlsfClassify(size, tl.isVirtual)
		if class != 0 {
			t.Fatalf("size %d classified into class %d, want 0", size, class)
		}
	}
}

func TestTLSFAlignmentPadding(t *testing.T) {
	tl, err := NewTLSF(4096, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	mustAllocTLSF(t, tl, 10, 1)
	h := mustAllocTLSF(t, tl, 100, 256)
	off, err := tl.GetAllocationOffset(h)
	if err != nil {
		t.Fatal(err)
	}
	if off != 256 {
		t.Fatalf("offset = %d, want 256 (aligned past the 10-byte allocation)", off)
	}
	if err := tl.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestTLSFOutOfMemory(t *testing.T) {
	tl, err := NewTLSF(1024, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tl.CreateAllocationRequest(2048, 1, false, StrategyDefault); err == nil {
		t.Fatal("expected out-of-memory error")
	}
}

func TestTLSFUpperAddressUnsupported(t *testing.T) {
	tl, err := NewTLSF(4096, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tl.CreateAllocationRequest(64, 1, true, StrategyDefault); err == nil {
		t.Fatal("expected upper-address request to be rejected")
	}
}

func TestTLSFDoubleFreeRejected(t *testing.T) {
	tl, err := NewTLSF(4096, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	h := mustAllocTLSF(t, tl, 64, 1)
	if err := tl.Free(h); err != nil {
		t.Fatal(err)
	}
	if err := tl.Free(h); err == nil {
		t.Fatal("expected double free to be rejected")
	}
}

func TestTLSFMinOffsetStrategyPicksLowest(t *testing.T) {
	tl, err := NewTLSF(4096, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	a := mustAllocTLSF(t, tl, 512, 1)
	b := mustAllocTLSF(t, tl, 512, 1)
	if err := tl.Free(a); err != nil {
		t.Fatal(err)
	}

	req, err := tl.CreateAllocationRequest(256, 1, false, StrategyMinOffset)
	if err != nil {
		t.Fatal(err)
	}
	h, err := tl.Alloc(req, 256, nil)
	if err != nil {
		t.Fatal(err)
	}
	off, _ := tl.GetAllocationOffset(h)
	if off != 0 {
		t.Fatalf("MinOffset placed allocation at %d, want 0 (the freed region ahead of B)", off)
	}
	_ = b
}
