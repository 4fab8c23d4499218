package vram

import (
	"errors"
	"testing"

	"github.com/gogpu/vram/internal/fakedevice"
)

func newTestAllocator(t *testing.T, blockSize uint64) (*Allocator, *fakedevice.Device) {
	t.Helper()
	dev := fakedevice.New()
	a, err := CreateAllocator(AllocatorDesc{Device: dev, PreferredBlockSize: blockSize})
	if err != nil {
		t.Fatalf("CreateAllocator: %v", err)
	}
	return a, dev
}

// TestBudgetGatingRejectsOverBudgetAllocation is spec scenario 4: with
// budget reporting usage = budget - 64KB, a 128KB allocation request with
// WithinBudget set must fail with no side effects, even though the block
// vector has no existing blocks to reuse.
func TestBudgetGatingRejectsOverBudgetAllocation(t *testing.T) {
	const budget = 1 << 20
	a, dev := newTestAllocator(t, budget)
	dev.SetBudget(MemorySegmentLocal, budget-64*1024, budget)
	a.budget.refresh()

	_, err := a.AllocateMemory(AllocationDesc{HeapType: HeapTypeDefault, Flags: AllocationFlagWithinBudget}, 128*1024, 256)
	if !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("AllocateMemory error = %v, want ErrOutOfMemory", err)
	}

	bv := a.defaultPools[HeapTypeDefault][0]
	if bv.BlockCount() != 0 {
		t.Fatalf("BlockCount() = %d, want 0 (no side effects on rejected request)", bv.BlockCount())
	}
}

func TestBudgetGatingAllowsWithinBudgetAllocation(t *testing.T) {
	const budget = 4 << 20
	a, dev := newTestAllocator(t, budget)
	dev.SetBudget(MemorySegmentLocal, 0, budget)
	a.budget.refresh()

	h, err := a.AllocateMemory(AllocationDesc{HeapType: HeapTypeDefault, Flags: AllocationFlagWithinBudget}, 128*1024, 256)
	if err != nil {
		t.Fatalf("AllocateMemory: %v", err)
	}
	if !h.IsValid() {
		t.Fatal("expected a valid allocation handle")
	}
	if err := a.FreeAllocation(h); err != nil {
		t.Fatalf("FreeAllocation: %v", err)
	}
}

func TestCreateResourcePlacedBuffer(t *testing.T) {
	a, _ := newTestAllocator(t, 16<<20)
	h, res, err := a.CreateResource(
		AllocationDesc{HeapType: HeapTypeDefault},
		ResourceDesc{Dimension: ResourceDimensionBuffer, Width: 65536},
	)
	if err != nil {
		t.Fatalf("CreateResource: %v", err)
	}
	if res == nil {
		t.Fatal("expected a non-nil Resource")
	}
	if !h.IsValid() {
		t.Fatal("expected a valid allocation handle")
	}
	alloc := a.allocationPool.Get(h.idx)
	if alloc.Offset()%256 != 0 {
		t.Fatalf("offset %d not aligned to 256", alloc.Offset())
	}
	if err := a.FreeAllocation(h); err != nil {
		t.Fatalf("FreeAllocation: %v", err)
	}
}

func TestCreateResourceLargeBufferGoesCommitted(t *testing.T) {
	a, _ := newTestAllocator(t, 1<<20)
	h, res, err := a.CreateResource(
		AllocationDesc{HeapType: HeapTypeDefault},
		ResourceDesc{Dimension: ResourceDimensionBuffer, Width: 3 << 20},
	)
	if err != nil {
		t.Fatalf("CreateResource: %v", err)
	}
	if res == nil {
		t.Fatal("expected a non-nil Resource")
	}
	alloc := a.allocationPool.Get(h.idx)
	if !alloc.IsDedicated() {
		t.Fatal("expected a dedicated (committed) allocation for an over-half-block-size request")
	}
}
