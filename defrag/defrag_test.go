package defrag

import (
	"testing"

	"github.com/gogpu/vram"
	"github.com/gogpu/vram/internal/fakedevice"
)

// TestBalancedEmptiesSparseBlock is spec scenario 5: a pool of 3 equally
// sized blocks, two of them around 60% free and the third only ~10% used.
// One gated Balanced pass should relocate the sparse block's sole
// allocation into a roomier neighbor and free the block entirely.
func TestBalancedEmptiesSparseBlock(t *testing.T) {
	const blockSize = 1 << 20 // 1 MiB
	dev := fakedevice.New()
	a, err := vram.CreateAllocator(vram.AllocatorDesc{Device: dev, PreferredBlockSize: blockSize})
	if err != nil {
		t.Fatalf("CreateAllocator: %v", err)
	}

	pool, err := a.CreatePool(vram.PoolDesc{
		HeapType:      vram.HeapTypeDefault,
		BlockSize:     blockSize,
		MinBlockCount: 3,
		MaxBlockCount: 3,
	})
	if err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	if pool.BlockCount() != 3 {
		t.Fatalf("BlockCount() = %d, want 3", pool.BlockCount())
	}

	allocDesc := vram.AllocationDesc{HeapType: vram.HeapTypeDefault, Pool: pool}
	alloc := func(size uint64) vram.AllocationHandle {
		h, err := a.AllocateMemory(allocDesc, size, 1)
		if err != nil {
			t.Fatalf("AllocateMemory(%d): %v", size, err)
		}
		return h
	}

	// Fill block 0 completely: a 40%-sized keeper plus a 60%-sized chunk
	// that gets freed right back to leave ~60% free.
	x1 := alloc(409600)
	x2 := alloc(614400)
	// Fill block 1 the same way, landing there only because block 0 is
	// already full.
	y1 := alloc(409600)
	y2 := alloc(614400)
	// Block 0 and 1 are full now, so this small allocation lands in the
	// still-empty block 2.
	z1 := alloc(102400)

	if err := a.FreeAllocation(x2); err != nil {
		t.Fatalf("FreeAllocation(x2): %v", err)
	}
	if err := a.FreeAllocation(y2); err != nil {
		t.Fatalf("FreeAllocation(y2): %v", err)
	}
	_ = x1
	_ = y1

	statsBefore := pool.CalculateDetailedStatistics()
	if statsBefore.Blocks.BlockCount != 3 {
		t.Fatalf("BlockCount before defrag = %d, want 3", statsBefore.Blocks.BlockCount)
	}
	blockBytesBefore := statsBefore.Blocks.BlockBytes

	ctx := NewContext([]vram.DefragVector{a.DefragVectorForPool(pool)}, Desc{
		Algorithm:       AlgorithmBalanced,
		MaxBytesPerPass: 150000, // enough for z1's 102400B move, not for a 409600B one
	})
	defer ctx.Close()

	moves, err := ctx.BeginPass()
	if err != nil {
		t.Fatalf("BeginPass: %v", err)
	}
	if len(moves) != 1 {
		t.Fatalf("BeginPass returned %d moves, want 1 (just z1)", len(moves))
	}
	if moves[0].Src != z1 {
		t.Fatalf("moved allocation = %v, want z1 (%v)", moves[0].Src, z1)
	}
	if moves[0].Op != MoveCopy {
		t.Fatalf("move op = %v, want MoveCopy", moves[0].Op)
	}

	stats := ctx.EndPass(moves)
	if stats.AllocationsMoved != 1 {
		t.Fatalf("AllocationsMoved = %d, want 1", stats.AllocationsMoved)
	}
	if stats.BlocksFreed < 1 {
		t.Fatalf("BlocksFreed = %d, want at least 1", stats.BlocksFreed)
	}

	statsAfter := pool.CalculateDetailedStatistics()
	if statsAfter.Blocks.BlockCount != 2 {
		t.Fatalf("BlockCount after defrag = %d, want 2", statsAfter.Blocks.BlockCount)
	}
	if statsAfter.Blocks.BlockBytes > blockBytesBefore-blockSize {
		t.Fatalf("BlockBytes after defrag = %d, want at most %d (one block freed)", statsAfter.Blocks.BlockBytes, blockBytesBefore-blockSize)
	}
}

func TestFastAlgorithmRelocatesFromNewestBlock(t *testing.T) {
	const blockSize = 1 << 20
	dev := fakedevice.New()
	a, err := vram.CreateAllocator(vram.AllocatorDesc{Device: dev, PreferredBlockSize: blockSize})
	if err != nil {
		t.Fatalf("CreateAllocator: %v", err)
	}
	pool, err := a.CreatePool(vram.PoolDesc{
		HeapType:      vram.HeapTypeDefault,
		BlockSize:     blockSize,
		MinBlockCount: 2,
		MaxBlockCount: 2,
	})
	if err != nil {
		t.Fatalf("CreatePool: %v", err)
	}

	allocDesc := vram.AllocationDesc{HeapType: vram.HeapTypeDefault, Pool: pool}
	// Fill block 0 completely (keep + filler), then free filler back to
	// leave block 0 with modest free space.
	keep, err := a.AllocateMemory(allocDesc, 800000, 1)
	if err != nil {
		t.Fatalf("AllocateMemory(keep): %v", err)
	}
	filler, err := a.AllocateMemory(allocDesc, 248576, 1)
	if err != nil {
		t.Fatalf("AllocateMemory(filler): %v", err)
	}
	// Block 0 is now full, so this lands in block 1.
	sparse, err := a.AllocateMemory(allocDesc, 51200, 1)
	if err != nil {
		t.Fatalf("AllocateMemory(sparse): %v", err)
	}
	if err := a.FreeAllocation(filler); err != nil {
		t.Fatalf("FreeAllocation(filler): %v", err)
	}
	_ = keep

	ctx := NewContext([]vram.DefragVector{a.DefragVectorForPool(pool)}, Desc{Algorithm: AlgorithmFast})
	defer ctx.Close()

	moves, err := ctx.BeginPass()
	if err != nil {
		t.Fatalf("BeginPass: %v", err)
	}
	if len(moves) != 1 || moves[0].Src != sparse {
		t.Fatalf("moves = %v, want exactly one move of sparse", moves)
	}

	stats := ctx.EndPass(moves)
	if stats.BlocksFreed != 1 {
		t.Fatalf("BlocksFreed = %d, want 1", stats.BlocksFreed)
	}
	if pool.BlockCount() != 1 {
		t.Fatalf("BlockCount after defrag = %d, want 1", pool.BlockCount())
	}
}
