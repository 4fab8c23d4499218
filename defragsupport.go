package vram

import (
	"github.com/gogpu/vram/container"
	"github.com/gogpu/vram/metadata"
)

// DefragAllocationRef describes one live allocation as seen by the
// defragmentation package: enough to evaluate whether it is worth moving,
// without exposing any internal type.
type DefragAllocationRef struct {
	Handle     AllocationHandle
	BlockIndex int
	Offset     uint64
	Size       uint64
	Alignment  uint64
}

// DefragVector is the minimal surface the defrag package needs from a
// BlockVector (default-pool or user-pool) to plan and commit moves,
// without depending on any of this package's unexported types.
type DefragVector interface {
	BlockCount() int
	BlockFreeSize(blockIndex int) uint64
	AllocationsInBlock(blockIndex int) ([]DefragAllocationRef, error)
	BlockIndexOf(h AllocationHandle) int

	// AllocateTemporary tries to place size/alignment bytes into any block
	// with index < beforeBlockIndex (or any block at all, if
	// beforeBlockIndex < 0), returning a handle bound to that spare slot.
	AllocateTemporary(size, alignment uint64, beforeBlockIndex int) (AllocationHandle, int, bool)
	// ReallocLowerOffset tries to re-place h's allocation at a strictly
	// lower offset within its current block, per the TLSF MinOffset
	// strategy (spec §4.6).
	ReallocLowerOffset(h AllocationHandle) (AllocationHandle, bool)

	// CommitMove rebinds src onto dstTmp's location and releases dstTmp's
	// bookkeeping slot (not its backing space, which src now owns).
	CommitMove(src, dstTmp AllocationHandle)
	// DropMove releases dstTmp's backing space and bookkeeping slot
	// without moving anything (used for Ignore/Destroy outcomes).
	DropMove(dstTmp AllocationHandle)

	DisableIncrementalSort()
	EnableIncrementalSort()
	SortAscendingFreeSize()
	RemoveBlockIfEmpty(blockIndex int) bool
}

type defragVectorAdapter struct {
	a  *Allocator
	bv *blockVector
}

// DefragVectorsForHeapType returns the default pools' block vectors for ht,
// wrapped for use by a defragmentation context.
func (a *Allocator) DefragVectorsForHeapType(ht HeapType) []DefragVector {
	out := make([]DefragVector, 0, len(a.defaultPools[ht]))
	for _, bv := range a.defaultPools[ht] {
		out = append(out, &defragVectorAdapter{a: a, bv: bv})
	}
	return out
}

// DefragVectorForPool returns p's block vector wrapped for a
// defragmentation context scoped to a single user pool.
func (a *Allocator) DefragVectorForPool(p *Pool) DefragVector {
	return &defragVectorAdapter{a: a, bv: p.blocks}
}

func (v *defragVectorAdapter) BlockCount() int { return v.bv.BlockCount() }

func (v *defragVectorAdapter) BlockFreeSize(blockIndex int) uint64 {
	v.bv.mu.RLock()
	defer v.bv.mu.RUnlock()
	if blockIndex < 0 || blockIndex >= len(v.bv.blocks) {
		return 0
	}
	return v.bv.blocks[blockIndex].SumFreeSize()
}

func (v *defragVectorAdapter) AllocationsInBlock(blockIndex int) ([]DefragAllocationRef, error) {
	v.bv.mu.RLock()
	defer v.bv.mu.RUnlock()
	if blockIndex < 0 || blockIndex >= len(v.bv.blocks) {
		return nil, newValidationError("DefragVector.AllocationsInBlock", "blockIndex", "out of range")
	}
	block := v.bv.blocks[blockIndex]
	var out []DefragAllocationRef
	h, err := block.metadata.GetAllocationListBegin()
	if err != nil {
		return nil, err
	}
	for h.IsValid() {
		info, err := block.metadata.GetAllocationInfo(h)
		if err != nil {
			return nil, err
		}
		if idx, ok := info.UserData.(container.PoolIndex); ok {
			out = append(out, DefragAllocationRef{
				Handle:     AllocationHandle{idx: idx},
				BlockIndex: blockIndex,
				Offset:     info.Offset,
				Size:       info.Size,
				Alignment:  v.a.allocationPool.Get(idx).alignment,
			})
		}
		h, err = block.metadata.GetNextAllocation(h)
		if err != nil {
			break
		}
	}
	return out, nil
}

func (v *defragVectorAdapter) BlockIndexOf(h AllocationHandle) int {
	v.bv.mu.RLock()
	defer v.bv.mu.RUnlock()
	alloc := v.a.allocationPool.Get(h.idx)
	for i, b := range v.bv.blocks {
		if b == alloc.block {
			return i
		}
	}
	return -1
}

func (v *defragVectorAdapter) AllocateTemporary(size, alignment uint64, beforeBlockIndex int) (AllocationHandle, int, bool) {
	v.bv.mu.Lock()
	defer v.bv.mu.Unlock()

	limit := len(v.bv.blocks)
	if beforeBlockIndex >= 0 && beforeBlockIndex < limit {
		limit = beforeBlockIndex
	}
	for i := 0; i < limit; i++ {
		b := v.bv.blocks[i]
		req, err := b.metadata.CreateAllocationRequest(size, alignment, false, metadata.StrategyDefault)
		if err != nil {
			continue
		}
		idx := v.a.allocationPool.Alloc(Allocation{kind: AllocationKindBlock, size: size, block: b, alignment: alignment})
		handle, err := b.metadata.Alloc(req, size, idx)
		if err != nil {
			v.a.allocationPool.Free(idx)
			continue
		}
		v.a.allocationPool.Mutate(idx, func(al *Allocation) { al.subHandle = handle })
		return AllocationHandle{idx: idx}, i, true
	}
	return AllocationHandle{}, -1, false
}

func (v *defragVectorAdapter) ReallocLowerOffset(h AllocationHandle) (AllocationHandle, bool) {
	v.bv.mu.Lock()
	defer v.bv.mu.Unlock()

	alloc := v.a.allocationPool.Get(h.idx)
	block := alloc.block
	curOffset, err := block.metadata.GetAllocationOffset(alloc.subHandle)
	if err != nil {
		return AllocationHandle{}, false
	}
	req, err := block.metadata.CreateAllocationRequest(alloc.size, alloc.alignment, false, metadata.StrategyMinOffset)
	if err != nil {
		return AllocationHandle{}, false
	}
	if req.AlgoData >= curOffset {
		return AllocationHandle{}, false
	}
	idx := v.a.allocationPool.Alloc(Allocation{kind: AllocationKindBlock, size: alloc.size, block: block, alignment: alloc.alignment})
	handle, err := block.metadata.Alloc(req, alloc.size, idx)
	if err != nil {
		v.a.allocationPool.Free(idx)
		return AllocationHandle{}, false
	}
	v.a.allocationPool.Mutate(idx, func(al *Allocation) { al.subHandle = handle })
	return AllocationHandle{idx: idx}, true
}

func (v *defragVectorAdapter) CommitMove(src, dstTmp AllocationHandle) {
	v.bv.mu.Lock()
	defer v.bv.mu.Unlock()

	srcAlloc := v.a.allocationPool.Get(src.idx)
	dstAlloc := v.a.allocationPool.Get(dstTmp.idx)

	_ = srcAlloc.block.metadata.Free(srcAlloc.subHandle)

	v.a.allocationPool.Mutate(src.idx, func(al *Allocation) {
		al.block = dstAlloc.block
		al.subHandle = dstAlloc.subHandle
	})
	_ = dstAlloc.block.metadata.SetAllocationUserData(dstAlloc.subHandle, src.idx)
	v.a.allocationPool.Free(dstTmp.idx)
}

func (v *defragVectorAdapter) DropMove(dstTmp AllocationHandle) {
	v.bv.mu.Lock()
	defer v.bv.mu.Unlock()

	dstAlloc := v.a.allocationPool.Get(dstTmp.idx)
	_ = dstAlloc.block.metadata.Free(dstAlloc.subHandle)
	v.a.allocationPool.Free(dstTmp.idx)
}

func (v *defragVectorAdapter) DisableIncrementalSort() {
	v.bv.mu.Lock()
	v.bv.incrementalSortDisabled = true
	v.bv.mu.Unlock()
}

func (v *defragVectorAdapter) EnableIncrementalSort() {
	v.bv.mu.Lock()
	v.bv.incrementalSortDisabled = false
	v.bv.mu.Unlock()
}

func (v *defragVectorAdapter) SortAscendingFreeSize() { v.bv.SortByFreeSizeAscending() }

func (v *defragVectorAdapter) RemoveBlockIfEmpty(blockIndex int) bool {
	v.bv.mu.Lock()
	defer v.bv.mu.Unlock()
	if blockIndex < 0 || blockIndex >= len(v.bv.blocks) {
		return false
	}
	b := v.bv.blocks[blockIndex]
	if !b.IsEmpty() {
		return false
	}
	v.bv.removeBlock(b)
	return true
}

