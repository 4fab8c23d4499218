package vram

import (
	"fmt"

	"github.com/gogpu/vram/metadata"
)

const newBlockSizeShiftMax = 3

// blockVectorDesc configures one BlockVector's growth and placement policy.
type blockVectorDesc struct {
	HeapType             HeapType
	Class                ResourceClass
	PreferredBlockSize   uint64
	MinBlockCount        int
	MaxBlockCount        int
	ExplicitBlockSize    bool
	MinAllocationAlign   uint64
	Algorithm            blockAlgorithm
	MSAAAlwaysCommitted  bool
	ResidencyPriority    ResidencyPriority
	DebugMargin          uint64
}

// blockVector owns a monotonically growing set of memoryBlocks sharing
// identical heap properties and flags; see spec §4.4.
type blockVector struct {
	mu     rwLocker
	device Device
	desc   blockVectorDesc

	blocks []*memoryBlock

	// incrementalSortDisabled is set by a defragmentation context for its
	// duration (spec §4.6: "incremental sorting is disabled").
	incrementalSortDisabled bool

	// onBlockGrow/onBlockShrink notify the owning allocator's budget
	// tracker so blockBytes reflects in-flight block creation/removal
	// between device budget refreshes. Nil for vectors created outside an
	// Allocator (e.g. standalone tests).
	onBlockGrow   func(size uint64)
	onBlockShrink func(size uint64)
}

func newBlockVector(device Device, desc blockVectorDesc, singleThreaded bool) *blockVector {
	return &blockVector{
		mu:     newRWLocker(singleThreaded),
		device: device,
		desc:   desc,
	}
}

// CreateMinBlocks pre-allocates MinBlockCount blocks at the preferred size.
func (v *blockVector) CreateMinBlocks() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	for len(v.blocks) < v.desc.MinBlockCount {
		if err := v.createBlock(v.desc.PreferredBlockSize); err != nil {
			return err
		}
	}
	return nil
}

func (v *blockVector) heapAlignment() uint64 {
	if v.desc.MSAAAlwaysCommitted {
		return 4 << 20
	}
	return 64 << 10
}

func (v *blockVector) createBlock(size uint64) error {
	heap, err := v.device.CreateHeap(HeapDesc{
		SizeBytes: size,
		HeapType:  v.desc.HeapType,
		Alignment: v.heapAlignment(),
	})
	if err != nil {
		return newDeviceError("CreateHeap", err)
	}
	block, err := newMemoryBlock(heap, size, v.desc.HeapType, v.desc.Class, v.desc.Algorithm, v.desc.DebugMargin)
	if err != nil {
		return err
	}
	if v.desc.ResidencyPriority != ResidencyPriorityDefault {
		_ = v.device.SetResidencyPriority(nil, v.desc.ResidencyPriority)
	}
	v.blocks = append(v.blocks, block)
	if v.onBlockGrow != nil {
		v.onBlockGrow(size)
	}
	return nil
}

// blockPlacement is what AllocatePage hands back on success.
type blockPlacement struct {
	block     *memoryBlock
	request   metadata.AllocationRequest
}

// AllocatePage implements the policy in spec §4.4: reject oversized
// requests, consult the budget, first-fit across existing blocks in
// ascending free-size order, then create a new block (shrinking its size
// progressively if the pool is not explicitly sized).
func (v *blockVector) AllocatePage(size, alignment uint64, strategy metadata.Strategy, upperAddress, allowNewBlock bool, withinBudget func(uint64) bool) (blockPlacement, error) {
	if size+v.desc.DebugMargin > v.desc.PreferredBlockSize && !v.desc.ExplicitBlockSize {
		return blockPlacement{}, newValidationError("BlockVector.AllocatePage", "size", "size %d exceeds preferred block size %d", size, v.desc.PreferredBlockSize)
	}
	if upperAddress && v.desc.Algorithm != blockAlgorithmLinear {
		return blockPlacement{}, newValidationError("BlockVector.AllocatePage", "flags", "UpperAddress is only valid for Linear-algorithm pools")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	for _, b := range v.blocks {
		req, err := b.metadata.CreateAllocationRequest(size, alignment, upperAddress, strategy)
		if err != nil {
			continue
		}
		return blockPlacement{block: b, request: req}, nil
	}

	if !allowNewBlock {
		return blockPlacement{}, ErrOutOfMemory
	}
	if len(v.blocks) >= v.desc.MaxBlockCount && v.desc.MaxBlockCount > 0 {
		return blockPlacement{}, ErrOutOfMemory
	}
	if withinBudget != nil && !withinBudget(v.desc.PreferredBlockSize) {
		return blockPlacement{}, ErrOutOfMemory
	}

	blockSize := v.desc.PreferredBlockSize
	if !v.desc.ExplicitBlockSize {
		for shift := 0; shift <= newBlockSizeShiftMax; shift++ {
			candidate := blockSize >> uint(shift)
			if shift > 0 && candidate < size*2 {
				break
			}
			if err := v.createBlock(candidate); err == nil {
				blockSize = candidate
				goto created
			}
		}
		return blockPlacement{}, ErrOutOfMemory
	}
	if err := v.createBlock(blockSize); err != nil {
		return blockPlacement{}, err
	}

created:
	last := v.blocks[len(v.blocks)-1]
	req, err := last.metadata.CreateAllocationRequest(size, alignment, upperAddress, strategy)
	if err != nil {
		return blockPlacement{}, err
	}
	return blockPlacement{block: last, request: req}, nil
}

// commit finalizes a placement returned by AllocatePage, actually
// committing the suballocation into the chosen block's metadata.
func (v *blockVector) commit(p blockPlacement, size uint64, userData any) (metadata.Handle, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return p.block.metadata.Alloc(p.request, size, userData)
}

// Free releases a suballocation and applies the empty-block hysteresis
// described in spec §4.4: an empty block is kept only while the vector is
// at its minimum count and budget is not exceeded.
func (v *blockVector) Free(block *memoryBlock, h metadata.Handle, withinBudget func() bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := block.metadata.Free(h); err != nil {
		return err
	}
	if !block.IsEmpty() {
		v.incrementalSort()
		return nil
	}

	keepEmpty := len(v.blocks) <= v.desc.MinBlockCount && (withinBudget == nil || withinBudget())
	if keepEmpty {
		// Keep at most one empty block; if another already exists, drop
		// this one instead.
		emptyCount := 0
		for _, b := range v.blocks {
			if b.IsEmpty() {
				emptyCount++
			}
		}
		if emptyCount <= 1 {
			v.incrementalSort()
			return nil
		}
	}
	v.removeBlock(block)
	return nil
}

func (v *blockVector) removeBlock(block *memoryBlock) {
	for i, b := range v.blocks {
		if b == block {
			v.blocks = append(v.blocks[:i], v.blocks[i+1:]...)
			if v.onBlockShrink != nil {
				v.onBlockShrink(block.size)
			}
			return
		}
	}
}

// incrementalSort runs a single bubble-sort swap (ascending SumFreeSize) per
// call, per spec §4.4. Skipped while a defragmentation context has disabled
// it.
func (v *blockVector) incrementalSort() {
	if v.incrementalSortDisabled {
		return
	}
	for i := 0; i+1 < len(v.blocks); i++ {
		if v.blocks[i].SumFreeSize() > v.blocks[i+1].SumFreeSize() {
			v.blocks[i], v.blocks[i+1] = v.blocks[i+1], v.blocks[i]
			return
		}
	}
}

// SortByFreeSizeAscending fully sorts the block list once; used by a
// defragmentation context at construction.
func (v *blockVector) SortByFreeSizeAscending() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := 1; i < len(v.blocks); i++ {
		for j := i; j > 0 && v.blocks[j-1].SumFreeSize() > v.blocks[j].SumFreeSize(); j-- {
			v.blocks[j-1], v.blocks[j] = v.blocks[j], v.blocks[j-1]
		}
	}
}

// CalculateDetailedStatistics aggregates every block's metadata stats.
func (v *blockVector) CalculateDetailedStatistics() metadata.DetailedStatistics {
	v.mu.RLock()
	defer v.mu.RUnlock()
	stats := metadata.NewDetailedStatistics()
	for _, b := range v.blocks {
		s := b.metadata.CalculateDetailedStatistics()
		s.BlockCount = 1
		s.BlockBytes = b.size
		stats.Merge(s)
	}
	return stats
}

// Validate exhaustively checks every block's metadata.
func (v *blockVector) Validate() error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for i, b := range v.blocks {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("vram: block vector entry %d: %w", i, err)
		}
	}
	return nil
}

// BlockCount returns the number of live blocks.
func (v *blockVector) BlockCount() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.blocks)
}
