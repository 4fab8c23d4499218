package vram

import (
	"fmt"

	"github.com/gogpu/vram/metadata"
)

// memoryBlock owns exactly one device heap and the Metadata suballocator
// that places allocations within it. BlockVector owns a slice of these;
// each one lives until every allocation inside it is freed and the vector's
// cleanup pass removes it (a block that becomes empty is kept only while the
// vector is at its minimum block count, within budget, and no other block is
// empty — see blockVector.Free).
type memoryBlock struct {
	heap     Heap
	size     uint64
	heapType HeapType
	class    ResourceClass

	metadata metadata.Metadata

	// algorithm picks which concrete metadata.Metadata this block got; kept
	// so BlockVector can decide whether a given strategy request even makes
	// sense (TLSF supports all four; Linear ignores the strategy argument).
	algorithm blockAlgorithm
}

type blockAlgorithm uint8

const (
	blockAlgorithmTLSF blockAlgorithm = iota
	blockAlgorithmLinear
)

// newMemoryBlock wraps an already-created device heap with fresh metadata.
// debugMargin is passed through from blockVectorDesc.DebugMargin; no
// Allocator constructor sets that field, so blocks created through an
// Allocator have a zero margin.
func newMemoryBlock(heap Heap, size uint64, heapType HeapType, class ResourceClass, algo blockAlgorithm, debugMargin uint64) (*memoryBlock, error) {
	var md metadata.Metadata
	var err error
	switch algo {
	case blockAlgorithmLinear:
		md, err = metadata.NewLinear(size, debugMargin, false)
	default:
		md, err = metadata.NewTLSF(size, debugMargin, false)
	}
	if err != nil {
		return nil, err
	}
	return &memoryBlock{
		heap:      heap,
		size:      size,
		heapType:  heapType,
		class:     class,
		metadata:  md,
		algorithm: algo,
	}, nil
}

// IsEmpty reports whether the block has no live suballocations.
func (b *memoryBlock) IsEmpty() bool { return b.metadata.IsEmpty() }

// SumFreeSize returns the block's free bytes.
func (b *memoryBlock) SumFreeSize() uint64 { return b.metadata.SumFreeSize() }

// Validate exhaustively checks the block's metadata invariants.
func (b *memoryBlock) Validate() error {
	if err := b.metadata.Validate(); err != nil {
		return fmt.Errorf("vram: block validation failed: %w", err)
	}
	return nil
}
