package vram

import (
	"github.com/gogpu/vram/container"
	"github.com/gogpu/vram/metadata"
)

// VirtualBlockDesc configures a VirtualBlock.
type VirtualBlockDesc struct {
	Size      uint64
	Algorithm blockAlgorithm
}

// VirtualBlock is a pure software suballocator: it has no backing device
// heap, only the same placement bookkeeping a MemoryBlock would use. Used
// to plan offsets into memory the caller manages itself (e.g. sub-ranges
// of a single large externally-owned buffer).
type VirtualBlock struct {
	md metadata.Metadata
}

// NewVirtualBlock constructs a VirtualBlock over desc.Size bytes.
func NewVirtualBlock(desc VirtualBlockDesc) (*VirtualBlock, error) {
	var md metadata.Metadata
	var err error
	switch desc.Algorithm {
	case blockAlgorithmLinear:
		md, err = metadata.NewLinear(desc.Size, 0, true)
	default:
		md, err = metadata.NewTLSF(desc.Size, 0, true)
	}
	if err != nil {
		return nil, err
	}
	return &VirtualBlock{md: md}, nil
}

// IsEmpty reports whether every byte is free.
func (b *VirtualBlock) IsEmpty() bool { return b.md.IsEmpty() }

// Size returns the total managed size.
func (b *VirtualBlock) Size() uint64 { return b.md.Size() }

// SumFreeSize returns the total free bytes.
func (b *VirtualBlock) SumFreeSize() uint64 { return b.md.SumFreeSize() }

// Allocate plans and commits a suballocation in one call, returning its
// handle and byte offset.
func (b *VirtualBlock) Allocate(size, alignment uint64, strategy metadata.Strategy, userData any) (metadata.Handle, uint64, error) {
	req, err := b.md.CreateAllocationRequest(size, alignment, false, strategy)
	if err != nil {
		return metadata.NoHandle, 0, err
	}
	h, err := b.md.Alloc(req, size, userData)
	if err != nil {
		return metadata.NoHandle, 0, err
	}
	off, err := b.md.GetAllocationOffset(h)
	if err != nil {
		return metadata.NoHandle, 0, err
	}
	return h, off, nil
}

// Free releases a suballocation previously returned by Allocate.
func (b *VirtualBlock) Free(h metadata.Handle) error { return b.md.Free(h) }

// Clear releases every suballocation.
func (b *VirtualBlock) Clear() { b.md.Clear() }

// CalculateDetailedStatistics walks every suballocation and free region.
func (b *VirtualBlock) CalculateDetailedStatistics() metadata.DetailedStatistics {
	return b.md.CalculateDetailedStatistics()
}

// Validate exhaustively re-derives sums and structural links.
func (b *VirtualBlock) Validate() error { return b.md.Validate() }

// BuildStatsString renders this block's allocations as a JSON blob via the
// same writer the top-level Allocator uses. A Linear-algorithm block does
// not support allocation iteration, so its list is always empty.
func (b *VirtualBlock) BuildStatsString() []byte {
	w := container.NewWriter()
	w.EscapeLineSeparators = true
	w.BeginObject()
	w.Key("size")
	w.Uint(b.md.Size())
	w.Key("allocations")
	w.BeginArray()
	h, err := b.md.GetAllocationListBegin()
	for err == nil && h.IsValid() {
		info, infoErr := b.md.GetAllocationInfo(h)
		if infoErr != nil {
			break
		}
		w.BeginObject()
		w.Key("offset")
		w.Uint(info.Offset)
		w.Key("size")
		w.Uint(info.Size)
		w.EndObject()
		h, err = b.md.GetNextAllocation(h)
	}
	w.EndArray()
	w.EndObject()
	return w.Finalize(true)
}
