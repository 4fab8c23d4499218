package vram

import (
	"github.com/gogpu/vram/container"
	"github.com/gogpu/vram/metadata"
)

// AllocationKind classifies how an Allocation is backed.
type AllocationKind uint8

const (
	// AllocationKindBlock is a suballocation inside a shared MemoryBlock,
	// placed by that block's Metadata.
	AllocationKindBlock AllocationKind = iota
	// AllocationKindDedicated owns its entire heap: created when a request
	// is too large for pooling, or the caller asked for a committed
	// resource.
	AllocationKindDedicated
)

// Allocation is the unit this package hands back to callers: either a
// suballocation inside a pooled block, or a dedicated (committed) heap of
// its own. It is always reached through an AllocationHandle, never copied
// by value across goroutines.
type Allocation struct {
	links container.IntrusiveLinks // for the owning CommittedList/dedicated list

	kind AllocationKind
	size uint64

	// Block-backed fields.
	block     *memoryBlock
	subHandle metadata.Handle

	// Dedicated-heap fields.
	heap     Heap
	heapType HeapType

	alignment  uint64
	userData   any
	name       string
	mapCount   int32
}

// AllocationHandle is the stable opaque reference callers hold; it never
// moves even though the Allocation it names lives in a PoolAllocator arena
// that can grow and recycle slots.
type AllocationHandle struct {
	idx container.PoolIndex
}

// IsValid reports whether h was produced by a live allocation call.
func (h AllocationHandle) IsValid() bool { return h.idx.IsValid() }

func allocationLinks(a *Allocation) *container.IntrusiveLinks { return &a.links }

// Size returns the allocation's requested size in bytes.
func (a *Allocation) Size() uint64 { return a.size }

// Alignment returns the alignment the allocation was placed under.
func (a *Allocation) Alignment() uint64 { return a.alignment }

// IsDedicated reports whether this allocation owns its entire heap.
func (a *Allocation) IsDedicated() bool { return a.kind == AllocationKindDedicated }

// UserData returns the opaque caller-supplied value attached at creation
// or by SetUserData.
func (a *Allocation) UserData() any { return a.userData }

// SetUserData replaces the opaque caller-supplied value.
func (a *Allocation) SetUserData(v any) { a.userData = v }

// Name returns the allocation's debug name, if one was set.
func (a *Allocation) Name() string { return a.name }

// SetName replaces the allocation's debug name.
func (a *Allocation) SetName(name string) { a.name = name }

// Heap returns the backing device heap: the allocation's own heap for a
// dedicated allocation, the owning block's heap for a block-backed one, or
// nil when neither is set.
func (a *Allocation) Heap() Heap {
	if a.kind == AllocationKindDedicated {
		return a.heap
	}
	if a.block != nil {
		return a.block.heap
	}
	return nil
}

// Offset returns the allocation's byte offset within its backing heap. A
// dedicated allocation always has offset 0.
func (a *Allocation) Offset() uint64 {
	if a.kind == AllocationKindDedicated {
		return 0
	}
	off, err := a.block.metadata.GetAllocationOffset(a.subHandle)
	if err != nil {
		return 0
	}
	return off
}
