// Package vram implements a GPU memory allocator core for explicit graphics
// APIs that expose heaps, committed resources, placed resources, and
// residency control (the shape exposed by D3D12 and Vulkan).
//
// # Architecture
//
// The allocator is organized in layers, leaves first:
//
//	┌───────────────────────────────────────────────────────────┐
//	│                       Allocator                            │
//	│  (committed/placed/pool policy, budget, statistics, defrag) │
//	├───────────────────────────────────────────────────────────┤
//	│              Pool          │        CommittedList           │
//	│  (named block vector)      │  (per-heap-type dedicated list) │
//	├───────────────────────────────────────────────────────────┤
//	│                       BlockVector                           │
//	│   (growth, first-fit placement, empty-block hysteresis)      │
//	├───────────────────────────────────────────────────────────┤
//	│                       MemoryBlock                            │
//	│         (one device heap + one metadata.Metadata inst.)        │
//	├───────────────────────────────────────────────────────────┤
//	│            metadata.Linear        │       metadata.TLSF        │
//	│      (ring/stack, O(1))           │  (segregated free list)    │
//	├───────────────────────────────────────────────────────────┤
//	│                          Device                               │
//	│   (host collaborator: CreateHeap, CreatePlacedResource, …)     │
//	└───────────────────────────────────────────────────────────┘
//
// # Allocation kinds
//
// A request is satisfied as Committed (own heap, sized to fit), Placed (a
// suballocation of a shared heap inside a BlockVector), or Heap (a dedicated
// heap without any resource bound). The Allocator decides which based on
// size, pool configuration, and budget.
//
// # Thread safety
//
// BlockVector, Pool lists, and Budget are internally synchronized; see the
// per-type documentation for the exact locking contract. Individual
// Allocation and MemoryBlock values are owned by the allocator and must not
// be mutated directly by callers.
package vram
