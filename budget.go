package vram

import "sync/atomic"

// budgetRefreshInterval is how many tracked operations elapse before the
// next budget query triggers a device refresh (spec §5).
const budgetRefreshInterval = 30

// segmentBudget is one memory-segment-group's usage/budget snapshot.
type segmentBudget struct {
	usageBytes uint64
	budgetBytes uint64
}

// budgetTracker mirrors spec's CurrentBudgetData: atomic per-group
// allocation/block byte tallies (updated on every Alloc/Free, lock-free),
// plus a read/write-mutex-guarded snapshot of the device's own usage/budget
// figures that is refreshed lazily.
type budgetTracker struct {
	device Device

	// allocationBytes/blockBytes are the allocator's own accounting,
	// summed independently of whatever the device reports; atomics because
	// every Alloc/Free touches them regardless of which lock a given
	// operation is already holding.
	allocationBytes [memorySegmentGroupCount]atomic.Uint64
	blockBytes      [memorySegmentGroupCount]atomic.Uint64

	opCount atomic.Uint64
	// stale is set every budgetRefreshInterval operations; the next Get
	// clears it and refreshes the snapshot from the device.
	stale atomic.Bool

	mu       rwLocker
	snapshot [memorySegmentGroupCount]segmentBudget
	heapTypeSegment func(HeapType) MemorySegmentGroup
}

func newBudgetTracker(device Device, heapTypeSegment func(HeapType) MemorySegmentGroup, singleThreaded bool) *budgetTracker {
	return &budgetTracker{
		device:          device,
		mu:              newRWLocker(singleThreaded),
		heapTypeSegment: heapTypeSegment,
	}
}

// AddAllocation records size bytes allocated under heapType's segment
// group, and marks the snapshot stale every budgetRefreshInterval calls.
func (b *budgetTracker) AddAllocation(heapType HeapType, size uint64) {
	g := b.heapTypeSegment(heapType)
	b.allocationBytes[g].Add(size)
	b.maybeRefresh()
}

// AddBlock records size bytes of newly created block/heap capacity.
func (b *budgetTracker) AddBlock(heapType HeapType, size uint64) {
	g := b.heapTypeSegment(heapType)
	b.blockBytes[g].Add(size)
	b.maybeRefresh()
}

// RemoveAllocation reverses AddAllocation.
func (b *budgetTracker) RemoveAllocation(heapType HeapType, size uint64) {
	g := b.heapTypeSegment(heapType)
	b.allocationBytes[g].Add(^(size - 1)) // two's-complement subtract
	b.maybeRefresh()
}

// RemoveBlock reverses AddBlock.
func (b *budgetTracker) RemoveBlock(heapType HeapType, size uint64) {
	g := b.heapTypeSegment(heapType)
	b.blockBytes[g].Add(^(size - 1))
	b.maybeRefresh()
}

func (b *budgetTracker) maybeRefresh() {
	n := b.opCount.Add(1)
	if n%budgetRefreshInterval == 0 {
		b.stale.Store(true)
	}
}

func (b *budgetTracker) refresh() {
	var next [memorySegmentGroupCount]segmentBudget
	for g := MemorySegmentGroup(0); g < memorySegmentGroupCount; g++ {
		info, err := b.device.QueryVideoMemoryInfo(0, g)
		if err != nil {
			continue
		}
		next[g] = segmentBudget{usageBytes: info.CurrentUsageBytes, budgetBytes: info.BudgetBytes}
	}
	b.mu.Lock()
	b.snapshot = next
	b.mu.Unlock()
}

// Get returns the most recent (possibly stale, per the lazy-refresh rule)
// usage/budget snapshot for group.
func (b *budgetTracker) Get(group MemorySegmentGroup) VideoMemoryInfo {
	if b.stale.CompareAndSwap(true, false) {
		b.refresh()
	}
	b.mu.RLock()
	s := b.snapshot[group]
	b.mu.RUnlock()
	return VideoMemoryInfo{CurrentUsageBytes: s.usageBytes, BudgetBytes: s.budgetBytes}
}

// WithinBudget reports whether adding addBytes to heapType's segment would
// stay within the last known budget snapshot. A zero BudgetBytes (never
// refreshed yet) is treated as "no limit known" and always passes.
func (b *budgetTracker) WithinBudget(heapType HeapType, addBytes uint64) bool {
	g := b.heapTypeSegment(heapType)
	info := b.Get(g)
	if info.BudgetBytes == 0 {
		return true
	}
	return info.CurrentUsageBytes+b.blockBytes[g].Load()+addBytes <= info.BudgetBytes
}
