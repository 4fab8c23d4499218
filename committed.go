package vram

import "github.com/gogpu/vram/container"

// committedList is the per-heap-type intrusive list of dedicated
// (Committed or Heap-kind) allocations: each one owns a heap sized exactly
// to its allocation, with no suballocator involved.
type committedList struct {
	mu   rwLocker
	pool *container.PoolAllocator[Allocation]
	list *container.IntrusiveList[Allocation]

	sumBytes uint64
}

func newCommittedList(pool *container.PoolAllocator[Allocation], singleThreaded bool) *committedList {
	return &committedList{
		mu:   newRWLocker(singleThreaded),
		pool: pool,
		list: container.NewIntrusiveList(pool, allocationLinks),
	}
}

// Add registers idx (already allocated in the shared pool) as a dedicated
// allocation belonging to this list.
func (c *committedList) Add(idx container.PoolIndex, size uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.list.PushBack(idx)
	c.sumBytes += size
}

// Remove unlinks idx; the caller is responsible for freeing it from the
// shared pool and releasing its heap.
func (c *committedList) Remove(idx container.PoolIndex, size uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.list.Remove(idx)
	c.sumBytes -= size
}

// Count returns the number of dedicated allocations currently tracked.
func (c *committedList) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.list.Len()
}

// SumBytes returns the total bytes committed across this list.
func (c *committedList) SumBytes() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sumBytes
}

// Each walks every dedicated allocation in the list.
func (c *committedList) Each(fn func(idx container.PoolIndex)) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.list.Each(fn)
}
