package vram

import (
	"github.com/gogpu/vram/container"
	"github.com/gogpu/vram/metadata"
)

// PoolStatistics summarizes one Pool: its block vector's detailed stats
// plus its dedicated-allocation contribution.
type PoolStatistics struct {
	Blocks         metadata.DetailedStatistics
	DedicatedCount int
	DedicatedBytes uint64
}

// SegmentStatistics is one memory-segment-group's aggregate: the device's
// reported usage/budget plus everything this allocator has placed there.
type SegmentStatistics struct {
	Segment    MemorySegmentGroup
	UsageBytes uint64
	BudgetBytes uint64
	Total      metadata.DetailedStatistics
}

// Statistics is the allocator-wide summary built by CalculateStatistics:
// per-heap-type totals, per-segment-group budget snapshots, and a grand
// total across everything this allocator manages.
type Statistics struct {
	PerHeapType [4]metadata.DetailedStatistics
	PerSegment  [2]SegmentStatistics
	Total       metadata.DetailedStatistics
}

// CalculateStatistics sums contributions from every default pool, every
// custom pool, and every committed list into per-heap-type and
// per-segment-group accumulators, then into a grand total (spec §4.5).
func (a *Allocator) CalculateStatistics() Statistics {
	var stats Statistics
	for ht := HeapType(0); ht < 4; ht++ {
		for _, bv := range a.defaultPools[ht] {
			s := bv.CalculateDetailedStatistics()
			stats.PerHeapType[ht].Merge(s)
		}
		if cl := a.committed[ht]; cl != nil {
			var ded metadata.DetailedStatistics
			ded.AllocationCount = uint32(cl.Count())
			ded.AllocationBytes = cl.SumBytes()
			ded.BlockCount = uint32(cl.Count())
			ded.BlockBytes = cl.SumBytes()
			stats.PerHeapType[ht].Merge(ded)
		}
	}

	a.poolsMu.RLock()
	for ht, pools := range a.userPools {
		for p := pools; p != nil; p = p.links.next {
			ps := p.CalculateDetailedStatistics()
			stats.PerHeapType[ht].Merge(ps.Blocks)
		}
	}
	a.poolsMu.RUnlock()

	for g := MemorySegmentGroup(0); g < 2; g++ {
		info := a.budget.Get(g)
		stats.PerSegment[g] = SegmentStatistics{
			Segment:     g,
			UsageBytes:  info.CurrentUsageBytes,
			BudgetBytes: info.BudgetBytes,
		}
	}
	for ht := HeapType(0); ht < 4; ht++ {
		stats.PerSegment[heapTypeSegmentGroup(ht)].Total.Merge(stats.PerHeapType[ht])
		stats.Total.Merge(stats.PerHeapType[ht])
	}
	return stats
}

// BuildStatsString renders a UTF-8 JSON snapshot (BOM-prefixed, matching
// the reference allocator's stats dump) of the allocator's current state.
// detailed additionally includes each heap type's allocation size min/max
// and a per-pool summary (name, heap type, block count, dedicated count and
// bytes); per-block allocation maps are not emitted.
func (a *Allocator) BuildStatsString(detailed bool) []byte {
	stats := a.CalculateStatistics()
	w := container.NewWriter()
	w.EscapeLineSeparators = true

	w.BeginObject()
	w.Key("general")
	w.BeginObject()
	w.Key("allocationBytes")
	w.Uint(stats.Total.AllocationBytes)
	w.Key("blockBytes")
	w.Uint(stats.Total.BlockBytes)
	w.Key("allocationCount")
	w.Uint(uint64(stats.Total.AllocationCount))
	w.Key("blockCount")
	w.Uint(uint64(stats.Total.BlockCount))
	w.EndObject()

	w.Key("budget")
	w.BeginArray()
	for _, seg := range stats.PerSegment {
		w.BeginObject()
		w.Key("segment")
		w.Uint(uint64(seg.Segment))
		w.Key("usageBytes")
		w.Uint(seg.UsageBytes)
		w.Key("budgetBytes")
		w.Uint(seg.BudgetBytes)
		w.EndObject()
	}
	w.EndArray()

	w.Key("heapTypes")
	w.BeginArray()
	for ht, s := range stats.PerHeapType {
		w.BeginObject()
		w.Key("type")
		w.String(HeapType(ht).String())
		w.Key("allocationBytes")
		w.Uint(s.AllocationBytes)
		w.Key("blockBytes")
		w.Uint(s.BlockBytes)
		w.Key("allocationCount")
		w.Uint(uint64(s.AllocationCount))
		if detailed {
			w.Key("allocationSizeMin")
			w.Uint(s.AllocationSizeMin)
			w.Key("allocationSizeMax")
			w.Uint(s.AllocationSizeMax)
		}
		w.EndObject()
	}
	w.EndArray()

	if detailed {
		w.Key("pools")
		w.BeginArray()
		a.poolsMu.RLock()
		for ht, pools := range a.userPools {
			for p := pools; p != nil; p = p.links.next {
				w.BeginObject()
				w.Key("name")
				w.String(p.Name())
				w.Key("heapType")
				w.String(HeapType(ht).String())
				w.Key("blockCount")
				w.Uint(uint64(p.BlockCount()))
				w.Key("dedicatedCount")
				ps := p.CalculateDetailedStatistics()
				w.Uint(uint64(ps.DedicatedCount))
				w.Key("dedicatedBytes")
				w.Uint(ps.DedicatedBytes)
				w.EndObject()
			}
		}
		a.poolsMu.RUnlock()
		w.EndArray()
	}

	w.EndObject()
	return w.Finalize(true)
}
