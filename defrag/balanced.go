package defrag

// computeAverages derives vs's running average allocation size and average
// per-block free size, used to gate same-block realloc attempts.
func computeAverages(vs *vectorState) {
	n := vs.vec.BlockCount()
	var totalAlloc, totalAllocBytes, totalFree uint64
	for i := 0; i < n; i++ {
		refs, err := vs.vec.AllocationsInBlock(i)
		if err != nil {
			continue
		}
		for _, r := range refs {
			totalAlloc++
			totalAllocBytes += r.Size
		}
		totalFree += vs.vec.BlockFreeSize(i)
	}
	if totalAlloc > 0 {
		vs.avgAllocSize = float64(totalAllocBytes) / float64(totalAlloc)
	}
	if n > 0 {
		vs.avgFreeSize = float64(totalFree) / float64(n)
	}
	vs.haveAverages = true
}

// planBalanced implements spec §4.6's Balanced algorithm: always try
// relocation into an earlier block first; a same-block lower-offset
// realloc is attempted only when the block's free size is at least half
// the running average, or the allocation is small relative to the running
// average allocation size. If a full sweep moves nothing, the averages are
// invalidated (every gate passes) and the sweep is retried exactly once.
func (c *Context) planBalanced(vs *vectorState) error {
	if !vs.haveAverages {
		computeAverages(vs)
	}
	moved, err := c.balancedSweep(vs, true)
	if err != nil {
		return err
	}
	if moved == 0 {
		vs.haveAverages = false
		if _, err := c.balancedSweep(vs, false); err != nil {
			return err
		}
	}
	return nil
}

func (c *Context) balancedSweep(vs *vectorState, gated bool) (int, error) {
	moved := 0
	n := vs.vec.BlockCount()
	for blockIdx := n - 1; blockIdx >= 0; blockIdx-- {
		if vs.isImmovable(blockIdx) {
			continue
		}
		refs, err := vs.vec.AllocationsInBlock(blockIdx)
		if err != nil {
			return moved, err
		}
		for _, ref := range refs {
			if !c.checkCounters(ref.Size) {
				return moved, nil
			}
			if dst, ok := allocInOtherBlock(vs, ref); ok {
				c.pendingMoves = append(c.pendingMoves, getMoveData(ref.Handle, dst))
				c.incrementCounters(ref.Size)
				moved++
				continue
			}
			if gated && !balancedGatePasses(vs, ref.Size, vs.vec.BlockFreeSize(blockIdx)) {
				continue
			}
			if dst, ok := vs.vec.ReallocLowerOffset(ref.Handle); ok {
				c.pendingMoves = append(c.pendingMoves, getMoveData(ref.Handle, dst))
				c.incrementCounters(ref.Size)
				moved++
			}
		}
	}
	return moved, nil
}

func balancedGatePasses(vs *vectorState, allocSize, blockFreeSize uint64) bool {
	if vs.avgFreeSize > 0 && float64(blockFreeSize) >= vs.avgFreeSize/2 {
		return true
	}
	if vs.avgAllocSize > 0 && float64(allocSize) <= vs.avgAllocSize/2 {
		return true
	}
	return false
}
