package defrag

// planFull implements spec §4.6's Full algorithm: always attempt both
// relocation into an earlier block and a same-block lower-offset realloc,
// unconditionally (no averages heuristic gating it, unlike Balanced).
func (c *Context) planFull(vs *vectorState) error {
	n := vs.vec.BlockCount()
	for blockIdx := n - 1; blockIdx >= 0; blockIdx-- {
		if vs.isImmovable(blockIdx) {
			continue
		}
		refs, err := vs.vec.AllocationsInBlock(blockIdx)
		if err != nil {
			return err
		}
		for _, ref := range refs {
			if !c.checkCounters(ref.Size) {
				return nil
			}
			if dst, ok := allocInOtherBlock(vs, ref); ok {
				c.pendingMoves = append(c.pendingMoves, getMoveData(ref.Handle, dst))
				c.incrementCounters(ref.Size)
				continue
			}
			if dst, ok := vs.vec.ReallocLowerOffset(ref.Handle); ok {
				c.pendingMoves = append(c.pendingMoves, getMoveData(ref.Handle, dst))
				c.incrementCounters(ref.Size)
			}
		}
	}
	return nil
}
