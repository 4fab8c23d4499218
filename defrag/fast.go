package defrag

// planFast implements spec §4.6's Fast algorithm: from the newest block
// backward, try to relocate each allocation into any earlier block. No
// same-block realloc is attempted.
func (c *Context) planFast(vs *vectorState) error {
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
			dst, ok := allocInOtherBlock(vs, ref)
			if !ok {
				continue
			}
			c.pendingMoves = append(c.pendingMoves, getMoveData(ref.Handle, dst))
			c.incrementCounters(ref.Size)
		}
	}
	return nil
}
