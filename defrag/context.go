// Package defrag drives pass-based relocation of placed allocations across
// a set of BlockVectors, to consolidate free space and let new allocations
// fit that otherwise wouldn't (spec §4.6). It never copies bytes itself —
// BeginPass returns a plan the caller executes (on the GPU, via whatever
// copy mechanism it has), and EndPass commits the bookkeeping once that
// copy has actually happened.
package defrag

import "github.com/gogpu/vram"

// MoveOp tags what EndPass should do with one planned Move.
type MoveOp int

const (
	// MoveCopy: the driver copied Src's bytes into DstTmp; bind Src onto
	// DstTmp's location and release the old one.
	MoveCopy MoveOp = iota
	// MoveIgnore: the driver declined this move (e.g. it was mid-use this
	// frame); release DstTmp's reservation and mark Src's block immovable
	// for the rest of this context.
	MoveIgnore
	// MoveDestroy: Src is being dropped entirely (its resource was
	// recreated elsewhere); release both Src and DstTmp.
	MoveDestroy
)

// Move is one planned relocation.
type Move struct {
	Src    vram.AllocationHandle
	DstTmp vram.AllocationHandle
	Op     MoveOp
}

// Algorithm selects one of the three relocation heuristics.
type Algorithm int

const (
	AlgorithmFast Algorithm = iota
	AlgorithmBalanced
	AlgorithmFull
)

// Desc configures a Context.
type Desc struct {
	MaxBytesPerPass  uint64
	MaxAllocsPerPass int
	Algorithm        Algorithm
}

// PassStats summarizes one completed EndPass call.
type PassStats struct {
	BytesMoved      uint64
	AllocationsMoved int
	BlocksFreed     int
}

type vectorState struct {
	vec vram.DefragVector

	immovable []bool // per block index, sticky for the context's lifetime

	// Balanced-only running averages; zero until first computed.
	avgAllocSize float64
	avgFreeSize  float64
	haveAverages bool
}

// Context drives BeginPass/EndPass cycles over one or more DefragVectors.
// Per spec §4.6, each vector's incremental sort is disabled for the
// context's lifetime and it is sorted by ascending free size exactly once,
// at construction.
type Context struct {
	desc    Desc
	vectors []*vectorState

	pendingMoves []Move
	passBytes    uint64
	passAllocs   int
}

// NewContext wires a Context over vectors (either every default pool of one
// heap type, or a single user pool's block vector).
func NewContext(vectors []vram.DefragVector, desc Desc) *Context {
	c := &Context{desc: desc}
	for _, v := range vectors {
		v.DisableIncrementalSort()
		v.SortAscendingFreeSize()
		c.vectors = append(c.vectors, &vectorState{vec: v, immovable: make([]bool, v.BlockCount())})
	}
	return c
}

// Close re-enables incremental sorting on every vector; call once the
// defragmentation session (not just one pass) is finished.
func (c *Context) Close() {
	for _, vs := range c.vectors {
		vs.vec.EnableIncrementalSort()
	}
}

func (vs *vectorState) ensureImmovableLen() {
	n := vs.vec.BlockCount()
	if len(vs.immovable) < n {
		grown := make([]bool, n)
		copy(grown, vs.immovable)
		vs.immovable = grown
	}
}

func (vs *vectorState) isImmovable(blockIndex int) bool {
	return blockIndex >= 0 && blockIndex < len(vs.immovable) && vs.immovable[blockIndex]
}

// checkCounters reports whether adding bytes more to this pass would still
// respect the per-pass caps (spec §4.6: "ignore up to 16 allocations that
// would overshoot bytes before terminating the pass").
func (c *Context) checkCounters(bytes uint64) bool {
	if c.desc.MaxBytesPerPass != 0 && c.passBytes+bytes > c.desc.MaxBytesPerPass {
		return false
	}
	if c.desc.MaxAllocsPerPass != 0 && c.passAllocs >= c.desc.MaxAllocsPerPass {
		return false
	}
	return true
}

func (c *Context) incrementCounters(bytes uint64) {
	c.passBytes += bytes
	c.passAllocs++
}

// BeginPass plans one pass's worth of moves using the configured
// algorithm, returning the Move list for the driver to execute.
func (c *Context) BeginPass() ([]Move, error) {
	c.pendingMoves = nil
	c.passBytes = 0
	c.passAllocs = 0

	for _, vs := range c.vectors {
		vs.ensureImmovableLen()
		var err error
		switch c.desc.Algorithm {
		case AlgorithmFast:
			err = c.planFast(vs)
		case AlgorithmBalanced:
			err = c.planBalanced(vs)
		default:
			err = c.planFull(vs)
		}
		if err != nil {
			return nil, err
		}
	}
	return c.pendingMoves, nil
}

// EndPass consumes moves (normally exactly what BeginPass returned, after
// the driver executed any Copy moves), mutates the underlying allocations,
// and reports how much was actually moved.
func (c *Context) EndPass(moves []Move) PassStats {
	var stats PassStats
	for _, vs := range c.vectors {
		before := vs.vec.BlockCount()
		for _, m := range moves {
			if vs.vec.BlockIndexOf(m.Src) < 0 {
				continue // Src belongs to another vector of this context
			}
			switch m.Op {
			case MoveCopy:
				if refs, err := vs.vec.AllocationsInBlock(vs.vec.BlockIndexOf(m.Src)); err == nil {
					for _, r := range refs {
						if r.Handle == m.Src {
							stats.BytesMoved += r.Size
							break
						}
					}
				}
				vs.vec.CommitMove(m.Src, m.DstTmp)
				stats.AllocationsMoved++
			case MoveIgnore:
				vs.vec.DropMove(m.DstTmp)
				if bi := vs.vec.BlockIndexOf(m.Src); bi >= 0 {
					vs.ensureImmovableLen()
					vs.immovable[bi] = true
				}
			case MoveDestroy:
				vs.vec.DropMove(m.DstTmp)
				vs.vec.DropMove(m.Src)
			}
		}
		for i := 0; i < before; i++ {
			vs.vec.RemoveBlockIfEmpty(i)
		}
		after := vs.vec.BlockCount()
		if after < before {
			stats.BlocksFreed += before - after
		}
	}
	return stats
}

// getMoveData builds the Move entry for relocating src into dst, per spec
// §4.6's GetMoveData helper.
func getMoveData(src, dst vram.AllocationHandle) Move {
	return Move{Src: src, DstTmp: dst, Op: MoveCopy}
}

// allocInOtherBlock tries to place ref's allocation into any block in
// [0, beforeBlockIndex) of vs, returning the reservation handle on success.
func allocInOtherBlock(vs *vectorState, ref vram.DefragAllocationRef) (vram.AllocationHandle, bool) {
	alignment := ref.Alignment
	if alignment == 0 {
		alignment = 1
	}
	h, blockIdx, ok := vs.vec.AllocateTemporary(ref.Size, alignment, ref.BlockIndex)
	if !ok {
		return vram.AllocationHandle{}, false
	}
	if vs.isImmovable(blockIdx) {
		vs.vec.DropMove(h)
		return vram.AllocationHandle{}, false
	}
	return h, true
}
