package vram

// PoolFlags modifies a user pool's behavior.
type PoolFlags uint32

const (
	// PoolFlagAlwaysCommitted forbids placed allocation out of this pool
	// entirely (every allocation from it is a dedicated heap) and implies
	// zero minimum block count.
	PoolFlagAlwaysCommitted PoolFlags = 1 << iota
	// PoolFlagMSAAAlwaysCommitted forces MSAA textures requested against
	// this pool to be committed rather than placed.
	PoolFlagMSAAAlwaysCommitted
)

// PoolDesc is the external configuration of a user-named pool (spec §3).
type PoolDesc struct {
	HeapType HeapType
	Class    ResourceClass

	// BlockSize, if nonzero, fixes every block in this pool to exactly this
	// size (ExplicitBlockSize); zero means the allocator picks its own
	// preferred size and may shrink new blocks under pressure.
	BlockSize uint64

	MinBlockCount int
	MaxBlockCount int

	MinAllocationAlignment uint64

	// Algorithm selects Linear (ring/stack, frame-scoped workloads) or TLSF
	// (general purpose, defragmentable). The zero value is TLSF.
	Algorithm blockAlgorithm

	Flags             PoolFlags
	ResidencyPriority ResidencyPriority
}

// Pool is a user-named allocation source: its own block vector and
// committed list, with independent growth/alignment policy from the
// allocator's default pools.
type Pool struct {
	links poolLinks

	desc   PoolDesc
	blocks *blockVector
	dedicated *committedList

	name string
}

// poolLinks threads Pool into the allocator's per-heap-type intrusive list
// of user pools (spec §3: "User pools ... appear as nodes in an intrusive
// per-heap-type list").
type poolLinks struct {
	prev, next *Pool
}

// Name returns the pool's debug name, if one was set via SetName.
func (p *Pool) Name() string { return p.name }

// SetName replaces the pool's debug name.
func (p *Pool) SetName(name string) { p.name = name }

// BlockCount returns the number of live blocks owned by this pool.
func (p *Pool) BlockCount() int { return p.blocks.BlockCount() }

// CalculateDetailedStatistics aggregates this pool's block vector and
// dedicated-allocation contribution.
func (p *Pool) CalculateDetailedStatistics() PoolStatistics {
	s := p.blocks.CalculateDetailedStatistics()
	return PoolStatistics{
		Blocks:          s,
		DedicatedCount:  p.dedicated.Count(),
		DedicatedBytes:  p.dedicated.SumBytes(),
	}
}

// Validate exhaustively checks the pool's block vector.
func (p *Pool) Validate() error { return p.blocks.Validate() }
