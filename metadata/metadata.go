// Package metadata implements the block-metadata suballocators: the
// intra-heap placement algorithms used by a single MemoryBlock. Two
// implementations are provided — Linear (a ring/stack allocator, O(1)) and
// TLSF (a two-level segregated free-list, general purpose, defragmentable).
//
// Both share the same contract (the Metadata interface) but nothing else:
// per the design notes, this is modeled as two genuinely distinct
// algorithms behind a small interface, not a shared base type.
package metadata

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by both algorithms.
var (
	ErrInvalidArgument  = errors.New("metadata: invalid argument")
	ErrOutOfMemory      = errors.New("metadata: out of memory")
	ErrUnsupported      = errors.New("metadata: operation unsupported by this algorithm")
	ErrValidationFailed = errors.New("metadata: validation failed")
)

// Handle is an opaque reference to one suballocation inside a Metadata
// instance. Implementations encode whatever they need into payload, but
// callers must never do arithmetic on it — only the Metadata that produced
// it can interpret it.
type Handle struct {
	payload uintptr
}

// NoHandle is the zero value; never a valid suballocation reference.
var NoHandle = Handle{}

// IsValid reports whether h refers to a real suballocation.
func (h Handle) IsValid() bool { return h.payload != 0 }

// NewHandle is exported for implementations in this package and its
// subpackages-by-convention (linear.go, tlsf.go); other callers should treat
// Handle as opaque.
func NewHandle(payload uintptr) Handle { return Handle{payload: payload} }

// Payload returns the raw encoded value. Only meaningful to the Metadata
// implementation that produced the Handle.
func (h Handle) Payload() uintptr { return h.payload }

// Strategy selects among the allocation-placement heuristics a Metadata
// implementation may offer. Linear ignores this entirely; TLSF uses it to
// pick a search order.
type Strategy uint32

const (
	// StrategyDefault is a hybrid: try the next-larger bucket first, then
	// the null block, then best-fit.
	StrategyDefault Strategy = 0
	// StrategyMinTime favors allocation speed over packing quality.
	StrategyMinTime Strategy = 1 << iota
	// StrategyMinMemory favors tight packing over allocation speed.
	StrategyMinMemory
	// StrategyMinOffset favors the lowest possible offset, scanning in
	// physical order; used by defragmentation to guarantee downward moves.
	StrategyMinOffset
)

// StrategyMask has the value of the root package's AllocationStrategyMask,
// the strategy sub-field of AllocationFlags. It does not cover this
// package's own Strategy values (0/2/4/8); AllocationFlags.strategy
// translates between the two encodings.
const StrategyMask Strategy = 0xF0000

// Kind tags a suballocation as free or used space. Linear metadata tracks
// FREE holes explicitly; TLSF never materializes a Kind value for free
// space (it lives in the free-list instead). AllocationInfo carries no Kind;
// it describes live suballocations only.
type Kind uint8

const (
	KindFree Kind = iota
	KindUsed
)

// AllocationRequest is the output of CreateAllocationRequest: everything
// Alloc needs to actually place the suballocation, plus the running totals
// the caller (BlockVector/Allocator) uses to pick among blocks without a
// second metadata call.
type AllocationRequest struct {
	Handle    Handle // opaque, to be passed back into Alloc
	Size      uint64
	AlgoData  uint64 // strategy-specific payload (TLSF: aligned offset; Linear: request-kind tag)
	ItemIndex int    // set to -1 by both Linear and TLSF; neither reads it

	SumFreeSize  uint64 // block's total free bytes, for the caller's ordering heuristics
	SumItemSize  uint64 // TLSF: size of the candidate free block; Linear: the requested size
}

// AllocationInfo describes one live suballocation for introspection
// (JSON stats, defragmentation planning).
type AllocationInfo struct {
	Handle   Handle
	Offset   uint64
	Size     uint64
	UserData any
}

// DetailedStatistics accumulates min/max/count over a set of sizes, plus
// aggregate byte/allocation counts. It is additive: Merge combines two
// instances (used when summing across blocks/pools).
type DetailedStatistics struct {
	BlockCount      uint32
	AllocationCount uint32
	BlockBytes      uint64
	AllocationBytes uint64

	UnusedRangeCount uint32
	AllocationSizeMin uint64
	AllocationSizeMax uint64
	UnusedRangeSizeMin uint64
	UnusedRangeSizeMax uint64
}

// NewDetailedStatistics returns a zeroed accumulator ready for AddAllocation/
// AddUnusedRange calls, with the min fields primed to saturate correctly on
// the first observation.
func NewDetailedStatistics() DetailedStatistics {
	return DetailedStatistics{
		AllocationSizeMin:  ^uint64(0),
		UnusedRangeSizeMin: ^uint64(0),
	}
}

// AddAllocation folds one live suballocation into the accumulator.
func (s *DetailedStatistics) AddAllocation(size uint64) {
	s.AllocationCount++
	s.AllocationBytes += size
	if size < s.AllocationSizeMin {
		s.AllocationSizeMin = size
	}
	if size > s.AllocationSizeMax {
		s.AllocationSizeMax = size
	}
}

// AddUnusedRange folds one free region into the accumulator.
func (s *DetailedStatistics) AddUnusedRange(size uint64) {
	s.UnusedRangeCount++
	if size < s.UnusedRangeSizeMin {
		s.UnusedRangeSizeMin = size
	}
	if size > s.UnusedRangeSizeMax {
		s.UnusedRangeSizeMax = size
	}
}

// Merge folds other into s, preserving the saturating min/max semantics.
func (s *DetailedStatistics) Merge(other DetailedStatistics) {
	s.BlockCount += other.BlockCount
	s.AllocationCount += other.AllocationCount
	s.BlockBytes += other.BlockBytes
	s.AllocationBytes += other.AllocationBytes
	s.UnusedRangeCount += other.UnusedRangeCount

	if other.AllocationSizeMin < s.AllocationSizeMin {
		s.AllocationSizeMin = other.AllocationSizeMin
	}
	if other.AllocationSizeMax > s.AllocationSizeMax {
		s.AllocationSizeMax = other.AllocationSizeMax
	}
	if other.UnusedRangeSizeMin < s.UnusedRangeSizeMin {
		s.UnusedRangeSizeMin = other.UnusedRangeSizeMin
	}
	if other.UnusedRangeSizeMax > s.UnusedRangeSizeMax {
		s.UnusedRangeSizeMax = other.UnusedRangeSizeMax
	}
}

// Metadata is the abstract interface implemented by Linear and TLSF. It owns
// the suballocation bookkeeping for one heap-sized region (real, backed by
// an actual device heap) or one software-only region (virtual, for
// VirtualBlock).
type Metadata interface {
	// Size returns the total size of the managed region.
	Size() uint64
	// SumFreeSize returns the total free bytes; SumFreeSize()+used == Size().
	SumFreeSize() uint64
	// IsEmpty reports whether every byte is free.
	IsEmpty() bool
	// IsVirtual reports whether this metadata has no backing device heap.
	IsVirtual() bool

	// CreateAllocationRequest plans a placement for size/alignment without
	// committing it. upperAddress requests placement from the high address
	// end (Linear only; TLSF returns ErrInvalidArgument).
	CreateAllocationRequest(size, alignment uint64, upperAddress bool, strategy Strategy) (AllocationRequest, error)

	// Alloc commits a previously planned request, returning the handle the
	// caller must later pass to Free. userData is opaque caller context
	// (e.g. *vram.Allocation) stored alongside the suballocation.
	Alloc(req AllocationRequest, size uint64, userData any) (Handle, error)

	// Free releases a suballocation previously returned by Alloc.
	Free(h Handle) error

	// GetAllocationOffset returns the byte offset of h within the region.
	GetAllocationOffset(h Handle) (uint64, error)
	// GetAllocationInfo returns full detail for h.
	GetAllocationInfo(h Handle) (AllocationInfo, error)
	// SetAllocationUserData replaces the user data stored alongside h.
	SetAllocationUserData(h Handle, userData any) error

	// GetAllocationListBegin starts an iteration over live suballocations;
	// TLSF returns the highest-offset one first and walks toward offset 0.
	// Linear returns ErrUnsupported (it is not defragmentable).
	GetAllocationListBegin() (Handle, error)
	// GetNextAllocation returns the next suballocation of that iteration
	// (for TLSF, the live one physically before prev).
	GetNextAllocation(prev Handle) (Handle, error)
	// GetNextFreeRegionSize returns the size of the free region physically
	// after h's suballocation, or 0 if h abuts the end of the block.
	GetNextFreeRegionSize(h Handle) (uint64, error)
	// FreeRegionsCount returns the number of distinct free regions.
	FreeRegionsCount() (int, error)

	// CalculateDetailedStatistics walks every suballocation and every free
	// region, building a fresh DetailedStatistics.
	CalculateDetailedStatistics() DetailedStatistics

	// Validate exhaustively re-derives sums and structural links and
	// reports whether they match the maintained incremental state.
	Validate() error

	// Clear releases every suballocation, returning the metadata to its
	// freshly-constructed state.
	Clear()
}

func invalidArg(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func outOfMemory(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrOutOfMemory, fmt.Sprintf(format, args...))
}
