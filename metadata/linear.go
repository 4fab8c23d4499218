package metadata

import "sort"

// secondVectorMode tracks what the Linear allocator's second vector
// currently represents.
type secondVectorMode int

const (
	secondVectorEmpty secondVectorMode = iota
	// secondVectorRingBuffer: offsets smaller than the first vector's
	// front; used when the first vector wrapped because the region past
	// its end was already consumed and the caller asked for a lower
	// allocation again.
	secondVectorRingBuffer
	// secondVectorDoubleStack: offsets greater than the first vector's
	// back; upper-address allocations, kept sorted by descending offset.
	secondVectorDoubleStack
)

type linearSuballocation struct {
	offset   uint64
	size     uint64
	userData any
	kind     Kind
}

// requestKind distinguishes the three ways a Linear allocation can be
// committed; it is smuggled through AllocationRequest.AlgoData.
type requestKind uint64

const (
	requestEndOf1st requestKind = iota
	requestEndOf2nd
	requestUpperAddress
)

// Linear is a ring/stack block-metadata allocator: O(1) amortized alloc and
// free, no defragmentation support. See the secondVectorMode constants and
// spec §4.1 for the state machine governing the second vector's mode.
type Linear struct {
	size        uint64
	debugMargin uint64
	isVirtual   bool

	sumFreeSize uint64

	// suballocations holds both backing arrays; firstIdx selects which one
	// is currently "first" so mode transitions that swap the vectors avoid
	// copying data.
	suballocations [2][]linearSuballocation
	firstIdx       int
	mode           secondVectorMode

	// nullItemsFront1st: leading entries of the first vector already freed
	// (lazily dropped from consideration, not yet physically removed).
	nullItemsFront1st int
	// nullItemsMiddle1st: scattered freed entries elsewhere in the first
	// vector; used only to decide when to compact.
	nullItemsMiddle1st int
	// nullItems2nd: freed entries anywhere in the second vector.
	nullItems2nd int
}

// linearCompactionMinEntries: compact when nulls*2 >= live*3 and len > this.
const linearCompactionMinEntries = 32

// NewLinear constructs a Linear metadata instance managing size bytes.
// debugMargin bytes must fit between a new allocation's end and the limit
// it grows toward (block end, start of the first vector for a wrapped ring,
// or the lowest upper-stack entry); consecutive allocations at the end of
// the first vector are still packed back to back. isVirtual marks a
// software-only (no heap) block.
func NewLinear(size, debugMargin uint64, isVirtual bool) (*Linear, error) {
	if size == 0 {
		return nil, invalidArg("size must be nonzero")
	}
	return &Linear{size: size, debugMargin: debugMargin, isVirtual: isVirtual, sumFreeSize: size}, nil
}

func (l *Linear) Size() uint64        { return l.size }
func (l *Linear) SumFreeSize() uint64 { return l.sumFreeSize }
func (l *Linear) IsVirtual() bool     { return l.isVirtual }
func (l *Linear) IsEmpty() bool       { return l.sumFreeSize == l.size }

func (l *Linear) vec1st() []linearSuballocation { return l.suballocations[l.firstIdx] }
func (l *Linear) vec2nd() []linearSuballocation { return l.suballocations[1-l.firstIdx] }

func alignUp(v, alignment uint64) uint64 {
	if alignment <= 1 {
		return v
	}
	return (v + alignment - 1) &^ (alignment - 1)
}

func alignDown(v, alignment uint64) uint64 {
	if alignment <= 1 {
		return v
	}
	return v &^ (alignment - 1)
}

// CreateAllocationRequest plans a Linear placement. See type doc and spec
// §4.1 for the exact state machine.
func (l *Linear) CreateAllocationRequest(size, alignment uint64, upperAddress bool, _ Strategy) (AllocationRequest, error) {
	if size == 0 {
		return AllocationRequest{}, invalidArg("size must be nonzero")
	}
	if alignment == 0 || (alignment&(alignment-1)) != 0 {
		return AllocationRequest{}, invalidArg("alignment must be a power of two")
	}
	total := size + l.debugMargin
	if total > l.size {
		return AllocationRequest{}, outOfMemory("requested size %d exceeds block size %d", size, l.size)
	}

	if upperAddress {
		if l.mode == secondVectorRingBuffer {
			return AllocationRequest{}, invalidArg("cannot mix upper-address allocation with an active ring buffer")
		}
		v2nd := l.vec2nd()
		base := l.size
		if len(v2nd) > 0 {
			base = v2nd[len(v2nd)-1].offset // descending order: back = smallest offset so far
		}
		if total > base {
			return AllocationRequest{}, outOfMemory("no room for upper-address allocation")
		}
		offset := alignDown(base-size, alignment)
		if offset+size+l.debugMargin > base {
			return AllocationRequest{}, outOfMemory("alignment padding overflows available upper space")
		}
		return AllocationRequest{
			Handle:      NewHandle(uintptr(offset + 1)),
			Size:        size,
			AlgoData:    uint64(requestUpperAddress),
			ItemIndex:   -1,
			SumFreeSize: l.sumFreeSize,
			SumItemSize: size,
		}, nil
	}

	// Lower-address: try END_OF_1ST first.
	v1st := l.vec1st()
	base1st := uint64(0)
	if len(v1st) > 0 {
		last := v1st[len(v1st)-1]
		base1st = last.offset + last.size
	}
	offset1st := alignUp(base1st, alignment)
	limit1st := l.limitForEndOf1st()
	if offset1st+size+l.debugMargin <= limit1st {
		return AllocationRequest{
			Handle:      NewHandle(uintptr(offset1st + 1)),
			Size:        size,
			AlgoData:    uint64(requestEndOf1st),
			ItemIndex:   -1,
			SumFreeSize: l.sumFreeSize,
			SumItemSize: size,
		}, nil
	}

	// Fall back to wrapping into the second vector (ring buffer), unless
	// we are already in double-stack mode (mixing disallowed).
	if l.mode == secondVectorDoubleStack {
		return AllocationRequest{}, outOfMemory("no room at end of first vector and ring buffer unavailable in double-stack mode")
	}
	v2nd := l.vec2nd()
	base2nd := uint64(0)
	if len(v2nd) > 0 {
		last := v2nd[len(v2nd)-1]
		base2nd = last.offset + last.size
	}
	offset2nd := alignUp(base2nd, alignment)
	limit2nd := l.size
	if len(v1st) > 0 {
		limit2nd = v1st[0].offset
	}
	if offset2nd+size+l.debugMargin <= limit2nd {
		return AllocationRequest{
			Handle:      NewHandle(uintptr(offset2nd + 1)),
			Size:        size,
			AlgoData:    uint64(requestEndOf2nd),
			ItemIndex:   -1,
			SumFreeSize: l.sumFreeSize,
			SumItemSize: size,
		}, nil
	}

	return AllocationRequest{}, outOfMemory("no space available for size %d", size)
}

// limitForEndOf1st computes the byte offset the first vector must not cross,
// derived from whatever is currently parked in the second vector.
func (l *Linear) limitForEndOf1st() uint64 {
	v2nd := l.vec2nd()
	switch l.mode {
	case secondVectorRingBuffer:
		if len(v2nd) > 0 {
			return v2nd[0].offset
		}
	case secondVectorDoubleStack:
		if len(v2nd) > 0 {
			return v2nd[len(v2nd)-1].offset
		}
	}
	return l.size
}

// Alloc commits a request produced by CreateAllocationRequest.
func (l *Linear) Alloc(req AllocationRequest, size uint64, userData any) (Handle, error) {
	offset := uint64(req.Handle.Payload() - 1)
	item := linearSuballocation{offset: offset, size: size, userData: userData, kind: KindUsed}

	switch requestKind(req.AlgoData) {
	case requestEndOf1st:
		l.suballocations[l.firstIdx] = append(l.suballocations[l.firstIdx], item)
	case requestEndOf2nd:
		l.suballocations[1-l.firstIdx] = append(l.suballocations[1-l.firstIdx], item)
		if l.mode == secondVectorEmpty {
			l.mode = secondVectorRingBuffer
		}
	case requestUpperAddress:
		// Keep descending order: new item has the smallest offset so far,
		// so it goes at the back.
		l.suballocations[1-l.firstIdx] = append(l.suballocations[1-l.firstIdx], item)
		if l.mode == secondVectorEmpty {
			l.mode = secondVectorDoubleStack
		}
	default:
		panic("metadata: unknown linear request kind")
	}

	l.sumFreeSize -= size
	return req.Handle, nil
}

// findIn searches a vector for the live entry at offset. ascending selects
// the comparator (true: ascending offsets, false: descending).
func findIn(v []linearSuballocation, offset uint64, ascending bool) int {
	if ascending {
		idx := sort.Search(len(v), func(i int) bool { return v[i].offset >= offset })
		if idx < len(v) && v[idx].offset == offset {
			return idx
		}
		return -1
	}
	idx := sort.Search(len(v), func(i int) bool { return v[i].offset <= offset })
	if idx < len(v) && v[idx].offset == offset {
		return idx
	}
	return -1
}

// Free releases the suballocation at the encoded offset.
func (l *Linear) Free(h Handle) error {
	if !h.IsValid() {
		return invalidArg("zero handle")
	}
	offset := uint64(h.Payload() - 1)

	v1st := l.vec1st()
	if idx := findIn(v1st, offset, true); idx >= 0 {
		l.sumFreeSize += v1st[idx].size
		v1st[idx].kind = KindFree
		v1st[idx].userData = nil
		if idx == l.nullItemsFront1st {
			l.nullItemsFront1st++
		} else {
			l.nullItemsMiddle1st++
		}
		l.cleanupAfterFree()
		return nil
	}

	ascending := l.mode == secondVectorRingBuffer
	v2nd := l.vec2nd()
	if idx := findIn(v2nd, offset, ascending); idx >= 0 {
		l.sumFreeSize += v2nd[idx].size
		v2nd[idx].kind = KindFree
		v2nd[idx].userData = nil
		l.nullItems2nd++
		l.cleanupAfterFree()
		return nil
	}

	return invalidArg("no suballocation at offset %d", offset)
}

// cleanupAfterFree pops trailing free items, resets to empty when fully
// drained, compacts the first vector when fragmented, and swaps vectors
// when the first vector drains into an active ring buffer.
func (l *Linear) cleanupAfterFree() {
	// Pop from back of first vector while free.
	for {
		v1st := l.vec1st()
		n := len(v1st)
		if n == 0 || v1st[n-1].kind != KindFree {
			break
		}
		l.suballocations[l.firstIdx] = v1st[:n-1]
		if n-1 < l.nullItemsFront1st {
			l.nullItemsFront1st--
		} else {
			l.nullItemsMiddle1st--
		}
	}
	// Pop from back of second vector while free.
	for {
		v2nd := l.vec2nd()
		n := len(v2nd)
		if n == 0 || v2nd[n-1].kind != KindFree {
			break
		}
		l.suballocations[1-l.firstIdx] = v2nd[:n-1]
		l.nullItems2nd--
	}
	// Ring buffer: also drop free items from the front, since the 2nd
	// vector's front boundary is what the 1st vector's END_OF_1ST check
	// uses as its limit.
	if l.mode == secondVectorRingBuffer {
		for {
			v2nd := l.vec2nd()
			if len(v2nd) == 0 || v2nd[0].kind != KindFree {
				break
			}
			l.suballocations[1-l.firstIdx] = v2nd[1:]
			l.nullItems2nd--
		}
	}

	if l.IsEmpty() {
		l.reset()
		return
	}

	// Drain leading nulls in the first vector.
	v1st := l.vec1st()
	for l.nullItemsFront1st < len(v1st) && v1st[l.nullItemsFront1st].kind == KindFree {
		l.nullItemsFront1st++
	}
	if l.nullItemsFront1st > 0 {
		l.suballocations[l.firstIdx] = v1st[l.nullItemsFront1st:]
		l.nullItemsFront1st = 0
	}

	// If the first vector fully drained and the second is a ring buffer,
	// swap: the ring's contents become the new first vector.
	if len(l.vec1st()) == 0 && l.mode == secondVectorRingBuffer {
		l.firstIdx = 1 - l.firstIdx
		l.mode = secondVectorEmpty
		l.nullItems2nd = 0
		v1st = l.vec1st()
		for l.nullItemsFront1st < len(v1st) && v1st[l.nullItemsFront1st].kind == KindFree {
			l.nullItemsFront1st++
		}
		if l.nullItemsFront1st > 0 {
			l.suballocations[l.firstIdx] = v1st[l.nullItemsFront1st:]
			l.nullItemsFront1st = 0
		}
	}

	l.maybeCompact()
}

func (l *Linear) maybeCompact() {
	v1st := l.vec1st()
	if len(v1st) <= linearCompactionMinEntries {
		return
	}
	nulls := l.nullItemsMiddle1st
	live := len(v1st) - nulls
	if nulls*2 < live*3 {
		return
	}
	compacted := make([]linearSuballocation, 0, live)
	for _, it := range v1st {
		if it.kind == KindUsed {
			compacted = append(compacted, it)
		}
	}
	l.suballocations[l.firstIdx] = compacted
	l.nullItemsMiddle1st = 0
	l.nullItemsFront1st = 0
}

func (l *Linear) reset() {
	l.suballocations[0] = nil
	l.suballocations[1] = nil
	l.firstIdx = 0
	l.mode = secondVectorEmpty
	l.nullItemsFront1st = 0
	l.nullItemsMiddle1st = 0
	l.nullItems2nd = 0
	l.sumFreeSize = l.size
}

func (l *Linear) locate(h Handle) (*linearSuballocation, bool) {
	if !h.IsValid() {
		return nil, false
	}
	offset := uint64(h.Payload() - 1)
	v1st := l.vec1st()
	if idx := findIn(v1st, offset, true); idx >= 0 {
		return &v1st[idx], true
	}
	ascending := l.mode == secondVectorRingBuffer
	v2nd := l.vec2nd()
	if idx := findIn(v2nd, offset, ascending); idx >= 0 {
		return &v2nd[idx], true
	}
	return nil, false
}

func (l *Linear) GetAllocationOffset(h Handle) (uint64, error) {
	item, ok := l.locate(h)
	if !ok {
		return 0, invalidArg("unknown handle")
	}
	return item.offset, nil
}

func (l *Linear) GetAllocationInfo(h Handle) (AllocationInfo, error) {
	item, ok := l.locate(h)
	if !ok {
		return AllocationInfo{}, invalidArg("unknown handle")
	}
	return AllocationInfo{Handle: h, Offset: item.offset, Size: item.size, UserData: item.userData}, nil
}

func (l *Linear) SetAllocationUserData(h Handle, userData any) error {
	item, ok := l.locate(h)
	if !ok {
		return invalidArg("unknown handle")
	}
	item.userData = userData
	return nil
}

// Linear blocks are not defragmentable; iteration is unsupported.
func (l *Linear) GetAllocationListBegin() (Handle, error)     { return NoHandle, ErrUnsupported }
func (l *Linear) GetNextAllocation(Handle) (Handle, error)     { return NoHandle, ErrUnsupported }
func (l *Linear) GetNextFreeRegionSize(Handle) (uint64, error) { return 0, ErrUnsupported }
func (l *Linear) FreeRegionsCount() (int, error)               { return 0, ErrUnsupported }

func (l *Linear) CalculateDetailedStatistics() DetailedStatistics {
	stats := NewDetailedStatistics()
	stats.BlockCount = 1
	stats.BlockBytes = l.size
	walk := func(v []linearSuballocation) {
		for _, it := range v {
			if it.kind == KindUsed {
				stats.AddAllocation(it.size)
			}
		}
	}
	walk(l.vec1st())
	walk(l.vec2nd())
	if l.sumFreeSize > 0 {
		stats.AddUnusedRange(l.sumFreeSize)
	}
	return stats
}

// Validate walks every suballocation, recomputes sums, and verifies the
// ring/stack structural links.
func (l *Linear) Validate() error {
	var usedSum, freeSum uint64
	checkOrdered := func(v []linearSuballocation, ascending bool) error {
		for i := 1; i < len(v); i++ {
			if ascending && v[i-1].offset > v[i].offset {
				return ErrValidationFailed
			}
			if !ascending && v[i-1].offset < v[i].offset {
				return ErrValidationFailed
			}
		}
		for _, it := range v {
			if it.kind == KindUsed {
				usedSum += it.size
			} else {
				freeSum += it.size
			}
		}
		return nil
	}
	if err := checkOrdered(l.vec1st(), true); err != nil {
		return err
	}
	ascending2nd := l.mode == secondVectorRingBuffer
	if l.mode == secondVectorEmpty {
		ascending2nd = true
	}
	if err := checkOrdered(l.vec2nd(), ascending2nd); err != nil {
		return err
	}
	_ = freeSum
	if usedSum+l.sumFreeSize != l.size {
		return ErrValidationFailed
	}
	return nil
}

func (l *Linear) Clear() { l.reset() }

var _ Metadata = (*Linear)(nil)
