package metadata

import "math/bits"

const (
	tlsfSLIBits        = 5  // SECOND_LEVEL_INDEX
	tlsfMemoryClassShift = 7 // MEMORY_CLASS_SHIFT
	tlsfSmallThreshold = 256
	tlsfSLICount       = 1 << tlsfSLIBits // 32
)

// tlsfBlock is one physical region of the heap: either a live allocation, a
// free region tracked in the segregated free list, or (for the reserved
// index t.nullIdx) the sentinel absorbing the unused tail.
//
// Blocks live in an index-addressed arena rather than behind raw pointers so
// that Handle stays a plain integer (see design notes: iterators must
// survive arena growth, which rules out holding *tlsfBlock across calls).
type tlsfBlock struct {
	offset uint64
	size   uint64
	free   bool
	userData any

	prevPhysical, nextPhysical int32
	prevFree, nextFree         int32
}

const noIndex int32 = -1

// TLSF is a two-level segregated free-list block-metadata allocator: O(1)
// allocation and free with good fragmentation behavior and full support for
// defragmentation iteration. See spec §4.2.
type TLSF struct {
	size        uint64
	debugMargin uint64
	isVirtual   bool

	sumFreeSize    uint64
	allocCount     int
	freeBlockCount int // excludes the null block
	blockCount     int // includes the null block

	blocks    []tlsfBlock
	freeSlots []int32

	firstIdx int32 // lowest-offset block
	nullIdx  int32

	memoryClassCount int
	heads            []int32 // len == memoryClassCount*tlsfSLICount
	topBitmap        uint32
	classBitmap      []uint32
}

// NewTLSF constructs a TLSF metadata instance managing size bytes.
func NewTLSF(size, debugMargin uint64, isVirtual bool) (*TLSF, error) {
	if size == 0 {
		return nil, invalidArg("size must be nonzero")
	}
	class, _ := tlsfClassify(size, isVirtual)
	classCount := class + 2

	t := &TLSF{
		size:             size,
		debugMargin:      debugMargin,
		isVirtual:        isVirtual,
		sumFreeSize:      size,
		memoryClassCount: classCount,
		heads:            make([]int32, classCount*tlsfSLICount),
		classBitmap:      make([]uint32, classCount),
	}
	for i := range t.heads {
		t.heads[i] = noIndex
	}
	t.nullIdx = 0
	t.blocks = []tlsfBlock{{
		offset:       0,
		size:         size,
		free:         true,
		prevPhysical: noIndex,
		nextPhysical: noIndex,
		prevFree:     noIndex,
		nextFree:     noIndex,
	}}
	t.firstIdx = t.nullIdx
	t.blockCount = 1
	return t, nil
}

func (t *TLSF) Size() uint64        { return t.size }
func (t *TLSF) SumFreeSize() uint64 { return t.sumFreeSize }
func (t *TLSF) IsVirtual() bool     { return t.isVirtual }
func (t *TLSF) IsEmpty() bool       { return t.allocCount == 0 }

func idxHandle(idx int32) Handle     { return NewHandle(uintptr(idx + 1)) }
func handleIdx(h Handle) int32       { return int32(h.Payload()) - 1 }

// tlsfClassify computes (memoryClass, secondLevelIndex) for size, per spec
// §4.2: class 0 covers sizes <= 256 with a finer division (8 or 64 bytes
// depending on isVirtual); higher classes use the top tlsfSLIBits below the
// MSB as the second-level index.
func tlsfClassify(size uint64, isVirtual bool) (class, sli int) {
	if size <= tlsfSmallThreshold {
		if size == 0 {
			size = 1
		}
		div := uint64(64)
		if isVirtual {
			div = 8
		}
		sli = int((size - 1) / div)
		if sli >= tlsfSLICount {
			sli = tlsfSLICount - 1
		}
		return 0, sli
	}
	msb := bits.Len64(size) - 1
	class = msb - tlsfMemoryClassShift
	shift := msb - tlsfSLIBits
	sli = int((size >> uint(shift)) & (tlsfSLICount - 1))
	return class, sli
}

// tlsfBucketMinSize is the (approximate) inverse of tlsfClassify: the
// smallest size that would classify into (class, sli). Used only to find
// the "next larger bucket" boundary; does not need to be a perfect inverse.
func tlsfBucketMinSize(class, sli int, isVirtual bool) uint64 {
	if class == 0 {
		div := uint64(64)
		if isVirtual {
			div = 8
		}
		return uint64(sli)*div + 1
	}
	msb := class + tlsfMemoryClassShift
	base := uint64(1) << uint(msb)
	step := base >> tlsfSLIBits
	return base + uint64(sli)*step
}

func (t *TLSF) sizeForNextList(size uint64) uint64 {
	class, sli := tlsfClassify(size, t.isVirtual)
	sli++
	if sli >= tlsfSLICount {
		class++
		sli = 0
	}
	if class >= t.memoryClassCount {
		class = t.memoryClassCount - 1
		sli = tlsfSLICount - 1
	}
	return tlsfBucketMinSize(class, sli, t.isVirtual)
}

func (t *TLSF) setBit(class, sli int) {
	t.classBitmap[class] |= 1 << uint(sli)
	t.topBitmap |= 1 << uint(class)
}

func (t *TLSF) clearBit(class, sli int) {
	t.classBitmap[class] &^= 1 << uint(sli)
	if t.classBitmap[class] == 0 {
		t.topBitmap &^= 1 << uint(class)
	}
}

// findFreeFrom returns the first non-empty (class, sli) at or after the
// given starting point.
func (t *TLSF) findFreeFrom(startClass, startSli int) (class, sli int, ok bool) {
	if startClass < t.memoryClassCount {
		mask := t.classBitmap[startClass] &^ ((uint32(1) << uint(startSli)) - 1)
		if mask != 0 {
			return startClass, bits.TrailingZeros32(mask), true
		}
	}
	if startClass+1 >= 32 {
		return 0, 0, false
	}
	topMask := t.topBitmap &^ ((uint32(1) << uint(startClass+1)) - 1)
	if topMask == 0 {
		return 0, 0, false
	}
	class = bits.TrailingZeros32(topMask)
	sli = bits.TrailingZeros32(t.classBitmap[class])
	return class, sli, true
}

func (t *TLSF) headIndex(class, sli int) int32 { return t.heads[class*tlsfSLICount+sli] }

func (t *TLSF) newBlockSlot() int32 {
	if n := len(t.freeSlots); n > 0 {
		idx := t.freeSlots[n-1]
		t.freeSlots = t.freeSlots[:n-1]
		return idx
	}
	t.blocks = append(t.blocks, tlsfBlock{})
	return int32(len(t.blocks) - 1)
}

func (t *TLSF) insertFree(idx int32) {
	b := &t.blocks[idx]
	b.free = true
	class, sli := tlsfClassify(b.size, t.isVirtual)
	head := t.heads[class*tlsfSLICount+sli]
	b.prevFree = noIndex
	b.nextFree = head
	if head != noIndex {
		t.blocks[head].prevFree = idx
	}
	t.heads[class*tlsfSLICount+sli] = idx
	t.setBit(class, sli)
}

func (t *TLSF) removeFreeFromList(idx int32) {
	b := &t.blocks[idx]
	class, sli := tlsfClassify(b.size, t.isVirtual)
	if b.prevFree != noIndex {
		t.blocks[b.prevFree].nextFree = b.nextFree
	} else {
		t.heads[class*tlsfSLICount+sli] = b.nextFree
		if b.nextFree == noIndex {
			t.clearBit(class, sli)
		}
	}
	if b.nextFree != noIndex {
		t.blocks[b.nextFree].prevFree = b.prevFree
	}
	b.prevFree, b.nextFree = noIndex, noIndex
}

func (t *TLSF) unlinkPhysical(idx int32) {
	b := t.blocks[idx]
	if b.prevPhysical != noIndex {
		t.blocks[b.prevPhysical].nextPhysical = b.nextPhysical
	} else {
		t.firstIdx = b.nextPhysical
	}
	if b.nextPhysical != noIndex {
		t.blocks[b.nextPhysical].prevPhysical = b.prevPhysical
	}
}

func (t *TLSF) recycle(idx int32) {
	t.freeSlots = append(t.freeSlots, idx)
	t.blockCount--
}

// checkCandidate tests whether block idx can host size bytes at the given
// alignment, accounting for debugMargin. On success it bumps the block to
// the head of its free list (a cheap "recently probed" heuristic) and
// returns the resulting request.
func (t *TLSF) checkCandidate(idx int32, size, alignment uint64) (AllocationRequest, bool) {
	b := t.blocks[idx]
	alignedOffset := alignUp(b.offset, alignment)
	waste := alignedOffset - b.offset
	if waste+size+t.debugMargin > b.size {
		return AllocationRequest{}, false
	}
	if idx != t.nullIdx {
		t.removeFreeFromList(idx)
		t.insertFree(idx)
	}
	return AllocationRequest{
		Handle:      idxHandle(idx),
		Size:        size,
		AlgoData:    alignedOffset,
		ItemIndex:   -1,
		SumFreeSize: t.sumFreeSize,
		SumItemSize: b.size,
	}, true
}

func (t *TLSF) checkNullBlock(size, alignment uint64) (AllocationRequest, bool) {
	return t.checkCandidate(t.nullIdx, size, alignment)
}

// walkBucket scans every block chained at (class, sli) looking for a fit.
func (t *TLSF) walkBucket(class, sli int, size, alignment uint64) (AllocationRequest, bool) {
	idx := t.headIndex(class, sli)
	for idx != noIndex {
		if req, ok := t.checkCandidate(idx, size, alignment); ok {
			return req, true
		}
		idx = t.blocks[idx].nextFree
	}
	return AllocationRequest{}, false
}

// scanFrom walks every non-empty list at or after (class, sli) in ascending
// bucket order until a fit is found.
func (t *TLSF) scanFrom(class, sli int, size, alignment uint64) (AllocationRequest, bool) {
	for {
		c, s, ok := t.findFreeFrom(class, sli)
		if !ok {
			return AllocationRequest{}, false
		}
		if req, found := t.walkBucket(c, s, size, alignment); found {
			return req, true
		}
		sli = s + 1
		class = c
		if sli >= tlsfSLICount {
			class++
			sli = 0
		}
	}
}

// scanPhysicalByOffset implements the MinOffset strategy: every free block
// (including the null block) in ascending physical-offset order.
func (t *TLSF) scanPhysicalByOffset(size, alignment uint64) (AllocationRequest, bool) {
	idx := t.firstIdx
	for idx != noIndex {
		if t.blocks[idx].free {
			if req, ok := t.checkCandidate(idx, size, alignment); ok {
				return req, true
			}
		}
		idx = t.blocks[idx].nextPhysical
	}
	return AllocationRequest{}, false
}

// CreateAllocationRequest plans a TLSF placement. Upper-address allocation
// is unsupported by this algorithm.
func (t *TLSF) CreateAllocationRequest(size, alignment uint64, upperAddress bool, strategy Strategy) (AllocationRequest, error) {
	if upperAddress {
		return AllocationRequest{}, invalidArg("TLSF does not support upper-address allocation")
	}
	if size == 0 {
		return AllocationRequest{}, invalidArg("size must be nonzero")
	}
	if alignment == 0 || (alignment&(alignment-1)) != 0 {
		return AllocationRequest{}, invalidArg("alignment must be a power of two")
	}
	if size+t.debugMargin > t.sumFreeSize {
		return AllocationRequest{}, outOfMemory("requested %d exceeds free size %d", size, t.sumFreeSize)
	}

	nextSize := t.sizeForNextList(size)
	nextClass, nextSli := tlsfClassify(nextSize, t.isVirtual)
	bestClass, bestSli := tlsfClassify(size, t.isVirtual)

	switch {
	case strategy&StrategyMinTime != 0:
		if head := t.headIndex(nextClass, nextSli); head != noIndex {
			if req, ok := t.checkCandidate(head, size, alignment); ok {
				return req, nil
			}
		}
		if req, ok := t.checkNullBlock(size, alignment); ok {
			return req, nil
		}
		if req, ok := t.walkBucket(nextClass, nextSli, size, alignment); ok {
			return req, nil
		}
		if req, ok := t.scanFrom(bestClass, bestSli, size, alignment); ok {
			return req, nil
		}

	case strategy&StrategyMinMemory != 0:
		if req, ok := t.scanFrom(bestClass, bestSli, size, alignment); ok {
			return req, nil
		}
		if req, ok := t.checkNullBlock(size, alignment); ok {
			return req, nil
		}
		if req, ok := t.scanFrom(nextClass, nextSli, size, alignment); ok {
			return req, nil
		}

	case strategy&StrategyMinOffset != 0:
		if req, ok := t.scanPhysicalByOffset(size, alignment); ok {
			return req, nil
		}

	default:
		if req, ok := t.scanFrom(nextClass, nextSli, size, alignment); ok {
			return req, nil
		}
		if req, ok := t.checkNullBlock(size, alignment); ok {
			return req, nil
		}
		if req, ok := t.scanFrom(bestClass, bestSli, size, alignment); ok {
			return req, nil
		}
	}

	// Fallback: exhaustive scan of every list at or above the best-fit
	// class, in case bucket math missed a fit due to the approximate
	// bucket inverse.
	if req, ok := t.scanFrom(bestClass, bestSli, size, alignment); ok {
		return req, nil
	}
	return AllocationRequest{}, outOfMemory("no block fits size %d alignment %d", size, alignment)
}

// Alloc commits a request produced by CreateAllocationRequest, splitting the
// candidate block into an optional leading free remainder, the allocation,
// and an optional trailing free remainder (or shrinking the null block).
func (t *TLSF) Alloc(req AllocationRequest, size uint64, userData any) (Handle, error) {
	candidateIdx := handleIdx(req.Handle)
	candidate := t.blocks[candidateIdx]
	alignedOffset := req.AlgoData
	leadingPadding := alignedOffset - candidate.offset
	usedSpan := leadingPadding + size + t.debugMargin
	trailingSize := candidate.size - usedSpan

	isNull := candidateIdx == t.nullIdx
	if !isNull {
		t.removeFreeFromList(candidateIdx)
		t.freeBlockCount--
	}

	prevOfCandidate := candidate.prevPhysical

	if leadingPadding > 0 {
		merged := false
		if prevOfCandidate != noIndex && t.blocks[prevOfCandidate].free && prevOfCandidate != t.nullIdx {
			oldSize := t.blocks[prevOfCandidate].size
			newSize := oldSize + leadingPadding
			oc, os := tlsfClassify(oldSize, t.isVirtual)
			nc, ns := tlsfClassify(newSize, t.isVirtual)
			if oc == nc && os == ns {
				t.blocks[prevOfCandidate].size = newSize
				merged = true
			}
		}
		if !merged {
			newIdx := t.newBlockSlot()
			t.blocks[newIdx] = tlsfBlock{
				offset:       candidate.offset,
				size:         leadingPadding,
				free:         true,
				prevPhysical: prevOfCandidate,
				nextPhysical: candidateIdx,
				prevFree:     noIndex,
				nextFree:     noIndex,
			}
			if prevOfCandidate != noIndex {
				t.blocks[prevOfCandidate].nextPhysical = newIdx
			} else {
				t.firstIdx = newIdx
			}
			t.blocks[candidateIdx].prevPhysical = newIdx
			t.insertFree(newIdx)
			t.blockCount++
			t.freeBlockCount++
			prevOfCandidate = newIdx
		}
	}

	allocIdx := t.newBlockSlot()
	t.blocks[allocIdx] = tlsfBlock{
		offset:       alignedOffset,
		size:         size,
		free:         false,
		userData:     userData,
		prevPhysical: prevOfCandidate,
		nextPhysical: candidateIdx,
		prevFree:     noIndex,
		nextFree:     noIndex,
	}
	if prevOfCandidate != noIndex {
		t.blocks[prevOfCandidate].nextPhysical = allocIdx
	} else {
		t.firstIdx = allocIdx
	}
	t.blocks[candidateIdx].prevPhysical = allocIdx
	t.blockCount++
	t.allocCount++

	t.blocks[candidateIdx].offset = alignedOffset + size + t.debugMargin
	t.blocks[candidateIdx].size = trailingSize

	if isNull {
		// Null block persists (possibly with size 0) as the tail sentinel.
	} else if trailingSize == 0 {
		t.unlinkPhysical(candidateIdx)
		t.recycle(candidateIdx)
	} else {
		t.insertFree(candidateIdx)
		t.freeBlockCount++
	}

	t.sumFreeSize -= size
	return idxHandle(allocIdx), nil
}

// Free releases a suballocation, merging with physically adjacent free
// blocks (including absorption into the null block on the high side).
func (t *TLSF) Free(h Handle) error {
	idx := handleIdx(h)
	if idx < 0 || int(idx) >= len(t.blocks) {
		return invalidArg("unknown handle")
	}
	b := &t.blocks[idx]
	if b.free {
		return invalidArg("double free")
	}

	t.sumFreeSize += b.size
	t.allocCount--
	b.free = true
	b.userData = nil

	cur := idx
	if nxt := t.blocks[cur].nextPhysical; nxt != noIndex {
		if nxt == t.nullIdx {
			nb := &t.blocks[t.nullIdx]
			nb.offset = t.blocks[cur].offset
			nb.size += t.blocks[cur].size
			t.unlinkPhysical(cur)
			t.recycle(cur)
			cur = t.nullIdx
		} else if t.blocks[nxt].free {
			t.removeFreeFromList(nxt)
			t.freeBlockCount--
			t.blocks[cur].size += t.blocks[nxt].size
			t.unlinkPhysical(nxt)
			t.recycle(nxt)
		}
	}

	if prv := t.blocks[cur].prevPhysical; prv != noIndex && t.blocks[prv].free && prv != t.nullIdx {
		t.removeFreeFromList(prv)
		t.freeBlockCount--
		if cur == t.nullIdx {
			// Grow the null block downward so it stays the last block.
			t.blocks[cur].offset = t.blocks[prv].offset
			t.blocks[cur].size += t.blocks[prv].size
			t.unlinkPhysical(prv)
			t.recycle(prv)
		} else {
			t.blocks[prv].size += t.blocks[cur].size
			t.unlinkPhysical(cur)
			t.recycle(cur)
			cur = prv
		}
	}

	if cur != t.nullIdx {
		t.insertFree(cur)
		t.freeBlockCount++
	}
	return nil
}

func (t *TLSF) GetAllocationOffset(h Handle) (uint64, error) {
	idx := handleIdx(h)
	if idx < 0 || int(idx) >= len(t.blocks) || t.blocks[idx].free {
		return 0, invalidArg("unknown handle")
	}
	return t.blocks[idx].offset, nil
}

func (t *TLSF) GetAllocationInfo(h Handle) (AllocationInfo, error) {
	idx := handleIdx(h)
	if idx < 0 || int(idx) >= len(t.blocks) || t.blocks[idx].free {
		return AllocationInfo{}, invalidArg("unknown handle")
	}
	b := t.blocks[idx]
	return AllocationInfo{Handle: h, Offset: b.offset, Size: b.size, UserData: b.userData}, nil
}

func (t *TLSF) SetAllocationUserData(h Handle, userData any) error {
	idx := handleIdx(h)
	if idx < 0 || int(idx) >= len(t.blocks) || t.blocks[idx].free {
		return invalidArg("unknown handle")
	}
	t.blocks[idx].userData = userData
	return nil
}

// GetAllocationListBegin starts a reverse physical walk from the null block,
// skipping free regions, matching the defragmentation driver's need to
// visit the highest-offset allocation first.
func (t *TLSF) GetAllocationListBegin() (Handle, error) {
	idx := t.blocks[t.nullIdx].prevPhysical
	for idx != noIndex && t.blocks[idx].free {
		idx = t.blocks[idx].prevPhysical
	}
	if idx == noIndex {
		return NoHandle, nil
	}
	return idxHandle(idx), nil
}

func (t *TLSF) GetNextAllocation(prev Handle) (Handle, error) {
	idx := handleIdx(prev)
	if idx < 0 || int(idx) >= len(t.blocks) {
		return NoHandle, invalidArg("unknown handle")
	}
	idx = t.blocks[idx].prevPhysical
	for idx != noIndex && t.blocks[idx].free {
		idx = t.blocks[idx].prevPhysical
	}
	if idx == noIndex {
		return NoHandle, nil
	}
	return idxHandle(idx), nil
}

func (t *TLSF) GetNextFreeRegionSize(h Handle) (uint64, error) {
	idx := handleIdx(h)
	if idx < 0 || int(idx) >= len(t.blocks) {
		return 0, invalidArg("unknown handle")
	}
	nxt := t.blocks[idx].nextPhysical
	if nxt == noIndex || !t.blocks[nxt].free {
		return 0, nil
	}
	return t.blocks[nxt].size, nil
}

func (t *TLSF) FreeRegionsCount() (int, error) {
	n := t.freeBlockCount
	if t.blocks[t.nullIdx].size > 0 {
		n++
	}
	return n, nil
}

func (t *TLSF) CalculateDetailedStatistics() DetailedStatistics {
	stats := NewDetailedStatistics()
	stats.BlockCount = 1
	stats.BlockBytes = t.size
	idx := t.firstIdx
	for idx != noIndex {
		b := t.blocks[idx]
		if idx == t.nullIdx {
			if b.size > 0 {
				stats.AddUnusedRange(b.size)
			}
		} else if b.free {
			stats.AddUnusedRange(b.size)
		} else {
			stats.AddAllocation(b.size)
		}
		idx = b.nextPhysical
	}
	return stats
}

// Validate exhaustively recomputes sums and structural links.
func (t *TLSF) Validate() error {
	var usedSum, freeSum uint64
	var allocSeen, freeSeen int
	idx := t.firstIdx
	var prevOffset uint64
	first := true
	for idx != noIndex {
		b := t.blocks[idx]
		if !first && b.offset != prevOffset {
			return ErrValidationFailed
		}
		first = false
		prevOffset = b.offset + b.size
		if idx == t.nullIdx {
			if b.nextPhysical != noIndex {
				return ErrValidationFailed
			}
			freeSum += b.size
		} else if b.free {
			freeSum += b.size
			freeSeen++
		} else {
			usedSum += b.size
			allocSeen++
		}
		idx = b.nextPhysical
	}
	if usedSum+freeSum != t.size {
		return ErrValidationFailed
	}
	if freeSum != t.sumFreeSize {
		return ErrValidationFailed
	}
	if allocSeen != t.allocCount || freeSeen != t.freeBlockCount {
		return ErrValidationFailed
	}
	if t.allocCount+t.freeBlockCount+1 != t.blockCount {
		return ErrValidationFailed
	}

	// Every free list is a well-formed chain whose head has a null prevFree.
	for class := 0; class < t.memoryClassCount; class++ {
		for sli := 0; sli < tlsfSLICount; sli++ {
			head := t.heads[class*tlsfSLICount+sli]
			bitSet := t.classBitmap[class]&(1<<uint(sli)) != 0
			if head == noIndex {
				if bitSet {
					return ErrValidationFailed
				}
				continue
			}
			if !bitSet {
				return ErrValidationFailed
			}
			if t.blocks[head].prevFree != noIndex {
				return ErrValidationFailed
			}
			for n := head; n != noIndex; n = t.blocks[n].nextFree {
				if !t.blocks[n].free || n == t.nullIdx {
					return ErrValidationFailed
				}
				c, s := tlsfClassify(t.blocks[n].size, t.isVirtual)
				if c != class || s != sli {
					return ErrValidationFailed
				}
			}
		}
	}
	return nil
}

func (t *TLSF) Clear() {
	size, margin, virt := t.size, t.debugMargin, t.isVirtual
	fresh, _ := NewTLSF(size, margin, virt)
	*t = *fresh
}

var _ Metadata = (*TLSF)(nil)
