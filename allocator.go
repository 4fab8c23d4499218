package vram

import (
	"github.com/gogpu/vram/container"
	"github.com/gogpu/vram/metadata"
)

// AllocatorFlags toggles allocator-wide behavior.
type AllocatorFlags uint32

const (
	// AllocatorFlagAlwaysCommitted forces every allocation through a
	// dedicated heap, bypassing placement entirely.
	AllocatorFlagAlwaysCommitted AllocatorFlags = 1 << iota
	// AllocatorFlagSingleThreaded replaces the allocator's reader/writer
	// locks with no-op ones (see mutex.go); the Allocation pool
	// (container.PoolAllocator) keeps its own mutex regardless. The caller
	// must then guarantee external synchronization.
	AllocatorFlagSingleThreaded
	// AllocatorFlagPreferSmallBuffersCommitted makes small buffer requests
	// (≤ 32 KiB) default to committed allocation.
	AllocatorFlagPreferSmallBuffersCommitted
)

const smallBufferThreshold = 32 << 10

// AllocatorDesc configures CreateAllocator.
type AllocatorDesc struct {
	Device             Device
	Flags              AllocatorFlags
	PreferredBlockSize uint64
	Callbacks          *AllocationCallbacks
}

// AllocationFlags modifies one CreateResource/AllocateMemory call.
type AllocationFlags uint32

const (
	// AllocationFlagCommitted forces this single allocation to be
	// committed regardless of the heuristic.
	AllocationFlagCommitted AllocationFlags = 1 << iota
	// AllocationFlagNeverAllocate disables the committed fallback: if
	// placement fails, the call fails rather than falling back.
	AllocationFlagNeverAllocate
	// AllocationFlagWithinBudget fails the request rather than exceeding
	// the last known budget snapshot.
	AllocationFlagWithinBudget
	// AllocationFlagUpperAddress places the suballocation at the high end
	// of its block, per spec §6. Only meaningful against a Linear-
	// algorithm pool; rejected with ErrInvalidArgument against TLSF.
	AllocationFlagUpperAddress
	// AllocationFlagCanAlias marks the resource as eligible for aliasing
	// with other placed resources sharing the same heap range. This core
	// neither validates alias compatibility nor reads this flag; setting it
	// changes neither placement nor the calls made on the Device.
	AllocationFlagCanAlias
)

// AllocationStrategyMask isolates the placement-strategy sub-field packed
// into AllocationFlags, bit-exact with spec §6's "mask 0xF0000".
const AllocationStrategyMask AllocationFlags = 0xF0000

const (
	// AllocationFlagStrategyMinTime favors the first suballocation found,
	// minimizing allocation time at the cost of fragmentation.
	AllocationFlagStrategyMinTime AllocationFlags = 0x00010000
	// AllocationFlagStrategyMinMemory favors the best-fitting free region,
	// minimizing wasted space at the cost of allocation time.
	AllocationFlagStrategyMinMemory AllocationFlags = 0x00020000
	// AllocationFlagStrategyMinOffset favors the lowest-offset free
	// region, used by the defragmentation pass's ReallocLowerOffset.
	AllocationFlagStrategyMinOffset AllocationFlags = 0x00040000
)

// strategy maps the packed AllocationStrategyMask bits of f onto the
// metadata package's internal Strategy encoding.
func (f AllocationFlags) strategy() metadata.Strategy {
	switch f & AllocationStrategyMask {
	case AllocationFlagStrategyMinTime:
		return metadata.StrategyMinTime
	case AllocationFlagStrategyMinMemory:
		return metadata.StrategyMinMemory
	case AllocationFlagStrategyMinOffset:
		return metadata.StrategyMinOffset
	default:
		return metadata.StrategyDefault
	}
}

// AllocationDesc is the per-call policy envelope (spec's allocDesc).
type AllocationDesc struct {
	HeapType HeapType
	Flags    AllocationFlags
	Pool     *Pool // optional: use this custom pool instead of a default one
	UserData any
	Name     string
}

// Allocator is the top-level orchestrator: default pools, committed lists,
// user pools, budget, statistics, and the pool-backed Allocation factory
// (spec §4.5).
type Allocator struct {
	device    Device
	callbacks *AllocationCallbacks
	features  FeatureInfo

	preferredBlockSize uint64
	singleThreaded     bool
	alwaysCommitted    bool
	preferSmallBuffersCommitted bool

	allocationPool *container.PoolAllocator[Allocation]

	// defaultPools[heapType] holds either one block vector (unified
	// resource heap tier) or three, indexed by ResourceClass.
	defaultPools [4][]*blockVector
	committed    [4]*committedList

	poolsMu   rwLocker
	userPools [4]*Pool // intrusive linked-list head per heap type

	budget *budgetTracker

	frameIndex uint64
}

func heapTypeSegmentGroup(ht HeapType) MemorySegmentGroup {
	if ht == HeapTypeUpload || ht == HeapTypeReadback {
		return MemorySegmentNonLocal
	}
	return MemorySegmentLocal
}

// CreateAllocator builds an Allocator from desc, querying the device's
// feature info to decide the default-pool layout (spec §4.5): one block
// vector per heap type with a unified resource heap tier, else three. No
// GPU-upload pools are created when the device does not support that heap
// type, giving 3 or 9 vectors instead of 4 or 12.
func CreateAllocator(desc AllocatorDesc) (*Allocator, error) {
	if desc.Device == nil {
		return nil, newValidationError("AllocatorDesc", "Device", "must not be nil")
	}
	blockSize := desc.PreferredBlockSize
	if blockSize == 0 {
		blockSize = 256 << 20
	}

	singleThreaded := desc.Flags&AllocatorFlagSingleThreaded != 0
	features := desc.Device.QueryFeatureInfo()

	a := &Allocator{
		device:                      desc.Device,
		callbacks:                   desc.Callbacks,
		features:                    features,
		preferredBlockSize:          blockSize,
		singleThreaded:              singleThreaded,
		alwaysCommitted:             desc.Flags&AllocatorFlagAlwaysCommitted != 0,
		preferSmallBuffersCommitted: desc.Flags&AllocatorFlagPreferSmallBuffersCommitted != 0,
		allocationPool:              container.NewPoolAllocator[Allocation](256),
		poolsMu:                     newRWLocker(singleThreaded),
	}
	a.budget = newBudgetTracker(desc.Device, heapTypeSegmentGroup, singleThreaded)

	for ht := HeapType(0); ht < 4; ht++ {
		if ht == HeapTypeGPUUpload && !features.GPUUploadHeapSupported {
			continue
		}
		a.committed[ht] = newCommittedList(a.allocationPool, singleThreaded)
		if features.UnifiedResourceHeaps {
			a.defaultPools[ht] = []*blockVector{a.newDefaultBlockVector(ht, ResourceClassBuffer)}
		} else {
			a.defaultPools[ht] = []*blockVector{
				a.newDefaultBlockVector(ht, ResourceClassBuffer),
				a.newDefaultBlockVector(ht, ResourceClassNonRTTexture),
				a.newDefaultBlockVector(ht, ResourceClassRTOrDSTexture),
			}
		}
	}
	return a, nil
}

func (a *Allocator) newDefaultBlockVector(ht HeapType, class ResourceClass) *blockVector {
	bv := newBlockVector(a.device, blockVectorDesc{
		HeapType:           ht,
		Class:              class,
		PreferredBlockSize: a.preferredBlockSize,
		MinBlockCount:      0,
		MaxBlockCount:      0,
		Algorithm:          blockAlgorithmTLSF,
	}, a.singleThreaded)
	a.wireBudgetCallbacks(bv, ht)
	return bv
}

// wireBudgetCallbacks connects bv's block growth/shrink events to the
// allocator's budget tracker, so blockBytes stays current between device
// budget refreshes (spec §5).
func (a *Allocator) wireBudgetCallbacks(bv *blockVector, ht HeapType) {
	bv.onBlockGrow = func(size uint64) {
		a.budget.AddBlock(ht, size)
		a.callbacks.notifyAlloc(size, nil)
	}
	bv.onBlockShrink = func(size uint64) {
		a.budget.RemoveBlock(ht, size)
		a.callbacks.notifyFree(size, nil)
	}
}

// resourceClassOf derives a ResourceClass from a ResourceDesc, per spec
// §4.5's "resource class derived from the resource description".
func resourceClassOf(desc ResourceDesc) ResourceClass {
	if desc.Dimension == ResourceDimensionBuffer {
		return ResourceClassBuffer
	}
	if desc.Flags&(ResourceFlagRenderTarget|ResourceFlagDepthStencil) != 0 {
		return ResourceClassRTOrDSTexture
	}
	return ResourceClassNonRTTexture
}

func (a *Allocator) blockVectorFor(ht HeapType, class ResourceClass) *blockVector {
	vectors := a.defaultPools[ht]
	if len(vectors) == 1 {
		return vectors[0]
	}
	return vectors[class]
}

// checkHeapTypeSupported rejects a heap type the device did not advertise
// support for (currently only HeapTypeGPUUpload), per spec §7: "GPU-upload
// heap requested on a device that lacks it" is ErrNotImplemented.
func (a *Allocator) checkHeapTypeSupported(ht HeapType) error {
	if ht == HeapTypeGPUUpload && !a.features.GPUUploadHeapSupported {
		return ErrNotImplemented
	}
	return nil
}

// calcAllocationParams implements spec §4.5's CalcAllocationParams.
func (a *Allocator) calcAllocationParams(allocDesc AllocationDesc, size uint64, resDesc ResourceDesc) (bv *blockVector, alwaysCommitted bool, preferCommitted bool) {
	if allocDesc.Pool != nil {
		if allocDesc.Pool.desc.Flags&PoolFlagAlwaysCommitted != 0 {
			return nil, true, true
		}
		bv = allocDesc.Pool.blocks
	} else {
		bv = a.blockVectorFor(allocDesc.HeapType, resourceClassOf(resDesc))
	}

	preferCommitted = size*2 > a.preferredBlockSize ||
		(a.preferSmallBuffersCommitted && resDesc.Dimension == ResourceDimensionBuffer && size <= smallBufferThreshold)

	if allocDesc.Flags&AllocationFlagCommitted != 0 || a.alwaysCommitted {
		return bv, true, true
	}
	if resDesc.SampleCount > 1 {
		msaaCommitted := bv != nil && bv.desc.MSAAAlwaysCommitted
		if allocDesc.Pool != nil && allocDesc.Pool.desc.Flags&PoolFlagMSAAAlwaysCommitted != 0 {
			msaaCommitted = true
		}
		if msaaCommitted {
			return bv, true, true
		}
	}
	return bv, false, preferCommitted
}

// CreateResource runs the full sequence from spec §4.5: query the device
// for allocation info (with a small-resource alignment retry), decide
// committed-vs-placed, and create the backing resource.
func (a *Allocator) CreateResource(allocDesc AllocationDesc, resDesc ResourceDesc) (AllocationHandle, Resource, error) {
	if err := a.checkHeapTypeSupported(allocDesc.HeapType); err != nil {
		return AllocationHandle{}, nil, err
	}
	if resDesc.CastableFormatCount > 0 {
		return AllocationHandle{}, nil, ErrNotImplemented
	}

	info, err := a.device.GetResourceAllocationInfo(resDesc)
	if err != nil {
		return AllocationHandle{}, nil, newDeviceError("GetResourceAllocationInfo", err)
	}
	if info.SizeBytes%4 != 0 {
		return AllocationHandle{}, nil, newValidationError("Allocator.CreateResource", "size", "size %d is not a multiple of 4", info.SizeBytes)
	}

	if resDesc.Dimension != ResourceDimensionBuffer &&
		resDesc.Flags&(ResourceFlagRenderTarget|ResourceFlagDepthStencil) == 0 &&
		a.features.TightAlignmentSupported {
		retryDesc := resDesc
		retryDesc.AllowSmallAlignment = true
		if probe, err := a.device.GetResourceAllocationInfo(retryDesc); err == nil && probe.AlignmentBytes <= 4<<10 {
			info = probe
		}
	}

	if allocDesc.Flags&AllocationFlagUpperAddress != 0 {
		pool := allocDesc.Pool
		if pool == nil || pool.desc.Algorithm != blockAlgorithmLinear {
			return AllocationHandle{}, nil, newValidationError("Allocator.CreateResource", "Flags", "UpperAddress is only valid for a pool using the Linear algorithm")
		}
	}

	bv, alwaysCommitted, preferCommitted := a.calcAllocationParams(allocDesc, info.SizeBytes, resDesc)

	neverAllocate := allocDesc.Flags&AllocationFlagNeverAllocate != 0
	withinBudget := allocDesc.Flags&AllocationFlagWithinBudget != 0

	tryCommitted := func() (AllocationHandle, Resource, error) {
		return a.createCommitted(allocDesc, resDesc, info.SizeBytes, withinBudget)
	}
	tryPlaced := func() (AllocationHandle, Resource, error) {
		return a.createPlaced(allocDesc, resDesc, bv, info.SizeBytes, info.AlignmentBytes, withinBudget)
	}

	if alwaysCommitted {
		return tryCommitted()
	}
	if preferCommitted {
		if h, r, err := tryCommitted(); err == nil {
			return h, r, nil
		}
		if neverAllocate {
			return AllocationHandle{}, nil, ErrOutOfMemory
		}
		return tryPlaced()
	}
	if h, r, err := tryPlaced(); err == nil {
		return h, r, nil
	}
	if neverAllocate {
		return AllocationHandle{}, nil, ErrOutOfMemory
	}
	return tryCommitted()
}

func (a *Allocator) newBudgetGate(heapType HeapType, withinBudget bool) func(uint64) bool {
	if !withinBudget {
		return nil
	}
	return func(addBytes uint64) bool { return a.budget.WithinBudget(heapType, addBytes) }
}

func (a *Allocator) createCommitted(allocDesc AllocationDesc, resDesc ResourceDesc, size uint64, withinBudget bool) (AllocationHandle, Resource, error) {
	if withinBudget && !a.budget.WithinBudget(allocDesc.HeapType, size) {
		return AllocationHandle{}, nil, ErrOutOfMemory
	}
	res, err := a.device.CreateCommittedResource(resDesc)
	if err != nil {
		return AllocationHandle{}, nil, newDeviceError("CreateCommittedResource", err)
	}

	idx := a.allocationPool.Alloc(Allocation{
		kind:     AllocationKindDedicated,
		size:     size,
		heapType: allocDesc.HeapType,
		userData: allocDesc.UserData,
		name:     allocDesc.Name,
	})
	if cl := a.committed[allocDesc.HeapType]; cl != nil {
		cl.Add(idx, size)
	}
	a.budget.AddAllocation(allocDesc.HeapType, size)
	a.budget.AddBlock(allocDesc.HeapType, size)
	a.callbacks.notifyAlloc(size, allocDesc.UserData)
	return AllocationHandle{idx: idx}, res, nil
}

func (a *Allocator) createPlaced(allocDesc AllocationDesc, resDesc ResourceDesc, bv *blockVector, size, alignment uint64, withinBudget bool) (AllocationHandle, Resource, error) {
	if bv == nil {
		return AllocationHandle{}, nil, ErrOutOfMemory
	}
	gate := a.newBudgetGate(allocDesc.HeapType, withinBudget)
	upperAddress := allocDesc.Flags&AllocationFlagUpperAddress != 0
	strategy := allocDesc.Flags.strategy()
	placement, err := bv.AllocatePage(size, alignment, strategy, upperAddress, true, gate)
	if err != nil {
		return AllocationHandle{}, nil, err
	}

	idx := a.allocationPool.Alloc(Allocation{
		kind:      AllocationKindBlock,
		size:      size,
		block:     placement.block,
		userData:  allocDesc.UserData,
		name:      allocDesc.Name,
		alignment: alignment,
	})

	handle, err := bv.commit(placement, size, idx)
	if err != nil {
		a.allocationPool.Free(idx)
		return AllocationHandle{}, nil, err
	}
	a.allocationPool.Mutate(idx, func(alloc *Allocation) { alloc.subHandle = handle })

	offset, _ := placement.block.metadata.GetAllocationOffset(handle)
	res, err := a.device.CreatePlacedResource(placement.block.heap, offset, resDesc)
	if err != nil {
		_ = bv.Free(placement.block, handle, nil)
		a.allocationPool.Free(idx)
		return AllocationHandle{}, nil, newDeviceError("CreatePlacedResource", err)
	}

	a.budget.AddAllocation(allocDesc.HeapType, size)
	return AllocationHandle{idx: idx}, res, nil
}

// AllocateMemory allocates backing memory without creating any resource —
// the caller later binds it via its own aliasing mechanism.
func (a *Allocator) AllocateMemory(allocDesc AllocationDesc, size, alignment uint64) (AllocationHandle, error) {
	if err := a.checkHeapTypeSupported(allocDesc.HeapType); err != nil {
		return AllocationHandle{}, err
	}
	if size%4 != 0 {
		return AllocationHandle{}, newValidationError("Allocator.AllocateMemory", "size", "size %d is not a multiple of 4", size)
	}

	var bv *blockVector
	if allocDesc.Pool != nil {
		bv = allocDesc.Pool.blocks
	} else {
		bv = a.blockVectorFor(allocDesc.HeapType, ResourceClassBuffer)
	}
	upperAddress := allocDesc.Flags&AllocationFlagUpperAddress != 0
	strategy := allocDesc.Flags.strategy()
	gate := a.newBudgetGate(allocDesc.HeapType, allocDesc.Flags&AllocationFlagWithinBudget != 0)
	placement, err := bv.AllocatePage(size, alignment, strategy, upperAddress, true, gate)
	if err != nil {
		return AllocationHandle{}, err
	}
	idx := a.allocationPool.Alloc(Allocation{
		kind:      AllocationKindBlock,
		size:      size,
		block:     placement.block,
		userData:  allocDesc.UserData,
		name:      allocDesc.Name,
		alignment: alignment,
	})
	handle, err := bv.commit(placement, size, idx)
	if err != nil {
		a.allocationPool.Free(idx)
		return AllocationHandle{}, err
	}
	a.allocationPool.Mutate(idx, func(alloc *Allocation) { alloc.subHandle = handle })
	a.budget.AddAllocation(allocDesc.HeapType, size)
	return AllocationHandle{idx: idx}, nil
}

// AllocateDedicatedHeap creates a heap-only dedicated allocation (spec's
// "Heap" variant: owns a heap with no resource bound to it) of exactly
// size bytes.
func (a *Allocator) AllocateDedicatedHeap(allocDesc AllocationDesc, size uint64) (AllocationHandle, Heap, error) {
	if err := a.checkHeapTypeSupported(allocDesc.HeapType); err != nil {
		return AllocationHandle{}, nil, err
	}
	if size%4 != 0 {
		return AllocationHandle{}, nil, newValidationError("Allocator.AllocateDedicatedHeap", "size", "size %d is not a multiple of 4", size)
	}
	if allocDesc.Flags&AllocationFlagWithinBudget != 0 && !a.budget.WithinBudget(allocDesc.HeapType, size) {
		return AllocationHandle{}, nil, ErrOutOfMemory
	}
	heap, err := a.device.CreateHeap(HeapDesc{SizeBytes: size, HeapType: allocDesc.HeapType, Alignment: 64 << 10})
	if err != nil {
		return AllocationHandle{}, nil, newDeviceError("CreateHeap", err)
	}
	idx := a.allocationPool.Alloc(Allocation{
		kind:     AllocationKindDedicated,
		size:     size,
		heap:     heap,
		heapType: allocDesc.HeapType,
		userData: allocDesc.UserData,
		name:     allocDesc.Name,
	})
	if cl := a.committed[allocDesc.HeapType]; cl != nil {
		cl.Add(idx, size)
	}
	a.budget.AddAllocation(allocDesc.HeapType, size)
	a.budget.AddBlock(allocDesc.HeapType, size)
	a.callbacks.notifyAlloc(size, allocDesc.UserData)
	return AllocationHandle{idx: idx}, heap, nil
}

// FreeAllocation releases h: unwinds either the committed-list entry or the
// block suballocation, and recycles the Allocation's pool slot.
func (a *Allocator) FreeAllocation(h AllocationHandle) error {
	if !h.IsValid() {
		return newValidationError("Allocator.FreeAllocation", "h", "invalid handle")
	}
	alloc := a.allocationPool.Get(h.idx)

	switch alloc.kind {
	case AllocationKindDedicated:
		if cl := a.committed[alloc.heapType]; cl != nil {
			cl.Remove(h.idx, alloc.size)
		}
		a.budget.RemoveAllocation(alloc.heapType, alloc.size)
		a.budget.RemoveBlock(alloc.heapType, alloc.size)
		a.callbacks.notifyFree(alloc.size, alloc.userData)
	case AllocationKindBlock:
		bv := blockVectorOwning(a, alloc.block)
		if bv != nil {
			if err := bv.Free(alloc.block, alloc.subHandle, nil); err != nil {
				return err
			}
		}
		a.budget.RemoveAllocation(alloc.block.heapType, alloc.size)
	}
	a.allocationPool.Free(h.idx)
	return nil
}

func blockVectorOwning(a *Allocator, block *memoryBlock) *blockVector {
	for _, vectors := range a.defaultPools {
		for _, bv := range vectors {
			for _, b := range bv.blocks {
				if b == block {
					return bv
				}
			}
		}
	}
	a.poolsMu.RLock()
	defer a.poolsMu.RUnlock()
	for _, head := range a.userPools {
		for p := head; p != nil; p = p.links.next {
			for _, b := range p.blocks.blocks {
				if b == block {
					return p.blocks
				}
			}
		}
	}
	return nil
}

// CreatePool registers a new user pool under desc.HeapType and returns it.
func (a *Allocator) CreatePool(desc PoolDesc) (*Pool, error) {
	blockSize := desc.BlockSize
	explicit := blockSize != 0
	if blockSize == 0 {
		blockSize = a.preferredBlockSize
	}
	min := desc.MinBlockCount
	if desc.Flags&PoolFlagAlwaysCommitted != 0 {
		min = 0
	}

	bv := newBlockVector(a.device, blockVectorDesc{
		HeapType:            desc.HeapType,
		Class:               desc.Class,
		PreferredBlockSize:  blockSize,
		MinBlockCount:       min,
		MaxBlockCount:       desc.MaxBlockCount,
		ExplicitBlockSize:   explicit,
		MinAllocationAlign:  desc.MinAllocationAlignment,
		Algorithm:           desc.Algorithm,
		MSAAAlwaysCommitted: desc.Flags&PoolFlagMSAAAlwaysCommitted != 0,
		ResidencyPriority:   desc.ResidencyPriority,
	}, a.singleThreaded)
	a.wireBudgetCallbacks(bv, desc.HeapType)
	if err := bv.CreateMinBlocks(); err != nil {
		return nil, err
	}

	p := &Pool{
		desc:      desc,
		blocks:    bv,
		dedicated: newCommittedList(a.allocationPool, a.singleThreaded),
	}

	a.poolsMu.Lock()
	defer a.poolsMu.Unlock()
	head := a.userPools[desc.HeapType]
	p.links.next = head
	if head != nil {
		head.links.prev = p
	}
	a.userPools[desc.HeapType] = p
	return p, nil
}

// DestroyPool unlinks p from its allocator; p must have no live
// allocations.
func (a *Allocator) DestroyPool(p *Pool) {
	a.poolsMu.Lock()
	defer a.poolsMu.Unlock()
	if p.links.prev != nil {
		p.links.prev.links.next = p.links.next
	} else {
		a.userPools[p.desc.HeapType] = p.links.next
	}
	if p.links.next != nil {
		p.links.next.links.prev = p.links.prev
	}
}

// SetCurrentFrameIndex records the allocator's frame counter. Nothing in
// this module reads it back; the defragmentation heuristics do not use it.
func (a *Allocator) SetCurrentFrameIndex(frame uint64) { a.frameIndex = frame }
