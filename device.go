package vram

// HeapType names one of the four standard heap types this allocator plans
// default pools for.
type HeapType int

const (
	HeapTypeDefault HeapType = iota
	HeapTypeUpload
	HeapTypeReadback
	HeapTypeGPUUpload
)

func (t HeapType) String() string {
	switch t {
	case HeapTypeDefault:
		return "Default"
	case HeapTypeUpload:
		return "Upload"
	case HeapTypeReadback:
		return "Readback"
	case HeapTypeGPUUpload:
		return "GPUUpload"
	default:
		return "Unknown"
	}
}

// ResourceClass keys the sub-pools a heap type is split into on devices
// without a unified resource-heap tier.
type ResourceClass int

const (
	ResourceClassBuffer ResourceClass = iota
	ResourceClassNonRTTexture
	ResourceClassRTOrDSTexture
)

// MemorySegmentGroup is the budget-reporting grouping: on a discrete GPU
// Local is VRAM and NonLocal is system memory; on a UMA device both read the
// same pool.
type MemorySegmentGroup int

const (
	MemorySegmentLocal MemorySegmentGroup = iota
	MemorySegmentNonLocal
	memorySegmentGroupCount
)

// ResidencyPriority mirrors the device's residency-priority scale; Default
// means "do not call SetResidencyPriority".
type ResidencyPriority int32

const ResidencyPriorityDefault ResidencyPriority = 0

// HeapFlags modifies CreateHeap behavior.
type HeapFlags uint32

const (
	HeapFlagAllowMSAATextures HeapFlags = 1 << iota
	HeapFlagCreateNotZeroed
)

// HeapDesc is the device-facing description passed to CreateHeap.
type HeapDesc struct {
	SizeBytes uint64
	HeapType  HeapType
	Alignment uint64
	Flags     HeapFlags
}

// ResourceDimension classifies a ResourceDesc for alignment and committed
// heuristics.
type ResourceDimension int

const (
	ResourceDimensionBuffer ResourceDimension = iota
	ResourceDimensionTexture1D
	ResourceDimensionTexture2D
	ResourceDimensionTexture3D
)

// ResourceFlags marks a texture as a render target or depth/stencil target,
// which forbids the small-alignment retry. The MSAA-always-committed rule
// does not look at these flags; it depends on SampleCount > 1 alone.
type ResourceFlags uint32

const (
	ResourceFlagRenderTarget ResourceFlags = 1 << iota
	ResourceFlagDepthStencil
)

// ResourceDesc is the minimal resource shape this allocator needs in order
// to size and align a heap; actual format/usage semantics belong to the
// caller's Device implementation.
type ResourceDesc struct {
	Dimension           ResourceDimension
	Width               uint64
	Height              uint32
	DepthOrArraySize     uint16
	MipLevels           uint16
	SampleCount         uint32
	Flags               ResourceFlags
	CastableFormatCount int

	// AllowSmallAlignment asks the device whether this resource, which
	// would normally need a full-page alignment, can instead be placed at
	// the device's small-resource alignment (typically 4 KiB). Set by
	// CreateResource's retry probe, never by a direct caller.
	AllowSmallAlignment bool
}

// ResourceAllocationInfo is the device's answer to "how big and how
// aligned would this resource's backing memory need to be".
type ResourceAllocationInfo struct {
	SizeBytes      uint64
	AlignmentBytes uint64
}

// VideoMemoryInfo is one segment group's budget snapshot.
type VideoMemoryInfo struct {
	CurrentUsageBytes uint64
	BudgetBytes       uint64
}

// FeatureInfo is the adapter/device capability set the allocator consults
// when planning default pools and alignment heuristics.
type FeatureInfo struct {
	UMA                      bool
	CacheCoherentUMA         bool
	UnifiedResourceHeaps     bool // heap tier 2 equivalent
	GPUUploadHeapSupported   bool
	TightAlignmentSupported  bool
	CreateNotZeroedSupported bool
	AdapterLocalMemoryBytes    uint64
	AdapterNonLocalMemoryBytes uint64
}

// Heap and Resource are opaque device-owned handles; this module never
// interprets their contents, only threads them back through later calls.
type Heap any
type Resource any

// Device is the external collaborator this allocator plans against. A real
// implementation wraps a D3D12 or Vulkan device; internal/fakedevice
// supplies an in-memory double for tests.
type Device interface {
	QueryFeatureInfo() FeatureInfo
	CreateHeap(desc HeapDesc) (Heap, error)
	CreateCommittedResource(desc ResourceDesc) (Resource, error)
	CreatePlacedResource(heap Heap, offset uint64, desc ResourceDesc) (Resource, error)
	GetResourceAllocationInfo(desc ResourceDesc) (ResourceAllocationInfo, error)
	QueryVideoMemoryInfo(nodeIndex uint32, group MemorySegmentGroup) (VideoMemoryInfo, error)
	SetResidencyPriority(resources []Resource, priority ResidencyPriority) error
}

// AllocationCallbacks lets a caller observe (not redirect — Go's allocator
// is the GC, unlike the host-allocation hooks this mirrors) the lifetime of
// the allocator's internal bookkeeping structures. A nil *AllocationCallbacks
// disables the hooks entirely; this is the common case.
//
// OnInternalAlloc fires whenever the allocator acquires a new device-backed
// block or dedicated heap; OnInternalFree fires when one is released. Both
// carry the block/heap's byte size, not individual suballocation sizes.
type AllocationCallbacks struct {
	OnInternalAlloc func(size uint64, userData any)
	OnInternalFree  func(size uint64, userData any)
}

func (c *AllocationCallbacks) notifyAlloc(size uint64, userData any) {
	if c != nil && c.OnInternalAlloc != nil {
		c.OnInternalAlloc(size, userData)
	}
}

func (c *AllocationCallbacks) notifyFree(size uint64, userData any) {
	if c != nil && c.OnInternalFree != nil {
		c.OnInternalFree(size, userData)
	}
}
