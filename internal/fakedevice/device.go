// Package fakedevice is an in-memory double for vram.Device, imported by the
// root package's and defrag package's test suites so they can exercise
// the full CreateResource/budget/defragmentation paths without a real
// D3D12 or Vulkan device.
package fakedevice

import (
	"fmt"
	"sync"

	"github.com/gogpu/vram"
)

// defaultSystemMemoryBytes is the fallback reported when the host's real
// total cannot be queried.
const defaultSystemMemoryBytes = 8 << 30

// Heap is the concrete type fakedevice hands back as a vram.Heap.
type Heap struct {
	ID        uint64
	SizeBytes uint64
	HeapType  vram.HeapType
}

// Resource is the concrete type fakedevice hands back as a vram.Resource.
type Resource struct {
	ID     uint64
	Heap   *Heap // nil for a committed resource
	Offset uint64
	Desc   vram.ResourceDesc
}

// Device is an in-memory vram.Device: it never talks to real hardware, it
// just tracks byte counts so tests can assert on them. Budget defaults to
// the host's total physical memory (see memsize_*.go) but can be
// overridden with SetBudget for deterministic budget-gating tests.
type Device struct {
	mu sync.Mutex

	Features vram.FeatureInfo

	nextID uint64

	localUsage, localBudget       uint64
	nonLocalUsage, nonLocalBudget uint64

	// FailNextCreateHeap/FailNextCreateCommitted, if non-nil, is returned
	// once (then cleared) by the corresponding method — used to exercise
	// the allocator's "no retry" failure propagation.
	FailNextCreateHeap      error
	FailNextCreateCommitted error
	FailNextCreatePlaced    error

	ResidencyCalls int
}

// New returns a Device with a sensible default feature set and the host's
// physical memory (see systemMemoryBytes) reported as local budget.
func New() *Device {
	total := systemMemoryBytes()
	return &Device{
		Features: vram.FeatureInfo{
			UMA:                      false,
			TightAlignmentSupported:  true,
			CreateNotZeroedSupported: true,
		},
		localBudget:    total,
		nonLocalBudget: total / 4,
	}
}

// SetBudget overrides the reported usage/budget for group, for tests that
// need deterministic budget-gating behavior.
func (d *Device) SetBudget(group vram.MemorySegmentGroup, usage, budget uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if group == vram.MemorySegmentLocal {
		d.localUsage, d.localBudget = usage, budget
	} else {
		d.nonLocalUsage, d.nonLocalBudget = usage, budget
	}
}

func (d *Device) QueryFeatureInfo() vram.FeatureInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Features
}

func (d *Device) CreateHeap(desc vram.HeapDesc) (vram.Heap, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.FailNextCreateHeap; err != nil {
		d.FailNextCreateHeap = nil
		return nil, err
	}
	d.nextID++
	h := &Heap{ID: d.nextID, SizeBytes: desc.SizeBytes, HeapType: desc.HeapType}
	d.track(desc.HeapType, desc.SizeBytes)
	return h, nil
}

func (d *Device) CreateCommittedResource(desc vram.ResourceDesc) (vram.Resource, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.FailNextCreateCommitted; err != nil {
		d.FailNextCreateCommitted = nil
		return nil, err
	}
	d.nextID++
	return &Resource{ID: d.nextID, Desc: desc}, nil
}

func (d *Device) CreatePlacedResource(heap vram.Heap, offset uint64, desc vram.ResourceDesc) (vram.Resource, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.FailNextCreatePlaced; err != nil {
		d.FailNextCreatePlaced = nil
		return nil, err
	}
	h, ok := heap.(*Heap)
	if !ok {
		return nil, fmt.Errorf("fakedevice: CreatePlacedResource: not a *fakedevice.Heap: %T", heap)
	}
	d.nextID++
	return &Resource{ID: d.nextID, Heap: h, Offset: offset, Desc: desc}, nil
}

// GetResourceAllocationInfo sizes a buffer as Width bytes at 256-byte
// alignment and a texture as Width*Height*max(DepthOrArraySize,1) at 64 KiB
// alignment, or 4 KiB when AllowSmallAlignment is set and the texture is
// neither a render target nor depth/stencil, is single-sampled and is at
// most 64 KiB. The size is rounded up to the alignment (a zero size becomes
// one alignment unit).
func (d *Device) GetResourceAllocationInfo(desc vram.ResourceDesc) (vram.ResourceAllocationInfo, error) {
	if desc.CastableFormatCount > 0 {
		return vram.ResourceAllocationInfo{}, vram.ErrNotImplemented
	}
	size := desc.Width
	align := uint64(64 * 1024)
	if desc.Dimension != vram.ResourceDimensionBuffer {
		depth := uint64(desc.DepthOrArraySize)
		if depth == 0 {
			depth = 1
		}
		size = desc.Width * uint64(desc.Height) * depth
		smallEligible := desc.Flags&(vram.ResourceFlagRenderTarget|vram.ResourceFlagDepthStencil) == 0 &&
			desc.SampleCount <= 1 && size <= 64*1024
		if desc.AllowSmallAlignment && smallEligible {
			align = 4 * 1024
		}
	} else {
		align = 256
	}
	if size == 0 {
		size = align
	}
	size = alignUp(size, align)
	return vram.ResourceAllocationInfo{SizeBytes: size, AlignmentBytes: align}, nil
}

func (d *Device) QueryVideoMemoryInfo(nodeIndex uint32, group vram.MemorySegmentGroup) (vram.VideoMemoryInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if group == vram.MemorySegmentLocal {
		return vram.VideoMemoryInfo{CurrentUsageBytes: d.localUsage, BudgetBytes: d.localBudget}, nil
	}
	return vram.VideoMemoryInfo{CurrentUsageBytes: d.nonLocalUsage, BudgetBytes: d.nonLocalBudget}, nil
}

func (d *Device) SetResidencyPriority(resources []vram.Resource, priority vram.ResidencyPriority) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ResidencyCalls++
	return nil
}

func (d *Device) track(ht vram.HeapType, size uint64) {
	if ht == vram.HeapTypeUpload || ht == vram.HeapTypeReadback {
		d.nonLocalUsage += size
	} else {
		d.localUsage += size
	}
}

func alignUp(v, align uint64) uint64 {
	if align == 0 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}
