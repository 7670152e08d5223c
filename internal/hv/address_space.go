package hv

import (
	"fmt"
	"sort"
	"sync"
)

// MMIOAllocation names a reserved peripheral window.
type MMIOAllocation struct {
	Name string
	Base uint64
	Size uint64
}

// MMIOAllocationRequest asks for a window to be placed automatically.
type MMIOAllocationRequest struct {
	Name      string
	Size      uint64
	Alignment uint64
}

// AddressSpace tracks the peripheral windows of a board. Fixed windows come
// from the board description; the rest are allocated upwards from a base.
type AddressSpace struct {
	mu sync.Mutex

	// nextMMIO is the next candidate address for automatic placement
	nextMMIO uint64

	allocations  []MMIOAllocation
	fixedRegions []MMIOAllocation
}

// NewAddressSpace returns an address space that places automatic windows at
// or above base.
func NewAddressSpace(base uint64) *AddressSpace {
	return &AddressSpace{nextMMIO: alignUp(base, 0x1000)}
}

// Allocate places a window of the requested size and alignment that does not
// overlap any fixed or previously allocated window.
func (a *AddressSpace) Allocate(req MMIOAllocationRequest) (MMIOAllocation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if req.Size == 0 {
		return MMIOAllocation{}, fmt.Errorf("address_space: cannot allocate zero-size region for %s", req.Name)
	}

	alignment := req.Alignment
	if alignment == 0 {
		alignment = 0x1000 // Default to 4KB alignment
	}
	if alignment&(alignment-1) != 0 {
		return MMIOAllocation{}, fmt.Errorf("address_space: alignment 0x%x is not a power of 2 for %s", alignment, req.Name)
	}

	size := alignUp(req.Size, alignment)
	base := alignUp(a.nextMMIO, alignment)
	for {
		clash, ok := a.overlapping(base, size)
		if !ok {
			break
		}
		base = alignUp(clash.Base+clash.Size, alignment)
	}
	if base+size < base {
		return MMIOAllocation{}, fmt.Errorf("address_space: no room for %s (0x%x bytes)", req.Name, size)
	}

	alloc := MMIOAllocation{Name: req.Name, Base: base, Size: size}
	a.allocations = append(a.allocations, alloc)
	a.nextMMIO = base + size
	return alloc, nil
}

// RegisterFixed records a window whose address is dictated by the board.
func (a *AddressSpace) RegisterFixed(name string, base, size uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if size == 0 {
		return fmt.Errorf("address_space: cannot register zero-size fixed region %s", name)
	}
	if base+size < base {
		return fmt.Errorf("address_space: fixed region %s at 0x%x overflows", name, base)
	}
	if clash, ok := a.overlapping(base, size); ok {
		return fmt.Errorf("address_space: fixed region %s [0x%x-0x%x) overlaps %s [0x%x-0x%x)",
			name, base, base+size, clash.Name, clash.Base, clash.Base+clash.Size)
	}

	a.fixedRegions = append(a.fixedRegions, MMIOAllocation{Name: name, Base: base, Size: size})
	return nil
}

func (a *AddressSpace) overlapping(base, size uint64) (MMIOAllocation, bool) {
	end := base + size
	for _, list := range [][]MMIOAllocation{a.fixedRegions, a.allocations} {
		for _, r := range list {
			if base < r.Base+r.Size && r.Base < end {
				return r, true
			}
		}
	}
	return MMIOAllocation{}, false
}

// Regions returns every window, fixed and allocated, sorted by base address.
func (a *AddressSpace) Regions() []MMIOAllocation {
	a.mu.Lock()
	defer a.mu.Unlock()

	result := make([]MMIOAllocation, 0, len(a.fixedRegions)+len(a.allocations))
	result = append(result, a.fixedRegions...)
	result = append(result, a.allocations...)
	sort.Slice(result, func(i, j int) bool { return result[i].Base < result[j].Base })
	return result
}

// alignUp aligns value up to the specified alignment.
func alignUp(value, align uint64) uint64 {
	if align == 0 {
		return value
	}
	mask := align - 1
	return (value + mask) &^ mask
}
