package hv

import "errors"

var (
	ErrUnhandledAccess = errors.New("unhandled MMIO access")
	ErrAccessSize      = errors.New("unsupported MMIO access size")
)

// ExitContext describes the processor performing a register access.
//
// Banked registers (the GIC's per-CPU windows) resolve to different storage
// depending on which processor issued the access, so every MMIO handler is
// told who is asking.
type ExitContext interface {
	CPU() int
}

// CPUContext is the trivial ExitContext for a fixed processor index.
type CPUContext int

func (c CPUContext) CPU() int { return int(c) }

type Device interface {
	Init() error
}

type MMIORegion struct {
	Address uint64
	Size    uint64
}

// Contains reports whether an access of size bytes at addr lies entirely
// inside the region.
func (r MMIORegion) Contains(addr uint64, size uint64) bool {
	end := addr + size
	if end < addr {
		return false
	}
	return addr >= r.Address && end <= r.Address+r.Size
}

// End returns the first address past the region.
func (r MMIORegion) End() uint64 { return r.Address + r.Size }

type MemoryMappedIODevice interface {
	Device

	MMIORegions() []MMIORegion

	ReadMMIO(ctx ExitContext, addr uint64, data []byte) error
	WriteMMIO(ctx ExitContext, addr uint64, data []byte) error
}

var _ ExitContext = CPUContext(0)
