//go:build !linux

package mmio

import (
	"errors"

	"github.com/tinyrange/irqchip/internal/hv"
)

// DefaultDevMemPath is the physical memory device used by OpenDevMem.
const DefaultDevMemPath = "/dev/mem"

var errDevMemUnsupported = errors.New("mmio: physical memory access is only supported on linux")

// DevMem is unavailable on this platform.
type DevMem struct{}

// OpenDevMem always fails on this platform.
func OpenDevMem(path string, regions ...hv.MMIORegion) (*DevMem, error) {
	return nil, errDevMemUnsupported
}

func (d *DevMem) Close() error { return nil }

func (d *DevMem) ReadMMIO(ctx hv.ExitContext, addr uint64, data []byte) error {
	return errDevMemUnsupported
}

func (d *DevMem) WriteMMIO(ctx hv.ExitContext, addr uint64, data []byte) error {
	return errDevMemUnsupported
}
