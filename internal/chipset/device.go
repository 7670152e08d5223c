package chipset

import (
	"github.com/tinyrange/irqchip/internal/hv"
)

// MmioHandler handles reads and writes to memory-mapped regions.
type MmioHandler interface {
	ReadMMIO(ctx hv.ExitContext, addr uint64, data []byte) error
	WriteMMIO(ctx hv.ExitContext, addr uint64, data []byte) error
}

// MmioIntercept describes the MMIO regions a device serves and the handler for them.
type MmioIntercept struct {
	Regions []hv.MMIORegion
	Handler MmioHandler
}

// LineInterrupt models an interrupt line that supports level and edge semantics.
type LineInterrupt interface {
	SetLevel(high bool)
	PulseInterrupt()
}

// ChangeDeviceState exposes lifecycle hooks for chipset devices.
type ChangeDeviceState interface {
	Start() error
	Stop() error
	// Reset models loss of power: all volatile register state is dropped.
	Reset() error
}

// ChipsetDevice is the unified interface all chipset devices must implement.
type ChipsetDevice interface {
	hv.Device
	ChangeDeviceState

	SupportsMmio() *MmioIntercept
}
