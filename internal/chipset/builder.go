package chipset

import (
	"fmt"

	"github.com/tinyrange/irqchip/internal/hv"
)

// InterruptSink receives interrupt assertions for a given line.
type InterruptSink interface {
	SetIRQ(line uint32, level bool)
}

type mmioBinding struct {
	region  hv.MMIORegion
	handler MmioHandler
}

// ChipsetBuilder registers devices and their intercepts before creating a Chipset.
type ChipsetBuilder struct {
	devices map[string]ChipsetDevice
	order   []string
	mmio    []mmioBinding
}

// NewBuilder returns an empty ChipsetBuilder instance.
func NewBuilder() *ChipsetBuilder {
	return &ChipsetBuilder{
		devices: make(map[string]ChipsetDevice),
	}
}

// RegisterDevice adds a chipset device and wires up its intercepts.
func (b *ChipsetBuilder) RegisterDevice(name string, dev ChipsetDevice) error {
	if b == nil {
		return fmt.Errorf("chipset builder is nil")
	}
	if name == "" {
		return fmt.Errorf("device name is empty")
	}
	if dev == nil {
		return fmt.Errorf("device %q is nil", name)
	}
	if _, exists := b.devices[name]; exists {
		return fmt.Errorf("device %q already registered", name)
	}

	if intercept := dev.SupportsMmio(); intercept != nil {
		if intercept.Handler == nil {
			return fmt.Errorf("device %q provided MMIO regions with nil handler", name)
		}
		for _, region := range intercept.Regions {
			if err := b.WithMmioRegion(region.Address, region.Size, intercept.Handler); err != nil {
				return fmt.Errorf("device %q: %w", name, err)
			}
		}
	}

	b.devices[name] = dev
	b.order = append(b.order, name)
	return nil
}

// WithMmioRegion registers a memory-mapped region handler.
func (b *ChipsetBuilder) WithMmioRegion(base, size uint64, handler MmioHandler) error {
	if handler == nil {
		return fmt.Errorf("MMIO handler for region 0x%x size 0x%x is nil", base, size)
	}
	if size == 0 {
		return fmt.Errorf("MMIO region at 0x%x has zero size", base)
	}
	if base+size < base {
		return fmt.Errorf("MMIO region at 0x%x with size 0x%x overflows", base, size)
	}
	for _, existing := range b.mmio {
		if regionsOverlap(base, size, existing.region.Address, existing.region.Size) {
			return fmt.Errorf(
				"MMIO region 0x%x-0x%x overlaps existing region 0x%x-0x%x",
				base, base+size-1, existing.region.Address, existing.region.Address+existing.region.Size-1)
		}
	}

	b.mmio = append(b.mmio, mmioBinding{
		region: hv.MMIORegion{
			Address: base,
			Size:    size,
		},
		handler: handler,
	})
	return nil
}

// Build finalizes the chipset layout, initializes every device and returns
// the constructed Chipset.
func (b *ChipsetBuilder) Build() (*Chipset, error) {
	if b == nil {
		return nil, fmt.Errorf("chipset builder is nil")
	}

	devices := make(map[string]ChipsetDevice, len(b.devices))
	for name, dev := range b.devices {
		if err := dev.Init(); err != nil {
			return nil, fmt.Errorf("chipset: init device %q: %w", name, err)
		}
		devices[name] = dev
	}

	mmio := make([]mmioBinding, len(b.mmio))
	copy(mmio, b.mmio)

	return &Chipset{
		devices: devices,
		order:   append([]string(nil), b.order...),
		mmio:    mmio,
	}, nil
}

func regionsOverlap(baseA, sizeA, baseB, sizeB uint64) bool {
	endA := baseA + sizeA
	endB := baseB + sizeB
	return baseA < endB && baseB < endA
}

// Chipset represents the built dispatch tables for chipset devices.
type Chipset struct {
	devices map[string]ChipsetDevice
	order   []string
	mmio    []mmioBinding
}
