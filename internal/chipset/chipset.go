package chipset

import (
	"fmt"

	"github.com/tinyrange/irqchip/internal/hv"
)

// Start activates all registered devices.
func (c *Chipset) Start() error {
	for _, name := range c.order {
		if err := c.devices[name].Start(); err != nil {
			return fmt.Errorf("chipset: start device %q: %w", name, err)
		}
	}
	return nil
}

// Stop deactivates all registered devices in reverse registration order.
func (c *Chipset) Stop() error {
	for i := len(c.order) - 1; i >= 0; i-- {
		name := c.order[i]
		if err := c.devices[name].Stop(); err != nil {
			return fmt.Errorf("chipset: stop device %q: %w", name, err)
		}
	}
	return nil
}

// Reset resets all registered devices.
func (c *Chipset) Reset() error {
	for _, name := range c.order {
		if err := c.devices[name].Reset(); err != nil {
			return fmt.Errorf("chipset: reset device %q: %w", name, err)
		}
	}
	return nil
}

// Device looks up a registered device by name.
func (c *Chipset) Device(name string) (ChipsetDevice, bool) {
	dev, ok := c.devices[name]
	return dev, ok
}

// DeviceNames lists devices in registration order.
func (c *Chipset) DeviceNames() []string {
	return append([]string(nil), c.order...)
}

// HandleMMIO dispatches an MMIO access to the registered device.
func (c *Chipset) HandleMMIO(ctx hv.ExitContext, addr uint64, data []byte, isWrite bool) error {
	accessEnd := addr + uint64(len(data))
	if accessEnd < addr {
		return fmt.Errorf("chipset: MMIO access overflow at 0x%016x", addr)
	}

	for _, binding := range c.mmio {
		if binding.region.Contains(addr, uint64(len(data))) {
			if isWrite {
				return binding.handler.WriteMMIO(ctx, addr, data)
			}
			return binding.handler.ReadMMIO(ctx, addr, data)
		}
	}

	return fmt.Errorf("chipset: no handler for MMIO address 0x%016x", addr)
}

// ReadMMIO lets the chipset act as the bus behind a driver's register window.
func (c *Chipset) ReadMMIO(ctx hv.ExitContext, addr uint64, data []byte) error {
	return c.HandleMMIO(ctx, addr, data, false)
}

// WriteMMIO lets the chipset act as the bus behind a driver's register window.
func (c *Chipset) WriteMMIO(ctx hv.ExitContext, addr uint64, data []byte) error {
	return c.HandleMMIO(ctx, addr, data, true)
}
