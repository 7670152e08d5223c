package smp

import (
	"fmt"
	"sync/atomic"
)

// CPU is the execution context of one processor. Register accesses made on
// behalf of a CPU resolve banked registers to that processor's copy.
type CPU struct {
	id int

	irqEnabled atomic.Bool
	fiqEnabled atomic.Bool
}

func newCPU(id int) *CPU {
	c := &CPU{id: id}
	c.irqEnabled.Store(true)
	return c
}

// CPU implements hv.ExitContext.
func (c *CPU) CPU() int { return c.id }

// ID returns the processor index.
func (c *CPU) ID() int { return c.id }

func (c *CPU) String() string { return fmt.Sprintf("cpu%d", c.id) }

// LocalIRQSave disables IRQ delivery on this CPU and returns the previous state.
func (c *CPU) LocalIRQSave() bool {
	return c.irqEnabled.Swap(false)
}

// LocalIRQRestore puts back a state returned by LocalIRQSave.
func (c *CPU) LocalIRQRestore(enabled bool) {
	c.irqEnabled.Store(enabled)
}

// LocalIRQEnabled reports whether IRQs are currently unmasked on this CPU.
func (c *CPU) LocalIRQEnabled() bool { return c.irqEnabled.Load() }

// LocalFIQEnable unmasks FIQ delivery on this CPU.
func (c *CPU) LocalFIQEnable() { c.fiqEnabled.Store(true) }

// LocalFIQDisable masks FIQ delivery on this CPU.
func (c *CPU) LocalFIQDisable() { c.fiqEnabled.Store(false) }

// LocalFIQEnabled reports whether FIQs are unmasked on this CPU.
func (c *CPU) LocalFIQEnabled() bool { return c.fiqEnabled.Load() }
