package irq

import (
	"log/slog"

	"github.com/tinyrange/irqchip/internal/smp"
)

// GenericHandle runs the flow handler of n. Numbers outside the table and
// lines without a flow handler go to HandleBad.
func (c *Core) GenericHandle(cpu *smp.CPU, n Number) error {
	desc, err := c.lookup(n)
	if err != nil {
		c.HandleBad(cpu, n, nil)
		return err
	}
	_, handler, _ := desc.snapshot()
	if handler == nil {
		c.HandleBad(cpu, n, desc)
		return nil
	}
	handler(cpu, desc)
	return nil
}

// HandleFastEOI is the flow for controllers that only need an EOI once the
// action has run. Lines without an action are masked so they cannot storm.
func (c *Core) HandleFastEOI(cpu *smp.CPU, desc *Desc) {
	chip, _, action := desc.snapshot()
	desc.count.Add(1)

	if action == nil {
		desc.unhandled.Add(1)
		desc.mu.Lock()
		desc.status |= StatusMasked
		desc.mu.Unlock()
		if chip != nil {
			chip.Mask(cpu, &desc.data)
		}
	} else if action(cpu, desc.data.Irq) == None {
		desc.unhandled.Add(1)
	}

	if chip != nil {
		chip.EOI(cpu, &desc.data)
	}
}

// HandleBad accounts for an interrupt that could not be mapped to a usable
// descriptor. It never fails: a stray interrupt must not take the system down.
func (c *Core) HandleBad(cpu *smp.CPU, n Number, desc *Desc) {
	c.bad.Add(1)
	if desc != nil {
		desc.count.Add(1)
	}
	if c.badLimiter.Allow() {
		cpuID := -1
		if cpu != nil {
			cpuID = cpu.ID()
		}
		c.logger.Warn("irq: unexpected interrupt",
			slog.Uint64("irq", uint64(n)),
			slog.Int("cpu", cpuID),
			slog.Bool("has_desc", desc != nil))
	}
}

// BadCount returns the number of interrupts routed to HandleBad.
func (c *Core) BadCount() uint64 { return c.bad.Load() }

// ChainedEnter brackets a chained flow handler on the parent line. Chips
// in this system always have an EOI, so there is nothing to do on entry.
func ChainedEnter(cpu *smp.CPU, desc *Desc) {}

// ChainedExit completes the parent line once the chained handler has
// drained the child controller.
func ChainedExit(cpu *smp.CPU, desc *Desc) {
	chip, _, _ := desc.snapshot()
	desc.count.Add(1)
	if chip != nil {
		chip.EOI(cpu, &desc.data)
	}
}
