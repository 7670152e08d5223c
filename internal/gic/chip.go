package gic

import (
	"github.com/tinyrange/irqchip/internal/irq"
	"github.com/tinyrange/irqchip/internal/smp"
)

// chip is the irq.Chip registered on every GIC line. Affinity and wake
// support are layered on as separate types so that a subsystem built
// without them does not satisfy irq.AffinityChip or irq.WakeChip.
type chip struct {
	s *Subsystem
}

func newChip(s *Subsystem) irq.Chip {
	base := &chip{s: s}
	switch {
	case s.opts.SMP && s.opts.PM:
		return &smpWakeChip{base}
	case s.opts.SMP:
		return &smpChip{base}
	case s.opts.PM:
		return &wakeChip{base}
	default:
		return base
	}
}

func (c *chip) Name() string { return "GIC" }

func (c *chip) Mask(cpu *smp.CPU, d *irq.Data)   { c.s.mask(cpu, d) }
func (c *chip) Unmask(cpu *smp.CPU, d *irq.Data) { c.s.unmask(cpu, d) }
func (c *chip) EOI(cpu *smp.CPU, d *irq.Data)    { c.s.eoi(cpu, d) }

func (c *chip) SetType(cpu *smp.CPU, d *irq.Data, t irq.Type) error {
	return c.s.setType(cpu, d, t)
}

// Retrigger has no hardware support; only a platform hook can provide it.
func (c *chip) Retrigger(cpu *smp.CPU, d *irq.Data) error {
	return notSupported(c.s.hooks.retrigger(cpu, d))
}

func (c *chip) setWake(cpu *smp.CPU, d *irq.Data, on bool) error {
	return notSupported(c.s.hooks.setWake(cpu, d, on))
}

type smpChip struct{ *chip }

func (c *smpChip) SetAffinity(cpu *smp.CPU, d *irq.Data, mask smp.Mask, force bool) error {
	return c.s.setAffinity(cpu, d, mask)
}

type wakeChip struct{ *chip }

func (c *wakeChip) SetWake(cpu *smp.CPU, d *irq.Data, on bool) error {
	return c.setWake(cpu, d, on)
}

type smpWakeChip struct{ *chip }

func (c *smpWakeChip) SetAffinity(cpu *smp.CPU, d *irq.Data, mask smp.Mask, force bool) error {
	return c.s.setAffinity(cpu, d, mask)
}

func (c *smpWakeChip) SetWake(cpu *smp.CPU, d *irq.Data, on bool) error {
	return c.setWake(cpu, d, on)
}

var (
	_ irq.Chip         = (*chip)(nil)
	_ irq.AffinityChip = (*smpChip)(nil)
	_ irq.WakeChip     = (*wakeChip)(nil)
	_ irq.AffinityChip = (*smpWakeChip)(nil)
	_ irq.WakeChip     = (*smpWakeChip)(nil)
)
