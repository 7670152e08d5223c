package gic

import (
	"fmt"
	"log/slog"

	"github.com/tinyrange/irqchip/internal/debug"
	"github.com/tinyrange/irqchip/internal/irq"
	"github.com/tinyrange/irqchip/internal/smp"
)

func (s *Subsystem) mask(cpu *smp.CPU, d *irq.Data) {
	c := chipController(d)
	h := c.hwirq(d.Irq)

	s.lock.Lock()
	defer s.lock.Unlock()
	c.dist.WriteRelaxed32(cpu, distEnableClear+bitWord(h), bitMask(h))
	_ = s.hooks.mask(cpu, d)
}

func (s *Subsystem) unmask(cpu *smp.CPU, d *irq.Data) {
	c := chipController(d)
	h := c.hwirq(d.Irq)

	s.lock.Lock()
	defer s.lock.Unlock()
	_ = s.hooks.unmask(cpu, d)
	c.dist.WriteRelaxed32(cpu, distEnableSet+bitWord(h), bitMask(h))
}

func (s *Subsystem) setType(cpu *smp.CPU, d *irq.Data, t irq.Type) error {
	c := chipController(d)
	h := c.hwirq(d.Irq)

	// SGI and PPI configuration is fixed.
	if h.IsLocal() {
		return fmt.Errorf("%w: %v is a local interrupt", irq.ErrInvalid, h)
	}
	if t != irq.TypeLevelHigh && t != irq.TypeEdgeRising {
		return fmt.Errorf("%w: unsupported trigger %v", irq.ErrInvalid, t)
	}

	enableOff := distEnableSet + bitWord(h)
	enableMask := bitMask(h)
	confOff := distConfig + cfgWord(h)
	confMask := uint32(0x2) << cfgShift(h)

	s.lock.Lock()
	defer s.lock.Unlock()

	_ = s.hooks.setType(cpu, d, t)

	val := c.dist.ReadRelaxed32(cpu, confOff)
	if t == irq.TypeLevelHigh {
		val &^= confMask
	} else {
		val |= confMask
	}

	// The configuration of an enabled interrupt is UNPREDICTABLE to
	// change, so disable it around the write.
	enabled := c.dist.ReadRelaxed32(cpu, enableOff)&enableMask != 0
	if enabled {
		c.dist.WriteRelaxed32(cpu, distEnableClear+bitWord(h), enableMask)
	}
	c.dist.WriteRelaxed32(cpu, confOff, val)
	if enabled {
		c.dist.WriteRelaxed32(cpu, enableOff, enableMask)
	}
	return nil
}

// setAffinity routes d to the first CPU in mask only.
func (s *Subsystem) setAffinity(cpu *smp.CPU, d *irq.Data, mask smp.Mask) error {
	c := chipController(d)
	h := c.hwirq(d.Irq)

	target := mask.First()
	if target >= maxTargetCPUs {
		return fmt.Errorf("%w: target cpu %d of %v", irq.ErrInvalid, target, mask)
	}
	off := distTarget + byteWord(h)
	shift := byteShift(h)

	s.lock.Lock()
	val := c.dist.ReadRelaxed32(cpu, off) &^ (0xff << shift)
	val |= 1 << (uint32(target) + shift)
	c.dist.WriteRelaxed32(cpu, off, val)
	s.lock.Unlock()

	d.SetNode(target)
	return nil
}

// RaiseSoftIRQ sends software generated interrupt sgi to every CPU in
// mask through the primary Distributor. Stores made by cpu before the call
// are visible to the targets before they take the interrupt.
func (s *Subsystem) RaiseSoftIRQ(cpu *smp.CPU, mask smp.Mask, sgi HwIRQ) error {
	if !s.opts.SMP {
		return fmt.Errorf("%w: smp", ErrFeatureDisabled)
	}
	if !sgi.IsSGI() {
		return fmt.Errorf("%w: %v is not a software generated interrupt", irq.ErrInvalid, sgi)
	}
	if mask.Bits()>>maxTargetCPUs != 0 {
		return fmt.Errorf("%w: cpu mask %v exceeds the target list", irq.ErrInvalid, mask)
	}
	c, err := s.initialized(0)
	if err != nil {
		return err
	}
	value := uint32(mask.Bits())<<16 | uint32(sgi)

	c.dist.Barrier(cpu)
	c.dist.WriteRelaxed32(cpu, distSoftInt, value)
	debug.Writef("gic softirq", "%v -> %v sgi %d", cpu, mask, sgi)
	return nil
}

// overlapping returns an initialized controller whose logical numbers
// intersect those of c.
func (s *Subsystem) overlapping(c *Controller) *Controller {
	start, end := int(c.irqOffset), int(c.irqOffset)+c.lines
	for i := range s.controllers {
		o := &s.controllers[i]
		if o == c || o.dist == nil {
			continue
		}
		if start < int(o.irqOffset)+o.lines && int(o.irqOffset) < end {
			return o
		}
	}
	return nil
}

// distInit configures the shared lines of c and registers them with the
// IRQ core.
func (s *Subsystem) distInit(cpu *smp.CPU, c *Controller, irqStart irq.Number) error {
	cpumask := uint32(1) << cpu.ID()
	cpumask |= cpumask << 8
	cpumask |= cpumask << 16

	c.dist.WriteRelaxed32(cpu, distCtrl, 0)

	// Number of implemented IDs, including the 32 local ones. ID 1020 and
	// up are reserved.
	c.lines = linesFromTyper(c.dist.Read32(cpu, distCtr))
	if other := s.overlapping(c); other != nil {
		return fmt.Errorf("interrupt numbers %d-%d overlap instance %d (%d-%d)",
			c.irqOffset, int(c.irqOffset)+c.lines-1,
			other.index, other.irqOffset, int(other.irqOffset)+other.lines-1)
	}

	if s.opts.FIQ {
		// Everything but FIQ sources is Group 1.
		for i := 32; i < c.lines; i += 32 {
			c.dist.WriteRelaxed32(cpu, distGroup+uint32(i*4/32), 0xffffffff)
		}
	}

	// Shared lines are level triggered, active high.
	for i := 32; i < c.lines; i += 16 {
		c.dist.WriteRelaxed32(cpu, distConfig+uint32(i*4/16), 0)
	}

	// Route to the calling CPU.
	for i := 32; i < c.lines; i += 4 {
		c.dist.WriteRelaxed32(cpu, distTarget+uint32(i*4/4), cpumask)
	}

	for i := 32; i < c.lines; i += 4 {
		c.dist.WriteRelaxed32(cpu, distPri+uint32(i*4/4), defaultPriorityWord)
	}

	for i := 32; i < c.lines; i += 32 {
		c.dist.WriteRelaxed32(cpu, distEnableClear+uint32(i*4/32), 0xffffffff)
	}

	limit := int(c.irqOffset) + c.lines
	if limit > s.core.NR() {
		s.logger.Warn("gic: interrupt numbers beyond the IRQ table are not registered",
			slog.Int("instance", c.index),
			slog.Int("limit", limit),
			slog.Int("nr_irqs", s.core.NR()))
		limit = s.core.NR()
	}
	for i := int(irqStart); i < limit; i++ {
		n := irq.Number(i)
		if err := s.core.SetChipAndHandler(n, s.chip, s.core.HandleFastEOI); err != nil {
			return fmt.Errorf("register %v: %w", n, err)
		}
		if err := s.core.SetChipData(n, c); err != nil {
			return fmt.Errorf("register %v: %w", n, err)
		}
		if err := s.core.SetFlags(n, irq.FlagValid|irq.FlagProbe); err != nil {
			return fmt.Errorf("register %v: %w", n, err)
		}
	}

	ctrl := uint32(1)
	if s.opts.FIQ {
		ctrl = 3
	}
	c.dist.WriteRelaxed32(cpu, distCtrl, ctrl)
	return nil
}
