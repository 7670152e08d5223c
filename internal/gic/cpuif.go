package gic

import (
	"github.com/tinyrange/irqchip/internal/debug"
	"github.com/tinyrange/irqchip/internal/irq"
	"github.com/tinyrange/irqchip/internal/smp"
)

// Acknowledge reads the interrupt acknowledge register of c on cpu. The
// low ten bits hold the interrupt ID; SpuriousIRQ means nothing is pending.
func (c *Controller) Acknowledge(cpu *smp.CPU) uint32 {
	return c.cpu.ReadRelaxed32(cpu, cpuIntAck)
}

// eoi completes d on the calling CPU. Without an EOI hook no lock is
// taken: the CPU Interface is banked and the write is not shared.
func (s *Subsystem) eoi(cpu *smp.CPU, d *irq.Data) {
	c := chipController(d)
	if s.hooks.EOI != nil {
		s.lock.Lock()
		_ = s.hooks.eoi(cpu, d)
		s.lock.Unlock()
	}
	c.cpu.WriteRelaxed32(cpu, cpuEOI, uint32(c.hwirq(d.Irq)))
}

// cpuInit configures the banked local lines and enables the CPU Interface
// of c for cpu.
func (s *Subsystem) cpuInit(cpu *smp.CPU, c *Controller) {
	if s.opts.FIQ {
		c.dist.WriteRelaxed32(cpu, distGroup, 0xffffffff)
	}

	// PPIs off, SGIs always on.
	c.dist.WriteRelaxed32(cpu, distEnableClear, 0xffff0000)
	c.dist.WriteRelaxed32(cpu, distEnableSet, 0x0000ffff)

	for i := uint32(0); i < 32; i += 4 {
		c.dist.WriteRelaxed32(cpu, distPri+i, defaultPriorityWord)
	}

	c.cpu.WriteRelaxed32(cpu, cpuPrimask, defaultPriorityMask)
	if s.opts.FIQ {
		c.cpu.WriteRelaxed32(cpu, cpuCtrl,
			cpuCtrlEnableGrp0|cpuCtrlEnableGrp1|cpuCtrlAckCtl|cpuCtrlFIQEn|cpuCtrlCBPR)
	} else {
		c.cpu.WriteRelaxed32(cpu, cpuCtrl, 1)
	}
}

// HandleIRQ services the primary controller on cpu until it reports
// nothing pending, returning the number of interrupts taken. Software
// generated interrupts are completed and passed to the IPI handler; every
// other ID is dispatched through the IRQ core, whose flow handler
// completes it.
func (s *Subsystem) HandleIRQ(cpu *smp.CPU) int {
	c := &s.controllers[0]
	if c.cpu == nil {
		return 0
	}
	taken := 0
	for {
		stat := c.Acknowledge(cpu)
		h := HwIRQ(stat & ackIDMask)
		switch {
		case h > 15 && h < MaxLines+1:
			taken++
			_ = s.core.GenericHandle(cpu, c.logical(h))
		case h < 16:
			taken++
			c.cpu.WriteRelaxed32(cpu, cpuEOI, stat)
			source := int(stat>>10) & 0x7
			if ipi := s.ipiHandler(); ipi != nil {
				ipi(cpu, h, source)
			} else {
				debug.Writef("gic ipi dropped", "%v sgi %d from cpu%d", cpu, h, source)
			}
		default:
			return taken
		}
	}
}
