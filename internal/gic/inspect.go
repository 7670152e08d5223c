package gic

import (
	"github.com/tinyrange/irqchip/internal/irq"
	"github.com/tinyrange/irqchip/internal/smp"
)

// LineState is the Distributor's view of one interrupt line.
type LineState struct {
	Hw  HwIRQ
	IRQ irq.Number

	Group1  bool
	Enabled bool
	Pending bool
	Active  bool
	Edge    bool

	Priority uint8
	Targets  smp.Mask
}

// Lines reads the state of every implemented line of instance. Banked
// lines are reported as cpu sees them.
func (s *Subsystem) Lines(cpu *smp.CPU, instance int) ([]LineState, error) {
	c, err := s.initialized(instance)
	if err != nil {
		return nil, err
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	words := func(base uint32, n int) []uint32 {
		out := make([]uint32, n)
		for i := range out {
			out[i] = c.dist.ReadRelaxed32(cpu, base+uint32(i*4))
		}
		return out
	}
	group := words(distGroup, (c.lines+31)/32)
	enable := words(distEnableSet, (c.lines+31)/32)
	pending := words(distPendingSet, (c.lines+31)/32)
	active := words(distActiveSet, (c.lines+31)/32)
	pri := words(distPri, (c.lines+3)/4)
	target := words(distTarget, (c.lines+3)/4)
	config := words(distConfig, (c.lines+15)/16)

	out := make([]LineState, c.lines)
	for i := range out {
		h := HwIRQ(i)
		out[i] = LineState{
			Hw:       h,
			IRQ:      c.logical(h),
			Group1:   group[i/32]&bitMask(h) != 0,
			Enabled:  enable[i/32]&bitMask(h) != 0,
			Pending:  pending[i/32]&bitMask(h) != 0,
			Active:   active[i/32]&bitMask(h) != 0,
			Edge:     (config[i/16]>>cfgShift(h))&0x2 != 0,
			Priority: uint8(pri[i/4] >> byteShift(h)),
			Targets:  smp.Mask(uint8(target[i/4] >> byteShift(h))),
		}
	}
	return out, c.dist.Err()
}
