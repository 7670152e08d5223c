package gic

import (
	"fmt"

	"github.com/tinyrange/irqchip/internal/debug"
	"github.com/tinyrange/irqchip/internal/irq"
	"github.com/tinyrange/irqchip/internal/smp"
)

const (
	// FIQPriority is given to lines routed to Group 0 so they preempt
	// every Group 1 interrupt at DefaultPriority.
	FIQPriority = 0x20
)

// fiqPriWords holds, for each position of a line inside its priority
// word, the byte lane it owns and the lane value for FIQ and normal use.
var fiqPriWords = [4]struct {
	lane, fiq, normal uint32
}{
	{0x000000ff, FIQPriority << 0, DefaultPriority << 0},
	{0x0000ff00, FIQPriority << 8, DefaultPriority << 8},
	{0x00ff0000, FIQPriority << 16, DefaultPriority << 16},
	{0xff000000, FIQPriority << 24, DefaultPriority << 24},
}

// EnableFIQ routes n to Group 0 (FIQ) when enable is set and back to
// Group 1 otherwise, on every present CPU. FIQs are unmasked on the
// calling CPU either way.
func (s *Subsystem) EnableFIQ(cpu *smp.CPU, n irq.Number, enable bool) error {
	if !s.opts.FIQ {
		return fmt.Errorf("%w: fiq", ErrFeatureDisabled)
	}
	c, err := s.controllerFor(n)
	if err != nil {
		return err
	}
	h := c.hwirq(n)
	groupOff := distGroup + bitWord(h)
	priOff := distPri + byteWord(h)
	pri := fiqPriWords[h&3]

	s.lock.Lock()
	s.topo.Present().Each(func(id int) {
		target := s.topo.CPU(id)
		group := c.dist.ReadRelaxed32(target, groupOff)
		val := c.dist.ReadRelaxed32(target, priOff) &^ pri.lane
		if enable {
			group &^= bitMask(h)
			val |= pri.fiq
		} else {
			group |= bitMask(h)
			val |= pri.normal
		}
		c.dist.WriteRelaxed32(target, groupOff, group)
		c.dist.WriteRelaxed32(target, priOff, val)
	})
	s.lock.Unlock()

	cpu.LocalFIQEnable()
	debug.Writef("gic fiq", "%v group0=%v", n, enable)
	return c.dist.Err()
}
