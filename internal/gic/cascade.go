package gic

import (
	"fmt"

	"github.com/tinyrange/irqchip/internal/irq"
	"github.com/tinyrange/irqchip/internal/smp"
)

// CascadeIRQ feeds the output of instance into logical line parent of the
// primary controller. The line becomes a chained line and is unmasked.
func (s *Subsystem) CascadeIRQ(cpu *smp.CPU, instance int, parent irq.Number) error {
	if instance < 0 || instance >= MaxInstances {
		return fmt.Errorf("%w: cascade of instance %d (max %d)", ErrFatalInit, instance, MaxInstances)
	}
	c := &s.controllers[instance]
	if err := s.core.SetHandlerData(parent, c); err != nil {
		return fmt.Errorf("%w: cascade instance %d on %v: %w", ErrFatalInit, instance, parent, err)
	}
	if err := s.core.SetChainedHandler(cpu, parent, s.cascadeDispatch); err != nil {
		return fmt.Errorf("%w: cascade instance %d on %v: %w", ErrFatalInit, instance, parent, err)
	}
	return nil
}

// cascadeDispatch runs on the parent line when a secondary controller
// signals. Only the acknowledge read is done under the lock; the nested
// dispatch may take it again.
func (s *Subsystem) cascadeDispatch(cpu *smp.CPU, desc *irq.Desc) {
	c, _ := desc.HandlerData().(*Controller)

	irq.ChainedEnter(cpu, desc)
	defer irq.ChainedExit(cpu, desc)

	if c == nil || c.cpu == nil {
		s.core.HandleBad(cpu, desc.Irq(), desc)
		return
	}

	s.lock.Lock()
	status := c.Acknowledge(cpu)
	s.lock.Unlock()

	h := HwIRQ(status & ackIDMask)
	if h == SpuriousIRQ {
		return
	}

	n := c.logical(h)
	if h < 32 || h > MaxLines || int(n) >= s.core.NR() {
		s.core.HandleBad(cpu, n, desc)
		return
	}
	_ = s.core.GenericHandle(cpu, n)
}
