package gic

import (
	"fmt"

	"github.com/tinyrange/irqchip/internal/irq"
	"github.com/tinyrange/irqchip/internal/smp"
)

func (s *Subsystem) localLine(n irq.Number) error {
	c, err := s.controllerFor(n)
	if err != nil {
		return err
	}
	if h := c.hwirq(n); !h.IsLocal() || h.IsSGI() {
		return fmt.Errorf("%w: %v is not a private peripheral interrupt", irq.ErrInvalid, n)
	}
	return nil
}

// EnablePPI unmasks private peripheral interrupt n on cpu with local
// interrupts disabled. The line is excluded from probing.
func (s *Subsystem) EnablePPI(cpu *smp.CPU, n irq.Number) error {
	if err := s.localLine(n); err != nil {
		return err
	}
	flags := cpu.LocalIRQSave()
	defer cpu.LocalIRQRestore(flags)
	if err := s.core.SetStatusFlags(n, irq.StatusNoProbe); err != nil {
		return err
	}
	return s.core.Unmask(cpu, n)
}

// DisablePPI masks private peripheral interrupt n on cpu.
func (s *Subsystem) DisablePPI(cpu *smp.CPU, n irq.Number) error {
	if err := s.localLine(n); err != nil {
		return err
	}
	flags := cpu.LocalIRQSave()
	defer cpu.LocalIRQRestore(flags)
	if err := s.core.SetStatusFlags(n, irq.StatusNoProbe); err != nil {
		return err
	}
	return s.core.Mask(cpu, n)
}
