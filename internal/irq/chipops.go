package irq

import (
	"fmt"

	"github.com/tinyrange/irqchip/internal/smp"
)

func (c *Core) chipFor(n Number) (*Desc, Chip, error) {
	desc, err := c.lookup(n)
	if err != nil {
		return nil, nil, err
	}
	chip, _, _ := desc.snapshot()
	if chip == nil {
		return nil, nil, fmt.Errorf("%w: %v has no chip", ErrInvalid, n)
	}
	return desc, chip, nil
}

// Mask disables delivery of n.
func (c *Core) Mask(cpu *smp.CPU, n Number) error {
	desc, chip, err := c.chipFor(n)
	if err != nil {
		return err
	}
	chip.Mask(cpu, &desc.data)
	desc.mu.Lock()
	desc.status |= StatusMasked
	desc.mu.Unlock()
	return nil
}

// Unmask enables delivery of n.
func (c *Core) Unmask(cpu *smp.CPU, n Number) error {
	desc, chip, err := c.chipFor(n)
	if err != nil {
		return err
	}
	desc.mu.Lock()
	desc.status &^= StatusMasked
	desc.mu.Unlock()
	chip.Unmask(cpu, &desc.data)
	return nil
}

// SetType changes the trigger type of n.
func (c *Core) SetType(cpu *smp.CPU, n Number, t Type) error {
	desc, chip, err := c.chipFor(n)
	if err != nil {
		return err
	}
	if err := chip.SetType(cpu, &desc.data, t); err != nil {
		return fmt.Errorf("%s: set type %v on %v: %w", chip.Name(), t, n, err)
	}
	return nil
}

// SetAffinity routes n to the CPUs in mask, as far as the chip can.
func (c *Core) SetAffinity(cpu *smp.CPU, n Number, mask smp.Mask) error {
	desc, chip, err := c.chipFor(n)
	if err != nil {
		return err
	}
	ac, ok := chip.(AffinityChip)
	if !ok {
		return fmt.Errorf("%w: %s cannot route %v", ErrNotSupported, chip.Name(), n)
	}
	if err := ac.SetAffinity(cpu, &desc.data, mask, false); err != nil {
		return fmt.Errorf("%s: set affinity %v on %v: %w", chip.Name(), mask, n, err)
	}
	return nil
}

// SetWake arms or disarms n as a wakeup source.
func (c *Core) SetWake(cpu *smp.CPU, n Number, on bool) error {
	desc, chip, err := c.chipFor(n)
	if err != nil {
		return err
	}
	wc, ok := chip.(WakeChip)
	if !ok {
		return fmt.Errorf("%w: %s has no wake support", ErrNotSupported, chip.Name())
	}
	if err := wc.SetWake(cpu, &desc.data, on); err != nil {
		return err
	}
	desc.mu.Lock()
	if on {
		desc.status |= StatusWakeup
	} else {
		desc.status &^= StatusWakeup
	}
	desc.mu.Unlock()
	return nil
}

// Retrigger asks the chip to resend n.
func (c *Core) Retrigger(cpu *smp.CPU, n Number) error {
	desc, chip, err := c.chipFor(n)
	if err != nil {
		return err
	}
	return chip.Retrigger(cpu, &desc.data)
}
