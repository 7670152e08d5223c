package gic

import (
	"errors"

	"github.com/tinyrange/irqchip/internal/irq"
	"github.com/tinyrange/irqchip/internal/smp"
)

// ErrHookAbsent is returned by the hook helpers when the platform did not
// install that hook.
var ErrHookAbsent = errors.New("gic: architecture hook not installed")

// ArchHooks lets a platform interpose on chip operations, for example to
// mirror mask state into an external wakeup controller. Every field is
// optional. Hooks run under the subsystem lock.
type ArchHooks struct {
	Mask      func(cpu *smp.CPU, d *irq.Data)
	Unmask    func(cpu *smp.CPU, d *irq.Data)
	EOI       func(cpu *smp.CPU, d *irq.Data)
	SetType   func(cpu *smp.CPU, d *irq.Data, t irq.Type) error
	SetWake   func(cpu *smp.CPU, d *irq.Data, on bool) error
	Retrigger func(cpu *smp.CPU, d *irq.Data) error
}

func (h *ArchHooks) mask(cpu *smp.CPU, d *irq.Data) error {
	if h.Mask == nil {
		return ErrHookAbsent
	}
	h.Mask(cpu, d)
	return nil
}

func (h *ArchHooks) unmask(cpu *smp.CPU, d *irq.Data) error {
	if h.Unmask == nil {
		return ErrHookAbsent
	}
	h.Unmask(cpu, d)
	return nil
}

func (h *ArchHooks) eoi(cpu *smp.CPU, d *irq.Data) error {
	if h.EOI == nil {
		return ErrHookAbsent
	}
	h.EOI(cpu, d)
	return nil
}

func (h *ArchHooks) setType(cpu *smp.CPU, d *irq.Data, t irq.Type) error {
	if h.SetType == nil {
		return ErrHookAbsent
	}
	return h.SetType(cpu, d, t)
}

func (h *ArchHooks) setWake(cpu *smp.CPU, d *irq.Data, on bool) error {
	if h.SetWake == nil {
		return ErrHookAbsent
	}
	return h.SetWake(cpu, d, on)
}

func (h *ArchHooks) retrigger(cpu *smp.CPU, d *irq.Data) error {
	if h.Retrigger == nil {
		return ErrHookAbsent
	}
	return h.Retrigger(cpu, d)
}

// notSupported maps an absent hook to irq.ErrNotSupported and passes any
// other result through.
func notSupported(err error) error {
	if errors.Is(err, ErrHookAbsent) {
		return irq.ErrNotSupported
	}
	return err
}
