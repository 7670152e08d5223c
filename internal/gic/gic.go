// Package gic drives ARM Generic Interrupt Controllers (GICv1/v2
// programming model): the shared Distributor, the banked per-CPU
// Interfaces, the chip callbacks the generic IRQ layer uses, cascading of
// secondary controllers, power-state save/restore and optional FIQ routing.
//
// All register access goes through mmio windows. Every operation takes the
// CPU it runs on; banked registers resolve to that CPU's copy.
package gic

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tinyrange/irqchip/internal/debug"
	"github.com/tinyrange/irqchip/internal/irq"
	"github.com/tinyrange/irqchip/internal/mmio"
	"github.com/tinyrange/irqchip/internal/smp"
)

// MaxInstances is the number of controllers the subsystem can hold.
const MaxInstances = 2

var (
	// ErrFatalInit reports a configuration or hardware mismatch found while
	// bringing a controller up. There is no partially initialized state to
	// continue from; callers abort.
	ErrFatalInit = errors.New("gic: fatal initialization error")
	// ErrFeatureDisabled is returned by entry points of features the
	// subsystem was built without.
	ErrFeatureDisabled = errors.New("gic: feature not enabled")
	// ErrNoController is returned when an instance or line has no
	// initialized controller.
	ErrNoController = errors.New("gic: no controller")
)

// Options selects the optional features of a Subsystem.
type Options struct {
	// SMP enables affinity routing and software generated interrupts.
	SMP bool
	// FIQ moves ordinary interrupts to Group 1 and enables Group 0 FIQ
	// delivery. It requires hardware with the Security Extensions.
	FIQ bool
	// PM exposes wake configuration through the chip.
	PM bool

	Hooks  ArchHooks
	Logger *slog.Logger
}

// IPIHandler receives software generated interrupts taken by HandleIRQ.
type IPIHandler func(cpu *smp.CPU, sgi HwIRQ, source int)

// Controller is one GIC instance.
type Controller struct {
	index     int
	irqOffset irq.Number
	dist      *mmio.Window
	cpu       *mmio.Window
	lines     int
}

// Index returns the instance number.
func (c *Controller) Index() int { return c.index }

// IRQOffset returns the logical number of hardware ID 0.
func (c *Controller) IRQOffset() irq.Number { return c.irqOffset }

// Lines returns the number of interrupt IDs discovered at init.
func (c *Controller) Lines() int { return c.lines }

// Dist returns the Distributor window.
func (c *Controller) Dist() *mmio.Window { return c.dist }

// CPUInterface returns the CPU Interface window.
func (c *Controller) CPUInterface() *mmio.Window { return c.cpu }

// Owns reports whether logical number n maps to one of c's lines.
func (c *Controller) Owns(n irq.Number) bool {
	return c.dist != nil && n >= c.irqOffset && int(n-c.irqOffset) < c.lines
}

// HwIRQ returns the controller-local ID of n. n must be owned by c.
func (c *Controller) HwIRQ(n irq.Number) HwIRQ { return c.hwirq(n) }

// Logical returns the logical number of controller-local ID h.
func (c *Controller) Logical(h HwIRQ) irq.Number { return c.logical(h) }

// Subsystem holds every controller together with the lock that
// serializes register read-modify-write sequences across all of them.
type Subsystem struct {
	lock sync.Mutex

	core   *irq.Core
	topo   *smp.Topology
	opts   Options
	hooks  ArchHooks
	logger *slog.Logger
	chip   irq.Chip

	controllers [MaxInstances]Controller

	ipiMu sync.RWMutex
	ipi   IPIHandler
}

// New creates a subsystem that registers its lines with core.
func New(core *irq.Core, topo *smp.Topology, opts Options) *Subsystem {
	logger := opts.Logger
	if logger == nil {
		logger = core.Logger()
	}
	s := &Subsystem{
		core:   core,
		topo:   topo,
		opts:   opts,
		hooks:  opts.Hooks,
		logger: logger,
	}
	for i := range s.controllers {
		s.controllers[i].index = i
	}
	s.chip = newChip(s)
	return s
}

// Chip returns the chip registered for every line the subsystem owns.
func (s *Subsystem) Chip() irq.Chip { return s.chip }

// Options returns the features the subsystem was built with.
func (s *Subsystem) Options() Options { return s.opts }

// Controller returns instance i, or nil when i is out of range.
func (s *Subsystem) Controller(i int) *Controller {
	if i < 0 || i >= MaxInstances {
		return nil
	}
	return &s.controllers[i]
}

// SetIPIHandler installs the handler HandleIRQ delivers SGIs to.
func (s *Subsystem) SetIPIHandler(h IPIHandler) {
	s.ipiMu.Lock()
	defer s.ipiMu.Unlock()
	s.ipi = h
}

func (s *Subsystem) ipiHandler() IPIHandler {
	s.ipiMu.RLock()
	defer s.ipiMu.RUnlock()
	return s.ipi
}

// controllerFor returns the initialized controller owning n.
func (s *Subsystem) controllerFor(n irq.Number) (*Controller, error) {
	for i := range s.controllers {
		if c := &s.controllers[i]; c.Owns(n) {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrNoController, n)
}

// ControllerFor returns the controller owning logical number n.
func (s *Subsystem) ControllerFor(n irq.Number) (*Controller, error) {
	return s.controllerFor(n)
}

// chipController returns the controller stored as chip data on d.
func chipController(d *irq.Data) *Controller {
	c, _ := d.ChipData().(*Controller)
	return c
}

func (s *Subsystem) initialized(instance int) (*Controller, error) {
	c := s.Controller(instance)
	if c == nil || c.dist == nil {
		return nil, fmt.Errorf("%w: instance %d", ErrNoController, instance)
	}
	return c, nil
}

// Init brings up instance on the calling CPU: the Distributor is
// configured and every line from firstIRQ up is registered with the IRQ
// core, then the calling CPU's interface is enabled.
func (s *Subsystem) Init(cpu *smp.CPU, instance int, firstIRQ irq.Number, dist, cpuif *mmio.Window) error {
	if instance < 0 || instance >= MaxInstances {
		return fmt.Errorf("%w: instance %d (max %d)", ErrFatalInit, instance, MaxInstances)
	}
	if dist == nil || cpuif == nil {
		return fmt.Errorf("%w: instance %d: %w", ErrFatalInit, instance, mmio.ErrNilWindow)
	}
	if cpu.ID() >= maxTargetCPUs {
		return fmt.Errorf("%w: %v has no target bit", ErrFatalInit, cpu)
	}
	c := &s.controllers[instance]
	if c.dist != nil {
		return fmt.Errorf("%w: instance %d already initialized", ErrFatalInit, instance)
	}

	c.irqOffset = IRQOffset(firstIRQ)
	c.dist = dist
	c.cpu = cpuif

	// A controller that failed to come up must not answer for any line.
	fail := func(err error) error {
		c.dist, c.cpu, c.lines = nil, nil, 0
		return err
	}

	if s.opts.FIQ {
		if err := s.checkSecurity(cpu, c); err != nil {
			return fail(err)
		}
	}

	if err := s.distInit(cpu, c, firstIRQ); err != nil {
		return fail(fmt.Errorf("%w: instance %d: %w", ErrFatalInit, instance, err))
	}
	s.cpuInit(cpu, c)

	for _, w := range []*mmio.Window{dist, cpuif} {
		if err := w.Err(); err != nil {
			return fail(fmt.Errorf("%w: instance %d: %w", ErrFatalInit, instance, err))
		}
	}

	debug.Writef("gic init", "instance %d offset %d lines %d", instance, c.irqOffset, c.lines)
	s.logger.Info("gic: controller initialized",
		slog.Int("instance", instance),
		slog.Uint64("irq_offset", uint64(c.irqOffset)),
		slog.Int("lines", c.lines),
		slog.String("dist", dist.String()),
		slog.String("cpu", cpuif.String()))
	return nil
}

// checkSecurity verifies the hardware can separate Group 0 from Group 1.
func (s *Subsystem) checkSecurity(cpu *smp.CPU, c *Controller) error {
	typer := c.dist.Read32(cpu, distCtr)
	if typer&typerSecurityExtn == 0 {
		return fmt.Errorf("%w: instance %d lacks the security extensions (TYPER %#x)", ErrFatalInit, c.index, typer)
	}
	rev := (c.dist.Read32(cpu, distPeripheralID2) >> pidr2ArchRevShift) & pidr2ArchRevMask
	if rev != archRevGICv2 {
		return fmt.Errorf("%w: instance %d architecture revision %d, want %d", ErrFatalInit, c.index, rev, archRevGICv2)
	}
	return nil
}

// SecondaryInit enables the CPU Interface of instance on a secondary CPU.
// The Distributor is shared and was configured by Init.
func (s *Subsystem) SecondaryInit(cpu *smp.CPU, instance int) error {
	if instance < 0 || instance >= MaxInstances {
		return fmt.Errorf("%w: instance %d (max %d)", ErrFatalInit, instance, MaxInstances)
	}
	c, err := s.initialized(instance)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFatalInit, err)
	}
	s.cpuInit(cpu, c)
	for _, w := range []*mmio.Window{c.dist, c.cpu} {
		if err := w.Err(); err != nil {
			return fmt.Errorf("%w: instance %d on %v: %w", ErrFatalInit, instance, cpu, err)
		}
	}
	debug.Writef("gic secondary init", "instance %d %v", instance, cpu)
	return nil
}
