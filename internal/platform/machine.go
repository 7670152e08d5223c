package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tinyrange/irqchip/internal/chipset"
	"github.com/tinyrange/irqchip/internal/gic"
	"github.com/tinyrange/irqchip/internal/gicsim"
	"github.com/tinyrange/irqchip/internal/hv"
	"github.com/tinyrange/irqchip/internal/irq"
	"github.com/tinyrange/irqchip/internal/mmio"
	"github.com/tinyrange/irqchip/internal/smp"
	"golang.org/x/sync/errgroup"
)

// DefaultMMIOBase is where automatically placed register frames start.
const DefaultMMIOBase = 0x2c00_0000

var (
	ErrNotBooted   = errors.New("platform: machine not booted")
	ErrNoSimulator = errors.New("platform: no simulated hardware behind the bus")
	ErrUnknownLine = errors.New("platform: line not wired to a controller")
)

// Options configures Build.
type Options struct {
	Logger *slog.Logger
	// Bus replaces the simulated controllers, e.g. with /dev/mem.
	Bus mmio.Bus
	// Trace records every register access in Recorder().
	Trace bool
	Hooks gic.ArchHooks
}

// Layout is where one controller's register frames live.
type Layout struct {
	Name string
	Dist hv.MMIORegion
	CPU  hv.MMIORegion
}

// Machine is a board with its interrupt controllers wired up.
type Machine struct {
	board  *Board
	logger *slog.Logger

	topo *smp.Topology
	core *irq.Core
	gic  *gic.Subsystem

	chipset *chipset.Chipset
	sims    []*gicsim.Device
	inputs  []*chipset.LineSet
	rec     *mmio.Recorder

	layout []Layout
	dists  []*mmio.Window
	cpus   []*mmio.Window

	// pins are the nIRQ inputs of each processor, driven by instance 0.
	pins []atomic.Bool

	mu        sync.Mutex
	booted    bool
	suspended bool

	ipis []atomic.Uint64
}

// Build lays out the address map, creates the controller models (unless
// opts.Bus points at real hardware) and the driver. Nothing is touched
// until Boot.
func Build(board *Board, opts Options) (*Machine, error) {
	if err := board.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	topo, err := smp.NewTopology(board.CPUs)
	if err != nil {
		return nil, err
	}
	core := irq.New(irq.Options{NR: board.NRIRQs, Logger: logger})
	m := &Machine{
		board:  board,
		logger: logger,
		topo:   topo,
		core:   core,
		gic: gic.New(core, topo, gic.Options{
			SMP:    board.Features.SMP,
			FIQ:    board.Features.FIQ,
			PM:     board.Features.PM,
			Hooks:  opts.Hooks,
			Logger: logger,
		}),
		pins: make([]atomic.Bool, board.CPUs),
		ipis: make([]atomic.Uint64, board.CPUs),
	}
	m.gic.SetIPIHandler(m.handleIPI)

	if m.layout, err = board.Layout(); err != nil {
		return nil, err
	}

	bus := opts.Bus
	if bus == nil {
		if err := m.buildChipset(); err != nil {
			return nil, err
		}
		bus = m.chipset
	}
	if opts.Trace {
		m.rec = mmio.NewRecorder(bus)
		bus = m.rec
	}
	for _, l := range m.layout {
		m.dists = append(m.dists, mmio.Map(bus, l.Dist.Address, gic.DistSize))
		m.cpus = append(m.cpus, mmio.Map(bus, l.CPU.Address, gic.CPUSize))
	}
	return m, nil
}

// Layout places the register frames of every controller: fixed bases from
// the board first, the rest allocated upwards from DefaultMMIOBase.
func (b *Board) Layout() ([]Layout, error) {
	as := hv.NewAddressSpace(DefaultMMIOBase)
	layout := make([]Layout, len(b.GICs))
	for i, g := range b.GICs {
		if g.DistBase == 0 {
			continue
		}
		if err := as.RegisterFixed(g.Name+"-dist", g.DistBase, gicsim.DistSize); err != nil {
			return nil, err
		}
		if err := as.RegisterFixed(g.Name+"-cpu", g.CPUBase, gicsim.CPUSize); err != nil {
			return nil, err
		}
		layout[i] = Layout{
			Name: g.Name,
			Dist: hv.MMIORegion{Address: g.DistBase, Size: gicsim.DistSize},
			CPU:  hv.MMIORegion{Address: g.CPUBase, Size: gicsim.CPUSize},
		}
	}
	for i, g := range b.GICs {
		if g.DistBase != 0 {
			continue
		}
		dist, err := as.Allocate(hv.MMIOAllocationRequest{Name: g.Name + "-dist", Size: gicsim.DistSize})
		if err != nil {
			return nil, err
		}
		cpu, err := as.Allocate(hv.MMIOAllocationRequest{Name: g.Name + "-cpu", Size: gicsim.CPUSize})
		if err != nil {
			return nil, err
		}
		layout[i] = Layout{
			Name: g.Name,
			Dist: hv.MMIORegion{Address: dist.Base, Size: gicsim.DistSize},
			CPU:  hv.MMIORegion{Address: cpu.Base, Size: gicsim.CPUSize},
		}
	}
	return layout, nil
}

func (m *Machine) buildChipset() error {
	builder := chipset.NewBuilder()
	for i, g := range m.board.GICs {
		sim, err := gicsim.New(gicsim.Config{
			Name:         g.Name,
			DistBase:     m.layout[i].Dist.Address,
			CPUBase:      m.layout[i].CPU.Address,
			Lines:        g.Lines,
			CPUs:         m.board.CPUs,
			ArchRev:      g.ArchRev,
			SecurityExtn: g.SecurityExtn,
			Output:       m.outputFor(i),
		})
		if err != nil {
			return err
		}
		if err := builder.RegisterDevice(g.Name, sim); err != nil {
			return err
		}
		m.sims = append(m.sims, sim)
		m.inputs = append(m.inputs, chipset.NewLineSet(sim))
	}
	cs, err := builder.Build()
	if err != nil {
		return err
	}
	if err := cs.Start(); err != nil {
		return err
	}
	m.chipset = cs
	return nil
}

// outputFor wires the request outputs of instance: the primary drives the
// processors, a cascaded controller drives the CPU 0 side into a shared
// input of its parent.
func (m *Machine) outputFor(instance int) gicsim.OutputSink {
	g := m.board.GICs[instance]
	if g.Cascade == nil {
		return gicsim.OutputFunc(func(cpu int, level bool) {
			m.pins[cpu].Store(level)
		})
	}
	parent := g.Cascade.Parent
	hw, _ := m.board.spiOf(parent, g.Cascade.IRQ)
	return gicsim.OutputFunc(func(cpu int, level bool) {
		if cpu != 0 {
			return
		}
		m.inputs[parent].AllocateLine(hw).SetLevel(level)
	})
}

// Board returns the description the machine was built from.
func (m *Machine) Board() *Board { return m.board }

func (m *Machine) Topology() *smp.Topology { return m.topo }
func (m *Machine) Core() *irq.Core         { return m.core }
func (m *Machine) GIC() *gic.Subsystem     { return m.gic }

// Recorder returns the access log, or nil unless built with Trace.
func (m *Machine) Recorder() *mmio.Recorder { return m.rec }

// Layout returns the register frames of every controller.
func (m *Machine) Layout() []Layout { return append([]Layout(nil), m.layout...) }

// Simulator returns the model behind instance, or nil on real hardware.
func (m *Machine) Simulator(instance int) *gicsim.Device {
	if instance < 0 || instance >= len(m.sims) {
		return nil
	}
	return m.sims[instance]
}

// Simulated reports whether the controllers are models.
func (m *Machine) Simulated() bool { return m.chipset != nil }

// Booted reports whether Boot has completed.
func (m *Machine) Booted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.booted
}

// Boot initializes every controller on the boot CPU, wires the cascades
// and the board's devices, then brings the secondary CPUs up in parallel.
func (m *Machine) Boot(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.booted {
		return nil
	}

	boot := m.topo.Boot()
	for i, g := range m.board.GICs {
		if err := m.gic.Init(boot, i, irq.Number(g.IRQStart), m.dists[i], m.cpus[i]); err != nil {
			return err
		}
	}
	for i, g := range m.board.GICs {
		if g.Cascade == nil {
			continue
		}
		if err := m.gic.CascadeIRQ(boot, i, irq.Number(g.Cascade.IRQ)); err != nil {
			return err
		}
	}
	for _, d := range m.board.Devices {
		if err := m.attach(boot, d); err != nil {
			return fmt.Errorf("device %s: %w", d.Name, err)
		}
	}

	if err := m.startSecondaries(ctx); err != nil {
		return err
	}

	m.booted = true
	m.logger.Info("platform: booted",
		slog.String("board", m.board.Name),
		slog.Int("gics", len(m.board.GICs)),
		slog.String("online", m.topo.Online().String()))
	return nil
}

// startSecondaries runs SecondaryInit on every offline CPU in parallel and
// marks each one online as it comes up.
func (m *Machine) startSecondaries(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	online := m.topo.Online()
	for id := 1; id < m.topo.NumPossible(); id++ {
		if online.Has(id) {
			continue
		}
		cpu := m.topo.CPU(id)
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := m.gic.SecondaryInit(cpu, 0); err != nil {
				return err
			}
			m.topo.SetOnline(cpu.ID(), true)
			return nil
		})
	}
	return group.Wait()
}

// attach configures a device's line and installs its handler. Level
// devices are acknowledged by dropping their line, the way a driver would
// clear the device's status register.
func (m *Machine) attach(cpu *smp.CPU, d Device) error {
	n := irq.Number(d.IRQ)
	if t := d.Trigger.Type(); t != irq.TypeNone {
		if err := m.core.SetType(cpu, n, t); err != nil {
			return err
		}
	}
	if d.CPU != nil {
		if err := m.core.SetAffinity(cpu, n, smp.MaskOf(*d.CPU)); err != nil {
			return err
		}
	}
	return m.core.RequestIRQ(cpu, n, d.Name, func(cpu *smp.CPU, n irq.Number) irq.Return {
		if m.Simulated() {
			_ = m.Inject(n, false)
		}
		return irq.Handled
	})
}

func (m *Machine) handleIPI(cpu *smp.CPU, sgi gic.HwIRQ, source int) {
	m.ipis[cpu.ID()].Add(1)
}

// IPICount returns the number of software generated interrupts cpu has
// taken.
func (m *Machine) IPICount(cpu int) uint64 {
	if cpu < 0 || cpu >= len(m.ipis) {
		return 0
	}
	return m.ipis[cpu].Load()
}

// Pending reports whether the interrupt request input of cpu is asserted.
func (m *Machine) Pending(cpu int) bool {
	if cpu < 0 || cpu >= len(m.pins) {
		return false
	}
	return m.pins[cpu].Load()
}

// Service takes interrupts on cpu while its request input is asserted and
// returns how many were handled.
func (m *Machine) Service(cpu *smp.CPU) int {
	taken := 0
	for m.Pending(cpu.ID()) {
		n := m.gic.HandleIRQ(cpu)
		if n == 0 {
			break
		}
		taken += n
	}
	return taken
}

// ServiceAll services every online CPU until none has a request pending.
func (m *Machine) ServiceAll() int {
	taken := 0
	for {
		round := 0
		m.topo.Online().Each(func(id int) {
			round += m.Service(m.topo.CPU(id))
		})
		if round == 0 {
			return taken
		}
		taken += round
	}
}

// Inject drives the device input behind logical line n.
func (m *Machine) Inject(n irq.Number, level bool) error {
	if !m.Simulated() {
		return ErrNoSimulator
	}
	instance, hw, ok := m.board.Route(uint32(n))
	if !ok {
		return fmt.Errorf("%w: %v", ErrUnknownLine, n)
	}
	m.inputs[instance].AllocateLine(hw).SetLevel(level)
	return nil
}

// Pulse raises and drops the device input behind n.
func (m *Machine) Pulse(n irq.Number) error {
	if err := m.Inject(n, true); err != nil {
		return err
	}
	return m.Inject(n, false)
}

// InjectDevice drives the line of the named device.
func (m *Machine) InjectDevice(name string, level bool) error {
	d, ok := m.board.Device(name)
	if !ok {
		return fmt.Errorf("%w: no device %q", ErrUnknownLine, name)
	}
	return m.Inject(irq.Number(d.IRQ), level)
}

// SendIPI raises software generated interrupt sgi on every CPU in mask.
func (m *Machine) SendIPI(mask smp.Mask, sgi gic.HwIRQ) error {
	if !m.Booted() {
		return ErrNotBooted
	}
	return m.gic.RaiseSoftIRQ(m.topo.Boot(), mask, sgi)
}

// Close stops the simulated controllers.
func (m *Machine) Close() error {
	if m.chipset == nil {
		return nil
	}
	return m.chipset.Stop()
}
