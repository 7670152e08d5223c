// Package gicsim is a software model of a GICv2 interrupt controller: a
// Distributor shared by all processors and one CPU Interface per processor,
// with SGI/PPI state banked per CPU.
package gicsim

import (
	"fmt"
	"sync"

	"github.com/tinyrange/irqchip/internal/chipset"
	"github.com/tinyrange/irqchip/internal/hv"
)

const (
	// DistSize and CPUSize are the sizes of the two register frames.
	DistSize = 0x1000
	CPUSize  = 0x2000

	// MaxLines is the architectural interrupt ID limit.
	MaxLines = 1020
	// SpuriousID is returned by IAR when nothing can be acknowledged.
	SpuriousID = 1023

	MaxCPUs = 8

	// DefaultLines is the line count of a model configured without one.
	DefaultLines = 96

	idleRunningPriority = 0xff
)

// ArchRev values reported in PIDR2 bits [7:4].
const (
	ArchRevGICv1 = 1
	ArchRevGICv2 = 2
)

// OutputSink observes the per-CPU interrupt request output. A cascaded
// controller's sink drives an input of its parent.
//
// The sink is called with the model's lock held and must not access the
// same model.
type OutputSink interface {
	SetOutput(cpu int, level bool)
}

// OutputFunc adapts a function to OutputSink.
type OutputFunc func(cpu int, level bool)

func (f OutputFunc) SetOutput(cpu int, level bool) { f(cpu, level) }

// Config describes the modeled implementation.
type Config struct {
	Name     string
	DistBase uint64
	CPUBase  uint64

	// Lines is the number of implemented interrupt IDs, rounded up to a
	// multiple of 32. Zero means DefaultLines.
	Lines int
	// CPUs is the number of CPU interfaces, 1..8.
	CPUs int

	ArchRev      uint32
	SecurityExtn bool

	Output OutputSink
}

func (c Config) withDefaults() Config {
	if c.Lines == 0 {
		c.Lines = DefaultLines
	}
	if c.CPUs == 0 {
		c.CPUs = 1
	}
	if c.ArchRev == 0 {
		c.ArchRev = ArchRevGICv2
	}
	if c.Name == "" {
		c.Name = "gic"
	}
	return c
}

// Validate checks the configuration against what the architecture allows.
func (c Config) Validate() error {
	c = c.withDefaults()
	if c.Lines < 32 || c.Lines > 1024 || c.Lines%32 != 0 {
		return fmt.Errorf("gicsim %s: lines %d must be a multiple of 32 in [32, 1024]", c.Name, c.Lines)
	}
	if c.CPUs < 1 || c.CPUs > MaxCPUs {
		return fmt.Errorf("gicsim %s: cpus %d out of range [1, %d]", c.Name, c.CPUs, MaxCPUs)
	}
	if c.ArchRev > 0xf {
		return fmt.Errorf("gicsim %s: arch revision %d does not fit PIDR2", c.Name, c.ArchRev)
	}
	dist := hv.MMIORegion{Address: c.DistBase, Size: DistSize}
	cpu := hv.MMIORegion{Address: c.CPUBase, Size: CPUSize}
	if dist.Address < cpu.End() && cpu.Address < dist.End() {
		return fmt.Errorf("gicsim %s: distributor and cpu interface frames overlap", c.Name)
	}
	return nil
}

// bank is the per-CPU copy of the banked Distributor state for IDs 0-31,
// plus that processor's CPU Interface.
type bank struct {
	group   uint32
	enable  uint32
	pending uint32
	active  uint32
	cfg1    uint32

	priority  [32]uint8
	sgiSource [16]uint8
	ppiLevel  uint32

	ctlr uint32
	pmr  uint32
	bpr  uint32
	abpr uint32

	running []runningIRQ
	output  bool
}

type runningIRQ struct {
	id       uint32
	priority uint8
}

// Device is a modeled GICv2.
type Device struct {
	cfg Config

	mu sync.Mutex

	ctlr uint32

	// Word arrays cover every implemented ID; index 0 is unused because
	// word 0 lives in the banks.
	group   []uint32
	enable  []uint32
	pending []uint32
	active  []uint32
	icfgr   []uint32

	priority []uint8
	target   []uint8
	level    []bool

	banks []*bank

	running bool
}

// New creates a powered-off (reset) model.
func New(cfg Config) (*Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	d := &Device{cfg: cfg}
	d.level = make([]bool, cfg.Lines)
	d.powerOn()
	return d, nil
}

func (d *Device) powerOn() {
	words := d.cfg.Lines / 32
	d.ctlr = 0
	d.group = make([]uint32, words)
	d.enable = make([]uint32, words)
	d.pending = make([]uint32, words)
	d.active = make([]uint32, words)
	d.icfgr = make([]uint32, d.cfg.Lines/16)
	d.priority = make([]uint8, d.cfg.Lines)
	d.target = make([]uint8, d.cfg.Lines)
	d.banks = make([]*bank, d.cfg.CPUs)
	for i := range d.banks {
		d.banks[i] = &bank{}
	}
	// Level inputs are external and survive power loss.
	for id := 32; id < d.cfg.Lines; id++ {
		if d.level[id] {
			d.setPendingLocked(nil, uint32(id))
		}
	}
}

// Name returns the configured instance name.
func (d *Device) Name() string { return d.cfg.Name }

// Config returns the configuration the model was built with.
func (d *Device) Config() Config { return d.cfg }

// DistRegion and CPURegion return the register frames.
func (d *Device) DistRegion() hv.MMIORegion {
	return hv.MMIORegion{Address: d.cfg.DistBase, Size: DistSize}
}

func (d *Device) CPURegion() hv.MMIORegion {
	return hv.MMIORegion{Address: d.cfg.CPUBase, Size: CPUSize}
}

// Init implements hv.Device.
func (d *Device) Init() error { return nil }

// Start implements chipset.ChangeDeviceState.
func (d *Device) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running = true
	return nil
}

// Stop implements chipset.ChangeDeviceState.
func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running = false
	return nil
}

// Reset models a power cycle: every register returns to its reset value.
func (d *Device) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	outputs := make([]bool, len(d.banks))
	for i, b := range d.banks {
		outputs[i] = b.output
	}
	d.powerOn()
	for i, b := range d.banks {
		b.output = outputs[i]
	}
	d.updateLocked()
	return nil
}

// SupportsMmio implements chipset.ChipsetDevice.
func (d *Device) SupportsMmio() *chipset.MmioIntercept {
	return &chipset.MmioIntercept{
		Regions: d.MMIORegions(),
		Handler: d,
	}
}

func (d *Device) bankFor(ctx hv.ExitContext) (*bank, int, error) {
	cpu := 0
	if ctx != nil {
		cpu = ctx.CPU()
	}
	if cpu < 0 || cpu >= len(d.banks) {
		return nil, 0, fmt.Errorf("gicsim %s: access from cpu %d without an interface", d.cfg.Name, cpu)
	}
	return d.banks[cpu], cpu, nil
}

// ReadMMIO implements chipset.MmioHandler.
func (d *Device) ReadMMIO(ctx hv.ExitContext, addr uint64, data []byte) error {
	if len(data) != 4 || addr&3 != 0 {
		return fmt.Errorf("%w: %d bytes at 0x%x", hv.ErrAccessSize, len(data), addr)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	b, cpu, err := d.bankFor(ctx)
	if err != nil {
		return err
	}
	var value uint32
	switch {
	case d.DistRegion().Contains(addr, 4):
		value = d.readDist(b, cpu, uint32(addr-d.cfg.DistBase))
	case d.CPURegion().Contains(addr, 4):
		value = d.readCPU(b, cpu, uint32(addr-d.cfg.CPUBase))
		// IAR reads change state.
		d.updateLocked()
	default:
		return fmt.Errorf("%w: read from 0x%X", hv.ErrUnhandledAccess, addr)
	}
	hv.WriteU32LE(data, value)
	return nil
}

// WriteMMIO implements chipset.MmioHandler.
func (d *Device) WriteMMIO(ctx hv.ExitContext, addr uint64, data []byte) error {
	if len(data) != 4 || addr&3 != 0 {
		return fmt.Errorf("%w: %d bytes at 0x%x", hv.ErrAccessSize, len(data), addr)
	}
	value := hv.ReadU32LE(data)
	d.mu.Lock()
	defer d.mu.Unlock()
	b, cpu, err := d.bankFor(ctx)
	if err != nil {
		return err
	}
	switch {
	case d.DistRegion().Contains(addr, 4):
		d.writeDist(b, cpu, uint32(addr-d.cfg.DistBase), value)
	case d.CPURegion().Contains(addr, 4):
		d.writeCPU(b, cpu, uint32(addr-d.cfg.CPUBase), value)
	default:
		return fmt.Errorf("%w: write to 0x%X", hv.ErrUnhandledAccess, addr)
	}
	d.updateLocked()
	return nil
}

// Output reports whether the interrupt request output of cpu is asserted.
func (d *Device) Output(cpu int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cpu < 0 || cpu >= len(d.banks) {
		return false
	}
	return d.banks[cpu].output
}

// MMIORegions implements hv.MemoryMappedIODevice.
func (d *Device) MMIORegions() []hv.MMIORegion {
	return []hv.MMIORegion{d.DistRegion(), d.CPURegion()}
}

var (
	_ chipset.ChipsetDevice   = (*Device)(nil)
	_ hv.MemoryMappedIODevice = (*Device)(nil)
)
