package gic

import (
	"io"
	"log/slog"
	"testing"

	"github.com/tinyrange/irqchip/internal/gicsim"
	"github.com/tinyrange/irqchip/internal/hv"
	"github.com/tinyrange/irqchip/internal/irq"
	"github.com/tinyrange/irqchip/internal/mmio"
	"github.com/tinyrange/irqchip/internal/smp"
)

const (
	rigDistBase = 0x2c00_1000
	rigCPUBase  = 0x2c00_2000
)

type rigConfig struct {
	cpus     int
	lines    int
	nr       int
	firstIRQ irq.Number
	opts     Options

	archRev      uint32
	securityExtn bool
}

// rig is one simulated GIC instance wired to a subsystem, with every
// register access recorded.
type rig struct {
	topo  *smp.Topology
	core  *irq.Core
	sys   *Subsystem
	hw    *gicsim.Device
	rec   *mmio.Recorder
	dist  *mmio.Window
	cpuif *mmio.Window
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRawRig(t *testing.T, cfg rigConfig) *rig {
	t.Helper()
	if cfg.cpus == 0 {
		cfg.cpus = 1
	}
	if cfg.lines == 0 {
		cfg.lines = 64
	}
	topo, err := smp.NewTopology(cfg.cpus)
	if err != nil {
		t.Fatalf("NewTopology: %v", err)
	}
	hw, err := gicsim.New(gicsim.Config{
		DistBase:     rigDistBase,
		CPUBase:      rigCPUBase,
		Lines:        cfg.lines,
		CPUs:         cfg.cpus,
		ArchRev:      cfg.archRev,
		SecurityExtn: cfg.securityExtn,
	})
	if err != nil {
		t.Fatalf("gicsim.New: %v", err)
	}
	if err := hw.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	core := irq.New(irq.Options{NR: cfg.nr, Logger: quietLogger()})
	cfg.opts.Logger = quietLogger()
	rec := mmio.NewRecorder(hw)
	return &rig{
		topo:  topo,
		core:  core,
		sys:   New(core, topo, cfg.opts),
		hw:    hw,
		rec:   rec,
		dist:  mmio.Map(rec, rigDistBase, DistSize),
		cpuif: mmio.Map(rec, rigCPUBase, CPUSize),
	}
}

// newRig initializes the controller on CPU 0 and every other CPU with
// SecondaryInit, then clears the access log.
func newRig(t *testing.T, cfg rigConfig) *rig {
	t.Helper()
	r := newRawRig(t, cfg)
	if err := r.sys.Init(r.topo.Boot(), 0, cfg.firstIRQ, r.dist, r.cpuif); err != nil {
		t.Fatalf("Init: %v", err)
	}
	for id := 1; id < r.topo.NumPossible(); id++ {
		if err := r.sys.SecondaryInit(r.topo.CPU(id), 0); err != nil {
			t.Fatalf("SecondaryInit(cpu%d): %v", id, err)
		}
		r.topo.SetOnline(id, true)
	}
	r.rec.Reset()
	return r
}

func (r *rig) cpu(id int) *smp.CPU { return r.topo.CPU(id) }

// distReg reads a Distributor register as cpu sees it, bypassing the log.
func (r *rig) distReg(t *testing.T, cpu int, off uint32) uint32 {
	t.Helper()
	var buf [4]byte
	if err := r.hw.ReadMMIO(hv.CPUContext(cpu), rigDistBase+uint64(off), buf[:]); err != nil {
		t.Fatalf("read dist 0x%x: %v", off, err)
	}
	return hv.ReadU32LE(buf[:])
}

func (r *rig) cpuReg(t *testing.T, cpu int, off uint32) uint32 {
	t.Helper()
	var buf [4]byte
	if err := r.hw.ReadMMIO(hv.CPUContext(cpu), rigCPUBase+uint64(off), buf[:]); err != nil {
		t.Fatalf("read cpu 0x%x: %v", off, err)
	}
	return hv.ReadU32LE(buf[:])
}

func (r *rig) enabled(t *testing.T, cpu int, h HwIRQ) bool {
	t.Helper()
	return r.distReg(t, cpu, distEnableSet+bitWord(h))&bitMask(h) != 0
}

func (r *rig) desc(t *testing.T, n irq.Number) *irq.Desc {
	t.Helper()
	desc := r.core.Desc(n)
	if desc == nil {
		t.Fatalf("no descriptor for %v", n)
	}
	return desc
}

// writesTo returns the logged writes to the Distributor register at off.
func (r *rig) writesTo(off uint32) []mmio.Access {
	var out []mmio.Access
	for _, a := range r.rec.Writes() {
		if a.Addr == rigDistBase+uint64(off) {
			out = append(out, a)
		}
	}
	return out
}
