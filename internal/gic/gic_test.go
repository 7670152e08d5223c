package gic

import (
	"errors"
	"testing"

	"github.com/tinyrange/irqchip/internal/gicsim"
	"github.com/tinyrange/irqchip/internal/irq"
	"github.com/tinyrange/irqchip/internal/mmio"
	"github.com/tinyrange/irqchip/internal/smp"
)

func TestInitRegistersSharedLines(t *testing.T) {
	r := newRawRig(t, rigConfig{cpus: 4, lines: 64})
	initCPU := r.cpu(2)
	if err := r.sys.Init(initCPU, 0, 32, r.dist, r.cpuif); err != nil {
		t.Fatalf("Init: %v", err)
	}

	c := r.sys.Controller(0)
	if c.Lines() != 64 || c.IRQOffset() != 0 {
		t.Fatalf("lines=%d offset=%d, want 64 and 0", c.Lines(), c.IRQOffset())
	}

	var registered []irq.Number
	for n := 0; n < r.core.NR(); n++ {
		if r.core.Desc(irq.Number(n)).Data().Chip() == r.sys.Chip() {
			registered = append(registered, irq.Number(n))
		}
	}
	if len(registered) != 32 || registered[0] != 32 || registered[31] != 63 {
		t.Fatalf("registered %d lines (%v..), want 32..63", len(registered), registered)
	}

	for _, n := range registered {
		h := c.hwirq(n)
		pri := (r.distReg(t, 0, distPri+byteWord(h)) >> byteShift(h)) & 0xff
		if pri != DefaultPriority {
			t.Fatalf("%v priority = %#x, want %#x", n, pri, DefaultPriority)
		}
		target := (r.distReg(t, 0, distTarget+byteWord(h)) >> byteShift(h)) & 0xff
		if target != 1<<2 {
			t.Fatalf("%v target = %#x, want cpu2 only", n, target)
		}
		if r.enabled(t, 0, h) {
			t.Fatalf("%v enabled after init", n)
		}
		if st := r.desc(t, n).Status(); st&irq.StatusNoRequest != 0 || st&irq.StatusNoProbe != 0 {
			t.Fatalf("%v status %#x, want requestable and probeable", n, st)
		}
	}

	if got := r.distReg(t, 2, distCtrl); got != 1 {
		t.Fatalf("dist ctrl = %#x, want 1", got)
	}
	if got := r.cpuReg(t, 2, cpuPrimask); got != defaultPriorityMask {
		t.Fatalf("PMR = %#x", got)
	}
	if got := r.cpuReg(t, 2, cpuCtrl); got != 1 {
		t.Fatalf("cpu ctrl = %#x, want 1", got)
	}
	// SGIs on, PPIs off for the initializing CPU.
	if got := r.distReg(t, 2, distEnableSet); got != 0x0000ffff {
		t.Fatalf("banked enable = %#x, want 0xffff", got)
	}
}

func TestInitOffsetAndLimit(t *testing.T) {
	r := newRawRig(t, rigConfig{lines: 128, nr: 100})
	if err := r.sys.Init(r.topo.Boot(), 0, 29, r.dist, r.cpuif); err != nil {
		t.Fatalf("Init: %v", err)
	}
	c := r.sys.Controller(0)
	if c.IRQOffset() != 0 {
		t.Fatalf("offset = %d", c.IRQOffset())
	}
	if r.core.Desc(28).Data().Chip() != nil {
		t.Fatalf("line below the first IRQ was registered")
	}
	if r.core.Desc(29).Data().Chip() == nil || r.core.Desc(99).Data().Chip() == nil {
		t.Fatalf("lines 29..99 not registered")
	}
	if got := chipController(r.core.Desc(50).Data()); got != c {
		t.Fatalf("chip data = %p, want %p", got, c)
	}
}

func TestInitErrors(t *testing.T) {
	r := newRawRig(t, rigConfig{})
	boot := r.topo.Boot()

	if err := r.sys.Init(boot, MaxInstances, 32, r.dist, r.cpuif); !errors.Is(err, ErrFatalInit) {
		t.Fatalf("Init(instance %d) = %v, want ErrFatalInit", MaxInstances, err)
	}
	if err := r.sys.SecondaryInit(boot, 1); !errors.Is(err, ErrFatalInit) {
		t.Fatalf("SecondaryInit before Init = %v, want ErrFatalInit", err)
	}
	if err := r.sys.Init(boot, 0, 32, r.dist, r.cpuif); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := r.sys.Init(boot, 0, 32, r.dist, r.cpuif); !errors.Is(err, ErrFatalInit) {
		t.Fatalf("second Init = %v, want ErrFatalInit", err)
	}
	bad := mmio.Map(r.rec, 0x1000_0000, DistSize)
	if err := r.sys.Init(boot, 1, 96, bad, bad); !errors.Is(err, ErrFatalInit) {
		t.Fatalf("Init on unmapped window = %v, want ErrFatalInit", err)
	}
	if c := r.sys.Controller(1); c.Dist() != nil || c.Lines() != 0 {
		t.Fatalf("failed instance left configured: lines %d", c.Lines())
	}
	if _, err := r.sys.ControllerFor(70); !errors.Is(err, ErrNoController) {
		t.Fatalf("ControllerFor(70) after failed Init = %v, want ErrNoController", err)
	}

	// A retry on working windows brings the instance up.
	dist, cpuif := secondSim(t, 64)
	if err := r.sys.Init(boot, 1, 96, dist, cpuif); err != nil {
		t.Fatalf("Init retry: %v", err)
	}
	if c, err := r.sys.ControllerFor(70); err != nil || c.Index() != 1 {
		t.Fatalf("ControllerFor(70) = %v, %v", c, err)
	}
}

// secondSim maps a second simulated controller with the given number of
// lines.
func secondSim(t *testing.T, lines int) (dist, cpuif *mmio.Window) {
	t.Helper()
	const distBase, cpuBase = 0x2d00_1000, 0x2d00_2000
	hw, err := gicsim.New(gicsim.Config{Name: "second", DistBase: distBase, CPUBase: cpuBase, Lines: lines, CPUs: 1})
	if err != nil {
		t.Fatalf("gicsim.New: %v", err)
	}
	if err := hw.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return mmio.Map(hw, distBase, DistSize), mmio.Map(hw, cpuBase, CPUSize)
}

func TestInitRejectsOverlappingNumbers(t *testing.T) {
	r := newRig(t, rigConfig{lines: 96, firstIRQ: 32})
	boot := r.topo.Boot()

	// Offset 64 lands inside the first controller's 0-95.
	dist, cpuif := secondSim(t, 64)
	if err := r.sys.Init(boot, 1, 80, dist, cpuif); !errors.Is(err, ErrFatalInit) {
		t.Fatalf("overlapping Init = %v, want ErrFatalInit", err)
	}
	c, err := r.sys.ControllerFor(80)
	if err != nil || c.Index() != 0 {
		t.Fatalf("ControllerFor(80) = %v, %v", c, err)
	}
	if owner := chipController(r.desc(t, 80).Data()); owner != c {
		t.Fatalf("descriptor 80 chip data = %p, want instance 0", owner)
	}

	if err := r.sys.Init(boot, 1, 128, dist, cpuif); err != nil {
		t.Fatalf("Init above the first controller: %v", err)
	}
}

func TestSecondaryInitEnablesInterface(t *testing.T) {
	r := newRig(t, rigConfig{cpus: 3, lines: 64, firstIRQ: 32})
	for id := 0; id < 3; id++ {
		if got := r.cpuReg(t, id, cpuCtrl); got != 1 {
			t.Fatalf("cpu%d ctrl = %#x", id, got)
		}
		if got := r.distReg(t, id, distEnableSet); got != 0xffff {
			t.Fatalf("cpu%d banked enable = %#x", id, got)
		}
	}
}

func TestHandleIRQ(t *testing.T) {
	r := newRig(t, rigConfig{cpus: 2, lines: 64, firstIRQ: 32, opts: Options{SMP: true}})
	boot := r.topo.Boot()

	handled := 0
	if err := r.core.RequestIRQ(boot, 40, "dev", func(cpu *smp.CPU, n irq.Number) irq.Return {
		handled++
		if err := r.hw.SetLine(40, false); err != nil {
			t.Errorf("SetLine: %v", err)
		}
		return irq.Handled
	}); err != nil {
		t.Fatalf("RequestIRQ: %v", err)
	}
	if err := r.hw.SetLine(40, true); err != nil {
		t.Fatalf("SetLine: %v", err)
	}
	if !r.hw.Output(0) {
		t.Fatalf("cpu0 not signalled")
	}
	if got := r.sys.HandleIRQ(boot); got != 1 {
		t.Fatalf("HandleIRQ took %d interrupts, want 1", got)
	}
	if handled != 1 {
		t.Fatalf("action ran %d times", handled)
	}
	if got := r.distReg(t, 0, distActiveSet+4); got != 0 {
		t.Fatalf("line left active: %#x", got)
	}
	if r.hw.Output(0) {
		t.Fatalf("cpu0 still signalled")
	}

	type ipi struct {
		sgi    HwIRQ
		source int
	}
	var got []ipi
	r.sys.SetIPIHandler(func(cpu *smp.CPU, sgi HwIRQ, source int) {
		got = append(got, ipi{sgi, source})
	})
	if err := r.sys.RaiseSoftIRQ(boot, smp.MaskOf(1), 3); err != nil {
		t.Fatalf("RaiseSoftIRQ: %v", err)
	}
	if n := r.sys.HandleIRQ(r.cpu(1)); n != 1 {
		t.Fatalf("HandleIRQ(cpu1) took %d", n)
	}
	if len(got) != 1 || got[0] != (ipi{3, 0}) {
		t.Fatalf("ipis = %v", got)
	}
}
