package mmio

import (
	"errors"
	"testing"

	"github.com/tinyrange/irqchip/internal/hv"
)

type flatBus struct {
	regs map[uint64]uint32
}

func (b *flatBus) ReadMMIO(ctx hv.ExitContext, addr uint64, data []byte) error {
	if addr >= 0x2000 {
		return hv.ErrUnhandledAccess
	}
	hv.WriteU32LE(data, b.regs[addr])
	return nil
}

func (b *flatBus) WriteMMIO(ctx hv.ExitContext, addr uint64, data []byte) error {
	if addr >= 0x2000 {
		return hv.ErrUnhandledAccess
	}
	b.regs[addr] = hv.ReadU32LE(data)
	return nil
}

func TestWindowRoundTrip(t *testing.T) {
	bus := &flatBus{regs: map[uint64]uint32{}}
	w := Map(bus, 0x1000, 0x1000)

	w.WriteRelaxed32(hv.CPUContext(0), 0x10, 0xdeadbeef)
	if got := bus.regs[0x1010]; got != 0xdeadbeef {
		t.Fatalf("bus value = 0x%x", got)
	}
	if got := w.Read32(hv.CPUContext(0), 0x10); got != 0xdeadbeef {
		t.Fatalf("Read32 = 0x%x", got)
	}
	if err := w.Err(); err != nil {
		t.Fatalf("unexpected fault: %v", err)
	}
}

func TestWindowLatchesFirstFault(t *testing.T) {
	bus := &flatBus{regs: map[uint64]uint32{}}
	w := Map(bus, 0x1000, 0x2000)

	if got := w.ReadRelaxed32(hv.CPUContext(0), 0x1000); got != 0 {
		t.Fatalf("faulting read returned 0x%x", got)
	}
	w.WriteRelaxed32(hv.CPUContext(0), 0x3000, 1)

	err := w.Err()
	if !errors.Is(err, hv.ErrUnhandledAccess) {
		t.Fatalf("Err() = %v, want unhandled access", err)
	}
	if err := w.Err(); err != nil {
		t.Fatalf("fault not cleared: %v", err)
	}
}

func TestRecorderOrdersBarriers(t *testing.T) {
	bus := &flatBus{regs: map[uint64]uint32{}}
	rec := NewRecorder(bus)
	w := Map(rec, 0, 0x100)

	w.Write32(hv.CPUContext(3), 0x4, 7)

	log := rec.Log()
	if len(log) != 2 {
		t.Fatalf("log = %v", log)
	}
	if log[0].Kind != AccessBarrier || log[1].Kind != AccessWrite {
		t.Fatalf("ordered write recorded as %v", log)
	}
	if log[1].CPU != 3 || log[1].Addr != 4 || log[1].Value != 7 {
		t.Fatalf("write recorded as %v", log[1])
	}

	rec.SetEnabled(false)
	w.WriteRelaxed32(hv.CPUContext(0), 0x8, 1)
	if len(rec.Writes()) != 1 {
		t.Fatalf("paused recorder still logging")
	}
}
