// Package mmio provides the driver-side view of a memory-mapped register
// block: a base address on a bus, with ordered and relaxed 32-bit accessors.
package mmio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tinyrange/irqchip/internal/hv"
	"github.com/tinyrange/irqchip/internal/smp"
)

// Bus carries register accesses to whatever sits behind an address: a
// simulated chipset or a real mapping of physical memory.
type Bus interface {
	ReadMMIO(ctx hv.ExitContext, addr uint64, data []byte) error
	WriteMMIO(ctx hv.ExitContext, addr uint64, data []byte) error
}

// Barrierer is implemented by buses that want to observe barriers.
type Barrierer interface {
	Barrier(ctx hv.ExitContext)
}

var ErrNilWindow = errors.New("mmio: window not mapped")

// Window is a mapped register block.
//
// Accessors never return errors: a faulting access reads as zero and the
// first fault is latched, to be collected with Err once a sequence is done.
type Window struct {
	bus  Bus
	base uint64
	size uint64

	mu    sync.Mutex
	fault error
}

// Map returns a window of size bytes at base on bus.
func Map(bus Bus, base, size uint64) *Window {
	return &Window{bus: bus, base: base, size: size}
}

// Base returns the physical address of the window.
func (w *Window) Base() uint64 { return w.base }

// Size returns the window length in bytes.
func (w *Window) Size() uint64 { return w.size }

// Region returns the window as an MMIO region.
func (w *Window) Region() hv.MMIORegion {
	return hv.MMIORegion{Address: w.base, Size: w.size}
}

func (w *Window) String() string {
	return fmt.Sprintf("mmio[0x%x+0x%x]", w.base, w.size)
}

// ReadRelaxed32 reads a register with no implied ordering.
func (w *Window) ReadRelaxed32(ctx hv.ExitContext, off uint32) uint32 {
	if w == nil || w.bus == nil {
		return 0
	}
	var buf [4]byte
	if err := w.check(off); err != nil {
		w.latch(err)
		return 0
	}
	if err := w.bus.ReadMMIO(ctx, w.base+uint64(off), buf[:]); err != nil {
		w.latch(fmt.Errorf("read 0x%x: %w", w.base+uint64(off), err))
		return 0
	}
	return hv.ReadU32LE(buf[:])
}

// WriteRelaxed32 writes a register with no implied ordering.
func (w *Window) WriteRelaxed32(ctx hv.ExitContext, off uint32, value uint32) {
	if w == nil || w.bus == nil {
		return
	}
	if err := w.check(off); err != nil {
		w.latch(err)
		return
	}
	var buf [4]byte
	hv.WriteU32LE(buf[:], value)
	if err := w.bus.WriteMMIO(ctx, w.base+uint64(off), buf[:]); err != nil {
		w.latch(fmt.Errorf("write 0x%x: %w", w.base+uint64(off), err))
	}
}

// Read32 reads a register; later accesses are ordered after it.
func (w *Window) Read32(ctx hv.ExitContext, off uint32) uint32 {
	v := w.ReadRelaxed32(ctx, off)
	w.Barrier(ctx)
	return v
}

// Write32 writes a register after all earlier accesses have completed.
func (w *Window) Write32(ctx hv.ExitContext, off uint32, value uint32) {
	w.Barrier(ctx)
	w.WriteRelaxed32(ctx, off, value)
}

// Barrier makes every earlier store by ctx visible before any later one.
func (w *Window) Barrier(ctx hv.ExitContext) {
	smp.Barrier()
	if w == nil {
		return
	}
	if b, ok := w.bus.(Barrierer); ok {
		b.Barrier(ctx)
	}
}

// Err returns and clears the first fault seen since the last call.
func (w *Window) Err() error {
	if w == nil {
		return ErrNilWindow
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	err := w.fault
	w.fault = nil
	return err
}

func (w *Window) check(off uint32) error {
	if w.size != 0 && uint64(off)+4 > w.size {
		return fmt.Errorf("mmio: offset 0x%x outside %s", off, w)
	}
	return nil
}

func (w *Window) latch(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fault == nil {
		w.fault = err
	}
}
