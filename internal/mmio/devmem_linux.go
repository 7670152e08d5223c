//go:build linux

package mmio

import (
	"fmt"
	"os"
	"runtime"
	"sync/atomic"
	"unsafe"

	"github.com/tinyrange/irqchip/internal/hv"
	"golang.org/x/sys/unix"
)

// DefaultDevMemPath is the physical memory device used by OpenDevMem.
const DefaultDevMemPath = "/dev/mem"

type devMemMapping struct {
	region hv.MMIORegion
	// pageOff is the distance from the start of mem to region.Address.
	pageOff uint64
	mem     []byte
}

// DevMem is a Bus backed by mappings of physical memory.
//
// Banked registers are resolved by the hardware from the issuing core, so
// every access runs on an OS thread pinned to the CPU named by the access
// context.
type DevMem struct {
	f    *os.File
	maps []devMemMapping
}

// OpenDevMem maps each region of path (normally /dev/mem) read-write.
func OpenDevMem(path string, regions ...hv.MMIORegion) (*DevMem, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	d := &DevMem{f: f}
	pageSize := uint64(os.Getpagesize())
	for _, region := range regions {
		start := region.Address &^ (pageSize - 1)
		length := region.End() - start
		length = (length + pageSize - 1) &^ (pageSize - 1)
		mem, err := unix.Mmap(int(f.Fd()), int64(start), int(length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("%s: mmap 0x%x+0x%x: %w", path, start, length, err)
		}
		d.maps = append(d.maps, devMemMapping{
			region:  region,
			pageOff: region.Address - start,
			mem:     mem,
		})
	}
	return d, nil
}

// Close unmaps every region and closes the device.
func (d *DevMem) Close() error {
	var firstErr error
	for _, m := range d.maps {
		if err := unix.Munmap(m.mem); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	d.maps = nil
	if d.f != nil {
		if err := d.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		d.f = nil
	}
	return firstErr
}

func (d *DevMem) word(addr uint64, size int) (*uint32, error) {
	if size != 4 {
		return nil, fmt.Errorf("%w: %d bytes at 0x%x", hv.ErrAccessSize, size, addr)
	}
	if addr&3 != 0 {
		return nil, fmt.Errorf("mmio: unaligned access at 0x%x", addr)
	}
	for i := range d.maps {
		m := &d.maps[i]
		if m.region.Contains(addr, uint64(size)) {
			off := m.pageOff + (addr - m.region.Address)
			return (*uint32)(unsafe.Pointer(&m.mem[off])), nil
		}
	}
	return nil, fmt.Errorf("%w: 0x%x not mapped", hv.ErrUnhandledAccess, addr)
}

func (d *DevMem) ReadMMIO(ctx hv.ExitContext, addr uint64, data []byte) error {
	p, err := d.word(addr, len(data))
	if err != nil {
		return err
	}
	return onCPU(ctx, func() {
		hv.WriteU32LE(data, atomic.LoadUint32(p))
	})
}

func (d *DevMem) WriteMMIO(ctx hv.ExitContext, addr uint64, data []byte) error {
	p, err := d.word(addr, len(data))
	if err != nil {
		return err
	}
	value := hv.ReadU32LE(data)
	return onCPU(ctx, func() {
		atomic.StoreUint32(p, value)
	})
}

// onCPU runs fn on an OS thread bound to the CPU named by ctx.
func onCPU(ctx hv.ExitContext, fn func()) error {
	if ctx == nil {
		fn()
		return nil
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var old unix.CPUSet
	if err := unix.SchedGetaffinity(0, &old); err != nil {
		return fmt.Errorf("mmio: get affinity: %w", err)
	}
	var set unix.CPUSet
	set.Set(ctx.CPU())
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("mmio: pin to cpu%d: %w", ctx.CPU(), err)
	}
	fn()
	if err := unix.SchedSetaffinity(0, &old); err != nil {
		return fmt.Errorf("mmio: restore affinity: %w", err)
	}
	return nil
}

var _ Bus = (*DevMem)(nil)
