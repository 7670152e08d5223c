package gic

import (
	"fmt"

	"github.com/tinyrange/irqchip/internal/irq"
)

// Distributor register offsets.
const (
	distCtrl          = 0x000
	distCtr           = 0x004 // TYPER
	distGroup         = 0x080
	distEnableSet     = 0x100
	distEnableClear   = 0x180
	distPendingSet    = 0x200
	distPendingClear  = 0x280
	distActiveSet     = 0x300
	distActiveClear   = 0x380
	distPri           = 0x400
	distTarget        = 0x800
	distConfig        = 0xc00
	distSoftInt       = 0xf00
	distPeripheralID2 = 0xfe8
)

// CPU Interface register offsets.
const (
	cpuCtrl          = 0x00
	cpuPrimask       = 0x04
	cpuBinpoint      = 0x08
	cpuIntAck        = 0x0c
	cpuEOI           = 0x10
	cpuRunningPri    = 0x14
	cpuHighestPend   = 0x18
	cpuAliasBinpoint = 0x1c
)

const (
	// DistSize and CPUSize are the register frame sizes the driver maps.
	DistSize = 0x1000
	CPUSize  = 0x2000

	// MaxLines is the architectural limit on interrupt IDs.
	MaxLines = 1020

	// SpuriousIRQ is the acknowledge value meaning nothing is pending.
	SpuriousIRQ HwIRQ = 1023

	// DefaultPriority is the uniform priority programmed at init.
	DefaultPriority = 0xa0

	defaultPriorityWord = 0xa0a0a0a0
	defaultPriorityMask = 0xf0

	typerLinesMask    = 0x1f
	typerSecurityExtn = 1 << 10

	pidr2ArchRevShift = 4
	pidr2ArchRevMask  = 0xf
	archRevGICv2      = 2

	// Acknowledge values carry the SGI source CPU in bits [12:10].
	ackIDMask = 0x3ff

	// CPU Interface control bits used by the FIQ configuration.
	cpuCtrlEnableGrp0 = 1 << 0
	cpuCtrlEnableGrp1 = 1 << 1
	cpuCtrlAckCtl     = 1 << 2
	cpuCtrlFIQEn      = 1 << 3
	cpuCtrlCBPR       = 1 << 4

	// The target register has one bit per CPU interface.
	maxTargetCPUs = 8
)

// HwIRQ is an interrupt ID local to one controller (0..1019). It is not
// interchangeable with a logical irq.Number.
type HwIRQ uint32

func (h HwIRQ) String() string { return fmt.Sprintf("hwirq%d", uint32(h)) }

// IsLocal reports whether h is a banked SGI or PPI.
func (h HwIRQ) IsLocal() bool { return h < 32 }

// IsSGI reports whether h is a software generated interrupt.
func (h HwIRQ) IsSGI() bool { return h < 16 }

// bit-per-line registers: 32 lines per word
func bitWord(h HwIRQ) uint32 { return uint32(h/32) * 4 }
func bitMask(h HwIRQ) uint32 { return 1 << (uint32(h) % 32) }

// byte-per-line registers (priority, target): 4 lines per word
func byteWord(h HwIRQ) uint32  { return uint32(h/4) * 4 }
func byteShift(h HwIRQ) uint32 { return (uint32(h) % 4) * 8 }

// 2-bit config fields: 16 lines per word
func cfgWord(h HwIRQ) uint32  { return uint32(h/16) * 4 }
func cfgShift(h HwIRQ) uint32 { return (uint32(h) % 16) * 2 }

// linesFromTyper decodes the number of implemented interrupt IDs.
func linesFromTyper(typer uint32) int {
	lines := (int(typer&typerLinesMask) + 1) * 32
	if lines > MaxLines {
		lines = MaxLines
	}
	return lines
}

// IRQOffset returns the logical number of hardware ID 0 for a controller
// whose first registered line is firstIRQ.
func IRQOffset(firstIRQ irq.Number) irq.Number {
	if firstIRQ == 0 {
		return 0
	}
	return (firstIRQ - 1) &^ 31
}

// hwirq converts a logical number owned by c to its controller-local ID.
func (c *Controller) hwirq(n irq.Number) HwIRQ {
	return HwIRQ(n - c.irqOffset)
}

// logical converts a controller-local ID to its logical number.
func (c *Controller) logical(h HwIRQ) irq.Number {
	return c.irqOffset + irq.Number(h)
}
