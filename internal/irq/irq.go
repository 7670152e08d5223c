// Package irq is the generic interrupt layer that controller drivers plug
// into: a descriptor per logical interrupt number, the chip contract a
// controller implements, flow handlers and the dispatch entry points.
package irq

import (
	"errors"
	"fmt"

	"github.com/tinyrange/irqchip/internal/smp"
)

// Number is a logical (system-wide) interrupt number.
type Number uint32

func (n Number) String() string { return fmt.Sprintf("irq%d", uint32(n)) }

// Type is a trigger type request.
type Type uint32

const (
	TypeNone        Type = 0x0
	TypeEdgeRising  Type = 0x1
	TypeEdgeFalling Type = 0x2
	TypeEdgeBoth    Type = TypeEdgeRising | TypeEdgeFalling
	TypeLevelHigh   Type = 0x4
	TypeLevelLow    Type = 0x8
)

func (t Type) String() string {
	switch t {
	case TypeNone:
		return "none"
	case TypeEdgeRising:
		return "edge-rising"
	case TypeEdgeFalling:
		return "edge-falling"
	case TypeEdgeBoth:
		return "edge-both"
	case TypeLevelHigh:
		return "level-high"
	case TypeLevelLow:
		return "level-low"
	default:
		return fmt.Sprintf("Type(%#x)", uint32(t))
	}
}

var (
	// ErrInvalid rejects a request the caller should not have made (EINVAL).
	ErrInvalid = errors.New("irq: invalid argument")
	// ErrNotSupported reports that the controller lacks the feature (ENXIO).
	ErrNotSupported = errors.New("irq: operation not supported")
	// ErrNoDesc is returned for numbers outside the descriptor table.
	ErrNoDesc = errors.New("irq: no descriptor")
	// ErrBusy is returned when requesting an interrupt that has an action.
	ErrBusy = errors.New("irq: already requested")
)

// Chip is the contract an interrupt controller implements for each line it
// owns. Every method runs on behalf of cpu; banked registers resolve to that
// processor.
type Chip interface {
	Name() string
	Mask(cpu *smp.CPU, d *Data)
	Unmask(cpu *smp.CPU, d *Data)
	EOI(cpu *smp.CPU, d *Data)
	SetType(cpu *smp.CPU, d *Data, t Type) error
	Retrigger(cpu *smp.CPU, d *Data) error
}

// AffinityChip is implemented by chips that can route a line to a CPU.
type AffinityChip interface {
	Chip
	SetAffinity(cpu *smp.CPU, d *Data, mask smp.Mask, force bool) error
}

// WakeChip is implemented by chips that can arm a line as a wakeup source.
type WakeChip interface {
	Chip
	SetWake(cpu *smp.CPU, d *Data, on bool) error
}

// Return is what an action reports back to the flow handler.
type Return int

const (
	None Return = iota
	Handled
)

// Handler is a device action bound to an interrupt with RequestIRQ.
type Handler func(cpu *smp.CPU, n Number) Return

// FlowHandler implements the hardware-facing control flow of a line
// (fasteoi, chained, ...). It is called with the descriptor of the line that
// fired.
type FlowHandler func(cpu *smp.CPU, desc *Desc)
