package irq

import (
	"sync"
	"sync/atomic"
)

// Status flags of a descriptor.
type Status uint32

const (
	StatusNoRequest Status = 1 << iota
	StatusNoProbe
	StatusNoAutoEnable
	StatusChained
	StatusWakeup
	StatusMasked
)

// Flags are the platform-visible registration flags (set_irq_flags on ARM).
type Flags uint32

const (
	FlagValid Flags = 1 << iota
	FlagProbe
	FlagNoAutoEnable
)

// Data is the per-line state handed to Chip methods.
type Data struct {
	Irq Number

	chip     Chip
	chipData any
	node     atomic.Int32
}

// Chip returns the controller bound to the line.
func (d *Data) Chip() Chip { return d.chip }

// ChipData returns the controller-private pointer for the line.
func (d *Data) ChipData() any { return d.chipData }

// Node returns the CPU the line was last routed to, or -1.
func (d *Data) Node() int { return int(d.node.Load()) }

// SetNode records the CPU a line was routed to.
func (d *Data) SetNode(cpu int) { d.node.Store(int32(cpu)) }

// Desc is the descriptor of one logical interrupt.
type Desc struct {
	mu sync.Mutex

	data        Data
	handler     FlowHandler
	handlerData any
	action      Handler
	name        string
	status      Status

	count     atomic.Uint64
	unhandled atomic.Uint64
}

func newDesc(n Number) *Desc {
	d := &Desc{status: StatusNoRequest | StatusNoProbe}
	d.data.Irq = n
	d.data.node.Store(-1)
	return d
}

// Irq returns the logical number of the descriptor.
func (d *Desc) Irq() Number { return d.data.Irq }

// Data returns the chip-facing data of the descriptor.
func (d *Desc) Data() *Data { return &d.data }

// HandlerData returns the flow-handler private pointer (the cascaded
// controller for chained lines).
func (d *Desc) HandlerData() any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handlerData
}

// Status returns the current status flags.
func (d *Desc) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// Count returns how many times the line was dispatched.
func (d *Desc) Count() uint64 { return d.count.Load() }

// Unhandled returns how many dispatches found no action to run.
func (d *Desc) Unhandled() uint64 { return d.unhandled.Load() }

// Name returns the name given to RequestIRQ.
func (d *Desc) Name() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.name
}

func (d *Desc) snapshot() (Chip, FlowHandler, Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.data.chip, d.handler, d.action
}
