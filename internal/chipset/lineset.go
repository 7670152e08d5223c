package chipset

import "sync"

// LineSet manages the device-side interrupt lines that feed a controller.
type LineSet struct {
	mu sync.Mutex

	sink InterruptSink

	lines map[uint32]*lineState
}

// NewLineSet builds a LineSet that forwards assertions to the provided sink.
func NewLineSet(sink InterruptSink) *LineSet {
	if sink == nil {
		sink = noopInterruptSink{}
	}
	return &LineSet{
		sink:  sink,
		lines: make(map[uint32]*lineState),
	}
}

// AllocateLine returns a LineInterrupt handle for the given IRQ line.
func (l *LineSet) AllocateLine(irq uint32) LineInterrupt {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.lines[irq]; !ok {
		l.lines[irq] = &lineState{}
	}
	return &lineHandle{owner: l, irq: irq}
}

// Level reports the last level driven on a line.
func (l *LineSet) Level(irq uint32) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	state := l.lines[irq]
	return state != nil && state.level
}

type lineState struct {
	level bool
}

type lineHandle struct {
	owner *LineSet
	irq   uint32
}

func (h *lineHandle) SetLevel(high bool) {
	h.owner.setLevel(h.irq, high)
}

func (h *lineHandle) PulseInterrupt() {
	h.owner.pulse(h.irq)
}

func (l *LineSet) setLevel(irq uint32, high bool) {
	l.mu.Lock()
	state := l.lines[irq]
	if state == nil {
		state = &lineState{}
		l.lines[irq] = state
	}
	changed := state.level != high
	state.level = high
	l.mu.Unlock()

	if changed {
		l.sink.SetIRQ(irq, high)
	}
}

func (l *LineSet) pulse(irq uint32) {
	l.sink.SetIRQ(irq, true)
	l.sink.SetIRQ(irq, false)
}

type noopInterruptSink struct{}

func (noopInterruptSink) SetIRQ(uint32, bool) {}
