package mmio

import (
	"fmt"
	"sync"

	"github.com/tinyrange/irqchip/internal/hv"
)

// AccessKind classifies a recorded bus event.
type AccessKind uint8

const (
	AccessRead AccessKind = iota
	AccessWrite
	AccessBarrier
)

func (k AccessKind) String() string {
	switch k {
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	case AccessBarrier:
		return "barrier"
	default:
		return fmt.Sprintf("AccessKind(%d)", uint8(k))
	}
}

// Access is one recorded bus event.
type Access struct {
	Kind  AccessKind
	CPU   int
	Addr  uint64
	Value uint32
}

func (a Access) String() string {
	if a.Kind == AccessBarrier {
		return fmt.Sprintf("cpu%d barrier", a.CPU)
	}
	return fmt.Sprintf("cpu%d %s 0x%x = 0x%08x", a.CPU, a.Kind, a.Addr, a.Value)
}

// Recorder is a Bus that forwards to another bus and keeps an ordered log of
// every access that went through it.
type Recorder struct {
	next Bus

	mu  sync.Mutex
	log []Access
	on  bool
}

// NewRecorder wraps next. Recording starts enabled.
func NewRecorder(next Bus) *Recorder {
	return &Recorder{next: next, on: true}
}

func (r *Recorder) ReadMMIO(ctx hv.ExitContext, addr uint64, data []byte) error {
	err := r.next.ReadMMIO(ctx, addr, data)
	if err == nil {
		r.append(Access{Kind: AccessRead, CPU: cpuOf(ctx), Addr: addr, Value: hv.ReadU32LE(data)})
	}
	return err
}

func (r *Recorder) WriteMMIO(ctx hv.ExitContext, addr uint64, data []byte) error {
	err := r.next.WriteMMIO(ctx, addr, data)
	if err == nil {
		r.append(Access{Kind: AccessWrite, CPU: cpuOf(ctx), Addr: addr, Value: hv.ReadU32LE(data)})
	}
	return err
}

// Barrier implements Barrierer.
func (r *Recorder) Barrier(ctx hv.ExitContext) {
	r.append(Access{Kind: AccessBarrier, CPU: cpuOf(ctx)})
	if b, ok := r.next.(Barrierer); ok {
		b.Barrier(ctx)
	}
}

// SetEnabled pauses or resumes recording.
func (r *Recorder) SetEnabled(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.on = on
}

// Reset drops the log.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = nil
}

// Log returns a copy of the recorded accesses.
func (r *Recorder) Log() []Access {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Access(nil), r.log...)
}

// Writes returns only the recorded writes.
func (r *Recorder) Writes() []Access {
	var out []Access
	for _, a := range r.Log() {
		if a.Kind == AccessWrite {
			out = append(out, a)
		}
	}
	return out
}

func (r *Recorder) append(a Access) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.on {
		r.log = append(r.log, a)
	}
}

func cpuOf(ctx hv.ExitContext) int {
	if ctx == nil {
		return -1
	}
	return ctx.CPU()
}

var (
	_ Bus       = (*Recorder)(nil)
	_ Barrierer = (*Recorder)(nil)
)
