package irq

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tinyrange/irqchip/internal/smp"
	"golang.org/x/time/rate"
)

// DefaultNR is the descriptor table size used when none is configured.
const DefaultNR = 1024

// Core owns the descriptor table.
type Core struct {
	descs  []*Desc
	logger *slog.Logger

	bad        atomic.Uint64
	badLimiter *rate.Limiter
}

// Options configures a Core.
type Options struct {
	// NR is the number of logical interrupts (NR_IRQS).
	NR int
	// Logger receives warnings; slog.Default() when nil.
	Logger *slog.Logger
}

// New creates an interrupt core with opts.NR descriptors.
func New(opts Options) *Core {
	nr := opts.NR
	if nr <= 0 {
		nr = DefaultNR
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Core{
		descs:  make([]*Desc, nr),
		logger: logger,
		// printk_ratelimit: ten messages per five seconds.
		badLimiter: rate.NewLimiter(rate.Every(5*time.Second/10), 10),
	}
	for i := range c.descs {
		c.descs[i] = newDesc(Number(i))
	}
	return c
}

// NR returns the number of logical interrupts.
func (c *Core) NR() int { return len(c.descs) }

// Desc returns the descriptor for n, or nil when n is out of range.
func (c *Core) Desc(n Number) *Desc {
	if int(n) >= len(c.descs) {
		return nil
	}
	return c.descs[n]
}

func (c *Core) lookup(n Number) (*Desc, error) {
	desc := c.Desc(n)
	if desc == nil {
		return nil, fmt.Errorf("%w: %v (nr=%d)", ErrNoDesc, n, len(c.descs))
	}
	return desc, nil
}

// SetChipAndHandler binds a controller and a flow handler to n.
func (c *Core) SetChipAndHandler(n Number, chip Chip, handler FlowHandler) error {
	desc, err := c.lookup(n)
	if err != nil {
		return err
	}
	desc.mu.Lock()
	defer desc.mu.Unlock()
	desc.data.chip = chip
	desc.handler = handler
	return nil
}

// SetChipData stores the controller-private pointer for n.
func (c *Core) SetChipData(n Number, data any) error {
	desc, err := c.lookup(n)
	if err != nil {
		return err
	}
	desc.mu.Lock()
	defer desc.mu.Unlock()
	if desc.data.chip == nil {
		return fmt.Errorf("%w: %v has no chip", ErrInvalid, n)
	}
	desc.data.chipData = data
	return nil
}

// SetHandlerData stores the flow-handler private pointer for n.
func (c *Core) SetHandlerData(n Number, data any) error {
	desc, err := c.lookup(n)
	if err != nil {
		return err
	}
	desc.mu.Lock()
	defer desc.mu.Unlock()
	desc.handlerData = data
	return nil
}

// SetChainedHandler installs handler as the flow of a line that carries the
// output of another controller. The line can no longer be requested, and it
// is started (unmasked) on cpu immediately.
func (c *Core) SetChainedHandler(cpu *smp.CPU, n Number, handler FlowHandler) error {
	desc, err := c.lookup(n)
	if err != nil {
		return err
	}
	desc.mu.Lock()
	if desc.data.chip == nil {
		desc.mu.Unlock()
		return fmt.Errorf("%w: %v has no chip", ErrInvalid, n)
	}
	desc.handler = handler
	desc.status |= StatusNoRequest | StatusNoProbe | StatusChained
	desc.status &^= StatusMasked
	chip := desc.data.chip
	desc.mu.Unlock()

	chip.Unmask(cpu, &desc.data)
	return nil
}

// SetFlags applies platform registration flags to n.
func (c *Core) SetFlags(n Number, flags Flags) error {
	desc, err := c.lookup(n)
	if err != nil {
		return err
	}
	desc.mu.Lock()
	defer desc.mu.Unlock()
	desc.status |= StatusNoRequest | StatusNoProbe | StatusNoAutoEnable
	if flags&FlagValid != 0 {
		desc.status &^= StatusNoRequest
	}
	if flags&FlagProbe != 0 {
		desc.status &^= StatusNoProbe
	}
	if flags&FlagNoAutoEnable == 0 {
		desc.status &^= StatusNoAutoEnable
	}
	return nil
}

// SetStatusFlags ORs status bits into n's descriptor.
func (c *Core) SetStatusFlags(n Number, set Status) error {
	desc, err := c.lookup(n)
	if err != nil {
		return err
	}
	desc.mu.Lock()
	defer desc.mu.Unlock()
	desc.status |= set
	return nil
}

// RequestIRQ attaches an action to n and starts the line unless it was
// registered with FlagNoAutoEnable.
func (c *Core) RequestIRQ(cpu *smp.CPU, n Number, name string, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("%w: nil handler for %v", ErrInvalid, n)
	}
	desc, err := c.lookup(n)
	if err != nil {
		return err
	}
	desc.mu.Lock()
	if desc.status&StatusNoRequest != 0 || desc.data.chip == nil {
		desc.mu.Unlock()
		return fmt.Errorf("%w: %v cannot be requested", ErrInvalid, n)
	}
	if desc.action != nil {
		desc.mu.Unlock()
		return fmt.Errorf("%w: %v by %q", ErrBusy, n, desc.name)
	}
	desc.action = handler
	desc.name = name
	autoEnable := desc.status&StatusNoAutoEnable == 0
	if autoEnable {
		desc.status &^= StatusMasked
	}
	chip := desc.data.chip
	desc.mu.Unlock()

	if autoEnable {
		chip.Unmask(cpu, &desc.data)
	}
	return nil
}

// FreeIRQ detaches the action from n and masks the line.
func (c *Core) FreeIRQ(cpu *smp.CPU, n Number) error {
	desc, err := c.lookup(n)
	if err != nil {
		return err
	}
	desc.mu.Lock()
	desc.action = nil
	desc.name = ""
	desc.status |= StatusMasked
	chip := desc.data.chip
	desc.mu.Unlock()
	if chip != nil {
		chip.Mask(cpu, &desc.data)
	}
	return nil
}

// Logger returns the logger the core reports through.
func (c *Core) Logger() *slog.Logger { return c.logger }
