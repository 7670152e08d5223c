// Package platform assembles a board around one or more GICs: the register
// fabric, the interrupt controller models, the IRQ core and the driver, and
// brings the processors up the way a kernel would.
package platform

import (
	"fmt"
	"os"
	"strings"

	"github.com/tinyrange/irqchip/internal/gic"
	"github.com/tinyrange/irqchip/internal/gicsim"
	"github.com/tinyrange/irqchip/internal/irq"
	"gopkg.in/yaml.v3"
)

// Board is the YAML description of a system.
type Board struct {
	Name     string   `yaml:"name"`
	CPUs     int      `yaml:"cpus"`
	NRIRQs   int      `yaml:"nr_irqs"`
	Features Features `yaml:"features"`
	GICs     []GIC    `yaml:"gics"`
	Devices  []Device `yaml:"devices"`
}

// Features select the optional parts of the driver.
type Features struct {
	SMP bool `yaml:"smp"`
	FIQ bool `yaml:"fiq"`
	PM  bool `yaml:"pm"`
}

// GIC describes one controller instance. Instance 0 is the primary; every
// other instance must be cascaded into a line of an earlier one.
type GIC struct {
	Name         string   `yaml:"name"`
	DistBase     uint64   `yaml:"dist_base"` // 0 places the frame automatically
	CPUBase      uint64   `yaml:"cpu_base"`
	IRQStart     uint32   `yaml:"irq_start"`
	Lines        int      `yaml:"lines"`
	ArchRev      uint32   `yaml:"arch_rev"`
	SecurityExtn bool     `yaml:"security_extn"`
	Cascade      *Cascade `yaml:"cascade"`
}

// Cascade routes a secondary controller's output into a logical line of
// its parent.
type Cascade struct {
	Parent int    `yaml:"parent"`
	IRQ    uint32 `yaml:"irq"`
}

// Device is a peripheral wired to a shared interrupt line.
type Device struct {
	Name    string  `yaml:"name"`
	IRQ     uint32  `yaml:"irq"`
	Trigger Trigger `yaml:"trigger"`
	// CPU routes the line to one processor; needs the smp feature.
	CPU *int `yaml:"cpu"`
}

// Trigger is an irq.Type spelled the way the board file writes it
// ("level-high", "edge-rising", ...).
type Trigger irq.Type

// UnmarshalYAML implements yaml.Unmarshaler for Trigger.
func (t *Trigger) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*t = Trigger(irq.TypeNone)
		return nil
	}
	for _, typ := range []irq.Type{
		irq.TypeNone,
		irq.TypeEdgeRising,
		irq.TypeEdgeFalling,
		irq.TypeEdgeBoth,
		irq.TypeLevelHigh,
		irq.TypeLevelLow,
	} {
		if strings.EqualFold(s, typ.String()) {
			*t = Trigger(typ)
			return nil
		}
	}
	return fmt.Errorf("invalid trigger %q", s)
}

// MarshalYAML implements yaml.Marshaler for Trigger.
func (t Trigger) MarshalYAML() (any, error) {
	return irq.Type(t).String(), nil
}

// Type returns the trigger as an IRQ core type.
func (t Trigger) Type() irq.Type { return irq.Type(t) }

// LoadBoard reads and validates a board file.
func LoadBoard(path string) (*Board, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading board file: %w", err)
	}
	board, err := ParseBoard(data)
	if err != nil {
		return nil, fmt.Errorf("board %s: %w", path, err)
	}
	return board, nil
}

// ParseBoard decodes a YAML board description, applies defaults and
// validates the result.
func ParseBoard(data []byte) (*Board, error) {
	var board Board
	if err := yaml.Unmarshal(data, &board); err != nil {
		return nil, fmt.Errorf("parsing board: %w", err)
	}
	board.applyDefaults()
	if err := board.Validate(); err != nil {
		return nil, err
	}
	return &board, nil
}

// Marshal encodes the board back to YAML.
func (b *Board) Marshal() ([]byte, error) {
	return yaml.Marshal(b)
}

func (b *Board) applyDefaults() {
	if b.CPUs == 0 {
		b.CPUs = 1
	}
	if b.NRIRQs == 0 {
		b.NRIRQs = irq.DefaultNR
	}
	for i := range b.GICs {
		g := &b.GICs[i]
		if g.Name == "" {
			g.Name = fmt.Sprintf("gic%d", i)
		}
		if g.Lines == 0 {
			g.Lines = gicsim.DefaultLines
		}
		if g.ArchRev == 0 {
			g.ArchRev = gicsim.ArchRevGICv2
		}
	}
}

// Validate checks the structure of the board. Hardware mismatches the
// driver detects itself (a FIQ build on a controller without security
// extensions, for instance) are left for boot to report.
func (b *Board) Validate() error {
	if b.CPUs < 1 || b.CPUs > gicsim.MaxCPUs {
		return fmt.Errorf("cpus %d out of range [1,%d]", b.CPUs, gicsim.MaxCPUs)
	}
	if b.NRIRQs < 0 {
		return fmt.Errorf("nr_irqs %d is negative", b.NRIRQs)
	}
	if len(b.GICs) == 0 {
		return fmt.Errorf("no gics")
	}
	if len(b.GICs) > gic.MaxInstances {
		return fmt.Errorf("%d gics, at most %d supported", len(b.GICs), gic.MaxInstances)
	}

	names := make(map[string]bool)
	for i, g := range b.GICs {
		if names[g.Name] {
			return fmt.Errorf("gic %d: duplicate name %q", i, g.Name)
		}
		names[g.Name] = true
		if g.Lines < 32 || g.Lines > 1024 || g.Lines%32 != 0 {
			return fmt.Errorf("gic %s: lines %d must be a multiple of 32 in [32,1024]", g.Name, g.Lines)
		}
		if (g.DistBase == 0) != (g.CPUBase == 0) {
			return fmt.Errorf("gic %s: dist_base and cpu_base must both be set or both be omitted", g.Name)
		}
		start, end := b.numbers(i)
		for j := range i {
			if ostart, oend := b.numbers(j); start < oend && ostart < end {
				return fmt.Errorf("gic %s: interrupt numbers %d-%d overlap %s (%d-%d)",
					g.Name, start, end-1, b.GICs[j].Name, ostart, oend-1)
			}
		}
		if i == 0 {
			if g.Cascade != nil {
				return fmt.Errorf("gic %s: the primary controller cannot be cascaded", g.Name)
			}
			continue
		}
		if g.Cascade == nil {
			return fmt.Errorf("gic %s: secondary controllers must be cascaded", g.Name)
		}
		if g.Cascade.Parent < 0 || g.Cascade.Parent >= i {
			return fmt.Errorf("gic %s: cascade parent %d must be an earlier controller", g.Name, g.Cascade.Parent)
		}
		if _, ok := b.spiOf(g.Cascade.Parent, g.Cascade.IRQ); !ok {
			return fmt.Errorf("gic %s: cascade irq %d is not a shared line of %s",
				g.Name, g.Cascade.IRQ, b.GICs[g.Cascade.Parent].Name)
		}
	}

	used := make(map[uint32]string)
	for i := range b.GICs {
		if c := b.GICs[i].Cascade; c != nil {
			used[c.IRQ] = b.GICs[i].Name
		}
	}
	for _, d := range b.Devices {
		if d.Name == "" {
			return fmt.Errorf("device on irq %d has no name", d.IRQ)
		}
		if owner, ok := used[d.IRQ]; ok {
			return fmt.Errorf("device %s: irq %d already used by %s", d.Name, d.IRQ, owner)
		}
		used[d.IRQ] = d.Name
		if _, _, ok := b.Route(d.IRQ); !ok {
			return fmt.Errorf("device %s: irq %d is not a shared line of any gic", d.Name, d.IRQ)
		}
		if d.CPU != nil {
			// A cascade only forwards the CPU 0 output of its controller.
			if instance, _, _ := b.Route(d.IRQ); instance != 0 && *d.CPU != 0 {
				return fmt.Errorf("device %s: cpu routing is not possible behind cascaded %s", d.Name, b.GICs[instance].Name)
			}
			if !b.Features.SMP {
				return fmt.Errorf("device %s: cpu routing needs the smp feature", d.Name)
			}
			if *d.CPU < 0 || *d.CPU >= b.CPUs {
				return fmt.Errorf("device %s: cpu %d out of range", d.Name, *d.CPU)
			}
		}
	}
	return nil
}

// numbers returns the logical interrupt numbers [start, end) covered by
// controller instance.
func (b *Board) numbers(instance int) (start, end uint32) {
	g := b.GICs[instance]
	start = uint32(gic.IRQOffset(irq.Number(g.IRQStart)))
	return start, start + uint32(g.Lines)
}

// spiOf converts logical line n to a shared peripheral ID of controller
// instance, if the controller registers it.
func (b *Board) spiOf(instance int, n uint32) (uint32, bool) {
	g := b.GICs[instance]
	if n < g.IRQStart || int(n) >= b.NRIRQs {
		return 0, false
	}
	offset := uint32(gic.IRQOffset(irq.Number(g.IRQStart)))
	if n < offset {
		return 0, false
	}
	hw := n - offset
	if hw < 32 || int(hw) >= g.Lines || hw >= gicsim.MaxLines {
		return 0, false
	}
	return hw, true
}

// Route finds the controller owning logical line n and its hardware ID.
func (b *Board) Route(n uint32) (instance int, hw uint32, ok bool) {
	for i := range b.GICs {
		if hw, ok := b.spiOf(i, n); ok {
			return i, hw, true
		}
	}
	return 0, 0, false
}

// Device looks up a device by name.
func (b *Board) Device(name string) (Device, bool) {
	for _, d := range b.Devices {
		if d.Name == name {
			return d, true
		}
	}
	return Device{}, false
}

// DefaultBoard is a RealView-style system: a four-CPU primary GIC and a
// secondary cascaded into it.
func DefaultBoard() *Board {
	uartCPU := 1
	b := &Board{
		Name:     "realview",
		CPUs:     4,
		NRIRQs:   192,
		Features: Features{SMP: true, PM: true},
		GICs: []GIC{
			{Name: "gic0", DistBase: 0x2c00_1000, CPUBase: 0x2c00_2000, IRQStart: 29, Lines: 96},
			{Name: "gic1", IRQStart: 128, Lines: 64, Cascade: &Cascade{Parent: 0, IRQ: 42}},
		},
		Devices: []Device{
			{Name: "timer0", IRQ: 36, Trigger: Trigger(irq.TypeEdgeRising)},
			{Name: "uart0", IRQ: 44, Trigger: Trigger(irq.TypeLevelHigh), CPU: &uartCPU},
			{Name: "eth0", IRQ: 60},
			{Name: "mmc0", IRQ: 140, Trigger: Trigger(irq.TypeLevelHigh)},
		},
	}
	b.applyDefaults()
	return b
}
