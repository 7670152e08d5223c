package platform

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/tinyrange/irqchip/internal/gic"
	"github.com/tinyrange/irqchip/internal/irq"
	"github.com/tinyrange/irqchip/internal/smp"
)

// LineInfo is one row of a controller dump.
type LineInfo struct {
	gic.LineState
	Name  string
	Count uint64
}

// Lines returns the state of every line of instance as cpu sees it, with
// the device name and delivery count from the IRQ core.
func (m *Machine) Lines(cpu *smp.CPU, instance int) ([]LineInfo, error) {
	if !m.Booted() {
		return nil, ErrNotBooted
	}
	states, err := m.gic.Lines(cpu, instance)
	if err != nil {
		return nil, err
	}
	out := make([]LineInfo, len(states))
	for i, st := range states {
		out[i] = LineInfo{LineState: st}
		if desc := m.core.Desc(st.IRQ); desc != nil {
			out[i].Name = desc.Name()
			out[i].Count = desc.Count()
		}
	}
	return out, nil
}

// SoakResult summarizes a soak run.
type SoakResult struct {
	Rounds  int
	IPIs    uint64
	Devices uint64
	Taken   int
}

// Soak raises a random mix of IPIs and device interrupts, servicing the
// CPUs after each one, and checks that every interrupt was delivered
// exactly once. progress, if set, is called after each round.
func (m *Machine) Soak(ctx context.Context, rounds int, rng *rand.Rand, progress func(round int)) (SoakResult, error) {
	var res SoakResult
	if !m.Booted() {
		return res, ErrNotBooted
	}
	if !m.Simulated() {
		return res, ErrNoSimulator
	}

	cpus := m.board.CPUs
	wantIPIs := make([]uint64, cpus)
	for i := range wantIPIs {
		wantIPIs[i] = m.IPICount(i)
	}
	wantDevices := make(map[irq.Number]uint64)
	for _, d := range m.board.Devices {
		n := irq.Number(d.IRQ)
		wantDevices[n] = m.core.Desc(n).Count()
	}

	canIPI := m.board.Features.SMP
	if !canIPI && len(m.board.Devices) == 0 {
		return res, fmt.Errorf("platform: board %s has nothing to soak", m.board.Name)
	}

	for round := 0; round < rounds; round++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if canIPI && (len(m.board.Devices) == 0 || rng.Intn(2) == 0) {
			mask := smp.Mask(rng.Intn(1<<cpus-1)+1) & m.topo.Online()
			if mask.Empty() {
				mask = smp.MaskOf(0)
			}
			sgi := gic.HwIRQ(rng.Intn(16))
			if err := m.SendIPI(mask, sgi); err != nil {
				return res, err
			}
			mask.Each(func(cpu int) { wantIPIs[cpu]++ })
			res.IPIs += uint64(mask.Weight())
		} else {
			d := m.board.Devices[rng.Intn(len(m.board.Devices))]
			n := irq.Number(d.IRQ)
			var err error
			if d.Trigger.Type()&irq.TypeEdgeBoth != 0 {
				err = m.Pulse(n)
			} else {
				// The device handler drops the line.
				err = m.Inject(n, true)
			}
			if err != nil {
				return res, err
			}
			wantDevices[n]++
			res.Devices++
		}

		res.Taken += m.ServiceAll()
		res.Rounds++
		if progress != nil {
			progress(round)
		}
	}

	for cpu, want := range wantIPIs {
		if got := m.IPICount(cpu); got != want {
			return res, fmt.Errorf("platform: cpu%d took %d IPIs, want %d", cpu, got, want)
		}
	}
	for n, want := range wantDevices {
		if got := m.core.Desc(n).Count(); got != want {
			return res, fmt.Errorf("platform: %v delivered %d times, want %d", n, got, want)
		}
	}
	return res, nil
}
