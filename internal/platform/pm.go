package platform

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tinyrange/irqchip/internal/gic"
)

// Suspend prepares the system for losing controller power. The boot CPU
// saves its CPU Interfaces and every Distributor, then the secondary CPUs
// go offline. A failed save leaves the machine running as it was.
func (m *Machine) Suspend() (*gic.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.pmReadyLocked(); err != nil {
		return nil, err
	}
	if m.suspended {
		return nil, fmt.Errorf("platform: already suspended")
	}

	boot := m.topo.Boot()
	snap := &gic.Snapshot{}
	for i := range m.board.GICs {
		st, err := m.gic.SaveCPUState(boot, i)
		if err != nil {
			return nil, fmt.Errorf("save cpu interface of %s: %w", m.board.GICs[i].Name, err)
		}
		snap.CPUs = append(snap.CPUs, gic.CPUSnapshot{Instance: i, CPU: boot.ID(), State: st})
	}
	for i := range m.board.GICs {
		st, err := m.gic.SaveDistState(boot, i)
		if err != nil {
			return nil, fmt.Errorf("save distributor of %s: %w", m.board.GICs[i].Name, err)
		}
		snap.Dists = append(snap.Dists, gic.DistSnapshot{Instance: i, State: *st})
	}

	m.topo.Online().Clear(0).Each(func(id int) {
		m.topo.SetOnline(id, false)
	})
	m.suspended = true
	m.logger.Info("platform: suspended", slog.String("board", m.board.Name))
	return snap, nil
}

// PowerCycle drops power to every simulated controller.
func (m *Machine) PowerCycle() error {
	if m.chipset == nil {
		return ErrNoSimulator
	}
	return m.chipset.Reset()
}

// Resume restores snap, Distributors before CPU Interfaces, and brings the
// secondary CPUs back up. A booted machine that was never suspended can be
// resumed from a snapshot taken elsewhere.
func (m *Machine) Resume(ctx context.Context, snap *gic.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.pmReadyLocked(); err != nil {
		return err
	}
	if err := m.checkSnapshot(snap); err != nil {
		return err
	}
	if !m.suspended {
		m.topo.Online().Clear(0).Each(func(id int) {
			m.topo.SetOnline(id, false)
		})
	}

	boot := m.topo.Boot()
	for _, d := range snap.Dists {
		if err := m.gic.RestoreDistState(boot, d.Instance, &d.State); err != nil {
			return fmt.Errorf("restore distributor of %s: %w", m.board.GICs[d.Instance].Name, err)
		}
	}
	for _, c := range snap.CPUs {
		cpu := m.topo.CPU(c.CPU)
		if err := m.gic.RestoreCPUState(cpu, c.Instance, c.State); err != nil {
			return fmt.Errorf("restore cpu interface of %s on %v: %w", m.board.GICs[c.Instance].Name, cpu, err)
		}
	}

	if err := m.startSecondaries(ctx); err != nil {
		return err
	}
	m.suspended = false
	m.logger.Info("platform: resumed",
		slog.String("board", m.board.Name),
		slog.String("online", m.topo.Online().String()))
	return nil
}

// Suspended reports whether the machine is between Suspend and Resume.
func (m *Machine) Suspended() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.suspended
}

func (m *Machine) pmReadyLocked() error {
	if !m.board.Features.PM {
		return fmt.Errorf("%w: power management", gic.ErrFeatureDisabled)
	}
	if !m.booted {
		return ErrNotBooted
	}
	return nil
}

// checkSnapshot rejects a snapshot taken on a different board layout.
func (m *Machine) checkSnapshot(snap *gic.Snapshot) error {
	instance := func(i int) error {
		if i < 0 || i >= len(m.board.GICs) {
			return fmt.Errorf("%w: instance %d on a board with %d gics", gic.ErrBadSnapshot, i, len(m.board.GICs))
		}
		return nil
	}
	for _, d := range snap.Dists {
		if err := instance(d.Instance); err != nil {
			return err
		}
	}
	for _, c := range snap.CPUs {
		if err := instance(c.Instance); err != nil {
			return err
		}
		if m.topo.CPU(c.CPU) == nil {
			return fmt.Errorf("%w: snapshot of cpu%d on a %d-cpu board", gic.ErrBadSnapshot, c.CPU, m.board.CPUs)
		}
	}
	return nil
}
