package gic

import (
	"github.com/tinyrange/irqchip/internal/smp"
)

const (
	words32 = (MaxLines + 31) / 32
	words16 = (MaxLines + 15) / 16
	words4  = (MaxLines + 3) / 4
)

// CPUState holds the CPU Interface configuration of one CPU.
type CPUState struct {
	Ctrl          uint32
	PriMask       uint32
	BinPoint      uint32
	AliasBinPoint uint32
}

// DistState holds the Distributor registers, as seen by the saving CPU,
// for every discovered line. Group is kept so FIQ routing survives.
type DistState struct {
	Lines int
	Ctrl  uint32

	Group   [words32]uint32
	Enable  [words32]uint32
	Pending [words32]uint32
	Active  [words32]uint32

	Priority [words4]uint32
	Target   [words4]uint32
	Config   [words16]uint32
}

// SaveCPUState reads the CPU Interface configuration of instance on cpu.
func (s *Subsystem) SaveCPUState(cpu *smp.CPU, instance int) (CPUState, error) {
	c, err := s.initialized(instance)
	if err != nil {
		return CPUState{}, err
	}
	st := CPUState{
		Ctrl:          c.cpu.ReadRelaxed32(cpu, cpuCtrl),
		PriMask:       c.cpu.ReadRelaxed32(cpu, cpuPrimask),
		BinPoint:      c.cpu.ReadRelaxed32(cpu, cpuBinpoint),
		AliasBinPoint: c.cpu.ReadRelaxed32(cpu, cpuAliasBinpoint),
	}
	return st, c.cpu.Err()
}

// RestoreCPUState writes st back. The control register, which enables
// delivery, is written last.
func (s *Subsystem) RestoreCPUState(cpu *smp.CPU, instance int, st CPUState) error {
	c, err := s.initialized(instance)
	if err != nil {
		return err
	}
	c.cpu.WriteRelaxed32(cpu, cpuPrimask, st.PriMask)
	c.cpu.WriteRelaxed32(cpu, cpuBinpoint, st.BinPoint)
	c.cpu.WriteRelaxed32(cpu, cpuAliasBinpoint, st.AliasBinPoint)
	c.cpu.WriteRelaxed32(cpu, cpuCtrl, st.Ctrl)
	return c.cpu.Err()
}

// SaveDistState reads every Distributor register family of instance.
func (s *Subsystem) SaveDistState(cpu *smp.CPU, instance int) (*DistState, error) {
	c, err := s.initialized(instance)
	if err != nil {
		return nil, err
	}
	st := &DistState{}
	st.Lines = linesFromTyper(c.dist.Read32(cpu, distCtr))

	s.lock.Lock()
	defer s.lock.Unlock()

	for i := 0; i < (st.Lines+15)/16; i++ {
		st.Config[i] = c.dist.ReadRelaxed32(cpu, distConfig+uint32(i*4))
	}
	for i := 0; i < (st.Lines+3)/4; i++ {
		st.Priority[i] = c.dist.ReadRelaxed32(cpu, distPri+uint32(i*4))
		st.Target[i] = c.dist.ReadRelaxed32(cpu, distTarget+uint32(i*4))
	}
	for i := 0; i < (st.Lines+31)/32; i++ {
		st.Group[i] = c.dist.ReadRelaxed32(cpu, distGroup+uint32(i*4))
		st.Enable[i] = c.dist.ReadRelaxed32(cpu, distEnableSet+uint32(i*4))
		st.Pending[i] = c.dist.ReadRelaxed32(cpu, distPendingSet+uint32(i*4))
		st.Active[i] = c.dist.ReadRelaxed32(cpu, distActiveSet+uint32(i*4))
	}
	st.Ctrl = c.dist.ReadRelaxed32(cpu, distCtrl)
	return st, c.dist.Err()
}

// RestoreDistState writes st back into instance: line attributes first,
// then transient state, then enables, and the Distributor control last.
func (s *Subsystem) RestoreDistState(cpu *smp.CPU, instance int, st *DistState) error {
	c, err := s.initialized(instance)
	if err != nil {
		return err
	}
	lines := linesFromTyper(c.dist.Read32(cpu, distCtr))
	if st.Lines < lines {
		lines = st.Lines
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	c.dist.WriteRelaxed32(cpu, distCtrl, 0)

	for i := 0; i < (lines+15)/16; i++ {
		c.dist.WriteRelaxed32(cpu, distConfig+uint32(i*4), st.Config[i])
	}
	for i := 0; i < (lines+3)/4; i++ {
		c.dist.WriteRelaxed32(cpu, distPri+uint32(i*4), st.Priority[i])
	}
	for i := 0; i < (lines+3)/4; i++ {
		c.dist.WriteRelaxed32(cpu, distTarget+uint32(i*4), st.Target[i])
	}
	for i := 0; i < (lines+31)/32; i++ {
		c.dist.WriteRelaxed32(cpu, distGroup+uint32(i*4), st.Group[i])
	}

	for i := 0; i < (lines+31)/32; i++ {
		c.dist.WriteRelaxed32(cpu, distActiveClear+uint32(i*4), 0xffffffff)
		c.dist.WriteRelaxed32(cpu, distActiveSet+uint32(i*4), st.Active[i])
	}
	for i := 0; i < (lines+31)/32; i++ {
		c.dist.WriteRelaxed32(cpu, distPendingClear+uint32(i*4), 0xffffffff)
		c.dist.WriteRelaxed32(cpu, distPendingSet+uint32(i*4), st.Pending[i])
	}
	for i := 0; i < (lines+31)/32; i++ {
		c.dist.WriteRelaxed32(cpu, distEnableClear+uint32(i*4), 0xffffffff)
		c.dist.WriteRelaxed32(cpu, distEnableSet+uint32(i*4), st.Enable[i])
	}

	c.dist.WriteRelaxed32(cpu, distCtrl, st.Ctrl)
	return c.dist.Err()
}
