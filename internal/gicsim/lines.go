package gicsim

import "fmt"

// SetLine drives the input of shared peripheral interrupt id.
func (d *Device) SetLine(id uint32, level bool) error {
	if id < 32 || int(id) >= d.cfg.Lines || int(id) >= MaxLines {
		return fmt.Errorf("gicsim %s: no shared input %d", d.cfg.Name, id)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	prev := d.level[id]
	d.level[id] = level
	switch {
	case d.isEdge(nil, id):
		if level && !prev {
			d.setPendingLocked(nil, id)
		}
	case level:
		d.setPendingLocked(nil, id)
	default:
		d.clearPendingLocked(nil, id)
	}
	d.updateLocked()
	return nil
}

// SetPrivateLine drives private peripheral input id (16-31) of cpu.
func (d *Device) SetPrivateLine(cpu int, id uint32, level bool) error {
	if id < 16 || id >= 32 {
		return fmt.Errorf("gicsim %s: %d is not a private peripheral interrupt", d.cfg.Name, id)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if cpu < 0 || cpu >= len(d.banks) {
		return fmt.Errorf("gicsim %s: no cpu interface %d", d.cfg.Name, cpu)
	}
	b := d.banks[cpu]
	prev := b.ppiLevel&(1<<id) != 0
	if level {
		b.ppiLevel |= 1 << id
	} else {
		b.ppiLevel &^= 1 << id
	}
	switch {
	case d.isEdge(b, id):
		if level && !prev {
			d.setPendingLocked(b, id)
		}
	case level:
		d.setPendingLocked(b, id)
	default:
		d.clearPendingLocked(b, id)
	}
	d.updateLocked()
	return nil
}

// SetIRQ implements chipset.InterruptSink so a LineSet can feed the
// shared inputs.
func (d *Device) SetIRQ(line uint32, level bool) {
	_ = d.SetLine(line, level)
}
