package gicsim

import (
	"math/bits"

	"github.com/tinyrange/irqchip/internal/debug"
)

// CPU Interface register offsets.
const (
	giccCtlr  = 0x00
	giccPmr   = 0x04
	giccBpr   = 0x08
	giccIar   = 0x0C
	giccEoir  = 0x10
	giccRpr   = 0x14
	giccHppir = 0x18
	giccAbpr  = 0x1C
	giccIidr  = 0xFC

	giccIidrValue = 0x0202143B
	giccCtlrMask  = 0x1f
)

func (d *Device) readCPU(b *bank, cpu int, off uint32) uint32 {
	switch off {
	case giccCtlr:
		return b.ctlr
	case giccPmr:
		return b.pmr
	case giccBpr:
		return b.bpr
	case giccAbpr:
		return b.abpr
	case giccIar:
		return d.acknowledgeLocked(b, cpu)
	case giccRpr:
		return uint32(runningPriority(b))
	case giccHppir:
		id, _, ok := d.bestLocked(b, cpu)
		if !ok {
			return SpuriousID
		}
		return d.withSource(b, id)
	case giccIidr:
		return giccIidrValue
	}
	return 0
}

func (d *Device) writeCPU(b *bank, cpu int, off uint32, value uint32) {
	switch off {
	case giccCtlr:
		b.ctlr = value & giccCtlrMask
		debug.Writef("gicsim cpu ctlr", "%s: cpu%d ctlr=%#x", d.cfg.Name, cpu, b.ctlr)
	case giccPmr:
		b.pmr = value & 0xff
	case giccBpr:
		b.bpr = value & 0x7
	case giccAbpr:
		b.abpr = value & 0x7
	case giccEoir:
		d.eoiLocked(b, cpu, value&0x3ff)
	}
}

func runningPriority(b *bank) uint8 {
	if len(b.running) == 0 {
		return idleRunningPriority
	}
	return b.running[len(b.running)-1].priority
}

func (d *Device) withSource(b *bank, id uint32) uint32 {
	if id < 16 {
		return id | uint32(b.sgiSource[id])<<10
	}
	return id
}

// forwarded reports whether both the Distributor and cpu's interface
// forward interrupts of the group id belongs to.
func (d *Device) forwarded(b *bank, id uint32) bool {
	group1 := d.readBits(b, famGroup, id/32)&(1<<(id%32)) != 0
	bit := uint32(1)
	if group1 && d.cfg.SecurityExtn {
		bit = 2
	}
	return d.ctlr&bit != 0 && b.ctlr&bit != 0
}

func (d *Device) priorityOf(b *bank, id uint32) uint8 {
	if id < 32 {
		return b.priority[id]
	}
	return d.priority[id]
}

// bestLocked finds the highest priority interrupt cpu could take now.
func (d *Device) bestLocked(b *bank, cpu int) (uint32, uint8, bool) {
	var (
		best     uint32
		bestPrio uint8
		found    bool
	)
	limit := uint8(b.pmr)
	if rp := runningPriority(b); rp < limit {
		limit = rp
	}
	for n := uint32(0); int(n) < d.cfg.Lines/32; n++ {
		cand := d.readBits(b, famEnable, n) & d.readBits(b, famPending, n) &^ d.readBits(b, famActive, n)
		for cand != 0 {
			bit := uint32(bits.TrailingZeros32(cand))
			cand &^= 1 << bit
			id := n*32 + bit
			if int(id) >= MaxLines {
				continue
			}
			if id >= 32 && d.target[id]&(1<<cpu) == 0 {
				continue
			}
			if !d.forwarded(b, id) {
				continue
			}
			prio := d.priorityOf(b, id)
			if prio >= limit {
				continue
			}
			if !found || prio < bestPrio {
				best, bestPrio, found = id, prio, true
			}
		}
	}
	return best, bestPrio, found
}

func (d *Device) acknowledgeLocked(b *bank, cpu int) uint32 {
	id, prio, ok := d.bestLocked(b, cpu)
	if !ok {
		return SpuriousID
	}
	value := d.withSource(b, id)
	d.clearPendingLocked(b, id)
	if id >= 32 && !d.isEdge(b, id) && d.level[id] {
		// Still asserted: active and pending.
		d.setPendingLocked(b, id)
	}
	if id >= 16 && id < 32 && !d.isEdge(b, id) && b.ppiLevel&(1<<id) != 0 {
		d.setPendingLocked(b, id)
	}
	if w := d.bitWord(b, famActive, id/32); w != nil {
		*w |= 1 << (id % 32)
	}
	b.running = append(b.running, runningIRQ{id: id, priority: prio})
	debug.Writef("gicsim ack", "%s: cpu%d ack %d prio %#x", d.cfg.Name, cpu, id, prio)
	return value
}

func (d *Device) eoiLocked(b *bank, cpu int, id uint32) {
	if int(id) >= d.cfg.Lines {
		return
	}
	if w := d.bitWord(b, famActive, id/32); w != nil {
		*w &^= 1 << (id % 32)
	}
	for i := len(b.running) - 1; i >= 0; i-- {
		if b.running[i].id == id {
			b.running = append(b.running[:i], b.running[i+1:]...)
			break
		}
	}
	debug.Writef("gicsim eoi", "%s: cpu%d eoi %d", d.cfg.Name, cpu, id)
}

// updateLocked recomputes every CPU's request output and reports changes
// to the sink.
func (d *Device) updateLocked() {
	for cpu, b := range d.banks {
		_, _, ok := d.bestLocked(b, cpu)
		level := ok && d.running
		if level == b.output {
			continue
		}
		b.output = level
		if d.cfg.Output != nil {
			d.cfg.Output.SetOutput(cpu, level)
		}
	}
}
