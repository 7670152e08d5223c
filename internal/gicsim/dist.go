package gicsim

import "github.com/tinyrange/irqchip/internal/debug"

// Distributor register offsets.
const (
	gicdCtlr       = 0x000
	gicdTyper      = 0x004
	gicdIidr       = 0x008
	gicdIgroupr    = 0x080
	gicdIsenabler  = 0x100
	gicdIcenabler  = 0x180
	gicdIspendr    = 0x200
	gicdIcpendr    = 0x280
	gicdIsactiver  = 0x300
	gicdIcactiver  = 0x380
	gicdIpriorityr = 0x400
	gicdItargetsr  = 0x800
	gicdIcfgr      = 0xC00
	gicdSgir       = 0xF00
	gicdPidr2      = 0xFE8

	gicdIidrValue = 0x0200143B

	// SGIs are always edge triggered.
	sgiConfig = 0xAAAAAAAA
	// Only the upper bit of each 2-bit ICFGR field is writable.
	cfgWritable = 0xAAAAAAAA
)

type family int

const (
	famGroup family = iota
	famEnable
	famPending
	famActive
)

// bitWord returns the storage for word n of a bit-per-line family, or nil
// when the word is not implemented.
func (d *Device) bitWord(b *bank, fam family, n uint32) *uint32 {
	if n == 0 {
		switch fam {
		case famGroup:
			return &b.group
		case famEnable:
			return &b.enable
		case famPending:
			return &b.pending
		default:
			return &b.active
		}
	}
	if int(n) >= d.cfg.Lines/32 {
		return nil
	}
	switch fam {
	case famGroup:
		return &d.group[n]
	case famEnable:
		return &d.enable[n]
	case famPending:
		return &d.pending[n]
	default:
		return &d.active[n]
	}
}

func inFrame(off, base, size uint32) bool {
	return off >= base && off < base+size
}

func (d *Device) typer() uint32 {
	v := uint32(d.cfg.Lines/32-1) | uint32(d.cfg.CPUs-1)<<5
	if d.cfg.SecurityExtn {
		v |= 1 << 10
	}
	return v
}

func (d *Device) readBytes(b *bank, cpu int, base uint32, off uint32, targets bool) uint32 {
	first := off - base
	var v uint32
	for i := uint32(0); i < 4; i++ {
		id := first + i
		var lane uint8
		switch {
		case int(id) >= d.cfg.Lines:
		case id < 32 && targets:
			lane = 1 << cpu
		case id < 32:
			lane = b.priority[id]
		case targets:
			lane = d.target[id]
		default:
			lane = d.priority[id]
		}
		v |= uint32(lane) << (8 * i)
	}
	return v
}

func (d *Device) writeBytes(b *bank, base uint32, off uint32, value uint32, targets bool) {
	first := off - base
	for i := uint32(0); i < 4; i++ {
		id := first + i
		lane := uint8(value >> (8 * i))
		switch {
		case int(id) >= d.cfg.Lines:
		case id < 32 && targets:
			// Banked targets are read-only.
		case id < 32:
			b.priority[id] = lane
		case targets:
			d.target[id] = lane
		default:
			d.priority[id] = lane
		}
	}
}

func (d *Device) readDist(b *bank, cpu int, off uint32) uint32 {
	switch {
	case off == gicdCtlr:
		return d.ctlr
	case off == gicdTyper:
		return d.typer()
	case off == gicdIidr:
		return gicdIidrValue
	case off == gicdPidr2:
		return d.cfg.ArchRev << 4
	case inFrame(off, gicdIgroupr, 0x80):
		return d.readBits(b, famGroup, (off-gicdIgroupr)/4)
	case inFrame(off, gicdIsenabler, 0x80):
		return d.readBits(b, famEnable, (off-gicdIsenabler)/4)
	case inFrame(off, gicdIcenabler, 0x80):
		return d.readBits(b, famEnable, (off-gicdIcenabler)/4)
	case inFrame(off, gicdIspendr, 0x80):
		return d.readBits(b, famPending, (off-gicdIspendr)/4)
	case inFrame(off, gicdIcpendr, 0x80):
		return d.readBits(b, famPending, (off-gicdIcpendr)/4)
	case inFrame(off, gicdIsactiver, 0x80):
		return d.readBits(b, famActive, (off-gicdIsactiver)/4)
	case inFrame(off, gicdIcactiver, 0x80):
		return d.readBits(b, famActive, (off-gicdIcactiver)/4)
	case inFrame(off, gicdIpriorityr, 0x400):
		return d.readBytes(b, cpu, gicdIpriorityr, off, false)
	case inFrame(off, gicdItargetsr, 0x400):
		return d.readBytes(b, cpu, gicdItargetsr, off, true)
	case inFrame(off, gicdIcfgr, 0x100):
		n := (off - gicdIcfgr) / 4
		switch {
		case n == 0:
			return sgiConfig
		case n == 1:
			return b.cfg1
		case int(n) < len(d.icfgr):
			return d.icfgr[n]
		}
	}
	return 0
}

func (d *Device) readBits(b *bank, fam family, n uint32) uint32 {
	if w := d.bitWord(b, fam, n); w != nil {
		return *w
	}
	return 0
}

func (d *Device) writeDist(b *bank, cpu int, off uint32, value uint32) {
	switch {
	case off == gicdCtlr:
		d.ctlr = value & 0x3
		debug.Writef("gicsim dist ctlr", "%s: cpu%d ctlr=%#x", d.cfg.Name, cpu, d.ctlr)
	case inFrame(off, gicdIgroupr, 0x80):
		if w := d.bitWord(b, famGroup, (off-gicdIgroupr)/4); w != nil {
			*w = value
		}
	case inFrame(off, gicdIsenabler, 0x80):
		if w := d.bitWord(b, famEnable, (off-gicdIsenabler)/4); w != nil {
			*w |= value
		}
	case inFrame(off, gicdIcenabler, 0x80):
		if w := d.bitWord(b, famEnable, (off-gicdIcenabler)/4); w != nil {
			*w &^= value
		}
	case inFrame(off, gicdIspendr, 0x80):
		n := (off - gicdIspendr) / 4
		if w := d.bitWord(b, famPending, n); w != nil {
			*w |= value
			if n == 0 {
				for id := 0; id < 16; id++ {
					if value&(1<<id) != 0 {
						b.sgiSource[id] = uint8(cpu)
					}
				}
			}
		}
	case inFrame(off, gicdIcpendr, 0x80):
		if w := d.bitWord(b, famPending, (off-gicdIcpendr)/4); w != nil {
			*w &^= value
		}
	case inFrame(off, gicdIsactiver, 0x80):
		if w := d.bitWord(b, famActive, (off-gicdIsactiver)/4); w != nil {
			*w |= value
		}
	case inFrame(off, gicdIcactiver, 0x80):
		if w := d.bitWord(b, famActive, (off-gicdIcactiver)/4); w != nil {
			*w &^= value
		}
	case inFrame(off, gicdIpriorityr, 0x400):
		d.writeBytes(b, gicdIpriorityr, off, value, false)
	case inFrame(off, gicdItargetsr, 0x400):
		d.writeBytes(b, gicdItargetsr, off, value, true)
	case inFrame(off, gicdIcfgr, 0x100):
		n := (off - gicdIcfgr) / 4
		switch {
		case n == 0:
		case n == 1:
			b.cfg1 = value & cfgWritable
		case int(n) < len(d.icfgr):
			d.icfgr[n] = value & cfgWritable
		}
	case off == gicdSgir:
		d.generateSGI(cpu, value)
	}
}

func (d *Device) generateSGI(cpu int, value uint32) {
	id := value & 0xf
	list := uint8(value >> 16)
	switch (value >> 24) & 0x3 {
	case 0:
	case 1:
		list = ^uint8(1 << cpu)
	case 2:
		list = 1 << cpu
	default:
		return
	}
	debug.Writef("gicsim sgi", "%s: cpu%d sgi %d -> %#02x", d.cfg.Name, cpu, id, list)
	for t, tb := range d.banks {
		if list&(1<<t) == 0 {
			continue
		}
		tb.pending |= 1 << id
		tb.sgiSource[id] = uint8(cpu)
	}
}

// isEdge reports whether id is configured edge-triggered as seen from b.
func (d *Device) isEdge(b *bank, id uint32) bool {
	shift := (id%16)*2 + 1
	switch {
	case id < 16:
		return true
	case id < 32:
		return b.cfg1&(1<<shift) != 0
	default:
		return d.icfgr[id/16]&(1<<shift) != 0
	}
}

func (d *Device) setPendingLocked(b *bank, id uint32) {
	if id < 32 {
		b.pending |= 1 << id
		return
	}
	d.pending[id/32] |= 1 << (id % 32)
}

func (d *Device) clearPendingLocked(b *bank, id uint32) {
	if id < 32 {
		b.pending &^= 1 << id
		return
	}
	d.pending[id/32] &^= 1 << (id % 32)
}
