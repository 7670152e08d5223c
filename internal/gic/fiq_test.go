package gic

import (
	"errors"
	"testing"
)

func TestFIQInit(t *testing.T) {
	r := newRig(t, rigConfig{cpus: 2, lines: 64, firstIRQ: 32, securityExtn: true, opts: Options{FIQ: true}})
	if got := r.distReg(t, 0, distCtrl); got != 3 {
		t.Fatalf("dist ctrl = %#x, want 3", got)
	}
	for cpu := 0; cpu < 2; cpu++ {
		if got := r.cpuReg(t, cpu, cpuCtrl); got != 0x1f {
			t.Fatalf("cpu%d ctrl = %#x, want 0x1f", cpu, got)
		}
		if got := r.distReg(t, cpu, distGroup); got != 0xffffffff {
			t.Fatalf("cpu%d local group = %#x", cpu, got)
		}
	}
	if got := r.distReg(t, 0, distGroup+4); got != 0xffffffff {
		t.Fatalf("shared group = %#x", got)
	}
}

func TestFIQSanityChecks(t *testing.T) {
	for _, tc := range []struct {
		name    string
		sec     bool
		archRev uint32
	}{
		{"no security extensions", false, 2},
		{"gicv1", true, 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r := newRawRig(t, rigConfig{lines: 64, securityExtn: tc.sec, archRev: tc.archRev, opts: Options{FIQ: true}})
			err := r.sys.Init(r.topo.Boot(), 0, 32, r.dist, r.cpuif)
			if !errors.Is(err, ErrFatalInit) {
				t.Fatalf("Init = %v, want ErrFatalInit", err)
			}
		})
	}
}

func TestEnableFIQ(t *testing.T) {
	r := newRig(t, rigConfig{cpus: 2, lines: 64, firstIRQ: 16, securityExtn: true, opts: Options{FIQ: true}})
	cpu := r.topo.Boot()

	for _, tc := range []struct {
		n    HwIRQ
		lane uint32
	}{
		{44, 0},
		{45, 8},
		{46, 16},
		{27, 24},
	} {
		if err := r.sys.EnableFIQ(cpu, r.sys.Controller(0).logical(tc.n), true); err != nil {
			t.Fatalf("EnableFIQ(%v): %v", tc.n, err)
		}
		for id := 0; id < 2; id++ {
			if r.distReg(t, id, distGroup+bitWord(tc.n))&bitMask(tc.n) != 0 {
				t.Fatalf("%v still group 1 on cpu%d", tc.n, id)
			}
			pri := r.distReg(t, id, distPri+byteWord(tc.n))
			if got := (pri >> tc.lane) & 0xff; got != FIQPriority {
				t.Fatalf("%v priority on cpu%d = %#x", tc.n, id, got)
			}
			for lane := uint32(0); lane < 32; lane += 8 {
				if lane == tc.lane {
					continue
				}
				if got := (pri >> lane) & 0xff; got != DefaultPriority && got != FIQPriority {
					t.Fatalf("%v clobbered lane %d: %#x", tc.n, lane, got)
				}
			}
		}
		if err := r.sys.EnableFIQ(cpu, r.sys.Controller(0).logical(tc.n), false); err != nil {
			t.Fatalf("EnableFIQ(%v, false): %v", tc.n, err)
		}
		if r.distReg(t, 1, distGroup+bitWord(tc.n))&bitMask(tc.n) == 0 {
			t.Fatalf("%v not returned to group 1", tc.n)
		}
		if got := (r.distReg(t, 1, distPri+byteWord(tc.n)) >> tc.lane) & 0xff; got != DefaultPriority {
			t.Fatalf("%v priority after disable = %#x", tc.n, got)
		}
	}
	if !cpu.LocalFIQEnabled() {
		t.Fatalf("local FIQ not enabled")
	}
}

func TestEnableFIQNeedsFeature(t *testing.T) {
	r := newRig(t, rigConfig{lines: 64, firstIRQ: 32})
	if err := r.sys.EnableFIQ(r.topo.Boot(), 40, true); !errors.Is(err, ErrFeatureDisabled) {
		t.Fatalf("EnableFIQ = %v, want ErrFeatureDisabled", err)
	}
	if r.topo.Boot().LocalFIQEnabled() {
		t.Fatalf("local FIQ enabled by a rejected call")
	}
}
