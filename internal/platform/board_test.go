package platform

import (
	"strings"
	"testing"

	"github.com/tinyrange/irqchip/internal/irq"
)

func TestLoadBoard(t *testing.T) {
	b, err := LoadBoard("testdata/realview.yaml")
	if err != nil {
		t.Fatalf("LoadBoard: %v", err)
	}
	if b.Name != "realview-eb" || b.CPUs != 4 || b.NRIRQs != 192 {
		t.Fatalf("unexpected board header: %+v", b)
	}
	if !b.Features.SMP || !b.Features.PM || b.Features.FIQ {
		t.Fatalf("features = %+v", b.Features)
	}
	if len(b.GICs) != 2 {
		t.Fatalf("got %d gics, want 2", len(b.GICs))
	}
	if g := b.GICs[0]; g.DistBase != 0x1f001000 || g.CPUBase != 0x1f002000 || g.IRQStart != 29 {
		t.Fatalf("gic0 = %+v", g)
	}
	if g := b.GICs[1]; g.Cascade == nil || g.Cascade.IRQ != 42 || g.ArchRev != 2 {
		t.Fatalf("gic1 = %+v", g)
	}

	timer, ok := b.Device("timer0")
	if !ok || timer.Trigger.Type() != irq.TypeEdgeRising {
		t.Fatalf("timer0 = %+v, %v", timer, ok)
	}
	uart, _ := b.Device("uart0")
	if uart.CPU == nil || *uart.CPU != 1 {
		t.Fatalf("uart0 cpu = %v", uart.CPU)
	}
	mmc, _ := b.Device("mmc0")
	if mmc.Trigger.Type() != irq.TypeNone {
		t.Fatalf("mmc0 trigger = %v, want none", mmc.Trigger.Type())
	}
}

func TestParseBoardDefaults(t *testing.T) {
	b, err := ParseBoard([]byte("gics:\n  - irq_start: 32\n"))
	if err != nil {
		t.Fatalf("ParseBoard: %v", err)
	}
	if b.CPUs != 1 || b.NRIRQs != irq.DefaultNR {
		t.Fatalf("defaults: cpus %d nr_irqs %d", b.CPUs, b.NRIRQs)
	}
	if g := b.GICs[0]; g.Name != "gic0" || g.Lines != 96 || g.ArchRev != 2 {
		t.Fatalf("gic defaults = %+v", g)
	}
}

func TestParseBoardRejects(t *testing.T) {
	for _, tc := range []struct {
		name string
		yaml string
		want string
	}{
		{"no gics", "cpus: 1\n", "no gics"},
		{"too many cpus", "cpus: 9\ngics: [{}]\n", "cpus 9"},
		{"too many gics", "gics: [{}, {cascade: {irq: 40}}, {cascade: {irq: 41}}]\n", "at most"},
		{"odd lines", "gics: [{lines: 40}]\n", "multiple of 32"},
		{"half placed", "gics: [{dist_base: 0x1000}]\n", "both be set"},
		{"cascaded primary", "gics: [{cascade: {irq: 40}}]\n", "cannot be cascaded"},
		{"uncascaded secondary", "gics: [{}, {irq_start: 128}]\n", "must be cascaded"},
		{"cascade onto local line", "gics: [{}, {irq_start: 128, cascade: {irq: 20}}]\n", "not a shared line"},
		{"forward parent", "gics: [{}, {irq_start: 128, cascade: {parent: 1, irq: 40}}]\n", "earlier controller"},
		{"bad trigger", "gics: [{}]\ndevices: [{name: a, irq: 40, trigger: sideways}]\n", "invalid trigger"},
		{"unnamed device", "gics: [{}]\ndevices: [{irq: 40}]\n", "no name"},
		{"device off the map", "gics: [{}]\ndevices: [{name: a, irq: 500}]\n", "not a shared line"},
		{"device on cascade", "gics: [{}, {irq_start: 128, cascade: {irq: 40}}]\ndevices: [{name: a, irq: 40}]\n", "already used"},
		{"routing without smp", "cpus: 2\ngics: [{}]\ndevices: [{name: a, irq: 40, cpu: 1}]\n", "smp"},
		{"overlapping gics", "gics: [{irq_start: 29, lines: 192}, {irq_start: 128, lines: 64, cascade: {irq: 42}}]\n", "overlap gic0"},
		{"routing behind cascade", "cpus: 4\nfeatures: {smp: true}\ngics: [{irq_start: 29}, {irq_start: 128, lines: 64, cascade: {irq: 42}}]\ndevices: [{name: a, irq: 150, cpu: 2}]\n", "behind cascaded gic1"},
		{"routing off board", "cpus: 2\nfeatures: {smp: true}\ngics: [{}]\ndevices: [{name: a, irq: 40, cpu: 2}]\n", "out of range"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseBoard([]byte(tc.yaml))
			if err == nil {
				t.Fatalf("ParseBoard succeeded")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestBoardMarshalRoundTrip(t *testing.T) {
	b := DefaultBoard()
	data, err := b.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), "edge-rising") {
		t.Fatalf("trigger not written by name:\n%s", data)
	}
	back, err := ParseBoard(data)
	if err != nil {
		t.Fatalf("ParseBoard: %v", err)
	}
	if len(back.Devices) != len(b.Devices) {
		t.Fatalf("got %d devices, want %d", len(back.Devices), len(b.Devices))
	}
	for i := range b.Devices {
		if back.Devices[i].Trigger != b.Devices[i].Trigger {
			t.Fatalf("device %s trigger %v, want %v", b.Devices[i].Name, back.Devices[i].Trigger.Type(), b.Devices[i].Trigger.Type())
		}
	}
}

func TestRoute(t *testing.T) {
	b := DefaultBoard()
	for _, tc := range []struct {
		n        uint32
		instance int
		hw       uint32
		ok       bool
	}{
		{n: 32, instance: 0, hw: 32, ok: true},
		{n: 95, instance: 0, hw: 95, ok: true},
		{n: 96},
		{n: 127},
		{n: 128, instance: 1, hw: 32, ok: true},
		{n: 159, instance: 1, hw: 63, ok: true},
		{n: 160},
		{n: 29},
	} {
		instance, hw, ok := b.Route(tc.n)
		if ok != tc.ok || (ok && (instance != tc.instance || hw != tc.hw)) {
			t.Fatalf("Route(%d) = %d, %d, %v; want %d, %d, %v", tc.n, instance, hw, ok, tc.instance, tc.hw, tc.ok)
		}
	}
}

func TestParseBoardCascadedDeviceOnBootCPU(t *testing.T) {
	b, err := ParseBoard([]byte("cpus: 4\nfeatures: {smp: true}\ngics: [{irq_start: 29}, {irq_start: 128, lines: 64, cascade: {irq: 42}}]\ndevices: [{name: a, irq: 150, cpu: 0}]\n"))
	if err != nil {
		t.Fatalf("ParseBoard: %v", err)
	}
	if instance, hw, _ := b.Route(150); instance != 1 || hw != 54 {
		t.Fatalf("Route(150) = %d, %d", instance, hw)
	}
}
