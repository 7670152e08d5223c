package chipset

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/tinyrange/irqchip/internal/hv"
)

type fakeDevice struct {
	name    string
	regions []hv.MMIORegion
	log     *[]string

	reads, writes []uint64
	failStart     bool
}

func (d *fakeDevice) Init() error  { *d.log = append(*d.log, "init "+d.name); return nil }
func (d *fakeDevice) Start() error {
	*d.log = append(*d.log, "start "+d.name)
	if d.failStart {
		return errors.New("boom")
	}
	return nil
}
func (d *fakeDevice) Stop() error  { *d.log = append(*d.log, "stop "+d.name); return nil }
func (d *fakeDevice) Reset() error { *d.log = append(*d.log, "reset "+d.name); return nil }

func (d *fakeDevice) SupportsMmio() *MmioIntercept {
	if len(d.regions) == 0 {
		return nil
	}
	return &MmioIntercept{Regions: d.regions, Handler: d}
}

func (d *fakeDevice) ReadMMIO(ctx hv.ExitContext, addr uint64, data []byte) error {
	d.reads = append(d.reads, addr)
	hv.WriteU32LE(data, uint32(ctx.CPU()))
	return nil
}

func (d *fakeDevice) WriteMMIO(ctx hv.ExitContext, addr uint64, data []byte) error {
	d.writes = append(d.writes, addr)
	return nil
}

func TestChipsetDispatch(t *testing.T) {
	var log []string
	a := &fakeDevice{name: "a", log: &log, regions: []hv.MMIORegion{{Address: 0x1000, Size: 0x1000}}}
	b := &fakeDevice{name: "b", log: &log, regions: []hv.MMIORegion{{Address: 0x2000, Size: 0x100}}}

	builder := NewBuilder()
	for _, d := range []*fakeDevice{a, b} {
		if err := builder.RegisterDevice(d.name, d); err != nil {
			t.Fatalf("RegisterDevice(%s): %v", d.name, err)
		}
	}
	cs, err := builder.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	buf := make([]byte, 4)
	if err := cs.ReadMMIO(hv.CPUContext(3), 0x1ffc, buf); err != nil {
		t.Fatalf("ReadMMIO: %v", err)
	}
	if hv.ReadU32LE(buf) != 3 || len(a.reads) != 1 {
		t.Fatalf("read not routed to a with the caller's cpu")
	}
	if err := cs.WriteMMIO(hv.CPUContext(0), 0x2010, buf); err != nil {
		t.Fatalf("WriteMMIO: %v", err)
	}
	if len(b.writes) != 1 || b.writes[0] != 0x2010 {
		t.Fatalf("write not routed to b: %v", b.writes)
	}

	// An access straddling the end of a window belongs to no device.
	if err := cs.ReadMMIO(hv.CPUContext(0), 0x20fe, buf); err == nil {
		t.Fatalf("straddling access succeeded")
	}
	if err := cs.ReadMMIO(hv.CPUContext(0), 0x5000, buf); err == nil {
		t.Fatalf("unmapped access succeeded")
	}

	if dev, ok := cs.Device("b"); !ok || dev != b {
		t.Fatalf("Device(b) = %v, %v", dev, ok)
	}
	if names := cs.DeviceNames(); !reflect.DeepEqual(names, []string{"a", "b"}) {
		t.Fatalf("DeviceNames = %v", names)
	}
}

func TestChipsetLifecycleOrder(t *testing.T) {
	var log []string
	builder := NewBuilder()
	for _, name := range []string{"a", "b", "c"} {
		if err := builder.RegisterDevice(name, &fakeDevice{name: name, log: &log}); err != nil {
			t.Fatal(err)
		}
	}
	cs, err := builder.Build()
	if err != nil {
		t.Fatal(err)
	}
	log = nil
	if err := cs.Start(); err != nil {
		t.Fatal(err)
	}
	if err := cs.Reset(); err != nil {
		t.Fatal(err)
	}
	if err := cs.Stop(); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"start a", "start b", "start c",
		"reset a", "reset b", "reset c",
		"stop c", "stop b", "stop a",
	}
	if !reflect.DeepEqual(log, want) {
		t.Fatalf("lifecycle order = %v", log)
	}
}

func TestChipsetStartError(t *testing.T) {
	var log []string
	builder := NewBuilder()
	if err := builder.RegisterDevice("bad", &fakeDevice{name: "bad", log: &log, failStart: true}); err != nil {
		t.Fatal(err)
	}
	cs, err := builder.Build()
	if err != nil {
		t.Fatal(err)
	}
	if err := cs.Start(); err == nil || !strings.Contains(err.Error(), `"bad"`) {
		t.Fatalf("Start error = %v", err)
	}
}

func TestBuilderRejects(t *testing.T) {
	var log []string
	builder := NewBuilder()
	a := &fakeDevice{name: "a", log: &log, regions: []hv.MMIORegion{{Address: 0x1000, Size: 0x1000}}}
	if err := builder.RegisterDevice("a", a); err != nil {
		t.Fatal(err)
	}
	if err := builder.RegisterDevice("a", &fakeDevice{name: "a", log: &log}); err == nil {
		t.Fatalf("duplicate name accepted")
	}
	if err := builder.RegisterDevice("", &fakeDevice{log: &log}); err == nil {
		t.Fatalf("empty name accepted")
	}
	overlap := &fakeDevice{name: "o", log: &log, regions: []hv.MMIORegion{{Address: 0x1800, Size: 0x1000}}}
	if err := builder.RegisterDevice("o", overlap); err == nil || !strings.Contains(err.Error(), "overlaps") {
		t.Fatalf("overlapping region: %v", err)
	}
	if err := builder.WithMmioRegion(0x9000, 0, a); err == nil {
		t.Fatalf("zero-size region accepted")
	}
	if err := builder.WithMmioRegion(^uint64(0)-1, 0x10, a); err == nil {
		t.Fatalf("overflowing region accepted")
	}
}

type recordingSink struct {
	events []string
}

func (s *recordingSink) SetIRQ(line uint32, level bool) {
	state := "low"
	if level {
		state = "high"
	}
	s.events = append(s.events, fmt.Sprintf("%d:%s", line, state))
}

func TestLineSetForwardsChanges(t *testing.T) {
	sink := &recordingSink{}
	lines := NewLineSet(sink)

	l := lines.AllocateLine(5)
	l.SetLevel(true)
	l.SetLevel(true)
	if !lines.Level(5) {
		t.Fatalf("line 5 not reported high")
	}
	l.SetLevel(false)
	l.PulseInterrupt()

	want := []string{"5:high", "5:low", "5:high", "5:low"}
	if !reflect.DeepEqual(sink.events, want) {
		t.Fatalf("events = %v, want %v", sink.events, want)
	}
	if lines.Level(5) || lines.Level(7) {
		t.Fatalf("unexpected high level")
	}

	// Without a sink assertions are dropped.
	NewLineSet(nil).AllocateLine(1).SetLevel(true)
}
