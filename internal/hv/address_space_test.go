package hv

import (
	"strings"
	"testing"
)

func TestAllocateSkipsFixedRegions(t *testing.T) {
	as := NewAddressSpace(0x1000_0800)
	if err := as.RegisterFixed("dist", 0x1000_1000, 0x1000); err != nil {
		t.Fatalf("RegisterFixed: %v", err)
	}

	first, err := as.Allocate(MMIOAllocationRequest{Name: "a", Size: 0x1000})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if first.Base != 0x1000_2000 {
		t.Fatalf("first allocation at %#x, want 0x10002000", first.Base)
	}

	second, err := as.Allocate(MMIOAllocationRequest{Name: "b", Size: 0x100, Alignment: 0x4000})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if second.Base != 0x1000_4000 || second.Size != 0x4000 {
		t.Fatalf("second allocation = %+v", second)
	}
}

func TestAllocateRejectsBadRequests(t *testing.T) {
	as := NewAddressSpace(0)
	if _, err := as.Allocate(MMIOAllocationRequest{Name: "zero"}); err == nil {
		t.Fatalf("zero-size allocation succeeded")
	}
	_, err := as.Allocate(MMIOAllocationRequest{Name: "odd", Size: 0x1000, Alignment: 0x3000})
	if err == nil || !strings.Contains(err.Error(), "power of 2") {
		t.Fatalf("Allocate with bad alignment: %v", err)
	}
}

func TestRegisterFixedOverlap(t *testing.T) {
	as := NewAddressSpace(0)
	if err := as.RegisterFixed("dist", 0x2000, 0x1000); err != nil {
		t.Fatalf("RegisterFixed: %v", err)
	}
	err := as.RegisterFixed("cpu", 0x2800, 0x1000)
	if err == nil || !strings.Contains(err.Error(), "overlaps dist") {
		t.Fatalf("overlapping RegisterFixed: %v", err)
	}
	if err := as.RegisterFixed("cpu", 0x3000, 0x1000); err != nil {
		t.Fatalf("adjacent RegisterFixed: %v", err)
	}
	if err := as.RegisterFixed("wrap", ^uint64(0)-0x10, 0x100); err == nil {
		t.Fatalf("overflowing RegisterFixed succeeded")
	}
	if err := as.RegisterFixed("empty", 0x8000, 0); err == nil {
		t.Fatalf("zero-size RegisterFixed succeeded")
	}
}

func TestRegionsSorted(t *testing.T) {
	as := NewAddressSpace(0x1000)
	if err := as.RegisterFixed("high", 0x9000, 0x1000); err != nil {
		t.Fatal(err)
	}
	if _, err := as.Allocate(MMIOAllocationRequest{Name: "low", Size: 0x1000}); err != nil {
		t.Fatal(err)
	}
	regions := as.Regions()
	if len(regions) != 2 || regions[0].Name != "low" || regions[1].Name != "high" {
		t.Fatalf("regions = %+v", regions)
	}
}

func TestRegionContains(t *testing.T) {
	r := MMIORegion{Address: 0x1000, Size: 0x100}
	for _, tc := range []struct {
		addr, size uint64
		want       bool
	}{
		{0x1000, 4, true},
		{0x10fc, 4, true},
		{0x10fd, 4, false},
		{0xffc, 8, false},
		{^uint64(0), 4, false},
	} {
		if got := r.Contains(tc.addr, tc.size); got != tc.want {
			t.Fatalf("Contains(%#x, %d) = %v, want %v", tc.addr, tc.size, got, tc.want)
		}
	}
	if r.End() != 0x1100 {
		t.Fatalf("End = %#x", r.End())
	}
}

func TestU32LE(t *testing.T) {
	buf := make([]byte, 4)
	WriteU32LE(buf, 0x11223344)
	if buf[0] != 0x44 || buf[3] != 0x11 {
		t.Fatalf("WriteU32LE wrote % x", buf)
	}
	if got := ReadU32LE(buf); got != 0x11223344 {
		t.Fatalf("ReadU32LE = %#x", got)
	}

	short := make([]byte, 1)
	WriteU32LE(short, 0x11223344)
	if short[0] != 0x44 {
		t.Fatalf("byte write = %#x", short[0])
	}
	if got := ReadU32LE([]byte{0xaa, 0xbb}); got != 0xbbaa {
		t.Fatalf("short ReadU32LE = %#x", got)
	}
}

func TestSnapshotSectionName(t *testing.T) {
	if SnapshotSectionName(SnapshotSectionDist) != "dist" || SnapshotSectionName(SnapshotSectionCPU) != "cpu" {
		t.Fatalf("unexpected section names")
	}
	if SnapshotSectionName(99) != "invalid" {
		t.Fatalf("unknown kind not reported as invalid")
	}
}
