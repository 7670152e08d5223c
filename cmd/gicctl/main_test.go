package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/x/ansi"
	"github.com/tinyrange/irqchip/internal/smp"
)

func runCmd(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	if err := run(context.Background(), args, &out); err != nil {
		t.Fatalf("gicctl %s: %v", strings.Join(args, " "), err)
	}
	return out.String()
}

func TestParseCPUList(t *testing.T) {
	mask, err := parseCPUList("0, 2,3")
	if err != nil {
		t.Fatalf("parseCPUList: %v", err)
	}
	if mask != smp.MaskOf(0, 2, 3) {
		t.Fatalf("mask = %v", mask)
	}
	for _, bad := range []string{"", "x", "-1", "64"} {
		if _, err := parseCPUList(bad); err == nil {
			t.Fatalf("parseCPUList(%q) succeeded", bad)
		}
	}
}

func TestRenderTable(t *testing.T) {
	var buf bytes.Buffer
	rows := [][]string{
		{"A", "NAME"},
		{"100", "a-rather-long-device-name"},
	}
	if err := renderTable(&buf, rows, 16); err != nil {
		t.Fatalf("renderTable: %v", err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "A    NAME") {
		t.Fatalf("header not aligned: %q", lines[0])
	}
	for _, l := range lines {
		if w := ansi.StringWidth(l); w > 16 {
			t.Fatalf("line %q is %d wide", l, w)
		}
	}
	if !strings.HasSuffix(lines[1], "…") {
		t.Fatalf("long cell not truncated: %q", lines[1])
	}
}

func TestBootCommand(t *testing.T) {
	out := runCmd(t, "boot")
	for _, want := range []string{"board realview: 4 cpus", "gic0", "gic1", "gic0 irq 42"} {
		if !strings.Contains(out, want) {
			t.Fatalf("boot output missing %q:\n%s", want, out)
		}
	}
}

func TestDumpCommand(t *testing.T) {
	out := runCmd(t, "dump")
	for _, want := range []string{"uart0", "timer0", "edge"} {
		if !strings.Contains(out, want) {
			t.Fatalf("dump output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "mmc0") {
		t.Fatalf("dump of gic0 lists a gic1 device:\n%s", out)
	}
	if out := runCmd(t, "dump", "-gic", "1"); !strings.Contains(out, "mmc0") {
		t.Fatalf("dump of gic1 missing mmc0:\n%s", out)
	}
}

func TestInjectAndSGICommands(t *testing.T) {
	if out := runCmd(t, "inject", "-device", "uart0"); !strings.Contains(out, "irq44: 1 taken, count 1, bad 0") {
		t.Fatalf("inject output:\n%s", out)
	}
	if out := runCmd(t, "inject", "-irq", "60"); !strings.Contains(out, "irq60: 1 taken, count 1") {
		t.Fatalf("inject output:\n%s", out)
	}
	out := runCmd(t, "sgi", "-cpus", "all", "-id", "3")
	if !strings.Contains(out, "4 taken") || !strings.Contains(out, "cpu3: 1") {
		t.Fatalf("sgi output:\n%s", out)
	}
}

func TestSuspendResumeCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gic.snap")
	if out := runCmd(t, "suspend", "-o", path); !strings.Contains(out, "saved 2 distributors and 2 cpu interfaces") {
		t.Fatalf("suspend output:\n%s", out)
	}
	if out := runCmd(t, "resume", "-i", path); !strings.Contains(out, "restored 2 distributors") {
		t.Fatalf("resume output:\n%s", out)
	}

	if err := os.WriteFile(path, []byte("not a snapshot"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := run(context.Background(), []string{"resume", "-i", path}, &bytes.Buffer{}); err == nil {
		t.Fatalf("resume of a corrupt snapshot succeeded")
	}
}

func TestSoakCommand(t *testing.T) {
	out := runCmd(t, "soak", "-q", "-n", "64", "-seed", "3")
	if !strings.Contains(out, "64 rounds") {
		t.Fatalf("soak output:\n%s", out)
	}
}

func TestTraceCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.bin")
	runCmd(t, "-debug-file", path, "sgi", "-cpus", "1", "-id", "5")

	out := runCmd(t, "trace", "-list", path)
	for _, want := range []string{"gic init", "gic softirq", "gicsim ack"} {
		if !strings.Contains(out, want) {
			t.Fatalf("trace sources missing %q:\n%s", want, out)
		}
	}
	out = runCmd(t, "trace", "-source", "^gic softirq$", path)
	if n := strings.Count(out, "\n"); n != 1 || !strings.Contains(out, "sgi 5") {
		t.Fatalf("filtered trace:\n%s", out)
	}
	out = runCmd(t, "trace", "-source", "^gic init$", "-limit", "1", "-tail", path)
	if !strings.Contains(out, "instance 1") {
		t.Fatalf("last gic init record:\n%s", out)
	}
	if err := run(context.Background(), []string{"trace", "-source", "(", path}, &bytes.Buffer{}); err == nil {
		t.Fatalf("bad regexp accepted")
	}
}

func TestBoardFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.yaml")
	board := "name: tiny\ncpus: 2\nfeatures: {smp: true}\ngics:\n  - irq_start: 32\n    lines: 64\n"
	if err := os.WriteFile(path, []byte(board), 0o644); err != nil {
		t.Fatal(err)
	}
	if out := runCmd(t, "-board", path, "boot"); !strings.Contains(out, "board tiny: 2 cpus") {
		t.Fatalf("boot output:\n%s", out)
	}

	if err := run(context.Background(), []string{"-board", path, "suspend", "-o", filepath.Join(t.TempDir(), "x")}, &bytes.Buffer{}); err == nil {
		t.Fatalf("suspend on a board without pm succeeded")
	}
}

func TestUsageErrors(t *testing.T) {
	for _, args := range [][]string{
		{},
		{"frobnicate"},
		{"inject"},
		{"suspend"},
		{"trace"},
		{"-board", "/does/not/exist", "boot"},
	} {
		if err := run(context.Background(), args, &bytes.Buffer{}); err == nil {
			t.Fatalf("gicctl %v succeeded", args)
		}
	}
}
