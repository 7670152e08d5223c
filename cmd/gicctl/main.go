// Command gicctl boots a board description against simulated GICs (or the
// real controller through /dev/mem) and exercises the driver.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/tinyrange/irqchip/internal/debug"
	"github.com/tinyrange/irqchip/internal/gic"
	"github.com/tinyrange/irqchip/internal/hv"
	"github.com/tinyrange/irqchip/internal/irq"
	"github.com/tinyrange/irqchip/internal/mmio"
	"github.com/tinyrange/irqchip/internal/platform"
	"github.com/tinyrange/irqchip/internal/smp"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "gicctl: %v\n", err)
		os.Exit(1)
	}
}

type app struct {
	out    io.Writer
	logger *slog.Logger
	board  *platform.Board
	devMem string
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("gicctl", flag.ContinueOnError)
	boardFile := fs.String("board", "", "Board description (YAML); the built-in RealView board when empty")
	verbose := fs.Bool("debug", false, "Enable debug logging")
	debugFile := fs.String("debug-file", "", "Write the binary register trace to this file (or GICCTL_DEBUG_FILE)")
	devMem := fs.String("devmem", "", "Drive the real controller through this physical memory device (e.g. /dev/mem)")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: gicctl [flags] <command> [args...]\n\n")
		fmt.Fprintf(fs.Output(), "Commands:\n")
		fmt.Fprintf(fs.Output(), "  boot                    bring the board up and print the controllers\n")
		fmt.Fprintf(fs.Output(), "  dump [-gic N] [-cpu N]  print the per-line register state\n")
		fmt.Fprintf(fs.Output(), "  sgi -cpus LIST -id N    raise a software generated interrupt\n")
		fmt.Fprintf(fs.Output(), "  inject -irq N|-device NAME\n")
		fmt.Fprintf(fs.Output(), "                          raise a device interrupt and service it\n")
		fmt.Fprintf(fs.Output(), "  suspend -o FILE         save the controller state\n")
		fmt.Fprintf(fs.Output(), "  resume -i FILE          restore a saved state and verify it\n")
		fmt.Fprintf(fs.Output(), "  soak [-n N] [-seed S]   storm the controllers and check every delivery\n")
		fmt.Fprintf(fs.Output(), "  trace [-source RE] FILE print a register trace written with -debug-file\n\n")
		fmt.Fprintf(fs.Output(), "Flags:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return fmt.Errorf("command required")
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	a := &app{out: out, logger: logger, devMem: *devMem}
	if cmd == "trace" {
		return a.trace(rest)
	}

	debugFilePath := *debugFile
	if debugFilePath == "" {
		debugFilePath = os.Getenv("GICCTL_DEBUG_FILE")
	}
	if debugFilePath != "" {
		if err := debug.OpenFile(debugFilePath); err != nil {
			return fmt.Errorf("open debug file: %w", err)
		}
		defer debug.Close()

		debug.Writef("gicctl debug logging enabled", "filename=%s", debugFilePath)
	}

	a.board = platform.DefaultBoard()
	if *boardFile != "" {
		var err error
		if a.board, err = platform.LoadBoard(*boardFile); err != nil {
			return err
		}
	}

	switch cmd {
	case "boot":
		return a.boot(ctx, rest)
	case "dump":
		return a.dump(ctx, rest)
	case "sgi":
		return a.sgi(ctx, rest)
	case "inject":
		return a.inject(ctx, rest)
	case "suspend":
		return a.suspend(ctx, rest)
	case "resume":
		return a.resume(ctx, rest)
	case "soak":
		return a.soak(ctx, rest)
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// machine builds and boots the board. The returned close function releases
// the bus.
func (a *app) machine(ctx context.Context) (*platform.Machine, func(), error) {
	opts := platform.Options{Logger: a.logger}
	var closers []func() error
	if a.devMem != "" {
		layout, err := a.board.Layout()
		if err != nil {
			return nil, nil, err
		}
		var regions []hv.MMIORegion
		for _, l := range layout {
			regions = append(regions, l.Dist, l.CPU)
		}
		dm, err := mmio.OpenDevMem(a.devMem, regions...)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, dm.Close)
		opts.Bus = dm
	}

	m, err := platform.Build(a.board, opts)
	if err != nil {
		for _, c := range closers {
			c()
		}
		return nil, nil, err
	}
	closers = append([]func() error{m.Close}, closers...)
	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				a.logger.Warn("gicctl: close", slog.Any("error", err))
			}
		}
	}

	if err := m.Boot(ctx); err != nil {
		closeAll()
		if errors.Is(err, gic.ErrFatalInit) {
			return nil, nil, fmt.Errorf("controller bring-up failed: %w", err)
		}
		return nil, nil, err
	}
	return m, closeAll, nil
}

func (a *app) boot(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("boot", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	m, done, err := a.machine(ctx)
	if err != nil {
		return err
	}
	defer done()
	return writeSummary(a.out, m)
}

func (a *app) dump(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("dump", flag.ContinueOnError)
	instance := fs.Int("gic", 0, "Controller instance")
	cpu := fs.Int("cpu", 0, "CPU whose banked view to show")
	all := fs.Bool("all", false, "Show every line, not only named or active ones")
	if err := fs.Parse(args); err != nil {
		return err
	}
	m, done, err := a.machine(ctx)
	if err != nil {
		return err
	}
	defer done()
	c := m.Topology().CPU(*cpu)
	if c == nil {
		return fmt.Errorf("no cpu %d", *cpu)
	}
	lines, err := m.Lines(c, *instance)
	if err != nil {
		return err
	}
	return writeLines(a.out, lines, *all, terminalWidth(a.out))
}

func (a *app) sgi(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sgi", flag.ContinueOnError)
	cpus := fs.String("cpus", "0", "Comma separated target CPUs, or all")
	id := fs.Uint("id", 0, "Software generated interrupt ID (0-15)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	var mask smp.Mask
	if *cpus != "all" {
		var err error
		if mask, err = parseCPUList(*cpus); err != nil {
			return err
		}
	}
	m, done, err := a.machine(ctx)
	if err != nil {
		return err
	}
	defer done()
	if mask.Empty() {
		mask = m.Topology().Online()
	}
	if err := m.SendIPI(mask, gic.HwIRQ(*id)); err != nil {
		return err
	}
	taken := m.ServiceAll()
	fmt.Fprintf(a.out, "sgi %d to %v: %d taken\n", *id, mask, taken)
	m.Topology().Possible().Each(func(cpu int) {
		fmt.Fprintf(a.out, "  cpu%d: %d\n", cpu, m.IPICount(cpu))
	})
	return nil
}

func (a *app) inject(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("inject", flag.ContinueOnError)
	line := fs.Uint("irq", 0, "Logical interrupt number")
	device := fs.String("device", "", "Device name from the board")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *device == "" && *line == 0 {
		return fmt.Errorf("inject needs -irq or -device")
	}
	m, done, err := a.machine(ctx)
	if err != nil {
		return err
	}
	defer done()

	n := irq.Number(*line)
	if *device != "" {
		d, ok := m.Board().Device(*device)
		if !ok {
			return fmt.Errorf("%w: no device %q", platform.ErrUnknownLine, *device)
		}
		n = irq.Number(d.IRQ)
	}
	if err := m.Inject(n, true); err != nil {
		return err
	}
	taken := m.ServiceAll()
	// Lines without a device handler stay asserted until dropped here.
	if err := m.Inject(n, false); err != nil {
		return err
	}
	desc := m.Core().Desc(n)
	fmt.Fprintf(a.out, "%v: %d taken, count %d, bad %d\n", n, taken, desc.Count(), m.Core().BadCount())
	return nil
}

func (a *app) suspend(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("suspend", flag.ContinueOnError)
	output := fs.String("o", "", "Snapshot file to write")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *output == "" {
		return fmt.Errorf("suspend needs -o")
	}
	m, done, err := a.machine(ctx)
	if err != nil {
		return err
	}
	defer done()

	snap, err := m.Suspend()
	if err != nil {
		return err
	}
	f, err := os.Create(*output)
	if err != nil {
		return fmt.Errorf("create snapshot file: %w", err)
	}
	if err := gic.WriteSnapshot(f, snap); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close snapshot file: %w", err)
	}
	fmt.Fprintf(a.out, "saved %d distributors and %d cpu interfaces to %s\n", len(snap.Dists), len(snap.CPUs), *output)
	return nil
}

func (a *app) resume(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("resume", flag.ContinueOnError)
	input := fs.String("i", "", "Snapshot file to restore")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *input == "" {
		return fmt.Errorf("resume needs -i")
	}
	f, err := os.Open(*input)
	if err != nil {
		return fmt.Errorf("open snapshot file: %w", err)
	}
	snap, err := gic.ReadSnapshot(f)
	f.Close()
	if err != nil {
		return err
	}

	m, done, err := a.machine(ctx)
	if err != nil {
		return err
	}
	defer done()
	if err := m.Resume(ctx, snap); err != nil {
		return err
	}

	// Every saved Distributor must read back as it was written.
	boot := m.Topology().Boot()
	for _, d := range snap.Dists {
		after, err := m.GIC().SaveDistState(boot, d.Instance)
		if err != nil {
			return err
		}
		if *after != d.State {
			return fmt.Errorf("gic%d does not match the snapshot after restore", d.Instance)
		}
	}
	fmt.Fprintf(a.out, "restored %d distributors and %d cpu interfaces from %s\n", len(snap.Dists), len(snap.CPUs), *input)
	return writeSummary(a.out, m)
}

func (a *app) soak(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("soak", flag.ContinueOnError)
	n := fs.Int("n", 10000, "Number of interrupts to raise")
	seed := fs.Int64("seed", 1, "Random seed")
	quiet := fs.Bool("q", false, "Hide the progress bar")
	if err := fs.Parse(args); err != nil {
		return err
	}
	m, done, err := a.machine(ctx)
	if err != nil {
		return err
	}
	defer done()

	var progress func(int)
	if !*quiet {
		pb := progressbar.Default(int64(*n), "soak")
		defer pb.Close()
		progress = func(int) { pb.Add(1) }
	}
	res, err := m.Soak(ctx, *n, rand.New(rand.NewSource(*seed)), progress)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%d rounds: %d ipis, %d device interrupts, %d taken\n", res.Rounds, res.IPIs, res.Devices, res.Taken)
	return nil
}

// parseCPUList parses a comma separated list such as "0,2,3".
func parseCPUList(s string) (smp.Mask, error) {
	var mask smp.Mask
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		cpu, err := strconv.Atoi(field)
		if err != nil {
			return 0, fmt.Errorf("invalid cpu %q: %w", field, err)
		}
		if cpu < 0 || cpu >= smp.MaxCPUs {
			return 0, fmt.Errorf("cpu %d out of range [0,%d)", cpu, smp.MaxCPUs)
		}
		mask = mask.Set(cpu)
	}
	if mask.Empty() {
		return 0, fmt.Errorf("empty cpu list")
	}
	return mask, nil
}
