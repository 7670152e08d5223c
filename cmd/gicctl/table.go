package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/x/ansi"
	"github.com/tinyrange/irqchip/internal/platform"
	"golang.org/x/term"
)

const defaultWidth = 100

// terminalWidth returns the width of w when it is a terminal.
func terminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return defaultWidth
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		return defaultWidth
	}
	return width
}

func writeSummary(w io.Writer, m *platform.Machine) error {
	b := m.Board()
	backend := "simulated"
	if !m.Simulated() {
		backend = "physical"
	}
	fmt.Fprintf(w, "board %s: %d cpus, %d irqs, %s controllers\n", b.Name, b.CPUs, b.NRIRQs, backend)
	fmt.Fprintf(w, "online %v\n", m.Topology().Online())

	rows := [][]string{{"GIC", "DIST", "CPU", "OFFSET", "LINES", "CASCADE"}}
	for i, l := range m.Layout() {
		c := m.GIC().Controller(i)
		cascade := "-"
		if cc := b.GICs[i].Cascade; cc != nil {
			cascade = fmt.Sprintf("%s irq %d", b.GICs[cc.Parent].Name, cc.IRQ)
		}
		rows = append(rows, []string{
			l.Name,
			fmt.Sprintf("%#x", l.Dist.Address),
			fmt.Sprintf("%#x", l.CPU.Address),
			fmt.Sprint(uint32(c.IRQOffset())),
			fmt.Sprint(c.Lines()),
			cascade,
		})
	}
	return renderTable(w, rows, defaultWidth)
}

func mark(on bool, s string) string {
	if on {
		return s
	}
	return "-"
}

// writeLines prints one row per line. Unless all is set, only lines with
// a device or some live state are shown.
func writeLines(w io.Writer, lines []platform.LineInfo, all bool, width int) error {
	rows := [][]string{{"IRQ", "HW", "STATE", "TRIG", "PRIO", "TARGETS", "COUNT", "NAME"}}
	for _, l := range lines {
		if !all && l.Name == "" && !l.Enabled && !l.Pending && !l.Active {
			continue
		}
		trig := "level"
		if l.Edge {
			trig = "edge"
		}
		state := mark(l.Enabled, "E") + mark(l.Pending, "P") + mark(l.Active, "A") + mark(l.Group1, "1")
		rows = append(rows, []string{
			fmt.Sprint(uint32(l.IRQ)),
			fmt.Sprint(uint32(l.Hw)),
			state,
			trig,
			fmt.Sprintf("%#02x", l.Priority),
			l.Targets.String(),
			fmt.Sprint(l.Count),
			l.Name,
		})
	}
	return renderTable(w, rows, width)
}

// renderTable pads every column to its widest cell. The last column is
// truncated so a row fits in width.
func renderTable(w io.Writer, rows [][]string, width int) error {
	if len(rows) == 0 {
		return nil
	}
	cols := len(rows[0])
	widths := make([]int, cols)
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], ansi.StringWidth(cell))
		}
	}

	fixed := 0
	for _, cw := range widths[:cols-1] {
		fixed += cw + 2
	}
	if room := width - fixed; room < widths[cols-1] {
		widths[cols-1] = max(room, 1)
	}

	var sb strings.Builder
	for _, row := range rows {
		sb.Reset()
		for i, cell := range row {
			if i == cols-1 {
				sb.WriteString(ansi.Truncate(cell, widths[i], "…"))
				break
			}
			sb.WriteString(cell)
			sb.WriteString(strings.Repeat(" ", widths[i]-ansi.StringWidth(cell)+2))
		}
		if _, err := fmt.Fprintln(w, strings.TrimRight(sb.String(), " ")); err != nil {
			return err
		}
	}
	return nil
}
