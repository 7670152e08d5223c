package main

import (
	"flag"
	"fmt"
	"regexp"
	"time"

	"github.com/tinyrange/irqchip/internal/debug"
)

// trace prints records from a file written with -debug-file.
func (a *app) trace(args []string) error {
	fs := flag.NewFlagSet("trace", flag.ContinueOnError)
	list := fs.Bool("list", false, "List the sources in the trace")
	source := fs.String("source", "", "Only records whose source matches this regexp")
	match := fs.String("match", "", "Only records whose message matches this regexp")
	limit := fs.Int("limit", 100, "Print at most N records (0 for all)")
	tail := fs.Bool("tail", false, "Print the last N records instead of the first")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("trace needs a file")
	}

	reader, err := debug.NewReaderFromFile(fs.Arg(0))
	if err != nil {
		return err
	}
	if *list {
		for _, src := range reader.Sources() {
			fmt.Fprintln(a.out, src)
		}
		return nil
	}

	var sourceRe, matchRe *regexp.Regexp
	if *source != "" {
		if sourceRe, err = regexp.Compile(*source); err != nil {
			return fmt.Errorf("invalid source regex: %w", err)
		}
	}
	if *match != "" {
		if matchRe, err = regexp.Compile(*match); err != nil {
			return fmt.Errorf("invalid match regex: %w", err)
		}
	}

	var entries []debug.Entry
	if err := reader.Each(func(e debug.Entry) error {
		if sourceRe != nil && !sourceRe.MatchString(e.Source) {
			return nil
		}
		if matchRe != nil && !matchRe.Match(e.Data) {
			return nil
		}
		entries = append(entries, e)
		return nil
	}); err != nil {
		return err
	}

	if *limit > 0 && len(entries) > *limit {
		if *tail {
			entries = entries[len(entries)-*limit:]
		} else {
			entries = entries[:*limit]
		}
	}
	for _, e := range entries {
		fmt.Fprintf(a.out, "%s [%s] %s\n", e.Time.Format(time.RFC3339Nano), e.Source, e.Data)
	}
	return nil
}
