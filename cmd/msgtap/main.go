// msgtap CLI - reads back the events recorded in an interception journal
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/chazu/msgtap/journal"
	"github.com/chazu/msgtap/manifest"
)

func main() {
	dir := flag.String("C", ".", "Directory to search for msgtap.toml")
	journalPath := flag.String("journal", "", "Journal path (overrides [journal] path)")
	verbose := flag.Bool("v", false, "Verbose output")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: msgtap [options] <command> [args]\n\n")
		fmt.Fprintf(os.Stderr, "Reads the event journal configured in msgtap.toml.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nCommands:\n")
		fmt.Fprintf(os.Stderr, "  events <selector>   # List recorded events for a selector\n")
		fmt.Fprintf(os.Stderr, "  stream <id>         # Show whether a stream has completed\n")
	}
	flag.Parse()

	if err := run(os.Stdout, *dir, *journalPath, *verbose, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(w io.Writer, dir, journalPath string, verbose bool, args []string) error {
	if len(args) != 2 {
		flag.Usage()
		return fmt.Errorf("expected a command and one argument")
	}

	cfg, err := manifest.FindAndLoad(dir)
	if err != nil {
		return err
	}
	if cfg == nil {
		cfg = manifest.Default()
	}
	if verbose && cfg.Log.Verbosity < 2 {
		cfg.Log.Verbosity = 2
	}
	cfg.ConfigureLogging()

	if journalPath == "" {
		journalPath = cfg.JournalPath()
	}
	if journalPath == "" {
		return fmt.Errorf("no journal configured; set [journal] path in %s or pass -journal", manifest.FileName)
	}
	if _, err := os.Stat(journalPath); err != nil {
		return fmt.Errorf("cannot open journal: %w", err)
	}

	j, err := journal.Open(journalPath)
	if err != nil {
		return err
	}
	defer j.Close()

	switch args[0] {
	case "events":
		records, err := j.Events(args[1])
		if err != nil {
			return err
		}
		for _, r := range records {
			fmt.Fprintln(w, formatRecord(r))
		}
		if verbose {
			fmt.Fprintf(w, "%d events\n", len(records))
		}
		return nil

	case "stream":
		id, err := uuid.Parse(args[1])
		if err != nil {
			return fmt.Errorf("invalid stream id %q: %w", args[1], err)
		}
		done, err := j.Completed(id)
		if err != nil {
			return err
		}
		state := "open"
		if done {
			state = "completed"
		}
		fmt.Fprintf(w, "%s %s\n", id, state)
		return nil
	}
	return fmt.Errorf("unknown command %q", args[0])
}

func formatRecord(r *journal.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d\t%s#%s\tobject=%d", r.Seq, r.Class, r.Selector, r.ObjectID)
	if r.Args != nil {
		parts := make([]string, len(r.Args))
		for i, a := range r.Args {
			parts[i] = a.String()
		}
		fmt.Fprintf(&b, "\t(%s)", strings.Join(parts, ", "))
	}
	fmt.Fprintf(&b, "\tstream=%s", r.Stream)
	return b.String()
}
