package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
)

type command struct {
	summary string
	run     func(args []string) error
}

var commands = map[string]command{
	"build":   {"build the disk image described by bootimg.yaml", runBuild},
	"extract": {"flatten a kernel ELF into a raw image", runExtract},
	"gdt":     {"print descriptor presets or patch a loader binary", runGDT},
	"genvec":  {"splice interrupt vector stubs into a loader template", runGenvec},
	"verify":  {"check a memory snapshot against a kernel ELF", runVerify},
	"hd":      {"write a blank data disk with a partition table prefix", runHD},
	"init":    {"write a default bootimg.yaml", runInit},
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "bootimg: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <command> [flags] [args...]\n\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Build a legacy BIOS boot disk from a kernel ELF and a nasm bootstrap.\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %-8s %s\n", name, commands[name].summary)
	}
}

func run() error {
	if len(os.Args) < 2 {
		usage()
		return fmt.Errorf("command required")
	}
	name := os.Args[1]
	if name == "-h" || name == "-help" || name == "help" {
		usage()
		return nil
	}
	cmd, ok := commands[name]
	if !ok {
		usage()
		return fmt.Errorf("unknown command %q", name)
	}
	if err := cmd.run(os.Args[2:]); err != nil && !errors.Is(err, flag.ErrHelp) {
		return err
	}
	return nil
}

// newFlagSet returns a flag set for a subcommand with the shared -debug flag.
func newFlagSet(name, args string) (*flag.FlagSet, *bool) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	debug := fs.Bool("debug", false, "Enable debug logging")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: bootimg %s [flags] %s\n\nFlags:\n", name, args)
		fs.PrintDefaults()
	}
	return fs, debug
}

func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func parseAddr(name, s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("-%s: invalid address %q: %w", name, s, err)
	}
	return v, nil
}
