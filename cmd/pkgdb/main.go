// Package main is the entry point for the pkgdb command.
//
// pkgdb caches the output of pacman in an embedded SQLite database and lets
// the cached packages be queried, pruned and reinstalled through JSON filters.
// Configuration is read from CLI flags, the environment (PKGDB_*), a .env file
// and config.yaml in the data directory.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/maruel/pkgdb/internal/config"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "pkgdb: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	version := flag.Bool("version", false, "Print version and exit")
	dataDir := flag.String("data-dir", defaultDataDir(), "Data directory")
	configFile := flag.String("config", "", "Configuration file (default: <data-dir>/config.yaml)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	dbPath := flag.String("db", "", "SQLite database path (default: <data-dir>/pkgdb.sqlite)")
	pacmanBin := flag.String("pacman", "pacman", "pacman executable")
	format := flag.String("format", "json", "Output format (json, yaml)")
	flag.Usage = usage
	flag.Parse()

	if *version {
		printVersion()
		return nil
	}
	args := flag.Args()
	if len(args) == 0 {
		usage()
		return errors.New("missing command")
	}
	if args[0] == "version" {
		printVersion()
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	ll := &slog.LevelVar{}
	ll.Set(slog.LevelInfo)
	slog.SetDefault(slog.New(newHandler(os.Stderr, ll)))

	cfg, err := config.Load(*dataDir, *configFile)
	if err != nil {
		return err
	}
	// Flags explicitly set win over every other source.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "log-level":
			cfg.LogLevel = *logLevel
		case "db":
			cfg.DBPath = *dbPath
		case "pacman":
			cfg.Pacman = *pacmanBin
		}
	})
	if err := cfg.Validate(); err != nil {
		return err
	}
	level, err := cfg.Level()
	if err != nil {
		return err
	}
	ll.Set(level)

	enc, err := newEncoder(os.Stdout, *format)
	if err != nil {
		return err
	}
	cmd, ok := commands[args[0]]
	if !ok {
		usage()
		return fmt.Errorf("unknown command: %q", args[0])
	}
	a, err := openApp(cfg, enc)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	return cmd.run(ctx, a, args[1:])
}

// newHandler returns the terminal log handler: colored when w is a terminal,
// with empty attributes dropped.
func newHandler(w *os.File, level slog.Leveler) slog.Handler {
	// Skip timestamps when running under systemd (it adds its own).
	underSystemd := os.Getenv("JOURNAL_STREAM") != ""
	return tint.NewHandler(colorable.NewColorable(w), &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000", // Like time.TimeOnly plus milliseconds.
		NoColor:    !isatty.IsTerminal(w.Fd()),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if underSystemd && a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			if skipAttr(a.Value.Any()) {
				return slog.Attr{}
			}
			return a
		},
	})
}

func skipAttr(val any) bool {
	switch t := val.(type) {
	case string:
		return t == ""
	case bool:
		return !t
	case uint64:
		return t == 0
	case int64:
		return t == 0
	case float64:
		return t == 0
	case time.Time:
		return t.IsZero()
	case time.Duration:
		return t == 0
	case nil:
		return true
	}
	return false
}

func defaultDataDir() string {
	if d, err := os.UserCacheDir(); err == nil {
		return d + string(os.PathSeparator) + "pkgdb"
	}
	return "./data"
}

func usage() {
	w := flag.CommandLine.Output()
	_, _ = fmt.Fprintf(w, "usage: pkgdb [flags] <command> [args]\n\ncommands:\n")
	for _, name := range commandNames() {
		_, _ = fmt.Fprintf(w, "  %-8s %s\n", name, commands[name].usage)
	}
	_, _ = io.WriteString(w, "\nFilters are JSON objects: {\"field\": value, \"field\": {\"$op\": value}}.\n")
	_, _ = io.WriteString(w, "Operators: $eq $ne $lt $lte $gt $gte $in $nin. Strings are full-text queries.\n\nflags:\n")
	flag.PrintDefaults()
}

func printVersion() {
	writeVersion(os.Stdout, readBuildInfo())
}

// buildInfo is the subset of the embedded build metadata pkgdb reports.
type buildInfo struct {
	version   string
	goVersion string
	revision  string
	modified  bool
}

func readBuildInfo() buildInfo {
	b := buildInfo{version: "unknown", goVersion: "unknown", revision: "unknown"}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return b
	}
	b.version = info.Main.Version
	if b.version == "" || b.version == "(devel)" {
		b.version = "dev"
	}
	b.goVersion = info.GoVersion
	for _, kv := range info.Settings {
		if kv.Key == "vcs.revision" {
			b.revision = kv.Value
		} else if kv.Key == "vcs.modified" {
			b.modified = kv.Value == "true"
		}
	}
	return b
}

func writeVersion(w io.Writer, b buildInfo) {
	_, _ = fmt.Fprintf(w, "pkgdb %s\n  Go version: %s\n  Revision:   %s\n", b.version, b.goVersion, b.revision)
	if b.modified {
		_, _ = io.WriteString(w, "  Modified:   true\n")
	}
}
