// Subcommands of pkgdb.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/jmoiron/sqlx"
	"github.com/maruel/pkgdb/internal/config"
	"github.com/maruel/pkgdb/internal/jsonl"
	"github.com/maruel/pkgdb/internal/pacman"
	"github.com/maruel/pkgdb/internal/sqldb"
	"github.com/maruel/pkgdb/internal/syncsvc"
	"gopkg.in/yaml.v3"
)

type command struct {
	usage string
	run   func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{
	"sync":    {"refresh the cache from pacman", runSync},
	"list":    {"[table] print every cached record of table (default installed)", runList},
	"find":    {"[table] <filter> print the records matching filter", runFind},
	"count":   {"[table] [filter] print the number of matching records", runCount},
	"remove":  {"[table] <filter> delete the matching records from the cache", runRemove},
	"schema":  {"[-jsonschema] [table] print the storage schema of tables", runSchema},
	"foreign": {"print installed packages no sync repository provides", runForeign},
	"install": {"[-dry-run] <filter> install the matching available packages", runInstall},
	"export":  {"[table] [file] write the cached records as JSON lines (default stdout)", runExport},
	"import":  {"<table> <file> append the JSON lines records of file to table", runImport},
	"watch":   {"refresh the cache whenever pacman's database changes", runWatch},
	"version": {"print version and exit", nil},
}

func commandNames() []string {
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// app holds what subcommands share.
type app struct {
	cfg    *config.Config
	db     *sqlx.DB
	pm     *pacman.Client
	svc    *syncsvc.Service
	enc    encoder
	stdout io.Writer
}

func openApp(cfg *config.Config, enc encoder) (*app, error) {
	db, err := sqldb.OpenDB(cfg.Database(), sqldb.Options{BusyTimeout: cfg.BusyTimeout})
	if err != nil {
		return nil, err
	}
	pm := pacman.New(cfg.Pacman)
	pm.Stdout = os.Stdout
	pm.Stderr = os.Stderr
	svc, err := syncsvc.New(db, pm)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &app{cfg: cfg, db: db, pm: pm, svc: svc, enc: enc, stdout: os.Stdout}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// table erases the record type of a repository for the generic subcommands.
type table struct {
	schema     func() *sqldb.TableSchema
	jsonSchema func() *jsonschema.Schema
	list       func() (any, error)
	find       func(sqldb.Filter) (any, error)
	count      func(sqldb.Filter) (int64, error)
	remove     func(sqldb.Filter) (int64, error)
	export     func(w io.Writer) (int, error)
	exportFile func(path string) (int, error)
	load       func(path string) (int, error)
}

func newTable[T any](r *sqldb.Repository[T]) table {
	return table{
		schema: r.Schema,
		jsonSchema: func() *jsonschema.Schema {
			ref := jsonschema.Reflector{Anonymous: true, DoNotReference: true}
			return ref.Reflect(new(T))
		},
		list: func() (any, error) {
			recs, err := r.List()
			return nonNil(recs), err
		},
		find: func(f sqldb.Filter) (any, error) {
			recs, err := r.Find(f)
			return nonNil(recs), err
		},
		count:  r.Count,
		remove: r.Delete,
		export: func(w io.Writer) (int, error) {
			recs, err := r.List()
			if err != nil {
				return 0, err
			}
			return len(recs), jsonl.Write(w, recs)
		},
		exportFile: func(path string) (int, error) {
			recs, err := r.List()
			if err != nil {
				return 0, err
			}
			return len(recs), jsonl.WriteFile(path, recs)
		},
		load: func(path string) (int, error) {
			recs, err := jsonl.ReadFile[T](path)
			if err != nil {
				return 0, err
			}
			got, err := r.InsertAll(recs)
			return len(got), err
		},
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

var tableNames = []string{"installed", "available", "runs"}

func (a *app) table(name string) (table, error) {
	switch name {
	case "installed":
		return newTable(a.svc.Installed()), nil
	case "available":
		return newTable(a.svc.Available()), nil
	case "runs":
		return newTable(a.svc.Runs()), nil
	default:
		return table{}, fmt.Errorf("unknown table %q, want one of %s", name, strings.Join(tableNames, ", "))
	}
}

// parseTableArgs parses "[table] [filter]". A lone argument starting with '{'
// is a filter.
func parseTableArgs(args []string, needFilter bool) (string, sqldb.Filter, error) {
	name := "installed"
	var raw string
	switch len(args) {
	case 0:
	case 1:
		if strings.HasPrefix(strings.TrimSpace(args[0]), "{") {
			raw = args[0]
		} else {
			name = args[0]
		}
	case 2:
		name, raw = args[0], args[1]
	default:
		return "", nil, fmt.Errorf("unexpected arguments: %v", args[2:])
	}
	if raw == "" {
		if needFilter {
			return "", nil, errors.New("missing filter; use {} to match everything")
		}
		return name, nil, nil
	}
	f, err := parseFilter(raw)
	return name, f, err
}

// parseFilter decodes a JSON object, keeping numbers exact.
func parseFilter(s string) (sqldb.Filter, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var f sqldb.Filter
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("invalid filter: %w", err)
	}
	if dec.More() {
		return nil, errors.New("invalid filter: trailing data")
	}
	for k, v := range f {
		if q, ok := v.(string); ok {
			f[k] = quoteTerms(q)
		}
	}
	return f, nil
}

// quoteTerms wraps the hyphenated words of a full-text query in double quotes,
// otherwise FTS5 parses "linux-firmware" as a column filter. Words already
// containing a quote are left alone.
func quoteTerms(q string) string {
	words := strings.Fields(q)
	for i, w := range words {
		if !strings.Contains(w, "-") || strings.Contains(w, `"`) {
			continue
		}
		prefix := strings.HasSuffix(w, "*")
		w = `"` + strings.TrimSuffix(w, "*") + `"`
		if prefix {
			w += "*"
		}
		words[i] = w
	}
	return strings.Join(words, " ")
}

func runSync(ctx context.Context, a *app, args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("unexpected arguments: %v", args)
	}
	run, err := a.svc.Refresh(ctx)
	if err != nil {
		return err
	}
	return a.enc.Encode(run)
}

func runList(_ context.Context, a *app, args []string) error {
	if len(args) > 1 {
		return fmt.Errorf("unexpected arguments: %v", args[1:])
	}
	name := "installed"
	if len(args) == 1 {
		name = args[0]
	}
	t, err := a.table(name)
	if err != nil {
		return err
	}
	recs, err := t.list()
	if err != nil {
		return err
	}
	return a.enc.Encode(recs)
}

func runFind(_ context.Context, a *app, args []string) error {
	name, filter, err := parseTableArgs(args, true)
	if err != nil {
		return err
	}
	t, err := a.table(name)
	if err != nil {
		return err
	}
	recs, err := t.find(filter)
	if err != nil {
		return err
	}
	return a.enc.Encode(recs)
}

func runCount(_ context.Context, a *app, args []string) error {
	name, filter, err := parseTableArgs(args, false)
	if err != nil {
		return err
	}
	t, err := a.table(name)
	if err != nil {
		return err
	}
	n, err := t.count(filter)
	if err != nil {
		return err
	}
	return a.enc.Encode(map[string]int64{"count": n})
}

func runRemove(ctx context.Context, a *app, args []string) error {
	name, filter, err := parseTableArgs(args, true)
	if err != nil {
		return err
	}
	t, err := a.table(name)
	if err != nil {
		return err
	}
	n, err := t.remove(filter)
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "Removed records", "table", name, "count", n)
	return a.enc.Encode(map[string]int64{"removed": n})
}

func runSchema(_ context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("schema", flag.ContinueOnError)
	asJSONSchema := fs.Bool("jsonschema", false, "Print the JSON Schema of the record type instead")
	if err := fs.Parse(args); err != nil {
		return err
	}
	names := tableNames
	switch fs.NArg() {
	case 0:
	case 1:
		names = fs.Args()
	default:
		return fmt.Errorf("unexpected arguments: %v", fs.Args()[1:])
	}
	var out []any
	for _, name := range names {
		t, err := a.table(name)
		if err != nil {
			return err
		}
		if *asJSONSchema {
			out = append(out, t.jsonSchema())
		} else {
			out = append(out, t.schema())
		}
	}
	if len(out) == 1 {
		return a.enc.Encode(out[0])
	}
	return a.enc.Encode(out)
}

func runForeign(_ context.Context, a *app, args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("unexpected arguments: %v", args)
	}
	pkgs, err := a.svc.Foreign()
	if err != nil {
		return err
	}
	return a.enc.Encode(nonNil(pkgs))
}

func runInstall(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("install", flag.ContinueOnError)
	dryRun := fs.Bool("dry-run", false, "Print the pacman commands without running them")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("install takes exactly one filter over available packages")
	}
	filter, err := parseFilter(fs.Arg(0))
	if err != nil {
		return err
	}
	targets, err := installTargets(a.svc, filter)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		slog.InfoContext(ctx, "Nothing to install")
		return nil
	}
	if *dryRun {
		for _, args := range pacman.InstallArgs(targets) {
			if _, err := fmt.Fprintln(a.stdout, a.cfg.Pacman, strings.Join(args, " ")); err != nil {
				return err
			}
		}
		return nil
	}
	if err := a.pm.Install(ctx, targets); err != nil {
		return err
	}
	_, err = a.svc.Refresh(ctx)
	return err
}

// installTargets selects the available packages matching filter. Packages
// currently installed as dependencies stay dependencies.
func installTargets(svc *syncsvc.Service, filter sqldb.Filter) ([]pacman.Target, error) {
	pkgs, err := svc.Available().Find(filter)
	if err != nil {
		return nil, err
	}
	installed, err := svc.Installed().List()
	if err != nil {
		return nil, err
	}
	deps := make(map[string]bool, len(installed))
	for _, p := range installed {
		deps[p.Name] = p.AsDependency != 0
	}
	targets := make([]pacman.Target, 0, len(pkgs))
	for _, p := range pkgs {
		targets = append(targets, pacman.Target{Repo: p.Repo, Name: p.Name, AsDependency: deps[p.Name]})
	}
	return targets, nil
}

func runExport(ctx context.Context, a *app, args []string) error {
	if len(args) > 2 {
		return fmt.Errorf("unexpected arguments: %v", args[2:])
	}
	name := "installed"
	if len(args) > 0 {
		name = args[0]
	}
	t, err := a.table(name)
	if err != nil {
		return err
	}
	if len(args) < 2 {
		_, err := t.export(a.stdout)
		return err
	}
	n, err := t.exportFile(args[1])
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "Exported records", "table", name, "count", n, "file", args[1])
	return nil
}

func runImport(ctx context.Context, a *app, args []string) error {
	if len(args) != 2 {
		return errors.New("import takes a table and a file")
	}
	t, err := a.table(args[0])
	if err != nil {
		return err
	}
	n, err := t.load(args[1])
	if err != nil {
		return fmt.Errorf("imported %d records: %w", n, err)
	}
	slog.InfoContext(ctx, "Imported records", "table", args[0], "count", n)
	return a.enc.Encode(map[string]int{"imported": n})
}

func runWatch(ctx context.Context, a *app, args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("unexpected arguments: %v", args)
	}
	if _, err := a.svc.Refresh(ctx); err != nil {
		return err
	}
	return a.svc.Watch(ctx, a.cfg.WatchDir, a.cfg.WatchDebounce)
}

type encoder interface {
	Encode(v any) error
}

func newEncoder(w io.Writer, format string) (encoder, error) {
	switch format {
	case "json":
		e := json.NewEncoder(w)
		e.SetIndent("", "  ")
		return e, nil
	case "yaml":
		return &yamlEncoder{w: w}, nil
	default:
		return nil, fmt.Errorf("unknown format %q, want json or yaml", format)
	}
}

// yamlEncoder writes one YAML document per value. Values go through their
// JSON encoding first so that json tags, key order and custom marshalers apply.
type yamlEncoder struct {
	w       io.Writer
	started bool
}

func (e *yamlEncoder) Encode(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	blockStyle(&doc)
	var buf bytes.Buffer
	if e.started {
		buf.WriteString("---\n")
	}
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	e.started = true
	_, err = e.w.Write(buf.Bytes())
	return err
}

// blockStyle undoes the flow style and quoting inherited from JSON.
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}
