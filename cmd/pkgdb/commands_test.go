package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/maruel/pkgdb/internal/config"
	"github.com/maruel/pkgdb/internal/pacman"
	"github.com/maruel/pkgdb/internal/sqldb"
	"github.com/maruel/pkgdb/internal/syncsvc"
)

type fakeSource struct{}

func (fakeSource) Installed(context.Context) ([]pacman.InstalledPackage, error) {
	return []pacman.InstalledPackage{
		{Name: "vim", Version: "9.1.0-1", Architecture: "x86_64"},
		{Name: "acl", Version: "2.3.2-1", Architecture: "x86_64", AsDependency: 1},
		{Name: "yay", Version: "12.0-1", Architecture: "x86_64"},
	}, nil
}

func (fakeSource) Available(context.Context) ([]pacman.Package, error) {
	v := "9.1.0-1"
	a := "2.3.2-1"
	return []pacman.Package{
		{Repo: "extra", Name: "vim", Version: "9.1.1-1", Installed: &v},
		{Repo: "core", Name: "acl", Version: "2.3.2-1", Installed: &a},
		{Repo: "extra", Name: "emacs", Version: "29.4-1"},
	}, nil
}

func newTestApp(t *testing.T, format string) (*app, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default(dir)
	db, err := sqldb.OpenDB(filepath.Join(dir, "pkgdb.sqlite"), sqldb.Options{})
	if err != nil {
		t.Fatal(err)
	}
	svc, err := syncsvc.New(db, fakeSource{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	enc, err := newEncoder(&out, format)
	if err != nil {
		t.Fatal(err)
	}
	a := &app{cfg: cfg, db: db, pm: pacman.New(cfg.Pacman), svc: svc, enc: enc, stdout: &out}
	t.Cleanup(func() { _ = a.Close() })
	return a, &out
}

func run(t *testing.T, a *app, name string, args ...string) error {
	t.Helper()
	return commands[name].run(context.Background(), a, args)
}

func decodeNames(t *testing.T, data []byte) []string {
	t.Helper()
	var recs []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &recs); err != nil {
		t.Fatalf("invalid output %s: %v", data, err)
	}
	var names []string
	for _, r := range recs {
		names = append(names, r.Name)
	}
	return names
}

func TestCommands(t *testing.T) {
	t.Run("find", func(t *testing.T) {
		tests := []struct {
			name string
			args []string
			want string
		}{
			{"default table", []string{`{"as_dependency": 1}`}, "acl"},
			{"explicit table", []string{"available", `{"installed": null}`}, "emacs"},
			{"full text", []string{"installed", `{"name": "yay"}`}, "yay"},
			{"repository", []string{"available", `{"repo": "core"}`}, "acl"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				a, out := newTestApp(t, "json")
				if err := run(t, a, "find", tt.args...); err != nil {
					t.Fatal(err)
				}
				if got := decodeNames(t, out.Bytes()); len(got) != 1 || got[0] != tt.want {
					t.Errorf("find %v = %v, want [%s]", tt.args, got, tt.want)
				}
			})
		}
	})

	t.Run("find without match prints an empty list", func(t *testing.T) {
		a, out := newTestApp(t, "json")
		if err := run(t, a, "find", `{"name": "nothing"}`); err != nil {
			t.Fatal(err)
		}
		if got := strings.TrimSpace(out.String()); got != "[]" {
			t.Errorf("output = %q", got)
		}
	})

	t.Run("find errors", func(t *testing.T) {
		tests := []struct {
			name string
			args []string
		}{
			{"no filter", nil},
			{"not json", []string{"{nope"}},
			{"not an object", []string{"installed", "[1]"}},
			{"trailing data", []string{`{} {}`}},
			{"array value", []string{`{"name": ["a"]}`}},
			{"unknown table", []string{"nope", "{}"}},
			{"too many", []string{"installed", "{}", "{}"}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				a, _ := newTestApp(t, "json")
				if err := run(t, a, "find", tt.args...); err == nil {
					t.Error("expected error")
				}
			})
		}
	})

	t.Run("list", func(t *testing.T) {
		a, out := newTestApp(t, "json")
		if err := run(t, a, "list", "available"); err != nil {
			t.Fatal(err)
		}
		if got := decodeNames(t, out.Bytes()); len(got) != 3 {
			t.Errorf("list = %v", got)
		}
	})

	t.Run("count and remove", func(t *testing.T) {
		a, out := newTestApp(t, "json")
		if err := run(t, a, "remove", `{"name": "vim"}`); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(out.String(), `"removed": 1`) {
			t.Errorf("remove output = %s", out)
		}
		out.Reset()
		if err := run(t, a, "count"); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(out.String(), `"count": 2`) {
			t.Errorf("count output = %s", out)
		}
	})

	t.Run("foreign", func(t *testing.T) {
		a, out := newTestApp(t, "json")
		if err := run(t, a, "foreign"); err != nil {
			t.Fatal(err)
		}
		if got := decodeNames(t, out.Bytes()); len(got) != 1 || got[0] != "yay" {
			t.Errorf("foreign = %v", got)
		}
	})

	t.Run("install dry run", func(t *testing.T) {
		a, out := newTestApp(t, "json")
		if err := run(t, a, "install", "-dry-run", `{"installed": {"$ne": null}}`); err != nil {
			t.Fatal(err)
		}
		lines := strings.Split(strings.TrimSpace(out.String()), "\n")
		if len(lines) != 2 {
			t.Fatalf("output = %q", out)
		}
		if lines[0] != "pacman -S --noconfirm extra/vim" {
			t.Errorf("explicit = %q", lines[0])
		}
		if lines[1] != "pacman -S --noconfirm core/acl --asdeps" {
			t.Errorf("dependencies = %q", lines[1])
		}
	})

	t.Run("install nothing", func(t *testing.T) {
		a, out := newTestApp(t, "json")
		if err := run(t, a, "install", `{"name": "nothing"}`); err != nil {
			t.Fatal(err)
		}
		if out.Len() != 0 {
			t.Errorf("output = %q", out)
		}
	})

	t.Run("schema", func(t *testing.T) {
		a, out := newTestApp(t, "json")
		if err := run(t, a, "schema", "runs"); err != nil {
			t.Fatal(err)
		}
		var s sqldb.TableSchema
		if err := json.Unmarshal(out.Bytes(), &s); err != nil {
			t.Fatal(err)
		}
		if s.Name != "runs" || len(s.Fields) != 5 || s.Fields[0].Name != "id" {
			t.Errorf("schema = %+v", s)
		}
	})

	t.Run("jsonschema", func(t *testing.T) {
		a, out := newTestApp(t, "json")
		if err := run(t, a, "schema", "-jsonschema", "installed"); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(out.String(), "installed as a dependency") {
			t.Errorf("output = %s", out)
		}
	})

	t.Run("export and import", func(t *testing.T) {
		a, out := newTestApp(t, "json")
		path := filepath.Join(t.TempDir(), "installed.jsonl")
		if err := run(t, a, "export", "installed", path); err != nil {
			t.Fatal(err)
		}
		if err := run(t, a, "remove", "{}"); err != nil {
			t.Fatal(err)
		}
		out.Reset()
		if err := run(t, a, "import", "installed", path); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(out.String(), `"imported": 3`) {
			t.Errorf("import output = %s", out)
		}
		out.Reset()
		if err := run(t, a, "export", "runs"); err != nil {
			t.Fatal(err)
		}
		if lines := strings.Count(out.String(), "\n"); lines != 1 {
			t.Errorf("export runs wrote %d lines", lines)
		}
		if err := run(t, a, "import", "installed"); err == nil {
			t.Error("expected error without file")
		}
	})

	t.Run("yaml", func(t *testing.T) {
		a, out := newTestApp(t, "yaml")
		if err := run(t, a, "find", "available", `{"name": "emacs"}`); err != nil {
			t.Fatal(err)
		}
		want := "- repo: extra\n  name: emacs\n  version: 29.4-1\n  installed: null\n"
		if out.String() != want {
			t.Errorf("output =\n%s\nwant\n%s", out, want)
		}
		if err := run(t, a, "count", "available"); err != nil {
			t.Fatal(err)
		}
		if !strings.HasSuffix(out.String(), "---\ncount: 3\n") {
			t.Errorf("output =\n%s", out)
		}
	})
}

func TestQuoteTerms(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"vim", "vim"},
		{"linux-firmware", `"linux-firmware"`},
		{"linux-*", `"linux-"*`},
		{"python-*  OR  vim", `"python-"* OR vim`},
		{`"already-quoted"`, `"already-quoted"`},
	}
	for _, tt := range tests {
		if got := quoteTerms(tt.in); got != tt.want {
			t.Errorf("quoteTerms(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	f, err := parseFilter(`{"name": "lib-x", "as_dependency": 1}`)
	if err != nil {
		t.Fatal(err)
	}
	if f["name"] != `"lib-x"` {
		t.Errorf("name = %v", f["name"])
	}
}

func TestNewEncoder(t *testing.T) {
	if _, err := newEncoder(&bytes.Buffer{}, "xml"); err == nil {
		t.Error("expected error")
	}
}

func TestWriteVersion(t *testing.T) {
	var b bytes.Buffer
	writeVersion(&b, buildInfo{version: "v1.2.3", goVersion: "go1.25.5", revision: "abc", modified: true})
	want := "pkgdb v1.2.3\n  Go version: go1.25.5\n  Revision:   abc\n  Modified:   true\n"
	if b.String() != want {
		t.Errorf("got %q, want %q", b.String(), want)
	}
	if got := readBuildInfo(); got.version == "" || got.goVersion == "" {
		t.Errorf("readBuildInfo() = %+v", got)
	}
}
