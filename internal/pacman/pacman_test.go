package pacman

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"
)

const qiOutput = `Name            : acl
Version         : 2.3.2-1
Description     : Access control list utilities, libraries and headers
Architecture    : x86_64
URL             : https://savannah.nongnu.org/projects/acl
Licenses        : LGPL
Depends On      : glibc
Optional Deps   : perl: for some scripts
                  python: for other scripts
Packager        : Foo Bar <foo@archlinux.org>
Install Reason  : Installed as a dependency for another package

Name            : vim
Version         : 9.1.0-1
Architecture    : x86_64
URL             : https://www.vim.org
Packager        : Baz <baz@archlinux.org>
Install Reason  : Explicitly installed

`

const slOutput = `core acl 2.3.2-1 [installed]
extra vim 9.1.1-1 [installed: 9.1.0-1]
extra emacs 29.4-1
garbage
`

func strPtr(s string) *string { return &s }

func TestParseInstalled(t *testing.T) {
	t.Run("blocks", func(t *testing.T) {
		got, err := ParseInstalled(strings.NewReader(qiOutput))
		if err != nil {
			t.Fatal(err)
		}
		want := []InstalledPackage{
			{Name: "acl", Version: "2.3.2-1", Architecture: "x86_64", URL: "https://savannah.nongnu.org/projects/acl", Packager: "Foo Bar <foo@archlinux.org>", AsDependency: 1},
			{Name: "vim", Version: "9.1.0-1", Architecture: "x86_64", URL: "https://www.vim.org", Packager: "Baz <baz@archlinux.org>"},
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("ParseInstalled() =\n%+v\nwant\n%+v", got, want)
		}
	})

	t.Run("no trailing blank line", func(t *testing.T) {
		got, err := ParseInstalled(strings.NewReader("Name : x\nVersion : 1"))
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].Name != "x" || got[0].Version != "1" {
			t.Errorf("ParseInstalled() = %+v", got)
		}
	})

	t.Run("blocks without name are skipped", func(t *testing.T) {
		got, err := ParseInstalled(strings.NewReader("Version : 1\n\n\n"))
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 0 {
			t.Errorf("ParseInstalled() = %+v", got)
		}
	})
}

func TestParseAvailable(t *testing.T) {
	got, err := ParseAvailable(strings.NewReader(slOutput))
	if err != nil {
		t.Fatal(err)
	}
	want := []Package{
		{Repo: "core", Name: "acl", Version: "2.3.2-1", Installed: strPtr("2.3.2-1")},
		{Repo: "extra", Name: "vim", Version: "9.1.1-1", Installed: strPtr("9.1.0-1")},
		{Repo: "extra", Name: "emacs", Version: "29.4-1"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseAvailable() =\n%+v\nwant\n%+v", got, want)
	}
}

func TestInstallArgs(t *testing.T) {
	tests := []struct {
		name    string
		targets []Target
		want    [][]string
	}{
		{"none", nil, nil},
		{
			"explicit only",
			[]Target{{Repo: "extra", Name: "vim"}},
			[][]string{{"-S", "--noconfirm", "extra/vim"}},
		},
		{
			"dependencies only",
			[]Target{{Repo: "core", Name: "acl", AsDependency: true}},
			[][]string{{"-S", "--noconfirm", "core/acl", "--asdeps"}},
		},
		{
			"mixed",
			[]Target{
				{Repo: "core", Name: "acl", AsDependency: true},
				{Repo: "extra", Name: "vim"},
				{Repo: "extra", Name: "gvim"},
			},
			[][]string{
				{"-S", "--noconfirm", "extra/vim", "extra/gvim"},
				{"-S", "--noconfirm", "core/acl", "--asdeps"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InstallArgs(tt.targets); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("InstallArgs() = %q, want %q", got, tt.want)
			}
		})
	}
}

// fakePacman writes a shell script standing in for pacman. It prints
// fixtures for queries and appends install arguments to log.
func fakePacman(t *testing.T) (bin, log string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake")
	}
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "qi.txt"), []byte(qiOutput), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sl.txt"), []byte(slOutput), 0o600); err != nil {
		t.Fatal(err)
	}
	log = filepath.Join(dir, "log.txt")
	script := "#!/bin/sh\n" +
		"case \"$1\" in\n" +
		"-Qi) cat " + filepath.Join(dir, "qi.txt") + ";;\n" +
		"-Sl) cat " + filepath.Join(dir, "sl.txt") + ";;\n" +
		"-S) echo \"$@\" >> " + log + ";;\n" +
		"*) echo \"error: invalid option\" >&2; exit 1;;\n" +
		"esac\n"
	bin = filepath.Join(dir, "pacman")
	if err := os.WriteFile(bin, []byte(script), 0o700); err != nil { //nolint:gosec // G306: test executable
		t.Fatal(err)
	}
	return bin, log
}

func TestClient(t *testing.T) {
	bin, log := fakePacman(t)
	c := New(bin)
	ctx := context.Background()

	t.Run("Installed", func(t *testing.T) {
		got, err := c.Installed(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 2 || got[1].Name != "vim" {
			t.Errorf("Installed() = %+v", got)
		}
	})

	t.Run("Available", func(t *testing.T) {
		got, err := c.Available(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 3 || got[2].Installed != nil {
			t.Errorf("Available() = %+v", got)
		}
	})

	t.Run("Install", func(t *testing.T) {
		err := c.Install(ctx, []Target{{Repo: "core", Name: "acl", AsDependency: true}, {Repo: "extra", Name: "vim"}})
		if err != nil {
			t.Fatal(err)
		}
		data, err := os.ReadFile(log) //nolint:gosec // G304: test file
		if err != nil {
			t.Fatal(err)
		}
		want := "-S --noconfirm extra/vim\n-S --noconfirm core/acl --asdeps\n"
		if string(data) != want {
			t.Errorf("log = %q, want %q", data, want)
		}
	})

	t.Run("failure includes stderr", func(t *testing.T) {
		_, err := c.output(ctx, "-X")
		if err == nil || !strings.Contains(err.Error(), "invalid option") {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("missing binary", func(t *testing.T) {
		if _, err := New(filepath.Join(t.TempDir(), "nope")).Installed(ctx); err == nil {
			t.Error("expected error")
		}
	})
}
