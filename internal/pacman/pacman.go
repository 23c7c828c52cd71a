// Provides the pacman command runner and the parsers for its query output.

package pacman

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// DefaultBinary is the package manager executable looked up in PATH.
const DefaultBinary = "pacman"

// InstalledPackage is one entry of `pacman -Qi`.
type InstalledPackage struct {
	Name         string `json:"name" jsonschema:"description=Package name"`
	Version      string `json:"version" jsonschema:"description=Installed version"`
	Architecture string `json:"architecture"`
	URL          string `json:"url"`
	Packager     string `json:"packager"`
	AsDependency int8   `json:"as_dependency" jsonschema:"description=1 when installed as a dependency of another package"`
}

// TableName implements sqldb.TableNamer.
func (InstalledPackage) TableName() string { return "installed" }

// Package is one entry of `pacman -Sl`: a package offered by a sync
// repository.
type Package struct {
	Repo    string `json:"repo" jsonschema:"description=Sync repository"`
	Name    string `json:"name" jsonschema:"description=Package name"`
	Version string `json:"version" jsonschema:"description=Version offered by the repository"`
	// Installed is the locally installed version, nil when not installed.
	Installed *string `json:"installed" jsonschema:"description=Locally installed version or null when not installed"`
}

// TableName implements sqldb.TableNamer.
func (Package) TableName() string { return "available" }

// Target is a package to install from a given repository.
type Target struct {
	Repo         string `json:"repo"`
	Name         string `json:"name"`
	AsDependency bool   `json:"as_dependency"`
}

func (t Target) String() string {
	return t.Repo + "/" + t.Name
}

// Client runs pacman.
type Client struct {
	// Binary is the pacman executable. Defaults to DefaultBinary.
	Binary string
	// Stdout and Stderr receive the output of install commands. Nil discards.
	Stdout io.Writer
	Stderr io.Writer
	// Timeout bounds query commands. Zero means one minute.
	Timeout time.Duration
}

// New returns a Client running binary, or DefaultBinary when empty.
func New(binary string) *Client {
	if binary == "" {
		binary = DefaultBinary
	}
	return &Client{Binary: binary}
}

// Installed runs `pacman -Qi` and parses its output.
func (c *Client) Installed(ctx context.Context) ([]InstalledPackage, error) {
	slog.InfoContext(ctx, "pacman: listing installed packages")
	out, err := c.output(ctx, "-Qi")
	if err != nil {
		return nil, err
	}
	pkgs, err := ParseInstalled(bytes.NewReader(out))
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "pacman: found installed packages", "count", len(pkgs))
	return pkgs, nil
}

// Available runs `pacman -Sl` and parses its output.
func (c *Client) Available(ctx context.Context) ([]Package, error) {
	slog.InfoContext(ctx, "pacman: listing available packages")
	out, err := c.output(ctx, "-Sl")
	if err != nil {
		return nil, err
	}
	pkgs, err := ParseAvailable(bytes.NewReader(out))
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "pacman: found available packages", "count", len(pkgs))
	return pkgs, nil
}

// Install installs targets, explicit packages first and then dependencies.
//
// It stops at the first failing pacman invocation.
func (c *Client) Install(ctx context.Context, targets []Target) error {
	for _, args := range InstallArgs(targets) {
		slog.InfoContext(ctx, "pacman: installing", "args", strings.Join(args, " "))
		cmd := c.cmd(ctx, args...)
		cmd.Stdout = c.Stdout
		cmd.Stderr = c.Stderr
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("%s %s: %w", c.binary(), strings.Join(args, " "), err)
		}
	}
	return nil
}

// InstallArgs returns the pacman argument lists installing targets: one for
// explicitly installed packages and one, with --asdeps, for dependencies.
// Empty groups are omitted.
func InstallArgs(targets []Target) [][]string {
	var explicit, deps []string
	for _, t := range targets {
		if t.AsDependency {
			deps = append(deps, t.String())
		} else {
			explicit = append(explicit, t.String())
		}
	}
	var out [][]string
	if len(explicit) != 0 {
		out = append(out, append([]string{"-S", "--noconfirm"}, explicit...))
	}
	if len(deps) != 0 {
		args := append([]string{"-S", "--noconfirm"}, deps...)
		out = append(out, append(args, "--asdeps"))
	}
	return out
}

func (c *Client) binary() string {
	if c.Binary == "" {
		return DefaultBinary
	}
	return c.Binary
}

// cmd creates an exec.Cmd for pacman with a stable output language.
func (c *Client) cmd(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, c.binary(), args...)
	cmd.Env = append(os.Environ(), "LC_ALL=C")
	return cmd
}

// output runs a query command and returns its stdout.
func (c *Client) output(ctx context.Context, args ...string) ([]byte, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var stderr bytes.Buffer
	cmd := c.cmd(ctx, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) && stderr.Len() != 0 {
			return nil, fmt.Errorf("%s %s: %w: %s", c.binary(), strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("%s %s: %w", c.binary(), strings.Join(args, " "), err)
	}
	return out, nil
}
