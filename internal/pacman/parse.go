// Parsers for `pacman -Qi` and `pacman -Sl` output.

package pacman

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// ParseInstalled parses `pacman -Qi` output: blank-line separated blocks of
// "Key : Value" lines. Blocks without a Name are skipped and continuation
// lines of multi-line values are ignored.
func ParseInstalled(r io.Reader) ([]InstalledPackage, error) {
	var out []InstalledPackage
	fields := map[string]string{}
	flush := func() {
		if name := fields["Name"]; name != "" {
			out = append(out, InstalledPackage{
				Name:         name,
				Version:      fields["Version"],
				Architecture: fields["Architecture"],
				URL:          fields["URL"],
				Packager:     fields["Packager"],
				AsDependency: asDependency(fields["Install Reason"]),
			})
		}
		clear(fields)
	}
	s := newScanner(r)
	for s.Scan() {
		line := s.Text()
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		fields[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("failed to read installed packages: %w", err)
	}
	flush()
	return out, nil
}

func asDependency(reason string) int8 {
	if strings.Contains(reason, "as a dependency") {
		return 1
	}
	return 0
}

// ParseAvailable parses `pacman -Sl` output, one package per line:
//
//	<repo> <name> <version> [installed] | [installed: <local version>]
//
// Lines with fewer than three fields are skipped.
func ParseAvailable(r io.Reader) ([]Package, error) {
	var out []Package
	s := newScanner(r)
	for s.Scan() {
		parts := strings.SplitN(strings.TrimSpace(s.Text()), " ", 4)
		if len(parts) < 3 {
			continue
		}
		p := Package{Repo: parts[0], Name: parts[1], Version: parts[2]}
		if len(parts) == 4 {
			p.Installed = installedVersion(parts[3], p.Version)
		}
		out = append(out, p)
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("failed to read available packages: %w", err)
	}
	return out, nil
}

// installedVersion decodes the installed marker; "[installed]" means the
// offered version is the local one.
func installedVersion(marker, version string) *string {
	rest, ok := strings.CutPrefix(marker, "[installed")
	if !ok {
		return nil
	}
	rest = strings.TrimSuffix(strings.TrimSpace(rest), "]")
	if v, ok := strings.CutPrefix(rest, ":"); ok {
		if v = strings.TrimSpace(v); v != "" {
			return &v
		}
	}
	return &version
}

func newScanner(r io.Reader) *bufio.Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return s
}
