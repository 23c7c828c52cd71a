// Provides the refresh of the package cache from pacman into the database.

package syncsvc

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/maruel/ksid"
	"github.com/maruel/pkgdb/internal/pacman"
	"github.com/maruel/pkgdb/internal/sqldb"
)

// Source lists packages. *pacman.Client implements it.
type Source interface {
	Installed(ctx context.Context) ([]pacman.InstalledPackage, error)
	Available(ctx context.Context) ([]pacman.Package, error)
}

// Run records one refresh.
type Run struct {
	ID         string `json:"id" jsonschema:"description=Sortable run identifier"`
	Started    int64  `json:"started" jsonschema:"description=Start time in Unix milliseconds"`
	DurationMS int64  `json:"duration_ms"`
	Installed  int64  `json:"installed" jsonschema:"description=Number of installed packages cached"`
	Available  int64  `json:"available" jsonschema:"description=Number of available packages cached"`
}

// TableName implements sqldb.TableNamer.
func (Run) TableName() string { return "runs" }

// Service keeps the installed and available tables in sync with a Source.
type Service struct {
	src       Source
	installed *sqldb.Repository[pacman.InstalledPackage]
	available *sqldb.Repository[pacman.Package]
	runs      *sqldb.Repository[Run]

	mu sync.Mutex // Serializes refreshes.
}

// New opens the cache tables in db.
func New(db *sqlx.DB, src Source) (*Service, error) {
	installed, err := sqldb.Open[pacman.InstalledPackage](db)
	if err != nil {
		return nil, err
	}
	available, err := sqldb.Open[pacman.Package](db)
	if err != nil {
		return nil, err
	}
	runs, err := sqldb.Open[Run](db)
	if err != nil {
		return nil, err
	}
	return &Service{src: src, installed: installed, available: available, runs: runs}, nil
}

// Installed returns the installed packages table.
func (s *Service) Installed() *sqldb.Repository[pacman.InstalledPackage] { return s.installed }

// Available returns the available packages table.
func (s *Service) Available() *sqldb.Repository[pacman.Package] { return s.available }

// Runs returns the refresh history table.
func (s *Service) Runs() *sqldb.Repository[Run] { return s.runs }

// Refresh replaces the cached package lists with the source's current ones
// and records the run.
//
// Both lists are fetched before anything is deleted, so a failing source
// leaves the cache untouched. Storage failures midway are not rolled back.
func (s *Service) Refresh(ctx context.Context) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	run := Run{ID: ksid.NewID().String(), Started: start.UnixMilli()}
	installed, err := s.src.Installed(ctx)
	if err != nil {
		return nil, fmt.Errorf("list installed: %w", err)
	}
	available, err := s.src.Available(ctx)
	if err != nil {
		return nil, fmt.Errorf("list available: %w", err)
	}
	n, err := replace(s.installed, installed)
	if err != nil {
		return nil, fmt.Errorf("store installed: %w", err)
	}
	run.Installed = n
	if n, err = replace(s.available, available); err != nil {
		return nil, fmt.Errorf("store available: %w", err)
	}
	run.Available = n
	run.DurationMS = time.Since(start).Milliseconds()
	stored, err := s.runs.Insert(run)
	if err != nil {
		return nil, fmt.Errorf("store run: %w", err)
	}
	slog.InfoContext(ctx, "syncsvc: refreshed", "id", stored.ID, "installed", stored.Installed, "available", stored.Available, "duration", time.Since(start))
	return &stored, nil
}

func replace[T any](repo *sqldb.Repository[T], recs []T) (int64, error) {
	if _, err := repo.Delete(nil); err != nil {
		return 0, err
	}
	got, err := repo.InsertAll(recs)
	return int64(len(got)), err
}

// LastRun returns the most recent refresh, or nil if none happened.
func (s *Service) LastRun() (*Run, error) {
	runs, err := s.runs.List()
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	last := slices.MaxFunc(runs, func(a, b Run) int { return strings.Compare(a.ID, b.ID) })
	return &last, nil
}

// Foreign returns the cached installed packages that no sync repository
// provides.
func (s *Service) Foreign() ([]pacman.InstalledPackage, error) {
	installed, err := s.installed.List()
	if err != nil {
		return nil, err
	}
	available, err := s.available.List()
	if err != nil {
		return nil, err
	}
	return Foreign(installed, available), nil
}

// Foreign returns the installed packages whose name is absent from available,
// sorted by name.
func Foreign(installed []pacman.InstalledPackage, available []pacman.Package) []pacman.InstalledPackage {
	known := make(map[string]struct{}, len(available))
	for _, p := range available {
		known[p.Name] = struct{}{}
	}
	var out []pacman.InstalledPackage
	for _, p := range installed {
		if _, ok := known[p.Name]; !ok {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b pacman.InstalledPackage) int { return strings.Compare(a.Name, b.Name) })
	return out
}
