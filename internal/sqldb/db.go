// Opens the embedded SQLite database shared by all repositories.

package sqldb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // Registers the "sqlite" driver.
)

// DriverName is the database/sql driver used for storage.
const DriverName = "sqlite"

func init() {
	// sqlx does not know modernc's driver name; it uses ? placeholders.
	sqlx.BindDriver(DriverName, sqlx.QUESTION)
}

// Options tunes the database connection.
type Options struct {
	// BusyTimeout is how long SQLite waits on a locked database. Defaults to 5s.
	BusyTimeout time.Duration
}

// OpenDB opens or creates the SQLite database at path.
//
// The pool is limited to a single connection: repositories assume one logical
// reader/writer at a time and do no locking of their own.
func OpenDB(path string, opts Options) (*sqlx.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve sqlite path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return nil, fmt.Errorf("failed to create directory for %s: %w", abs, err)
	}
	busy := int(opts.BusyTimeout / time.Millisecond)
	if busy <= 0 {
		busy = 5000
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", abs, busy)
	db, err := sqlx.Open(DriverName, dsn)
	if err != nil {
		return nil, storageErr("open", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, storageErr("ping", err)
	}
	return db, nil
}
