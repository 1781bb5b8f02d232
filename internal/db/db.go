package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/JediahDizon/project-naa/internal/domain"
)

const defaultDBName = "tablet.db"

type Config struct {
	// Dir is the user namespace directory the database file lives in.
	Dir string
}

func dbPath(dir string) string {
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, defaultDBName)
}

// EnsureDir creates dir if missing and checks that it is writable.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.Unavailable(err)
	}
	probe, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return domain.Unavailable(err)
	}
	name := probe.Name()
	probe.Close()
	return os.Remove(name)
}

// Open opens the namespace database with WAL, a busy timeout and foreign
// keys on. It fails with ErrStoreUnavailable when the directory is not
// writable.
func Open(cfg Config) (*sql.DB, error) {
	if err := EnsureDir(cfg.Dir); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_txlock=immediate", dbPath(cfg.Dir))
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, domain.Unavailable(err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, domain.Unavailable(err)
	}
	return conn, nil
}

// Path returns the db path for a namespace directory.
func Path(dir string) string {
	return dbPath(dir)
}
