package runledger

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const DefaultFileName = "ledger.sqlite"

type SQLiteConfig struct {
	BusyTimeoutMs int
	WAL           bool
}

type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type Config struct {
	Path   string
	Pool   PoolConfig
	SQLite SQLiteConfig
}

func DefaultConfig(path string) Config {
	return Config{
		Path: strings.TrimSpace(path),
		Pool: PoolConfig{
			MaxOpenConns: 1,
			MaxIdleConns: 1,
		},
		SQLite: SQLiteConfig{
			BusyTimeoutMs: 5000,
			WAL:           true,
		},
	}
}

// ResolvePath returns path when set, otherwise DefaultFileName inside stateDir.
// The parent directory is created with owner-only permissions.
func ResolvePath(path, stateDir string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		stateDir = strings.TrimSpace(stateDir)
		if stateDir == "" {
			return "", fmt.Errorf("ledger path and state dir are both empty")
		}
		path = filepath.Join(stateDir, DefaultFileName)
	}
	if path == ":memory:" {
		return path, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", err
	}
	return path, nil
}

func (c Config) dsn() string {
	q := url.Values{}
	if c.SQLite.BusyTimeoutMs > 0 {
		q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", c.SQLite.BusyTimeoutMs))
	}
	if c.SQLite.WAL && c.Path != ":memory:" {
		q.Add("_pragma", "journal_mode(WAL)")
	}
	if len(q) == 0 {
		return c.Path
	}
	return "file:" + c.Path + "?" + q.Encode()
}
