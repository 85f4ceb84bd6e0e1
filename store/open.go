// Package store holds the durable counter backends.
package store

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/maxpert/engage/cfg"
	"github.com/maxpert/engage/counter"
)

// Durable is a counter store that owns resources
type Durable interface {
	counter.BatchStore
	io.Closer
}

// Open builds the durable store selected by the configuration
func Open(ctx context.Context, c cfg.StoreConfiguration, dataDir string) (Durable, error) {
	switch c.Driver {
	case cfg.StoreSQLite:
		return OpenSQL(ctx, DriverSQLite, sqliteDSN(c.DSN, dataDir), c.Table)
	case cfg.StoreMySQL:
		return OpenSQL(ctx, DriverMySQL, c.DSN, c.Table)
	case cfg.StorePebble:
		path := c.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(dataDir, path)
		}
		return OpenPebble(path, PebbleOptions{})
	case cfg.StoreMemory:
		return NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unsupported store driver %q", c.Driver)
}

// sqliteDSN places relative database files under the data directory
func sqliteDSN(dsn, dataDir string) string {
	if strings.HasPrefix(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		return dsn
	}
	path := strings.TrimPrefix(dsn, "file:")
	if filepath.IsAbs(path) {
		return dsn
	}
	if strings.HasPrefix(dsn, "file:") {
		return "file:" + filepath.Join(dataDir, path)
	}
	return filepath.Join(dataDir, dsn)
}
