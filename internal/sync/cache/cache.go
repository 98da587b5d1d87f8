// Package cache provides the Durable Local Cache: a per-device key/value store
// backed by embedded SQLite.
//
// The cache is the fallback source of truth for every synchronized collection.
// Each collection is stored as one JSON document under a fixed key, so a
// collection is always read and replaced as a whole.
//
// Architecture:
//   - Database file: <data_dir>/flowsync.db (":memory:" for tests)
//   - WAL mode: readers never block the writer
//   - Schema: a single kv table
//
// Example:
//
//	c, err := cache.Open(filepath.Join(dataDir, "flowsync.db"))
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	var tasks []schema.Task
//	found, err := c.Get(ctx, schema.KindTask.CacheKey(), &tasks)
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// MemoryPath opens a private in-memory cache.
const MemoryPath = ":memory:"

// Cache wraps the SQLite connection holding the key/value table.
type Cache struct {
	conn *sql.DB
	path string
}

// Stats describes the cache contents.
type Stats struct {
	Path      string
	Keys      int
	Bytes     int64
	UpdatedAt time.Time
}

// Open creates or opens the cache at path and ensures the schema exists.
//
// The caller MUST call Close() when done.
func Open(path string) (*Cache, error) {
	return OpenContext(context.Background(), path)
}

// OpenContext is Open with context support.
func OpenContext(ctx context.Context, path string) (*Cache, error) {
	connStr := "file::memory:"
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
		connStr = fmt.Sprintf("file:%s", path)
	}

	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping cache: %w", err)
	}

	if path == MemoryPath {
		// Every connection to :memory: is a separate database.
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(8)
		conn.SetMaxIdleConns(2)
	}
	conn.SetConnMaxLifetime(5 * time.Minute)

	c := &Cache{conn: conn, path: path}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := c.conn.ExecContext(ctx, pragma); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := c.initSchema(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}

	return c, nil
}

func (c *Cache) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	if _, err := c.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize cache schema: %w", err)
	}
	return nil
}

// Path returns the file path the cache was opened with.
func (c *Cache) Path() string {
	return c.path
}

// Close checkpoints the WAL and closes the connection. Safe to call twice.
func (c *Cache) Close() error {
	if c.conn == nil {
		return nil
	}

	if c.path != MemoryPath {
		if _, err := c.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
		}
	}

	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("failed to close cache: %w", err)
	}

	c.conn = nil
	return nil
}

// GetRaw returns the stored JSON for key. found is false when the key is absent.
func (c *Cache) GetRaw(ctx context.Context, key string) (data []byte, found bool, err error) {
	var value string
	err = c.conn.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read key %s: %w", key, err)
	}
	return []byte(value), true, nil
}

// Get decodes the value stored under key into dst. It returns false without
// touching dst when the key is absent. A stored value that does not decode
// into dst is reported as an error.
func (c *Cache) Get(ctx context.Context, key string, dst any) (bool, error) {
	data, found, err := c.GetRaw(ctx, key)
	if err != nil || !found {
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return true, fmt.Errorf("corrupt value for key %s: %w", key, err)
	}
	return true, nil
}

// Set stores v under key as JSON, replacing any previous value.
func (c *Cache) Set(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal value for key %s: %w", key, err)
	}
	return c.SetRaw(ctx, key, data)
}

// SetRaw stores already encoded JSON under key.
func (c *Cache) SetRaw(ctx context.Context, key string, data []byte) error {
	query := `
	INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at
	`
	_, err := c.conn.ExecContext(ctx, query, key, string(data), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	return nil
}

// Remove deletes key. Removing an absent key is not an error.
func (c *Cache) Remove(ctx context.Context, key string) error {
	if _, err := c.conn.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to remove key %s: %w", key, err)
	}
	return nil
}

// Keys lists every stored key in lexical order.
func (c *Cache) Keys(ctx context.Context) ([]string, error) {
	rows, err := c.conn.QueryContext(ctx, `SELECT key FROM kv ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Stats reports key count, stored bytes and the most recent write time.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Path: c.path}
	var (
		bytes   sql.NullInt64
		updated sql.NullString
	)
	err := c.conn.QueryRowContext(ctx,
		`SELECT COUNT(*), SUM(LENGTH(value)), MAX(updated_at) FROM kv`,
	).Scan(&st.Keys, &bytes, &updated)
	if err != nil {
		return st, fmt.Errorf("failed to read cache stats: %w", err)
	}
	st.Bytes = bytes.Int64
	if updated.Valid {
		if t, err := time.Parse(time.RFC3339Nano, updated.String); err == nil {
			st.UpdatedAt = t
		}
	}
	return st, nil
}
