// Package fs implements cache.Backend on the local filesystem, with a
// sqlite-backed metadata and LRU index (internal/db's cache_entries
// table) sitting alongside content-addressed blob files. Writes are
// atomic (temp file + fsync + rename) so a crash mid-write never leaves
// a corrupt blob visible to readers.
package fs

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/dddepg/subtrans/internal/cache"
)

const timeLayout = time.RFC3339Nano

// Backend stores blobs under baseDir/<namespace>/<sha256(key)>.blob and
// tracks size/TTL/access metadata in the cache_entries table of db.
type Backend struct {
	baseDir string
	db      *sql.DB
	limits  map[cache.Namespace]int64 // bytes; 0 or absent means unlimited
}

// New constructs a Backend rooted at baseDir, using db (opened via
// internal/db.Open, which has already run migrations) for its metadata
// index. limits bounds per-namespace total size for LRU eviction.
func New(baseDir string, database *sql.DB, limits map[cache.Namespace]int64) (*Backend, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("fs cache: create base dir: %w", err)
	}
	if limits == nil {
		limits = map[cache.Namespace]int64{}
	}
	return &Backend{baseDir: baseDir, db: database, limits: limits}, nil
}

// blobPath hashes key to a fixed-length hex filename so caller-supplied
// keys (fingerprints, request IDs) can never escape the namespace
// directory via "..", separators, or other path metacharacters.
func (b *Backend) blobPath(ns cache.Namespace, key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(b.baseDir, string(ns), hex.EncodeToString(sum[:])+".blob")
}

func (b *Backend) Get(ctx context.Context, ns cache.Namespace, key string) ([]byte, error) {
	var ttlSeconds sql.NullInt64
	var createdAt string
	err := b.db.QueryRowContext(ctx,
		`SELECT created_at, ttl_seconds FROM cache_entries WHERE namespace = ? AND key = ?`,
		string(ns), key,
	).Scan(&createdAt, &ttlSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cache.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fs cache: query metadata: %w", err)
	}

	if ttlSeconds.Valid {
		created, perr := time.Parse(timeLayout, createdAt)
		if perr == nil && time.Since(created) > time.Duration(ttlSeconds.Int64)*time.Second {
			_ = b.Delete(ctx, ns, key)
			return nil, cache.ErrNotFound
		}
	}

	data, err := os.ReadFile(b.blobPath(ns, key))
	if errors.Is(err, os.ErrNotExist) {
		// Metadata row survived without its blob; treat as a miss and
		// drop the stale row.
		_ = b.Delete(ctx, ns, key)
		return nil, cache.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fs cache: read blob: %w", err)
	}

	now := time.Now().UTC().Format(timeLayout)
	if _, err := b.db.ExecContext(ctx,
		`UPDATE cache_entries SET last_access_at = ? WHERE namespace = ? AND key = ?`,
		now, string(ns), key,
	); err != nil {
		return nil, fmt.Errorf("fs cache: touch metadata: %w", err)
	}

	return data, nil
}

func (b *Backend) Set(ctx context.Context, ns cache.Namespace, key string, value []byte, ttl time.Duration) error {
	blobPath := b.blobPath(ns, key)
	if err := os.MkdirAll(filepath.Dir(blobPath), 0o755); err != nil {
		return fmt.Errorf("fs cache: create namespace dir: %w", err)
	}
	if err := atomicWrite(blobPath, value); err != nil {
		return fmt.Errorf("fs cache: write blob: %w", err)
	}

	now := time.Now().UTC().Format(timeLayout)
	var ttlSeconds sql.NullInt64
	if ttl > 0 {
		ttlSeconds = sql.NullInt64{Int64: int64(ttl.Seconds()), Valid: true}
	}
	if _, err := b.db.ExecContext(ctx,
		`INSERT INTO cache_entries (namespace, key, size, created_at, last_access_at, ttl_seconds)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(namespace, key) DO UPDATE SET
		   size = excluded.size, created_at = excluded.created_at,
		   last_access_at = excluded.last_access_at, ttl_seconds = excluded.ttl_seconds`,
		string(ns), key, len(value), now, now, ttlSeconds,
	); err != nil {
		_ = os.Remove(blobPath)
		return fmt.Errorf("fs cache: write metadata: %w", err)
	}

	return b.evict(ctx, ns)
}

// atomicWrite writes data to a temp file in the same directory as path,
// fsyncs it, then renames it into place so a crash never leaves a
// half-written blob visible to readers.
func atomicWrite(target string, data []byte) error {
	dir := filepath.Dir(target)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, target)
}

// evict trims ns down to 80% of its configured limit, removing the least
// recently accessed entries first, per spec §4.2.
func (b *Backend) evict(ctx context.Context, ns cache.Namespace) error {
	limit, ok := b.limits[ns]
	if !ok || limit <= 0 {
		return nil
	}
	total, err := b.Size(ctx, ns)
	if err != nil {
		return err
	}
	if total <= limit {
		return nil
	}
	target := int64(float64(limit) * 0.8)

	rows, err := b.db.QueryContext(ctx,
		`SELECT key, size FROM cache_entries WHERE namespace = ? ORDER BY last_access_at ASC`,
		string(ns),
	)
	if err != nil {
		return fmt.Errorf("fs cache: query for eviction: %w", err)
	}
	defer rows.Close()

	type victim struct {
		key  string
		size int64
	}
	var victims []victim
	for rows.Next() {
		var v victim
		if err := rows.Scan(&v.key, &v.size); err != nil {
			return err
		}
		victims = append(victims, v)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, v := range victims {
		if total <= target {
			break
		}
		if err := b.Delete(ctx, ns, v.key); err != nil {
			return err
		}
		total -= v.size
	}
	return nil
}

func (b *Backend) Delete(ctx context.Context, ns cache.Namespace, key string) error {
	if _, err := b.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE namespace = ? AND key = ?`,
		string(ns), key,
	); err != nil {
		return fmt.Errorf("fs cache: delete metadata: %w", err)
	}
	if err := os.Remove(b.blobPath(ns, key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("fs cache: delete blob: %w", err)
	}
	return nil
}

func (b *Backend) List(ctx context.Context, ns cache.Namespace, pattern string) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT key FROM cache_entries WHERE namespace = ?`, string(ns))
	if err != nil {
		return nil, fmt.Errorf("fs cache: list: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		if pattern == "" {
			keys = append(keys, key)
			continue
		}
		if ok, _ := path.Match(pattern, key); ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, rows.Err()
}

func (b *Backend) Size(ctx context.Context, ns cache.Namespace) (int64, error) {
	var total sql.NullInt64
	err := b.db.QueryRowContext(ctx,
		`SELECT SUM(size) FROM cache_entries WHERE namespace = ?`, string(ns),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("fs cache: size: %w", err)
	}
	return total.Int64, nil
}

func (b *Backend) Metadata(ctx context.Context, ns cache.Namespace, key string) (cache.Metadata, error) {
	var size int64
	var createdAt, lastAccessAt string
	var ttlSeconds sql.NullInt64
	err := b.db.QueryRowContext(ctx,
		`SELECT size, created_at, last_access_at, ttl_seconds FROM cache_entries WHERE namespace = ? AND key = ?`,
		string(ns), key,
	).Scan(&size, &createdAt, &lastAccessAt, &ttlSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return cache.Metadata{}, cache.ErrNotFound
	}
	if err != nil {
		return cache.Metadata{}, fmt.Errorf("fs cache: metadata: %w", err)
	}

	created, _ := time.Parse(timeLayout, createdAt)
	lastAccess, _ := time.Parse(timeLayout, lastAccessAt)
	var ttl time.Duration
	if ttlSeconds.Valid {
		ttl = time.Duration(ttlSeconds.Int64) * time.Second
	}
	return cache.Metadata{
		Namespace:    ns,
		Key:          key,
		Size:         size,
		CreatedAt:    created,
		LastAccessAt: lastAccess,
		TTL:          ttl,
	}, nil
}

func (b *Backend) Cleanup(ctx context.Context, ns cache.Namespace) error {
	rows, err := b.db.QueryContext(ctx,
		`SELECT key, created_at, ttl_seconds FROM cache_entries WHERE namespace = ? AND ttl_seconds IS NOT NULL`,
		string(ns),
	)
	if err != nil {
		return fmt.Errorf("fs cache: cleanup query: %w", err)
	}
	type expired struct{ key string }
	var toDelete []expired
	now := time.Now()
	for rows.Next() {
		var key, createdAt string
		var ttlSeconds int64
		if err := rows.Scan(&key, &createdAt, &ttlSeconds); err != nil {
			rows.Close()
			return err
		}
		created, perr := time.Parse(timeLayout, createdAt)
		if perr == nil && now.Sub(created) > time.Duration(ttlSeconds)*time.Second {
			toDelete = append(toDelete, expired{key: key})
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, e := range toDelete {
		if err := b.Delete(ctx, ns, e.key); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) HealthCheck(ctx context.Context) error {
	if err := b.db.PingContext(ctx); err != nil {
		return fmt.Errorf("fs cache: db ping: %w", err)
	}
	if _, err := os.Stat(b.baseDir); err != nil {
		return fmt.Errorf("fs cache: base dir: %w", err)
	}
	return nil
}

func (b *Backend) Close() error { return nil }
