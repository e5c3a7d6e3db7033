// Package cache is the disk-backed content cache for remote file bytes.
// Entries are keyed by a hash of "path|modTime", so any change to either is
// a miss by construction. An in-memory LRU index orders entries by last
// touch; on-disk blobs carry JSON sidecars so the index can be rebuilt
// after a restart.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/simplelru"
)

const (
	// DefaultMaxBytes is the on-disk ceiling when the config gives none.
	DefaultMaxBytes = 512 << 20

	// DefaultTTL invalidates entries a day after they were stored; remote
	// content older than that is re-fetched rather than trusted.
	DefaultTTL = 24 * time.Hour

	// evictTarget is the hysteresis fraction: eviction runs until usage is
	// at or below this share of the ceiling, so a put near the boundary
	// does not evict on every single write.
	evictTarget = 0.8

	// indexCapacity caps index entries. Byte-based eviction fires long
	// before this count in practice; the LRU just needs a bound.
	indexCapacity = 1 << 20

	blobSuffix = ".blob"
	metaSuffix = ".meta"

	filePerms = 0o600
	dirPerms  = 0o700
)

// Stats is a point-in-time summary of cache usage.
type Stats struct {
	Count      int
	TotalBytes int64
	MaxBytes   int64
}

// meta is the sidecar format stored next to each blob.
type meta struct {
	Path     string    `json:"path"`
	ModTime  time.Time `json:"mod_time"`
	Size     int64     `json:"size"`
	StoredAt time.Time `json:"stored_at"`
}

// Cache is safe for concurrent use. Blob writes stage to a temp name and
// rename into place, so readers never observe a half-written entry.
type Cache struct {
	dir      string
	maxBytes int64
	ttl      time.Duration
	logger   *slog.Logger

	mu    sync.Mutex
	index *lru.LRU[string, meta]
	total int64

	// now is swappable for TTL tests.
	now func() time.Time
}

// New opens (or creates) the cache directory and rebuilds the index from
// the sidecars found there, ordered by blob modification time so LRU order
// survives restarts.
func New(dir string, maxBytes int64, ttl time.Duration, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}

	if err := os.MkdirAll(dir, dirPerms); err != nil {
		return nil, fmt.Errorf("cache: creating directory %s: %w", dir, err)
	}

	c := &Cache{
		dir:      dir,
		maxBytes: maxBytes,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
	}

	index, err := lru.NewLRU[string, meta](indexCapacity, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("cache: creating index: %w", err)
	}

	c.index = index

	if err := c.rebuild(); err != nil {
		return nil, err
	}

	return c, nil
}

// Key returns the cache key for (path, modTime): hex SHA-256 over
// "path|unix-milli".
func Key(path string, modTime time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", path, modTime.UnixMilli())))

	return hex.EncodeToString(sum[:])
}

// Get returns the cached bytes for (path, modTime), or (nil, false, nil) on
// a miss. An entry older than the TTL counts as a miss and is deleted
// lazily, even if its blob still exists on disk.
func (c *Cache) Get(path string, modTime time.Time) ([]byte, bool, error) {
	key := Key(path, modTime)

	c.mu.Lock()

	m, ok := c.index.Get(key) // Get marks the entry most recently used
	if !ok {
		c.mu.Unlock()

		return nil, false, nil
	}

	if c.now().Sub(m.StoredAt) > c.ttl {
		c.index.Remove(key) // onEvict deletes the files
		c.mu.Unlock()

		c.logger.Debug("cache entry expired",
			slog.String("path", path),
		)

		return nil, false, nil
	}

	c.mu.Unlock()

	data, err := os.ReadFile(c.blobPath(key))
	if errors.Is(err, os.ErrNotExist) {
		// Blob vanished underneath the index (external cleanup); drop it.
		c.mu.Lock()
		c.index.Remove(key)
		c.mu.Unlock()

		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("cache: reading %s: %w", key, err)
	}

	// Touch the blob so restart-rebuilt LRU order tracks real use.
	touch := c.now()
	_ = os.Chtimes(c.blobPath(key), touch, touch)

	return data, true, nil
}

// Put stores the stream under (path, modTime) and runs eviction if the
// ceiling is exceeded. Returns the stored byte count.
func (c *Cache) Put(ctx context.Context, path string, modTime time.Time, r io.Reader) (int64, error) {
	key := Key(path, modTime)

	blob := c.blobPath(key)
	tmp := blob + ".tmp"

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePerms)
	if err != nil {
		return 0, fmt.Errorf("cache: staging %s: %w", key, err)
	}

	size, copyErr := io.Copy(f, r)

	if closeErr := f.Close(); copyErr == nil {
		copyErr = closeErr
	}

	if copyErr == nil && ctx.Err() != nil {
		copyErr = ctx.Err()
	}

	if copyErr != nil {
		os.Remove(tmp)

		return 0, fmt.Errorf("cache: writing %s: %w", key, copyErr)
	}

	m := meta{Path: path, ModTime: modTime, Size: size, StoredAt: c.now()}

	if err := c.writeMeta(key, m); err != nil {
		os.Remove(tmp)

		return 0, err
	}

	if err := os.Rename(tmp, blob); err != nil {
		os.Remove(tmp)
		os.Remove(c.metaPath(key))

		return 0, fmt.Errorf("cache: committing %s: %w", key, err)
	}

	c.mu.Lock()

	if old, ok := c.index.Peek(key); ok {
		c.total -= old.Size
	}

	c.index.Add(key, m)
	c.total += size

	c.evictLocked()
	c.mu.Unlock()

	c.logger.Debug("cache entry stored",
		slog.String("path", path),
		slog.Int64("size", size),
	)

	return size, nil
}

// Invalidate removes the entry for (path, modTime) if present.
func (c *Cache) Invalidate(path string, modTime time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.index.Remove(Key(path, modTime))
}

// InvalidatePrefix removes every entry whose path starts with prefix. Used
// when a resource is deleted so its cached content goes with it.
func (c *Cache) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var doomed []string

	for _, key := range c.index.Keys() {
		if m, ok := c.index.Peek(key); ok && strings.HasPrefix(m.Path, prefix) {
			doomed = append(doomed, key)
		}
	}

	for _, key := range doomed {
		c.index.Remove(key)
	}

	return len(doomed)
}

// ClearAll removes every entry.
func (c *Cache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.index.Purge()
	c.total = 0
}

// Stats reports current usage.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{Count: c.index.Len(), TotalBytes: c.total, MaxBytes: c.maxBytes}
}

// evictLocked removes least-recently-touched entries until usage is at or
// below evictTarget of the ceiling. Caller holds c.mu.
func (c *Cache) evictLocked() {
	if c.total <= c.maxBytes {
		return
	}

	target := int64(float64(c.maxBytes) * evictTarget)

	var evicted int

	for c.total > target {
		if _, _, ok := c.index.RemoveOldest(); !ok {
			break
		}

		evicted++
	}

	c.logger.Info("cache evicted entries",
		slog.Int("evicted", evicted),
		slog.Int64("total_bytes", c.total),
		slog.Int64("max_bytes", c.maxBytes),
	)
}

// onEvict runs inside index mutations (c.mu held): adjust the byte total
// and delete the files.
func (c *Cache) onEvict(key string, m meta) {
	c.total -= m.Size

	os.Remove(c.blobPath(key))
	os.Remove(c.metaPath(key))
}

// rebuild scans the cache directory and repopulates the index. Blobs are
// inserted in ascending mtime order so the oldest-touched entries sit at
// the LRU end. Sidecar-less blobs are deleted as unreadable.
func (c *Cache) rebuild() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("cache: scanning %s: %w", c.dir, err)
	}

	type found struct {
		key   string
		m     meta
		touch time.Time
	}

	var blobs []found

	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, blobSuffix) {
			continue
		}

		key := strings.TrimSuffix(name, blobSuffix)

		m, metaErr := c.readMeta(key)
		if metaErr != nil {
			c.logger.Warn("dropping cache blob without readable sidecar",
				slog.String("key", key),
			)

			os.Remove(c.blobPath(key))
			os.Remove(c.metaPath(key))

			continue
		}

		fi, statErr := e.Info()
		touch := m.StoredAt

		if statErr == nil {
			touch = fi.ModTime()
		}

		blobs = append(blobs, found{key: key, m: m, touch: touch})
	}

	sort.Slice(blobs, func(i, j int) bool { return blobs[i].touch.Before(blobs[j].touch) })

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, b := range blobs {
		c.index.Add(b.key, b.m)
		c.total += b.m.Size
	}

	if len(blobs) > 0 {
		c.logger.Info("cache index rebuilt",
			slog.Int("entries", len(blobs)),
			slog.Int64("total_bytes", c.total),
		)
	}

	return nil
}

func (c *Cache) blobPath(key string) string {
	return filepath.Join(c.dir, key+blobSuffix)
}

func (c *Cache) metaPath(key string) string {
	return filepath.Join(c.dir, key+metaSuffix)
}

func (c *Cache) writeMeta(key string, m meta) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("cache: encoding sidecar %s: %w", key, err)
	}

	tmp := c.metaPath(key) + ".tmp"

	if err := os.WriteFile(tmp, data, filePerms); err != nil {
		return fmt.Errorf("cache: writing sidecar %s: %w", key, err)
	}

	if err := os.Rename(tmp, c.metaPath(key)); err != nil {
		os.Remove(tmp)

		return fmt.Errorf("cache: committing sidecar %s: %w", key, err)
	}

	return nil
}

func (c *Cache) readMeta(key string) (meta, error) {
	data, err := os.ReadFile(c.metaPath(key))
	if err != nil {
		return meta{}, err
	}

	var m meta
	if err := json.Unmarshal(data, &m); err != nil {
		return meta{}, err
	}

	return m, nil
}
