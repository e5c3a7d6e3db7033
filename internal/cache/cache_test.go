package cache

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMod = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestCache(t *testing.T, maxBytes int64) *Cache {
	t.Helper()

	c, err := New(t.TempDir(), maxBytes, 0, nil)
	require.NoError(t, err)

	return c
}

func TestPutGet_RoundTrip(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, 1<<20)

	content := []byte("remote file bytes")

	n, err := c.Put(context.Background(), "smb://nas/share/a.txt", testMod, bytes.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), n)

	got, ok, err := c.Get("smb://nas/share/a.txt", testMod)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, content, got)
}

func TestGet_ModTimeChangeIsMiss(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, 1<<20)

	_, err := c.Put(context.Background(), "a", testMod, strings.NewReader("v1"))
	require.NoError(t, err)

	_, ok, err := c.Get("a", testMod.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, ok, "changed modTime must be a miss")

	_, ok, err = c.Get("b", testMod)
	require.NoError(t, err)
	assert.False(t, ok, "different path must be a miss")
}

func TestEviction_HysteresisAndOrder(t *testing.T) {
	t.Parallel()

	const ceiling = 1000

	c := newTestCache(t, ceiling)

	// Ten 100-byte entries fill the cache exactly.
	for i := range 10 {
		_, err := c.Put(context.Background(), fmt.Sprintf("f%02d", i), testMod, bytes.NewReader(make([]byte, 100)))
		require.NoError(t, err)
	}

	// Touch the two oldest so they become the newest.
	for _, p := range []string{"f00", "f01"} {
		_, ok, err := c.Get(p, testMod)
		require.NoError(t, err)
		require.True(t, ok)
	}

	// One more put crosses the ceiling and triggers eviction to <= 80%.
	_, err := c.Put(context.Background(), "f10", testMod, bytes.NewReader(make([]byte, 100)))
	require.NoError(t, err)

	stats := c.Stats()
	assert.LessOrEqual(t, stats.TotalBytes, int64(float64(ceiling)*evictTarget))

	// The touched entries survived; the untouched oldest (f02, f03, f04) went.
	for _, p := range []string{"f00", "f01", "f10"} {
		_, ok, getErr := c.Get(p, testMod)
		require.NoError(t, getErr)
		assert.True(t, ok, "recently touched entry %s must survive", p)
	}

	for _, p := range []string{"f02", "f03", "f04"} {
		_, ok, getErr := c.Get(p, testMod)
		require.NoError(t, getErr)
		assert.False(t, ok, "oldest entry %s must be evicted", p)
	}
}

func TestGet_TTLExpiryIsMiss(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir(), 1<<20, time.Hour, nil)
	require.NoError(t, err)

	_, err = c.Put(context.Background(), "a", testMod, strings.NewReader("stale soon"))
	require.NoError(t, err)

	// Jump the clock past the TTL.
	c.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	_, ok, err := c.Get("a", testMod)
	require.NoError(t, err)
	assert.False(t, ok, "expired entry must read as a miss")

	assert.Equal(t, 0, c.Stats().Count, "expired entry is deleted lazily")
}

func TestRebuild_SurvivesRestart(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	c1, err := New(dir, 1<<20, 0, nil)
	require.NoError(t, err)

	_, err = c1.Put(context.Background(), "persisted", testMod, strings.NewReader("still here"))
	require.NoError(t, err)

	c2, err := New(dir, 1<<20, 0, nil)
	require.NoError(t, err)

	got, ok, err := c2.Get("persisted", testMod)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "still here", string(got))
	assert.Equal(t, 1, c2.Stats().Count)
}

func TestInvalidatePrefix(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, 1<<20)

	for _, p := range []string{"smb://nas/share/a", "smb://nas/share/b", "sftp://host/c"} {
		_, err := c.Put(context.Background(), p, testMod, strings.NewReader("x"))
		require.NoError(t, err)
	}

	removed := c.InvalidatePrefix("smb://nas/share/")
	assert.Equal(t, 2, removed)

	_, ok, err := c.Get("sftp://host/c", testMod)
	require.NoError(t, err)
	assert.True(t, ok, "other resources keep their entries")
}

func TestClearAll(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, 1<<20)

	_, err := c.Put(context.Background(), "a", testMod, strings.NewReader("x"))
	require.NoError(t, err)

	c.ClearAll()

	stats := c.Stats()
	assert.Equal(t, 0, stats.Count)
	assert.Equal(t, int64(0), stats.TotalBytes)
}

func TestConcurrentPutGet(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, 1<<20)

	var wg sync.WaitGroup

	for i := range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			path := fmt.Sprintf("p%d", i)

			for range 20 {
				_, err := c.Put(context.Background(), path, testMod, strings.NewReader(path))
				assert.NoError(t, err)

				data, ok, err := c.Get(path, testMod)
				assert.NoError(t, err)

				if ok {
					assert.Equal(t, path, string(data))
				}
			}
		}()
	}

	wg.Wait()
}
