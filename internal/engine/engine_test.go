package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkuusisto/unifs/internal/client"
	"github.com/mkuusisto/unifs/internal/config"
	"github.com/mkuusisto/unifs/internal/resource"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Cache.Dir = filepath.Join(t.TempDir(), "cache")
	cfg.Store.Path = filepath.Join(t.TempDir(), "credentials.db")

	e, err := New(context.Background(), cfg, testLogger())
	require.NoError(t, err)

	t.Cleanup(func() { e.Close() })

	return e
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLocalRoundTrip(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	ctx := context.Background()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "hello")

	entries, err := e.List(ctx, dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.txt", entries[0].Name)

	var buf bytes.Buffer

	n, err := e.Download(ctx, filepath.Join(dir, "a.txt"), &buf, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.Equal(t, "hello", buf.String())

	err = e.Upload(ctx, filepath.Join(dir, "b.txt"), bytes.NewReader([]byte("world")), 5, false, nil)
	require.NoError(t, err)

	exists, err := e.Exists(ctx, filepath.Join(dir, "b.txt"))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestDeleteMovesToTrashAndUndoRestores(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	ctx := context.Background()

	dir := t.TempDir()
	target := filepath.Join(dir, "doomed.txt")
	writeFile(t, target, "keep me")

	require.NoError(t, e.Delete(ctx, []string{target}))

	_, err := os.Stat(target)
	assert.True(t, os.IsNotExist(err))

	// Still on disk inside a timestamped trash folder.
	matches, err := filepath.Glob(filepath.Join(dir, ".trash_*", "doomed.txt"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	// Trash folders are hidden from listings.
	entries, err := e.List(ctx, dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.True(t, e.UndoAvailable())

	restored, err := e.Undo(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, restored)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "keep me", string(data))

	assert.False(t, e.UndoAvailable())
}

func TestCopyAndUndo(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	ctx := context.Background()

	srcDir := t.TempDir()
	dstDir := t.TempDir()

	writeFile(t, filepath.Join(srcDir, "one.txt"), "1")
	writeFile(t, filepath.Join(srcDir, "two.txt"), "22")

	err := e.Copy(ctx,
		[]string{filepath.Join(srcDir, "one.txt"), filepath.Join(srcDir, "two.txt")},
		dstDir, false, nil)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dstDir, "two.txt"))
	require.NoError(t, err)
	assert.Equal(t, "22", string(data))

	restored, err := e.Undo(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, restored)

	// Copies removed, sources intact.
	_, err = os.Stat(filepath.Join(dstDir, "one.txt"))
	assert.True(t, os.IsNotExist(err))

	_, err = os.Stat(filepath.Join(srcDir, "one.txt"))
	assert.NoError(t, err)
}

func TestMoveAndUndo(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	ctx := context.Background()

	srcDir := t.TempDir()
	dstDir := t.TempDir()

	src := filepath.Join(srcDir, "file.txt")
	writeFile(t, src, "payload")

	require.NoError(t, e.Move(ctx, []string{src}, dstDir, false, nil))

	_, err := os.Stat(src)
	assert.True(t, os.IsNotExist(err))

	restored, err := e.Undo(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, restored)

	data, err := os.ReadFile(src)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestRenameAndUndo(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	ctx := context.Background()

	dir := t.TempDir()
	old := filepath.Join(dir, "old.txt")
	writeFile(t, old, "x")

	require.NoError(t, e.Rename(ctx, old, "new.txt"))

	_, err := os.Stat(filepath.Join(dir, "new.txt"))
	require.NoError(t, err)

	restored, err := e.Undo(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, restored)

	_, err = os.Stat(old)
	assert.NoError(t, err)
}

func TestResourceLifecycle(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	ctx := context.Background()

	r, err := e.AddResource(ctx, "sftp://nas.local/backups", "", true)
	require.NoError(t, err)
	assert.Equal(t, resource.KindSFTP, r.Kind)
	assert.NotEmpty(t, r.ID)

	list, err := e.ListResources(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, e.SetResourceConcurrency(ctx, r.ID, 2))

	list, err = e.ListResources(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, list[0].RecommendedConcurrency)

	require.NoError(t, e.RemoveResource(ctx, r.ID))

	list, err = e.ListResources(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

// fakeCloud is an in-memory cloud client with auth bookkeeping so the
// engine's cache and re-auth paths can be observed.
type fakeCloud struct {
	mu        sync.Mutex
	files     map[string]string
	modTime   time.Time
	downloads int

	authed    bool
	expireOne bool // next Download fails with an expired session
}

func newFakeCloud() *fakeCloud {
	return &fakeCloud{
		files:   map[string]string{},
		modTime: time.Now().Truncate(time.Second),
		authed:  true,
	}
}

func (f *fakeCloud) Scheme() resource.Kind { return resource.KindCloud }

func (f *fakeCloud) Authenticate(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.authed = true

	return nil
}

func (f *fakeCloud) IsAuthenticated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.authed
}

func (f *fakeCloud) SignOut(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.authed = false

	return nil
}

func (f *fakeCloud) List(context.Context, resource.Location) ([]client.FileInfo, error) {
	return nil, nil
}

func (f *fakeCloud) Stat(_ context.Context, loc resource.Location) (client.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.files[loc.Path]
	if !ok {
		return client.FileInfo{}, client.ErrNotFound
	}

	return client.FileInfo{Name: loc.Path, Path: loc.String(), Size: int64(len(data)), ModTime: f.modTime}, nil
}

func (f *fakeCloud) Exists(ctx context.Context, loc resource.Location) (bool, error) {
	_, err := f.Stat(ctx, loc)
	if errors.Is(err, client.ErrNotFound) {
		return false, nil
	}

	return err == nil, err
}

func (f *fakeCloud) Download(_ context.Context, loc resource.Location, w io.Writer, _ client.Progress) (int64, error) {
	f.mu.Lock()

	if f.expireOne {
		f.expireOne = false
		f.authed = false
		f.mu.Unlock()

		return 0, client.ErrAuthExpired
	}

	f.downloads++
	data := f.files[loc.Path]
	f.mu.Unlock()

	n, err := io.WriteString(w, data)

	return int64(n), err
}

func (f *fakeCloud) Upload(_ context.Context, loc resource.Location, r io.Reader, _ int64, _ bool, _ client.Progress) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.files[loc.Path] = string(data)
	f.mu.Unlock()

	return nil
}

func (f *fakeCloud) Mkdir(context.Context, resource.Location) error { return nil }

func (f *fakeCloud) Delete(_ context.Context, loc resource.Location) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.files, loc.Path)

	return nil
}

func (f *fakeCloud) Rename(context.Context, resource.Location, string) error {
	return client.ErrUnsupported
}

func (f *fakeCloud) Move(_ context.Context, src, dst resource.Location) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.files[dst.Path] = f.files[src.Path]
	delete(f.files, src.Path)

	return nil
}

func (f *fakeCloud) Copy(context.Context, resource.Location, resource.Location) error {
	return client.ErrUnsupported
}

func TestCloudDownloadPopulatesCache(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	ctx := context.Background()

	fc := newFakeCloud()
	fc.files["docs/report.txt"] = "cached content"

	e.RegisterCloud("work", fc)

	var first bytes.Buffer

	n, err := e.Download(ctx, "cloud://work/docs/report.txt", &first, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(len("cached content")), n)

	var second bytes.Buffer

	_, err = e.Download(ctx, "cloud://work/docs/report.txt", &second, nil)
	require.NoError(t, err)
	assert.Equal(t, "cached content", second.String())

	assert.Equal(t, 1, fc.downloads, "second read must come from the cache")
}

func TestCloudExpiredSessionRetriedOnce(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	ctx := context.Background()

	fc := newFakeCloud()
	fc.files["f"] = "data"
	fc.expireOne = true

	e.RegisterCloud("work", fc)

	var buf bytes.Buffer

	_, err := e.Download(ctx, "cloud://work/f", &buf, nil)
	require.NoError(t, err)
	assert.Equal(t, "data", buf.String())
	assert.True(t, fc.IsAuthenticated())
}
