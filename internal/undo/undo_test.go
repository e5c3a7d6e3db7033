package undo

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkuusisto/unifs/internal/client"
	"github.com/mkuusisto/unifs/internal/resource"
)

// fakeClient is a path-keyed in-memory store. Directories are implicit:
// Mkdir records them so List and Delete behave.
type fakeClient struct {
	mu    sync.Mutex
	files map[string]string
	dirs  map[string]bool

	moveErr map[string]error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		files:   map[string]string{},
		dirs:    map[string]bool{},
		moveErr: map[string]error{},
	}
}

func (f *fakeClient) Scheme() resource.Kind { return resource.KindLocal }

func (f *fakeClient) List(_ context.Context, loc resource.Location) ([]client.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []client.FileInfo

	prefix := loc.Path + "/"
	for p := range f.files {
		if strings.HasPrefix(p, prefix) {
			out = append(out, client.FileInfo{Name: path.Base(p), Path: p})
		}
	}

	return out, nil
}

func (f *fakeClient) Stat(_ context.Context, loc resource.Location) (client.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.files[loc.Path]; !ok {
		return client.FileInfo{}, client.ErrNotFound
	}

	return client.FileInfo{Name: path.Base(loc.Path), Path: loc.Path}, nil
}

func (f *fakeClient) Exists(ctx context.Context, loc resource.Location) (bool, error) {
	_, err := f.Stat(ctx, loc)
	if errors.Is(err, client.ErrNotFound) {
		return false, nil
	}

	return err == nil, err
}

func (f *fakeClient) Download(context.Context, resource.Location, io.Writer, client.Progress) (int64, error) {
	return 0, client.ErrUnsupported
}

func (f *fakeClient) Upload(context.Context, resource.Location, io.Reader, int64, bool, client.Progress) error {
	return client.ErrUnsupported
}

func (f *fakeClient) Mkdir(_ context.Context, loc resource.Location) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.dirs[loc.Path] = true

	return nil
}

func (f *fakeClient) Delete(_ context.Context, loc resource.Location) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.files[loc.Path]; ok {
		delete(f.files, loc.Path)

		return nil
	}

	if f.dirs[loc.Path] {
		delete(f.dirs, loc.Path)

		return nil
	}

	return client.ErrNotFound
}

func (f *fakeClient) Rename(_ context.Context, loc resource.Location, newName string) error {
	dst := loc
	dst.Path = path.Join(path.Dir(loc.Path), newName)

	return f.Move(context.Background(), loc, dst)
}

func (f *fakeClient) Move(_ context.Context, src, dst resource.Location) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.moveErr[src.Path]; err != nil {
		return err
	}

	data, ok := f.files[src.Path]
	if !ok {
		return client.ErrNotFound
	}

	f.files[dst.Path] = data
	delete(f.files, src.Path)

	return nil
}

func (f *fakeClient) Copy(_ context.Context, src, dst resource.Location) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.files[src.Path]
	if !ok {
		return client.ErrNotFound
	}

	f.files[dst.Path] = data

	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func loc(p string) resource.Location {
	return resource.Location{Kind: resource.KindLocal, Path: p}
}

func managerWith(fc *fakeClient, opts ...Option) *Manager {
	return NewManager(func(context.Context, resource.Location) (client.Client, error) {
		return fc, nil
	}, testLogger(), opts...)
}

func TestSaveOverwritesPreviousRecord(t *testing.T) {
	t.Parallel()

	fc := newFakeClient()
	fc.files["a"] = "1"
	fc.files["b"] = "2"

	m := managerWith(fc)

	m.Save(OpCopy, []Entry{{Source: loc("x"), Dest: loc("a")}})
	m.Save(OpCopy, []Entry{{Source: loc("y"), Dest: loc("b")}})

	restored, err := m.Undo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, restored)

	// Only the second record's destination was removed.
	assert.Contains(t, fc.files, "a")
	assert.NotContains(t, fc.files, "b")
}

func TestUndoWindowExpires(t *testing.T) {
	t.Parallel()

	fc := newFakeClient()
	m := managerWith(fc)

	current := time.Now()
	m.now = func() time.Time { return current }

	m.Save(OpCopy, []Entry{{Source: loc("x"), Dest: loc("a")}})
	assert.True(t, m.Available())

	current = current.Add(11 * time.Second)
	assert.False(t, m.Available())

	_, err := m.Undo(context.Background())
	require.ErrorIs(t, err, ErrNothingToUndo)
}

func TestUndoConsumesSlot(t *testing.T) {
	t.Parallel()

	fc := newFakeClient()
	fc.files["dst"] = "1"

	m := managerWith(fc)
	m.Save(OpCopy, []Entry{{Source: loc("src"), Dest: loc("dst")}})

	_, err := m.Undo(context.Background())
	require.NoError(t, err)

	assert.False(t, m.Available())

	_, err = m.Undo(context.Background())
	require.ErrorIs(t, err, ErrNothingToUndo)
}

func TestUndoMoveRestoresSources(t *testing.T) {
	t.Parallel()

	fc := newFakeClient()
	fc.files["moved/a"] = "1"
	fc.files["moved/b"] = "2"

	m := managerWith(fc)
	m.Save(OpMove, []Entry{
		{Source: loc("orig/a"), Dest: loc("moved/a")},
		{Source: loc("orig/b"), Dest: loc("moved/b")},
	})

	restored, err := m.Undo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, restored)

	assert.Contains(t, fc.files, "orig/a")
	assert.Contains(t, fc.files, "orig/b")
}

func TestUndoMovePartialFailureReportsCount(t *testing.T) {
	t.Parallel()

	fc := newFakeClient()
	fc.files["moved/a"] = "1"
	fc.files["moved/b"] = "2"
	fc.moveErr["moved/b"] = client.ErrTransport

	m := managerWith(fc)
	m.Save(OpMove, []Entry{
		{Source: loc("orig/a"), Dest: loc("moved/a")},
		{Source: loc("orig/b"), Dest: loc("moved/b")},
	})

	restored, err := m.Undo(context.Background())
	require.ErrorIs(t, err, client.ErrTransport)
	assert.Equal(t, 1, restored)
	assert.Contains(t, fc.files, "orig/a")
}

func TestDeleteUndoRoundTrip(t *testing.T) {
	t.Parallel()

	fc := newFakeClient()
	fc.files["docs/report.txt"] = "content"

	m := managerWith(fc)
	ctx := context.Background()

	trashLoc, err := m.MoveToTrash(ctx, fc, loc("docs/report.txt"))
	require.NoError(t, err)

	assert.NotContains(t, fc.files, "docs/report.txt")
	assert.True(t, strings.Contains(trashLoc.Path, ".trash_"))
	assert.Equal(t, "report.txt", path.Base(trashLoc.Path))

	m.Save(OpDelete, []Entry{{Source: loc("docs/report.txt"), Dest: trashLoc}})

	restored, err := m.Undo(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, restored)

	assert.Equal(t, "content", fc.files["docs/report.txt"])

	// Emptied trash folder is removed with the restore.
	trashDir := path.Dir(trashLoc.Path)
	assert.False(t, fc.dirs[trashDir])
}

func TestSweepRemovesOldTrashFolders(t *testing.T) {
	t.Parallel()

	fc := newFakeClient()
	fc.files["docs/old.txt"] = "x"
	fc.files["docs/new.txt"] = "y"

	m := managerWith(fc)

	current := time.Now()
	m.now = func() time.Time { return current }

	_, err := m.MoveToTrash(context.Background(), fc, loc("docs/old.txt"))
	require.NoError(t, err)

	current = current.Add(6 * time.Minute)

	_, err = m.MoveToTrash(context.Background(), fc, loc("docs/new.txt"))
	require.NoError(t, err)

	m.Sweep(context.Background())

	m.mu.Lock()
	remaining := len(m.trash)
	m.mu.Unlock()

	assert.Equal(t, 1, remaining, "fresh trash folder survives the sweep")
}

func TestIsTrashPath(t *testing.T) {
	t.Parallel()

	assert.True(t, IsTrashPath("docs/.trash_1725000000000/report.txt"))
	assert.True(t, IsTrashPath(".trash_1/x"))
	assert.False(t, IsTrashPath("docs/report.txt"))
	assert.False(t, IsTrashPath("docs/trash_backup/x"))
}
