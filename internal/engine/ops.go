package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mkuusisto/unifs/internal/client"
	"github.com/mkuusisto/unifs/internal/resource"
	"github.com/mkuusisto/unifs/internal/throttle"
	"github.com/mkuusisto/unifs/internal/transfer"
	"github.com/mkuusisto/unifs/internal/undo"
)

// List returns the entries under p, hiding trash folders.
func (e *Engine) List(ctx context.Context, p string) ([]client.FileInfo, error) {
	loc, err := resource.Parse(p)
	if err != nil {
		return nil, err
	}

	var entries []client.FileInfo

	err = e.run(ctx, loc, throttle.High, func(ctx context.Context, c client.Client) error {
		var listErr error
		entries, listErr = c.List(ctx, loc)

		return listErr
	})
	if err != nil {
		return nil, err
	}

	out := entries[:0]

	for _, fi := range entries {
		if undo.IsTrashPath(fi.Name) {
			continue
		}

		out = append(out, fi)
	}

	return out, nil
}

func (e *Engine) Stat(ctx context.Context, p string) (client.FileInfo, error) {
	loc, err := resource.Parse(p)
	if err != nil {
		return client.FileInfo{}, err
	}

	var fi client.FileInfo

	err = e.run(ctx, loc, throttle.High, func(ctx context.Context, c client.Client) error {
		var statErr error
		fi, statErr = c.Stat(ctx, loc)

		return statErr
	})

	return fi, err
}

func (e *Engine) Exists(ctx context.Context, p string) (bool, error) {
	_, err := e.Stat(ctx, p)
	if errors.Is(err, client.ErrNotFound) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	return true, nil
}

// Download streams p to w. Remote reads check the content cache first and
// populate it on a miss, keyed on path plus modification time so a
// changed remote file never serves stale bytes.
func (e *Engine) Download(ctx context.Context, p string, w io.Writer, progress client.Progress) (int64, error) {
	loc, err := resource.Parse(p)
	if err != nil {
		return 0, err
	}

	if !loc.Kind.Remote() {
		var n int64

		err = e.run(ctx, loc, throttle.Normal, func(ctx context.Context, c client.Client) error {
			var dlErr error
			n, dlErr = c.Download(ctx, loc, w, progress)

			return dlErr
		})

		return n, err
	}

	fi, err := e.Stat(ctx, p)
	if err != nil {
		return 0, err
	}

	canonical := loc.String()

	if data, ok, cacheErr := e.cache.Get(canonical, fi.ModTime); cacheErr == nil && ok {
		written, writeErr := w.Write(data)
		if writeErr != nil {
			return int64(written), writeErr
		}

		if progress != nil {
			progress(int64(written), int64(written))
		}

		e.logger.Debug("cache hit", slog.String("path", canonical), slog.Int("bytes", written))

		return int64(written), nil
	}

	var n int64

	err = e.run(ctx, loc, throttle.Normal, func(ctx context.Context, c client.Client) error {
		var dlErr error
		n, dlErr = e.downloadThroughCache(ctx, c, loc, fi, w, progress)

		return dlErr
	})

	return n, err
}

// downloadThroughCache tees the remote stream into the cache while writing
// to the caller. A cache write failure is logged, never surfaced: the
// caller got its bytes.
func (e *Engine) downloadThroughCache(ctx context.Context, c client.Client, loc resource.Location, fi client.FileInfo, w io.Writer, progress client.Progress) (int64, error) {
	canonical := loc.String()

	pr, pw := io.Pipe()

	var (
		putErr  error
		putDone = make(chan struct{})
	)

	go func() {
		defer close(putDone)

		_, putErr = e.cache.Put(ctx, canonical, fi.ModTime, pr)

		// Unblock the writer if the cache aborted early.
		io.Copy(io.Discard, pr) //nolint:errcheck
	}()

	n, err := c.Download(ctx, loc, io.MultiWriter(w, pw), progress)

	pw.CloseWithError(err)
	<-putDone

	if err != nil {
		e.cache.Invalidate(canonical, fi.ModTime)

		return n, err
	}

	if putErr != nil {
		e.logger.Warn("cache populate failed",
			slog.String("path", canonical),
			slog.Any("error", putErr),
		)
	}

	return n, nil
}

// Upload streams r to p and drops any cached content under that path.
func (e *Engine) Upload(ctx context.Context, p string, r io.Reader, size int64, overwrite bool, progress client.Progress) error {
	loc, err := resource.Parse(p)
	if err != nil {
		return err
	}

	err = e.run(ctx, loc, throttle.Normal, func(ctx context.Context, c client.Client) error {
		return c.Upload(ctx, loc, r, size, overwrite, progress)
	})
	if err != nil {
		return err
	}

	e.cache.InvalidatePrefix(loc.String())

	return nil
}

func (e *Engine) Mkdir(ctx context.Context, p string) error {
	loc, err := resource.Parse(p)
	if err != nil {
		return err
	}

	return e.run(ctx, loc, throttle.High, func(ctx context.Context, c client.Client) error {
		return c.Mkdir(ctx, loc)
	})
}

// Delete moves each path into a timestamped trash folder on its own
// endpoint and records the operation for undo. Nothing is destroyed until
// the trash sweep ages the folder out.
func (e *Engine) Delete(ctx context.Context, paths []string) error {
	entries := make([]undo.Entry, 0, len(paths))

	for _, p := range paths {
		loc, err := resource.Parse(p)
		if err != nil {
			return err
		}

		var trashLoc resource.Location

		err = e.run(ctx, loc, throttle.High, func(ctx context.Context, c client.Client) error {
			var trashErr error
			trashLoc, trashErr = e.undo.MoveToTrash(ctx, c, loc)

			return trashErr
		})
		if err != nil {
			// Record what already moved so a partial delete stays undoable.
			if len(entries) > 0 {
				e.undo.Save(undo.OpDelete, entries)
			}

			return err
		}

		e.cache.InvalidatePrefix(loc.String())

		entries = append(entries, undo.Entry{Source: loc, Dest: trashLoc})
	}

	e.undo.Save(undo.OpDelete, entries)

	return nil
}

// Rename changes the last path element and records the reverse for undo.
func (e *Engine) Rename(ctx context.Context, p, newName string) error {
	loc, err := resource.Parse(p)
	if err != nil {
		return err
	}

	err = e.run(ctx, loc, throttle.High, func(ctx context.Context, c client.Client) error {
		return c.Rename(ctx, loc, newName)
	})
	if err != nil {
		return err
	}

	e.cache.InvalidatePrefix(loc.String())

	renamed := loc
	renamed.Path = path.Join(path.Dir(loc.Path), newName)

	e.undo.Save(undo.OpRename, []undo.Entry{{Source: loc, Dest: renamed}})

	return nil
}

// Copy transfers each source into the destination folder. Sources run
// concurrently up to copyFanOut; the first error cancels the rest.
func (e *Engine) Copy(ctx context.Context, sources []string, destDir string, overwrite bool, progress client.Progress) error {
	entries, err := e.transferAll(ctx, sources, destDir, overwrite, progress, e.transfer.Copy)
	if err != nil {
		return err
	}

	e.undo.Save(undo.OpCopy, entries)

	return nil
}

// Move transfers each source into the destination folder and removes the
// originals, using a server-side rename when both ends share an endpoint.
func (e *Engine) Move(ctx context.Context, sources []string, destDir string, overwrite bool, progress client.Progress) error {
	entries, err := e.transferAll(ctx, sources, destDir, overwrite, progress, e.transfer.Move)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		e.cache.InvalidatePrefix(entry.Source.String())
	}

	e.undo.Save(undo.OpMove, entries)

	return nil
}

type transferFunc func(ctx context.Context, src, dst transfer.Endpoint, overwrite bool, progress client.Progress) error

func (e *Engine) transferAll(ctx context.Context, sources []string, destDir string, overwrite bool, progress client.Progress, op transferFunc) ([]undo.Entry, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("engine: no sources given")
	}

	dstDirLoc, err := resource.Parse(destDir)
	if err != nil {
		return nil, err
	}

	dstClient, err := e.clientFor(ctx, dstDirLoc)
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		entries []undo.Entry
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(copyFanOut)

	for _, src := range sources {
		g.Go(func() error {
			srcLoc, parseErr := resource.Parse(src)
			if parseErr != nil {
				return parseErr
			}

			srcClient, clientErr := e.clientFor(gctx, srcLoc)
			if clientErr != nil {
				return clientErr
			}

			dstLoc := transfer.DestinationIn(dstDirLoc, srcLoc.Path)

			transferErr := op(gctx,
				transfer.Endpoint{Loc: srcLoc, Client: srcClient},
				transfer.Endpoint{Loc: dstLoc, Client: dstClient},
				overwrite, progress)
			if transferErr != nil {
				return transferErr
			}

			e.cache.InvalidatePrefix(dstLoc.String())

			mu.Lock()
			entries = append(entries, undo.Entry{Source: srcLoc, Dest: dstLoc})
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return entries, nil
}

// Undo reverses the last destructive operation inside the undo window.
// Returns how many files were restored.
func (e *Engine) Undo(ctx context.Context) (int, error) {
	restored, err := e.undo.Undo(ctx)

	// Restored files invalidate whatever the cache held under them; a
	// full scan of the record is gone by now, so clear conservatively.
	if restored > 0 {
		e.cache.ClearAll()
	}

	return restored, err
}

// UndoAvailable reports whether an undo is currently offered.
func (e *Engine) UndoAvailable() bool {
	return e.undo.Available()
}
