package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mkuusisto/unifs/internal/resource"
)

// filePerms is the mode for files the engine writes locally.
const filePerms = 0o644

// dirPerms is the mode for directories the engine creates locally.
const dirPerms = 0o755

// Local implements Client against the local filesystem. It is the only
// client the engine ships complete; remote protocols go through the
// collaborator adapters.
type Local struct {
	logger *slog.Logger
}

func NewLocal(logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}

	return &Local{logger: logger}
}

func (l *Local) Scheme() resource.Kind { return resource.KindLocal }

func (l *Local) List(ctx context.Context, loc resource.Location) ([]FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(loc.Path)
	if err != nil {
		return nil, wrap(resource.KindLocal, "list", loc.Path, classifyFS(err))
	}

	infos := make([]FileInfo, 0, len(entries))

	for _, e := range entries {
		fi, statErr := e.Info()
		if statErr != nil {
			// Entry vanished between ReadDir and Info; skip it.
			l.logger.Debug("skipping vanished entry",
				slog.String("path", filepath.Join(loc.Path, e.Name())),
			)

			continue
		}

		infos = append(infos, FileInfo{
			Name:    e.Name(),
			Path:    filepath.Join(loc.Path, e.Name()),
			Size:    fi.Size(),
			ModTime: fi.ModTime(),
			IsDir:   e.IsDir(),
		})
	}

	return infos, nil
}

func (l *Local) Stat(ctx context.Context, loc resource.Location) (FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return FileInfo{}, err
	}

	fi, err := os.Stat(loc.Path)
	if err != nil {
		return FileInfo{}, wrap(resource.KindLocal, "stat", loc.Path, classifyFS(err))
	}

	return FileInfo{
		Name:    fi.Name(),
		Path:    loc.Path,
		Size:    fi.Size(),
		ModTime: fi.ModTime(),
		IsDir:   fi.IsDir(),
	}, nil
}

func (l *Local) Exists(ctx context.Context, loc resource.Location) (bool, error) {
	_, err := l.Stat(ctx, loc)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	return true, nil
}

func (l *Local) Download(ctx context.Context, loc resource.Location, w io.Writer, progress Progress) (int64, error) {
	f, err := os.Open(loc.Path)
	if err != nil {
		return 0, wrap(resource.KindLocal, "download", loc.Path, classifyFS(err))
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return 0, wrap(resource.KindLocal, "download", loc.Path, classifyFS(err))
	}

	n, err := CopyWithProgress(ctx, w, f, fi.Size(), progress)
	if err != nil {
		return n, wrap(resource.KindLocal, "download", loc.Path, err)
	}

	return n, nil
}

// Upload stages into a ".partial" sibling and renames into place only after
// the full content landed, so a cancelled upload never leaves a destination
// file claiming completion.
func (l *Local) Upload(ctx context.Context, loc resource.Location, r io.Reader, size int64, overwrite bool, progress Progress) error {
	if !overwrite {
		if _, err := os.Stat(loc.Path); err == nil {
			return wrap(resource.KindLocal, "upload", loc.Path, ErrAlreadyExists)
		}
	}

	if err := os.MkdirAll(filepath.Dir(loc.Path), dirPerms); err != nil {
		return wrap(resource.KindLocal, "upload", loc.Path, classifyFS(err))
	}

	partial := loc.Path + ".partial"

	f, err := os.OpenFile(partial, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePerms)
	if err != nil {
		return wrap(resource.KindLocal, "upload", loc.Path, classifyFS(err))
	}

	_, copyErr := CopyWithProgress(ctx, f, r, size, progress)

	closeErr := f.Close()

	if copyErr == nil {
		copyErr = closeErr
	}

	if copyErr != nil {
		os.Remove(partial)

		return wrap(resource.KindLocal, "upload", loc.Path, copyErr)
	}

	if err := os.Rename(partial, loc.Path); err != nil {
		os.Remove(partial)

		return wrap(resource.KindLocal, "upload", loc.Path, classifyFS(err))
	}

	return nil
}

func (l *Local) Mkdir(ctx context.Context, loc resource.Location) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.MkdirAll(loc.Path, dirPerms); err != nil {
		return wrap(resource.KindLocal, "mkdir", loc.Path, classifyFS(err))
	}

	return nil
}

func (l *Local) Delete(ctx context.Context, loc resource.Location) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.RemoveAll(loc.Path); err != nil {
		return wrap(resource.KindLocal, "delete", loc.Path, classifyFS(err))
	}

	return nil
}

func (l *Local) Rename(ctx context.Context, loc resource.Location, newName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dst := filepath.Join(filepath.Dir(loc.Path), newName)

	if _, err := os.Stat(dst); err == nil {
		return wrap(resource.KindLocal, "rename", loc.Path, ErrAlreadyExists)
	}

	if err := os.Rename(loc.Path, dst); err != nil {
		return wrap(resource.KindLocal, "rename", loc.Path, classifyFS(err))
	}

	return nil
}

func (l *Local) Move(ctx context.Context, src, dst resource.Location) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dst.Path), dirPerms); err != nil {
		return wrap(resource.KindLocal, "move", dst.Path, classifyFS(err))
	}

	if err := os.Rename(src.Path, dst.Path); err != nil {
		return wrap(resource.KindLocal, "move", src.Path, classifyFS(err))
	}

	return nil
}

func (l *Local) Copy(ctx context.Context, src, dst resource.Location) error {
	in, err := os.Open(src.Path)
	if err != nil {
		return wrap(resource.KindLocal, "copy", src.Path, classifyFS(err))
	}
	defer in.Close()

	fi, err := in.Stat()
	if err != nil {
		return wrap(resource.KindLocal, "copy", src.Path, classifyFS(err))
	}

	return l.Upload(ctx, dst, in, fi.Size(), true, nil)
}

// classifyFS maps os/fs errors onto the taxonomy sentinels, keeping the
// original error in the chain.
func classifyFS(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, fs.ErrExist):
		return fmt.Errorf("%w: %v", ErrAlreadyExists, err)
	default:
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
}
