// Package undo holds the single-slot undo record for destructive
// operations and manages the timestamped trash folders that make deletes
// reversible inside the undo window.
package undo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mkuusisto/unifs/internal/client"
	"github.com/mkuusisto/unifs/internal/resource"
)

const (
	// DefaultWindow is how long after a destructive operation an undo is
	// still offered.
	DefaultWindow = 10 * time.Second

	// DefaultSweepGrace is how old a trash folder must be before the
	// background sweep removes it permanently.
	DefaultSweepGrace = 5 * time.Minute

	trashPrefix = ".trash_"
)

// Op tags the kind of operation a record can reverse.
type Op string

const (
	OpCopy   Op = "copy"
	OpMove   Op = "move"
	OpDelete Op = "delete"
	OpRename Op = "rename"
)

// State is the lifecycle of the undo slot.
type State int

const (
	Empty State = iota
	Recorded
	Consumed
	Expired
)

// Entry records one affected file: where it was and where it ended up
// (copy/move destination, trash path for deletes, new name for renames).
type Entry struct {
	Source resource.Location
	Dest   resource.Location
}

// Record is one undoable operation. A new record overwrites the previous
// one; there is exactly one slot.
type Record struct {
	ID         string
	Op         Op
	Entries    []Entry
	RecordedAt time.Time
}

// ClientFor resolves the protocol client serving a location. The engine
// supplies this so undo can reverse operations on any endpoint.
type ClientFor func(ctx context.Context, loc resource.Location) (client.Client, error)

type trashDir struct {
	loc       resource.Location
	createdAt time.Time
}

// Manager owns the undo slot and the set of trash folders it created.
type Manager struct {
	clientFor  ClientFor
	window     time.Duration
	sweepGrace time.Duration
	logger     *slog.Logger

	now func() time.Time // swappable for tests

	statePath string

	mu     sync.Mutex
	state  State
	record *Record
	trash  []trashDir
}

type Option func(*Manager)

func WithWindow(d time.Duration) Option {
	return func(m *Manager) { m.window = d }
}

func WithSweepGrace(d time.Duration) Option {
	return func(m *Manager) { m.sweepGrace = d }
}

// WithStateFile persists the undo slot and trash folder list at path, so a
// short-lived process (the CLI) can undo an operation recorded by the
// previous invocation and sweep its leftover trash folders.
func WithStateFile(path string) Option {
	return func(m *Manager) { m.statePath = path }
}

func NewManager(clientFor ClientFor, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		clientFor:  clientFor,
		window:     DefaultWindow,
		sweepGrace: DefaultSweepGrace,
		logger:     logger,
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.statePath != "" {
		if err := m.loadState(); err != nil {
			m.logger.Warn("undo state load failed", slog.Any("error", err))
		}
	}

	return m
}

// Save records an operation, replacing whatever the slot held before.
func (m *Manager) Save(op Op, entries []Entry) *Record {
	rec := &Record{
		ID:         uuid.NewString(),
		Op:         op,
		Entries:    entries,
		RecordedAt: m.now(),
	}

	m.mu.Lock()
	m.record = rec
	m.state = Recorded
	m.saveStateLocked()
	m.mu.Unlock()

	m.logger.Debug("undo record saved",
		slog.String("id", rec.ID),
		slog.String("op", string(op)),
		slog.Int("entries", len(entries)),
	)

	return rec
}

// Available reports whether an undo is currently offered. A record past
// the window expires lazily here.
func (m *Manager) Available() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.availableLocked()
}

func (m *Manager) availableLocked() bool {
	if m.state != Recorded {
		return false
	}

	if m.now().Sub(m.record.RecordedAt) > m.window {
		m.state = Expired
		m.record = nil
		m.saveStateLocked()

		return false
	}

	return true
}

// ErrNothingToUndo is returned when the slot is empty or the window passed.
var ErrNothingToUndo = errors.New("undo: nothing to undo")

// Undo reverses the recorded operation. Restores are best effort: partial
// failures reduce the returned count instead of aborting. The slot is
// consumed even when some entries fail.
func (m *Manager) Undo(ctx context.Context) (int, error) {
	m.mu.Lock()

	if !m.availableLocked() {
		m.mu.Unlock()

		return 0, ErrNothingToUndo
	}

	rec := m.record
	m.record = nil
	m.state = Consumed
	m.saveStateLocked()
	m.mu.Unlock()

	m.logger.Info("undoing operation",
		slog.String("id", rec.ID),
		slog.String("op", string(rec.Op)),
	)

	switch rec.Op {
	case OpCopy:
		return m.undoCopy(ctx, rec)
	case OpMove, OpRename, OpDelete:
		return m.undoMoveBack(ctx, rec)
	default:
		return 0, fmt.Errorf("undo: unknown operation %q", rec.Op)
	}
}

// undoCopy deletes the files the copy wrote. Sources are untouched.
func (m *Manager) undoCopy(ctx context.Context, rec *Record) (int, error) {
	var (
		restored int
		firstErr error
	)

	for _, e := range rec.Entries {
		c, err := m.clientFor(ctx, e.Dest)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}

			continue
		}

		if err := c.Delete(ctx, e.Dest); err != nil && !errors.Is(err, client.ErrNotFound) {
			m.logger.Warn("undo: removing copied file failed",
				slog.String("path", e.Dest.String()),
				slog.Any("error", err),
			)

			if firstErr == nil {
				firstErr = err
			}

			continue
		}

		restored++
	}

	return restored, firstErr
}

// undoMoveBack moves each destination back to its recorded source. Used
// for moves, renames, and trash-backed deletes alike.
func (m *Manager) undoMoveBack(ctx context.Context, rec *Record) (int, error) {
	var (
		restored int
		firstErr error
	)

	for _, e := range rec.Entries {
		c, err := m.clientFor(ctx, e.Dest)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}

			continue
		}

		if err := c.Move(ctx, e.Dest, e.Source); err != nil {
			m.logger.Warn("undo: restore failed",
				slog.String("from", e.Dest.String()),
				slog.String("to", e.Source.String()),
				slog.Any("error", err),
			)

			if firstErr == nil {
				firstErr = err
			}

			continue
		}

		restored++
	}

	if rec.Op == OpDelete {
		m.removeEmptyTrashDirs(ctx, rec)
	}

	return restored, firstErr
}

// removeEmptyTrashDirs drops trash folders whose contents were all
// restored. Folders with leftovers stay for the sweep to age out.
func (m *Manager) removeEmptyTrashDirs(ctx context.Context, rec *Record) {
	seen := map[string]resource.Location{}
	for _, e := range rec.Entries {
		dir := e.Dest
		dir.Path = path.Dir(e.Dest.Path)
		seen[dir.String()] = dir
	}

	for _, dir := range seen {
		c, err := m.clientFor(ctx, dir)
		if err != nil {
			continue
		}

		entries, err := c.List(ctx, dir)
		if err != nil || len(entries) > 0 {
			continue
		}

		if err := c.Delete(ctx, dir); err != nil {
			m.logger.Debug("undo: trash folder cleanup failed",
				slog.String("path", dir.String()),
				slog.Any("error", err),
			)
		}
	}
}

// MoveToTrash moves loc into a timestamped sibling trash folder and
// registers the folder for the background sweep. The returned location is
// the file's resting place inside the trash folder.
func (m *Manager) MoveToTrash(ctx context.Context, c client.Client, loc resource.Location) (resource.Location, error) {
	now := m.now()

	dir := loc
	dir.Path = path.Join(path.Dir(loc.Path), trashPrefix+strconv.FormatInt(now.UnixMilli(), 10))

	if err := c.Mkdir(ctx, dir); err != nil && !errors.Is(err, client.ErrAlreadyExists) {
		return resource.Location{}, fmt.Errorf("undo: creating trash folder: %w", err)
	}

	dst := dir
	dst.Path = path.Join(dir.Path, path.Base(loc.Path))

	if err := c.Move(ctx, loc, dst); err != nil {
		return resource.Location{}, fmt.Errorf("undo: moving to trash: %w", err)
	}

	m.mu.Lock()
	m.trash = append(m.trash, trashDir{loc: dir, createdAt: now})
	m.saveStateLocked()
	m.mu.Unlock()

	return dst, nil
}

// Sweep permanently deletes trash folders older than the grace period.
func (m *Manager) Sweep(ctx context.Context) {
	cutoff := m.now().Add(-m.sweepGrace)

	m.mu.Lock()

	var (
		old  []trashDir
		keep []trashDir
	)

	for _, td := range m.trash {
		if td.createdAt.Before(cutoff) {
			old = append(old, td)
		} else {
			keep = append(keep, td)
		}
	}

	m.trash = keep
	m.saveStateLocked()
	m.mu.Unlock()

	for _, td := range old {
		c, err := m.clientFor(ctx, td.loc)
		if err != nil {
			continue
		}

		err = c.Delete(ctx, td.loc)
		if err != nil && !errors.Is(err, client.ErrNotFound) {
			m.logger.Warn("trash sweep failed",
				slog.String("path", td.loc.String()),
				slog.Any("error", err),
			)

			continue
		}

		m.logger.Debug("trash folder swept", slog.String("path", td.loc.String()))
	}
}

// StartSweeper runs Sweep periodically until ctx is cancelled.
func (m *Manager) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sweep(ctx)
			}
		}
	}()
}

// IsTrashPath reports whether a path points into a trash folder, so
// listings and transfers can skip them.
func IsTrashPath(p string) bool {
	for _, part := range strings.Split(p, "/") {
		if strings.HasPrefix(part, trashPrefix) {
			return true
		}
	}

	return false
}
