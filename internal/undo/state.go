package undo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mkuusisto/unifs/internal/resource"
)

// stateFile is the on-disk form of the undo slot and trash folder list.
type stateFile struct {
	Record *Record      `json:"record,omitempty"`
	Trash  []trashEntry `json:"trash,omitempty"`
}

type trashEntry struct {
	Location  resource.Location `json:"location"`
	CreatedAt time.Time         `json:"created_at"`
}

// saveStateLocked writes the current slot and trash list atomically.
// Callers hold m.mu. A nil statePath is a no-op (in-process only).
func (m *Manager) saveStateLocked() {
	if m.statePath == "" {
		return
	}

	sf := stateFile{}

	if m.state == Recorded {
		sf.Record = m.record
	}

	for _, td := range m.trash {
		sf.Trash = append(sf.Trash, trashEntry{Location: td.loc, CreatedAt: td.createdAt})
	}

	if err := writeStateFile(m.statePath, sf); err != nil {
		m.logger.Warn("undo state save failed", slog.Any("error", err))
	}
}

func writeStateFile(path string, sf stateFile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("undo: creating state directory: %w", err)
	}

	data, err := json.Marshal(sf)
	if err != nil {
		return fmt.Errorf("undo: encoding state: %w", err)
	}

	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("undo: writing state: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)

		return fmt.Errorf("undo: committing state: %w", err)
	}

	return nil
}

// loadState restores the slot and trash list written by a previous
// process. A missing file means a clean slate.
func (m *Manager) loadState() error {
	data, err := os.ReadFile(m.statePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("undo: reading state: %w", err)
	}

	var sf stateFile

	if err := json.Unmarshal(data, &sf); err != nil {
		return fmt.Errorf("undo: decoding state: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if sf.Record != nil {
		m.record = sf.Record
		m.state = Recorded
	}

	for _, te := range sf.Trash {
		m.trash = append(m.trash, trashDir{loc: te.Location, createdAt: te.CreatedAt})
	}

	return nil
}
