// Package auth owns OAuth token persistence and the authentication
// coordinator that gives cloud clients silent-refresh-and-retry semantics.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2"
)

// FilePerms restricts token files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the tokens directory.
const DirPerms = 0o700

// TokenFile is the on-disk format: the OAuth token plus optional metadata
// (account name, drive id) cached from API responses.
type TokenFile struct {
	Token *oauth2.Token     `json:"token"`
	Meta  map[string]string `json:"meta,omitempty"`
}

// LoadToken reads a saved token file. Returns (nil, nil, nil) if the file
// does not exist — the caller decides whether that means AuthRequired.
func LoadToken(path string) (*oauth2.Token, map[string]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, nil, fmt.Errorf("auth: reading token %s: %w", path, err)
	}

	var tf TokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, nil, fmt.Errorf("auth: decoding token %s: %w", path, err)
	}

	if tf.Token == nil {
		return nil, nil, fmt.Errorf("auth: token file %s missing token field (re-login required)", path)
	}

	return tf.Token, tf.Meta, nil
}

// SaveToken atomically writes the token file with owner-only permissions.
func SaveToken(path string, tok *oauth2.Token, meta map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(path), DirPerms); err != nil {
		return fmt.Errorf("auth: creating token directory: %w", err)
	}

	data, err := json.MarshalIndent(TokenFile{Token: tok, Meta: meta}, "", "  ")
	if err != nil {
		return fmt.Errorf("auth: encoding token: %w", err)
	}

	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, data, FilePerms); err != nil {
		return fmt.Errorf("auth: writing token %s: %w", path, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)

		return fmt.Errorf("auth: committing token %s: %w", path, err)
	}

	return nil
}

// DeleteToken removes a token file. Missing files are not an error.
func DeleteToken(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("auth: deleting token %s: %w", path, err)
	}

	return nil
}

// persistingSource wraps an oauth2.TokenSource and writes the token file
// whenever a silent refresh produces a new access token, so a restart can
// restore the session without user interaction.
type persistingSource struct {
	mu   sync.Mutex
	src  oauth2.TokenSource
	path string
	last string // last persisted access token
}

// NewPersistingSource returns a TokenSource that persists refreshed tokens
// to path.
func NewPersistingSource(src oauth2.TokenSource, path string) oauth2.TokenSource {
	return &persistingSource{src: src, path: path}
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.src.Token()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if tok.AccessToken != p.last {
		// Best-effort: a failed persist must not fail the request the
		// token was fetched for.
		_, meta, _ := LoadToken(p.path)
		_ = SaveToken(p.path, tok, meta)
		p.last = tok.AccessToken
	}

	return tok, nil
}
