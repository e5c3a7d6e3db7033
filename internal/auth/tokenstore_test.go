package auth

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestTokenSaveLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tokens", "acct.json")

	tok := &oauth2.Token{
		AccessToken:  "at",
		RefreshToken: "rt",
		Expiry:       time.Now().Add(time.Hour).Round(time.Second),
	}

	require.NoError(t, SaveToken(path, tok, map[string]string{"account": "me@example.com"}))

	if runtime.GOOS != "windows" {
		fi, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(FilePerms), fi.Mode().Perm())
	}

	got, meta, err := LoadToken(path)
	require.NoError(t, err)
	assert.Equal(t, "at", got.AccessToken)
	assert.Equal(t, "rt", got.RefreshToken)
	assert.Equal(t, "me@example.com", meta["account"])
}

func TestLoadToken_Missing(t *testing.T) {
	t.Parallel()

	tok, meta, err := LoadToken(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Nil(t, tok)
	assert.Nil(t, meta)
}

func TestLoadToken_MissingTokenField(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"meta":{}}`), 0o600))

	_, _, err := LoadToken(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "re-login required")
}

// staticSource returns a fixed token.
type staticSource struct{ tok *oauth2.Token }

func (s staticSource) Token() (*oauth2.Token, error) { return s.tok, nil }

func TestPersistingSource_WritesOnChange(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "acct.json")
	tok := &oauth2.Token{AccessToken: "first", RefreshToken: "rt"}

	src := NewPersistingSource(staticSource{tok: tok}, path)

	_, err := src.Token()
	require.NoError(t, err)

	saved, _, err := LoadToken(path)
	require.NoError(t, err)
	assert.Equal(t, "first", saved.AccessToken)

	// A refresh that yields a new access token persists again.
	tok.AccessToken = "second"

	_, err = src.Token()
	require.NoError(t, err)

	saved, _, err = LoadToken(path)
	require.NoError(t, err)
	assert.Equal(t, "second", saved.AccessToken)
}
