package credentials

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkuusisto/unifs/internal/resource"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "creds.db"), nil)
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })

	return s
}

func TestStore_SaveAndLookup(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, &Credentials{
		Protocol: resource.KindSMB,
		Server:   "nas",
		Port:     445,
		Share:    "share",
		Username: "media",
		Password: "secret",
		Domain:   "WORKGROUP",
	}))

	c, err := s.LookupServerShare(ctx, "nas", "share")
	require.NoError(t, err)
	assert.Equal(t, "media", c.Username)
	assert.Equal(t, resource.KindSMB, c.Protocol)

	_, err = s.LookupServerShare(ctx, "nas", "other")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_UpsertReplacesEndpointRecord(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	rec := &Credentials{Protocol: resource.KindSFTP, Server: "host", Port: 22, Username: "old"}
	require.NoError(t, s.Save(ctx, rec))

	rec.Username = "new"
	require.NoError(t, s.Save(ctx, rec))

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1, "one authoritative record per endpoint")
	assert.Equal(t, "new", all[0].Username)
}

func TestStore_Delete(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, &Credentials{Protocol: resource.KindFTP, Server: "host", Port: 21}))
	require.NoError(t, s.Delete(ctx, "ftp", "host", 21, ""))

	_, err := s.LookupEndpoint(ctx, "ftp", "host", 21)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ResourceLifecycle(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	r := &resource.Resource{
		ID:                     "res-1",
		Kind:                   resource.KindSFTP,
		Root:                   "sftp://nas.local:22/backups",
		CredentialRef:          "nas.local",
		Writable:               true,
		RecommendedConcurrency: 4,
		CreatedAt:              time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.SaveResource(ctx, r))

	got, err := s.GetResource(ctx, "res-1")
	require.NoError(t, err)
	assert.Equal(t, r.Root, got.Root)
	assert.True(t, got.Writable)
	assert.Equal(t, 4, got.RecommendedConcurrency)
	assert.Equal(t, r.CreatedAt, got.CreatedAt)

	// Same root, new tuning: the record is replaced, not duplicated.
	r.RecommendedConcurrency = 2
	require.NoError(t, s.SaveResource(ctx, r))

	all, err := s.ListResources(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 2, all[0].RecommendedConcurrency)

	deleted, err := s.DeleteResource(ctx, "res-1")
	require.NoError(t, err)
	assert.Equal(t, r.Root, deleted.Root)

	_, err = s.GetResource(ctx, "res-1")
	require.ErrorIs(t, err, ErrResourceNotFound)
}

func TestResolver_Order(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	// Host-wide record plus a share-specific one.
	require.NoError(t, s.Save(ctx, &Credentials{
		Protocol: resource.KindSMB, Server: "nas", Port: 445, Username: "hostwide",
	}))
	require.NoError(t, s.Save(ctx, &Credentials{
		Protocol: resource.KindSMB, Server: "nas", Port: 445, Share: "private", Username: "sharescoped",
	}))

	r := NewResolver(s, nil)

	// Share match wins over host match.
	c, err := r.Resolve(ctx, "smb://nas/private/file.txt")
	require.NoError(t, err)
	assert.Equal(t, "sharescoped", c.Username)

	// Unknown share falls back to the host record.
	c, err = r.Resolve(ctx, "smb://nas/public/file.txt")
	require.NoError(t, err)
	assert.Equal(t, "hostwide", c.Username)
}

func TestResolver_EndpointFallback(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, &Credentials{
		Protocol: resource.KindSFTP, Server: "backup", Port: 2222, Username: "bot",
	}))

	r := NewResolver(s, nil)

	c, err := r.Resolve(ctx, "sftp://backup:2222/data")
	require.NoError(t, err)
	assert.Equal(t, "bot", c.Username)
}

func TestResolver_NotFoundAndBadPath(t *testing.T) {
	t.Parallel()

	r := NewResolver(newTestStore(t), nil)

	_, err := r.Resolve(context.Background(), "smb://unknown/share/x")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = r.Resolve(context.Background(), "bogus://host/x")
	require.ErrorIs(t, err, resource.ErrBadPath)
}

func TestResolver_LocalNeedsNoCredentials(t *testing.T) {
	t.Parallel()

	r := NewResolver(newTestStore(t), nil)

	c, err := r.Resolve(context.Background(), "/var/media")
	require.NoError(t, err)
	assert.Nil(t, c)
}
