package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want Location
	}{
		{
			name: "smb with share and path",
			raw:  "smb://nas/share/photos/cat.jpg",
			want: Location{Kind: KindSMB, Host: "nas", Port: 445, Share: "share", Path: "photos/cat.jpg"},
		},
		{
			name: "smb explicit port",
			raw:  "smb://nas:4450/share",
			want: Location{Kind: KindSMB, Host: "nas", Port: 4450, Share: "share"},
		},
		{
			name: "sftp default port",
			raw:  "sftp://host/home/user/file.txt",
			want: Location{Kind: KindSFTP, Host: "host", Port: 22, Path: "home/user/file.txt"},
		},
		{
			name: "ftp explicit port",
			raw:  "ftp://host:2121/pub",
			want: Location{Kind: KindFTP, Host: "host", Port: 2121, Path: "pub"},
		},
		{
			name: "cloud account and folder id",
			raw:  "cloud://acct-1/folder/sub",
			want: Location{Kind: KindCloud, Host: "acct-1", Path: "folder/sub"},
		},
		{
			name: "file scheme",
			raw:  "file:///var/media",
			want: Location{Kind: KindLocal, Path: "/var/media"},
		},
		{
			name: "bare local path",
			raw:  "/var/media/clips",
			want: Location{Kind: KindLocal, Path: "/var/media/clips"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := Parse(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Rejects(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{
		"",
		"gopher://host/thing",
		"smb://",
		"smb://nas",        // no share
		"smb://nas:x/share", // bad port
		"cloud://",
	} {
		_, err := Parse(raw)
		require.ErrorIs(t, err, ErrBadPath, "input %q", raw)
	}
}

func TestLocationKey(t *testing.T) {
	t.Parallel()

	a, err := Parse("smb://nas/share/a/b.txt")
	require.NoError(t, err)

	b, err := Parse("smb://nas/share/other/c.txt")
	require.NoError(t, err)

	// Same endpoint, different files: one gate.
	assert.Equal(t, a.Key(), b.Key())

	c, err := Parse("smb://nas/backup/a/b.txt")
	require.NoError(t, err)
	assert.NotEqual(t, a.Key(), c.Key(), "different shares throttle independently")
}

func TestLocationString_RoundTrip(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{
		"smb://nas/share/photos/cat.jpg",
		"sftp://host/home/user",
		"ftp://host:2121/pub",
		"cloud://acct-1/folder",
	} {
		loc, err := Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, raw, loc.String())
	}
}

func TestResourceConcurrency(t *testing.T) {
	t.Parallel()

	r := &Resource{Kind: KindSMB}
	assert.Equal(t, KindSMB.DefaultConcurrency(), r.Concurrency())

	r.RecommendedConcurrency = 11
	assert.Equal(t, 11, r.Concurrency())
}
