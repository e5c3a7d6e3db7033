package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkuusisto/unifs/internal/client"
	"github.com/mkuusisto/unifs/internal/resource"
)

type staticToken string

func (s staticToken) Token() (string, error) { return string(s), nil }

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New("acct", srv.URL, srv.Client(), staticToken("tok"), nil)
	c.sleepFunc = func(context.Context, time.Duration) error { return nil }

	return c
}

func cloudLoc(path string) resource.Location {
	return resource.Location{Kind: resource.KindCloud, Host: "acct", Path: path}
}

func TestList(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /files", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "photos", r.URL.Query().Get("path"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []item{
				{Name: "a.jpg", Path: "photos/a.jpg", Size: 10, Modified: time.Now(), Dir: false},
				{Name: "sub", Path: "photos/sub", Dir: true},
			},
		})
	})

	c := newTestClient(t, mux)

	infos, err := c.List(context.Background(), cloudLoc("photos"))
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "cloud://acct/photos/a.jpg", infos[0].Path)
	assert.True(t, infos[1].IsDir)
}

func TestDownload_ReportsProgress(t *testing.T) {
	t.Parallel()

	content := bytes.Repeat([]byte("x"), 1000)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /content", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(content)
	})

	c := newTestClient(t, mux)

	var buf bytes.Buffer

	var lastTransferred, lastTotal int64

	n, err := c.Download(context.Background(), cloudLoc("big.bin"), &buf, func(transferred, total int64) {
		lastTransferred = transferred
		lastTotal = total
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), n)
	assert.Equal(t, int64(1000), lastTransferred)
	assert.Equal(t, int64(1000), lastTotal)
	assert.Equal(t, content, buf.Bytes())
}

func TestUpload_OverwriteFlag(t *testing.T) {
	t.Parallel()

	var gotOverwrite string

	var gotBody []byte

	mux := http.NewServeMux()
	mux.HandleFunc("PUT /content", func(w http.ResponseWriter, r *http.Request) {
		gotOverwrite = r.URL.Query().Get("overwrite")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	})

	c := newTestClient(t, mux)

	err := c.Upload(context.Background(), cloudLoc("a.txt"), bytes.NewReader([]byte("data")), 4, true, nil)
	require.NoError(t, err)
	assert.Equal(t, "true", gotOverwrite)
	assert.Equal(t, []byte("data"), gotBody)
}

func Test401_IsAuthExpired(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "token expired", http.StatusUnauthorized)
	}))

	_, err := c.List(context.Background(), cloudLoc("x"))
	require.ErrorIs(t, err, client.ErrAuthExpired)
	assert.True(t, client.IsAuthError(err))
}

func Test404_IsNotFound(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))

	_, err := c.Stat(context.Background(), cloudLoc("gone.txt"))
	require.ErrorIs(t, err, client.ErrNotFound)
}

func TestRetry_On429ThenSuccess(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("GET /stat", func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "slow down", http.StatusTooManyRequests)

			return
		}

		_ = json.NewEncoder(w).Encode(item{Name: "a", Path: "a"})
	})

	c := newTestClient(t, mux)

	_, err := c.Stat(context.Background(), cloudLoc("a"))
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRetry_GivesUpAfterMax(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	_, err := c.List(context.Background(), cloudLoc("x"))
	require.ErrorIs(t, err, client.ErrTransport)
	assert.Equal(t, int32(maxRetries+1), calls.Load())
}

func TestServerSideMove(t *testing.T) {
	t.Parallel()

	var payload map[string]string

	mux := http.NewServeMux()
	mux.HandleFunc("POST /move", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&payload)
	})

	c := newTestClient(t, mux)

	err := c.Move(context.Background(), cloudLoc("a/x.txt"), cloudLoc("b/x.txt"))
	require.NoError(t, err)
	assert.Equal(t, "a/x.txt", payload["source"])
	assert.Equal(t, "b/x.txt", payload["destination"])
}
